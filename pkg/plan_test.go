package pkg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func planInventory(t *testing.T) *Inventory {
	t.Helper()
	inv, err := ParseInventory([]byte(`
web:
  hosts:
    h1:
      host: 10.0.0.1
    h2:
      host: 10.0.0.2
db:
  hosts:
    db1:
      host: 10.0.1.1
`), "")
	require.NoError(t, err)
	return inv
}

func TestBuildPlanExpandsSelector(t *testing.T) {
	pb := &Playbook{Plays: []Play{{
		Name:      "converge",
		HostsExpr: "web",
		Tasks: []Task{
			{Name: "first", Module: "debug"},
			{Name: "second", Module: "debug"},
		},
	}}}

	plan, err := BuildPlan(pb, planInventory(t), nil, "")
	require.NoError(t, err)
	require.Len(t, plan.Plays, 1)

	pp := plan.Plays[0]
	require.Len(t, pp.Hosts, 2)
	assert.Equal(t, "h1", pp.Hosts[0].Name)
	assert.Equal(t, "h2", pp.Hosts[1].Name)

	require.Len(t, pp.Units, 2)
	assert.Equal(t, "first", pp.Units[0].Task.Name)
	assert.Equal(t, "second", pp.Units[1].Task.Name)
	assert.Equal(t, 4, plan.UnitCount())
}

func TestBuildPlanUnknownSelector(t *testing.T) {
	pb := &Playbook{Plays: []Play{{HostsExpr: "ghost", Tasks: []Task{{Module: "debug"}}}}}

	_, err := BuildPlan(pb, planInventory(t), nil, "")
	require.Error(t, err)
	var invErr *InventoryError
	assert.ErrorAs(t, err, &invErr)
}

func TestBuildPlanTagFilter(t *testing.T) {
	pb := &Playbook{Plays: []Play{{
		HostsExpr: "web",
		Tasks: []Task{
			{Name: "deploy", Module: "debug", Tags: []string{"deploy"}},
			{Name: "verify", Module: "debug", Tags: []string{"verify", "deploy"}},
			{Name: "untagged", Module: "debug"},
		},
	}}}

	plan, err := BuildPlan(pb, planInventory(t), []string{"verify"}, "")
	require.NoError(t, err)

	units := plan.Plays[0].Units
	require.Len(t, units, 1, "filtering is exact: untagged tasks drop when a filter is set")
	assert.Equal(t, "verify", units[0].Task.Name)
}

func TestBuildPlanNoTagFilterKeepsEverything(t *testing.T) {
	pb := &Playbook{Plays: []Play{{
		HostsExpr: "web",
		Tasks: []Task{
			{Name: "a", Module: "debug", Tags: []string{"x"}},
			{Name: "b", Module: "debug"},
		},
	}}}

	plan, err := BuildPlan(pb, planInventory(t), nil, "")
	require.NoError(t, err)
	assert.Len(t, plan.Plays[0].Units, 2)
}

func TestBuildPlanHostLimit(t *testing.T) {
	pb := &Playbook{Plays: []Play{{
		HostsExpr: "all",
		Tasks:     []Task{{Name: "t", Module: "debug"}},
	}}}

	plan, err := BuildPlan(pb, planInventory(t), nil, "h1")
	require.NoError(t, err)
	require.Len(t, plan.Plays[0].Hosts, 1)
	assert.Equal(t, "h1", plan.Plays[0].Hosts[0].Name)
}

func TestBuildPlanLoopExpansion(t *testing.T) {
	pb := &Playbook{Plays: []Play{{
		HostsExpr: "db",
		Tasks: []Task{
			{Name: "before", Module: "debug"},
			{Name: "looped", Module: "debug", Loop: []interface{}{"a", "b", "c"}},
			{Name: "after", Module: "debug"},
		},
	}}}

	plan, err := BuildPlan(pb, planInventory(t), nil, "")
	require.NoError(t, err)

	units := plan.Plays[0].Units
	require.Len(t, units, 5)

	// The loop expands in place: contiguous units, loop order preserved.
	assert.Equal(t, "before", units[0].Task.Name)
	for i, item := range []string{"a", "b", "c"} {
		assert.Equal(t, "looped", units[1+i].Task.Name)
		assert.True(t, units[1+i].HasItem)
		assert.Equal(t, item, units[1+i].Item)
	}
	assert.Equal(t, "after", units[4].Task.Name)
}

func TestBuildPlanRoleTasksComeFirst(t *testing.T) {
	pb := &Playbook{
		Plays: []Play{{
			HostsExpr: "db",
			Roles:     []string{"base"},
			Tasks:     []Task{{Name: "play-task", Module: "debug"}},
		}},
		Roles: map[string]*Role{
			"base": {
				Name:     "base",
				Defaults: map[string]interface{}{"retries": 3},
				Tasks:    []Task{{Name: "role-task", Module: "debug"}},
				Handlers: []Task{{Name: "restart", Module: "debug"}},
			},
		},
	}

	plan, err := BuildPlan(pb, planInventory(t), nil, "")
	require.NoError(t, err)

	pp := plan.Plays[0]
	require.Len(t, pp.Units, 2)
	assert.Equal(t, "role-task", pp.Units[0].Task.Name)
	assert.Equal(t, "play-task", pp.Units[1].Task.Name)
	assert.Equal(t, 3, pp.RoleDefaults["retries"])
	require.Len(t, pp.Handlers, 1)
	assert.Equal(t, "restart", pp.Handlers[0].Name)
}

func TestBuildPlanUnknownRole(t *testing.T) {
	pb := &Playbook{
		Plays: []Play{{HostsExpr: "db", Roles: []string{"ghost"}}},
		Roles: map[string]*Role{},
	}

	_, err := BuildPlan(pb, planInventory(t), nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown role")
}

func TestBuildPlanDuplicateHandler(t *testing.T) {
	pb := &Playbook{Plays: []Play{{
		HostsExpr: "db",
		Tasks:     []Task{{Name: "t", Module: "debug"}},
		Handlers: []Task{
			{Name: "restart", Module: "debug"},
			{Name: "restart", Module: "debug"},
		},
	}}}

	_, err := BuildPlan(pb, planInventory(t), nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate handler")
}

func TestBuildPlanMissingModule(t *testing.T) {
	pb := &Playbook{Plays: []Play{{
		HostsExpr: "db",
		Tasks:     []Task{{Name: "no module"}},
	}}}

	_, err := BuildPlan(pb, planInventory(t), nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no module")
}

func TestTaskHasTag(t *testing.T) {
	task := Task{Tags: []string{"deploy", "web"}}

	assert.True(t, task.HasTag(nil))
	assert.True(t, task.HasTag([]string{"deploy"}))
	assert.True(t, task.HasTag([]string{"other", "web"}))
	assert.False(t, task.HasTag([]string{"db"}))

	untagged := Task{}
	assert.True(t, untagged.HasTag(nil))
	assert.False(t, untagged.HasTag([]string{"deploy"}))
}
