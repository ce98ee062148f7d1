package pkg

import (
	"fmt"

	"github.com/attune-dev/attune/pkg/common"
)

// Unit is one resolved execution unit: a task, optionally bound to a loop
// item. The cross product of a planned play's Units and Hosts is the set of
// (host, task) units the executor walks.
type Unit struct {
	Task    Task
	Item    interface{}
	HasItem bool
}

// PlannedPlay is one play after selector expansion, role inclusion, and
// tag/limit filtering. Every host runs the same ordered unit sequence.
type PlannedPlay struct {
	Play         *Play
	Hosts        []*Host
	Units        []Unit
	Handlers     []Task
	RoleDefaults map[string]interface{}
}

// RunPlan is the resolved execution order for a whole run. Built once before
// execution and never mutated during it; `when` guards are evaluated against
// units at execution time, not here.
type RunPlan struct {
	Plays []PlannedPlay
}

// BuildPlan expands plays into a RunPlan. Filtering here is exhaustive and
// final: a task absent from the plan is never dispatched, and the executor
// re-applies neither tag nor host filters.
func BuildPlan(pb *Playbook, inv *Inventory, tagFilter []string, hostLimit string) (*RunPlan, error) {
	plan := &RunPlan{}

	for i := range pb.Plays {
		play := &pb.Plays[i]

		hosts, err := inv.HostsMatching(play.HostsExpr)
		if err != nil {
			return nil, err
		}
		hosts = inv.LimitHosts(hosts, hostLimit)

		pp := PlannedPlay{
			Play:         play,
			Hosts:        hosts,
			RoleDefaults: make(map[string]interface{}),
		}

		// Role tasks come first, in role declaration order; their handlers
		// and defaults fold into the play.
		var tasks []Task
		handlerNames := make(map[string]bool)
		for _, roleName := range play.Roles {
			role, ok := pb.Roles[roleName]
			if !ok {
				return nil, fmt.Errorf("play %q references unknown role %q", play.Name, roleName)
			}
			tasks = append(tasks, role.Tasks...)
			for k, v := range role.Defaults {
				pp.RoleDefaults[k] = v
			}
			for _, h := range role.Handlers {
				if handlerNames[h.Name] {
					return nil, fmt.Errorf("duplicate handler %q in play %q", h.Name, play.Name)
				}
				handlerNames[h.Name] = true
				pp.Handlers = append(pp.Handlers, h)
			}
		}
		tasks = append(tasks, play.Tasks...)
		for _, h := range play.Handlers {
			if h.Name == "" {
				return nil, fmt.Errorf("handler without a name in play %q", play.Name)
			}
			if handlerNames[h.Name] {
				return nil, fmt.Errorf("duplicate handler %q in play %q", h.Name, play.Name)
			}
			handlerNames[h.Name] = true
			pp.Handlers = append(pp.Handlers, h)
		}

		for _, task := range tasks {
			if !task.HasTag(tagFilter) {
				common.LogDebug("Task filtered out by tags", map[string]interface{}{
					"task": task.String(), "play": play.Name,
				})
				continue
			}
			if task.Module == "" {
				return nil, fmt.Errorf("task %q in play %q has no module", task.Name, play.Name)
			}
			// Loop-bearing tasks expand into one unit per item, contiguous
			// and in loop order, preserving the task's position.
			if len(task.Loop) > 0 {
				for _, item := range task.Loop {
					pp.Units = append(pp.Units, Unit{Task: task, Item: item, HasItem: true})
				}
				continue
			}
			pp.Units = append(pp.Units, Unit{Task: task})
		}

		plan.Plays = append(plan.Plays, pp)
	}
	return plan, nil
}

// UnitCount is the number of (host, unit) pairs in the plan.
func (p *RunPlan) UnitCount() int {
	total := 0
	for _, pp := range p.Plays {
		total += len(pp.Hosts) * len(pp.Units)
	}
	return total
}
