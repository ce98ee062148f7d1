package pkg

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nestedInventory = `
vars:
  region: eu-west
  tier: global
web:
  hosts:
    h1:
      host: 10.0.0.1
      role: primary
    h2:
      host: 10.0.0.2
  vars:
    tier: web
    port: 8080
frontend:
  children:
    - web
  vars:
    tier: frontend
db:
  hosts:
    db1:
      host: 10.0.1.1
`

func TestParseInventoryHostsAndGroups(t *testing.T) {
	inv, err := ParseInventory([]byte(nestedInventory), "")
	require.NoError(t, err)

	require.Contains(t, inv.Hosts, "h1")
	require.Contains(t, inv.Hosts, "db1")
	assert.Equal(t, "10.0.0.1", inv.Hosts["h1"].Address)
	assert.Equal(t, "primary", inv.Hosts["h1"].Vars["role"])

	require.Contains(t, inv.Groups, "web")
	require.Contains(t, inv.Groups, "frontend")
	assert.ElementsMatch(t, []string{"h1", "h2"}, inv.Groups["web"].HostNames)
	assert.Equal(t, []string{"web"}, inv.Groups["frontend"].Children)
}

func TestLoadInventoryImplicitLocalhost(t *testing.T) {
	inv, err := LoadInventory("", "")
	require.NoError(t, err)

	require.Contains(t, inv.Hosts, "localhost")
	assert.True(t, inv.Hosts["localhost"].IsLocal)

	hosts, err := inv.HostsMatching("all")
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	assert.Equal(t, "localhost", hosts[0].Name)
}

func TestGroupCycleIsInventoryError(t *testing.T) {
	cyclic := `
a:
  children:
    - b
b:
  children:
    - a
`
	_, err := ParseInventory([]byte(cyclic), "")
	require.Error(t, err)
	var invErr *InventoryError
	require.ErrorAs(t, err, &invErr)
	assert.Contains(t, invErr.Msg, "cycle")
}

func TestUnknownChildGroupIsInventoryError(t *testing.T) {
	broken := `
a:
  children:
    - ghost
`
	_, err := ParseInventory([]byte(broken), "")
	require.Error(t, err)
	var invErr *InventoryError
	assert.ErrorAs(t, err, &invErr)
}

func TestHostsMatching(t *testing.T) {
	inv, err := ParseInventory([]byte(nestedInventory), "")
	require.NoError(t, err)

	tests := []struct {
		name     string
		selector string
		want     []string
	}{
		{"group", "web", []string{"h1", "h2"}},
		{"parent group reaches child hosts", "frontend", []string{"h1", "h2"}},
		{"single host", "db1", []string{"db1"}},
		{"comma separated union", "web,db", []string{"db1", "h1", "h2"}},
		{"glob", "h*", []string{"h1", "h2"}},
		{"all", "all", []string{"db1", "h1", "h2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hosts, err := inv.HostsMatching(tt.selector)
			require.NoError(t, err)
			names := make([]string, 0, len(hosts))
			for _, h := range hosts {
				names = append(names, h.Name)
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestHostsMatchingUnknownSelector(t *testing.T) {
	inv, err := ParseInventory([]byte(nestedInventory), "")
	require.NoError(t, err)

	_, err = inv.HostsMatching("nonexistent")
	require.Error(t, err)
	var invErr *InventoryError
	assert.ErrorAs(t, err, &invErr, "a direct reference to an unknown name fails loudly")
}

func TestLimitHosts(t *testing.T) {
	inv, err := ParseInventory([]byte(nestedInventory), "")
	require.NoError(t, err)

	all, err := inv.HostsMatching("all")
	require.NoError(t, err)

	limited := inv.LimitHosts(all, "h1")
	require.Len(t, limited, 1)
	assert.Equal(t, "h1", limited[0].Name)

	limited = inv.LimitHosts(all, "web")
	require.Len(t, limited, 2)

	limited = inv.LimitHosts(all, "")
	assert.Len(t, limited, len(all))
}

func TestGroupVarPrecedence(t *testing.T) {
	inv, err := ParseInventory([]byte(nestedInventory), "")
	require.NoError(t, err)

	scope := inv.BaseScope(inv.Hosts["h1"], nil, nil)

	// web is more specific than frontend, frontend more specific than all.
	v, ok := scope.Get("tier")
	require.True(t, ok)
	assert.Equal(t, "web", v)

	// Global vars reach every host.
	v, ok = scope.Get("region")
	require.True(t, ok)
	assert.Equal(t, "eu-west", v)

	// Host vars beat group vars.
	v, ok = scope.Get("role")
	require.True(t, ok)
	assert.Equal(t, "primary", v)
}

func TestBaseScopeLayering(t *testing.T) {
	inv, err := ParseInventory([]byte(nestedInventory), "")
	require.NoError(t, err)

	roleDefaults := map[string]interface{}{"port": 80, "only_default": true}
	extraVars := map[string]interface{}{"region": "override"}
	scope := inv.BaseScope(inv.Hosts["h1"], roleDefaults, extraVars)

	v, _ := scope.Get("port")
	assert.Equal(t, 8080, v, "group vars beat role defaults")

	v, _ = scope.Get("only_default")
	assert.Equal(t, true, v, "role defaults fill gaps")

	v, _ = scope.Get("region")
	assert.Equal(t, "override", v, "extra vars beat everything below registered")

	v, _ = scope.Get("inventory_hostname")
	assert.Equal(t, "h1", v)
	v, _ = scope.Get("host_address")
	assert.Equal(t, "10.0.0.1", v)
}

func TestInventoryDecryptsVaultedVars(t *testing.T) {
	envelope, err := EncryptVault("s3cret", "key")
	require.NoError(t, err)

	data := "db:\n  hosts:\n    db1:\n      host: 10.0.1.1\n  vars:\n    db_password: |\n" + indent(envelope.Serialize(), "      ") + "\n"

	inv, err := ParseInventory([]byte(data), "key")
	require.NoError(t, err)

	sv, ok := inv.Groups["db"].Vars["db_password"].(SensitiveValue)
	require.True(t, ok, "vaulted group var should be decrypted into a SensitiveValue")
	assert.Equal(t, "s3cret", sv.Value)
}

func TestInventoryVaultedVarWrongPassphrase(t *testing.T) {
	envelope, err := EncryptVault("s3cret", "key")
	require.NoError(t, err)

	data := "db:\n  hosts:\n    db1:\n      host: 10.0.1.1\n  vars:\n    db_password: |\n" + indent(envelope.Serialize(), "      ") + "\n"

	_, err = ParseInventory([]byte(data), "wrong")
	require.Error(t, err)
	var vaultErr *VaultError
	require.ErrorAs(t, err, &vaultErr)
	assert.Equal(t, VaultBadPassphrase, vaultErr.Kind)
}

func indent(s, prefix string) string {
	return prefix + strings.ReplaceAll(s, "\n", "\n"+prefix)
}
