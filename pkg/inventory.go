package pkg

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/attune-dev/attune/pkg/common"
)

// Host is a single convergence target. Identity is the name; the struct is
// immutable once inventory load completes.
type Host struct {
	Name    string
	Address string `yaml:"host"`
	Vars    map[string]interface{}
	IsLocal bool

	// groups this host belongs to, least-specific first. Filled in during
	// Resolve, used for variable layering.
	groups []string
}

func (h *Host) String() string { return h.Name }

// Group is a named set of hosts. Groups nest through Children; the resulting
// graph must be acyclic.
type Group struct {
	Name      string
	HostNames []string
	Children  []string
	Vars      map[string]interface{}

	depth int // distance from the implicit "all" root, for specificity ordering
}

// Inventory is the resolved host/group graph plus per-group variable scopes.
type Inventory struct {
	Hosts  map[string]*Host
	Groups map[string]*Group
}

// rawGroup matches the YAML shape of one group block.
type rawGroup struct {
	Hosts    map[string]*Host       `yaml:"hosts"`
	Children []string               `yaml:"children"`
	Vars     map[string]interface{} `yaml:"vars"`
}

// UnmarshalYAML captures the host address plus arbitrary per-host variable
// overrides: every key other than "host" lands in Vars.
func (h *Host) UnmarshalYAML(value *yaml.Node) error {
	var raw map[string]interface{}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	h.Vars = make(map[string]interface{})
	for k, v := range raw {
		if k == "host" {
			if s, ok := v.(string); ok {
				h.Address = s
			}
			continue
		}
		h.Vars[k] = v
	}
	if h.Address == "" || h.Address == "localhost" || h.Address == "127.0.0.1" {
		h.IsLocal = true
	}
	return nil
}

// LoadInventory reads an inventory file and resolves it. An empty path
// yields an implicit single-host localhost inventory. The passphrase is used
// to open any vault-encrypted variable values; pass "" when no vault file is
// in play.
func LoadInventory(filePath, vaultPassphrase string) (*Inventory, error) {
	if filePath == "" {
		common.LogInfo("No inventory specified, assuming localhost", map[string]interface{}{})
		localhost := &Host{Name: "localhost", Address: "localhost", IsLocal: true, Vars: map[string]interface{}{}}
		return &Inventory{
			Hosts:  map[string]*Host{"localhost": localhost},
			Groups: map[string]*Group{"all": {Name: "all", HostNames: []string{"localhost"}}},
		}, nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, &InventoryError{Msg: fmt.Sprintf("reading %s: %v", filePath, err)}
	}
	return ParseInventory(data, vaultPassphrase)
}

// ParseInventory builds the inventory from raw YAML. Top-level keys are
// group names, each with hosts/children/vars subkeys; a top-level "vars" key
// holds global variables attached to the implicit "all" group.
func ParseInventory(data []byte, vaultPassphrase string) (*Inventory, error) {
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &InventoryError{Msg: fmt.Sprintf("unmarshaling inventory: %v", err)}
	}

	inv := &Inventory{
		Hosts:  make(map[string]*Host),
		Groups: make(map[string]*Group),
	}
	inv.Groups["all"] = &Group{Name: "all", Vars: map[string]interface{}{}}

	for key, node := range raw {
		if key == "vars" {
			var globalVars map[string]interface{}
			if err := node.Decode(&globalVars); err != nil {
				return nil, &InventoryError{Msg: fmt.Sprintf("unmarshaling global vars: %v", err)}
			}
			inv.Groups["all"].Vars = globalVars
			continue
		}

		var rg rawGroup
		if err := node.Decode(&rg); err != nil {
			return nil, &InventoryError{Msg: fmt.Sprintf("unmarshaling group %q: %v", key, err)}
		}

		group := inv.Groups[key]
		if group == nil {
			group = &Group{Name: key}
			inv.Groups[key] = group
		}
		group.Children = rg.Children
		if rg.Vars != nil {
			group.Vars = rg.Vars
		}
		for hostName, host := range rg.Hosts {
			host.Name = hostName
			if existing, ok := inv.Hosts[hostName]; ok {
				// Same host listed in several groups: merge the override vars.
				for k, v := range host.Vars {
					existing.Vars[k] = v
				}
			} else {
				inv.Hosts[hostName] = host
			}
			group.HostNames = append(group.HostNames, hostName)
		}
		sort.Strings(group.HostNames)
	}

	if err := inv.resolve(vaultPassphrase); err != nil {
		return nil, err
	}
	return inv, nil
}

// resolve validates the group graph, computes group depths, attaches group
// ancestry to each host, and decrypts vaulted variable values.
func (inv *Inventory) resolve(vaultPassphrase string) error {
	// Arena of integer indices over the group set. Cycle detection walks the
	// children adjacency with a three-color visited set instead of recursing
	// over pointers.
	names := make([]string, 0, len(inv.Groups))
	for name := range inv.Groups {
		names = append(names, name)
	}
	sort.Strings(names)
	index := make(map[string]int, len(names))
	for i, name := range names {
		index[name] = i
	}

	children := make([][]int, len(names))
	for i, name := range names {
		g := inv.Groups[name]
		for _, child := range g.Children {
			ci, ok := index[child]
			if !ok {
				return &InventoryError{Msg: fmt.Sprintf("group %q references unknown child group %q", name, child)}
			}
			children[i] = append(children[i], ci)
		}
	}

	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make([]int, len(names))
	var stack []int
	for start := range names {
		if state[start] != unvisited {
			continue
		}
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			if state[cur] == unvisited {
				state[cur] = inStack
			}
			advanced := false
			for _, child := range children[cur] {
				switch state[child] {
				case inStack:
					return &InventoryError{Msg: fmt.Sprintf("group graph cycle through %q and %q", names[cur], names[child])}
				case unvisited:
					stack = append(stack, child)
					advanced = true
				}
				if advanced {
					break
				}
			}
			if !advanced {
				state[cur] = done
				stack = stack[:len(stack)-1]
			}
		}
	}

	// Depth from "all": every top-level group that is not someone's child is
	// an implicit child of "all".
	isChild := make(map[string]bool)
	for _, g := range inv.Groups {
		for _, c := range g.Children {
			isChild[c] = true
		}
	}
	depth := map[string]int{"all": 0}
	frontier := []string{}
	for _, name := range names {
		if name != "all" && !isChild[name] {
			depth[name] = 1
			frontier = append(frontier, name)
		}
	}
	for len(frontier) > 0 {
		var next []string
		for _, name := range frontier {
			for _, child := range inv.Groups[name].Children {
				d := depth[name] + 1
				if existing, ok := depth[child]; !ok || d > existing {
					depth[child] = d
					next = append(next, child)
				}
			}
		}
		frontier = next
	}
	for name, g := range inv.Groups {
		g.depth = depth[name]
	}

	// Attach group ancestry to hosts, least-specific group first. A host in a
	// child group is also a member of every ancestor group.
	membership := make(map[string]map[string]bool) // host -> group set
	for _, name := range names {
		for _, hostName := range inv.transitiveHosts(name) {
			if membership[hostName] == nil {
				membership[hostName] = make(map[string]bool)
			}
			membership[hostName][name] = true
		}
	}
	for hostName, host := range inv.Hosts {
		groups := []string{"all"}
		for g := range membership[hostName] {
			if g != "all" {
				groups = append(groups, g)
			}
		}
		sort.Slice(groups, func(a, b int) bool {
			da, db := inv.Groups[groups[a]].depth, inv.Groups[groups[b]].depth
			if da != db {
				return da < db
			}
			return groups[a] < groups[b]
		})
		host.groups = groups
	}

	// Vault-encrypted values are opened exactly once, at load. Secrets exist
	// decrypted only in process memory from here on.
	for _, g := range inv.Groups {
		decrypted, err := DecryptVaultedVars(g.Vars, vaultPassphrase)
		if err != nil {
			return err
		}
		g.Vars = decrypted
	}
	for _, h := range inv.Hosts {
		decrypted, err := DecryptVaultedVars(h.Vars, vaultPassphrase)
		if err != nil {
			return err
		}
		h.Vars = decrypted
	}
	return nil
}

// transitiveHosts returns the hosts of a group and all its descendants.
func (inv *Inventory) transitiveHosts(groupName string) []string {
	seen := make(map[string]bool)
	var out []string
	queue := []string{groupName}
	visited := map[string]bool{groupName: true}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		g, ok := inv.Groups[name]
		if !ok {
			continue
		}
		for _, h := range g.HostNames {
			if !seen[h] {
				seen[h] = true
				out = append(out, h)
			}
		}
		for _, child := range g.Children {
			if !visited[child] {
				visited[child] = true
				queue = append(queue, child)
			}
		}
	}
	if groupName == "all" {
		for h := range inv.Hosts {
			if !seen[h] {
				seen[h] = true
				out = append(out, h)
			}
		}
	}
	sort.Strings(out)
	return out
}

// HostsMatching expands a play's target selector into concrete hosts.
// The selector is a comma-separated list where each element is a group name,
// a host name, or a glob pattern over host names. A direct reference to an
// unknown name is an InventoryError, never a silent skip.
func (inv *Inventory) HostsMatching(selector string) ([]*Host, error) {
	seen := make(map[string]bool)
	var hostNames []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			hostNames = append(hostNames, name)
		}
	}

	for _, part := range strings.Split(selector, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, ok := inv.Groups[part]; ok {
			for _, h := range inv.transitiveHosts(part) {
				add(h)
			}
			continue
		}
		if _, ok := inv.Hosts[part]; ok {
			add(part)
			continue
		}
		if strings.ContainsAny(part, "*?[") {
			matched := false
			for name := range inv.Hosts {
				if ok, _ := path.Match(part, name); ok {
					add(name)
					matched = true
				}
			}
			if matched {
				continue
			}
		}
		return nil, &InventoryError{Msg: fmt.Sprintf("selector %q matches no host or group", part)}
	}

	sort.Strings(hostNames)
	hosts := make([]*Host, 0, len(hostNames))
	for _, name := range hostNames {
		hosts = append(hosts, inv.Hosts[name])
	}
	return hosts, nil
}

// LimitHosts filters hosts against a run-level limit pattern (comma-separated
// host names, group names, or globs). An empty limit keeps everything.
func (inv *Inventory) LimitHosts(hosts []*Host, limit string) []*Host {
	if limit == "" {
		return hosts
	}
	allowed := make(map[string]bool)
	for _, part := range strings.Split(limit, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, ok := inv.Groups[part]; ok {
			for _, h := range inv.transitiveHosts(part) {
				allowed[h] = true
			}
			continue
		}
		for name := range inv.Hosts {
			if name == part {
				allowed[name] = true
			} else if ok, _ := path.Match(part, name); ok {
				allowed[name] = true
			}
		}
	}
	var out []*Host
	for _, h := range hosts {
		if allowed[h.Name] {
			out = append(out, h)
		}
	}
	return out
}

// GroupLayers returns the variable maps of the host's groups, least-specific
// group first, ready to stack into a VariableScope.
func (inv *Inventory) GroupLayers(host *Host) []map[string]interface{} {
	var layers []map[string]interface{}
	for _, name := range host.groups {
		if g, ok := inv.Groups[name]; ok && len(g.Vars) > 0 {
			layers = append(layers, g.Vars)
		}
	}
	return layers
}

// BaseScope materializes the starting VariableScope for a host, before any
// task-registered variables exist. Precedence, lowest to highest: role
// defaults, group vars (least-specific first), host vars, extra vars.
func (inv *Inventory) BaseScope(host *Host, roleDefaults, extraVars map[string]interface{}) *VariableScope {
	layers := []map[string]interface{}{roleDefaults}
	layers = append(layers, inv.GroupLayers(host)...)
	layers = append(layers, host.Vars, builtinHostVars(host), extraVars)
	return NewVariableScope(layers...)
}

// builtinHostVars are always-present connection facts. Kept above host vars
// so a playbook cannot accidentally shadow the host identity.
func builtinHostVars(host *Host) map[string]interface{} {
	return map[string]interface{}{
		"inventory_hostname": host.Name,
		"host_address":       host.Address,
	}
}
