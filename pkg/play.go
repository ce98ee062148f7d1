package pkg

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Task is one declarative unit of desired state, executed through a module.
type Task struct {
	Name         string                 `yaml:"name"`
	Module       string                 `yaml:"module"`
	Params       map[string]interface{} `yaml:"params"`
	Vars         map[string]interface{} `yaml:"vars"`
	When         string                 `yaml:"when"`
	Tags         []string               `yaml:"tags"`
	Register     string                 `yaml:"register"`
	Loop         []interface{}          `yaml:"loop"`
	Notify       []string               `yaml:"notify"`
	IgnoreErrors bool                   `yaml:"ignore_errors"`
	NoLog        bool                   `yaml:"no_log"`
	ChangedWhen  string                 `yaml:"changed_when"`
	FailedWhen   string                 `yaml:"failed_when"`
	Become       *bool                  `yaml:"become"`
	DelaySecs    int                    `yaml:"delay"`
}

func (t Task) String() string {
	if t.Name != "" {
		return t.Name
	}
	return t.Module
}

// HasTag reports whether the task's tag set intersects the filter.
// An empty filter matches every task.
func (t Task) HasTag(filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, want := range filter {
		for _, have := range t.Tags {
			if want == have {
				return true
			}
		}
	}
	return false
}

// Play binds an ordered task sequence to a target host selection.
type Play struct {
	Name      string                 `yaml:"name"`
	HostsExpr string                 `yaml:"hosts"`
	Become    bool                   `yaml:"become"`
	CheckMode bool                   `yaml:"check_mode"`
	Vars      map[string]interface{} `yaml:"vars"`
	Roles     []string               `yaml:"roles"`
	Tasks     []Task                 `yaml:"tasks"`
	Handlers  []Task                 `yaml:"handlers"`
}

// Role is a reusable named bundle of tasks, handlers, and defaults. Roles
// are expanded into their play at plan-build time; role tasks run before the
// play's own tasks, in role declaration order.
type Role struct {
	Name     string                 `yaml:"name"`
	Defaults map[string]interface{} `yaml:"defaults"`
	Tasks    []Task                 `yaml:"tasks"`
	Handlers []Task                 `yaml:"handlers"`
}

// Playbook is a parsed playbook file: an ordered list of plays.
type Playbook struct {
	Plays []Play
	Roles map[string]*Role

	// Dir is the playbook's directory; role files resolve relative to it.
	Dir string
}

// LoadPlaybook parses a playbook file. The file is a YAML list of plays.
// Roles referenced by a play are loaded from <dir>/roles/<name>.yaml.
func LoadPlaybook(path, vaultPassphrase string) (*Playbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading playbook %s: %w", path, err)
	}

	var plays []Play
	if err := yaml.Unmarshal(data, &plays); err != nil {
		return nil, fmt.Errorf("unmarshaling playbook %s: %w", path, err)
	}

	pb := &Playbook{
		Plays: plays,
		Roles: make(map[string]*Role),
		Dir:   filepath.Dir(path),
	}

	for i := range pb.Plays {
		play := &pb.Plays[i]
		if play.HostsExpr == "" {
			return nil, fmt.Errorf("play %q has no hosts selector", play.Name)
		}
		decrypted, err := DecryptVaultedVars(play.Vars, vaultPassphrase)
		if err != nil {
			return nil, err
		}
		play.Vars = decrypted

		for _, roleName := range play.Roles {
			if _, ok := pb.Roles[roleName]; ok {
				continue
			}
			role, err := loadRole(pb.Dir, roleName)
			if err != nil {
				return nil, err
			}
			pb.Roles[roleName] = role
		}
	}
	return pb, nil
}

func loadRole(dir, name string) (*Role, error) {
	path := filepath.Join(dir, "roles", name+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading role %q: %w", name, err)
	}
	var role Role
	if err := yaml.Unmarshal(data, &role); err != nil {
		return nil, fmt.Errorf("unmarshaling role %q: %w", name, err)
	}
	role.Name = name
	return &role, nil
}
