package pkg

import (
	"context"
	"fmt"
	"sort"
)

// ModuleResult is what a module reports after inspecting or mutating remote
// state. It is immutable once produced; when the owning task carries a
// `register` name the result's fact map is stored into the host's scope.
type ModuleResult struct {
	Changed bool
	Failed  bool
	Skipped bool
	Msg     string

	// Fields holds arbitrary captured output, merged into the registered
	// fact map alongside the outcome flags.
	Fields map[string]interface{}

	// Facts are variables the module sets directly into the host scope,
	// independent of `register` (set_fact style).
	Facts map[string]interface{}
}

// FactMap flattens the result into the mapping stored under a task's
// `register` name: outcome flags plus captured fields.
func (r *ModuleResult) FactMap() map[string]interface{} {
	out := map[string]interface{}{
		"changed": r.Changed,
		"failed":  r.Failed,
		"skipped": r.Skipped,
		"msg":     r.Msg,
	}
	for k, v := range r.Fields {
		out[k] = v
	}
	return out
}

func (r *ModuleResult) String() string {
	if r.Msg != "" {
		return r.Msg
	}
	return fmt.Sprintf("changed=%v", r.Changed)
}

// ExecOptions carries the per-invocation execution flags from the engine to
// a module. CheckMode means predict, never mutate. Escalate is the play's
// `become` setting, passed through to the transport uninterpreted. Facts is
// a read-only snapshot of the host's rendered scope for modules that
// evaluate expressions (assert) or mint variables (set_fact).
type ExecOptions struct {
	CheckMode bool
	Escalate  bool
	Facts     map[string]interface{}
}

// Module is the contract automation content implements: execute a named
// operation with rendered parameters against a connection and report whether
// state changed. Execution with identical parameters against unchanged state
// must report changed=false on the second invocation.
type Module interface {
	Execute(ctx context.Context, conn Connection, params map[string]interface{}, opts ExecOptions) (*ModuleResult, error)
}

var registeredModules = make(map[string]Module)

// RegisterModule adds a module to the dispatch table under its name.
// Module name resolution is a plain table lookup, no reflection.
func RegisterModule(name string, module Module) {
	if _, exists := registeredModules[name]; exists {
		panic(fmt.Sprintf("module %s already registered", name))
	}
	registeredModules[name] = module
}

// GetModule retrieves a registered module by name.
func GetModule(name string) (Module, bool) {
	module, ok := registeredModules[name]
	return module, ok
}

// ModuleNames lists the registered module names, sorted.
func ModuleNames() []string {
	names := make([]string, 0, len(registeredModules))
	for name := range registeredModules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
