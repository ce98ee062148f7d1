package pkg

import "github.com/attune-dev/attune/pkg/common"

// SensitiveValue wraps a vault-decrypted secret. The plaintext exists only in
// process memory; String() and log/report surfaces show a redaction marker.
type SensitiveValue struct {
	Value interface{}
}

const RedactionMarker = "<redacted>"

func (s SensitiveValue) String() string { return RedactionMarker }

// VariableScope is the layered variable mapping resolved per host. Layers are
// ordered lowest precedence first: role defaults, group vars (least-specific
// group first), host vars, play vars, extra vars. On top sits the registered
// layer, which holds results captured by tasks earlier in the run.
//
// A scope is owned by exactly one host worker; it is never shared across
// hosts. Extending a scope copies nothing; layers are stacked, so building
// a per-play view over a host's persistent registered layer is cheap.
type VariableScope struct {
	layers     []map[string]interface{}
	registered map[string]interface{}
}

// NewVariableScope stacks the given layers, lowest precedence first.
// Nil layers are skipped.
func NewVariableScope(layers ...map[string]interface{}) *VariableScope {
	s := &VariableScope{registered: make(map[string]interface{})}
	for _, l := range layers {
		if l != nil {
			s.layers = append(s.layers, l)
		}
	}
	return s
}

// Extend returns a new scope with extra layers stacked on top of the
// existing ones. The registered layer is shared with the parent, so values
// registered through either scope are visible in both.
func (s *VariableScope) Extend(layers ...map[string]interface{}) *VariableScope {
	next := &VariableScope{
		layers:     make([]map[string]interface{}, 0, len(s.layers)+len(layers)),
		registered: s.registered,
	}
	next.layers = append(next.layers, s.layers...)
	for _, l := range layers {
		if l != nil {
			next.layers = append(next.layers, l)
		}
	}
	return next
}

// AttachRegistered replaces the scope's registered layer with an external
// store, so a host's captured results persist across per-play scope rebuilds.
func (s *VariableScope) AttachRegistered(store map[string]interface{}) {
	if store != nil {
		s.registered = store
	}
}

// Register stores a task result under the given name, at the highest
// precedence. Visible to every later task on the same host in this run.
func (s *VariableScope) Register(name string, value interface{}) {
	s.registered[name] = value
	common.LogDebug("Registered variable", map[string]interface{}{"name": name})
}

// Get resolves a variable, highest precedence first.
func (s *VariableScope) Get(name string) (interface{}, bool) {
	if v, ok := s.registered[name]; ok {
		return v, true
	}
	for i := len(s.layers) - 1; i >= 0; i-- {
		if v, ok := s.layers[i][name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Has reports whether a variable is defined at any layer.
func (s *VariableScope) Has(name string) bool {
	_, ok := s.Get(name)
	return ok
}

// Flatten materializes the scope into a single map for template rendering.
// Sensitive values are unwrapped: templates need the plaintext, and the
// redaction obligation sits on the reporting surface, not on rendering.
func (s *VariableScope) Flatten() map[string]interface{} {
	out := make(map[string]interface{})
	for _, layer := range s.layers {
		for k, v := range layer {
			out[k] = unwrapSensitive(v)
		}
	}
	for k, v := range s.registered {
		out[k] = unwrapSensitive(v)
	}
	return out
}

func unwrapSensitive(v interface{}) interface{} {
	if sv, ok := v.(SensitiveValue); ok {
		return sv.Value
	}
	return v
}
