package pkg

import (
	"fmt"
	"strings"

	"github.com/AlexanderGrooff/jinja-go"
)

// RenderTemplate resolves {{ var }} references in a template string against
// the scope. Rendering is pure and is re-run for every task execution; the
// scope mutates as the host's sequence registers results, so cached renders
// would go stale.
//
// A reference to an undefined variable with no inline default is a
// TemplateError.
func RenderTemplate(template string, scope *VariableScope) (string, error) {
	if template == "" {
		return "", nil
	}
	if missing := missingVariables(template, scope); len(missing) > 0 {
		return "", &TemplateError{Template: template, Missing: missing}
	}
	out, err := jinja.TemplateString(template, scope.Flatten())
	if err != nil {
		return "", &TemplateError{Template: template, Err: err}
	}
	return out, nil
}

// EvaluateCondition evaluates a `when` guard (or changed_when/failed_when
// override) to a boolean against the scope. An empty expression is true.
func EvaluateCondition(expr string, scope *VariableScope) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}
	if missing := missingExpressionVariables(expr, scope); len(missing) > 0 {
		return false, &TemplateError{Template: expr, Missing: missing}
	}
	res, err := jinja.EvaluateExpression(expr, scope.Flatten())
	if err != nil {
		return false, &TemplateError{Template: expr, Err: err}
	}
	return Truthy(res), nil
}

// Truthy converts an evaluated expression result to a boolean the way the
// template language does: false/nil/zero/empty are false, everything else
// is true.
func Truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		s := strings.TrimSpace(strings.ToLower(t))
		return s != "" && s != "false"
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	default:
		return true
	}
}

// RenderValue walks an arbitrary parameter value, rendering every string it
// contains. Maps and slices are copied, never mutated in place.
func RenderValue(value interface{}, scope *VariableScope) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return RenderTemplate(v, scope)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, elem := range v {
			rendered, err := RenderValue(elem, scope)
			if err != nil {
				return nil, fmt.Errorf("rendering key %q: %w", k, err)
			}
			out[k] = rendered
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, elem := range v {
			rendered, err := RenderValue(elem, scope)
			if err != nil {
				return nil, fmt.Errorf("rendering element %d: %w", i, err)
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return value, nil
	}
}

// RenderParams renders a task's full parameter mapping.
func RenderParams(params map[string]interface{}, scope *VariableScope) (map[string]interface{}, error) {
	if params == nil {
		return map[string]interface{}{}, nil
	}
	rendered, err := RenderValue(params, scope)
	if err != nil {
		return nil, err
	}
	return rendered.(map[string]interface{}), nil
}

// missingVariables lists referenced top-level variables that the scope does
// not define. References guarded by an inline default filter are exempt.
func missingVariables(template string, scope *VariableScope) []string {
	vars, err := jinja.ParseVariables(template)
	if err != nil {
		// Leave parse problems to the renderer, which reports them with
		// position information.
		return nil
	}
	return filterMissing(template, vars, scope)
}

// missingExpressionVariables is the bare-expression counterpart used for
// `when` guards and verdict overrides.
func missingExpressionVariables(expr string, scope *VariableScope) []string {
	vars, err := jinja.ParseVariablesFromExpression(expr)
	if err != nil {
		return nil
	}
	return filterMissing(expr, vars, scope)
}

// jinjaKeywords are expression tokens that must never be treated as
// variable references.
var jinjaKeywords = map[string]bool{
	"true": true, "false": true, "True": true, "False": true,
	"none": true, "null": true, "None": true,
	"not": true, "and": true, "or": true, "in": true, "is": true,
	"if": true, "else": true, "defined": true, "undefined": true,
}

func filterMissing(source string, vars []string, scope *VariableScope) []string {
	var missing []string
	for _, name := range vars {
		// `registered.changed` style references resolve the root name.
		root := name
		if i := strings.IndexAny(root, ".["); i > 0 {
			root = root[:i]
		}
		if root == "" || root == "item" || jinjaKeywords[root] || scope.Has(root) {
			continue
		}
		if hasInlineDefault(source, root) {
			continue
		}
		missing = append(missing, root)
	}
	return missing
}

// hasInlineDefault is a conservative check for `name | default(...)` usage.
func hasInlineDefault(template, name string) bool {
	idx := strings.Index(template, name)
	for idx >= 0 {
		rest := template[idx+len(name):]
		trimmed := strings.TrimLeft(rest, " ")
		// Skip past attribute/index access before the filter pipe.
		for len(trimmed) > 0 && (trimmed[0] == '.' || trimmed[0] == '[') {
			j := strings.IndexAny(trimmed, " |}")
			if j < 0 {
				return false
			}
			trimmed = strings.TrimLeft(trimmed[j:], " ")
		}
		if strings.HasPrefix(trimmed, "|") && strings.Contains(trimmed, "default(") {
			return true
		}
		next := strings.Index(template[idx+1:], name)
		if next < 0 {
			return false
		}
		idx = idx + 1 + next
	}
	return false
}
