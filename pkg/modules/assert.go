package modules

import (
	"context"
	"fmt"

	"github.com/AlexanderGrooff/jinja-go"

	"github.com/attune-dev/attune/pkg"
	"github.com/attune-dev/attune/pkg/common"
)

// AssertModule evaluates a list of expressions against the host's scope and
// fails if any of them is false. A failed assertion behaves exactly like a
// failed module: it halts the host's remaining play unless ignore_errors.
type AssertModule struct{}

func (m AssertModule) Execute(ctx context.Context, conn pkg.Connection, params map[string]interface{}, opts pkg.ExecOptions) (*pkg.ModuleResult, error) {
	var expressions []string
	switch raw := params["that"].(type) {
	case string:
		expressions = []string{raw}
	case nil:
		return nil, fmt.Errorf("assert module requires a 'that' parameter")
	default:
		list, ok := common.InterfaceToSlice(raw)
		if !ok {
			return nil, fmt.Errorf("assert 'that' must be a string or list, got %T", raw)
		}
		for _, e := range list {
			expressions = append(expressions, fmt.Sprintf("%v", e))
		}
	}

	msg := "Assertion failed"
	if raw, ok := params["msg"]; ok {
		msg = fmt.Sprintf("%v", raw)
	}

	for _, expr := range expressions {
		res, err := jinja.EvaluateExpression(expr, opts.Facts)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate assertion %q: %w", expr, err)
		}
		if !pkg.Truthy(res) {
			common.LogDebug("Assertion did not hold", map[string]interface{}{"expression": expr})
			return &pkg.ModuleResult{
				Failed: true,
				Msg:    fmt.Sprintf("%s: %q", msg, expr),
				Fields: map[string]interface{}{"failed_assertion": expr},
			}, nil
		}
	}
	return &pkg.ModuleResult{
		Msg:    "All assertions passed",
		Fields: map[string]interface{}{"assertions": len(expressions)},
	}, nil
}

func init() {
	pkg.RegisterModule("assert", AssertModule{})
}
