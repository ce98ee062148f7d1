package modules

import (
	"context"
	"fmt"

	"github.com/attune-dev/attune/pkg"
)

// FailModule fails unconditionally with a custom message. Useful with a
// `when` guard for explicit validation stops.
type FailModule struct{}

func (m FailModule) Execute(ctx context.Context, conn pkg.Connection, params map[string]interface{}, opts pkg.ExecOptions) (*pkg.ModuleResult, error) {
	msg := "Failed as requested"
	if raw, ok := params["msg"]; ok {
		msg = fmt.Sprintf("%v", raw)
	}
	return &pkg.ModuleResult{Failed: true, Msg: msg}, nil
}

func init() {
	pkg.RegisterModule("fail", FailModule{})
}
