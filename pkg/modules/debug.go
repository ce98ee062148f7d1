package modules

import (
	"context"
	"fmt"

	"github.com/attune-dev/attune/pkg"
)

// DebugModule prints a rendered message. It never changes remote state and
// never fails, so it is safe in check mode.
type DebugModule struct{}

func (m DebugModule) Execute(ctx context.Context, conn pkg.Connection, params map[string]interface{}, opts pkg.ExecOptions) (*pkg.ModuleResult, error) {
	msg := "Hello world!"
	if raw, ok := params["msg"]; ok {
		msg = fmt.Sprintf("%v", raw)
	} else if raw, ok := params["var"]; ok {
		name := fmt.Sprintf("%v", raw)
		if v, ok := opts.Facts[name]; ok {
			msg = fmt.Sprintf("%s: %v", name, v)
		} else {
			msg = fmt.Sprintf("%s: VARIABLE IS NOT DEFINED", name)
		}
	}
	return &pkg.ModuleResult{
		Changed: false,
		Msg:     msg,
		Fields:  map[string]interface{}{"msg": msg},
	}, nil
}

func init() {
	pkg.RegisterModule("debug", DebugModule{})
}
