package modules

import (
	"context"
	"fmt"

	"github.com/attune-dev/attune/pkg"
	"github.com/attune-dev/attune/pkg/common"
)

// SetFactModule stores its rendered parameters directly into the host's
// variable scope, visible to every later task on that host in this run.
// Setting facts never touches remote state, so it reports changed=false and
// behaves identically in check mode.
type SetFactModule struct{}

func (m SetFactModule) Execute(ctx context.Context, conn pkg.Connection, params map[string]interface{}, opts pkg.ExecOptions) (*pkg.ModuleResult, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("set_fact module requires at least one key/value pair")
	}
	facts := common.CopyMap(params)
	return &pkg.ModuleResult{
		Msg:    fmt.Sprintf("Set %d fact(s)", len(facts)),
		Facts:  facts,
		Fields: map[string]interface{}{"set": len(facts)},
	}, nil
}

func init() {
	pkg.RegisterModule("set_fact", SetFactModule{})
}
