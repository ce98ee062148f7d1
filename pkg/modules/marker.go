package modules

import (
	"context"
	"fmt"

	"github.com/attune-dev/attune/pkg"
)

// MarkerModule converges a named marker on the target to a desired value
// through the connection's state store. It is the engine's canonical
// idempotent desired-state module: the first run sets the value and reports
// changed=true, a second run against unchanged state reports changed=false.
//
// In check mode it predicts the change without writing.
//
// Params:
//
//	key:   marker name (required)
//	value: desired value (default "present")
//	state: "present" or "absent" (default "present")
type MarkerModule struct{}

func (m MarkerModule) Execute(ctx context.Context, conn pkg.Connection, params map[string]interface{}, opts pkg.ExecOptions) (*pkg.ModuleResult, error) {
	store, ok := conn.(pkg.StateStore)
	if !ok {
		return nil, fmt.Errorf("connection to %s does not expose a state store", conn.Host().Name)
	}

	rawKey, ok := params["key"]
	if !ok {
		return nil, fmt.Errorf("marker module requires a 'key' parameter")
	}
	key := fmt.Sprintf("%v", rawKey)

	desired := "present"
	if raw, ok := params["value"]; ok {
		desired = fmt.Sprintf("%v", raw)
	}
	state := "present"
	if raw, ok := params["state"]; ok {
		state = fmt.Sprintf("%v", raw)
	}

	current, exists := store.GetState(key)

	switch state {
	case "present":
		if exists && current == desired {
			return &pkg.ModuleResult{
				Changed: false,
				Msg:     fmt.Sprintf("marker %q already %q", key, desired),
				Fields:  map[string]interface{}{"key": key, "value": current},
			}, nil
		}
		if !opts.CheckMode {
			store.SetState(key, desired)
		}
		return &pkg.ModuleResult{
			Changed: true,
			Msg:     fmt.Sprintf("marker %q set to %q", key, desired),
			Fields:  map[string]interface{}{"key": key, "value": desired, "previous": current},
		}, nil

	case "absent":
		if !exists {
			return &pkg.ModuleResult{
				Changed: false,
				Msg:     fmt.Sprintf("marker %q already absent", key),
				Fields:  map[string]interface{}{"key": key},
			}, nil
		}
		if !opts.CheckMode {
			store.DeleteState(key)
		}
		return &pkg.ModuleResult{
			Changed: true,
			Msg:     fmt.Sprintf("marker %q removed", key),
			Fields:  map[string]interface{}{"key": key, "previous": current},
		}, nil

	default:
		return nil, fmt.Errorf("marker 'state' must be \"present\" or \"absent\", got %q", state)
	}
}

func init() {
	pkg.RegisterModule("marker", MarkerModule{})
}
