package modules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attune-dev/attune/pkg"
)

func TestDebugMsg(t *testing.T) {
	result, err := DebugModule{}.Execute(context.Background(), nil, map[string]interface{}{"msg": "rendered text"}, pkg.ExecOptions{})
	require.NoError(t, err)
	assert.False(t, result.Changed)
	assert.False(t, result.Failed)
	assert.Equal(t, "rendered text", result.Msg)
}

func TestDebugVar(t *testing.T) {
	opts := pkg.ExecOptions{Facts: map[string]interface{}{"app_port": 8080}}

	result, err := DebugModule{}.Execute(context.Background(), nil, map[string]interface{}{"var": "app_port"}, opts)
	require.NoError(t, err)
	assert.Contains(t, result.Msg, "8080")
}

func TestDebugUndefinedVar(t *testing.T) {
	result, err := DebugModule{}.Execute(context.Background(), nil, map[string]interface{}{"var": "ghost"}, pkg.ExecOptions{})
	require.NoError(t, err)
	assert.Contains(t, result.Msg, "VARIABLE IS NOT DEFINED")
	assert.False(t, result.Failed)
}

func TestFailModule(t *testing.T) {
	result, err := FailModule{}.Execute(context.Background(), nil, map[string]interface{}{"msg": "validation stop"}, pkg.ExecOptions{})
	require.NoError(t, err)
	assert.True(t, result.Failed)
	assert.Equal(t, "validation stop", result.Msg)
}

func TestSetFact(t *testing.T) {
	result, err := SetFactModule{}.Execute(context.Background(), nil, map[string]interface{}{
		"deploy_color": "green",
		"deploy_count": 2,
	}, pkg.ExecOptions{})
	require.NoError(t, err)
	assert.False(t, result.Changed)
	assert.Equal(t, "green", result.Facts["deploy_color"])
	assert.Equal(t, 2, result.Facts["deploy_count"])
}

func TestSetFactRequiresParams(t *testing.T) {
	_, err := SetFactModule{}.Execute(context.Background(), nil, map[string]interface{}{}, pkg.ExecOptions{})
	require.Error(t, err)
}

func TestModuleRegistry(t *testing.T) {
	for _, name := range []string{"assert", "debug", "fail", "marker", "set_fact"} {
		_, ok := pkg.GetModule(name)
		assert.True(t, ok, "module %q should be registered", name)
	}
	assert.Contains(t, pkg.ModuleNames(), "marker")
}
