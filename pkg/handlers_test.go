package pkg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerDispatcherDedup(t *testing.T) {
	d := NewHandlerDispatcher()
	d.AddHandlers([]Task{{Name: "restart app", Module: "debug"}})

	// Three notifications collapse into one pending execution.
	d.Notify("h1", "restart app")
	d.Notify("h1", "restart app")
	d.Notify("h1", "restart app")

	pending := d.Pending("h1")
	require.Len(t, pending, 1)
	assert.Equal(t, "restart app", pending[0].Name)

	// Already flushed: the queue is empty.
	assert.Empty(t, d.Pending("h1"))
}

func TestHandlerDispatcherAtMostOncePerRun(t *testing.T) {
	d := NewHandlerDispatcher()
	d.AddHandlers([]Task{{Name: "restart app", Module: "debug"}})

	d.Notify("h1", "restart app")
	require.Len(t, d.Pending("h1"), 1)

	// Re-notified after firing: dropped for the rest of the run.
	d.Notify("h1", "restart app")
	assert.Empty(t, d.Pending("h1"))
}

func TestHandlerDispatcherPerHostIsolation(t *testing.T) {
	d := NewHandlerDispatcher()
	d.AddHandlers([]Task{{Name: "reload", Module: "debug"}})

	d.Notify("h1", "reload")

	assert.Empty(t, d.Pending("h2"), "a notification on one host never fires on another")
	assert.Len(t, d.Pending("h1"), 1)
}

func TestHandlerDispatcherFirstNotifiedOrder(t *testing.T) {
	d := NewHandlerDispatcher()
	d.AddHandlers([]Task{
		{Name: "c", Module: "debug"},
		{Name: "a", Module: "debug"},
		{Name: "b", Module: "debug"},
	})

	d.Notify("h1", "b")
	d.Notify("h1", "a")
	d.Notify("h1", "b")
	d.Notify("h1", "c")

	pending := d.Pending("h1")
	require.Len(t, pending, 3)
	assert.Equal(t, "b", pending[0].Name)
	assert.Equal(t, "a", pending[1].Name)
	assert.Equal(t, "c", pending[2].Name)
}

func TestHandlerDispatcherUnknownHandler(t *testing.T) {
	d := NewHandlerDispatcher()
	d.AddHandlers([]Task{{Name: "known", Module: "debug"}})

	// Logged and dropped, not queued.
	d.Notify("h1", "unknown")
	assert.Empty(t, d.Pending("h1"))
	assert.False(t, d.HasPending())
}

func TestHandlerDispatcherLaterPlayRedefinesBody(t *testing.T) {
	d := NewHandlerDispatcher()
	d.AddHandlers([]Task{{Name: "reload", Module: "debug", Params: map[string]interface{}{"msg": "v1"}}})
	d.AddHandlers([]Task{{Name: "reload", Module: "debug", Params: map[string]interface{}{"msg": "v2"}}})

	d.Notify("h1", "reload")
	pending := d.Pending("h1")
	require.Len(t, pending, 1)
	assert.Equal(t, "v2", pending[0].Params["msg"])
}

func TestHandlerDispatcherHasPending(t *testing.T) {
	d := NewHandlerDispatcher()
	d.AddHandlers([]Task{{Name: "reload", Module: "debug"}})

	assert.False(t, d.HasPending())
	d.Notify("h1", "reload")
	assert.True(t, d.HasPending())
	d.Pending("h1")
	assert.False(t, d.HasPending())
}
