package pkg

import (
	"sync"

	"github.com/attune-dev/attune/pkg/common"
)

// HandlerDispatcher tracks handler notifications across all hosts of a run.
// Notification is idempotent, and a handler fires at most once per host per
// run no matter how many tasks notified it. The pending set is shared across
// host workers, so every access goes through one mutex.
type HandlerDispatcher struct {
	mu       sync.Mutex
	handlers map[string]Task
	pending  map[string][]string       // host -> handler names, first-notified order
	notified map[string]map[string]bool // host -> handler -> notified this run
	executed map[string]map[string]bool // host -> handler -> fired this run
}

func NewHandlerDispatcher() *HandlerDispatcher {
	return &HandlerDispatcher{
		handlers: make(map[string]Task),
		pending:  make(map[string][]string),
		notified: make(map[string]map[string]bool),
		executed: make(map[string]map[string]bool),
	}
}

// AddHandlers registers handler definitions for the current play. A handler
// redefined by a later play replaces the earlier body; dedup state is keyed
// by name and survives for the whole run.
func (d *HandlerDispatcher) AddHandlers(handlers []Task) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range handlers {
		d.handlers[h.Name] = h
	}
}

// Notify marks a handler pending for a host. Repeated notification before
// the handler fires is a no-op beyond the first; notification after it fired
// this run is dropped entirely.
func (d *HandlerDispatcher) Notify(hostName, handlerName string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.handlers[handlerName]; !ok {
		common.LogWarn("Notified handler is not defined", map[string]interface{}{
			"handler": handlerName, "host": hostName,
		})
		return
	}
	if d.executed[hostName][handlerName] || d.notified[hostName][handlerName] {
		return
	}
	if d.notified[hostName] == nil {
		d.notified[hostName] = make(map[string]bool)
	}
	d.notified[hostName][handlerName] = true
	d.pending[hostName] = append(d.pending[hostName], handlerName)
	common.LogDebug("Handler notified", map[string]interface{}{
		"handler": handlerName, "host": hostName,
	})
}

// Pending returns the host's queued handlers in first-notified order and
// clears the queue. Callers run each returned handler exactly once.
func (d *HandlerDispatcher) Pending(hostName string) []Task {
	d.mu.Lock()
	defer d.mu.Unlock()

	names := d.pending[hostName]
	if len(names) == 0 {
		return nil
	}
	d.pending[hostName] = nil

	tasks := make([]Task, 0, len(names))
	for _, name := range names {
		delete(d.notified[hostName], name)
		if d.executed[hostName][name] {
			continue
		}
		if d.executed[hostName] == nil {
			d.executed[hostName] = make(map[string]bool)
		}
		d.executed[hostName][name] = true
		tasks = append(tasks, d.handlers[name])
	}
	return tasks
}

// HasPending reports whether any host still has queued handlers.
func (d *HandlerDispatcher) HasPending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, names := range d.pending {
		if len(names) > 0 {
			return true
		}
	}
	return false
}
