package pkg

import (
	"context"
	"fmt"
	"sync"

	"github.com/attune-dev/attune/pkg/common"
)

// Connection is a scoped transport handle to one host: acquired before the
// host's first task, reused across its sequence when the transport supports
// it, and released unconditionally when the sequence ends.
type Connection interface {
	Host() *Host
	Close() error
}

// StateStore is an optional capability of a connection: a small key/value
// surface modules use to inspect and record desired-state markers. The local
// transport implements it; network transports would back it with the real
// remote system.
type StateStore interface {
	GetState(key string) (string, bool)
	SetState(key, value string)
	DeleteState(key string)
}

// RemoteExecutor runs module invocations on hosts. It owns connection
// lifetime; the engine never touches the wire.
type RemoteExecutor interface {
	Open(ctx context.Context, host *Host) (Connection, error)
	Invoke(ctx context.Context, conn Connection, moduleName string, params map[string]interface{}, opts ExecOptions) (*ModuleResult, error)
	Close(conn Connection) error
}

// LocalExecutor dispatches module invocations in-process through the module
// registry. It is the engine's reference transport: the convergence
// semantics exercised against it are exactly those a network transport sees.
// Per-host state survives connection close, the way a real remote system
// outlives an SSH session, so idempotency holds across runs.
type LocalExecutor struct {
	mu    sync.Mutex
	state map[string]map[string]string // host -> marker state
}

func NewLocalExecutor() *LocalExecutor {
	return &LocalExecutor{state: make(map[string]map[string]string)}
}

// LocalConnection is an in-process connection over a host's state map.
type LocalConnection struct {
	host *Host

	mu    *sync.Mutex
	state map[string]string
}

func (c *LocalConnection) Host() *Host { return c.host }

func (c *LocalConnection) Close() error { return nil }

func (c *LocalConnection) GetState(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.state[key]
	return v, ok
}

func (c *LocalConnection) SetState(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state[key] = value
}

func (c *LocalConnection) DeleteState(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.state, key)
}

func (e *LocalExecutor) Open(ctx context.Context, host *Host) (Connection, error) {
	select {
	case <-ctx.Done():
		return nil, &ConnectivityError{Host: host.Name, Err: ctx.Err()}
	default:
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		e.state = make(map[string]map[string]string)
	}
	if e.state[host.Name] == nil {
		e.state[host.Name] = make(map[string]string)
	}
	return &LocalConnection{host: host, mu: &e.mu, state: e.state[host.Name]}, nil
}

func (e *LocalExecutor) Invoke(ctx context.Context, conn Connection, moduleName string, params map[string]interface{}, opts ExecOptions) (*ModuleResult, error) {
	module, ok := GetModule(moduleName)
	if !ok {
		return nil, fmt.Errorf("module %q not found", moduleName)
	}
	common.DebugOutput("Invoking module %s on host %s (check=%v)", moduleName, conn.Host().Name, opts.CheckMode)
	return module.Execute(ctx, conn, params, opts)
}

func (e *LocalExecutor) Close(conn Connection) error {
	if conn == nil {
		return nil
	}
	return conn.Close()
}
