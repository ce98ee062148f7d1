package pkg

import (
	"errors"
	"fmt"
)

// InventoryError indicates a malformed inventory: a cyclic group graph,
// an unknown host reference in a play selector, or unparseable input.
// It is fatal and aborts the run before any task executes.
type InventoryError struct {
	Msg string
}

func (e *InventoryError) Error() string {
	return fmt.Sprintf("inventory error: %s", e.Msg)
}

// VaultErrorKind distinguishes an authentication failure (wrong passphrase,
// detected as an HMAC mismatch) from a structurally broken envelope.
type VaultErrorKind int

const (
	VaultBadPassphrase VaultErrorKind = iota
	VaultMalformed
)

func (k VaultErrorKind) String() string {
	switch k {
	case VaultBadPassphrase:
		return "bad passphrase"
	case VaultMalformed:
		return "malformed envelope"
	default:
		return "unknown"
	}
}

type VaultError struct {
	Kind VaultErrorKind
	Err  error
}

func (e *VaultError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("vault error (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("vault error (%s)", e.Kind)
}

func (e *VaultError) Unwrap() error { return e.Err }

// TemplateError indicates a variable reference that could not be resolved
// against the current scope, or a template that failed to parse.
type TemplateError struct {
	Template string
	Missing  []string
	Err      error
}

func (e *TemplateError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("template error in %q: undefined variables %v", e.Template, e.Missing)
	}
	return fmt.Sprintf("template error in %q: %v", e.Template, e.Err)
}

func (e *TemplateError) Unwrap() error { return e.Err }

// ModuleExecutionError wraps a module reporting failed=true or returning an
// execution error. It is local to one (host, task) unit.
type ModuleExecutionError struct {
	Task   string
	Host   string
	Msg    string
	Result *ModuleResult
}

func (e *ModuleExecutionError) Error() string {
	return fmt.Sprintf("task %q failed on host %q: %s", e.Task, e.Host, e.Msg)
}

// ConnectivityError means the transport could not establish contact with a
// host at all. It is distinct from a module failure and from a timeout on an
// already-open connection.
type ConnectivityError struct {
	Host string
	Err  error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("host %q unreachable: %v", e.Host, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// TimeoutError marks a unit whose remote call exceeded the configured
// duration. The host's connection is closed in response, but the host itself
// was reachable, so this is a failure kind, not unreachability.
type TimeoutError struct {
	Task string
	Host string
	Err  error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %q timed out on host %q: %v", e.Task, e.Host, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// IgnoredTaskError wraps a failure on a task marked ignore_errors so callers
// can tell an ignored failure apart from a hard one with errors.As.
type IgnoredTaskError struct {
	Err error
}

func (e *IgnoredTaskError) Error() string {
	return fmt.Sprintf("ignored: %v", e.Err)
}

func (e *IgnoredTaskError) Unwrap() error { return e.Err }

// IsIgnoredError reports whether err is (or wraps) an IgnoredTaskError.
func IsIgnoredError(err error) bool {
	var ignored *IgnoredTaskError
	return errors.As(err, &ignored)
}
