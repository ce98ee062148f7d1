package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/attune-dev/attune/pkg"
	"github.com/attune-dev/attune/pkg/common"
	"github.com/attune-dev/attune/pkg/config"
)

// Runner drives a RunPlan to completion: a bounded pool of host workers,
// strict declaration order within each host, handler flushing between plays,
// and a shared RunReport.
type Runner struct {
	Remote    pkg.RemoteExecutor
	Config    *config.Config
	Inventory *pkg.Inventory
	ExtraVars map[string]interface{}

	dispatcher *pkg.HandlerDispatcher
	report     *pkg.RunReport

	mu         sync.Mutex
	registered map[string]map[string]interface{} // host -> vars registered this run
}

func NewRunner(remote pkg.RemoteExecutor, cfg *config.Config, inv *pkg.Inventory, extraVars map[string]interface{}) *Runner {
	return &Runner{
		Remote:     remote,
		Config:     cfg,
		Inventory:  inv,
		ExtraVars:  extraVars,
		dispatcher: pkg.NewHandlerDispatcher(),
		registered: make(map[string]map[string]interface{}),
	}
}

// unitDisposition says how a host's sequence proceeds after one unit.
type unitDisposition int

const (
	unitContinue unitDisposition = iota
	unitHaltHost
)

// Run executes every play of the plan in order. Within a play all hosts run
// their main task sequence first; queued handlers fire before the next play
// begins. The returned report is also retained for Finalize by the caller.
func (r *Runner) Run(ctx context.Context, plan *pkg.RunPlan) (*pkg.RunReport, error) {
	r.report = pkg.NewRunReport(planHosts(plan))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i := range plan.Plays {
		pp := &plan.Plays[i]
		if runCtx.Err() != nil {
			break
		}

		r.dispatcher.AddHandlers(pp.Handlers)
		r.logPlayStart(pp)

		r.forEachHost(pp.Hosts, func(host *pkg.Host) {
			r.runHostPlay(runCtx, cancel, pp, host)
		})
		r.forEachHost(pp.Hosts, func(host *pkg.Host) {
			r.flushHandlers(runCtx, cancel, pp, host)
		})
	}

	if runCtx.Err() != nil && ctx.Err() == nil {
		return r.report, fmt.Errorf("run aborted: a host failed and any_errors_fatal is set")
	}
	return r.report, ctx.Err()
}

// Report exposes the report of the last Run.
func (r *Runner) Report() *pkg.RunReport { return r.report }

func planHosts(plan *pkg.RunPlan) []*pkg.Host {
	seen := make(map[string]bool)
	var hosts []*pkg.Host
	for _, pp := range plan.Plays {
		for _, h := range pp.Hosts {
			if !seen[h.Name] {
				seen[h.Name] = true
				hosts = append(hosts, h)
			}
		}
	}
	return hosts
}

// forEachHost fans fn out over hosts through a pool of Forks workers.
// Excess hosts block until a worker slot frees up.
func (r *Runner) forEachHost(hosts []*pkg.Host, fn func(*pkg.Host)) {
	forks := r.Config.Run.Forks
	if forks <= 0 {
		forks = 1
	}
	sem := make(chan struct{}, forks)
	var wg sync.WaitGroup
	for _, host := range hosts {
		sem <- struct{}{}
		wg.Add(1)
		go func(h *pkg.Host) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(h)
		}(host)
	}
	wg.Wait()
}

// hostScope builds the host's layered scope for a play and attaches the
// host's persistent registered-variable store, so results captured in
// earlier plays stay visible.
func (r *Runner) hostScope(pp *pkg.PlannedPlay, host *pkg.Host) *pkg.VariableScope {
	scope := r.Inventory.BaseScope(host, pp.RoleDefaults, nil).Extend(pp.Play.Vars, r.ExtraVars)

	r.mu.Lock()
	store := r.registered[host.Name]
	if store == nil {
		store = make(map[string]interface{})
		r.registered[host.Name] = store
	}
	r.mu.Unlock()

	scope.AttachRegistered(store)
	return scope
}

// runHostPlay walks one host's unit sequence for one play, strictly in
// declaration order. The connection is opened before the first unit that
// needs it, reused across the sequence, and released unconditionally at the
// end, whatever the exit path.
func (r *Runner) runHostPlay(ctx context.Context, cancel context.CancelFunc, pp *pkg.PlannedPlay, host *pkg.Host) {
	if len(pp.Units) == 0 {
		return
	}

	scope := r.hostScope(pp, host)
	checkMode := pp.Play.CheckMode || r.Config.Run.CheckMode

	var conn pkg.Connection
	defer func() {
		if conn != nil {
			if err := r.Remote.Close(conn); err != nil {
				common.LogWarn("Failed to close connection", map[string]interface{}{
					"host": host.Name, "error": err.Error(),
				})
			}
		}
	}()

	for i := 0; i < len(pp.Units); i++ {
		select {
		case <-ctx.Done():
			// Cooperative cancellation: the in-flight unit finished, nothing
			// new is dispatched.
			return
		default:
		}

		disposition := r.executeUnit(ctx, &conn, pp, host, pp.Units[i], scope, checkMode)
		if disposition == unitHaltHost {
			r.markRemainingSkipped(host, pp.Units[i+1:])
			if r.Config.Run.AnyErrorsFatal {
				cancel()
			}
			return
		}

		// A task-level delay overrides the run-wide settle delay.
		delay := r.Config.SettleDelay()
		if t := pp.Units[i].Task.DelaySecs; t > 0 {
			delay = time.Duration(t) * time.Second
		}
		if delay > 0 && i < len(pp.Units)-1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}
	}
}

// executeUnit runs one (host, task) unit through the state machine:
// pending -> evaluating-condition -> {skipped | running -> {ok|changed|failed}}.
func (r *Runner) executeUnit(ctx context.Context, connp *pkg.Connection, pp *pkg.PlannedPlay, host *pkg.Host, unit pkg.Unit, scope *pkg.VariableScope, checkMode bool) unitDisposition {
	start := time.Now()
	task := unit.Task

	unitScope := scope
	if len(task.Vars) > 0 {
		// Task vars sit above play vars but still below extra vars.
		unitScope = unitScope.Extend(task.Vars, r.ExtraVars)
	}
	if unit.HasItem {
		unitScope = unitScope.Extend(map[string]interface{}{"item": unit.Item})
	}

	// The guard and every templated parameter are rendered against the
	// host's current scope, never cached: registered results from unit N
	// must be visible to unit N+1.
	proceed, err := pkg.EvaluateCondition(task.When, unitScope)
	if err != nil {
		// A broken `when` guard halts the host's play, matching a module
		// failure. ignore_errors still downgrades it.
		if task.IgnoreErrors {
			r.record(host, task, unit, pkg.OutcomeIgnored, err.Error(), nil, time.Since(start))
			return unitContinue
		}
		r.record(host, task, unit, pkg.OutcomeFailed, err.Error(), nil, time.Since(start))
		return unitHaltHost
	}
	if !proceed {
		r.record(host, task, unit, pkg.OutcomeSkipped, "", nil, time.Since(start))
		return unitContinue
	}

	rendered, err := pkg.RenderParams(task.Params, unitScope)
	if err != nil {
		// A parameter template error fails only the owning unit; the host's
		// sequence continues.
		if task.IgnoreErrors {
			r.record(host, task, unit, pkg.OutcomeIgnored, err.Error(), nil, time.Since(start))
		} else {
			r.record(host, task, unit, pkg.OutcomeFailed, err.Error(), nil, time.Since(start))
		}
		return unitContinue
	}

	if *connp == nil {
		conn, err := r.Remote.Open(ctx, host)
		if err != nil {
			r.record(host, task, unit, pkg.OutcomeUnreachable, err.Error(), rendered, time.Since(start))
			return unitHaltHost
		}
		*connp = conn
	}

	opts := pkg.ExecOptions{
		CheckMode: checkMode,
		Escalate:  escalate(task, pp.Play),
		Facts:     unitScope.Flatten(),
	}

	invokeCtx := ctx
	if timeout := r.Config.TaskTimeout(); timeout > 0 {
		var cancelTimeout context.CancelFunc
		invokeCtx, cancelTimeout = context.WithTimeout(ctx, timeout)
		defer cancelTimeout()
	}

	result, invokeErr := r.Remote.Invoke(invokeCtx, *connp, task.Module, rendered, opts)
	duration := time.Since(start)

	if errors.Is(invokeCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		// Timeout is a failure kind, not unreachability: contact was
		// established, the call just overran. The connection is not trusted
		// afterwards and gets closed; a later unit under ignore_errors will
		// reopen it.
		timeoutErr := &pkg.TimeoutError{Task: task.String(), Host: host.Name, Err: invokeCtx.Err()}
		if closeErr := r.Remote.Close(*connp); closeErr != nil {
			common.LogWarn("Failed to close connection after timeout", map[string]interface{}{
				"host": host.Name, "error": closeErr.Error(),
			})
		}
		*connp = nil
		if task.IgnoreErrors {
			r.record(host, task, unit, pkg.OutcomeIgnored, timeoutErr.Error(), rendered, duration)
			return unitContinue
		}
		r.record(host, task, unit, pkg.OutcomeFailed, timeoutErr.Error(), rendered, duration)
		return unitHaltHost
	}

	if result != nil && result.Skipped {
		r.record(host, task, unit, pkg.OutcomeSkipped, result.Msg, rendered, duration)
		return unitContinue
	}

	failed := invokeErr != nil || (result != nil && result.Failed)
	msg := ""
	if invokeErr != nil {
		msg = invokeErr.Error()
	} else if result != nil {
		msg = result.Msg
	}

	// changed_when / failed_when re-read the verdict from the result facts.
	resultScope := unitScope
	if result != nil {
		resultScope = unitScope.Extend(map[string]interface{}{"result": result.FactMap()})
	}
	if task.FailedWhen != "" && invokeErr == nil {
		verdict, cerr := pkg.EvaluateCondition(task.FailedWhen, resultScope)
		if cerr != nil {
			verdict, msg = true, cerr.Error()
		}
		failed = verdict
	}
	changed := result != nil && result.Changed
	if task.ChangedWhen != "" && invokeErr == nil && !failed {
		if verdict, cerr := pkg.EvaluateCondition(task.ChangedWhen, resultScope); cerr == nil {
			changed = verdict
		}
	}

	if failed {
		moduleErr := &pkg.ModuleExecutionError{Task: task.String(), Host: host.Name, Msg: msg, Result: result}
		if task.IgnoreErrors {
			r.record(host, task, unit, pkg.OutcomeIgnored, (&pkg.IgnoredTaskError{Err: moduleErr}).Error(), rendered, duration)
			return unitContinue
		}
		r.record(host, task, unit, pkg.OutcomeFailed, moduleErr.Error(), rendered, duration)
		return unitHaltHost
	}

	// Success path: module-set facts and the registered result land in the
	// host's scope before the next unit renders.
	if result != nil {
		for k, v := range result.Facts {
			scope.Register(k, v)
		}
		if task.Register != "" {
			reg := result.FactMap()
			reg["changed"] = changed
			scope.Register(task.Register, reg)
		}
	}
	if changed {
		for _, handlerName := range task.Notify {
			r.dispatcher.Notify(host.Name, handlerName)
		}
	}

	outcome := pkg.OutcomeOK
	if changed {
		outcome = pkg.OutcomeChanged
	}
	r.record(host, task, unit, outcome, msg, rendered, duration)
	return unitContinue
}

// flushHandlers fires the host's queued handlers, in first-notified order,
// through the same unit execution path as regular tasks. A handler failure
// halts the host's remaining handlers but not other hosts.
func (r *Runner) flushHandlers(ctx context.Context, cancel context.CancelFunc, pp *pkg.PlannedPlay, host *pkg.Host) {
	handlers := r.dispatcher.Pending(host.Name)
	if len(handlers) == 0 {
		return
	}

	scope := r.hostScope(pp, host)
	checkMode := pp.Play.CheckMode || r.Config.Run.CheckMode

	var conn pkg.Connection
	defer func() {
		if conn != nil {
			_ = r.Remote.Close(conn)
		}
	}()

	var units []pkg.Unit
	for _, handler := range handlers {
		if len(handler.Loop) > 0 {
			for _, item := range handler.Loop {
				units = append(units, pkg.Unit{Task: handler, Item: item, HasItem: true})
			}
			continue
		}
		units = append(units, pkg.Unit{Task: handler})
	}

	for i, unit := range units {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if r.executeUnit(ctx, &conn, pp, host, unit, scope, checkMode) == unitHaltHost {
			r.markRemainingSkipped(host, units[i+1:])
			if r.Config.Run.AnyErrorsFatal {
				cancel()
			}
			return
		}
	}
}

// markRemainingSkipped records skipped-due-to-failure outcomes for the units
// a halted host never reached.
func (r *Runner) markRemainingSkipped(host *pkg.Host, rest []pkg.Unit) {
	for _, unit := range rest {
		r.record(host, unit.Task, unit, pkg.OutcomeSkipped, "skipped due to earlier failure on this host", nil, 0)
	}
}

func escalate(task pkg.Task, play *pkg.Play) bool {
	if task.Become != nil {
		return *task.Become
	}
	return play.Become
}

func (r *Runner) logPlayStart(pp *pkg.PlannedPlay) {
	if r.Config.Logging.Format == "plain" {
		fmt.Printf("\nPLAY [%s] ****************************************************\n", pp.Play.Name)
		return
	}
	common.LogInfo("Starting play", map[string]interface{}{
		"play": pp.Play.Name, "hosts": len(pp.Hosts), "units": len(pp.Units),
	})
}

// record classifies one finished unit: report entry, log line, metrics.
// no_log tasks get their payload replaced with the redaction marker before
// anything leaves the engine.
func (r *Runner) record(host *pkg.Host, task pkg.Task, unit pkg.Unit, outcome pkg.Outcome, msg string, params map[string]interface{}, duration time.Duration) {
	entry := pkg.ReportEntry{
		Host:     host.Name,
		Task:     task.String(),
		Module:   task.Module,
		Outcome:  outcome,
		Msg:      msg,
		Params:   params,
		Duration: duration,
	}
	if task.NoLog {
		entry = pkg.RedactEntry(entry)
	}
	r.report.Record(entry)
	pkg.ObserveUnit(entry.Task, task.Module, host.Name, outcome, duration)

	if r.Config.Logging.Format == "plain" {
		fmt.Printf("\nTASK [%s] (%s) ****************************************************\n", entry.Task, host.Name)
		switch outcome {
		case pkg.OutcomeSkipped:
			fmt.Printf("skipped: [%s]\n", host.Name)
		case pkg.OutcomeFailed, pkg.OutcomeUnreachable:
			fmt.Printf("%s: [%s] => (%s)\n", outcome, host.Name, entry.Msg)
		case pkg.OutcomeIgnored:
			fmt.Printf("failed: [%s] => (ignored: %s)\n", host.Name, entry.Msg)
		default:
			fmt.Printf("%s: [%s]\n", outcome, host.Name)
		}
		return
	}

	logData := map[string]interface{}{
		"host":     host.Name,
		"task":     entry.Task,
		"module":   task.Module,
		"status":   outcome.String(),
		"duration": duration.String(),
	}
	if entry.Msg != "" {
		logData["msg"] = entry.Msg
	}
	switch outcome {
	case pkg.OutcomeFailed, pkg.OutcomeUnreachable:
		common.LogError("Task failed", logData)
	case pkg.OutcomeIgnored:
		common.LogWarn("Task failed (ignored)", logData)
	default:
		common.LogInfo("Task finished", logData)
	}
}
