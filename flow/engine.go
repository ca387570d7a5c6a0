package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fluxline/fluxline/flow/emit"
	"github.com/fluxline/fluxline/flow/store"
)

// Engine executes workflow definitions.
//
// The Engine is the core runtime that:
//   - Validates definitions before running them
//   - Resolves node types against the handler registry
//   - Executes nodes in dependency order, sequentially or in parallel layers
//   - Applies per-node timeout and retry policy
//   - Routes failures along error-port connections
//   - Persists node outputs and the terminal record via the store
//   - Emits observability events via the emitter
//
// Example:
//
//	registry := flow.NewRegistry()
//	registry.RegisterFunc("uppercase", upperHandler)
//
//	engine, err := flow.New(registry, store.NewMemStore(), emit.NewLogEmitter(nil, false),
//	    flow.WithDefaultNodeTimeout(10*time.Second),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result := engine.Execute(ctx, wf, map[string]any{"text": "hello"}, flow.ExecutionOptions{})
type Engine struct {
	registry *Registry
	store    store.Store
	emitter  emit.Emitter
	opts     Options
}

// New creates an Engine.
//
// registry is required. A nil store falls back to an in-memory store; a nil
// emitter falls back to a no-op emitter. Defaults: 30s node timeout, 8
// concurrent nodes per parallel layer.
func New(registry *Registry, st store.Store, emitter emit.Emitter, opts ...Option) (*Engine, error) {
	if registry == nil {
		return nil, &EngineError{Message: "handler registry is required", Code: "MISSING_REGISTRY"}
	}

	cfg := engineConfig{opts: Options{
		DefaultNodeTimeout: 30 * time.Second,
		MaxConcurrent:      8,
	}}
	for _, o := range opts {
		if err := o(&cfg); err != nil {
			return nil, err
		}
	}

	if st == nil {
		st = store.NewMemStore()
	}
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}

	return &Engine{
		registry: registry,
		store:    st,
		emitter:  emitter,
		opts:     cfg.opts,
	}, nil
}

// Registry returns the engine's handler registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Execution loads the persisted terminal record and step outputs of a run.
// Returns store.ErrNotFound when no record exists for the id.
func (e *Engine) Execution(ctx context.Context, executionID string) (store.ExecutionRecord, []store.StepRecord, error) {
	rec, err := e.store.LoadExecution(ctx, executionID)
	if err != nil {
		return store.ExecutionRecord{}, nil, err
	}
	steps, err := e.store.LoadSteps(ctx, executionID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return store.ExecutionRecord{}, nil, err
	}
	return rec, steps, nil
}

// Execute runs a workflow definition to completion.
//
// The result is always a fully populated ExecutionResult; execution problems
// (validation failures, node failures, cancellation) are reported as result
// data, never as a Go error, so callers can serialize the outcome directly.
//
// Semantics:
//   - The definition is validated first; an unsound definition fails the run
//     without executing any node.
//   - Entry nodes (no incoming connections that can deliver input) receive
//     the run input. Every other node receives the outputs its incoming
//     connections delivered: the value directly when exactly one arrived, a
//     map keyed by source node id when several did. Declared connections
//     that delivered nothing (unselected branches, absent failures) do not
//     count toward that arithmetic.
//   - A node whose incoming connections delivered nothing is skipped. This
//     is how branches work: a conditional's unselected ports deliver
//     nothing, and a failed node delivers only on its error port.
//   - A failing node is attempted MaxRetries+1 times with the engine's
//     backoff between attempts. Exhausted failures route a {"error": ...}
//     payload along the node's error-port connections; with no error-port
//     connection the whole run fails.
//   - With ParallelExecution, independent nodes of one dependency layer run
//     concurrently, capped by MaxConcurrent. Results are committed in node
//     declaration order, so persisted step numbers stay deterministic.
//   - Context cancellation stops the run before the next node starts and
//     yields a "cancelled" result.
func (e *Engine) Execute(ctx context.Context, wf *Workflow, input any, opts ExecutionOptions) ExecutionResult {
	start := time.Now()
	execID := opts.ExecutionID
	if execID == "" {
		execID = uuid.NewString()
	}

	if vr := e.Validate(wf); !vr.Valid {
		e.opts.Metrics.RecordExecution(StatusError)
		return ExecutionResult{
			ExecutionID:   execID,
			Status:        StatusError,
			ExecutionTime: time.Since(start).Seconds(),
			Error: &ExecutionError{
				Code:    CodeValidationFailed,
				Message: vr.Summary(),
			},
		}
	}

	rs := &runState{
		wf:       wf,
		gi:       wf.index(),
		ectx:     newExecutionContext(wf.ID, execID, input, opts),
		executed: make(map[string]bool, len(wf.Nodes)),
		port:     make(map[string]int, len(wf.Nodes)),
		output:   make(map[string]any, len(wf.Nodes)),
	}
	if e.opts.WallClockBudget > 0 {
		rs.wallDeadline = start.Add(e.opts.WallClockBudget)
	}

	e.emit(execID, 0, "", emit.MsgExecutionStarted, map[string]any{
		"workflow_id": wf.ID,
		"parallel":    opts.ParallelExecution,
	})

	if opts.ParallelExecution {
		e.runLayers(ctx, rs)
	} else {
		e.runSequential(ctx, rs)
	}

	return e.finish(ctx, rs, start)
}

// runState is the mutable state of one run. Only the commit path writes it;
// in parallel mode node goroutines read the immutable fields only.
type runState struct {
	wf   *Workflow
	gi   *graphIndex
	ectx *ExecutionContext

	wallDeadline time.Time

	executed map[string]bool
	port     map[string]int
	output   map[string]any
	step     int

	abort     *ExecutionError
	cancelled bool
}

// gather assembles a node's input from its incoming connections. The second
// return is false when nothing arrived and the node must be skipped.
//
// Counting is over delivered values, not declared connections: a node with
// several declared predecessors of which only one delivered receives that
// value directly, not a single-entry map.
func (rs *runState) gather(id string) (any, bool) {
	if rs.gi.isEntry(id) {
		return rs.ectx.Input, true
	}

	var vals []any
	var srcs []string
	for _, c := range rs.gi.liveIn[id] {
		if rs.executed[c.Source] && rs.port[c.Source] == c.SourceOutput {
			vals = append(vals, rs.output[c.Source])
			srcs = append(srcs, c.Source)
		}
	}
	switch len(vals) {
	case 0:
		return nil, false
	case 1:
		return vals[0], true
	}
	merged := make(map[string]any, len(vals))
	for i, src := range srcs {
		merged[src] = vals[i]
	}
	return merged, true
}

func (e *Engine) runSequential(ctx context.Context, rs *runState) {
	for _, id := range ComputeOrder(rs.wf) {
		if ctx.Err() != nil {
			rs.cancelled = true
			return
		}
		input, runnable := rs.gather(id)
		if !runnable {
			e.emit(rs.ectx.ExecutionID, 0, id, emit.MsgNodeSkipped, nil)
			continue
		}
		node, _ := rs.wf.Node(id)
		rs.step++
		oc := e.executeNode(ctx, rs, node, input, rs.step)
		if !e.commit(ctx, rs, node, oc, rs.step) {
			return
		}
	}
}

func (e *Engine) runLayers(ctx context.Context, rs *runState) {
	type plannedNode struct {
		node  *Node
		input any
		step  int
	}

	for _, layer := range ComputeLayers(rs.wf) {
		if ctx.Err() != nil {
			rs.cancelled = true
			return
		}

		// Input gathering and step assignment happen up front in declaration
		// order so the concurrent part only executes handlers.
		var plan []plannedNode
		for _, id := range layer {
			input, runnable := rs.gather(id)
			if !runnable {
				e.emit(rs.ectx.ExecutionID, 0, id, emit.MsgNodeSkipped, nil)
				continue
			}
			node, _ := rs.wf.Node(id)
			rs.step++
			plan = append(plan, plannedNode{node: node, input: input, step: rs.step})
		}
		if len(plan) == 0 {
			continue
		}

		limit := e.opts.MaxConcurrent
		if limit <= 0 || limit > len(plan) {
			limit = len(plan)
		}
		sem := make(chan struct{}, limit)
		outcomes := make([]nodeOutcome, len(plan))

		var wg sync.WaitGroup
		for i := range plan {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				outcomes[i] = e.executeNode(ctx, rs, plan[i].node, plan[i].input, plan[i].step)
			}(i)
		}
		wg.Wait()

		for i := range plan {
			if !e.commit(ctx, rs, plan[i].node, outcomes[i], plan[i].step) {
				return
			}
		}
	}
}

// nodeOutcome is the result of one node's attempt loop, before commit.
type nodeOutcome struct {
	out            any
	port           int
	failErr        error
	timedOut       bool
	budgetExceeded bool
	cancelled      bool
	attempts       int
	duration       time.Duration
}

// executeNode runs the retry loop for one node. It touches no mutable run
// state, so parallel layers can call it concurrently.
func (e *Engine) executeNode(ctx context.Context, rs *runState, node *Node, input any, step int) nodeOutcome {
	execID := rs.ectx.ExecutionID
	e.emit(execID, step, node.ID, emit.MsgNodeStarted, map[string]any{"node_type": node.Type})
	e.opts.Metrics.NodeStarted()
	defer e.opts.Metrics.NodeFinished()

	handler, ok := e.registry.Resolve(node.Type)
	if !ok {
		// Validation resolves every type before the run starts; reaching this
		// means the registry changed mid-run.
		return nodeOutcome{failErr: fmt.Errorf("no handler registered for type %q", node.Type), attempts: 1}
	}

	nodeStart := time.Now()
	attempts := rs.ectx.Options.MaxRetries + 1
	oc := nodeOutcome{}

	for attempt := 1; attempt <= attempts; attempt++ {
		oc.attempts = attempt

		timeout := e.attemptTimeout(rs.ectx.Options)
		if !rs.wallDeadline.IsZero() {
			remaining := time.Until(rs.wallDeadline)
			if remaining <= 0 {
				oc.failErr = errAttemptTimeout
				oc.timedOut = true
				oc.budgetExceeded = true
				break
			}
			if timeout == 0 || remaining < timeout {
				timeout = remaining
			}
		}

		attemptStart := time.Now()
		out, err := e.runAttempt(ctx, handler, node, input, timeout)
		if err == nil {
			oc.port, oc.out = resolvePort(out)
			oc.duration = time.Since(nodeStart)
			e.opts.Metrics.RecordNodeLatency(node.Type, time.Since(attemptStart), "success")
			return oc
		}
		if ctx.Err() != nil {
			oc.cancelled = true
			oc.duration = time.Since(nodeStart)
			return oc
		}

		oc.failErr = err
		oc.timedOut = errors.Is(err, errAttemptTimeout)
		status := "error"
		if oc.timedOut {
			status = "timeout"
		}
		e.opts.Metrics.RecordNodeLatency(node.Type, time.Since(attemptStart), status)
		if !rs.wallDeadline.IsZero() && oc.timedOut && !time.Now().Before(rs.wallDeadline) {
			oc.budgetExceeded = true
			break
		}

		if attempt < attempts {
			e.opts.Metrics.IncrementRetries(node.Type, status)
			e.emit(execID, step, node.ID, emit.MsgNodeRetry, map[string]any{
				"attempt": attempt,
				"error":   err.Error(),
			})
			if delay := e.opts.Retry.backoff(attempt-1, nil); delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					oc.cancelled = true
					oc.duration = time.Since(nodeStart)
					return oc
				}
			}
		}
	}

	oc.duration = time.Since(nodeStart)
	return oc
}

// runAttempt executes one handler attempt under its timeout budget.
//
// The handler runs in its own goroutine; a timeout abandons the attempt
// rather than interrupting it, so a handler that ignores ctx keeps running in
// the background until it returns on its own. Well-behaved handlers observe
// ctx and stop early.
func (e *Engine) runAttempt(ctx context.Context, handler Handler, node *Node, input any, timeout time.Duration) (any, error) {
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type attemptResult struct {
		out any
		err error
	}
	done := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptResult{err: fmt.Errorf("handler panicked: %v", r)}
			}
		}()
		out, err := handler.Execute(attemptCtx, node.Parameters, input)
		done <- attemptResult{out: out, err: err}
	}()

	select {
	case res := <-done:
		return res.out, res.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errAttemptTimeout
	}
}

// resolvePort maps a handler's return value to (port, output). Plain values
// route along the main port; Branch selects its own.
func resolvePort(out any) (int, any) {
	switch b := out.(type) {
	case Branch:
		return b.Port, b.Output
	case *Branch:
		if b != nil {
			return b.Port, b.Output
		}
	}
	return PortMain, out
}

// commit applies one node outcome to the run state: bookkeeping, step
// persistence, and lifecycle events. Returns false when the run must stop.
func (e *Engine) commit(ctx context.Context, rs *runState, node *Node, oc nodeOutcome, step int) bool {
	execID := rs.ectx.ExecutionID

	if oc.cancelled {
		rs.cancelled = true
		return false
	}

	if oc.failErr == nil {
		rs.executed[node.ID] = true
		rs.port[node.ID] = oc.port
		rs.output[node.ID] = oc.out
		rs.ectx.Variables[node.ID] = oc.out
		if err := e.store.SaveStep(ctx, execID, step, node.ID, oc.out); err != nil {
			rs.abort = &ExecutionError{
				Code:    CodeStateStoreFailure,
				Message: fmt.Sprintf("failed to persist output of node %q: %v", node.ID, err),
			}
			return false
		}
		e.emit(execID, step, node.ID, emit.MsgNodeCompleted, map[string]any{
			"duration_ms": oc.duration.Milliseconds(),
			"attempts":    oc.attempts,
		})
		return true
	}

	e.emit(execID, step, node.ID, emit.MsgNodeFailed, map[string]any{
		"error":    oc.failErr.Error(),
		"attempts": oc.attempts,
	})

	if errConns := rs.gi.errorOut(node.ID); len(errConns) > 0 && !oc.budgetExceeded {
		payload := map[string]any{"error": oc.failErr.Error()}
		rs.executed[node.ID] = true
		rs.port[node.ID] = PortError
		rs.output[node.ID] = payload
		rs.ectx.Variables[node.ID] = payload
		if err := e.store.SaveStep(ctx, execID, step, node.ID, payload); err != nil {
			rs.abort = &ExecutionError{
				Code:    CodeStateStoreFailure,
				Message: fmt.Sprintf("failed to persist output of node %q: %v", node.ID, err),
			}
			return false
		}
		targets := make([]string, 0, len(errConns))
		for _, c := range errConns {
			targets = append(targets, c.Target)
		}
		e.opts.Metrics.IncrementErrorBranches(node.Type)
		e.emit(execID, step, node.ID, emit.MsgErrorBranch, map[string]any{
			"error":   oc.failErr.Error(),
			"targets": targets,
		})
		return true
	}

	code := CodeNodeExecutionFailure
	switch {
	case oc.budgetExceeded:
		code = CodeExecutionAborted
	case oc.timedOut:
		code = CodeNodeTimeout
	}
	rs.abort = &ExecutionError{
		Code:    code,
		Message: fmt.Sprintf("node %q failed after %d attempt(s): %v", node.ID, oc.attempts, oc.failErr),
	}
	return false
}

// finish assembles the terminal result, emits the run-level event, records
// metrics, and persists the terminal record.
func (e *Engine) finish(ctx context.Context, rs *runState, start time.Time) ExecutionResult {
	execID := rs.ectx.ExecutionID
	res := ExecutionResult{
		ExecutionID:   execID,
		ExecutionTime: time.Since(start).Seconds(),
	}

	switch {
	case rs.cancelled:
		res.Status = StatusCancelled
		res.Error = &ExecutionError{
			Code:    CodeExecutionCancelled,
			Message: "execution cancelled before completion",
		}
		e.emit(execID, rs.step, "", emit.MsgExecutionCancelled, nil)
	case rs.abort != nil:
		res.Status = StatusError
		res.Error = rs.abort
		e.emit(execID, rs.step, "", emit.MsgExecutionCompleted, map[string]any{
			"status":      string(StatusError),
			"duration_ms": time.Since(start).Milliseconds(),
			"error":       rs.abort.Message,
		})
	default:
		res.Status = StatusSuccess
		res.Results = rs.terminalResults()
		e.emit(execID, rs.step, "", emit.MsgExecutionCompleted, map[string]any{
			"status":      string(StatusSuccess),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}
	e.opts.Metrics.RecordExecution(res.Status)

	// Terminal persistence runs on a detached context so a cancelled run
	// still leaves a record behind.
	rec := store.ExecutionRecord{
		ExecutionID:   execID,
		WorkflowID:    rs.ectx.WorkflowID,
		Status:        string(res.Status),
		Results:       res.Results,
		ExecutionTime: res.ExecutionTime,
	}
	if res.Error != nil {
		rec.ErrorCode = res.Error.Code
		rec.ErrorMessage = res.Error.Message
	}
	if err := e.store.SaveExecution(context.WithoutCancel(ctx), rec); err != nil && res.Error == nil {
		res.Status = StatusError
		res.Results = nil
		res.Error = &ExecutionError{
			Code:    CodeStateStoreFailure,
			Message: "failed to persist execution record: " + err.Error(),
		}
	}
	return res
}

// terminalResults aggregates the outputs of terminal nodes (no outgoing
// main-port connections) that executed and emitted on the main port: the
// output directly for a single terminal node, a map keyed by node id for
// several. A node whose only outgoing connection is an error handler is
// still terminal; its output counts when it succeeds.
func (rs *runState) terminalResults() any {
	var ids []string
	for _, n := range rs.wf.Nodes {
		if len(rs.gi.mainOut(n.ID)) == 0 && rs.executed[n.ID] && rs.port[n.ID] == PortMain {
			ids = append(ids, n.ID)
		}
	}
	switch len(ids) {
	case 0:
		return nil
	case 1:
		return rs.output[ids[0]]
	}
	results := make(map[string]any, len(ids))
	for _, id := range ids {
		results[id] = rs.output[id]
	}
	return results
}

// attemptTimeout picks the per-attempt budget: the request's timeout when
// set, otherwise the engine default. Zero means unbounded.
func (e *Engine) attemptTimeout(opts ExecutionOptions) time.Duration {
	if opts.Timeout > 0 {
		return time.Duration(opts.Timeout * float64(time.Second))
	}
	return e.opts.DefaultNodeTimeout
}

func (e *Engine) emit(execID string, step int, nodeID, msg string, meta map[string]any) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(emit.Event{
		ExecutionID: execID,
		Step:        step,
		NodeID:      nodeID,
		Msg:         msg,
		Meta:        meta,
	})
}
