package flow

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fluxline/fluxline/flow/emit"
	"github.com/fluxline/fluxline/flow/store"
)

// passthroughRegistry builds a registry with the handler types the engine
// tests lean on: trigger and passthrough forward input unchanged.
func passthroughRegistry() *Registry {
	reg := NewRegistry()
	forward := HandlerFunc(func(ctx context.Context, params map[string]any, input any) (any, error) {
		return input, nil
	})
	reg.Register("trigger", forward)
	reg.Register("passthrough", forward)
	return reg
}

func newTestEngine(t *testing.T, reg *Registry, opts ...Option) (*Engine, *emit.BufferedEmitter, *store.MemStore) {
	t.Helper()
	buf := emit.NewBufferedEmitter()
	st := store.NewMemStore()
	engine, err := New(reg, st, buf, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return engine, buf, st
}

func linearChain() *Workflow {
	return &Workflow{
		ID: "wf-linear",
		Nodes: []Node{
			{ID: "t", Type: "trigger"},
			{ID: "h", Type: "passthrough"},
			{ID: "s", Type: "passthrough"},
		},
		Connections: []Connection{
			{Source: "t", Target: "h", SourceOutput: PortMain},
			{Source: "h", Target: "s", SourceOutput: PortMain},
		},
	}
}

func msgsFor(events []emit.Event, nodeID string) []string {
	var msgs []string
	for _, ev := range events {
		if ev.NodeID == nodeID {
			msgs = append(msgs, ev.Msg)
		}
	}
	return msgs
}

func TestEngine_New(t *testing.T) {
	t.Run("nil registry rejected", func(t *testing.T) {
		if _, err := New(nil, store.NewMemStore(), nil); err == nil {
			t.Fatal("expected error for nil registry")
		}
	})

	t.Run("nil store and emitter get defaults", func(t *testing.T) {
		engine, err := New(passthroughRegistry(), nil, nil)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		result := engine.Execute(context.Background(), linearChain(), "ok", ExecutionOptions{})
		if result.Status != StatusSuccess {
			t.Fatalf("expected success, got %s (%v)", result.Status, result.Error)
		}
	})

	t.Run("invalid option rejected", func(t *testing.T) {
		_, err := New(passthroughRegistry(), nil, nil, WithMaxConcurrent(-1))
		if err == nil {
			t.Fatal("expected error for negative MaxConcurrent")
		}
	})
}

func TestEngine_Execute_LinearChain(t *testing.T) {
	engine, buf, st := newTestEngine(t, passthroughRegistry())

	input := map[string]any{"x": 1}
	result := engine.Execute(context.Background(), linearChain(), input, ExecutionOptions{ExecutionID: "run-1"})

	if result.Status != StatusSuccess {
		t.Fatalf("expected success, got %s (%v)", result.Status, result.Error)
	}
	if result.ExecutionID != "run-1" {
		t.Errorf("expected execution id run-1, got %s", result.ExecutionID)
	}
	if !reflect.DeepEqual(result.Results, input) {
		t.Errorf("expected results %v, got %v", input, result.Results)
	}
	if result.ExecutionTime < 0 {
		t.Errorf("negative execution time %f", result.ExecutionTime)
	}

	steps, err := st.LoadSteps(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("LoadSteps failed: %v", err)
	}
	wantOrder := []string{"t", "h", "s"}
	if len(steps) != len(wantOrder) {
		t.Fatalf("expected %d steps, got %d", len(wantOrder), len(steps))
	}
	for i, rec := range steps {
		if rec.Step != i+1 {
			t.Errorf("step %d has number %d", i, rec.Step)
		}
		if rec.NodeID != wantOrder[i] {
			t.Errorf("step %d ran %s, want %s", i+1, rec.NodeID, wantOrder[i])
		}
	}

	rec, err := st.LoadExecution(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("LoadExecution failed: %v", err)
	}
	if rec.Status != string(StatusSuccess) {
		t.Errorf("persisted status %s, want success", rec.Status)
	}

	events := buf.History("run-1")
	if len(events) == 0 {
		t.Fatal("no events emitted")
	}
	if events[0].Msg != emit.MsgExecutionStarted {
		t.Errorf("first event %s, want %s", events[0].Msg, emit.MsgExecutionStarted)
	}
	if last := events[len(events)-1]; last.Msg != emit.MsgExecutionCompleted {
		t.Errorf("last event %s, want %s", last.Msg, emit.MsgExecutionCompleted)
	}
}

func TestEngine_Execute_GeneratesExecutionID(t *testing.T) {
	engine, _, _ := newTestEngine(t, passthroughRegistry())

	a := engine.Execute(context.Background(), linearChain(), nil, ExecutionOptions{})
	b := engine.Execute(context.Background(), linearChain(), nil, ExecutionOptions{})

	if a.ExecutionID == "" || b.ExecutionID == "" {
		t.Fatal("expected generated execution ids")
	}
	if a.ExecutionID == b.ExecutionID {
		t.Fatal("expected distinct execution ids per run")
	}
}

func TestEngine_Execute_ValidationFailure(t *testing.T) {
	engine, _, _ := newTestEngine(t, passthroughRegistry())

	t.Run("dangling reference", func(t *testing.T) {
		wf := &Workflow{
			Nodes:       []Node{{ID: "a", Type: "trigger"}},
			Connections: []Connection{{Source: "a", Target: "ghost"}},
		}
		result := engine.Execute(context.Background(), wf, nil, ExecutionOptions{})
		if result.Status != StatusError {
			t.Fatalf("expected error status, got %s", result.Status)
		}
		if result.Error == nil || result.Error.Code != CodeValidationFailed {
			t.Fatalf("expected %s, got %+v", CodeValidationFailed, result.Error)
		}
		if !strings.Contains(result.Error.Message, string(ErrUnknownNodeReference)) {
			t.Errorf("expected message to name %s, got %q", ErrUnknownNodeReference, result.Error.Message)
		}
	})

	t.Run("empty workflow", func(t *testing.T) {
		result := engine.Execute(context.Background(), &Workflow{}, nil, ExecutionOptions{})
		if result.Status != StatusError {
			t.Fatalf("expected error status, got %s", result.Status)
		}
		if result.Error == nil || result.Error.Code != CodeValidationFailed {
			t.Fatalf("expected %s, got %+v", CodeValidationFailed, result.Error)
		}
		if !strings.Contains(result.Error.Message, string(ErrNoEntryPoint)) {
			t.Errorf("expected message to name %s, got %q", ErrNoEntryPoint, result.Error.Message)
		}
	})

	t.Run("unknown node type", func(t *testing.T) {
		wf := &Workflow{Nodes: []Node{{ID: "a", Type: "does-not-exist"}}}
		result := engine.Execute(context.Background(), wf, nil, ExecutionOptions{})
		if result.Status != StatusError || result.Error.Code != CodeValidationFailed {
			t.Fatalf("expected validation failure, got %s %+v", result.Status, result.Error)
		}
	})
}

func TestEngine_Execute_FanInMergesByNodeID(t *testing.T) {
	reg := passthroughRegistry()
	reg.RegisterFunc("label", func(ctx context.Context, params map[string]any, input any) (any, error) {
		return params["value"], nil
	})
	engine, _, _ := newTestEngine(t, reg)

	wf := &Workflow{
		Nodes: []Node{
			{ID: "t", Type: "trigger"},
			{ID: "a", Type: "label", Parameters: map[string]any{"value": "from-a"}},
			{ID: "b", Type: "label", Parameters: map[string]any{"value": "from-b"}},
			{ID: "join", Type: "passthrough"},
		},
		Connections: []Connection{
			{Source: "t", Target: "a"},
			{Source: "t", Target: "b"},
			{Source: "a", Target: "join"},
			{Source: "b", Target: "join"},
		},
	}

	result := engine.Execute(context.Background(), wf, nil, ExecutionOptions{})
	if result.Status != StatusSuccess {
		t.Fatalf("expected success, got %s (%v)", result.Status, result.Error)
	}
	want := map[string]any{"a": "from-a", "b": "from-b"}
	if !reflect.DeepEqual(result.Results, want) {
		t.Errorf("expected merged input %v, got %v", want, result.Results)
	}
}

func TestEngine_Execute_ErrorRouting(t *testing.T) {
	failing := HandlerFunc(func(ctx context.Context, params map[string]any, input any) (any, error) {
		return nil, errors.New("downstream unavailable")
	})

	t.Run("error edge absorbs failure", func(t *testing.T) {
		reg := passthroughRegistry()
		reg.Register("flaky", failing)
		var bRan atomic.Bool
		reg.RegisterFunc("observer", func(ctx context.Context, params map[string]any, input any) (any, error) {
			bRan.Store(true)
			return input, nil
		})
		engine, buf, _ := newTestEngine(t, reg)

		wf := &Workflow{
			Nodes: []Node{
				{ID: "t", Type: "trigger"},
				{ID: "a", Type: "flaky"},
				{ID: "b", Type: "observer"},
				{ID: "c", Type: "passthrough"},
			},
			Connections: []Connection{
				{Source: "t", Target: "a"},
				{Source: "a", Target: "b", SourceOutput: PortMain},
				{Source: "a", Target: "c", SourceOutput: PortError},
			},
		}

		result := engine.Execute(context.Background(), wf, nil, ExecutionOptions{ExecutionID: "run-err"})
		if result.Status != StatusSuccess {
			t.Fatalf("expected success via error branch, got %s (%v)", result.Status, result.Error)
		}
		if bRan.Load() {
			t.Error("main-port successor ran after its source failed")
		}

		// c is the only executed terminal, so its error payload is the result.
		payload, ok := result.Results.(map[string]any)
		if !ok {
			t.Fatalf("expected map result, got %T", result.Results)
		}
		if payload["error"] != "downstream unavailable" {
			t.Errorf("expected error payload, got %v", payload)
		}

		events := buf.History("run-err")
		sawBranch := false
		sawSkip := false
		for _, ev := range events {
			if ev.Msg == emit.MsgErrorBranch && ev.NodeID == "a" {
				sawBranch = true
			}
			if ev.Msg == emit.MsgNodeSkipped && ev.NodeID == "b" {
				sawSkip = true
			}
		}
		if !sawBranch {
			t.Error("no error_branch_activated event for a")
		}
		if !sawSkip {
			t.Error("no node_skipped event for b")
		}
	})

	t.Run("no error edge aborts the run", func(t *testing.T) {
		reg := passthroughRegistry()
		reg.Register("flaky", failing)
		engine, _, st := newTestEngine(t, reg)

		wf := &Workflow{
			Nodes: []Node{
				{ID: "t", Type: "trigger"},
				{ID: "a", Type: "flaky"},
				{ID: "b", Type: "passthrough"},
			},
			Connections: []Connection{
				{Source: "t", Target: "a"},
				{Source: "a", Target: "b"},
			},
		}

		result := engine.Execute(context.Background(), wf, nil, ExecutionOptions{ExecutionID: "run-abort"})
		if result.Status != StatusError {
			t.Fatalf("expected error status, got %s", result.Status)
		}
		if result.Error == nil || result.Error.Code != CodeNodeExecutionFailure {
			t.Fatalf("expected %s, got %+v", CodeNodeExecutionFailure, result.Error)
		}

		rec, err := st.LoadExecution(context.Background(), "run-abort")
		if err != nil {
			t.Fatalf("LoadExecution failed: %v", err)
		}
		if rec.ErrorCode != CodeNodeExecutionFailure {
			t.Errorf("persisted code %s, want %s", rec.ErrorCode, CodeNodeExecutionFailure)
		}
	})
}

func TestEngine_Execute_Retries(t *testing.T) {
	t.Run("fail twice then succeed", func(t *testing.T) {
		var calls atomic.Int32
		reg := passthroughRegistry()
		reg.RegisterFunc("unstable", func(ctx context.Context, params map[string]any, input any) (any, error) {
			if calls.Add(1) <= 2 {
				return nil, errors.New("transient")
			}
			return input, nil
		})
		engine, buf, _ := newTestEngine(t, reg)

		wf := &Workflow{
			Nodes: []Node{
				{ID: "t", Type: "trigger"},
				{ID: "u", Type: "unstable"},
			},
			Connections: []Connection{{Source: "t", Target: "u"}},
		}

		result := engine.Execute(context.Background(), wf, "data", ExecutionOptions{
			ExecutionID: "run-retry",
			MaxRetries:  2,
		})
		if result.Status != StatusSuccess {
			t.Fatalf("expected success after retries, got %s (%v)", result.Status, result.Error)
		}
		if got := calls.Load(); got != 3 {
			t.Errorf("expected exactly 3 invocations, got %d", got)
		}

		retries := buf.HistoryWithFilter("run-retry", emit.HistoryFilter{Msg: emit.MsgNodeRetry})
		if len(retries) != 2 {
			t.Errorf("expected 2 retry events, got %d", len(retries))
		}
	})

	t.Run("retries exhausted", func(t *testing.T) {
		var calls atomic.Int32
		reg := passthroughRegistry()
		reg.RegisterFunc("unstable", func(ctx context.Context, params map[string]any, input any) (any, error) {
			calls.Add(1)
			return nil, errors.New("permanent")
		})
		engine, _, _ := newTestEngine(t, reg)

		wf := &Workflow{
			Nodes: []Node{
				{ID: "t", Type: "trigger"},
				{ID: "u", Type: "unstable"},
			},
			Connections: []Connection{{Source: "t", Target: "u"}},
		}

		result := engine.Execute(context.Background(), wf, nil, ExecutionOptions{MaxRetries: 2})
		if result.Status != StatusError {
			t.Fatalf("expected error status, got %s", result.Status)
		}
		if got := calls.Load(); got != 3 {
			t.Errorf("expected 3 attempts, got %d", got)
		}
	})

	t.Run("zero retries means one attempt", func(t *testing.T) {
		var calls atomic.Int32
		reg := passthroughRegistry()
		reg.RegisterFunc("unstable", func(ctx context.Context, params map[string]any, input any) (any, error) {
			calls.Add(1)
			return nil, errors.New("boom")
		})
		engine, _, _ := newTestEngine(t, reg)

		wf := &Workflow{Nodes: []Node{{ID: "u", Type: "unstable"}}}
		engine.Execute(context.Background(), wf, nil, ExecutionOptions{})
		if got := calls.Load(); got != 1 {
			t.Errorf("expected 1 attempt, got %d", got)
		}
	})
}

func TestEngine_Execute_Timeout(t *testing.T) {
	slow := HandlerFunc(func(ctx context.Context, params map[string]any, input any) (any, error) {
		select {
		case <-time.After(5 * time.Second):
			return input, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	t.Run("timeout aborts without error edge", func(t *testing.T) {
		reg := passthroughRegistry()
		reg.Register("slow", slow)
		engine, _, _ := newTestEngine(t, reg)

		wf := &Workflow{Nodes: []Node{{ID: "s", Type: "slow"}}}
		start := time.Now()
		result := engine.Execute(context.Background(), wf, nil, ExecutionOptions{Timeout: 0.05})
		if elapsed := time.Since(start); elapsed > 2*time.Second {
			t.Fatalf("run took %v, timeout not enforced", elapsed)
		}
		if result.Status != StatusError {
			t.Fatalf("expected error status, got %s", result.Status)
		}
		if result.Error == nil || result.Error.Code != CodeNodeTimeout {
			t.Fatalf("expected %s, got %+v", CodeNodeTimeout, result.Error)
		}
	})

	t.Run("timeout is retried then error-routed", func(t *testing.T) {
		reg := passthroughRegistry()
		reg.Register("slow", slow)
		engine, buf, _ := newTestEngine(t, reg)

		wf := &Workflow{
			Nodes: []Node{
				{ID: "s", Type: "slow"},
				{ID: "fallback", Type: "passthrough"},
			},
			Connections: []Connection{
				{Source: "s", Target: "fallback", SourceOutput: PortError},
			},
		}

		result := engine.Execute(context.Background(), wf, nil, ExecutionOptions{
			ExecutionID: "run-timeout",
			Timeout:     0.05,
			MaxRetries:  1,
		})
		if result.Status != StatusSuccess {
			t.Fatalf("expected success via error branch, got %s (%v)", result.Status, result.Error)
		}

		retries := buf.HistoryWithFilter("run-timeout", emit.HistoryFilter{Msg: emit.MsgNodeRetry})
		if len(retries) != 1 {
			t.Errorf("expected 1 retry event, got %d", len(retries))
		}
	})
}

func TestEngine_Execute_Cancellation(t *testing.T) {
	var started atomic.Int32
	release := make(chan struct{})

	reg := passthroughRegistry()
	reg.RegisterFunc("blocker", func(ctx context.Context, params map[string]any, input any) (any, error) {
		started.Add(1)
		close(release)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	reg.RegisterFunc("after", func(ctx context.Context, params map[string]any, input any) (any, error) {
		started.Add(1)
		return input, nil
	})
	engine, _, _ := newTestEngine(t, reg)

	wf := &Workflow{
		Nodes: []Node{
			{ID: "block", Type: "blocker"},
			{ID: "next", Type: "after"},
		},
		Connections: []Connection{{Source: "block", Target: "next"}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-release
		cancel()
	}()

	result := engine.Execute(ctx, wf, nil, ExecutionOptions{})
	if result.Status != StatusCancelled {
		t.Fatalf("expected cancelled status, got %s (%v)", result.Status, result.Error)
	}
	if result.Error == nil || result.Error.Code != CodeExecutionCancelled {
		t.Fatalf("expected %s, got %+v", CodeExecutionCancelled, result.Error)
	}
	if got := started.Load(); got != 1 {
		t.Errorf("expected no node to start after cancellation, got %d starts", got)
	}
}

func TestEngine_Execute_Branching(t *testing.T) {
	reg := passthroughRegistry()
	reg.RegisterFunc("router", func(ctx context.Context, params map[string]any, input any) (any, error) {
		port := int(params["port"].(float64))
		return Branch{Port: port, Output: input}, nil
	})

	wf := &Workflow{
		Nodes: []Node{
			{ID: "r", Type: "router", Parameters: map[string]any{"port": float64(2)}},
			{ID: "p0", Type: "passthrough"},
			{ID: "p1", Type: "passthrough"},
			{ID: "p2", Type: "passthrough"},
		},
		Connections: []Connection{
			{Source: "r", Target: "p0", SourceOutput: 0},
			{Source: "r", Target: "p1", SourceOutput: 1},
			{Source: "r", Target: "p2", SourceOutput: 2},
		},
	}

	engine, buf, _ := newTestEngine(t, reg)
	result := engine.Execute(context.Background(), wf, "payload", ExecutionOptions{ExecutionID: "run-branch"})
	if result.Status != StatusSuccess {
		t.Fatalf("expected success, got %s (%v)", result.Status, result.Error)
	}
	if result.Results != "payload" {
		t.Errorf("expected payload routed to port 2 terminal, got %v", result.Results)
	}

	for _, skipped := range []string{"p0", "p1"} {
		events := buf.HistoryWithFilter("run-branch", emit.HistoryFilter{NodeID: skipped})
		if len(events) != 1 || events[0].Msg != emit.MsgNodeSkipped {
			t.Errorf("expected only a skip event for %s, got %v", skipped, msgsFor(events, skipped))
		}
	}
}

func TestEngine_Execute_MultipleTerminals(t *testing.T) {
	reg := passthroughRegistry()
	reg.RegisterFunc("label", func(ctx context.Context, params map[string]any, input any) (any, error) {
		return params["value"], nil
	})
	engine, _, _ := newTestEngine(t, reg)

	wf := &Workflow{
		Nodes: []Node{
			{ID: "t", Type: "trigger"},
			{ID: "left", Type: "label", Parameters: map[string]any{"value": "L"}},
			{ID: "right", Type: "label", Parameters: map[string]any{"value": "R"}},
		},
		Connections: []Connection{
			{Source: "t", Target: "left"},
			{Source: "t", Target: "right"},
		},
	}

	result := engine.Execute(context.Background(), wf, nil, ExecutionOptions{})
	if result.Status != StatusSuccess {
		t.Fatalf("expected success, got %s (%v)", result.Status, result.Error)
	}
	want := map[string]any{"left": "L", "right": "R"}
	if !reflect.DeepEqual(result.Results, want) {
		t.Errorf("expected %v, got %v", want, result.Results)
	}
}

func TestEngine_Execute_Parallel(t *testing.T) {
	t.Run("results match sequential mode", func(t *testing.T) {
		reg := passthroughRegistry()
		reg.RegisterFunc("double", func(ctx context.Context, params map[string]any, input any) (any, error) {
			m, _ := input.(map[string]any)
			n, _ := m["n"].(float64)
			return map[string]any{"n": n * 2}, nil
		})

		wf := &Workflow{
			Nodes: []Node{
				{ID: "t", Type: "trigger"},
				{ID: "a", Type: "double"},
				{ID: "b", Type: "double"},
				{ID: "join", Type: "passthrough"},
			},
			Connections: []Connection{
				{Source: "t", Target: "a"},
				{Source: "t", Target: "b"},
				{Source: "a", Target: "join"},
				{Source: "b", Target: "join"},
			},
		}
		input := map[string]any{"n": float64(21)}

		engine, _, _ := newTestEngine(t, reg)
		seq := engine.Execute(context.Background(), wf, input, ExecutionOptions{})
		par := engine.Execute(context.Background(), wf, input, ExecutionOptions{ParallelExecution: true})

		if seq.Status != StatusSuccess || par.Status != StatusSuccess {
			t.Fatalf("statuses: sequential %s, parallel %s", seq.Status, par.Status)
		}
		if !reflect.DeepEqual(seq.Results, par.Results) {
			t.Errorf("sequential results %v != parallel results %v", seq.Results, par.Results)
		}
	})

	t.Run("layer barrier holds", func(t *testing.T) {
		var mu sync.Mutex
		finished := make(map[string]bool)

		reg := passthroughRegistry()
		reg.RegisterFunc("worker", func(ctx context.Context, params map[string]any, input any) (any, error) {
			id := params["id"].(string)
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			finished[id] = true
			mu.Unlock()
			return input, nil
		})
		reg.RegisterFunc("barrier-check", func(ctx context.Context, params map[string]any, input any) (any, error) {
			mu.Lock()
			defer mu.Unlock()
			if !finished["w1"] || !finished["w2"] {
				return nil, fmt.Errorf("downstream ran before its layer completed: %v", finished)
			}
			return input, nil
		})

		wf := &Workflow{
			Nodes: []Node{
				{ID: "t", Type: "trigger"},
				{ID: "w1", Type: "worker", Parameters: map[string]any{"id": "w1"}},
				{ID: "w2", Type: "worker", Parameters: map[string]any{"id": "w2"}},
				{ID: "check", Type: "barrier-check"},
			},
			Connections: []Connection{
				{Source: "t", Target: "w1"},
				{Source: "t", Target: "w2"},
				{Source: "w1", Target: "check"},
				{Source: "w2", Target: "check"},
			},
		}

		engine, _, _ := newTestEngine(t, reg, WithMaxConcurrent(4))
		result := engine.Execute(context.Background(), wf, nil, ExecutionOptions{ParallelExecution: true})
		if result.Status != StatusSuccess {
			t.Fatalf("expected success, got %s (%v)", result.Status, result.Error)
		}
	})

	t.Run("deterministic step numbers", func(t *testing.T) {
		reg := passthroughRegistry()
		engine, _, st := newTestEngine(t, reg)

		wf := &Workflow{
			Nodes: []Node{
				{ID: "t", Type: "trigger"},
				{ID: "a", Type: "passthrough"},
				{ID: "b", Type: "passthrough"},
				{ID: "c", Type: "passthrough"},
			},
			Connections: []Connection{
				{Source: "t", Target: "a"},
				{Source: "t", Target: "b"},
				{Source: "t", Target: "c"},
			},
		}

		result := engine.Execute(context.Background(), wf, nil, ExecutionOptions{
			ExecutionID:       "run-par-steps",
			ParallelExecution: true,
		})
		if result.Status != StatusSuccess {
			t.Fatalf("expected success, got %s (%v)", result.Status, result.Error)
		}

		steps, err := st.LoadSteps(context.Background(), "run-par-steps")
		if err != nil {
			t.Fatalf("LoadSteps failed: %v", err)
		}
		want := []string{"t", "a", "b", "c"}
		for i, rec := range steps {
			if rec.NodeID != want[i] {
				t.Errorf("step %d is %s, want %s", i+1, rec.NodeID, want[i])
			}
		}
	})
}

func TestEngine_Execute_PanicRecovered(t *testing.T) {
	reg := passthroughRegistry()
	reg.RegisterFunc("explosive", func(ctx context.Context, params map[string]any, input any) (any, error) {
		panic("kaboom")
	})
	engine, _, _ := newTestEngine(t, reg)

	wf := &Workflow{Nodes: []Node{{ID: "x", Type: "explosive"}}}
	result := engine.Execute(context.Background(), wf, nil, ExecutionOptions{})
	if result.Status != StatusError {
		t.Fatalf("expected error status, got %s", result.Status)
	}
	if result.Error == nil || result.Error.Code != CodeNodeExecutionFailure {
		t.Fatalf("expected %s, got %+v", CodeNodeExecutionFailure, result.Error)
	}
}

func TestEngine_Execute_WallClockBudget(t *testing.T) {
	reg := passthroughRegistry()
	reg.RegisterFunc("slow", func(ctx context.Context, params map[string]any, input any) (any, error) {
		select {
		case <-time.After(time.Second):
			return input, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	engine, _, _ := newTestEngine(t, reg, WithWallClockBudget(50*time.Millisecond))

	wf := &Workflow{
		Nodes: []Node{
			{ID: "s1", Type: "slow"},
			{ID: "s2", Type: "slow"},
		},
		Connections: []Connection{{Source: "s1", Target: "s2"}},
	}

	result := engine.Execute(context.Background(), wf, nil, ExecutionOptions{})
	if result.Status != StatusError {
		t.Fatalf("expected error status, got %s", result.Status)
	}
	if result.Error == nil || result.Error.Code != CodeExecutionAborted {
		t.Fatalf("expected %s, got %+v", CodeExecutionAborted, result.Error)
	}
}

func TestEngine_Execution_Lookup(t *testing.T) {
	engine, _, _ := newTestEngine(t, passthroughRegistry())

	engine.Execute(context.Background(), linearChain(), "in", ExecutionOptions{ExecutionID: "run-lookup"})

	rec, steps, err := engine.Execution(context.Background(), "run-lookup")
	if err != nil {
		t.Fatalf("Execution failed: %v", err)
	}
	if rec.ExecutionID != "run-lookup" || rec.Status != string(StatusSuccess) {
		t.Errorf("unexpected record %+v", rec)
	}
	if len(steps) != 3 {
		t.Errorf("expected 3 steps, got %d", len(steps))
	}

	if _, _, err := engine.Execution(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestEngine_Execute_ErrorEdgeOnlyTerminal(t *testing.T) {
	engine, buf, _ := newTestEngine(t, passthroughRegistry())

	// a's only outgoing connection is an error handler. That does not stop a
	// from being terminal: when a succeeds, its output is the result and the
	// handler never runs.
	wf := &Workflow{
		Nodes: []Node{
			{ID: "a", Type: "trigger"},
			{ID: "recover", Type: "passthrough"},
		},
		Connections: []Connection{
			{Source: "a", Target: "recover", SourceOutput: PortError},
		},
	}

	input := map[string]any{"x": 1}
	result := engine.Execute(context.Background(), wf, input, ExecutionOptions{ExecutionID: "run-term"})

	if result.Status != StatusSuccess {
		t.Fatalf("expected success, got %s (%v)", result.Status, result.Error)
	}
	if !reflect.DeepEqual(result.Results, input) {
		t.Errorf("expected results %v, got %v", input, result.Results)
	}
	recoverMsgs := msgsFor(buf.History("run-term"), "recover")
	if !reflect.DeepEqual(recoverMsgs, []string{emit.MsgNodeSkipped}) {
		t.Errorf("expected recover skipped, got %v", recoverMsgs)
	}
}

func TestEngine_Execute_ErrorFeedbackCycle(t *testing.T) {
	// b's error port feeds back to a, b's own upstream. The feedback edge can
	// never deliver input to a's first run, so a is still the entry.
	feedback := func() *Workflow {
		return &Workflow{
			Nodes: []Node{
				{ID: "a", Type: "trigger"},
				{ID: "b", Type: "worker"},
			},
			Connections: []Connection{
				{Source: "a", Target: "b", SourceOutput: PortMain},
				{Source: "b", Target: "a", SourceOutput: PortError},
			},
		}
	}

	t.Run("entry runs with the initial input", func(t *testing.T) {
		reg := passthroughRegistry()
		reg.RegisterFunc("worker", func(ctx context.Context, params map[string]any, input any) (any, error) {
			return input, nil
		})
		engine, _, _ := newTestEngine(t, reg)

		input := map[string]any{"x": 1}
		result := engine.Execute(context.Background(), feedback(), input, ExecutionOptions{})
		if result.Status != StatusSuccess {
			t.Fatalf("expected success, got %s (%v)", result.Status, result.Error)
		}
		if !reflect.DeepEqual(result.Results, input) {
			t.Errorf("expected results %v, got %v", input, result.Results)
		}
	})

	t.Run("feedback failure does not re-run the entry", func(t *testing.T) {
		reg := passthroughRegistry()
		var aCalls atomic.Int32
		reg.Register("trigger", HandlerFunc(func(ctx context.Context, params map[string]any, input any) (any, error) {
			aCalls.Add(1)
			return input, nil
		}))
		reg.RegisterFunc("worker", func(ctx context.Context, params map[string]any, input any) (any, error) {
			return nil, errors.New("downstream broke")
		})
		engine, _, _ := newTestEngine(t, reg)

		result := engine.Execute(context.Background(), feedback(), "in", ExecutionOptions{})
		if result.Status != StatusSuccess {
			t.Fatalf("expected absorbed failure, got %s (%v)", result.Status, result.Error)
		}
		if got := aCalls.Load(); got != 1 {
			t.Errorf("expected entry to run exactly once, ran %d times", got)
		}
	})
}

func TestEngine_Execute_SingleDeliveryIsDirect(t *testing.T) {
	// merge declares two predecessors but only the selected branch delivers;
	// the delivered value arrives directly, not as a single-entry map.
	reg := passthroughRegistry()
	reg.RegisterFunc("pick", func(ctx context.Context, params map[string]any, input any) (any, error) {
		return Branch{Port: PortMain, Output: input}, nil
	})
	var got any
	reg.RegisterFunc("capture", func(ctx context.Context, params map[string]any, input any) (any, error) {
		got = input
		return input, nil
	})
	engine, _, _ := newTestEngine(t, reg)

	wf := &Workflow{
		Nodes: []Node{
			{ID: "t", Type: "trigger"},
			{ID: "pick", Type: "pick"},
			{ID: "yes", Type: "passthrough"},
			{ID: "no", Type: "passthrough"},
			{ID: "merge", Type: "capture"},
		},
		Connections: []Connection{
			{Source: "t", Target: "pick"},
			{Source: "pick", Target: "yes", SourceOutput: 0},
			{Source: "pick", Target: "no", SourceOutput: 2},
			{Source: "yes", Target: "merge"},
			{Source: "no", Target: "merge"},
		},
	}

	input := map[string]any{"x": 1}
	result := engine.Execute(context.Background(), wf, input, ExecutionOptions{})
	if result.Status != StatusSuccess {
		t.Fatalf("expected success, got %s (%v)", result.Status, result.Error)
	}
	if !reflect.DeepEqual(got, input) {
		t.Errorf("expected merge to receive %v directly, got %v", input, got)
	}
}
