package handler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fluxline/fluxline/flow"
)

// Trigger starts a workflow: it forwards the run input unchanged. Trigger
// nodes are conventionally the entry points of a definition.
func Trigger() flow.Handler {
	return flow.HandlerFunc(func(ctx context.Context, params map[string]any, input any) (any, error) {
		return input, nil
	})
}

// Passthrough forwards its input unchanged. Useful as a structural join or
// as a no-op placeholder while a workflow is under construction.
func Passthrough() flow.Handler {
	return flow.HandlerFunc(func(ctx context.Context, params map[string]any, input any) (any, error) {
		return input, nil
	})
}

// Set merges static values into the flowing data.
//
// Parameters:
//   - values: map of keys to set on the output (required)
//   - keepInput: when true and the input is a map, input keys are carried
//     over first and values override them (default true)
func Set() flow.Handler {
	return flow.HandlerFunc(func(ctx context.Context, params map[string]any, input any) (any, error) {
		values, _ := params["values"].(map[string]any)
		keep := true
		if k, ok := params["keepInput"].(bool); ok {
			keep = k
		}

		out := make(map[string]any, len(values))
		if keep {
			if in, ok := input.(map[string]any); ok {
				for k, v := range in {
					out[k] = v
				}
			}
		}
		for k, v := range values {
			out[k] = v
		}
		return out, nil
	})
}

// Condition routes its input down one of two ports by comparing a field of
// the input map against a value.
//
// Parameters:
//   - field: key to look up in the input map (required)
//   - equals: value the field is compared against
//
// The input passes unchanged along port 0 when the comparison holds, port 1
// otherwise. A non-map input always takes port 1.
func Condition() flow.Handler {
	return flow.HandlerFunc(func(ctx context.Context, params map[string]any, input any) (any, error) {
		field, ok := params["field"].(string)
		if !ok || field == "" {
			return nil, fmt.Errorf("condition node requires a field parameter")
		}

		port := flow.PortError
		if in, ok := input.(map[string]any); ok {
			if fmt.Sprint(in[field]) == fmt.Sprint(params["equals"]) {
				port = flow.PortMain
			}
		}
		return flow.Branch{Port: port, Output: input}, nil
	})
}

// Merge combines the inputs of several upstream branches.
//
// When every contributing branch produced a map, the maps are merged (later
// contributions override earlier keys). Otherwise the combined input is
// forwarded as delivered, keyed by source node id.
func Merge() flow.Handler {
	return flow.HandlerFunc(func(ctx context.Context, params map[string]any, input any) (any, error) {
		byNode, ok := input.(map[string]any)
		if !ok {
			return input, nil
		}

		merged := make(map[string]any)
		for _, v := range byNode {
			m, ok := v.(map[string]any)
			if !ok {
				return input, nil
			}
			for k, val := range m {
				merged[k] = val
			}
		}
		return merged, nil
	})
}

// Delay pauses before forwarding its input unchanged, respecting
// cancellation and the node timeout.
//
// Parameters:
//   - duration: pause length in seconds (float, default 0)
func Delay() flow.Handler {
	return flow.HandlerFunc(func(ctx context.Context, params map[string]any, input any) (any, error) {
		var seconds float64
		switch d := params["duration"].(type) {
		case float64:
			seconds = d
		case int:
			seconds = float64(d)
		}
		if seconds <= 0 {
			return input, nil
		}

		timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
		defer timer.Stop()
		select {
		case <-timer.C:
			return input, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

// Fail always returns an error. It exists for exercising retry policy and
// error-port routing in tests and demos.
//
// Parameters:
//   - message: error text (default "node failed")
//   - failures: fail only the first N invocations, then succeed by
//     forwarding the input (default: always fail)
//
// The invocation counter is shared across runs of the same registry entry,
// so "failures" is a per-handler budget, not a per-run one.
func Fail() flow.Handler {
	var mu sync.Mutex
	var calls int
	return flow.HandlerFunc(func(ctx context.Context, params map[string]any, input any) (any, error) {
		msg := "node failed"
		if m, ok := params["message"].(string); ok && m != "" {
			msg = m
		}

		if n, ok := asInt(params["failures"]); ok {
			mu.Lock()
			calls++
			succeed := calls > n
			mu.Unlock()
			if succeed {
				return input, nil
			}
		}
		return nil, fmt.Errorf("%s", msg)
	})
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}
