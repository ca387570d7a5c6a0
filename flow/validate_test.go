package flow

import (
	"context"
	"reflect"
	"strings"
	"testing"
)

func TestValidate_Valid(t *testing.T) {
	wf := &Workflow{
		Nodes: []Node{
			{ID: "a", Type: "trigger"},
			{ID: "b", Type: "passthrough"},
			{ID: "c", Type: "passthrough"},
		},
		Connections: []Connection{
			{Source: "a", Target: "b"},
			{Source: "b", Target: "c"},
		},
	}

	result := Validate(wf)
	if !result.Valid {
		t.Fatalf("expected valid, got errors %v", result.Errors)
	}
	if len(result.Errors) != 0 {
		t.Errorf("expected empty error list, got %v", result.Errors)
	}
}

func TestValidate_UnknownNodeReference(t *testing.T) {
	wf := &Workflow{
		Nodes: []Node{{ID: "a", Type: "trigger"}},
		Connections: []Connection{
			{Source: "a", Target: "ghost"},
			{Source: "phantom", Target: "a"},
		},
	}

	result := Validate(wf)
	if result.Valid {
		t.Fatal("expected invalid")
	}
	if len(result.Errors) != 2 {
		t.Fatalf("expected both dangling references reported, got %v", result.Errors)
	}
	for _, e := range result.Errors {
		if e.Kind != ErrUnknownNodeReference {
			t.Errorf("expected kind %s, got %s", ErrUnknownNodeReference, e.Kind)
		}
	}
}

func TestValidate_DuplicateConnection(t *testing.T) {
	t.Run("same port duplicated", func(t *testing.T) {
		wf := &Workflow{
			Nodes: []Node{
				{ID: "a", Type: "trigger"},
				{ID: "b", Type: "passthrough"},
			},
			Connections: []Connection{
				{Source: "a", Target: "b", SourceOutput: 0},
				{Source: "a", Target: "b", SourceOutput: 0},
			},
		}
		result := Validate(wf)
		if result.Valid {
			t.Fatal("expected invalid")
		}
		if result.Errors[0].Kind != ErrDuplicateConnection {
			t.Errorf("expected %s, got %s", ErrDuplicateConnection, result.Errors[0].Kind)
		}
	})

	t.Run("same pair on different ports allowed", func(t *testing.T) {
		wf := &Workflow{
			Nodes: []Node{
				{ID: "a", Type: "trigger"},
				{ID: "b", Type: "passthrough"},
			},
			Connections: []Connection{
				{Source: "a", Target: "b", SourceOutput: 0},
				{Source: "a", Target: "b", SourceOutput: 1},
			},
		}
		if result := Validate(wf); !result.Valid {
			t.Errorf("expected valid, got %v", result.Errors)
		}
	})
}

func TestValidate_NoEntryPoint(t *testing.T) {
	t.Run("empty workflow", func(t *testing.T) {
		result := Validate(&Workflow{})
		if result.Valid {
			t.Fatal("expected invalid")
		}
		if result.Errors[0].Kind != ErrNoEntryPoint {
			t.Errorf("expected %s, got %s", ErrNoEntryPoint, result.Errors[0].Kind)
		}
	})

	t.Run("full main cycle reports no entry before cycle", func(t *testing.T) {
		wf := &Workflow{
			Nodes: []Node{
				{ID: "a", Type: "x"},
				{ID: "b", Type: "x"},
			},
			Connections: []Connection{
				{Source: "a", Target: "b"},
				{Source: "b", Target: "a"},
			},
		}
		result := Validate(wf)
		if result.Valid {
			t.Fatal("expected invalid")
		}
		if result.Errors[0].Kind != ErrNoEntryPoint {
			t.Errorf("expected %s first, got %s", ErrNoEntryPoint, result.Errors[0].Kind)
		}
	})
}

func TestValidate_CircularDependency(t *testing.T) {
	t.Run("main cycle with entry reported with witness", func(t *testing.T) {
		wf := &Workflow{
			Nodes: []Node{
				{ID: "start", Type: "x"},
				{ID: "a", Type: "x"},
				{ID: "b", Type: "x"},
				{ID: "c", Type: "x"},
			},
			Connections: []Connection{
				{Source: "start", Target: "a"},
				{Source: "a", Target: "b"},
				{Source: "b", Target: "c"},
				{Source: "c", Target: "a"},
			},
		}
		result := Validate(wf)
		if result.Valid {
			t.Fatal("expected invalid")
		}
		e := result.Errors[0]
		if e.Kind != ErrCircularDependency {
			t.Fatalf("expected %s, got %s", ErrCircularDependency, e.Kind)
		}
		if !reflect.DeepEqual(e.NodeIDs, []string{"a", "b", "c"}) {
			t.Errorf("expected witness [a b c], got %v", e.NodeIDs)
		}
	})

	t.Run("error-port cycle tolerated", func(t *testing.T) {
		wf := &Workflow{
			Nodes: []Node{
				{ID: "start", Type: "x"},
				{ID: "a", Type: "x"},
				{ID: "b", Type: "x"},
			},
			Connections: []Connection{
				{Source: "start", Target: "a"},
				{Source: "a", Target: "b"},
				{Source: "b", Target: "a", SourceOutput: PortError},
			},
		}
		if result := Validate(wf); !result.Valid {
			t.Errorf("expected error-port cycle to pass, got %v", result.Errors)
		}
	})
}

func TestValidate_UnknownNodeType(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterFunc("known", func(ctx context.Context, params map[string]any, input any) (any, error) {
		return input, nil
	})
	engine, err := New(reg, nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	wf := &Workflow{
		Nodes: []Node{
			{ID: "a", Type: "known"},
			{ID: "b", Type: "mystery"},
		},
		Connections: []Connection{{Source: "a", Target: "b"}},
	}

	result := engine.Validate(wf)
	if result.Valid {
		t.Fatal("expected invalid")
	}
	if result.Errors[0].Kind != ErrUnknownNodeType {
		t.Errorf("expected %s, got %s", ErrUnknownNodeType, result.Errors[0].Kind)
	}

	// Registry-free validation does not check types.
	if plain := Validate(wf); !plain.Valid {
		t.Errorf("expected structural validation to pass, got %v", plain.Errors)
	}
}

func TestValidate_Idempotent(t *testing.T) {
	wf := &Workflow{
		Nodes: []Node{
			{ID: "a", Type: "x"},
			{ID: "b", Type: "x"},
		},
		Connections: []Connection{
			{Source: "a", Target: "b"},
			{Source: "b", Target: "a"},
		},
	}

	first := Validate(wf)
	second := Validate(wf)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("validation not idempotent: %v vs %v", first, second)
	}
}

func TestValidationResult_Summary(t *testing.T) {
	wf := &Workflow{
		Nodes: []Node{{ID: "a", Type: "x"}},
		Connections: []Connection{
			{Source: "a", Target: "ghost"},
			{Source: "phantom", Target: "a"},
		},
	}
	result := Validate(wf)
	if result.Valid {
		t.Fatal("expected invalid")
	}

	summary := result.Summary()
	if !strings.Contains(summary, string(ErrUnknownNodeReference)) {
		t.Errorf("summary should name the kind, got %q", summary)
	}
	if !strings.Contains(summary, "ghost") || !strings.Contains(summary, "phantom") {
		t.Errorf("summary should carry every collected error, got %q", summary)
	}
	if !strings.Contains(summary, "; ") {
		t.Errorf("summary should join errors, got %q", summary)
	}
}
