package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

type closeCounter struct{ n int }

func (c *closeCounter) Close() error {
	c.n++
	return nil
}

var noopStage = StageFunc(func(ctx context.Context, in Artifact, p StageParams) (Artifact, error) { return in, nil })

func TestRegistryResolve(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("ocr", Contract{Stage: noopStage})
	c, err := reg.Resolve("ocr")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if c.Input != KindAny || c.Output != KindAny {
		t.Fatalf("kinds should default to any, got %s -> %s", c.Input, c.Output)
	}
	_, err = reg.Resolve("translate")
	var unknown *UnknownStageError
	if !errors.As(err, &unknown) || unknown.Stage != "translate" {
		t.Fatalf("expected UnknownStageError, got %v", err)
	}
}

func TestRegistryRejectsInvalidRegistrations(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register("", Contract{Stage: noopStage}); err == nil {
		t.Fatalf("empty name should fail")
	}
	if err := reg.Register("ocr", Contract{}); err == nil {
		t.Fatalf("nil stage should fail")
	}
	reg.MustRegister("ocr", Contract{Stage: noopStage})
	if err := reg.Register("ocr", Contract{Stage: noopStage}); err == nil || !strings.Contains(err.Error(), "already registered") {
		t.Fatalf("duplicate should fail, got %v", err)
	}
	reg.Seal()
	if err := reg.Register("layout", Contract{Stage: noopStage}); err == nil {
		t.Fatalf("sealed registry should reject registrations")
	}
	if names := reg.Names(); len(names) != 1 || names[0] != "ocr" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestRegistryCloseReleasesCapabilities(t *testing.T) {
	model := &closeCounter{}
	reg := NewRegistry()
	reg.MustRegister("layout", Contract{Stage: noopStage, Capabilities: []io.Closer{model}})
	if err := reg.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if model.n != 1 {
		t.Fatalf("capability closed %d times", model.n)
	}
}
