package uuid

import (
	"errors"
	"testing"

	googleuuid "github.com/google/uuid"
)

func TestGeneratorNewIDIsVersion7(t *testing.T) {
	t.Parallel()

	gen := New()
	first, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	second, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	if first == second {
		t.Fatalf("expected unique ids, got %s twice", first)
	}
	parsed, err := googleuuid.Parse(first)
	if err != nil {
		t.Fatalf("parse %q: %v", first, err)
	}
	if parsed.Version() != 7 {
		t.Fatalf("expected version 7, got %d", parsed.Version())
	}
}

func TestGeneratorNewIDSourceError(t *testing.T) {
	t.Parallel()

	boom := errors.New("entropy exhausted")
	gen := &Generator{source: func() (googleuuid.UUID, error) { return googleuuid.Nil, boom }}
	if _, err := gen.NewID(); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped source error, got %v", err)
	}
}

func TestZeroGeneratorUsesDefaultSource(t *testing.T) {
	t.Parallel()

	var gen Generator
	id, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	if _, err := googleuuid.Parse(id); err != nil {
		t.Fatalf("parse %q: %v", id, err)
	}
}
