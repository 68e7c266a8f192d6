package memory

import (
	"testing"

	"placement-runner/internal/app"
)

func TestSessionRegistryLifecycle(t *testing.T) {
	registry := NewSessionRegistry()
	ctrl := app.NewController(app.Deps{}, app.Options{ExternalTicks: true})

	registry.Put("conn-1", ctrl)
	if got, ok := registry.Get("conn-1"); !ok || got != ctrl {
		t.Fatalf("expected controller present")
	}

	registry.Delete("conn-1")
	if _, ok := registry.Get("conn-1"); ok {
		t.Fatalf("expected controller removed")
	}

	registry.Put("conn-2", ctrl)
	drained := registry.Drain()
	if len(drained) != 1 || registry.Len() != 0 {
		t.Fatalf("drain returned %d, left %d", len(drained), registry.Len())
	}
}
