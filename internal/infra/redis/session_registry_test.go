package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"placement-runner/internal/app"
)

func TestSessionRegistrySetsAndClearsKeys(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	registry := NewSessionRegistry(newClient(mr), time.Minute)
	ctrl := app.NewController(app.Deps{}, app.Options{ExternalTicks: true})

	registry.Put("conn-1", ctrl)
	if !mr.Exists("runner:session:conn-1") {
		t.Fatalf("expected redis key to be set")
	}
	mr.FastForward(30 * time.Second)
	if err := registry.Touch(context.Background(), "conn-1"); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if ttl := mr.TTL("runner:session:conn-1"); ttl != time.Minute {
		t.Fatalf("touch did not refresh ttl: %v", ttl)
	}

	registry.Delete("conn-1")
	if mr.Exists("runner:session:conn-1") {
		t.Fatalf("expected redis key to be removed")
	}

	registry.Put("conn-2", ctrl)
	registry.Put("conn-3", ctrl)
	if got := len(registry.Drain()); got != 2 {
		t.Fatalf("drained %d, want 2", got)
	}
	if mr.Exists("runner:session:conn-2") || mr.Exists("runner:session:conn-3") {
		t.Fatalf("expected drain to clear markers")
	}
}
