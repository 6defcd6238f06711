//go:build linux

package pool

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/usnavy13/codebox/internal/config"
	"github.com/usnavy13/codebox/internal/events"
	"github.com/usnavy13/codebox/internal/sandbox"
)

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	mgr, err := sandbox.NewManager(t.TempDir(), "/bin/true", 1<<20)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cfg := &config.Config{
		PythonPoolTargetSize: 0, // no warmup, so Acquire never spawns a real repl process
		ParallelBatch:        2,
		ReplenishIntervalSec: 1,
		ExhaustionTrigger:    true,
		ReplWarmupTimeoutSec: 5,
	}
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	p := New(cfg, mgr, bus, zerolog.Nop())
	p.Start(context.Background())
	t.Cleanup(p.Stop)
	return p
}

func TestAcquireFallsBackToFreshCreationWhenPoolEmpty(t *testing.T) {
	p := newTestPool(t)

	desc, repl, err := p.Acquire(context.Background(), "c", "session-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if desc == nil {
		t.Fatalf("expected a descriptor")
	}
	if repl != nil {
		t.Fatalf("non-python languages never get a repl process")
	}

	stats := p.Stats()
	if stats["c"].TotalAcquisitions != 1 || stats["c"].PoolMisses != 1 {
		t.Fatalf("expected one recorded miss, got %+v", stats["c"])
	}

	if err := p.Destroy(desc); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
}

func TestAcquireOnUnknownLanguageStillCreatesFresh(t *testing.T) {
	// The pool's queue map only covers the twelve registered languages, but
	// Acquire itself never validates the language — that is the caller's
	// job (the orchestrator validates against langregistry before this
	// point, see SPEC_FULL.md §4.6 step 1). An unknown code simply has no
	// queue, so Acquire falls straight through to fresh creation.
	p := newTestPool(t)

	desc, repl, err := p.Acquire(context.Background(), "not-a-real-language", "s")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if repl != nil {
		t.Fatalf("expected no repl process for a non-python language")
	}
	if err := p.Destroy(desc); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
}

func TestStatsReportsAvailableCountFromQueueLength(t *testing.T) {
	p := newTestPool(t)
	stats := p.Stats()
	if _, ok := stats["py"]; !ok {
		t.Fatalf("expected py to always have an entry in stats")
	}
	if stats["py"].Available != 0 {
		t.Fatalf("expected zero available with target size 0, got %d", stats["py"].Available)
	}
}

func TestDestroyOnNilDescriptorIsNoop(t *testing.T) {
	p := newTestPool(t)
	if err := p.Destroy(nil); err != nil {
		t.Fatalf("expected nil-descriptor destroy to be a no-op, got %v", err)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	mgr, err := sandbox.NewManager(t.TempDir(), "/bin/true", 1<<20)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cfg := &config.Config{ReplenishIntervalSec: 1, ParallelBatch: 1}
	p := New(cfg, mgr, nil, zerolog.Nop())
	p.Start(context.Background())
	p.Stop()
	p.Stop() // must not panic or block
}
