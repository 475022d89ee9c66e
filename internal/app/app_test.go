package app

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"testing"

	"github.com/alanyoungcy/insiderwatch/internal/cache/memory"
	"github.com/alanyoungcy/insiderwatch/internal/config"
	"github.com/alanyoungcy/insiderwatch/internal/pipeline"
	"github.com/alanyoungcy/insiderwatch/internal/ratelimit"
)

func testConfig(mode string) *config.Config {
	cfg := config.Defaults()
	cfg.Mode = mode
	cfg.Storage.SQLitePath = ":memory:"
	return &cfg
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestWire_ServerModeWithoutExchange(t *testing.T) {
	cfg := testConfig("server")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	deps, cleanup, err := Wire(context.Background(), cfg, discard())
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	t.Cleanup(cleanup)

	if deps.Exchange != nil || deps.Ingester != nil {
		t.Error("server mode should not build the exchange client")
	}
	if deps.Redis != nil || deps.Archiver != nil {
		t.Error("redis and archive are disabled by default")
	}
	if got, want := deps.Scheduler.Jobs(), []string{pipeline.JobDetect, pipeline.JobProfiles}; !slices.Equal(got, want) {
		t.Errorf("jobs = %v, want %v", got, want)
	}
	if err := deps.Store.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestWire_UnreachableRedisFallsBackToLocal(t *testing.T) {
	cfg := testConfig("server")
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = "127.0.0.1:1"

	deps, cleanup, err := Wire(context.Background(), cfg, discard())
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	t.Cleanup(cleanup)

	if deps.Redis != nil {
		t.Error("redis client should be nil when the server is unreachable")
	}
	if _, ok := deps.Gate.(*ratelimit.Local); !ok {
		t.Errorf("gate = %T, want *ratelimit.Local", deps.Gate)
	}
	if _, ok := deps.Locks.(*memory.LockManager); !ok {
		t.Errorf("locks = %T, want *memory.LockManager", deps.Locks)
	}
	if _, ok := deps.Bus.(*memory.SignalBus); !ok {
		t.Errorf("bus = %T, want *memory.SignalBus", deps.Bus)
	}
	if err := deps.Gate.Wait(context.Background()); err != nil {
		t.Errorf("Wait: %v", err)
	}
}

func TestOneShot_DetectOnEmptyStore(t *testing.T) {
	cfg := testConfig("detect")
	a := New(cfg, discard())
	t.Cleanup(a.Close)

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRun_UnknownJobMode(t *testing.T) {
	cfg := testConfig("ingest")
	deps, cleanup, err := Wire(context.Background(), testConfig("server"), discard())
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	t.Cleanup(cleanup)

	// Without an exchange client the ingest job is never registered.
	a := New(cfg, discard())
	if err := a.OneShot(context.Background(), deps, pipeline.JobIngest); err == nil {
		t.Error("expected error for unregistered job")
	}
}
