package keeper_test

import (
	"OptionEscrow/internal/command"
	"OptionEscrow/internal/core"
	"OptionEscrow/internal/keeper"
	"OptionEscrow/internal/observability"
	"OptionEscrow/internal/testutil"
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

// =============================================================================
// Sweep
// =============================================================================

func TestSweep_SettlesMaturedTrades(t *testing.T) {
	env := testutil.NewEnv(t, nil)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	k := keeper.New(env.Registry, env.Clock, testutil.Stranger, metrics, zerolog.Nop())
	ctx := context.Background()

	id := env.MatchedTrade(t, 10, 100, 105, true)

	if got := k.Sweep(ctx); got != 0 {
		t.Fatalf("before settle start: got %d settled, want 0", got)
	}

	env.SetPrice(t, 110)
	env.Clock.Advance(2 * time.Hour)
	if got := k.Sweep(ctx); got != 1 {
		t.Fatalf("after settle start: got %d settled, want 1", got)
	}
	trade, err := env.Registry.GetTrade(id)
	if err != nil {
		t.Fatalf("get trade: %v", err)
	}
	if trade.State != core.StateSettled {
		t.Errorf("state: got %s, want SETTLED", trade.State)
	}
	if got := promtestutil.ToFloat64(metrics.KeeperSettled.WithLabelValues("settled")); got != 1 {
		t.Errorf("settled: got %v, want 1", got)
	}
	if got := k.Sweep(ctx); got != 0 {
		t.Errorf("second sweep: got %d settled, want 0", got)
	}
	if got := promtestutil.ToFloat64(metrics.KeeperRuns); got != 3 {
		t.Errorf("runs: got %v, want 3", got)
	}
}

func TestSweep_StopsWhenPaused(t *testing.T) {
	env := testutil.NewEnv(t, nil)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	k := keeper.New(env.Registry, env.Clock, testutil.Stranger, metrics, zerolog.Nop())
	ctx := context.Background()

	env.MatchedTrade(t, 10, 100, 105, true)
	env.MatchedTrade(t, 10, 100, 105, false)
	env.SetPrice(t, 110)
	env.Clock.Advance(2 * time.Hour)

	testutil.Must(t)(env.Registry.Pause(ctx, &command.Pause{Meta: command.NewMeta(testutil.Admin)}))
	if got := k.Sweep(ctx); got != 0 {
		t.Fatalf("paused: got %d settled, want 0", got)
	}
	if got := promtestutil.ToFloat64(metrics.KeeperSettled.WithLabelValues("paused")); got != 1 {
		t.Errorf("paused attempts: got %v, want 1", got)
	}

	testutil.Must(t)(env.Registry.Unpause(ctx, &command.Unpause{Meta: command.NewMeta(testutil.Admin)}))
	if got := k.Sweep(ctx); got != 2 {
		t.Errorf("unpaused: got %d settled, want 2", got)
	}
}

func TestRun_RejectsBadSchedule(t *testing.T) {
	env := testutil.NewEnv(t, nil)
	k := keeper.New(env.Registry, env.Clock, testutil.Stranger, nil, zerolog.Nop())
	if err := k.Run(context.Background(), "every tuesday"); err == nil {
		t.Error("expected schedule error")
	}
}
