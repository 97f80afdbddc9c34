// Package keeper settles matured trades on a schedule. It is an ordinary
// caller of the registry and holds no privileges.
package keeper

import (
	"OptionEscrow/internal/command"
	"OptionEscrow/internal/core"
	"OptionEscrow/internal/errs"
	"OptionEscrow/internal/observability"
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSchedule sweeps every 30 seconds.
const DefaultSchedule = "*/30 * * * * *"

// Settler is the part of the registry the keeper drives.
type Settler interface {
	ListTrades(f core.TradeFilter) []*core.Trade
	Settle(ctx context.Context, c *command.Settle) (*core.Output, error)
}

// Keeper periodically calls Settle on every matched trade whose settlement
// window has opened.
type Keeper struct {
	settler Settler
	clock   core.Clock
	caller  common.Address
	cron    *cron.Cron
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func New(settler Settler, clock core.Clock, caller common.Address, metrics *observability.Metrics, logger zerolog.Logger) *Keeper {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &Keeper{
		settler: settler,
		clock:   clock,
		caller:  caller,
		cron:    cron.New(cron.WithSeconds()),
		metrics: metrics,
		logger:  logger,
	}
}

// Run schedules Sweep with a six-field cron expression and blocks until ctx is
// cancelled. A running sweep is allowed to finish.
func (k *Keeper) Run(ctx context.Context, schedule string) error {
	if _, err := k.cron.AddFunc(schedule, func() { k.Sweep(ctx) }); err != nil {
		return fmt.Errorf("keeper schedule %q: %w", schedule, err)
	}
	k.cron.Start()
	k.logger.Info().Str("schedule", schedule).Str("caller", k.caller.Hex()).Msg("keeper started")

	<-ctx.Done()
	<-k.cron.Stop().Done()
	k.logger.Info().Msg("keeper stopped")
	return nil
}

// Sweep settles what it can and returns how many trades it settled.
func (k *Keeper) Sweep(ctx context.Context) int {
	if k.metrics != nil {
		k.metrics.KeeperRuns.Inc()
	}

	matched := core.StateMatched
	now := k.clock.Now().Unix()
	settled := 0
	for _, t := range k.settler.ListTrades(core.TradeFilter{State: &matched}) {
		if ctx.Err() != nil {
			break
		}
		if now < t.SettleStart {
			continue
		}
		// One key per trade: a settle that already landed is a duplicate.
		_, err := k.settler.Settle(ctx, &command.Settle{
			Meta:    command.Meta{Key: fmt.Sprintf("keeper:settle:%d", t.ID), From: k.caller},
			TradeID: t.ID,
		})
		outcome := k.outcome(err)
		if k.metrics != nil {
			k.metrics.KeeperSettled.WithLabelValues(outcome).Inc()
		}
		switch outcome {
		case "settled":
			settled++
		case "paused":
			k.logger.Info().Msg("registry paused, sweep aborted")
			return settled
		case "failed":
			k.logger.Warn().Uint64("trade_id", t.ID).Err(err).Msg("keeper settle failed")
		default:
			k.logger.Debug().Uint64("trade_id", t.ID).Str("outcome", outcome).Err(err).Msg("keeper settle skipped")
		}
	}
	if settled > 0 {
		k.logger.Info().Int("settled", settled).Msg("keeper sweep")
	}
	return settled
}

func (k *Keeper) outcome(err error) string {
	switch {
	case err == nil:
		return "settled"
	case errors.Is(err, core.ErrDuplicate):
		return "duplicate"
	}
	switch errs.KindOf(err) {
	case errs.KindPaused:
		return "paused"
	case errs.KindNotReady:
		return "not_ready"
	case errs.KindConflict:
		return "conflict"
	default:
		return "failed"
	}
}
