package projection

import (
	"OptionEscrow/internal/core"
	"OptionEscrow/internal/event"
	"OptionEscrow/internal/observability"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// WatermarkName is the row this worker owns in projections.watermark.
const WatermarkName = "main"

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ProjectionWorker keeps the read tables in step with registry outputs.
// The projection channel is lossy; a gap is repaired with Rebuild.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.Output
	lastSeq   int64
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.Output, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{db: db, inputChan: inputChan, lastSeq: -1, metrics: metrics, logger: logger}
}

func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			seq := out.Envelope.Sequence
			if pw.lastSeq >= 0 && seq != pw.lastSeq+1 {
				pw.logger.Warn().Int64("expected", pw.lastSeq+1).Int64("got", seq).Msg("projection gap, rebuild required")
			}
			if err := pw.Apply(ctx, out); err != nil {
				// eventually consistent; Rebuild restores from the log
				pw.logger.Warn().Int64("sequence", seq).Err(err).Msg("projection update failed")
			}
			pw.lastSeq = seq
		}
	}
}

// Apply projects one output in a single transaction.
func (pw *ProjectionWorker) Apply(ctx context.Context, out core.Output) error {
	start := time.Now()
	seq := out.Envelope.Sequence

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if out.Trade != nil {
		if err := upsertTrade(ctx, tx, out.Trade, seq); err != nil {
			return fmt.Errorf("trade projection: %w", err)
		}
	}

	feeTouched := false
	for _, e := range out.Events {
		switch ev := e.(type) {
		case *event.OracleCreated:
			err = upsertOracleSource(ctx, tx, ev, seq)
		case *event.OracleUpdated:
			err = upsertOraclePrice(ctx, tx, ev, seq)
		case *event.OracleWriterSet:
			err = upsertOracleWriter(ctx, tx, ev, seq)
		case *event.FeeConfigUpdated, *event.Paused, *event.Unpaused, *event.FeesCollected:
			feeTouched = true
		}
		if err != nil {
			return fmt.Errorf("%s projection: %w", e.EventType(), err)
		}
	}
	if feeTouched {
		if err := upsertFeeConfig(ctx, tx, out.Fees, out.Paused, seq); err != nil {
			return fmt.Errorf("fee projection: %w", err)
		}
	}

	if err := setWatermark(ctx, tx, seq); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues("main").Observe(time.Since(start).Seconds())
		pw.metrics.ProjectionLastSeq.Set(float64(seq))
	}
	return nil
}

func upsertTrade(ctx context.Context, x execer, t *core.Trade, seq int64) error {
	_, err := x.ExecContext(ctx, `
		INSERT INTO projections.trades (
			trade_id, collateral, creator, creator_side, buyer, seller,
			long_required, short_required, deposit_end, settle_start,
			strike, is_call_like, oracle_ref, oracle_index, state,
			long_funded, short_funded, long_claimed, short_claimed,
			long_claimable, short_claimable, collectable_fees,
			settlement_price, settlement_time, created_at, settled_at,
			last_sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, NOW())
		ON CONFLICT (trade_id) DO UPDATE SET
			buyer = EXCLUDED.buyer,
			seller = EXCLUDED.seller,
			state = EXCLUDED.state,
			long_funded = EXCLUDED.long_funded,
			short_funded = EXCLUDED.short_funded,
			long_claimed = EXCLUDED.long_claimed,
			short_claimed = EXCLUDED.short_claimed,
			long_claimable = EXCLUDED.long_claimable,
			short_claimable = EXCLUDED.short_claimable,
			collectable_fees = EXCLUDED.collectable_fees,
			settlement_price = EXCLUDED.settlement_price,
			settlement_time = EXCLUDED.settlement_time,
			settled_at = EXCLUDED.settled_at,
			last_sequence = EXCLUDED.last_sequence,
			updated_at = NOW()
		WHERE projections.trades.last_sequence <= EXCLUDED.last_sequence
	`,
		int64(t.ID), t.Collateral, t.Creator.Hex(), t.CreatorSide.String(), t.Buyer.Hex(), t.Seller.Hex(),
		t.LongRequiredAmount, t.ShortRequiredAmount, t.DepositEnd, t.SettleStart,
		t.Payoff.Strike, t.Payoff.IsCallLike, t.Payoff.OracleRef, int64(t.Payoff.OracleIndex), t.State.String(),
		t.Funded[event.SideLong], t.Funded[event.SideShort], t.Claimed[event.SideLong], t.Claimed[event.SideShort],
		t.LongClaimableAmount, t.ShortClaimableAmount, t.CollectableFees,
		t.Settlement.Price, t.Settlement.Timestamp, t.CreatedAt, t.SettledAt,
		seq,
	)
	return err
}

func upsertOracleSource(ctx context.Context, x execer, e *event.OracleCreated, seq int64) error {
	_, err := x.ExecContext(ctx, `
		INSERT INTO projections.oracle_prices (oracle_ref, oracle_index, source, writer, last_sequence)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (oracle_ref, oracle_index) DO UPDATE SET
			source = EXCLUDED.source, writer = EXCLUDED.writer, last_sequence = EXCLUDED.last_sequence
	`, e.OracleRef, int64(e.Index), e.Source, e.Writer.Hex(), seq)
	return err
}

func upsertOracleWriter(ctx context.Context, x execer, e *event.OracleWriterSet, seq int64) error {
	_, err := x.ExecContext(ctx, `
		INSERT INTO projections.oracle_prices (oracle_ref, oracle_index, writer, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (oracle_ref, oracle_index) DO UPDATE SET writer = EXCLUDED.writer, last_sequence = EXCLUDED.last_sequence
	`, e.OracleRef, int64(e.Index), e.Writer.Hex(), seq)
	return err
}

func upsertOraclePrice(ctx context.Context, x execer, e *event.OracleUpdated, seq int64) error {
	_, err := x.ExecContext(ctx, `
		INSERT INTO projections.oracle_prices (oracle_ref, oracle_index, price, updated_at, last_sequence)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (oracle_ref, oracle_index) DO UPDATE SET
			price = EXCLUDED.price, updated_at = EXCLUDED.updated_at, last_sequence = EXCLUDED.last_sequence
	`, e.OracleRef, int64(e.Index), e.Price, e.Timestamp, seq)
	return err
}

func upsertFeeConfig(ctx context.Context, x execer, fees core.FeeConfig, paused bool, seq int64) error {
	_, err := x.ExecContext(ctx, `
		INSERT INTO projections.fee_config (id, fee_bps, fee_decimals, receiver, paused, last_sequence)
		VALUES (1, $1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			fee_bps = EXCLUDED.fee_bps, fee_decimals = EXCLUDED.fee_decimals,
			receiver = EXCLUDED.receiver, paused = EXCLUDED.paused, last_sequence = EXCLUDED.last_sequence
	`, fees.FeeBps, fees.FeeDecimals, fees.Receiver.Hex(), paused, seq)
	return err
}

func setWatermark(ctx context.Context, x execer, seq int64) error {
	if _, err := x.ExecContext(ctx, `
		INSERT INTO projections.watermark (projection, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (projection) DO UPDATE SET last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
	`, WatermarkName, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	return nil
}

// Rebuild truncates the read tables and replays escrow_log.events.
// Trade rows come from the stored post-state records; oracle rows from
// the decoded event payloads.
func Rebuild(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`TRUNCATE projections.trades`,
		`TRUNCATE projections.oracle_prices`,
		`TRUNCATE projections.fee_config`,
		`DELETE FROM projections.watermark WHERE projection = '` + WatermarkName + `'`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate: %w", err)
		}
	}

	rows, err := tx.QueryContext(ctx, `SELECT sequence, payload, trade FROM escrow_log.events ORDER BY sequence`)
	if err != nil {
		return fmt.Errorf("scan log: %w", err)
	}
	type logRow struct {
		seq     int64
		payload []byte
		trade   []byte
	}
	var entries []logRow
	for rows.Next() {
		var r logRow
		if err := rows.Scan(&r.seq, &r.payload, &r.trade); err != nil {
			rows.Close()
			return err
		}
		entries = append(entries, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	// fee rows only exist once a fee or pause event has been logged
	var (
		fees   core.FeeConfig
		paused bool
		last   = int64(-1)
	)
	for _, r := range entries {
		if len(r.trade) > 0 {
			var t core.Trade
			if err := json.Unmarshal(r.trade, &t); err != nil {
				return fmt.Errorf("decode trade at %d: %w", r.seq, err)
			}
			if err := upsertTrade(ctx, tx, &t, r.seq); err != nil {
				return err
			}
		}
		events, err := event.DecodeAll(r.payload)
		if err != nil {
			return fmt.Errorf("decode events at %d: %w", r.seq, err)
		}
		for _, e := range events {
			feeTouched := false
			switch ev := e.(type) {
			case *event.OracleCreated:
				err = upsertOracleSource(ctx, tx, ev, r.seq)
			case *event.OracleUpdated:
				err = upsertOraclePrice(ctx, tx, ev, r.seq)
			case *event.OracleWriterSet:
				err = upsertOracleWriter(ctx, tx, ev, r.seq)
			case *event.FeeConfigUpdated:
				fees = core.FeeConfig{FeeBps: ev.FeeBps, FeeDecimals: ev.FeeDecimals, Receiver: ev.Receiver}
				feeTouched = true
			case *event.Paused:
				paused, feeTouched = true, true
			case *event.Unpaused:
				paused, feeTouched = false, true
			}
			if err == nil && feeTouched {
				err = upsertFeeConfig(ctx, tx, fees, paused, r.seq)
			}
			if err != nil {
				return err
			}
		}
		last = r.seq
	}
	if last >= 0 {
		if err := setWatermark(ctx, tx, last); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logger.Info().Int("entries", len(entries)).Int64("last_sequence", last).Msg("projection rebuild complete")
	return nil
}
