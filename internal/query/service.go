package query

import (
	"OptionEscrow/internal/core"
	"OptionEscrow/internal/errs"
	"OptionEscrow/internal/event"
	"OptionEscrow/internal/observability"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultLimit caps list queries without an explicit limit.
const DefaultLimit = 100

// QueryService provides read-only access to the projection tables and the
// escrow log. Every response carries as_of_sequence, the projection
// watermark at read time.
type QueryService struct {
	db       *sql.DB
	decimals map[string]int32
	metrics  *observability.Metrics
}

// NewQueryService builds a query service. decimals maps collateral symbols to
// their token precision for display; unknown symbols render with 0.
func NewQueryService(db *sql.DB, decimals map[string]int32, metrics *observability.Metrics) *QueryService {
	return &QueryService{db: db, decimals: decimals, metrics: metrics}
}

// TradeQuery filters ListTrades. Results are ordered by id descending;
// BeforeID pages backwards.
type TradeQuery struct {
	State       string
	Participant *common.Address
	BeforeID    *uint64
	Limit       int
}

const tradeColumns = `
	trade_id, collateral, creator, creator_side, buyer, seller,
	long_required, short_required, deposit_end, settle_start,
	strike, is_call_like, oracle_ref, oracle_index, state,
	long_funded, short_funded, long_claimed, short_claimed,
	long_claimable, short_claimable, collectable_fees,
	settlement_price, settlement_time, created_at, settled_at`

// GetTrade returns the projected trade.
func (qs *QueryService) GetTrade(ctx context.Context, id uint64) (*TradeView, error) {
	defer qs.observe("get_trade", time.Now())

	asOf, err := qs.watermark(ctx)
	if err != nil {
		return nil, err
	}
	row := qs.db.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM projections.trades WHERE trade_id = $1`, int64(id))
	t, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound(errs.ReasonUnknownTrade, "trade %d", id)
	}
	if err != nil {
		return nil, err
	}
	v := ViewOf(t, qs.decimals[t.Collateral], asOf)
	return &v, nil
}

// ListTrades returns projected trades matching q.
func (qs *QueryService) ListTrades(ctx context.Context, q TradeQuery) ([]TradeView, error) {
	defer qs.observe("list_trades", time.Now())

	asOf, err := qs.watermark(ctx)
	if err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if q.State != "" {
		where = append(where, "state = "+arg(strings.ToUpper(q.State)))
	}
	if q.Participant != nil {
		p := arg(q.Participant.Hex())
		where = append(where, fmt.Sprintf("(creator = %s OR (long_funded AND buyer = %s) OR (short_funded AND seller = %s))", p, p, p))
	}
	if q.BeforeID != nil {
		where = append(where, "trade_id < "+arg(int64(*q.BeforeID)))
	}

	query := `SELECT ` + tradeColumns + ` FROM projections.trades`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := q.Limit
	if limit <= 0 || limit > DefaultLimit {
		limit = DefaultLimit
	}
	query += " ORDER BY trade_id DESC LIMIT " + arg(limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var views []TradeView
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		views = append(views, ViewOf(t, qs.decimals[t.Collateral], asOf))
	}
	return views, rows.Err()
}

// GetOraclePrices returns every projected index of an oracle.
func (qs *QueryService) GetOraclePrices(ctx context.Context, ref string) ([]OraclePriceView, error) {
	defer qs.observe("oracle_prices", time.Now())

	asOf, err := qs.watermark(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := qs.db.QueryContext(ctx, `
		SELECT oracle_index, source, writer, price, updated_at
		FROM projections.oracle_prices
		WHERE oracle_ref = $1
		ORDER BY oracle_index
	`, ref)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OraclePriceView
	for rows.Next() {
		v := OraclePriceView{OracleRef: ref, AsOfSequence: asOf}
		var idx int64
		if err := rows.Scan(&idx, &v.Source, &v.Writer, &v.Price, &v.UpdatedAt); err != nil {
			return nil, err
		}
		v.Index = uint64(idx)
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetFeeConfig returns the projected fee configuration.
func (qs *QueryService) GetFeeConfig(ctx context.Context) (*FeeView, error) {
	defer qs.observe("fee_config", time.Now())

	asOf, err := qs.watermark(ctx)
	if err != nil {
		return nil, err
	}
	v := FeeView{AsOfSequence: asOf}
	err = qs.db.QueryRowContext(ctx, `
		SELECT fee_bps, fee_decimals, receiver, paused FROM projections.fee_config WHERE id = 1
	`).Scan(&v.FeeBps, &v.FeeDecimals, &v.Receiver, &v.Paused)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound(errs.ReasonNotProjected, "fee configuration")
	}
	if err != nil {
		return nil, err
	}
	v.Percentage = FeePercentage(v.FeeBps, v.FeeDecimals)
	return &v, nil
}

// GetTradeJournal returns the journal entries touching a trade's accounts,
// newest first. afterSequence pages backwards.
func (qs *QueryService) GetTradeJournal(ctx context.Context, tradeID uint64, limit int, afterSequence *int64) ([]JournalEntry, error) {
	defer qs.observe("trade_journal", time.Now())

	prefix := fmt.Sprintf("trade:%d:%%", tradeID)
	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset, amount, journal_type, timestamp
		FROM escrow_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []any{prefix}
	if afterSequence != nil {
		args = append(args, *afterSequence)
		query += fmt.Sprintf(" AND sequence < $%d", len(args))
	}
	if limit <= 0 || limit > DefaultLimit {
		limit = DefaultLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY sequence DESC, journal_id LIMIT $%d", len(args))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var (
			e      JournalEntry
			amount int64
		)
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Asset, &amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		e.Amount = NewAmount(amount, qs.decimals[e.Asset])
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Admin ---

// VerifyIntegrity checks the hash chain, sequence continuity, per-asset
// journal balance and that closed trades hold nothing.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	defer qs.observe("verify_integrity", time.Now())
	report := &IntegrityReport{}

	breaks, err := qs.int64s(ctx, `
		SELECT e1.sequence
		FROM escrow_log.events e1
		JOIN escrow_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash <> e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, fmt.Errorf("hash chain: %w", err)
	}
	report.HashChainBreaks = breaks

	gaps, err := qs.int64s(ctx, `
		SELECT e1.sequence + 1
		FROM escrow_log.events e1
		LEFT JOIN escrow_log.events e2 ON e2.sequence = e1.sequence + 1
		WHERE e2.sequence IS NULL
		  AND e1.sequence < (SELECT MAX(sequence) FROM escrow_log.events)
		ORDER BY 1
		LIMIT 10
	`)
	if err != nil {
		return nil, fmt.Errorf("sequence gaps: %w", err)
	}
	report.SequenceGaps = gaps

	rows, err := qs.db.QueryContext(ctx, `
		WITH moves AS (
			SELECT debit_account AS account, asset, amount FROM escrow_log.journal
			UNION ALL
			SELECT credit_account, asset, -amount FROM escrow_log.journal
		)
		SELECT asset, SUM(amount) FROM moves GROUP BY asset HAVING SUM(amount) <> 0
	`)
	if err != nil {
		return nil, fmt.Errorf("asset balance: %w", err)
	}
	for rows.Next() {
		var u UnbalancedAsset
		if err := rows.Scan(&u.Asset, &u.Imbalance); err != nil {
			rows.Close()
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, u)
	}
	rows.Close()

	rows, err = qs.db.QueryContext(ctx, `
		WITH moves AS (
			SELECT debit_account AS account, amount FROM escrow_log.journal
			UNION ALL
			SELECT credit_account, -amount FROM escrow_log.journal
		), residual AS (
			SELECT split_part(account, ':', 2)::BIGINT AS trade_id, SUM(amount) AS amount
			FROM moves WHERE account LIKE 'trade:%'
			GROUP BY 1
		)
		SELECT t.trade_id, t.state, r.amount
		FROM residual r JOIN projections.trades t USING (trade_id)
		WHERE r.amount <> 0
		  AND (t.state = 'CANCELLED' OR (t.state = 'SETTLED' AND t.long_claimed AND t.short_claimed))
		ORDER BY t.trade_id
		LIMIT 10
	`)
	if err != nil {
		return nil, fmt.Errorf("trade residue: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			r  ResidualTrade
			id int64
		)
		if err := rows.Scan(&id, &r.State, &r.Residual); err != nil {
			return nil, err
		}
		r.TradeID = uint64(id)
		report.ResidualTrades = append(report.ResidualTrades, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.SequenceGaps) == 0 &&
		len(report.UnbalancedAssets) == 0 && len(report.ResidualTrades) == 0
	return report, nil
}

// --- helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(s scanner) (*core.Trade, error) {
	var (
		t                         core.Trade
		id, oracleIndex           int64
		creator, creatorSide      string
		buyer, seller, state      string
		longFunded, shortFunded   bool
		longClaimed, shortClaimed bool
	)
	if err := s.Scan(
		&id, &t.Collateral, &creator, &creatorSide, &buyer, &seller,
		&t.LongRequiredAmount, &t.ShortRequiredAmount, &t.DepositEnd, &t.SettleStart,
		&t.Payoff.Strike, &t.Payoff.IsCallLike, &t.Payoff.OracleRef, &oracleIndex, &state,
		&longFunded, &shortFunded, &longClaimed, &shortClaimed,
		&t.LongClaimableAmount, &t.ShortClaimableAmount, &t.CollectableFees,
		&t.Settlement.Price, &t.Settlement.Timestamp, &t.CreatedAt, &t.SettledAt,
	); err != nil {
		return nil, err
	}
	t.ID = uint64(id)
	t.Payoff.OracleIndex = uint64(oracleIndex)
	t.Creator = common.HexToAddress(creator)
	t.Buyer = common.HexToAddress(buyer)
	t.Seller = common.HexToAddress(seller)
	t.Funded = [2]bool{longFunded, shortFunded}
	t.Claimed = [2]bool{longClaimed, shortClaimed}
	if err := t.State.UnmarshalText([]byte(state)); err != nil {
		return nil, err
	}
	side, err := event.ParseSide(creatorSide)
	if err != nil {
		return nil, err
	}
	t.CreatorSide = side
	return &t, nil
}

func (qs *QueryService) int64s(ctx context.Context, query string) ([]int64, error) {
	rows, err := qs.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (qs *QueryService) watermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE projection = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("watermark: %w", err)
	}
	return seq, nil
}

func (qs *QueryService) observe(endpoint string, start time.Time) {
	if qs.metrics != nil {
		qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}
