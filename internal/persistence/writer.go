package persistence

import (
	"OptionEscrow/internal/core"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// EventLogWriter writes envelopes and journals to escrow_log using
// multi-row INSERTs. Writes are idempotent on the primary keys.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in escrow_log.events
type EventRow struct {
	Sequence       int64
	CommandType    string
	IdempotencyKey string
	TradeID        *int64
	Payload        []byte // JSON-encoded tagged events
	Trade          []byte // post-state trade record, nil for global operations
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
}

// JournalRow represents a row in escrow_log.journal
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	Asset         string
	Amount        int64
	JournalType   string
	Timestamp     int64
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// Rows converts one registry output into its log rows.
func Rows(out core.Output) (EventRow, []JournalRow, error) {
	env := out.Envelope
	row := EventRow{
		Sequence:       env.Sequence,
		CommandType:    env.CommandType,
		IdempotencyKey: env.IdempotencyKey,
		Payload:        env.Payload,
		StateHash:      env.StateHash[:],
		PrevHash:       env.PrevHash[:],
		Timestamp:      env.Timestamp,
	}
	if env.TradeID != nil {
		id := int64(*env.TradeID)
		row.TradeID = &id
	}
	if out.Trade != nil {
		b, err := json.Marshal(out.Trade)
		if err != nil {
			return row, nil, fmt.Errorf("marshal trade %d: %w", out.Trade.ID, err)
		}
		row.Trade = b
	}

	var journals []JournalRow
	for _, b := range out.Batches {
		for _, j := range b.Journals {
			journals = append(journals, JournalRow{
				JournalID:     j.JournalID.String(),
				BatchID:       j.BatchID.String(),
				EventRef:      j.EventRef,
				Sequence:      env.Sequence,
				DebitAccount:  j.DebitAccount.AccountPath(),
				CreditAccount: j.CreditAccount.AccountPath(),
				Asset:         j.Asset,
				Amount:        j.Amount,
				JournalType:   j.JournalType.String(),
				Timestamp:     j.Timestamp,
			})
		}
	}
	return row, journals, nil
}

// WriteEventBatch writes a batch of envelopes to escrow_log.events.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, x execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	const cols = 9
	query := `INSERT INTO escrow_log.events
		(sequence, command_type, idempotency_key, trade_id, payload, trade, state_hash, prev_hash, timestamp)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*cols)
	for i, e := range events {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			e.Sequence, e.CommandType, e.IdempotencyKey, e.TradeID,
			e.Payload, nullable(e.Trade), e.StateHash, e.PrevHash, e.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := x.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes a batch of journal entries to escrow_log.journal.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, x execer, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	const cols = 10
	query := `INSERT INTO escrow_log.journal
		(journal_id, batch_id, event_ref, sequence, debit_account, credit_account, asset, amount, journal_type, timestamp)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]any, 0, len(journals)*cols)
	for i, j := range journals {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.Asset, j.Amount,
			j.JournalType, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := x.ExecContext(ctx, query, args...)
	return err
}

// WriteIdempotencyKeys records processed composite keys. Rows are written
// in the same transaction as the events they belong to.
func (w *EventLogWriter) WriteIdempotencyKeys(ctx context.Context, x execer, events []EventRow) error {
	var values []string
	var args []any
	for _, e := range events {
		if e.IdempotencyKey == "" {
			continue
		}
		values = append(values, placeholders(len(args), 3))
		args = append(args, e.CommandType, e.IdempotencyKey, e.Sequence)
	}
	if len(values) == 0 {
		return nil
	}
	query := `INSERT INTO escrow_log.idempotency (command_type, idempotency_key, sequence) VALUES ` +
		strings.Join(values, ", ") + " ON CONFLICT DO NOTHING"
	_, err := x.ExecContext(ctx, query, args...)
	return err
}

func nullable(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// placeholders renders "($base+1, ..., $base+n)".
func placeholders(base, n int) string {
	var sb strings.Builder
	sb.WriteByte('(')
	for k := 1; k <= n; k++ {
		if k > 1 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "$%d", base+k)
	}
	sb.WriteByte(')')
	return sb.String()
}
