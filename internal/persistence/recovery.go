package persistence

import (
	"OptionEscrow/internal/core"
	"OptionEscrow/internal/event"
	"OptionEscrow/internal/ledger"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// LoadState rebuilds registry state from the event log: the latest snapshot
// of every trade, every journal entry, role changes, fees, the pause flag and
// oracle records.
// An empty log yields a state with NextSequence 0.
func LoadState(ctx context.Context, db *sql.DB) (*core.RestoreState, error) {
	next, prev, err := Tail(ctx, db)
	if err != nil {
		return nil, err
	}
	state := &core.RestoreState{NextSequence: next, PrevHash: prev}
	if next == 0 {
		return state, nil
	}

	if err := loadEvents(ctx, db, state); err != nil {
		return nil, err
	}
	if state.Journals, err = loadJournals(ctx, db); err != nil {
		return nil, err
	}
	return state, nil
}

func loadEvents(ctx context.Context, db *sql.DB, state *core.RestoreState) error {
	rows, err := db.QueryContext(ctx, `SELECT sequence, payload, trade FROM escrow_log.events ORDER BY sequence`)
	if err != nil {
		return fmt.Errorf("scan log: %w", err)
	}
	defer rows.Close()

	trades := make(map[uint64]*core.Trade)
	var order []uint64
	for rows.Next() {
		var (
			seq            int64
			payload, trade []byte
		)
		if err := rows.Scan(&seq, &payload, &trade); err != nil {
			return err
		}

		if len(trade) > 0 {
			var t core.Trade
			if err := json.Unmarshal(trade, &t); err != nil {
				return fmt.Errorf("decode trade at %d: %w", seq, err)
			}
			if _, seen := trades[t.ID]; !seen {
				order = append(order, t.ID)
			}
			trades[t.ID] = &t
		}

		events, err := event.DecodeAll(payload)
		if err != nil {
			return fmt.Errorf("decode events at %d: %w", seq, err)
		}
		if err := state.ApplyEvents(events); err != nil {
			return fmt.Errorf("apply events at %d: %w", seq, err)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range order {
		state.Trades = append(state.Trades, trades[id])
	}
	return nil
}

func loadJournals(ctx context.Context, db *sql.DB) ([]ledger.Journal, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT journal_id, batch_id, event_ref, sequence, debit_account, credit_account, asset, amount, timestamp
		FROM escrow_log.journal
		ORDER BY sequence, journal_id
	`)
	if err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}
	defer rows.Close()

	var journals []ledger.Journal
	for rows.Next() {
		var (
			j             ledger.Journal
			jid, bid      string
			debit, credit string
		)
		if err := rows.Scan(&jid, &bid, &j.EventRef, &j.Sequence, &debit, &credit, &j.Asset, &j.Amount, &j.Timestamp); err != nil {
			return nil, err
		}
		if j.JournalID, err = uuid.Parse(jid); err != nil {
			return nil, fmt.Errorf("journal id %q: %w", jid, err)
		}
		if j.BatchID, err = uuid.Parse(bid); err != nil {
			return nil, fmt.Errorf("batch id %q: %w", bid, err)
		}
		if j.DebitAccount, err = ledger.ParseAccountPath(debit, j.Asset); err != nil {
			return nil, err
		}
		if j.CreditAccount, err = ledger.ParseAccountPath(credit, j.Asset); err != nil {
			return nil, err
		}
		journals = append(journals, j)
	}
	return journals, rows.Err()
}
