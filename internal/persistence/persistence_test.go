package persistence_test

import (
	"OptionEscrow/internal/command"
	"OptionEscrow/internal/core"
	"OptionEscrow/internal/event"
	"OptionEscrow/internal/persistence"
	"OptionEscrow/internal/testutil"
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const migrationsDir = "../../migrations"

func migrate(db *sql.DB) error {
	_, err := persistence.NewMigrator(db, migrationsDir, zerolog.Nop()).Up(context.Background())
	return err
}

// matchedOutputs runs create + fund and returns both outputs.
func matchedOutputs(t *testing.T) (*testutil.Env, []core.Output) {
	t.Helper()
	env := testutil.NewEnv(t, nil)
	env.MatchedTrade(t, 10, 100, 105, true)
	outs := []core.Output{<-env.Persist, <-env.Persist}
	return env, outs
}

// =============================================================================
// Row mapping
// =============================================================================

func TestRows(t *testing.T) {
	_, outs := matchedOutputs(t)

	row, journals, err := persistence.Rows(outs[0])
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if row.Sequence != 0 || row.CommandType != string(command.TypeCreateTrade) {
		t.Errorf("row: got seq=%d type=%s", row.Sequence, row.CommandType)
	}
	if row.TradeID == nil || *row.TradeID != 1 {
		t.Errorf("trade id: got %v, want 1", row.TradeID)
	}
	if len(row.StateHash) != 32 || len(row.PrevHash) != 32 {
		t.Errorf("hash lengths: got %d/%d, want 32/32", len(row.StateHash), len(row.PrevHash))
	}
	// auto-escrow deposit of the creator's side
	if len(journals) != 1 {
		t.Fatalf("journals: got %d, want 1", len(journals))
	}
	j := journals[0]
	if j.Amount != 10 || j.Asset != testutil.Collateral || j.Sequence != 0 {
		t.Errorf("journal: %+v", j)
	}
	if j.DebitAccount == j.CreditAccount {
		t.Errorf("journal debits and credits the same account %s", j.DebitAccount)
	}

	decoded, err := event.DecodeAll(row.Payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(decoded) != 2 {
		t.Errorf("events: got %d, want 2", len(decoded))
	}

	if len(row.Trade) == 0 {
		t.Error("trade snapshot missing")
	}

	second, _, err := persistence.Rows(outs[1])
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if string(second.PrevHash) != string(row.StateHash) {
		t.Error("second row does not chain onto the first")
	}
}

// =============================================================================
// Postgres round trip
// =============================================================================

func TestPersistenceWorker_Postgres(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t, migrate)
	defer cleanup()

	_, outs := matchedOutputs(t)

	in := make(chan core.Output, len(outs))
	published := make(chan core.Output, len(outs))
	for _, o := range outs {
		in <- o
	}
	close(in)

	w := persistence.NewPersistenceWorker(db, in, published, 10, 50*time.Millisecond, nil, zerolog.Nop())
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(published) != 2 {
		t.Errorf("published: got %d, want 2", len(published))
	}

	ctx := context.Background()
	next, prev, err := persistence.Tail(ctx, db)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if next != 2 {
		t.Errorf("next sequence: got %d, want 2", next)
	}
	if prev != outs[1].Envelope.StateHash {
		t.Error("tail hash does not match last state hash")
	}

	checker := persistence.NewPostgresIdempotencyChecker(db)
	dup, err := checker.IsDuplicate(ctx, outs[0].Envelope.CommandType, outs[0].Envelope.IdempotencyKey)
	if err != nil || !dup {
		t.Errorf("is duplicate: got %v (%v), want true", dup, err)
	}
	dup, err = checker.IsDuplicate(ctx, "settle", outs[0].Envelope.IdempotencyKey)
	if err != nil || dup {
		t.Errorf("other command type: got %v (%v), want false", dup, err)
	}

	keys, err := checker.LoadRecentKeys(ctx, 10)
	if err != nil {
		t.Fatalf("load keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("keys: got %d, want 2", len(keys))
	}
	if want := outs[1].Envelope.CommandType + ":" + outs[1].Envelope.IdempotencyKey; keys[1] != want {
		t.Errorf("newest key: got %s, want %s", keys[1], want)
	}

	var journals int
	if err := db.QueryRowContext(ctx, `SELECT count(*) FROM escrow_log.journal`).Scan(&journals); err != nil {
		t.Fatalf("count journals: %v", err)
	}
	if journals != 2 {
		t.Errorf("journals: got %d, want 2", journals)
	}
}

func TestMigrator_Status(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t, migrate)
	defer cleanup()

	status, err := persistence.NewMigrator(db, migrationsDir, zerolog.Nop()).Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(status) < 2 {
		t.Fatalf("migrations: got %d, want at least 2", len(status))
	}
	for _, s := range status {
		if !s.Applied {
			t.Errorf("%s not applied", s.File)
		}
	}
}
