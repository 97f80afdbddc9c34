package ingestion_test

import (
	"OptionEscrow/internal/command"
	"OptionEscrow/internal/core"
	"OptionEscrow/internal/errs"
	"OptionEscrow/internal/event"
	"OptionEscrow/internal/ingestion"
	"OptionEscrow/internal/testutil"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type ackRecorder struct {
	acks, naks int
}

func (r *ackRecorder) raw(subject string, data []byte) ingestion.RawCommand {
	return ingestion.RawCommand{
		Subject:    subject,
		Data:       data,
		ReceivedAt: time.Now(),
		AckFunc:    func() { r.acks++ },
		NakFunc:    func() { r.naks++ },
	}
}

func run(t *testing.T, d *ingestion.Dispatcher, msgs ...ingestion.RawCommand) {
	t.Helper()
	ch := make(chan ingestion.RawCommand, len(msgs))
	for _, m := range msgs {
		ch <- m
	}
	close(ch)
	d.Run(context.Background(), ch)
}

func createJSON(t *testing.T, key string) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{
		"idempotency_key": key,
		"caller":          testutil.Alice.Hex(),
		"collateral":      testutil.Collateral,
		"strike":          105,
		"is_call_like":    true,
		"oracle_ref":      testutil.OracleRef,
		"deposit_end":     testutil.Genesis.Add(time.Hour).Unix(),
		"settle_start":    testutil.Genesis.Add(2 * time.Hour).Unix(),
		"long_amount":     10,
		"short_amount":    100,
		"creator_side":    "long",
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

// =============================================================================
// Ack policy
// =============================================================================

func TestDispatcher_AppliesAndAcks(t *testing.T) {
	env := testutil.NewEnv(t, nil)
	d := ingestion.NewDispatcher(env.Registry, nil, zerolog.Nop())
	rec := &ackRecorder{}

	run(t, d,
		rec.raw("escrow.commands.create_trade", createJSON(t, "k-1")),
		rec.raw("escrow.commands.create_trade", createJSON(t, "k-1")), // duplicate
	)

	if rec.acks != 2 || rec.naks != 0 {
		t.Errorf("acks/naks: got %d/%d, want 2/0", rec.acks, rec.naks)
	}
	if got := env.Registry.Sequence(); got != 1 {
		t.Errorf("sequence: got %d, want 1", got)
	}
	if _, err := env.Registry.GetTrade(1); err != nil {
		t.Errorf("trade 1: %v", err)
	}
}

func TestDispatcher_AcksInvalidAndRejected(t *testing.T) {
	env := testutil.NewEnv(t, nil)
	d := ingestion.NewDispatcher(env.Registry, nil, zerolog.Nop())
	rec := &ackRecorder{}

	settleMissing := fmt.Sprintf(`{"idempotency_key":"k-2","caller":%q,"trade_id":99}`, testutil.Alice.Hex())
	run(t, d,
		rec.raw("escrow.commands.withdraw", []byte(`{}`)),
		rec.raw("escrow.commands.settle", []byte(`{"trade_id":`)),
		rec.raw("escrow.commands.settle.99", []byte(settleMissing)),
	)

	if rec.acks != 3 || rec.naks != 0 {
		t.Errorf("acks/naks: got %d/%d, want 3/0", rec.acks, rec.naks)
	}
	if got := env.Registry.Sequence(); got != 0 {
		t.Errorf("sequence: got %d, want 0", got)
	}
}

type failingExecutor struct{}

func (failingExecutor) Execute(context.Context, command.Command) (*core.Output, error) {
	return nil, errors.New("disk on fire")
}

func TestDispatcher_NaksUnclassifiedFailures(t *testing.T) {
	d := ingestion.NewDispatcher(failingExecutor{}, nil, zerolog.Nop())
	rec := &ackRecorder{}

	run(t, d, rec.raw("escrow.commands.create_trade", createJSON(t, "k-3")))

	if rec.acks != 0 || rec.naks != 1 {
		t.Errorf("acks/naks: got %d/%d, want 0/1", rec.acks, rec.naks)
	}
}

func TestDispatcher_SubmitParseErrorIsValidation(t *testing.T) {
	env := testutil.NewEnv(t, nil)
	d := ingestion.NewDispatcher(env.Registry, nil, zerolog.Nop())

	_, err := d.Submit(context.Background(), command.TypeSettle, []byte(`not json`))
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("got %v, want validation error", err)
	}
}

// =============================================================================
// Outbound messages
// =============================================================================

func TestPublishables(t *testing.T) {
	env := testutil.NewEnv(t, nil)
	out := testutil.Must(t)(env.Registry.CreateTrade(context.Background(),
		testutil.CreateTrade(testutil.Alice, event.SideLong, 10, 100, 105, true)))

	msgs, err := ingestion.Publishables(*out)
	if err != nil {
		t.Fatalf("publishables: %v", err)
	}
	// auto-escrow emits created + funded
	if len(msgs) != 2 {
		t.Fatalf("messages: got %d, want 2", len(msgs))
	}
	if msgs[0].EventType != "TradeCreated" || msgs[1].EventType != "TradeFunded" {
		t.Errorf("event types: got %s, %s", msgs[0].EventType, msgs[1].EventType)
	}
	for _, m := range msgs {
		if m.Sequence != out.Envelope.Sequence {
			t.Errorf("sequence: got %d, want %d", m.Sequence, out.Envelope.Sequence)
		}
		if len(m.StateHash) != 64 {
			t.Errorf("state hash: got %d hex chars, want 64", len(m.StateHash))
		}
	}

	if got, want := ingestion.Subject(msgs[0]), "escrow.events.TradeCreated.1"; got != want {
		t.Errorf("subject: got %s, want %s", got, want)
	}
	if got := ingestion.TradeTopic(event.EventTypeTradeFunded, 1); got != ingestion.Subject(msgs[1]) {
		t.Errorf("trade topic: got %s, want %s", got, ingestion.Subject(msgs[1]))
	}
	if !strings.HasPrefix(ingestion.Subject(msgs[0]), ingestion.EventSubjectPrefix) {
		t.Error("subject outside event prefix")
	}
}
