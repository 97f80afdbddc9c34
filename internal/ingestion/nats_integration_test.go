package ingestion_test

import (
	"OptionEscrow/internal/command"
	"OptionEscrow/internal/core"
	"OptionEscrow/internal/event"
	"OptionEscrow/internal/ingestion"
	"OptionEscrow/internal/testutil"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// connectJetStream dials the test NATS server and leaves both streams empty
// with no leftover durable consumer.
func connectJetStream(t *testing.T, ctx context.Context) jetstream.JetStream {
	t.Helper()
	nc, js, err := ingestion.ConnectNATS(testutil.TestNATSURL(), zerolog.Nop())
	if err != nil {
		t.Skipf("test nats not available: %v (start with: docker compose -f docker-compose.test.yml up -d)", err)
	}
	t.Cleanup(nc.Close)

	if err := ingestion.EnsureStreams(ctx, js, zerolog.Nop()); err != nil {
		t.Fatalf("ensure streams: %v", err)
	}
	for _, name := range []string{ingestion.CommandStream, ingestion.EventStream} {
		stream, err := js.Stream(ctx, name)
		if err != nil {
			t.Fatalf("stream %s: %v", name, err)
		}
		if err := stream.Purge(ctx); err != nil {
			t.Fatalf("purge %s: %v", name, err)
		}
	}
	if err := js.DeleteConsumer(ctx, ingestion.CommandStream, ingestion.CommandConsumer); err != nil && !errors.Is(err, jetstream.ErrConsumerNotFound) {
		t.Fatalf("delete consumer: %v", err)
	}
	return js
}

// =============================================================================
// JetStream round trip
// =============================================================================

func TestJetStream_CommandToEvent(t *testing.T) {
	testutil.RequireIntegration(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	js := connectJetStream(t, ctx)

	env := testutil.NewEnv(t, nil)
	raw := make(chan ingestion.RawCommand, 8)
	sub := ingestion.NewNATSSubscriber(js, raw, zerolog.Nop())
	if err := sub.Subscribe(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Stop()
	go ingestion.NewDispatcher(env.Registry, nil, zerolog.Nop()).Run(ctx, raw)

	published := make(chan core.Output, 8)
	go ingestion.NewOutboundPublisher(js, published, nil, zerolog.Nop()).Run(ctx)

	if _, err := js.Publish(ctx, ingestion.SubjectPrefix+string(command.TypeCreateTrade), createJSON(t, "k-nats")); err != nil {
		t.Fatalf("publish command: %v", err)
	}

	var out core.Output
	select {
	case out = <-env.Persist:
	case <-ctx.Done():
		t.Fatal("command never reached the registry")
	}
	if out.Trade == nil || out.Trade.ID != 1 {
		t.Fatalf("applied output: got trade %+v", out.Trade)
	}
	published <- out

	cons, err := js.OrderedConsumer(ctx, ingestion.EventStream, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{ingestion.TradeTopic(event.EventTypeTradeCreated, out.Trade.ID)},
	})
	if err != nil {
		t.Fatalf("ordered consumer: %v", err)
	}
	msg, err := cons.Next(jetstream.FetchMaxWait(10 * time.Second))
	if err != nil {
		t.Fatalf("next event: %v", err)
	}

	var got ingestion.PublishableEvent
	if err := json.Unmarshal(msg.Data(), &got); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if got.Sequence != out.Envelope.Sequence {
		t.Errorf("sequence: got %d, want %d", got.Sequence, out.Envelope.Sequence)
	}
	if got.EventType != "TradeCreated" || got.IdempotencyKey != "k-nats" {
		t.Errorf("event: got %s/%s, want TradeCreated/k-nats", got.EventType, got.IdempotencyKey)
	}
	if msg.Subject() != ingestion.Subject(got) {
		t.Errorf("subject: got %s, want %s", msg.Subject(), ingestion.Subject(got))
	}
}
