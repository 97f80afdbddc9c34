package ingestion

import (
	"OptionEscrow/internal/core"
	"OptionEscrow/internal/event"
	"OptionEscrow/internal/observability"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	EventStream        = "ESCROW_EVENTS"
	EventSubjectPrefix = "escrow.events."
)

// OutboundPublisher publishes applied events to NATS once they are durable.
// Subjects: escrow.events.<EventType>[.<trade_id>]
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan core.Output
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// PublishableEvent is the outbound message body.
type PublishableEvent struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	CommandType    string          `json:"command_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	TradeID        *uint64         `json:"trade_id,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      string          `json:"state_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan core.Output, metrics *observability.Metrics, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{js: js, inputChan: inputChan, metrics: metrics, logger: logger}
}

// Publishables splits one output into a message per event.
func Publishables(out core.Output) ([]PublishableEvent, error) {
	env := out.Envelope
	msgs := make([]PublishableEvent, 0, len(out.Events))
	for _, e := range out.Events {
		body, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", e.EventType(), err)
		}
		msgs = append(msgs, PublishableEvent{
			Sequence:       env.Sequence,
			EventType:      e.EventType().String(),
			CommandType:    env.CommandType,
			IdempotencyKey: env.IdempotencyKey,
			TradeID:        e.TradeRef(),
			Payload:        body,
			StateHash:      hex.EncodeToString(env.StateHash[:]),
			Timestamp:      env.Timestamp,
		})
	}
	return msgs, nil
}

// Subject returns the outbound subject for an event.
func Subject(e PublishableEvent) string {
	subject := EventSubjectPrefix + e.EventType
	if e.TradeID != nil {
		subject = fmt.Sprintf("%s.%d", subject, *e.TradeID)
	}
	return subject
}

func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, out); err != nil {
				// non-fatal: consumers can read the event log directly
				op.logger.Warn().Int64("sequence", out.Envelope.Sequence).Err(err).Msg("outbound publish failed")
				if op.metrics != nil {
					op.metrics.PublishDrops.Inc()
				}
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, out core.Output) error {
	msgs, err := Publishables(out)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		if _, err := op.js.Publish(ctx, Subject(m), data, jetstream.WithMsgID(fmt.Sprintf("%d:%s", m.Sequence, m.EventType))); err != nil {
			return err
		}
	}
	return nil
}

// TradeTopic is a convenience for subscribers filtering one trade's events.
func TradeTopic(t event.EventType, tradeID uint64) string {
	return fmt.Sprintf("%s%s.%d", EventSubjectPrefix, t, tradeID)
}
