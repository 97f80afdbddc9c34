package ingestion

import (
	"OptionEscrow/internal/command"
	"OptionEscrow/internal/core"
	"OptionEscrow/internal/errs"
	"OptionEscrow/internal/observability"
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Executor applies a typed command. *core.Registry implements it.
type Executor interface {
	Execute(ctx context.Context, cmd command.Command) (*core.Output, error)
}

// Dispatcher decodes inbound commands and applies them. NATS messages and
// RPC submissions both go through it.
type Dispatcher struct {
	exec    Executor
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewDispatcher(exec Executor, metrics *observability.Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{exec: exec, metrics: metrics, logger: logger}
}

// Submit parses and applies one command. A parse failure is a Validation error.
func (d *Dispatcher) Submit(ctx context.Context, t command.Type, data []byte) (*core.Output, error) {
	cmd, err := ParseCommand(t, data)
	if err != nil {
		if d.metrics != nil {
			d.metrics.IngestInvalid.WithLabelValues(string(t)).Inc()
		}
		return nil, errs.Validation(errs.ReasonUnknownCommand, "%v", err)
	}
	if d.metrics != nil {
		d.metrics.IngestReceived.WithLabelValues(string(t)).Inc()
	}
	return d.exec.Execute(ctx, cmd)
}

// Run drains raw NATS messages until ctx is done or rawChan closes.
//
// Ack policy: anything the registry decided on (applied, duplicate, or a
// domain rejection) is acked, as is anything unparseable. Only failures
// outside the error taxonomy are nakked for redelivery.
func (d *Dispatcher) Run(ctx context.Context, rawChan <-chan RawCommand) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-rawChan:
			if !ok {
				return
			}
			d.handle(ctx, raw)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, raw RawCommand) {
	t, err := CommandTypeFromSubject(raw.Subject)
	if err != nil {
		d.logger.Warn().Str("subject", raw.Subject).Err(err).Msg("unknown subject")
		if d.metrics != nil {
			d.metrics.IngestInvalid.WithLabelValues(raw.Subject).Inc()
		}
		raw.AckFunc()
		return
	}

	out, err := d.Submit(ctx, t, raw.Data)
	switch {
	case err == nil:
		d.logger.Debug().Str("subject", raw.Subject).Int64("sequence", out.Envelope.Sequence).Msg("command applied")
		raw.AckFunc()
	case errors.Is(err, core.ErrDuplicate):
		raw.AckFunc()
	case errs.KindOf(err) != errs.KindUnknown:
		d.logger.Info().Str("subject", raw.Subject).Str("reason", string(errs.ReasonOf(err))).Err(err).Msg("command rejected")
		raw.AckFunc()
	default:
		d.logger.Error().Str("subject", raw.Subject).Err(fmt.Errorf("apply: %w", err)).Msg("command failed, requeueing")
		raw.NakFunc()
	}
}
