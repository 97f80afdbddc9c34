package event

import (
	"time"
)

// EventType discriminator for observable escrow events
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeTradeCreated
	EventTypeTradeFunded
	EventTypeTradeCancelled
	EventTypeTradeSettled
	EventTypeTradeClaimed
	EventTypeOracleCreated
	EventTypeOracleUpdated
	EventTypeFeesCollected
	EventTypeFeeConfigUpdated
	EventTypePaused
	EventTypeUnpaused
	EventTypeRoleGranted
	EventTypeRoleRevoked
	EventTypeOracleWriterSet
)

// EventEnvelope wraps every applied operation in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from the caller
	IdempotencyKey string

	// Command type that produced this entry (e.g. "settle")
	CommandType string

	// Trade context (nil for global operations)
	TradeID *uint64

	// Call-time clock reading
	Timestamp time.Time

	// JSON-encoded events emitted by the operation
	Payload []byte

	// SHA-256 of state AFTER applying this operation
	StateHash [32]byte

	// Previous entry's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all observable events implement
type Event interface {
	// EventType returns the discriminator
	EventType() EventType

	// TradeRef returns the trade context (nil for global events)
	TradeRef() *uint64
}

func (et EventType) String() string {
	switch et {
	case EventTypeTradeCreated:
		return "TradeCreated"
	case EventTypeTradeFunded:
		return "TradeFunded"
	case EventTypeTradeCancelled:
		return "TradeCancelled"
	case EventTypeTradeSettled:
		return "TradeSettled"
	case EventTypeTradeClaimed:
		return "TradeClaimed"
	case EventTypeOracleCreated:
		return "OracleCreated"
	case EventTypeOracleUpdated:
		return "OracleUpdated"
	case EventTypeFeesCollected:
		return "FeesCollected"
	case EventTypeFeeConfigUpdated:
		return "FeeConfigUpdated"
	case EventTypePaused:
		return "Paused"
	case EventTypeUnpaused:
		return "Unpaused"
	case EventTypeRoleGranted:
		return "RoleGranted"
	case EventTypeRoleRevoked:
		return "RoleRevoked"
	case EventTypeOracleWriterSet:
		return "OracleWriterSet"
	default:
		return "Unknown"
	}
}
