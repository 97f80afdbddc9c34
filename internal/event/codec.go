package event

import (
	"encoding/json"
	"fmt"
)

// Tagged is the wire form of an event: discriminator plus body.
type Tagged struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EncodeAll serializes events into the envelope payload format.
func EncodeAll(events []Event) ([]byte, error) {
	out := make([]Tagged, 0, len(events))
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", e.EventType(), err)
		}
		out = append(out, Tagged{Type: e.EventType().String(), Data: data})
	}
	return json.Marshal(out)
}

// DecodeAll is the inverse of EncodeAll.
func DecodeAll(payload []byte) ([]Event, error) {
	var tagged []Tagged
	if err := json.Unmarshal(payload, &tagged); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	events := make([]Event, 0, len(tagged))
	for _, t := range tagged {
		e := newByName(t.Type)
		if e == nil {
			return nil, fmt.Errorf("unknown event type %q", t.Type)
		}
		if err := json.Unmarshal(t.Data, e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", t.Type, err)
		}
		events = append(events, e)
	}
	return events, nil
}

func newByName(name string) Event {
	switch name {
	case "TradeCreated":
		return &TradeCreated{}
	case "TradeFunded":
		return &TradeFunded{}
	case "TradeCancelled":
		return &TradeCancelled{}
	case "TradeSettled":
		return &TradeSettled{}
	case "TradeClaimed":
		return &TradeClaimed{}
	case "OracleCreated":
		return &OracleCreated{}
	case "OracleUpdated":
		return &OracleUpdated{}
	case "FeesCollected":
		return &FeesCollected{}
	case "FeeConfigUpdated":
		return &FeeConfigUpdated{}
	case "Paused":
		return &Paused{}
	case "Unpaused":
		return &Unpaused{}
	case "RoleGranted":
		return &RoleGranted{}
	case "RoleRevoked":
		return &RoleRevoked{}
	case "OracleWriterSet":
		return &OracleWriterSet{}
	}
	return nil
}
