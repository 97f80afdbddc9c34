package ledger

import (
	"OptionEscrow/internal/event"
	"fmt"
	"strconv"
	"strings"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeTrade AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// Trade sub-types
	SubTypeDeposit AccountSubType = iota
	SubTypeClaimable

	// System sub-types
	SubTypeFees

	// External sub-types
	SubTypeCollateral
)

// AccountKey is the in-memory key for balance tracking.
// TradeID and Side are only meaningful for trade-scoped accounts.
type AccountKey struct {
	Scope   AccountScope
	TradeID uint64
	Side    event.Side
	SubType AccountSubType
	Asset   string
}

// NewTradeAccountKey creates a key for a trade side's custody account
func NewTradeAccountKey(tradeID uint64, side event.Side, subType AccountSubType, asset string) AccountKey {
	return AccountKey{
		Scope:   AccountScopeTrade,
		TradeID: tradeID,
		Side:    side,
		SubType: subType,
		Asset:   asset,
	}
}

// NewFeesAccountKey creates the per-asset protocol fee pool key
func NewFeesAccountKey(asset string) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		SubType: SubTypeFees,
		Asset:   asset,
	}
}

// NewExternalAccountKey creates the boundary account for an asset. Its
// balance is the negated amount held in custody.
func NewExternalAccountKey(asset string) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: SubTypeCollateral,
		Asset:   asset,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeTrade:
		return fmt.Sprintf("trade:%d:%s:%s", k.TradeID, k.Side, k.subTypeName())
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), k.Asset)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), k.Asset)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeDeposit:
		return "deposit"
	case SubTypeClaimable:
		return "claimable"
	case SubTypeFees:
		return "fees"
	case SubTypeCollateral:
		return "collateral"
	default:
		return "unknown"
	}
}

var subTypesByName = map[string]AccountSubType{
	"deposit":    SubTypeDeposit,
	"claimable":  SubTypeClaimable,
	"fees":       SubTypeFees,
	"collateral": SubTypeCollateral,
}

// ParseAccountPath is the inverse of AccountPath. Trade paths do not carry
// the asset, so it is supplied separately.
func ParseAccountPath(path, asset string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	bad := func() (AccountKey, error) {
		return AccountKey{}, fmt.Errorf("bad account path %q", path)
	}

	switch {
	case len(parts) == 4 && parts[0] == "trade":
		id, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return bad()
		}
		side, err := event.ParseSide(parts[2])
		if err != nil {
			return bad()
		}
		sub, ok := subTypesByName[parts[3]]
		if !ok {
			return bad()
		}
		return NewTradeAccountKey(id, side, sub, asset), nil

	case len(parts) == 3 && parts[0] == "system" && parts[1] == "fees":
		return NewFeesAccountKey(parts[2]), nil

	case len(parts) == 3 && parts[0] == "external" && parts[1] == "collateral":
		return NewExternalAccountKey(parts[2]), nil
	}
	return bad()
}
