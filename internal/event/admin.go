package event

import "github.com/ethereum/go-ethereum/common"

type OracleCreated struct {
	OracleRef string         `json:"oracle_ref"`
	Index     uint64         `json:"index"`
	Source    string         `json:"source"`
	Writer    common.Address `json:"writer"`
}

func (e *OracleCreated) EventType() EventType { return EventTypeOracleCreated }
func (e *OracleCreated) TradeRef() *uint64    { return nil }

type OracleUpdated struct {
	OracleRef string `json:"oracle_ref"`
	Index     uint64 `json:"index"`
	Price     int64  `json:"price"`
	Timestamp int64  `json:"timestamp"`
}

func (e *OracleUpdated) EventType() EventType { return EventTypeOracleUpdated }
func (e *OracleUpdated) TradeRef() *uint64    { return nil }

// OracleWriterSet reassigns who may write an oracle index.
type OracleWriterSet struct {
	OracleRef string         `json:"oracle_ref"`
	Index     uint64         `json:"index"`
	Writer    common.Address `json:"writer"`
	By        common.Address `json:"by"`
}

func (e *OracleWriterSet) EventType() EventType { return EventTypeOracleWriterSet }
func (e *OracleWriterSet) TradeRef() *uint64    { return nil }

type FeesCollected struct {
	Collateral string         `json:"collateral"`
	Amount     int64          `json:"amount"`
	Receiver   common.Address `json:"receiver"`
}

func (e *FeesCollected) EventType() EventType { return EventTypeFeesCollected }
func (e *FeesCollected) TradeRef() *uint64    { return nil }

type FeeConfigUpdated struct {
	FeeBps      int64          `json:"fee_bps"`
	FeeDecimals int            `json:"fee_decimals"`
	Receiver    common.Address `json:"receiver"`
}

func (e *FeeConfigUpdated) EventType() EventType { return EventTypeFeeConfigUpdated }
func (e *FeeConfigUpdated) TradeRef() *uint64    { return nil }

type Paused struct {
	By common.Address `json:"by"`
}

func (e *Paused) EventType() EventType { return EventTypePaused }
func (e *Paused) TradeRef() *uint64    { return nil }

type Unpaused struct {
	By common.Address `json:"by"`
}

func (e *Unpaused) EventType() EventType { return EventTypeUnpaused }
func (e *Unpaused) TradeRef() *uint64    { return nil }

type RoleGranted struct {
	Role    string         `json:"role"`
	Account common.Address `json:"account"`
	By      common.Address `json:"by"`
}

func (e *RoleGranted) EventType() EventType { return EventTypeRoleGranted }
func (e *RoleGranted) TradeRef() *uint64    { return nil }

type RoleRevoked struct {
	Role    string         `json:"role"`
	Account common.Address `json:"account"`
	By      common.Address `json:"by"`
}

func (e *RoleRevoked) EventType() EventType { return EventTypeRoleRevoked }
func (e *RoleRevoked) TradeRef() *uint64    { return nil }
