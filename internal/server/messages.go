package server

import (
	"OptionEscrow/internal/oracle"
	"OptionEscrow/internal/query"
	"encoding/json"
)

type Empty struct{}

// SubmitRequest carries a command payload in the NATS wire format.
type SubmitRequest struct {
	CommandType string          `json:"command_type"`
	Payload     json.RawMessage `json:"payload"`
}

type SubmitResponse struct {
	Sequence  int64            `json:"sequence"`
	StateHash string           `json:"state_hash"`
	TradeID   *uint64          `json:"trade_id,omitempty"`
	Events    []string         `json:"events"`
	Trade     *query.TradeView `json:"trade,omitempty"`
}

type GetTradeRequest struct {
	TradeID uint64 `json:"trade_id"`
}

type ListTradesRequest struct {
	State       string `json:"state,omitempty"`
	Participant string `json:"participant,omitempty"`
	Offset      int    `json:"offset,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

type ListTradesResponse struct {
	Trades []query.TradeView `json:"trades"`
}

type GetTradeJournalRequest struct {
	TradeID       uint64 `json:"trade_id"`
	Limit         int    `json:"limit,omitempty"`
	AfterSequence *int64 `json:"after_sequence,omitempty"`
}

type GetTradeJournalResponse struct {
	Entries []query.JournalEntry `json:"entries"`
}

type CollateralFees struct {
	Collateral  string       `json:"collateral"`
	Collectable query.Amount `json:"collectable"`
	Escrowed    query.Amount `json:"escrowed"`
}

type FeesResponse struct {
	query.FeeView
	Collaterals []CollateralFees `json:"collaterals"`
}

type GetOraclePriceRequest struct {
	OracleRef string `json:"oracle_ref"`
	Index     uint64 `json:"index"`
}

type OraclePriceResponse struct {
	OracleRef string `json:"oracle_ref"`
	Index     uint64 `json:"index"`
	Price     int64  `json:"price"`
	Timestamp int64  `json:"timestamp"`
}

type GetOracleSourcesRequest struct {
	OracleRef string `json:"oracle_ref"`
}

// OracleSourcesResponse lists the live indices of a writable oracle.
type OracleSourcesResponse struct {
	OracleRef string          `json:"oracle_ref"`
	Sources   []oracle.Record `json:"sources"`
}

type StatusResponse struct {
	Sequence  int64               `json:"sequence"`
	StateHash string              `json:"state_hash"`
	Paused    bool                `json:"paused"`
	Roles     map[string][]string `json:"roles"`
}

// MintRequest drives the in-process development token. Amount is in whole
// units ("1.5").
type MintRequest struct {
	Caller string `json:"caller"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// ApproveRequest lets owner grant the custody account an allowance on the
// development token.
type ApproveRequest struct {
	Owner  string `json:"owner"`
	Amount string `json:"amount"`
}

type BalanceRequest struct {
	Account string `json:"account"`
}

type BalanceResponse struct {
	Account   string       `json:"account"`
	Balance   query.Amount `json:"balance"`
	Allowance query.Amount `json:"allowance"`
}

type RebuildResponse struct {
	Rebuilt bool `json:"rebuilt"`
}
