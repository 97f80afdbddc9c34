// Package token is an in-process fungible collateral asset with mintable
// supply. It stands in for an on-chain ERC-20 in the dev daemon and tests:
// plain transfers, no fee-on-transfer, no rebasing.
package token

import (
	"OptionEscrow/internal/errs"
	fpmath "OptionEscrow/internal/math"
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

// Token tracks balances and allowances for one asset.
type Token struct {
	name     string
	symbol   string
	decimals int32

	mu          sync.RWMutex
	balances    map[common.Address]int64
	allowances  map[allowanceKey]int64
	totalSupply int64
}

func New(name, symbol string, decimals int32) *Token {
	return &Token{
		name:       name,
		symbol:     symbol,
		decimals:   decimals,
		balances:   make(map[common.Address]int64),
		allowances: make(map[allowanceKey]int64),
	}
}

func (t *Token) Name() string    { return t.name }
func (t *Token) Symbol() string  { return t.symbol }
func (t *Token) Decimals() int32 { return t.decimals }

func (t *Token) TotalSupply() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totalSupply
}

func (t *Token) BalanceOf(account common.Address) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.balances[account]
}

func (t *Token) Allowance(owner, spender common.Address) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.allowances[allowanceKey{owner, spender}]
}

// Mint creates amount new units for to.
func (t *Token) Mint(to common.Address, amount int64) error {
	if amount <= 0 {
		return errs.Validation(errs.ReasonNonPositive, "mint %d", amount)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	supply, err := fpmath.AddChecked(t.totalSupply, amount)
	if err != nil {
		return errs.Validation(errs.ReasonAmountOverflow, "total supply")
	}
	t.totalSupply = supply
	t.balances[to] += amount
	return nil
}

// Approve sets the amount spender may move on behalf of owner.
func (t *Token) Approve(owner, spender common.Address, amount int64) error {
	if amount < 0 {
		return errs.Validation(errs.ReasonNonPositive, "approve %d", amount)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.allowances[allowanceKey{owner, spender}] = amount
	return nil
}

// Transfer moves amount from the caller's balance to to.
func (t *Token) Transfer(_ context.Context, from, to common.Address, amount int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(from, to, amount)
}

// TransferFrom moves amount from owner to to, spending spender's allowance.
func (t *Token) TransferFrom(_ context.Context, spender, owner, to common.Address, amount int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := allowanceKey{owner, spender}
	if t.allowances[key] < amount {
		return errs.Validation(errs.ReasonInsufficientAllw, "owner=%s have=%d need=%d",
			owner.Hex(), t.allowances[key], amount)
	}
	if err := t.move(owner, to, amount); err != nil {
		return err
	}
	t.allowances[key] -= amount
	return nil
}

func (t *Token) move(from, to common.Address, amount int64) error {
	if amount <= 0 {
		return errs.Validation(errs.ReasonNonPositive, "transfer %d", amount)
	}
	if t.balances[from] < amount {
		return errs.Validation(errs.ReasonInsufficient, "account=%s have=%d need=%d",
			from.Hex(), t.balances[from], amount)
	}
	t.balances[from] -= amount
	t.balances[to] += amount
	return nil
}

// Format renders amount in whole units, e.g. 1050000 with 6 decimals -> "1.05".
func (t *Token) Format(amount int64) string {
	return decimal.New(amount, -t.decimals).String()
}

// ParseUnits converts a human amount ("1.05") to base units, truncating
// digits beyond the token's precision.
func (t *Token) ParseUnits(v string) (int64, error) {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return 0, errs.Validation(errs.ReasonNonPositive, "amount %q: %v", v, err)
	}
	scaled := d.Shift(t.decimals).Truncate(0)
	if !scaled.BigInt().IsInt64() {
		return 0, errs.Validation(errs.ReasonAmountOverflow, "amount %q", v)
	}
	return scaled.IntPart(), nil
}
