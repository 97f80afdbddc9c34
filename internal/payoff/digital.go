// Package payoff computes the digital (binary) option split at settlement.
// Everything here is pure: no state, no I/O, no clock.
package payoff

import (
	"OptionEscrow/internal/errs"
	fpmath "OptionEscrow/internal/math"
)

// Params are the payoff terms fixed at trade creation.
type Params struct {
	Strike      int64  `json:"strike"`
	IsCallLike  bool   `json:"is_call_like"`
	OracleRef   string `json:"oracle_ref"`
	OracleIndex uint64 `json:"oracle_index"`
}

// Split is the claimable division of the locked amounts.
type Split struct {
	BuyerShare  int64
	SellerShare int64
}

// Total returns BuyerShare + SellerShare.
func (s Split) Total() int64 {
	return s.BuyerShare + s.SellerShare
}

// InTheMoney reports whether the buyer's digital pays out at observedPrice.
// Call-like positions pay at or above the strike; put-like strictly below.
func InTheMoney(strike int64, isCallLike bool, observedPrice int64) bool {
	if isCallLike {
		return observedPrice >= strike
	}
	return observedPrice < strike
}

// Compute maps the observed price to a split of premium (locked by the buyer)
// and digital (locked by the seller). BuyerShare + SellerShare always equals
// premium + digital.
func Compute(p Params, observedPrice, premium, digital int64) (Split, error) {
	if premium < 0 || digital < 0 {
		return Split{}, errs.Validation(errs.ReasonNonPositive, "premium=%d digital=%d", premium, digital)
	}
	total, err := fpmath.AddChecked(premium, digital)
	if err != nil {
		return Split{}, errs.Validation(errs.ReasonAmountOverflow, "premium=%d digital=%d", premium, digital)
	}

	if InTheMoney(p.Strike, p.IsCallLike, observedPrice) {
		return Split{BuyerShare: digital, SellerShare: premium}, nil
	}
	return Split{BuyerShare: 0, SellerShare: total}, nil
}
