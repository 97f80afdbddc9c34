// Package errs defines the rejection taxonomy shared by every escrow component.
// Each rejection carries a Kind (matched with errors.Is against the sentinels
// below) and a machine-readable Reason.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a rejection.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindValidation
	KindConflict
	KindUnauthorized
	KindNotReady
	KindPaused
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotReady:
		return "not_ready"
	case KindPaused:
		return "paused"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Reason is the stable, machine-distinguishable cause of a rejection.
type Reason string

const (
	ReasonBadTimeWindow    Reason = "deposit end must precede settle start"
	ReasonNonPositive      Reason = "amount must be positive"
	ReasonAmountOverflow   Reason = "amount overflows"
	ReasonBadSide          Reason = "unknown side"
	ReasonBadAddress       Reason = "invalid address"
	ReasonBadFee           Reason = "fee percentage out of range"
	ReasonDepositClosed    Reason = "deposit is closed"
	ReasonSideTaken        Reason = "side already taken"
	ReasonNotBothSides     Reason = "at least one side is not taken"
	ReasonTooEarly         Reason = "settlement window not open"
	ReasonAlreadySettled   Reason = "trade already settled"
	ReasonNotSettled       Reason = "trade not settled"
	ReasonAlreadyClaimed   Reason = "side already claimed"
	ReasonNotCancellable   Reason = "trade cannot be cancelled"
	ReasonNotOpen          Reason = "trade is not open"
	ReasonCancelled        Reason = "trade cancelled"
	ReasonMissingRole      Reason = "caller lacks required role"
	ReasonNotParticipant   Reason = "caller is not a participant"
	ReasonNotWriter        Reason = "caller is not the oracle writer"
	ReasonReadOnlyOracle   Reason = "oracle is read-only"
	ReasonPaused           Reason = "paused"
	ReasonNotPaused        Reason = "not paused"
	ReasonUnknownTrade     Reason = "unknown trade"
	ReasonUnknownIndex     Reason = "unknown oracle index"
	ReasonUnknownOracle    Reason = "unknown oracle reference"
	ReasonUnknownAsset     Reason = "unknown collateral"
	ReasonDuplicate        Reason = "already registered"
	ReasonInsufficient     Reason = "insufficient balance"
	ReasonInsufficientAllw Reason = "insufficient allowance"
	ReasonNoFees           Reason = "no collectable fees"
	ReasonNoFeeReceiver    Reason = "fee receiver not set"
	ReasonBadPrice         Reason = "price out of range"
	ReasonUnknownCommand   Reason = "unknown command"
	ReasonNotProjected     Reason = "not projected yet"
	ReasonBadRequest       Reason = "malformed request"
)

// Error is a classified rejection.
type Error struct {
	Kind   Kind
	Reason Reason
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Reason, e.Detail)
}

// Is reports a match against the Kind sentinels and against other *Error
// values carrying the same Kind and Reason.
func (e *Error) Is(target error) bool {
	var s *sentinel
	if errors.As(target, &s) {
		return s.kind == e.Kind
	}
	var o *Error
	if errors.As(target, &o) {
		return o.Kind == e.Kind && o.Reason == e.Reason
	}
	return false
}

type sentinel struct {
	kind Kind
}

func (s *sentinel) Error() string { return s.kind.String() }

var (
	ErrValidation   error = &sentinel{kind: KindValidation}
	ErrConflict     error = &sentinel{kind: KindConflict}
	ErrUnauthorized error = &sentinel{kind: KindUnauthorized}
	ErrNotReady     error = &sentinel{kind: KindNotReady}
	ErrPaused       error = &sentinel{kind: KindPaused}
	ErrNotFound     error = &sentinel{kind: KindNotFound}
)

func newError(kind Kind, reason Reason, format string, args ...any) *Error {
	e := &Error{Kind: kind, Reason: reason}
	if format != "" {
		e.Detail = fmt.Sprintf(format, args...)
	}
	return e
}

func Validation(reason Reason, format string, args ...any) *Error {
	return newError(KindValidation, reason, format, args...)
}

func Conflict(reason Reason, format string, args ...any) *Error {
	return newError(KindConflict, reason, format, args...)
}

func Unauthorized(reason Reason, format string, args ...any) *Error {
	return newError(KindUnauthorized, reason, format, args...)
}

func NotReady(reason Reason, format string, args ...any) *Error {
	return newError(KindNotReady, reason, format, args...)
}

func Paused() *Error {
	return newError(KindPaused, ReasonPaused, "")
}

func NotFound(reason Reason, format string, args ...any) *Error {
	return newError(KindNotFound, reason, format, args...)
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ReasonOf returns the Reason of the first *Error in err's chain, or "".
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}
