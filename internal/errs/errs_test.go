package errs_test

import (
	"OptionEscrow/internal/errs"
	"errors"
	"fmt"
	"testing"
)

func TestError_IsMatchesKindSentinel(t *testing.T) {
	err := errs.Conflict(errs.ReasonSideTaken, "trade %d", 7)

	if !errors.Is(err, errs.ErrConflict) {
		t.Error("conflict error should match ErrConflict")
	}
	if errors.Is(err, errs.ErrValidation) {
		t.Error("conflict error should not match ErrValidation")
	}
}

func TestError_IsThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("fund side: %w", errs.Validation(errs.ReasonDepositClosed, ""))

	if !errors.Is(wrapped, errs.ErrValidation) {
		t.Error("wrapped error should match ErrValidation")
	}
	if errs.ReasonOf(wrapped) != errs.ReasonDepositClosed {
		t.Errorf("reason: got %q, want %q", errs.ReasonOf(wrapped), errs.ReasonDepositClosed)
	}
	if errs.KindOf(wrapped) != errs.KindValidation {
		t.Errorf("kind: got %s", errs.KindOf(wrapped))
	}
}

func TestError_IsMatchesSameReason(t *testing.T) {
	a := errs.NotReady(errs.ReasonTooEarly, "now=1")
	b := errs.NotReady(errs.ReasonTooEarly, "")
	c := errs.NotReady(errs.ReasonNotBothSides, "")

	if !errors.Is(a, b) {
		t.Error("same kind and reason should match")
	}
	if errors.Is(a, c) {
		t.Error("different reasons should not match")
	}
}

func TestError_Message(t *testing.T) {
	err := errs.Unauthorized(errs.ReasonMissingRole, "role=%s", "FEE_COLLECTOR")
	want := "unauthorized: caller lacks required role (role=FEE_COLLECTOR)"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}

	if errs.Paused().Error() != "paused: paused" {
		t.Errorf("paused message: %q", errs.Paused().Error())
	}
}

func TestReasonOf_PlainError(t *testing.T) {
	if errs.ReasonOf(errors.New("boom")) != "" {
		t.Error("plain errors carry no reason")
	}
	if errs.KindOf(errors.New("boom")) != errs.KindUnknown {
		t.Error("plain errors have unknown kind")
	}
}
