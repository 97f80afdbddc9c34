package math_test

import (
	fpmath "OptionEscrow/internal/math"
	"errors"
	stdmath "math"
	"testing"
)

func TestAddChecked(t *testing.T) {
	tests := []struct {
		name    string
		a, b    int64
		want    int64
		wantErr bool
	}{
		{"small", 10, 100, 110, false},
		{"max boundary", stdmath.MaxInt64 - 1, 1, stdmath.MaxInt64, false},
		{"overflow", stdmath.MaxInt64, 1, 0, true},
		{"underflow", stdmath.MinInt64, -1, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fpmath.AddChecked(tt.a, tt.b)
			if tt.wantErr {
				if !errors.Is(err, fpmath.ErrOverflow) {
					t.Fatalf("expected ErrOverflow, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSubChecked(t *testing.T) {
	if v, err := fpmath.SubChecked(100, 1); err != nil || v != 99 {
		t.Errorf("100-1: got %d, %v", v, err)
	}
	if _, err := fpmath.SubChecked(stdmath.MinInt64, 1); !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("expected overflow, got %v", err)
	}
}

func TestMulDiv_Rounding(t *testing.T) {
	tests := []struct {
		name string
		mode fpmath.RoundingMode
		want int64
	}{
		{"down", fpmath.RoundDown, 3},
		{"up", fpmath.RoundUp, 4},
		{"half even", fpmath.RoundHalfEven, 4}, // 3.5 rounds to 4
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fpmath.MulDiv(7, 1, 2, tt.mode)
			if err != nil {
				t.Fatalf("MulDiv: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}

	// 2.5 rounds to 2 under banker's rounding
	if got, _ := fpmath.MulDiv(5, 1, 2, fpmath.RoundHalfEven); got != 2 {
		t.Errorf("half even 2.5: got %d, want 2", got)
	}
}

func TestMulDiv_LargeIntermediate(t *testing.T) {
	// The product exceeds int64 but the quotient does not.
	got, err := fpmath.MulDiv(stdmath.MaxInt64, 10, 100, fpmath.RoundDown)
	if err != nil {
		t.Fatalf("MulDiv: %v", err)
	}
	if got != stdmath.MaxInt64/10 {
		t.Errorf("got %d, want %d", got, int64(stdmath.MaxInt64/10))
	}

	if _, err := fpmath.MulDiv(stdmath.MaxInt64, 10, 1, fpmath.RoundDown); !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("expected overflow, got %v", err)
	}
}

func TestBasisPointsOf(t *testing.T) {
	// 1 bps of 100e5 with 4 decimals = 1000
	got, err := fpmath.BasisPointsOf(100*100_000, 1, 4)
	if err != nil {
		t.Fatalf("BasisPointsOf: %v", err)
	}
	if got != 1000 {
		t.Errorf("got %d, want 1000", got)
	}

	// floors
	got, _ = fpmath.BasisPointsOf(9_999, 1, 4)
	if got != 0 {
		t.Errorf("floor: got %d, want 0", got)
	}

	if _, err := fpmath.BasisPointsOf(-1, 1, 4); err == nil {
		t.Error("negative amount should fail")
	}
	if _, err := fpmath.BasisPointsOf(1, 1, fpmath.MaxDecimals+1); err == nil {
		t.Error("oversized decimals should fail")
	}
}
