package math

import (
	"errors"
	stdmath "math"
	"math/big"
	"sync"
)

// ErrOverflow is returned when a fixed-point result does not fit in int64.
var ErrOverflow = errors.New("fixed-point overflow")

// MaxDecimals bounds the precision accepted for fee and price scales.
const MaxDecimals = 18

// int128Pool holds scratch big.Ints for intermediate products.
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0)
	int128Pool.Put(v)
}

type RoundingMode int

const (
	RoundDown RoundingMode = iota // floor for non-negative operands
	RoundHalfEven
	RoundUp
)

// AddChecked returns a + b, or ErrOverflow if the sum leaves the int64 range.
func AddChecked(a, b int64) (int64, error) {
	if (b > 0 && a > stdmath.MaxInt64-b) || (b < 0 && a < stdmath.MinInt64-b) {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// SubChecked returns a - b, or ErrOverflow if the difference leaves the int64 range.
func SubChecked(a, b int64) (int64, error) {
	if (b < 0 && a > stdmath.MaxInt64+b) || (b > 0 && a < stdmath.MinInt64+b) {
		return 0, ErrOverflow
	}
	return a - b, nil
}

// Pow10 returns 10^exp for 0 <= exp <= MaxDecimals.
func Pow10(exp int) (int64, error) {
	if exp < 0 || exp > MaxDecimals {
		return 0, ErrOverflow
	}
	v := int64(1)
	for i := 0; i < exp; i++ {
		v *= 10
	}
	return v, nil
}

// MulDiv computes a * b / denominator with a 128-bit intermediate product.
func MulDiv(a, b, denominator int64, mode RoundingMode) (int64, error) {
	if denominator <= 0 {
		return 0, errors.New("denominator must be positive")
	}

	product := getInt128()
	defer putInt128(product)
	product.Mul(big.NewInt(a), big.NewInt(b))

	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()
	defer putInt128(quotient)
	defer putInt128(remainder)

	// Euclidean division with a positive denominator: floor, remainder >= 0.
	quotient.DivMod(product, denom, remainder)

	switch mode {
	case RoundUp:
		if remainder.Sign() != 0 {
			quotient.Add(quotient, big.NewInt(1))
		}
	case RoundHalfEven:
		twice := new(big.Int).Lsh(remainder, 1)
		cmp := twice.CmpAbs(denom)
		if cmp > 0 || (cmp == 0 && quotient.Bit(0) == 1) {
			quotient.Add(quotient, big.NewInt(1))
		}
	}

	if !quotient.IsInt64() {
		return 0, ErrOverflow
	}
	return quotient.Int64(), nil
}

// BasisPointsOf returns floor(amount * bps / 10^decimals).
// amount and bps must be non-negative.
func BasisPointsOf(amount, bps int64, decimals int) (int64, error) {
	if amount < 0 || bps < 0 {
		return 0, errors.New("negative operand")
	}
	scale, err := Pow10(decimals)
	if err != nil {
		return 0, err
	}
	return MulDiv(amount, bps, scale, RoundDown)
}
