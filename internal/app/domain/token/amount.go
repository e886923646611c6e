package token

import (
	"math/bits"

	"github.com/R3E-Network/securities_layer/internal/errors"
)

// Checked unsigned arithmetic. Violations are rejected, never wrapped or
// clamped.

// AddAmount returns a+b or an arithmetic error on overflow.
func AddAmount(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, errors.Arithmetic("addition overflow: %d + %d", a, b)
	}
	return sum, nil
}

// SubAmount returns a-b or an arithmetic error on underflow.
func SubAmount(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, errors.Arithmetic("subtraction underflow: %d - %d", a, b)
	}
	return diff, nil
}

// MulAmount returns a*b or an arithmetic error on overflow.
func MulAmount(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, errors.Arithmetic("multiplication overflow: %d * %d", a, b)
	}
	return lo, nil
}

// MulDivAmount returns floor(a*b/den) using a 128-bit intermediate product,
// so a*b may exceed 64 bits as long as the quotient fits.
func MulDivAmount(a, b, den uint64) (uint64, error) {
	if den == 0 {
		return 0, errors.Arithmetic("division by zero")
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= den {
		return 0, errors.Arithmetic("quotient overflow: %d * %d / %d", a, b, den)
	}
	quo, _ := bits.Div64(hi, lo, den)
	return quo, nil
}
