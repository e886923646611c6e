package token

import (
	"math"
	"testing"

	"github.com/R3E-Network/securities_layer/internal/errors"
)

func TestAddAmountOverflow(t *testing.T) {
	if _, err := AddAmount(math.MaxUint64, 1); !errors.Is(err, errors.CodeArithmetic) {
		t.Fatalf("overflowing add: %v", err)
	}
	got, err := AddAmount(math.MaxUint64-1, 1)
	if err != nil || got != math.MaxUint64 {
		t.Fatalf("add at bound = %d, %v", got, err)
	}
}

func TestSubAmountUnderflow(t *testing.T) {
	if _, err := SubAmount(0, 1); !errors.Is(err, errors.CodeArithmetic) {
		t.Fatalf("underflowing sub: %v", err)
	}
	got, err := SubAmount(5, 5)
	if err != nil || got != 0 {
		t.Fatalf("sub to zero = %d, %v", got, err)
	}
}

func TestMulAmountOverflow(t *testing.T) {
	if _, err := MulAmount(math.MaxUint64, 2); !errors.Is(err, errors.CodeArithmetic) {
		t.Fatalf("overflowing mul: %v", err)
	}
	got, err := MulAmount(math.MaxUint64, 1)
	if err != nil || got != math.MaxUint64 {
		t.Fatalf("mul at bound = %d, %v", got, err)
	}
}

func TestMulDivAmount(t *testing.T) {
	// The intermediate product exceeds 64 bits but the quotient fits.
	got, err := MulDivAmount(math.MaxUint64, 1000, 2000)
	if err != nil {
		t.Fatalf("wide muldiv: %v", err)
	}
	if want := uint64(math.MaxUint64 / 2); got != want {
		t.Fatalf("muldiv = %d, want %d", got, want)
	}

	// Flooring.
	got, err = MulDivAmount(1000, 200, 1200)
	if err != nil || got != 166 {
		t.Fatalf("floor muldiv = %d, %v, want 166", got, err)
	}

	if _, err := MulDivAmount(1, 1, 0); !errors.Is(err, errors.CodeArithmetic) {
		t.Fatalf("zero denominator: %v", err)
	}
	// Quotient itself overflows 64 bits.
	if _, err := MulDivAmount(math.MaxUint64, 3, 2); !errors.Is(err, errors.CodeArithmetic) {
		t.Fatalf("overflowing quotient: %v", err)
	}
}
