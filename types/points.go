package types

import "strconv"

// Points represents a loyalty point quantity. All arithmetic is
// integer-only — there is no fractional unit and no currency dimension.
//
// Balances (pool and account) are never negative; transfer amounts are
// always positive. Those invariants are enforced at the store layer, not
// here: Points itself is a plain signed integer so that deltas and
// subtraction behave naturally.
type Points int64

// P is shorthand for constructing a Points value.
func P(n int64) Points { return Points(n) }

// Int64 returns the raw integer value.
func (p Points) Int64() int64 { return int64(p) }

// Arithmetic operations

// Add adds two Points values.
func (p Points) Add(other Points) Points { return p + other }

// Subtract subtracts another Points value. The result may be negative;
// callers validate balances before applying deltas.
func (p Points) Subtract(other Points) Points { return p - other }

// Multiply multiplies the Points by a quantity.
func (p Points) Multiply(qty int64) Points { return p * Points(qty) }

// Negate returns the negative of the Points value.
func (p Points) Negate() Points { return -p }

// Abs returns the absolute value.
func (p Points) Abs() Points {
	if p < 0 {
		return -p
	}
	return p
}

// Comparison methods

// IsZero returns true if the value is zero.
func (p Points) IsZero() bool { return p == 0 }

// IsPositive returns true if the value is greater than zero.
func (p Points) IsPositive() bool { return p > 0 }

// IsNegative returns true if the value is less than zero.
func (p Points) IsNegative() bool { return p < 0 }

// Covers returns true if a balance of p can pay out amount without going
// negative.
func (p Points) Covers(amount Points) bool { return p >= amount }

// Min returns the smaller of two Points values.
func (p Points) Min(other Points) Points {
	if p < other {
		return p
	}
	return other
}

// Max returns the larger of two Points values.
func (p Points) Max(other Points) Points {
	if p > other {
		return p
	}
	return other
}

// String returns a human-readable representation, e.g. "250 pts".
func (p Points) String() string {
	return strconv.FormatInt(int64(p), 10) + " pts"
}

// SumPoints calculates the sum of multiple Points values.
func SumPoints(values ...Points) Points {
	var total Points
	for _, v := range values {
		total += v
	}
	return total
}
