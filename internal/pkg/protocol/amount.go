package protocol

import "math/big"

// MultiplierDivisor is the basis-point denominator for appeal stake multipliers.
const MultiplierDivisor = 10000

func Zero() *big.Int {
	return new(big.Int)
}

// OrZero returns a copy of x, treating nil as zero.
func OrZero(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}

	return new(big.Int).Set(x)
}

func IsZero(x *big.Int) bool {
	return x == nil || x.Sign() == 0
}

// CappedSub returns a-b, or zero when b exceeds a.
func CappedSub(a, b *big.Int) *big.Int {
	a, b = OrZero(a), OrZero(b)
	if a.Cmp(b) <= 0 {
		return new(big.Int)
	}

	return a.Sub(a, b)
}

func Add(xs ...*big.Int) *big.Int {
	total := new(big.Int)
	for _, x := range xs {
		if x != nil {
			total.Add(total, x)
		}
	}

	return total
}

func Min(a, b *big.Int) *big.Int {
	a, b = OrZero(a), OrZero(b)
	if a.Cmp(b) <= 0 {
		return a
	}

	return b
}

// MulDiv computes floor(x*num/den); a zero denominator yields zero.
func MulDiv(x, num, den *big.Int) *big.Int {
	if IsZero(den) {
		return new(big.Int)
	}

	out := new(big.Int).Mul(OrZero(x), OrZero(num))

	return out.Quo(out, den)
}

// WithMultiplier returns cost + cost*multiplier/MultiplierDivisor.
func WithMultiplier(cost *big.Int, multiplier uint64) *big.Int {
	stake := MulDiv(cost, new(big.Int).SetUint64(multiplier), big.NewInt(MultiplierDivisor))

	return stake.Add(stake, OrZero(cost))
}
