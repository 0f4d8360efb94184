package math

import (
	"math/big"
	"sync"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	// Standard configs
	QuoteConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000} // 0.000001 quote units
	OddsConfig  = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000} // implied probability in (0, 1]
	RatioConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000} // PnL ratio, 1_000_000 = breakeven
	ShareConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000} // withdrawal share fraction
)

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// MultiplyInt128 performs a * b using int128 to prevent overflow
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// DivideInt128 performs numerator / denominator with rounding
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()

	quotient.DivMod(numerator, denom, remainder)

	// Apply rounding
	result := quotient.Int64()

	if roundingMode == RoundHalfEven {
		// Banker's rounding: if remainder == denominator/2, round to even
		half := big.NewInt(denominator / 2)
		cmp := remainder.Cmp(half)

		if cmp > 0 {
			// remainder > half: round up
			result++
		} else if cmp == 0 && denominator%2 == 0 {
			// remainder == half and even denominator: round to even
			if result%2 != 0 {
				result++
			}
		}
	}

	putInt128(quotient)
	putInt128(remainder)

	return result
}

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding (default)
	RoundDown
	RoundUp
)

// MulDiv computes a * b / denominator in int128 with banker's rounding.
func MulDiv(a, b, denominator int64) int64 {
	num := MultiplyInt128(a, b)
	result := DivideInt128(num, denominator, RoundHalfEven)
	putInt128(num)
	return result
}

// ComputePayout converts a buy-in and implied-probability odds into a payout.
// payout = buyIn * scale / odds. Odds of 500_000 (0.5) doubles the stake.
func ComputePayout(buyIn, odds int64) int64 {
	if odds <= 0 {
		return 0
	}
	return MulDiv(buyIn, OddsConfig.Scale, odds)
}

// ComputeLegRisk calculates the pool's liability for a single leg:
// risk = buyInShare/odds - buyInShare (the payout net of the stake riding on it).
func ComputeLegRisk(buyInShare, odds int64) int64 {
	return ComputePayout(buyInShare, odds) - buyInShare
}

// ComputeRatio calculates a PnL ratio numerator/denominator in ratio scale.
// Returns RatioConfig.Scale (breakeven) when denominator is zero.
func ComputeRatio(numerator, denominator int64) int64 {
	if denominator == 0 {
		return RatioConfig.Scale
	}
	return MulDiv(numerator, RatioConfig.Scale, denominator)
}

// ApplyRatio rebases an amount by a PnL ratio: amount * ratio / scale.
func ApplyRatio(amount, ratio int64) int64 {
	return MulDiv(amount, ratio, RatioConfig.Scale)
}

// ApplyShare takes a fractional share of an amount: amount * share / scale.
func ApplyShare(amount, share int64) int64 {
	return MulDiv(amount, share, ShareConfig.Scale)
}

// CompoundRatio multiplies two ratios: a * b / scale.
// Used for cumulative PnL across round boundaries.
func CompoundRatio(a, b int64) int64 {
	return MulDiv(a, b, RatioConfig.Scale)
}

// SplitEvenly divides an amount across n parts, assigning the remainder to
// the first part so that the parts always sum back to the whole.
func SplitEvenly(amount int64, n int) []int64 {
	if n <= 0 {
		return nil
	}
	parts := make([]int64, n)
	base := amount / int64(n)
	rem := amount - base*int64(n)
	for i := range parts {
		parts[i] = base
	}
	parts[0] += rem
	return parts
}

// Combinations computes n choose k, saturating at limit to bound the work
// of system-bet settlement. Returns limit+1 when the true value exceeds limit.
func Combinations(n, k, limit int64) int64 {
	if k < 0 || k > n {
		return 0
	}
	if k > n-k {
		k = n - k
	}
	result := int64(1)
	for i := int64(1); i <= k; i++ {
		result = result * (n - k + i) / i
		if result > limit {
			return limit + 1
		}
	}
	return result
}
