// Package bound evaluates the two analytic bounds of the explicit-formula
// inequality: the missing-zero guard iota(η) and the truncated logarithmic
// derivative −L'/L(1−δ, χ_d) with its remainder bound.
package bound

import (
	"fmt"
	"math"

	"github.com/cockroachdb/apd/v3"

	"github.com/uyen-nguyen-190304/GRH-verification/internal/arith"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/errs"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/precision"
)

// MinK is the smallest truncation bound for which the remainder bound holds.
const MinK = 18

// IotaTerms returns the two closed forms whose minimum is iota(η):
//
//	term1 = 1/(1+η²) + 2/(4+η²)
//	term2 = 12/(9+4η²)
func IotaTerms(pc *precision.Context, eta *apd.Decimal) (term1, term2 *apd.Decimal, err error) {
	if eta.Sign() < 0 {
		return nil, nil, fmt.Errorf("%w: iota height η=%s must be non-negative", errs.ErrInvalidInput, eta)
	}
	calc := pc.Calc()
	eta2 := calc.Mul(eta, eta)
	term1 = calc.Add(
		calc.Quo(precision.Int(1), calc.Add(precision.Int(1), eta2)),
		calc.Quo(precision.Int(2), calc.Add(precision.Int(4), eta2)),
	)
	term2 = calc.Quo(precision.Int(12), calc.Add(precision.Int(9), calc.Mul(precision.Int(4), eta2)))
	if err := calc.Err(); err != nil {
		return nil, nil, fmt.Errorf("iota(%s): %w", eta, err)
	}
	return term1, term2, nil
}

// Iota bounds the total contribution of zeros the verification window may
// have missed up to height η.
func Iota(pc *precision.Context, eta *apd.Decimal) (*apd.Decimal, error) {
	term1, term2, err := IotaTerms(pc, eta)
	if err != nil {
		return nil, err
	}
	return pc.Calc().Min(term1, term2), nil
}

// TailBound is the analytic bound on the truncation error of the series past
// K:
//
//	(K^δ/δ)·(2.85·(2δ−1)/ln K − 1)
func TailBound(pc *precision.Context, delta, K int) (*apd.Decimal, error) {
	if delta >= 0 {
		return nil, fmt.Errorf("%w: δ=%d must be a negative integer", errs.ErrInvalidInput, delta)
	}
	if K < MinK {
		return nil, fmt.Errorf("%w: K=%d must be at least %d", errs.ErrInvalidBound, K, MinK)
	}
	calc := pc.Calc()
	k := precision.Int(int64(K))
	d := precision.Int(int64(delta))
	scale := calc.Quo(calc.Pow(k, d), d)
	inner := calc.Sub(
		calc.Quo(calc.Mul(apd.New(285, -2), precision.Int(int64(2*delta-1))), calc.Ln(k)),
		precision.Int(1),
	)
	tail := calc.Mul(scale, inner)
	if err := calc.Err(); err != nil {
		return nil, fmt.Errorf("tail bound δ=%d K=%d: %w", delta, K, err)
	}
	return tail, nil
}

// LogarithmicDerivative approximates L'/L(1−δ, χ_d) for a negative integer δ
// by the truncated series
//
//	−Σ_{k=1}^{K} Λ(k)·χ(k) / k^{1−δ}
//
// K is the common length of chi and lambda. With includeTail the remainder
// bound is added, giving a quantity usable on the RHS of the inequality;
// comparisons against an independent estimate of L'/L must omit it.
func LogarithmicDerivative(pc *precision.Context, delta int, chi *arith.Character, lambda *arith.VonMangoldt, includeTail bool) (*apd.Decimal, error) {
	if delta >= 0 {
		return nil, fmt.Errorf("%w: δ=%d must be a negative integer", errs.ErrInvalidInput, delta)
	}
	K := chi.K()
	if lambda.K() != K {
		return nil, fmt.Errorf("%w: χ covers K=%d but Λ covers K=%d", errs.ErrInvalidBound, K, lambda.K())
	}
	if K < MinK {
		return nil, fmt.Errorf("%w: K=%d must be at least %d", errs.ErrInvalidBound, K, MinK)
	}

	s := 1 - delta
	calc := pc.Calc()
	total := new(apd.Decimal)
	for k := 2; k <= K && calc.Err() == nil; k++ {
		c := chi.At(k)
		if c == 0 || !lambda.IsPrimePower(k) {
			continue
		}
		term := calc.Quo(lambda.At(k), power(calc, k, s))
		if c > 0 {
			total = calc.Sub(total, term)
		} else {
			total = calc.Add(total, term)
		}
	}
	if err := calc.Err(); err != nil {
		return nil, fmt.Errorf("logarithmic derivative d=%d K=%d: %w", chi.D(), K, err)
	}

	if includeTail {
		tail, err := TailBound(pc, delta, K)
		if err != nil {
			return nil, err
		}
		total = calc.Add(total, tail)
		if err := calc.Err(); err != nil {
			return nil, fmt.Errorf("logarithmic derivative tail: %w", err)
		}
	}
	return total, nil
}

// power returns k^s, exactly when it fits in an int64.
func power(calc *precision.Calc, k, s int) *apd.Decimal {
	p := int64(1)
	for i := 0; i < s; i++ {
		if p > math.MaxInt64/int64(k) {
			return calc.Pow(precision.Int(int64(k)), precision.Int(int64(s)))
		}
		p *= int64(k)
	}
	return precision.Int(p)
}
