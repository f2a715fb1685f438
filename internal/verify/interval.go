package verify

import (
	"fmt"

	"github.com/cockroachdb/apd/v3"

	"github.com/uyen-nguyen-190304/GRH-verification/internal/errs"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/precision"
)

// SymmetricTolerance is the absolute bound on |γ⁻ + γ⁺| under which an
// interval is treated as symmetric about the real axis.
var SymmetricTolerance = apd.New(1, -12)

// Interval encloses one zero ordinate: (Gamma − ε, Gamma + ε).
type Interval struct {
	Gamma *apd.Decimal
	Lower *apd.Decimal
	Upper *apd.Decimal
}

// NewInterval builds (γ − ε, γ + ε) at the working precision.
func NewInterval(pc *precision.Context, gamma, eps *apd.Decimal) (Interval, error) {
	if eps.Sign() < 0 {
		return Interval{}, fmt.Errorf("%w: interval half-width ε=%s is negative", errs.ErrInvalidInput, eps)
	}
	calc := pc.Calc()
	iv := Interval{
		Gamma: new(apd.Decimal).Set(gamma),
		Lower: calc.Sub(gamma, eps),
		Upper: calc.Add(gamma, eps),
	}
	if err := calc.Err(); err != nil {
		return Interval{}, fmt.Errorf("interval around %s: %w", gamma, err)
	}
	return iv, nil
}

// Contribution is the amount one zero interval adds to the LHS:
//
//	symmetric  (−γ₀, γ₀):  6/(9 + 4γ₀²)
//	otherwise  (γ⁻, γ⁺):   12/(9 + 4(γ⁺)²)
func Contribution(pc *precision.Context, iv Interval) (*apd.Decimal, error) {
	calc := pc.Calc()
	num := precision.Int(12)
	g := iv.Upper
	if calc.Abs(calc.Add(iv.Lower, iv.Upper)).Cmp(SymmetricTolerance) <= 0 {
		num = precision.Int(6)
		g = calc.Abs(iv.Upper)
	}
	c := calc.Quo(num, calc.Add(precision.Int(9), calc.Mul(precision.Int(4), calc.Mul(g, g))))
	if err := calc.Err(); err != nil {
		return nil, fmt.Errorf("contribution of (%s, %s): %w", iv.Lower, iv.Upper, err)
	}
	return c, nil
}

// RHSConstant is the discriminant-dependent constant of the RHS:
//
//	d < 0:  ½·ln(|d|·e² / (4π·e^γ))
//	d > 0:  ½·ln(|d| / (π·e^γ))
//
// where γ is the Euler–Mascheroni constant.
func RHSConstant(pc *precision.Context, d int64) (*apd.Decimal, error) {
	if d == 0 {
		return nil, fmt.Errorf("%w: discriminant must be nonzero", errs.ErrInvalidInput)
	}
	abs := d
	if abs < 0 {
		abs = -abs
	}
	calc := pc.Calc()
	e := pc.E()
	denom := calc.Mul(pc.Pi(), calc.Exp(pc.Euler()))
	num := precision.Int(abs)
	if d < 0 {
		num = calc.Mul(num, calc.Mul(e, e))
		denom = calc.Mul(precision.Int(4), denom)
	}
	c := calc.Mul(apd.New(5, -1), calc.Ln(calc.Quo(num, denom)))
	if err := calc.Err(); err != nil {
		return nil, fmt.Errorf("rhs constant d=%d: %w", d, err)
	}
	return c, nil
}
