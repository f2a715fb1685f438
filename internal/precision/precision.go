// Package precision carries the decimal working precision of a verification
// run. Every bound computation receives a *Context explicitly; nothing in the
// module reads a process-wide precision setting.
package precision

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/apd/v3"

	"github.com/uyen-nguyen-190304/GRH-verification/internal/errs"
)

const (
	// DefaultDigits is the working precision used when none is configured.
	DefaultDigits = 50

	// MinDigits is the smallest precision that still resolves LHS/RHS
	// comparisons near the crossover.
	MinDigits = 30

	// guardDigits is the slack kept between the working precision and the
	// margin below which a comparison counts as a tie.
	guardDigits = 8

	// extraDigits is added when computing constants so that rounding them to
	// the working precision is exact in the last place.
	extraDigits = 10
)

// Context is an immutable decimal working precision.
type Context struct {
	digits uint32
	dec    *apd.Context
}

// New returns a Context with the given number of significant decimal digits.
func New(digits uint32) (*Context, error) {
	if digits < MinDigits {
		return nil, fmt.Errorf("%w: precision %d below minimum of %d digits", errs.ErrInvalidInput, digits, MinDigits)
	}
	return &Context{
		digits: digits,
		dec:    apd.BaseContext.WithPrecision(digits),
	}, nil
}

// MustNew is New for compile-time constants; it panics on error.
func MustNew(digits uint32) *Context {
	c, err := New(digits)
	if err != nil {
		panic(err)
	}
	return c
}

// Digits returns the number of significant decimal digits.
func (c *Context) Digits() uint32 { return c.digits }

// Dec exposes the underlying apd context.
func (c *Context) Dec() *apd.Context { return c.dec }

// Calc starts a new error-latching calculation at this precision.
func (c *Context) Calc() *Calc { return &Calc{ctx: c.dec} }

// Tie returns the margin below which two O(1) quantities are considered
// indistinguishable at this precision: 10^-(digits-8).
func (c *Context) Tie() *apd.Decimal {
	return apd.New(1, -int32(c.digits-guardDigits))
}

// Pi returns π rounded to the working precision.
func (c *Context) Pi() *apd.Decimal { return c.constant(kindPi) }

// E returns e rounded to the working precision.
func (c *Context) E() *apd.Decimal { return c.constant(kindE) }

// Euler returns the Euler–Mascheroni constant γ rounded to the working
// precision.
func (c *Context) Euler() *apd.Decimal { return c.constant(kindEuler) }

type constKind int

const (
	kindPi constKind = iota
	kindE
	kindEuler
)

type constKey struct {
	kind   constKind
	digits uint32
}

var constants sync.Map // constKey -> *apd.Decimal

func (c *Context) constant(kind constKind) *apd.Decimal {
	key := constKey{kind: kind, digits: c.digits}
	if v, ok := constants.Load(key); ok {
		return new(apd.Decimal).Set(v.(*apd.Decimal))
	}

	wide := apd.BaseContext.WithPrecision(c.digits + extraDigits)
	var v *apd.Decimal
	switch kind {
	case kindPi:
		v = computePi(wide)
	case kindE:
		v = new(apd.Decimal)
		if _, err := wide.Exp(v, apd.New(1, 0)); err != nil {
			panic(fmt.Sprintf("precision: exp(1): %v", err))
		}
	case kindEuler:
		v = computeEuler(wide)
	}

	rounded := new(apd.Decimal)
	if _, err := c.dec.Round(rounded, v); err != nil {
		panic(fmt.Sprintf("precision: round constant: %v", err))
	}
	actual, _ := constants.LoadOrStore(key, rounded)
	return new(apd.Decimal).Set(actual.(*apd.Decimal))
}

// computePi evaluates Machin's formula π = 16·atan(1/5) − 4·atan(1/239).
func computePi(ctx *apd.Context) *apd.Decimal {
	calc := &Calc{ctx: ctx}
	a := arctanInv(calc, 5, ctx.Precision)
	b := arctanInv(calc, 239, ctx.Precision)
	pi := calc.Sub(calc.Mul(apd.New(16, 0), a), calc.Mul(apd.New(4, 0), b))
	if err := calc.Err(); err != nil {
		panic(fmt.Sprintf("precision: pi: %v", err))
	}
	return pi
}

// arctanInv sums the alternating series of atan(1/x).
func arctanInv(calc *Calc, x int64, digits uint32) *apd.Decimal {
	eps := apd.New(1, -int32(digits+2))
	x2 := apd.New(x*x, 0)
	power := calc.Quo(apd.New(1, 0), apd.New(x, 0))
	sum := new(apd.Decimal)
	for n := int64(0); calc.Err() == nil; n++ {
		term := calc.Quo(power, apd.New(2*n+1, 0))
		if n%2 == 0 {
			sum = calc.Add(sum, term)
		} else {
			sum = calc.Sub(sum, term)
		}
		if term.Cmp(eps) < 0 {
			break
		}
		power = calc.Quo(power, x2)
	}
	return sum
}

// computeEuler evaluates γ with the Brent–McMillan recurrence
//
//	B_k = B_{k-1}·n²/k²,  A_k = (A_{k-1}·n²/k + B_k)/k,  γ ≈ ΣA_k / ΣB_k
//
// with A_0 = −ln n and B_0 = 1. The error is O(e^{-4n}).
func computeEuler(ctx *apd.Context) *apd.Decimal {
	digits := int64(ctx.Precision)
	// 4n > digits·ln(10) with a little headroom.
	n := digits*576/1000 + 2
	// The series peaks near k = n and holds about 2n·log10(e) extra digits
	// there, so the accumulation needs that much more precision.
	wide := apd.BaseContext.WithPrecision(uint32(digits + n + extraDigits))
	calc := &Calc{ctx: wide}

	nDec := apd.New(n, 0)
	n2 := apd.New(n*n, 0)
	a := calc.Neg(calc.Ln(nDec))
	b := apd.New(1, 0)
	u := new(apd.Decimal).Set(a)
	v := new(apd.Decimal).Set(b)

	for k := int64(1); calc.Err() == nil; k++ {
		kDec := apd.New(k, 0)
		b = calc.Quo(calc.Mul(b, n2), apd.New(k*k, 0))
		a = calc.Quo(calc.Add(calc.Quo(calc.Mul(a, n2), kDec), b), kDec)
		u = calc.Add(u, a)
		v = calc.Add(v, b)
		if k > n && negligible(calc, b, v, wide.Precision) && negligible(calc, a, u, wide.Precision) {
			break
		}
	}
	gamma := calc.Quo(u, v)
	if err := calc.Err(); err != nil {
		panic(fmt.Sprintf("precision: euler: %v", err))
	}
	out := new(apd.Decimal)
	if _, err := ctx.Round(out, gamma); err != nil {
		panic(fmt.Sprintf("precision: euler round: %v", err))
	}
	return out
}

// negligible reports |term| < |total|·10^-(digits+2).
func negligible(calc *Calc, term, total *apd.Decimal, digits uint32) bool {
	limit := calc.Mul(calc.Abs(total), apd.New(1, -int32(digits+2)))
	return calc.Abs(term).Cmp(limit) < 0
}
