package precision

import (
	"fmt"

	"github.com/cockroachdb/apd/v3"
)

// Calc chains apd operations and latches the first error, so that a formula
// reads as one expression and is checked once with Err.
//
// Operands are never modified; every method returns a fresh *apd.Decimal.
type Calc struct {
	ctx *apd.Context
	err error
}

// Err returns the first error encountered by the chain.
func (c *Calc) Err() error { return c.err }

type binaryOp func(d, x, y *apd.Decimal) (apd.Condition, error)
type unaryOp func(d, x *apd.Decimal) (apd.Condition, error)

func (c *Calc) binary(name string, op binaryOp, x, y *apd.Decimal) *apd.Decimal {
	d := new(apd.Decimal)
	if c.err != nil {
		return d
	}
	if _, err := op(d, x, y); err != nil {
		c.err = fmt.Errorf("%s(%s, %s): %w", name, x, y, err)
	}
	return d
}

func (c *Calc) unary(name string, op unaryOp, x *apd.Decimal) *apd.Decimal {
	d := new(apd.Decimal)
	if c.err != nil {
		return d
	}
	if _, err := op(d, x); err != nil {
		c.err = fmt.Errorf("%s(%s): %w", name, x, err)
	}
	return d
}

func (c *Calc) Add(x, y *apd.Decimal) *apd.Decimal { return c.binary("add", c.ctx.Add, x, y) }
func (c *Calc) Sub(x, y *apd.Decimal) *apd.Decimal { return c.binary("sub", c.ctx.Sub, x, y) }
func (c *Calc) Mul(x, y *apd.Decimal) *apd.Decimal { return c.binary("mul", c.ctx.Mul, x, y) }
func (c *Calc) Quo(x, y *apd.Decimal) *apd.Decimal { return c.binary("quo", c.ctx.Quo, x, y) }
func (c *Calc) Pow(x, y *apd.Decimal) *apd.Decimal { return c.binary("pow", c.ctx.Pow, x, y) }
func (c *Calc) Ln(x *apd.Decimal) *apd.Decimal     { return c.unary("ln", c.ctx.Ln, x) }
func (c *Calc) Exp(x *apd.Decimal) *apd.Decimal    { return c.unary("exp", c.ctx.Exp, x) }
func (c *Calc) Abs(x *apd.Decimal) *apd.Decimal    { return c.unary("abs", c.ctx.Abs, x) }
func (c *Calc) Neg(x *apd.Decimal) *apd.Decimal    { return c.unary("neg", c.ctx.Neg, x) }

// Min returns the smaller of x and y (x on ties).
func (c *Calc) Min(x, y *apd.Decimal) *apd.Decimal {
	if y.Cmp(x) < 0 {
		return new(apd.Decimal).Set(y)
	}
	return new(apd.Decimal).Set(x)
}

// Int returns k as an exact decimal.
func Int(k int64) *apd.Decimal { return apd.New(k, 0) }

// Float converts f exactly as its shortest decimal representation.
func Float(f float64) (*apd.Decimal, error) {
	d, err := new(apd.Decimal).SetFloat64(f)
	if err != nil {
		return nil, fmt.Errorf("convert %g: %w", f, err)
	}
	return d, nil
}

// Parse reads a decimal literal without rounding.
func Parse(s string) (*apd.Decimal, error) {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", s, err)
	}
	return d, nil
}

// Float64 returns the nearest float64 to d, for reporting only.
func Float64(d *apd.Decimal) float64 {
	f, err := d.Float64()
	if err != nil {
		return 0
	}
	return f
}
