package arith

import (
	"bytes"
	"fmt"

	"github.com/uyen-nguyen-190304/GRH-verification/internal/errs"
)

// CharacterOracle evaluates the quadratic residue symbol χ_d(k).
type CharacterOracle interface {
	Symbol(d, k int64) (int8, error)
}

// Kronecker computes the Kronecker symbol (d|k) for k ≥ 1 directly.
type Kronecker struct{}

// Symbol returns (d|k).
func (Kronecker) Symbol(d, k int64) (int8, error) {
	if k < 1 {
		return 0, fmt.Errorf("%w: kronecker symbol needs k ≥ 1, got %d", errs.ErrInvalidInput, k)
	}

	var result int8 = 1
	for k%2 == 0 {
		k /= 2
		switch mod(d, 8) {
		case 1, 7:
		case 3, 5:
			result = -result
		default:
			return 0, nil
		}
	}
	return result * jacobi(mod(d, k), k), nil
}

// jacobi returns (a|n) for odd n ≥ 1 and 0 ≤ a < n.
func jacobi(a, n int64) int8 {
	var result int8 = 1
	for a != 0 {
		for a%2 == 0 {
			a /= 2
			if r := n % 8; r == 3 || r == 5 {
				result = -result
			}
		}
		a, n = n, a
		if a%4 == 3 && n%4 == 3 {
			result = -result
		}
		a %= n
	}
	if n == 1 {
		return result
	}
	return 0
}

func mod(a, m int64) int64 {
	r := a % m
	if r < 0 {
		r += m
	}
	return r
}

// Character holds χ_d(0..K). χ_d(0) is 0.
type Character struct {
	d      int64
	values []int8
}

// NewCharacter fills χ_d(1..K) from the oracle and validates every value.
func NewCharacter(o CharacterOracle, d int64, K int) (*Character, error) {
	if K < 1 {
		return nil, fmt.Errorf("%w: character bound K=%d must be at least 1", errs.ErrInvalidBound, K)
	}
	values := make([]int8, K+1)
	for k := 1; k <= K; k++ {
		v, err := o.Symbol(d, int64(k))
		if err != nil {
			return nil, fmt.Errorf("%w: character oracle at d=%d k=%d: %v", errs.ErrOracleUnavailable, d, k, err)
		}
		values[k] = v
	}
	return CharacterFromValues(d, values)
}

// CharacterFromValues wraps a precomputed χ_d(0..K) after validating it.
func CharacterFromValues(d int64, values []int8) (*Character, error) {
	if len(values) < 2 {
		return nil, fmt.Errorf("%w: character array for d=%d is empty", errs.ErrInvalidBound, d)
	}
	if values[0] != 0 {
		return nil, fmt.Errorf("%w: χ(0) must be 0, got %d", errs.ErrMalformedData, values[0])
	}
	for k, v := range values {
		if v < -1 || v > 1 {
			return nil, fmt.Errorf("%w: χ_%d(%d) = %d outside {-1,0,1}", errs.ErrMalformedData, d, k, v)
		}
	}
	return &Character{d: d, values: values}, nil
}

// D returns the discriminant.
func (c *Character) D() int64 { return c.d }

// K returns the truncation bound.
func (c *Character) K() int { return len(c.values) - 1 }

// At returns χ_d(k).
func (c *Character) At(k int) int8 { return c.values[k] }

// MarshalText writes χ_d(1..K) as a string of '+', '-' and '0'.
func (c *Character) MarshalText() ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d %d\n", c.d, c.K())
	for _, v := range c.values[1:] {
		switch v {
		case 1:
			buf.WriteByte('+')
		case -1:
			buf.WriteByte('-')
		default:
			buf.WriteByte('0')
		}
	}
	return buf.Bytes(), nil
}

// UnmarshalText restores an array written by MarshalText.
func (c *Character) UnmarshalText(data []byte) error {
	header, body, ok := bytes.Cut(data, []byte("\n"))
	if !ok {
		return fmt.Errorf("%w: character record has no header", errs.ErrMalformedData)
	}
	var d int64
	var K int
	if _, err := fmt.Sscanf(string(header), "%d %d", &d, &K); err != nil {
		return fmt.Errorf("%w: character header %q", errs.ErrMalformedData, header)
	}
	if len(body) != K {
		return fmt.Errorf("%w: character body has %d symbols, header says %d", errs.ErrMalformedData, len(body), K)
	}
	values := make([]int8, K+1)
	for i, b := range body {
		switch b {
		case '+':
			values[i+1] = 1
		case '-':
			values[i+1] = -1
		case '0':
		default:
			return fmt.Errorf("%w: character symbol %q", errs.ErrMalformedData, b)
		}
	}
	parsed, err := CharacterFromValues(d, values)
	if err != nil {
		return err
	}
	*c = *parsed
	return nil
}
