package arith

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/apd/v3"

	"github.com/uyen-nguyen-190304/GRH-verification/internal/errs"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/precision"
)

var zero = new(apd.Decimal)

// VonMangoldt holds Λ(0..K) at a fixed decimal precision. Λ(0) is 0.
type VonMangoldt struct {
	digits uint32
	values []*apd.Decimal
}

// NewVonMangoldt sieves the primes up to K and sets Λ(p^m) = ln p for every
// prime power p^m ≤ K.
func NewVonMangoldt(pc *precision.Context, K int) (*VonMangoldt, error) {
	if K < 1 {
		return nil, fmt.Errorf("%w: von Mangoldt bound K=%d must be at least 1", errs.ErrInvalidBound, K)
	}

	values := make([]*apd.Decimal, K+1)
	for k := range values {
		values[k] = zero
	}

	calc := pc.Calc()
	composite := make([]bool, K+1)
	for p := 2; p <= K; p++ {
		if composite[p] {
			continue
		}
		for m := p * p; m <= K; m += p {
			composite[m] = true
		}
		logP := calc.Ln(precision.Int(int64(p)))
		for q := p; q <= K; q *= p {
			values[q] = logP
			if q > K/p {
				break
			}
		}
	}
	if err := calc.Err(); err != nil {
		return nil, fmt.Errorf("von Mangoldt K=%d: %w", K, err)
	}

	return &VonMangoldt{digits: pc.Digits(), values: values}, nil
}

// K returns the truncation bound.
func (v *VonMangoldt) K() int { return len(v.values) - 1 }

// Digits returns the precision the logarithms were evaluated at.
func (v *VonMangoldt) Digits() uint32 { return v.digits }

// At returns Λ(k). The result is shared and must not be modified.
func (v *VonMangoldt) At(k int) *apd.Decimal { return v.values[k] }

// IsPrimePower reports whether Λ(k) is nonzero.
func (v *VonMangoldt) IsPrimePower(k int) bool { return k >= 2 && !v.values[k].IsZero() }

// MarshalText lists the nonzero entries as "k Λ(k)" lines after a
// "K digits" header.
func (v *VonMangoldt) MarshalText() ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d %d\n", v.K(), v.digits)
	for k, d := range v.values {
		if k == 0 || d.IsZero() {
			continue
		}
		fmt.Fprintf(&buf, "%d %s\n", k, d.String())
	}
	return buf.Bytes(), nil
}

// UnmarshalText restores an array written by MarshalText.
func (v *VonMangoldt) UnmarshalText(data []byte) error {
	sc := bufio.NewScanner(bytes.NewReader(data))
	if !sc.Scan() {
		return fmt.Errorf("%w: empty von Mangoldt record", errs.ErrMalformedData)
	}
	var K int
	var digits uint32
	if _, err := fmt.Sscanf(sc.Text(), "%d %d", &K, &digits); err != nil || K < 1 {
		return fmt.Errorf("%w: von Mangoldt header %q", errs.ErrMalformedData, sc.Text())
	}

	values := make([]*apd.Decimal, K+1)
	for k := range values {
		values[k] = zero
	}
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) != 2 {
			return fmt.Errorf("%w: von Mangoldt line %q", errs.ErrMalformedData, sc.Text())
		}
		k, err := strconv.Atoi(fields[0])
		if err != nil || k < 1 || k > K {
			return fmt.Errorf("%w: von Mangoldt index %q", errs.ErrMalformedData, fields[0])
		}
		d, err := precision.Parse(fields[1])
		if err != nil {
			return fmt.Errorf("%w: %v", errs.ErrMalformedData, err)
		}
		values[k] = d
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrMalformedData, err)
	}

	v.digits = digits
	v.values = values
	return nil
}
