// Package oracle obtains the ordinates of the nontrivial zeros of L(s, χ_d)
// from an external program, by default lcalc.
package oracle

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/apd/v3"

	"github.com/uyen-nguyen-190304/GRH-verification/internal/errs"
)

// ZeroOracle returns the first n positive zero ordinates of L(s, χ_d) in
// increasing order, as decimal strings. When fewer than n are available it
// returns what it has together with an error wrapping
// errs.ErrInsufficientData.
type ZeroOracle interface {
	Zeros(ctx context.Context, d int64, n int) ([]string, error)
}

// ParseOrdinates reads lcalc's "<d> <γ>" rows and returns the γ column.
// Lines of any other shape are skipped, which drops headers and
// diagnostics. The ordinates must be positive and strictly increasing,
// otherwise the result wraps errs.ErrMalformedData.
func ParseOrdinates(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		if _, err := strconv.ParseInt(fields[0], 10, 64); err != nil {
			continue
		}
		v, _, err := apd.NewFromString(fields[1])
		if err != nil || v.Form != apd.Finite {
			continue
		}
		out = append(out, fields[1])
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("failed to read oracle output: %w", err)
	}
	if err := CheckOrdinates("", out); err != nil {
		return nil, err
	}
	return out, nil
}

// CheckOrdinates verifies that zeros are finite, positive and strictly
// increasing, and that the first exceeds after when after is not empty.
// Violations wrap errs.ErrMalformedData.
func CheckOrdinates(after string, zeros []string) error {
	var prev *apd.Decimal
	if after != "" {
		p, _, err := apd.NewFromString(after)
		if err != nil {
			return fmt.Errorf("%w: ordinate %q", errs.ErrMalformedData, after)
		}
		prev = p
	}
	for i, z := range zeros {
		v, _, err := apd.NewFromString(z)
		if err != nil || v.Form != apd.Finite {
			return fmt.Errorf("%w: ordinate %d %q is not a number", errs.ErrMalformedData, i, z)
		}
		if v.Sign() <= 0 {
			return fmt.Errorf("%w: ordinate %d %q is not positive", errs.ErrMalformedData, i, z)
		}
		if prev != nil && v.Cmp(prev) <= 0 {
			return fmt.Errorf("%w: ordinate %d %q does not exceed %s", errs.ErrMalformedData, i, z, prev)
		}
		prev = v
	}
	return nil
}

// truncate trims zeros to n and reports a shortfall.
func truncate(d int64, zeros []string, n int) ([]string, error) {
	if len(zeros) >= n {
		return zeros[:n], nil
	}
	return zeros, fmt.Errorf("%w: d=%d expected %d zeros, oracle returned %d",
		errs.ErrInsufficientData, d, n, len(zeros))
}

// Static serves ordinates from memory. It is used for offline runs over
// precomputed tables and in tests.
type Static struct {
	mu    sync.RWMutex
	zeros map[int64][]string
	calls atomic.Int64
}

// NewStatic creates an oracle over the given table.
func NewStatic(zeros map[int64][]string) *Static {
	s := &Static{zeros: make(map[int64][]string, len(zeros))}
	for d, z := range zeros {
		s.Set(d, z)
	}
	return s
}

// Set replaces the ordinates known for d.
func (s *Static) Set(d int64, zeros []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zeros[d] = append([]string(nil), zeros...)
}

func (s *Static) Zeros(ctx context.Context, d int64, n int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, fmt.Errorf("%w: zero count %d must be positive", errs.ErrInvalidInput, n)
	}
	s.calls.Add(1)

	s.mu.RLock()
	z, ok := s.zeros[d]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no table for d=%d", errs.ErrOracleUnavailable, d)
	}
	return truncate(d, append([]string(nil), z...), n)
}

// Calls returns how many times Zeros was invoked.
func (s *Static) Calls() int64 { return s.calls.Load() }

// Unavailable is a ZeroOracle that fails every request with err. It stands
// in for an oracle that could not be set up, so that runs can still be
// served from the cache.
type Unavailable struct {
	Err error
}

func (u Unavailable) Zeros(ctx context.Context, d int64, n int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, u.Err
}
