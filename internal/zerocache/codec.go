package zerocache

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/cockroachdb/apd/v3"

	"github.com/uyen-nguyen-190304/GRH-verification/internal/errs"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/oracle"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/verify"
)

func encodeZeros(zeros []string) []byte {
	return []byte(strings.Join(zeros, "\n"))
}

func decodeZeros(data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	zeros := strings.Split(string(data), "\n")
	if err := oracle.CheckOrdinates("", zeros); err != nil {
		return nil, err
	}
	return zeros, nil
}

// intervalSet is the persisted form of the intervals derived from a zero
// prefix. It is only valid for the ε and precision it was built with.
type intervalSet struct {
	eps       *apd.Decimal
	digits    uint32
	intervals []verify.Interval
}

func (s *intervalSet) matches(eps *apd.Decimal, digits uint32) bool {
	return s.digits == digits && s.eps.Cmp(eps) == 0
}

func encodeIntervals(s *intervalSet) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "eps %s digits %d n %d\n", s.eps, s.digits, len(s.intervals))
	for _, iv := range s.intervals {
		fmt.Fprintf(&buf, "%s %s %s\n", iv.Gamma, iv.Lower, iv.Upper)
	}
	return buf.Bytes()
}

func decodeIntervals(data []byte) (*intervalSet, error) {
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	var (
		epsStr string
		digits uint32
		n      int
	)
	if _, err := fmt.Sscanf(lines[0], "eps %s digits %d n %d", &epsStr, &digits, &n); err != nil {
		return nil, fmt.Errorf("%w: interval header %q", errs.ErrMalformedData, lines[0])
	}
	eps, _, err := apd.NewFromString(epsStr)
	if err != nil {
		return nil, fmt.Errorf("%w: interval ε %q", errs.ErrMalformedData, epsStr)
	}
	body := lines[1:]
	if n == 0 && len(body) == 1 && body[0] == "" {
		body = nil
	}
	if len(body) != n {
		return nil, fmt.Errorf("%w: interval set has %d rows, header says %d", errs.ErrMalformedData, len(body), n)
	}

	s := &intervalSet{eps: eps, digits: digits, intervals: make([]verify.Interval, n)}
	for i, line := range body {
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("%w: interval row %d %q", errs.ErrMalformedData, i, line)
		}
		var parsed [3]*apd.Decimal
		for j, f := range fields {
			d, _, err := apd.NewFromString(f)
			if err != nil {
				return nil, fmt.Errorf("%w: interval row %d %q", errs.ErrMalformedData, i, line)
			}
			parsed[j] = d
		}
		s.intervals[i] = verify.Interval{Gamma: parsed[0], Lower: parsed[1], Upper: parsed[2]}
	}
	return s, nil
}
