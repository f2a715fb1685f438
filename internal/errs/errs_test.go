package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "none"},
		{fmt.Errorf("bad flag: %w", ErrInvalidInput), "InvalidInput"},
		{fmt.Errorf("K=10: %w", ErrInvalidBound), "InvalidBound"},
		{fmt.Errorf("fetch: %w", fmt.Errorf("lcalc: %w", ErrOracleUnavailable)), "OracleUnavailable"},
		{ErrInsufficientData, "InsufficientData"},
		{ErrPrecisionViolation, "PrecisionViolation"},
		{ErrMalformedData, "MalformedData"},
		{ErrUnsupportedPower, "UnsupportedPower"},
		{fmt.Errorf("batch: %w", context.Canceled), "Canceled"},
		{context.DeadlineExceeded, "Canceled"},
		{errors.New("disk full"), "Internal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Kind(tt.err), "%v", tt.err)
	}
}

func TestFatal(t *testing.T) {
	assert.True(t, Fatal(fmt.Errorf("x: %w", ErrInvalidInput)))
	assert.True(t, Fatal(ErrUnsupportedPower))
	assert.False(t, Fatal(ErrOracleUnavailable))
	assert.False(t, Fatal(ErrInsufficientData))
	assert.False(t, Fatal(nil))
}
