// Package errs defines the failure taxonomy shared by every stage of a
// verification run. Callers wrap these sentinels with fmt.Errorf("...: %w")
// and test for them with errors.Is.
package errs

import (
	"context"
	"errors"
)

var (
	// ErrInvalidInput marks a malformed invocation: conflicting or empty
	// discriminant selection, K < 18, ε ≤ 0, negative η.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidBound marks a truncation bound outside the range a formula is
	// valid for.
	ErrInvalidBound = errors.New("invalid bound")

	// ErrOracleUnavailable marks a zero or character oracle that cannot be
	// reached, executed, or that timed out.
	ErrOracleUnavailable = errors.New("oracle unavailable")

	// ErrInsufficientData marks an oracle that returned fewer zeros than
	// requested.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrPrecisionViolation marks an LHS/RHS comparison too close to call at
	// the configured working precision.
	ErrPrecisionViolation = errors.New("precision violation")

	// ErrMalformedData marks persisted or oracle data that fails validation.
	ErrMalformedData = errors.New("malformed data")

	// ErrUnsupportedPower marks a request for a logarithmic derivative order
	// other than the base case.
	ErrUnsupportedPower = errors.New("unsupported logarithmic derivative power")
)

// Kind names the taxonomy class of err, used as the reason column of the
// error log.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrInvalidInput):
		return "InvalidInput"
	case errors.Is(err, ErrInvalidBound):
		return "InvalidBound"
	case errors.Is(err, ErrOracleUnavailable):
		return "OracleUnavailable"
	case errors.Is(err, ErrInsufficientData):
		return "InsufficientData"
	case errors.Is(err, ErrPrecisionViolation):
		return "PrecisionViolation"
	case errors.Is(err, ErrMalformedData):
		return "MalformedData"
	case errors.Is(err, ErrUnsupportedPower):
		return "UnsupportedPower"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Canceled"
	default:
		return "Internal"
	}
}

// Fatal reports whether err must abort the whole invocation rather than a
// single discriminant.
func Fatal(err error) bool {
	return errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrUnsupportedPower)
}
