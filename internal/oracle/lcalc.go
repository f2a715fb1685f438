package oracle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/uyen-nguyen-190304/GRH-verification/internal/errs"
)

// DefaultTimeout bounds a single lcalc invocation.
const DefaultTimeout = 10 * time.Minute

// LcalcConfig configures the lcalc subprocess oracle.
type LcalcConfig struct {
	Path    string
	Timeout time.Duration
	// RateLimit caps invocations per second across all callers; 0 disables it.
	RateLimit float64
}

// Lcalc runs `lcalc -z N [--twist-quadratic] --start d --finish d`.
type Lcalc struct {
	path    string
	timeout time.Duration
	limiter *rate.Limiter
	logger  *logrus.Entry
}

// NewLcalc resolves the executable up front so that a missing install fails
// before any discriminant is attempted.
func NewLcalc(cfg LcalcConfig, logger *logrus.Logger) (*Lcalc, error) {
	path, err := exec.LookPath(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: lcalc executable %q: %v", errs.ErrOracleUnavailable, cfg.Path, err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	l := &Lcalc{
		path:    path,
		timeout: timeout,
		logger:  logger.WithField("component", "lcalc"),
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return l, nil
}

// Args returns the lcalc argument list for n zeros of L(s, χ_d). The
// trivial character d = ±1 is not twisted.
func Args(d int64, n int) []string {
	args := []string{"-z", strconv.Itoa(n)}
	if d != 1 && d != -1 {
		args = append(args, "--twist-quadratic")
	}
	ds := strconv.FormatInt(d, 10)
	return append(args, "--start", ds, "--finish", ds)
}

func (l *Lcalc) Zeros(ctx context.Context, d int64, n int) ([]string, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: zero count %d must be positive", errs.ErrInvalidInput, n)
	}
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("failed to wait for oracle slot: %w", err)
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	args := Args(d, n)
	cmd := exec.CommandContext(runCtx, l.path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// lcalc may leave children holding the pipes after being killed.
	cmd.WaitDelay = time.Second

	start := time.Now()
	l.logger.WithFields(logrus.Fields{"d": d, "n": n}).Debugf("Running %s %s", l.path, strings.Join(args, " "))
	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: lcalc timed out after %v for d=%d", errs.ErrOracleUnavailable, l.timeout, d)
		}
		return nil, fmt.Errorf("%w: lcalc failed for d=%d: %v: %s",
			errs.ErrOracleUnavailable, d, err, strings.TrimSpace(stderr.String()))
	}

	zeros, err := ParseOrdinates(&stdout)
	if err != nil {
		return nil, err
	}
	l.logger.WithFields(logrus.Fields{
		"d":       d,
		"n":       len(zeros),
		"elapsed": elapsed.Round(time.Millisecond),
	}).Debug("lcalc finished")
	return truncate(d, zeros, n)
}
