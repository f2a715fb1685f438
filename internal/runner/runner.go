// Package runner verifies a set of discriminants with a bounded pool of
// workers and records every outcome.
package runner

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/uyen-nguyen-190304/GRH-verification/internal/arith"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/errs"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/precision"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/report"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/verify"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/zerocache"
)

// DefaultFallbackEta is used when neither an explicit η nor the first zero
// is available.
const DefaultFallbackEta = 50

// Discriminants expands the selection into the fundamental discriminants
// to verify. Exactly one of single or the pair lo, hi must be given.
func Discriminants(single, lo, hi *int64) ([]int64, error) {
	switch {
	case single != nil && (lo != nil || hi != nil):
		return nil, fmt.Errorf("%w: give either a single discriminant or a range, not both", errs.ErrInvalidInput)
	case single != nil:
		if !arith.IsFundamental(*single) {
			return nil, nil
		}
		return []int64{*single}, nil
	case lo == nil || hi == nil:
		return nil, fmt.Errorf("%w: a discriminant or a complete range is required", errs.ErrInvalidInput)
	case *lo > *hi:
		return nil, fmt.Errorf("%w: range start %d is above range end %d", errs.ErrInvalidInput, *lo, *hi)
	}

	var ds []int64
	for d := *lo; ; d++ {
		if arith.IsFundamental(d) {
			ds = append(ds, d)
		}
		if d == *hi {
			break
		}
	}
	return ds, nil
}

// FirstZeroSource provides the lowest zero ordinate of L(s, χ_d).
type FirstZeroSource interface {
	FirstZero(ctx context.Context, d int64) (*apd.Decimal, error)
}

// ChooseEta returns explicit when set, otherwise the first zero of d plus
// 2ε. When the first zero cannot be obtained it returns fallback together
// with the reason.
func ChooseEta(ctx context.Context, pc *precision.Context, src FirstZeroSource, d int64, explicit, eps, fallback *apd.Decimal) (*apd.Decimal, error) {
	if explicit != nil {
		return explicit, nil
	}
	first, err := src.FirstZero(ctx, d)
	if err != nil {
		return fallback, err
	}
	calc := pc.Calc()
	eta := calc.Add(first, calc.Mul(precision.Int(2), eps))
	if err := calc.Err(); err != nil {
		return fallback, err
	}
	return eta, nil
}

// Options carries the per-run settings shared by every discriminant.
type Options struct {
	K           int
	Epsilon     *apd.Decimal
	Eta         *apd.Decimal // nil selects ChooseEta's default
	FallbackEta *apd.Decimal
	Chunk       int
	Workers     int
	// Skip lists discriminants already present in the summary.
	Skip map[int64]bool
}

// Runner ties the cache, engine and reporters together.
type Runner struct {
	pc        *precision.Context
	cache     *zerocache.Cache
	engine    *verify.Engine
	summary   *report.Summary
	errLog    *report.ErrorLog
	artifacts *report.Artifacts
	opts      Options
	id        string
	logger    *logrus.Entry

	verified atomic.Int64
	failed   atomic.Int64
	skipped  atomic.Int64
}

// New creates a runner. artifacts may be nil to skip artifact files.
func New(pc *precision.Context, cache *zerocache.Cache, engine *verify.Engine, summary *report.Summary, errLog *report.ErrorLog, artifacts *report.Artifacts, opts Options, logger *logrus.Logger) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Chunk <= 0 {
		opts.Chunk = verify.DefaultChunk
	}
	if opts.FallbackEta == nil {
		opts.FallbackEta = apd.New(DefaultFallbackEta, 0)
	}
	id := uuid.NewString()
	return &Runner{
		pc:        pc,
		cache:     cache,
		engine:    engine,
		summary:   summary,
		errLog:    errLog,
		artifacts: artifacts,
		opts:      opts,
		id:        id,
		logger:    logger.WithField("run_id", id),
	}
}

// ID identifies this run in the logs.
func (r *Runner) ID() string { return r.id }

// RunStats summarises a call to Run.
type RunStats struct {
	RunID    string
	Total    int
	Verified int64
	Failed   int64
	Skipped  int64
	Elapsed  time.Duration
	Cache    zerocache.Stats
}

// Run verifies ds with at most Workers discriminants in flight. A failing
// discriminant is reported and never stops the others; a reporting failure
// or cancellation of ctx stops scheduling new ones.
func (r *Runner) Run(ctx context.Context, ds []int64) (RunStats, error) {
	start := time.Now()
	r.logger.WithFields(logrus.Fields{
		"discriminants": len(ds),
		"workers":       r.opts.Workers,
		"K":             r.opts.K,
		"epsilon":       r.opts.Epsilon.String(),
	}).Info("Starting verification run")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)

schedule:
	for _, d := range ds {
		select {
		case <-gctx.Done():
			break schedule
		default:
		}
		d := d
		g.Go(func() error {
			return r.verifyOne(gctx, d)
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	stats := RunStats{
		RunID:    r.id,
		Total:    len(ds),
		Verified: r.verified.Load(),
		Failed:   r.failed.Load(),
		Skipped:  r.skipped.Load(),
		Elapsed:  time.Since(start),
		Cache:    r.cache.Stats(),
	}
	r.logger.WithFields(logrus.Fields{
		"verified": stats.Verified,
		"failed":   stats.Failed,
		"skipped":  stats.Skipped,
		"elapsed":  formatDurationDetailed(stats.Elapsed),
	}).Info("Verification run finished")
	return stats, err
}

// verifyOne returns an error only when the outcome could not be recorded.
func (r *Runner) verifyOne(ctx context.Context, d int64) error {
	log := r.logger.WithField("d", d)
	if r.opts.Skip[d] {
		r.skipped.Add(1)
		log.Debug("Already in summary, skipping")
		return nil
	}

	out, chi, lambda := r.evaluate(ctx, log, d)
	if out.Err != nil && ctx.Err() != nil {
		// Left out of the summary so that --resume picks it up again.
		log.WithField("n_used", out.NUsed).Info("Verification canceled")
		return nil
	}

	if out.Success {
		r.verified.Add(1)
		log.WithFields(logrus.Fields{"eta": out.Eta.String(), "n_used": out.NUsed}).Info("Verification succeeded")
	} else {
		r.failed.Add(1)
		entry := log.WithFields(logrus.Fields{"n_used": out.NUsed, "state": out.State.String()})
		if out.Err != nil {
			entry = entry.WithError(out.Err)
		}
		entry.Warn("Verification did not succeed")
	}

	if err := r.summary.Record(out); err != nil {
		return err
	}
	r.errLog.Record(out)
	if r.artifacts != nil && chi != nil {
		if err := r.artifacts.Write(out, chi, lambda); err != nil {
			log.WithError(err).Error("Failed to write artifacts")
		}
	}
	return nil
}

func (r *Runner) evaluate(ctx context.Context, log *logrus.Entry, d int64) (verify.Outcome, *arith.Character, *arith.VonMangoldt) {
	failed := func(eta *apd.Decimal, err error) verify.Outcome {
		return verify.Outcome{D: d, Eta: eta, State: verify.StateError, Err: err}
	}

	lambda, err := r.cache.VonMangoldt(ctx, r.opts.K)
	if err != nil {
		return failed(nil, fmt.Errorf("failed to build von Mangoldt table: %w", err)), nil, nil
	}
	chi, err := r.cache.Character(ctx, d, r.opts.K)
	if err != nil {
		return failed(nil, fmt.Errorf("failed to build character table: %w", err)), nil, lambda
	}

	eta, etaErr := ChooseEta(ctx, r.pc, r.cache, d, r.opts.Eta, r.opts.Epsilon, r.opts.FallbackEta)
	if etaErr != nil {
		if ctx.Err() != nil {
			return failed(eta, etaErr), chi, lambda
		}
		log.WithError(etaErr).WithField("eta", eta.String()).Warn("First zero unavailable, using fallback height")
	}

	out := r.engine.Verify(ctx, verify.Request{
		D:       d,
		K:       r.opts.K,
		Eta:     eta,
		Epsilon: r.opts.Epsilon,
		Chunk:   r.opts.Chunk,
		Chi:     chi,
		Lambda:  lambda,
	})
	return out, chi, lambda
}

// Print writes the end-of-run report.
func (s RunStats) Print(w io.Writer) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "==================== VERIFICATION COMPLETE ====================")
	fmt.Fprintf(w, "Run ID:                   %s\n", s.RunID)
	fmt.Fprintf(w, "Total Time:               %s\n", formatDurationDetailed(s.Elapsed))
	fmt.Fprintf(w, "Discriminants:            %d\n", s.Total)
	fmt.Fprintf(w, "  Verified:               %d\n", s.Verified)
	fmt.Fprintf(w, "  Not verified:           %d\n", s.Failed)
	fmt.Fprintf(w, "  Skipped (resume):       %d\n", s.Skipped)
	fmt.Fprintf(w, "Cache Efficiency:         %.1f%% hit rate (%d oracle calls)\n", s.Cache.HitRate()*100, s.Cache.OracleCalls)
	fmt.Fprintln(w, "===============================================================")
	fmt.Fprintln(w)
}

func formatDurationDetailed(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %02dh %02dm %02ds", days, hours, minutes, seconds)
	} else if hours > 0 {
		return fmt.Sprintf("%02dh %02dm %02ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%02dm %02ds", minutes, seconds)
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
