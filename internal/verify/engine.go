// Package verify decides, for one fundamental discriminant d, whether the
// explicit-formula inequality
//
//	2·iota(η) + Σ contributions of zero intervals  >  RHS(d)
//
// can be established with finitely many zeros. A success certifies that
// L(s, χ_d) has no zeros off the critical line up to height η.
package verify

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/apd/v3"
	"github.com/sirupsen/logrus"

	"github.com/uyen-nguyen-190304/GRH-verification/internal/arith"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/bound"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/errs"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/precision"
)

// DefaultChunk is the number of zeros requested per batch.
const DefaultChunk = 10

// State is a stage of one verification.
type State int

const (
	StateComputingRHS State = iota
	StateCheckingVacuous
	StateAccumulating
	StateSucceeded
	StateExhausted
	StateError
)

func (s State) String() string {
	switch s {
	case StateComputingRHS:
		return "computing_rhs"
	case StateCheckingVacuous:
		return "checking_vacuous"
	case StateAccumulating:
		return "accumulating"
	case StateSucceeded:
		return "succeeded"
	case StateExhausted:
		return "exhausted"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Source supplies the first n zero intervals of L(s, χ_d) with half-width
// eps. A shortfall is reported by returning the available prefix together
// with an error wrapping errs.ErrInsufficientData.
type Source interface {
	Intervals(ctx context.Context, d int64, n int, eps *apd.Decimal) ([]Interval, error)
}

// Request describes one verification.
type Request struct {
	D       int64
	K       int
	Eta     *apd.Decimal
	Epsilon *apd.Decimal
	Chunk   int
	Chi     *arith.Character
	Lambda  *arith.VonMangoldt
}

// Outcome is the immutable result of Verify.
type Outcome struct {
	D       int64
	Eta     *apd.Decimal
	NUsed   int
	Success bool
	State   State
	// Err explains a failure; it may also be set on StateExhausted when the
	// oracle ran out of zeros.
	Err  error
	LHS  *apd.Decimal
	RHS  *apd.Decimal
	Used []Interval
}

// Engine runs verifications against a Source. It holds no per-run state and
// may be shared between goroutines.
type Engine struct {
	pc     *precision.Context
	source Source
	logger *logrus.Logger
}

// NewEngine creates an engine at the given working precision.
func NewEngine(pc *precision.Context, source Source, logger *logrus.Logger) *Engine {
	return &Engine{pc: pc, source: source, logger: logger}
}

type stepKind int

const (
	stepContinue stepKind = iota
	stepSucceeded
	stepExhausted
	stepFailed
)

// step is the result of consuming one batch.
type step struct {
	kind stepKind
	err  error
}

type run struct {
	req   Request
	out   Outcome
	log   *logrus.Entry
	start int
}

func (r *run) enter(s State) {
	r.out.State = s
	r.log.WithFields(logrus.Fields{"state": s, "n_used": r.out.NUsed}).Debug("Verification state")
}

func (r *run) fail(err error) Outcome {
	r.out.Err = err
	r.out.Success = false
	r.enter(StateError)
	return r.out
}

// Verify runs the state machine to completion. Failures are reported in the
// Outcome, never returned separately.
func (e *Engine) Verify(ctx context.Context, req Request) Outcome {
	r := &run{
		req: req,
		out: Outcome{D: req.D, Eta: req.Eta},
		log: e.logger.WithField("d", req.D),
	}
	if err := e.validate(req); err != nil {
		return r.fail(err)
	}

	r.enter(StateComputingRHS)
	rhs, err := e.rhs(req)
	if err != nil {
		return r.fail(err)
	}
	r.out.RHS = rhs

	r.enter(StateCheckingVacuous)
	guard, err := bound.Iota(e.pc, req.Eta)
	if err != nil {
		return r.fail(err)
	}
	calc := e.pc.Calc()
	r.out.LHS = calc.Mul(precision.Int(2), guard)
	if err := calc.Err(); err != nil {
		return r.fail(err)
	}
	switch e.decide(r.out.LHS, rhs) {
	case crossed:
		r.out.Success = true
		r.enter(StateSucceeded)
		return r.out
	case tooClose:
		return r.fail(e.precisionViolation(r.out.LHS, rhs))
	}

	r.enter(StateAccumulating)
	for {
		if err := ctx.Err(); err != nil {
			return r.fail(err)
		}
		st := e.batch(ctx, r)
		switch st.kind {
		case stepContinue:
			continue
		case stepSucceeded:
			r.out.Success = true
			r.enter(StateSucceeded)
			return r.out
		case stepExhausted:
			r.out.Err = st.err
			r.enter(StateExhausted)
			return r.out
		default:
			return r.fail(st.err)
		}
	}
}

func (e *Engine) validate(req Request) error {
	if !arith.IsFundamental(req.D) {
		return fmt.Errorf("%w: %d is not a fundamental discriminant", errs.ErrInvalidInput, req.D)
	}
	if req.Eta == nil || req.Epsilon == nil {
		return fmt.Errorf("%w: η and ε are required", errs.ErrInvalidInput)
	}
	if req.Epsilon.Sign() < 0 {
		return fmt.Errorf("%w: ε=%s is negative", errs.ErrInvalidInput, req.Epsilon)
	}
	if req.Chunk <= 0 {
		return fmt.Errorf("%w: chunk=%d must be positive", errs.ErrInvalidInput, req.Chunk)
	}
	if req.Chi == nil || req.Lambda == nil {
		return fmt.Errorf("%w: χ and Λ arrays are required", errs.ErrInvalidBound)
	}
	if req.Chi.D() != req.D {
		return fmt.Errorf("%w: character array is for d=%d, not %d", errs.ErrInvalidInput, req.Chi.D(), req.D)
	}
	if req.K != req.Chi.K() || req.K != req.Lambda.K() {
		return fmt.Errorf("%w: K=%d but arrays cover χ:%d Λ:%d", errs.ErrInvalidBound, req.K, req.Chi.K(), req.Lambda.K())
	}
	return nil
}

func (e *Engine) rhs(req Request) (*apd.Decimal, error) {
	c, err := RHSConstant(e.pc, req.D)
	if err != nil {
		return nil, err
	}
	ld, err := bound.LogarithmicDerivative(e.pc, -1, req.Chi, req.Lambda, true)
	if err != nil {
		return nil, err
	}
	calc := e.pc.Calc()
	rhs := calc.Add(c, ld)
	if err := calc.Err(); err != nil {
		return nil, fmt.Errorf("rhs d=%d: %w", req.D, err)
	}
	return rhs, nil
}

type decision int

const (
	below decision = iota
	crossed
	tooClose
)

// decide compares LHS against RHS. A crossing by less than the precision
// tie threshold cannot be trusted at the working precision.
func (e *Engine) decide(lhs, rhs *apd.Decimal) decision {
	if lhs.Cmp(rhs) <= 0 {
		return below
	}
	diff := new(apd.Decimal)
	if _, err := e.pc.Dec().Sub(diff, lhs, rhs); err != nil || diff.Cmp(e.pc.Tie()) < 0 {
		return tooClose
	}
	return crossed
}

func (e *Engine) precisionViolation(lhs, rhs *apd.Decimal) error {
	return fmt.Errorf("%w: LHS %s exceeds RHS %s by less than %s at %d digits",
		errs.ErrPrecisionViolation, lhs, rhs, e.pc.Tie(), e.pc.Digits())
}

// batch requests the prefix up to start+chunk and consumes the intervals it
// has not seen yet, in order.
func (e *Engine) batch(ctx context.Context, r *run) step {
	need := r.start + r.req.Chunk
	ivs, err := e.source.Intervals(ctx, r.req.D, need, r.req.Epsilon)
	var short error
	if err != nil {
		if !errors.Is(err, errs.ErrInsufficientData) {
			return step{kind: stepFailed, err: err}
		}
		short = err
	}
	if len(ivs) <= r.start {
		return step{kind: stepExhausted, err: short}
	}

	end := min(len(ivs), need)
	calc := e.pc.Calc()
	for _, iv := range ivs[r.start:end] {
		c, err := Contribution(e.pc, iv)
		if err != nil {
			return step{kind: stepFailed, err: err}
		}
		r.out.LHS = calc.Add(r.out.LHS, c)
		if err := calc.Err(); err != nil {
			return step{kind: stepFailed, err: err}
		}
		r.out.Used = append(r.out.Used, iv)
		r.out.NUsed++

		switch e.decide(r.out.LHS, r.out.RHS) {
		case crossed:
			return step{kind: stepSucceeded}
		case tooClose:
			return step{kind: stepFailed, err: e.precisionViolation(r.out.LHS, r.out.RHS)}
		}
	}
	r.start = end
	r.log.WithFields(logrus.Fields{"n_used": r.out.NUsed, "lhs": r.out.LHS.Text('g')}).Debug("Batch consumed")

	if short != nil {
		return step{kind: stepExhausted, err: short}
	}
	return step{kind: stepContinue}
}
