// Package zerocache memoizes everything a verification needs that is
// expensive to produce: zero ordinates from the oracle, the intervals built
// around them, and the χ_d and Λ arrays. Entries live in a store.Store so
// they survive between runs.
package zerocache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/apd/v3"
	"github.com/sirupsen/logrus"

	"github.com/uyen-nguyen-190304/GRH-verification/internal/arith"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/errs"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/oracle"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/precision"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/store"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/verify"
)

const lockStripes = 64

// Stats is a snapshot of the cache counters.
type Stats struct {
	Hits        int64
	Misses      int64
	OracleCalls int64
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache is safe for concurrent use. Read-modify-write sequences on one
// discriminant's entries are serialized by a striped lock on the
// discriminant's namespace.
type Cache struct {
	store  store.Store
	zeros  oracle.ZeroOracle
	chars  arith.CharacterOracle
	pc     *precision.Context
	logger *logrus.Entry

	locks [lockStripes]sync.Mutex

	lambdaMu sync.Mutex
	lambda   map[int]*arith.VonMangoldt

	hits        atomic.Int64
	misses      atomic.Int64
	oracleCalls atomic.Int64
}

// New creates a cache over s. Zeros come from zo and character values from
// co; all derived decimals are computed at pc.
func New(s store.Store, zo oracle.ZeroOracle, co arith.CharacterOracle, pc *precision.Context, logger *logrus.Logger) *Cache {
	return &Cache{
		store:  s,
		zeros:  zo,
		chars:  co,
		pc:     pc,
		logger: logger.WithField("component", "zerocache"),
		lambda: make(map[int]*arith.VonMangoldt),
	}
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		OracleCalls: c.oracleCalls.Load(),
	}
}

func namespace(d int64) string {
	abs := d
	if abs < 0 {
		abs = -abs
	}
	return fmt.Sprintf("%s/%d", arith.Sign(d), abs)
}

func zerosKey(d int64) string     { return "zeros/" + namespace(d) }
func intervalsKey(d int64) string { return "intervals/" + namespace(d) }
func chiKey(d int64, K int) string {
	return fmt.Sprintf("chi/%s/K%d", namespace(d), K)
}
func lambdaKey(K int, digits uint32) string {
	return fmt.Sprintf("lambda/K%d/P%d", K, digits)
}

func (c *Cache) lock(d int64) func() {
	mu := &c.locks[xxhash.Sum64String(namespace(d))%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// Zeros returns the first n ordinates for d. Only the missing suffix is
// fetched and the cached prefix only ever grows. On a shortfall the
// available prefix is returned with an error wrapping
// errs.ErrInsufficientData.
func (c *Cache) Zeros(ctx context.Context, d int64, n int) ([]string, error) {
	unlock := c.lock(d)
	defer unlock()
	return c.zerosLocked(ctx, d, n)
}

func (c *Cache) zerosLocked(ctx context.Context, d int64, n int) ([]string, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: zero count %d must be positive", errs.ErrInvalidInput, n)
	}
	cached, err := c.loadZeros(ctx, d)
	if err != nil {
		return nil, err
	}
	if len(cached) >= n {
		c.hits.Add(1)
		return cached[:n], nil
	}
	c.misses.Add(1)

	c.oracleCalls.Add(1)
	fetched, ferr := c.zeros.Zeros(ctx, d, n)
	if ferr != nil && !errors.Is(ferr, errs.ErrInsufficientData) {
		return nil, fmt.Errorf("failed to fetch zeros for d=%d: %w", d, ferr)
	}
	if len(fetched) > len(cached) {
		before := len(cached)
		last := ""
		if before > 0 {
			last = cached[before-1]
		}
		if err := oracle.CheckOrdinates(last, fetched[before:]); err != nil {
			return nil, fmt.Errorf("oracle returned bad zeros for d=%d: %w", d, err)
		}
		cached = append(cached, fetched[before:]...)
		if err := c.store.Put(ctx, zerosKey(d), encodeZeros(cached)); err != nil {
			return nil, fmt.Errorf("failed to persist zeros for d=%d: %w", d, err)
		}
		c.logger.WithFields(logrus.Fields{"d": d, "cached": len(cached), "added": len(cached) - before}).Debug("Zero prefix extended")
	}
	if len(cached) < n {
		if ferr == nil {
			ferr = fmt.Errorf("%w: d=%d expected %d zeros, oracle returned %d", errs.ErrInsufficientData, d, n, len(fetched))
		}
		return cached, ferr
	}
	return cached[:n], nil
}

func (c *Cache) loadZeros(ctx context.Context, d int64) ([]string, error) {
	data, err := c.store.Get(ctx, zerosKey(d))
	if store.IsNotFound(err) {
		return nil, nil
	}
	if errors.Is(err, errs.ErrMalformedData) {
		c.discardZeros(ctx, d, err)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load zeros for d=%d: %w", d, err)
	}
	zeros, err := decodeZeros(data)
	if err != nil {
		c.discardZeros(ctx, d, err)
		return nil, nil
	}
	return zeros, nil
}

// discardZeros removes a corrupt zero entry so that later runs do not trip
// over it while the oracle is offline.
func (c *Cache) discardZeros(ctx context.Context, d int64, cause error) {
	log := c.logger.WithField("d", d)
	log.Warnf("Discarding corrupt zero cache: %v", cause)
	if err := c.store.Delete(ctx, zerosKey(d)); err != nil {
		log.WithError(err).Warn("Failed to delete corrupt zero cache")
	}
}

// Intervals returns (γ−eps, γ+eps) for the first n zeros of d. A persisted
// interval set is used only when it was built with exactly eps at the
// current precision and covers n; otherwise the set is rebuilt from the
// zero prefix, never by asking the oracle again for zeros already cached.
func (c *Cache) Intervals(ctx context.Context, d int64, n int, eps *apd.Decimal) ([]verify.Interval, error) {
	unlock := c.lock(d)
	defer unlock()

	if set := c.loadIntervals(ctx, d); set != nil && set.matches(eps, c.pc.Digits()) && len(set.intervals) >= n {
		c.hits.Add(1)
		return set.intervals[:n], nil
	}

	zeros, zerr := c.zerosLocked(ctx, d, n)
	if zerr != nil && !errors.Is(zerr, errs.ErrInsufficientData) {
		return nil, zerr
	}

	set := &intervalSet{eps: new(apd.Decimal).Set(eps), digits: c.pc.Digits(), intervals: make([]verify.Interval, 0, len(zeros))}
	for _, z := range zeros {
		gamma, err := precision.Parse(z)
		if err != nil {
			return nil, fmt.Errorf("%w: cached zero for d=%d: %v", errs.ErrMalformedData, d, err)
		}
		iv, err := verify.NewInterval(c.pc, gamma, eps)
		if err != nil {
			return nil, err
		}
		set.intervals = append(set.intervals, iv)
	}
	if len(set.intervals) > 0 {
		if err := c.store.Put(ctx, intervalsKey(d), encodeIntervals(set)); err != nil {
			return nil, fmt.Errorf("failed to persist intervals for d=%d: %w", d, err)
		}
	}
	return set.intervals, zerr
}

func (c *Cache) loadIntervals(ctx context.Context, d int64) *intervalSet {
	data, err := c.store.Get(ctx, intervalsKey(d))
	if err != nil {
		if !store.IsNotFound(err) {
			c.logger.WithField("d", d).Warnf("Ignoring interval cache: %v", err)
		}
		return nil
	}
	set, err := decodeIntervals(data)
	if err != nil {
		c.logger.WithField("d", d).Warnf("Ignoring interval cache: %v", err)
		return nil
	}
	return set
}

// FirstZero returns the lowest ordinate for d, fetching it if needed.
func (c *Cache) FirstZero(ctx context.Context, d int64) (*apd.Decimal, error) {
	zeros, err := c.Zeros(ctx, d, 1)
	if err != nil {
		return nil, err
	}
	return precision.Parse(zeros[0])
}

// VonMangoldt returns Λ(0..K) at the cache's precision. The array is shared
// by every discriminant, so it is also kept in memory once built.
func (c *Cache) VonMangoldt(ctx context.Context, K int) (*arith.VonMangoldt, error) {
	c.lambdaMu.Lock()
	defer c.lambdaMu.Unlock()

	if lam, ok := c.lambda[K]; ok {
		c.hits.Add(1)
		return lam, nil
	}

	key := lambdaKey(K, c.pc.Digits())
	data, err := c.store.Get(ctx, key)
	switch {
	case err == nil:
		var lam arith.VonMangoldt
		if uerr := lam.UnmarshalText(data); uerr == nil && lam.K() == K && lam.Digits() == c.pc.Digits() {
			c.hits.Add(1)
			c.lambda[K] = &lam
			return &lam, nil
		}
		c.logger.WithField("key", key).Warn("Discarding corrupt von Mangoldt cache")
	case !store.IsNotFound(err):
		c.logger.WithField("key", key).Warnf("Ignoring von Mangoldt cache: %v", err)
	}
	c.misses.Add(1)

	lam, err := arith.NewVonMangoldt(c.pc, K)
	if err != nil {
		return nil, err
	}
	text, err := lam.MarshalText()
	if err != nil {
		return nil, fmt.Errorf("failed to encode von Mangoldt array: %w", err)
	}
	if err := c.store.Put(ctx, key, text); err != nil {
		return nil, fmt.Errorf("failed to persist von Mangoldt array: %w", err)
	}
	c.lambda[K] = lam
	return lam, nil
}

// Character returns χ_d(0..K).
func (c *Cache) Character(ctx context.Context, d int64, K int) (*arith.Character, error) {
	unlock := c.lock(d)
	defer unlock()

	key := chiKey(d, K)
	data, err := c.store.Get(ctx, key)
	switch {
	case err == nil:
		var chi arith.Character
		if uerr := chi.UnmarshalText(data); uerr == nil && chi.D() == d && chi.K() == K {
			c.hits.Add(1)
			return &chi, nil
		}
		c.logger.WithField("key", key).Warn("Discarding corrupt character cache")
	case !store.IsNotFound(err):
		c.logger.WithField("key", key).Warnf("Ignoring character cache: %v", err)
	}
	c.misses.Add(1)

	chi, err := arith.NewCharacter(c.chars, d, K)
	if err != nil {
		return nil, err
	}
	text, err := chi.MarshalText()
	if err != nil {
		return nil, fmt.Errorf("failed to encode character array: %w", err)
	}
	if err := c.store.Put(ctx, key, text); err != nil {
		return nil, fmt.Errorf("failed to persist character array: %w", err)
	}
	return chi, nil
}
