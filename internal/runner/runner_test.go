package runner

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/uyen-nguyen-190304/GRH-verification/internal/arith"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/errs"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/oracle"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/precision"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/report"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/store"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/verify"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/zerocache"
)

var pc = precision.MustNew(40)

func ptr(v int64) *int64 { return &v }

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fixture struct {
	runner *Runner
	out    string
	data   string
}

func newFixture(t *testing.T, zeros map[int64][]string, opts Options) *fixture {
	t.Helper()
	logger := quietLogger()
	cache := zerocache.New(store.NewMemory(), oracle.NewStatic(zeros), arith.Kronecker{}, pc, logger)
	engine := verify.NewEngine(pc, cache, logger)

	out := t.TempDir()
	data := t.TempDir()
	summary, err := report.OpenSummary(out)
	require.NoError(t, err)
	errLog, err := report.OpenErrorLog(out)
	require.NoError(t, err)
	artifacts, err := report.NewArtifacts(data)
	require.NoError(t, err)
	t.Cleanup(func() {
		summary.Close()
		errLog.Close()
	})

	if opts.K == 0 {
		opts.K = 200
	}
	if opts.Epsilon == nil {
		opts.Epsilon = apd.New(1, -6)
	}
	return &fixture{
		runner: New(pc, cache, engine, summary, errLog, artifacts, opts, logger),
		out:    out,
		data:   data,
	}
}

func (f *fixture) read(t *testing.T, path ...string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(path...))
	require.NoError(t, err)
	return string(b)
}

func TestDiscriminants(t *testing.T) {
	ds, err := Discriminants(ptr(-4), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{-4}, ds)

	ds, err = Discriminants(ptr(-5), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, ds)

	ds, err = Discriminants(nil, ptr(-10), ptr(10))
	require.NoError(t, err)
	assert.Equal(t, []int64{-8, -7, -4, -3, 1, 5, 8}, ds)

	ds, err = Discriminants(nil, ptr(13), ptr(13))
	require.NoError(t, err)
	assert.Equal(t, []int64{13}, ds)

	for name, args := range map[string][3]*int64{
		"both modes":     {ptr(-4), ptr(-10), ptr(10)},
		"neither mode":   {nil, nil, nil},
		"half a range":   {nil, ptr(-10), nil},
		"inverted range": {nil, ptr(10), ptr(-10)},
	} {
		_, err := Discriminants(args[0], args[1], args[2])
		assert.ErrorIs(t, err, errs.ErrInvalidInput, name)
	}
}

func TestChooseEta(t *testing.T) {
	ctx := context.Background()
	cache := zerocache.New(store.NewMemory(),
		oracle.NewStatic(map[int64][]string{-4: {"6.0209489", "10.2437703"}}),
		arith.Kronecker{}, pc, quietLogger())
	eps := apd.New(1, -6)
	fallback := apd.New(50, 0)

	explicit := apd.New(12, 0)
	eta, err := ChooseEta(ctx, pc, cache, -4, explicit, eps, fallback)
	require.NoError(t, err)
	assert.Same(t, explicit, eta)

	eta, err = ChooseEta(ctx, pc, cache, -4, nil, eps, fallback)
	require.NoError(t, err)
	assert.Equal(t, "6.0209509", eta.String())

	eta, err = ChooseEta(ctx, pc, cache, -7, nil, eps, fallback)
	require.ErrorIs(t, err, errs.ErrOracleUnavailable)
	assert.Same(t, fallback, eta)
}

func TestRun(t *testing.T) {
	defer goleak.VerifyNone(t)

	zeros := map[int64][]string{
		-4: {"0.5", "100", "200"},
		-3: {"100", "110"},
	}
	f := newFixture(t, zeros, Options{
		Eta:     apd.New(1000, 0),
		Workers: 3,
		Skip:    map[int64]bool{-8: true},
	})

	stats, err := f.runner.Run(context.Background(), []int64{-8, -4, -3, 5})
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, int64(1), stats.Verified)
	assert.Equal(t, int64(2), stats.Failed)
	assert.Equal(t, int64(1), stats.Skipped)
	assert.Equal(t, f.runner.ID(), stats.RunID)
	assert.Equal(t, int64(3), stats.Cache.OracleCalls)

	summary := f.read(t, f.out, report.SummaryFile)
	assert.True(t, strings.HasPrefix(summary, "d,eta,n_used,success\n"))
	assert.Contains(t, summary, "-4,1000,1,true\n")
	assert.Contains(t, summary, "-3,1000,2,false\n")
	assert.Contains(t, summary, "5,1000,0,false\n")
	assert.NotContains(t, summary, "-8,")

	errLog := f.read(t, f.out, report.ErrorLogFile)
	lines := strings.Split(strings.TrimSpace(errLog), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, errLog, "kind=InsufficientData")
	assert.Contains(t, errLog, "kind=OracleUnavailable")
	assert.NotContains(t, errLog, "d=-4 ")

	assert.Equal(t, "0.5\n", f.read(t, f.data, "negative_d", "d_-4", "zeros.txt"))
	assert.Equal(t, "100\n110\n", f.read(t, f.data, "negative_d", "d_-3", "zeros.txt"))
	assert.FileExists(t, filepath.Join(f.data, "von_mangoldt_K200.txt"))

	done, err := report.CompletedDiscriminants(f.out)
	require.NoError(t, err)
	assert.Equal(t, map[int64]bool{-4: true, -3: true, 5: true}, done)
}

func TestRunChoosesEtaPerDiscriminant(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t, map[int64][]string{-4: {"0.5", "6.0209489"}}, Options{Workers: 2})
	stats, err := f.runner.Run(context.Background(), []int64{-4, -7})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Verified)
	assert.Equal(t, int64(1), stats.Failed)

	summary := f.read(t, f.out, report.SummaryFile)
	assert.Contains(t, summary, "-4,0.500002,0,true\n", "η = first zero + 2ε")
	assert.Contains(t, summary, "-7,50,0,false\n", "unknown first zero falls back to η = 50")
}

func TestRunCanceled(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t, map[int64][]string{-4: {"0.5"}}, Options{Eta: apd.New(1000, 0)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := f.runner.Run(ctx, []int64{-4, -3})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, stats.Verified+stats.Failed)
	assert.Equal(t, "d,eta,n_used,success\n", f.read(t, f.out, report.SummaryFile))
}

func TestRunStatsPrint(t *testing.T) {
	var buf bytes.Buffer
	RunStats{RunID: "abc", Total: 3, Verified: 2, Failed: 1, Elapsed: 125 * time.Second}.Print(&buf)
	out := buf.String()
	assert.Contains(t, out, "Run ID:                   abc")
	assert.Contains(t, out, "Total Time:               02m 05s")
	assert.Contains(t, out, "  Verified:               2")
	assert.Contains(t, out, "0.0% hit rate")
}

func TestFormatDurationDetailed(t *testing.T) {
	tests := map[time.Duration]string{
		1500 * time.Millisecond:                     "1.5s",
		125 * time.Second:                           "02m 05s",
		3*time.Hour + 4*time.Minute + 5*time.Second: "03h 04m 05s",
		26 * time.Hour:                              "1d 02h 00m 00s",
	}
	for d, want := range tests {
		assert.Equal(t, want, formatDurationDetailed(d))
	}
}
