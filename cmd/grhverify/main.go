package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/uyen-nguyen-190304/GRH-verification/internal/arith"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/config"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/errs"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/logging"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/oracle"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/precision"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/report"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/runner"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/store"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/verify"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/zerocache"
)

// Flag name to config key.
var flagKeys = map[string]string{
	"eta":         "verification.height",
	"power":       "verification.power",
	"upper-limit": "verification.upper_limit",
	"eps":         "verification.epsilon",
	"chunk":       "verification.chunk",
	"precision":   "verification.precision",
	"lcalc":       "oracle.lcalc_path",
	"cache":       "cache.backend",
	"data-dir":    "output.data_dir",
	"output-dir":  "output.output_dir",
	"verbose":     "output.verbose",
	"workers":     "performance.workers",
}

type options struct {
	configPath string
	single     int64
	dMin       int64
	dMax       int64
	resume     bool
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "grhverify",
		Short: "Verify GRH for quadratic Dirichlet L-functions",
		Long: `Checks the explicit-formula inequality for L(s, χ_d) up to height η for
one fundamental discriminant or every fundamental discriminant in a range.
Zeros come from lcalc and are cached between runs.`,
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, v, opts)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Configuration file path (written with defaults if missing)")
	flags.BoolVar(&opts.resume, "resume", false, "Skip discriminants already in the summary")

	// Discriminant selection
	flags.Int64VarP(&opts.single, "discriminant", "d", 0, "Single discriminant to verify")
	flags.Int64Var(&opts.dMin, "d-min", 0, "Start of the discriminant range (inclusive)")
	flags.Int64Var(&opts.dMax, "d-max", 0, "End of the discriminant range (inclusive)")

	// Verification parameters
	flags.String("eta", "", "Height η (default: first zero + 2ε)")
	flags.Int("power", 1, "Logarithmic derivative power (only 1 is supported)")
	flags.IntP("upper-limit", "K", 100000, "Dirichlet series truncation K")
	flags.String("eps", "1e-6", "Half-width ε of the zero intervals")
	flags.Int("chunk", verify.DefaultChunk, "Zeros requested per batch")
	flags.Int("precision", precision.DefaultDigits, "Working precision in decimal digits")

	// Environment
	flags.String("lcalc", "lcalc", "lcalc executable")
	flags.String("cache", store.BackendLocal, "Cache backend: local, sqlite, memory")
	flags.String("data-dir", "data", "Data and cache directory")
	flags.String("output-dir", "results", "Output directory for summary.csv and errors.log")
	flags.Int("workers", 0, "Discriminants verified in parallel (0 = number of CPUs)")
	flags.Bool("verbose", false, "Verbose output")

	for name, key := range flagKeys {
		// Every name in flagKeys is registered above.
		_ = v.BindPFlag(key, flags.Lookup(name))
	}
	return cmd
}

func run(cmd *cobra.Command, v *viper.Viper, opts *options) error {
	cfg, created, err := config.Load(v, opts.configPath)
	if err != nil {
		return err
	}
	logger := logging.New(os.Stderr, cfg.Output.LogLevel, cfg.Output.Verbose)
	if created {
		logger.Infof("Config file not found, wrote defaults to %s", opts.configPath)
	}

	ds, err := selectDiscriminants(cmd, opts)
	if err != nil {
		return err
	}
	if len(ds) == 0 {
		logger.Warn("No fundamental discriminants in the selection")
		return nil
	}

	pc, err := precision.New(uint32(cfg.Verification.Precision))
	if err != nil {
		return fmt.Errorf("failed to set working precision: %w", err)
	}
	eps, err := cfg.Epsilon()
	if err != nil {
		return err
	}
	eta, err := cfg.Height()
	if err != nil {
		return err
	}
	fallback, err := cfg.FallbackHeight()
	if err != nil {
		return err
	}

	storeOpts, err := cfg.StoreOptions()
	if err != nil {
		return err
	}
	st, err := store.Open(storeOpts)
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer st.Close()

	var zo oracle.ZeroOracle
	lcalc, err := oracle.NewLcalc(oracle.LcalcConfig{
		Path:      cfg.Oracle.LcalcPath,
		Timeout:   cfg.Oracle.Timeout,
		RateLimit: cfg.Oracle.RateLimit,
	}, logger)
	if err != nil {
		logger.WithError(err).Warn("Zero oracle unavailable, only cached zeros will be used")
		zo = oracle.Unavailable{Err: err}
	} else {
		zo = lcalc
	}

	cache := zerocache.New(st, zo, arith.Kronecker{}, pc, logger)
	engine := verify.NewEngine(pc, cache, logger)

	summary, err := report.OpenSummary(cfg.Output.OutputDir)
	if err != nil {
		return err
	}
	defer summary.Close()
	errLog, err := report.OpenErrorLog(cfg.Output.OutputDir)
	if err != nil {
		return err
	}
	defer errLog.Close()
	artifacts, err := report.NewArtifacts(cfg.Output.DataDir)
	if err != nil {
		return err
	}

	var skip map[int64]bool
	if opts.resume {
		skip, err = report.CompletedDiscriminants(cfg.Output.OutputDir)
		if err != nil {
			return fmt.Errorf("failed to resume: %w", err)
		}
		logger.Infof("Resuming: %d discriminants already verified", len(skip))
	}

	r := runner.New(pc, cache, engine, summary, errLog, artifacts, runner.Options{
		K:           cfg.Verification.UpperLimit,
		Epsilon:     eps,
		Eta:         eta,
		FallbackEta: fallback,
		Chunk:       cfg.Verification.Chunk,
		Workers:     cfg.Performance.Workers,
		Skip:        skip,
	}, logger)

	printStartupBanner(logger, cfg, ds, r.ID())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats, err := r.Run(ctx, ds)
	stats.Print(cmd.OutOrStdout())
	if errors.Is(err, context.Canceled) {
		logger.Info("Interrupted, rerun with --resume to continue")
	}
	return err
}

func selectDiscriminants(cmd *cobra.Command, opts *options) ([]int64, error) {
	flags := cmd.Flags()
	var single, lo, hi *int64
	if flags.Changed("discriminant") {
		single = &opts.single
	}
	if flags.Changed("d-min") {
		lo = &opts.dMin
	}
	if flags.Changed("d-max") {
		hi = &opts.dMax
	}
	return runner.Discriminants(single, lo, hi)
}

func printStartupBanner(logger *logrus.Logger, cfg *config.Config, ds []int64, runID string) {
	logger.Infof("Starting GRH verification v%s (run %s)", config.Version, runID)
	logger.Infof("  Discriminants: %d (%d to %d)", len(ds), ds[0], ds[len(ds)-1])
	height := cfg.Verification.Height
	if height == "" {
		height = "first zero + 2ε"
	}
	logger.Infof("  K: %d | ε: %s | η: %s", cfg.Verification.UpperLimit, cfg.Verification.Epsilon, height)
	logger.Infof("  Precision: %d digits | Chunk: %d", cfg.Verification.Precision, cfg.Verification.Chunk)
	logger.Infof("  Cache: %s (%s) in %s", cfg.Cache.Backend, cfg.Cache.Compression, cfg.Cache.Dir)
	logger.Infof("  Workers: %d | Go: %s | CPUs: %d", cfg.Performance.Workers, runtime.Version(), runtime.NumCPU())
	if cfg.LoadedFrom() != "" {
		logger.Infof("  Config: %s", cfg.LoadedFrom())
	}
}

// exitCode is 2 when the invocation itself was invalid and 1 for any other
// failure.
func exitCode(err error) int {
	if errs.Fatal(err) {
		return 2
	}
	return 1
}

func main() {
	cmd := newRootCmd(config.NewViper())
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error [%s]: %v\n", errs.Kind(err), err)
		os.Exit(exitCode(err))
	}
}
