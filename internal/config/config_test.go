package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uyen-nguyen-190304/GRH-verification/internal/errs"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/store"
)

func TestLoadDefaults(t *testing.T) {
	cfg, created, err := Load(NewViper(), "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Empty(t, cfg.LoadedFrom())

	assert.Equal(t, 100000, cfg.Verification.UpperLimit)
	assert.Equal(t, 10, cfg.Verification.Chunk)
	assert.Equal(t, 50, cfg.Verification.Precision)
	assert.Equal(t, 1, cfg.Verification.Power)
	assert.Equal(t, 10*time.Minute, cfg.Oracle.Timeout)
	assert.Equal(t, "data", cfg.Output.DataDir)
	assert.Equal(t, "results", cfg.Output.OutputDir)
	assert.Equal(t, filepath.Join("data", "cache"), cfg.Cache.Dir)
	assert.Equal(t, runtime.NumCPU(), cfg.Performance.Workers)

	eps, err := cfg.Epsilon()
	require.NoError(t, err)
	assert.Equal(t, "0.000001", eps.Text('f'))

	height, err := cfg.Height()
	require.NoError(t, err)
	assert.Nil(t, height, "unset height is chosen per discriminant")

	fallback, err := cfg.FallbackHeight()
	require.NoError(t, err)
	assert.Equal(t, "50", fallback.String())

	opts, err := cfg.StoreOptions()
	require.NoError(t, err)
	assert.Equal(t, store.BackendLocal, opts.Backend)
	assert.Equal(t, store.CompressionZSTD, opts.Compression)
}

func TestLoadWritesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "grh.yaml")
	cfg, created, err := Load(NewViper(), path)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, path, cfg.LoadedFrom())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.HasPrefix(text, "# GRH verification configuration v"+Version))
	assert.Contains(t, text, "upper_limit: 100000")
	assert.Contains(t, text, "timeout: 10m0s")

	// A second load reads the written file back unchanged.
	again, created, err := Load(NewViper(), path)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, cfg.Verification, again.Verification)
	assert.Equal(t, cfg.Oracle, again.Oracle)
}

func TestLoadFileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grh.yaml")
	content := `verification:
  upper_limit: 5000
  epsilon: "1e-8"
  height: "12.5"
cache:
  backend: sqlite
  compression: lz4
output:
  verbose: true
performance:
  workers: 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	t.Setenv("GRH_VERIFICATION_CHUNK", "25")

	cfg, _, err := Load(NewViper(), path)
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.Verification.UpperLimit)
	assert.Equal(t, 25, cfg.Verification.Chunk)
	assert.Equal(t, 3, cfg.Performance.Workers)
	assert.Equal(t, "debug", cfg.Output.LogLevel, "verbose forces debug")

	eps, err := cfg.Epsilon()
	require.NoError(t, err)
	assert.Equal(t, "1E-8", eps.String())
	height, err := cfg.Height()
	require.NoError(t, err)
	assert.Equal(t, "12.5", height.String())

	opts, err := cfg.StoreOptions()
	require.NoError(t, err)
	assert.Equal(t, store.BackendSQLite, opts.Backend)
	assert.Equal(t, store.CompressionLZ4, opts.Compression)
}

func TestExplicitZeroHeight(t *testing.T) {
	t.Setenv("GRH_VERIFICATION_HEIGHT", "0")
	cfg, _, err := Load(NewViper(), "")
	require.NoError(t, err)
	height, err := cfg.Height()
	require.NoError(t, err)
	require.NotNil(t, height)
	assert.True(t, height.IsZero())
}

func TestLoadRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grh.yaml")
	require.NoError(t, os.WriteFile(path, []byte("verification: [unclosed"), 0644))
	_, _, err := Load(NewViper(), path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"K below 18", func(c *Config) { c.Verification.UpperLimit = 17 }, errs.ErrInvalidInput},
		{"zero epsilon", func(c *Config) { c.Verification.Epsilon = "0" }, errs.ErrInvalidInput},
		{"negative epsilon", func(c *Config) { c.Verification.Epsilon = "-1e-6" }, errs.ErrInvalidInput},
		{"non-numeric epsilon", func(c *Config) { c.Verification.Epsilon = "tiny" }, errs.ErrInvalidInput},
		{"infinite epsilon", func(c *Config) { c.Verification.Epsilon = "Inf" }, errs.ErrInvalidInput},
		{"negative height", func(c *Config) { c.Verification.Height = "-2" }, errs.ErrInvalidInput},
		{"non-numeric height", func(c *Config) { c.Verification.Height = "auto" }, errs.ErrInvalidInput},
		{"zero fallback", func(c *Config) { c.Verification.FallbackHeight = "0" }, errs.ErrInvalidInput},
		{"power 2", func(c *Config) { c.Verification.Power = 2 }, errs.ErrUnsupportedPower},
		{"zero chunk", func(c *Config) { c.Verification.Chunk = 0 }, errs.ErrInvalidInput},
		{"low precision", func(c *Config) { c.Verification.Precision = 20 }, errs.ErrInvalidInput},
		{"negative timeout", func(c *Config) { c.Oracle.Timeout = -time.Second }, errs.ErrInvalidInput},
		{"negative rate", func(c *Config) { c.Oracle.RateLimit = -1 }, errs.ErrInvalidInput},
		{"unknown backend", func(c *Config) { c.Cache.Backend = "s3" }, errs.ErrInvalidInput},
		{"unknown compression", func(c *Config) { c.Cache.Compression = "brotli" }, errs.ErrInvalidInput},
		{"unknown log level", func(c *Config) { c.Output.LogLevel = "trace" }, errs.ErrInvalidInput},
		{"empty output dir", func(c *Config) { c.Output.OutputDir = "" }, errs.ErrInvalidInput},
		{"negative workers", func(c *Config) { c.Performance.Workers = -1 }, errs.ErrInvalidInput},
	}
	require.NoError(t, Validate(Default()))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, Validate(cfg), tt.want)
		})
	}
}
