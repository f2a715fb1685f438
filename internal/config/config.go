// Package config loads run settings from defaults, an optional YAML file,
// GRH_* environment variables and command-line flags, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/uyen-nguyen-190304/GRH-verification/internal/errs"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/precision"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/store"
)

const (
	Version   = "1.0.0"
	EnvPrefix = "GRH"

	// MinUpperLimit is the smallest K the tail bound is valid for.
	MinUpperLimit = 18

	MinPrecision = precision.MinDigits
)

type VerificationConfig struct {
	UpperLimit int `mapstructure:"upper_limit" yaml:"upper_limit"`
	// Epsilon and the heights are decimal strings so that no binary
	// rounding happens before they reach the working precision.
	Epsilon        string `mapstructure:"epsilon" yaml:"epsilon"`
	Height         string `mapstructure:"height" yaml:"height"`
	Power          int    `mapstructure:"power" yaml:"power"`
	Chunk          int    `mapstructure:"chunk" yaml:"chunk"`
	Precision      int    `mapstructure:"precision" yaml:"precision"`
	FallbackHeight string `mapstructure:"fallback_height" yaml:"fallback_height"`
}

type OracleConfig struct {
	LcalcPath string        `mapstructure:"lcalc_path" yaml:"lcalc_path"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
}

type CacheConfig struct {
	Backend     string `mapstructure:"backend" yaml:"backend"`
	Dir         string `mapstructure:"dir" yaml:"dir"`
	Compression string `mapstructure:"compression" yaml:"compression"`
}

type OutputConfig struct {
	DataDir   string `mapstructure:"data_dir" yaml:"data_dir"`
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	Verbose   bool   `mapstructure:"verbose" yaml:"verbose"`
}

type PerformanceConfig struct {
	Workers int `mapstructure:"workers" yaml:"workers"`
}

type Config struct {
	Verification VerificationConfig `mapstructure:"verification" yaml:"verification"`
	Oracle       OracleConfig       `mapstructure:"oracle" yaml:"oracle"`
	Cache        CacheConfig        `mapstructure:"cache" yaml:"cache"`
	Output       OutputConfig       `mapstructure:"output" yaml:"output"`
	Performance  PerformanceConfig  `mapstructure:"performance" yaml:"performance"`

	loadedFrom string
}

// LoadedFrom returns the config file that was read, or "" when none was.
func (c *Config) LoadedFrom() string { return c.loadedFrom }

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	// Verification defaults
	v.SetDefault("verification.upper_limit", 100000)
	v.SetDefault("verification.epsilon", "1e-6")
	v.SetDefault("verification.height", "") // "" = first zero + 2ε
	v.SetDefault("verification.power", 1)
	v.SetDefault("verification.chunk", 10)
	v.SetDefault("verification.precision", precision.DefaultDigits)
	v.SetDefault("verification.fallback_height", "50")

	// Oracle defaults
	v.SetDefault("oracle.lcalc_path", "lcalc")
	v.SetDefault("oracle.timeout", "10m")
	v.SetDefault("oracle.rate_limit", 0) // 0 = unlimited

	// Cache defaults
	v.SetDefault("cache.backend", store.BackendLocal)
	v.SetDefault("cache.dir", "") // "" = <data_dir>/cache
	v.SetDefault("cache.compression", "zstd")

	// Output defaults
	v.SetDefault("output.data_dir", "data")
	v.SetDefault("output.output_dir", "results")
	v.SetDefault("output.log_level", "info")
	v.SetDefault("output.verbose", false)

	// Performance defaults
	v.SetDefault("performance.workers", 0) // 0 = auto
}

// NewViper returns a viper instance with defaults and environment binding
// in place. Flags are bound by the caller before Load.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (if given) into v and returns the validated config. A
// path that does not exist is created with the defaults; created reports
// whether that happened.
func Load(v *viper.Viper, path string) (cfg *Config, created bool, err error) {
	if path != "" {
		if _, statErr := os.Stat(path); errors.Is(statErr, fs.ErrNotExist) {
			if err := SaveDefault(path); err != nil {
				return nil, false, fmt.Errorf("failed to save default config: %w", err)
			}
			created = true
		}
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, created, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg = &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, created, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.loadedFrom = v.ConfigFileUsed()

	if cfg.Output.Verbose {
		cfg.Output.LogLevel = "debug"
	}
	calculateDynamicValues(cfg)

	if err := Validate(cfg); err != nil {
		return nil, created, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, created, nil
}

// Default returns the configuration produced by the defaults alone.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg := &Config{}
	// Defaults always decode.
	_ = v.Unmarshal(cfg)
	return cfg
}

// SaveDefault writes the default configuration to path as YAML.
func SaveDefault(path string) error {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}

	header := `# GRH verification configuration v` + Version + `
# Generated automatically on ` + time.Now().Format("2006-01-02 15:04:05") + `
# Every key can be overridden with GRH_<SECTION>_<KEY>, e.g. GRH_VERIFICATION_EPSILON.

`
	return os.WriteFile(path, []byte(header+string(data)), 0644)
}

func calculateDynamicValues(cfg *Config) {
	if cfg.Performance.Workers == 0 {
		cfg.Performance.Workers = runtime.NumCPU()
	}
	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = filepath.Join(cfg.Output.DataDir, "cache")
	}
}

// Validate checks every setting and wraps failures in errs.ErrInvalidInput,
// or errs.ErrUnsupportedPower for a power other than 1.
func Validate(cfg *Config) error {
	v := cfg.Verification
	if v.UpperLimit < MinUpperLimit {
		return fmt.Errorf("%w: upper_limit must be at least %d, got %d", errs.ErrInvalidInput, MinUpperLimit, v.UpperLimit)
	}
	if v.Power != 1 {
		return fmt.Errorf("%w: power %d", errs.ErrUnsupportedPower, v.Power)
	}
	if v.Chunk <= 0 {
		return fmt.Errorf("%w: chunk must be positive, got %d", errs.ErrInvalidInput, v.Chunk)
	}
	if v.Precision < MinPrecision {
		return fmt.Errorf("%w: precision must be at least %d digits, got %d", errs.ErrInvalidInput, MinPrecision, v.Precision)
	}

	eps, err := cfg.Epsilon()
	if err != nil {
		return err
	}
	if eps.Sign() <= 0 {
		return fmt.Errorf("%w: epsilon must be positive, got %s", errs.ErrInvalidInput, v.Epsilon)
	}
	if _, err := cfg.Height(); err != nil {
		return err
	}
	fallback, err := parseDecimal("fallback_height", v.FallbackHeight)
	if err != nil {
		return err
	}
	if fallback.Sign() <= 0 {
		return fmt.Errorf("%w: fallback_height must be positive, got %s", errs.ErrInvalidInput, v.FallbackHeight)
	}

	if cfg.Oracle.Timeout < 0 {
		return fmt.Errorf("%w: oracle timeout must not be negative", errs.ErrInvalidInput)
	}
	if cfg.Oracle.RateLimit < 0 {
		return fmt.Errorf("%w: oracle rate_limit must not be negative", errs.ErrInvalidInput)
	}

	switch cfg.Cache.Backend {
	case store.BackendLocal, store.BackendSQLite, store.BackendMemory:
	default:
		return fmt.Errorf("%w: unknown cache backend %q", errs.ErrInvalidInput, cfg.Cache.Backend)
	}
	if _, err := store.ParseCompression(cfg.Cache.Compression); err != nil {
		return err
	}

	switch strings.ToLower(cfg.Output.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", errs.ErrInvalidInput, cfg.Output.LogLevel)
	}
	if cfg.Output.DataDir == "" || cfg.Output.OutputDir == "" {
		return fmt.Errorf("%w: data_dir and output_dir must be set", errs.ErrInvalidInput)
	}
	if cfg.Performance.Workers < 0 {
		return fmt.Errorf("%w: workers must not be negative", errs.ErrInvalidInput)
	}
	return nil
}

// Epsilon returns the half-width of the zero intervals.
func (c *Config) Epsilon() (*apd.Decimal, error) {
	return parseDecimal("epsilon", c.Verification.Epsilon)
}

// Height returns the explicit η, or nil when height is unset and η is
// chosen per discriminant. An explicit 0 is a valid height.
func (c *Config) Height() (*apd.Decimal, error) {
	if strings.TrimSpace(c.Verification.Height) == "" {
		return nil, nil
	}
	h, err := parseDecimal("height", c.Verification.Height)
	if err != nil {
		return nil, err
	}
	if h.Sign() < 0 {
		return nil, fmt.Errorf("%w: height must not be negative, got %s", errs.ErrInvalidInput, c.Verification.Height)
	}
	return h, nil
}

// FallbackHeight returns the η used when the first zero is unavailable.
func (c *Config) FallbackHeight() (*apd.Decimal, error) {
	return parseDecimal("fallback_height", c.Verification.FallbackHeight)
}

// Compression returns the parsed cache compression.
func (c *Config) Compression() (store.Compression, error) {
	return store.ParseCompression(c.Cache.Compression)
}

// StoreOptions returns the cache backend settings.
func (c *Config) StoreOptions() (store.Options, error) {
	comp, err := c.Compression()
	if err != nil {
		return store.Options{}, err
	}
	return store.Options{Backend: c.Cache.Backend, Dir: c.Cache.Dir, Compression: comp}, nil
}

func parseDecimal(name, s string) (*apd.Decimal, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: %s is empty", errs.ErrInvalidInput, name)
	}
	d, err := precision.Parse(s)
	if err != nil || d.Form != apd.Finite {
		return nil, fmt.Errorf("%w: %s %q is not a number", errs.ErrInvalidInput, name, s)
	}
	return d, nil
}
