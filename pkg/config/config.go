// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < env < --config file < flags
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/logflow/oplog/pkg/analysis"
	oerrors "github.com/logflow/oplog/pkg/errors"
	"github.com/logflow/oplog/pkg/parser"
	"github.com/logflow/oplog/pkg/pipeline"
)

// Config holds all oplog configuration.
type Config struct {
	Version int `yaml:"version"`

	Analysis  AnalysisConfig  `yaml:"analysis"`
	Input     InputConfig     `yaml:"input"`
	Output    OutputConfig    `yaml:"output"`
	Cache     CacheConfig     `yaml:"cache"`
	Storage   StorageConfig   `yaml:"storage"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// AnalysisConfig mirrors analysis.Policy in human-friendly units.
type AnalysisConfig struct {
	SequentialThreshold float64  `yaml:"sequential_threshold"` // percent
	RandomThreshold     float64  `yaml:"random_threshold"`     // percent
	HighActivityOps     uint64   `yaml:"high_activity_ops"`
	TopActivity         int      `yaml:"top_activity"`
	SizeBuckets         []string `yaml:"size_buckets"`    // e.g. "4KiB"
	LatencyBuckets      []string `yaml:"latency_buckets"` // e.g. "100us"
	DistributionLimit   int      `yaml:"distribution_limit"`
}

// InputConfig controls how logs are read.
type InputConfig struct {
	ErrorPolicy string `yaml:"error_policy"` // skip | strict | quarantine
	MaxErrors   int64  `yaml:"max_errors"`   // 0 = unlimited
	Quarantine  string `yaml:"quarantine"`   // JSONL file for rejected lines
	BufferSize  string `yaml:"buffer_size"`  // e.g. "64KiB"
	Parallelism int    `yaml:"parallelism"`  // logs scanned at once, 0 = NumCPU
}

// OutputConfig controls report rendering.
type OutputConfig struct {
	Format   string `yaml:"format"` // text | json | yaml
	NoColor  bool   `yaml:"no_color"`
	Progress bool   `yaml:"progress"`
}

// CacheConfig controls the Redis report cache.
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled"`
	RedisAddr string        `yaml:"redis_addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// StorageConfig for logs read from object storage.
type StorageConfig struct {
	S3Region    string `yaml:"s3_region"`
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// TelemetryConfig for optional tracing and metrics.
type TelemetryConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Endpoint      string  `yaml:"endpoint"`
	Insecure      bool    `yaml:"insecure"`
	SamplingRatio float64 `yaml:"sampling_ratio"`
	MetricsFile   string  `yaml:"metrics_file"` // Prometheus textfile
}

// LoggingConfig for the CLI logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Default returns the default configuration.
func Default() *Config {
	p := analysis.DefaultPolicy()

	sizes := make([]string, len(p.SizeBounds))
	for i, b := range p.SizeBounds {
		sizes[i] = humanize.IBytes(b)
	}
	latencies := make([]string, len(p.LatencyBounds))
	for i, b := range p.LatencyBounds {
		latencies[i] = b.String()
	}

	return &Config{
		Version: 1,
		Analysis: AnalysisConfig{
			SequentialThreshold: p.SequentialThreshold,
			RandomThreshold:     p.RandomThreshold,
			HighActivityOps:     p.HighActivityOps,
			TopActivity:         p.TopActivity,
			SizeBuckets:         sizes,
			LatencyBuckets:      latencies,
			DistributionLimit:   p.DistributionLimit,
		},
		Input: InputConfig{
			ErrorPolicy: "skip",
			BufferSize:  "64KiB",
		},
		Output: OutputConfig{
			Format:   "text",
			Progress: true,
		},
		Cache: CacheConfig{
			RedisAddr: "localhost:6379",
			KeyPrefix: "oplog:report:",
			TTL:       24 * time.Hour,
		},
		Storage: StorageConfig{
			S3Region: "us-east-1",
		},
		Telemetry: TelemetryConfig{
			Endpoint:      "localhost:4317",
			Insecure:      true,
			SamplingRatio: 1.0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Policy converts the analysis section to an analysis.Policy and validates
// it.
func (c *Config) Policy() (analysis.Policy, error) {
	a := c.Analysis
	p := analysis.Policy{
		SequentialThreshold: a.SequentialThreshold,
		RandomThreshold:     a.RandomThreshold,
		HighActivityOps:     a.HighActivityOps,
		TopActivity:         a.TopActivity,
		DistributionLimit:   a.DistributionLimit,
	}
	for _, s := range a.SizeBuckets {
		n, err := humanize.ParseBytes(s)
		if err != nil {
			return p, oerrors.InvalidConfig("analysis.size_buckets", err)
		}
		p.SizeBounds = append(p.SizeBounds, n)
	}
	for _, s := range a.LatencyBuckets {
		d, err := time.ParseDuration(s)
		if err != nil {
			return p, oerrors.InvalidConfig("analysis.latency_buckets", err)
		}
		p.LatencyBounds = append(p.LatencyBounds, d)
	}
	return p, p.Validate()
}

// ScanConfig converts the input section to a parser.Config.
func (c *Config) ScanConfig() (parser.Config, error) {
	cfg := parser.DefaultConfig()
	switch c.Input.ErrorPolicy {
	case "", "skip", "strict", "quarantine":
		cfg.ErrorPolicy = pipeline.ParseErrorPolicy(c.Input.ErrorPolicy)
	default:
		return cfg, oerrors.InvalidConfig("input.error_policy",
			fmt.Errorf("unknown policy %q", c.Input.ErrorPolicy))
	}
	if cfg.ErrorPolicy == pipeline.ErrorPolicyQuarantine && c.Input.Quarantine == "" {
		return cfg, oerrors.InvalidConfig("input.quarantine",
			fmt.Errorf("quarantine policy needs a quarantine file"))
	}
	cfg.MaxErrors = c.Input.MaxErrors
	if c.Input.BufferSize != "" {
		n, err := humanize.ParseBytes(c.Input.BufferSize)
		if err != nil {
			return cfg, oerrors.InvalidConfig("input.buffer_size", err)
		}
		cfg.BufferSize = int(n)
	}
	return cfg, nil
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string // Paths that were loaded
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{
		config: Default(),
	}
}

// Load loads configuration from the standard locations and the environment.
func (m *Manager) Load() error {
	return m.LoadFrom(DefaultPaths()...)
}

// LoadFrom resets to defaults, merges the given files in order (missing files
// are ignored) and then applies OPLOG_* environment variables.
func (m *Manager) LoadFrom(paths ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()
	m.paths = nil

	for _, path := range paths {
		if err := m.loadFile(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return oerrors.Wrapf(err, oerrors.CodeInvalidConfig, "load %s", path)
		}
		m.paths = append(m.paths, path)
	}

	return m.loadEnv()
}

// LoadFile merges one explicit configuration file over the current state.
// Unlike the standard locations, the file must exist.
func (m *Manager) LoadFile(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadFile(path); err != nil {
		if os.IsNotExist(err) {
			return oerrors.FileNotFound(path)
		}
		return oerrors.Wrapf(err, oerrors.CodeInvalidConfig, "load %s", path)
	}
	m.paths = append(m.paths, path)
	return nil
}

// DefaultPaths returns config file paths in priority order.
func DefaultPaths() []string {
	var paths []string

	// System config
	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/oplog/config.yaml")
	}

	// User config
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".oplog", "config.yaml"))
	}

	// Project config (current directory)
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".oplog.yaml"))
	}

	return paths
}

// loadFile loads a single config file and merges it.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var partial Config
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return err
	}

	// Merge non-zero values
	m.merge(&partial)
	return nil
}

// merge merges non-zero values from src into config. A file cannot turn a
// boolean back off; use the environment or a flag for that.
func (m *Manager) merge(src *Config) {
	dst := m.config

	// Analysis
	if src.Analysis.SequentialThreshold != 0 {
		dst.Analysis.SequentialThreshold = src.Analysis.SequentialThreshold
	}
	if src.Analysis.RandomThreshold != 0 {
		dst.Analysis.RandomThreshold = src.Analysis.RandomThreshold
	}
	if src.Analysis.HighActivityOps != 0 {
		dst.Analysis.HighActivityOps = src.Analysis.HighActivityOps
	}
	if src.Analysis.TopActivity != 0 {
		dst.Analysis.TopActivity = src.Analysis.TopActivity
	}
	if len(src.Analysis.SizeBuckets) > 0 {
		dst.Analysis.SizeBuckets = src.Analysis.SizeBuckets
	}
	if len(src.Analysis.LatencyBuckets) > 0 {
		dst.Analysis.LatencyBuckets = src.Analysis.LatencyBuckets
	}
	if src.Analysis.DistributionLimit != 0 {
		dst.Analysis.DistributionLimit = src.Analysis.DistributionLimit
	}

	// Input
	if src.Input.ErrorPolicy != "" {
		dst.Input.ErrorPolicy = src.Input.ErrorPolicy
	}
	if src.Input.MaxErrors != 0 {
		dst.Input.MaxErrors = src.Input.MaxErrors
	}
	if src.Input.Quarantine != "" {
		dst.Input.Quarantine = src.Input.Quarantine
	}
	if src.Input.BufferSize != "" {
		dst.Input.BufferSize = src.Input.BufferSize
	}
	if src.Input.Parallelism != 0 {
		dst.Input.Parallelism = src.Input.Parallelism
	}

	// Output
	if src.Output.Format != "" {
		dst.Output.Format = src.Output.Format
	}
	if src.Output.NoColor {
		dst.Output.NoColor = true
	}

	// Cache
	if src.Cache.Enabled {
		dst.Cache.Enabled = true
	}
	if src.Cache.RedisAddr != "" {
		dst.Cache.RedisAddr = src.Cache.RedisAddr
	}
	if src.Cache.Password != "" {
		dst.Cache.Password = src.Cache.Password
	}
	if src.Cache.DB != 0 {
		dst.Cache.DB = src.Cache.DB
	}
	if src.Cache.KeyPrefix != "" {
		dst.Cache.KeyPrefix = src.Cache.KeyPrefix
	}
	if src.Cache.TTL != 0 {
		dst.Cache.TTL = src.Cache.TTL
	}

	// Storage
	if src.Storage.S3Region != "" {
		dst.Storage.S3Region = src.Storage.S3Region
	}
	if src.Storage.S3Endpoint != "" {
		dst.Storage.S3Endpoint = src.Storage.S3Endpoint
	}
	if src.Storage.S3PathStyle {
		dst.Storage.S3PathStyle = true
	}

	// Telemetry
	if src.Telemetry.Enabled {
		dst.Telemetry.Enabled = true
	}
	if src.Telemetry.Endpoint != "" {
		dst.Telemetry.Endpoint = src.Telemetry.Endpoint
	}
	if src.Telemetry.SamplingRatio != 0 {
		dst.Telemetry.SamplingRatio = src.Telemetry.SamplingRatio
	}
	if src.Telemetry.MetricsFile != "" {
		dst.Telemetry.MetricsFile = src.Telemetry.MetricsFile
	}

	// Logging
	if src.Logging.Level != "" {
		dst.Logging.Level = src.Logging.Level
	}
	if src.Logging.Format != "" {
		dst.Logging.Format = src.Logging.Format
	}
}

// loadEnv loads configuration from OPLOG_* environment variables.
func (m *Manager) loadEnv() error {
	c := m.config
	var errs oerrors.MultiError

	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	parsed := func(key string, parse func(string) error) {
		if v := os.Getenv(key); v != "" {
			if err := parse(v); err != nil {
				errs.Add(oerrors.InvalidConfig(key, err))
			}
		}
	}

	str("OPLOG_FORMAT", &c.Output.Format)
	str("OPLOG_ERROR_POLICY", &c.Input.ErrorPolicy)
	str("OPLOG_QUARANTINE", &c.Input.Quarantine)
	str("OPLOG_REDIS_ADDR", &c.Cache.RedisAddr)
	str("OPLOG_S3_REGION", &c.Storage.S3Region)
	str("OPLOG_S3_ENDPOINT", &c.Storage.S3Endpoint)
	str("OPLOG_OTLP_ENDPOINT", &c.Telemetry.Endpoint)
	str("OPLOG_METRICS_FILE", &c.Telemetry.MetricsFile)
	str("OPLOG_LOG_LEVEL", &c.Logging.Level)
	str("OPLOG_LOG_FORMAT", &c.Logging.Format)

	parsed("OPLOG_SEQUENTIAL_THRESHOLD", func(v string) (err error) {
		c.Analysis.SequentialThreshold, err = strconv.ParseFloat(v, 64)
		return err
	})
	parsed("OPLOG_RANDOM_THRESHOLD", func(v string) (err error) {
		c.Analysis.RandomThreshold, err = strconv.ParseFloat(v, 64)
		return err
	})
	parsed("OPLOG_HIGH_ACTIVITY_OPS", func(v string) (err error) {
		c.Analysis.HighActivityOps, err = strconv.ParseUint(v, 10, 64)
		return err
	})
	parsed("OPLOG_MAX_ERRORS", func(v string) (err error) {
		c.Input.MaxErrors, err = strconv.ParseInt(v, 10, 64)
		return err
	})
	parsed("OPLOG_SIZE_BUCKETS", func(v string) error {
		c.Analysis.SizeBuckets = splitList(v)
		return nil
	})
	parsed("OPLOG_CACHE", func(v string) (err error) {
		c.Cache.Enabled, err = strconv.ParseBool(v)
		return err
	})
	parsed("OPLOG_TELEMETRY", func(v string) (err error) {
		c.Telemetry.Enabled, err = strconv.ParseBool(v)
		return err
	})
	parsed("OPLOG_NO_COLOR", func(v string) (err error) {
		c.Output.NoColor, err = strconv.ParseBool(v)
		return err
	})

	return errs.Combined()
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Save writes the current config to path, or to the user config file when
// path is empty.
func (m *Manager) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		path = filepath.Join(home, ".oplog", "config.yaml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
