// Package config loads the foodcore configuration file: a single YAML
// document with defaults applied before parsing, so a partial file only
// overrides what it names.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"foodcore/internal/blob"
	"foodcore/internal/evidence/rollup"
	"foodcore/internal/pack"
)

// Config is the complete foodcore configuration.
type Config struct {
	Sources SourcesConfig `yaml:"sources"`
	Build   BuildConfig   `yaml:"build"`
	Rollup  RollupConfig  `yaml:"rollup"`
	Pack    PackConfig    `yaml:"pack"`
	Blob    BlobConfig    `yaml:"blob"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// SourcesConfig locates the authored source tree.
type SourcesConfig struct {
	// Root is the directory holding taxa/, parts.yaml, evidence/ and the
	// rest of the authored layout.
	Root string `yaml:"root"`
}

// BuildConfig tunes the pipeline.
type BuildConfig struct {
	// Strict escalates loader warnings to blocking violations.
	Strict bool `yaml:"strict"`
	// Lenient demotes referential violations and drops the offending rows.
	Lenient bool `yaml:"lenient"`
	// Workers bounds stage fan-out. Zero means GOMAXPROCS.
	Workers int `yaml:"workers"`
	// MinConfidence overrides the mapper's resolution floor when positive.
	MinConfidence float64 `yaml:"min_confidence"`
}

// RollupConfig mirrors the aggregation knobs. Zero values take the rollup
// defaults.
type RollupConfig struct {
	MinSources         int     `yaml:"min_sources"`
	OutlierThreshold   float64 `yaml:"outlier_threshold"`
	MinOutlierSamples  int     `yaml:"min_outlier_samples"`
	EnergyTolerancePct float64 `yaml:"energy_tolerance_pct"`
	DisableBorrowing   bool    `yaml:"disable_borrowing"`
	MaxBorrowDistance  int     `yaml:"max_borrow_distance"`
	BorrowDiscount     float64 `yaml:"borrow_discount"`
	RecencyDecay       float64 `yaml:"recency_decay"`
	MinRecencyFactor   float64 `yaml:"min_recency_factor"`
	ReferenceYear      int     `yaml:"reference_year"`
	Accept100mlAs100g  bool    `yaml:"accept_100ml_as_100g"`
}

// ToRollup converts the section into the rollup stage's configuration.
func (r RollupConfig) ToRollup() rollup.Config {
	return rollup.Config{
		MinSources:         r.MinSources,
		OutlierThreshold:   r.OutlierThreshold,
		MinOutlierSamples:  r.MinOutlierSamples,
		EnergyTolerancePct: r.EnergyTolerancePct,
		DisableBorrowing:   r.DisableBorrowing,
		MaxBorrowDistance:  r.MaxBorrowDistance,
		BorrowDiscount:     r.BorrowDiscount,
		RecencyDecay:       r.RecencyDecay,
		MinRecencyFactor:   r.MinRecencyFactor,
		ReferenceYear:      r.ReferenceYear,
		Accept100mlAs100g:  r.Accept100mlAs100g,
	}
}

// PackConfig selects the output database.
type PackConfig struct {
	// Driver is sqlite or postgres.
	Driver string `yaml:"driver"`
	// Out is the SQLite file path.
	Out string `yaml:"out"`
	// DSN is the Postgres connection string.
	DSN string `yaml:"dsn"`
}

// BlobConfig selects the artifact archive. Credentials are never read from
// the file; the S3 driver takes them from the environment.
type BlobConfig struct {
	// Driver is fs, s3 or memory. Empty defers to FOODCORE_BLOB_DRIVER.
	Driver           string `yaml:"driver"`
	FSRoot           string `yaml:"fs_root"`
	S3Bucket         string `yaml:"s3_bucket"`
	S3Region         string `yaml:"s3_region"`
	S3Endpoint       string `yaml:"s3_endpoint"`
	S3ForcePathStyle bool   `yaml:"s3_force_path_style"`
}

// Open constructs the archive store the section names. An empty driver
// falls back to the FOODCORE_BLOB_* environment selection.
func (b BlobConfig) Open(ctx context.Context) (blob.Store, error) {
	switch blob.Driver(b.Driver) {
	case "":
		return blob.Open(ctx)
	case blob.DriverFS:
		return blob.NewFS(b.FSRoot)
	case blob.DriverMemory:
		return blob.NewMemory(), nil
	case blob.DriverS3:
		return blob.NewS3(ctx, blob.S3Config{
			Bucket:          b.S3Bucket,
			Region:          b.S3Region,
			Endpoint:        b.S3Endpoint,
			AccessKeyID:     os.Getenv(blob.EnvS3AccessKey),
			SecretAccessKey: os.Getenv(blob.EnvS3SecretKey),
			SessionToken:    os.Getenv(blob.EnvS3Session),
			ForcePathStyle:  b.S3ForcePathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown blob driver %q", b.Driver)
	}
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the /metrics listen address. Empty disables the server.
	Listen string `yaml:"listen"`
}

// LogConfig controls the CLI logger.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// JSON switches the handler from text to JSON output.
	JSON bool `yaml:"json"`
}

// SlogLevel maps the configured level onto slog's scale.
func (l LogConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Sources: SourcesConfig{Root: "./sources"},
		Pack:    PackConfig{Driver: string(pack.DialectSQLite), Out: "./graph.db"},
		Blob:    BlobConfig{FSRoot: "./blobdata"},
		Log:     LogConfig{Level: "info"},
	}
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if c.Sources.Root == "" {
		return fmt.Errorf("sources.root is required")
	}
	if c.Build.Strict && c.Build.Lenient {
		return fmt.Errorf("build.strict and build.lenient are mutually exclusive")
	}
	if c.Build.MinConfidence < 0 || c.Build.MinConfidence > 1 {
		return fmt.Errorf("build.min_confidence must be between 0 and 1")
	}
	dialect := pack.Dialect(c.Pack.Driver)
	if !dialect.Valid() {
		return fmt.Errorf("pack.driver must be sqlite or postgres, got %q", c.Pack.Driver)
	}
	if dialect == pack.DialectSQLite && c.Pack.Out == "" {
		return fmt.Errorf("pack.out is required for the sqlite driver")
	}
	if dialect == pack.DialectPostgres && c.Pack.DSN == "" {
		return fmt.Errorf("pack.dsn is required for the postgres driver")
	}
	switch blob.Driver(c.Blob.Driver) {
	case "", blob.DriverFS, blob.DriverMemory:
	case blob.DriverS3:
		if c.Blob.S3Bucket == "" {
			return fmt.Errorf("blob.s3_bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("blob.driver must be fs, s3 or memory, got %q", c.Blob.Driver)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	return nil
}

// Load reads and validates a configuration file. Defaults fill everything
// the file leaves unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}
