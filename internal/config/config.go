// Package config loads the process-wide Config struct from the
// environment using struct tags, then applies the same default/clamp
// pattern the teacher's driver.SandboxConfig.Validate() uses.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is every environment-driven knob the core and its ambient layers
// consume at startup (§6, §10 of SPEC_FULL.md).
type Config struct {
	// HTTP / CLI
	ListenAddr string `env:"CODEBOX_LISTEN_ADDR" envDefault:":8080"`
	Env        string `env:"CODEBOX_ENV" envDefault:"development"`
	Verbose    bool   `env:"CODEBOX_VERBOSE" envDefault:"false"`

	// Sandbox primitive
	SandboxBaseDir  string `env:"CODEBOX_SANDBOX_BASE_DIR" envDefault:"/var/lib/codebox/sandboxes"`
	SandboxRunner   string `env:"CODEBOX_SANDBOX_RUNNER" envDefault:"/usr/local/bin/codebox-runner"`
	ReplServerPath  string `env:"CODEBOX_REPL_SERVER_PATH" envDefault:"/opt/codebox/repl_server.py"`
	MaxOutputBytes  int    `env:"CODEBOX_MAX_OUTPUT_BYTES" envDefault:"1048576"`
	MaxExecutionTimeSeconds int `env:"CODEBOX_MAX_EXECUTION_TIME_SECONDS" envDefault:"30"`

	// Pool
	PythonPoolTargetSize int  `env:"CODEBOX_PYTHON_POOL_TARGET_SIZE" envDefault:"4"`
	ParallelBatch        int  `env:"CODEBOX_POOL_PARALLEL_BATCH" envDefault:"5"`
	ReplenishIntervalSec int  `env:"CODEBOX_POOL_REPLENISH_INTERVAL_SECONDS" envDefault:"2"`
	ExhaustionTrigger    bool `env:"CODEBOX_POOL_EXHAUSTION_TRIGGER" envDefault:"true"`
	ReplWarmupTimeoutSec int  `env:"CODEBOX_REPL_WARMUP_TIMEOUT_SECONDS" envDefault:"10"`

	// State persistence
	StatePersistenceEnabled bool `env:"CODEBOX_STATE_PERSISTENCE_ENABLED" envDefault:"true"`
	StateHotTTLSeconds      int  `env:"CODEBOX_STATE_HOT_TTL_SECONDS" envDefault:"7200"`
	StateArchiveIdleSeconds int  `env:"CODEBOX_STATE_ARCHIVE_IDLE_SECONDS" envDefault:"3600"`
	StateColdRetentionSeconds int `env:"CODEBOX_STATE_COLD_RETENTION_SECONDS" envDefault:"86400"`
	ColdArchivalEnabled     bool `env:"CODEBOX_COLD_ARCHIVAL_ENABLED" envDefault:"true"`

	// Files
	MaxFilesPerSession  int   `env:"CODEBOX_MAX_FILES_PER_SESSION" envDefault:"50"`
	MaxOutputFileCount  int   `env:"CODEBOX_MAX_OUTPUT_FILE_COUNT" envDefault:"10"`
	MaxOutputFileBytes  int64 `env:"CODEBOX_MAX_OUTPUT_FILE_BYTES" envDefault:"10485760"`

	// Hot store (Redis-compatible)
	RedisAddr     string `env:"CODEBOX_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"CODEBOX_REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"CODEBOX_REDIS_DB" envDefault:"0"`

	// Cold store (S3-compatible)
	BlobEndpoint  string `env:"CODEBOX_BLOB_ENDPOINT" envDefault:"localhost:9000"`
	BlobAccessKey string `env:"CODEBOX_BLOB_ACCESS_KEY" envDefault:""`
	BlobSecretKey string `env:"CODEBOX_BLOB_SECRET_KEY" envDefault:""`
	BlobBucket    string `env:"CODEBOX_BLOB_BUCKET" envDefault:"codebox-files"`
	BlobUseSSL    bool   `env:"CODEBOX_BLOB_USE_SSL" envDefault:"false"`

	// Uploaded and output file bodies of at least GzipMinBytes are gzipped
	// before the cold PUT when
	// GzipOutputsEnabled is set; off by default so §3's byte-for-byte state
	// format and the common case of small generated files are untouched.
	GzipOutputsEnabled bool  `env:"CODEBOX_GZIP_OUTPUTS_ENABLED" envDefault:"false"`
	GzipMinBytes       int64 `env:"CODEBOX_GZIP_MIN_BYTES" envDefault:"65536"`
}

// Load reads the environment into a Config and applies defaults/clamping.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parsing environment: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults clamps configured values into sane ranges, the same
// pattern as the teacher's SandboxConfig.Validate() (driver/driver.go):
// callers get a usable Config even from a partially-set environment.
func (c *Config) ApplyDefaults() {
	if c.ParallelBatch < 1 {
		c.ParallelBatch = 1
	} else if c.ParallelBatch > 10 {
		c.ParallelBatch = 10
	}
	if c.ReplenishIntervalSec < 1 {
		c.ReplenishIntervalSec = 1
	} else if c.ReplenishIntervalSec > 30 {
		c.ReplenishIntervalSec = 30
	}
	if c.PythonPoolTargetSize < 0 {
		c.PythonPoolTargetSize = 0
	}
	if c.MaxExecutionTimeSeconds <= 0 {
		c.MaxExecutionTimeSeconds = 30
	}
	if c.MaxOutputBytes <= 0 {
		c.MaxOutputBytes = 1 << 20
	}
	if c.MaxFilesPerSession <= 0 {
		c.MaxFilesPerSession = 50
	}
	if c.MaxOutputFileCount <= 0 {
		c.MaxOutputFileCount = 10
	}
	if c.GzipMinBytes <= 0 {
		c.GzipMinBytes = 65536
	}
}

// ReplenishInterval is ReplenishIntervalSec as a time.Duration.
func (c *Config) ReplenishInterval() time.Duration {
	return time.Duration(c.ReplenishIntervalSec) * time.Second
}

// StateHotTTL is StateHotTTLSeconds as a time.Duration.
func (c *Config) StateHotTTL() time.Duration {
	return time.Duration(c.StateHotTTLSeconds) * time.Second
}

// ReplWarmupTimeout is ReplWarmupTimeoutSec as a time.Duration.
func (c *Config) ReplWarmupTimeout() time.Duration {
	return time.Duration(c.ReplWarmupTimeoutSec) * time.Second
}

// IsProduction reports whether Env is "production". Log format is chosen
// by the --json-log flag, not by this value.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
