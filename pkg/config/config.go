// Package config handles configuration via environment variables.
//
// All settings are read from RXNGRAPH_-prefixed environment variables with
// sensible defaults, so a bare `rxngraph build` works on a laptop and the
// same binary is fully configurable in a batch scheduler.
//
// Configuration is loaded from environment variables using LoadFromEnv()
// and can be validated with Validate() before use.
//
// Example Usage:
//
//	cfg := config.LoadFromEnv()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//
// Environment Variables:
//
//   - RXNGRAPH_DATA_DIR="./data"
//   - RXNGRAPH_STORE_NAME="reactions.store"
//   - RXNGRAPH_NUM_WORKERS=4
//   - RXNGRAPH_DTYPE="float64"
//   - RXNGRAPH_FEATURE_TRANSFORM=true
//   - RXNGRAPH_LABEL_TRANSFORM=true
//   - RXNGRAPH_LABEL_POLICY="intensive" or "extensive"
//   - RXNGRAPH_CLASSIFIER=false
//   - RXNGRAPH_CATEGORIES=3
//   - RXNGRAPH_SPLIT_VALIDATION=0.1
//   - RXNGRAPH_SPLIT_TEST=0.1
//   - RXNGRAPH_SPLIT_SEED=35
//   - RXNGRAPH_LOG_LEVEL="info"
//
// For the complete list, see the Config struct field documentation.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Config holds all pipeline configuration loaded from environment
// variables.
//
// Configuration is organized into logical sections:
//   - Data: input/output locations
//   - Pipeline: dataset assembly and standardization
//   - Split: train/validation/test partitioning
//   - Logging: log verbosity and format
//
// Use LoadFromEnv() to create a Config from environment variables.
type Config struct {
	// Data locations
	Data DataConfig

	// Pipeline settings
	Pipeline PipelineConfig

	// Split settings
	Split SplitConfig

	// Logging
	Logging LoggingConfig
}

// DataConfig holds input and output locations.
type DataConfig struct {
	// DataDir is the scratch and output directory for stores
	DataDir string
	// StoreName is the merged store's directory name under DataDir
	StoreName string
	// RecordsFile is the raw reaction-record YAML file
	RecordsFile string
	// StatisticsFile is where dataset statistics are written (and read
	// back when reusing a training set's state)
	StatisticsFile string
}

// PipelineConfig holds dataset assembly settings.
type PipelineConfig struct {
	// NumWorkers is the shard-writer parallelism (default: NumCPU)
	NumWorkers int
	// Dtype consumers should materialize features as ("float32" or "float64")
	Dtype string
	// FeatureTransform standardizes molecule features
	FeatureTransform bool
	// LabelTransform standardizes regression labels
	LabelTransform bool
	// LabelPolicy is "intensive" (dataset moments) or "extensive"
	// (divide by atom count)
	LabelPolicy string
	// Classifier switches to one-hot category labels
	Classifier bool
	// Categories is the class count for classifier labels
	Categories int
}

// SplitConfig holds train/validation/test partitioning settings.
type SplitConfig struct {
	// Validation fraction of the dataset
	Validation float64
	// Test fraction of the dataset
	Test float64
	// Seed for the split permutation
	Seed int64
	// Grouped keeps reactions sharing a provenance id in one partition
	Grouped bool
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level: debug, info, warn, error
	Level string
	// Format: json or console
	Format string
}

// LoadFromEnv creates a Config from environment variables.
//
// Missing variables fall back to defaults; malformed numeric values also
// fall back rather than erroring, so a typo degrades to a default instead
// of blocking startup. Validate() catches semantically invalid
// combinations.
//
// Thread Safety:
//
//	LoadFromEnv reads environment variables which are process-global and
//	should not be modified after startup. The returned Config is immutable.
func LoadFromEnv() *Config {
	cfg := &Config{}

	// Data locations
	cfg.Data.DataDir = getEnv("RXNGRAPH_DATA_DIR", "./data")
	cfg.Data.StoreName = getEnv("RXNGRAPH_STORE_NAME", "reactions.store")
	cfg.Data.RecordsFile = getEnv("RXNGRAPH_RECORDS_FILE", "")
	cfg.Data.StatisticsFile = getEnv("RXNGRAPH_STATISTICS_FILE", "")

	// Pipeline settings
	cfg.Pipeline.NumWorkers = getEnvInt("RXNGRAPH_NUM_WORKERS", runtime.NumCPU())
	cfg.Pipeline.Dtype = getEnv("RXNGRAPH_DTYPE", "float64")
	cfg.Pipeline.FeatureTransform = getEnvBool("RXNGRAPH_FEATURE_TRANSFORM", true)
	cfg.Pipeline.LabelTransform = getEnvBool("RXNGRAPH_LABEL_TRANSFORM", true)
	cfg.Pipeline.LabelPolicy = getEnv("RXNGRAPH_LABEL_POLICY", "intensive")
	cfg.Pipeline.Classifier = getEnvBool("RXNGRAPH_CLASSIFIER", false)
	cfg.Pipeline.Categories = getEnvInt("RXNGRAPH_CATEGORIES", 3)

	// Split settings
	cfg.Split.Validation = getEnvFloat("RXNGRAPH_SPLIT_VALIDATION", 0.1)
	cfg.Split.Test = getEnvFloat("RXNGRAPH_SPLIT_TEST", 0.1)
	cfg.Split.Seed = int64(getEnvInt("RXNGRAPH_SPLIT_SEED", 35))
	cfg.Split.Grouped = getEnvBool("RXNGRAPH_SPLIT_GROUPED", false)

	// Logging
	cfg.Logging.Level = getEnv("RXNGRAPH_LOG_LEVEL", "info")
	cfg.Logging.Format = getEnv("RXNGRAPH_LOG_FORMAT", "console")

	return cfg
}

// Validate checks the configuration for semantic errors.
//
// Returns nil if configuration is valid, or an error describing the
// problem.
func (c *Config) Validate() error {
	if c.Data.DataDir == "" {
		return fmt.Errorf("data dir must not be empty")
	}
	if c.Data.StoreName == "" {
		return fmt.Errorf("store name must not be empty")
	}

	if c.Pipeline.NumWorkers < 1 {
		return fmt.Errorf("invalid worker count: %d", c.Pipeline.NumWorkers)
	}
	if c.Pipeline.Dtype != "float32" && c.Pipeline.Dtype != "float64" {
		return fmt.Errorf("invalid dtype: %q", c.Pipeline.Dtype)
	}
	if c.Pipeline.LabelPolicy != "intensive" && c.Pipeline.LabelPolicy != "extensive" {
		return fmt.Errorf("invalid label policy: %q", c.Pipeline.LabelPolicy)
	}
	if c.Pipeline.Classifier && c.Pipeline.Categories < 2 {
		return fmt.Errorf("classifier needs >= 2 categories, have %d", c.Pipeline.Categories)
	}

	if c.Split.Validation < 0 || c.Split.Test < 0 || c.Split.Validation+c.Split.Test >= 1 {
		return fmt.Errorf("invalid split fractions: validation %v, test %v", c.Split.Validation, c.Split.Test)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}

	return nil
}

// String returns a string representation of the Config suitable for
// logging.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{DataDir: %s, Store: %s, Workers: %d, Dtype: %s, Split: %v/%v}",
		c.Data.DataDir, c.Data.StoreName,
		c.Pipeline.NumWorkers, c.Pipeline.Dtype,
		c.Split.Validation, c.Split.Test,
	)
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return defaultVal
}
