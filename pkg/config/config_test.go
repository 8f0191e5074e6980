package config

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := LoadFromEnv()
		assert.Equal(t, "./data", cfg.Data.DataDir)
		assert.Equal(t, "reactions.store", cfg.Data.StoreName)
		assert.Equal(t, runtime.NumCPU(), cfg.Pipeline.NumWorkers)
		assert.Equal(t, "float64", cfg.Pipeline.Dtype)
		assert.True(t, cfg.Pipeline.FeatureTransform)
		assert.Equal(t, "intensive", cfg.Pipeline.LabelPolicy)
		assert.Equal(t, 0.1, cfg.Split.Validation)
		assert.Equal(t, int64(35), cfg.Split.Seed)
		assert.Equal(t, "info", cfg.Logging.Level)
		require.NoError(t, cfg.Validate())
	})

	t.Run("environment_overrides", func(t *testing.T) {
		t.Setenv("RXNGRAPH_DATA_DIR", "/scratch/run42")
		t.Setenv("RXNGRAPH_NUM_WORKERS", "8")
		t.Setenv("RXNGRAPH_DTYPE", "float32")
		t.Setenv("RXNGRAPH_LABEL_POLICY", "extensive")
		t.Setenv("RXNGRAPH_FEATURE_TRANSFORM", "no")
		t.Setenv("RXNGRAPH_SPLIT_TEST", "0.25")
		t.Setenv("RXNGRAPH_LOG_LEVEL", "debug")

		cfg := LoadFromEnv()
		assert.Equal(t, "/scratch/run42", cfg.Data.DataDir)
		assert.Equal(t, 8, cfg.Pipeline.NumWorkers)
		assert.Equal(t, "float32", cfg.Pipeline.Dtype)
		assert.Equal(t, "extensive", cfg.Pipeline.LabelPolicy)
		assert.False(t, cfg.Pipeline.FeatureTransform)
		assert.Equal(t, 0.25, cfg.Split.Test)
		assert.Equal(t, "debug", cfg.Logging.Level)
		require.NoError(t, cfg.Validate())
	})

	t.Run("malformed_numbers_fall_back_to_defaults", func(t *testing.T) {
		t.Setenv("RXNGRAPH_NUM_WORKERS", "not-a-number")
		t.Setenv("RXNGRAPH_SPLIT_VALIDATION", "ten percent")
		cfg := LoadFromEnv()
		assert.Equal(t, runtime.NumCPU(), cfg.Pipeline.NumWorkers)
		assert.Equal(t, 0.1, cfg.Split.Validation)
	})

	t.Run("malformed_bools_fall_back_to_defaults", func(t *testing.T) {
		t.Setenv("RXNGRAPH_FEATURE_TRANSFORM", "tru")
		t.Setenv("RXNGRAPH_CLASSIFIER", "enabled")
		t.Setenv("RXNGRAPH_LABEL_TRANSFORM", "OFF")
		cfg := LoadFromEnv()
		assert.True(t, cfg.Pipeline.FeatureTransform)
		assert.False(t, cfg.Pipeline.Classifier)
		assert.False(t, cfg.Pipeline.LabelTransform)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config { return LoadFromEnv() }

	t.Run("rejects_bad_dtype", func(t *testing.T) {
		cfg := valid()
		cfg.Pipeline.Dtype = "float16"
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects_bad_label_policy", func(t *testing.T) {
		cfg := valid()
		cfg.Pipeline.LabelPolicy = "additive"
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects_zero_workers", func(t *testing.T) {
		cfg := valid()
		cfg.Pipeline.NumWorkers = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects_overfull_split", func(t *testing.T) {
		cfg := valid()
		cfg.Split.Validation = 0.5
		cfg.Split.Test = 0.5
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects_classifier_with_one_category", func(t *testing.T) {
		cfg := valid()
		cfg.Pipeline.Classifier = true
		cfg.Pipeline.Categories = 1
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects_bad_log_level", func(t *testing.T) {
		cfg := valid()
		cfg.Logging.Level = "verbose"
		assert.Error(t, cfg.Validate())
	})
}

func TestNewLogger(t *testing.T) {
	t.Run("builds_for_valid_settings", func(t *testing.T) {
		cfg := LoadFromEnv()
		logger, err := cfg.NewLogger()
		require.NoError(t, err)
		require.NotNil(t, logger)

		cfg.Logging.Format = "json"
		logger, err = cfg.NewLogger()
		require.NoError(t, err)
		require.NotNil(t, logger)
	})

	t.Run("rejects_unknown_level", func(t *testing.T) {
		cfg := LoadFromEnv()
		cfg.Logging.Level = "loud"
		_, err := cfg.NewLogger()
		assert.Error(t, err)
	})
}
