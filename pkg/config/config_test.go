package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Fetch.MinInterval != 500*time.Millisecond {
		t.Errorf("Expected default min interval to be 500ms, got %v", config.Fetch.MinInterval)
	}

	if config.Quota.DailyLimit != 25000 {
		t.Errorf("Expected default daily limit to be 25000, got %d", config.Quota.DailyLimit)
	}

	if config.Crawl.MaxInFlight != 10 {
		t.Errorf("Expected default max in flight to be 10, got %d", config.Crawl.MaxInFlight)
	}

	if config.Crawl.CheckpointEvery != 10 {
		t.Errorf("Expected default checkpoint interval to be 10, got %d", config.Crawl.CheckpointEvery)
	}

	if err := config.Validate(); err != nil {
		t.Errorf("Expected default config to be valid, got %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HARVESTER_SEARCH_CLIENT_ID", "test-client")
	t.Setenv("HARVESTER_SEARCH_CLIENT_SECRET", "test-secret")
	t.Setenv("HARVESTER_MIN_INTERVAL", "2s")
	t.Setenv("HARVESTER_DAILY_LIMIT", "100")
	t.Setenv("HARVESTER_MAX_WORKERS", "2")
	t.Setenv("HARVESTER_OUTPUT_DIR", "/tmp/test-harvest")
	t.Setenv("HARVESTER_STORAGE_DRIVER", "MONGO")
	t.Setenv("HARVESTER_MONGO_URI", "mongodb://localhost:27017")
	t.Setenv("HARVESTER_METRICS_ADDR", ":9999")
	t.Setenv("HARVESTER_LOG_LEVEL", "debug")

	config := DefaultConfig()
	require.NoError(t, config.LoadFromEnv())

	assert.Equal(t, "test-client", config.Search.ClientID)
	assert.Equal(t, "test-secret", config.Search.ClientSecret)
	assert.Equal(t, 2*time.Second, config.Fetch.MinInterval)
	assert.Equal(t, 100, config.Quota.DailyLimit)
	assert.Equal(t, 2, config.Crawl.MaxWorkers)
	assert.Equal(t, "/tmp/test-harvest", config.Output.BaseDirectory)
	assert.Equal(t, "mongo", config.Storage.Driver)
	assert.Equal(t, "mongodb://localhost:27017", config.Storage.MongoURI)
	assert.True(t, config.Metrics.Enabled)
	assert.Equal(t, ":9999", config.Metrics.Addr)
	assert.Equal(t, "debug", config.Logging.Level)
}

func TestLoadFromEnvInvalidDuration(t *testing.T) {
	t.Setenv("HARVESTER_MIN_INTERVAL", "soon")

	config := DefaultConfig()
	err := config.LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HARVESTER_MIN_INTERVAL")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantError string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "zero attempts",
			mutate:    func(c *Config) { c.Fetch.MaxAttempts = 0 },
			wantError: "max attempts must be positive",
		},
		{
			name:      "backoff must grow",
			mutate:    func(c *Config) { c.Fetch.BackoffMultiplier = 1 },
			wantError: "backoff multiplier must be greater than 1",
		},
		{
			name:      "in flight below workers",
			mutate:    func(c *Config) { c.Crawl.MaxWorkers = 12 },
			wantError: "max in flight must be at least max workers",
		},
		{
			name:      "inverted range",
			mutate:    func(c *Config) { c.Range.Start, c.Range.End = 10, 5 },
			wantError: "range end must not be below range start",
		},
		{
			name:      "range too wide",
			mutate:    func(c *Config) { c.Range.Start, c.Range.End = 1, math.MaxInt64 },
			wantError: "range must not span more than",
		},
		{
			name:      "template without placeholder",
			mutate:    func(c *Config) { c.Range.URLTemplate = "https://example.com/entry" },
			wantError: "must contain {id}",
		},
		{
			name:      "mongo without uri",
			mutate:    func(c *Config) { c.Storage.Driver = "mongo" },
			wantError: "mongo uri is required",
		},
		{
			name:      "unknown driver",
			mutate:    func(c *Config) { c.Storage.Driver = "s3" },
			wantError: "invalid storage driver",
		},
		{
			name:      "invalid log level",
			mutate:    func(c *Config) { c.Logging.Level = "verbose" },
			wantError: "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if tt.wantError == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantError)
		})
	}
}

func TestValidateSearch(t *testing.T) {
	config := DefaultConfig()
	err := config.ValidateSearch()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client id")
	assert.Contains(t, err.Error(), "client secret")

	config.Search.ClientID = "id"
	config.Search.ClientSecret = "secret"
	assert.NoError(t, config.ValidateSearch())
}

func TestMergeCommandLineFlags(t *testing.T) {
	config := DefaultConfig()
	config.MergeCommandLineFlags(map[string]interface{}{
		"data-dir":      "./elsewhere",
		"workers":       16,
		"max-items":     500,
		"force-restart": true,
		"start":         int64(100),
		"end":           int64(105),
		"storage":       "postgres",
		"metrics-addr":  ":8081",
		"log-level":     "warn",
	})

	assert.Equal(t, "./elsewhere", config.Output.BaseDirectory)
	assert.Equal(t, 16, config.Crawl.MaxWorkers)
	assert.Equal(t, 16, config.Crawl.MaxInFlight)
	assert.Equal(t, 500, config.Crawl.MaxItems)
	assert.True(t, config.Crawl.ForceRestart)
	assert.Equal(t, int64(100), config.Range.Start)
	assert.Equal(t, int64(105), config.Range.End)
	assert.Equal(t, "postgres", config.Storage.Driver)
	assert.True(t, config.Metrics.Enabled)
	assert.Equal(t, "warn", config.Logging.Level)
}

func TestSaveAndLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nested", "config.yaml")

	config := DefaultConfig()
	config.Search.ClientID = "saved-client"
	config.Crawl.MaxWorkers = 8
	config.Fetch.MinInterval = 750 * time.Millisecond

	require.NoError(t, config.Save(configPath))

	info, err := os.Stat(configPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded := DefaultConfig()
	require.NoError(t, loaded.LoadFromFile(configPath))

	assert.Equal(t, "saved-client", loaded.Search.ClientID)
	assert.Equal(t, 8, loaded.Crawl.MaxWorkers)
	assert.Equal(t, 750*time.Millisecond, loaded.Fetch.MinInterval)
}

func TestDurationParsing(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	content := []byte("fetch:\n  min_interval: 1500ms\ncrawl:\n  grace_timeout: 1m\n")
	require.NoError(t, os.WriteFile(configPath, content, 0600))

	config := DefaultConfig()
	require.NoError(t, config.LoadFromFile(configPath))

	assert.Equal(t, 1500*time.Millisecond, config.Fetch.MinInterval)
	assert.Equal(t, time.Minute, config.Crawl.GraceTimeout)
	// untouched sections keep their defaults
	assert.Equal(t, 25000, config.Quota.DailyLimit)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config file")
}

func TestOutputPath(t *testing.T) {
	out := OutputConfig{BaseDirectory: "/data"}
	assert.Equal(t, filepath.Join("/data", "checkpoint.json"), out.Path("checkpoint.json"))
}
