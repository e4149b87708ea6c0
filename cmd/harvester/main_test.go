package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"harvester/pkg/config"
	"harvester/pkg/ledger"
	"harvester/pkg/orchestrator"
)

func TestSourceIDs(t *testing.T) {
	ids := sourceIDs([]string{"M2137441", "MC0011", " M42 ", "2137441", "Mabc"})
	assert.Equal(t, []string{"2137441", "42"}, ids)
	assert.Empty(t, sourceIDs(nil))
}

func TestCheckpointFilePerMode(t *testing.T) {
	assert.Equal(t, "checkpoint_keywords.json", checkpointFile(orchestrator.ModeKeywords))
	assert.Equal(t, "checkpoint_range.json", checkpointFile(orchestrator.ModeRange))
}

func TestMaskConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Search.ClientSecret = "abcdefghijkl"
	cfg.Storage.PostgresDSN = "short"

	masked := maskConfig(cfg)
	assert.Equal(t, "abcd...ijkl", masked.Search.ClientSecret)
	assert.Equal(t, "***", masked.Storage.PostgresDSN)
	assert.Equal(t, "abcdefghijkl", cfg.Search.ClientSecret, "original untouched")
	assert.Equal(t, "", mask(""))
}

func TestExampleConfigLoads(t *testing.T) {
	data, err := exampleConfig()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "harvester.yaml")
	require.NoError(t, os.WriteFile(path, data, 0600))

	var parsed config.Config
	require.NoError(t, yaml.Unmarshal(data, &parsed))
	assert.Equal(t, config.DefaultConfig().Range.URLTemplate, parsed.Range.URLTemplate)

	cfg := config.DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))
	assert.Equal(t, config.DefaultConfig().Keywords.Seeds, cfg.Keywords.Seeds)
}

func TestCollectStatusEmptyDir(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Output.BaseDirectory = t.TempDir()

	report, err := collectStatus(cfg)
	require.NoError(t, err)
	assert.Nil(t, report.Lock)
	assert.Empty(t, report.Checkpoints)
	assert.Empty(t, report.Ledgers)
	assert.Equal(t, 0, report.Quota.Count)
	assert.Equal(t, cfg.Quota.DailyLimit, report.Quota.Remaining)

	entries, err := os.ReadDir(cfg.Output.BaseDirectory)
	require.NoError(t, err)
	assert.Empty(t, entries, "status creates no files")
}

func TestCollectStatusCountsLedgers(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Output.BaseDirectory = t.TempDir()

	require.NoError(t, ledger.NewList(cfg.Output.Path("keywords_todo.txt")).Rewrite([]string{"타이레놀", "게보린"}))
	require.NoError(t, ledger.NewFailureLog(cfg.Output.Path("failed_units.txt")).Record("아스피린", "timeout"))
	require.NoError(t, ledger.NewMarker(cfg.Output.Path("current_unit.txt")).Set("게보린"))

	report, err := collectStatus(cfg)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"keywords_todo.txt": 2}, report.Ledgers)
	assert.Equal(t, 1, report.Failures)
	assert.Equal(t, "게보린", report.CurrentUnit)
}

func TestCollectStatusLeavesCorruptCheckpoint(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Output.BaseDirectory = t.TempDir()
	path := cfg.Output.Path(checkpointFile(orchestrator.ModeRange))
	require.NoError(t, os.WriteFile(path, []byte("{"), 0644))

	report, err := collectStatus(cfg)
	require.NoError(t, err)
	assert.Contains(t, report.Checkpoints[orchestrator.ModeRange], "corrupt")

	entries, err := os.ReadDir(cfg.Output.BaseDirectory)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Base(path), entries[0].Name())
}
