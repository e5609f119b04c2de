package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(configPathEnv, "")
	t.Setenv("PAPERFLOW_STORE", "")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "postgres", cfg.Store)
	require.Equal(t, "paperflow.events", cfg.EventExchange)
	require.Equal(t, time.Hour, cfg.SSELifetime())
	require.Equal(t, 30*time.Second, cfg.ExtractionTimeout())
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paperflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: memory\nbroker: memory\nsummarizer: local\nconsumer_workers: 2\nsummary_language: de\n"), 0o644))
	t.Setenv(configPathEnv, path)
	t.Setenv("PAPERFLOW_SUMMARY_LANGUAGE", "fr")
	t.Setenv("PAPERFLOW_RUN_CONSUMERS", "true")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "memory", cfg.Store)
	require.Equal(t, "memory", cfg.Broker)
	require.Equal(t, 2, cfg.ConsumerWorkers)
	require.Equal(t, "fr", cfg.SummaryLanguage)
	require.True(t, cfg.RunConsumers)
}

func TestLoadRejectsUnknownBroker(t *testing.T) {
	t.Setenv(configPathEnv, "")
	t.Setenv("PAPERFLOW_BROKER", "kafka")
	_, err := Load()
	require.Error(t, err)
}

func TestGetenvIntFallback(t *testing.T) {
	t.Setenv("PAPERFLOW_TEST_INT", "nope")
	require.Equal(t, 7, getenvInt("PAPERFLOW_TEST_INT", 7))
}

func TestValidateRejectsUndrainedMemoryBroker(t *testing.T) {
	cfg := Defaults()
	cfg.Broker = "memory"
	cfg.RunConsumers = true
	require.Error(t, cfg.Validate(), "external summarizer leaves SUMMARIZATION_REQUESTED undrained")

	cfg.Summarizer = "local"
	cfg.RunConsumers = false
	require.Error(t, cfg.Validate(), "api without consumers leaves EXTRACTION_REQUESTED undrained")

	cfg.RunConsumers = true
	require.NoError(t, cfg.Validate())
}
