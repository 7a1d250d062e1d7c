package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithSecretFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LEDGERBOOK_CONFIG", "")
	t.Setenv("LEDGERBOOK_AUTH_SECRET", "0123456789abcdef0123")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 5, cfg.Pipeline.Workers)
	assert.Equal(t, 5*time.Minute, cfg.Pipeline.RunTimeout)
	assert.Equal(t, 0.5, cfg.Classifier.ReviewThreshold)
	assert.Equal(t, "statement-status", cfg.Events.Topic)
	assert.Empty(t, cfg.Database.DSN)
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledgerbook.toml")
	content := `
[server]
port = "9090"

[auth]
secret = "file-secret-value-123456"

[pipeline]
workers = 2
extract_timeout = "10s"

[classifier]
review_threshold = 0.7
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("LEDGERBOOK_CONFIG", path)
	t.Setenv("LEDGERBOOK_PIPELINE_WORKERS", "8")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 8, cfg.Pipeline.Workers)
	assert.Equal(t, 10*time.Second, cfg.Pipeline.ExtractTimeout)
	assert.Equal(t, 0.7, cfg.Classifier.ReviewThreshold)
}

func TestLoad_RejectsMissingSecret(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LEDGERBOOK_CONFIG", "")
	t.Setenv("LEDGERBOOK_AUTH_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Secret")
}

func TestValidate_ThresholdOutOfRange(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LEDGERBOOK_CONFIG", "")
	t.Setenv("LEDGERBOOK_AUTH_SECRET", "0123456789abcdef0123")
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Classifier.ReviewThreshold = 1.5
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ReviewThreshold")
}
