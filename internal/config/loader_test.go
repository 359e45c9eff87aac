package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/loadflow/internal/apperr"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o600))
	return dir
}

func TestLoad(t *testing.T) {
	t.Run("applies defaults when no file exists", func(t *testing.T) {
		cfg, err := Load(t.TempDir())
		require.NoError(t, err)

		assert.Equal(t, DefaultBrokerageKey, cfg.API.BrokerageKey)
		assert.Equal(t, DefaultLoadIDBaseURL, cfg.API.LoadIDBaseURL)
		assert.Equal(t, 30*time.Second, cfg.API.Timeout)
		assert.Equal(t, 3, cfg.API.RetryCount)
		assert.Equal(t, time.Second, cfg.API.RetryDelay)
		assert.Equal(t, 8, cfg.API.Concurrency)
		assert.Equal(t, int64(DefaultMaxUpload), cfg.Upload.MaxBytes)
		assert.Equal(t, "localhost", cfg.Database.Host)
	})

	t.Run("reads handlers and keep their options", func(t *testing.T) {
		dir := writeConfig(t, `
api:
  base_url: https://api.example.com/v1
  brokerage_key: acme
  retry_count: 5
  retry_delay: 250ms
enrichment:
  enabled: true
  schema: marts
  categories: [tracking, carrier]
handlers:
  - name: daily-csv
    type: csv
    output_path: out/loads.csv
  - type: webhook
    url: https://hooks.example.com/loads
    retry_count: 2
    headers:
      X-Token: abc
`)
		cfg, err := Load(dir)
		require.NoError(t, err)

		assert.Equal(t, "acme", cfg.API.BrokerageKey)
		assert.Equal(t, "marts", cfg.Enrichment.Schema)
		assert.Equal(t, 5, cfg.API.RetryCount)
		assert.Equal(t, 250*time.Millisecond, cfg.API.RetryDelay)
		assert.True(t, cfg.Enrichment.Enabled)
		assert.Equal(t, []string{"tracking", "carrier"}, cfg.Enrichment.Categories)

		require.Len(t, cfg.Handlers, 2)
		assert.Equal(t, "daily-csv", cfg.Handlers[0].DisplayName())
		assert.Equal(t, "out/loads.csv", cfg.Handlers[0].Options["output_path"])
		assert.True(t, cfg.Handlers[0].IsEnabled())
		assert.Equal(t, "webhook", cfg.Handlers[1].DisplayName())
		assert.Equal(t, "https://hooks.example.com/loads", cfg.Handlers[1].Options["url"])
	})

	t.Run("lets environment variables override the file", func(t *testing.T) {
		dir := writeConfig(t, "api:\n  brokerage_key: from-file\n")
		t.Setenv("LOADFLOW_API_BROKERAGE_KEY", "from-env")
		t.Setenv("LOADFLOW_API_TOKEN", "secret")

		cfg, err := Load(dir)
		require.NoError(t, err)
		assert.Equal(t, "from-env", cfg.API.BrokerageKey)
		assert.Equal(t, "secret", cfg.API.Token)
	})

	t.Run("rejects unknown handler types", func(t *testing.T) {
		dir := writeConfig(t, "handlers:\n  - type: fax\n")
		_, err := Load(dir)
		require.Error(t, err)
		assert.ErrorIs(t, err, apperr.ErrConfig)
	})

	t.Run("rejects unknown enrichment categories", func(t *testing.T) {
		dir := writeConfig(t, "enrichment:\n  categories: [weather]\n")
		_, err := Load(dir)
		assert.ErrorIs(t, err, apperr.ErrConfig)
	})
}
