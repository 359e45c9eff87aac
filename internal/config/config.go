package config

import (
	"time"

	"github.com/rpattn/loadflow/internal/db"
)

// Config is the full runtime configuration.
type Config struct {
	Database   db.Config        `mapstructure:"database"`
	API        APIConfig        `mapstructure:"api"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	Handlers   []HandlerConfig  `mapstructure:"handlers" validate:"dive"`
	Server     ServerConfig     `mapstructure:"server"`
	Upload     UploadConfig     `mapstructure:"upload"`
	Log        LogConfig        `mapstructure:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// APIConfig configures the load-management API used for submission and
// load-id lookups.
type APIConfig struct {
	BaseURL       string        `mapstructure:"base_url" validate:"omitempty,url"`
	LoadIDBaseURL string        `mapstructure:"load_id_base_url" validate:"required,url"`
	BrokerageKey  string        `mapstructure:"brokerage_key" validate:"required"`
	Token         string        `mapstructure:"token"`
	APIKey        string        `mapstructure:"api_key"`
	Timeout       time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RetryCount    int           `mapstructure:"retry_count" validate:"min=0,max=10"`
	RetryDelay    time.Duration `mapstructure:"retry_delay" validate:"min=0"`
	Concurrency   int           `mapstructure:"concurrency" validate:"min=1,max=64"`
	// Preflight pings the base URL before submitting.
	Preflight bool `mapstructure:"preflight"`
}

// EnrichmentConfig selects warehouse categories and the warehouse connection.
type EnrichmentConfig struct {
	Enabled     bool      `mapstructure:"enabled"`
	Categories  []string  `mapstructure:"categories" validate:"dive,oneof=tracking customer carrier lane load"`
	BrokerageID string    `mapstructure:"brokerage_id"`
	Warehouse   db.Config `mapstructure:"warehouse"`
	// Schema qualifies the warehouse tables, e.g. "marts".
	Schema      string `mapstructure:"schema"`
	Source      string `mapstructure:"source"`
	Concurrency int    `mapstructure:"concurrency" validate:"min=1,max=64"`
}

// HandlerConfig is one postback destination. Options are decoded by the
// handler for its type.
type HandlerConfig struct {
	Name    string         `mapstructure:"name"`
	Type    string         `mapstructure:"type" validate:"required,oneof=csv xlsx json xml email webhook s3 kafka"`
	Enabled *bool          `mapstructure:"enabled"`
	Options map[string]any `mapstructure:",remain"`
}

// IsEnabled treats an unset flag as enabled.
func (h HandlerConfig) IsEnabled() bool {
	return h.Enabled == nil || *h.Enabled
}

// DisplayName falls back to the type when no name is configured.
func (h HandlerConfig) DisplayName() string {
	if h.Name != "" {
		return h.Name
	}
	return h.Type
}

type ServerConfig struct {
	Addr           string        `mapstructure:"addr" validate:"required"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	PreviewRows    int           `mapstructure:"preview_rows" validate:"min=1"`
}

type UploadConfig struct {
	MaxBytes int64 `mapstructure:"max_bytes" validate:"gt=0"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}
