package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rpattn/loadflow/internal/apperr"
	"github.com/rpattn/loadflow/internal/db"
)

const (
	EnvPrefix = "LOADFLOW"

	DefaultLoadIDBaseURL = "https://load.prod.goaugment.com/unstable/loads"
	DefaultBrokerageKey  = "augment-brokerage"
	DefaultMaxUpload     = 10 << 20
)

func setDefaults(v *viper.Viper) {
	dbDefaults := db.DefaultConfig()
	v.SetDefault("database.host", dbDefaults.Host)
	v.SetDefault("database.port", dbDefaults.Port)
	v.SetDefault("database.user", dbDefaults.User)
	v.SetDefault("database.password", dbDefaults.Password)
	v.SetDefault("database.dbname", dbDefaults.DBName)
	v.SetDefault("database.sslmode", dbDefaults.SSLMode)

	v.SetDefault("api.load_id_base_url", DefaultLoadIDBaseURL)
	v.SetDefault("api.brokerage_key", DefaultBrokerageKey)
	v.SetDefault("api.timeout", "30s")
	v.SetDefault("api.retry_count", 3)
	v.SetDefault("api.retry_delay", "1s")
	v.SetDefault("api.concurrency", 8)
	v.SetDefault("api.preflight", true)

	v.SetDefault("enrichment.enabled", false)
	v.SetDefault("enrichment.categories", []string{"tracking", "customer", "carrier", "lane", "load"})
	v.SetDefault("enrichment.concurrency", 8)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.preview_rows", 5)

	v.SetDefault("upload.max_bytes", DefaultMaxUpload)
	v.SetDefault("log.level", "info")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Load reads configuration from a .env file, config.yaml and LOADFLOW_*
// environment variables, in increasing precedence. configPath may be a
// directory holding config.yaml or a path to a config file.
func Load(configPath string) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if ext := filepath.Ext(configPath); ext != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if configPath == "" {
			configPath = "."
		}
		v.AddConfigPath(configPath)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Secrets usually only come from the environment.
	for _, key := range []string{
		"database.password",
		"database.dsn",
		"api.token",
		"api.api_key",
		"api.base_url",
		"enrichment.warehouse.dsn",
		"enrichment.warehouse.password",
	} {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("%w: read config: %v", apperr.ErrConfig, err)
		}
	}

	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return Config{}, fmt.Errorf("%w: decode config: %v", apperr.ErrConfig, err)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks struct constraints on the configuration.
func Validate(cfg Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", apperr.ErrConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", apperr.ErrConfig, err)
	}
	return nil
}
