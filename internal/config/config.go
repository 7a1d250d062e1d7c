package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Events     EventsConfig     `mapstructure:"events"`
	Reporting  ReportingConfig  `mapstructure:"reporting"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port           string        `mapstructure:"port" validate:"required"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes" validate:"gt=0"`
}

// DatabaseConfig selects the store. An empty DSN uses the in-memory store.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// StorageConfig selects object storage. An empty bucket keeps files in memory.
type StorageConfig struct {
	Bucket       string        `mapstructure:"bucket"`
	SignedURLTTL time.Duration `mapstructure:"signed_url_ttl" validate:"gt=0"`
}

// AuthConfig configures session tokens.
type AuthConfig struct {
	Secret     string        `mapstructure:"secret" validate:"required,min=16"`
	SessionTTL time.Duration `mapstructure:"session_ttl" validate:"gt=0"`
}

// PipelineConfig bounds pipeline runs.
type PipelineConfig struct {
	Workers        int           `mapstructure:"workers" validate:"gte=1,lte=64"`
	QueueSize      int           `mapstructure:"queue_size" validate:"gte=1"`
	BatchSize      int           `mapstructure:"batch_size" validate:"gte=1"`
	RunTimeout     time.Duration `mapstructure:"run_timeout" validate:"gt=0"`
	ExtractTimeout time.Duration `mapstructure:"extract_timeout" validate:"gt=0"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
}

// ClassifierConfig configures classification.
type ClassifierConfig struct {
	ReviewThreshold float64 `mapstructure:"review_threshold" validate:"gte=0,lte=1"`
	// AssistantEnabled turns on the Gemini fallback for unmatched descriptions.
	AssistantEnabled bool   `mapstructure:"assistant_enabled"`
	Model            string `mapstructure:"model"`
}

// EventsConfig configures status event publishing. No brokers means log only.
type EventsConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic" validate:"required"`
}

// ReportingConfig configures the BigQuery ledger export. Empty project disables it.
type ReportingConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Dataset   string `mapstructure:"dataset" validate:"required_with=ProjectID"`
}

// LogConfig configures the zerolog logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

// Load reads configuration from file and env. Env var overrides use prefix LEDGERBOOK_.
// A .env file in the working directory is loaded first when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigType("toml")
	if cfgPath := os.Getenv("LEDGERBOOK_CONFIG"); cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "ledgerbook"))
		v.SetConfigName("ledgerbook")
	}

	v.SetEnvPrefix("LEDGERBOOK")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.max_upload_bytes", int64(20<<20))
	v.SetDefault("database.dsn", "")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.signed_url_ttl", 15*time.Minute)
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.session_ttl", 24*time.Hour)
	v.SetDefault("pipeline.workers", 5)
	v.SetDefault("pipeline.queue_size", 100)
	v.SetDefault("pipeline.batch_size", 100)
	v.SetDefault("pipeline.run_timeout", 5*time.Minute)
	v.SetDefault("pipeline.extract_timeout", time.Minute)
	v.SetDefault("pipeline.sweep_interval", 30*time.Second)
	v.SetDefault("classifier.review_threshold", 0.5)
	v.SetDefault("classifier.assistant_enabled", false)
	v.SetDefault("classifier.model", "gemini-2.5-flash")
	v.SetDefault("events.brokers", []string{})
	v.SetDefault("events.topic", "statement-status")
	v.SetDefault("reporting.project_id", "")
	v.SetDefault("reporting.dataset", "ledgerbook")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

var validate = validator.New()

// Validate checks field constraints and reports the first violation.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("invalid config: %s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
	}
	return fmt.Errorf("invalid config: %w", err)
}
