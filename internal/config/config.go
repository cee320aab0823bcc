package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type ServerConfig struct {
	Address string `mapstructure:"address"`
	Port    int    `mapstructure:"port"`
	Mode    string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Path    string `mapstructure:"path"`
	LogMode bool   `mapstructure:"log_mode"`
}

type SessionConfig struct {
	Store          string `mapstructure:"store"` // database / memory
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	CookieName     string `mapstructure:"cookie_name"`
	Secret         string `mapstructure:"secret"`
	Secure         bool   `mapstructure:"secure"`
}

type PaymentConfig struct {
	MinAmount              float64 `mapstructure:"min_amount"` // exclusive
	MaxAmount              float64 `mapstructure:"max_amount"` // inclusive
	RetentionSeconds       int     `mapstructure:"retention_seconds"`
	DefaultMemo            string  `mapstructure:"default_memo"`
	ProviderTimeoutSeconds int     `mapstructure:"provider_timeout_seconds"`
}

type ProviderConfig struct {
	Mode    string `mapstructure:"mode"` // mock / pi
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

type WebhookConfig struct {
	Secret string `mapstructure:"secret"`
}

type AuditConfig struct {
	File          string   `mapstructure:"file"`
	EncryptionKey string   `mapstructure:"encryption_key"`
	KafkaBrokers  []string `mapstructure:"kafka_brokers"`
	KafkaTopic    string   `mapstructure:"kafka_topic"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
}

type AppSubConfig struct {
	Name     string `mapstructure:"name"`
	PageSize int    `mapstructure:"page_size"`
}

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Session   SessionConfig   `mapstructure:"session"`
	Payment   PaymentConfig   `mapstructure:"payment"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	App       AppSubConfig    `mapstructure:"app"`
}

var appConfig *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")

	v.SetDefault("database.path", "data/pi_demo.db")
	v.SetDefault("database.log_mode", false)

	v.SetDefault("session.store", "database")
	v.SetDefault("session.timeout_seconds", 3600)
	v.SetDefault("session.cookie_name", "pi_session")
	v.SetDefault("session.secret", "")
	v.SetDefault("session.secure", false)

	v.SetDefault("payment.min_amount", 0)
	v.SetDefault("payment.max_amount", 100)
	v.SetDefault("payment.retention_seconds", 86400)
	v.SetDefault("payment.default_memo", "Testnet cashout from Pi Freebie Demo")
	v.SetDefault("payment.provider_timeout_seconds", 10)

	v.SetDefault("provider.mode", "mock")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.base_url", "https://api.testnet.minepi.com")

	v.SetDefault("webhook.secret", "")

	v.SetDefault("audit.file", "pi_demo.log")
	v.SetDefault("audit.encryption_key", "")
	v.SetDefault("audit.kafka_brokers", []string{})
	v.SetDefault("audit.kafka_topic", "pi-demo-audit")

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "pi-cashout-demo")

	v.SetDefault("app.name", "Pi Freebie Demo")
	v.SetDefault("app.page_size", 20)
}

// Load loads configuration from the given file path (e.g. "config.yaml").
// If path is empty, "config.yaml" in the working directory is used when present;
// a missing default file is not an error. Environment variables override both,
// e.g. PIDEMO_SERVER_PORT=9000.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("PIDEMO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	appConfig = &c
	return appConfig, nil
}

// Get returns the last configuration returned by Load.
func Get() *Config {
	return appConfig
}

// Validate checks cross-field constraints that defaults cannot guarantee.
func (c *Config) Validate() error {
	if c.Payment.MaxAmount <= c.Payment.MinAmount {
		return errors.New("config: payment.max_amount must be greater than payment.min_amount")
	}
	if c.Session.TimeoutSeconds <= 0 {
		return errors.New("config: session.timeout_seconds must be positive")
	}
	if c.Payment.RetentionSeconds <= 0 {
		return errors.New("config: payment.retention_seconds must be positive")
	}
	switch c.Provider.Mode {
	case "mock", "pi":
	default:
		return fmt.Errorf("config: unknown provider.mode %q", c.Provider.Mode)
	}
	switch c.Session.Store {
	case "database", "memory":
	default:
		return fmt.Errorf("config: unknown session.store %q", c.Session.Store)
	}
	return nil
}

// SessionTimeout is the idle timeout measured from login.
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.Session.TimeoutSeconds) * time.Second
}

// PaymentRetention is how long the payment slot survives after creation.
func (c *Config) PaymentRetention() time.Duration {
	return time.Duration(c.Payment.RetentionSeconds) * time.Second
}

// ProviderTimeout bounds a single asynchronous provider call. Defaults to 10s.
func (c *Config) ProviderTimeout() time.Duration {
	if c.Payment.ProviderTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Payment.ProviderTimeoutSeconds) * time.Second
}

// MinAmount is the exclusive lower cashout bound.
func (c *Config) MinAmount() decimal.Decimal {
	return decimal.NewFromFloat(c.Payment.MinAmount)
}

// MaxAmount is the inclusive upper cashout bound.
func (c *Config) MaxAmount() decimal.Decimal {
	return decimal.NewFromFloat(c.Payment.MaxAmount)
}

// KafkaEnabled reports whether an audit stream should be produced.
func (c *Config) KafkaEnabled() bool {
	for _, b := range c.Audit.KafkaBrokers {
		if strings.TrimSpace(b) != "" {
			return true
		}
	}
	return false
}
