package config

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	ClinicName     string        `mapstructure:"CLINIC_NAME"`
	DemoMode       bool          `mapstructure:"DEMO_MODE"`
	DataDir        string        `mapstructure:"DATA_DIR"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	SessionSecret  string        `mapstructure:"SESSION_SECRET"`
	SessionTTL     time.Duration `mapstructure:"SESSION_TTL"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	MQTTBroker     string        `mapstructure:"MQTT_BROKER"`
	MQTTTopic      string        `mapstructure:"MQTT_TOPIC"`
	MQTTClientID   string        `mapstructure:"MQTT_CLIENT_ID"`
	NATSURL        string        `mapstructure:"NATS_URL"`
	NATSSubject    string        `mapstructure:"NATS_SUBJECT"`
	WebhookURL     string        `mapstructure:"WEBHOOK_URL"`
	WebhookSecret  string        `mapstructure:"WEBHOOK_SECRET"`

	// Connection holds the realtime store parameters supplied through the
	// environment. It is nil when none were supplied; ResolveConnection then
	// falls back to the persisted entry under DataDir.
	Connection *Connection `mapstructure:"-"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("CLINIC_NAME", "조은이비인후과의원")
	v.SetDefault("DATA_DIR", "./data")
	v.SetDefault("DEMO_MODE", false)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("SESSION_TTL", "12h")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "8M")
	v.SetDefault("MQTT_TOPIC", "clinicq/display")
	v.SetDefault("MQTT_CLIENT_ID", "clinicq-server")
	v.SetDefault("NATS_SUBJECT", "clinicq.display")

	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("CLINIC_NAME")
	v.BindEnv("DATA_DIR")
	v.BindEnv("DEMO_MODE")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("SESSION_SECRET")
	v.BindEnv("SESSION_TTL")
	v.BindEnv("REQUEST_TIMEOUT")
	v.BindEnv("BODY_LIMIT")
	v.BindEnv("MQTT_BROKER")
	v.BindEnv("MQTT_TOPIC")
	v.BindEnv("MQTT_CLIENT_ID")
	v.BindEnv("NATS_URL")
	v.BindEnv("NATS_SUBJECT")
	v.BindEnv("WEBHOOK_URL")
	v.BindEnv("WEBHOOK_SECRET")
	for _, key := range connectionEnvKeys {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	cfg.Connection = connectionFromViper(v)

	if cfg.IsDev() && cfg.SessionSecret == "" {
		log.Println("WARNING: SESSION_SECRET is not set; admin session tokens will not survive a restart.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ConnectionFile is the path of the persisted connection entry.
func (c *Config) ConnectionFile() string {
	return filepath.Join(c.DataDir, "connection.json")
}

// BannerDir is where banner images live when no bucket is configured.
func (c *Config) BannerDir() string {
	return filepath.Join(c.DataDir, "banners")
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	if c.IsProduction() && c.SessionSecret == "" {
		return fmt.Errorf("SESSION_SECRET is required in production")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.Connection != nil {
		if err := c.Connection.Validate(); err != nil {
			return fmt.Errorf("environment connection: %w", err)
		}
	}
	return nil
}
