// Package config provides configuration loading and validation for the
// Positivity Push backend. Values come from defaults, an optional
// config.yaml, and environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config defines the application configuration for all components:
// HTTP server, database, Stripe, WhatsApp, AI coach, mem0, and email.
type Config struct {
	Environment string `mapstructure:"environment" validate:"oneof=development production"`
	Port        int    `mapstructure:"port"        validate:"min=1,max=65535"`

	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Stripe   StripeConfig   `mapstructure:"stripe"`
	WhatsApp WhatsAppConfig `mapstructure:"whatsapp"`
	AI       AIConfig       `mapstructure:"ai"`
	Memory   MemoryConfig   `mapstructure:"memory"`
	Email    EmailConfig    `mapstructure:"email"`
	Server   ServerConfig   `mapstructure:"server"`

	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// DatabaseConfig holds the connection settings for the Postgres record store.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"    validate:"min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    validate:"min=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"min=1m"`
}

// StripeConfig holds Stripe API and webhook credentials.
type StripeConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// WhatsAppConfig holds WhatsApp Cloud API credentials and the webhook
// verification token Meta requires during endpoint setup.
type WhatsAppConfig struct {
	Token          string `mapstructure:"token"`
	PhoneID        string `mapstructure:"phone_id"`
	BusinessNumber string `mapstructure:"business_number"`
	VerifyToken    string `mapstructure:"verify_token"`
}

// AIConfig holds the language model settings for the coaching engine.
type AIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"   validate:"required"`
	Timeout time.Duration `mapstructure:"timeout" validate:"min=1s,max=10m"`
}

// MemoryConfig holds the mem0 long-term memory store settings.
type MemoryConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url" validate:"url"`
	Timeout time.Duration `mapstructure:"timeout"  validate:"min=1s,max=5m"`
}

// EmailConfig holds the Mailjet credentials and sender address.
type EmailConfig struct {
	PublicKey   string `mapstructure:"public_key"`
	PrivateKey  string `mapstructure:"private_key"`
	FromEmail   string `mapstructure:"from_email"   validate:"omitempty,email"`
	FrontendURL string `mapstructure:"frontend_url" validate:"url"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// SchedulerConfig controls the daily outbound message jobs. Cron
// expressions are evaluated in UTC.
type SchedulerConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	AffirmationCron string `mapstructure:"affirmation_cron" validate:"required"`
	GratitudeCron   string `mapstructure:"gratitude_cron"   validate:"required"`
}

// IsProduction reports whether the service runs with the production
// environment tag, which gates documentation exposure and secret strictness.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Load reads configuration from defaults, config.yaml (optional), and
// PUSH_-prefixed environment variables, then validates it. Required secrets
// are only enforced in production so development setups can run partially
// configured.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PUSH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Missing config file is fine, env vars and defaults cover it.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	if cfg.IsProduction() {
		if err := cfg.validateRequiredSecrets(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// validateRequiredSecrets checks that every secret the service cannot run
// without is present. Called only for the production environment.
func (c *Config) validateRequiredSecrets() error {
	required := []struct {
		name  string
		value string
	}{
		{"database.url", c.Database.URL},
		{"stripe.secret_key", c.Stripe.SecretKey},
		{"stripe.webhook_secret", c.Stripe.WebhookSecret},
		{"whatsapp.token", c.WhatsApp.Token},
		{"whatsapp.phone_id", c.WhatsApp.PhoneID},
		{"ai.api_key", c.AI.APIKey},
	}

	var missing []string
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("port", 8000)

	// Secrets default to empty so their keys are known to viper and can be
	// overridden from PUSH_-prefixed environment variables.
	v.SetDefault("database.url", "")
	v.SetDefault("stripe.secret_key", "")
	v.SetDefault("stripe.webhook_secret", "")
	v.SetDefault("whatsapp.token", "")
	v.SetDefault("whatsapp.phone_id", "")
	v.SetDefault("whatsapp.verify_token", "")
	v.SetDefault("ai.api_key", "")
	v.SetDefault("memory.api_key", "")
	v.SetDefault("email.public_key", "")
	v.SetDefault("email.private_key", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", true)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("whatsapp.business_number", "1234567890")

	v.SetDefault("ai.model", "gemini-2.0-flash")
	v.SetDefault("ai.timeout", 2*time.Minute)

	v.SetDefault("memory.base_url", "https://api.mem0.ai")
	v.SetDefault("memory.timeout", 30*time.Second)

	v.SetDefault("email.from_email", "hello@positivitypush.com")
	v.SetDefault("email.frontend_url", "https://positivity-push.vercel.app")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.affirmation_cron", "0 8 * * *")
	v.SetDefault("scheduler.gratitude_cron", "0 20 * * *")

	v.SetDefault("server.allowed_origins", []string{
		"http://localhost:3000",
		"https://positivity-push.vercel.app",
		"https://positivity-push-gamma.vercel.app",
	})
}
