package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment   string `mapstructure:"environment"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`

	Server struct {
		Addr            string        `mapstructure:"addr"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Redis struct {
		Addr      string `mapstructure:"addr"`
		Password  string `mapstructure:"password"`
		DB        int    `mapstructure:"db"`
		KeyPrefix string `mapstructure:"key_prefix"`
	} `mapstructure:"redis"`
	NATS struct {
		URL     string `mapstructure:"url"`
		Subject string `mapstructure:"subject"`
	} `mapstructure:"nats"`
	AI struct {
		URL     string        `mapstructure:"url"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"ai"`
	Notify struct {
		WebhookURL string        `mapstructure:"webhook_url"`
		Timeout    time.Duration `mapstructure:"timeout"`
	} `mapstructure:"notify"`
	Auth struct {
		OktaDomain   string `mapstructure:"okta_domain"`
		ClientID     string `mapstructure:"client_id"`
		ClientSecret string `mapstructure:"client_secret"`
		RedirectURL  string `mapstructure:"redirect_url"`
	} `mapstructure:"auth"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
	Chat     ChatConfig `mapstructure:"chat"`
	Realtime struct {
		Broker          string        `mapstructure:"broker"` // local or redis
		Channel         string        `mapstructure:"channel"`
		SendBuffer      int           `mapstructure:"send_buffer"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		OriginRefresh   time.Duration `mapstructure:"origin_refresh"`
		AllowAllOrigins bool          `mapstructure:"allow_all_origins"`
	} `mapstructure:"realtime"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

// ChatConfig holds the texts and limits used while running conversations.
type ChatConfig struct {
	DefaultName      string        `mapstructure:"default_name"`
	DefaultGreeting  string        `mapstructure:"default_greeting"`
	HandoffSentinel  string        `mapstructure:"handoff_sentinel"`
	HandoffMessage   string        `mapstructure:"handoff_message"`
	NameCaptureReply string        `mapstructure:"name_capture_reply"`
	AIFailureReply   string        `mapstructure:"ai_failure_reply"`
	ErrorReply       string        `mapstructure:"error_reply"`
	NotificationText string        `mapstructure:"notification_text"`
	TurnTimeout      time.Duration `mapstructure:"turn_timeout"`
}

// SetDefaults registers a default for every key so env overrides work
// without a config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("dev_mode_bypass", false)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("db.host", "")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "chatflow")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "chatflow")
	v.SetDefault("db.sslmode", "disable")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "chatflow")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "chatflow.notifications")

	v.SetDefault("ai.url", "")
	v.SetDefault("ai.timeout", 20*time.Second)

	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.timeout", 5*time.Second)

	v.SetDefault("auth.okta_domain", "")
	v.SetDefault("auth.client_id", "")
	v.SetDefault("auth.client_secret", "")
	v.SetDefault("auth.redirect_url", "http://localhost:8080/auth/callback")

	v.SetDefault("tls.enable", false)
	v.SetDefault("tls.cert_file", "certs/server.crt")
	v.SetDefault("tls.key_file", "certs/server.key")
	v.SetDefault("tls.hostnames", []string{"localhost"})

	v.SetDefault("chat.default_name", "Visitor")
	v.SetDefault("chat.default_greeting", "Hi! How can we help you today?")
	v.SetDefault("chat.handoff_sentinel", "[HUMAN]")
	v.SetDefault("chat.handoff_message", "You have been transferred to our staff. Someone will be with you shortly.")
	v.SetDefault("chat.name_capture_reply", "Thanks! Our team will get back to you soon.")
	v.SetDefault("chat.ai_failure_reply", "Sorry, I could not answer that right now. A team member will follow up.")
	v.SetDefault("chat.error_reply", "Error processing your message")
	v.SetDefault("chat.notification_text", "New message in chat %s: %s")
	v.SetDefault("chat.turn_timeout", 30*time.Second)

	v.SetDefault("realtime.broker", "local")
	v.SetDefault("realtime.channel", "chatflow:deliveries")
	v.SetDefault("realtime.send_buffer", 64)
	v.SetDefault("realtime.write_timeout", 10*time.Second)
	v.SetDefault("realtime.origin_refresh", 5*time.Minute)
	v.SetDefault("realtime.allow_all_origins", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// NewViper returns a viper instance with defaults, environment binding and
// the config search path applied. An explicit file overrides the search path.
func NewViper(file string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("CHATFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig loads the configuration from a file and the environment. A
// missing config file is not an error; defaults and env vars still apply.
func LoadConfig(file string) (*Config, *viper.Viper, error) {
	v := NewViper(file)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || file != "" {
			return nil, nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// Watch reloads the config file on change and hands the result to apply.
// Reload failures are passed to onError and the previous config stays active.
func Watch(v *viper.Viper, apply func(*Config), onError func(error)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decode(v)
		if err != nil {
			onError(fmt.Errorf("reload %s: %w", e.Name, err))
			return
		}
		apply(cfg)
	})
	v.WatchConfig()
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// normalize OKTA issuer url (strip trailing slash if any)
	config.Auth.OktaDomain = normalizeOktaIssuer(config.Auth.OktaDomain)

	return &config, nil
}

// DatabaseURL builds a pgx connection string, or "" when no host is set.
func (c *Config) DatabaseURL() string {
	if c.DB.Host == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DB.User, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.Name, c.DB.SSLMode)
}

// IsDevelopment reports whether dev-only shortcuts such as the auth bypass
// may be honoured.
func (c *Config) IsDevelopment() bool {
	e := strings.ToLower(c.Environment)
	return e == "development" || e == "dev"
}

// IsProduction reports whether the server runs with production safeguards.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// normalizeOktaIssuer ensures the provided Okta issuer string is in a
// predictable form. It removes any trailing slash and leaves the scheme and
// path intact.
func normalizeOktaIssuer(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}
