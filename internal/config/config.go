// Package config provides application configuration.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Port        string `mapstructure:"port"`
	FrontendURL string `mapstructure:"frontend_url"`
	DBPath      string `mapstructure:"db_path"`
	APIBaseURL  string `mapstructure:"api_base_url"`
	SocketURL   string `mapstructure:"socket_url"`
	Locale      string `mapstructure:"locale"`
	LogLevel    string `mapstructure:"log_level"`

	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	TokenCheckInterval time.Duration `mapstructure:"token_check_interval"`

	Realtime RealtimeConfig `mapstructure:",squash"`
	Chat     ChatConfig     `mapstructure:",squash"`
}

// RealtimeConfig controls the live chat connection.
type RealtimeConfig struct {
	// MaxRetries is the reconnect budget; -1 means unlimited.
	MaxRetries   int           `mapstructure:"realtime_max_retries"`
	BackoffBase  time.Duration `mapstructure:"realtime_backoff_base"`
	BackoffMax   time.Duration `mapstructure:"realtime_backoff_max"`
	PingInterval time.Duration `mapstructure:"realtime_ping_interval"`
}

// ChatConfig controls conversation views.
type ChatConfig struct {
	OptimisticSends bool          `mapstructure:"chat_optimistic_sends"`
	SendRateLimit   int           `mapstructure:"send_rate_limit"`
	SendRateWindow  time.Duration `mapstructure:"send_rate_window"`
}

var defaults = map[string]any{
	"port":                   "8080",
	"frontend_url":           "",
	"db_path":                "./data/prestador.db",
	"api_base_url":           "http://localhost:3000",
	"socket_url":             "",
	"locale":                 "pt-BR",
	"log_level":              "info",
	"request_timeout":        "30s",
	"token_check_interval":   "1m",
	"realtime_max_retries":   -1,
	"realtime_backoff_base":  "500ms",
	"realtime_backoff_max":   "30s",
	"realtime_ping_interval": "25s",
	"chat_optimistic_sends":  false,
	"send_rate_limit":        20,
	"send_rate_window":       "1m",
}

// Load reads configuration from the optional file at path and the
// environment. Environment variables (PORT, API_BASE_URL, ...) override
// file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if strings.TrimSpace(cfg.SocketURL) == "" {
		cfg.SocketURL = deriveSocketURL(cfg.APIBaseURL)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// deriveSocketURL maps http(s)://host to ws(s)://host.
func deriveSocketURL(apiBase string) string {
	u, err := url.Parse(apiBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	return u.String()
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if err := validateURL("API_BASE_URL", c.APIBaseURL, "http", "https"); err != nil {
		return err
	}
	if err := validateURL("SOCKET_URL", c.SocketURL, "ws", "wss"); err != nil {
		return err
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be > 0")
	}
	if c.TokenCheckInterval <= 0 {
		return fmt.Errorf("TOKEN_CHECK_INTERVAL must be > 0")
	}
	if c.Realtime.MaxRetries < -1 {
		return fmt.Errorf("REALTIME_MAX_RETRIES must be >= -1")
	}
	if c.Realtime.BackoffBase <= 0 || c.Realtime.BackoffMax < c.Realtime.BackoffBase {
		return fmt.Errorf("REALTIME_BACKOFF_BASE must be > 0 and <= REALTIME_BACKOFF_MAX")
	}
	if c.Realtime.PingInterval <= 0 {
		return fmt.Errorf("REALTIME_PING_INTERVAL must be > 0")
	}
	if c.Chat.SendRateLimit <= 0 || c.Chat.SendRateWindow <= 0 {
		return fmt.Errorf("SEND_RATE_LIMIT and SEND_RATE_WINDOW must be > 0")
	}
	return nil
}

func validateURL(name, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", name, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s must be an absolute %s URL", name, strings.Join(schemes, "/"))
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the local API.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	return []string{strings.TrimRight(c.FrontendURL, "/")}
}
