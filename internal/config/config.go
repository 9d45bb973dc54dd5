package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for roomrelay.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Chat       ChatConfig       `yaml:"chat"`
	Completion CompletionConfig `yaml:"completion"`
	Store      StoreConfig      `yaml:"store"`
	Security   SecurityConfig   `yaml:"security"`
	Logging    LoggingConfig    `yaml:"logging"`
	Ops        OpsConfig        `yaml:"ops"`
}

// ServerConfig contains the chat listener settings.
type ServerConfig struct {
	ListenAddress string `yaml:"listen_address"`
	// AllowedOrigins lists the page hosts allowed to open WebSockets
	// (browsers always send Origin on upgrade). Patterns follow
	// filepath.Match; "*" admits any origin.
	AllowedOrigins []string      `yaml:"allowed_origins"`
	DrainTimeout   time.Duration `yaml:"drain_timeout"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	SendQueueSize  int           `yaml:"send_queue_size"`
	TLS            TLSConfig     `yaml:"tls"`
}

// TLSConfig contains optional TLS settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ChatConfig controls room history retention.
type ChatConfig struct {
	// RoomsFile optionally replaces the built-in room table.
	RoomsFile      string `yaml:"rooms_file"`
	UserHistory    int    `yaml:"user_history"`
	AIHistory      int    `yaml:"ai_history"`
	MaxMessageText int    `yaml:"max_message_text"`
}

// CompletionConfig controls the outbound completion provider call.
type CompletionConfig struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	Model        string        `yaml:"model"`
	MaxTokens    int           `yaml:"max_tokens"`
	Temperature  float32       `yaml:"temperature"`
	Timeout      time.Duration `yaml:"timeout"`
	FallbackText string        `yaml:"fallback_text"`
}

// StoreConfig controls optional durable message persistence.
type StoreConfig struct {
	// Path is the PebbleDB directory. Empty disables persistence.
	Path string `yaml:"path"`
}

// SecurityConfig contains connection-level protections.
type SecurityConfig struct {
	AuthToken           string          `yaml:"auth_token"`
	RateLimit           RateLimitConfig `yaml:"rate_limit"`
	MaxConnections      int             `yaml:"max_connections"`
	MaxConnectionsPerIP int             `yaml:"max_connections_per_ip"`
}

// RateLimitConfig contains rate limiting settings.
type RateLimitConfig struct {
	Enabled              bool `yaml:"enabled"`
	ConnectionsPerMinute int  `yaml:"connections_per_minute"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
	RingSize   int    `yaml:"ring_size"`
}

// OpsConfig contains the loopback operations listener settings
// (health, status, logs, metrics).
type OpsConfig struct {
	Enabled         bool   `yaml:"enabled"`
	ListenAddress   string `yaml:"listen_address"`
	Detailed        bool   `yaml:"detailed"`
	MetricsEnabled  bool   `yaml:"metrics_enabled"`
	MetricsEndpoint string `yaml:"metrics_endpoint"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress:  "127.0.0.1:8090",
			AllowedOrigins: []string{"*"},
			DrainTimeout:   30 * time.Second,
			MaxMessageSize: 65536, // 64KB
			PingInterval:   30 * time.Second,
			PongTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			SendQueueSize:  64,
		},
		Chat: ChatConfig{
			UserHistory:    50,
			AIHistory:      10,
			MaxMessageText: 2000,
		},
		Completion: CompletionConfig{
			Model:        "gpt-4o-mini",
			MaxTokens:    150,
			Temperature:  0.8,
			Timeout:      15 * time.Second,
			FallbackText: "I'm having trouble thinking right now...",
		},
		Security: SecurityConfig{
			MaxConnections:      1000,
			MaxConnectionsPerIP: 10,
			RateLimit: RateLimitConfig{
				Enabled:              true,
				ConnectionsPerMinute: 60,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
			RingSize:   500,
		},
		Ops: OpsConfig{
			Enabled:         true,
			ListenAddress:   "127.0.0.1:8091",
			Detailed:        true,
			MetricsEnabled:  false,
			MetricsEndpoint: "/metrics",
		},
	}
}

// Load reads a config file and applies environment variable overrides.
// An empty path loads defaults plus env overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file not found at %s", path)
			}
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w (check YAML indentation)", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.ListenAddress == "" {
		return fmt.Errorf("server.listen_address is required")
	}
	if _, _, err := net.SplitHostPort(c.Server.ListenAddress); err != nil {
		return fmt.Errorf("server.listen_address is invalid: %w", err)
	}
	if c.Server.MaxMessageSize <= 0 {
		return fmt.Errorf("server.max_message_size must be positive")
	}
	if c.Server.MaxMessageSize > 1048576 {
		return fmt.Errorf("server.max_message_size must not exceed 1048576 (1MB)")
	}
	if c.Server.DrainTimeout <= 0 {
		return fmt.Errorf("server.drain_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be positive")
	}
	if c.Server.SendQueueSize <= 0 {
		return fmt.Errorf("server.send_queue_size must be positive")
	}
	for _, pattern := range c.Server.AllowedOrigins {
		if strings.TrimSpace(pattern) == "" {
			return fmt.Errorf("server.allowed_origins must not contain empty patterns")
		}
	}

	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" {
			return fmt.Errorf("server.tls.cert_file is required when TLS is enabled")
		}
		if c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("server.tls.key_file is required when TLS is enabled")
		}
	}

	if c.Chat.UserHistory <= 0 {
		return fmt.Errorf("chat.user_history must be positive")
	}
	if c.Chat.AIHistory <= 0 {
		return fmt.Errorf("chat.ai_history must be positive")
	}
	if c.Chat.MaxMessageText <= 0 {
		return fmt.Errorf("chat.max_message_text must be positive")
	}

	if c.Completion.BaseURL != "" {
		if u, err := url.Parse(c.Completion.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("completion.base_url must use http:// or https:// scheme")
		}
	}
	if c.Completion.Model == "" {
		return fmt.Errorf("completion.model is required")
	}
	if c.Completion.MaxTokens <= 0 {
		return fmt.Errorf("completion.max_tokens must be positive")
	}
	if c.Completion.Temperature < 0 || c.Completion.Temperature > 2 {
		return fmt.Errorf("completion.temperature must be between 0 and 2")
	}
	if c.Completion.Timeout <= 0 {
		return fmt.Errorf("completion.timeout must be positive")
	}
	if c.Completion.Timeout > 2*time.Minute {
		return fmt.Errorf("completion.timeout must not exceed 2m")
	}

	if c.Security.MaxConnections <= 0 {
		return fmt.Errorf("security.max_connections must be positive")
	}
	if c.Security.MaxConnections > 65535 {
		return fmt.Errorf("security.max_connections must not exceed 65535")
	}
	if c.Security.MaxConnectionsPerIP <= 0 {
		return fmt.Errorf("security.max_connections_per_ip must be positive")
	}
	if c.Security.MaxConnectionsPerIP > c.Security.MaxConnections {
		return fmt.Errorf("security.max_connections_per_ip must not exceed security.max_connections")
	}
	if c.Security.RateLimit.Enabled && c.Security.RateLimit.ConnectionsPerMinute <= 0 {
		return fmt.Errorf("security.rate_limit.connections_per_minute must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be one of: json, text")
	}
	if c.Logging.RingSize < 0 {
		return fmt.Errorf("logging.ring_size must not be negative")
	}

	if c.Ops.Enabled {
		if c.Ops.ListenAddress == "" {
			return fmt.Errorf("ops.listen_address is required when ops is enabled")
		}
		if _, _, err := net.SplitHostPort(c.Ops.ListenAddress); err != nil {
			return fmt.Errorf("ops.listen_address is invalid: %w", err)
		}
		host, _, _ := net.SplitHostPort(c.Ops.ListenAddress)
		ip := net.ParseIP(host)
		if ip != nil && !ip.IsLoopback() {
			return fmt.Errorf("ops.listen_address should bind to a loopback address (e.g. 127.0.0.1)")
		}
		if c.Server.ListenAddress == c.Ops.ListenAddress {
			return fmt.Errorf("server.listen_address and ops.listen_address must be different")
		}
	}

	return nil
}

// applyEnvOverrides applies ROOMRELAY_ prefixed environment variables.
// Convention: ROOMRELAY_ + uppercase + underscores for nesting.
func applyEnvOverrides(cfg *Config) {
	envMap := map[string]func(string){
		"ROOMRELAY_SERVER_LISTEN_ADDRESS":   func(v string) { cfg.Server.ListenAddress = v },
		"ROOMRELAY_SERVER_ALLOWED_ORIGINS":  func(v string) { cfg.Server.AllowedOrigins = splitList(v) },
		"ROOMRELAY_SERVER_DRAIN_TIMEOUT":    func(v string) { cfg.Server.DrainTimeout = parseDuration(v, cfg.Server.DrainTimeout) },
		"ROOMRELAY_SERVER_MAX_MESSAGE_SIZE": func(v string) { cfg.Server.MaxMessageSize = parseInt64(v, cfg.Server.MaxMessageSize) },
		"ROOMRELAY_SERVER_PING_INTERVAL":    func(v string) { cfg.Server.PingInterval = parseDuration(v, cfg.Server.PingInterval) },
		"ROOMRELAY_SERVER_PONG_TIMEOUT":     func(v string) { cfg.Server.PongTimeout = parseDuration(v, cfg.Server.PongTimeout) },
		"ROOMRELAY_SERVER_WRITE_TIMEOUT":    func(v string) { cfg.Server.WriteTimeout = parseDuration(v, cfg.Server.WriteTimeout) },
		"ROOMRELAY_CHAT_ROOMS_FILE":         func(v string) { cfg.Chat.RoomsFile = v },
		"ROOMRELAY_CHAT_USER_HISTORY":       func(v string) { cfg.Chat.UserHistory = parseInt(v, cfg.Chat.UserHistory) },
		"ROOMRELAY_CHAT_AI_HISTORY":         func(v string) { cfg.Chat.AIHistory = parseInt(v, cfg.Chat.AIHistory) },
		"ROOMRELAY_COMPLETION_BASE_URL":     func(v string) { cfg.Completion.BaseURL = v },
		"ROOMRELAY_COMPLETION_API_KEY":      func(v string) { cfg.Completion.APIKey = v },
		"ROOMRELAY_COMPLETION_MODEL":        func(v string) { cfg.Completion.Model = v },
		"ROOMRELAY_COMPLETION_MAX_TOKENS":   func(v string) { cfg.Completion.MaxTokens = parseInt(v, cfg.Completion.MaxTokens) },
		"ROOMRELAY_COMPLETION_TIMEOUT":      func(v string) { cfg.Completion.Timeout = parseDuration(v, cfg.Completion.Timeout) },
		"ROOMRELAY_STORE_PATH":              func(v string) { cfg.Store.Path = v },
		"ROOMRELAY_SECURITY_AUTH_TOKEN":     func(v string) { cfg.Security.AuthToken = v },
		"ROOMRELAY_SECURITY_MAX_CONNECTIONS": func(v string) {
			cfg.Security.MaxConnections = parseInt(v, cfg.Security.MaxConnections)
		},
		"ROOMRELAY_SECURITY_MAX_CONNECTIONS_PER_IP": func(v string) {
			cfg.Security.MaxConnectionsPerIP = parseInt(v, cfg.Security.MaxConnectionsPerIP)
		},
		"ROOMRELAY_SECURITY_RATE_LIMIT_ENABLED": func(v string) {
			cfg.Security.RateLimit.Enabled = parseBool(v, cfg.Security.RateLimit.Enabled)
		},
		"ROOMRELAY_SECURITY_RATE_LIMIT_CONNECTIONS_PER_MINUTE": func(v string) {
			cfg.Security.RateLimit.ConnectionsPerMinute = parseInt(v, cfg.Security.RateLimit.ConnectionsPerMinute)
		},
		"ROOMRELAY_LOGGING_LEVEL":      func(v string) { cfg.Logging.Level = v },
		"ROOMRELAY_LOGGING_FORMAT":     func(v string) { cfg.Logging.Format = v },
		"ROOMRELAY_LOGGING_FILE":       func(v string) { cfg.Logging.File = v },
		"ROOMRELAY_OPS_ENABLED":        func(v string) { cfg.Ops.Enabled = parseBool(v, cfg.Ops.Enabled) },
		"ROOMRELAY_OPS_LISTEN_ADDRESS": func(v string) { cfg.Ops.ListenAddress = v },
		"ROOMRELAY_OPS_METRICS_ENABLED": func(v string) {
			cfg.Ops.MetricsEnabled = parseBool(v, cfg.Ops.MetricsEnabled)
		},
	}

	for env, setter := range envMap {
		if v := os.Getenv(env); v != "" {
			setter(v)
		}
	}
}

// ApplyReloadableFields returns a copy of c with reloadable fields from newCfg.
// Non-reloadable: listen addresses, tls, store path, rooms file.
func (c *Config) ApplyReloadableFields(newCfg *Config) *Config {
	updated := *c
	updated.Security.RateLimit = newCfg.Security.RateLimit
	updated.Security.AuthToken = newCfg.Security.AuthToken
	updated.Security.MaxConnections = newCfg.Security.MaxConnections
	updated.Security.MaxConnectionsPerIP = newCfg.Security.MaxConnectionsPerIP
	updated.Logging.Level = newCfg.Logging.Level
	updated.Server.MaxMessageSize = newCfg.Server.MaxMessageSize
	updated.Server.AllowedOrigins = newCfg.Server.AllowedOrigins
	updated.Chat.UserHistory = newCfg.Chat.UserHistory
	updated.Chat.AIHistory = newCfg.Chat.AIHistory
	updated.Chat.MaxMessageText = newCfg.Chat.MaxMessageText
	updated.Completion.Model = newCfg.Completion.Model
	updated.Completion.MaxTokens = newCfg.Completion.MaxTokens
	updated.Completion.Temperature = newCfg.Completion.Temperature
	updated.Completion.Timeout = newCfg.Completion.Timeout
	updated.Completion.FallbackText = newCfg.Completion.FallbackText
	return &updated
}

// IsReloadSafe checks if only reloadable fields changed between configs.
func IsReloadSafe(old, new *Config) []string {
	var warnings []string
	if old.Server.ListenAddress != new.Server.ListenAddress {
		warnings = append(warnings, "server.listen_address requires restart")
	}
	if old.Server.TLS != new.Server.TLS {
		warnings = append(warnings, "server.tls requires restart")
	}
	if old.Ops.ListenAddress != new.Ops.ListenAddress {
		warnings = append(warnings, "ops.listen_address requires restart")
	}
	if old.Store.Path != new.Store.Path {
		warnings = append(warnings, "store.path requires restart")
	}
	if old.Chat.RoomsFile != new.Chat.RoomsFile {
		warnings = append(warnings, "chat.rooms_file requires restart")
	}
	return warnings
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt64(s string, fallback int64) int64 {
	var v int64
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return fallback
	}
	return v
}

func parseInt(s string, fallback int) int {
	var v int
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return fallback
	}
	return v
}

func parseBool(s string, fallback bool) bool {
	s = strings.ToLower(s)
	switch s {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return fallback
	}
}
