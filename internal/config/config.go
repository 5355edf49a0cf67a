package config

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	log "github.com/sirupsen/logrus"
)

// Config represents the entire configuration structure
type Config struct {
	Telegram TelegramConfig `toml:"telegram"`
	Proxy    ProxyConfig    `toml:"proxy"`
	Claude   ClaudeConfig   `toml:"claude"`
	Format   FormatConfig   `toml:"format"`
	Storage  StorageConfig  `toml:"storage"`
	Logging  LoggingConfig  `toml:"logging"`
	Web      WebConfig      `toml:"web"`
	Tunnel   TunnelConfig   `toml:"tunnel"`
	Voice    VoiceConfig    `toml:"voice"`
}

// TelegramConfig contains Telegram Bot settings
type TelegramConfig struct {
	Token          string  `toml:"token"`
	PollingTimeout int     `toml:"polling_timeout"`
	PollingLimit   int     `toml:"polling_limit"`
	AllowedUsers   []int64 `toml:"allowed_users"`
}

// ProxyConfig contains HTTP proxy settings for the Telegram client
type ProxyConfig struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
}

// ClaudeConfig contains Claude Code CLI settings
type ClaudeConfig struct {
	Binary         string `toml:"binary"`
	WorkingDir     string `toml:"working_dir"`
	Model          string `toml:"model"`
	PermissionMode string `toml:"permission_mode"`
	MaxTurns       int    `toml:"max_turns"`
	Timeout        int    `toml:"timeout"`
}

// FormatConfig contains message formatting settings
type FormatConfig struct {
	MessageLimit int `toml:"message_limit"`
}

// StorageConfig contains session storage settings
type StorageConfig struct {
	Type     string `toml:"type"`
	FilePath string `toml:"file_path"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Output string `toml:"output"`
}

// WebConfig contains the embedded web UI settings
type WebConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// TunnelConfig contains ngrok tunnel settings
type TunnelConfig struct {
	Enabled   bool   `toml:"enabled"`
	NgrokPath string `toml:"ngrok_path"`
}

// VoiceConfig contains voice transcription settings
type VoiceConfig struct {
	Enabled bool   `toml:"enabled"`
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
	Model   string `toml:"model"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	// If no config path provided, try default locations
	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	log.Infof("Loading configuration from: %s", configPath)

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	// First try current directory
	if _, err := os.Stat("config.toml"); err == nil {
		return "config.toml"
	}

	// Then try config directory
	configDir := "config"
	if _, err := os.Stat(filepath.Join(configDir, "config.toml")); err == nil {
		return filepath.Join(configDir, "config.toml")
	}

	// Default to current directory
	return "config.toml"
}

// applyEnvOverrides fills secrets from the environment when the file
// leaves them empty, so tokens can stay out of config.toml.
func applyEnvOverrides(cfg *Config) {
	if cfg.Telegram.Token == "" {
		cfg.Telegram.Token = os.Getenv("TELEGRAM_BOT_TOKEN")
	}
	if cfg.Voice.APIKey == "" {
		cfg.Voice.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

// setDefaults applies default values to configuration fields
func setDefaults(cfg *Config) {
	if cfg.Telegram.PollingTimeout == 0 {
		cfg.Telegram.PollingTimeout = 60
	}
	if cfg.Telegram.PollingLimit == 0 {
		cfg.Telegram.PollingLimit = 100
	}
	if cfg.Claude.Binary == "" {
		cfg.Claude.Binary = "claude"
	}
	if cfg.Claude.WorkingDir == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.Claude.WorkingDir = wd
		}
	}
	if cfg.Claude.Timeout == 0 {
		cfg.Claude.Timeout = 600
	}
	if cfg.Format.MessageLimit == 0 {
		cfg.Format.MessageLimit = 4000
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "file"
	}
	if cfg.Storage.FilePath == "" {
		cfg.Storage.FilePath = "sessions.json"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "bot.log"
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8899"
	}
	if cfg.Tunnel.NgrokPath == "" {
		cfg.Tunnel.NgrokPath = "ngrok"
	}
	if cfg.Voice.Model == "" {
		cfg.Voice.Model = "whisper-1"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return &ConfigError{Field: "telegram.token", Message: "telegram token is required"}
	}
	if c.Proxy.Enabled && c.Proxy.URL == "" {
		return &ConfigError{Field: "proxy.url", Message: "proxy URL is required when proxy is enabled"}
	}
	if c.Claude.Binary == "" {
		return &ConfigError{Field: "claude.binary", Message: "claude binary is required"}
	}
	if c.Format.MessageLimit < 1 || c.Format.MessageLimit > 4096 {
		return &ConfigError{Field: "format.message_limit", Message: "message limit must be between 1 and 4096"}
	}
	if c.Storage.Type != "file" {
		return &ConfigError{Field: "storage.type", Message: "unsupported storage type: " + c.Storage.Type}
	}
	if c.Voice.Enabled && c.Voice.APIKey == "" {
		return &ConfigError{Field: "voice.api_key", Message: "API key is required when voice is enabled"}
	}
	if c.Tunnel.Enabled && !c.Web.Enabled {
		return &ConfigError{Field: "tunnel.enabled", Message: "tunnel requires the web UI to be enabled"}
	}
	return nil
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
