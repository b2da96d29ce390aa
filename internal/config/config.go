// Package config provides configuration management for Reclaw.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ErrConfigNotFound indicates no usable config file was found.
var ErrConfigNotFound = errors.New("config not found")

const (
	DefaultPort               = 18789
	DefaultMaxPayloadBytes    = 25 * 1024 * 1024
	DefaultMaxBufferedBytes   = 50 * 1024 * 1024
	DefaultHandshakeTimeoutMs = 10_000
	DefaultTickIntervalMs     = 30_000
	DefaultCronPollMs         = 1_000
	DefaultCronRunsLimit      = 500
	DefaultAuthMaxAttempts    = 20
	DefaultAuthWindowMs       = 60_000
	DefaultLogFilter          = "info"
)

// AuthModeNone, AuthModeToken and AuthModePassword label how the
// gateway authenticates connect requests.
const (
	AuthModeNone     = "none"
	AuthModeToken    = "token"
	AuthModePassword = "password"
)

// Config matches the structure of reclaw.json.
type Config struct {
	Host               string `json:"host" yaml:"host" mapstructure:"host"`
	Port               int    `json:"port" yaml:"port" mapstructure:"port" validate:"gte=1,lte=65535"`
	GatewayToken       string `json:"gatewayToken" yaml:"gatewayToken" mapstructure:"gatewayToken"`
	GatewayPassword    string `json:"gatewayPassword" yaml:"gatewayPassword" mapstructure:"gatewayPassword"`
	MaxPayloadBytes    int    `json:"maxPayloadBytes" yaml:"maxPayloadBytes" mapstructure:"maxPayloadBytes" validate:"gte=1"`
	MaxBufferedBytes   int    `json:"maxBufferedBytes" yaml:"maxBufferedBytes" mapstructure:"maxBufferedBytes" validate:"gte=1"`
	HandshakeTimeoutMs int64  `json:"handshakeTimeoutMs" yaml:"handshakeTimeoutMs" mapstructure:"handshakeTimeoutMs" validate:"gte=1"`
	TickIntervalMs     int64  `json:"tickIntervalMs" yaml:"tickIntervalMs" mapstructure:"tickIntervalMs" validate:"gte=1"`
	CronEnabled        bool   `json:"cronEnabled" yaml:"cronEnabled" mapstructure:"cronEnabled"`
	CronPollMs         int64  `json:"cronPollMs" yaml:"cronPollMs" mapstructure:"cronPollMs" validate:"gte=1"`
	CronRunsLimit      int    `json:"cronRunsLimit" yaml:"cronRunsLimit" mapstructure:"cronRunsLimit" validate:"gte=1"`
	DBPath             string `json:"dbPath" yaml:"dbPath" mapstructure:"dbPath"`
	AuthMaxAttempts    int    `json:"authMaxAttempts" yaml:"authMaxAttempts" mapstructure:"authMaxAttempts" validate:"gte=1"`
	AuthWindowMs       int64  `json:"authWindowMs" yaml:"authWindowMs" mapstructure:"authWindowMs" validate:"gte=1"`
	ChannelsInboundToken string `json:"channelsInboundToken" yaml:"channelsInboundToken" mapstructure:"channelsInboundToken"`

	RuntimeVersion     string `json:"runtimeVersion" yaml:"runtimeVersion" mapstructure:"runtimeVersion"`
	LogFilter          string `json:"logFilter" yaml:"logFilter" mapstructure:"logFilter"`
	JSONLogs           bool   `json:"jsonLogs" yaml:"jsonLogs" mapstructure:"jsonLogs"`
}

var validate = validator.New()

// StateDir returns the Reclaw state directory path.
// Can be overridden via RECLAW_STATE_DIR environment variable.
// Default: ~/.reclaw
func StateDir() string {
	if override := strings.TrimSpace(os.Getenv("RECLAW_STATE_DIR")); override != "" {
		return expandPath(override)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ".reclaw"
	}
	return filepath.Join(home, ".reclaw")
}

// ConfigPath returns the default config file path.
// Can be overridden via RECLAW_CONFIG_PATH environment variable.
// Default: ~/.reclaw/reclaw.json
func ConfigPath() string {
	if override := strings.TrimSpace(os.Getenv("RECLAW_CONFIG_PATH")); override != "" {
		return expandPath(override)
	}
	return filepath.Join(StateDir(), "reclaw.json")
}

// expandPath expands ~ to home directory and resolves the path.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = strings.Replace(path, "~", home, 1)
		}
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return absPath
}

// LoadViper loads the configuration into a Viper instance.
func LoadViper() (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	if configPath := strings.TrimSpace(os.Getenv("RECLAW_CONFIG_PATH")); configPath != "" {
		expandedPath := expandPath(configPath)
		fileInfo, err := os.Stat(expandedPath)
		if err == nil && fileInfo.IsDir() {
			v.SetConfigName("reclaw")
			v.AddConfigPath(expandedPath)
		} else {
			v.SetConfigFile(expandedPath)
		}
	} else {
		v.SetConfigName("reclaw")
		v.AddConfigPath(StateDir())
	}

	v.SetEnvPrefix("RECLAW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) {
			// Env vars and defaults still apply without a file.
			return v, nil
		}
		return nil, err
	}

	return v, nil
}

// Load reads the configuration from file or environment variables.
func Load() (*Config, error) {
	v, err := LoadViper()
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.GatewayToken = os.ExpandEnv(cfg.GatewayToken)
	cfg.GatewayPassword = os.ExpandEnv(cfg.GatewayPassword)
	cfg.ChannelsInboundToken = os.ExpandEnv(cfg.ChannelsInboundToken)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", DefaultPort)
	v.SetDefault("maxPayloadBytes", DefaultMaxPayloadBytes)
	v.SetDefault("maxBufferedBytes", DefaultMaxBufferedBytes)
	v.SetDefault("handshakeTimeoutMs", DefaultHandshakeTimeoutMs)
	v.SetDefault("tickIntervalMs", DefaultTickIntervalMs)
	v.SetDefault("cronEnabled", true)
	v.SetDefault("cronPollMs", DefaultCronPollMs)
	v.SetDefault("cronRunsLimit", DefaultCronRunsLimit)
	v.SetDefault("authMaxAttempts", DefaultAuthMaxAttempts)
	v.SetDefault("authWindowMs", DefaultAuthWindowMs)
	v.SetDefault("logFilter", DefaultLogFilter)
	v.SetDefault("jsonLogs", false)
}

// Save saves the configuration to the config file.
// Only JSON format is supported.
func Save(cfg *Config) error {
	configPath := ConfigPath()

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0o600)
}

// Validate checks for semantic errors in the config.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) && len(invalid) > 0 {
			field := invalid[0]
			return fmt.Errorf("invalid config: %s failed %s", field.Field(), field.Tag())
		}
		return err
	}
	if _, _, err := c.AuthMode(); err != nil {
		return err
	}
	return nil
}

// AuthMode resolves the gateway auth mode and its secret. Setting both
// a token and a password is an error.
func (c *Config) AuthMode() (mode, secret string, err error) {
	token := strings.TrimSpace(c.GatewayToken)
	password := strings.TrimSpace(c.GatewayPassword)

	switch {
	case token != "" && password != "":
		return "", "", fmt.Errorf("set either RECLAW_GATEWAY_TOKEN or RECLAW_GATEWAY_PASSWORD, not both")
	case token != "":
		return AuthModeToken, token, nil
	case password != "":
		return AuthModePassword, password, nil
	default:
		return AuthModeNone, "", nil
	}
}

// ResolvedDBPath returns the configured database path, defaulting to
// reclaw.db inside the state directory.
func (c *Config) ResolvedDBPath() string {
	if path := strings.TrimSpace(c.DBPath); path != "" {
		return expandPath(path)
	}
	return filepath.Join(StateDir(), "reclaw.db")
}

func (c *Config) BindAddr() string {
	host := c.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("%s:%d", host, c.Port)
}

func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutMs) * time.Millisecond
}

func (c *Config) CronPollInterval() time.Duration {
	return time.Duration(c.CronPollMs) * time.Millisecond
}

func (c *Config) AuthWindow() time.Duration {
	return time.Duration(c.AuthWindowMs) * time.Millisecond
}

// ForTest returns a config suitable for in-process test servers.
func ForTest(dbPath string) *Config {
	return &Config{
		Host:               "127.0.0.1",
		Port:               0,
		MaxPayloadBytes:    512 * 1024,
		MaxBufferedBytes:   1024 * 1024,
		HandshakeTimeoutMs: 3_000,
		TickIntervalMs:     30_000,
		CronEnabled:        true,
		CronPollMs:         200,
		CronRunsLimit:      100,
		DBPath:             dbPath,
		AuthMaxAttempts:    3,
		AuthWindowMs:       5_000,
		RuntimeVersion:     "test",
		LogFilter:          "warn",
		JSONLogs:           false,
	}
}
