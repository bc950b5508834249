// Package config loads connector settings from YAML or TOML files with
// CONNECTOR_* environment overrides.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Environment overrides.
const (
	EnvConnectorID      = "CONNECTOR_ID"
	EnvListen           = "CONNECTOR_LISTEN"
	EnvDatabase         = "CONNECTOR_DB"
	EnvToken            = "CONNECTOR_TOKEN"
	EnvRedisAddr        = "CONNECTOR_REDIS_ADDR"
	EnvAllowUnsupported = "CONNECTOR_ALLOW_UNSUPPORTED"
	EnvClientTimeout    = "CONNECTOR_CLIENT_TIMEOUT"
)

// Config is the resolved connector configuration.
type Config struct {
	ConnectorID string
	Title       string
	Maintainer  string
	Listen      string
	Database    string

	// Token is sent as security token on outbound messages.
	Token string
	// AcceptedTokens maps inbound tokens to the security profile they
	// prove. When empty any non-empty token is accepted with DefaultProfile.
	AcceptedTokens map[string]string
	DefaultProfile string

	AllowUnsupported bool
	SweepInterval    time.Duration
	ClientTimeout    time.Duration
	RedisAddr        string
	ServiceName      string
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		ConnectorID:    "https://localhost:8080",
		Title:          "connector",
		Listen:         ":8080",
		Database:       "connector.db",
		Token:          "dev-token",
		DefaultProfile: "idsc:BASE_SECURITY_PROFILE",
		SweepInterval:  time.Minute,
		ClientTimeout:  10 * time.Second,
		ServiceName:    "connector",
	}
}

type fileConfig struct {
	ConnectorID      string            `yaml:"connector_id" toml:"connector_id"`
	Title            string            `yaml:"title" toml:"title"`
	Maintainer       string            `yaml:"maintainer" toml:"maintainer"`
	Listen           string            `yaml:"listen" toml:"listen"`
	Database         string            `yaml:"database" toml:"database"`
	Token            string            `yaml:"token" toml:"token"`
	AcceptedTokens   map[string]string `yaml:"accepted_tokens" toml:"accepted_tokens"`
	DefaultProfile   string            `yaml:"default_profile" toml:"default_profile"`
	AllowUnsupported *bool             `yaml:"allow_unsupported" toml:"allow_unsupported"`
	SweepInterval    string            `yaml:"sweep_interval" toml:"sweep_interval"`
	ClientTimeout    string            `yaml:"client_timeout" toml:"client_timeout"`
	RedisAddr        string            `yaml:"redis_addr" toml:"redis_addr"`
	ServiceName      string            `yaml:"service_name" toml:"service_name"`
}

// Load reads path (YAML for .yaml/.yml, TOML for .toml), applies
// environment overrides and validates the result. An empty path yields the
// defaults plus overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		var raw fileConfig
		switch ext := strings.ToLower(filepath.Ext(path)); ext {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, &raw)
		case ".toml":
			err = toml.Unmarshal(data, &raw)
		default:
			return Config{}, fmt.Errorf("unsupported config format %q", ext)
		}
		if err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		if err := raw.apply(&cfg); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (raw fileConfig) apply(cfg *Config) error {
	setString(&cfg.ConnectorID, raw.ConnectorID)
	setString(&cfg.Title, raw.Title)
	setString(&cfg.Maintainer, raw.Maintainer)
	setString(&cfg.Listen, raw.Listen)
	setString(&cfg.Database, raw.Database)
	setString(&cfg.Token, raw.Token)
	setString(&cfg.DefaultProfile, raw.DefaultProfile)
	setString(&cfg.RedisAddr, raw.RedisAddr)
	setString(&cfg.ServiceName, raw.ServiceName)

	if len(raw.AcceptedTokens) > 0 {
		cfg.AcceptedTokens = make(map[string]string, len(raw.AcceptedTokens))
		for token, profile := range raw.AcceptedTokens {
			cfg.AcceptedTokens[strings.TrimSpace(token)] = strings.TrimSpace(profile)
		}
	}
	if raw.AllowUnsupported != nil {
		cfg.AllowUnsupported = *raw.AllowUnsupported
	}
	if err := setDuration(&cfg.SweepInterval, "sweep_interval", raw.SweepInterval); err != nil {
		return err
	}
	return setDuration(&cfg.ClientTimeout, "client_timeout", raw.ClientTimeout)
}

func applyEnvOverrides(cfg *Config) error {
	setString(&cfg.ConnectorID, os.Getenv(EnvConnectorID))
	setString(&cfg.Listen, os.Getenv(EnvListen))
	setString(&cfg.Database, os.Getenv(EnvDatabase))
	setString(&cfg.Token, os.Getenv(EnvToken))
	setString(&cfg.RedisAddr, os.Getenv(EnvRedisAddr))

	if raw := strings.TrimSpace(os.Getenv(EnvAllowUnsupported)); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvAllowUnsupported, err)
		}
		cfg.AllowUnsupported = v
	}
	if err := setDuration(&cfg.ClientTimeout, EnvClientTimeout, os.Getenv(EnvClientTimeout)); err != nil {
		return err
	}
	return nil
}

// Validate checks the fields every command relies on.
func (c Config) Validate() error {
	u, err := url.Parse(c.ConnectorID)
	if err != nil || u.Scheme == "" {
		return fmt.Errorf("connector_id %q must be an absolute URI", c.ConnectorID)
	}
	if c.ClientTimeout <= 0 {
		return fmt.Errorf("client_timeout must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive")
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, name, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	*dst = d
	return nil
}
