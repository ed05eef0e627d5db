package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/jurorsync/internal/logging"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix = "JUROR"

	defaultAPIBaseURL       = "http://127.0.0.1:8080/"
	defaultAPITimeout       = 12 * time.Second
	defaultLiveEnabled      = true
	defaultHandshakeTimeout = 12 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultReconnectDelay   = 1500 * time.Millisecond
	defaultSessionBackend   = SessionBackendSQLite
	defaultSQLitePath       = "juror_session.db"
	defaultRedisURL         = "redis://127.0.0.1:6379/0"
	defaultRedisKey         = "juror:session"
	defaultLogLevel         = "info"
	defaultLogFormat        = logging.FormatJSON

	defaultStubAddress      = "127.0.0.1:8080"
	defaultStubAccessTTL    = 15 * time.Minute
	defaultStubRefreshTTL   = 168 * time.Hour
	defaultStubLoginEnabled = true
)

// Session storage backends.
const (
	SessionBackendSQLite = "sqlite"
	SessionBackendRedis  = "redis"
	SessionBackendMemory = "memory"
)

// ClientConfig captures runtime configuration for the juror client.
type ClientConfig struct {
	APIBaseURL       string
	APITimeout       time.Duration
	LiveEnabled      bool
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReconnectDelay   time.Duration
	SessionBackend   string
	SQLitePath       string
	RedisURL         string
	RedisKey         string
	LogLevel         string
	LogFormat        string
	LogOutput        string
	StatusAddress    string
}

// StubConfig captures runtime configuration for the local backend stub.
type StubConfig struct {
	Address       string
	AdminPassword string
	SigningSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	LoginEnabled  bool
	LogLevel      string
	LogFormat     string
	LogOutput     string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("api.base_url", defaultAPIBaseURL)
	configViper.SetDefault("api.timeout", defaultAPITimeout)
	configViper.SetDefault("live.enabled", defaultLiveEnabled)
	configViper.SetDefault("live.handshake_timeout", defaultHandshakeTimeout)
	configViper.SetDefault("live.write_timeout", defaultWriteTimeout)
	configViper.SetDefault("live.reconnect_delay", defaultReconnectDelay)
	configViper.SetDefault("session.backend", defaultSessionBackend)
	configViper.SetDefault("session.sqlite_path", defaultSQLitePath)
	configViper.SetDefault("session.redis_url", defaultRedisURL)
	configViper.SetDefault("session.redis_key", defaultRedisKey)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("log.output", "")
	configViper.SetDefault("status.address", "")

	configViper.SetDefault("stub.address", defaultStubAddress)
	configViper.SetDefault("stub.access_ttl", defaultStubAccessTTL)
	configViper.SetDefault("stub.refresh_ttl", defaultStubRefreshTTL)
	configViper.SetDefault("stub.login_enabled", defaultStubLoginEnabled)
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process environment.
// Missing files are skipped; variables already set win.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// Load parses the juror client configuration from viper.
func Load(configViper *viper.Viper) (ClientConfig, error) {
	cfg := ClientConfig{
		APIBaseURL:       strings.TrimSpace(configViper.GetString("api.base_url")),
		APITimeout:       configViper.GetDuration("api.timeout"),
		LiveEnabled:      configViper.GetBool("live.enabled"),
		HandshakeTimeout: configViper.GetDuration("live.handshake_timeout"),
		WriteTimeout:     configViper.GetDuration("live.write_timeout"),
		ReconnectDelay:   configViper.GetDuration("live.reconnect_delay"),
		SessionBackend:   strings.ToLower(strings.TrimSpace(configViper.GetString("session.backend"))),
		SQLitePath:       strings.TrimSpace(configViper.GetString("session.sqlite_path")),
		RedisURL:         strings.TrimSpace(configViper.GetString("session.redis_url")),
		RedisKey:         strings.TrimSpace(configViper.GetString("session.redis_key")),
		LogLevel:         configViper.GetString("log.level"),
		LogFormat:        strings.ToLower(strings.TrimSpace(configViper.GetString("log.format"))),
		LogOutput:        strings.TrimSpace(configViper.GetString("log.output")),
		StatusAddress:    strings.TrimSpace(configViper.GetString("status.address")),
	}
	if cfg.APIBaseURL != "" && !strings.HasSuffix(cfg.APIBaseURL, "/") {
		cfg.APIBaseURL += "/"
	}

	if err := cfg.validate(); err != nil {
		return ClientConfig{}, err
	}

	return cfg, nil
}

func (c ClientConfig) validate() error {
	parsed, err := url.Parse(c.APIBaseURL)
	if err != nil || c.APIBaseURL == "" {
		return fmt.Errorf("api.base_url is invalid: %q", c.APIBaseURL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("api.base_url must use http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("api.base_url must include a host")
	}
	if c.APITimeout <= 0 {
		return fmt.Errorf("api.timeout must be positive")
	}
	if c.HandshakeTimeout <= 0 || c.WriteTimeout <= 0 {
		return fmt.Errorf("live timeouts must be positive")
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("live.reconnect_delay must be positive")
	}
	switch c.SessionBackend {
	case SessionBackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("session.sqlite_path is required")
		}
	case SessionBackendRedis:
		if _, err := url.Parse(c.RedisURL); err != nil || c.RedisURL == "" {
			return fmt.Errorf("session.redis_url is invalid: %q", c.RedisURL)
		}
		if c.RedisKey == "" {
			return fmt.Errorf("session.redis_key is required")
		}
	case SessionBackendMemory:
	default:
		return fmt.Errorf("session.backend %q is not one of sqlite, redis, memory", c.SessionBackend)
	}
	if !logging.ValidFormat(c.LogFormat) {
		return fmt.Errorf("log.format %q is not one of json, console", c.LogFormat)
	}
	return nil
}

// LoggerOptions returns the logging options for a component name.
func (c ClientConfig) LoggerOptions(name string) logging.Options {
	return logging.Options{Level: c.LogLevel, Format: c.LogFormat, Output: c.LogOutput, Name: name}
}

// LoadStub parses the backend stub configuration from viper.
func LoadStub(configViper *viper.Viper) (StubConfig, error) {
	cfg := StubConfig{
		Address:       strings.TrimSpace(configViper.GetString("stub.address")),
		AdminPassword: configViper.GetString("stub.admin_password"),
		SigningSecret: configViper.GetString("stub.signing_secret"),
		AccessTTL:     configViper.GetDuration("stub.access_ttl"),
		RefreshTTL:    configViper.GetDuration("stub.refresh_ttl"),
		LoginEnabled:  configViper.GetBool("stub.login_enabled"),
		LogLevel:      configViper.GetString("log.level"),
		LogFormat:     strings.ToLower(strings.TrimSpace(configViper.GetString("log.format"))),
		LogOutput:     strings.TrimSpace(configViper.GetString("log.output")),
	}

	if err := cfg.validate(); err != nil {
		return StubConfig{}, err
	}

	return cfg, nil
}

func (c StubConfig) validate() error {
	if c.Address == "" {
		return fmt.Errorf("stub.address is required")
	}
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("stub.signing_secret is required")
	}
	if strings.TrimSpace(c.AdminPassword) == "" {
		return fmt.Errorf("stub.admin_password is required")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return fmt.Errorf("stub token ttls must be positive")
	}
	if !logging.ValidFormat(c.LogFormat) {
		return fmt.Errorf("log.format %q is not one of json, console", c.LogFormat)
	}
	return nil
}

// LoggerOptions returns the logging options for a component name.
func (c StubConfig) LoggerOptions(name string) logging.Options {
	return logging.Options{Level: c.LogLevel, Format: c.LogFormat, Output: c.LogOutput, Name: name}
}
