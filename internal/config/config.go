package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "DRIFTNOTES"
	defaultHTTPAddress      = "127.0.0.1:8484"
	defaultDatabasePath     = "driftnotes.db"
	defaultLogLevel         = "info"
	defaultProbeTimeout     = 5 * time.Second
	defaultProbeInterval    = 30 * time.Second
	defaultDebounceDelay    = 2 * time.Second
	defaultSyncInterval     = 5 * time.Minute
	defaultRetryBaseDelay   = 2 * time.Second
	defaultRetryMaxAttempts = 5
)

// AppConfig captures runtime configuration for the driftnotes daemon.
type AppConfig struct {
	HTTPAddress      string
	RemoteBaseURL    string
	DatabasePath     string
	LogLevel         string
	ProbeTimeout     time.Duration
	ProbeInterval    time.Duration
	DebounceDelay    time.Duration
	SyncInterval     time.Duration
	RetryBaseDelay   time.Duration
	RetryMaxAttempts int
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

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("remote.base_url", "")
	configViper.SetDefault("probe.timeout", defaultProbeTimeout)
	configViper.SetDefault("probe.interval", defaultProbeInterval)
	configViper.SetDefault("probe.debounce", defaultDebounceDelay)
	configViper.SetDefault("sync.interval", defaultSyncInterval)
	configViper.SetDefault("sync.retry_base_delay", defaultRetryBaseDelay)
	configViper.SetDefault("sync.retry_max_attempts", defaultRetryMaxAttempts)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      configViper.GetString("http.address"),
		RemoteBaseURL:    configViper.GetString("remote.base_url"),
		DatabasePath:     configViper.GetString("database.path"),
		LogLevel:         configViper.GetString("log.level"),
		ProbeTimeout:     configViper.GetDuration("probe.timeout"),
		ProbeInterval:    configViper.GetDuration("probe.interval"),
		DebounceDelay:    configViper.GetDuration("probe.debounce"),
		SyncInterval:     configViper.GetDuration("sync.interval"),
		RetryBaseDelay:   configViper.GetDuration("sync.retry_base_delay"),
		RetryMaxAttempts: configViper.GetInt("sync.retry_max_attempts"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.RemoteBaseURL) == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.RetryMaxAttempts <= 0 {
		return fmt.Errorf("sync.retry_max_attempts must be positive")
	}
	return nil
}
