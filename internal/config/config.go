package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type BackendConfig struct {
	BaseURL string
	WSURL   string
	Timeout time.Duration
}

type SyncConfig struct {
	InitialAlertLimit int
	StatsInterval     time.Duration
	ReconnectDelay    time.Duration
	HandshakeTimeout  time.Duration
}

type BreakerConfig struct {
	Enabled     bool
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	MinRequests uint32
	FailureRate float64
}

type AppConfig struct {
	Host string
	Port int
}

type LogConfig struct {
	Level  string
	Format string
}

type SimulatorConfig struct {
	Host     string
	Port     int
	Interval time.Duration
}

type Config struct {
	Backend   BackendConfig
	Sync      SyncConfig
	Breaker   BreakerConfig
	App       AppConfig
	Log       LogConfig
	Simulator SimulatorConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.base_url", "http://localhost:8000/api")
	v.SetDefault("backend.ws_url", "ws://localhost:8000/api/ws")
	v.SetDefault("backend.timeout", 10*time.Second)

	v.SetDefault("sync.initial_alert_limit", 100)
	v.SetDefault("sync.stats_interval", 10*time.Second)
	v.SetDefault("sync.reconnect_delay", 5*time.Second)
	v.SetDefault("sync.handshake_timeout", 10*time.Second)

	v.SetDefault("breaker.enabled", true)
	v.SetDefault("breaker.max_requests", 1)
	v.SetDefault("breaker.interval", time.Minute)
	v.SetDefault("breaker.timeout", 30*time.Second)
	v.SetDefault("breaker.min_requests", 5)
	v.SetDefault("breaker.failure_rate", 0.6)

	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("simulator.host", "0.0.0.0")
	v.SetDefault("simulator.port", 8000)
	v.SetDefault("simulator.interval", 3*time.Second)
}

// Load reads config.yaml (or the file at path when set) and the environment.
// Env vars use "_" for nesting, e.g. BACKEND_BASE_URL overrides backend.base_url.
// A missing config file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/netguard-console")
	}
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := &Config{
		Backend: BackendConfig{
			BaseURL: strings.TrimSuffix(v.GetString("backend.base_url"), "/"),
			WSURL:   v.GetString("backend.ws_url"),
			Timeout: v.GetDuration("backend.timeout"),
		},
		Sync: SyncConfig{
			InitialAlertLimit: v.GetInt("sync.initial_alert_limit"),
			StatsInterval:     v.GetDuration("sync.stats_interval"),
			ReconnectDelay:    v.GetDuration("sync.reconnect_delay"),
			HandshakeTimeout:  v.GetDuration("sync.handshake_timeout"),
		},
		Breaker: BreakerConfig{
			Enabled:     v.GetBool("breaker.enabled"),
			MaxRequests: v.GetUint32("breaker.max_requests"),
			Interval:    v.GetDuration("breaker.interval"),
			Timeout:     v.GetDuration("breaker.timeout"),
			MinRequests: v.GetUint32("breaker.min_requests"),
			FailureRate: v.GetFloat64("breaker.failure_rate"),
		},
		App: AppConfig{
			Host: v.GetString("app.host"),
			Port: v.GetInt("app.port"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Simulator: SimulatorConfig{
			Host:     v.GetString("simulator.host"),
			Port:     v.GetInt("simulator.port"),
			Interval: v.GetDuration("simulator.interval"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the sync layer cannot run with.
func (c *Config) Validate() error {
	if _, err := url.ParseRequestURI(c.Backend.BaseURL); err != nil {
		return fmt.Errorf("backend.base_url: %w", err)
	}
	u, err := url.Parse(c.Backend.WSURL)
	if err != nil {
		return fmt.Errorf("backend.ws_url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("backend.ws_url: scheme must be ws or wss, got %q", u.Scheme)
	}
	if c.Sync.InitialAlertLimit <= 0 {
		return fmt.Errorf("sync.initial_alert_limit must be positive")
	}
	if c.Sync.StatsInterval <= 0 {
		return fmt.Errorf("sync.stats_interval must be positive")
	}
	if c.Sync.ReconnectDelay <= 0 {
		return fmt.Errorf("sync.reconnect_delay must be positive")
	}
	return nil
}

// ListenAddr is the console API address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.App.Host, c.App.Port)
}

// SimulatorAddr is the simulator listen address.
func (c *Config) SimulatorAddr() string {
	return fmt.Sprintf("%s:%d", c.Simulator.Host, c.Simulator.Port)
}
