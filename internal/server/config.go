// Package server provides configuration loading, defaults and validation for
// the chat relay service.
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Membership sources for new message fan-out.
const (
	MembershipPayload  = "payload"
	MembershipPostgres = "postgres"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `mapstructure:"burst"`
	RefillInterval time.Duration `mapstructure:"refillInterval"`
}

// ServerConfig holds the listener, transport and security settings.
type ServerConfig struct {
	Addr            string          `mapstructure:"addr"`
	AllowedOrigins  []string        `mapstructure:"allowedOrigins"`
	MaxMessageSize  int64           `mapstructure:"maxMessageSize"`
	SendBuffer      int             `mapstructure:"sendBuffer"`
	ReadTimeout     time.Duration   `mapstructure:"readTimeout"`
	WriteTimeout    time.Duration   `mapstructure:"writeTimeout"`
	PingInterval    time.Duration   `mapstructure:"pingInterval"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdownTimeout"`
	RateLimit       RateLimitConfig `mapstructure:"rateLimit"`
}

// LoggingConfig is passed through to logger.Init.
type LoggingConfig struct {
	Env       string `mapstructure:"env"`
	Service   string `mapstructure:"service"`
	Version   string `mapstructure:"version"`
	Backend   string `mapstructure:"backend"`
	Level     string `mapstructure:"level"`
	Debug     bool   `mapstructure:"debug"`
	AddSource bool   `mapstructure:"addSource"`
}

// MembershipConfig selects where new message recipients come from.
type MembershipConfig struct {
	Source        string        `mapstructure:"source"`
	DSN           string        `mapstructure:"dsn"`
	MaxConns      int32         `mapstructure:"maxConns"`
	LookupTimeout time.Duration `mapstructure:"lookupTimeout"`
}

// Config is the full service configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Membership MembershipConfig `mapstructure:"membership"`
}

// ErrInvalidConfig is returned for settings that cannot be defaulted.
var ErrInvalidConfig = errors.New("invalid configuration")

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowedOrigins", []string{"http://localhost:3000"})
	v.SetDefault("server.maxMessageSize", 64*1024)
	v.SetDefault("server.sendBuffer", 256)
	v.SetDefault("server.readTimeout", "60s")
	v.SetDefault("server.writeTimeout", "10s")
	v.SetDefault("server.pingInterval", "54s")
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("server.rateLimit.burst", 20)
	v.SetDefault("server.rateLimit.refillInterval", "1s")

	v.SetDefault("logging.env", "")
	v.SetDefault("logging.service", "chatrelay")
	v.SetDefault("logging.version", "dev")
	v.SetDefault("logging.backend", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.debug", false)
	v.SetDefault("logging.addSource", false)

	v.SetDefault("membership.source", MembershipPayload)
	v.SetDefault("membership.dsn", "")
	v.SetDefault("membership.maxConns", 4)
	v.SetDefault("membership.lookupTimeout", "2s")
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// defaults always decode
	_ = v.Unmarshal(&cfg)
	return Sanitize(cfg)
}

// LoadConfig reads defaults, an optional YAML file and CHATRELAY_ environment
// overrides. file may be empty, in which case CHATRELAY_CONFIG is consulted and
// then config.yaml is looked up in . and ./config.
func LoadConfig(logger *slog.Logger, file string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if file == "" {
		file = os.Getenv("CHATRELAY_CONFIG")
	}
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("CHATRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		logger.Warn("Config file not found, relying on defaults and environment")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg = Sanitize(cfg)
	if cfg.Membership.Source == MembershipPostgres && cfg.Membership.DSN == "" {
		return Config{}, fmt.Errorf("%w: membership.dsn is required for the postgres source", ErrInvalidConfig)
	}
	return cfg, nil
}

// Sanitize replaces unusable values with defaults and normalizes origins.
func Sanitize(cfg Config) Config {
	s := &cfg.Server
	if s.Addr == "" {
		s.Addr = ":8080"
	}
	if s.MaxMessageSize <= 0 {
		s.MaxMessageSize = 64 * 1024
	}
	if s.SendBuffer <= 0 {
		s.SendBuffer = 256
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = 60 * time.Second
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = 10 * time.Second
	}
	// pings must land before the peer's read deadline
	if s.PingInterval <= 0 || s.PingInterval >= s.ReadTimeout {
		s.PingInterval = s.ReadTimeout * 9 / 10
	}
	if s.ShutdownTimeout <= 0 {
		s.ShutdownTimeout = 10 * time.Second
	}
	if s.RateLimit.Burst <= 0 {
		s.RateLimit.Burst = 20
	}
	if s.RateLimit.RefillInterval <= 0 {
		s.RateLimit.RefillInterval = time.Second
	}
	s.AllowedOrigins = parseOrigins(s.AllowedOrigins)

	m := &cfg.Membership
	m.Source = strings.ToLower(strings.TrimSpace(m.Source))
	if m.Source != MembershipPostgres {
		m.Source = MembershipPayload
	}
	if m.LookupTimeout <= 0 {
		m.LookupTimeout = 2 * time.Second
	}
	if m.MaxConns <= 0 {
		m.MaxConns = 4
	}

	if cfg.Logging.Service == "" {
		cfg.Logging.Service = "chatrelay"
	}
	return cfg
}

// parseOrigins flattens comma separated entries, which is how list values
// arrive from the environment.
func parseOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, entry := range origins {
		for _, part := range strings.Split(entry, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
