package server

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Addr != ":8080" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Server.MaxMessageSize != 64*1024 {
		t.Errorf("MaxMessageSize = %d", cfg.Server.MaxMessageSize)
	}
	if cfg.Server.PingInterval >= cfg.Server.ReadTimeout {
		t.Errorf("ping interval %s must be below read timeout %s", cfg.Server.PingInterval, cfg.Server.ReadTimeout)
	}
	if cfg.Membership.Source != MembershipPayload {
		t.Errorf("membership source = %q", cfg.Membership.Source)
	}
	if !reflect.DeepEqual(cfg.Server.AllowedOrigins, []string{"http://localhost:3000"}) {
		t.Errorf("AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
}

func TestSanitizeConfig(t *testing.T) {
	cfg := Sanitize(Config{
		Server: ServerConfig{
			ReadTimeout:    10 * time.Second,
			PingInterval:   30 * time.Second,
			AllowedOrigins: []string{" http://a.example ,http://b.example", ""},
		},
		Membership: MembershipConfig{Source: "Mongo"},
	})

	if cfg.Server.Addr != ":8080" || cfg.Server.MaxMessageSize <= 0 || cfg.Server.SendBuffer <= 0 {
		t.Fatalf("defaults not applied: %+v", cfg.Server)
	}
	if cfg.Server.PingInterval != 9*time.Second {
		t.Errorf("PingInterval = %s, want 9s", cfg.Server.PingInterval)
	}
	if cfg.Server.RateLimit.Burst <= 0 || cfg.Server.RateLimit.RefillInterval <= 0 {
		t.Errorf("rate limit not defaulted: %+v", cfg.Server.RateLimit)
	}
	if want := []string{"http://a.example", "http://b.example"}; !reflect.DeepEqual(cfg.Server.AllowedOrigins, want) {
		t.Errorf("AllowedOrigins = %v, want %v", cfg.Server.AllowedOrigins, want)
	}
	if cfg.Membership.Source != MembershipPayload {
		t.Errorf("unknown source should fall back to payload, got %q", cfg.Membership.Source)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  addr: ":9090"
  maxMessageSize: 1024
  rateLimit:
    burst: 7
logging:
  level: debug
`
	if err := os.WriteFile(file, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CHATRELAY_SERVER_ADDR", ":7070")
	t.Setenv("CHATRELAY_SERVER_ALLOWEDORIGINS", "http://x.example,http://y.example")
	t.Setenv("CHATRELAY_SERVER_WRITETIMEOUT", "3s")

	cfg, err := LoadConfig(discardLogger(), file)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Addr != ":7070" {
		t.Errorf("env should override file: Addr = %q", cfg.Server.Addr)
	}
	if cfg.Server.MaxMessageSize != 1024 || cfg.Server.RateLimit.Burst != 7 {
		t.Errorf("file values not applied: %+v", cfg.Server)
	}
	if cfg.Server.WriteTimeout != 3*time.Second {
		t.Errorf("WriteTimeout = %s", cfg.Server.WriteTimeout)
	}
	if want := []string{"http://x.example", "http://y.example"}; !reflect.DeepEqual(cfg.Server.AllowedOrigins, want) {
		t.Errorf("AllowedOrigins = %v, want %v", cfg.Server.AllowedOrigins, want)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
}

func TestLoadConfigWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CHATRELAY_CONFIG", "")

	cfg, err := LoadConfig(discardLogger(), "")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
}

func TestLoadConfigPostgresNeedsDSN(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CHATRELAY_CONFIG", "")
	t.Setenv("CHATRELAY_MEMBERSHIP_SOURCE", "postgres")

	_, err := LoadConfig(discardLogger(), "")
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("LoadConfig() error = %v, want ErrInvalidConfig", err)
	}
}
