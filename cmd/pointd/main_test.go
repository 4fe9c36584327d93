package main

import (
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/pointledger/internal/pointapi"
	"github.com/spf13/cobra"
)

func TestLoadConfigFromFlags(t *testing.T) {
	cmd := newRootCommand()
	if err := cmd.ParseFlags([]string{
		"--database-url", "memory://",
		"--listen-addr", "127.0.0.1:9090",
		"--allowed-origins", "http://a.test, http://b.test",
		"--request-timeout", "3s",
	}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg := loadInto(t, cmd)
	if cfg.DatabaseURL != "memory://" || cfg.ListenAddr != "127.0.0.1:9090" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://b.test" {
		t.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
	if cfg.RequestTimeout != 3*time.Second || cfg.ShutdownTimeout != 5*time.Second {
		t.Fatalf("unexpected timeouts %+v", cfg)
	}
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "memory://?latency=1ms")
	t.Setenv("LISTEN_ADDR", "127.0.0.1:9191")
	t.Setenv("SHUTDOWN_TIMEOUT", "2s")
	cfg := loadInto(t, newRootCommand())
	if cfg.DatabaseURL != "memory://?latency=1ms" || cfg.ListenAddr != "127.0.0.1:9191" || cfg.ShutdownTimeout != 2*time.Second {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadConfigFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("LISTEN_ADDR", "127.0.0.1:9191")
	cmd := newRootCommand()
	if err := cmd.ParseFlags([]string{"--listen-addr", "127.0.0.1:9292", "--database-url", "memory://"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if cfg := loadInto(t, cmd); cfg.ListenAddr != "127.0.0.1:9292" {
		t.Fatalf("expected flag to win, got %s", cfg.ListenAddr)
	}
}

func TestLoadConfigRejectsUnsupportedDatabase(t *testing.T) {
	cmd := newRootCommand()
	if err := cmd.ParseFlags([]string{"--database-url", "mysql://db/points"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	var cfg pointapi.Config
	if err := loadConfig(cmd, &cfg); err == nil {
		t.Fatalf("expected unsupported database error")
	}
}

func loadInto(t *testing.T, cmd *cobra.Command) pointapi.Config {
	t.Helper()
	var cfg pointapi.Config
	if err := loadConfig(cmd, &cfg); err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}
