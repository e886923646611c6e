package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Fatalf("listen addr = %s", cfg.Server.ListenAddr)
	}
	if !cfg.Orders.RequireApproval {
		t.Fatal("approval gating should default on")
	}
	if cfg.Dividends.ReclaimPeriod != 90*24*time.Hour {
		t.Fatalf("reclaim period = %s", cfg.Dividends.ReclaimPeriod)
	}
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  listen_addr: ":9090"
ledger:
  owner: issuer
  managers: [ops]
  whitelist: [alice, bob]
orders:
  escrow_address: "escrow:o"
  require_approval: false
dividends:
  escrow_address: "escrow:d"
  reclaim_period: 24h
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" || cfg.Ledger.Owner != "issuer" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Orders.RequireApproval {
		t.Fatal("require_approval override not applied")
	}
	if cfg.Dividends.ReclaimPeriod != 24*time.Hour {
		t.Fatalf("reclaim period = %s", cfg.Dividends.ReclaimPeriod)
	}
	// Untouched values keep their defaults.
	if cfg.RateLimit.RequestsPerSecond != 50 {
		t.Fatalf("rate limit = %d", cfg.RateLimit.RequestsPerSecond)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SECURITIES_DATABASE_DSN", "postgres://env")
	t.Setenv("SECURITIES_LISTEN_ADDR", ":7070")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.DSN != "postgres://env" || cfg.Server.ListenAddr != ":7070" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}

func TestValidateRejectsSharedEscrow(t *testing.T) {
	cfg := Default()
	cfg.Dividends.EscrowAddress = cfg.Orders.EscrowAddress
	if err := cfg.Validate(); err == nil {
		t.Fatal("shared escrow address should be rejected")
	}
}
