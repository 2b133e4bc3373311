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
		t.Fatal(err)
	}
	if cfg.Edge.CacheTTL != 300*time.Second {
		t.Errorf("edge cache ttl = %v", cfg.Edge.CacheTTL)
	}
	if cfg.Origin.CacheTTL != 180*time.Second {
		t.Errorf("origin cache ttl = %v", cfg.Origin.CacheTTL)
	}
	if cfg.Edge.DailyQuota != 1000 {
		t.Errorf("daily quota = %d", cfg.Edge.DailyQuota)
	}
	if !cfg.Origin.ShieldEnforce {
		t.Error("shield enforcement should default on")
	}
	if cfg.Origin.Fallback.MaxTokens != 128 || cfg.Origin.Fallback.Timeout != 2*time.Second {
		t.Errorf("fallback defaults = %+v", cfg.Origin.Fallback)
	}
}

func TestLoadYAMLWithEnvExpansion(t *testing.T) {
	t.Setenv("TEST_BHASHA_TOKEN", "shield-from-env")
	path := filepath.Join(t.TempDir(), "bhasha.yaml")
	yaml := `
edge:
  addr: ":9090"
  env: production
origin:
  shield_token: ${TEST_BHASHA_TOKEN}
  cache_max_size: 500
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Edge.Addr != ":9090" {
		t.Errorf("addr = %q", cfg.Edge.Addr)
	}
	if cfg.Origin.ShieldToken != "shield-from-env" {
		t.Errorf("shield token = %q", cfg.Origin.ShieldToken)
	}
	if cfg.Origin.CacheMaxSize != 500 {
		t.Errorf("cache max size = %d", cfg.Origin.CacheMaxSize)
	}
	if cfg.Edge.MintPrefix() != "bsk_live_" {
		t.Errorf("mint prefix = %q", cfg.Edge.MintPrefix())
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("EDGE_SHIELD_TOKEN", "s3cret")
	t.Setenv("EDGE_SHIELD_ENFORCE", "false")
	t.Setenv("DAILY_QUOTA_PER_KEY", "42")
	t.Setenv("EDGE_CACHE_TTL_SECONDS", "60")
	t.Setenv("BACKEND_CACHE_TTL", "90")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("GPT_TIMEOUT_MS", "750")
	t.Setenv("ENABLE_GPT_FALLBACK", "1")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Edge.ShieldToken != "s3cret" || cfg.Origin.ShieldToken != "s3cret" {
		t.Error("shield token not shared across both sections")
	}
	if cfg.Origin.ShieldEnforce {
		t.Error("EDGE_SHIELD_ENFORCE=false not applied")
	}
	if cfg.Edge.DailyQuota != 42 {
		t.Errorf("quota = %d", cfg.Edge.DailyQuota)
	}
	if cfg.Edge.CacheTTL != time.Minute || cfg.Origin.CacheTTL != 90*time.Second {
		t.Errorf("ttls = %v / %v", cfg.Edge.CacheTTL, cfg.Origin.CacheTTL)
	}
	if len(cfg.Edge.CORSOrigins) != 2 || cfg.Edge.CORSOrigins[1] != "https://b.example" {
		t.Errorf("cors = %v", cfg.Edge.CORSOrigins)
	}
	if cfg.Origin.Fallback.Timeout != 750*time.Millisecond {
		t.Errorf("fallback timeout = %v", cfg.Origin.Fallback.Timeout)
	}
	if !cfg.Origin.Fallback.Enabled {
		t.Error("fallback not enabled")
	}
}

func TestFallbackSafetyClamped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bhasha.yaml")
	yaml := `
origin:
  fallback:
    safety_level: 0
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Origin.Fallback.SafetyLevel < 2 {
		t.Errorf("safety level = %d, must be clamped to >= 2", cfg.Origin.Fallback.SafetyLevel)
	}
}
