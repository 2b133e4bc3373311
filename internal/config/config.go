// Package config handles YAML configuration loading with environment
// variable expansion and the documented environment overrides.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config is the top-level configuration shared by both binaries. Each
// binary reads its own section; the telemetry block applies to both.
type Config struct {
	Edge      EdgeConfig      `yaml:"edge"`
	Origin    OriginConfig    `yaml:"origin"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// EdgeConfig holds the public gateway settings.
type EdgeConfig struct {
	Addr            string        `yaml:"addr"`
	Env             string        `yaml:"env"` // "production" or "development"
	OriginBaseURL   string        `yaml:"origin_base_url"`
	ShieldToken     string        `yaml:"shield_token"`
	AdminKey        string        `yaml:"admin_key"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	DailyQuota      int64         `yaml:"daily_quota_per_key"`
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Redis           RedisConfig   `yaml:"redis"`
	Stripe          StripeConfig  `yaml:"stripe"`
	AuditDir        string        `yaml:"audit_dir"`
	AuditSecret     string        `yaml:"audit_secret"`
}

// MintPrefix returns the API key prefix for this environment. Test
// keys are visibly distinct so a leaked staging key is never confused
// with a paid one.
func (e EdgeConfig) MintPrefix() string {
	if e.Env == "production" {
		return "bsk_live_"
	}
	return "bsk_test_"
}

// RedisConfig holds the edge KV connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// StripeConfig holds payment webhook settings. The signature timestamp
// tolerance is fixed at 300s by the provider scheme and not configurable.
type StripeConfig struct {
	WebhookSecret string `yaml:"webhook_secret"`
}

// OriginConfig holds the private translator settings.
type OriginConfig struct {
	Addr            string         `yaml:"addr"`
	DBPath          string         `yaml:"db_path"`
	ShieldToken     string         `yaml:"shield_token"`
	ShieldEnforce   bool           `yaml:"shield_enforce"`
	CacheTTL        time.Duration  `yaml:"cache_ttl"`
	CacheMaxSize    int            `yaml:"cache_max_size"`
	IPRatePerMin    int64          `yaml:"ip_rate_limit_per_min"`
	HandlerTimeout  time.Duration  `yaml:"handler_timeout"`
	ReadTimeout     time.Duration  `yaml:"read_timeout"`
	WriteTimeout    time.Duration  `yaml:"write_timeout"`
	ShutdownTimeout time.Duration  `yaml:"shutdown_timeout"`
	AuditDir        string         `yaml:"audit_dir"`
	AuditSecret     string         `yaml:"audit_secret"`
	Fallback        FallbackConfig `yaml:"fallback"`
}

// FallbackConfig controls the external LM fallback on pro-tier misses.
type FallbackConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	SafetyLevel int           `yaml:"safety_level"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// defaults returns a Config populated with the documented defaults.
func defaults() *Config {
	return &Config{
		Edge: EdgeConfig{
			Addr:            ":8080",
			Env:             "development",
			OriginBaseURL:   "http://127.0.0.1:8081",
			CORSOrigins:     []string{"http://localhost:5173"},
			CacheTTL:        300 * time.Second,
			DailyQuota:      1000,
			UpstreamTimeout: 5 * time.Second,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			Redis:           RedisConfig{Addr: "127.0.0.1:6379"},
			AuditDir:        "audit/edge",
		},
		Origin: OriginConfig{
			Addr:            ":8081",
			DBPath:          "bhasha.db",
			ShieldEnforce:   true,
			CacheTTL:        180 * time.Second,
			CacheMaxSize:    10_000,
			IPRatePerMin:    0, // disabled unless set; the edge quota is the primary gate
			HandlerTimeout:  3 * time.Second,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			AuditDir:        "audit/origin",
			Fallback: FallbackConfig{
				Model:       "gpt-4o-mini",
				MaxTokens:   128,
				Timeout:     2000 * time.Millisecond,
				SafetyLevel: 2,
			},
		},
	}
}

// Load reads a YAML config file, expanding ${VAR} placeholders, then
// applies the documented environment variable overrides on top. An
// empty path loads defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		data = expandEnv(data)
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if cfg.Origin.Fallback.SafetyLevel < 2 {
		// Synthesized phrases are never free-tier visible.
		cfg.Origin.Fallback.SafetyLevel = 2
	}
	return cfg, nil
}

// applyEnv overlays the documented environment variables. Env wins over
// YAML so deploys can override a baked-in config file.
func (c *Config) applyEnv() {
	setStr := func(dst *string, name string) {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}
	setBool := func(dst *bool, name string) {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v == "1" || strings.EqualFold(v, "true")
		}
	}
	setInt64 := func(dst *int64, name string) {
		if v, ok := os.LookupEnv(name); ok {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				*dst = n
			}
		}
	}
	setInt := func(dst *int, name string) {
		if v, ok := os.LookupEnv(name); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setSeconds := func(dst *time.Duration, name string) {
		if v, ok := os.LookupEnv(name); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = time.Duration(n) * time.Second
			}
		}
	}

	setStr(&c.Edge.ShieldToken, "EDGE_SHIELD_TOKEN")
	setStr(&c.Origin.ShieldToken, "EDGE_SHIELD_TOKEN")
	setBool(&c.Origin.ShieldEnforce, "EDGE_SHIELD_ENFORCE")
	setStr(&c.Edge.AdminKey, "ADMIN_KEY")
	setStr(&c.Edge.OriginBaseURL, "ORIGIN_BASE_URL")
	if v, ok := os.LookupEnv("CORS_ORIGINS"); ok {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.Edge.CORSOrigins = origins
	}
	setSeconds(&c.Edge.CacheTTL, "EDGE_CACHE_TTL_SECONDS")
	setSeconds(&c.Origin.CacheTTL, "BACKEND_CACHE_TTL")
	setInt64(&c.Edge.DailyQuota, "DAILY_QUOTA_PER_KEY")
	setInt64(&c.Origin.IPRatePerMin, "IP_RATE_LIMIT_PER_MIN")
	setStr(&c.Edge.AuditSecret, "AUDIT_HMAC_SECRET")
	setStr(&c.Origin.AuditSecret, "AUDIT_HMAC_SECRET")
	setBool(&c.Origin.Fallback.Enabled, "ENABLE_GPT_FALLBACK")
	setStr(&c.Origin.Fallback.Model, "GPT_MODEL")
	setInt(&c.Origin.Fallback.MaxTokens, "GPT_MAX_TOKENS")
	if v, ok := os.LookupEnv("GPT_TIMEOUT_MS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Origin.Fallback.Timeout = time.Duration(n) * time.Millisecond
		}
	}
	setStr(&c.Origin.Fallback.APIKey, "OPENAI_API_KEY")
	setStr(&c.Edge.Stripe.WebhookSecret, "STRIPE_WEBHOOK_SECRET")
	setStr(&c.Edge.Redis.Addr, "REDIS_ADDR")
}
