package oidcguard

import (
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must be valid: %v", err)
	}
	if cfg.Buckets.Nonce != "authNonce" || cfg.Buckets.State != "authStateControl" {
		t.Fatalf("unexpected default buckets %+v", cfg.Buckets)
	}
	if cfg.Nonce.TTL != time.Hour || cfg.State.TTL != time.Hour {
		t.Fatalf("unexpected default TTLs %v %v", cfg.Nonce.TTL, cfg.State.TTL)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "custom nonce ttl valid",
			mutate:    func(c *Config) { c.Nonce.TTL = 10 * time.Minute },
			wantValid: true,
		},
		{
			name:      "zero nonce ttl invalid",
			mutate:    func(c *Config) { c.Nonce.TTL = 0 },
			wantValid: false,
		},
		{
			name:      "negative state ttl invalid",
			mutate:    func(c *Config) { c.State.TTL = -time.Second },
			wantValid: false,
		},
		{
			name:      "blank nonce bucket invalid",
			mutate:    func(c *Config) { c.Buckets.Nonce = "  " },
			wantValid: false,
		},
		{
			name:      "shared bucket invalid",
			mutate:    func(c *Config) { c.Buckets.State = c.Buckets.Nonce },
			wantValid: false,
		},
		{
			name:      "bucket reusing storage key invalid",
			mutate:    func(c *Config) { c.Buckets.State = "authorizationData" },
			wantValid: false,
		},
		{
			name:      "short random values invalid",
			mutate:    func(c *Config) { c.Nonce.ByteLength = 8 },
			wantValid: false,
		},
		{
			name:      "long random values valid",
			mutate:    func(c *Config) { c.State.ByteLength = 64 },
			wantValid: true,
		},
		{
			name:      "prefix with whitespace invalid",
			mutate:    func(c *Config) { c.Storage.KeyPrefix = "a b" },
			wantValid: false,
		},
		{
			name: "audit without buffer invalid",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
		{
			name:      "latency without metrics invalid",
			mutate:    func(c *Config) { c.Metrics.EnableLatencyHistograms = true },
			wantValid: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.wantValid && err == nil {
				t.Fatal("expected invalid config, got nil")
			}
		})
	}
}
