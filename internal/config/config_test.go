package config

import (
	"testing"
	"time"
)

const validKey = "0123456789abcdef0123456789abcdef" // ровно 32 байта

func setValidEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ENCRYPTION_KEY", validKey)
}

func TestLoadDefaults(t *testing.T) {
	setValidEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}

	if got := cfg.Detector.MinProfitPercentage.String(); got != "0.5" {
		t.Errorf("MinProfitPercentage = %s, want 0.5", got)
	}

	if cfg.Detector.OpportunityTTL != 60*time.Second {
		t.Errorf("OpportunityTTL = %v, want 60s", cfg.Detector.OpportunityTTL)
	}

	if got := cfg.Executor.PriceTolerance.String(); got != "2" {
		t.Errorf("PriceTolerance = %s, want 2", got)
	}

	if cfg.Health.StaleWindow != 5*time.Minute {
		t.Errorf("StaleWindow = %v, want 5m", cfg.Health.StaleWindow)
	}

	if len(cfg.Exchanges.Enabled) != 3 {
		t.Errorf("Enabled exchanges = %d, want 3", len(cfg.Exchanges.Enabled))
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{
			name: "missing encryption key",
			env:  map[string]string{"ENCRYPTION_KEY": ""},
		},
		{
			name: "short encryption key",
			env:  map[string]string{"ENCRYPTION_KEY": "too-short"},
		},
		{
			name: "single exchange",
			env: map[string]string{
				"ENCRYPTION_KEY": validKey,
				"EXCHANGES":      "nobitex",
			},
		},
		{
			name: "negative min profit",
			env: map[string]string{
				"ENCRYPTION_KEY":        validKey,
				"MIN_PROFIT_PERCENTAGE": "-1",
			},
		},
		{
			name: "leg fraction above one",
			env: map[string]string{
				"ENCRYPTION_KEY":   validKey,
				"MAX_LEG_FRACTION": "1.5",
			},
		},
		{
			name: "stale window below check interval",
			env: map[string]string{
				"ENCRYPTION_KEY":        validKey,
				"STALE_WINDOW":          "10s",
				"HEALTH_CHECK_INTERVAL": "30s",
			},
		},
		{
			name: "malformed trading pair",
			env: map[string]string{
				"ENCRYPTION_KEY": validKey,
				"TRADING_PAIRS":  "BTC USDT",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("Load() expected validation error, got nil")
			}
		})
	}
}

func TestLoadOverrides(t *testing.T) {
	setValidEnv(t)
	t.Setenv("EXCHANGES", "nobitex,wallex")
	t.Setenv("TRADING_PAIRS", "BTCUSDT, ETHUSDT")
	t.Setenv("NOBITEX_TAKER_FEE", "0.002")
	t.Setenv("MIN_PROFIT_PERCENTAGE", "1.25")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if len(cfg.Exchanges.Enabled) != 2 {
		t.Fatalf("Enabled exchanges = %d, want 2", len(cfg.Exchanges.Enabled))
	}

	if got := cfg.Exchanges.Enabled[0].TakerFee.String(); got != "0.002" {
		t.Errorf("nobitex TakerFee = %s, want 0.002", got)
	}

	if len(cfg.Exchanges.Pairs) != 2 || cfg.Exchanges.Pairs[1] != "ETHUSDT" {
		t.Errorf("Pairs = %v, want [BTCUSDT ETHUSDT]", cfg.Exchanges.Pairs)
	}

	if got := cfg.Detector.MinProfitPercentage.String(); got != "1.25" {
		t.Errorf("MinProfitPercentage = %s, want 1.25", got)
	}
}

func TestLoadAmountCaps(t *testing.T) {
	setValidEnv(t)
	t.Setenv("AMOUNT_CAPS", "btcusdt:0.5, ETHUSDT:10, broken, BAD:-1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	caps := cfg.Detector.AmountCaps
	if len(caps) != 2 {
		t.Fatalf("AmountCaps = %v, want 2 записи", caps)
	}
	if got := caps["BTCUSDT"].String(); got != "0.5" {
		t.Errorf("BTCUSDT cap = %s, want 0.5", got)
	}
	if got := caps["ETHUSDT"].String(); got != "10" {
		t.Errorf("ETHUSDT cap = %s, want 10", got)
	}
}

func TestGetEnvAsDecimalFallback(t *testing.T) {
	t.Setenv("BROKEN_DECIMAL", "not-a-number")

	got := getEnvAsDecimal("BROKEN_DECIMAL", "0.5")
	if got.String() != "0.5" {
		t.Errorf("getEnvAsDecimal fallback = %s, want 0.5", got)
	}
}
