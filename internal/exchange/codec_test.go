package exchange

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSplitPair(t *testing.T) {
	tests := []struct {
		name      string
		pair      string
		wantBase  string
		wantQuote string
	}{
		{"usdt pair", "BTCUSDT", "BTC", "USDT"},
		{"irt pair", "BTCIRT", "BTC", "IRT"},
		{"tmn pair", "USDTTMN", "USDT", "TMN"},
		{"lowercase input", "ethusdt", "ETH", "USDT"},
		{"btc quote", "ETHBTC", "ETH", "BTC"},
		{"unknown quote falls back to 3-letter base", "XYZABC", "XYZ", "ABC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, quote := SplitPair(tt.pair)
			if base != tt.wantBase || quote != tt.wantQuote {
				t.Errorf("SplitPair(%q) = (%q, %q), want (%q, %q)",
					tt.pair, base, quote, tt.wantBase, tt.wantQuote)
			}
		})
	}
}

func TestParseDecimal(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"integer", "42", "42"},
		{"fraction", "0.00055", "0.00055"},
		{"large price", "2450000000", "2450000000"},
		{"empty gives zero", "", "0"},
		{"garbage gives zero", "n/a", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseDecimal(json.Number(tt.input))
			if got.String() != tt.want {
				t.Errorf("parseDecimal(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestOrderStatusNormalization(t *testing.T) {
	t.Run("nobitex", func(t *testing.T) {
		tests := []struct {
			raw  string
			want string
		}{
			{"Active", OrderStatusOpen},
			{"Inactive", OrderStatusOpen},
			{"Done", OrderStatusFilled},
			{"Canceled", OrderStatusCancelled},
			{"Weird", OrderStatusRejected},
		}
		for _, tt := range tests {
			if got := nobitexOrderStatus(tt.raw); got != tt.want {
				t.Errorf("nobitexOrderStatus(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		}
	})

	t.Run("wallex", func(t *testing.T) {
		tests := []struct {
			raw  string
			want string
		}{
			{"NEW", OrderStatusOpen},
			{"PARTIALLY_FILLED", OrderStatusPartial},
			{"FILLED", OrderStatusFilled},
			{"CANCELED", OrderStatusCancelled},
		}
		for _, tt := range tests {
			if got := wallexOrderStatus(tt.raw); got != tt.want {
				t.Errorf("wallexOrderStatus(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		}
	})

	t.Run("ramzinex", func(t *testing.T) {
		tests := []struct {
			raw  int
			want string
		}{
			{1, OrderStatusOpen},
			{2, OrderStatusCancelled},
			{3, OrderStatusFilled},
			{4, OrderStatusPartial},
			{99, OrderStatusRejected},
		}
		for _, tt := range tests {
			if got := ramzinexOrderStatus(tt.raw); got != tt.want {
				t.Errorf("ramzinexOrderStatus(%d) = %q, want %q", tt.raw, got, tt.want)
			}
		}
	})
}

func TestAddJitter(t *testing.T) {
	base := 4 * time.Second

	t.Run("zero factor returns base", func(t *testing.T) {
		if got := addJitter(base, 0); got != base {
			t.Errorf("addJitter with zero factor = %v, want %v", got, base)
		}
	})

	t.Run("jittered delay stays within bounds", func(t *testing.T) {
		min := time.Duration(float64(base) * 0.8)
		max := time.Duration(float64(base) * 1.2)
		for i := 0; i < 100; i++ {
			got := addJitter(base, 0.2)
			if got < min || got > max {
				t.Fatalf("addJitter = %v, want within [%v, %v]", got, min, max)
			}
		}
	})
}
