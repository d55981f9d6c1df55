package utils

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// ============================================================
// Тесты PercentChange / SpreadPercent
// ============================================================

func TestPercentChange(t *testing.T) {
	tests := []struct {
		name string
		from string
		to   string
		want string
	}{
		{"рост на 1%", "50000", "50500", "1"},
		{"падение на 2%", "100", "98", "-2"},
		{"без изменения", "42", "42", "0"},
		{"нулевая база", "0", "100", "0"},
		{"отрицательная база", "-5", "100", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PercentChange(d(tt.from), d(tt.to))
			if !got.Equal(d(tt.want)) {
				t.Errorf("PercentChange(%s, %s) = %s, want %s", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestSpreadPercent(t *testing.T) {
	// bid 50400 против ask 50000 дает положительный спред 0.8%
	got := SpreadPercent(d("50400"), d("50000"))
	if !got.Equal(d("0.8")) {
		t.Errorf("SpreadPercent = %s, want 0.8", got)
	}
}

func TestApplyPercent(t *testing.T) {
	if got := ApplyPercent(d("50000"), d("2")); !got.Equal(d("51000")) {
		t.Errorf("ApplyPercent(50000, 2) = %s, want 51000", got)
	}
	if got := ApplyPercent(d("50000"), d("-2")); !got.Equal(d("49000")) {
		t.Errorf("ApplyPercent(50000, -2) = %s, want 49000", got)
	}
}

// ============================================================
// Тесты ClampDecimal / WeightedAverage
// ============================================================

func TestClampDecimal(t *testing.T) {
	tests := []struct {
		name  string
		value string
		min   string
		max   string
		want  string
	}{
		{"внутри диапазона", "5", "1", "10", "5"},
		{"ниже минимума", "0.5", "1", "10", "1"},
		{"выше максимума", "42", "1", "10", "10"},
		{"на границе", "10", "1", "10", "10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClampDecimal(d(tt.value), d(tt.min), d(tt.max))
			if !got.Equal(d(tt.want)) {
				t.Errorf("ClampDecimal(%s, %s, %s) = %s, want %s", tt.value, tt.min, tt.max, got, tt.want)
			}
		})
	}
}

func TestWeightedAverage(t *testing.T) {
	prices := []decimal.Decimal{d("100"), d("110")}
	amounts := []decimal.Decimal{d("1"), d("3")}
	// (100*1 + 110*3) / 4 = 107.5
	if got := WeightedAverage(prices, amounts); !got.Equal(d("107.5")) {
		t.Errorf("WeightedAverage = %s, want 107.5", got)
	}

	if got := WeightedAverage(nil, nil); !got.IsZero() {
		t.Errorf("WeightedAverage на пустых срезах = %s, want 0", got)
	}
	if got := WeightedAverage(prices, amounts[:1]); !got.IsZero() {
		t.Errorf("WeightedAverage на срезах разной длины = %s, want 0", got)
	}
}
