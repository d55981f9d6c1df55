package utils

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	minPairLength = 2
	maxPairLength = 30
)

// ValidatePair проверяет формат торговой пары (BTCUSDT, BTC-USDT, BTC/USDT).
func ValidatePair(pair string) error {
	if pair == "" {
		return fmt.Errorf("pair cannot be empty")
	}
	if len(pair) < minPairLength {
		return fmt.Errorf("pair %q is too short (min %d chars)", pair, minPairLength)
	}
	if len(pair) > maxPairLength {
		return fmt.Errorf("pair %q is too long (max %d chars)", pair, maxPairLength)
	}
	for _, r := range pair {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '/':
		default:
			return fmt.Errorf("pair %q contains invalid character %q", pair, r)
		}
	}
	return nil
}

// ValidateExchangeName проверяет имя биржи: строчные латинские буквы и цифры.
func ValidateExchangeName(name string) error {
	if name == "" {
		return fmt.Errorf("exchange name cannot be empty")
	}
	if name != strings.ToLower(name) {
		return fmt.Errorf("exchange name %q must be lowercase", name)
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return fmt.Errorf("exchange name %q contains invalid character %q", name, r)
		}
	}
	return nil
}

// ValidatePositive проверяет, что величина строго положительна.
func ValidatePositive(name string, value decimal.Decimal) error {
	if value.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%s must be positive, got %s", name, value.String())
	}
	return nil
}

// ValidatePercentRange проверяет, что процентная величина лежит в [0, 100].
func ValidatePercentRange(name string, value decimal.Decimal) error {
	if value.LessThan(decimal.Zero) || value.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%s must be within [0, 100], got %s", name, value.String())
	}
	return nil
}
