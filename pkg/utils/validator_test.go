package utils

import "testing"

func TestValidatePair(t *testing.T) {
	tests := []struct {
		name    string
		pair    string
		wantErr bool
	}{
		{"valid BTCUSDT", "BTCUSDT", false},
		{"valid lowercase", "btcusdt", false},
		{"valid with hyphen", "BTC-USDT", false},
		{"valid with underscore", "BTC_USDT", false},
		{"valid with slash", "BTC/USDT", false},
		{"valid with digits", "1INCHUSDT", false},
		{"empty", "", true},
		{"single char", "B", true},
		{"too long", "BTCUSDTBTCUSDTBTCUSDTBTCUSDTXXX", true},
		{"special chars", "BTC@USDT", true},
		{"spaces", "BTC USDT", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePair(tt.pair)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePair(%q) error = %v, wantErr %v", tt.pair, err, tt.wantErr)
			}
		})
	}
}

func TestValidateExchangeName(t *testing.T) {
	tests := []struct {
		name     string
		exchange string
		wantErr  bool
	}{
		{"valid", "nobitex", false},
		{"valid with digits", "exchange1", false},
		{"empty", "", true},
		{"uppercase", "Nobitex", true},
		{"with hyphen", "no-bitex", true},
		{"with space", "no bitex", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateExchangeName(tt.exchange)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateExchangeName(%q) error = %v, wantErr %v", tt.exchange, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePositive(t *testing.T) {
	if err := ValidatePositive("amount", d("0.001")); err != nil {
		t.Errorf("положительное значение не должно давать ошибку: %v", err)
	}
	if err := ValidatePositive("amount", d("0")); err == nil {
		t.Error("ноль должен давать ошибку")
	}
	if err := ValidatePositive("amount", d("-1")); err == nil {
		t.Error("отрицательное значение должно давать ошибку")
	}
}

func TestValidatePercentRange(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"ноль", "0", false},
		{"середина", "2.5", false},
		{"граница", "100", false},
		{"отрицательный", "-0.1", true},
		{"больше ста", "100.1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePercentRange("tolerance", d(tt.value))
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePercentRange(%s) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
		})
	}
}
