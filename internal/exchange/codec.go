package exchange

import (
	"encoding/json"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
)

// jsonCodec - быстрый JSON декодер для горячего пути (тикеры, стаканы).
// Совместим со стандартной библиотекой
var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// parseDecimal разбирает json.Number в decimal.
// Пустое или некорректное значение даёт ноль: биржи периодически
// отдают null вместо цены, это не причина ронять весь снапшот
func parseDecimal(n json.Number) decimal.Decimal {
	s := n.String()
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Котируемые валюты в порядке проверки суффикса.
// Длинные раньше коротких, иначе BTCUSDT разберётся как BTCUSD+T
var knownQuotes = []string{"USDT", "IRT", "RLS", "TMN", "BTC", "ETH"}

// SplitPair разбирает канонический символ (BTCUSDT) на базовую
// и котируемую валюты
func SplitPair(pair string) (base, quote string) {
	upper := strings.ToUpper(pair)
	for _, q := range knownQuotes {
		if strings.HasSuffix(upper, q) && len(upper) > len(q) {
			return upper[:len(upper)-len(q)], q
		}
	}
	// Фоллбек: трёхбуквенная база
	if len(upper) > 3 {
		return upper[:3], upper[3:]
	}
	return upper, ""
}
