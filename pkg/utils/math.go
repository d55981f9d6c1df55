package utils

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// PercentChange возвращает изменение от from к to в процентах.
// Нулевая или отрицательная база дает ноль, чтобы не делить на ноль.
func PercentChange(from, to decimal.Decimal) decimal.Decimal {
	if from.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return to.Sub(from).Div(from).Mul(hundred)
}

// SpreadPercent возвращает спред между bid и ask относительно ask.
func SpreadPercent(bid, ask decimal.Decimal) decimal.Decimal {
	return PercentChange(ask, bid)
}

// ApplyPercent увеличивает value на pct процентов (pct может быть отрицательным).
func ApplyPercent(value, pct decimal.Decimal) decimal.Decimal {
	return value.Mul(decimal.NewFromInt(1).Add(pct.Div(hundred)))
}

// ClampDecimal ограничивает value диапазоном [min, max].
func ClampDecimal(value, min, max decimal.Decimal) decimal.Decimal {
	if value.LessThan(min) {
		return min
	}
	if value.GreaterThan(max) {
		return max
	}
	return value
}

// WeightedAverage возвращает средневзвешенную цену по объемам.
// Длины срезов должны совпадать; при нулевом суммарном объеме возвращается ноль.
func WeightedAverage(prices, amounts []decimal.Decimal) decimal.Decimal {
	if len(prices) != len(amounts) || len(prices) == 0 {
		return decimal.Zero
	}
	total := decimal.Zero
	weighted := decimal.Zero
	for i := range prices {
		weighted = weighted.Add(prices[i].Mul(amounts[i]))
		total = total.Add(amounts[i])
	}
	if total.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return weighted.Div(total)
}
