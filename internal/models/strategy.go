package models

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Типы мультибиржевых стратегий
const (
	StrategyOneToMany = "one_to_many" // покупка на одной, продажа на нескольких
	StrategyManyToOne = "many_to_one" // покупка на нескольких, продажа на одной
	StrategyComplex   = "complex"     // N покупок, M продаж
)

// StrategyAction - одна нога стратегии на одной бирже
type StrategyAction struct {
	Exchange         string          `json:"exchange"`
	Amount           decimal.Decimal `json:"amount"`
	Price            decimal.Decimal `json:"price"`
	Liquidity        decimal.Decimal `json:"liquidity"`         // доступная ликвидность в границе проскальзывания
	ProfitPercentage decimal.Decimal `json:"profit_percentage"` // нетто-прибыль ноги относительно цены покупки
}

// ExchangeRank - позиция биржи в ранжировании по цене на момент построения
// стратегии. Снимок сохраняется для последующей ревалидации.
type ExchangeRank struct {
	Exchange string          `json:"exchange"`
	AskPrice decimal.Decimal `json:"ask_price"`
	BidPrice decimal.Decimal `json:"bid_price"`
}

// MultiExchangeStrategy - мультибиржевая арбитражная стратегия
//
// Стратегия владеет своими ногами: BuyActions/SellActions не существуют
// отдельно от неё. ComplexityScore (число ног) используется для
// приоритизации - при прочих равных исполняется более простая стратегия.
type MultiExchangeStrategy struct {
	ID           uuid.UUID `json:"id"`
	Pair         string    `json:"pair"`
	StrategyType string    `json:"strategy_type"` // one_to_many, many_to_one, complex

	BuyActions  []StrategyAction `json:"buy_actions"`
	SellActions []StrategyAction `json:"sell_actions"`

	TotalBuyAmount   decimal.Decimal `json:"total_buy_amount"`
	TotalSellAmount  decimal.Decimal `json:"total_sell_amount"`
	TotalBuyCost     decimal.Decimal `json:"total_buy_cost"`
	TotalSellRevenue decimal.Decimal `json:"total_sell_revenue"`
	TotalFees        decimal.Decimal `json:"total_fees"`
	EstimatedProfit  decimal.Decimal `json:"estimated_profit"`
	ProfitPercentage decimal.Decimal `json:"profit_percentage"`

	ComplexityScore int `json:"complexity_score"` // общее число ног

	// Снимок ранжирования бирж по цене, из которого построена стратегия
	PriceRanking []ExchangeRank `json:"price_ranking"`

	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired проверяет, истёк ли TTL стратегии
func (s *MultiExchangeStrategy) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Exchanges возвращает отсортированный список всех задействованных бирж
func (s *MultiExchangeStrategy) Exchanges() []string {
	seen := make(map[string]struct{}, len(s.BuyActions)+len(s.SellActions))
	for _, a := range s.BuyActions {
		seen[a.Exchange] = struct{}{}
	}
	for _, a := range s.SellActions {
		seen[a.Exchange] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ComboKey возвращает ключ дедупликации (пара + тип + набор бирж)
func (s *MultiExchangeStrategy) ComboKey() string {
	return s.Pair + "|" + s.StrategyType + "|" + strings.Join(s.Exchanges(), ",")
}

// Recalculate пересчитывает агрегаты из ног
// Вызывается после любого изменения состава ног при построении
func (s *MultiExchangeStrategy) Recalculate() {
	s.TotalBuyAmount = decimal.Zero
	s.TotalSellAmount = decimal.Zero
	s.TotalBuyCost = decimal.Zero
	s.TotalSellRevenue = decimal.Zero

	for _, a := range s.BuyActions {
		s.TotalBuyAmount = s.TotalBuyAmount.Add(a.Amount)
		s.TotalBuyCost = s.TotalBuyCost.Add(a.Amount.Mul(a.Price))
	}
	for _, a := range s.SellActions {
		s.TotalSellAmount = s.TotalSellAmount.Add(a.Amount)
		s.TotalSellRevenue = s.TotalSellRevenue.Add(a.Amount.Mul(a.Price))
	}

	s.EstimatedProfit = s.TotalSellRevenue.Sub(s.TotalBuyCost).Sub(s.TotalFees)
	if s.TotalBuyCost.IsPositive() {
		s.ProfitPercentage = s.EstimatedProfit.Div(s.TotalBuyCost).Mul(decimal.NewFromInt(100))
	} else {
		s.ProfitPercentage = decimal.Zero
	}
	s.ComplexityScore = len(s.BuyActions) + len(s.SellActions)
}
