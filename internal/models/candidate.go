package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Статусы возможности/стратегии
const (
	OpportunityDetected  = "detected"
	OpportunityExecuting = "executing"
	OpportunityExecuted  = "executed"
	OpportunityExpired   = "expired"
	OpportunityFailed    = "failed"
)

// ArbitrageCandidate - простая (парная) арбитражная возможность:
// купить на одной бирже, продать на другой
//
// После создания объект неизменяем, кроме статусных переходов.
// Истечение задаётся жёстким TTL: после ExpiresAt возможность мертва
// независимо от прибыльности.
type ArbitrageCandidate struct {
	ID   uuid.UUID `json:"id"`
	Pair string    `json:"pair"`

	BuyExchange  string `json:"buy_exchange"`
	SellExchange string `json:"sell_exchange"`

	// Цены на момент обнаружения
	BuyPrice  decimal.Decimal `json:"buy_price"`  // ask биржи покупки
	SellPrice decimal.Decimal `json:"sell_price"` // bid биржи продажи

	// Ликвидность в пределах границы проскальзывания
	AvailableBuyAmount  decimal.Decimal `json:"available_buy_amount"`
	AvailableSellAmount decimal.Decimal `json:"available_sell_amount"`
	OptimalAmount       decimal.Decimal `json:"optimal_amount"` // min(buy, sell), с учётом лимитов

	// Прибыль
	GrossProfitPercentage decimal.Decimal `json:"gross_profit_percentage"`
	NetProfitPercentage   decimal.Decimal `json:"net_profit_percentage"`
	EstimatedProfit       decimal.Decimal `json:"estimated_profit"`

	// Комиссии (абсолютные, в котируемой валюте)
	BuyFee    decimal.Decimal `json:"buy_fee"`
	SellFee   decimal.Decimal `json:"sell_fee"`
	TotalFees decimal.Decimal `json:"total_fees"`

	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// Задержка обнаружения (для мониторинга качества данных)
	DetectionLatency time.Duration `json:"detection_latency"`
}

// IsExpired проверяет, истёк ли TTL возможности
func (c *ArbitrageCandidate) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// CalculateFees вычисляет абсолютные комиссии обеих ног по ставкам тейкера
func (c *ArbitrageCandidate) CalculateFees(buyFeeRate, sellFeeRate decimal.Decimal) {
	c.BuyFee = c.OptimalAmount.Mul(c.BuyPrice).Mul(buyFeeRate)
	c.SellFee = c.OptimalAmount.Mul(c.SellPrice).Mul(sellFeeRate)
	c.TotalFees = c.BuyFee.Add(c.SellFee)
}

// CalculateProfit вычисляет ожидаемую абсолютную прибыль
// (выручка продажи минус стоимость покупки минус комиссии)
func (c *ArbitrageCandidate) CalculateProfit() decimal.Decimal {
	buyCost := c.OptimalAmount.Mul(c.BuyPrice)
	sellRevenue := c.OptimalAmount.Mul(c.SellPrice)
	c.EstimatedProfit = sellRevenue.Sub(buyCost).Sub(c.TotalFees)
	return c.EstimatedProfit
}

// ComboKey возвращает ключ дедупликации (пара + биржи)
// Повторная возможность с тем же ключом не поднимается, пока
// предыдущая в статусе detected и не истекла
func (c *ArbitrageCandidate) ComboKey() string {
	return c.Pair + "|" + c.BuyExchange + ">" + c.SellExchange
}
