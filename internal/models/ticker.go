package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// NormalizedTicker - нормализованный тикер одной биржи для одной пары
//
// Снимок неизменяем: новое обновление создаёт новый объект, старый
// никогда не мутируется. Читатели могут держать ссылку без блокировок.
//
// ВАЖНО: инвариант bid <= last <= ask НЕ гарантируется. Перекрещенные
// или нулевые котировки - валидный вход, детектор обязан их отбрасывать,
// а не падать.
type NormalizedTicker struct {
	Exchange  string          `json:"exchange"`
	Pair      string          `json:"pair"` // например BTCUSDT
	LastPrice decimal.Decimal `json:"last_price"`
	BidPrice  decimal.Decimal `json:"bid_price"`
	AskPrice  decimal.Decimal `json:"ask_price"`
	Volume24h decimal.Decimal `json:"volume_24h"`
	High24h   decimal.Decimal `json:"high_24h"`
	Low24h    decimal.Decimal `json:"low_24h"`
	Change24h decimal.Decimal `json:"change_24h"`
	Timestamp time.Time       `json:"timestamp"` // момент снятия снимка
}

// HasQuotes проверяет, что обе котировки положительны и не перекрещены
// (ask >= bid). Только такие тикеры пригодны для расчёта арбитража.
func (t *NormalizedTicker) HasQuotes() bool {
	return t.BidPrice.IsPositive() &&
		t.AskPrice.IsPositive() &&
		t.AskPrice.GreaterThanOrEqual(t.BidPrice)
}

// Age возвращает возраст снимка относительно now
func (t *NormalizedTicker) Age(now time.Time) time.Duration {
	return now.Sub(t.Timestamp)
}

// Стороны стакана
const (
	BookSideBid = "bid"
	BookSideAsk = "ask"
)

// OrderBookLevel - один уровень стакана
type OrderBookLevel struct {
	Side     string          `json:"side"`     // bid, ask
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Rank     int             `json:"rank"` // 0 = лучшая цена
}

// NormalizedOrderBook - нормализованный стакан одной биржи для одной пары
//
// Bids отсортированы по убыванию цены, Asks по возрастанию; Rank растёт
// от лучшей цены вглубь. Нельзя считать, что вся глубина исполнима по
// верхней цене - доступная ликвидность считается обходом уровней до
// границы проскальзывания.
type NormalizedOrderBook struct {
	Exchange  string           `json:"exchange"`
	Pair      string           `json:"pair"`
	Bids      []OrderBookLevel `json:"bids"`
	Asks      []OrderBookLevel `json:"asks"`
	Timestamp time.Time        `json:"timestamp"`
}

// Side возвращает уровни запрошенной стороны
func (b *NormalizedOrderBook) Side(side string) []OrderBookLevel {
	if side == BookSideBid {
		return b.Bids
	}
	return b.Asks
}

// BestBid возвращает лучший bid или ноль, если стакан пуст
func (b *NormalizedOrderBook) BestBid() decimal.Decimal {
	if len(b.Bids) == 0 {
		return decimal.Zero
	}
	return b.Bids[0].Price
}

// BestAsk возвращает лучший ask или ноль, если стакан пуст
func (b *NormalizedOrderBook) BestAsk() decimal.Decimal {
	if len(b.Asks) == 0 {
		return decimal.Zero
	}
	return b.Asks[0].Price
}
