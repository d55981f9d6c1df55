// Package detector реализует движок обнаружения арбитражных возможностей.
//
// Движок сканирует пары независимо: простой поиск перебирает
// упорядоченные комбинации (покупка, продажа) двух бирж, мультибиржевой
// строит стратегии распределения объёма по нескольким биржам.
// Все расчёты - чистая синхронная математика над снапшотом кэша,
// сетевых вызовов внутри скана нет.
package detector

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"crossarb/internal/models"
	"crossarb/pkg/utils"
)

// Граница проскальзывания при расчёте исполнимой ликвидности: 1%
var slippageBound = decimal.NewFromFloat(0.01)

var hundred = decimal.NewFromInt(100)

// Config - параметры движка обнаружения
type Config struct {
	// Минимальный чистый профит (%) для простых возможностей и
	// агрегата мультибиржевых стратегий
	MinProfitPercentage decimal.Decimal
	// Минимальный чистый профит (%) отдельной ноги мультибиржевой
	// стратегии
	MinProfitPerExchange decimal.Decimal
	// Время жизни возможности
	OpportunityTTL time.Duration
	// Максимальная доля буферного объёма на одну ногу
	MaxLegFraction decimal.Decimal
	// Доля пула для complex-стратегии
	ComplexPoolFraction decimal.Decimal
	// Консервативный коэффициент распределения ликвидности
	ConservativeAllocation decimal.Decimal
	// Ставки комиссии тейкера по биржам (доля, 0.0035 = 0.35%)
	TakerFees map[string]decimal.Decimal
	// Потолок объёма по парам (опционально, ноль = без потолка)
	AmountCaps map[string]decimal.Decimal
}

// Engine - движок обнаружения по одной паре за вызов
type Engine struct {
	config Config
	dedup  *dedupRegistry
	log    *zap.Logger
}

// NewEngine создаёт движок обнаружения
func NewEngine(config Config, log *zap.Logger) *Engine {
	return &Engine{
		config: config,
		dedup:  newDedupRegistry(),
		log:    log.Named("detector"),
	}
}

// feeRate возвращает ставку тейкера биржи (ноль, если не настроена)
func (e *Engine) feeRate(exchange string) decimal.Decimal {
	if rate, ok := e.config.TakerFees[exchange]; ok {
		return rate
	}
	return decimal.Zero
}

// amountCap возвращает потолок объёма пары (ноль = нет потолка)
func (e *Engine) amountCap(pair string) decimal.Decimal {
	if limit, ok := e.config.AmountCaps[pair]; ok {
		return limit
	}
	return decimal.Zero
}

// Release снимает дедупликацию комбинации: возможность покинула
// статус detected
func (e *Engine) Release(comboKey string) {
	e.dedup.release(comboKey)
}

// SweepDedup удаляет истёкшие записи дедупликации
func (e *Engine) SweepDedup(now time.Time) int {
	return e.dedup.sweep(now)
}

// ScanPair выполняет простой (парный) поиск по одной паре
//
// tickers и books - свежие снапшоты кэша по живым биржам. Меньше
// двух бирж - не ошибка, а пустой результат: частичная недоступность
// рынка - штатное состояние.
//
// Поиск детерминирован: биржи обходятся в отсортированном порядке,
// повторный скан того же снапшота даёт тот же набор возможностей
func (e *Engine) ScanPair(pair string, tickers map[string]*models.NormalizedTicker, books map[string]*models.NormalizedOrderBook, now time.Time) []*models.ArbitrageCandidate {
	started := time.Now()
	defer func() {
		ScanDuration.WithLabelValues(pair).Observe(time.Since(started).Seconds())
	}()

	if len(tickers) < 2 {
		return nil
	}

	exchanges := sortedExchanges(tickers)

	var candidates []*models.ArbitrageCandidate
	for _, buyExchange := range exchanges {
		for _, sellExchange := range exchanges {
			if buyExchange == sellExchange {
				continue
			}

			c := e.evaluatePair(pair, buyExchange, sellExchange, tickers, books, now)
			if c == nil {
				continue
			}

			if !e.dedup.claim(c.ComboKey(), c.ExpiresAt, now) {
				CandidatesDeduplicated.WithLabelValues(pair).Inc()
				continue
			}

			CandidatesDetected.WithLabelValues(pair, "simple").Inc()
			DetectionLatency.WithLabelValues(pair).Observe(c.DetectionLatency.Seconds())
			candidates = append(candidates, c)

			e.log.Info("arbitrage candidate detected",
				zap.String("pair", pair),
				zap.String("buy_exchange", buyExchange),
				zap.String("sell_exchange", sellExchange),
				zap.String("net_profit_pct", c.NetProfitPercentage.StringFixed(4)),
				zap.String("optimal_amount", c.OptimalAmount.String()),
				zap.String("estimated_profit", c.EstimatedProfit.String()))
		}
	}

	return candidates
}

// evaluatePair оценивает одну упорядоченную комбинацию бирж.
// nil - возможности нет (это не ошибка)
func (e *Engine) evaluatePair(pair, buyExchange, sellExchange string, tickers map[string]*models.NormalizedTicker, books map[string]*models.NormalizedOrderBook, now time.Time) *models.ArbitrageCandidate {
	buyTicker := tickers[buyExchange]
	sellTicker := tickers[sellExchange]

	buyAsk := buyTicker.AskPrice
	sellBid := sellTicker.BidPrice
	if buyAsk.LessThanOrEqual(decimal.Zero) || sellBid.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	// Валовый профит: (bid продажи - ask покупки) / ask покупки
	grossPct := utils.PercentChange(buyAsk, sellBid)

	// Чистый профит: минус комиссии тейкера обеих ног в процентах
	buyFeeRate := e.feeRate(buyExchange)
	sellFeeRate := e.feeRate(sellExchange)
	netPct := grossPct.Sub(buyFeeRate.Add(sellFeeRate).Mul(hundred))

	if netPct.LessThan(e.config.MinProfitPercentage) {
		return nil
	}

	// Исполнимая ликвидность в границе проскальзывания
	buyLiquidity := executableLiquidity(books[buyExchange], models.BookSideAsk, buyAsk, slippageBound)
	sellLiquidity := executableLiquidity(books[sellExchange], models.BookSideBid, sellBid, slippageBound)
	if buyLiquidity.LessThanOrEqual(decimal.Zero) || sellLiquidity.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	optimal := decimal.Min(buyLiquidity, sellLiquidity)
	if limit := e.amountCap(pair); limit.IsPositive() && optimal.GreaterThan(limit) {
		optimal = limit
	}

	// Задержка обнаружения: возраст самого старого из двух снапшотов
	oldest := buyTicker.Timestamp
	if sellTicker.Timestamp.Before(oldest) {
		oldest = sellTicker.Timestamp
	}

	c := &models.ArbitrageCandidate{
		ID:                    uuid.New(),
		Pair:                  pair,
		BuyExchange:           buyExchange,
		SellExchange:          sellExchange,
		BuyPrice:              buyAsk,
		SellPrice:             sellBid,
		AvailableBuyAmount:    buyLiquidity,
		AvailableSellAmount:   sellLiquidity,
		OptimalAmount:         optimal,
		GrossProfitPercentage: grossPct,
		NetProfitPercentage:   netPct,
		Status:                models.OpportunityDetected,
		CreatedAt:             now,
		ExpiresAt:             now.Add(e.config.OpportunityTTL),
		DetectionLatency:      now.Sub(oldest),
	}
	c.CalculateFees(buyFeeRate, sellFeeRate)
	c.CalculateProfit()

	return c
}

// sortedExchanges возвращает имена бирж в детерминированном порядке
func sortedExchanges(tickers map[string]*models.NormalizedTicker) []string {
	names := make([]string, 0, len(tickers))
	for name := range tickers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
