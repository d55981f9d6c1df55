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

// rankedExchange - биржа с котировками и исполнимой ликвидностью
type rankedExchange struct {
	Name          string
	AskPrice      decimal.Decimal
	BidPrice      decimal.Decimal
	BuyLiquidity  decimal.Decimal // в границе проскальзывания от ask
	SellLiquidity decimal.Decimal // в границе проскальзывания от bid
}

// BuildStrategies строит мультибиржевые стратегии по одной паре
//
// Требует минимум две живые биржи; complex дополнительно - минимум
// три. Возвращаются только стратегии, прошедшие порог профита и
// дедупликацию. Порядок результата детерминирован: one_to_many,
// many_to_one, complex.
func (e *Engine) BuildStrategies(pair string, tickers map[string]*models.NormalizedTicker, books map[string]*models.NormalizedOrderBook, now time.Time) []*models.MultiExchangeStrategy {
	if len(tickers) < 2 {
		return nil
	}

	ranking := e.rankExchanges(tickers, books)
	if len(ranking) < 2 {
		return nil
	}

	var strategies []*models.MultiExchangeStrategy

	builders := []func(string, []rankedExchange, time.Time) *models.MultiExchangeStrategy{
		e.buildOneToMany,
		e.buildManyToOne,
		e.buildComplex,
	}
	for _, build := range builders {
		s := build(pair, ranking, now)
		if s == nil {
			continue
		}
		if !e.dedup.claim(s.ComboKey(), s.ExpiresAt, now) {
			CandidatesDeduplicated.WithLabelValues(pair).Inc()
			continue
		}

		CandidatesDetected.WithLabelValues(pair, s.StrategyType).Inc()
		strategies = append(strategies, s)

		e.log.Info("multi-exchange strategy detected",
			zap.String("pair", pair),
			zap.String("strategy_type", s.StrategyType),
			zap.Int("complexity", s.ComplexityScore),
			zap.String("profit_pct", s.ProfitPercentage.StringFixed(4)),
			zap.String("estimated_profit", s.EstimatedProfit.String()))
	}

	return strategies
}

// rankExchanges ранжирует биржи по ask по возрастанию.
// Биржи без корректных котировок или ликвидности отбрасываются
func (e *Engine) rankExchanges(tickers map[string]*models.NormalizedTicker, books map[string]*models.NormalizedOrderBook) []rankedExchange {
	ranking := make([]rankedExchange, 0, len(tickers))

	for _, name := range sortedExchanges(tickers) {
		t := tickers[name]
		if !t.HasQuotes() {
			continue
		}
		ranking = append(ranking, rankedExchange{
			Name:          name,
			AskPrice:      t.AskPrice,
			BidPrice:      t.BidPrice,
			BuyLiquidity:  executableLiquidity(books[name], models.BookSideAsk, t.AskPrice, slippageBound),
			SellLiquidity: executableLiquidity(books[name], models.BookSideBid, t.BidPrice, slippageBound),
		})
	}

	// Стабильная сортировка поверх алфавитного порядка: при равных
	// ценах результат детерминирован
	sort.SliceStable(ranking, func(i, j int) bool {
		return ranking[i].AskPrice.LessThan(ranking[j].AskPrice)
	})

	return ranking
}

// legNetProfitPct - чистый профит ноги продажи относительно цены покупки
func (e *Engine) legNetProfitPct(buyExchange string, buyPrice decimal.Decimal, sellExchange string, sellPrice decimal.Decimal) decimal.Decimal {
	grossPct := utils.PercentChange(buyPrice, sellPrice)
	feesPct := e.feeRate(buyExchange).Add(e.feeRate(sellExchange)).Mul(hundred)
	return grossPct.Sub(feesPct)
}

// buildOneToMany: покупка всего объёма на самой дешёвой бирже,
// распределение продаж по биржам, чья нога проходит порог.
// Каждая нога продажи ограничена долей MaxLegFraction от объёма
// покупки - защита от концентрации на одной бирже
func (e *Engine) buildOneToMany(pair string, ranking []rankedExchange, now time.Time) *models.MultiExchangeStrategy {
	cheapest := ranking[0]
	if cheapest.BuyLiquidity.LessThanOrEqual(decimal.Zero) || cheapest.AskPrice.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	buyAmount := cheapest.BuyLiquidity
	legCap := buyAmount.Mul(e.config.MaxLegFraction)

	var sells []models.StrategyAction
	remaining := buyAmount

	for _, r := range ranking[1:] {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		if r.SellLiquidity.LessThanOrEqual(decimal.Zero) {
			continue
		}

		// Каждая нога сверяется с порогом отдельной биржи, агрегат
		// стратегии - с общим порогом ниже
		legPct := e.legNetProfitPct(cheapest.Name, cheapest.AskPrice, r.Name, r.BidPrice)
		if legPct.LessThan(e.config.MinProfitPerExchange) {
			continue
		}

		amount := decimal.Min(decimal.Min(r.SellLiquidity, legCap), remaining)
		if amount.LessThanOrEqual(decimal.Zero) {
			continue
		}

		sells = append(sells, models.StrategyAction{
			Exchange:         r.Name,
			Amount:           amount,
			Price:            r.BidPrice,
			Liquidity:        r.SellLiquidity,
			ProfitPercentage: legPct,
		})
		remaining = remaining.Sub(amount)
	}

	if len(sells) == 0 {
		return nil
	}

	// Покупаем ровно столько, сколько распределили в продажи
	totalSell := buyAmount.Sub(remaining)
	buys := []models.StrategyAction{{
		Exchange:  cheapest.Name,
		Amount:    totalSell,
		Price:     cheapest.AskPrice,
		Liquidity: cheapest.BuyLiquidity,
	}}

	return e.finalizeStrategy(pair, models.StrategyOneToMany, buys, sells, ranking, now)
}

// buildManyToOne: зеркально - продажа всего объёма на самой дорогой
// бирже, закупка на нескольких дешёвых под тем же потолком ноги
func (e *Engine) buildManyToOne(pair string, ranking []rankedExchange, now time.Time) *models.MultiExchangeStrategy {
	// Самая дорогая по bid - последняя в ранжировании по ask не
	// обязательно она, выбираем явно
	best := ranking[0]
	for _, r := range ranking[1:] {
		if r.BidPrice.GreaterThan(best.BidPrice) {
			best = r
		}
	}
	if best.SellLiquidity.LessThanOrEqual(decimal.Zero) || best.BidPrice.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	sellAmount := best.SellLiquidity
	legCap := sellAmount.Mul(e.config.MaxLegFraction)

	var buys []models.StrategyAction
	remaining := sellAmount

	for _, r := range ranking {
		if r.Name == best.Name {
			continue
		}
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		if r.BuyLiquidity.LessThanOrEqual(decimal.Zero) || r.AskPrice.LessThanOrEqual(decimal.Zero) {
			continue
		}

		legPct := e.legNetProfitPct(r.Name, r.AskPrice, best.Name, best.BidPrice)
		if legPct.LessThan(e.config.MinProfitPerExchange) {
			continue
		}

		amount := decimal.Min(decimal.Min(r.BuyLiquidity, legCap), remaining)
		if amount.LessThanOrEqual(decimal.Zero) {
			continue
		}

		buys = append(buys, models.StrategyAction{
			Exchange:         r.Name,
			Amount:           amount,
			Price:            r.AskPrice,
			Liquidity:        r.BuyLiquidity,
			ProfitPercentage: legPct,
		})
		remaining = remaining.Sub(amount)
	}

	if len(buys) == 0 {
		return nil
	}

	totalBuy := sellAmount.Sub(remaining)
	sells := []models.StrategyAction{{
		Exchange:  best.Name,
		Amount:    totalBuy,
		Price:     best.BidPrice,
		Liquidity: best.SellLiquidity,
	}}

	return e.finalizeStrategy(pair, models.StrategyManyToOne, buys, sells, ranking, now)
}

// buildComplex: минимум три биржи. Нижняя треть ранжирования -
// пул покупок, верхняя треть - пул продаж. Распределяется
// консервативная доля меньшей стороны, вес ноги пропорционален
// отношению ликвидности к цене
func (e *Engine) buildComplex(pair string, ranking []rankedExchange, now time.Time) *models.MultiExchangeStrategy {
	if len(ranking) < 3 {
		return nil
	}

	// Размер пула - настраиваемая доля ранжирования (по умолчанию треть)
	poolSize := int(decimal.NewFromInt(int64(len(ranking))).Mul(e.config.ComplexPoolFraction).IntPart())
	if poolSize < 1 {
		poolSize = 1
	}
	if poolSize*2 > len(ranking) {
		poolSize = len(ranking) / 2
	}
	buyPool := ranking[:poolSize]
	sellPool := ranking[len(ranking)-poolSize:]

	buyAggregate := decimal.Zero
	for _, r := range buyPool {
		buyAggregate = buyAggregate.Add(r.BuyLiquidity)
	}
	sellAggregate := decimal.Zero
	for _, r := range sellPool {
		sellAggregate = sellAggregate.Add(r.SellLiquidity)
	}
	if buyAggregate.LessThanOrEqual(decimal.Zero) || sellAggregate.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	// Торгуем консервативной долей меньшей стороны
	total := decimal.Min(buyAggregate, sellAggregate).Mul(e.config.ConservativeAllocation)
	if total.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	buys := allocateByWeight(buyPool, total, true)
	sells := allocateByWeight(sellPool, total, false)
	if len(buys) == 0 || len(sells) == 0 {
		return nil
	}

	return e.finalizeStrategy(pair, models.StrategyComplex, buys, sells, ranking, now)
}

// allocateByWeight распределяет total по пулу пропорционально
// отношению ликвидности ноги к её цене: дешёвые и глубокие ноги
// получают больший объём. Недобор ноги, упёршейся в собственную
// ликвидность, перераспределяется по остальным, иначе суммы сторон
// стратегии разойдутся и остаток окажется незахеджированным
func allocateByWeight(pool []rankedExchange, total decimal.Decimal, buySide bool) []models.StrategyAction {
	type allocation struct {
		r         rankedExchange
		weight    decimal.Decimal
		price     decimal.Decimal
		liquidity decimal.Decimal
		amount    decimal.Decimal
	}

	items := make([]*allocation, 0, len(pool))
	for _, r := range pool {
		price := r.AskPrice
		liquidity := r.BuyLiquidity
		if !buySide {
			price = r.BidPrice
			liquidity = r.SellLiquidity
		}
		if price.LessThanOrEqual(decimal.Zero) || liquidity.LessThanOrEqual(decimal.Zero) {
			continue
		}
		items = append(items, &allocation{
			r:         r,
			weight:    liquidity.Div(price),
			price:     price,
			liquidity: liquidity,
		})
	}
	if len(items) == 0 {
		return nil
	}

	// Раунды раздачи: нога, заполнившая свою ликвидность, выбывает,
	// её недобор уходит оставшимся. Каждый раунд либо выбивает ногу,
	// либо раздаёт остаток целиком, так что раундов не больше len(items)
	remaining := total
	active := items
	for remaining.IsPositive() && len(active) > 0 {
		sumWeight := decimal.Zero
		for _, it := range active {
			sumWeight = sumWeight.Add(it.weight)
		}
		if !sumWeight.IsPositive() {
			break
		}

		var next []*allocation
		allocated := decimal.Zero
		capped := false
		for _, it := range active {
			share := remaining.Mul(it.weight).Div(sumWeight)
			capacity := it.liquidity.Sub(it.amount)
			if share.GreaterThanOrEqual(capacity) {
				it.amount = it.liquidity
				allocated = allocated.Add(capacity)
				capped = true
				continue
			}
			it.amount = it.amount.Add(share)
			allocated = allocated.Add(share)
			next = append(next, it)
		}
		remaining = remaining.Sub(allocated)
		active = next
		if !capped {
			break
		}
	}

	actions := make([]models.StrategyAction, 0, len(items))
	for _, it := range items {
		if !it.amount.IsPositive() {
			continue
		}
		actions = append(actions, models.StrategyAction{
			Exchange:  it.r.Name,
			Amount:    it.amount,
			Price:     it.price,
			Liquidity: it.liquidity,
		})
	}
	return actions
}

// finalizeStrategy считает комиссии и агрегаты, применяет общий порог
func (e *Engine) finalizeStrategy(pair, strategyType string, buys, sells []models.StrategyAction, ranking []rankedExchange, now time.Time) *models.MultiExchangeStrategy {
	s := &models.MultiExchangeStrategy{
		ID:           uuid.New(),
		Pair:         pair,
		StrategyType: strategyType,
		BuyActions:   buys,
		SellActions:  sells,
		Status:       models.OpportunityDetected,
		CreatedAt:    now,
		ExpiresAt:    now.Add(e.config.OpportunityTTL),
	}

	fees := decimal.Zero
	for _, a := range buys {
		fees = fees.Add(a.Amount.Mul(a.Price).Mul(e.feeRate(a.Exchange)))
	}
	for _, a := range sells {
		fees = fees.Add(a.Amount.Mul(a.Price).Mul(e.feeRate(a.Exchange)))
	}
	s.TotalFees = fees
	s.Recalculate()

	if s.ProfitPercentage.LessThan(e.config.MinProfitPercentage) {
		return nil
	}

	s.PriceRanking = make([]models.ExchangeRank, 0, len(ranking))
	for _, r := range ranking {
		s.PriceRanking = append(s.PriceRanking, models.ExchangeRank{
			Exchange: r.Name,
			AskPrice: r.AskPrice,
			BidPrice: r.BidPrice,
		})
	}

	return s
}
