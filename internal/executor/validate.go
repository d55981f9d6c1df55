package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"crossarb/internal/exchange"
	"crossarb/internal/models"
	"crossarb/pkg/utils"
)

var hundred = decimal.NewFromInt(100)

// validateCandidate ревалидирует возможность перед размещением ордеров
//
// Главная защита от гонки с протухшей возможностью: между обнаружением
// и исполнением рынок успевает уйти. Любое нарушение отменяет
// исполнение ДО каких-либо ордеров.
func (c *Coordinator) validateCandidate(ctx context.Context, cand *models.ArbitrageCandidate, now time.Time) error {
	if cand.IsExpired(now) {
		return &ValidationError{Reason: ReasonExpired,
			Detail: fmt.Sprintf("opportunity expired at %s", cand.ExpiresAt.Format(time.RFC3339))}
	}

	buyTicker, err := c.freshTicker(cand.BuyExchange, cand.Pair, now)
	if err != nil {
		return err
	}
	sellTicker, err := c.freshTicker(cand.SellExchange, cand.Pair, now)
	if err != nil {
		return err
	}

	// Допуск движения цены: ask не выше, bid не ниже detected на
	// PriceTolerance процентов
	tolerance := c.config.PriceTolerance.Div(hundred)
	maxAsk := cand.BuyPrice.Mul(decimal.NewFromInt(1).Add(tolerance))
	minBid := cand.SellPrice.Mul(decimal.NewFromInt(1).Sub(tolerance))

	if buyTicker.AskPrice.GreaterThan(maxAsk) {
		return &ValidationError{Reason: ReasonPriceMoved,
			Detail: fmt.Sprintf("%s ask %s above tolerance %s", cand.BuyExchange, buyTicker.AskPrice, maxAsk)}
	}
	if sellTicker.BidPrice.LessThan(minBid) {
		return &ValidationError{Reason: ReasonPriceMoved,
			Detail: fmt.Sprintf("%s bid %s below tolerance %s", cand.SellExchange, sellTicker.BidPrice, minBid)}
	}

	// Перепроверка профита: пересчитанный чистый профит должен
	// сохранить хотя бы долю ProfitRecheckFraction от обнаруженного.
	// Ставки комиссий не пересчитываются: доля комиссий в процентах
	// та же, что при обнаружении
	if buyTicker.AskPrice.IsPositive() {
		feesPct := cand.GrossProfitPercentage.Sub(cand.NetProfitPercentage)
		currentGross := utils.PercentChange(buyTicker.AskPrice, sellTicker.BidPrice)
		currentNet := currentGross.Sub(feesPct)
		floor := cand.NetProfitPercentage.Mul(c.config.ProfitRecheckFraction)
		if currentNet.LessThan(floor) {
			return &ValidationError{Reason: ReasonProfitDegraded,
				Detail: fmt.Sprintf("net profit %s%% below recheck floor %s%%",
					currentNet.StringFixed(4), floor.StringFixed(4))}
		}
	}

	if c.config.CheckBalances {
		legs := []balanceNeed{
			{exchange: cand.BuyExchange, side: models.LegSideBuy, amount: cand.OptimalAmount, price: cand.BuyPrice},
			{exchange: cand.SellExchange, side: models.LegSideSell, amount: cand.OptimalAmount},
		}
		if err := c.checkBalances(ctx, cand.Pair, legs); err != nil {
			return err
		}
	}

	return nil
}

// validateStrategy ревалидирует мультибиржевую стратегию поногово
func (c *Coordinator) validateStrategy(ctx context.Context, s *models.MultiExchangeStrategy, now time.Time) error {
	if s.IsExpired(now) {
		return &ValidationError{Reason: ReasonExpired,
			Detail: fmt.Sprintf("strategy expired at %s", s.ExpiresAt.Format(time.RFC3339))}
	}

	tolerance := c.config.PriceTolerance.Div(hundred)
	one := decimal.NewFromInt(1)

	// Пересчёт ожидаемого результата по текущим котировкам
	currentCost := decimal.Zero
	currentRevenue := decimal.Zero
	var needs []balanceNeed

	for _, a := range s.BuyActions {
		t, err := c.freshTicker(a.Exchange, s.Pair, now)
		if err != nil {
			return err
		}
		maxAsk := a.Price.Mul(one.Add(tolerance))
		if t.AskPrice.GreaterThan(maxAsk) {
			return &ValidationError{Reason: ReasonPriceMoved,
				Detail: fmt.Sprintf("%s ask %s above tolerance %s", a.Exchange, t.AskPrice, maxAsk)}
		}
		currentCost = currentCost.Add(a.Amount.Mul(t.AskPrice))
		needs = append(needs, balanceNeed{exchange: a.Exchange, side: models.LegSideBuy, amount: a.Amount, price: t.AskPrice})
	}
	for _, a := range s.SellActions {
		t, err := c.freshTicker(a.Exchange, s.Pair, now)
		if err != nil {
			return err
		}
		minBid := a.Price.Mul(one.Sub(tolerance))
		if t.BidPrice.LessThan(minBid) {
			return &ValidationError{Reason: ReasonPriceMoved,
				Detail: fmt.Sprintf("%s bid %s below tolerance %s", a.Exchange, t.BidPrice, minBid)}
		}
		currentRevenue = currentRevenue.Add(a.Amount.Mul(t.BidPrice))
		needs = append(needs, balanceNeed{exchange: a.Exchange, side: models.LegSideSell, amount: a.Amount})
	}

	currentProfit := currentRevenue.Sub(currentCost).Sub(s.TotalFees)
	floor := s.EstimatedProfit.Mul(c.config.ProfitRecheckFraction)
	if currentProfit.LessThan(floor) {
		return &ValidationError{Reason: ReasonProfitDegraded,
			Detail: fmt.Sprintf("estimated profit %s below recheck floor %s", currentProfit, floor)}
	}

	if c.config.CheckBalances {
		if err := c.checkBalances(ctx, s.Pair, needs); err != nil {
			return err
		}
	}

	return nil
}

// freshTicker читает тикер биржи из кэша, отвергая протухшие данные
func (c *Coordinator) freshTicker(exchangeName, pair string, now time.Time) (*models.NormalizedTicker, error) {
	t, ok := c.cache.GetTicker(exchangeName, pair)
	if !ok {
		return nil, &ValidationError{Reason: ReasonStaleData,
			Detail: fmt.Sprintf("no market data for %s on %s", pair, exchangeName)}
	}
	if now.Sub(t.Timestamp) > c.config.MarketDataMaxAge {
		return nil, &ValidationError{Reason: ReasonStaleData,
			Detail: fmt.Sprintf("%s data for %s is %s old", exchangeName, pair, now.Sub(t.Timestamp).Round(time.Millisecond))}
	}
	return t, nil
}

type balanceNeed struct {
	exchange string
	side     string
	amount   decimal.Decimal
	price    decimal.Decimal // только для покупки
}

// checkBalances проверяет, что доступные балансы покрывают каждую ногу
//
// Сбой запроса баланса логируется и не фатален: проверка работает
// по принципу лучших усилий, окончательный арбитр - сама биржа
func (c *Coordinator) checkBalances(ctx context.Context, pair string, needs []balanceNeed) error {
	base, quote := exchange.SplitPair(pair)

	for _, need := range needs {
		conn, ok := c.connectors[need.exchange]
		if !ok {
			return &ValidationError{Reason: ReasonNoConnector,
				Detail: fmt.Sprintf("no connector for %s", need.exchange)}
		}

		balances, err := conn.GetBalances(ctx)
		if err != nil {
			c.log.Warn("balance check skipped",
				zap.String("exchange", need.exchange),
				zap.Error(err))
			continue
		}

		var currency string
		var required decimal.Decimal
		if need.side == models.LegSideBuy {
			currency = quote
			required = need.amount.Mul(need.price)
		} else {
			currency = base
			required = need.amount
		}

		available := balances[strings.ToUpper(currency)].Available
		if available.LessThan(required) {
			return &ValidationError{Reason: ReasonInsufficientBalance,
				Detail: fmt.Sprintf("%s: need %s %s, have %s", need.exchange, required, currency, available)}
		}
	}

	return nil
}
