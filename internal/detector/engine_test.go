package detector

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"crossarb/internal/models"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func testTicker(exchange, pair, bid, ask string, ts time.Time) *models.NormalizedTicker {
	return &models.NormalizedTicker{
		Exchange:  exchange,
		Pair:      pair,
		BidPrice:  dec(bid),
		AskPrice:  dec(ask),
		LastPrice: dec(bid),
		Timestamp: ts,
	}
}

// deepBook строит стакан с одним глубоким уровнем на каждой стороне
func deepBook(exchange, pair, bid, ask, qty string, ts time.Time) *models.NormalizedOrderBook {
	return &models.NormalizedOrderBook{
		Exchange:  exchange,
		Pair:      pair,
		Timestamp: ts,
		Bids: []models.OrderBookLevel{
			{Side: models.BookSideBid, Price: dec(bid), Quantity: dec(qty)},
		},
		Asks: []models.OrderBookLevel{
			{Side: models.BookSideAsk, Price: dec(ask), Quantity: dec(qty)},
		},
	}
}

func testEngine(minProfit string, fees map[string]string) *Engine {
	takerFees := make(map[string]decimal.Decimal, len(fees))
	for name, rate := range fees {
		takerFees[name] = dec(rate)
	}
	return NewEngine(Config{
		MinProfitPercentage:    dec(minProfit),
		MinProfitPerExchange:   dec("0.1"),
		OpportunityTTL:         60 * time.Second,
		MaxLegFraction:         dec("0.4"),
		ComplexPoolFraction:    dec("0.3333"),
		ConservativeAllocation: dec("0.8"),
		TakerFees:              takerFees,
	}, zap.NewNop())
}

// Сценарий: две биржи, нулевые комиссии, достаточная ликвидность.
// Ровно одна простая возможность (купить на A, продать на B)
// с валовым профитом около 0.6%
func TestScanPairSingleCandidate(t *testing.T) {
	e := testEngine("0.5", map[string]string{"a": "0", "b": "0"})
	now := time.Now()

	tickers := map[string]*models.NormalizedTicker{
		"a": testTicker("a", "BTCUSDT", "50100", "50000", now),
		"b": testTicker("b", "BTCUSDT", "50400", "50300", now),
	}
	books := map[string]*models.NormalizedOrderBook{
		"a": deepBook("a", "BTCUSDT", "50100", "50000", "10", now),
		"b": deepBook("b", "BTCUSDT", "50400", "50300", "10", now),
	}

	candidates := e.ScanPair("BTCUSDT", tickers, books, now)

	if len(candidates) != 1 {
		t.Fatalf("got %d candidates, want exactly 1", len(candidates))
	}

	c := candidates[0]
	if c.BuyExchange != "a" || c.SellExchange != "b" {
		t.Errorf("direction = buy %s / sell %s, want buy a / sell b", c.BuyExchange, c.SellExchange)
	}

	// (50400 - 50000) / 50000 * 100 = 0.8%
	if got := c.GrossProfitPercentage.StringFixed(2); got != "0.80" {
		t.Errorf("gross profit = %s%%, want 0.80%%", got)
	}
	if !c.NetProfitPercentage.Equal(c.GrossProfitPercentage) {
		t.Error("net must equal gross with zero fees")
	}
	if c.Status != models.OpportunityDetected {
		t.Errorf("status = %s, want %s", c.Status, models.OpportunityDetected)
	}
	if !c.ExpiresAt.Equal(now.Add(60 * time.Second)) {
		t.Errorf("ExpiresAt = %v, want now+60s", c.ExpiresAt)
	}
}

// Сценарий: комиссии съедают профит ниже порога - возможность
// не создаётся
func TestScanPairFeesEatProfit(t *testing.T) {
	// 0.8% валовых - (0.2% + 0.2%) = 0.4% чистыми, порог 0.5%
	e := testEngine("0.5", map[string]string{"a": "0.002", "b": "0.002"})
	now := time.Now()

	tickers := map[string]*models.NormalizedTicker{
		"a": testTicker("a", "BTCUSDT", "50100", "50000", now),
		"b": testTicker("b", "BTCUSDT", "50400", "50300", now),
	}
	books := map[string]*models.NormalizedOrderBook{
		"a": deepBook("a", "BTCUSDT", "50100", "50000", "10", now),
		"b": deepBook("b", "BTCUSDT", "50400", "50300", "10", now),
	}

	if got := e.ScanPair("BTCUSDT", tickers, books, now); len(got) != 0 {
		t.Errorf("got %d candidates, want 0 (fees below threshold)", len(got))
	}
}

// Свойство: net = gross - (buy_fee + sell_fee) * 100
func TestNetProfitFormula(t *testing.T) {
	e := testEngine("0.1", map[string]string{"a": "0.001", "b": "0.0015"})
	now := time.Now()

	tickers := map[string]*models.NormalizedTicker{
		"a": testTicker("a", "BTCUSDT", "50100", "50000", now),
		"b": testTicker("b", "BTCUSDT", "50400", "50300", now),
	}
	books := map[string]*models.NormalizedOrderBook{
		"a": deepBook("a", "BTCUSDT", "50100", "50000", "10", now),
		"b": deepBook("b", "BTCUSDT", "50400", "50300", "10", now),
	}

	candidates := e.ScanPair("BTCUSDT", tickers, books, now)
	if len(candidates) != 1 {
		t.Fatalf("got %d candidates, want 1", len(candidates))
	}

	c := candidates[0]
	wantNet := c.GrossProfitPercentage.Sub(dec("0.0025").Mul(dec("100")))
	if !c.NetProfitPercentage.Equal(wantNet) {
		t.Errorf("net = %s, want %s", c.NetProfitPercentage, wantNet)
	}
}

// Свойство: optimal_amount никогда не превышает ликвидность ног
func TestOptimalAmountBoundedByLiquidity(t *testing.T) {
	e := testEngine("0.1", map[string]string{"a": "0", "b": "0"})
	now := time.Now()

	tickers := map[string]*models.NormalizedTicker{
		"a": testTicker("a", "BTCUSDT", "50100", "50000", now),
		"b": testTicker("b", "BTCUSDT", "50400", "50300", now),
	}
	// На стороне покупки глубина 2, на стороне продажи 5
	books := map[string]*models.NormalizedOrderBook{
		"a": deepBook("a", "BTCUSDT", "50100", "50000", "2", now),
		"b": deepBook("b", "BTCUSDT", "50400", "50300", "5", now),
	}

	candidates := e.ScanPair("BTCUSDT", tickers, books, now)
	if len(candidates) != 1 {
		t.Fatalf("got %d candidates, want 1", len(candidates))
	}

	c := candidates[0]
	if c.OptimalAmount.GreaterThan(c.AvailableBuyAmount) || c.OptimalAmount.GreaterThan(c.AvailableSellAmount) {
		t.Errorf("optimal %s exceeds liquidity (buy %s, sell %s)",
			c.OptimalAmount, c.AvailableBuyAmount, c.AvailableSellAmount)
	}
	if c.OptimalAmount.String() != "2" {
		t.Errorf("optimal = %s, want 2 (min of both sides)", c.OptimalAmount)
	}
}

// Потолок объёма по паре ограничивает optimal_amount
func TestAmountCap(t *testing.T) {
	e := testEngine("0.1", map[string]string{"a": "0", "b": "0"})
	e.config.AmountCaps = map[string]decimal.Decimal{"BTCUSDT": dec("0.5")}
	now := time.Now()

	tickers := map[string]*models.NormalizedTicker{
		"a": testTicker("a", "BTCUSDT", "50100", "50000", now),
		"b": testTicker("b", "BTCUSDT", "50400", "50300", now),
	}
	books := map[string]*models.NormalizedOrderBook{
		"a": deepBook("a", "BTCUSDT", "50100", "50000", "10", now),
		"b": deepBook("b", "BTCUSDT", "50400", "50300", "10", now),
	}

	candidates := e.ScanPair("BTCUSDT", tickers, books, now)
	if len(candidates) != 1 {
		t.Fatalf("got %d candidates, want 1", len(candidates))
	}
	if candidates[0].OptimalAmount.String() != "0.5" {
		t.Errorf("optimal = %s, want capped 0.5", candidates[0].OptimalAmount)
	}
}

// Сценарий: меньше двух живых бирж - ноль возможностей, не ошибка
func TestScanPairSingleExchange(t *testing.T) {
	e := testEngine("0.5", map[string]string{"a": "0"})
	now := time.Now()

	tickers := map[string]*models.NormalizedTicker{
		"a": testTicker("a", "BTCUSDT", "50100", "50000", now),
	}

	if got := e.ScanPair("BTCUSDT", tickers, nil, now); got != nil {
		t.Errorf("got %d candidates with one exchange, want none", len(got))
	}
}

// Свойство: детерминизм - повторный скан того же снапшота даёт тот же
// набор возможностей (после освобождения дедупликации)
func TestScanPairDeterministic(t *testing.T) {
	now := time.Now()

	tickers := map[string]*models.NormalizedTicker{
		"a": testTicker("a", "BTCUSDT", "50100", "50000", now),
		"b": testTicker("b", "BTCUSDT", "50400", "50300", now),
		"c": testTicker("c", "BTCUSDT", "50250", "50150", now),
	}
	books := map[string]*models.NormalizedOrderBook{
		"a": deepBook("a", "BTCUSDT", "50100", "50000", "10", now),
		"b": deepBook("b", "BTCUSDT", "50400", "50300", "10", now),
		"c": deepBook("c", "BTCUSDT", "50250", "50150", "10", now),
	}

	run := func() []string {
		e := testEngine("0.1", map[string]string{"a": "0", "b": "0", "c": "0"})
		var keys []string
		for _, c := range e.ScanPair("BTCUSDT", tickers, books, now) {
			keys = append(keys, c.ComboKey())
		}
		return keys
	}

	first := run()
	second := run()

	if len(first) == 0 {
		t.Fatal("expected candidates in deterministic scan")
	}
	if len(first) != len(second) {
		t.Fatalf("runs differ: %d vs %d candidates", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("candidate %d differs: %s vs %s", i, first[i], second[i])
		}
	}
}

// Дедупликация: та же комбинация не поднимается повторно, пока
// предыдущая не истекла
func TestScanPairDeduplication(t *testing.T) {
	e := testEngine("0.1", map[string]string{"a": "0", "b": "0"})
	now := time.Now()

	tickers := map[string]*models.NormalizedTicker{
		"a": testTicker("a", "BTCUSDT", "50100", "50000", now),
		"b": testTicker("b", "BTCUSDT", "50400", "50300", now),
	}
	books := map[string]*models.NormalizedOrderBook{
		"a": deepBook("a", "BTCUSDT", "50100", "50000", "10", now),
		"b": deepBook("b", "BTCUSDT", "50400", "50300", "10", now),
	}

	first := e.ScanPair("BTCUSDT", tickers, books, now)
	if len(first) != 1 {
		t.Fatalf("first scan: got %d, want 1", len(first))
	}

	second := e.ScanPair("BTCUSDT", tickers, books, now.Add(time.Second))
	if len(second) != 0 {
		t.Errorf("second scan: got %d, want 0 (deduplicated)", len(second))
	}

	// После истечения TTL комбинация снова доступна
	third := e.ScanPair("BTCUSDT", tickers, books, now.Add(2*time.Minute))
	if len(third) != 1 {
		t.Errorf("scan after expiry: got %d, want 1", len(third))
	}

	// Release освобождает комбинацию немедленно
	e.Release(third[0].ComboKey())
	fourth := e.ScanPair("BTCUSDT", tickers, books, now.Add(2*time.Minute+time.Second))
	if len(fourth) != 1 {
		t.Errorf("scan after release: got %d, want 1", len(fourth))
	}
}

// Перекрещенные котировки не порождают возможность "внутри" одной биржи
func TestScanPairIgnoresZeroPrices(t *testing.T) {
	e := testEngine("0.1", map[string]string{"a": "0", "b": "0"})
	now := time.Now()

	tickers := map[string]*models.NormalizedTicker{
		"a": testTicker("a", "BTCUSDT", "50100", "0", now), // нет ask
		"b": testTicker("b", "BTCUSDT", "50400", "50300", now),
	}
	books := map[string]*models.NormalizedOrderBook{
		"b": deepBook("b", "BTCUSDT", "50400", "50300", "10", now),
	}

	// Покупка на a невозможна (ask = 0); продажа на a при покупке на
	// b убыточна. Возможностей нет
	if got := e.ScanPair("BTCUSDT", tickers, books, now); len(got) != 0 {
		t.Errorf("got %d candidates with zero ask, want 0", len(got))
	}
}
