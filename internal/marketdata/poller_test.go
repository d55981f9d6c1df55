package marketdata

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"crossarb/internal/exchange"
	"crossarb/internal/models"
)

// fakeConnector - минимальный коннектор для тестов поллера.
// failTickers задает количество первых вызовов GetTicker, завершающихся ошибкой
type fakeConnector struct {
	mu          sync.Mutex
	name        string
	streaming   bool
	failTickers int
	tickerCalls int
	bookCalls   int
}

func (f *fakeConnector) Name() string { return f.name }

func (f *fakeConnector) GetTicker(ctx context.Context, pair string) (*models.NormalizedTicker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickerCalls++
	if f.tickerCalls <= f.failTickers {
		return nil, errors.New("connection reset")
	}
	return &models.NormalizedTicker{
		Exchange:  f.name,
		Pair:      pair,
		BidPrice:  decimal.NewFromInt(50000),
		AskPrice:  decimal.NewFromInt(50100),
		LastPrice: decimal.NewFromInt(50000),
		Timestamp: time.Now(),
	}, nil
}

func (f *fakeConnector) GetOrderBook(ctx context.Context, pair string, depth int) (*models.NormalizedOrderBook, error) {
	f.mu.Lock()
	f.bookCalls++
	f.mu.Unlock()
	return &models.NormalizedOrderBook{
		Exchange: f.name,
		Pair:     pair,
		Bids: []models.OrderBookLevel{
			{Side: models.BookSideBid, Price: decimal.NewFromInt(50000), Quantity: decimal.NewFromInt(1)},
		},
		Asks: []models.OrderBookLevel{
			{Side: models.BookSideAsk, Price: decimal.NewFromInt(50100), Quantity: decimal.NewFromInt(1)},
		},
		Timestamp: time.Now(),
	}, nil
}

func (f *fakeConnector) GetBalances(ctx context.Context) (map[string]models.Balance, error) {
	return nil, nil
}

func (f *fakeConnector) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.Order, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeConnector) CancelOrder(ctx context.Context, orderID, pair string) error { return nil }

func (f *fakeConnector) GetOrderStatus(ctx context.Context, orderID, pair string) (*exchange.Order, error) {
	return nil, exchange.ErrOrderNotFound
}

func (f *fakeConnector) SupportsStreaming() bool { return f.streaming }

func (f *fakeConnector) SetHealthReporter(exchange.HealthReporter) {}

func (f *fakeConnector) SubscribeTicker(pair string, callback func(*models.NormalizedTicker)) error {
	return exchange.ErrStreamingUnsupported
}

func (f *fakeConnector) SubscribeOrderBook(pair string, callback func(*models.NormalizedOrderBook)) error {
	return exchange.ErrStreamingUnsupported
}

func (f *fakeConnector) Close() error { return nil }

// recordingHealth запоминает вызовы MarkConnected/MarkDisconnected
type recordingHealth struct {
	mu           sync.Mutex
	connected    []string
	disconnected []string
}

func (r *recordingHealth) MarkConnected(exchange string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = append(r.connected, exchange)
}

func (r *recordingHealth) MarkDisconnected(exchange string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected = append(r.disconnected, exchange)
}

func testPoller(connectors map[string]exchange.Connector, cache *Cache, health HealthReporter) *Poller {
	return testPollerWithCoverage(connectors, cache, health, nil)
}

func testPollerWithCoverage(connectors map[string]exchange.Connector, cache *Cache, health HealthReporter, coverage map[string]StreamCoverage) *Poller {
	return NewPoller(PollerConfig{
		Interval: time.Hour, // тесты дергают pollAll вручную
		Pairs:    []string{"BTCUSDT"},
		Depth:    5,
		Coverage: coverage,
	}, connectors, cache, health, zap.NewNop())
}

func TestPollerFeedsCache(t *testing.T) {
	cache := NewCache(4)
	health := &recordingHealth{}
	conn := &fakeConnector{name: "nobitex"}

	p := testPoller(map[string]exchange.Connector{"nobitex": conn}, cache, health)
	p.pollAll(context.Background())

	got, ok := cache.GetTicker("nobitex", "BTCUSDT")
	if !ok {
		t.Fatal("тикер не попал в кэш")
	}
	if got.BidPrice.String() != "50000" {
		t.Errorf("BidPrice = %s, want 50000", got.BidPrice)
	}
	if _, ok := cache.GetOrderBook("nobitex", "BTCUSDT"); !ok {
		t.Error("стакан не попал в кэш")
	}

	health.mu.Lock()
	defer health.mu.Unlock()
	if len(health.connected) != 1 || health.connected[0] != "nobitex" {
		t.Errorf("connected = %v, want [nobitex]", health.connected)
	}
	if len(health.disconnected) != 0 {
		t.Errorf("disconnected = %v, want empty", health.disconnected)
	}
}

func TestPollerRetriesTransientFailure(t *testing.T) {
	cache := NewCache(4)
	health := &recordingHealth{}
	// Первый вызов падает, retry должен добрать данные со второго
	conn := &fakeConnector{name: "nobitex", failTickers: 1}

	p := testPoller(map[string]exchange.Connector{"nobitex": conn}, cache, health)
	p.retryCfg.InitialDelay = time.Millisecond
	p.pollAll(context.Background())

	if _, ok := cache.GetTicker("nobitex", "BTCUSDT"); !ok {
		t.Fatal("тикер не попал в кэш после retry")
	}
	if conn.tickerCalls < 2 {
		t.Errorf("tickerCalls = %d, want >= 2", conn.tickerCalls)
	}
	health.mu.Lock()
	defer health.mu.Unlock()
	if len(health.connected) != 1 {
		t.Errorf("connected = %v, want [nobitex]", health.connected)
	}
}

func TestPollerReportsPersistentFailure(t *testing.T) {
	cache := NewCache(4)
	health := &recordingHealth{}
	conn := &fakeConnector{name: "nobitex", failTickers: 1000}

	p := testPoller(map[string]exchange.Connector{"nobitex": conn}, cache, health)
	p.retryCfg.InitialDelay = time.Millisecond
	p.retryCfg.MaxRetries = 2
	p.pollAll(context.Background())

	if _, ok := cache.GetTicker("nobitex", "BTCUSDT"); ok {
		t.Error("в кэше не должно быть данных при постоянных сбоях")
	}
	health.mu.Lock()
	defer health.mu.Unlock()
	if len(health.disconnected) != 1 || health.disconnected[0] != "nobitex" {
		t.Errorf("disconnected = %v, want [nobitex]", health.disconnected)
	}
}

func TestPollerSkipsFullyStreamedExchanges(t *testing.T) {
	cache := NewCache(4)
	conn := &fakeConnector{name: "wallex", streaming: true}

	p := testPollerWithCoverage(map[string]exchange.Connector{"wallex": conn}, cache, nil,
		map[string]StreamCoverage{"wallex": {Ticker: true, OrderBook: true}})
	p.pollAll(context.Background())

	if conn.tickerCalls != 0 || conn.bookCalls != 0 {
		t.Errorf("полностью стримящая биржа опрошена (ticker=%d, book=%d), want 0",
			conn.tickerCalls, conn.bookCalls)
	}
}

func TestPollerFillsTickerGapOfStreamingExchange(t *testing.T) {
	cache := NewCache(4)
	health := &recordingHealth{}
	// Биржа стримит только стакан, тикер обязан добираться опросом
	conn := &fakeConnector{name: "ramzinex", streaming: true}

	p := testPollerWithCoverage(map[string]exchange.Connector{"ramzinex": conn}, cache, health,
		map[string]StreamCoverage{"ramzinex": {OrderBook: true}})
	p.pollAll(context.Background())

	if _, ok := cache.GetTicker("ramzinex", "BTCUSDT"); !ok {
		t.Fatal("тикер частично стримящей биржи не попал в кэш")
	}
	if conn.bookCalls != 0 {
		t.Errorf("стакан опрошен %d раз, хотя приходит подпиской", conn.bookCalls)
	}
	health.mu.Lock()
	defer health.mu.Unlock()
	if len(health.connected) != 1 || health.connected[0] != "ramzinex" {
		t.Errorf("connected = %v, want [ramzinex]", health.connected)
	}
}
