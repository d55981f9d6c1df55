package detector

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"crossarb/internal/marketdata"
	"crossarb/internal/models"
)

type fakeLiveness struct {
	exchanges []string
}

func (f *fakeLiveness) Live(time.Duration) []string { return f.exchanges }

type recordingSink struct {
	mu         sync.Mutex
	candidates []*models.ArbitrageCandidate
	strategies []*models.MultiExchangeStrategy
}

func (r *recordingSink) OnCandidate(c *models.ArbitrageCandidate) {
	r.mu.Lock()
	r.candidates = append(r.candidates, c)
	r.mu.Unlock()
}

func (r *recordingSink) OnStrategy(s *models.MultiExchangeStrategy) {
	r.mu.Lock()
	r.strategies = append(r.strategies, s)
	r.mu.Unlock()
}

func (r *recordingSink) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.candidates), len(r.strategies)
}

func newTestScanner(live []string, pairs []string) (*Scanner, *marketdata.Cache, *recordingSink) {
	engine := testEngine("0.5", zeroFees("a", "b", "c"))
	cache := marketdata.NewCache(4)
	sink := &recordingSink{}
	scanner := NewScanner(ScannerConfig{
		ScanInterval: time.Minute,
		TickerMaxAge: 30 * time.Second,
		Concurrency:  2,
		Pairs:        pairs,
	}, engine, cache, &fakeLiveness{exchanges: live}, sink, zap.NewNop())
	return scanner, cache, sink
}

func TestScanOnceFindsCandidates(t *testing.T) {
	scanner, cache, sink := newTestScanner([]string{"a", "b"}, []string{"BTCUSDT", "ETHUSDT"})
	now := time.Now()

	cache.SetTicker(testTicker("a", "BTCUSDT", "50100", "50000", now))
	cache.SetTicker(testTicker("b", "BTCUSDT", "50400", "50300", now))
	cache.SetOrderBook(deepBook("a", "BTCUSDT", "50100", "50000", "10", now))
	cache.SetOrderBook(deepBook("b", "BTCUSDT", "50400", "50300", "10", now))

	scanner.ScanOnce(context.Background())

	candidates, strategies := sink.counts()
	if candidates != 1 {
		t.Errorf("got %d candidates, want 1", candidates)
	}
	// На двух биржах complex не строится
	if strategies != 2 {
		t.Errorf("got %d strategies, want 2", strategies)
	}
}

// Меньше двух живых бирж - тихий пропуск скана
func TestScanOnceRequiresTwoLiveExchanges(t *testing.T) {
	scanner, cache, sink := newTestScanner([]string{"a"}, []string{"BTCUSDT"})
	now := time.Now()

	cache.SetTicker(testTicker("a", "BTCUSDT", "50100", "50000", now))
	cache.SetTicker(testTicker("b", "BTCUSDT", "50400", "50300", now))

	scanner.ScanOnce(context.Background())

	candidates, strategies := sink.counts()
	if candidates != 0 || strategies != 0 {
		t.Errorf("got %d candidates / %d strategies, want none", candidates, strategies)
	}
}

// Свежий кэш не спасает биржу, выпавшую из liveness
func TestScanOnceExcludesDeadExchange(t *testing.T) {
	scanner, cache, sink := newTestScanner([]string{"a", "c"}, []string{"BTCUSDT"})
	now := time.Now()

	// b в кэше свежая, но health её исключил
	cache.SetTicker(testTicker("a", "BTCUSDT", "50100", "50000", now))
	cache.SetTicker(testTicker("b", "BTCUSDT", "60000", "50300", now))
	cache.SetTicker(testTicker("c", "BTCUSDT", "50400", "50300", now))
	cache.SetOrderBook(deepBook("a", "BTCUSDT", "50100", "50000", "10", now))
	cache.SetOrderBook(deepBook("b", "BTCUSDT", "60000", "50300", "10", now))
	cache.SetOrderBook(deepBook("c", "BTCUSDT", "50400", "50300", "10", now))

	scanner.ScanOnce(context.Background())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	for _, c := range sink.candidates {
		if c.BuyExchange == "b" || c.SellExchange == "b" {
			t.Errorf("candidate references excluded exchange: %s -> %s", c.BuyExchange, c.SellExchange)
		}
	}
	for _, s := range sink.strategies {
		for _, name := range s.Exchanges() {
			if name == "b" {
				t.Errorf("strategy %s references excluded exchange", s.StrategyType)
			}
		}
	}
	if len(sink.candidates) != 1 {
		t.Errorf("got %d candidates, want 1 (a -> c)", len(sink.candidates))
	}
}

// Протухшие данные не участвуют в скане
func TestScanOnceSkipsStaleData(t *testing.T) {
	scanner, cache, sink := newTestScanner([]string{"a", "b"}, []string{"BTCUSDT"})
	now := time.Now()

	cache.SetTicker(testTicker("a", "BTCUSDT", "50100", "50000", now.Add(-time.Minute)))
	cache.SetTicker(testTicker("b", "BTCUSDT", "50400", "50300", now))

	scanner.ScanOnce(context.Background())

	candidates, _ := sink.counts()
	if candidates != 0 {
		t.Errorf("got %d candidates from stale data, want 0", candidates)
	}
}
