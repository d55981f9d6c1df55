package detector

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"crossarb/internal/marketdata"
	"crossarb/internal/models"
)

// Liveness сообщает, какие биржи пригодны для сканирования
type Liveness interface {
	Live(maxAge time.Duration) []string
}

// ResultSink принимает обнаруженные возможности.
// Вызывается синхронно из скана, реализация не должна блокировать
type ResultSink interface {
	OnCandidate(c *models.ArbitrageCandidate)
	OnStrategy(s *models.MultiExchangeStrategy)
}

// ScannerConfig - настройки цикла сканирования
type ScannerConfig struct {
	// Интервал между сканами
	ScanInterval time.Duration
	// Максимальный возраст рыночных данных
	TickerMaxAge time.Duration
	// Параллелизм по парам
	Concurrency int
	// Торгуемые пары
	Pairs []string
}

// Scanner периодически запускает движок по всем парам
//
// Пары сканируются параллельно с ограничением Concurrency. Паника
// или пустой результат одной пары не влияет на остальные: единица
// изоляции отказа - скан одной пары
type Scanner struct {
	config   ScannerConfig
	engine   *Engine
	cache    *marketdata.Cache
	liveness Liveness
	sink     ResultSink
	log      *zap.Logger
}

// NewScanner создаёт сканер
func NewScanner(config ScannerConfig, engine *Engine, cache *marketdata.Cache, liveness Liveness, sink ResultSink, log *zap.Logger) *Scanner {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	return &Scanner{
		config:   config,
		engine:   engine,
		cache:    cache,
		liveness: liveness,
		sink:     sink,
		log:      log.Named("scanner"),
	}
}

// Run запускает периодическое сканирование до отмены контекста
func (s *Scanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.ScanInterval)
	defer ticker.Stop()

	s.log.Info("scanner started",
		zap.Duration("scan_interval", s.config.ScanInterval),
		zap.Int("concurrency", s.config.Concurrency),
		zap.Strings("pairs", s.config.Pairs))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.ScanOnce(ctx)
			s.engine.SweepDedup(time.Now())
		}
	}
}

// ScanOnce выполняет один проход по всем парам
func (s *Scanner) ScanOnce(ctx context.Context) {
	live := s.liveness.Live(s.config.TickerMaxAge)
	LiveExchanges.Set(float64(len(live)))

	if len(live) < 2 {
		// Меньше двух живых бирж - штатная ситуация, не ошибка
		return
	}

	liveSet := make(map[string]struct{}, len(live))
	for _, name := range live {
		liveSet[name] = struct{}{}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)

	for _, pair := range s.config.Pairs {
		pair := pair
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			default:
			}
			s.scanPair(pair, liveSet)
			return nil
		})
	}

	// Ошибки пары не всплывают в группу, Wait только ждёт завершения
	_ = g.Wait()
}

// scanPair сканирует одну пару, изолируя любой сбой
func (s *Scanner) scanPair(pair string, liveSet map[string]struct{}) {
	defer func() {
		if r := recover(); r != nil {
			ScanErrors.WithLabelValues(pair).Inc()
			s.log.Error("pair scan panicked",
				zap.String("pair", pair),
				zap.Any("panic", r))
		}
	}()

	now := time.Now()

	tickers := s.cache.FreshTickers(pair, s.config.TickerMaxAge, now)
	books := s.cache.FreshOrderBooks(pair, s.config.TickerMaxAge, now)

	// Биржи, выпавшие из liveness, исключаются даже при свежем кэше:
	// состояние здоровья - единственный источник истины
	for name := range tickers {
		if _, ok := liveSet[name]; !ok {
			delete(tickers, name)
			delete(books, name)
		}
	}

	if len(tickers) < 2 {
		return
	}

	for _, c := range s.engine.ScanPair(pair, tickers, books, now) {
		s.sink.OnCandidate(c)
	}
	for _, st := range s.engine.BuildStrategies(pair, tickers, books, now) {
		s.sink.OnStrategy(st)
	}
}
