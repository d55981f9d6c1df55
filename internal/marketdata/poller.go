package marketdata

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"crossarb/internal/exchange"
	"crossarb/internal/models"
	"crossarb/pkg/retry"
)

// HealthReporter принимает результаты опроса бирж
type HealthReporter interface {
	MarkConnected(exchange string)
	MarkDisconnected(exchange string, err error)
}

// StreamCoverage отмечает, какие данные биржа отдаёт потоком.
// Не покрытое подписками добирается REST-опросом
type StreamCoverage struct {
	Ticker    bool
	OrderBook bool
}

func (c StreamCoverage) full() bool {
	return c.Ticker && c.OrderBook
}

// PollerConfig - настройки REST-опроса рыночных данных
type PollerConfig struct {
	// Интервал между циклами опроса
	Interval time.Duration
	// Опрашиваемые торговые пары
	Pairs []string
	// Глубина запрашиваемого стакана
	Depth int
	// Потоковое покрытие по биржам. Отсутствие записи означает,
	// что биржа не стримит ничего и опрашивается целиком
	Coverage map[string]StreamCoverage
}

// Poller добирает REST-опросом рыночные данные, которые не приходят
// потоковыми подписками: целиком для бирж без стриминга и поканально
// для бирж, стримящих только часть данных (например один стакан).
// Временные сбои сети сглаживаются экспоненциальным backoff с jitter,
// итог каждого цикла сообщается менеджеру здоровья
type Poller struct {
	config     PollerConfig
	connectors map[string]exchange.Connector
	cache      *Cache
	health     HealthReporter
	retryCfg   retry.Config
	log        *zap.Logger
}

// NewPoller создает поллер для заданного набора коннекторов.
// health может быть nil, тогда результаты опроса никуда не сообщаются
func NewPoller(config PollerConfig, connectors map[string]exchange.Connector, cache *Cache, health HealthReporter, log *zap.Logger) *Poller {
	if config.Interval <= 0 {
		config.Interval = 2 * time.Second
	}
	if config.Depth <= 0 {
		config.Depth = 20
	}

	rc := retry.DefaultConfig()
	rc.RetryIf = retryablePollError
	rc.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Debug("повтор запроса рыночных данных",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}

	return &Poller{
		config:     config,
		connectors: connectors,
		cache:      cache,
		health:     health,
		retryCfg:   rc,
		log:        log,
	}
}

// Отмену контекста не ретраим; ErrRateLimited ретраим - backoff как раз
// дает токенам лимитера восстановиться
func retryablePollError(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Run запускает цикл опроса до отмены контекста
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.pollAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollAll(ctx)
		}
	}
}

// pollAll опрашивает биржи параллельно, поканально пропуская данные,
// которые уже приходят подписками. Полностью стримящие биржи не трогаются
func (p *Poller) pollAll(ctx context.Context) {
	var wg sync.WaitGroup
	for name, conn := range p.connectors {
		cov := p.config.Coverage[name]
		if cov.full() {
			continue
		}
		wg.Add(1)
		go func(name string, conn exchange.Connector, cov StreamCoverage) {
			defer wg.Done()
			p.pollExchange(ctx, name, conn, cov)
		}(name, conn, cov)
	}
	wg.Wait()
}

func (p *Poller) pollExchange(ctx context.Context, name string, conn exchange.Connector, cov StreamCoverage) {
	var lastErr error

	for _, pair := range p.config.Pairs {
		if !cov.Ticker {
			ticker, err := retry.DoWithResult(ctx, func() (*models.NormalizedTicker, error) {
				return conn.GetTicker(ctx, pair)
			}, p.retryCfg)
			if err != nil {
				lastErr = err
				p.log.Warn("опрос тикера не удался",
					zap.String("exchange", name),
					zap.String("pair", pair),
					zap.Error(err))
				continue
			}
			p.cache.SetTicker(ticker)
		}

		if !cov.OrderBook {
			book, err := retry.DoWithResult(ctx, func() (*models.NormalizedOrderBook, error) {
				return conn.GetOrderBook(ctx, pair, p.config.Depth)
			}, p.retryCfg)
			if err != nil {
				lastErr = err
				p.log.Warn("опрос стакана не удался",
					zap.String("exchange", name),
					zap.String("pair", pair),
					zap.Error(err))
				continue
			}
			p.cache.SetOrderBook(book)
		}
	}

	if p.health == nil || ctx.Err() != nil {
		return
	}
	if lastErr != nil {
		p.health.MarkDisconnected(name, lastErr)
	} else {
		p.health.MarkConnected(name)
	}
}
