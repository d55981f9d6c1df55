package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"crossarb/internal/api"
	"crossarb/internal/config"
	"crossarb/internal/detector"
	"crossarb/internal/events"
	"crossarb/internal/exchange"
	"crossarb/internal/executor"
	"crossarb/internal/health"
	"crossarb/internal/marketdata"
	"crossarb/internal/models"
	"crossarb/internal/repository"
	"crossarb/pkg/ratelimit"
	"crossarb/pkg/utils"

	_ "github.com/lib/pq"

	"github.com/shopspring/decimal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := utils.InitLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ============ База данных и репозитории ============

	db, err := initDatabase(cfg)
	if err != nil {
		logger.Fatal("подключение к базе данных не удалось", zap.Error(err))
	}
	defer db.Close()

	candidateRepo := repository.NewCandidateRepository(db)
	strategyRepo := repository.NewStrategyRepository(db)
	executionRepo := repository.NewExecutionRepository(db)

	credentialRepo, err := repository.NewCredentialRepository(db, []byte(cfg.Security.EncryptionKey))
	if err != nil {
		logger.Fatal("инициализация хранилища ключей не удалась", zap.Error(err))
	}

	writer := repository.NewAsyncWriter(candidateRepo, strategyRepo, executionRepo, logger)
	defer writer.Close()

	// ============ Redis и публикация событий ============

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	publisher := events.NewPublisher(redisClient, cfg.Redis.ChannelPrefix, logger)

	// ============ Биржевые коннекторы ============

	limiters := ratelimit.NewRegistry(10, 20)
	connectors := make(map[string]exchange.Connector, len(cfg.Exchanges.Enabled))
	takerFees := make(map[string]decimal.Decimal, len(cfg.Exchanges.Enabled))

	for _, ex := range cfg.Exchanges.Enabled {
		limiters.Configure(ex.Name, ex.RateLimit, ex.Burst)

		creds := resolveCredentials(cfg, credentialRepo, ex, logger)
		conn, err := exchange.NewConnector(ex.Name, creds, limiters.Get(ex.Name), logger)
		if err != nil {
			logger.Fatal("создание коннектора не удалось",
				zap.String("exchange", ex.Name), zap.Error(err))
		}
		connectors[ex.Name] = conn
		takerFees[ex.Name] = ex.TakerFee
	}
	defer func() {
		for name, conn := range connectors {
			if err := conn.Close(); err != nil {
				logger.Warn("закрытие коннектора не удалось",
					zap.String("exchange", name), zap.Error(err))
			}
		}
		exchange.CloseGlobalClient()
	}()

	// ============ Рыночные данные и здоровье соединений ============

	cache := marketdata.NewCache(16)

	healthMgr := health.NewManager(health.Config{
		CheckInterval: cfg.Health.CheckInterval,
		StaleWindow:   cfg.Health.StaleWindow,
	}, cache, logger)

	streamCoverage := make(map[string]marketdata.StreamCoverage, len(connectors))
	for name, conn := range connectors {
		conn := conn
		if conn.SupportsStreaming() {
			healthMgr.Register(name, func() {
				subscribeStreams(conn, cfg.Exchanges.Pairs, cache, logger)
			})
			conn.SetHealthReporter(healthMgr)
			streamCoverage[name] = subscribeStreams(conn, cfg.Exchanges.Pairs, cache, logger)
		} else {
			// REST-биржи восстанавливает поллер, отдельный reconnect не нужен
			healthMgr.Register(name, nil)
		}
	}

	healthMgr.SetOnFailed(func(name string) {
		for _, h := range healthMgr.Snapshot() {
			if h.Exchange == name {
				h := h
				publisher.HealthChanged(&h)
				return
			}
		}
	})

	poller := marketdata.NewPoller(marketdata.PollerConfig{
		Interval: cfg.Detector.ScanInterval,
		Pairs:    cfg.Exchanges.Pairs,
		Depth:    cfg.Detector.OrderBookDepth,
		Coverage: streamCoverage,
	}, connectors, cache, healthMgr, logger)

	// ============ Детектор ============

	engine := detector.NewEngine(detector.Config{
		MinProfitPercentage:    cfg.Detector.MinProfitPercentage,
		MinProfitPerExchange:   cfg.Detector.MinProfitPerExchange,
		OpportunityTTL:         cfg.Detector.OpportunityTTL,
		MaxLegFraction:         cfg.Detector.MaxLegFraction,
		ComplexPoolFraction:    cfg.Detector.ComplexPoolFraction,
		ConservativeAllocation: cfg.Detector.ConservativeAllocation,
		TakerFees:              takerFees,
		AmountCaps:             cfg.Detector.AmountCaps,
	}, logger)

	inventory := executor.NewInventory(engine, logger)

	scanner := detector.NewScanner(detector.ScannerConfig{
		ScanInterval: cfg.Detector.ScanInterval,
		TickerMaxAge: cfg.Detector.TickerMaxAge,
		Concurrency:  cfg.Detector.ScanConcurrency,
		Pairs:        cfg.Exchanges.Pairs,
	}, engine, cache, healthMgr, sinkFanout{inventory, writer, publisher}, logger)

	// ============ Исполнение ============

	coordinator := executor.NewCoordinator(executor.Config{
		PriceTolerance:          cfg.Executor.PriceTolerance,
		ProfitRecheckFraction:   cfg.Executor.ProfitRecheckFraction,
		ExecutionTimeout:        cfg.Executor.ExecutionTimeout,
		OrderTimeout:            cfg.Executor.OrderTimeout,
		OrderPollInterval:       cfg.Executor.OrderPollInterval,
		MarketDataMaxAge:        cfg.Health.MarketDataMaxAge,
		MaxConcurrentExecutions: cfg.Executor.MaxConcurrentExecutions,
		CheckBalances:           cfg.Executor.CheckBalances,
		SimultaneousLegs:        cfg.Executor.SimultaneousLegs,
	}, connectors, cache, engine, recorderFanout{writer, publisher}, logger)

	// ============ HTTP API ============

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := api.NewServer(addr, healthMgr, inventory, scanner, logger)

	// ============ Запуск ============

	go healthMgr.Run(ctx)
	go poller.Run(ctx)
	go func() {
		if err := scanner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("сканер завершился с ошибкой", zap.Error(err))
		}
	}()
	go func() {
		if err := inventory.Run(ctx, cfg.Detector.OpportunityTTL/4); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("реестр возможностей завершился с ошибкой", zap.Error(err))
		}
	}()
	if cfg.Executor.AutoExecute {
		go runDispatcher(ctx, cfg.Executor.DispatchInterval, inventory, coordinator, logger)
	}
	go func() {
		logger.Info("HTTP сервер запускается", zap.String("addr", addr))
		if err := server.Start(); err != nil {
			logger.Error("HTTP сервер завершился с ошибкой", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("получен сигнал завершения, останавливаемся")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("принудительная остановка HTTP сервера", zap.Error(err))
	}

	logger.Info("остановка завершена")
}

// initDatabase создает подключение к базе данных с пулом соединений
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// resolveCredentials выбирает ключи биржи: активная запись пользователя
// из БД перекрывает переменные окружения
func resolveCredentials(cfg *config.Config, creds *repository.CredentialRepository, ex config.ExchangeConfig, logger *zap.Logger) exchange.Credentials {
	out := exchange.Credentials{APIKey: ex.APIKey, APISecret: ex.APISecret}
	if cfg.Security.CredentialUserID == 0 {
		return out
	}

	stored, err := creds.GetActive(cfg.Security.CredentialUserID, ex.Name)
	if err != nil {
		if !errors.Is(err, repository.ErrCredentialNotFound) {
			logger.Warn("чтение ключей из БД не удалось",
				zap.String("exchange", ex.Name), zap.Error(err))
		}
		return out
	}
	out.APIKey = stored.APIKey
	out.APISecret = stored.APISecret
	return out
}

// subscribeStreams подписывает кэш на потоковые данные биржи и
// сообщает, что удалось покрыть потоком: остальное добирает REST-поллер
func subscribeStreams(conn exchange.Connector, pairs []string, cache *marketdata.Cache, logger *zap.Logger) marketdata.StreamCoverage {
	cov := marketdata.StreamCoverage{Ticker: true, OrderBook: true}
	for _, pair := range pairs {
		if err := conn.SubscribeTicker(pair, cache.SetTicker); err != nil {
			if errors.Is(err, exchange.ErrStreamingUnsupported) {
				cov.Ticker = false
			} else {
				logger.Warn("подписка на тикер не удалась",
					zap.String("exchange", conn.Name()), zap.String("pair", pair), zap.Error(err))
			}
		}
		if err := conn.SubscribeOrderBook(pair, cache.SetOrderBook); err != nil {
			if errors.Is(err, exchange.ErrStreamingUnsupported) {
				cov.OrderBook = false
			} else {
				logger.Warn("подписка на стакан не удалась",
					zap.String("exchange", conn.Name()), zap.String("pair", pair), zap.Error(err))
			}
		}
	}
	return cov
}

// runDispatcher автоматически исполняет лучшие возможности из реестра.
// Кандидаты уже ранжированы по чистому профиту, стратегии - по
// простоте и профиту; за тик берётся одна возможность
func runDispatcher(ctx context.Context, interval time.Duration, inv *executor.Inventory, coord *executor.Coordinator, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dispatchBest(ctx, inv, coord, logger)
		}
	}
}

func dispatchBest(ctx context.Context, inv *executor.Inventory, coord *executor.Coordinator, logger *zap.Logger) {
	for _, c := range inv.Candidates() {
		cand, ok := inv.TakeCandidate(c.ID)
		if !ok {
			continue
		}
		go executeCandidate(ctx, coord, cand, logger)
		return
	}

	for _, s := range inv.Strategies() {
		strat, ok := inv.TakeStrategy(s.ID)
		if !ok {
			continue
		}
		go executeStrategy(ctx, coord, strat, logger)
		return
	}
}

func executeCandidate(ctx context.Context, coord *executor.Coordinator, cand *models.ArbitrageCandidate, logger *zap.Logger) {
	if _, err := coord.ExecuteCandidate(ctx, cand); err != nil {
		logger.Warn("исполнение возможности не удалось",
			zap.String("pair", cand.Pair), zap.Error(err))
	}
}

func executeStrategy(ctx context.Context, coord *executor.Coordinator, strat *models.MultiExchangeStrategy, logger *zap.Logger) {
	if _, err := coord.ExecuteStrategy(ctx, strat); err != nil {
		logger.Warn("исполнение стратегии не удалось",
			zap.String("pair", strat.Pair), zap.Error(err))
	}
}

// sinkFanout раздает обнаруженные возможности нескольким приемникам
type sinkFanout []detector.ResultSink

func (f sinkFanout) OnCandidate(c *models.ArbitrageCandidate) {
	for _, s := range f {
		s.OnCandidate(c)
	}
}

func (f sinkFanout) OnStrategy(s *models.MultiExchangeStrategy) {
	for _, sink := range f {
		sink.OnStrategy(s)
	}
}

// recorderFanout раздает обновления исполнения нескольким приемникам
type recorderFanout []executor.Recorder

func (f recorderFanout) ExecutionUpdated(e *models.Execution) {
	for _, r := range f {
		r.ExecutionUpdated(e)
	}
}

func (f recorderFanout) LegUpdated(l *models.ExecutionLeg) {
	for _, r := range f {
		r.LegUpdated(l)
	}
}
