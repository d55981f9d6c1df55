package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"crossarb/internal/exchange"
	"crossarb/internal/marketdata"
	"crossarb/internal/models"
)

// Config - настройки координатора исполнения
type Config struct {
	// Допуск движения цены с момента обнаружения, в процентах
	PriceTolerance decimal.Decimal
	// Минимальная сохранившаяся доля обнаруженного профита
	ProfitRecheckFraction decimal.Decimal
	// Жёсткая граница фазы Executing
	ExecutionTimeout time.Duration
	// Таймаут одного запроса размещения/отмены ордера
	OrderTimeout time.Duration
	// Интервал опроса статуса ордера
	OrderPollInterval time.Duration
	// Максимальный возраст рыночных данных при валидации
	MarketDataMaxAge time.Duration
	// Предел одновременных исполнений
	MaxConcurrentExecutions int
	// Проверять балансы перед размещением ордеров
	CheckBalances bool
	// Размещать ноги одновременно (false - последовательно)
	SimultaneousLegs bool
}

// Recorder принимает обновления исполнения для персистентности
// и событий. Вызывается синхронно, реализация не должна блокировать
type Recorder interface {
	ExecutionUpdated(e *models.Execution)
	LegUpdated(l *models.ExecutionLeg)
}

// noopRecorder - заглушка при отсутствии персистентности
type noopRecorder struct{}

func (noopRecorder) ExecutionUpdated(*models.Execution) {}
func (noopRecorder) LegUpdated(*models.ExecutionLeg)    {}

// Coordinator исполняет принятые возможности и стратегии
//
// Родительский state machine: Detected -> Validating -> Executing ->
// Completed | Failed | Cancelled. Переходы только вперёд, терминальные
// состояния не покидаются. Провал одного исполнения изолирован и
// никогда не роняет остальные.
type Coordinator struct {
	config     Config
	connectors map[string]exchange.Connector
	cache      *marketdata.Cache
	dedup      Releaser
	recorder   Recorder
	log        *zap.Logger

	slots chan struct{}
}

// NewCoordinator создаёт координатор исполнения.
// recorder может быть nil - тогда обновления никуда не пишутся
func NewCoordinator(config Config, connectors map[string]exchange.Connector, cache *marketdata.Cache, dedup Releaser, recorder Recorder, log *zap.Logger) *Coordinator {
	if config.MaxConcurrentExecutions < 1 {
		config.MaxConcurrentExecutions = 1
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Coordinator{
		config:     config,
		connectors: connectors,
		cache:      cache,
		dedup:      dedup,
		recorder:   recorder,
		log:        log.Named("executor"),
		slots:      make(chan struct{}, config.MaxConcurrentExecutions),
	}
}

// ============ Точки входа ============

// ExecuteCandidate исполняет простую парную возможность
//
// Возвращает исполнение в терминальном состоянии. Ошибка валидации
// означает отмену до размещения ордеров, не сбой.
func (c *Coordinator) ExecuteCandidate(ctx context.Context, cand *models.ArbitrageCandidate) (*models.Execution, error) {
	exec := &models.Execution{
		ID:          uuid.New(),
		CandidateID: &cand.ID,
		Pair:        cand.Pair,
		State:       models.ExecutionDetected,
		CreatedAt:   time.Now(),
	}
	exec.Legs = []*models.ExecutionLeg{
		newLeg(exec.ID, cand.BuyExchange, models.LegSideBuy, cand.OptimalAmount, cand.BuyPrice),
		newLeg(exec.ID, cand.SellExchange, models.LegSideSell, cand.OptimalAmount, cand.SellPrice),
	}

	validate := func(ctx context.Context, now time.Time) error {
		return c.validateCandidate(ctx, cand, now)
	}
	err := c.run(ctx, exec, cand.ComboKey(), cand.ExpiresAt, validate)
	syncOpportunityStatus(&cand.Status, exec)
	return exec, err
}

// ExecuteStrategy исполняет мультибиржевую стратегию
func (c *Coordinator) ExecuteStrategy(ctx context.Context, s *models.MultiExchangeStrategy) (*models.Execution, error) {
	exec := &models.Execution{
		ID:         uuid.New(),
		StrategyID: &s.ID,
		Pair:       s.Pair,
		State:      models.ExecutionDetected,
		CreatedAt:  time.Now(),
	}
	for _, a := range s.BuyActions {
		exec.Legs = append(exec.Legs, newLeg(exec.ID, a.Exchange, models.LegSideBuy, a.Amount, a.Price))
	}
	for _, a := range s.SellActions {
		exec.Legs = append(exec.Legs, newLeg(exec.ID, a.Exchange, models.LegSideSell, a.Amount, a.Price))
	}

	validate := func(ctx context.Context, now time.Time) error {
		return c.validateStrategy(ctx, s, now)
	}
	err := c.run(ctx, exec, s.ComboKey(), s.ExpiresAt, validate)
	syncOpportunityStatus(&s.Status, exec)
	return exec, err
}

func newLeg(executionID uuid.UUID, exchangeName, side string, amount, price decimal.Decimal) *models.ExecutionLeg {
	return &models.ExecutionLeg{
		ID:           uuid.New(),
		ExecutionID:  executionID,
		Exchange:     exchangeName,
		Side:         side,
		TargetAmount: amount,
		TargetPrice:  price,
		State:        models.LegPending,
	}
}

// syncOpportunityStatus отражает исход исполнения в статусе возможности
func syncOpportunityStatus(status *string, exec *models.Execution) {
	switch exec.State {
	case models.ExecutionCompleted:
		*status = models.OpportunityExecuted
	case models.ExecutionFailed, models.ExecutionCancelled:
		*status = models.OpportunityFailed
	}
}

// ============ Жизненный цикл исполнения ============

// run проводит исполнение через все состояния до терминального
func (c *Coordinator) run(ctx context.Context, exec *models.Execution, comboKey string, expiresAt time.Time, validate func(context.Context, time.Time) error) error {
	// Протухшая возможность не входит в Validating: отмена до
	// захвата слота и каких-либо проверок рынка
	if now := time.Now(); now.After(expiresAt) {
		err := &ValidationError{Reason: ReasonExpired,
			Detail: fmt.Sprintf("opportunity expired at %s", expiresAt.Format(time.RFC3339))}
		ValidationFailures.WithLabelValues(ReasonExpired).Inc()
		exec.State = models.ExecutionCancelled
		exec.ErrorMessage = err.Error()
		c.finish(exec, comboKey)
		return err
	}

	select {
	case c.slots <- struct{}{}:
	default:
		exec.State = models.ExecutionCancelled
		exec.ErrorMessage = ErrExecutorBusy.Error()
		c.finish(exec, comboKey)
		return ErrExecutorBusy
	}
	defer func() { <-c.slots }()

	ActiveExecutions.Inc()
	defer ActiveExecutions.Dec()
	started := time.Now()
	defer func() { ExecutionDuration.Observe(time.Since(started).Seconds()) }()

	c.recorder.ExecutionUpdated(exec)

	// Валидация: любое нарушение отменяет исполнение до ордеров
	exec.State = models.ExecutionValidating
	c.recorder.ExecutionUpdated(exec)

	if err := validate(ctx, time.Now()); err != nil {
		if ve, ok := err.(*ValidationError); ok {
			ValidationFailures.WithLabelValues(ve.Reason).Inc()
		}
		exec.State = models.ExecutionCancelled
		exec.ErrorMessage = err.Error()
		c.finish(exec, comboKey)
		c.log.Info("execution cancelled by validation",
			zap.String("execution_id", exec.ID.String()),
			zap.String("pair", exec.Pair),
			zap.Error(err))
		return err
	}

	// Исполнение под жёстким дедлайном
	now := time.Now()
	exec.State = models.ExecutionExecuting
	exec.StartedAt = &now
	exec.Deadline = now.Add(c.config.ExecutionTimeout)
	c.recorder.ExecutionUpdated(exec)

	execCtx, cancel := context.WithDeadline(ctx, exec.Deadline)
	defer cancel()

	legErr := c.runLegs(execCtx, exec)
	if legErr != nil {
		// По дедлайну висящие размещения не ждутся: отмена лучших
		// усилий, затем сверка фактических исполнений с биржами
		c.cancelOpenLegs(exec)
		c.reconcileLegs(exec)
	}

	c.settle(exec, legErr)
	c.finish(exec, comboKey)

	c.log.Info("execution finished",
		zap.String("execution_id", exec.ID.String()),
		zap.String("pair", exec.Pair),
		zap.String("state", exec.State),
		zap.Bool("partial_failure", exec.PartialFailure),
		zap.String("final_profit", exec.FinalProfit.String()))

	if exec.PartialFailure {
		return fmt.Errorf("%w: %v", ErrPartialExecution, legErr)
	}
	return legErr
}

// runLegs размещает и отслеживает все ноги
func (c *Coordinator) runLegs(ctx context.Context, exec *models.Execution) error {
	if !c.config.SimultaneousLegs {
		for _, leg := range exec.Legs {
			if err := c.runLeg(ctx, exec.Pair, leg); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, leg := range exec.Legs {
		leg := leg
		g.Go(func() error {
			return c.runLeg(gctx, exec.Pair, leg)
		})
	}
	return g.Wait()
}

// runLeg проводит одну ногу от размещения до терминального состояния
//
// Состояния ноги двигаются только вперёд: Pending -> Placed ->
// PartiallyFilled -> Filled, либо в Failed/Cancelled
func (c *Coordinator) runLeg(ctx context.Context, pair string, leg *models.ExecutionLeg) error {
	conn, ok := c.connectors[leg.Exchange]
	if !ok {
		c.failLeg(leg, fmt.Sprintf("no connector for %s", leg.Exchange))
		return fmt.Errorf("no connector for %s", leg.Exchange)
	}

	placeCtx, cancel := context.WithTimeout(ctx, c.config.OrderTimeout)
	order, err := conn.PlaceOrder(placeCtx, exchange.OrderRequest{
		Pair:   pair,
		Side:   legOrderSide(leg.Side),
		Type:   exchange.OrderTypeLimit,
		Amount: leg.TargetAmount,
		Price:  leg.TargetPrice,
	})
	cancel()
	if err != nil {
		c.failLeg(leg, err.Error())
		return fmt.Errorf("place order on %s: %w", leg.Exchange, err)
	}

	now := time.Now()
	leg.OrderID = order.ID
	leg.State = models.LegPlaced
	leg.PlacedAt = &now
	LegsPlaced.WithLabelValues(leg.Exchange).Inc()
	c.recorder.LegUpdated(leg)

	return c.trackLeg(ctx, conn, pair, leg)
}

// trackLeg опрашивает биржу до терминального состояния ордера
func (c *Coordinator) trackLeg(ctx context.Context, conn exchange.Connector, pair string, leg *models.ExecutionLeg) error {
	ticker := time.NewTicker(c.config.OrderPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		pollCtx, cancel := context.WithTimeout(ctx, c.config.OrderTimeout)
		order, err := conn.GetOrderStatus(pollCtx, leg.OrderID, pair)
		cancel()
		if err != nil {
			// Разовый сбой опроса не провал ноги: ордер на бирже жив
			c.log.Warn("order status poll failed",
				zap.String("exchange", leg.Exchange),
				zap.String("order_id", leg.OrderID),
				zap.Error(err))
			continue
		}

		c.applyOrderState(leg, order)

		switch order.Status {
		case exchange.OrderStatusFilled:
			now := time.Now()
			leg.State = models.LegFilled
			leg.CompletedAt = &now
			c.recorder.LegUpdated(leg)
			return nil
		case exchange.OrderStatusCancelled, exchange.OrderStatusRejected:
			c.failLeg(leg, fmt.Sprintf("order %s on exchange", order.Status))
			return fmt.Errorf("order %s on %s: %s", leg.OrderID, leg.Exchange, order.Status)
		}
	}
}

// applyOrderState переносит подтверждённое биржей состояние в ногу
func (c *Coordinator) applyOrderState(leg *models.ExecutionLeg, order *exchange.Order) {
	changed := !leg.FilledAmount.Equal(order.FilledAmount)
	leg.FilledAmount = order.FilledAmount
	if order.AvgFillPrice.IsPositive() {
		leg.AvgFillPrice = order.AvgFillPrice
	}
	if order.Fee.IsPositive() {
		leg.FeePaid = order.Fee
	}

	if leg.State == models.LegPlaced && leg.FilledAmount.IsPositive() && leg.FilledAmount.LessThan(leg.TargetAmount) {
		leg.State = models.LegPartiallyFilled
		changed = true
	}
	if changed {
		c.recorder.LegUpdated(leg)
	}
}

func (c *Coordinator) failLeg(leg *models.ExecutionLeg, msg string) {
	now := time.Now()
	leg.State = models.LegFailed
	leg.ErrorMessage = msg
	leg.CompletedAt = &now
	LegFailures.WithLabelValues(leg.Exchange).Inc()
	c.recorder.LegUpdated(leg)
}

// cancelOpenLegs отменяет незавершённые ноги лучшими усилиями
//
// Родительский контекст к этому моменту обычно истёк, поэтому отмена
// идёт на свежем контексте с собственным таймаутом
func (c *Coordinator) cancelOpenLegs(exec *models.Execution) {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.OrderTimeout)
	defer cancel()

	for _, leg := range exec.Legs {
		if leg.IsTerminal() || leg.OrderID == "" {
			continue
		}
		conn, ok := c.connectors[leg.Exchange]
		if !ok {
			continue
		}
		if err := conn.CancelOrder(ctx, leg.OrderID, exec.Pair); err != nil {
			c.log.Warn("best-effort cancel failed",
				zap.String("exchange", leg.Exchange),
				zap.String("order_id", leg.OrderID),
				zap.Error(err))
		}
	}
}

// reconcileLegs сверяет фактические исполнения с биржами
//
// Отмена - запрос, а не гарантия: биржа может успеть исполнить
// "отменённый" ордер. Итоговые объёмы берутся только из
// подтверждённого биржей состояния
func (c *Coordinator) reconcileLegs(exec *models.Execution) {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.OrderTimeout)
	defer cancel()

	for _, leg := range exec.Legs {
		if leg.IsTerminal() || leg.OrderID == "" {
			continue
		}
		conn, ok := c.connectors[leg.Exchange]
		if !ok {
			continue
		}

		order, err := conn.GetOrderStatus(ctx, leg.OrderID, exec.Pair)
		now := time.Now()
		if err != nil {
			// Сверка не удалась: фиксируем то, что знаем
			leg.State = models.LegFailed
			leg.ErrorMessage = fmt.Sprintf("reconciliation failed: %v", err)
			leg.CompletedAt = &now
			c.recorder.LegUpdated(leg)
			continue
		}

		c.applyOrderState(leg, order)
		if order.Status == exchange.OrderStatusFilled {
			leg.State = models.LegFilled
		} else {
			leg.State = models.LegCancelled
		}
		leg.CompletedAt = &now
		c.recorder.LegUpdated(leg)
	}
}

// settle выводит терминальное состояние исполнения из состояний ног
func (c *Coordinator) settle(exec *models.Execution, legErr error) {
	allFilled := true
	anyFilled := false
	for _, leg := range exec.Legs {
		if leg.State != models.LegFilled {
			allFilled = false
		}
		if leg.FilledAmount.IsPositive() {
			anyFilled = true
		}
	}

	now := time.Now()
	exec.CompletedAt = &now
	exec.CalculateFinalProfit()

	switch {
	case allFilled:
		exec.State = models.ExecutionCompleted
	default:
		exec.State = models.ExecutionFailed
		if legErr != nil {
			exec.ErrorMessage = legErr.Error()
		}
		// Часть ног исполнилась: требуется сверка, это не чистый провал
		if anyFilled {
			exec.PartialFailure = true
			PartialFailures.Inc()
		}
	}
}

// finish фиксирует терминальное состояние и освобождает дедупликацию
func (c *Coordinator) finish(exec *models.Execution, comboKey string) {
	ExecutionsTotal.WithLabelValues(exec.State).Inc()
	c.recorder.ExecutionUpdated(exec)
	if c.dedup != nil && comboKey != "" {
		c.dedup.Release(comboKey)
	}
}

func legOrderSide(side string) string {
	if side == models.LegSideBuy {
		return exchange.SideBuy
	}
	return exchange.SideSell
}

