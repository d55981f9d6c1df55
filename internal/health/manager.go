// Package health отслеживает живость подключений к биржам.
//
// Менеджер не управляет транспортом сам: коннекторы сообщают о
// подключениях и разрывах, кэш рыночных данных - о времени последних
// данных. Менеджер сверяет всё это раз в CheckInterval и при застое
// дёргает зарегистрированный reconnect-хук биржи.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"crossarb/internal/models"
)

// Максимум последовательных неудач до перевода биржи в FAILED
const maxConsecutiveFailures = 10

// DataSource сообщает время последних рыночных данных биржи
type DataSource interface {
	LastSeen(exchange string) time.Time
}

// Config - настройки менеджера соединений
type Config struct {
	// Период проверки живости
	CheckInterval time.Duration
	// Окно без данных, после которого соединение считается застойным
	StaleWindow time.Duration
}

// Manager - реестр состояний подключений всех бирж
//
// Состояния: CONNECTING -> CONNECTED -> STALE -> RECONNECTING ->
// CONNECTED либо FAILED после maxConsecutiveFailures подряд.
// Детектор перед каждым сканом спрашивает Live(): биржа без свежих
// данных исключается из пространства поиска, её застойные цены не
// порождают фантомных возможностей
type Manager struct {
	config Config
	source DataSource
	log    *zap.Logger

	states map[string]*models.ExchangeHealth
	mu     sync.RWMutex

	// Хуки принудительного переподключения по биржам
	reconnectFns map[string]func()

	// Хук отказа биржи: кэш должен сбросить её данные
	onFailed func(exchange string)

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewManager создаёт менеджер соединений
func NewManager(config Config, source DataSource, log *zap.Logger) *Manager {
	return &Manager{
		config:       config,
		source:       source,
		log:          log.Named("health"),
		states:       make(map[string]*models.ExchangeHealth),
		reconnectFns: make(map[string]func()),
		stopChan:     make(chan struct{}),
	}
}

// Register добавляет биржу под наблюдение в состоянии CONNECTING.
// reconnect вызывается при застое данных, может быть nil для бирж
// на чистом REST-поллинге (их «переподключение» - следующий опрос)
func (m *Manager) Register(exchange string, reconnect func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.states[exchange]; ok {
		return
	}
	m.states[exchange] = &models.ExchangeHealth{
		Exchange: exchange,
		State:    models.ConnConnecting,
	}
	if reconnect != nil {
		m.reconnectFns[exchange] = reconnect
	}
}

// SetOnFailed устанавливает хук отказа биржи
func (m *Manager) SetOnFailed(fn func(exchange string)) {
	m.mu.Lock()
	m.onFailed = fn
	m.mu.Unlock()
}

// MarkConnected фиксирует успешное подключение биржи.
// Сбрасывает счётчик последовательных неудач
func (m *Manager) MarkConnected(exchange string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.states[exchange]
	if !ok {
		return
	}

	if h.State == models.ConnReconnecting {
		h.ReconnectCount++
	}
	h.State = models.ConnConnected
	h.Connected = true
	h.ConsecutiveFailures = 0
	h.LastSeen = time.Now()

	m.log.Info("exchange connected", zap.String("exchange", exchange))
}

// MarkDisconnected фиксирует разрыв соединения биржи
func (m *Manager) MarkDisconnected(exchange string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.states[exchange]
	if !ok || h.State == models.ConnFailed {
		return
	}

	h.Connected = false
	h.State = models.ConnReconnecting
	h.ConsecutiveFailures++
	if err != nil {
		h.LastError = err.Error()
		h.LastErrorTime = time.Now()
	}

	if h.ConsecutiveFailures >= maxConsecutiveFailures {
		m.failLocked(h)
		return
	}

	m.log.Warn("exchange disconnected",
		zap.String("exchange", exchange),
		zap.Int("consecutive_failures", h.ConsecutiveFailures),
		zap.Error(err))
}

// failLocked переводит биржу в FAILED. Вызывается под mu
func (m *Manager) failLocked(h *models.ExchangeHealth) {
	h.State = models.ConnFailed
	h.Connected = false

	m.log.Error("exchange failed, excluded from scanning",
		zap.String("exchange", h.Exchange),
		zap.Int("consecutive_failures", h.ConsecutiveFailures),
		zap.String("last_error", h.LastError))

	if m.onFailed != nil {
		// Хук зовётся в отдельной горутине: он чистит кэш и не должен
		// делать это под мьютексом менеджера
		go m.onFailed(h.Exchange)
	}
}

// Live возвращает имена бирж, пригодных для сканирования:
// CONNECTED и с данными не старше maxAge
func (m *Manager) Live(maxAge time.Duration) []string {
	now := time.Now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	live := make([]string, 0, len(m.states))
	for name, h := range m.states {
		// LastSeen обновляется кэшем, state - коннектором
		snapshot := *h
		if ts := m.source.LastSeen(name); ts.After(snapshot.LastSeen) {
			snapshot.LastSeen = ts
		}
		if snapshot.IsLive(now, maxAge) {
			live = append(live, name)
		}
	}
	return live
}

// IsLive проверяет пригодность одной биржи
func (m *Manager) IsLive(exchange string, maxAge time.Duration) bool {
	now := time.Now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.states[exchange]
	if !ok {
		return false
	}
	snapshot := *h
	if ts := m.source.LastSeen(exchange); ts.After(snapshot.LastSeen) {
		snapshot.LastSeen = ts
	}
	return snapshot.IsLive(now, maxAge)
}

// Snapshot возвращает копии состояний всех бирж (для ops API)
func (m *Manager) Snapshot() []models.ExchangeHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]models.ExchangeHealth, 0, len(m.states))
	for name, h := range m.states {
		cp := *h
		if ts := m.source.LastSeen(name); ts.After(cp.LastSeen) {
			cp.LastSeen = ts
		}
		result = append(result, cp)
	}
	return result
}

// Run запускает периодическую проверку живости.
// Блокирует до отмены контекста или Stop()
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	m.log.Info("health manager started",
		zap.Duration("check_interval", m.config.CheckInterval),
		zap.Duration("stale_window", m.config.StaleWindow))

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.checkAll()
		}
	}
}

// checkAll сверяет время последних данных каждой биржи с окном застоя
func (m *Manager) checkAll() {
	now := time.Now()

	type staleExchange struct {
		name      string
		reconnect func()
	}
	var stale []staleExchange

	m.mu.Lock()
	for name, h := range m.states {
		if ts := m.source.LastSeen(name); ts.After(h.LastSeen) {
			h.LastSeen = ts
		}

		// Данные уже текут - подключение состоялось, даже если
		// коннектор не сообщил об этом явно
		if h.State == models.ConnConnecting && !h.LastSeen.IsZero() &&
			now.Sub(h.LastSeen) <= m.config.StaleWindow {
			h.State = models.ConnConnected
			h.Connected = true
		}

		if h.State != models.ConnConnected {
			continue
		}
		if h.LastSeen.IsZero() || now.Sub(h.LastSeen) <= m.config.StaleWindow {
			continue
		}

		// Транспорт жив, но данные не приходят: принудительное
		// переподключение
		h.State = models.ConnStale
		h.ConsecutiveFailures++

		m.log.Warn("exchange data stale, forcing reconnect",
			zap.String("exchange", name),
			zap.Time("last_seen", h.LastSeen),
			zap.Duration("stale_window", m.config.StaleWindow))

		if h.ConsecutiveFailures >= maxConsecutiveFailures {
			m.failLocked(h)
			continue
		}

		h.State = models.ConnReconnecting
		stale = append(stale, staleExchange{name: name, reconnect: m.reconnectFns[name]})
	}
	m.mu.Unlock()

	// Хуки зовутся вне мьютекса: переподключение может занять секунды
	for _, s := range stale {
		if s.reconnect != nil {
			s.reconnect()
		}
	}
}

// Stop останавливает цикл проверок
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
}
