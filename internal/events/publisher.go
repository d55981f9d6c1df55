// Package events публикует события жизненного цикла в Redis.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"crossarb/internal/models"
)

// Суффиксы каналов публикации
const (
	channelOpportunities = ":opportunities"
	channelExecutions    = ":executions"
	channelHealth        = ":health"
)

const publishTimeout = 2 * time.Second

// Publisher шлёт события обнаружения и исполнения во внешние
// подсистемы (уведомления, дашборды)
//
// Публикация неблокирующая и по принципу лучших усилий: недоступный
// Redis логируется и никогда не задерживает ядро
type Publisher struct {
	client *redis.Client
	prefix string
	log    *zap.Logger
}

// NewPublisher создаёт издатель событий
func NewPublisher(client *redis.Client, prefix string, log *zap.Logger) *Publisher {
	return &Publisher{
		client: client,
		prefix: prefix,
		log:    log.Named("events"),
	}
}

// event - конверт публикуемого события
type event struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// publish сериализует и шлёт событие, сбой только логируется
func (p *Publisher) publish(channel, eventType string, payload interface{}) {
	body, err := json.Marshal(event{
		Type:      eventType,
		Timestamp: time.Now(),
		Payload:   payload,
	})
	if err != nil {
		p.log.Warn("event marshal failed", zap.String("type", eventType), zap.Error(err))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		if err := p.client.Publish(ctx, p.prefix+channel, body).Err(); err != nil {
			p.log.Warn("event publish failed",
				zap.String("channel", p.prefix+channel),
				zap.String("type", eventType),
				zap.Error(err))
		}
	}()
}

// ============ Приёмник результатов сканера ============

// OnCandidate публикует обнаруженную возможность
func (p *Publisher) OnCandidate(c *models.ArbitrageCandidate) {
	p.publish(channelOpportunities, "candidate_detected", c)
}

// OnStrategy публикует обнаруженную стратегию
func (p *Publisher) OnStrategy(s *models.MultiExchangeStrategy) {
	p.publish(channelOpportunities, "strategy_detected", s)
}

// ============ Приёмник обновлений координатора ============

// ExecutionUpdated публикует переход исполнения
func (p *Publisher) ExecutionUpdated(e *models.Execution) {
	p.publish(channelExecutions, "execution_"+e.State, e)
}

// LegUpdated публикует переход ноги
func (p *Publisher) LegUpdated(l *models.ExecutionLeg) {
	p.publish(channelExecutions, "leg_"+l.State, l)
}

// ============ События здоровья ============

// HealthChanged публикует смену состояния биржи
func (p *Publisher) HealthChanged(h *models.ExchangeHealth) {
	p.publish(channelHealth, "exchange_"+h.State, h)
}
