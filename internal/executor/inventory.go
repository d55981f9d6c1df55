package executor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"crossarb/internal/models"
)

// Releaser освобождает комбинацию в реестре дедупликации детектора,
// когда возможность покидает статус detected
type Releaser interface {
	Release(comboKey string)
}

// Inventory - реестр активных возможностей между обнаружением
// и исполнением
//
// Реализует приёмник результатов сканера. Возможность живёт в реестре,
// пока её не заберёт координатор или не снимет зачистка истёкших.
// Перевод detected -> expired - чистая бухгалтерия, не ошибка.
type Inventory struct {
	mu         sync.Mutex
	candidates map[uuid.UUID]*models.ArbitrageCandidate
	strategies map[uuid.UUID]*models.MultiExchangeStrategy

	dedup Releaser
	log   *zap.Logger
}

// NewInventory создаёт реестр возможностей
func NewInventory(dedup Releaser, log *zap.Logger) *Inventory {
	return &Inventory{
		candidates: make(map[uuid.UUID]*models.ArbitrageCandidate),
		strategies: make(map[uuid.UUID]*models.MultiExchangeStrategy),
		dedup:      dedup,
		log:        log.Named("inventory"),
	}
}

// OnCandidate регистрирует обнаруженную возможность
func (inv *Inventory) OnCandidate(c *models.ArbitrageCandidate) {
	inv.mu.Lock()
	inv.candidates[c.ID] = c
	inv.mu.Unlock()
}

// OnStrategy регистрирует обнаруженную стратегию
func (inv *Inventory) OnStrategy(s *models.MultiExchangeStrategy) {
	inv.mu.Lock()
	inv.strategies[s.ID] = s
	inv.mu.Unlock()
}

// Candidates возвращает активные возможности, отсортированные по
// чистому профиту по убыванию
func (inv *Inventory) Candidates() []*models.ArbitrageCandidate {
	inv.mu.Lock()
	out := make([]*models.ArbitrageCandidate, 0, len(inv.candidates))
	for _, c := range inv.candidates {
		out = append(out, c)
	}
	inv.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].NetProfitPercentage.Equal(out[j].NetProfitPercentage) {
			return out[i].NetProfitPercentage.GreaterThan(out[j].NetProfitPercentage)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Strategies возвращает активные стратегии: сначала более простые
// (меньше ног - меньше риска), при равной сложности - более прибыльные
func (inv *Inventory) Strategies() []*models.MultiExchangeStrategy {
	inv.mu.Lock()
	out := make([]*models.MultiExchangeStrategy, 0, len(inv.strategies))
	for _, s := range inv.strategies {
		out = append(out, s)
	}
	inv.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ComplexityScore != out[j].ComplexityScore {
			return out[i].ComplexityScore < out[j].ComplexityScore
		}
		return out[i].ProfitPercentage.GreaterThan(out[j].ProfitPercentage)
	})
	return out
}

// TakeCandidate забирает возможность под исполнение.
// false - возможности нет (истекла или уже забрана)
func (inv *Inventory) TakeCandidate(id uuid.UUID) (*models.ArbitrageCandidate, bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	c, ok := inv.candidates[id]
	if !ok {
		return nil, false
	}
	delete(inv.candidates, id)
	c.Status = models.OpportunityExecuting
	return c, true
}

// TakeStrategy забирает стратегию под исполнение
func (inv *Inventory) TakeStrategy(id uuid.UUID) (*models.MultiExchangeStrategy, bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	s, ok := inv.strategies[id]
	if !ok {
		return nil, false
	}
	delete(inv.strategies, id)
	s.Status = models.OpportunityExecuting
	return s, true
}

// SweepExpired снимает с учёта просроченные возможности,
// возвращает число снятых
func (inv *Inventory) SweepExpired(now time.Time) int {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	removed := 0
	for id, c := range inv.candidates {
		if c.IsExpired(now) {
			c.Status = models.OpportunityExpired
			delete(inv.candidates, id)
			if inv.dedup != nil {
				inv.dedup.Release(c.ComboKey())
			}
			removed++
		}
	}
	for id, s := range inv.strategies {
		if s.IsExpired(now) {
			s.Status = models.OpportunityExpired
			delete(inv.strategies, id)
			if inv.dedup != nil {
				inv.dedup.Release(s.ComboKey())
			}
			removed++
		}
	}

	if removed > 0 {
		OpportunitiesExpired.Add(float64(removed))
		inv.log.Debug("expired opportunities swept", zap.Int("removed", removed))
	}
	return removed
}

// Run периодически запускает зачистку истёкших до отмены контекста
func (inv *Inventory) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			inv.SweepExpired(now)
		}
	}
}
