package repository

import (
	"sync"

	"go.uber.org/zap"

	"crossarb/internal/models"
)

// AsyncWriter - неблокирующая запись результатов обнаружения
// и исполнения
//
// С точки зрения ядра персистентность - fire-and-forget: сбой записи
// логируется и никогда не блокирует обнаружение или исполнение.
// Объекты снимаются копией в момент постановки: ядро продолжает
// мутировать оригинал, пока запись в очереди.
type AsyncWriter struct {
	candidates *CandidateRepository
	strategies *StrategyRepository
	executions *ExecutionRepository
	log        *zap.Logger

	jobs     chan func() error
	wg       sync.WaitGroup
	stopOnce sync.Once
}

const asyncQueueSize = 256

// NewAsyncWriter создает обёртку и запускает воркер записи
func NewAsyncWriter(candidates *CandidateRepository, strategies *StrategyRepository, executions *ExecutionRepository, log *zap.Logger) *AsyncWriter {
	w := &AsyncWriter{
		candidates: candidates,
		strategies: strategies,
		executions: executions,
		log:        log.Named("persistence"),
		jobs:       make(chan func() error, asyncQueueSize),
	}

	w.wg.Add(1)
	go w.worker()

	return w
}

func (w *AsyncWriter) worker() {
	defer w.wg.Done()
	for job := range w.jobs {
		if err := job(); err != nil {
			w.log.Warn("persistence write failed", zap.Error(err))
		}
	}
}

// submit ставит запись в очередь, при переполнении отбрасывает
func (w *AsyncWriter) submit(job func() error) {
	select {
	case w.jobs <- job:
	default:
		w.log.Warn("persistence queue full, write dropped")
	}
}

// Close дожидается записи всего поставленного в очередь
func (w *AsyncWriter) Close() {
	w.stopOnce.Do(func() {
		close(w.jobs)
	})
	w.wg.Wait()
}

// ============ Приёмник результатов сканера ============

// OnCandidate сохраняет обнаруженную возможность
func (w *AsyncWriter) OnCandidate(c *models.ArbitrageCandidate) {
	snapshot := *c
	w.submit(func() error {
		return w.candidates.Create(&snapshot)
	})
}

// OnStrategy сохраняет обнаруженную стратегию
func (w *AsyncWriter) OnStrategy(s *models.MultiExchangeStrategy) {
	snapshot := *s
	w.submit(func() error {
		return w.strategies.Create(&snapshot)
	})
}

// ============ Приёмник обновлений координатора ============

// ExecutionUpdated сохраняет состояние исполнения
func (w *AsyncWriter) ExecutionUpdated(e *models.Execution) {
	snapshot := *e
	snapshot.Legs = nil // ноги пишутся отдельными обновлениями
	w.submit(func() error {
		return w.executions.Upsert(&snapshot)
	})
}

// LegUpdated сохраняет состояние ноги
func (w *AsyncWriter) LegUpdated(l *models.ExecutionLeg) {
	snapshot := *l
	w.submit(func() error {
		return w.executions.UpsertLeg(&snapshot)
	})
}
