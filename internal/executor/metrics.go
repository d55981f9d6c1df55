package executor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============ Метрики координатора исполнения ============

// ExecutionsTotal - завершённые исполнения по итоговому состоянию
var ExecutionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "crossarb",
		Subsystem: "executor",
		Name:      "executions_total",
		Help:      "Finished executions by terminal state",
	},
	[]string{"state"},
)

// ValidationFailures - отказы ревалидации по причинам
var ValidationFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "crossarb",
		Subsystem: "executor",
		Name:      "validation_failures_total",
		Help:      "Pre-trade validation failures by reason",
	},
	[]string{"reason"},
)

// LegsPlaced - размещённые ордера по биржам
var LegsPlaced = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "crossarb",
		Subsystem: "executor",
		Name:      "legs_placed_total",
		Help:      "Orders placed by exchange",
	},
	[]string{"exchange"},
)

// LegFailures - провалившиеся ноги по биржам
var LegFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "crossarb",
		Subsystem: "executor",
		Name:      "leg_failures_total",
		Help:      "Failed execution legs by exchange",
	},
	[]string{"exchange"},
)

// ExecutionDuration - длительность исполнения от валидации до терминала
var ExecutionDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "crossarb",
		Subsystem: "executor",
		Name:      "execution_duration_seconds",
		Help:      "Wall-clock duration of an execution",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
	},
)

// ActiveExecutions - исполнения в полёте
var ActiveExecutions = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "crossarb",
		Subsystem: "executor",
		Name:      "active_executions",
		Help:      "Executions currently in flight",
	},
)

// PartialFailures - исполнения, где часть ног исполнилась, а часть нет
var PartialFailures = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "crossarb",
		Subsystem: "executor",
		Name:      "partial_failures_total",
		Help:      "Executions where some legs filled and others failed",
	},
)

// OpportunitiesExpired - возможности, снятые с учёта по истечении TTL
var OpportunitiesExpired = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "crossarb",
		Subsystem: "executor",
		Name:      "opportunities_expired_total",
		Help:      "Tracked candidates and strategies expired by the sweep",
	},
)
