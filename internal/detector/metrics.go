package detector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============ Метрики движка обнаружения ============

// CandidatesDetected - обнаруженные возможности по парам и видам
var CandidatesDetected = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "crossarb",
		Subsystem: "detector",
		Name:      "candidates_total",
		Help:      "Total number of detected arbitrage candidates and strategies",
	},
	[]string{"pair", "kind"},
)

// CandidatesDeduplicated - возможности, отброшенные дедупликацией
var CandidatesDeduplicated = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "crossarb",
		Subsystem: "detector",
		Name:      "candidates_deduplicated_total",
		Help:      "Candidates suppressed because the same combination is still active",
	},
	[]string{"pair"},
)

// ScanDuration - длительность скана одной пары
var ScanDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "crossarb",
		Subsystem: "detector",
		Name:      "scan_duration_seconds",
		Help:      "Duration of a single pair scan",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	},
	[]string{"pair"},
)

// ScanErrors - ошибки сканирования (изолированы по парам)
var ScanErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "crossarb",
		Subsystem: "detector",
		Name:      "scan_errors_total",
		Help:      "Total number of per-pair scan failures",
	},
	[]string{"pair"},
)

// LiveExchanges - число живых бирж на последнем скане
var LiveExchanges = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "crossarb",
		Subsystem: "detector",
		Name:      "live_exchanges",
		Help:      "Number of exchanges considered live on the last scan",
	},
)

// DetectionLatency - возраст рыночных данных на момент обнаружения
var DetectionLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "crossarb",
		Subsystem: "detector",
		Name:      "detection_latency_seconds",
		Help:      "Age of the oldest market data snapshot used for a detected candidate",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	},
	[]string{"pair"},
)

// ExpirySweeps - возможности, переведённые в expired периметром
var ExpirySweeps = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "crossarb",
		Subsystem: "detector",
		Name:      "expired_total",
		Help:      "Candidates and strategies moved to expired by the sweep",
	},
)
