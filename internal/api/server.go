// Package api предоставляет операционный HTTP-интерфейс ядра:
// состояние бирж, активные возможности, ручной запуск скана, метрики.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"crossarb/internal/models"
)

// HealthSource отдаёт снимок состояния подключений бирж
type HealthSource interface {
	Snapshot() []models.ExchangeHealth
}

// OpportunitySource отдаёт активные возможности и стратегии
type OpportunitySource interface {
	Candidates() []*models.ArbitrageCandidate
	Strategies() []*models.MultiExchangeStrategy
}

// ScanTrigger запускает внеочередной проход сканера
type ScanTrigger interface {
	ScanOnce(ctx context.Context)
}

// Server - операционный HTTP-сервер
type Server struct {
	health        HealthSource
	opportunities OpportunitySource
	scanner       ScanTrigger
	log           *zap.Logger

	httpServer *http.Server
}

// NewServer создаёт сервер на указанном адресе
func NewServer(addr string, health HealthSource, opportunities OpportunitySource, scanner ScanTrigger, log *zap.Logger) *Server {
	s := &Server{
		health:        health,
		opportunities: opportunities,
		scanner:       scanner,
		log:           log.Named("api"),
	}

	router := mux.NewRouter()
	router.Use(recoveryMiddleware(s.log))
	router.Use(loggingMiddleware(s.log))

	router.HandleFunc("/api/health", s.handleHealth).Methods("GET")
	router.HandleFunc("/api/opportunities", s.handleOpportunities).Methods("GET")
	router.HandleFunc("/api/strategies", s.handleStrategies).Methods("GET")
	router.HandleFunc("/api/scan", s.handleScan).Methods("POST")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// Start запускает сервер, блокирует до остановки
func (s *Server) Start() error {
	s.log.Info("ops API listening", zap.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown останавливает сервер, дожидаясь активных запросов
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler возвращает корневой обработчик (для тестов)
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ============ Обработчики ============

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snapshot := s.health.Snapshot()

	healthy := len(snapshot) > 0
	for _, h := range snapshot {
		if h.State == models.ConnFailed {
			healthy = false
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"healthy":   healthy,
		"exchanges": snapshot,
	})
}

func (s *Server) handleOpportunities(w http.ResponseWriter, r *http.Request) {
	candidates := s.opportunities.Candidates()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":      len(candidates),
		"candidates": candidates,
	})
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	strategies := s.opportunities.Strategies()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":      len(strategies),
		"strategies": strategies,
	})
}

// handleScan запускает скан синхронно и отвечает по завершении
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	s.scanner.ScanOnce(ctx)
	writeJSON(w, http.StatusOK, map[string]string{"status": "scan completed"})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
