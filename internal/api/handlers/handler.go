// handler.go — основной обработчик API сервиса запросов.
// Объединяет health и бизнес-обработчики, делегируя запросы в сервисный слой.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/truth0530/AEDpics-sub004/internal/domain/filter"
	"github.com/truth0530/AEDpics-sub004/internal/domain/scope"
	"github.com/truth0530/AEDpics-sub004/internal/service"
)

// DeviceQuerier — интерфейс сервиса запросов к реестру.
// Выделен для подмены в unit-тестах обработчиков.
type DeviceQuerier interface {
	// Query выполняет scoped-запрос к реестру.
	Query(ctx context.Context, caller scope.Caller, req filter.FilterSet) (*service.QueryResult, error)
	// GetByIdentity возвращает одно устройство по управленческому номеру.
	GetByIdentity(ctx context.Context, caller scope.Caller, managementNumber string) (*service.DeviceView, error)
}

// APIHandler — основной обработчик API сервиса запросов.
type APIHandler struct {
	health  *HealthHandler
	querier DeviceQuerier
	logger  *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	querier DeviceQuerier,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:  health,
		querier: querier,
		logger:  logger.With(slog.String("component", "api_handler")),
	}
}

// --- Health endpoints (делегируются в HealthHandler) ---

// HealthLive — liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
