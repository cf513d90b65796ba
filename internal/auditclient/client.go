// Пакет auditclient — HTTP-клиент приёмника аудит-событий.
// Отправляет события об отказах фильтрации и сбоях запросов fire-and-forget:
// ошибка доставки никогда не влияет на обработку пользовательского запроса.
package auditclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики отправки аудит-событий.
var auditEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rq_audit_events_total",
		Help: "Количество аудит-событий по результату отправки",
	},
	[]string{"outcome"},
)

// Event — аудит-событие сервиса запросов.
type Event struct {
	// ID — UUID события
	ID string `json:"id"`
	// Time — момент возникновения (UTC)
	Time time.Time `json:"time"`
	// Action — тип события (например, filter_rejected, query_failed)
	Action string `json:"action"`
	// Subject — идентификатор пользователя из JWT (sub)
	Subject string `json:"subject"`
	// Role — роль пользователя
	Role string `json:"role"`
	// Detail — произвольные детали события
	Detail map[string]any `json:"detail,omitempty"`
}

// Client — клиент приёмника аудит-событий.
// Пустой sinkURL переводит клиент в режим логирования: события
// пишутся только в журнал сервиса.
type Client struct {
	httpClient *http.Client
	sinkURL    string
	timeout    time.Duration
	logger     *slog.Logger
}

// New создаёт клиент аудита.
// sinkURL — базовый URL приёмника (пустая строка — только логирование).
// caCertPath — путь к CA-сертификату для TLS (пустая строка — стандартный пул).
func New(sinkURL, caCertPath string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	httpClient := &http.Client{Timeout: timeout}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата аудита: %w", err)
		}
		httpClient.Transport = &http.Transport{
			TLSClientConfig: tlsConfig,
		}
	}

	return &Client{
		httpClient: httpClient,
		sinkURL:    strings.TrimRight(sinkURL, "/"),
		timeout:    timeout,
		logger:     logger.With(slog.String("component", "audit_client")),
	}, nil
}

// Submit отправляет аудит-событие асинхронно.
// Возврат происходит немедленно; доставка идёт в отдельной горутине
// с собственным таймаутом, не привязанным к контексту запроса.
func (c *Client) Submit(action, subject, role string, detail map[string]any) {
	event := Event{
		ID:      uuid.New().String(),
		Time:    time.Now().UTC(),
		Action:  action,
		Subject: subject,
		Role:    role,
		Detail:  detail,
	}

	c.logger.Info("аудит-событие",
		slog.String("event_id", event.ID),
		slog.String("action", action),
		slog.String("subject", subject),
		slog.String("role", role),
	)

	if c.sinkURL == "" {
		auditEventsTotal.WithLabelValues("logged").Inc()
		return
	}

	go c.deliver(event)
}

// deliver выполняет доставку события в приёмник.
// POST /api/v1/audit-events
func (c *Client) deliver(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	body, err := json.Marshal(event)
	if err != nil {
		auditEventsTotal.WithLabelValues("error").Inc()
		c.logger.Error("сериализация аудит-события",
			slog.String("event_id", event.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	reqURL := c.sinkURL + "/api/v1/audit-events"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		auditEventsTotal.WithLabelValues("error").Inc()
		c.logger.Error("создание запроса аудита",
			slog.String("event_id", event.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		auditEventsTotal.WithLabelValues("error").Inc()
		c.logger.Warn("доставка аудит-события не удалась",
			slog.String("event_id", event.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		auditEventsTotal.WithLabelValues("rejected").Inc()
		c.logger.Warn("приёмник аудита отклонил событие",
			slog.String("event_id", event.ID),
			slog.Int("status", resp.StatusCode),
		)
		return
	}

	auditEventsTotal.WithLabelValues("delivered").Inc()
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA-сертификатом.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &tls.Config{
		RootCAs: caCertPool,
	}, nil
}
