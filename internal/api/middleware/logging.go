// logging.go — middleware логирования запросов к реестру устройств.
// Перехватывает статус-код, размер ответа и длительность; после
// проверки токена запись дополняется идентичностью вызывающего.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/truth0530/AEDpics-sub004/internal/domain/scope"
)

// statusRecorder — обёртка для перехвата статус-кода ответа.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	n, err := rec.ResponseWriter.Write(b)
	rec.written += int64(n)
	return n, err
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}

// callerHolder — контейнер идентичности вызывающего в контексте запроса.
// Логирование стоит перед auth в цепочке middleware, поэтому идентичность
// попадает в запись через контейнер, заполняемый после проверки токена.
type callerHolder struct {
	caller *scope.Caller
}

const contextKeyCallerHolder contextKey = "callerHolder"

// AnnotateCaller привязывает идентичность вызывающего к записи лога
// текущего запроса. Вызывается auth-middleware после проверки токена.
func AnnotateCaller(ctx context.Context, caller *scope.Caller) {
	if holder, ok := ctx.Value(contextKeyCallerHolder).(*callerHolder); ok {
		holder.caller = caller
	}
}

// RequestLogger возвращает middleware, логирующий каждый запрос к API
// реестра: метод, путь, нормализованный маршрут, статус, длительность,
// размер ответа, remote_addr и — для аутентифицированных запросов —
// subject и роль вызывающего.
// Уровень логирования зависит от статус-кода: INFO (1xx-3xx), WARN (4xx), ERROR (5xx).
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	httpLogger := logger.With(slog.String("component", "http"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := newStatusRecorder(w)
			holder := &callerHolder{}
			ctx := context.WithValue(r.Context(), contextKeyCallerHolder, holder)

			next.ServeHTTP(rec, r.WithContext(ctx))

			duration := time.Since(start)

			// Уровень логирования зависит от статус-кода
			level := slog.LevelInfo
			if rec.statusCode >= 500 {
				level = slog.LevelError
			} else if rec.statusCode >= 400 {
				level = slog.LevelWarn
			}

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("route", normalizePath(r.URL.Path)),
				slog.Int("status", rec.statusCode),
				slog.Duration("duration", duration),
				slog.Int64("bytes", rec.written),
				slog.String("remote_addr", r.RemoteAddr),
			}
			if holder.caller != nil {
				attrs = append(attrs,
					slog.String("subject", holder.caller.Subject),
					slog.String("role", holder.caller.Role),
				)
			}

			httpLogger.LogAttrs(r.Context(), level, "запрос к реестру обработан", attrs...)
		})
	}
}
