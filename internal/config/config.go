// Пакет config — загрузка и валидация конфигурации сервиса запросов
// из переменных окружения (префикс RQ_).
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации сервиса запросов.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	// Таймаут чтения HTTP-сервера
	HTTPReadTimeout time.Duration
	// Таймаут записи HTTP-сервера
	HTTPWriteTimeout time.Duration
	// Таймаут простоя HTTP-сервера
	HTTPIdleTimeout time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown
	ShutdownTimeout time.Duration

	// --- PostgreSQL ---

	// Хост PostgreSQL (обязательный)
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Пользователь
	DBUser string
	// Пароль (обязательный)
	DBPassword string
	// Режим SSL (disable, require, verify-full)
	DBSSLMode string
	// Таймаут выполнения запроса (statement_timeout на стороне БД)
	DBQueryTimeout time.Duration

	// --- SSO / JWT ---

	// URL JWKS endpoint государственного SSO (обязательный)
	JWKSURL string
	// Ожидаемый issuer JWT (пустой — не проверяется)
	JWTIssuer string
	// Путь к CA-сертификату для TLS к SSO (опционально)
	CACertPath string
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration

	// --- Домен ---

	// Сервисная таймзона для перевода bucket-фильтров (IANA имя)
	Timezone *time.Location

	// --- Кэш каталога фильтров ---

	// Максимальное количество записей LRU-кэша каталога
	CatalogCacheSize int
	// TTL записи кэша каталога
	CatalogCacheTTL time.Duration

	// --- Audit sink ---

	// URL приёмника аудит-событий (пустой — аудит только в логи)
	AuditURL string
	// Таймаут отправки аудит-события
	AuditTimeout time.Duration

	// --- Dephealth (topologymetrics) ---

	// Имя группы в метриках dephealth
	DephealthGroup string
	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration
	// Пометка entry-вершины графа зависимостей
	DephealthIsEntry bool
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
//
//nolint:cyclop // последовательная загрузка параметров
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// RQ_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("RQ_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("RQ_PORT: %w", err)
	}

	// RQ_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("RQ_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("RQ_LOG_LEVEL: %w", err)
	}

	// RQ_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("RQ_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("RQ_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("RQ_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("RQ_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("RQ_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("RQ_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("RQ_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("RQ_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// RQ_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("RQ_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("RQ_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	cfg.DBHost, err = getEnvRequired("RQ_DB_HOST")
	if err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("RQ_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("RQ_DB_PORT: %w", err)
	}
	cfg.DBName = getEnvDefault("RQ_DB_NAME", "aedpics")
	cfg.DBUser = getEnvDefault("RQ_DB_USER", "aedpics")
	cfg.DBPassword, err = getEnvRequired("RQ_DB_PASSWORD")
	if err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("RQ_DB_SSL_MODE", "disable")
	cfg.DBQueryTimeout, err = getEnvDuration("RQ_DB_QUERY_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("RQ_DB_QUERY_TIMEOUT: %w", err)
	}

	// --- SSO / JWT ---

	cfg.JWKSURL, err = getEnvRequired("RQ_JWKS_URL")
	if err != nil {
		return nil, err
	}
	cfg.JWTIssuer = getEnvDefault("RQ_JWT_ISSUER", "")
	cfg.CACertPath = getEnvDefault("RQ_CA_CERT", "")
	cfg.JWKSClientTimeout, err = getEnvDuration("RQ_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("RQ_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	cfg.JWKSRefreshInterval, err = getEnvDuration("RQ_JWKS_REFRESH_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("RQ_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWTLeeway, err = getEnvDuration("RQ_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("RQ_JWT_LEEWAY: %w", err)
	}

	// --- Домен ---

	// RQ_TIMEZONE — сервисная таймзона (по умолчанию Asia/Seoul)
	tzName := getEnvDefault("RQ_TIMEZONE", "Asia/Seoul")
	cfg.Timezone, err = time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("RQ_TIMEZONE: неизвестная таймзона %q: %w", tzName, err)
	}

	// --- Кэш каталога ---

	cfg.CatalogCacheSize, err = getEnvInt("RQ_CATALOG_CACHE_SIZE", 256)
	if err != nil {
		return nil, fmt.Errorf("RQ_CATALOG_CACHE_SIZE: %w", err)
	}
	cfg.CatalogCacheTTL, err = getEnvDuration("RQ_CATALOG_CACHE_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("RQ_CATALOG_CACHE_TTL: %w", err)
	}

	// --- Audit sink ---

	cfg.AuditURL = getEnvDefault("RQ_AUDIT_URL", "")
	if cfg.AuditURL != "" {
		if _, err := url.Parse(cfg.AuditURL); err != nil {
			return nil, fmt.Errorf("RQ_AUDIT_URL: некорректный URL: %w", err)
		}
	}
	cfg.AuditTimeout, err = getEnvDuration("RQ_AUDIT_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("RQ_AUDIT_TIMEOUT: %w", err)
	}

	// --- Dephealth ---

	cfg.DephealthGroup = getEnvDefault("RQ_DEPHEALTH_GROUP", "aedpics")
	cfg.DephealthCheckInterval, err = getEnvDuration("RQ_DEPHEALTH_CHECK_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("RQ_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthIsEntry, err = getEnvBool("RQ_DEPHEALTH_ISENTRY", false)
	if err != nil {
		return nil, fmt.Errorf("RQ_DEPHEALTH_ISENTRY: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN собирает DSN подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
