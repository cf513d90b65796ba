// main.go — точка входа сервиса запросов реестра устройств.
// Сборка конвейера: config, logger, PostgreSQL, миграции, JWT middleware,
// репозитории, сервисы, dephealth, HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"log"
	"log/slog"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/truth0530/AEDpics-sub004/internal/api/handlers"
	"github.com/truth0530/AEDpics-sub004/internal/api/middleware"
	"github.com/truth0530/AEDpics-sub004/internal/auditclient"
	"github.com/truth0530/AEDpics-sub004/internal/config"
	"github.com/truth0530/AEDpics-sub004/internal/database"
	"github.com/truth0530/AEDpics-sub004/internal/repository"
	"github.com/truth0530/AEDpics-sub004/internal/server"
	"github.com/truth0530/AEDpics-sub004/internal/service"
)

func main() {
	ctx := context.Background()

	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	// 2. Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("Сервис запросов запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// 3. Миграции и подключение к PostgreSQL
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций", slog.String("error", err.Error()))
		log.Fatalf("Миграции не применены: %v", err)
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		log.Fatalf("PostgreSQL недоступен: %v", err)
	}
	defer pool.Close()

	// 4. JWT middleware (JWKS государственного SSO)
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWKSURL,
		cfg.CACertPath,
		cfg.JWTIssuer,
		cfg.JWKSClientTimeout,
		cfg.JWKSRefreshInterval,
		cfg.JWTLeeway,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка инициализации JWT middleware", slog.String("error", err.Error()))
		log.Fatalf("JWT middleware не создан: %v", err)
	}
	defer jwtAuth.Close()

	// 5. Репозитории
	deviceRepo := repository.NewDeviceRepository(pool)
	healthCenterRepo := repository.NewHealthCenterRepository(pool)
	assignmentRepo := repository.NewAssignmentRepository(pool)
	organizationRepo := repository.NewOrganizationRepository(pool)

	// 6. Клиент аудита (fire-and-forget)
	audit, err := auditclient.New(cfg.AuditURL, cfg.CACertPath, cfg.AuditTimeout, logger)
	if err != nil {
		logger.Error("Ошибка инициализации клиента аудита", slog.String("error", err.Error()))
		log.Fatalf("Клиент аудита не создан: %v", err)
	}

	// 7. Сервисы
	catalog := service.NewCatalogService(healthCenterRepo, cfg.CatalogCacheSize, cfg.CatalogCacheTTL)
	querySvc := service.NewQueryService(
		deviceRepo,
		healthCenterRepo,
		assignmentRepo,
		organizationRepo,
		catalog,
		audit,
		cfg.Timezone,
		logger,
	)

	// 8. Dephealth — мониторинг зависимостей через topologymetrics.
	// Проверка PostgreSQL идёт через существующий pgxpool (stdlib-адаптер).
	sqlDB := stdlib.OpenDBFromPool(pool)
	dephealthSvc, err := service.NewDephealthService(
		"registry-query",
		cfg.DephealthGroup,
		sqlDB,
		cfg.DatabaseDSN(),
		cfg.AuditURL,
		cfg.DephealthCheckInterval,
		cfg.DephealthIsEntry,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка инициализации dephealth", slog.String("error", err.Error()))
		log.Fatalf("Dephealth не создан: %v", err)
	}
	if err := dephealthSvc.Start(ctx); err != nil {
		logger.Error("Ошибка запуска dephealth", slog.String("error", err.Error()))
		log.Fatalf("Dephealth не запущен: %v", err)
	}
	defer dephealthSvc.Stop()

	// 9. Health handler: readiness проверяет PostgreSQL и SSO
	pgChecker := database.NewReadinessChecker(pool)
	ssoChecker, err := middleware.NewSSOReadinessChecker(cfg.JWKSURL, cfg.CACertPath, cfg.JWKSClientTimeout)
	if err != nil {
		logger.Error("Ошибка инициализации SSO checker", slog.String("error", err.Error()))
		log.Fatalf("SSO checker не создан: %v", err)
	}
	healthHandler := handlers.NewHealthHandler(pgChecker, ssoChecker)

	// 10. API handler
	apiHandler := handlers.NewAPIHandler(healthHandler, querySvc, logger)

	// 11. HTTP-сервер: метрики и логирование на всех маршрутах,
	// JWT на всех, кроме health и metrics.
	srv := server.New(cfg, logger, apiHandler,
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
		server.JWTAuthWithExclusions(jwtAuth.Middleware(), "/health/", "/metrics"),
	)

	// 12. Запуск сервера (блокирующий вызов с graceful shutdown)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		log.Fatalf("Сервер завершился с ошибкой: %v", err)
	}

	logger.Info("Сервис запросов остановлен")
}
