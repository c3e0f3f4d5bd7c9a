// Точка входа catalog-enricher — сервис обогащения каталога товаров.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// собирает движок подбора кандидатов (поиск изображений + AI), загрузчик
// изображений и сервисный слой, запускает фоновые задачи (периодическое
// обогащение, topologymetrics) и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/catalog-enricher/internal/acquisition"
	"github.com/bigkaa/catalog-enricher/internal/aiclient"
	"github.com/bigkaa/catalog-enricher/internal/api/handlers"
	"github.com/bigkaa/catalog-enricher/internal/api/middleware"
	"github.com/bigkaa/catalog-enricher/internal/config"
	"github.com/bigkaa/catalog-enricher/internal/database"
	"github.com/bigkaa/catalog-enricher/internal/download"
	"github.com/bigkaa/catalog-enricher/internal/limiter"
	"github.com/bigkaa/catalog-enricher/internal/querycache"
	"github.com/bigkaa/catalog-enricher/internal/repository"
	"github.com/bigkaa/catalog-enricher/internal/retry"
	"github.com/bigkaa/catalog-enricher/internal/searchclient"
	"github.com/bigkaa/catalog-enricher/internal/server"
	"github.com/bigkaa/catalog-enricher/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("catalog-enricher запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.Bool("ai_enabled", cfg.AIEnabled()),
		slog.Bool("auth_enabled", cfg.AuthEnabled()),
	)
	if cfg.SearchAPIKey == "" || cfg.SearchCX == "" {
		logger.Warn("CE_SEARCH_API_KEY или CE_SEARCH_CX не заданы, запросы к API поиска будут отклоняться")
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Repository
	recordRepo := repository.NewRecordRepository(pool)

	// 6. Общие на процесс: повторы, ограничители, кэши
	retryCtl := retry.New(logger)
	retryOpts := retry.Options{
		MaxAttempts: cfg.RetryMaxAttempts,
		MinBackoff:  cfg.RetryMinBackoff,
		MaxBackoff:  cfg.RetryMaxBackoff,
	}
	searchLimiter := limiter.New("search", cfg.SearchConcurrency)
	aiLimiter := limiter.New("ai", cfg.AIConcurrency)
	queryCache := querycache.New[string]("queries", cfg.CacheMaxSize)
	resultCache := querycache.New[acquisition.SearchResult]("search_results", cfg.CacheMaxSize)

	// 7. Промо-токены: встроенные + файл (LoadPromoTokens) + переменная окружения
	promoTokens, err := acquisition.LoadPromoTokens(cfg.PromoTokensFile)
	if err != nil {
		logger.Error("Ошибка загрузки промо-токенов",
			slog.String("path", cfg.PromoTokensFile),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	promoTokens = append(promoTokens, cfg.PromoTokens...)

	// 8. Клиенты внешних API
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	searchClient := searchclient.New(httpClient, cfg.SearchURL, cfg.SearchAPIKey, cfg.SearchCX, logger)
	logger.Info("Клиент API поиска создан", slog.String("url", searchClient.BaseURL()))

	var queryAI acquisition.QueryAI
	var titleAI service.TitleNormalizer
	if cfg.AIEnabled() {
		aiClient := aiclient.New(httpClient, cfg.AIURL, cfg.AIAPIKey, cfg.AIModel, logger)
		queryAI, titleAI = aiClient, aiClient
		logger.Info("AI клиент создан",
			slog.String("url", aiClient.BaseURL()),
			slog.String("model", cfg.AIModel),
		)
	} else {
		logger.Info("AI отключён (CE_AI_URL не задан), используется очистка запросов без AI")
	}

	// 9. Движок подбора кандидатов
	engine := acquisition.New(acquisition.Deps{
		AI:            queryAI,
		Search:        searchClient,
		Cleaner:       acquisition.NewCleaner(promoTokens),
		Queries:       queryCache,
		Results:       resultCache,
		AILimiter:     aiLimiter,
		SearchLimiter: searchLimiter,
		Retry:         retryCtl,
	}, acquisition.Config{
		PageSize:       cfg.SearchPageSize,
		MaxCandidates:  cfg.MaxCandidates,
		AITimeout:      cfg.AITimeout,
		SearchInterval: cfg.SearchInterval,
		Retry:          retryOpts,
	}, logger)

	// 10. Загрузка и размещение изображений
	mediaStore, err := download.NewMediaStore(cfg.MediaDir, cfg.MediaURLPrefix)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища изображений",
			slog.String("dir", cfg.MediaDir),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	logger.Info("Хранилище изображений готово", slog.String("dir", mediaStore.Dir()))
	allocator := download.NewAllocator(
		download.NewHTTPFetcher(httpClient, cfg.ImageMaxBytes, retryCtl, retryOpts, logger),
		download.NewNormalizer(cfg.ImageMaxDimension, cfg.ImageJPEGQuality),
		mediaStore,
		logger,
	)

	// 11. Services
	enrichmentSvc := service.NewEnrichmentService(recordRepo, engine, allocator, service.EnrichmentConfig{
		DesiredCount:  cfg.DesiredImageCount,
		MaxCandidates: cfg.MaxCandidates,
		Concurrency:   cfg.EnrichConcurrency,
		BatchMaxLimit: cfg.BatchMaxLimit,
	}, logger)
	importSvc := service.NewImportService(recordRepo, logger)
	recordSvc := service.NewRecordService(recordRepo, titleAI, engine, aiLimiter, retryCtl,
		service.TranslationConfig{Timeout: cfg.AITimeout, Retry: retryOpts}, logger)

	// 12. JWT middleware (опционально) и readiness checkers
	var jwtAuth *middleware.JWTAuth
	var jwksChecker handlers.ReadinessChecker
	if cfg.AuthEnabled() {
		jwtAuth, err = middleware.NewJWTAuth(
			cfg.JWTJWKSURL,
			cfg.JWTIssuer,
			cfg.HTTPTimeout,
			cfg.JWKSRefreshInterval,
			cfg.JWTLeeway,
			logger,
		)
		if err != nil {
			logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
			os.Exit(1)
		}
		jwksChecker = middleware.NewJWKSReadinessChecker(cfg.JWTJWKSURL, cfg.HTTPTimeout)
		logger.Info("JWT middleware инициализирован",
			slog.String("jwks_url", cfg.JWTJWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	} else {
		logger.Warn("CE_JWT_JWKS_URL не задан, API доступен без аутентификации")
	}
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pool), jwksChecker)

	// 13. API handler
	apiHandler := handlers.NewAPIHandler(healthHandler, recordSvc, importSvc, enrichmentSvc, cfg.BatchMaxLimit, logger)

	// 14. Фоновое периодическое обогащение (опционально)
	var autoEnrichSvc *service.AutoEnrichService
	if cfg.AutoEnrichInterval > 0 {
		autoEnrichSvc = service.NewAutoEnrichService(enrichmentSvc, cfg.AutoEnrichLimit, cfg.AutoEnrichInterval, logger)
		autoEnrichSvc.Start(ctx)
	}

	// 14.1 topologymetrics — мониторинг зависимостей (PostgreSQL + внешние API)
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     "catalog-enricher",
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		PostgresURL:   cfg.DatabaseURL("postgres"),
		SearchURL:     cfg.SearchURL,
		AIURL:         cfg.AIURL,
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		dephealthSvc = nil
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 15. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, jwtAuth)
	runErr := srv.Run()

	// 16. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")
	if autoEnrichSvc != nil {
		autoEnrichSvc.Stop()
	}
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
		os.Exit(1)
	}
	logger.Info("catalog-enricher остановлен")
}
