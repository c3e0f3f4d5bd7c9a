// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// catalog-enricher мониторит:
//   - PostgreSQL — SQL checker через существующий pgxpool (connection pool mode, critical)
//   - API поиска изображений — HTTP checker (non-critical)
//   - AI API — HTTP checker (non-critical, только если AI включён)
//
// Внешние API некритичны: при их недоступности обогащение деградирует
// до fallback-очистки запросов и ошибок по отдельным записям.
package service

import (
	"context"
	"database/sql"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // регистрация HTTP checker factory
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// DephealthConfig — параметры мониторинга зависимостей.
type DephealthConfig struct {
	// ServiceID — имя вершины графа (catalog-enricher)
	ServiceID string
	// Group — группа в метриках (CE_DEPHEALTH_GROUP)
	Group string
	// DB — *sql.DB, полученный из pgxpool через stdlib.OpenDBFromPool()
	DB *sql.DB
	// PostgresURL — URL PostgreSQL для лейблов, не для подключения
	PostgresURL string
	// SearchURL — базовый URL API поиска
	SearchURL string
	// AIURL — базовый URL AI API; пустой — зависимость не регистрируется
	AIURL string
	// CheckInterval — интервал проверки (CE_DEPHEALTH_CHECK_INTERVAL)
	CheckInterval time.Duration
	// Registerer — Prometheus registerer; nil — глобальный
	Registerer prometheus.Registerer
}

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	names  []string
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
func NewDephealthService(cfg DephealthConfig, logger *slog.Logger) (*DephealthService, error) {
	names := []string{"postgresql"}
	opts := []dephealth.Option{
		dephealth.WithLogger(logger),
		dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(cfg.DB)),
			dephealth.FromURL(cfg.PostgresURL),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(true),
		),
	}

	if cfg.SearchURL != "" {
		names = append(names, "search-api")
		opts = append(opts, dephealth.HTTP("search-api", httpDepOptions(cfg.SearchURL, cfg.CheckInterval)...))
	}
	if cfg.AIURL != "" {
		names = append(names, "ai-api")
		opts = append(opts, dephealth.HTTP("ai-api", httpDepOptions(cfg.AIURL, cfg.CheckInterval)...))
	}
	if cfg.Registerer != nil {
		opts = append(opts, dephealth.WithRegisterer(cfg.Registerer))
	}

	dh, err := dephealth.New(cfg.ServiceID, cfg.Group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		names:  names,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// httpDepOptions — опции HTTP-зависимости внешнего API.
func httpDepOptions(rawURL string, interval time.Duration) []dephealth.DependencyOption {
	opts := []dephealth.DependencyOption{
		dephealth.FromURL(rawURL),
		dephealth.WithHTTPHealthPath(healthPath(rawURL)),
		dephealth.CheckInterval(interval),
		dephealth.Critical(false),
	}
	if parsed, err := url.Parse(rawURL); err == nil && parsed.Scheme == "https" {
		opts = append(opts, dephealth.WithHTTPTLSSkipVerify(false))
	}
	return opts
}

// healthPath — путь проверки: path базового URL или "/".
func healthPath(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || strings.Trim(parsed.Path, "/") == "" {
		return "/"
	}
	return parsed.Path
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен",
		slog.String("dependencies", strings.Join(ds.names, ",")),
	)
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}
