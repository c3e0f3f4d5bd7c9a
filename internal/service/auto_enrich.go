// auto_enrich.go — периодическое обогащение новых записей.
//
// AutoEnrichService запускает фоновую горутину с ticker (CE_AUTO_ENRICH_INTERVAL),
// которая обогащает записи в статусах imported и translated пакетами по limit.
// Записи, уже набравшие нужное количество изображений, пропускаются оркестратором.
//
// Prometheus-метрики:
//   - ce_auto_enrich_duration_seconds — длительность одного прохода
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/catalog-enricher/internal/domain/model"
	"github.com/bigkaa/catalog-enricher/internal/repository"
)

var autoEnrichDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "ce_auto_enrich_duration_seconds",
	Help:    "Длительность прохода периодического обогащения",
	Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s … ~17m
})

// BatchEnricher — пакетное обогащение записей.
type BatchEnricher interface {
	EnrichBatch(ctx context.Context, req BatchRequest) (*model.BatchResult, error)
}

// AutoEnrichService — фоновый сервис периодического обогащения.
type AutoEnrichService struct {
	enricher BatchEnricher
	limit    int
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewAutoEnrichService создаёт сервис периодического обогащения.
func NewAutoEnrichService(enricher BatchEnricher, limit int, interval time.Duration, logger *slog.Logger) *AutoEnrichService {
	return &AutoEnrichService{
		enricher: enricher,
		limit:    limit,
		interval: interval,
		logger:   logger.With(slog.String("component", "auto_enrich")),
	}
}

// Start запускает фоновую горутину. Вызывается один раз при старте приложения.
func (s *AutoEnrichService) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.logger.Info("Периодическое обогащение запущено",
			slog.String("interval", s.interval.String()),
			slog.Int("limit", s.limit),
		)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Периодическое обогащение остановлено")
				return
			case <-ticker.C:
				if _, err := s.RunOnce(ctx); err != nil {
					s.logger.Error("Ошибка периодического обогащения", slog.String("error", err.Error()))
				}
			}
		}
	}()
}

// Stop останавливает фоновую горутину и ждёт завершения.
func (s *AutoEnrichService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// RunOnce выполняет один проход обогащения.
func (s *AutoEnrichService) RunOnce(ctx context.Context) (*model.BatchResult, error) {
	start := time.Now()
	defer func() {
		autoEnrichDuration.Observe(time.Since(start).Seconds())
	}()

	res, err := s.enricher.EnrichBatch(ctx, BatchRequest{
		Filter: repository.RecordFilter{
			Statuses: []model.Status{model.StatusImported, model.StatusTranslated},
		},
		Limit: s.limit,
	})
	if err != nil {
		return nil, err
	}
	if res.Matched > 0 {
		s.logger.Info("Проход периодического обогащения завершён",
			slog.Int("matched", res.Matched),
			slog.Int("enriched", res.Enriched),
			slog.Int("failed", res.Failed),
			slog.Duration("duration", time.Since(start)),
		)
	}
	return res, nil
}
