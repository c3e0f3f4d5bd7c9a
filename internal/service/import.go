// import.go — слияние импортированных записей с сохранёнными.
//
// MergeImport:
//  1. Валидация входящих записей и проверка дубликатов идентичности в пакете
//  2. Загрузка существующих записей одним запросом
//  3. Построение планов с учётом LockSet каждой существующей записи
//  4. Один пакетный upsert по (source, source_url)
//
// Счётчики берутся из результата самого upsert, без повторного чтения.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/catalog-enricher/internal/domain/model"
	"github.com/bigkaa/catalog-enricher/internal/merge"
	"github.com/bigkaa/catalog-enricher/internal/repository"
)

// maxImportBatch — максимум записей в одном импорте.
const maxImportBatch = 1000

var importRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ce_import_records_total",
	Help: "Импортированные записи по исходу",
}, []string{"outcome"}) // inserted, updated, unchanged

// ImportService — сервис импорта.
type ImportService struct {
	repo   repository.RecordRepository
	logger *slog.Logger
}

// NewImportService создаёт сервис импорта.
func NewImportService(repo repository.RecordRepository, logger *slog.Logger) *ImportService {
	return &ImportService{
		repo:   repo,
		logger: logger.With(slog.String("component", "import")),
	}
}

// MergeImport сливает пакет входящих записей с хранилищем.
func (s *ImportService) MergeImport(ctx context.Context, incoming []*merge.Incoming) (*model.ImportResult, error) {
	result := &model.ImportResult{UpsertedIDs: []string{}}
	if len(incoming) == 0 {
		return result, nil
	}
	if len(incoming) > maxImportBatch {
		return nil, fmt.Errorf("%w: в пакете %d записей, максимум %d", ErrValidation, len(incoming), maxImportBatch)
	}

	ids := make([]model.Identity, 0, len(incoming))
	seen := make(map[model.Identity]int, len(incoming))
	for i, in := range incoming {
		if in == nil {
			return nil, fmt.Errorf("%w: пустая запись #%d", ErrValidation, i)
		}
		if err := in.Validate(); err != nil {
			return nil, fmt.Errorf("%w: запись #%d: %v", ErrValidation, i, err)
		}
		id := in.Identity()
		if first, dup := seen[id]; dup {
			s.logger.Error("Дубликат идентичности в пакете импорта",
				slog.String("source", id.Source),
				slog.String("source_url", id.SourceURL),
				slog.Int("first", first),
				slog.Int("second", i),
			)
			return nil, fmt.Errorf("%w: записи #%d и #%d имеют одинаковую идентичность %s %s",
				ErrIdentityConflict, first, i, id.Source, id.SourceURL)
		}
		seen[id] = i
		ids = append(ids, id)
	}

	existing, err := s.repo.FindByIdentities(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("загрузка существующих записей: %w", err)
	}

	plans := make([]merge.Plan, len(incoming))
	for i, in := range incoming {
		var locks model.LockSet
		if rec, ok := existing[in.Identity()]; ok {
			locks = rec.LockedFields
		}
		plans[i] = merge.BuildPlan(in, locks)
	}

	counts, err := s.repo.BulkUpsert(ctx, plans)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			s.logger.Error("Нарушение уникальности при upsert по идентичности",
				slog.String("error", err.Error()),
			)
			return nil, fmt.Errorf("%w: %v", ErrIdentityConflict, err)
		}
		return nil, fmt.Errorf("пакетный upsert: %w", err)
	}

	result.Matched = counts.Matched
	result.Inserted = counts.Inserted
	result.Updated = counts.Updated
	if counts.InsertedIDs != nil {
		result.UpsertedIDs = counts.InsertedIDs
	}

	importRecordsTotal.WithLabelValues("inserted").Add(float64(counts.Inserted))
	importRecordsTotal.WithLabelValues("updated").Add(float64(counts.Updated))
	importRecordsTotal.WithLabelValues("unchanged").Add(float64(counts.Matched - counts.Updated))

	s.logger.Info("Импорт завершён",
		slog.Int("records", len(incoming)),
		slog.Int("existing", len(existing)),
		slog.Int("matched", result.Matched),
		slog.Int("inserted", result.Inserted),
		slog.Int("updated", result.Updated),
	)
	return result, nil
}
