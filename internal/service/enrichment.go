// enrichment.go — оркестратор обогащения записей изображениями.
//
// Состояния записи: needs_check → skipped | acquiring → downloading → done | failed.
// Запись пропускается, если без force уже набрано desired изображений
// (обработанные + исходные) или processed_media заблокировано пользователем.
// Обогащения одной записи внутри процесса выполняются последовательно,
// а запись результата оптимистична по числу обработанных изображений.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/catalog-enricher/internal/acquisition"
	"github.com/bigkaa/catalog-enricher/internal/domain/model"
	"github.com/bigkaa/catalog-enricher/internal/download"
	"github.com/bigkaa/catalog-enricher/internal/limiter"
	"github.com/bigkaa/catalog-enricher/internal/repository"
)

var enrichRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ce_enrich_records_total",
	Help: "Обогащённые записи по итоговому состоянию",
}, []string{"state"})

// reasonNoCandidates — причина неудачи при пустом списке кандидатов.
const reasonNoCandidates = "no candidates"

// Acquirer собирает кандидатов для записи.
type Acquirer interface {
	Acquire(ctx context.Context, src acquisition.Source, maxCandidates int) ([]acquisition.Candidate, error)
}

// MediaAllocator размещает кандидатов в слотах записи.
type MediaAllocator interface {
	Allocate(ctx context.Context, req download.Request) download.Result
}

// EnrichmentConfig — параметры обогащения.
type EnrichmentConfig struct {
	// DesiredCount — желаемое количество изображений по умолчанию
	DesiredCount int
	// MaxCandidates — максимум кандидатов за запуск
	MaxCandidates int
	// Concurrency — одновременно обогащаемые записи в пакете
	Concurrency int
	// BatchMaxLimit — верхняя граница limit пакета
	BatchMaxLimit int
}

// BatchRequest — параметры пакетного обогащения.
type BatchRequest struct {
	Filter       repository.RecordFilter
	Limit        int
	DesiredCount int
	Force        bool
}

// EnrichmentService — оркестратор обогащения.
type EnrichmentService struct {
	repo      repository.RecordRepository
	acquirer  Acquirer
	allocator MediaAllocator
	limiter   *limiter.Limiter
	locks     *keyedMutex
	cfg       EnrichmentConfig
	now       func() time.Time
	logger    *slog.Logger
}

// NewEnrichmentService создаёт оркестратор обогащения.
func NewEnrichmentService(
	repo repository.RecordRepository,
	acquirer Acquirer,
	allocator MediaAllocator,
	cfg EnrichmentConfig,
	logger *slog.Logger,
) *EnrichmentService {
	if cfg.DesiredCount < 1 {
		cfg.DesiredCount = 1
	}
	if cfg.BatchMaxLimit < 1 {
		cfg.BatchMaxLimit = 1
	}
	return &EnrichmentService{
		repo:      repo,
		acquirer:  acquirer,
		allocator: allocator,
		limiter:   limiter.New("enrich", cfg.Concurrency),
		locks:     newKeyedMutex(),
		cfg:       cfg,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "enrichment")),
	}
}

// planEnrichment решает, нужно ли обогащение, и сколько изображений добавить.
func planEnrichment(view model.MediaView, desired int, force bool) (needed int, skip bool) {
	counts := view.GetMediaCounts()
	if !force && counts.Total() >= desired {
		return 0, true
	}
	needed = desired - counts.Processed
	if needed <= 0 {
		// force при уже набранном количестве — добираем ещё desired
		needed = desired
	}
	return needed, false
}

// sourceOf — данные записи для построения поискового запроса.
func sourceOf(rec *model.Record) acquisition.Source {
	title := rec.OriginalTitle
	if title == "" {
		title = rec.Title
	}
	return acquisition.Source{Store: rec.Source, Brand: rec.Brand, Title: title}
}

// EnrichOne обогащает одну запись. Ошибка возвращается только для
// некорректного или несуществующего ID; прочие неудачи — в результате.
func (s *EnrichmentService) EnrichOne(ctx context.Context, id string, desired int, force bool) (*model.EnrichResult, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	if desired <= 0 {
		desired = s.cfg.DesiredCount
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err)
	}

	res := s.enrich(ctx, rec, desired, force)
	enrichRecordsTotal.WithLabelValues(string(res.State)).Inc()
	return res, nil
}

func (s *EnrichmentService) enrich(ctx context.Context, rec *model.Record, desired int, force bool) *model.EnrichResult {
	counts := rec.GetMediaCounts()
	res := &model.EnrichResult{RecordID: rec.ID, State: model.EnrichNeedsCheck, FinalCount: counts.Processed}
	log := s.logger.With(slog.String("record_id", rec.ID))

	if rec.LockedFields.Has(model.FieldProcessedMedia) {
		log.Debug("Изображения заблокированы пользователем, обогащение пропущено")
		res.State, res.Skipped = model.EnrichSkipped, true
		return res
	}
	needed, skip := planEnrichment(rec, desired, force)
	if skip {
		res.State, res.Skipped = model.EnrichSkipped, true
		return res
	}

	res.State = model.EnrichAcquiring
	candidates, err := s.acquirer.Acquire(ctx, sourceOf(rec), s.cfg.MaxCandidates)
	if err != nil {
		return s.fail(ctx, res, fmt.Sprintf("поиск кандидатов: %v", err))
	}
	urls := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if !rec.HasOriginalMedia(c.URL) {
			urls = append(urls, c.URL)
		}
	}
	if len(urls) == 0 {
		return s.fail(ctx, res, reasonNoCandidates)
	}

	res.State = model.EnrichDownloading
	log.Info("Загрузка кандидатов",
		slog.Int("start_index", counts.Processed),
		slog.Int("needed", needed),
		slog.Int("candidates", len(urls)),
	)
	alloc := s.allocator.Allocate(ctx, download.Request{
		RecordID:   rec.ID,
		StartIndex: counts.Processed,
		Needed:     needed,
		Candidates: urls,
	})
	for _, ce := range alloc.Errors {
		res.Failures = append(res.Failures, fmt.Sprintf("#%d %s: %s", ce.AttemptIndex, ce.URL, ce.Reason))
	}
	if alloc.Downloaded() == 0 {
		return s.fail(ctx, res, fmt.Sprintf("ни один из %d кандидатов не сохранён", len(urls)))
	}

	note := fmt.Sprintf("%s enrich: +%d (кандидатов %d, отклонено %d)",
		s.now().UTC().Format(time.RFC3339), alloc.Downloaded(), len(urls), len(alloc.Errors))
	updated, err := s.repo.AppendProcessedMedia(ctx, rec.ID, counts.Processed, alloc.URLs(), model.StatusMediaUpdated, note)
	if err != nil {
		return s.fail(ctx, res, fmt.Sprintf("запись результата: %v", mapRepoError(err)))
	}

	res.State = model.EnrichDone
	res.Downloaded = alloc.Downloaded()
	res.FinalCount = len(updated.ProcessedMedia)
	log.Info("Запись обогащена",
		slog.Int("downloaded", res.Downloaded),
		slog.Int("final_count", res.FinalCount),
		slog.Int("rejected", len(alloc.Errors)),
	)
	return res
}

// fail переводит результат в failed и дописывает причину в notes.
func (s *EnrichmentService) fail(ctx context.Context, res *model.EnrichResult, reason string) *model.EnrichResult {
	res.State = model.EnrichFailed
	res.Error = reason
	s.logger.Warn("Обогащение записи не удалось",
		slog.String("record_id", res.RecordID),
		slog.String("reason", reason),
	)

	note := fmt.Sprintf("%s enrich failed: %s", s.now().UTC().Format(time.RFC3339), reason)
	if err := s.repo.AppendNote(ctx, res.RecordID, note); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("Не удалось дописать заметку",
			slog.String("record_id", res.RecordID),
			slog.String("error", err.Error()),
		)
	}
	return res
}

// EnrichBatch обогащает записи по фильтру. Записи обрабатываются
// независимо под ограничителем; неудача одной не прерывает остальные.
func (s *EnrichmentService) EnrichBatch(ctx context.Context, req BatchRequest) (*model.BatchResult, error) {
	limit := req.Limit
	if limit <= 0 || limit > s.cfg.BatchMaxLimit {
		limit = s.cfg.BatchMaxLimit
	}
	for _, id := range req.Filter.IDs {
		if err := validateID(id); err != nil {
			return nil, err
		}
	}
	for _, st := range req.Filter.Statuses {
		if !st.Valid() {
			return nil, fmt.Errorf("%w: неизвестный статус %q", ErrValidation, st)
		}
	}

	records, err := s.repo.Find(ctx, req.Filter, limit)
	if err != nil {
		return nil, fmt.Errorf("выборка записей: %w", err)
	}

	result := &model.BatchResult{Matched: len(records), Errors: []string{}}
	var mu sync.Mutex
	var g errgroup.Group

	for _, rec := range records {
		g.Go(func() error {
			res := s.runLimited(ctx, rec.ID, req.DesiredCount, req.Force)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case res.Skipped:
				result.Skipped++
			case res.State == model.EnrichDone:
				result.Enriched++
			default:
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", rec.ID, res.Error))
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("Пакетное обогащение завершено",
		slog.Int("matched", result.Matched),
		slog.Int("enriched", result.Enriched),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", result.Failed),
	)
	return result, nil
}

// runLimited — обогащение одной записи пакета под ограничителем.
// Паника при обработке записи превращается в failed этой записи.
func (s *EnrichmentService) runLimited(ctx context.Context, id string, desired int, force bool) (res *model.EnrichResult) {
	res = &model.EnrichResult{RecordID: id, State: model.EnrichFailed}
	err := s.limiter.Do(ctx, func(ctx context.Context) (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic: %v", p)
			}
		}()
		r, err := s.EnrichOne(ctx, id, desired, force)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		res = &model.EnrichResult{RecordID: id, State: model.EnrichFailed, Error: err.Error()}
		enrichRecordsTotal.WithLabelValues(string(model.EnrichFailed)).Inc()
		s.logger.Error("Ошибка обогащения записи в пакете",
			slog.String("record_id", id),
			slog.String("error", err.Error()),
		)
	}
	return res
}
