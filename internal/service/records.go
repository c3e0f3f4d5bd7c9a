// records.go — чтение, правка и перевод записей каталога.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bigkaa/catalog-enricher/internal/acquisition"
	"github.com/bigkaa/catalog-enricher/internal/aiclient"
	"github.com/bigkaa/catalog-enricher/internal/domain/model"
	"github.com/bigkaa/catalog-enricher/internal/limiter"
	"github.com/bigkaa/catalog-enricher/internal/repository"
	"github.com/bigkaa/catalog-enricher/internal/retry"
)

// TitleNormalizer — AI-нормализация названия.
type TitleNormalizer interface {
	NormalizeTitle(ctx context.Context, in aiclient.Input) (aiclient.TitleNormalization, error)
}

// QuerySeeder принимает готовый поисковый запрос для записи.
type QuerySeeder interface {
	SeedQuery(src acquisition.Source, query string)
}

// RecordEdit — правка пользователя. Nil — поле не изменяется.
type RecordEdit struct {
	Title          *string       `json:"title,omitempty"`
	Price          *int64        `json:"price,omitempty"`
	TranslatedText *string       `json:"translatedText,omitempty"`
	Status         *model.Status `json:"status,omitempty"`
	Notes          *string       `json:"notes,omitempty"`
	ProcessedMedia *[]string     `json:"processedMedia,omitempty"`
	// Unlock — поля, с которых снимается блокировка
	Unlock []string `json:"unlock,omitempty"`
}

// TranslationConfig — параметры AI-перевода.
type TranslationConfig struct {
	Timeout time.Duration
	Retry   retry.Options
}

// RecordService — сервис записей каталога.
type RecordService struct {
	repo      repository.RecordRepository
	ai        TitleNormalizer
	seeder    QuerySeeder
	aiLimiter *limiter.Limiter
	retry     *retry.Controller
	cfg       TranslationConfig
	logger    *slog.Logger
}

// NewRecordService создаёт сервис записей. ai == nil отключает перевод.
// aiLimiter должен быть тем же экземпляром, что у движка поиска кандидатов.
func NewRecordService(
	repo repository.RecordRepository,
	ai TitleNormalizer,
	seeder QuerySeeder,
	aiLimiter *limiter.Limiter,
	rc *retry.Controller,
	cfg TranslationConfig,
	logger *slog.Logger,
) *RecordService {
	cfg.Retry.Label = "ai_translate"
	return &RecordService{
		repo:      repo,
		ai:        ai,
		seeder:    seeder,
		aiLimiter: aiLimiter,
		retry:     rc,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "records")),
	}
}

// Get возвращает запись по ID.
func (s *RecordService) Get(ctx context.Context, id string) (*model.Record, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return rec, nil
}

// List возвращает записи по фильтру.
func (s *RecordService) List(ctx context.Context, filter repository.RecordFilter, limit int) ([]*model.Record, error) {
	for _, id := range filter.IDs {
		if err := validateID(id); err != nil {
			return nil, err
		}
	}
	for _, st := range filter.Statuses {
		if !st.Valid() {
			return nil, fmt.Errorf("%w: неизвестный статус %q", ErrValidation, st)
		}
	}
	recs, err := s.repo.Find(ctx, filter, limit)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []*model.Record{}
	}
	return recs, nil
}

// EditRecord применяет правку. Изменённые поля блокируются,
// поля из Unlock разблокируются, если не изменены тем же вызовом.
func (s *RecordService) EditRecord(ctx context.Context, id string, edit RecordEdit) (*model.Record, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	edited, unlocks, err := validateEdit(edit)
	if err != nil {
		return nil, err
	}

	rec, err := s.repo.ApplyEdit(ctx, id, func(rec *model.Record) error {
		applyEdit(rec, edit)
		rec.LockedFields = model.ComputeNewLockSet(rec.LockedFields, edited, unlocks)
		return nil
	})
	if err != nil {
		return nil, mapRepoError(err)
	}

	s.logger.Info("Запись изменена",
		slog.String("record_id", id),
		slog.Int("edited", len(edited)),
		slog.Int("unlocked", len(unlocks)),
		slog.String("locked_fields", strings.Join(rec.LockedFields.Strings(), ",")),
	)
	return rec, nil
}

// validateEdit проверяет правку и возвращает изменённые и разблокируемые поля.
func validateEdit(edit RecordEdit) (edited, unlocks []model.Field, err error) {
	if edit.Title != nil {
		edited = append(edited, model.FieldTitle)
	}
	if edit.Price != nil {
		if *edit.Price < 0 {
			return nil, nil, fmt.Errorf("%w: отрицательная цена %d", ErrValidation, *edit.Price)
		}
		edited = append(edited, model.FieldPrice)
	}
	if edit.TranslatedText != nil {
		edited = append(edited, model.FieldTranslatedText)
	}
	if edit.Status != nil {
		if !edit.Status.Valid() {
			return nil, nil, fmt.Errorf("%w: неизвестный статус %q", ErrValidation, *edit.Status)
		}
		edited = append(edited, model.FieldStatus)
	}
	if edit.Notes != nil {
		edited = append(edited, model.FieldNotes)
	}
	if edit.ProcessedMedia != nil {
		edited = append(edited, model.FieldProcessedMedia)
	}

	for _, name := range edit.Unlock {
		f, err := model.ParseField(name)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		unlocks = append(unlocks, f)
	}

	if len(edited) == 0 && len(unlocks) == 0 {
		return nil, nil, fmt.Errorf("%w: правка не содержит изменений", ErrValidation)
	}
	return edited, unlocks, nil
}

func applyEdit(rec *model.Record, edit RecordEdit) {
	if edit.Title != nil {
		rec.Title = *edit.Title
	}
	if edit.Price != nil {
		rec.Price = *edit.Price
	}
	if edit.TranslatedText != nil {
		rec.TranslatedText = *edit.TranslatedText
	}
	if edit.Status != nil {
		rec.Status = *edit.Status
	}
	if edit.Notes != nil {
		rec.Notes = *edit.Notes
	}
	if edit.ProcessedMedia != nil {
		rec.ProcessedMedia = *edit.ProcessedMedia
	}
}

// TranslateOne нормализует название через AI, сохраняет перевод
// и передаёт поисковый запрос в кэш запросов.
func (s *RecordService) TranslateOne(ctx context.Context, id string) (*model.Record, error) {
	if s.ai == nil {
		return nil, fmt.Errorf("%w: AI API не настроен", ErrUnavailable)
	}
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	src := sourceOf(rec)
	in := aiclient.Input{Store: src.Store, Brand: src.Brand, Title: acquisition.NormalizeTitle(src.Title)}
	norm, err := retry.Execute(ctx, s.retry, s.cfg.Retry, func(ctx context.Context) (aiclient.TitleNormalization, error) {
		return limiter.Run(ctx, s.aiLimiter, func(ctx context.Context) (aiclient.TitleNormalization, error) {
			if s.cfg.Timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
				defer cancel()
			}
			return s.ai.NormalizeTitle(ctx, in)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: нормализация названия: %v", ErrUpstream, err)
	}
	translated := strings.TrimSpace(norm.TitleMn)
	if translated == "" {
		return nil, fmt.Errorf("%w: пустой перевод", ErrUpstream)
	}

	updated, err := s.repo.UpdateTranslation(ctx, rec.ID, translated, model.StatusTranslated)
	if err != nil {
		return nil, mapRepoError(err)
	}
	if s.seeder != nil && norm.SearchQuery != "" {
		s.seeder.SeedQuery(src, norm.SearchQuery)
	}

	s.logger.Info("Название переведено",
		slog.String("record_id", rec.ID),
		slog.Bool("translation_locked", rec.LockedFields.Has(model.FieldTranslatedText)),
	)
	return updated, nil
}
