package service

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/google/uuid"

	"github.com/bigkaa/catalog-enricher/internal/aiclient"
	"github.com/bigkaa/catalog-enricher/internal/domain/model"
	"github.com/bigkaa/catalog-enricher/internal/limiter"
	"github.com/bigkaa/catalog-enricher/internal/repository"
	"github.com/bigkaa/catalog-enricher/internal/retry"
)

func ptr[T any](v T) *T { return &v }

// editingRepo — мок ApplyEdit, применяющий mutate к копии записи.
func editingRepo(rec *model.Record) *mockRecordRepo {
	return &mockRecordRepo{
		getByIDFn: func(_ context.Context, id string) (*model.Record, error) {
			if id != rec.ID {
				return nil, repository.ErrNotFound
			}
			cp := *rec
			return &cp, nil
		},
		applyEditFn: func(_ context.Context, id string, mutate func(rec *model.Record) error) (*model.Record, error) {
			if id != rec.ID {
				return nil, repository.ErrNotFound
			}
			if err := mutate(rec); err != nil {
				return nil, err
			}
			cp := *rec
			return &cp, nil
		},
	}
}

func newRecordService(repo repository.RecordRepository, ai TitleNormalizer, seeder QuerySeeder) *RecordService {
	return NewRecordService(repo, ai, seeder, limiter.New("ai", 1), retry.New(testLogger()),
		TranslationConfig{Retry: retry.Options{MaxAttempts: 1}}, testLogger())
}

func TestEditRecord_LocksEditedFields(t *testing.T) {
	rec := newRecord(0, 0)
	svc := newRecordService(editingRepo(rec), nil, nil)

	got, err := svc.EditRecord(context.Background(), rec.ID, RecordEdit{
		Title: ptr("Электрочайник Acme"),
		Price: ptr(int64(4990)),
	})
	if err != nil {
		t.Fatalf("EditRecord ошибка: %v", err)
	}
	if got.Title != "Электрочайник Acme" || got.Price != 4990 {
		t.Errorf("поля не изменены: %+v", got)
	}
	if !got.LockedFields.Has(model.FieldTitle) || !got.LockedFields.Has(model.FieldPrice) {
		t.Errorf("LockedFields = %v, ожидаются title и price", got.LockedFields)
	}
	if got.LockedFields.Has(model.FieldStatus) {
		t.Error("status заблокирован без правки")
	}
}

func TestEditRecord_Unlock(t *testing.T) {
	rec := newRecord(0, 0)
	rec.LockedFields = model.NewLockSet(model.FieldPrice, model.FieldTitle)
	svc := newRecordService(editingRepo(rec), nil, nil)

	got, err := svc.EditRecord(context.Background(), rec.ID, RecordEdit{
		Title:  ptr("Новое название"),
		Unlock: []string{"price", "title"},
	})
	if err != nil {
		t.Fatalf("EditRecord ошибка: %v", err)
	}
	if got.LockedFields.Has(model.FieldPrice) {
		t.Error("price остался заблокированным после unlock")
	}
	if !got.LockedFields.Has(model.FieldTitle) {
		t.Error("title, изменённый тем же вызовом, должен остаться заблокированным")
	}
}

func TestEditRecord_Validation(t *testing.T) {
	rec := newRecord(0, 0)
	tests := []struct {
		name string
		id   string
		edit RecordEdit
	}{
		{"пустая правка", rec.ID, RecordEdit{}},
		{"неизвестное поле unlock", rec.ID, RecordEdit{Unlock: []string{"brand"}}},
		{"отрицательная цена", rec.ID, RecordEdit{Price: ptr(int64(-5))}},
		{"неизвестный статус", rec.ID, RecordEdit{Status: ptr(model.Status("archived"))}},
		{"некорректный ID", "abc", RecordEdit{Title: ptr("x")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newRecordService(editingRepo(rec), nil, nil)
			if _, err := svc.EditRecord(context.Background(), tt.id, tt.edit); !errors.Is(err, ErrValidation) {
				t.Errorf("ожидается ErrValidation, получено %v", err)
			}
		})
	}
}

func TestEditRecord_NotFound(t *testing.T) {
	svc := newRecordService(editingRepo(newRecord(0, 0)), nil, nil)
	_, err := svc.EditRecord(context.Background(), uuid.NewString(), RecordEdit{Title: ptr("x")})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидается ErrNotFound, получено %v", err)
	}
}

func TestTranslateOne_Disabled(t *testing.T) {
	svc := newRecordService(editingRepo(newRecord(0, 0)), nil, nil)
	if _, err := svc.TranslateOne(context.Background(), uuid.NewString()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("ожидается ErrUnavailable, получено %v", err)
	}
}

func TestTranslateOne(t *testing.T) {
	rec := newRecord(0, 0)
	repo := editingRepo(rec)
	repo.updateTranslationFn = func(_ context.Context, id, translated string, status model.Status) (*model.Record, error) {
		if status != model.StatusTranslated {
			t.Errorf("status = %s, ожидается translated", status)
		}
		rec.TranslatedText, rec.Status = translated, status
		cp := *rec
		return &cp, nil
	}
	ai := &mockNormalizer{normalizeFn: func(_ context.Context, in aiclient.Input) (aiclient.TitleNormalization, error) {
		if in.Title != "Acme Kettle 2L" || in.Brand != "Acme" {
			t.Errorf("Input = %+v", in)
		}
		return aiclient.TitleNormalization{BrandEn: "Acme", ModelEn: "Kettle 2L", TitleMn: " Цайны данх ", SearchQuery: "Acme Kettle 2L"}, nil
	}}
	seeder := &mockSeeder{}
	svc := newRecordService(repo, ai, seeder)

	got, err := svc.TranslateOne(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("TranslateOne ошибка: %v", err)
	}
	if got.TranslatedText != "Цайны данх" || got.Status != model.StatusTranslated {
		t.Errorf("получено %q/%s", got.TranslatedText, got.Status)
	}
	if seeder.query != "Acme Kettle 2L" || seeder.src.Store != rec.Source {
		t.Errorf("запрос не передан в кэш: %+v", seeder)
	}
}

func TestTranslateOne_UpstreamErrors(t *testing.T) {
	tests := []struct {
		name string
		fn   func(context.Context, aiclient.Input) (aiclient.TitleNormalization, error)
	}{
		{"ошибка API", func(context.Context, aiclient.Input) (aiclient.TitleNormalization, error) {
			return aiclient.TitleNormalization{}, aiclient.ErrUnusablePayload
		}},
		{"пустой перевод", func(context.Context, aiclient.Input) (aiclient.TitleNormalization, error) {
			return aiclient.TitleNormalization{TitleMn: "  "}, nil
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newRecord(0, 0)
			repo := editingRepo(rec)
			repo.updateTranslationFn = func(context.Context, string, string, model.Status) (*model.Record, error) {
				t.Error("UpdateTranslation не должен вызываться")
				return nil, nil
			}
			svc := newRecordService(repo, &mockNormalizer{normalizeFn: tt.fn}, nil)
			if _, err := svc.TranslateOne(context.Background(), rec.ID); !errors.Is(err, ErrUpstream) {
				t.Errorf("ожидается ErrUpstream, получено %v", err)
			}
		})
	}
}

func TestRecordService_List(t *testing.T) {
	repo := &mockRecordRepo{findFn: func(_ context.Context, filter repository.RecordFilter, limit int) ([]*model.Record, error) {
		if !slices.Equal(filter.Statuses, []model.Status{model.StatusReady}) || limit != 20 {
			t.Errorf("filter=%+v limit=%d", filter, limit)
		}
		return nil, nil
	}}
	svc := newRecordService(repo, nil, nil)

	got, err := svc.List(context.Background(), repository.RecordFilter{Statuses: []model.Status{model.StatusReady}}, 20)
	if err != nil {
		t.Fatalf("List ошибка: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("ожидается пустой список, получено %v", got)
	}

	if _, err := svc.List(context.Background(), repository.RecordFilter{Statuses: []model.Status{"bogus"}}, 20); !errors.Is(err, ErrValidation) {
		t.Errorf("ожидается ErrValidation, получено %v", err)
	}
}

func TestRecordService_List_InvalidID(t *testing.T) {
	repo := &mockRecordRepo{findFn: func(context.Context, repository.RecordFilter, int) ([]*model.Record, error) {
		t.Error("репозиторий не должен вызываться с некорректным id")
		return nil, nil
	}}
	svc := newRecordService(repo, nil, nil)

	filter := repository.RecordFilter{IDs: []string{"0b6f3a46-53b8-4f3c-9d0e-9d5b1a3c2f10", "abc"}}
	if _, err := svc.List(context.Background(), filter, 20); !errors.Is(err, ErrValidation) {
		t.Errorf("ожидается ErrValidation, получено %v", err)
	}
}
