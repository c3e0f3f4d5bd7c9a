package service

import (
	"context"
	"io"
	"log/slog"

	"github.com/bigkaa/catalog-enricher/internal/acquisition"
	"github.com/bigkaa/catalog-enricher/internal/aiclient"
	"github.com/bigkaa/catalog-enricher/internal/domain/model"
	"github.com/bigkaa/catalog-enricher/internal/download"
	"github.com/bigkaa/catalog-enricher/internal/merge"
	"github.com/bigkaa/catalog-enricher/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- Mock repository ---

// mockRecordRepo — мок RecordRepository для unit-тестов.
type mockRecordRepo struct {
	getByIDFn              func(ctx context.Context, id string) (*model.Record, error)
	findByIdentitiesFn     func(ctx context.Context, ids []model.Identity) (map[model.Identity]*model.Record, error)
	bulkUpsertFn           func(ctx context.Context, plans []merge.Plan) (repository.UpsertCounts, error)
	findFn                 func(ctx context.Context, filter repository.RecordFilter, limit int) ([]*model.Record, error)
	appendProcessedMediaFn func(ctx context.Context, id string, expected int, urls []string, status model.Status, note string) (*model.Record, error)
	appendNoteFn           func(ctx context.Context, id, note string) error
	applyEditFn            func(ctx context.Context, id string, mutate func(rec *model.Record) error) (*model.Record, error)
	updateTranslationFn    func(ctx context.Context, id, translated string, status model.Status) (*model.Record, error)
}

func (m *mockRecordRepo) GetByID(ctx context.Context, id string) (*model.Record, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, repository.ErrNotFound
}

func (m *mockRecordRepo) FindByIdentities(ctx context.Context, ids []model.Identity) (map[model.Identity]*model.Record, error) {
	if m.findByIdentitiesFn != nil {
		return m.findByIdentitiesFn(ctx, ids)
	}
	return map[model.Identity]*model.Record{}, nil
}

func (m *mockRecordRepo) BulkUpsert(ctx context.Context, plans []merge.Plan) (repository.UpsertCounts, error) {
	if m.bulkUpsertFn != nil {
		return m.bulkUpsertFn(ctx, plans)
	}
	return repository.UpsertCounts{}, nil
}

func (m *mockRecordRepo) Find(ctx context.Context, filter repository.RecordFilter, limit int) ([]*model.Record, error) {
	if m.findFn != nil {
		return m.findFn(ctx, filter, limit)
	}
	return nil, nil
}

func (m *mockRecordRepo) AppendProcessedMedia(ctx context.Context, id string, expected int, urls []string, status model.Status, note string) (*model.Record, error) {
	if m.appendProcessedMediaFn != nil {
		return m.appendProcessedMediaFn(ctx, id, expected, urls, status, note)
	}
	return nil, repository.ErrNotFound
}

func (m *mockRecordRepo) AppendNote(ctx context.Context, id, note string) error {
	if m.appendNoteFn != nil {
		return m.appendNoteFn(ctx, id, note)
	}
	return nil
}

func (m *mockRecordRepo) ApplyEdit(ctx context.Context, id string, mutate func(rec *model.Record) error) (*model.Record, error) {
	if m.applyEditFn != nil {
		return m.applyEditFn(ctx, id, mutate)
	}
	return nil, repository.ErrNotFound
}

func (m *mockRecordRepo) UpdateTranslation(ctx context.Context, id, translated string, status model.Status) (*model.Record, error) {
	if m.updateTranslationFn != nil {
		return m.updateTranslationFn(ctx, id, translated, status)
	}
	return nil, repository.ErrNotFound
}

// --- Mock acquisition / allocation ---

type mockAcquirer struct {
	acquireFn func(ctx context.Context, src acquisition.Source, maxCandidates int) ([]acquisition.Candidate, error)
}

func (m *mockAcquirer) Acquire(ctx context.Context, src acquisition.Source, maxCandidates int) ([]acquisition.Candidate, error) {
	if m.acquireFn != nil {
		return m.acquireFn(ctx, src, maxCandidates)
	}
	return nil, nil
}

type mockAllocator struct {
	allocateFn func(ctx context.Context, req download.Request) download.Result
}

func (m *mockAllocator) Allocate(ctx context.Context, req download.Request) download.Result {
	if m.allocateFn != nil {
		return m.allocateFn(ctx, req)
	}
	return download.Result{}
}

// --- Mock AI ---

type mockNormalizer struct {
	normalizeFn func(ctx context.Context, in aiclient.Input) (aiclient.TitleNormalization, error)
}

func (m *mockNormalizer) NormalizeTitle(ctx context.Context, in aiclient.Input) (aiclient.TitleNormalization, error) {
	return m.normalizeFn(ctx, in)
}

type mockSeeder struct {
	src   acquisition.Source
	query string
}

func (m *mockSeeder) SeedQuery(src acquisition.Source, query string) {
	m.src, m.query = src, query
}

func candidates(urls ...string) []acquisition.Candidate {
	out := make([]acquisition.Candidate, len(urls))
	for i, u := range urls {
		out[i] = acquisition.Candidate{URL: u, Provenance: "search"}
	}
	return out
}
