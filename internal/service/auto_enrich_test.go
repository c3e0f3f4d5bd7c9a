package service

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/bigkaa/catalog-enricher/internal/domain/model"
)

type mockBatchEnricher struct {
	calls chan BatchRequest
}

func (m *mockBatchEnricher) EnrichBatch(_ context.Context, req BatchRequest) (*model.BatchResult, error) {
	select {
	case m.calls <- req:
	default:
	}
	return &model.BatchResult{Matched: 1, Enriched: 1, Errors: []string{}}, nil
}

func TestAutoEnrich_RunOnce(t *testing.T) {
	enricher := &mockBatchEnricher{calls: make(chan BatchRequest, 1)}
	svc := NewAutoEnrichService(enricher, 25, time.Hour, testLogger())

	res, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce ошибка: %v", err)
	}
	if res.Enriched != 1 {
		t.Errorf("Enriched = %d, ожидается 1", res.Enriched)
	}

	req := <-enricher.calls
	if req.Limit != 25 || req.Force {
		t.Errorf("запрос %+v, ожидается limit=25 без force", req)
	}
	want := []model.Status{model.StatusImported, model.StatusTranslated}
	if !slices.Equal(req.Filter.Statuses, want) {
		t.Errorf("Statuses = %v, ожидается %v", req.Filter.Statuses, want)
	}
}

func TestAutoEnrich_StartStop(t *testing.T) {
	enricher := &mockBatchEnricher{calls: make(chan BatchRequest, 16)}
	svc := NewAutoEnrichService(enricher, 10, 10*time.Millisecond, testLogger())

	svc.Start(context.Background())
	select {
	case <-enricher.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("периодический проход не выполнен")
	}
	svc.Stop()
}
