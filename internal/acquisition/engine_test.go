package acquisition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bigkaa/catalog-enricher/internal/aiclient"
	"github.com/bigkaa/catalog-enricher/internal/limiter"
	"github.com/bigkaa/catalog-enricher/internal/querycache"
	"github.com/bigkaa/catalog-enricher/internal/retry"
	"github.com/bigkaa/catalog-enricher/internal/searchclient"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mockAI — AI с функцией-полем.
type mockAI struct {
	calls   atomic.Int32
	cleanFn func(ctx context.Context, in aiclient.Input) (string, error)
}

func (m *mockAI) CleanQuery(ctx context.Context, in aiclient.Input) (string, error) {
	m.calls.Add(1)
	return m.cleanFn(ctx, in)
}

// mockSearcher — API поиска с функцией-полем.
type mockSearcher struct {
	pages    []searchclient.Page
	searchFn func(page searchclient.Page) ([]string, error)
}

func (m *mockSearcher) Search(_ context.Context, page searchclient.Page) ([]string, error) {
	m.pages = append(m.pages, page)
	return m.searchFn(page)
}

func (m *mockSearcher) CX() string { return "cx-test" }

func newTestEngine(ai QueryAI, search Searcher) *Engine {
	deps := Deps{
		Search:        search,
		Cleaner:       NewCleaner(DefaultPromoTokens),
		Queries:       querycache.New[string]("test_queries", 100),
		Results:       querycache.New[SearchResult]("test_results", 100),
		AILimiter:     limiter.New("test_ai", 2),
		SearchLimiter: limiter.New("test_search", 2),
		Retry:         retry.New(testLogger()),
	}
	if ai != nil {
		deps.AI = ai
	}
	return New(deps, Config{
		PageSize:      10,
		MaxCandidates: 30,
		AITimeout:     time.Second,
		Retry:         retry.Options{MaxAttempts: 2, MinBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
	}, testLogger())
}

// pageOf генерирует n уникальных ссылок для страницы, начинающейся со start.
func pageOf(start, n int) []string {
	links := make([]string, n)
	for i := range links {
		links[i] = fmt.Sprintf("https://img.example.com/%d.jpg", start+i)
	}
	return links
}

func TestEngine_BuildQuery_UsesAIAndCaches(t *testing.T) {
	ai := &mockAI{cleanFn: func(_ context.Context, in aiclient.Input) (string, error) {
		return "  Brand   Serum  ", nil
	}}
	e := newTestEngine(ai, &mockSearcher{})
	src := Source{Store: "s", Brand: "Brand", Title: "Brand Serum 기획"}

	if q := e.BuildQuery(context.Background(), src); q != "Brand Serum" {
		t.Errorf("BuildQuery() = %q", q)
	}
	if q := e.BuildQuery(context.Background(), src); q != "Brand Serum" {
		t.Errorf("повторный BuildQuery() = %q", q)
	}
	if ai.calls.Load() != 1 {
		t.Errorf("вызовов AI = %d, ожидается 1", ai.calls.Load())
	}
}

func TestEngine_BuildQuery_FallbackIsCached(t *testing.T) {
	ai := &mockAI{cleanFn: func(context.Context, aiclient.Input) (string, error) {
		return "", &retry.StatusError{StatusCode: http.StatusBadRequest}
	}}
	e := newTestEngine(ai, &mockSearcher{})
	src := Source{Store: "s", Brand: "브랜드", Title: "브랜드 [증정] 제품명 30ml 기획"}

	for i := 0; i < 3; i++ {
		if q := e.BuildQuery(context.Background(), src); q != "브랜드" {
			t.Errorf("BuildQuery() = %q, ожидается 브랜드", q)
		}
	}
	if ai.calls.Load() != 1 {
		t.Errorf("вызовов AI = %d, ожидается 1 (неудача кэшируется)", ai.calls.Load())
	}
}

func TestEngine_BuildQuery_AITimeoutFallsBack(t *testing.T) {
	ai := &mockAI{cleanFn: func(ctx context.Context, in aiclient.Input) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	e := newTestEngine(ai, &mockSearcher{})
	e.cfg.AITimeout = 5 * time.Millisecond

	q := e.BuildQuery(context.Background(), Source{Title: "제품명 40ml x 2"})
	if q != "제품명 40ml" {
		t.Errorf("BuildQuery() = %q", q)
	}
	if ai.calls.Load() != 2 {
		t.Errorf("вызовов AI = %d, ожидается 2 (таймаут повторяется)", ai.calls.Load())
	}
}

func TestEngine_BuildQuery_UnusableAIPayloadNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"sorry, not json"}}]}`))
	}))
	defer srv.Close()

	ai := aiclient.New(srv.Client(), srv.URL, "", "test-model", testLogger())
	e := newTestEngine(ai, &mockSearcher{})
	e.cfg.Retry.MaxAttempts = 3
	src := Source{Store: "s", Brand: "B", Title: "제품명 40ml x 2"}

	q := e.BuildQuery(context.Background(), src)
	if want := e.cleaner.Clean(src.Title, src.Brand); q != want {
		t.Errorf("BuildQuery() = %q, ожидается запасной вариант %q", q, want)
	}
	if calls.Load() != 1 {
		t.Errorf("HTTP-вызовов AI = %d, ожидается 1", calls.Load())
	}
}

func TestEngine_BuildQuery_WithoutAI(t *testing.T) {
	e := newTestEngine(nil, &mockSearcher{})
	if q := e.BuildQuery(context.Background(), Source{Brand: "COSRX", Title: "Snail Cream (Gift)"}); q != "COSRX Snail Cream" {
		t.Errorf("BuildQuery() = %q", q)
	}
}

func TestEngine_SeedQuery(t *testing.T) {
	e := newTestEngine(nil, &mockSearcher{})
	src := Source{Store: "s", Brand: "b", Title: "t"}
	e.SeedQuery(src, " seeded query ")
	if q := e.BuildQuery(context.Background(), src); q != "seeded query" {
		t.Errorf("BuildQuery() = %q", q)
	}
}

func TestEngine_FetchCandidates_StopsOnShortPage(t *testing.T) {
	s := &mockSearcher{searchFn: func(p searchclient.Page) ([]string, error) {
		if p.Start == 1 {
			return pageOf(1, 10), nil
		}
		return pageOf(p.Start, 4), nil
	}}
	e := newTestEngine(nil, s)

	urls, err := e.FetchCandidates(context.Background(), "q", 30)
	if err != nil {
		t.Fatalf("FetchCandidates() ошибка: %v", err)
	}
	if len(urls) != 14 {
		t.Errorf("кандидатов = %d, ожидается 14", len(urls))
	}
	if len(s.pages) != 2 || s.pages[1].Start != 11 || s.pages[1].Num != 10 {
		t.Errorf("страницы = %+v", s.pages)
	}

	// Результат исчерпан и закэширован: повторный вызов не обращается к API.
	if _, err := e.FetchCandidates(context.Background(), "q", 30); err != nil {
		t.Fatal(err)
	}
	if len(s.pages) != 2 {
		t.Errorf("повторный вызов обратился к API: страниц = %d", len(s.pages))
	}
}

func TestEngine_FetchCandidates_RespectsMax(t *testing.T) {
	s := &mockSearcher{searchFn: func(p searchclient.Page) ([]string, error) {
		return pageOf(p.Start, 10), nil
	}}
	e := newTestEngine(nil, s)

	urls, err := e.FetchCandidates(context.Background(), "q", 15)
	if err != nil {
		t.Fatalf("FetchCandidates() ошибка: %v", err)
	}
	if len(urls) != 15 {
		t.Errorf("кандидатов = %d, ожидается 15", len(urls))
	}
	if len(s.pages) != 2 {
		t.Errorf("страниц = %d, ожидается 2", len(s.pages))
	}
}

func TestEngine_FetchCandidates_DedupesAcrossPages(t *testing.T) {
	s := &mockSearcher{searchFn: func(p searchclient.Page) ([]string, error) {
		if p.Start == 1 {
			return append(pageOf(1, 9), "//img.example.com/1.jpg"), nil
		}
		return []string{"https://img.example.com/2.jpg", "ftp://x/y", "https://img.example.com/new.jpg"}, nil
	}}
	e := newTestEngine(nil, s)

	urls, err := e.FetchCandidates(context.Background(), "q", 30)
	if err != nil {
		t.Fatalf("FetchCandidates() ошибка: %v", err)
	}
	want := append(pageOf(1, 9), "https://img.example.com/new.jpg")
	if !slices.Equal(urls, want) {
		t.Errorf("urls = %q, ожидается %q", urls, want)
	}
}

func TestEngine_FetchCandidates_ErrorOnFirstPage(t *testing.T) {
	s := &mockSearcher{searchFn: func(searchclient.Page) ([]string, error) {
		return nil, &retry.StatusError{StatusCode: http.StatusForbidden}
	}}
	e := newTestEngine(nil, s)

	_, err := e.FetchCandidates(context.Background(), "q", 30)
	var se *retry.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusForbidden {
		t.Errorf("ожидается StatusError 403, получено %v", err)
	}
	if len(s.pages) != 1 {
		t.Errorf("403 не должен повторяться: страниц = %d", len(s.pages))
	}
}

func TestEngine_FetchCandidates_PartialOnLaterError(t *testing.T) {
	s := &mockSearcher{searchFn: func(p searchclient.Page) ([]string, error) {
		if p.Start == 1 {
			return pageOf(1, 10), nil
		}
		return nil, &retry.StatusError{StatusCode: http.StatusServiceUnavailable}
	}}
	e := newTestEngine(nil, s)

	urls, err := e.FetchCandidates(context.Background(), "q", 30)
	if err != nil {
		t.Fatalf("FetchCandidates() ошибка: %v", err)
	}
	if len(urls) != 10 {
		t.Errorf("кандидатов = %d, ожидается 10", len(urls))
	}
}

func TestEngine_Acquire(t *testing.T) {
	s := &mockSearcher{searchFn: func(p searchclient.Page) ([]string, error) {
		if p.Query != "COSRX Cream" {
			t.Errorf("запрос = %q", p.Query)
		}
		return pageOf(1, 3), nil
	}}
	e := newTestEngine(nil, s)

	cands, err := e.Acquire(context.Background(), Source{Brand: "COSRX", Title: "Cream 증정"}, 0)
	if err != nil {
		t.Fatalf("Acquire() ошибка: %v", err)
	}
	if len(cands) != 3 || cands[0].Provenance != "search:COSRX Cream" {
		t.Errorf("кандидаты = %+v", cands)
	}
}
