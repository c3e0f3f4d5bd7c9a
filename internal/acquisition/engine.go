// Пакет acquisition — подбор кандидатов (URL изображений) для записи каталога.
//
// Запрос строится через AI с детерминированным запасным вариантом и кэшируется
// по (магазин, бренд, название). Кандидаты собираются постранично из API поиска,
// нормализуются и дедуплицируются в порядке релевантности. Проверка того,
// что кандидат действительно изображение, выполняется при загрузке.
package acquisition

import (
	"context"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/bigkaa/catalog-enricher/internal/aiclient"
	"github.com/bigkaa/catalog-enricher/internal/limiter"
	"github.com/bigkaa/catalog-enricher/internal/querycache"
	"github.com/bigkaa/catalog-enricher/internal/retry"
	"github.com/bigkaa/catalog-enricher/internal/searchclient"
)

// maxQueryRunes — ответ AI длиннее считается непригодным.
const maxQueryRunes = 200

var (
	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ce_acquisition_queries_total",
		Help: "Построенные поисковые запросы по источнику (cache, ai, fallback)",
	}, []string{"source"})

	searchPagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ce_acquisition_search_pages_total",
		Help: "Запрошенные страницы поиска по исходу",
	}, []string{"result"})
)

// QueryAI — AI-очистка названия.
type QueryAI interface {
	CleanQuery(ctx context.Context, in aiclient.Input) (string, error)
}

// Searcher — постраничный API поиска.
type Searcher interface {
	Search(ctx context.Context, page searchclient.Page) ([]string, error)
	CX() string
}

// Source — данные записи, из которых строится запрос.
type Source struct {
	Store string
	Brand string
	Title string
}

// SearchResult — закэшированный результат поиска.
type SearchResult struct {
	URLs []string
	// Exhausted — API вернул неполную страницу, больше результатов нет
	Exhausted bool
}

// Candidate — непроверенный URL-кандидат.
type Candidate struct {
	URL        string
	Provenance string
}

// Config — параметры движка.
type Config struct {
	PageSize      int
	MaxCandidates int
	AITimeout     time.Duration
	// SearchInterval — минимальная пауза между запросами к API поиска
	SearchInterval time.Duration
	Retry          retry.Options
}

// Engine — движок подбора кандидатов.
// Кэши и лимитеры передаются извне и должны быть общими на процесс.
type Engine struct {
	ai            QueryAI
	search        Searcher
	cleaner       *Cleaner
	queries       *querycache.Cache[string]
	results       *querycache.Cache[SearchResult]
	aiLimiter     *limiter.Limiter
	searchLimiter *limiter.Limiter
	pacer         *rate.Limiter
	retry         *retry.Controller
	cfg           Config
	logger        *slog.Logger
}

// Deps — зависимости движка. AI может быть nil — тогда используется только очистка без AI.
type Deps struct {
	AI            QueryAI
	Search        Searcher
	Cleaner       *Cleaner
	Queries       *querycache.Cache[string]
	Results       *querycache.Cache[SearchResult]
	AILimiter     *limiter.Limiter
	SearchLimiter *limiter.Limiter
	Retry         *retry.Controller
}

// New создаёт Engine.
func New(deps Deps, cfg Config, logger *slog.Logger) *Engine {
	cfg.PageSize = min(max(cfg.PageSize, 1), 10)
	cfg.MaxCandidates = max(cfg.MaxCandidates, 1)

	pace := rate.Inf
	if cfg.SearchInterval > 0 {
		pace = rate.Every(cfg.SearchInterval)
	}

	return &Engine{
		ai:            deps.AI,
		search:        deps.Search,
		cleaner:       deps.Cleaner,
		queries:       deps.Queries,
		results:       deps.Results,
		aiLimiter:     deps.AILimiter,
		searchLimiter: deps.SearchLimiter,
		pacer:         rate.NewLimiter(pace, 1),
		retry:         deps.Retry,
		cfg:           cfg,
		logger:        logger.With(slog.String("component", "acquisition")),
	}
}

// Acquire строит запрос и собирает до maxCandidates кандидатов.
// maxCandidates <= 0 — используется значение из конфигурации.
func (e *Engine) Acquire(ctx context.Context, src Source, maxCandidates int) ([]Candidate, error) {
	query := e.BuildQuery(ctx, src)
	urls, err := e.FetchCandidates(ctx, query, maxCandidates)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, len(urls))
	for i, u := range urls {
		out[i] = Candidate{URL: u, Provenance: "search:" + query}
	}
	return out, nil
}

// QueryKey — ключ кэша запросов для записи.
func QueryKey(src Source) string {
	return querycache.Key("query", src.Store, NormalizeTitle(src.Brand), NormalizeTitle(src.Title))
}

// SeedQuery кладёт готовый запрос в кэш (например, после нормализации названия через AI).
func (e *Engine) SeedQuery(src Source, query string) {
	if query = collapseSpaces(query); query != "" {
		e.queries.Set(QueryKey(src), query)
	}
}

// BuildQuery возвращает поисковый запрос для записи.
// Любой исход (AI или запасной вариант) кэшируется, чтобы неудачи AI
// не оплачивались повторно.
func (e *Engine) BuildQuery(ctx context.Context, src Source) string {
	key := QueryKey(src)
	if q, ok := e.queries.Get(key); ok {
		queriesTotal.WithLabelValues("cache").Inc()
		return q
	}

	title := NormalizeTitle(src.Title)
	q, source := "", "fallback"
	if e.ai != nil {
		aiQuery, err := e.cleanWithAI(ctx, aiclient.Input{Store: src.Store, Brand: src.Brand, Title: title})
		switch {
		case err != nil:
			e.logger.Warn("AI-очистка недоступна, используется запасной вариант",
				slog.String("title", title),
				slog.String("error", err.Error()),
			)
		case utf8.RuneCountInString(aiQuery) > maxQueryRunes:
			e.logger.Warn("AI вернул слишком длинный запрос, используется запасной вариант",
				slog.String("title", title),
			)
		default:
			q, source = collapseSpaces(aiQuery), "ai"
		}
	}
	if q == "" {
		q = e.cleaner.Clean(title, src.Brand)
	}

	queriesTotal.WithLabelValues(source).Inc()
	e.queries.Set(key, q)
	return q
}

// cleanWithAI — вызов AI под ограничителем и с повтором; у каждой попытки свой таймаут.
func (e *Engine) cleanWithAI(ctx context.Context, in aiclient.Input) (string, error) {
	opts := e.cfg.Retry
	opts.Label = "ai_clean_query"
	return retry.Execute(ctx, e.retry, opts, func(ctx context.Context) (string, error) {
		return limiter.Run(ctx, e.aiLimiter, func(ctx context.Context) (string, error) {
			if e.cfg.AITimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, e.cfg.AITimeout)
				defer cancel()
			}
			return e.ai.CleanQuery(ctx, in)
		})
	})
}

// FetchCandidates постранично собирает ссылки до maxCandidates или до
// неполной страницы. Успешные результаты кэшируются по (cx, запрос).
func (e *Engine) FetchCandidates(ctx context.Context, query string, maxCandidates int) ([]string, error) {
	if maxCandidates <= 0 {
		maxCandidates = e.cfg.MaxCandidates
	}
	key := querycache.Key("search", e.search.CX(), query)
	if cached, ok := e.results.Get(key); ok && (cached.Exhausted || len(cached.URLs) >= maxCandidates) {
		return truncate(cached.URLs, maxCandidates), nil
	}

	var raw []string
	var urls []string
	exhausted := false
	pageSize := e.cfg.PageSize
	for start := 1; len(urls) < maxCandidates; start += pageSize {
		links, err := e.fetchPage(ctx, searchclient.Page{Query: query, Num: pageSize, Start: start})
		if err != nil {
			searchPagesTotal.WithLabelValues("error").Inc()
			if len(urls) == 0 {
				return nil, err
			}
			e.logger.Warn("Ошибка страницы поиска, используются уже собранные кандидаты",
				slog.String("query", query),
				slog.Int("start", start),
				slog.Int("collected", len(urls)),
				slog.String("error", err.Error()),
			)
			return truncate(urls, maxCandidates), nil
		}
		searchPagesTotal.WithLabelValues("ok").Inc()

		raw = append(raw, links...)
		urls = DedupeURLs(raw)
		if len(links) < pageSize {
			exhausted = true
			break
		}
	}

	urls = truncate(urls, maxCandidates)
	e.results.Set(key, SearchResult{URLs: urls, Exhausted: exhausted})
	e.logger.Debug("Кандидаты собраны",
		slog.String("query", query),
		slog.Int("raw", len(raw)),
		slog.Int("unique", len(urls)),
	)
	return urls, nil
}

// fetchPage — одна страница с паузой между запросами, ограничителем и повтором.
func (e *Engine) fetchPage(ctx context.Context, page searchclient.Page) ([]string, error) {
	opts := e.cfg.Retry
	opts.Label = "search"
	return retry.Execute(ctx, e.retry, opts, func(ctx context.Context) ([]string, error) {
		return limiter.Run(ctx, e.searchLimiter, func(ctx context.Context) ([]string, error) {
			if err := e.pacer.Wait(ctx); err != nil {
				return nil, err
			}
			return e.search.Search(ctx, page)
		})
	})
}

func truncate(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
