// Пакет download — загрузка кандидатов и размещение их в слотах записи.
//
// Кандидаты обрабатываются строго последовательно: индекс очередного слота
// равен startIndex + downloaded, где downloaded растёт только после успешного
// сохранения. Так индексы идут без пропусков и не совпадают даже при
// неудачах отдельных кандидатов.
package download

import (
	"context"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/catalog-enricher/internal/retry"
)

var downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ce_downloads_total",
	Help: "Обработанные кандидаты по результату",
}, []string{"result"})

// Fetcher загружает сырые байты кандидата.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// MediaNormalizer приводит изображение к каноническому формату.
type MediaNormalizer interface {
	Normalize(data []byte) ([]byte, error)
}

// Store сохраняет слот записи и возвращает публичный URL.
type Store interface {
	Save(ctx context.Context, recordID string, index int, data []byte) (string, error)
}

// Request — задание на размещение.
type Request struct {
	RecordID string
	// StartIndex — количество уже сохранённых изображений на момент старта
	StartIndex int
	// Needed — сколько изображений требуется добавить
	Needed     int
	Candidates []string
}

// StoredMedia — сохранённый кандидат.
type StoredMedia struct {
	Index     int
	URL       string
	SourceURL string
	// AttemptIndex — позиция кандидата в исходном списке
	AttemptIndex int
}

// CandidateError — ошибка по одному кандидату.
type CandidateError struct {
	URL          string
	AttemptIndex int
	Kind         string
	Reason       string
}

// Result — итог размещения.
type Result struct {
	Stored []StoredMedia
	Errors []CandidateError
}

// Downloaded возвращает количество сохранённых кандидатов.
func (r Result) Downloaded() int {
	return len(r.Stored)
}

// URLs возвращает публичные URL сохранённых слотов по порядку индексов.
func (r Result) URLs() []string {
	out := make([]string, len(r.Stored))
	for i, s := range r.Stored {
		out[i] = s.URL
	}
	return out
}

// Allocator размещает кандидатов в слотах записи.
type Allocator struct {
	fetcher    Fetcher
	normalizer MediaNormalizer
	store      Store
	logger     *slog.Logger
}

// NewAllocator создаёт Allocator.
func NewAllocator(fetcher Fetcher, normalizer MediaNormalizer, store Store, logger *slog.Logger) *Allocator {
	return &Allocator{
		fetcher:    fetcher,
		normalizer: normalizer,
		store:      store,
		logger:     logger.With(slog.String("component", "allocator")),
	}
}

// Allocate обрабатывает кандидатов по одному, пока не наберётся Needed
// или не закончится список. Ошибки кандидатов копятся в Result.Errors.
func (a *Allocator) Allocate(ctx context.Context, req Request) Result {
	var res Result
	downloaded := 0

	for attempt, candidate := range req.Candidates {
		if downloaded >= req.Needed {
			break
		}
		if ctx.Err() != nil {
			res.Errors = append(res.Errors, CandidateError{
				URL: candidate, AttemptIndex: attempt, Kind: "canceled", Reason: ctx.Err().Error(),
			})
			break
		}

		index := req.StartIndex + downloaded
		url, kind, err := a.place(ctx, req.RecordID, index, candidate)
		if err != nil {
			downloadsTotal.WithLabelValues(kind).Inc()
			a.logger.Warn("Кандидат отклонён",
				slog.String("record_id", req.RecordID),
				slog.Int("attempt_index", attempt),
				slog.String("url", candidate),
				slog.String("kind", kind),
				slog.String("error", err.Error()),
			)
			res.Errors = append(res.Errors, CandidateError{
				URL: candidate, AttemptIndex: attempt, Kind: kind, Reason: err.Error(),
			})
			continue
		}

		downloadsTotal.WithLabelValues("stored").Inc()
		a.logger.Debug("Кандидат сохранён",
			slog.String("record_id", req.RecordID),
			slog.Int("attempt_index", attempt),
			slog.Int("index", index),
		)
		res.Stored = append(res.Stored, StoredMedia{
			Index: index, URL: url, SourceURL: candidate, AttemptIndex: attempt,
		})
		downloaded++
	}
	return res
}

// place проходит конвейер одного кандидата и возвращает вид ошибки для метрик.
func (a *Allocator) place(ctx context.Context, recordID string, index int, candidate string) (string, string, error) {
	if err := CheckURL(candidate); err != nil {
		return "", "blocked", err
	}
	data, err := a.fetcher.Fetch(ctx, candidate)
	if err != nil {
		return "", fetchErrorKind(err), err
	}
	media, err := a.normalizer.Normalize(data)
	if err != nil {
		return "", "validation", err
	}
	url, err := a.store.Save(ctx, recordID, index, media)
	if err != nil {
		return "", "storage", err
	}
	return url, "", nil
}

func fetchErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrBlockedURL):
		return "blocked"
	case errors.Is(err, ErrValidation):
		return "validation"
	}
	var se *retry.StatusError
	if errors.As(err, &se) {
		return "http"
	}
	return "network"
}
