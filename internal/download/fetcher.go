package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/bigkaa/catalog-enricher/internal/retry"
)

// ErrValidation — содержимое кандидата не прошло проверку (тип, размер, формат).
var ErrValidation = errors.New("кандидат не прошёл проверку")

// maxRedirects — максимум перенаправлений при загрузке.
const maxRedirects = 5

// HTTPFetcher загружает кандидатов по HTTP с проверкой типа и размера.
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
	retry    *retry.Controller
	opts     retry.Options
	logger   *slog.Logger
}

// NewHTTPFetcher создаёт загрузчик. Каждое перенаправление повторно
// проверяется политикой CheckURL.
func NewHTTPFetcher(client *http.Client, maxBytes int64, rc *retry.Controller, opts retry.Options, logger *slog.Logger) *HTTPFetcher {
	c := *client
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("%w: слишком много перенаправлений", ErrValidation)
		}
		return CheckURL(req.URL.String())
	}
	opts.Label = "download"
	return &HTTPFetcher{
		client:   &c,
		maxBytes: maxBytes,
		retry:    rc,
		opts:     opts,
		logger:   logger.With(slog.String("component", "fetcher")),
	}
}

// Fetch загружает кандидата: предварительный HEAD (если сервер его поддерживает),
// затем GET с ограничением размера и проверкой фактического типа содержимого.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := f.precheck(ctx, rawURL); err != nil {
		return nil, err
	}

	type fetched struct {
		body        []byte
		contentType string
	}
	res, err := retry.Execute(ctx, f.retry, f.opts, func(ctx context.Context) (fetched, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return fetched{}, retry.Permanent(fmt.Errorf("%w: %v", ErrValidation, err))
		}
		req.Header.Set("Accept", "image/*")

		resp, err := f.client.Do(req)
		if err != nil {
			if errors.Is(err, ErrBlockedURL) || errors.Is(err, ErrValidation) {
				return fetched{}, retry.Permanent(err)
			}
			return fetched{}, fmt.Errorf("загрузка %s: %w", rawURL, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fetched{}, retry.NewStatusError(resp, body)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
		if err != nil {
			return fetched{}, fmt.Errorf("чтение %s: %w", rawURL, err)
		}
		return fetched{body: body, contentType: resp.Header.Get("Content-Type")}, nil
	})
	if err != nil {
		return nil, err
	}

	if int64(len(res.body)) > f.maxBytes {
		return nil, fmt.Errorf("%w: размер превышает %d байт", ErrValidation, f.maxBytes)
	}
	if !acceptableType(res.contentType) {
		return nil, fmt.Errorf("%w: Content-Type %q", ErrValidation, res.contentType)
	}
	if detected := mimetype.Detect(res.body); !strings.HasPrefix(detected.String(), "image/") {
		return nil, fmt.Errorf("%w: фактический тип %s", ErrValidation, detected.String())
	}
	return res.body, nil
}

// precheck — HEAD-запрос без повторов. Ошибки сети и статусы, отличные от 2xx,
// означают отсутствие метаданных и не блокируют загрузку.
func (f *HTTPFetcher) precheck(ctx context.Context, rawURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, ErrBlockedURL) {
			return err
		}
		f.logger.Debug("HEAD недоступен, проверка только по GET",
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
		return nil
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil
	}

	if ct := resp.Header.Get("Content-Type"); !acceptableType(ct) {
		return fmt.Errorf("%w: Content-Type %q", ErrValidation, ct)
	}
	if resp.ContentLength > f.maxBytes {
		return fmt.Errorf("%w: заявленный размер %d превышает %d байт", ErrValidation, resp.ContentLength, f.maxBytes)
	}
	return nil
}

// acceptableType — image/* или бинарный тип, который уточнится по содержимому.
// Отсутствующий заголовок тоже допустим.
func acceptableType(contentType string) bool {
	if contentType == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mt, "image/") || mt == "application/octet-stream" || mt == "binary/octet-stream"
}
