// Пакет searchclient — HTTP-клиент постраничного API поиска изображений.
// Контракт: GET {baseURL}?q=&num=&start= → {"items":[{"link":"..."}]}.
// Коды ответа, отличные от 2xx, возвращаются как *retry.StatusError.
package searchclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/bigkaa/catalog-enricher/internal/retry"
)

// maxResponseBytes — ограничение размера ответа поиска.
const maxResponseBytes = 2 << 20

// Page — запрос одной страницы.
type Page struct {
	// Query — поисковая строка
	Query string
	// Num — размер страницы
	Num int
	// Start — позиция первого результата (с 1)
	Start int
}

// searchResponse — ответ API поиска.
type searchResponse struct {
	Items []struct {
		Link string `json:"link"`
	} `json:"items"`
}

// Client — клиент API поиска.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	cx         string
	logger     *slog.Logger
}

// New создаёт клиент поиска.
// cx — идентификатор поисковой системы, участвует в ключе кэша результатов.
func New(httpClient *http.Client, baseURL, apiKey, cx string, logger *slog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
		cx:         cx,
		logger:     logger.With(slog.String("component", "search_client")),
	}
}

// CX возвращает идентификатор поисковой системы.
func (c *Client) CX() string {
	return c.cx
}

// BaseURL возвращает адрес API (для мониторинга зависимостей).
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Search запрашивает одну страницу результатов и возвращает ссылки как есть.
func (c *Client) Search(ctx context.Context, page Page) ([]string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("некорректный URL поиска: %w", err))
	}
	q := u.Query()
	q.Set("q", page.Query)
	q.Set("num", strconv.Itoa(page.Num))
	q.Set("start", strconv.Itoa(page.Start))
	q.Set("searchType", "image")
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}
	if c.cx != "" {
		q.Set("cx", c.cx)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("создание запроса поиска: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос поиска: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("чтение ответа поиска: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, retry.NewStatusError(resp, body)
	}

	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, retry.Permanent(fmt.Errorf("декодирование ответа поиска: %w", err))
	}

	links := make([]string, 0, len(sr.Items))
	for _, it := range sr.Items {
		links = append(links, it.Link)
	}
	c.logger.Debug("Страница поиска получена",
		slog.String("query", page.Query),
		slog.Int("start", page.Start),
		slog.Int("items", len(links)),
	)
	return links, nil
}
