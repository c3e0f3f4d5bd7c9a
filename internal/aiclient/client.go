// Пакет aiclient — клиент AI API в формате chat completions.
// Ответ модели запрашивается как JSON-объект и разбирается в типизированные структуры.
package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bigkaa/catalog-enricher/internal/retry"
)

// ErrUnusablePayload — ответ модели не удалось разобрать или он пуст.
var ErrUnusablePayload = errors.New("непригодный ответ AI")

const maxResponseBytes = 1 << 20

// Input — исходные данные записи для подсказки модели.
type Input struct {
	Store string
	Brand string
	Title string
}

// TitleNormalization — результат нормализации названия.
type TitleNormalization struct {
	BrandEn     string `json:"brandEn"`
	ModelEn     string `json:"modelEn"`
	TitleMn     string `json:"titleMn"`
	SearchQuery string `json:"searchQuery"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

const cleanQueryPrompt = `Ты очищаешь названия товаров для поиска изображений.
Удали рекламные и комплектные слова (подарок, набор, акция, 증정, 기획, 세트), скобки с ними,
объедини повторяющиеся объёмы ("40ml+40ml", "40ml x 2" → "40ml").
Верни JSON {"query": "<бренд и модель, не более 8 слов>"}.`

const normalizeTitlePrompt = `Ты нормализуешь карточку товара.
Верни JSON {"brandEn": "...", "modelEn": "...", "titleMn": "<название на монгольском>", "searchQuery": "<короткий поисковый запрос>"}.`

// Client — клиент AI API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	logger     *slog.Logger
}

// New создаёт клиент. baseURL — адрес без суффикса /chat/completions.
func New(httpClient *http.Client, baseURL, apiKey, model string, logger *slog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		logger:     logger.With(slog.String("component", "ai_client")),
	}
}

// BaseURL возвращает адрес API (для мониторинга зависимостей).
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CleanQuery просит модель построить короткий поисковый запрос.
func (c *Client) CleanQuery(ctx context.Context, in Input) (string, error) {
	var out struct {
		Query string `json:"query"`
	}
	if err := c.complete(ctx, cleanQueryPrompt, describe(in), &out); err != nil {
		return "", err
	}
	q := strings.TrimSpace(out.Query)
	if q == "" {
		return "", retry.Permanent(fmt.Errorf("%w: пустой query", ErrUnusablePayload))
	}
	return q, nil
}

// NormalizeTitle просит модель разобрать название на бренд, модель и перевод.
func (c *Client) NormalizeTitle(ctx context.Context, in Input) (TitleNormalization, error) {
	var out TitleNormalization
	if err := c.complete(ctx, normalizeTitlePrompt, describe(in), &out); err != nil {
		return TitleNormalization{}, err
	}
	if strings.TrimSpace(out.TitleMn) == "" && strings.TrimSpace(out.SearchQuery) == "" {
		return TitleNormalization{}, retry.Permanent(fmt.Errorf("%w: пустые titleMn и searchQuery", ErrUnusablePayload))
	}
	return out, nil
}

func describe(in Input) string {
	return fmt.Sprintf("store: %s\nbrand: %s\ntitle: %s", in.Store, in.Brand, in.Title)
}

// complete выполняет один запрос chat completions и разбирает JSON-содержимое ответа в out.
func (c *Client) complete(ctx context.Context, system, user string, out any) error {
	payload, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return retry.Permanent(fmt.Errorf("кодирование запроса AI: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(fmt.Errorf("создание запроса AI: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("запрос AI: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("чтение ответа AI: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return retry.NewStatusError(resp, body)
	}

	// Непригодный ответ 200 не повторяется: повтор оплачивается, а результат тот же.
	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return retry.Permanent(fmt.Errorf("%w: %v", ErrUnusablePayload, err))
	}
	if len(cr.Choices) == 0 {
		return retry.Permanent(fmt.Errorf("%w: нет choices", ErrUnusablePayload))
	}
	content := stripCodeFence(cr.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), out); err != nil {
		c.logger.Debug("Ответ AI не является JSON", slog.String("content", content))
		return retry.Permanent(fmt.Errorf("%w: %v", ErrUnusablePayload, err))
	}
	return nil
}

// stripCodeFence снимает обёртку ```json ... ```, которую модели иногда добавляют.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
