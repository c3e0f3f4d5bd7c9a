// handler.go — основной обработчик API, реализующий openapi.ServerInterface.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/catalog-enricher/internal/api/errors"
	"github.com/bigkaa/catalog-enricher/internal/api/openapi"
	"github.com/bigkaa/catalog-enricher/internal/domain/model"
	"github.com/bigkaa/catalog-enricher/internal/merge"
	"github.com/bigkaa/catalog-enricher/internal/repository"
	"github.com/bigkaa/catalog-enricher/internal/service"
)

// maxBodyBytes — лимит тела запроса (импорт до 1000 записей).
const maxBodyBytes = 16 << 20

// RecordService — операции над записями.
type RecordService interface {
	Get(ctx context.Context, id string) (*model.Record, error)
	List(ctx context.Context, filter repository.RecordFilter, limit int) ([]*model.Record, error)
	EditRecord(ctx context.Context, id string, edit service.RecordEdit) (*model.Record, error)
	TranslateOne(ctx context.Context, id string) (*model.Record, error)
}

// ImportService — слияние импортированных записей.
type ImportService interface {
	MergeImport(ctx context.Context, incoming []*merge.Incoming) (*model.ImportResult, error)
}

// EnrichmentService — обогащение записей изображениями.
type EnrichmentService interface {
	EnrichOne(ctx context.Context, id string, desired int, force bool) (*model.EnrichResult, error)
	EnrichBatch(ctx context.Context, req service.BatchRequest) (*model.BatchResult, error)
}

// APIHandler — основной обработчик API.
// Реализует openapi.ServerInterface, делегируя запросы в сервисный слой.
type APIHandler struct {
	health     *HealthHandler
	records    RecordService
	imports    ImportService
	enrichment EnrichmentService
	listLimit  int
	logger     *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
// listLimit — верхняя граница limit в выборке записей.
func NewAPIHandler(
	health *HealthHandler,
	records RecordService,
	imports ImportService,
	enrichment EnrichmentService,
	listLimit int,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:     health,
		records:    records,
		imports:    imports,
		enrichment: enrichment,
		listLimit:  max(listLimit, 1),
		logger:     logger.With(slog.String("component", "api_handler")),
	}
}

// Проверка соответствия интерфейсу на этапе компиляции.
var _ openapi.ServerInterface = (*APIHandler)(nil)

// Routes регистрирует health endpoints и маршруты API из openapi.yaml.
// Запросы к API проходят проверку по документу до вызова обработчиков.
// Встроенный документ проверяется тестами, поэтому ошибка его загрузки — паника.
func (h *APIHandler) Routes(r chi.Router) {
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)
	r.Get("/metrics", h.health.GetMetrics)

	validator, err := openapi.RequestValidator(maxBodyBytes, h.handleRequestError)
	if err != nil {
		panic(fmt.Sprintf("openapi: %v", err))
	}
	openapi.HandlerWithOptions(h, openapi.ChiServerOptions{
		BaseRouter:       r,
		Middlewares:      []func(http.Handler) http.Handler{validator},
		ErrorHandlerFunc: h.handleRequestError,
	})
}

// handleRequestError отвечает на запрос, не прошедший проверку по openapi.yaml
// или привязку параметров.
func (h *APIHandler) handleRequestError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Debug("Запрос отклонён проверкой OpenAPI",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	apierrors.ValidationError(w, err.Error())
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON читает тело запроса в dst. Пустое тело допустимо, если allowEmpty;
// strict запрещает неизвестные поля.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty, strict bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("тело запроса больше %d байт", maxErr.Limit)
		}
		return fmt.Errorf("некорректный JSON в теле запроса: %v", err)
	}
	return nil
}

// handleServiceError маппит ошибки сервисного слоя в HTTP-ответы.
func (h *APIHandler) handleServiceError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrIdentityConflict):
		apierrors.IdentityConflict(w, err.Error())
	case errors.Is(err, service.ErrConflict):
		apierrors.Conflict(w, err.Error())
	case errors.Is(err, service.ErrUpstream):
		apierrors.BadGateway(w, err.Error())
	case errors.Is(err, service.ErrUnavailable):
		apierrors.Unavailable(w, err.Error())
	default:
		h.logger.Error("Внутренняя ошибка",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка: "+op)
	}
}
