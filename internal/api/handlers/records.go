// records.go — обработчики записей каталога:
// импорт, выборка, чтение, правка и перевод.
package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/bigkaa/catalog-enricher/internal/api/errors"
	"github.com/bigkaa/catalog-enricher/internal/api/middleware"
	"github.com/bigkaa/catalog-enricher/internal/api/openapi"
	"github.com/bigkaa/catalog-enricher/internal/domain/model"
	"github.com/bigkaa/catalog-enricher/internal/merge"
	"github.com/bigkaa/catalog-enricher/internal/repository"
	"github.com/bigkaa/catalog-enricher/internal/service"
)

// defaultListLimit — limit выборки по умолчанию.
const defaultListLimit = 100

type importRequest struct {
	Records []*merge.Incoming `json:"records"`
}

// ImportRecords — POST /api/v1/records/import.
func (h *APIHandler) ImportRecords(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := decodeJSON(w, r, &req, false, false); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	result, err := h.imports.MergeImport(r.Context(), req.Records)
	if err != nil {
		h.handleServiceError(w, err, "импорт записей")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListRecords — GET /api/v1/records?source=&status=&id=&limit=.
// status и id принимают несколько значений через запятую или повтор параметра.
func (h *APIHandler) ListRecords(w http.ResponseWriter, r *http.Request, params openapi.ListRecordsParams) {
	limit := defaultListLimit
	if params.Limit != nil {
		if *params.Limit < 1 {
			apierrors.ValidationError(w, "limit должен быть положительным целым числом")
			return
		}
		limit = *params.Limit
	}
	limit = min(limit, h.listLimit)

	var filter repository.RecordFilter
	if params.Source != nil {
		filter.Source = strings.TrimSpace(*params.Source)
	}
	if params.Id != nil {
		filter.IDs = splitQuery(*params.Id)
	}
	var statuses []string
	if params.Status != nil {
		statuses = *params.Status
	}
	for _, s := range splitQuery(statuses) {
		filter.Statuses = append(filter.Statuses, model.Status(s))
	}

	records, err := h.records.List(r.Context(), filter, limit)
	if err != nil {
		h.handleServiceError(w, err, "выборка записей")
		return
	}
	writeJSON(w, http.StatusOK, toRecordList(records))
}

// GetRecord — GET /api/v1/records/{id}.
func (h *APIHandler) GetRecord(w http.ResponseWriter, r *http.Request, id openapi.RecordId) {
	rec, err := h.records.Get(r.Context(), id.String())
	if err != nil {
		h.handleServiceError(w, err, "чтение записи")
		return
	}
	writeJSON(w, http.StatusOK, toRecordResponse(rec))
}

// EditRecord — PATCH /api/v1/records/{id}.
// Изменённые поля блокируются от перезаписи импортом.
func (h *APIHandler) EditRecord(w http.ResponseWriter, r *http.Request, recordID openapi.RecordId) {
	var edit service.RecordEdit
	if err := decodeJSON(w, r, &edit, false, true); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	id := recordID.String()
	rec, err := h.records.EditRecord(r.Context(), id, edit)
	if err != nil {
		h.handleServiceError(w, err, "правка записи")
		return
	}

	if sub := middleware.SubjectFromContext(r.Context()); sub != "" {
		h.logger.Info("Правка записи пользователем",
			slog.String("record_id", id),
			slog.String("subject", sub),
		)
	}
	writeJSON(w, http.StatusOK, toRecordResponse(rec))
}

// TranslateRecord — POST /api/v1/records/{id}/translate.
func (h *APIHandler) TranslateRecord(w http.ResponseWriter, r *http.Request, id openapi.RecordId) {
	rec, err := h.records.TranslateOne(r.Context(), id.String())
	if err != nil {
		h.handleServiceError(w, err, "перевод записи")
		return
	}
	writeJSON(w, http.StatusOK, toRecordResponse(rec))
}

// splitQuery разбирает повторяющиеся параметры со значениями через запятую.
func splitQuery(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
