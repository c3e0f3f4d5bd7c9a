// enrich.go — обработчики обогащения записей изображениями.
package handlers

import (
	"net/http"

	apierrors "github.com/bigkaa/catalog-enricher/internal/api/errors"
	"github.com/bigkaa/catalog-enricher/internal/api/openapi"
	"github.com/bigkaa/catalog-enricher/internal/domain/model"
	"github.com/bigkaa/catalog-enricher/internal/repository"
	"github.com/bigkaa/catalog-enricher/internal/service"
)

type enrichRequest struct {
	DesiredCount *int `json:"desiredCount,omitempty"`
	Force        bool `json:"force,omitempty"`
}

type batchFilter struct {
	Source string         `json:"source,omitempty"`
	Status []model.Status `json:"status,omitempty"`
	IDs    []string       `json:"ids,omitempty"`
}

type batchRequest struct {
	Filter       batchFilter `json:"filter"`
	Limit        *int        `json:"limit,omitempty"`
	DesiredCount *int        `json:"desiredCount,omitempty"`
	Force        bool        `json:"force,omitempty"`
}

// EnrichRecord — POST /api/v1/records/{id}/enrich.
// Неудача обогащения возвращается с 200 и state=failed в теле.
func (h *APIHandler) EnrichRecord(w http.ResponseWriter, r *http.Request, id openapi.RecordId) {
	var req enrichRequest
	if err := decodeJSON(w, r, &req, true, true); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	desired, ok := positiveOrZero(req.DesiredCount)
	if !ok {
		apierrors.ValidationError(w, "desiredCount должен быть >= 1")
		return
	}

	result, err := h.enrichment.EnrichOne(r.Context(), id.String(), desired, req.Force)
	if err != nil {
		h.handleServiceError(w, err, "обогащение записи")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// EnrichBatch — POST /api/v1/enrich/batch.
func (h *APIHandler) EnrichBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSON(w, r, &req, true, true); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	desired, ok := positiveOrZero(req.DesiredCount)
	if !ok {
		apierrors.ValidationError(w, "desiredCount должен быть >= 1")
		return
	}
	limit, ok := positiveOrZero(req.Limit)
	if !ok {
		apierrors.ValidationError(w, "limit должен быть >= 1")
		return
	}

	result, err := h.enrichment.EnrichBatch(r.Context(), service.BatchRequest{
		Filter: repository.RecordFilter{
			Source:   req.Filter.Source,
			Statuses: req.Filter.Status,
			IDs:      req.Filter.IDs,
		},
		Limit:        limit,
		DesiredCount: desired,
		Force:        req.Force,
	})
	if err != nil {
		h.handleServiceError(w, err, "пакетное обогащение")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// positiveOrZero: nil → 0 (значение по умолчанию), иначе значение >= 1.
func positiveOrZero(v *int) (int, bool) {
	if v == nil {
		return 0, true
	}
	if *v < 1 {
		return 0, false
	}
	return *v, true
}
