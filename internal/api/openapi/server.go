package openapi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"
)

// RecordId — UUID записи в пути запроса.
type RecordId = openapi_types.UUID

// ListRecordsParams — параметры запроса GET /api/v1/records.
type ListRecordsParams struct {
	Source *string
	Status *[]string
	Id     *[]string
	Limit  *int
}

// ServerInterface — операции документа openapi.yaml (operationId → метод).
type ServerInterface interface {
	// POST /api/v1/records/import
	ImportRecords(w http.ResponseWriter, r *http.Request)
	// GET /api/v1/records
	ListRecords(w http.ResponseWriter, r *http.Request, params ListRecordsParams)
	// GET /api/v1/records/{id}
	GetRecord(w http.ResponseWriter, r *http.Request, id RecordId)
	// PATCH /api/v1/records/{id}
	EditRecord(w http.ResponseWriter, r *http.Request, id RecordId)
	// POST /api/v1/records/{id}/enrich
	EnrichRecord(w http.ResponseWriter, r *http.Request, id RecordId)
	// POST /api/v1/records/{id}/translate
	TranslateRecord(w http.ResponseWriter, r *http.Request, id RecordId)
	// POST /api/v1/enrich/batch
	EnrichBatch(w http.ResponseWriter, r *http.Request)
}

// InvalidParamFormatError — параметр запроса не удалось привести к типу.
type InvalidParamFormatError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("некорректный формат параметра %s: %s", e.ParamName, e.Err.Error())
}

func (e *InvalidParamFormatError) Unwrap() error { return e.Err }

// ChiServerOptions — параметры регистрации маршрутов.
type ChiServerOptions struct {
	BaseRouter       chi.Router
	Middlewares      []func(http.Handler) http.Handler
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

// serverWrapper привязывает параметры запроса и вызывает ServerInterface.
type serverWrapper struct {
	handler      ServerInterface
	errorHandler func(w http.ResponseWriter, r *http.Request, err error)
}

func (sw *serverWrapper) ImportRecords(w http.ResponseWriter, r *http.Request) {
	sw.handler.ImportRecords(w, r)
}

func (sw *serverWrapper) ListRecords(w http.ResponseWriter, r *http.Request) {
	var params ListRecordsParams
	query := r.URL.Query()

	if err := runtime.BindQueryParameter("form", true, false, "source", query, &params.Source); err != nil {
		sw.errorHandler(w, r, &InvalidParamFormatError{ParamName: "source", Err: err})
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "status", query, &params.Status); err != nil {
		sw.errorHandler(w, r, &InvalidParamFormatError{ParamName: "status", Err: err})
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "id", query, &params.Id); err != nil {
		sw.errorHandler(w, r, &InvalidParamFormatError{ParamName: "id", Err: err})
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "limit", query, &params.Limit); err != nil {
		sw.errorHandler(w, r, &InvalidParamFormatError{ParamName: "limit", Err: err})
		return
	}

	sw.handler.ListRecords(w, r, params)
}

// withRecordID привязывает {id} из пути и вызывает fn.
func (sw *serverWrapper) withRecordID(fn func(w http.ResponseWriter, r *http.Request, id RecordId)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var id RecordId
		err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id,
			runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
		if err != nil {
			sw.errorHandler(w, r, &InvalidParamFormatError{ParamName: "id", Err: err})
			return
		}
		fn(w, r, id)
	}
}

func (sw *serverWrapper) EnrichBatch(w http.ResponseWriter, r *http.Request) {
	sw.handler.EnrichBatch(w, r)
}

// HandlerWithOptions регистрирует маршруты документа на options.BaseRouter.
func HandlerWithOptions(si ServerInterface, options ChiServerOptions) http.Handler {
	r := options.BaseRouter
	if r == nil {
		r = chi.NewRouter()
	}
	errorHandler := options.ErrorHandlerFunc
	if errorHandler == nil {
		errorHandler = func(w http.ResponseWriter, _ *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}
	sw := &serverWrapper{handler: si, errorHandler: errorHandler}

	r.Group(func(r chi.Router) {
		for _, mw := range options.Middlewares {
			r.Use(mw)
		}
		r.Post("/api/v1/records/import", sw.ImportRecords)
		r.Get("/api/v1/records", sw.ListRecords)
		r.Get("/api/v1/records/{id}", sw.withRecordID(si.GetRecord))
		r.Patch("/api/v1/records/{id}", sw.withRecordID(si.EditRecord))
		r.Post("/api/v1/records/{id}/enrich", sw.withRecordID(si.EnrichRecord))
		r.Post("/api/v1/records/{id}/translate", sw.withRecordID(si.TranslateRecord))
		r.Post("/api/v1/enrich/batch", sw.EnrichBatch)
	})
	return r
}
