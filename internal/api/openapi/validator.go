package openapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"
)

// ValidationErrorFunc пишет ответ на запрос, не прошедший проверку.
type ValidationErrorFunc func(w http.ResponseWriter, r *http.Request, err error)

// RequestValidator — middleware проверки запросов по документу OpenAPI.
// Запросы к путям вне документа (health, metrics, media) пропускаются без проверки.
// maxBodyBytes ограничивает тело запроса до чтения валидатором.
func RequestValidator(maxBodyBytes int64, onError ValidationErrorFunc) (func(http.Handler) http.Handler, error) {
	doc, err := Document()
	if err != nil {
		return nil, err
	}
	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("маршрутизатор OpenAPI: %w", err)
	}

	// Аутентификация проверяется JWT middleware, здесь — только форма запроса.
	options := &openapi3filter.Options{
		AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, pathParams, err := router.FindRoute(r)
			if err != nil {
				if errors.Is(err, routers.ErrPathNotFound) || errors.Is(err, routers.ErrMethodNotAllowed) {
					next.ServeHTTP(w, r)
					return
				}
				onError(w, r, err)
				return
			}

			if r.Body != nil && maxBodyBytes > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
			}
			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: pathParams,
				Route:      route,
				Options:    options,
			}
			if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
				onError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}, nil
}
