// Пакет openapi — контракт HTTP API catalog-enricher.
//
// Документ openapi.yaml встроен в бинарь. На его основе работают:
//   - RequestValidator — проверка запросов (kin-openapi openapi3filter);
//   - ServerInterface и HandlerWithOptions — маршруты chi с привязкой
//     параметров через oapi-codegen runtime.
package openapi

import (
	"context"
	_ "embed"
	"fmt"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var document []byte

var loadDocument = sync.OnceValues(func() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(document)
	if err != nil {
		return nil, fmt.Errorf("разбор openapi.yaml: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("валидация openapi.yaml: %w", err)
	}
	return doc, nil
})

// Document возвращает разобранный и проверенный документ OpenAPI.
// Документ общий на процесс и не должен изменяться.
func Document() (*openapi3.T, error) {
	return loadDocument()
}
