// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/bigkaa/catalog-enricher/internal/repository"
)

var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — запись изменена конкурентно.
	ErrConflict = errors.New("конфликт — запись изменена конкурентно")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrIdentityConflict — нарушение уникальности (source, sourceUrl).
	// Признак ошибки нормализации идентичности, а не штатная ситуация.
	ErrIdentityConflict = errors.New("конфликт идентичности записи")
	// ErrUnavailable — функция отключена конфигурацией.
	ErrUnavailable = errors.New("функция недоступна")
	// ErrUpstream — внешний API вернул ошибку или непригодный ответ.
	ErrUpstream = errors.New("ошибка внешнего API")
)

// validateID проверяет обязательный UUID записи.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: не указан ID записи", ErrValidation)
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: некорректный ID записи %q", ErrValidation, id)
	}
	return nil
}

// mapRepoError переводит ошибки репозитория в ошибки сервиса.
func mapRepoError(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}
