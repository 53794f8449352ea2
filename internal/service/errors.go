// errors.go: ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"

	"github.com/bigkaa/character-module/internal/repository"
	"github.com/bigkaa/character-module/internal/rmclient"
)

var (
	// ErrValidation: некорректные параметры пагинации.
	ErrValidation = errors.New("ошибка валидации")
	// ErrInvalidSortField: поле сортировки вне списка допустимых (id, name).
	ErrInvalidSortField = repository.ErrInvalidSortField
	// ErrUpstreamUnavailable: внешний API недоступен или лимит повторов исчерпан.
	ErrUpstreamUnavailable = rmclient.ErrUpstreamUnavailable
	// ErrStoreUnreachable: PostgreSQL недоступен.
	ErrStoreUnreachable = repository.ErrStoreUnreachable
)
