// Пакет model содержит доменные модели Character Module.
// Character соответствует таблице characters.
package model

import "time"

// Character хранит локальную запись персонажа.
// ID приходит из внешнего API и локально не генерируется.
type Character struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	Species string `json:"species"`
	// Origin содержит название места происхождения (origin.name во внешнем API)
	Origin string `json:"origin"`
}

// Допустимые поля сортировки.
const (
	SortByID   = "id"
	SortByName = "name"
)

// Границы размера страницы.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// QueryCriteria описывает параметры фильтрации, сортировки и пагинации
// одного запроса. Пустая строка в фильтре означает, что фильтр не применяется.
type QueryCriteria struct {
	SortField      string
	SortDescending bool
	Page           int
	PageSize       int

	// NameContains: подстрока без учёта регистра
	NameContains string
	// StatusEquals: точное совпадение
	StatusEquals string
	// SpeciesEquals: точное совпадение
	SpeciesEquals string
	// OriginContains: подстрока без учёта регистра
	OriginContains string
}

// Offset возвращает смещение для выбранной страницы.
func (c QueryCriteria) Offset() int {
	if c.Page < 1 {
		return 0
	}
	return (c.Page - 1) * c.PageSize
}

// QueryResult содержит одну страницу результата.
type QueryResult struct {
	Total     int
	Page      int
	PageSize  int
	PageCount int
	Results   []Character
}

// PageCount вычисляет ceil(total / pageSize).
func PageCount(total, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

// SyncResult описывает итог одного прохода синхронизации.
type SyncResult struct {
	// SyncID: идентификатор прохода для корреляции логов
	SyncID string
	// Skipped == true, если хранилище уже было заполнено и проход не выполнялся
	Skipped bool
	// PagesFetched: количество полученных страниц внешнего API
	PagesFetched int
	// RecordsSeen: всего записей во внешнем API
	RecordsSeen int
	// Inserted: новых строк вставлено
	Inserted int
	// Duplicates: записей, которые уже были в хранилище
	Duplicates int
	// Characters: все прошедшие фильтр записи (вставленные и уже существовавшие)
	Characters  []Character
	StartedAt   time.Time
	CompletedAt time.Time
}
