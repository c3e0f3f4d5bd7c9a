package model

import (
	"slices"
	"time"
)

// Status — статус записи каталога.
type Status string

const (
	StatusImported     Status = "imported"
	StatusTranslated   Status = "translated"
	StatusMediaUpdated Status = "media_updated"
	StatusReady        Status = "ready"
	StatusError        Status = "error"
)

// Valid проверяет, входит ли статус в допустимый набор.
func (s Status) Valid() bool {
	switch s {
	case StatusImported, StatusTranslated, StatusMediaUpdated, StatusReady, StatusError:
		return true
	}
	return false
}

// Identity — естественный ключ записи: источник + URL страницы в источнике.
type Identity struct {
	Source    string
	SourceURL string
}

// Record — запись каталога.
// Хранится в таблице records, уникальна по (source, source_url).
type Record struct {
	// ID — UUID записи
	ID string
	// Source — система-источник (магазин)
	Source string
	// SourceURL — URL карточки в источнике
	SourceURL string
	// Brand — бренд в исходном виде
	Brand string
	// Category — категория в источнике
	Category string
	// Title — рабочее название (блокируемое поле)
	Title string
	// OriginalTitle — название на языке источника
	OriginalTitle string
	// TranslatedText — переведённое название
	TranslatedText string
	// Price — цена в минимальных единицах валюты, >= 0
	Price int64
	// OriginalMedia — URL изображений, найденных в источнике
	OriginalMedia []string
	// ProcessedMedia — URL локально сохранённых изображений
	ProcessedMedia []string
	// LockedFields — поля, защищённые от перезаписи импортом
	LockedFields LockSet
	// Status — статус обработки
	Status Status
	// Notes — диагностический журнал (только дописывается)
	Notes string
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// Identity возвращает естественный ключ записи.
func (r *Record) Identity() Identity {
	return Identity{Source: r.Source, SourceURL: r.SourceURL}
}

// MediaCounts — количество уже имеющихся изображений записи.
type MediaCounts struct {
	Processed int
	Original  int
}

// Total возвращает суммарное количество изображений.
func (c MediaCounts) Total() int {
	return c.Processed + c.Original
}

// MediaView — узкий интерфейс чтения записи для оркестратора обогащения.
type MediaView interface {
	GetID() string
	GetMediaCounts() MediaCounts
}

// GetID реализует MediaView.
func (r *Record) GetID() string { return r.ID }

// GetMediaCounts реализует MediaView.
func (r *Record) GetMediaCounts() MediaCounts {
	return MediaCounts{Processed: len(r.ProcessedMedia), Original: len(r.OriginalMedia)}
}

// HasOriginalMedia проверяет, встречается ли URL среди исходных изображений.
func (r *Record) HasOriginalMedia(url string) bool {
	return slices.Contains(r.OriginalMedia, url)
}
