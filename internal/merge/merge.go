// Пакет merge — построение плана слияния входящей записи с сохранённой.
//
// План содержит только те колонки, которые импорт имеет право записать:
// неблокируемые поля пишутся всегда, блокируемые — только если поле
// присутствует во входящей записи и не входит в LockSet существующей.
package merge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/bigkaa/catalog-enricher/internal/domain/model"
)

// ErrInvalidRecord — входящая запись некорректна.
var ErrInvalidRecord = errors.New("некорректная входящая запись")

// Incoming — свежая запись из источника.
// Nil-значения блокируемых полей означают «поле не передано».
type Incoming struct {
	Source        string   `json:"source"`
	SourceURL     string   `json:"sourceUrl"`
	Brand         string   `json:"brand"`
	Category      string   `json:"category"`
	OriginalTitle string   `json:"originalTitle"`
	OriginalMedia []string `json:"originalMedia"`

	Title          *string       `json:"title,omitempty"`
	Price          *int64        `json:"price,omitempty"`
	TranslatedText *string       `json:"translatedText,omitempty"`
	ProcessedMedia []string      `json:"processedMedia,omitempty"`
	Status         *model.Status `json:"status,omitempty"`
	Notes          *string       `json:"notes,omitempty"`
}

// Identity возвращает нормализованный естественный ключ.
func (in *Incoming) Identity() model.Identity {
	return model.Identity{
		Source:    strings.TrimSpace(in.Source),
		SourceURL: strings.TrimSpace(in.SourceURL),
	}
}

// Validate проверяет обязательные поля и диапазоны значений.
func (in *Incoming) Validate() error {
	id := in.Identity()
	if id.Source == "" {
		return fmt.Errorf("%w: source обязателен", ErrInvalidRecord)
	}
	if id.SourceURL == "" {
		return fmt.Errorf("%w: sourceUrl обязателен", ErrInvalidRecord)
	}
	if in.Price != nil && *in.Price < 0 {
		return fmt.Errorf("%w: отрицательная цена %d (%s)", ErrInvalidRecord, *in.Price, id.SourceURL)
	}
	if in.Status != nil && !in.Status.Valid() {
		return fmt.Errorf("%w: неизвестный статус %q", ErrInvalidRecord, *in.Status)
	}
	return nil
}

// Column — колонка плана.
type Column struct {
	Name  string
	Value any
	// Lockable — колонка блокируемого поля; при записи дополнительно
	// проверяется актуальный LockSet строки
	Lockable bool
}

// Plan — запись для upsert по идентичности.
type Plan struct {
	// ID — UUID на случай вставки; для существующей строки игнорируется
	ID       string
	Identity model.Identity
	Columns  []Column
}

// ColumnNames возвращает имена колонок плана по порядку.
func (p *Plan) ColumnNames() []string {
	names := make([]string, len(p.Columns))
	for i, c := range p.Columns {
		names[i] = c.Name
	}
	return names
}

// Has сообщает, пишет ли план колонку name.
func (p *Plan) Has(name string) bool {
	for _, c := range p.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// BuildPlan строит план для входящей записи с учётом LockSet существующей.
// Для новой записи locks пуст.
func BuildPlan(in *Incoming, locks model.LockSet) Plan {
	id := in.Identity()
	p := Plan{
		ID:       uuid.New().String(),
		Identity: id,
		Columns: []Column{
			{Name: "source", Value: id.Source},
			{Name: "source_url", Value: id.SourceURL},
			{Name: "brand", Value: strings.TrimSpace(in.Brand)},
			{Name: "category", Value: strings.TrimSpace(in.Category)},
			{Name: "original_title", Value: in.OriginalTitle},
			{Name: "original_media", Value: nonNil(in.OriginalMedia)},
		},
	}

	lockable := func(f model.Field, present bool, value any) {
		if present && !locks.Has(f) {
			p.Columns = append(p.Columns, Column{Name: string(f), Value: value, Lockable: true})
		}
	}
	lockable(model.FieldTitle, in.Title != nil, deref(in.Title))
	lockable(model.FieldPrice, in.Price != nil, deref(in.Price))
	lockable(model.FieldTranslatedText, in.TranslatedText != nil, deref(in.TranslatedText))
	lockable(model.FieldProcessedMedia, in.ProcessedMedia != nil, in.ProcessedMedia)
	if in.Status != nil {
		lockable(model.FieldStatus, true, string(*in.Status))
	}
	lockable(model.FieldNotes, in.Notes != nil, deref(in.Notes))

	return p
}

func deref[T any](v *T) T {
	var zero T
	if v == nil {
		return zero
	}
	return *v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
