package model

import (
	"fmt"
	"slices"
)

// Field — имя блокируемого поля записи.
type Field string

const (
	FieldTitle          Field = "title"
	FieldPrice          Field = "price"
	FieldTranslatedText Field = "translated_text"
	FieldProcessedMedia Field = "processed_media"
	FieldStatus         Field = "status"
	FieldNotes          Field = "notes"
)

// LockableFields — полный перечень блокируемых полей.
var LockableFields = []Field{
	FieldTitle, FieldPrice, FieldTranslatedText,
	FieldProcessedMedia, FieldStatus, FieldNotes,
}

// ParseField проверяет имя поля и возвращает Field.
func ParseField(name string) (Field, error) {
	f := Field(name)
	if !slices.Contains(LockableFields, f) {
		return "", fmt.Errorf("неизвестное блокируемое поле %q", name)
	}
	return f, nil
}

// LockSet — набор полей, которые импорт не должен перезаписывать.
// Хранится отсортированным, без дубликатов.
type LockSet []Field

// NewLockSet строит нормализованный LockSet.
func NewLockSet(fields ...Field) LockSet {
	ls := make(LockSet, 0, len(fields))
	for _, f := range fields {
		if !slices.Contains(ls, f) {
			ls = append(ls, f)
		}
	}
	slices.Sort(ls)
	return ls
}

// Has проверяет, заблокировано ли поле.
func (ls LockSet) Has(f Field) bool {
	return slices.Contains(ls, f)
}

// Strings возвращает имена полей (для записи в text[]).
func (ls LockSet) Strings() []string {
	out := make([]string, len(ls))
	for i, f := range ls {
		out[i] = string(f)
	}
	return out
}

// LockSetFromStrings разбирает сохранённый набор, пропуская неизвестные имена.
func LockSetFromStrings(names []string) LockSet {
	fields := make([]Field, 0, len(names))
	for _, n := range names {
		if f, err := ParseField(n); err == nil {
			fields = append(fields, f)
		}
	}
	return NewLockSet(fields...)
}

// ComputeNewLockSet вычисляет LockSet после пользовательского редактирования.
// Отредактированные поля добавляются, явные разблокировки удаляются.
// Поле, которое одновременно редактируется и разблокируется, остаётся заблокированным.
func ComputeNewLockSet(current LockSet, edited, unlocks []Field) LockSet {
	next := make([]Field, 0, len(current)+len(edited))
	for _, f := range current {
		if slices.Contains(unlocks, f) && !slices.Contains(edited, f) {
			continue
		}
		next = append(next, f)
	}
	next = append(next, edited...)
	return NewLockSet(next...)
}
