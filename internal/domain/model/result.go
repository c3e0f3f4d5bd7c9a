package model

// EnrichState — состояние обогащения одной записи.
type EnrichState string

const (
	EnrichNeedsCheck  EnrichState = "needs_check"
	EnrichSkipped     EnrichState = "skipped"
	EnrichAcquiring   EnrichState = "acquiring"
	EnrichDownloading EnrichState = "downloading"
	EnrichDone        EnrichState = "done"
	EnrichFailed      EnrichState = "failed"
)

// EnrichResult — результат обогащения одной записи.
type EnrichResult struct {
	// RecordID — UUID записи
	RecordID string `json:"recordId"`
	// State — итоговое состояние
	State EnrichState `json:"state"`
	// Downloaded — сколько новых изображений сохранено
	Downloaded int `json:"downloaded"`
	// FinalCount — количество обработанных изображений после обогащения
	FinalCount int `json:"finalCount"`
	// Skipped — запись уже содержит достаточно изображений
	Skipped bool `json:"skipped"`
	// Error — причина неудачи (пусто при успехе)
	Error string `json:"error,omitempty"`
	// Failures — отклонённые кандидаты в формате "#позиция url: причина"
	Failures []string `json:"failures,omitempty"`
}

// Success возвращает true, если запись обогащена или пропущена без ошибки.
func (r EnrichResult) Success() bool {
	return r.Error == ""
}

// BatchResult — результат пакетного обогащения.
type BatchResult struct {
	// Matched — записей выбрано фильтром
	Matched int `json:"matched"`
	// Enriched — записей успешно обогащено
	Enriched int `json:"enriched"`
	// Skipped — записей пропущено
	Skipped int `json:"skipped"`
	// Failed — записей с ошибкой
	Failed int `json:"failed"`
	// Errors — ошибки по записям в формате "id: причина"
	Errors []string `json:"errors"`
}

// ImportResult — результат слияния импортированных записей.
type ImportResult struct {
	// Matched — существующих записей затронуто
	Matched int `json:"matched"`
	// Inserted — новых записей создано
	Inserted int `json:"inserted"`
	// Updated — существующих записей с изменённым содержимым
	Updated int `json:"updated"`
	// UpsertedIDs — UUID созданных записей
	UpsertedIDs []string `json:"upsertedIds"`
}
