package handlers

import (
	"time"

	"github.com/bigkaa/catalog-enricher/internal/domain/model"
)

// recordResponse — JSON-представление записи каталога.
type recordResponse struct {
	ID             string       `json:"id"`
	Source         string       `json:"source"`
	SourceURL      string       `json:"sourceUrl"`
	Brand          string       `json:"brand"`
	Category       string       `json:"category"`
	Title          string       `json:"title"`
	OriginalTitle  string       `json:"originalTitle"`
	TranslatedText string       `json:"translatedText"`
	Price          int64        `json:"price"`
	OriginalMedia  []string     `json:"originalMedia"`
	ProcessedMedia []string     `json:"processedMedia"`
	LockedFields   []string     `json:"lockedFields"`
	Status         model.Status `json:"status"`
	Notes          string       `json:"notes"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

type recordListResponse struct {
	Items []recordResponse `json:"items"`
	Count int              `json:"count"`
}

func toRecordResponse(r *model.Record) recordResponse {
	return recordResponse{
		ID:             r.ID,
		Source:         r.Source,
		SourceURL:      r.SourceURL,
		Brand:          r.Brand,
		Category:       r.Category,
		Title:          r.Title,
		OriginalTitle:  r.OriginalTitle,
		TranslatedText: r.TranslatedText,
		Price:          r.Price,
		OriginalMedia:  nonNil(r.OriginalMedia),
		ProcessedMedia: nonNil(r.ProcessedMedia),
		LockedFields:   nonNil(r.LockedFields.Strings()),
		Status:         r.Status,
		Notes:          r.Notes,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func toRecordList(records []*model.Record) recordListResponse {
	items := make([]recordResponse, 0, len(records))
	for _, r := range records {
		items = append(items, toRecordResponse(r))
	}
	return recordListResponse{Items: items, Count: len(items)}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
