package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/catalog-enricher/internal/domain/model"
	"github.com/bigkaa/catalog-enricher/internal/merge"
)

// RecordRepository — интерфейс хранилища записей каталога.
type RecordRepository interface {
	// GetByID возвращает запись по UUID.
	GetByID(ctx context.Context, id string) (*model.Record, error)
	// FindByIdentities загружает существующие записи одним запросом.
	FindByIdentities(ctx context.Context, ids []model.Identity) (map[model.Identity]*model.Record, error)
	// BulkUpsert записывает планы одним пакетом в одной транзакции.
	BulkUpsert(ctx context.Context, plans []merge.Plan) (UpsertCounts, error)
	// Find возвращает записи по фильтру в порядке создания.
	Find(ctx context.Context, filter RecordFilter, limit int) ([]*model.Record, error)
	// AppendProcessedMedia дописывает изображения, если их число всё ещё expectedCount.
	AppendProcessedMedia(ctx context.Context, id string, expectedCount int, urls []string, status model.Status, note string) (*model.Record, error)
	// AppendNote дописывает строку в notes.
	AppendNote(ctx context.Context, id, note string) error
	// ApplyEdit изменяет запись под блокировкой строки.
	ApplyEdit(ctx context.Context, id string, mutate func(rec *model.Record) error) (*model.Record, error)
	// UpdateTranslation сохраняет перевод, не трогая заблокированные поля.
	UpdateTranslation(ctx context.Context, id, translated string, status model.Status) (*model.Record, error)
}

// UpsertCounts — счётчики пакетного upsert, полученные из результата самих запросов.
type UpsertCounts struct {
	// Matched — существующие записи, затронутые пакетом
	Matched int
	// Inserted — созданные записи
	Inserted int
	// Updated — существующие записи, содержимое которых изменилось
	Updated int
	// InsertedIDs — UUID созданных записей
	InsertedIDs []string
}

// RecordFilter — фильтр выборки. Пустые поля не ограничивают выборку.
type RecordFilter struct {
	Source   string
	Statuses []model.Status
	IDs      []string
}

const recordColumns = `id, source, source_url, brand, category, title, original_title,
	translated_text, price, original_media, processed_media, locked_fields,
	status, notes, created_at, updated_at`

// recordRepo — реализация RecordRepository.
type recordRepo struct {
	db DBTX
}

// NewRecordRepository создаёт репозиторий записей.
func NewRecordRepository(db DBTX) RecordRepository {
	return &recordRepo{db: db}
}

// scanRecord читает строку в порядке recordColumns.
func scanRecord(row pgx.Row) (*model.Record, error) {
	rec := &model.Record{}
	var locked []string
	var status string
	err := row.Scan(
		&rec.ID, &rec.Source, &rec.SourceURL, &rec.Brand, &rec.Category, &rec.Title, &rec.OriginalTitle,
		&rec.TranslatedText, &rec.Price, &rec.OriginalMedia, &rec.ProcessedMedia, &locked,
		&status, &rec.Notes, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.LockedFields = model.LockSetFromStrings(locked)
	rec.Status = model.Status(status)
	return rec, nil
}

func (r *recordRepo) GetByID(ctx context.Context, id string) (*model.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE id = $1`

	rec, err := scanRecord(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи: %w", err)
	}
	return rec, nil
}

func (r *recordRepo) FindByIdentities(ctx context.Context, ids []model.Identity) (map[model.Identity]*model.Record, error) {
	result := make(map[model.Identity]*model.Record, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	sources := make([]string, len(ids))
	urls := make([]string, len(ids))
	for i, id := range ids {
		sources[i] = id.Source
		urls[i] = id.SourceURL
	}

	query := `
		SELECT ` + prefixed("r", recordColumns) + `
		FROM records r
		JOIN unnest($1::text[], $2::text[]) AS i(source, source_url)
			ON r.source = i.source AND r.source_url = i.source_url`

	rows, err := r.db.Query(ctx, query, sources, urls)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки существующих записей: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи: %w", err)
		}
		result[rec.Identity()] = rec
	}
	return result, rows.Err()
}

// BulkUpsert отправляет все планы одним pgx.Batch.
// Блокируемые колонки дополнительно защищены проверкой актуального
// locked_fields строки, так что конкурентная правка не перезаписывается.
// Строка без изменений не возвращается (WHERE ... IS DISTINCT FROM),
// что отличает matched от updated без повторного чтения.
func (r *recordRepo) BulkUpsert(ctx context.Context, plans []merge.Plan) (UpsertCounts, error) {
	var counts UpsertCounts
	if len(plans) == 0 {
		return counts, nil
	}

	batch := &pgx.Batch{}
	for i := range plans {
		query, args := upsertQuery(&plans[i])
		batch.Queue(query, args...)
	}

	err := inTx(ctx, r.db, func(tx pgx.Tx) error {
		br := tx.SendBatch(ctx, batch)
		defer br.Close()

		for i := range plans {
			var id string
			var inserted bool
			err := br.QueryRow().Scan(&id, &inserted)
			switch {
			case errors.Is(err, pgx.ErrNoRows):
				counts.Matched++
			case err != nil:
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: %s %s", ErrConflict, plans[i].Identity.Source, plans[i].Identity.SourceURL)
				}
				return fmt.Errorf("ошибка upsert записи %s: %w", plans[i].Identity.SourceURL, err)
			case inserted:
				counts.Inserted++
				counts.InsertedIDs = append(counts.InsertedIDs, id)
			default:
				counts.Matched++
				counts.Updated++
			}
		}
		return br.Close()
	})
	if err != nil {
		return UpsertCounts{}, err
	}
	return counts, nil
}

// upsertQuery строит INSERT ... ON CONFLICT для одного плана.
func upsertQuery(p *merge.Plan) (string, []any) {
	names := append([]string{"id"}, p.ColumnNames()...)
	args := make([]any, 0, len(names))
	args = append(args, p.ID)
	placeholders := make([]string, len(names))
	placeholders[0] = "$1"

	var sets, current, incoming []string
	for i, c := range p.Columns {
		args = append(args, c.Value)
		placeholders[i+1] = fmt.Sprintf("$%d", i+2)
		if c.Name == "source" || c.Name == "source_url" {
			continue
		}

		expr := "EXCLUDED." + c.Name
		if c.Lockable {
			expr = fmt.Sprintf("CASE WHEN '%s' = ANY(records.locked_fields) THEN records.%s ELSE EXCLUDED.%s END",
				c.Name, c.Name, c.Name)
		}
		sets = append(sets, c.Name+" = "+expr)
		current = append(current, "records."+c.Name)
		incoming = append(incoming, expr)
	}

	query := fmt.Sprintf(`
		INSERT INTO records (%s)
		VALUES (%s)
		ON CONFLICT (source, source_url) DO UPDATE SET
			%s,
			updated_at = now()
		WHERE (%s) IS DISTINCT FROM (%s)
		RETURNING id, (xmax = 0) AS is_insert`,
		strings.Join(names, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(sets, ",\n\t\t\t"),
		strings.Join(current, ", "),
		strings.Join(incoming, ", "),
	)
	return query, args
}

// buildRecordWhere строит WHERE-условие и аргументы фильтра.
func buildRecordWhere(filter RecordFilter, startArg int) (string, []any) {
	var conditions []string
	var args []any
	argNum := startArg

	if filter.Source != "" {
		conditions = append(conditions, fmt.Sprintf("source = $%d", argNum))
		args = append(args, filter.Source)
		argNum++
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d::text[])", argNum))
		args = append(args, statuses)
		argNum++
	}
	if len(filter.IDs) > 0 {
		conditions = append(conditions, fmt.Sprintf("id = ANY($%d::uuid[])", argNum))
		args = append(args, filter.IDs)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	return where, args
}

func (r *recordRepo) Find(ctx context.Context, filter RecordFilter, limit int) ([]*model.Record, error) {
	where, args := buildRecordWhere(filter, 1)
	query := fmt.Sprintf(`
		SELECT %s
		FROM records
		%s
		ORDER BY created_at, id
		LIMIT $%d`, recordColumns, where, len(args)+1)
	args = append(args, limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки записей: %w", err)
	}
	defer rows.Close()

	var result []*model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// AppendProcessedMedia — оптимистичная запись результата обогащения:
// обновление проходит, только если число обработанных изображений не
// изменилось с начала размещения. Пустой status оставляет статус как есть.
func (r *recordRepo) AppendProcessedMedia(ctx context.Context, id string, expectedCount int, urls []string, status model.Status, note string) (*model.Record, error) {
	query := `
		UPDATE records SET
			processed_media = processed_media || $3::text[],
			status = CASE WHEN $4::text = '' OR 'status' = ANY(locked_fields) THEN status ELSE $4::text END,
			notes = concat_ws(E'\n', NULLIF(notes, ''), NULLIF($5::text, '')),
			updated_at = now()
		WHERE id = $1
			AND cardinality(processed_media) = $2
			AND NOT ('processed_media' = ANY(locked_fields))
		RETURNING ` + recordColumns

	rec, err := scanRecord(r.db.QueryRow(ctx, query, id, expectedCount, urls, string(status), note))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := r.GetByID(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, fmt.Errorf("%w: изображения записи %s изменены конкурентно", ErrConflict, id)
		}
		return nil, fmt.Errorf("ошибка записи изображений: %w", err)
	}
	return rec, nil
}

func (r *recordRepo) AppendNote(ctx context.Context, id, note string) error {
	query := `
		UPDATE records SET
			notes = concat_ws(E'\n', NULLIF(notes, ''), $2::text),
			updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, note)
	if err != nil {
		return fmt.Errorf("ошибка записи заметки: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyEdit читает строку с SELECT ... FOR UPDATE, применяет mutate и
// сохраняет блокируемые поля вместе с locked_fields.
func (r *recordRepo) ApplyEdit(ctx context.Context, id string, mutate func(rec *model.Record) error) (*model.Record, error) {
	var updated *model.Record
	err := inTx(ctx, r.db, func(tx pgx.Tx) error {
		rec, err := scanRecord(tx.QueryRow(ctx,
			`SELECT `+recordColumns+` FROM records WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("ошибка получения записи: %w", err)
		}

		if err := mutate(rec); err != nil {
			return err
		}

		query := `
			UPDATE records SET
				title = $2, price = $3, translated_text = $4, processed_media = $5,
				status = $6, notes = $7, locked_fields = $8, updated_at = now()
			WHERE id = $1
			RETURNING ` + recordColumns
		updated, err = scanRecord(tx.QueryRow(ctx, query,
			rec.ID, rec.Title, rec.Price, rec.TranslatedText, nonNil(rec.ProcessedMedia),
			string(rec.Status), rec.Notes, nonNil(rec.LockedFields.Strings()),
		))
		if err != nil {
			return fmt.Errorf("ошибка сохранения правки: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *recordRepo) UpdateTranslation(ctx context.Context, id, translated string, status model.Status) (*model.Record, error) {
	query := `
		UPDATE records SET
			translated_text = CASE WHEN 'translated_text' = ANY(locked_fields) THEN translated_text ELSE $2::text END,
			status = CASE WHEN 'status' = ANY(locked_fields) THEN status ELSE $3::text END,
			updated_at = now()
		WHERE id = $1
		RETURNING ` + recordColumns

	rec, err := scanRecord(r.db.QueryRow(ctx, query, id, translated, string(status)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка сохранения перевода: %w", err)
	}
	return rec, nil
}

// prefixed добавляет алиас таблицы к списку колонок.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
