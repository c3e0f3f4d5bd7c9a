package download

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// MediaStore — локальное хранилище обработанных изображений.
// Путь слота: {dir}/{recordID}/{index}.jpg.
type MediaStore struct {
	// dir — корневая директория (CE_MEDIA_DIR)
	dir string
	// urlPrefix — публичный префикс URL (CE_MEDIA_URL_PREFIX)
	urlPrefix string
}

// NewMediaStore создаёт хранилище и корневую директорию.
func NewMediaStore(dir, urlPrefix string) (*MediaStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию медиа %s: %w", dir, err)
	}
	return &MediaStore{dir: dir, urlPrefix: "/" + strings.Trim(urlPrefix, "/")}, nil
}

// Dir возвращает корневую директорию.
func (s *MediaStore) Dir() string {
	return s.dir
}

// Save записывает слот с индексом index и возвращает его публичный URL.
// Запись: temp файл → fsync → атомарный rename; при ошибке temp файл удаляется.
// Существующий файл слота перезаписывается: слот без записи в БД считается свободным.
func (s *MediaStore) Save(_ context.Context, recordID string, index int, data []byte) (string, error) {
	if _, err := uuid.Parse(recordID); err != nil {
		return "", fmt.Errorf("некорректный ID записи %q: %w", recordID, err)
	}
	if index < 0 {
		return "", fmt.Errorf("некорректный индекс слота %d", index)
	}

	recordDir := filepath.Join(s.dir, recordID)
	if err := os.MkdirAll(recordDir, 0o750); err != nil {
		return "", fmt.Errorf("ошибка создания директории записи: %w", err)
	}

	name := strconv.Itoa(index) + ".jpg"
	fullPath := filepath.Join(recordDir, name)
	tmpPath := fullPath + "." + uuid.New().String()[:8] + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка записи данных: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка закрытия файла: %w", err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return path.Join(s.urlPrefix, recordID, name), nil
}
