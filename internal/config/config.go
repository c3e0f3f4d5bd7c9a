// Пакет config — загрузка и валидация конфигурации catalog-enricher
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации catalog-enricher.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймауты HTTP-сервера
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string
	// Максимум соединений в пуле
	DBMaxConns int

	// --- Повторы внешних вызовов ---

	// Максимум попыток одного внешнего вызова
	RetryMaxAttempts int
	// Нижняя граница задержки между попытками
	RetryMinBackoff time.Duration
	// Верхняя граница задержки между попытками
	RetryMaxBackoff time.Duration

	// --- Ограничения параллелизма ---

	// Одновременные запросы к API поиска (на процесс)
	SearchConcurrency int
	// Одновременные запросы к AI API (на процесс)
	AIConcurrency int
	// Одновременно обогащаемые записи в пакете
	EnrichConcurrency int

	// --- Внешние API ---

	// Таймаут одного AI-вызова
	AITimeout time.Duration
	// URL API поиска изображений
	SearchURL string
	// Ключ API поиска
	SearchAPIKey string
	// Идентификатор поисковой системы (cx)
	SearchCX string
	// Размер страницы поиска (1-10)
	SearchPageSize int
	// Пауза между запросами к API поиска
	SearchInterval time.Duration
	// URL AI API; пустое значение отключает AI
	AIURL string
	// Ключ AI API
	AIAPIKey string
	// Модель AI
	AIModel string
	// Таймаут исходящего HTTP-клиента
	HTTPTimeout time.Duration

	// --- Кэш и обогащение ---

	// Ёмкость каждого кэша запросов
	CacheMaxSize int
	// Лимит размера загружаемого изображения
	ImageMaxBytes int64
	// Длинная сторона нормализованного изображения
	ImageMaxDimension int
	// Качество JPEG при перекодировании
	ImageJPEGQuality int
	// Желаемое количество изображений по умолчанию
	DesiredImageCount int
	// Максимум кандидатов за один запуск
	MaxCandidates int
	// Верхняя граница limit для пакетного обогащения
	BatchMaxLimit int
	// Интервал периодического обогащения; 0 отключает
	AutoEnrichInterval time.Duration
	// Записей за один проход периодического обогащения
	AutoEnrichLimit int
	// Файл YAML с дополнительными промо-токенами (опционально)
	PromoTokensFile string
	// Дополнительные промо-токены через запятую
	PromoTokens []string

	// --- Медиа ---

	// Корневая директория сохранённых изображений
	MediaDir string
	// Публичный префикс URL изображений
	MediaURLPrefix string

	// --- JWT (опционально) ---

	// URL JWKS endpoint; пустое значение отключает проверку JWT
	JWTJWKSURL string
	// Ожидаемый issuer (опционально)
	JWTIssuer string
	// Интервал обновления JWKS
	JWKSRefreshInterval time.Duration
	// Допуск расхождения часов
	JWTLeeway time.Duration

	// --- topologymetrics ---

	// Группа сервиса в топологии
	DephealthGroup string
	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// CE_PORT — порт HTTP-сервера (по умолчанию 8010)
	cfg.Port, err = getEnvInt("CE_PORT", 8010)
	if err != nil {
		return nil, fmt.Errorf("CE_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("CE_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// CE_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("CE_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("CE_LOG_LEVEL: %w", err)
	}

	// CE_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("CE_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("CE_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	if cfg.HTTPReadTimeout, err = getEnvDuration("CE_HTTP_READ_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("CE_HTTP_READ_TIMEOUT: %w", err)
	}
	if cfg.HTTPWriteTimeout, err = getEnvDuration("CE_HTTP_WRITE_TIMEOUT", 10*time.Minute); err != nil {
		return nil, fmt.Errorf("CE_HTTP_WRITE_TIMEOUT: %w", err)
	}
	if cfg.HTTPIdleTimeout, err = getEnvDuration("CE_HTTP_IDLE_TIMEOUT", 120*time.Second); err != nil {
		return nil, fmt.Errorf("CE_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("CE_DB_HOST"); err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("CE_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("CE_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("CE_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("CE_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("CE_DB_PASSWORD"); err != nil {
		return nil, err
	}

	// CE_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("CE_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("CE_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// CE_DB_MAX_CONNS — размер пула (по умолчанию 10)
	if cfg.DBMaxConns, err = getEnvPositive("CE_DB_MAX_CONNS", 10); err != nil {
		return nil, err
	}

	// --- Повторы ---

	cfg.RetryMaxAttempts, err = getEnvInt("CE_RETRY_MAX_ATTEMPTS", 3)
	if err != nil {
		return nil, fmt.Errorf("CE_RETRY_MAX_ATTEMPTS: %w", err)
	}
	if cfg.RetryMaxAttempts < 1 {
		return nil, fmt.Errorf("CE_RETRY_MAX_ATTEMPTS: значение %d должно быть >= 1", cfg.RetryMaxAttempts)
	}
	if cfg.RetryMinBackoff, err = getEnvMillis("CE_RETRY_MIN_BACKOFF_MS", 500); err != nil {
		return nil, err
	}
	if cfg.RetryMaxBackoff, err = getEnvMillis("CE_RETRY_MAX_BACKOFF_MS", 8000); err != nil {
		return nil, err
	}
	if cfg.RetryMinBackoff > cfg.RetryMaxBackoff {
		return nil, fmt.Errorf("CE_RETRY_MIN_BACKOFF_MS: %v больше CE_RETRY_MAX_BACKOFF_MS %v",
			cfg.RetryMinBackoff, cfg.RetryMaxBackoff)
	}

	// --- Параллелизм ---

	if cfg.SearchConcurrency, err = getEnvPositive("CE_SEARCH_CONCURRENCY", 2); err != nil {
		return nil, err
	}
	if cfg.AIConcurrency, err = getEnvPositive("CE_AI_CONCURRENCY", 2); err != nil {
		return nil, err
	}
	if cfg.EnrichConcurrency, err = getEnvPositive("CE_ENRICH_CONCURRENCY", 2); err != nil {
		return nil, err
	}

	// --- Внешние API ---

	if cfg.AITimeout, err = getEnvMillis("CE_AI_TIMEOUT_MS", 8000); err != nil {
		return nil, err
	}
	cfg.SearchURL = strings.TrimRight(getEnvDefault("CE_SEARCH_URL", "https://www.googleapis.com/customsearch/v1"), "/")
	cfg.SearchAPIKey = getEnvDefault("CE_SEARCH_API_KEY", "")
	cfg.SearchCX = getEnvDefault("CE_SEARCH_CX", "")

	cfg.SearchPageSize, err = getEnvInt("CE_SEARCH_PAGE_SIZE", 10)
	if err != nil {
		return nil, fmt.Errorf("CE_SEARCH_PAGE_SIZE: %w", err)
	}
	if cfg.SearchPageSize < 1 || cfg.SearchPageSize > 10 {
		return nil, fmt.Errorf("CE_SEARCH_PAGE_SIZE: значение %d вне допустимого диапазона 1-10", cfg.SearchPageSize)
	}
	cfg.SearchInterval, err = getEnvDuration("CE_SEARCH_INTERVAL", 200*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("CE_SEARCH_INTERVAL: %w", err)
	}

	cfg.AIURL = strings.TrimRight(getEnvDefault("CE_AI_URL", ""), "/")
	cfg.AIAPIKey = getEnvDefault("CE_AI_API_KEY", "")
	cfg.AIModel = getEnvDefault("CE_AI_MODEL", "gpt-4o-mini")

	cfg.HTTPTimeout, err = getEnvDuration("CE_HTTP_TIMEOUT", 20*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CE_HTTP_TIMEOUT: %w", err)
	}

	// --- Кэш и обогащение ---

	if cfg.CacheMaxSize, err = getEnvPositive("CE_CACHE_MAX_SIZE", 500); err != nil {
		return nil, err
	}
	maxBytes, err := getEnvPositive("CE_IMAGE_MAX_BYTES", 10<<20)
	if err != nil {
		return nil, err
	}
	cfg.ImageMaxBytes = int64(maxBytes)
	if cfg.ImageMaxDimension, err = getEnvPositive("CE_IMAGE_MAX_DIMENSION", 1600); err != nil {
		return nil, err
	}
	cfg.ImageJPEGQuality, err = getEnvInt("CE_IMAGE_JPEG_QUALITY", 85)
	if err != nil {
		return nil, fmt.Errorf("CE_IMAGE_JPEG_QUALITY: %w", err)
	}
	if cfg.ImageJPEGQuality < 1 || cfg.ImageJPEGQuality > 100 {
		return nil, fmt.Errorf("CE_IMAGE_JPEG_QUALITY: значение %d вне допустимого диапазона 1-100", cfg.ImageJPEGQuality)
	}
	if cfg.DesiredImageCount, err = getEnvPositive("CE_DESIRED_IMAGE_COUNT", 5); err != nil {
		return nil, err
	}
	if cfg.MaxCandidates, err = getEnvPositive("CE_MAX_CANDIDATES", 30); err != nil {
		return nil, err
	}
	if cfg.BatchMaxLimit, err = getEnvPositive("CE_BATCH_MAX_LIMIT", 500); err != nil {
		return nil, err
	}
	cfg.AutoEnrichInterval, err = getEnvDuration("CE_AUTO_ENRICH_INTERVAL", 0)
	if err != nil {
		return nil, fmt.Errorf("CE_AUTO_ENRICH_INTERVAL: %w", err)
	}
	if cfg.AutoEnrichInterval < 0 {
		return nil, fmt.Errorf("CE_AUTO_ENRICH_INTERVAL: отрицательное значение %v", cfg.AutoEnrichInterval)
	}
	if cfg.AutoEnrichLimit, err = getEnvPositive("CE_AUTO_ENRICH_LIMIT", 50); err != nil {
		return nil, err
	}
	cfg.PromoTokensFile = getEnvDefault("CE_PROMO_TOKENS_FILE", "")
	cfg.PromoTokens = parseCSV(getEnvDefault("CE_PROMO_TOKENS", ""))

	// --- Медиа ---

	cfg.MediaDir = getEnvDefault("CE_MEDIA_DIR", "./data/media")
	cfg.MediaURLPrefix = "/" + strings.Trim(getEnvDefault("CE_MEDIA_URL_PREFIX", "/media"), "/")

	// --- JWT ---

	cfg.JWTJWKSURL = getEnvDefault("CE_JWT_JWKS_URL", "")
	cfg.JWTIssuer = getEnvDefault("CE_JWT_ISSUER", "")
	cfg.JWKSRefreshInterval, err = getEnvDuration("CE_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CE_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWTLeeway, err = getEnvDuration("CE_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CE_JWT_LEEWAY: %w", err)
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("CE_DEPHEALTH_GROUP", "catalog")
	cfg.DephealthCheckInterval, err = getEnvDuration("CE_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CE_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("CE_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CE_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// AIEnabled сообщает, настроен ли AI API.
func (c *Config) AIEnabled() bool {
	return c.AIURL != ""
}

// AuthEnabled сообщает, включена ли проверка JWT.
func (c *Config) AuthEnabled() bool {
	return c.JWTJWKSURL != ""
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения со схемой scheme
// (postgres для topologymetrics, pgx5 для golang-migrate).
func (c *Config) DatabaseURL(scheme string) string {
	u := url.URL{
		Scheme:   scheme,
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     net.JoinHostPort(c.DBHost, strconv.Itoa(c.DBPort)),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// getEnvPositive — целое >= 1 с именем переменной в ошибке.
func getEnvPositive(key string, defaultVal int) (int, error) {
	n, err := getEnvInt(key, defaultVal)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if n < 1 {
		return 0, fmt.Errorf("%s: значение %d должно быть >= 1", key, n)
	}
	return n, nil
}

// getEnvMillis читает длительность в миллисекундах (переменные *_MS).
func getEnvMillis(key string, defaultMs int) (time.Duration, error) {
	n, err := getEnvInt(key, defaultMs)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%s: отрицательное значение %d", key, n)
	}
	return time.Duration(n) * time.Millisecond, nil
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
