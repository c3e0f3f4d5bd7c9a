// Пакет querycache — ограниченный in-memory кэш результатов нормализации
// и поиска. Вытеснение FIFO: при переполнении удаляется самая старая запись.
// Время жизни записей — время жизни процесса.
package querycache

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ce_query_cache_hits_total",
		Help: "Общее количество попаданий в кэш запросов.",
	}, []string{"cache"})
	cacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ce_query_cache_misses_total",
		Help: "Общее количество промахов кэша запросов.",
	}, []string{"cache"})
)

// Cache — FIFO-кэш поверх golang-lru.
// Чтение идёт только через Peek, поэтому порядок вытеснения
// определяется моментом добавления, а не обращениями.
type Cache[V any] struct {
	lru    *lru.Cache[string, V]
	hits   prometheus.Counter
	misses prometheus.Counter
}

// New создаёт кэш на maxSize записей (минимум 1).
func New[V any](name string, maxSize int) *Cache[V] {
	// lru.New возвращает ошибку только для size <= 0
	l, _ := lru.New[string, V](max(maxSize, 1))
	return &Cache[V]{
		lru:    l,
		hits:   cacheHitsTotal.WithLabelValues(name),
		misses: cacheMissesTotal.WithLabelValues(name),
	}
}

// Get возвращает значение по ключу.
func (c *Cache[V]) Get(key string) (V, bool) {
	v, ok := c.lru.Peek(key)
	if ok {
		c.hits.Inc()
	} else {
		c.misses.Inc()
	}
	return v, ok
}

// Set добавляет значение. Повторная запись ключа считается новым добавлением.
func (c *Cache[V]) Set(key string, value V) {
	c.lru.Add(key, value)
}

// Len возвращает количество записей.
func (c *Cache[V]) Len() int {
	return c.lru.Len()
}

// Key собирает ключ из частей: части приводятся к нижнему регистру,
// обрезаются и соединяются разделителем, не встречающимся в тексте.
func Key(parts ...string) string {
	norm := make([]string, len(parts))
	for i, p := range parts {
		norm[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return strings.Join(norm, "\x1f")
}
