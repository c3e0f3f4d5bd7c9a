// Пакет limiter — ограничение числа одновременно выполняемых операций.
// Очередь ожидания FIFO: задачи стартуют в порядке поступления.
// Экземпляр, охраняющий конкретный внешний API, должен быть один на процесс.
package limiter

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"
)

var inFlight = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "ce_limiter_in_flight",
		Help: "Количество выполняемых операций под ограничителем",
	},
	[]string{"name"},
)

// Limiter ограничивает параллелизм значением max(1, maxConcurrent).
type Limiter struct {
	name  string
	limit int64
	sem   *semaphore.Weighted
	gauge prometheus.Gauge
}

// New создаёт Limiter. Значения maxConcurrent < 1 приводятся к 1.
func New(name string, maxConcurrent int) *Limiter {
	limit := int64(max(maxConcurrent, 1))
	return &Limiter{
		name:  name,
		limit: limit,
		sem:   semaphore.NewWeighted(limit),
		gauge: inFlight.WithLabelValues(name),
	}
}

// Limit возвращает действующее ограничение.
func (l *Limiter) Limit() int {
	return int(l.limit)
}

// Do ждёт свободный слот и выполняет task.
// Ошибка task возвращается только вызывающему и не влияет на другие задачи.
// Если ctx отменён до получения слота, task не запускается.
func (l *Limiter) Do(ctx context.Context, task func(ctx context.Context) error) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	l.gauge.Inc()
	defer func() {
		l.gauge.Dec()
		l.sem.Release(1)
	}()
	return task(ctx)
}

// Run — типизированный вариант Do.
func Run[T any](ctx context.Context, l *Limiter, task func(ctx context.Context) (T, error)) (T, error) {
	var res T
	err := l.Do(ctx, func(ctx context.Context) error {
		var err error
		res, err = task(ctx)
		return err
	})
	return res, err
}
