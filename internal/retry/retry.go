// Пакет retry — повтор внешних вызовов с экспоненциальной задержкой,
// джиттером и учётом Retry-After.
//
// Классификация ошибок:
//   - нет HTTP-статуса (сеть, таймаут) — повторяем;
//   - 429 — повторяем, Retry-After задаёт точную паузу;
//   - 5xx — повторяем;
//   - прочие 4xx и ошибки, обёрнутые Permanent, — возвращаем сразу.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var attemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ce_retry_attempts_total",
		Help: "Попытки внешних вызовов по меткам и исходу",
	},
	[]string{"label", "outcome"},
)

// StatusError — ошибка внешнего HTTP-вызова с кодом ответа.
type StatusError struct {
	StatusCode int
	Header     http.Header
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP статус %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP статус %d: %s", e.StatusCode, e.Body)
}

// NewStatusError строит StatusError из ответа. Тело ответа обрезается.
func NewStatusError(resp *http.Response, body []byte) *StatusError {
	const maxBody = 256
	b := strings.TrimSpace(string(body))
	if len(b) > maxBody {
		b = b[:maxBody]
	}
	return &StatusError{StatusCode: resp.StatusCode, Header: resp.Header.Clone(), Body: b}
}

// PermanentError помечает ошибку без HTTP-статуса как неповторяемую.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent оборачивает err, запрещая повтор.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Options — параметры повтора одного вызова.
type Options struct {
	// MaxAttempts — максимум попыток (минимум 1)
	MaxAttempts int
	// MinBackoff — нижняя граница задержки
	MinBackoff time.Duration
	// MaxBackoff — верхняя граница задержки (без учёта джиттера)
	MaxBackoff time.Duration
	// Label — метка вызова для логов и метрик
	Label string
}

// Controller выполняет операции с повтором.
// Безопасен для конкурентного использования.
type Controller struct {
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	random func() float64
	now    func() time.Time
}

// New создаёт Controller.
func New(logger *slog.Logger) *Controller {
	return &Controller{
		logger: logger.With(slog.String("component", "retry")),
		sleep:  sleepCtx,
		random: rand.Float64,
		now:    time.Now,
	}
}

// Execute выполняет op, повторяя её согласно opts.
// После исчерпания попыток возвращает последнюю ошибку без обёртки.
func Execute[T any](ctx context.Context, c *Controller, opts Options, op func(ctx context.Context) (T, error)) (T, error) {
	maxAttempts := max(opts.MaxAttempts, 1)

	var zero T
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err := op(ctx)
		if err == nil {
			attemptsTotal.WithLabelValues(opts.Label, "success").Inc()
			return res, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			attemptsTotal.WithLabelValues(opts.Label, "canceled").Inc()
			return zero, err
		}

		status, retryable := Classify(err)
		if !retryable {
			attemptsTotal.WithLabelValues(opts.Label, "permanent").Inc()
			return zero, err
		}
		if attempt == maxAttempts {
			break
		}

		wait, hinted := c.retryAfter(err)
		if !hinted {
			wait = c.backoff(attempt, opts)
		}
		attemptsTotal.WithLabelValues(opts.Label, "retry").Inc()
		c.logger.Warn("Повтор внешнего вызова",
			slog.String("label", opts.Label),
			slog.Int("attempt", attempt),
			slog.Int("status", status),
			slog.Duration("wait", wait),
			slog.Bool("retry_after", hinted),
			slog.String("error", err.Error()),
		)
		if err := c.sleep(ctx, wait); err != nil {
			return zero, lastErr
		}
	}

	attemptsTotal.WithLabelValues(opts.Label, "exhausted").Inc()
	status, _ := Classify(lastErr)
	c.logger.Error("Попытки внешнего вызова исчерпаны",
		slog.String("label", opts.Label),
		slog.Int("attempt", maxAttempts),
		slog.Int("status", status),
		slog.String("error", lastErr.Error()),
	)
	return zero, lastErr
}

// Classify возвращает HTTP-статус ошибки (0 — нет статуса) и признак повторяемости.
func Classify(err error) (status int, retryable bool) {
	var pe *PermanentError
	if errors.As(err, &pe) {
		return 0, false
	}
	var se *StatusError
	if !errors.As(err, &se) {
		return 0, true
	}
	switch {
	case se.StatusCode == http.StatusTooManyRequests:
		return se.StatusCode, true
	case se.StatusCode >= 500 && se.StatusCode <= 599:
		return se.StatusCode, true
	case se.StatusCode >= 400 && se.StatusCode <= 499:
		return se.StatusCode, false
	}
	return se.StatusCode, true
}

// backoff — clamp(min*2^(attempt-1), min, max) плюс джиттер до 20%.
func (c *Controller) backoff(attempt int, opts Options) time.Duration {
	minB, maxB := opts.MinBackoff, opts.MaxBackoff
	if maxB < minB {
		maxB = minB
	}
	base := minB
	for i := 1; i < attempt && base < maxB; i++ {
		base *= 2
	}
	base = min(max(base, minB), maxB)
	return base + time.Duration(c.random()*0.2*float64(base))
}

// retryAfter извлекает паузу из Retry-After ответа 429.
func (c *Controller) retryAfter(err error) (time.Duration, bool) {
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusTooManyRequests || se.Header == nil {
		return 0, false
	}
	return parseRetryAfter(se.Header, c.now())
}

// parseRetryAfter разбирает Retry-After: целое число секунд или HTTP-дата.
func parseRetryAfter(h http.Header, now time.Time) (time.Duration, bool) {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(v); err == nil {
		if n < 0 {
			return 0, false
		}
		return time.Duration(n) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(t.Sub(now), 0), true
	}
	return 0, false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
