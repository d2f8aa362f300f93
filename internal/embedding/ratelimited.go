package embedding

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited ограничивает частоту запросов к провайдеру (token bucket).
// Массовая пересборка коллекции не должна перегружать сервис эмбеддингов.
type RateLimited struct {
	inner   Provider
	limiter *rate.Limiter
}

var _ Provider = (*RateLimited)(nil)

// NewRateLimited создаёт ограничитель на perSecond запросов в секунду.
func NewRateLimited(inner Provider, perSecond float64) *RateLimited {
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

// Embed ждёт токен и делегирует запрос провайдеру.
func (r *RateLimited) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Embed(ctx, text)
}

// Ping не ограничивается.
func (r *RateLimited) Ping(ctx context.Context) error {
	return r.inner.Ping(ctx)
}
