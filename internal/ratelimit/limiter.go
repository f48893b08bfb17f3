package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	baseBackoff = 100 * time.Millisecond
	maxBackoff  = 2 * time.Minute
)

// Limiter throttles market-data requests to a per-minute budget. After an
// upstream 429 it adds an exponential delay on top of the token wait until
// a request succeeds again.
type Limiter struct {
	limiter *rate.Limiter
	name    string

	mu      sync.Mutex
	backoff time.Duration
}

// NewLimiter creates a limiter allowing perMinute requests, with a small
// burst so the first tickers of a polling cycle go out together.
func NewLimiter(name string, perMinute int) *Limiter {
	rps := float64(perMinute) / 60.0
	burst := perMinute / 10
	if burst < 1 {
		burst = 1
	}
	if burst > 5 {
		burst = 5
	}

	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		name:    name,
		backoff: baseBackoff,
	}
}

// Wait blocks until a request may be sent or ctx is cancelled. While in
// backoff after a 429, the backoff delay is served first.
func (l *Limiter) Wait(ctx context.Context) error {
	if delay := l.currentBackoff(); delay > baseBackoff {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return l.limiter.Wait(ctx)
}

// Allow reports whether a request may be sent right now.
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// SignalRateLimited doubles the backoff. Call on every 429 response.
func (l *Limiter) SignalRateLimited() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.backoff *= 2
	if l.backoff > maxBackoff {
		l.backoff = maxBackoff
	}
}

// ResetBackoff restores the base backoff. Call after a successful request.
func (l *Limiter) ResetBackoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.backoff = baseBackoff
}

func (l *Limiter) currentBackoff() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.backoff
}

// GetBackoff returns the current backoff delay.
func (l *Limiter) GetBackoff() time.Duration {
	return l.currentBackoff()
}

// Name returns the limiter name.
func (l *Limiter) Name() string {
	return l.name
}
