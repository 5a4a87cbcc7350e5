// Package ratelimit provides sliding-window admission control for outbound
// API calls. The window only counts requests within the trailing fixed span;
// older entries are lazily evicted before every capacity check.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"booru-tagger/pkg/models"
)

const (
	// DefaultWindow matches the 30-second quota window used by SauceNAO.
	DefaultWindow = 30 * time.Second

	// safetyMargin is added to computed sleeps so a request issued right at
	// the window edge cannot still overshoot the provider's quota.
	safetyMargin = 100 * time.Millisecond
)

// Limiter admits at most maxRequests calls per sliding window. State is
// process-local and never persisted.
type Limiter struct {
	maxRequests int
	window      time.Duration

	mu       sync.Mutex  // Serializes evict-check-record; held across waits so concurrent acquirers cannot jointly overshoot
	admitted []time.Time // Timestamps of admitted requests, oldest first
	now      func() time.Time

	log *logrus.Entry
}

// New creates a Limiter with the default 30-second window.
func New(maxRequests int, log *logrus.Entry) *Limiter {
	return NewWithWindow(maxRequests, DefaultWindow, log)
}

// NewWithWindow creates a Limiter with an explicit window length.
func NewWithWindow(maxRequests int, window time.Duration, log *logrus.Entry) *Limiter {
	if maxRequests <= 0 {
		maxRequests = 1
	}
	return &Limiter{
		maxRequests: maxRequests,
		window:      window,
		admitted:    make([]time.Time, 0, maxRequests),
		now:         time.Now,
		log:         log,
	}
}

// Acquire blocks until admitting one more request would not exceed the
// limit, then records the admission timestamp. Returns early with the
// context's error if ctx is cancelled while waiting.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.evictLocked(l.now())

	if len(l.admitted) >= l.maxRequests {
		sleep := l.admitted[0].Add(l.window).Sub(l.now()) + safetyMargin
		if sleep > 0 {
			l.log.WithFields(logrus.Fields{
				"sleep":        sleep,
				"max_requests": l.maxRequests,
				"window":       l.window,
			}).Debug("Rate limit reached, waiting")

			timer := time.NewTimer(sleep)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		// Re-evict after waiting; the oldest entries have left the window
		l.evictLocked(l.now())
	}

	l.admitted = append(l.admitted, l.now())
	return nil
}

// Stats returns a non-mutating snapshot of the window after eviction.
func (l *Limiter) Stats() models.LimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.evictLocked(l.now())
	return models.LimiterStats{
		CurrentRequests: len(l.admitted),
		MaxRequests:     l.maxRequests,
		Window:          l.window,
		CanMakeRequest:  len(l.admitted) < l.maxRequests,
	}
}

// Reset clears all recorded admissions.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.admitted = l.admitted[:0]
}

// evictLocked drops timestamps older than the window. Caller must hold mu.
func (l *Limiter) evictLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.admitted) && l.admitted[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		l.admitted = append(l.admitted[:0], l.admitted[i:]...)
	}
}
