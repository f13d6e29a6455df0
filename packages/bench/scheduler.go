package bench

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// minRampRate keeps a ramping limiter from starting at zero, which would
// never admit the first request.
const minRampRate = 1

// Scheduler paces request starts and bounds how many run at once.
type Scheduler struct {
	config  *Config
	limiter *rate.Limiter
	sem     chan struct{}
}

// NewScheduler creates a new scheduler with the given config
func NewScheduler(config *Config) *Scheduler {
	s := &Scheduler{config: config}

	if config.Rate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(s.GetCurrentRate(0)), 1)
	}

	concurrency := config.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	s.sem = make(chan struct{}, concurrency)

	return s
}

// Wait blocks until the rate limiter admits another request. It returns
// immediately when no rate is configured.
func (s *Scheduler) Wait(ctx context.Context) error {
	if s.limiter != nil {
		return s.limiter.Wait(ctx)
	}
	return ctx.Err()
}

// Acquire acquires a slot from the concurrency semaphore
func (s *Scheduler) Acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release releases a slot back to the semaphore
func (s *Scheduler) Release() {
	<-s.sem
}

// Active reports how many slots are held.
func (s *Scheduler) Active() int {
	return len(s.sem)
}

// GetCurrentRate returns the current target rate based on ramp-up
func (s *Scheduler) GetCurrentRate(elapsed time.Duration) float64 {
	if s.config.RampUp <= 0 || elapsed >= s.config.RampUp {
		return s.config.Rate
	}

	progress := float64(elapsed) / float64(s.config.RampUp)
	r := s.config.Rate * progress
	if r < minRampRate {
		r = min(minRampRate, s.config.Rate)
	}
	return r
}

// UpdateRate updates the rate limiter's rate
func (s *Scheduler) UpdateRate(newRate float64) {
	if s.limiter != nil && newRate > 0 {
		s.limiter.SetLimit(rate.Limit(newRate))
	}
}
