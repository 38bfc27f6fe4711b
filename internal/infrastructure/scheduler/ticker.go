package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"NewsDesk/internal/ports"
)

// TickerScheduler runs a job immediately and then on every interval.
type TickerScheduler struct {
	interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

var _ ports.Scheduler = (*TickerScheduler)(nil)

// NewTickerScheduler builds a scheduler firing every interval.
func NewTickerScheduler(interval time.Duration) *TickerScheduler {
	return &TickerScheduler{interval: interval}
}

// Start begins ticking; a second Start before Stop is a no-op.
func (s *TickerScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}
	if s.interval <= 0 {
		return errors.New("scheduler interval must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return nil
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	s.stop, s.done = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		job(time.Now())
		for {
			select {
			case t := <-ticker.C:
				job(t)
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}()

	return nil
}

// Stop halts the ticker goroutine and waits for a running job, bounded by ctx.
func (s *TickerScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
