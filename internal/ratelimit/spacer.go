// Package ratelimit provides call spacing for rate-sensitive tool kinds.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Config configures call spacing behavior.
type Config struct {
	// MinInterval is the minimum spacing between consecutive calls of the
	// same kind. A call arriving sooner is delayed, not rejected.
	MinInterval time.Duration `yaml:"min_interval"`
	// MaxWait bounds how long a single call may be delayed.
	MaxWait time.Duration `yaml:"max_wait"`
	// Enabled controls whether spacing is active.
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the default spacing configuration.
func DefaultConfig() Config {
	return Config{
		MinInterval: time.Second,
		MaxWait:     10 * time.Second,
		Enabled:     true,
	}
}

// Spacer enforces a minimum interval between calls sharing a kind, such as
// network fetch or search tools. It is constructed and injected rather than
// held in package state so independent pipelines can be tested in isolation.
type Spacer struct {
	mu     sync.Mutex
	last   map[string]time.Time
	config Config

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSpacer creates a spacer with the given configuration.
func NewSpacer(config Config) *Spacer {
	if config.MinInterval <= 0 {
		config.MinInterval = DefaultConfig().MinInterval
	}
	if config.MaxWait <= 0 {
		config.MaxWait = DefaultConfig().MaxWait
	}
	return &Spacer{
		last:   make(map[string]time.Time),
		config: config,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// Wait blocks until a call of the given kind is allowed to proceed, then
// reserves the slot. The delay is bounded by MaxWait and is interrupted by
// context cancellation, in which case the slot is not reserved.
func (s *Spacer) Wait(ctx context.Context, kind string) error {
	if s == nil || !s.config.Enabled || kind == "" {
		return ctx.Err()
	}

	s.mu.Lock()
	now := s.now()
	wait := s.config.MinInterval - now.Sub(s.last[kind])
	if wait > s.config.MaxWait {
		wait = s.config.MaxWait
	}
	if wait <= 0 {
		s.last[kind] = now
		s.mu.Unlock()
		return ctx.Err()
	}
	// Reserve optimistically so concurrent callers of the same kind queue
	// behind this one rather than racing for the same slot.
	s.last[kind] = now.Add(wait)
	s.mu.Unlock()

	if err := s.sleep(ctx, wait); err != nil {
		return err
	}
	return nil
}

// WaitTime reports how long a call of the given kind would currently be
// delayed, without reserving anything.
func (s *Spacer) WaitTime(kind string) time.Duration {
	if s == nil || !s.config.Enabled || kind == "" {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	wait := s.config.MinInterval - s.now().Sub(s.last[kind])
	if wait < 0 {
		return 0
	}
	if wait > s.config.MaxWait {
		return s.config.MaxWait
	}
	return wait
}

// Reset clears the recorded history for a kind.
func (s *Spacer) Reset(kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.last, kind)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
