package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/custodia-labs/commerce-connect/internal/core/domain"
	"github.com/custodia-labs/commerce-connect/internal/core/ports/driven"
	"github.com/custodia-labs/commerce-connect/internal/core/ports/driving"
)

// SweepLockName is the distributed lock guarding refresh sweeps.
const SweepLockName = "refresh-sweep"

// Scheduler triggers refresh sweeps on a fixed interval.
//
// For multi-instance deployments, configure a DistributedLock so only one
// instance sweeps per tick.
type Scheduler struct {
	sweeper driving.RefreshSweeper
	lock    driven.DistributedLock
	logger  *slog.Logger

	// Internal state
	mu       sync.RWMutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	interval time.Duration

	// Lock configuration
	lockTTL      time.Duration
	lockRequired bool
	runOnStart   bool
}

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	Sweeper      driving.RefreshSweeper
	Lock         driven.DistributedLock // Optional: distributed lock for multi-instance coordination
	Logger       *slog.Logger
	Interval     time.Duration // Time between sweeps (default: 10m)
	LockTTL      time.Duration // TTL for the sweep lock, extended while a sweep runs (default: 2m)
	LockRequired bool          // Skip the tick when the lock backend errors
	RunOnStart   bool          // Sweep immediately instead of waiting a full interval
}

// NewScheduler creates a new scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 2 * time.Minute
	}

	return &Scheduler{
		sweeper:      cfg.Sweeper,
		lock:         cfg.Lock,
		logger:       logger,
		interval:     interval,
		lockTTL:      lockTTL,
		lockRequired: cfg.LockRequired,
		runOnStart:   cfg.RunOnStart,
	}
}

// Start begins the scheduler loop.
// It runs until Stop is called or context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("scheduler starting", "interval", s.interval, "lock", s.lock != nil)

	go s.run(ctx)

	return nil
}

// Stop gracefully stops the scheduler and waits for a running sweep.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
}

// run is the main scheduler loop.
func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if s.runOnStart {
		s.tick(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler context cancelled")
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	_, err := s.TriggerNow(ctx)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrSweepInProgress):
		s.logger.Debug("sweep lock held by another instance, skipping tick")
	default:
		s.logger.Error("scheduled refresh sweep failed", "error", err)
	}
}

// TriggerNow runs one sweep under the distributed lock.
// Returns domain.ErrSweepInProgress if another instance holds the lock.
func (s *Scheduler) TriggerNow(ctx context.Context) (*domain.SweepSummary, error) {
	if s.lock != nil {
		acquired, err := s.lock.Acquire(ctx, SweepLockName, s.lockTTL)
		if err != nil {
			if s.lockRequired {
				return nil, fmt.Errorf("acquire sweep lock: %w", err)
			}
			s.logger.Warn("failed to acquire sweep lock, sweeping without it", "error", err)
		} else if !acquired {
			return nil, domain.ErrSweepInProgress
		} else {
			stop := s.keepLock(ctx)
			defer func() {
				stop()
				if err := s.lock.Release(context.WithoutCancel(ctx), SweepLockName); err != nil {
					s.logger.Warn("failed to release sweep lock", "error", err)
				}
			}()
		}
	}

	return s.sweeper.RunRefreshSweep(ctx)
}

// keepLock extends the sweep lock at half its TTL until the returned func is called.
func (s *Scheduler) keepLock(ctx context.Context) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		t := time.NewTicker(s.lockTTL / 2)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				if err := s.lock.Extend(ctx, SweepLockName, s.lockTTL); err != nil {
					s.logger.Warn("failed to extend sweep lock", "error", err)
				}
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}
