package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/custodia-labs/commerce-connect/internal/core/domain"
	"github.com/custodia-labs/commerce-connect/internal/core/services"
)

// ErrNoTrigger is returned by Start when neither trigger is configured.
var ErrNoTrigger = errors.New("worker has no sweep trigger")

// SweepTrigger runs one refresh sweep under the distributed lock.
// services.Scheduler implements it.
type SweepTrigger interface {
	TriggerNow(ctx context.Context) (*domain.SweepSummary, error)
}

// Worker drives refresh sweeps, either from the in-process ticker or from
// asynq periodic tasks.
type Worker struct {
	scheduler *services.Scheduler
	asynq     *AsynqTrigger
	logger    *slog.Logger

	// Internal state
	mu      sync.Mutex
	running bool
	doneCh  chan struct{}
}

// WorkerConfig holds configuration for the worker.
type WorkerConfig struct {
	// Scheduler is the ticker trigger.
	Scheduler *services.Scheduler

	// Asynq replaces the ticker when set.
	Asynq *AsynqTrigger

	Logger *slog.Logger
}

// NewWorker creates a new sweep worker.
func NewWorker(cfg WorkerConfig) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		scheduler: cfg.Scheduler,
		asynq:     cfg.Asynq,
		logger:    logger,
	}
}

// Mode names the active trigger.
func (w *Worker) Mode() string {
	if w.asynq != nil {
		return "asynq"
	}
	return "ticker"
}

// Start begins triggering sweeps. It returns once the trigger is running.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	switch {
	case w.asynq != nil:
		if err := w.asynq.Start(); err != nil {
			return err
		}
	case w.scheduler != nil:
		if err := w.scheduler.Start(ctx); err != nil {
			return err
		}
	default:
		return ErrNoTrigger
	}

	w.running = true
	w.doneCh = make(chan struct{})
	w.logger.Info("worker started", "trigger", w.Mode())
	return nil
}

// Stop stops the trigger and waits for an in-flight sweep to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	if w.asynq != nil {
		w.asynq.Shutdown()
	} else {
		w.scheduler.Stop()
	}

	w.running = false
	close(w.doneCh)
	w.logger.Info("worker stopped")
}

// Wait blocks until Stop is called. It returns at once if the worker never started.
func (w *Worker) Wait() {
	w.mu.Lock()
	done := w.doneCh
	w.mu.Unlock()
	if done != nil {
		<-done
	}
}

// IsRunning reports whether the worker is running.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
