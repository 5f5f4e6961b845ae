package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/custodia-labs/commerce-connect/internal/core/domain"
)

// TaskTypeRefreshSweep is the asynq task that runs one refresh sweep.
const TaskTypeRefreshSweep = "refresh:sweep"

const sweepQueue = "maintenance"

// AsynqConfig configures the asynq trigger.
type AsynqConfig struct {
	RedisURL string

	// Interval between periodic sweep tasks (default: 10m).
	Interval time.Duration

	// Concurrency is the number of asynq server workers (default: 2).
	Concurrency int

	Trigger SweepTrigger
	Logger  *slog.Logger
}

// AsynqTrigger enqueues a periodic sweep task and processes it. Running it on
// several instances is safe: the task is unique per interval and the sweep
// still takes the distributed lock.
type AsynqTrigger struct {
	scheduler *asynq.Scheduler
	server    *asynq.Server
	mux       *asynq.ServeMux
	trigger   SweepTrigger
	logger    *slog.Logger
	interval  time.Duration
}

// NewAsynqTrigger creates the scheduler and server. Nothing runs until Start.
func NewAsynqTrigger(cfg AsynqConfig) (*AsynqTrigger, error) {
	if cfg.Trigger == nil {
		return nil, errors.New("asynq trigger: sweep trigger is required")
	}
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq trigger: parse redis url: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 2
	}

	asynqLog := &slogAdapter{logger: logger.With("component", "asynq")}

	t := &AsynqTrigger{
		scheduler: asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
			Logger:   asynqLog,
			LogLevel: asynq.WarnLevel,
		}),
		server: asynq.NewServer(redisOpt, asynq.Config{
			Concurrency: concurrency,
			Queues:      map[string]int{sweepQueue: 1},
			Logger:      asynqLog,
			LogLevel:    asynq.WarnLevel,
		}),
		mux:      asynq.NewServeMux(),
		trigger:  cfg.Trigger,
		logger:   logger,
		interval: interval,
	}
	t.mux.HandleFunc(TaskTypeRefreshSweep, t.ProcessTask)
	return t, nil
}

// NewRefreshSweepTask builds the periodic sweep task.
func NewRefreshSweepTask(interval time.Duration) *asynq.Task {
	return asynq.NewTask(TaskTypeRefreshSweep, nil,
		asynq.Queue(sweepQueue),
		asynq.MaxRetry(0),
		asynq.Timeout(interval),
		asynq.Unique(interval),
	)
}

// Start registers the periodic task and starts processing.
func (t *AsynqTrigger) Start() error {
	spec := "@every " + t.interval.String()
	entryID, err := t.scheduler.Register(spec, NewRefreshSweepTask(t.interval))
	if err != nil {
		return fmt.Errorf("register sweep task: %w", err)
	}
	if err := t.scheduler.Start(); err != nil {
		return fmt.Errorf("start asynq scheduler: %w", err)
	}
	if err := t.server.Start(t.mux); err != nil {
		t.scheduler.Shutdown()
		return fmt.Errorf("start asynq server: %w", err)
	}

	t.logger.Info("asynq sweep trigger started", "cronspec", spec, "entry_id", entryID)
	return nil
}

// Shutdown stops enqueuing and waits for the active task.
func (t *AsynqTrigger) Shutdown() {
	t.scheduler.Shutdown()
	t.server.Shutdown()
}

// ProcessTask runs one sweep. A sweep already running elsewhere is not an
// error; failures are not retried since the next period sweeps again.
func (t *AsynqTrigger) ProcessTask(ctx context.Context, task *asynq.Task) error {
	summary, err := t.trigger.TriggerNow(ctx)
	if errors.Is(err, domain.ErrSweepInProgress) {
		t.logger.Info("refresh sweep skipped, another instance holds the lock")
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w: %w", task.Type(), err, asynq.SkipRetry)
	}

	t.logger.Info("refresh sweep task done",
		"selected", summary.Selected,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
	)
	return nil
}

// slogAdapter routes asynq's logger through slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Debug(args ...interface{}) { a.logger.Debug(fmt.Sprint(args...)) }
func (a *slogAdapter) Info(args ...interface{})  { a.logger.Info(fmt.Sprint(args...)) }
func (a *slogAdapter) Warn(args ...interface{})  { a.logger.Warn(fmt.Sprint(args...)) }
func (a *slogAdapter) Error(args ...interface{}) { a.logger.Error(fmt.Sprint(args...)) }

func (a *slogAdapter) Fatal(args ...interface{}) {
	a.logger.Error(fmt.Sprint(args...))
	os.Exit(1)
}
