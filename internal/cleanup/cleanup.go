// Package cleanup schedules removal of deactivated custom links.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultSchedule  = "0 3 1 * *" // 03:00 on the first day of each month
	DefaultRetention = 30 * 24 * time.Hour
	DefaultTimeout   = 5 * time.Minute
)

// Expirer deletes deactivated custom links last updated before cutoff.
type Expirer interface {
	ExpireDeactivatedCustomLinksOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config holds configuration for the cleanup job.
type Config struct {
	Schedule  string // 5-field cron expression
	Retention time.Duration
	Timeout   time.Duration
	Logger    *slog.Logger
	Clock     func() time.Time
}

// Job runs the expirer on a cron schedule. Overlapping runs are skipped.
type Job struct {
	expirer   Expirer
	schedule  string
	retention time.Duration
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time

	cron *cron.Cron

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// New validates cfg.Schedule and returns a stopped job.
func New(expirer Expirer, cfg Config) (*Job, error) {
	if expirer == nil {
		return nil, errors.New("cleanup: expirer is required")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("cleanup: invalid schedule %q: %w", cfg.Schedule, err)
	}

	j := &Job{
		expirer:   expirer,
		schedule:  cfg.Schedule,
		retention: cfg.Retention,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger.With("component", "cleanup"),
		now:       cfg.Clock,
	}
	j.cron = cron.New(
		cron.WithParser(parser),
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	if _, err := j.cron.AddFunc(cfg.Schedule, j.tick); err != nil {
		return nil, fmt.Errorf("cleanup: schedule job: %w", err)
	}
	return j, nil
}

// Start begins the schedule. Runs are cancelled when ctx is done or Stop is
// called.
func (j *Job) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.started {
		return
	}
	j.ctx, j.cancel = context.WithCancel(ctx)
	j.started = true
	j.cron.Start()

	next := time.Time{}
	if entries := j.cron.Entries(); len(entries) > 0 {
		next = entries[0].Next
	}
	j.logger.Info("cleanup job scheduled",
		"schedule", j.schedule,
		"retention", j.retention.String(),
		"next_run", next,
	)
}

// Stop cancels an in-flight run and waits for it to return.
func (j *Job) Stop() {
	j.mu.Lock()
	if !j.started {
		j.mu.Unlock()
		return
	}
	j.started = false
	j.cancel()
	j.mu.Unlock()

	<-j.cron.Stop().Done()
	j.logger.Info("cleanup job stopped")
}

func (j *Job) tick() {
	j.mu.Lock()
	ctx := j.ctx
	j.mu.Unlock()

	if _, err := j.RunOnce(ctx); err != nil {
		j.logger.Error("cleanup run failed", "error", err.Error())
	}
}

// RunOnce deletes deactivated custom links last updated more than the
// retention period ago and returns how many were removed.
func (j *Job) RunOnce(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	cutoff := j.now().UTC().Add(-j.retention)
	start := time.Now()

	n, err := j.expirer.ExpireDeactivatedCustomLinksOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup: expire links older than %s: %w", cutoff.Format(time.RFC3339), err)
	}

	j.logger.Info("cleanup run finished",
		"cutoff", cutoff,
		"deleted", n,
		"duration", time.Since(start).String(),
	)
	return n, nil
}
