package tasking

import (
	"context"
	"fmt"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// defaultPruneTimeout bounds one pruning run.
const defaultPruneTimeout = 5 * time.Minute

// Retention periodically deletes status reports older than a maximum age.
type Retention struct {
	statuses *StatusStore
	maxAge   time.Duration
	schedule cronlib.Schedule
	cron     *cronlib.Cron
	logger   Logger
	now      func() time.Time

	cancel context.CancelFunc
	mu     sync.Mutex
}

// NewRetention returns a pruning job for statuses on a five-field cron schedule.
func NewRetention(statuses *StatusStore, schedule string, maxAge time.Duration) (*Retention, error) {
	if maxAge <= 0 {
		return nil, fmt.Errorf("retention max age must be positive, got %v", maxAge)
	}
	sched, err := cronParser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("parsing retention schedule %q: %w", schedule, err)
	}
	return &Retention{
		statuses: statuses,
		maxAge:   maxAge,
		schedule: sched,
		logger:   noopLogger{},
		now:      time.Now,
	}, nil
}

// SetLogger sets the logger for the job.
func (r *Retention) SetLogger(logger Logger) {
	r.logger = logger
}

// Next returns the first run time after t.
func (r *Retention) Next(t time.Time) time.Time {
	return r.schedule.Next(t)
}

// Start schedules the job. Runs use a context derived from ctx, so
// cancelling ctx aborts a prune in progress.
func (r *Retention) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.cron = cronlib.New(cronlib.WithParser(cronParser))
	r.cron.Schedule(r.schedule, cronlib.FuncJob(func() {
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.Error("status retention run failed", "error", err)
		}
	}))
	r.cron.Start()
	r.logger.Info("status retention started", "max_age", r.maxAge.String(), "next_run", r.Next(r.now()))
}

// Stop cancels the schedule and waits for a running prune to return.
func (r *Retention) Stop() {
	r.mu.Lock()
	c, cancel := r.cron, r.cancel
	r.cron, r.cancel = nil, nil
	r.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	r.logger.Info("status retention stopped")
}

// RunOnce deletes every report older than the maximum age.
func (r *Retention) RunOnce(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultPruneTimeout)
	defer cancel()

	cutoff := r.now().Add(-r.maxAge)
	n, err := r.statuses.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	r.logger.Info("status reports pruned", "removed", n, "cutoff", cutoff.UTC().Format(time.RFC3339))
	return n, nil
}
