/*
scheduler.go - Daily reminder sweep

PURPOSE:
  On a cron schedule, computes every owner's pending occurrences for today
  (effective occurrences that are not completed) and logs them. The same
  computation backs GET /api/reminders/due.

DESIGN:
  - robfig/cron runs the sweep; the schedule comes from config
  - Owners are discovered from storage on every run
  - A failing owner is logged and skipped; the sweep continues
  - The last result is kept for inspection

USAGE:
  scheduler := NewReminderScheduler(eng, store, logger, "0 8 * * *")
  if err := scheduler.Start(); err != nil { ... }
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: DueReminders endpoint
  - config/config.go: scheduler.spec
*/
package api

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"
	"github.com/warp/reminder-engine/calendar"
	"github.com/warp/reminder-engine/engine"
)

// OwnerLister discovers the owners to sweep.
type OwnerLister interface {
	ListOwners(ctx context.Context) ([]engine.OwnerID, error)
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Day     calendar.Day
	Owners  int
	Pending int
	Failed  int
	Took    time.Duration
}

// ReminderScheduler runs the reminder sweep on a cron schedule.
type ReminderScheduler struct {
	Engine *engine.Engine
	Owners OwnerLister
	Log    *log.Logger
	Spec   string

	// Today is the day swept. Replaced in tests.
	Today func() calendar.Day

	cron *cron.Cron
	mu   sync.Mutex
	last *SweepResult
}

// NewReminderScheduler creates a scheduler. A nil logger discards output.
func NewReminderScheduler(e *engine.Engine, owners OwnerLister, logger *log.Logger, spec string) *ReminderScheduler {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &ReminderScheduler{
		Engine: e,
		Owners: owners,
		Log:    logger.WithPrefix("scheduler"),
		Spec:   spec,
		Today:  calendar.Today,
	}
}

// Start schedules the sweep. It fails on an unparsable spec.
func (rs *ReminderScheduler) Start() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.cron != nil {
		return nil
	}
	c := cron.New(cron.WithLogger(cronLogger{rs.Log}))
	if _, err := c.AddFunc(rs.Spec, func() { rs.Sweep(context.Background()) }); err != nil {
		return err
	}
	c.Start()
	rs.cron = c

	rs.Log.Info("started", "spec", rs.Spec)
	return nil
}

// Stop stops the schedule and waits for a running sweep to finish.
func (rs *ReminderScheduler) Stop() {
	rs.mu.Lock()
	c := rs.cron
	rs.cron = nil
	rs.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
		rs.Log.Info("stopped")
	}
}

// Sweep computes and logs today's pending reminders for every owner.
func (rs *ReminderScheduler) Sweep(ctx context.Context) SweepResult {
	start := time.Now()
	res := SweepResult{Day: rs.Today()}

	owners, err := rs.Owners.ListOwners(ctx)
	if err != nil {
		rs.Log.Error("listing owners", "err", err)
		res.Failed++
		return rs.record(res, start)
	}

	for _, owner := range owners {
		pending, err := Due(ctx, rs.Engine, owner, res.Day)
		if err != nil {
			rs.Log.Error("computing reminders", "owner", owner, "err", err)
			res.Failed++
			continue
		}
		res.Owners++
		res.Pending += len(pending)
		for _, o := range pending {
			rs.Log.Info("reminder due", "owner", owner, "day", o.Day, "title", o.Fields.Title, "id", o.ID)
		}
	}
	return rs.record(res, start)
}

func (rs *ReminderScheduler) record(res SweepResult, start time.Time) SweepResult {
	res.Took = time.Since(start)
	rs.Log.Info("sweep completed", "day", res.Day, "owners", res.Owners, "pending", res.Pending, "failed", res.Failed, "took", res.Took)

	rs.mu.Lock()
	rs.last = &res
	rs.mu.Unlock()
	return res
}

// LastSweep returns the result of the most recent sweep, if any.
func (rs *ReminderScheduler) LastSweep() (SweepResult, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.last == nil {
		return SweepResult{}, false
	}
	return *rs.last, true
}

// Due returns the owner's effective occurrences on day that are not
// completed.
func Due(ctx context.Context, e *engine.Engine, owner engine.OwnerID, day calendar.Day) ([]engine.EffectiveOccurrence, error) {
	list, err := e.Query(ctx, owner, day, day)
	if err != nil {
		return nil, err
	}
	pending := make([]engine.EffectiveOccurrence, 0, len(list))
	for _, o := range list {
		if !o.Completed {
			pending = append(pending, o)
		}
	}
	return pending, nil
}

// cronLogger adapts the structured logger to cron.Logger.
type cronLogger struct {
	l *log.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "err", err)...)
}
