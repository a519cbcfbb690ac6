// internal/scheduler/scheduler.go

// Package scheduler runs the merge and ingest pipelines on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"mailmerge-workers/internal/common/errors"
	"mailmerge-workers/internal/common/logger"
)

// Job is one scheduled pipeline run.
type Job func(ctx context.Context) error

// Scheduler wraps a cron runner. Overlapping runs of the same job are skipped and panics are
// recovered, both reported through the structured logger.
type Scheduler struct {
	cron    *cron.Cron
	logger  logger.Logger
	timeout time.Duration
	names   map[cron.EntryID]string
}

// New creates a scheduler whose expressions carry a leading seconds field. timeout bounds each
// run; zero means no bound.
func New(log logger.Logger, timeout time.Duration) *Scheduler {
	cl := cronLogger{log: log}
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(
				cron.SkipIfStillRunning(cl),
				cron.Recover(cl),
			),
		),
		logger:  log,
		timeout: timeout,
		names:   make(map[cron.EntryID]string),
	}
}

// Add schedules job under name. An empty spec leaves the job unscheduled.
func (s *Scheduler) Add(name, spec string, job Job) error {
	if spec == "" {
		s.logger.Info("schedule disabled", map[string]interface{}{"job": name})
		return nil
	}

	id, err := s.cron.AddFunc(spec, func() { s.run(name, job) })
	if err != nil {
		return errors.NewConfigurationErrorf("schedule %s: invalid cron expression %q: %v", name, spec, err)
	}
	s.names[id] = name

	s.logger.Info("job scheduled", map[string]interface{}{
		"job":      name,
		"schedule": spec,
	})
	return nil
}

func (s *Scheduler) run(name string, job Job) {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	started := time.Now()
	err := job(ctx)
	fields := map[string]interface{}{
		"job":        name,
		"durationMs": time.Since(started).Milliseconds(),
	}
	if err != nil {
		fields["error"] = err.Error()
		fields["errorCode"] = string(errors.AsStandard(err).Code)
		s.logger.Error("scheduled run failed", fields)
		return
	}
	s.logger.Info("scheduled run finished", fields)
}

// Next reports the next activation of every scheduled job, keyed by name.
func (s *Scheduler) Next() map[string]time.Time {
	out := make(map[string]time.Time, len(s.names))
	for _, e := range s.cron.Entries() {
		out[s.names[e.ID]] = e.Next
	}
	return out
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduled runs still active: %w", ctx.Err())
	}
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug("cron: "+msg, pairs(keysAndValues))
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := pairs(keysAndValues)
	fields["error"] = err.Error()
	c.log.Error("cron: "+msg, fields)
}

func pairs(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
