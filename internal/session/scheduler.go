package session

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Default job intervals.
const (
	NeedsSignInterval      = 59 * time.Second
	RefreshExpiredInterval = 293 * time.Second
	ActivityFlushInterval  = 30 * time.Second
	EventFlushInterval     = 10 * time.Second
)

type cronLogger struct {
	log *logrus.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithField("kv", keysAndValues).Debugf("scheduler -> %s", msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithField("kv", keysAndValues).Errorf("scheduler -> %s: %v", msg, err)
}

// Scheduler runs periodic jobs. A job still running when its next tick
// comes is skipped, and a panicking job is recovered.
type Scheduler struct {
	c   *cron.Cron
	log *logrus.Logger
	ctx context.Context
}

func NewScheduler(ctx context.Context, log *logrus.Logger) *Scheduler {
	cl := cronLogger{log: log}
	return &Scheduler{
		c:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		log: log,
		ctx: ctx,
	}
}

// Every registers fn to run at a fixed interval.
func (s *Scheduler) Every(interval time.Duration, name string, fn func(ctx context.Context)) error {
	_, err := s.c.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		s.log.WithField("job", name).Debug("scheduler -> run")
		fn(s.ctx)
	})
	if err != nil {
		return fmt.Errorf("scheduler -> add %s: %w", name, err)
	}
	return nil
}

type job struct {
	interval time.Duration
	name     string
	fn       func(ctx context.Context)
}

// RegisterRegistryJobs adds the session maintenance jobs.
func (s *Scheduler) RegisterRegistryJobs(r *Registry, events *EventRecorder) error {
	jobs := []job{
		{NeedsSignInterval, "needs-sign", func(context.Context) {
			if n := r.CheckNeedsSign(); n > 0 {
				s.log.Infof("scheduler -> %d terminals flagged to sign in again", n)
			}
		}},
		{RefreshExpiredInterval, "refresh-expired", func(ctx context.Context) { r.RefreshExpired(ctx) }},
		{ActivityFlushInterval, "flush-activity", func(ctx context.Context) { _ = r.FlushActivity(ctx) }},
	}
	if events != nil {
		jobs = append(jobs, job{EventFlushInterval, "flush-events", func(ctx context.Context) { _ = events.Flush(ctx) }})
	}
	for _, j := range jobs {
		if err := s.Every(j.interval, j.name, j.fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) Start() {
	s.c.Start()
}

// Stop waits for running jobs or ctx, whichever ends first.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.c.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
