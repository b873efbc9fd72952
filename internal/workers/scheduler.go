package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoochat/internal/logger"
)

// Job is one periodic task. Run receives the scheduler context.
type Job struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context)
}

// Scheduler runs the engine's periodic jobs (health probe and reapers).
// A job that is still running when its next tick arrives is skipped, and a
// panicking job is logged without stopping the others.
type Scheduler struct {
	cron *cron.Cron
	log  *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(l *logrus.Logger) *Scheduler {
	entry := logger.Component(l, "scheduler")
	cl := cron.PrintfLogger(entry)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		log:    entry,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers j. Every must be positive.
func (s *Scheduler) Add(j Job) error {
	if j.Every <= 0 {
		return fmt.Errorf("job %q: interval must be positive", j.Name)
	}
	run := j.Run
	name := j.Name
	_, err := s.cron.AddFunc("@every "+j.Every.String(), func() {
		if s.ctx.Err() != nil {
			return
		}
		start := time.Now()
		run(s.ctx)
		s.log.WithFields(logrus.Fields{"job": name, "took": time.Since(start).String()}).Debug("job finished")
	})
	if err != nil {
		return fmt.Errorf("job %q: %w", name, err)
	}
	s.log.WithFields(logrus.Fields{"job": name, "every": j.Every.String()}).Info("job scheduled")
	return nil
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop cancels the job context and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}
