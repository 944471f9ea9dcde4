/*
scheduler.go - Background maintenance jobs

PURPOSE:
  Runs the periodic sweeps the booking engine relies on:
  - credit expiry: marks credits past their expiry as expired
  - waitlist purge: drops queue entries of sessions that have started

DESIGN:
  - Jobs run on robfig/cron schedules from config
  - A panicking job is recovered and logged, the scheduler keeps running
  - Each run is counted in metrics by job and success
  - Both sweeps are also exposed under /api/admin for manual runs

USAGE:
  scheduler, err := NewScheduler(engine, observer, schedules, log)
  scheduler.Start()
  // ... later
  <-scheduler.Stop().Done()

SEE ALSO:
  - handlers.go: ExpireCredits and PurgeWaitlists endpoints
  - booking/credits.go: CreditLedger.ExpireCredits
*/
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/warp/class-booking/booking"
	"github.com/warp/class-booking/metrics"
)

// Job names, also used as metric labels.
const (
	JobCreditExpiry  = "credit_expiry"
	JobWaitlistPurge = "waitlist_purge"
)

// jobTimeout bounds one run of a job.
const jobTimeout = time.Minute

// Schedules holds the cron expressions of the maintenance jobs. An empty
// expression disables that job.
type Schedules struct {
	CreditExpiry  string
	WaitlistPurge string
}

// Scheduler owns the cron runner and the jobs registered on it.
type Scheduler struct {
	engine   *booking.Engine
	observer booking.Observer
	log      logrus.FieldLogger
	cron     *cron.Cron
}

// NewScheduler registers the jobs. It fails on an invalid cron expression.
func NewScheduler(engine *booking.Engine, observer booking.Observer, schedules Schedules, log logrus.FieldLogger) (*Scheduler, error) {
	log = log.WithField("component", "scheduler")
	cronLog := cron.PrintfLogger(log)

	s := &Scheduler{
		engine:   engine,
		observer: observer,
		log:      log,
		cron:     cron.New(cron.WithChain(cron.Recover(cronLog)), cron.WithLogger(cronLog)),
	}

	jobs := []struct {
		name string
		spec string
		run  func(context.Context) (int, error)
	}{
		{JobCreditExpiry, schedules.CreditExpiry, s.expireCredits},
		{JobWaitlistPurge, schedules.WaitlistPurge, s.purgeWaitlists},
	}
	for _, job := range jobs {
		if job.spec == "" {
			log.WithField("job", job.name).Info("job disabled")
			continue
		}
		job := job
		if _, err := s.cron.AddFunc(job.spec, func() { s.RunNow(job.name, job.run) }); err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", job.name, job.spec, err)
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.WithField("jobs", len(s.cron.Entries())).Info("scheduler started")
}

// Stop halts scheduling. The returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunNow runs one job synchronously and records its outcome.
func (s *Scheduler) RunNow(name string, run func(context.Context) (int, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	start := time.Now()
	n, err := run(ctx)
	metrics.RecordJobRun(name, err == nil)

	entry := s.log.WithFields(logrus.Fields{"job": name, "affected": n, "duration": time.Since(start)})
	if err != nil {
		entry.WithError(err).Error("job failed")
		return
	}
	if n > 0 {
		entry.Info("job completed")
	} else {
		entry.Debug("job completed")
	}
}

func (s *Scheduler) expireCredits(ctx context.Context) (int, error) {
	n, err := s.engine.Credits().ExpireCredits(ctx)
	if err != nil {
		return 0, err
	}
	s.observer.CreditsExpired(n)
	return n, nil
}

func (s *Scheduler) purgeWaitlists(ctx context.Context) (int, error) {
	return s.engine.Waitlist().PurgeStale(ctx)
}
