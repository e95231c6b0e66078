// Package scheduler runs the consistency sweep (C9) on a cron schedule: a
// read-only periodic pass that lists nodes and logs orphan counts and
// attachment size-invariant violations without repairing them.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/cipherpad/engine/src/session"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

const defaultSweepSchedule = "0 * * * *"

// SweepScheduler owns the cron runner driving periodic Sweep calls against
// one session. Unlike a package-level singleton, each SweepScheduler is
// scoped to the session it was built for.
type SweepScheduler struct {
	mu     sync.Mutex
	sess   *session.Session
	logger *logrus.Logger
	runner *cron.Cron
}

// NewSweepScheduler returns a scheduler that has not started running yet.
func NewSweepScheduler(sess *session.Session, logger *logrus.Logger) *SweepScheduler {
	return &SweepScheduler{sess: sess, logger: logger}
}

// Start registers and starts the sweep job on schedule. An empty schedule
// falls back to hourly. Sweep only does useful work while the session is
// Unlocked; a locked sweep is logged and skipped rather than treated as an
// error, since lock state is expected to change over the scheduler's
// lifetime.
func (s *SweepScheduler) Start(schedule string) error {
	if schedule == "" {
		schedule = defaultSweepSchedule
	}
	if _, err := cronParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid sweep schedule: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runner != nil {
		ctx := s.runner.Stop()
		<-ctx.Done()
	}

	s.runner = cron.New(cron.WithParser(cronParser))
	if _, err := s.runner.AddFunc(schedule, s.runSweep); err != nil {
		return fmt.Errorf("register sweep job: %w", err)
	}
	s.runner.Start()

	s.logger.WithField("schedule", schedule).Info("consistency sweep scheduler started")
	return nil
}

// Stop halts the scheduler and waits for any in-flight sweep to finish.
func (s *SweepScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runner == nil {
		return
	}
	ctx := s.runner.Stop()
	<-ctx.Done()
	s.runner = nil
}

func (s *SweepScheduler) runSweep() {
	if s.sess.State() != session.Unlocked {
		s.logger.Debug("consistency sweep skipped: vault is locked")
		return
	}

	report, err := s.sess.Sweep(context.Background())
	if err != nil {
		s.logger.WithError(err).Warn("consistency sweep failed")
		return
	}

	log := s.logger.WithFields(logrus.Fields{
		"orphanCount":             report.OrphanCount,
		"sizeInvariantViolations": report.SizeInvariantViolations,
	})
	if report.OrphanCount > 0 || report.SizeInvariantViolations > 0 {
		log.Warn("consistency sweep found issues")
	} else {
		log.Info("consistency sweep clean")
	}
}
