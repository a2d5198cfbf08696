package workers

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"bison/internal/config"
	"bison/internal/utils/logger"
)

// Scheduler drives the periodic jobs: the sequence dispatch poll and the
// inbox sync. It is a thin cron wrapper; all logic lives in the jobs.
type Scheduler struct {
	cron       *cron.Cron
	dispatcher *Dispatcher
	inbox      *InboxSync
	cfg        *config.Config
	log        *logger.Logger
}

func NewScheduler(cfg *config.Config, dispatcher *Dispatcher, inbox *InboxSync) *Scheduler {
	return &Scheduler{
		cron:       cron.New(),
		dispatcher: dispatcher,
		inbox:      inbox,
		cfg:        cfg,
		log:        logger.New("SCHEDULER"),
	}
}

// Start registers the periodic jobs and begins running them.
func (s *Scheduler) Start() error {
	dispatchSpec := fmt.Sprintf("@every %s", s.cfg.Worker.PollInterval)
	if _, err := s.cron.AddFunc(dispatchSpec, func() {
		if err := s.dispatcher.RunOnce(context.Background()); err != nil {
			s.log.Warn("dispatch cycle failed: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to register dispatch job: %w", err)
	}
	s.log.Info("registered sequence dispatch %s", dispatchSpec)

	if s.inbox != nil && s.inbox.Enabled() {
		inboxSpec := fmt.Sprintf("@every %s", s.cfg.IMAP.PollInterval)
		if _, err := s.cron.AddFunc(inboxSpec, func() {
			if err := s.inbox.Sync(context.Background()); err != nil {
				s.log.Warn("inbox sync failed: %v", err)
			}
		}); err != nil {
			return fmt.Errorf("failed to register inbox sync job: %w", err)
		}
		s.log.Info("registered inbox sync %s", inboxSpec)
	}

	s.cron.Start()
	return nil
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("scheduler stopped")
}
