package workers

import (
	"context"
	"fmt"
	"sync"

	"bison/internal/mailer"
	"bison/internal/models"
	"bison/internal/services"
	"bison/internal/utils"
	"bison/internal/utils/logger"
)

// DispatcherConfig bounds the dispatcher's concurrency and retry budget.
type DispatcherConfig struct {
	// Concurrency caps in-flight sends per polling cycle.
	Concurrency int
	// MaxSendRetries is the number of transient failures tolerated per
	// step before the enrollment is stopped.
	MaxSendRetries int
}

// Dispatcher is the sequence engine's send loop. Each cycle it scans for
// due enrollments, renders the due step, sends it, and advances the
// enrollment. One enrollment's failure never blocks the rest of the
// batch.
type Dispatcher struct {
	enrollments *services.EnrollmentService
	emails      *services.EmailService
	sender      mailer.Sender
	clock       services.Clock
	lock        *LeaderLock
	cfg         DispatcherConfig
	log         *logger.Logger
}

func NewDispatcher(
	enrollments *services.EnrollmentService,
	emails *services.EmailService,
	sender mailer.Sender,
	clock services.Clock,
	lock *LeaderLock,
	cfg DispatcherConfig,
) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.MaxSendRetries <= 0 {
		cfg.MaxSendRetries = 3
	}
	if clock == nil {
		clock = services.SystemClock()
	}
	return &Dispatcher{
		enrollments: enrollments,
		emails:      emails,
		sender:      sender,
		clock:       clock,
		lock:        lock,
		cfg:         cfg,
		log:         logger.New("DISPATCHER"),
	}
}

// RunOnce performs a single polling cycle. Sends for distinct
// enrollments run concurrently up to the configured bound; per-pair
// consistency is guaranteed by the tracker's locking, not here.
func (d *Dispatcher) RunOnce(ctx context.Context) error {
	if d.lock != nil {
		held, err := d.lock.TryAcquire(ctx)
		if err != nil {
			return d.log.Error("leader lock check failed", err)
		}
		if !held {
			d.log.Debug("another instance holds the dispatch lock, skipping cycle")
			return nil
		}
	}

	now := d.clock.Now()
	due, err := d.enrollments.DueEnrollments(ctx, now)
	if err != nil {
		return d.log.Error("failed to scan due enrollments", err)
	}
	if len(due) == 0 {
		return nil
	}
	d.log.Info("dispatching %d due enrollment(s)", len(due))

	sem := make(chan struct{}, d.cfg.Concurrency)
	var wg sync.WaitGroup
	for i := range due {
		wg.Add(1)
		sem <- struct{}{}
		go func(e models.Enrollment) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := d.process(ctx, e); err != nil {
				d.log.Warn("enrollment %s/%s: %v", e.SequenceID, e.ContactEmail, err)
			}
		}(due[i])
	}
	wg.Wait()
	return nil
}

func (d *Dispatcher) process(ctx context.Context, e models.Enrollment) error {
	if e.Sequence == nil || e.CurrentStep < 1 || e.CurrentStep > len(e.Sequence.Steps) {
		// The row can never become consistent; stop it rather than
		// re-reporting it every cycle.
		reason := fmt.Sprintf("step %d is outside the sequence's %d step(s)",
			e.CurrentStep, stepCount(e.Sequence))
		if err := d.enrollments.Stop(ctx, e.SequenceID, e.ContactEmail, reason); err != nil {
			return fmt.Errorf("inconsistent enrollment could not be stopped: %w", err)
		}
		return fmt.Errorf("stopped inconsistent enrollment: %s", reason)
	}
	step := e.Sequence.Steps[e.CurrentStep-1]

	subject, body := d.render(e, step)

	result, err := d.sender.Send(ctx, e.ContactEmail, subject, body)
	if err != nil {
		permanent := mailer.IsPermanent(err)
		stopped, ferr := d.enrollments.MarkSendFailure(
			ctx, e.SequenceID, e.ContactEmail, err.Error(), permanent, d.cfg.MaxSendRetries)
		if ferr != nil {
			return fmt.Errorf("send failed (%v) and failure could not be recorded: %w", err, ferr)
		}
		if stopped {
			return fmt.Errorf("stopped after send failure: %w", err)
		}
		return fmt.Errorf("send failed, will retry next cycle: %w", err)
	}

	if err := d.emails.RecordSequenceSend(ctx, e.ID, e.ContactEmail, subject, body, result); err != nil {
		// The message is out; losing the record must not block progression.
		d.log.Error("failed to record sequence send", err)
	}

	return d.enrollments.Advance(ctx, e.SequenceID, e.ContactEmail, result.SentAt)
}

// render substitutes {{variable}} placeholders from the contact's fields
// and metadata into the step's subject and body.
func (d *Dispatcher) render(e models.Enrollment, step models.SequenceStep) (string, string) {
	vars := map[string]string{"email": e.ContactEmail}
	if e.Contact != nil {
		vars["first_name"] = e.Contact.FirstName
		vars["last_name"] = e.Contact.LastName
		if meta, err := utils.JSONToMap(e.Contact.Metadata); err == nil {
			for k, v := range meta {
				vars[k] = v
			}
		}
	}
	return utils.ReplaceVariables(step.Subject, vars), utils.ReplaceVariables(step.Body, vars)
}

func stepCount(seq *models.Sequence) int {
	if seq == nil {
		return 0
	}
	return len(seq.Steps)
}
