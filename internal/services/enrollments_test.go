package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"bison/internal/models"
	"bison/internal/testutil"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func newTracker(t *testing.T) (*EnrollmentService, *SequenceService, *testutil.Clock, *gorm.DB) {
	db := testutil.OpenDB(t)
	clock := testutil.NewClock(t0)
	return NewEnrollmentService(db, clock), NewSequenceService(db), clock, db
}

func mustCreateSequence(t *testing.T, svc *SequenceService, steps []StepInput) *models.Sequence {
	t.Helper()
	seq, err := svc.Create(context.Background(), "seq", "", steps)
	require.NoError(t, err)
	return seq
}

func TestEnrollStartsAtStepOne(t *testing.T) {
	tracker, sequences, _, _ := newTracker(t)
	seq := mustCreateSequence(t, sequences, []StepInput{
		{Order: 1, DelayDays: 0, Subject: "a", Body: "a"},
		{Order: 2, DelayDays: 3, Subject: "b", Body: "b"},
	})
	ctx := context.Background()

	enrollment, err := tracker.Enroll(ctx, seq.ID, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, 1, enrollment.CurrentStep)
	assert.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	require.NotNil(t, enrollment.NextSendAt)
	// delay_days=0 means due immediately
	assert.True(t, enrollment.NextSendAt.Equal(t0))

	status, err := tracker.GetStatus(ctx, seq.ID, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, 1, status.CurrentStep)
	assert.Equal(t, models.EnrollmentStatusActive, status.Status)
}

func TestEnrollFirstStepDelayShiftsDueDate(t *testing.T) {
	tracker, sequences, _, _ := newTracker(t)
	seq := mustCreateSequence(t, sequences, []StepInput{
		{Order: 1, DelayDays: 2, Subject: "a", Body: "a"},
	})

	enrollment, err := tracker.Enroll(context.Background(), seq.ID, "a@x.com")
	require.NoError(t, err)
	require.NotNil(t, enrollment.NextSendAt)
	assert.True(t, enrollment.NextSendAt.Equal(t0.Add(48*time.Hour)))
}

func TestEnrollUnknownSequence(t *testing.T) {
	tracker, _, _, _ := newTracker(t)

	_, err := tracker.Enroll(context.Background(), "00000000-0000-0000-0000-000000000000", "a@x.com")
	assert.ErrorIs(t, err, ErrSequenceNotFound)
}

func TestEnrollRejectsMalformedEmail(t *testing.T) {
	tracker, sequences, _, _ := newTracker(t)
	seq := mustCreateSequence(t, sequences, validSteps())

	_, err := tracker.Enroll(context.Background(), seq.ID, "not-an-email")
	assert.ErrorIs(t, err, ErrInvalidEmail)
}

func TestEnrollTwiceWhileActiveConflicts(t *testing.T) {
	tracker, sequences, _, _ := newTracker(t)
	seq := mustCreateSequence(t, sequences, validSteps())
	ctx := context.Background()

	_, err := tracker.Enroll(ctx, seq.ID, "a@x.com")
	require.NoError(t, err)

	_, err = tracker.Enroll(ctx, seq.ID, "a@x.com")
	assert.ErrorIs(t, err, ErrAlreadyEnrolled)
}

func TestEnrollAgainAfterTerminalAllowed(t *testing.T) {
	tracker, sequences, _, _ := newTracker(t)
	seq := mustCreateSequence(t, sequences, validSteps())
	ctx := context.Background()

	_, err := tracker.Enroll(ctx, seq.ID, "a@x.com")
	require.NoError(t, err)
	require.NoError(t, tracker.Stop(ctx, seq.ID, "a@x.com", "manual"))

	enrollment, err := tracker.Enroll(ctx, seq.ID, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, 1, enrollment.CurrentStep)
	assert.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
}

func TestAdvanceMovesToNextStepFromSendTime(t *testing.T) {
	tracker, sequences, _, _ := newTracker(t)
	seq := mustCreateSequence(t, sequences, []StepInput{
		{Order: 1, DelayDays: 0, Subject: "a", Body: "a"},
		{Order: 2, DelayDays: 3, Subject: "b", Body: "b"},
	})
	ctx := context.Background()

	_, err := tracker.Enroll(ctx, seq.ID, "a@x.com")
	require.NoError(t, err)

	// Sent late: next due date is computed from the actual send time,
	// not the originally scheduled one.
	sentAt := t0.Add(90 * time.Minute)
	require.NoError(t, tracker.Advance(ctx, seq.ID, "a@x.com", sentAt))

	status, err := tracker.GetStatus(ctx, seq.ID, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, 2, status.CurrentStep)
	assert.Equal(t, models.EnrollmentStatusActive, status.Status)
	require.NotNil(t, status.NextSendAt)
	assert.True(t, status.NextSendAt.Equal(sentAt.Add(3*24*time.Hour)))
	require.NotNil(t, status.LastInteraction)
	assert.True(t, status.LastInteraction.Equal(sentAt))
}

func TestAdvanceOnFinalStepCompletes(t *testing.T) {
	tracker, sequences, _, _ := newTracker(t)
	seq := mustCreateSequence(t, sequences, []StepInput{
		{Order: 1, DelayDays: 0, Subject: "only", Body: "only"},
	})
	ctx := context.Background()

	_, err := tracker.Enroll(ctx, seq.ID, "a@x.com")
	require.NoError(t, err)
	require.NoError(t, tracker.Advance(ctx, seq.ID, "a@x.com", t0))

	status, err := tracker.GetStatus(ctx, seq.ID, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCompleted, status.Status)
	assert.Nil(t, status.NextSendAt)
	// Never a step beyond the last.
	assert.Equal(t, 1, status.CurrentStep)

	// Completed is terminal: a straggling advance is discarded.
	require.NoError(t, tracker.Advance(ctx, seq.ID, "a@x.com", t0.Add(time.Hour)))
	status, err = tracker.GetStatus(ctx, seq.ID, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCompleted, status.Status)
}

func TestStopIsTerminalAndIdempotent(t *testing.T) {
	tracker, sequences, _, _ := newTracker(t)
	seq := mustCreateSequence(t, sequences, validSteps())
	ctx := context.Background()

	_, err := tracker.Enroll(ctx, seq.ID, "a@x.com")
	require.NoError(t, err)

	require.NoError(t, tracker.Stop(ctx, seq.ID, "a@x.com", "manual"))
	require.NoError(t, tracker.Stop(ctx, seq.ID, "a@x.com", "again"))

	status, err := tracker.GetStatus(ctx, seq.ID, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusStopped, status.Status)
	assert.Nil(t, status.NextSendAt)

	// Advance on a stopped enrollment is a no-op.
	require.NoError(t, tracker.Advance(ctx, seq.ID, "a@x.com", t0))
	status, err = tracker.GetStatus(ctx, seq.ID, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusStopped, status.Status)
	assert.Equal(t, 1, status.CurrentStep)
}

func TestStopDoesNotRewriteCompleted(t *testing.T) {
	tracker, sequences, _, _ := newTracker(t)
	seq := mustCreateSequence(t, sequences, []StepInput{
		{Order: 1, DelayDays: 0, Subject: "a", Body: "a"},
	})
	ctx := context.Background()

	_, err := tracker.Enroll(ctx, seq.ID, "a@x.com")
	require.NoError(t, err)
	require.NoError(t, tracker.Advance(ctx, seq.ID, "a@x.com", t0))

	require.NoError(t, tracker.Stop(ctx, seq.ID, "a@x.com", "late stop"))
	status, err := tracker.GetStatus(ctx, seq.ID, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCompleted, status.Status)
}

func TestPauseFreezesAndResumePreservesDueDate(t *testing.T) {
	tracker, sequences, _, _ := newTracker(t)
	seq := mustCreateSequence(t, sequences, []StepInput{
		{Order: 1, DelayDays: 2, Subject: "a", Body: "a"},
	})
	ctx := context.Background()

	enrollment, err := tracker.Enroll(ctx, seq.ID, "a@x.com")
	require.NoError(t, err)
	frozen := *enrollment.NextSendAt

	require.NoError(t, tracker.Pause(ctx, seq.ID, "a@x.com"))
	status, err := tracker.GetStatus(ctx, seq.ID, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusPaused, status.Status)
	require.NotNil(t, status.NextSendAt)
	assert.True(t, status.NextSendAt.Equal(frozen))

	require.NoError(t, tracker.Resume(ctx, seq.ID, "a@x.com"))
	status, err = tracker.GetStatus(ctx, seq.ID, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, status.Status)
	require.NotNil(t, status.NextSendAt)
	assert.True(t, status.NextSendAt.Equal(frozen))
}

func TestResumeStoppedIsRejected(t *testing.T) {
	tracker, sequences, _, _ := newTracker(t)
	seq := mustCreateSequence(t, sequences, validSteps())
	ctx := context.Background()

	_, err := tracker.Enroll(ctx, seq.ID, "a@x.com")
	require.NoError(t, err)
	require.NoError(t, tracker.Stop(ctx, seq.ID, "a@x.com", "manual"))

	assert.ErrorIs(t, tracker.Resume(ctx, seq.ID, "a@x.com"), ErrInvalidTransition)
	assert.ErrorIs(t, tracker.Pause(ctx, seq.ID, "a@x.com"), ErrInvalidTransition)
}

func TestGetStatusUnknownPair(t *testing.T) {
	tracker, sequences, _, _ := newTracker(t)
	seq := mustCreateSequence(t, sequences, validSteps())

	_, err := tracker.GetStatus(context.Background(), seq.ID, "nobody@x.com")
	assert.ErrorIs(t, err, ErrEnrollmentNotFound)
}

func TestMarkSendFailureStopsAfterRetryBudget(t *testing.T) {
	tracker, sequences, _, _ := newTracker(t)
	seq := mustCreateSequence(t, sequences, validSteps())
	ctx := context.Background()

	_, err := tracker.Enroll(ctx, seq.ID, "a@x.com")
	require.NoError(t, err)

	stopped, err := tracker.MarkSendFailure(ctx, seq.ID, "a@x.com", "timeout", false, 3)
	require.NoError(t, err)
	assert.False(t, stopped)

	stopped, err = tracker.MarkSendFailure(ctx, seq.ID, "a@x.com", "timeout", false, 3)
	require.NoError(t, err)
	assert.False(t, stopped)

	// Third transient failure exhausts the budget.
	stopped, err = tracker.MarkSendFailure(ctx, seq.ID, "a@x.com", "timeout", false, 3)
	require.NoError(t, err)
	assert.True(t, stopped)

	status, err := tracker.GetStatus(ctx, seq.ID, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusStopped, status.Status)
	assert.Nil(t, status.NextSendAt)
}

func TestMarkSendFailurePermanentStopsImmediately(t *testing.T) {
	tracker, sequences, _, _ := newTracker(t)
	seq := mustCreateSequence(t, sequences, validSteps())
	ctx := context.Background()

	_, err := tracker.Enroll(ctx, seq.ID, "a@x.com")
	require.NoError(t, err)

	stopped, err := tracker.MarkSendFailure(ctx, seq.ID, "a@x.com", "mailbox gone", true, 3)
	require.NoError(t, err)
	assert.True(t, stopped)
}

func TestSuccessfulAdvanceResetsRetryBudget(t *testing.T) {
	tracker, sequences, _, db := newTracker(t)
	seq := mustCreateSequence(t, sequences, validSteps())
	ctx := context.Background()

	_, err := tracker.Enroll(ctx, seq.ID, "a@x.com")
	require.NoError(t, err)

	_, err = tracker.MarkSendFailure(ctx, seq.ID, "a@x.com", "timeout", false, 3)
	require.NoError(t, err)
	require.NoError(t, tracker.Advance(ctx, seq.ID, "a@x.com", t0))

	var enrollment models.Enrollment
	require.NoError(t, db.Where("sequence_id = ?", seq.ID).First(&enrollment).Error)
	assert.Equal(t, 0, enrollment.SendAttempts)
}

func TestDueEnrollmentsOrderAndFilter(t *testing.T) {
	tracker, sequences, clock, _ := newTracker(t)
	seq := mustCreateSequence(t, sequences, []StepInput{
		{Order: 1, DelayDays: 1, Subject: "a", Body: "a"},
	})
	ctx := context.Background()

	_, err := tracker.Enroll(ctx, seq.ID, "first@x.com")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = tracker.Enroll(ctx, seq.ID, "second@x.com")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = tracker.Enroll(ctx, seq.ID, "paused@x.com")
	require.NoError(t, err)
	require.NoError(t, tracker.Pause(ctx, seq.ID, "paused@x.com"))

	// Nothing due yet.
	due, err := tracker.DueEnrollments(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)

	// A day later the two active enrollments are due, in enrollment order.
	due, err = tracker.DueEnrollments(ctx, t0.Add(25*time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "first@x.com", due[0].ContactEmail)
	assert.Equal(t, "second@x.com", due[1].ContactEmail)
	require.NotNil(t, due[0].Sequence)
	assert.Len(t, due[0].Sequence.Steps, 1)
}
