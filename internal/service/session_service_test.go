package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"mentorship/internal/lock"
	"mentorship/internal/model"
	"mentorship/internal/pubsub"
	"mentorship/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestSessionService(repo *memBookings, users *memUsers, pub *recordingPublisher) *sessionService {
	if users == nil {
		users = newMemUsers()
	}
	var publisher pubsub.Publisher
	if pub != nil {
		publisher = pub
	}
	svc := NewSessionService(repo, users, lock.NewLocalLocker(), publisher, SessionConfig{
		DelayGrace:  5 * time.Minute,
		Concurrency: 4,
		EventsTopic: "test-topic",
	}, zerolog.Nop()).(*sessionService)
	svc.now = func() time.Time { return testNow }
	return svc
}

func booking(id string, status model.SessionStatus, start time.Time) model.SessionBooking {
	return model.SessionBooking{
		ID:             id,
		MentorID:       "mentor-1",
		UserID:         "user-1",
		SessionType:    model.SessionYoga,
		ScheduledStart: start,
		Status:         status,
	}
}

func TestRunStatusPassMarksLateSessionDelayed(t *testing.T) {
	repo := newMemBookings(booking("B1", model.SessionScheduled, testNow.Add(-10*time.Minute)))
	svc := newTestSessionService(repo, nil, nil)

	res, err := svc.RunStatusPass(context.Background(), repository.BookingFilter{})
	require.NoError(t, err)

	require.Len(t, res.Updates, 1)
	assert.Equal(t, StatusUpdate{
		BookingID:      "B1",
		PreviousStatus: model.SessionScheduled,
		NewStatus:      model.SessionOngoing,
		IsDelayed:      true,
	}, res.Updates[0])
	got := repo.get("B1")
	assert.Equal(t, model.SessionOngoing, got.Status)
	assert.True(t, got.IsDelayed)
}

func TestRunStatusPassWithinGraceIsNotDelayed(t *testing.T) {
	repo := newMemBookings(booking("B2", model.SessionScheduled, testNow.Add(-2*time.Minute)))
	svc := newTestSessionService(repo, nil, nil)

	res, err := svc.RunStatusPass(context.Background(), repository.BookingFilter{})
	require.NoError(t, err)

	require.Len(t, res.Updates, 1)
	assert.False(t, repo.get("B2").IsDelayed)
}

func TestRunStatusPassTransitions(t *testing.T) {
	manual := testNow.Add(-20 * time.Minute)
	endedEarly := testNow.Add(-time.Minute)
	ongoingPastEnd := booking("ongoing-done", model.SessionOngoing, testNow.Add(-2*time.Hour))
	ongoingRunning := booking("ongoing-running", model.SessionOngoing, testNow.Add(-30*time.Minute))
	future := booking("future", model.SessionScheduled, testNow.Add(time.Hour))
	manualStart := booking("manual", model.SessionScheduled, testNow.Add(time.Hour))
	manualStart.ManualStartTime = &manual
	withEnd := booking("with-end", model.SessionOngoing, testNow.Add(-10*time.Minute))
	withEnd.ActualEndTime = &endedEarly
	cancelled := booking("cancelled", model.SessionCancelled, testNow.Add(-3*time.Hour))

	repo := newMemBookings(ongoingPastEnd, ongoingRunning, future, manualStart, withEnd, cancelled)
	svc := newTestSessionService(repo, nil, nil)

	res, err := svc.RunStatusPass(context.Background(), repository.BookingFilter{})
	require.NoError(t, err)
	assert.Empty(t, res.Failures)
	assert.Len(t, res.Updates, 3)

	assert.Equal(t, model.SessionCompleted, repo.get("ongoing-done").Status)
	require.NotNil(t, repo.get("ongoing-done").ActualEndTime)
	assert.True(t, repo.get("ongoing-done").ActualEndTime.Equal(testNow))

	assert.Equal(t, model.SessionOngoing, repo.get("ongoing-running").Status)
	assert.Equal(t, model.SessionScheduled, repo.get("future").Status)

	// effective start is the manual start time
	assert.Equal(t, model.SessionOngoing, repo.get("manual").Status)
	assert.True(t, repo.get("manual").IsDelayed)

	// an existing actual end time wins over the scheduled duration
	assert.Equal(t, model.SessionCompleted, repo.get("with-end").Status)
	assert.True(t, repo.get("with-end").ActualEndTime.Equal(endedEarly))

	assert.Equal(t, model.SessionCancelled, repo.get("cancelled").Status)
}

func TestRunStatusPassChainsOverdueSession(t *testing.T) {
	repo := newMemBookings(booking("old", model.SessionScheduled, testNow.Add(-3*time.Hour)))
	pub := &recordingPublisher{}
	svc := newTestSessionService(repo, nil, pub)

	res, err := svc.RunStatusPass(context.Background(), repository.BookingFilter{})
	require.NoError(t, err)

	require.Len(t, res.Updates, 2)
	assert.Equal(t, model.SessionOngoing, res.Updates[0].NewStatus)
	assert.Equal(t, model.SessionCompleted, res.Updates[1].NewStatus)
	assert.Equal(t, model.SessionCompleted, repo.get("old").Status)
	assert.Equal(t, 2, pub.count())
}

func TestRunStatusPassIsIdempotent(t *testing.T) {
	repo := newMemBookings(
		booking("a", model.SessionScheduled, testNow.Add(-10*time.Minute)),
		booking("b", model.SessionOngoing, testNow.Add(-2*time.Hour)),
		booking("c", model.SessionScheduled, testNow.Add(-5*time.Hour)),
	)
	svc := newTestSessionService(repo, nil, nil)

	first, err := svc.RunStatusPass(context.Background(), repository.BookingFilter{})
	require.NoError(t, err)
	assert.NotEmpty(t, first.Updates)

	second, err := svc.RunStatusPass(context.Background(), repository.BookingFilter{})
	require.NoError(t, err)
	assert.Empty(t, second.Updates)
	assert.Empty(t, second.Failures)
}

func TestRunStatusPassCollectsPerRecordFailures(t *testing.T) {
	repo := newMemBookings(
		booking("broken", model.SessionScheduled, testNow.Add(-10*time.Minute)),
		booking("raced", model.SessionScheduled, testNow.Add(-10*time.Minute)),
		booking("fine", model.SessionScheduled, testNow.Add(-10*time.Minute)),
	)
	repo.failOn["broken"] = errors.New("connection reset")
	// a manual cancel lands between the read and the conditional write
	repo.onUpdate = func(id string) {
		if id != "raced" {
			return
		}
		repo.mu.Lock()
		repo.rows["raced"].Status = model.SessionCancelled
		repo.mu.Unlock()
	}
	svc := newTestSessionService(repo, nil, nil)

	res, err := svc.RunStatusPass(context.Background(), repository.BookingFilter{})
	require.NoError(t, err)

	require.Len(t, res.Updates, 1)
	assert.Equal(t, "fine", res.Updates[0].BookingID)
	require.Len(t, res.Failures, 2)
	kinds := map[string]string{}
	for _, f := range res.Failures {
		kinds[f.RecordID] = f.Kind
	}
	assert.Equal(t, FailurePersistence, kinds["broken"])
	assert.Equal(t, FailureConflict, kinds["raced"])
	assert.Equal(t, model.SessionCancelled, repo.get("raced").Status)
}

func TestRunStatusPassWindow(t *testing.T) {
	repo := newMemBookings(
		booking("early", model.SessionScheduled, testNow.Add(-3*time.Hour)),
		booking("recent", model.SessionScheduled, testNow.Add(-10*time.Minute)),
	)
	svc := newTestSessionService(repo, nil, nil)

	res, err := svc.RunStatusPass(context.Background(), repository.BookingFilter{From: testNow.Add(-time.Hour)})
	require.NoError(t, err)
	require.Len(t, res.Updates, 1)
	assert.Equal(t, "recent", res.Updates[0].BookingID)
	assert.Equal(t, model.SessionScheduled, repo.get("early").Status)
}

func TestRunStatusPassListFailure(t *testing.T) {
	repo := newMemBookings()
	repo.listErr = errors.New("db down")
	svc := newTestSessionService(repo, nil, nil)

	_, err := svc.RunStatusPass(context.Background(), repository.BookingFilter{})
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestRunStatusPassRejectsOverlap(t *testing.T) {
	locker := lock.NewLocalLocker()
	release, err := locker.TryLock(context.Background(), sessionPassLock, time.Minute)
	require.NoError(t, err)
	defer release(context.Background())

	svc := NewSessionService(newMemBookings(), newMemUsers(), locker, nil, SessionConfig{}, zerolog.Nop())
	_, err = svc.RunStatusPass(context.Background(), repository.BookingFilter{})
	assert.ErrorIs(t, err, ErrPassInProgress)
}

func TestRunStatusPassPublishFailureDoesNotFailPass(t *testing.T) {
	repo := newMemBookings(booking("B1", model.SessionScheduled, testNow.Add(-10*time.Minute)))
	svc := newTestSessionService(repo, nil, &recordingPublisher{err: errors.New("unavailable")})

	res, err := svc.RunStatusPass(context.Background(), repository.BookingFilter{})
	require.NoError(t, err)
	assert.Len(t, res.Updates, 1)
}

func TestStartSession(t *testing.T) {
	repo := newMemBookings(
		booking("scheduled", model.SessionScheduled, testNow.Add(time.Hour)),
		booking("ongoing", model.SessionOngoing, testNow.Add(-10*time.Minute)),
	)
	svc := newTestSessionService(repo, nil, nil)

	got, err := svc.StartSession(context.Background(), "scheduled", "user-1")
	require.NoError(t, err)
	assert.Equal(t, model.SessionOngoing, got.Status)
	assert.False(t, got.IsDelayed)
	require.NotNil(t, got.ManualStartTime)
	assert.True(t, got.ManualStartTime.Equal(testNow))

	before := repo.get("ongoing")
	_, err = svc.StartSession(context.Background(), "ongoing", "user-1")
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, before, repo.get("ongoing"))

	_, err = svc.StartSession(context.Background(), "missing", "user-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompleteSession(t *testing.T) {
	repo := newMemBookings(
		booking("scheduled", model.SessionScheduled, testNow.Add(time.Hour)),
		booking("ongoing", model.SessionOngoing, testNow.Add(-10*time.Minute)),
	)
	svc := newTestSessionService(repo, nil, nil)

	before := repo.get("scheduled")
	_, err := svc.CompleteSession(context.Background(), "scheduled", "user-1")
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, before, repo.get("scheduled"))

	got, err := svc.CompleteSession(context.Background(), "ongoing", "user-1")
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, got.Status)
	require.NotNil(t, got.ActualEndTime)
	assert.True(t, got.ActualEndTime.Equal(testNow))

	_, err = svc.CompleteSession(context.Background(), "ongoing", "user-1")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestCancelSession(t *testing.T) {
	repo := newMemBookings(
		booking("scheduled", model.SessionScheduled, testNow.Add(time.Hour)),
		booking("done", model.SessionCompleted, testNow.Add(-3*time.Hour)),
	)
	svc := newTestSessionService(repo, nil, nil)

	got, err := svc.CancelSession(context.Background(), "scheduled", "user-1")
	require.NoError(t, err)
	assert.Equal(t, model.SessionCancelled, got.Status)

	_, err = svc.CancelSession(context.Background(), "done", "user-1")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestManualOverridesRequireParticipant(t *testing.T) {
	users := newMemUsers(
		model.User{UserID: "stranger", Role: model.RoleUser},
		model.User{UserID: "admin", Role: model.RoleAdmin},
	)
	repo := newMemBookings(
		booking("b1", model.SessionScheduled, testNow.Add(time.Hour)),
		booking("b2", model.SessionScheduled, testNow.Add(time.Hour)),
	)
	svc := newTestSessionService(repo, users, nil)
	ctx := context.Background()

	before := repo.get("b1")
	_, err := svc.CancelSession(ctx, "b1", "stranger")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.StartSession(ctx, "b1", "stranger")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.GetSession(ctx, "b1", "unknown-user")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.GetSession(ctx, "b1", "")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, before, repo.get("b1"))

	got, err := svc.StartSession(ctx, "b1", "mentor-1")
	require.NoError(t, err)
	assert.Equal(t, model.SessionOngoing, got.Status)

	got, err = svc.CancelSession(ctx, "b2", "admin")
	require.NoError(t, err)
	assert.Equal(t, model.SessionCancelled, got.Status)

	_, err = svc.GetSession(ctx, "b2", "user-1")
	assert.NoError(t, err)
}

func TestBookSession(t *testing.T) {
	active := model.User{UserID: "user-1", Role: model.RoleUser, Subscription: model.Subscription{Status: model.SubscriptionActive}}
	lapsed := model.User{UserID: "user-2", Role: model.RoleUser, Subscription: model.Subscription{Status: model.SubscriptionExpired}}
	mentor := model.User{UserID: "mentor-1", Role: model.RoleMentor}
	users := newMemUsers(active, lapsed, mentor)
	repo := newMemBookings()
	svc := newTestSessionService(repo, users, nil)

	tests := []struct {
		name    string
		booking model.SessionBooking
		wantErr error
	}{
		{
			name:    "valid",
			booking: model.SessionBooking{MentorID: "mentor-1", UserID: "user-1", SessionType: model.SessionDiet, ScheduledStart: testNow.Add(time.Hour)},
		},
		{
			name:    "past start",
			booking: model.SessionBooking{MentorID: "mentor-1", UserID: "user-1", SessionType: model.SessionDiet, ScheduledStart: testNow.Add(-time.Hour)},
			wantErr: ErrValidation,
		},
		{
			name:    "unknown type",
			booking: model.SessionBooking{MentorID: "mentor-1", UserID: "user-1", SessionType: "PILATES", ScheduledStart: testNow.Add(time.Hour)},
			wantErr: ErrValidation,
		},
		{
			name: "end before start",
			booking: model.SessionBooking{MentorID: "mentor-1", UserID: "user-1", SessionType: model.SessionYoga,
				ScheduledStart: testNow.Add(time.Hour), ScheduledEnd: ptr(testNow.Add(30 * time.Minute))},
			wantErr: ErrValidation,
		},
		{
			name:    "not a mentor",
			booking: model.SessionBooking{MentorID: "user-1", UserID: "user-1", SessionType: model.SessionYoga, ScheduledStart: testNow.Add(time.Hour)},
			wantErr: ErrValidation,
		},
		{
			name:    "unknown mentor",
			booking: model.SessionBooking{MentorID: "nobody", UserID: "user-1", SessionType: model.SessionYoga, ScheduledStart: testNow.Add(time.Hour)},
			wantErr: ErrNotFound,
		},
		{
			name:    "no active subscription",
			booking: model.SessionBooking{MentorID: "mentor-1", UserID: "user-2", SessionType: model.SessionYoga, ScheduledStart: testNow.Add(time.Hour)},
			wantErr: ErrSubscriptionRequired,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.booking
			got, err := svc.BookSession(context.Background(), &b)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, got.ID)
			assert.Equal(t, model.SessionScheduled, got.Status)
		})
	}
}
