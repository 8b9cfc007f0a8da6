package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"liveboard/internal/broadcast"
	"liveboard/pkg/types"
)

// Terminator enforces the single-active-session policy. When a user
// logs in while already active elsewhere, it notifies every other live
// connection of that user and holds the caller for the countdown, so
// the notified clients get their warning window before the new login
// proceeds.
//
// One-shot per call and intentionally non-reentrant: serializing
// concurrent logins for the same user is the login flow's concern.
type Terminator struct {
	scheduler *broadcast.Scheduler
	countdown time.Duration
	logger    *zap.Logger
}

// ForceLogoutReason is carried in the control payload.
const ForceLogoutReason = "force_logout"

// NewTerminator creates a terminator with the given countdown
// (default 10 s).
func NewTerminator(scheduler *broadcast.Scheduler, countdown time.Duration, logger *zap.Logger) *Terminator {
	if countdown <= 0 {
		countdown = 10 * time.Second
	}
	return &Terminator{scheduler: scheduler, countdown: countdown, logger: logger}
}

// ForceTerminate notifies every connection in the user's group except
// those belonging to excludeSessionID (the session performing the new
// login, which must not be told to log itself out), then waits out the
// full countdown before returning control to the login flow. Sends are
// best-effort: a connection already closing is skipped by its own send
// failure, never retried.
func (t *Terminator) ForceTerminate(ctx context.Context, userID, email, excludeSessionID string) error {
	payload := types.ForceLogoutPayload{
		UserID:    userID,
		Email:     email,
		Timestamp: types.NowMillis(),
		Reason:    ForceLogoutReason,
		Countdown: int(t.countdown.Seconds()),
	}

	notified := t.scheduler.NotifyUser(types.KindForceLogout, payload, userID, excludeSessionID)
	t.logger.Info("force logout notified",
		zap.String("user_id", userID),
		zap.String("exclude_session_id", excludeSessionID),
		zap.Int("connections", notified))

	if notified == 0 {
		// Nothing live to warn; no reason to hold the login.
		return nil
	}

	select {
	case <-time.After(t.countdown):
		t.logger.Info("force logout countdown elapsed", zap.String("user_id", userID))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Countdown returns the configured grace period.
func (t *Terminator) Countdown() time.Duration {
	return t.countdown
}
