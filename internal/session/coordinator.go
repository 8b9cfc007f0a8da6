package session

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Coordinator glues the login flow to the single-active-session policy:
// detect the account being active under another session, run the forced
// logout, and only then flip the activity record to the new session.
type Coordinator struct {
	store      *Store
	terminator *Terminator
	logger     *zap.Logger
}

// NewCoordinator wires the login path.
func NewCoordinator(store *Store, terminator *Terminator, logger *zap.Logger) *Coordinator {
	return &Coordinator{store: store, terminator: terminator, logger: logger}
}

// Activate is called by the login handler after credentials check out.
// The new login's session id doubles as the force-logout exclusion id.
// The activity record is not updated until the countdown has elapsed,
// giving the displaced sessions their cleanup window.
func (c *Coordinator) Activate(ctx context.Context, userID, email, sessionID string) error {
	if userID == "" || sessionID == "" {
		return ErrMissingIdentity
	}

	activity, err := c.store.Activity(ctx, userID)
	if err != nil && !errors.Is(err, ErrNoActivity) {
		return err
	}

	if activity != nil && activity.Active && activity.SessionID != sessionID {
		c.logger.Info("user active elsewhere, forcing logout",
			zap.String("user_id", userID),
			zap.String("old_session_id", activity.SessionID),
			zap.String("new_session_id", sessionID))
		if err := c.terminator.ForceTerminate(ctx, userID, email, sessionID); err != nil {
			return err
		}
	}

	return c.store.MarkActive(ctx, userID, email, sessionID)
}

// Deactivate is called by the logout handler.
func (c *Coordinator) Deactivate(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrMissingIdentity
	}
	return c.store.MarkInactive(ctx, userID)
}
