// Package streak tracks consecutive daily sign-ins per user. Day boundaries
// follow a configurable location so deployments can align streaks with the
// account's local calendar instead of UTC.
package streak

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Domain-level error values returned by the tracker.
var (
	ErrInvalidServiceConfig = errors.New("invalid service config")
)

// State is the stored streak record for one user.
type State struct {
	UserID          string
	LastSignInDate  string
	ConsecutiveDays int
}

// Result reports the outcome of a sign-in attempt.
type Result struct {
	ConsecutiveDays    int
	AlreadySignedToday bool
}

// Store is the persistence contract used by Tracker.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetStreakForUpdate(ctx context.Context, userID string) (State, bool, error)
	UpsertStreak(ctx context.Context, state State) error
}

// Tracker decides whether a sign-in starts, extends, or repeats a streak.
type Tracker struct {
	store    Store
	location *time.Location
}

// NewTracker wires a Tracker. A nil location defaults to UTC.
func NewTracker(store Store, location *time.Location) (*Tracker, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if location == nil {
		location = time.UTC
	}
	return &Tracker{store: store, location: location}, nil
}

// RecordSignIn registers a sign-in at the given instant. A repeat within the
// same calendar day is a no-op reported through AlreadySignedToday; a gap of
// more than one day resets the streak to 1.
func (tracker *Tracker) RecordSignIn(ctx context.Context, userID string, at time.Time) (Result, error) {
	var result Result
	operationError := tracker.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		local := at.In(tracker.location)
		today := local.Format(dateLayout)
		yesterday := local.AddDate(0, 0, -1).Format(dateLayout)

		state, found, err := transactionStore.GetStreakForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if found && state.LastSignInDate == today {
			result = Result{ConsecutiveDays: state.ConsecutiveDays, AlreadySignedToday: true}
			return nil
		}
		consecutiveDays := 1
		if found && state.LastSignInDate == yesterday {
			consecutiveDays = state.ConsecutiveDays + 1
		}
		if err := transactionStore.UpsertStreak(ctx, State{
			UserID:          userID,
			LastSignInDate:  today,
			ConsecutiveDays: consecutiveDays,
		}); err != nil {
			return err
		}
		result = Result{ConsecutiveDays: consecutiveDays}
		return nil
	})
	if operationError != nil {
		return Result{}, operationError
	}
	return result, nil
}

// DayKey returns the calendar-day identifier used for sign-in idempotency.
func (tracker *Tracker) DayKey(at time.Time) string {
	return at.In(tracker.location).Format(dateLayout)
}
