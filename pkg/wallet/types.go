package wallet

import (
	"context"
	"fmt"
	"strings"
)

// Points is an integer points amount.
type Points int64

// Int64 returns the raw points value.
func (points Points) Int64() int64 {
	return int64(points)
}

// UserID identifies an account owner.
type UserID struct {
	value string
}

// EventID scopes duplicate detection to a single reward-triggering occurrence.
type EventID struct {
	value string
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// NewEventID validates and normalizes an event id.
func NewEventID(raw string) (EventID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return EventID{}, fmt.Errorf("%w: empty value", ErrInvalidEventID)
	}
	return EventID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id EventID) String() string {
	return id.value
}

// DeriveEventID appends a suffix to an event id so compound effects of one
// trigger stay individually idempotent.
func DeriveEventID(base EventID, suffix string) (EventID, error) {
	return NewEventID(base.String() + eventIDDelimiter + suffix)
}

// ChangeType enumerates ledger entry kinds.
type ChangeType string

const (
	ChangeCredit ChangeType = "credit"
	ChangeDebit  ChangeType = "debit"
)

// String returns the wire value of the change type.
func (changeType ChangeType) String() string {
	return string(changeType)
}

// ChangeTypeFor classifies a signed amount.
func ChangeTypeFor(amount Points) ChangeType {
	if amount < 0 {
		return ChangeDebit
	}
	return ChangeCredit
}

// Account holds the materialized balance for one user.
type Account struct {
	AccountID string
	UserID    string
	Balance   Points
	Version   int
}

// A single immutable line in the ledger.
type Entry struct {
	EntryID        string     `json:"entry_id"`
	UserID         string     `json:"user_id"`
	EventID        string     `json:"event_id"`
	Type           ChangeType `json:"type"`
	Amount         Points     `json:"amount"`
	BalanceAfter   Points     `json:"balance_after"`
	Description    string     `json:"description"`
	CreatedUnixUTC int64      `json:"created_unix_utc"`
}

// ApplyResult reports the outcome of a balance change.
type ApplyResult struct {
	NewBalance     Points
	AlreadyApplied bool
}

// Store is the persistence contract used by Service.
//
// LockAccount must create the account on first access and hold it against
// concurrent writers for the remainder of the enclosing transaction.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	LockAccount(ctx context.Context, userID UserID) (Account, error)
	FindEntryByEvent(ctx context.Context, userID UserID, eventID EventID) (Entry, bool, error)
	InsertEntry(ctx context.Context, entry Entry) error
	UpdateBalance(ctx context.Context, userID UserID, newBalance Points, fromVersion int) error
	GetAccount(ctx context.Context, userID UserID) (Account, error)
	ListEntries(ctx context.Context, userID UserID, limit int) ([]Entry, error)
}
