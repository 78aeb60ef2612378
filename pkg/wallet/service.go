package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Service contains the domain logic over a Store.
type Service struct {
	store  Store
	nowFn  func() int64
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Apply appends a signed balance change. Credits always succeed; debits fail
// with ErrInsufficientFunds when the balance would drop below zero, leaving
// state unchanged. Apply is idempotent per event id: a replay returns the
// previously recorded balance without a second entry or balance change.
func (service *Service) Apply(ctx context.Context, userID UserID, eventID EventID, amount Points, description string) (ApplyResult, error) {
	var result ApplyResult
	var operationError error
	for attempt := 0; attempt < conflictRetryLimit; attempt++ {
		result, operationError = service.applyOnce(ctx, userID, eventID, amount, description)
		if !errors.Is(operationError, ErrConcurrencyConflict) {
			break
		}
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationApply,
		UserID:    userID,
		EventID:   eventID,
		Amount:    amount,
		Error:     operationError,
	})
	return result, operationError
}

func (service *Service) applyOnce(ctx context.Context, userID UserID, eventID EventID, amount Points, description string) (ApplyResult, error) {
	var result ApplyResult
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		account, err := transactionStore.LockAccount(ctx, userID)
		if err != nil {
			return err
		}
		existing, found, err := transactionStore.FindEntryByEvent(ctx, userID, eventID)
		if err != nil {
			return err
		}
		if found {
			result = ApplyResult{NewBalance: existing.BalanceAfter, AlreadyApplied: true}
			return nil
		}
		newBalance := account.Balance + amount
		if newBalance < 0 {
			return ErrInsufficientFunds
		}
		entry := Entry{
			EntryID:        uuid.NewString(),
			UserID:         userID.String(),
			EventID:        eventID.String(),
			Type:           ChangeTypeFor(amount),
			Amount:         amount,
			BalanceAfter:   newBalance,
			Description:    description,
			CreatedUnixUTC: service.nowFn(),
		}
		if err := transactionStore.InsertEntry(ctx, entry); err != nil {
			if errors.Is(err, ErrDuplicateEvent) {
				// Lost a race against an identical event; replay resolves it.
				return ErrConcurrencyConflict
			}
			return err
		}
		if err := transactionStore.UpdateBalance(ctx, userID, newBalance, account.Version); err != nil {
			return err
		}
		result = ApplyResult{NewBalance: newBalance}
		return nil
	})
	if operationError != nil {
		return ApplyResult{}, operationError
	}
	return result, nil
}

// Balance returns the current materialized balance, creating the account on
// first access.
func (service *Service) Balance(ctx context.Context, userID UserID) (Points, error) {
	account, err := service.store.GetAccount(ctx, userID)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

// History returns the newest ledger entries for the user.
func (service *Service) History(ctx context.Context, userID UserID, limit int) ([]Entry, error) {
	return service.store.ListEntries(ctx, userID, limit)
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
