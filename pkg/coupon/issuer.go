package coupon

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const (
	codeMintAttempts       = 5
	defaultTokenTTLSeconds = 30 * 24 * 3600
)

// Issuer mints and redeems coupon/voucher instances against catalog types.
type Issuer struct {
	store           Store
	debiter         Debiter
	nowFn           func() int64
	codeFn          func(length int) (string, error)
	tokenTTLSeconds int64
}

// IssuerOption configures an Issuer instance.
type IssuerOption func(*Issuer)

// WithCodeGenerator overrides code minting, used by tests to force collisions.
func WithCodeGenerator(codeFn func(length int) (string, error)) IssuerOption {
	return func(issuer *Issuer) {
		issuer.codeFn = codeFn
	}
}

// WithTokenTTLSeconds overrides the voucher token lifetime.
func WithTokenTTLSeconds(seconds int64) IssuerOption {
	return func(issuer *Issuer) {
		if seconds > 0 {
			issuer.tokenTTLSeconds = seconds
		}
	}
}

// NewIssuer wires an Issuer.
func NewIssuer(store Store, debiter Debiter, now func() int64, options ...IssuerOption) (*Issuer, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if debiter == nil {
		return nil, fmt.Errorf("%w: debiter dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	issuer := &Issuer{
		store:           store,
		debiter:         debiter,
		nowFn:           now,
		codeFn:          randomCode,
		tokenTTLSeconds: defaultTokenTTLSeconds,
	}
	for _, option := range options {
		if option != nil {
			option(issuer)
		}
	}
	return issuer, nil
}

// Exchange debits the catalog price from the user's wallet and mints a new
// instance, atomically: a failed debit aborts the exchange with no partial
// mint. Vouchers additionally receive a redemption token with its own expiry.
func (issuer *Issuer) Exchange(ctx context.Context, userID string, typeID string, kind Kind, eventID string) (ExchangeResult, error) {
	var result ExchangeResult
	operationError := issuer.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		catalogType, found, err := transactionStore.GetCatalogType(ctx, typeID)
		if err != nil {
			return err
		}
		if !found || catalogType.Kind != kind {
			return ErrUnknownCatalogType
		}
		now := issuer.nowFn()
		if !catalogType.ActiveAt(now) {
			return ErrCatalogTypeNotActive
		}
		remaining, alreadyApplied, err := issuer.debiter.Debit(ctx, userID, eventID, catalogType.PointsCost, fmt.Sprintf("exchange %s %s", kind, catalogType.Name))
		if err != nil {
			return err
		}
		if alreadyApplied {
			// The debit entry exists from an earlier run of this event; that
			// run minted the instance too.
			return ErrEventReplayed
		}
		instance, err := issuer.mintInstance(ctx, transactionStore, userID, catalogType, now)
		if err != nil {
			return err
		}
		result = ExchangeResult{
			Instance:         instance,
			PointsCost:       catalogType.PointsCost,
			RemainingBalance: remaining,
		}
		if kind == KindVoucher {
			token, err := issuer.mintToken(ctx, transactionStore, instance, now)
			if err != nil {
				return err
			}
			result.Token = &token
		}
		return nil
	})
	if operationError != nil {
		return ExchangeResult{}, operationError
	}
	return result, nil
}

// MintBonus mints a free instance for a reward-granted bonus coupon. Bonus
// types carry no cost and skip catalog validation.
func (issuer *Issuer) MintBonus(ctx context.Context, userID string, bonusTypeID string) (Instance, error) {
	var minted Instance
	operationError := issuer.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		instance, err := issuer.mintInstance(ctx, transactionStore, userID, CatalogType{TypeID: bonusTypeID, Kind: KindCoupon}, issuer.nowFn())
		if err != nil {
			return err
		}
		minted = instance
		return nil
	})
	if operationError != nil {
		return Instance{}, operationError
	}
	return minted, nil
}

// Use marks an instance used, exactly once. Concurrent calls on the same
// instance resolve to one success; the rest fail ErrAlreadyUsed.
func (issuer *Issuer) Use(ctx context.Context, instanceID string, userID string) (Instance, error) {
	var used Instance
	operationError := issuer.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		instance, err := transactionStore.GetInstanceForUpdate(ctx, instanceID)
		if err != nil {
			return err
		}
		if instance.OwnerUserID != userID {
			return ErrNotOwned
		}
		if instance.IsUsed {
			return ErrAlreadyUsed
		}
		now := issuer.nowFn()
		if err := transactionStore.MarkInstanceUsed(ctx, instanceID, now); err != nil {
			return err
		}
		instance.IsUsed = true
		instance.UsedUnixUTC = now
		used = instance
		return nil
	})
	if operationError != nil {
		return Instance{}, operationError
	}
	return used, nil
}

// RedeemToken consumes a voucher token presented out-of-band, marking both
// the token and its owning voucher used.
func (issuer *Issuer) RedeemToken(ctx context.Context, tokenValue string) (Instance, error) {
	var redeemed Instance
	operationError := issuer.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		token, err := transactionStore.GetTokenForUpdate(ctx, tokenValue)
		if err != nil {
			return err
		}
		now := issuer.nowFn()
		if token.IsUsed {
			return ErrAlreadyUsed
		}
		if token.ExpiresAtUnixUTC != 0 && now > token.ExpiresAtUnixUTC {
			return ErrTokenExpired
		}
		instance, err := transactionStore.GetInstanceForUpdate(ctx, token.InstanceID)
		if err != nil {
			return err
		}
		if instance.IsUsed {
			return ErrAlreadyUsed
		}
		if err := transactionStore.MarkTokenUsed(ctx, token.TokenID, now); err != nil {
			return err
		}
		if err := transactionStore.MarkInstanceUsed(ctx, instance.InstanceID, now); err != nil {
			return err
		}
		instance.IsUsed = true
		instance.UsedUnixUTC = now
		redeemed = instance
		return nil
	})
	if operationError != nil {
		return Instance{}, operationError
	}
	return redeemed, nil
}

func (issuer *Issuer) mintInstance(ctx context.Context, transactionStore Store, userID string, catalogType CatalogType, nowUnixUTC int64) (Instance, error) {
	for attempt := 0; attempt < codeMintAttempts; attempt++ {
		code, err := issuer.codeFn(codeLength)
		if err != nil {
			return Instance{}, err
		}
		instance := Instance{
			InstanceID:      uuid.NewString(),
			TypeID:          catalogType.TypeID,
			Kind:            catalogType.Kind,
			OwnerUserID:     userID,
			Code:            code,
			AcquiredUnixUTC: nowUnixUTC,
		}
		err = transactionStore.InsertInstance(ctx, instance)
		if errors.Is(err, ErrCodeCollision) {
			continue
		}
		if err != nil {
			return Instance{}, err
		}
		return instance, nil
	}
	return Instance{}, fmt.Errorf("%w: exhausted %d attempts", ErrCodeCollision, codeMintAttempts)
}

func (issuer *Issuer) mintToken(ctx context.Context, transactionStore Store, instance Instance, nowUnixUTC int64) (Token, error) {
	for attempt := 0; attempt < codeMintAttempts; attempt++ {
		value, err := issuer.codeFn(tokenLength)
		if err != nil {
			return Token{}, err
		}
		token := Token{
			TokenID:          uuid.NewString(),
			InstanceID:       instance.InstanceID,
			Value:            value,
			ExpiresAtUnixUTC: nowUnixUTC + issuer.tokenTTLSeconds,
		}
		err = transactionStore.InsertToken(ctx, token)
		if errors.Is(err, ErrCodeCollision) {
			continue
		}
		if err != nil {
			return Token{}, err
		}
		return token, nil
	}
	return Token{}, fmt.Errorf("%w: exhausted %d attempts", ErrCodeCollision, codeMintAttempts)
}
