package coupon

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type stubStore struct {
	types     map[string]CatalogType
	instances map[string]*Instance
	tokens    map[string]*Token
}

func newStubStore(types ...CatalogType) *stubStore {
	store := &stubStore{
		types:     map[string]CatalogType{},
		instances: map[string]*Instance{},
		tokens:    map[string]*Token{},
	}
	for _, catalogType := range types {
		store.types[catalogType.TypeID] = catalogType
	}
	return store
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubStore) GetCatalogType(ctx context.Context, typeID string) (CatalogType, bool, error) {
	catalogType, found := store.types[typeID]
	return catalogType, found, nil
}

func (store *stubStore) InsertInstance(ctx context.Context, instance Instance) error {
	for _, existing := range store.instances {
		if existing.Code == instance.Code {
			return ErrCodeCollision
		}
	}
	stored := instance
	store.instances[instance.InstanceID] = &stored
	return nil
}

func (store *stubStore) GetInstanceForUpdate(ctx context.Context, instanceID string) (Instance, error) {
	stored, found := store.instances[instanceID]
	if !found {
		return Instance{}, ErrUnknownInstance
	}
	return *stored, nil
}

func (store *stubStore) MarkInstanceUsed(ctx context.Context, instanceID string, usedUnixUTC int64) error {
	stored, found := store.instances[instanceID]
	if !found {
		return ErrUnknownInstance
	}
	if stored.IsUsed {
		return ErrAlreadyUsed
	}
	stored.IsUsed = true
	stored.UsedUnixUTC = usedUnixUTC
	return nil
}

func (store *stubStore) InsertToken(ctx context.Context, token Token) error {
	if _, exists := store.tokens[token.Value]; exists {
		return ErrCodeCollision
	}
	stored := token
	store.tokens[token.Value] = &stored
	return nil
}

func (store *stubStore) GetTokenForUpdate(ctx context.Context, value string) (Token, error) {
	stored, found := store.tokens[value]
	if !found {
		return Token{}, ErrUnknownToken
	}
	return *stored, nil
}

func (store *stubStore) MarkTokenUsed(ctx context.Context, tokenID string, usedUnixUTC int64) error {
	for _, stored := range store.tokens {
		if stored.TokenID == tokenID {
			if stored.IsUsed {
				return ErrAlreadyUsed
			}
			stored.IsUsed = true
			stored.UsedUnixUTC = usedUnixUTC
			return nil
		}
	}
	return ErrUnknownToken
}

var errStubInsufficientFunds = errors.New("insufficient funds")

type stubDebiter struct {
	balance int64
	debits  int
	seen    map[string]bool
}

func (debiter *stubDebiter) Debit(ctx context.Context, userID string, eventID string, amount int64, description string) (int64, bool, error) {
	if debiter.seen[eventID] {
		return debiter.balance, true, nil
	}
	if debiter.balance < amount {
		return 0, false, errStubInsufficientFunds
	}
	if debiter.seen == nil {
		debiter.seen = map[string]bool{}
	}
	debiter.seen[eventID] = true
	debiter.balance -= amount
	debiter.debits++
	return debiter.balance, false, nil
}

func activeCouponType() CatalogType {
	return CatalogType{TypeID: "type-coupon", Kind: KindCoupon, Name: "ten percent off", PointsCost: 100}
}

func activeVoucherType() CatalogType {
	return CatalogType{TypeID: "type-voucher", Kind: KindVoucher, Name: "gift voucher", PointsCost: 250, ValuePoints: 500}
}

func mustNewIssuer(test *testing.T, store Store, debiter Debiter, options ...IssuerOption) *Issuer {
	test.Helper()
	issuer, err := NewIssuer(store, debiter, func() int64 { return 1700000000 }, options...)
	if err != nil {
		test.Fatalf("new issuer: %v", err)
	}
	return issuer
}

func TestExchangeDebitsAndMints(test *testing.T) {
	test.Parallel()
	store := newStubStore(activeCouponType())
	debiter := &stubDebiter{balance: 150}
	issuer := mustNewIssuer(test, store, debiter)

	result, err := issuer.Exchange(context.Background(), "user-1", "type-coupon", KindCoupon, "evt-1")
	if err != nil {
		test.Fatalf("exchange: %v", err)
	}
	if result.PointsCost != 100 {
		test.Fatalf("expected cost 100, got %d", result.PointsCost)
	}
	if result.RemainingBalance != 50 {
		test.Fatalf("expected remaining 50, got %d", result.RemainingBalance)
	}
	if len(result.Instance.Code) != codeLength {
		test.Fatalf("expected %d-char code, got %q", codeLength, result.Instance.Code)
	}
	if result.Token != nil {
		test.Fatalf("coupon exchange minted a token")
	}
	if len(store.instances) != 1 {
		test.Fatalf("expected one instance, got %d", len(store.instances))
	}
}

func TestExchangeInsufficientFundsMintsNothing(test *testing.T) {
	test.Parallel()
	store := newStubStore(activeCouponType())
	debiter := &stubDebiter{balance: 80}
	issuer := mustNewIssuer(test, store, debiter)

	_, err := issuer.Exchange(context.Background(), "user-1", "type-coupon", KindCoupon, "evt-1")
	if !errors.Is(err, errStubInsufficientFunds) {
		test.Fatalf("expected insufficient funds, got %v", err)
	}
	if len(store.instances) != 0 {
		test.Fatalf("instance minted despite failed debit")
	}
	if debiter.balance != 80 {
		test.Fatalf("balance mutated: %d", debiter.balance)
	}
}

func TestExchangeReplayedDebitMintsNothing(test *testing.T) {
	test.Parallel()
	store := newStubStore(activeCouponType())
	debiter := &stubDebiter{balance: 150}
	issuer := mustNewIssuer(test, store, debiter)

	if _, err := issuer.Exchange(context.Background(), "user-1", "type-coupon", KindCoupon, "evt-1"); err != nil {
		test.Fatalf("first exchange: %v", err)
	}
	_, err := issuer.Exchange(context.Background(), "user-1", "type-coupon", KindCoupon, "evt-1")
	if !errors.Is(err, ErrEventReplayed) {
		test.Fatalf("expected ErrEventReplayed, got %v", err)
	}
	if len(store.instances) != 1 {
		test.Fatalf("one debit minted %d instances", len(store.instances))
	}
	if debiter.debits != 1 {
		test.Fatalf("expected one debit, got %d", debiter.debits)
	}
}

func TestExchangeUnknownOrMismatchedType(test *testing.T) {
	test.Parallel()
	store := newStubStore(activeCouponType())
	issuer := mustNewIssuer(test, store, &stubDebiter{balance: 1000})

	if _, err := issuer.Exchange(context.Background(), "user-1", "missing", KindCoupon, "evt-1"); !errors.Is(err, ErrUnknownCatalogType) {
		test.Fatalf("expected ErrUnknownCatalogType for missing id, got %v", err)
	}
	if _, err := issuer.Exchange(context.Background(), "user-1", "type-coupon", KindVoucher, "evt-2"); !errors.Is(err, ErrUnknownCatalogType) {
		test.Fatalf("expected ErrUnknownCatalogType for kind mismatch, got %v", err)
	}
}

func TestExchangeOutsideValidityWindow(test *testing.T) {
	test.Parallel()
	expired := activeCouponType()
	expired.ValidToUnixUTC = 1600000000
	store := newStubStore(expired)
	issuer := mustNewIssuer(test, store, &stubDebiter{balance: 1000})

	_, err := issuer.Exchange(context.Background(), "user-1", "type-coupon", KindCoupon, "evt-1")
	if !errors.Is(err, ErrCatalogTypeNotActive) {
		test.Fatalf("expected ErrCatalogTypeNotActive, got %v", err)
	}
}

func TestVoucherExchangeMintsToken(test *testing.T) {
	test.Parallel()
	store := newStubStore(activeVoucherType())
	issuer := mustNewIssuer(test, store, &stubDebiter{balance: 300}, WithTokenTTLSeconds(3600))

	result, err := issuer.Exchange(context.Background(), "user-1", "type-voucher", KindVoucher, "evt-1")
	if err != nil {
		test.Fatalf("exchange: %v", err)
	}
	if result.Token == nil {
		test.Fatalf("voucher exchange minted no token")
	}
	if result.Token.ExpiresAtUnixUTC != 1700000000+3600 {
		test.Fatalf("unexpected token expiry %d", result.Token.ExpiresAtUnixUTC)
	}
	if len(result.Token.Value) != tokenLength {
		test.Fatalf("expected %d-char token, got %q", tokenLength, result.Token.Value)
	}
}

func TestMintRetriesOnCodeCollision(test *testing.T) {
	test.Parallel()
	store := newStubStore(activeCouponType())
	codes := []string{"DUPLICATE", "DUPLICATE", "FRESH"}
	var calls int
	issuer := mustNewIssuer(test, store, &stubDebiter{balance: 1000}, WithCodeGenerator(func(length int) (string, error) {
		code := codes[calls%len(codes)]
		calls++
		return code, nil
	}))

	if _, err := issuer.Exchange(context.Background(), "user-1", "type-coupon", KindCoupon, "evt-1"); err != nil {
		test.Fatalf("first exchange: %v", err)
	}
	result, err := issuer.Exchange(context.Background(), "user-2", "type-coupon", KindCoupon, "evt-2")
	if err != nil {
		test.Fatalf("second exchange after collision: %v", err)
	}
	if result.Instance.Code != "FRESH" {
		test.Fatalf("expected retried code, got %q", result.Instance.Code)
	}
}

func TestUseIsEffectOnce(test *testing.T) {
	test.Parallel()
	store := newStubStore(activeCouponType())
	issuer := mustNewIssuer(test, store, &stubDebiter{balance: 1000})

	result, err := issuer.Exchange(context.Background(), "user-1", "type-coupon", KindCoupon, "evt-1")
	if err != nil {
		test.Fatalf("exchange: %v", err)
	}
	instanceID := result.Instance.InstanceID

	used, err := issuer.Use(context.Background(), instanceID, "user-1")
	if err != nil {
		test.Fatalf("first use: %v", err)
	}
	if !used.IsUsed {
		test.Fatalf("use did not mark instance")
	}
	if _, err := issuer.Use(context.Background(), instanceID, "user-1"); !errors.Is(err, ErrAlreadyUsed) {
		test.Fatalf("expected ErrAlreadyUsed, got %v", err)
	}
}

// serialStore serializes transactions with a mutex the way row locks would.
type serialStore struct {
	*stubStore
	mu sync.Mutex
}

func (store *serialStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return fn(ctx, store.stubStore)
}

func TestUseConcurrentCallsResolveToOneSuccess(test *testing.T) {
	test.Parallel()
	store := &serialStore{stubStore: newStubStore(activeCouponType())}
	issuer := mustNewIssuer(test, store, &stubDebiter{balance: 1000})

	result, err := issuer.Exchange(context.Background(), "user-1", "type-coupon", KindCoupon, "evt-1")
	if err != nil {
		test.Fatalf("exchange: %v", err)
	}
	instanceID := result.Instance.InstanceID

	const attempts = 16
	outcomes := make(chan error, attempts)
	var group sync.WaitGroup
	for i := 0; i < attempts; i++ {
		group.Add(1)
		go func() {
			defer group.Done()
			_, err := issuer.Use(context.Background(), instanceID, "user-1")
			outcomes <- err
		}()
	}
	group.Wait()
	close(outcomes)

	successes := 0
	alreadyUsed := 0
	for err := range outcomes {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrAlreadyUsed):
			alreadyUsed++
		default:
			test.Fatalf("unexpected use error: %v", err)
		}
	}
	if successes != 1 {
		test.Fatalf("expected exactly one successful use, got %d", successes)
	}
	if alreadyUsed != attempts-1 {
		test.Fatalf("expected %d ErrAlreadyUsed, got %d", attempts-1, alreadyUsed)
	}
}

func TestUseRejectsForeignOwner(test *testing.T) {
	test.Parallel()
	store := newStubStore(activeCouponType())
	issuer := mustNewIssuer(test, store, &stubDebiter{balance: 1000})

	result, err := issuer.Exchange(context.Background(), "user-1", "type-coupon", KindCoupon, "evt-1")
	if err != nil {
		test.Fatalf("exchange: %v", err)
	}
	if _, err := issuer.Use(context.Background(), result.Instance.InstanceID, "user-2"); !errors.Is(err, ErrNotOwned) {
		test.Fatalf("expected ErrNotOwned, got %v", err)
	}
	stored := store.instances[result.Instance.InstanceID]
	if stored.IsUsed {
		test.Fatalf("foreign use mutated instance")
	}
}

func TestRedeemTokenMarksTokenAndVoucher(test *testing.T) {
	test.Parallel()
	store := newStubStore(activeVoucherType())
	issuer := mustNewIssuer(test, store, &stubDebiter{balance: 1000})

	result, err := issuer.Exchange(context.Background(), "user-1", "type-voucher", KindVoucher, "evt-1")
	if err != nil {
		test.Fatalf("exchange: %v", err)
	}
	redeemed, err := issuer.RedeemToken(context.Background(), result.Token.Value)
	if err != nil {
		test.Fatalf("redeem: %v", err)
	}
	if !redeemed.IsUsed {
		test.Fatalf("redeem did not mark voucher used")
	}
	if _, err := issuer.RedeemToken(context.Background(), result.Token.Value); !errors.Is(err, ErrAlreadyUsed) {
		test.Fatalf("expected ErrAlreadyUsed on reuse, got %v", err)
	}
}

func TestRedeemExpiredToken(test *testing.T) {
	test.Parallel()
	store := newStubStore(activeVoucherType())
	issuer := mustNewIssuer(test, store, &stubDebiter{balance: 1000}, WithTokenTTLSeconds(1))

	result, err := issuer.Exchange(context.Background(), "user-1", "type-voucher", KindVoucher, "evt-1")
	if err != nil {
		test.Fatalf("exchange: %v", err)
	}
	// Rewind the stored expiry behind the fixed clock.
	store.tokens[result.Token.Value].ExpiresAtUnixUTC = 1700000000 - 10

	if _, err := issuer.RedeemToken(context.Background(), result.Token.Value); !errors.Is(err, ErrTokenExpired) {
		test.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}
