package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/rewards/internal/httpapi"
	"github.com/MarkoPoloResearchLab/rewards/pkg/coupon"
	"github.com/MarkoPoloResearchLab/rewards/pkg/engine"
	"github.com/MarkoPoloResearchLab/rewards/pkg/pet"
	"github.com/MarkoPoloResearchLab/rewards/pkg/streak"
	"github.com/MarkoPoloResearchLab/rewards/pkg/wallet"
)

const (
	sessionSigningKey = "secret-key"
	sessionIssuer     = "tauth"
	sessionCookieName = "app_session"
	sessionUserID     = "user-1"
)

type fakeWalletStore struct {
	accounts map[string]*wallet.Account
	entries  []wallet.Entry
}

func (store *fakeWalletStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore wallet.Store) error) error {
	return fn(ctx, store)
}

func (store *fakeWalletStore) ensure(userID wallet.UserID) *wallet.Account {
	account, ok := store.accounts[userID.String()]
	if !ok {
		account = &wallet.Account{AccountID: "acct-" + userID.String(), UserID: userID.String(), Version: 1}
		store.accounts[userID.String()] = account
	}
	return account
}

func (store *fakeWalletStore) LockAccount(ctx context.Context, userID wallet.UserID) (wallet.Account, error) {
	return *store.ensure(userID), nil
}

func (store *fakeWalletStore) GetAccount(ctx context.Context, userID wallet.UserID) (wallet.Account, error) {
	return *store.ensure(userID), nil
}

func (store *fakeWalletStore) FindEntryByEvent(ctx context.Context, userID wallet.UserID, eventID wallet.EventID) (wallet.Entry, bool, error) {
	for _, entry := range store.entries {
		if entry.UserID == userID.String() && entry.EventID == eventID.String() {
			return entry, true, nil
		}
	}
	return wallet.Entry{}, false, nil
}

func (store *fakeWalletStore) InsertEntry(ctx context.Context, entry wallet.Entry) error {
	store.entries = append(store.entries, entry)
	return nil
}

func (store *fakeWalletStore) UpdateBalance(ctx context.Context, userID wallet.UserID, newBalance wallet.Points, fromVersion int) error {
	account := store.ensure(userID)
	account.Balance = newBalance
	account.Version++
	return nil
}

func (store *fakeWalletStore) ListEntries(ctx context.Context, userID wallet.UserID, limit int) ([]wallet.Entry, error) {
	var listed []wallet.Entry
	for i := len(store.entries) - 1; i >= 0 && len(listed) < limit; i-- {
		if store.entries[i].UserID == userID.String() {
			listed = append(listed, store.entries[i])
		}
	}
	return listed, nil
}

type fakePetStore struct{}

func (store fakePetStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore pet.Store) error) error {
	return fn(ctx, store)
}

func (store fakePetStore) GetPetForUpdate(ctx context.Context, petID string) (pet.Pet, error) {
	return pet.Pet{}, pet.ErrUnknownPet
}

func (store fakePetStore) GetPet(ctx context.Context, petID string) (pet.Pet, error) {
	return pet.Pet{}, pet.ErrUnknownPet
}

func (store fakePetStore) FindPetIDByOwner(ctx context.Context, ownerUserID string) (string, bool, error) {
	return "", false, nil
}

func (store fakePetStore) UpdatePet(ctx context.Context, updated pet.Pet) error {
	return pet.ErrUnknownPet
}

type fakeStreakStore struct {
	states map[string]streak.State
}

func (store *fakeStreakStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore streak.Store) error) error {
	return fn(ctx, store)
}

func (store *fakeStreakStore) GetStreakForUpdate(ctx context.Context, userID string) (streak.State, bool, error) {
	state, ok := store.states[userID]
	return state, ok, nil
}

func (store *fakeStreakStore) UpsertStreak(ctx context.Context, state streak.State) error {
	store.states[state.UserID] = state
	return nil
}

type fakeCouponStore struct{}

func (store fakeCouponStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore coupon.Store) error) error {
	return fn(ctx, store)
}

func (store fakeCouponStore) GetCatalogType(ctx context.Context, typeID string) (coupon.CatalogType, bool, error) {
	return coupon.CatalogType{}, false, nil
}

func (store fakeCouponStore) InsertInstance(ctx context.Context, instance coupon.Instance) error {
	return nil
}

func (store fakeCouponStore) GetInstanceForUpdate(ctx context.Context, instanceID string) (coupon.Instance, error) {
	return coupon.Instance{}, coupon.ErrUnknownInstance
}

func (store fakeCouponStore) MarkInstanceUsed(ctx context.Context, instanceID string, usedUnixUTC int64) error {
	return coupon.ErrUnknownInstance
}

func (store fakeCouponStore) InsertToken(ctx context.Context, token coupon.Token) error {
	return nil
}

func (store fakeCouponStore) GetTokenForUpdate(ctx context.Context, value string) (coupon.Token, error) {
	return coupon.Token{}, coupon.ErrUnknownToken
}

func (store fakeCouponStore) MarkTokenUsed(ctx context.Context, tokenID string, usedUnixUTC int64) error {
	return coupon.ErrUnknownToken
}

type fakeStore struct {
	wallets *fakeWalletStore
	streaks *fakeStreakStore
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		wallets: &fakeWalletStore{accounts: map[string]*wallet.Account{}},
		streaks: &fakeStreakStore{states: map[string]streak.State{}},
	}
}

func (store *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore engine.Store) error) error {
	return fn(ctx, store)
}

func (store *fakeStore) Wallet() wallet.Store  { return store.wallets }
func (store *fakeStore) Pets() pet.Store       { return fakePetStore{} }
func (store *fakeStore) Streaks() streak.Store { return store.streaks }
func (store *fakeStore) Coupons() coupon.Store { return fakeCouponStore{} }

func (store *fakeStore) GetHighScore(ctx context.Context, userID string, gameKind string) (int64, bool, error) {
	return 0, false, nil
}

func (store *fakeStore) UpsertHighScore(ctx context.Context, userID string, gameKind string, score int64) error {
	return nil
}

type fakeCatalog struct {
	types []coupon.CatalogType
}

func (catalog fakeCatalog) CreatePet(ctx context.Context, owned pet.Pet) (pet.Pet, error) {
	owned.PetID = "pet-created"
	return owned, nil
}

func (catalog fakeCatalog) ListCatalogTypes(ctx context.Context, atUnixUTC int64) ([]coupon.CatalogType, error) {
	return catalog.types, nil
}

func (catalog fakeCatalog) ListInstancesByOwner(ctx context.Context, ownerUserID string, limit int) ([]coupon.Instance, error) {
	return nil, nil
}

func newTestRouter(test *testing.T, catalog httpapi.Catalog) http.Handler {
	test.Helper()
	dispatcher, err := engine.New(newFakeStore(), func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) })
	if err != nil {
		test.Fatalf("new dispatcher: %v", err)
	}
	server, err := httpapi.New(httpapi.Config{
		SessionSigningKey: sessionSigningKey,
		SessionIssuer:     sessionIssuer,
		SessionCookieName: sessionCookieName,
	}, dispatcher, catalog, zap.NewNop())
	if err != nil {
		test.Fatalf("new server: %v", err)
	}
	router, err := server.Router()
	if err != nil {
		test.Fatalf("build router: %v", err)
	}
	return router
}

func buildSessionCookie(test *testing.T) *http.Cookie {
	test.Helper()
	claims := &sessionvalidator.Claims{
		UserID:          sessionUserID,
		UserEmail:       "user@example.com",
		UserDisplayName: "Test User",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString([]byte(sessionSigningKey))
	if err != nil {
		test.Fatalf("token signing failed: %v", err)
	}
	return &http.Cookie{Name: sessionCookieName, Value: signedToken}
}

func performRequest(router http.Handler, method string, path string, cookie *http.Cookie, payload any) *httptest.ResponseRecorder {
	var body *bytes.Buffer
	if payload != nil {
		raw, _ := json.Marshal(payload)
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}
	request := httptest.NewRequest(method, path, body)
	request.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		request.AddCookie(cookie)
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func TestHealthzIsOpen(test *testing.T) {
	test.Parallel()
	router := newTestRouter(test, fakeCatalog{})

	recorder := performRequest(router, http.MethodGet, "/healthz", nil, nil)
	if recorder.Code != http.StatusOK {
		test.Fatalf("healthz status %d", recorder.Code)
	}
}

func TestAPIRejectsMissingSession(test *testing.T) {
	test.Parallel()
	router := newTestRouter(test, fakeCatalog{})

	recorder := performRequest(router, http.MethodGet, "/api/wallet", nil, nil)
	if recorder.Code != http.StatusUnauthorized {
		test.Fatalf("expected 401 without session cookie, got %d", recorder.Code)
	}
}

func TestSignInThenWalletFlow(test *testing.T) {
	test.Parallel()
	router := newTestRouter(test, fakeCatalog{})
	cookie := buildSessionCookie(test)

	signInRecorder := performRequest(router, http.MethodPost, "/api/signin", cookie, nil)
	if signInRecorder.Code != http.StatusOK {
		test.Fatalf("sign-in status %d: %s", signInRecorder.Code, signInRecorder.Body.String())
	}
	var signInResult engine.SignInResult
	if err := json.Unmarshal(signInRecorder.Body.Bytes(), &signInResult); err != nil {
		test.Fatalf("decode sign-in response: %v", err)
	}
	if !signInResult.Success || signInResult.PointsGained != 10 {
		test.Fatalf("unexpected sign-in result: %+v", signInResult)
	}

	walletRecorder := performRequest(router, http.MethodGet, "/api/wallet", cookie, nil)
	if walletRecorder.Code != http.StatusOK {
		test.Fatalf("wallet status %d", walletRecorder.Code)
	}
	var walletEnvelope struct {
		Wallet engine.WalletOverview `json:"wallet"`
	}
	if err := json.Unmarshal(walletRecorder.Body.Bytes(), &walletEnvelope); err != nil {
		test.Fatalf("decode wallet response: %v", err)
	}
	if walletEnvelope.Wallet.Balance != 10 {
		test.Fatalf("expected balance 10, got %d", walletEnvelope.Wallet.Balance)
	}
	if len(walletEnvelope.Wallet.Entries) != 1 {
		test.Fatalf("expected one ledger entry, got %d", len(walletEnvelope.Wallet.Entries))
	}

	repeatRecorder := performRequest(router, http.MethodPost, "/api/signin", cookie, nil)
	var repeatResult engine.SignInResult
	if err := json.Unmarshal(repeatRecorder.Body.Bytes(), &repeatResult); err != nil {
		test.Fatalf("decode repeat sign-in response: %v", err)
	}
	if !repeatResult.AlreadySignedToday {
		test.Fatalf("same-day repeat not detected: %+v", repeatResult)
	}
}

func TestCatalogListing(test *testing.T) {
	test.Parallel()
	router := newTestRouter(test, fakeCatalog{types: []coupon.CatalogType{
		{TypeID: "c-100", Kind: coupon.KindCoupon, Name: "ten percent off", PointsCost: 100, DiscountPercent: 10},
	}})
	cookie := buildSessionCookie(test)

	recorder := performRequest(router, http.MethodGet, "/api/catalog", cookie, nil)
	if recorder.Code != http.StatusOK {
		test.Fatalf("catalog status %d", recorder.Code)
	}
	var envelope struct {
		Types []coupon.CatalogType `json:"types"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &envelope); err != nil {
		test.Fatalf("decode catalog response: %v", err)
	}
	if len(envelope.Types) != 1 || envelope.Types[0].TypeID != "c-100" {
		test.Fatalf("unexpected catalog payload: %+v", envelope.Types)
	}
}

func TestGameResultRequiresPetID(test *testing.T) {
	test.Parallel()
	router := newTestRouter(test, fakeCatalog{})
	cookie := buildSessionCookie(test)

	recorder := performRequest(router, http.MethodPost, "/api/games/results", cookie, map[string]any{"kind": "1"})
	if recorder.Code != http.StatusBadRequest {
		test.Fatalf("expected 400 for missing pet_id, got %d", recorder.Code)
	}
}
