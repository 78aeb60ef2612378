package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/rewards/pkg/coupon"
	"github.com/MarkoPoloResearchLab/rewards/pkg/pet"
	"github.com/MarkoPoloResearchLab/rewards/pkg/reward"
	"github.com/MarkoPoloResearchLab/rewards/pkg/streak"
	"github.com/MarkoPoloResearchLab/rewards/pkg/wallet"
)

const (
	bonusTypeWeekly  = "bonus-signin-weekly"
	bonusTypeMonthly = "bonus-signin-monthly"
	bonusTypeGame    = "bonus-game"
)

// Dispatcher orchestrates reward events: it runs the pure calculator, then
// applies the results to the wallet, pet, and coupon state inside one
// transaction, and finally invalidates the affected cache keys. On any
// failure after the ledger step the whole event rolls back.
type Dispatcher struct {
	store    Store
	cache    Cache
	clock    func() time.Time
	rng      reward.Rand
	location *time.Location

	walletLogger       wallet.OperationLogger
	walletHistoryLimit int
	cacheTTL           time.Duration
	tokenTTLSeconds    int64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCache wires a read-view cache.
func WithCache(cache Cache) Option {
	return func(dispatcher *Dispatcher) {
		if cache != nil {
			dispatcher.cache = cache
		}
	}
}

// WithRand wires the randomness source for bonus-coupon rolls.
func WithRand(rng reward.Rand) Option {
	return func(dispatcher *Dispatcher) {
		dispatcher.rng = rng
	}
}

// WithLocation sets the calendar-day boundary for sign-ins.
func WithLocation(location *time.Location) Option {
	return func(dispatcher *Dispatcher) {
		if location != nil {
			dispatcher.location = location
		}
	}
}

// WithWalletLogger wires an operation logger onto every wallet mutation.
func WithWalletLogger(logger wallet.OperationLogger) Option {
	return func(dispatcher *Dispatcher) {
		dispatcher.walletLogger = logger
	}
}

// WithVoucherTokenTTLSeconds overrides the voucher token lifetime.
func WithVoucherTokenTTLSeconds(seconds int64) Option {
	return func(dispatcher *Dispatcher) {
		if seconds > 0 {
			dispatcher.tokenTTLSeconds = seconds
		}
	}
}

// New wires a Dispatcher.
func New(store Store, clock func() time.Time, options ...Option) (*Dispatcher, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if clock == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	dispatcher := &Dispatcher{
		store:              store,
		cache:              NopCache{},
		clock:              clock,
		location:           time.UTC,
		walletHistoryLimit: 10,
		cacheTTL:           time.Minute,
	}
	for _, option := range options {
		if option != nil {
			option(dispatcher)
		}
	}
	return dispatcher, nil
}

func (dispatcher *Dispatcher) nowUnix() int64 {
	return dispatcher.clock().UTC().Unix()
}

func (dispatcher *Dispatcher) walletOn(store Store) (*wallet.Service, error) {
	options := []wallet.ServiceOption{}
	if dispatcher.walletLogger != nil {
		options = append(options, wallet.WithOperationLogger(dispatcher.walletLogger))
	}
	return wallet.NewService(store.Wallet(), dispatcher.nowUnix, options...)
}

func (dispatcher *Dispatcher) petsOn(store Store) (*pet.Service, error) {
	return pet.NewService(store.Pets())
}

func (dispatcher *Dispatcher) trackerOn(store Store) (*streak.Tracker, error) {
	return streak.NewTracker(store.Streaks(), dispatcher.location)
}

func (dispatcher *Dispatcher) issuerOn(store Store, walletService *wallet.Service) (*coupon.Issuer, error) {
	options := []coupon.IssuerOption{}
	if dispatcher.tokenTTLSeconds > 0 {
		options = append(options, coupon.WithTokenTTLSeconds(dispatcher.tokenTTLSeconds))
	}
	return coupon.NewIssuer(store.Coupons(), walletDebiter{service: walletService}, dispatcher.nowUnix, options...)
}

// walletDebiter adapts the wallet service to the coupon issuer's port.
type walletDebiter struct {
	service *wallet.Service
}

func (debiter walletDebiter) Debit(ctx context.Context, userID string, eventID string, amount int64, description string) (int64, bool, error) {
	parsedUserID, err := wallet.NewUserID(userID)
	if err != nil {
		return 0, false, err
	}
	parsedEventID, err := wallet.NewEventID(eventID)
	if err != nil {
		return 0, false, err
	}
	result, err := debiter.service.Apply(ctx, parsedUserID, parsedEventID, wallet.Points(-amount), description)
	if err != nil {
		return 0, false, err
	}
	return result.NewBalance.Int64(), result.AlreadyApplied, nil
}

// ProcessSignIn records a daily sign-in and credits the streak reward. The
// event id derives from the calendar day, so the operation is naturally
// idempotent per user per day.
func (dispatcher *Dispatcher) ProcessSignIn(ctx context.Context, userID string) (SignInResult, error) {
	parsedUserID, err := wallet.NewUserID(userID)
	if err != nil {
		return SignInResult{}, err
	}
	var result SignInResult
	var ownedPetID string
	operationError := dispatcher.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		tracker, err := dispatcher.trackerOn(transactionStore)
		if err != nil {
			return err
		}
		now := dispatcher.clock()
		streakResult, err := tracker.RecordSignIn(ctx, userID, now)
		if err != nil {
			return err
		}
		if streakResult.AlreadySignedToday {
			result = SignInResult{
				AlreadySignedToday: true,
				ConsecutiveDays:    streakResult.ConsecutiveDays,
			}
			return nil
		}
		signInReward := reward.CalculateSignIn(streakResult.ConsecutiveDays)

		walletService, err := dispatcher.walletOn(transactionStore)
		if err != nil {
			return err
		}
		eventID, err := wallet.NewEventID(fmt.Sprintf("signin:%s:%s", userID, tracker.DayKey(now)))
		if err != nil {
			return err
		}
		applied, err := walletService.Apply(ctx, parsedUserID, eventID, wallet.Points(signInReward.TotalPoints()), "daily sign-in reward")
		if err != nil {
			return err
		}
		if applied.AlreadyApplied {
			// A duplicate committed after the streak read; discard this
			// transaction's streak write and report the replay.
			result = SignInResult{
				AlreadySignedToday: true,
				ConsecutiveDays:    streakResult.ConsecutiveDays,
			}
			return errEventReplayed
		}
		newBalance := applied.NewBalance

		leveledUp := false
		petID, hasPet, err := transactionStore.Pets().FindPetIDByOwner(ctx, userID)
		if err != nil {
			return err
		}
		if hasPet {
			ownedPetID = petID
			petService, err := dispatcher.petsOn(transactionStore)
			if err != nil {
				return err
			}
			progress, err := petService.ApplyDelta(ctx, petID, userID, signInReward.Exp, pet.AttributeDelta{}, pet.LevelBonusCare)
			if err != nil {
				return err
			}
			leveledUp = progress.LeveledUp
			newBalance, err = dispatcher.creditLevelGrants(ctx, walletService, parsedUserID, eventID, progress.LevelGrants, newBalance)
			if err != nil {
				return err
			}
		}

		bonusCode := ""
		if signInReward.Bonus != reward.BonusNone {
			issuer, err := dispatcher.issuerOn(transactionStore, walletService)
			if err != nil {
				return err
			}
			minted, err := issuer.MintBonus(ctx, userID, signInBonusTypeID(signInReward.Bonus))
			if err != nil {
				return err
			}
			bonusCode = minted.Code
		}

		result = SignInResult{
			Success:         true,
			PointsGained:    signInReward.TotalPoints(),
			ExpGained:       signInReward.Exp,
			ConsecutiveDays: streakResult.ConsecutiveDays,
			BonusCouponCode: bonusCode,
			LeveledUp:       leveledUp,
			NewBalance:      newBalance.Int64(),
		}
		return nil
	})
	if operationError != nil {
		if errors.Is(operationError, errEventReplayed) {
			return result, nil
		}
		return SignInResult{}, operationError
	}
	if result.Success {
		dispatcher.invalidate(ctx, walletCacheKey(userID), petCacheKey(ownedPetID))
	}
	return result, nil
}

// SubmitGameResult grades a mini-game run, credits points, applies pet
// experience, and tracks personal high scores.
func (dispatcher *Dispatcher) SubmitGameResult(ctx context.Context, userID string, petID string, gameResult GameResult) (GameOutcome, error) {
	if gameResult.EventID == "" {
		return GameOutcome{}, ErrMissingEventID
	}
	parsedUserID, err := wallet.NewUserID(userID)
	if err != nil {
		return GameOutcome{}, err
	}
	eventID, err := wallet.NewEventID(gameResult.EventID)
	if err != nil {
		return GameOutcome{}, err
	}
	var outcome GameOutcome
	operationError := dispatcher.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		replayed, replay, err := dispatcher.replayOutcome(ctx, transactionStore, parsedUserID, eventID)
		if err != nil {
			return err
		}
		if replayed {
			outcome = GameOutcome{AlreadyProcessed: true, PointsGained: replay.pointsDelta, NewBalance: replay.balance}
			return nil
		}

		current, err := transactionStore.Pets().GetPet(ctx, petID)
		if err != nil {
			return err
		}
		if current.UserID != userID {
			return pet.ErrNotOwned
		}
		previousHigh, _, err := transactionStore.GetHighScore(ctx, userID, gameResult.Kind)
		if err != nil {
			return err
		}
		gameReward := reward.CalculateGame(reward.GameInput{
			Kind:         gameResult.Kind,
			Score:        gameResult.Score,
			Completed:    gameResult.Completed,
			PetLevel:     current.Level,
			PreviousHigh: previousHigh,
		}, dispatcher.rng)

		walletService, err := dispatcher.walletOn(transactionStore)
		if err != nil {
			return err
		}
		applied, err := walletService.Apply(ctx, parsedUserID, eventID, wallet.Points(gameReward.Points), fmt.Sprintf("mini-game %s reward", gameResult.Kind))
		if err != nil {
			return err
		}
		if applied.AlreadyApplied {
			replay, err := dispatcher.replayAfterLock(ctx, transactionStore, parsedUserID, eventID, applied.NewBalance)
			if err != nil {
				return err
			}
			outcome = GameOutcome{AlreadyProcessed: true, PointsGained: replay.pointsDelta, NewBalance: replay.balance}
			return nil
		}
		newBalance := applied.NewBalance

		petService, err := dispatcher.petsOn(transactionStore)
		if err != nil {
			return err
		}
		progress, err := petService.ApplyDelta(ctx, petID, userID, gameReward.Exp, pet.AttributeDelta{}, pet.LevelBonusGame)
		if err != nil {
			return err
		}
		newBalance, err = dispatcher.creditLevelGrants(ctx, walletService, parsedUserID, eventID, progress.LevelGrants, newBalance)
		if err != nil {
			return err
		}

		if gameReward.NewHighScore {
			if err := transactionStore.UpsertHighScore(ctx, userID, gameResult.Kind, gameResult.Score); err != nil {
				return err
			}
		}

		bonusCode := ""
		if gameReward.Bonus != reward.BonusNone {
			issuer, err := dispatcher.issuerOn(transactionStore, walletService)
			if err != nil {
				return err
			}
			minted, err := issuer.MintBonus(ctx, userID, bonusTypeGame)
			if err != nil {
				return err
			}
			bonusCode = minted.Code
		}

		outcome = GameOutcome{
			PointsGained:    gameReward.Points,
			ExpGained:       gameReward.Exp,
			Rank:            gameReward.Rank,
			LeveledUp:       progress.LeveledUp,
			NewLevel:        progress.NewLevel,
			BonusCouponCode: bonusCode,
			NewHighScore:    gameReward.NewHighScore,
			NewBalance:      newBalance.Int64(),
		}
		return nil
	})
	if operationError != nil {
		return GameOutcome{}, operationError
	}
	if !outcome.AlreadyProcessed {
		dispatcher.invalidate(ctx, walletCacheKey(userID), petCacheKey(petID))
	}
	return outcome, nil
}

// FeedPet charges the feed price and applies its attribute vector.
func (dispatcher *Dispatcher) FeedPet(ctx context.Context, userID string, petID string, eventID string) (CareOutcome, error) {
	return dispatcher.carePet(ctx, userID, petID, reward.CareFeed, eventID)
}

// PlayWithPet charges the play price and applies its attribute vector.
func (dispatcher *Dispatcher) PlayWithPet(ctx context.Context, userID string, petID string, eventID string) (CareOutcome, error) {
	return dispatcher.carePet(ctx, userID, petID, reward.CarePlay, eventID)
}

// CleanPet charges the clean price and applies its attribute vector.
func (dispatcher *Dispatcher) CleanPet(ctx context.Context, userID string, petID string, eventID string) (CareOutcome, error) {
	return dispatcher.carePet(ctx, userID, petID, reward.CareClean, eventID)
}

func (dispatcher *Dispatcher) carePet(ctx context.Context, userID string, petID string, action reward.CareAction, rawEventID string) (CareOutcome, error) {
	careReward, known := reward.CalculateCare(action)
	if !known {
		return CareOutcome{}, ErrUnknownCareAction
	}
	if rawEventID == "" {
		return CareOutcome{}, ErrMissingEventID
	}
	parsedUserID, err := wallet.NewUserID(userID)
	if err != nil {
		return CareOutcome{}, err
	}
	eventID, err := wallet.NewEventID(rawEventID)
	if err != nil {
		return CareOutcome{}, err
	}
	var outcome CareOutcome
	operationError := dispatcher.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		replayed, replay, err := dispatcher.replayOutcome(ctx, transactionStore, parsedUserID, eventID)
		if err != nil {
			return err
		}
		if replayed {
			outcome = CareOutcome{AlreadyProcessed: true, PointsCost: -replay.pointsDelta, NewBalance: replay.balance}
			return nil
		}

		walletService, err := dispatcher.walletOn(transactionStore)
		if err != nil {
			return err
		}
		applied, err := walletService.Apply(ctx, parsedUserID, eventID, wallet.Points(-careReward.PointsCost), fmt.Sprintf("pet care: %s", action))
		if err != nil {
			return err
		}
		if applied.AlreadyApplied {
			replay, err := dispatcher.replayAfterLock(ctx, transactionStore, parsedUserID, eventID, applied.NewBalance)
			if err != nil {
				return err
			}
			outcome = CareOutcome{AlreadyProcessed: true, PointsCost: -replay.pointsDelta, NewBalance: replay.balance}
			return nil
		}
		newBalance := applied.NewBalance

		petService, err := dispatcher.petsOn(transactionStore)
		if err != nil {
			return err
		}
		progress, err := petService.ApplyDelta(ctx, petID, userID, careReward.Exp, careReward.AttributeDelta, pet.LevelBonusCare)
		if err != nil {
			return err
		}
		newBalance, err = dispatcher.creditLevelGrants(ctx, walletService, parsedUserID, eventID, progress.LevelGrants, newBalance)
		if err != nil {
			return err
		}

		outcome = CareOutcome{
			PointsCost:      careReward.PointsCost,
			ExpGained:       careReward.Exp,
			Attributes:      progress.Attributes,
			LeveledUp:       progress.LeveledUp,
			NewOverallScore: progress.OverallScore,
			NewBalance:      newBalance.Int64(),
		}
		return nil
	})
	if operationError != nil {
		return CareOutcome{}, operationError
	}
	if !outcome.AlreadyProcessed {
		dispatcher.invalidate(ctx, walletCacheKey(userID), petCacheKey(petID))
	}
	return outcome, nil
}

// ExchangeCoupon trades points for a coupon instance.
func (dispatcher *Dispatcher) ExchangeCoupon(ctx context.Context, userID string, typeID string, eventID string) (ExchangeOutcome, error) {
	return dispatcher.exchange(ctx, userID, typeID, coupon.KindCoupon, eventID)
}

// ExchangeVoucher trades points for a voucher instance plus redemption token.
func (dispatcher *Dispatcher) ExchangeVoucher(ctx context.Context, userID string, typeID string, eventID string) (ExchangeOutcome, error) {
	return dispatcher.exchange(ctx, userID, typeID, coupon.KindVoucher, eventID)
}

func (dispatcher *Dispatcher) exchange(ctx context.Context, userID string, typeID string, kind coupon.Kind, rawEventID string) (ExchangeOutcome, error) {
	if rawEventID == "" {
		return ExchangeOutcome{}, ErrMissingEventID
	}
	parsedUserID, err := wallet.NewUserID(userID)
	if err != nil {
		return ExchangeOutcome{}, err
	}
	eventID, err := wallet.NewEventID(rawEventID)
	if err != nil {
		return ExchangeOutcome{}, err
	}
	var outcome ExchangeOutcome
	operationError := dispatcher.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		replayed, replay, err := dispatcher.replayOutcome(ctx, transactionStore, parsedUserID, eventID)
		if err != nil {
			return err
		}
		if replayed {
			outcome = ExchangeOutcome{AlreadyProcessed: true, PointsCost: -replay.pointsDelta, RemainingBalance: replay.balance}
			return nil
		}

		walletService, err := dispatcher.walletOn(transactionStore)
		if err != nil {
			return err
		}
		issuer, err := dispatcher.issuerOn(transactionStore, walletService)
		if err != nil {
			return err
		}
		exchangeResult, err := issuer.Exchange(ctx, userID, typeID, kind, eventID.String())
		if err != nil {
			if errors.Is(err, coupon.ErrEventReplayed) {
				replay, replayErr := dispatcher.replayAfterLock(ctx, transactionStore, parsedUserID, eventID, 0)
				if replayErr != nil {
					return replayErr
				}
				outcome = ExchangeOutcome{AlreadyProcessed: true, PointsCost: -replay.pointsDelta, RemainingBalance: replay.balance}
				return nil
			}
			return err
		}
		outcome = ExchangeOutcome{
			InstanceID:       exchangeResult.Instance.InstanceID,
			Code:             exchangeResult.Instance.Code,
			PointsCost:       exchangeResult.PointsCost,
			RemainingBalance: exchangeResult.RemainingBalance,
		}
		if exchangeResult.Token != nil {
			outcome.TokenValue = exchangeResult.Token.Value
			outcome.TokenExpiresAtUnixUTC = exchangeResult.Token.ExpiresAtUnixUTC
		}
		return nil
	})
	if operationError != nil {
		return ExchangeOutcome{}, operationError
	}
	if !outcome.AlreadyProcessed {
		dispatcher.invalidate(ctx, walletCacheKey(userID))
	}
	return outcome, nil
}

// UseCoupon marks a coupon used, exactly once.
func (dispatcher *Dispatcher) UseCoupon(ctx context.Context, instanceID string, userID string) (UseOutcome, error) {
	return dispatcher.useInstance(ctx, instanceID, userID)
}

// UseVoucher marks a voucher used, exactly once.
func (dispatcher *Dispatcher) UseVoucher(ctx context.Context, instanceID string, userID string) (UseOutcome, error) {
	return dispatcher.useInstance(ctx, instanceID, userID)
}

func (dispatcher *Dispatcher) useInstance(ctx context.Context, instanceID string, userID string) (UseOutcome, error) {
	parsedUserID, err := wallet.NewUserID(userID)
	if err != nil {
		return UseOutcome{}, err
	}
	var outcome UseOutcome
	operationError := dispatcher.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		walletService, err := dispatcher.walletOn(transactionStore)
		if err != nil {
			return err
		}
		issuer, err := dispatcher.issuerOn(transactionStore, walletService)
		if err != nil {
			return err
		}
		if _, err := issuer.Use(ctx, instanceID, userID); err != nil {
			return err
		}
		balance, err := walletService.Balance(ctx, parsedUserID)
		if err != nil {
			return err
		}
		outcome = UseOutcome{Success: true, RemainingBalance: balance.Int64()}
		return nil
	})
	if operationError != nil {
		return UseOutcome{}, operationError
	}
	return outcome, nil
}

// RedeemVoucherToken consumes a voucher token presented at a point of sale.
func (dispatcher *Dispatcher) RedeemVoucherToken(ctx context.Context, tokenValue string) (coupon.Instance, error) {
	var redeemed coupon.Instance
	operationError := dispatcher.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		walletService, err := dispatcher.walletOn(transactionStore)
		if err != nil {
			return err
		}
		issuer, err := dispatcher.issuerOn(transactionStore, walletService)
		if err != nil {
			return err
		}
		instance, err := issuer.RedeemToken(ctx, tokenValue)
		if err != nil {
			return err
		}
		redeemed = instance
		return nil
	})
	if operationError != nil {
		return coupon.Instance{}, operationError
	}
	return redeemed, nil
}

func signInBonusTypeID(bonus reward.BonusCoupon) string {
	if bonus == reward.BonusMonthly {
		return bonusTypeMonthly
	}
	return bonusTypeWeekly
}

// errEventReplayed aborts a transaction whose event turned out to be already
// applied once the account row was locked.
var errEventReplayed = errors.New("event already applied")

type replayInfo struct {
	pointsDelta int64
	balance     int64
}

// replayOutcome short-circuits an event that already produced its effects.
func (dispatcher *Dispatcher) replayOutcome(ctx context.Context, transactionStore Store, userID wallet.UserID, eventID wallet.EventID) (bool, replayInfo, error) {
	entry, found, err := transactionStore.Wallet().FindEntryByEvent(ctx, userID, eventID)
	if err != nil {
		return false, replayInfo{}, err
	}
	if !found {
		return false, replayInfo{}, nil
	}
	account, err := transactionStore.Wallet().GetAccount(ctx, userID)
	if err != nil {
		return false, replayInfo{}, err
	}
	return true, replayInfo{pointsDelta: entry.Amount.Int64(), balance: account.Balance.Int64()}, nil
}

// replayAfterLock rebuilds the replay view for a duplicate that slipped past
// the unlocked pre-check and only surfaced under the account lock.
func (dispatcher *Dispatcher) replayAfterLock(ctx context.Context, transactionStore Store, userID wallet.UserID, eventID wallet.EventID, lockedBalance wallet.Points) (replayInfo, error) {
	replayed, replay, err := dispatcher.replayOutcome(ctx, transactionStore, userID, eventID)
	if err != nil {
		return replayInfo{}, err
	}
	if !replayed {
		return replayInfo{balance: lockedBalance.Int64()}, nil
	}
	return replay, nil
}

func (dispatcher *Dispatcher) creditLevelGrants(ctx context.Context, walletService *wallet.Service, userID wallet.UserID, baseEventID wallet.EventID, grants []pet.LevelGrant, balance wallet.Points) (wallet.Points, error) {
	for _, grant := range grants {
		grantEventID, err := wallet.DeriveEventID(baseEventID, grant.EventSuffix)
		if err != nil {
			return 0, err
		}
		applied, err := walletService.Apply(ctx, userID, grantEventID, wallet.Points(grant.Points), fmt.Sprintf("level %d bonus", grant.Level))
		if err != nil {
			return 0, err
		}
		balance = applied.NewBalance
	}
	return balance, nil
}

func (dispatcher *Dispatcher) invalidate(ctx context.Context, keys ...string) {
	filtered := make([]string, 0, len(keys))
	for _, key := range keys {
		if key != walletCacheKey("") && key != petCacheKey("") {
			filtered = append(filtered, key)
		}
	}
	if len(filtered) == 0 {
		return
	}
	_ = dispatcher.cache.Delete(ctx, filtered...)
}
