// Package gormstore persists the rewards engine state through GORM, against
// PostgreSQL in production and SQLite in local setups. Unique-key violations
// from both drivers are mapped onto the domain conflict errors.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarkoPoloResearchLab/rewards/pkg/coupon"
	"github.com/MarkoPoloResearchLab/rewards/pkg/engine"
	"github.com/MarkoPoloResearchLab/rewards/pkg/pet"
	"github.com/MarkoPoloResearchLab/rewards/pkg/streak"
	"github.com/MarkoPoloResearchLab/rewards/pkg/wallet"
)

const (
	constraintWalletEvent = "uniq_wallet_event"
	constraintCouponCode  = "uniq_coupon_code"
	constraintTokenValue  = "uniq_token_value"
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19

	errorOperationStore  = "store"
	errorSubjectAccount  = "account"
	errorSubjectEntry    = "entry"
	errorSubjectPet      = "pet"
	errorSubjectStreak   = "streak"
	errorSubjectCatalog  = "catalog_type"
	errorSubjectInstance = "coupon_instance"
	errorSubjectToken    = "voucher_token"
	errorSubjectScore    = "high_score"
	errorCodeCreate      = "create"
	errorCodeGet         = "get"
	errorCodeInsert      = "insert"
	errorCodeInvalid     = "invalid"
	errorCodeList        = "list"
	errorCodeLock        = "lock"
	errorCodeUpdate      = "update"
	errorCodeUpsert      = "upsert"
)

// Store implements the engine store bundle over one gorm.DB. Sub-stores
// returned from a transactional bundle share the transaction handle, so a
// dispatched event commits or rolls back as one unit.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction. Nested calls become savepoints.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore engine.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// Wallet returns the wallet persistence port bound to this handle.
func (store *Store) Wallet() wallet.Store { return &walletStore{db: store.db} }

// Pets returns the pet persistence port bound to this handle.
func (store *Store) Pets() pet.Store { return &petStore{db: store.db} }

// Streaks returns the streak persistence port bound to this handle.
func (store *Store) Streaks() streak.Store { return &streakStore{db: store.db} }

// Coupons returns the coupon persistence port bound to this handle.
func (store *Store) Coupons() coupon.Store { return &couponStore{db: store.db} }

// GetHighScore returns the user's personal best for one game kind.
func (store *Store) GetHighScore(ctx context.Context, userID string, gameKind string) (int64, bool, error) {
	var model HighScore
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND game_kind = ?", userID, gameKind).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrapStoreError(errorSubjectScore, errorCodeGet, err)
	}
	return model.Score, true, nil
}

// UpsertHighScore records a new personal best.
func (store *Store) UpsertHighScore(ctx context.Context, userID string, gameKind string, score int64) error {
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "game_kind"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"score":      score,
				"updated_at": time.Now().UTC(),
			}),
		}).
		Create(&HighScore{UserID: userID, GameKind: gameKind, Score: score, UpdatedAt: time.Now().UTC()}).Error
	if err != nil {
		return wrapStoreError(errorSubjectScore, errorCodeUpsert, err)
	}
	return nil
}

type walletStore struct {
	db *gorm.DB
}

func (store *walletStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore wallet.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &walletStore{db: transaction})
	})
}

func (store *walletStore) LockAccount(ctx context.Context, userID wallet.UserID) (wallet.Account, error) {
	for attempt := 0; attempt < 2; attempt++ {
		var model Account
		err := store.db.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID.String()).
			Take(&model).Error
		if err == nil {
			return mapAccount(model), nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLock, err)
		}
		created := Account{UserID: userID.String(), Balance: 0, Version: 1}
		createErr := store.db.WithContext(ctx).Create(&created).Error
		if createErr == nil {
			return mapAccount(created), nil
		}
		// Lost the creation race; the second lock attempt finds the row.
		if !isUniqueViolation(createErr, "") {
			return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeCreate, createErr)
		}
	}
	return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLock, wallet.ErrConcurrencyConflict)
}

func (store *walletStore) GetAccount(ctx context.Context, userID wallet.UserID) (wallet.Account, error) {
	var model Account
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return wallet.Account{UserID: userID.String(), Balance: 0, Version: 0}, nil
	}
	if err != nil {
		return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return mapAccount(model), nil
}

func (store *walletStore) FindEntryByEvent(ctx context.Context, userID wallet.UserID, eventID wallet.EventID) (wallet.Entry, bool, error) {
	var model LedgerEntry
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND event_id = ?", userID.String(), eventID.String()).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return wallet.Entry{}, false, nil
	}
	if err != nil {
		return wallet.Entry{}, false, wrapStoreError(errorSubjectEntry, errorCodeGet, err)
	}
	return mapLedgerEntry(model), true, nil
}

func (store *walletStore) InsertEntry(ctx context.Context, entry wallet.Entry) error {
	model := LedgerEntry{
		EntryID:      entry.EntryID,
		UserID:       entry.UserID,
		EventID:      entry.EventID,
		Type:         entry.Type.String(),
		Amount:       entry.Amount.Int64(),
		BalanceAfter: entry.BalanceAfter.Int64(),
		Description:  entry.Description,
		CreatedAt:    time.Unix(entry.CreatedUnixUTC, 0).UTC(),
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintWalletEvent) {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, wallet.ErrDuplicateEvent)
	}
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

func (store *walletStore) UpdateBalance(ctx context.Context, userID wallet.UserID, newBalance wallet.Points, fromVersion int) error {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("user_id = ? AND version = ?", userID.String(), fromVersion).
		Updates(map[string]interface{}{
			"balance": newBalance.Int64(),
			"version": fromVersion + 1,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, wallet.ErrConcurrencyConflict)
	}
	return nil
}

func (store *walletStore) ListEntries(ctx context.Context, userID wallet.UserID, limit int) ([]wallet.Entry, error) {
	var rows []LedgerEntry
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	entries := make([]wallet.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, mapLedgerEntry(row))
	}
	return entries, nil
}

type petStore struct {
	db *gorm.DB
}

func (store *petStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore pet.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &petStore{db: transaction})
	})
}

func (store *petStore) GetPetForUpdate(ctx context.Context, petID string) (pet.Pet, error) {
	return store.getPet(ctx, petID, true)
}

func (store *petStore) GetPet(ctx context.Context, petID string) (pet.Pet, error) {
	return store.getPet(ctx, petID, false)
}

func (store *petStore) getPet(ctx context.Context, petID string, forUpdate bool) (pet.Pet, error) {
	query := store.db.WithContext(ctx)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var model Pet
	err := query.Where("pet_id = ?", petID).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pet.Pet{}, wrapStoreError(errorSubjectPet, errorCodeGet, pet.ErrUnknownPet)
	}
	if err != nil {
		return pet.Pet{}, wrapStoreError(errorSubjectPet, errorCodeGet, err)
	}
	return mapPet(model)
}

func (store *petStore) FindPetIDByOwner(ctx context.Context, ownerUserID string) (string, bool, error) {
	var model Pet
	err := store.db.WithContext(ctx).
		Select("pet_id").
		Where("user_id = ?", ownerUserID).
		Order("created_at ASC").
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapStoreError(errorSubjectPet, errorCodeGet, err)
	}
	return model.PetID, true, nil
}

func (store *petStore) UpdatePet(ctx context.Context, updated pet.Pet) error {
	attributes, err := json.Marshal(updated.Attributes)
	if err != nil {
		return wrapStoreError(errorSubjectPet, errorCodeInvalid, err)
	}
	result := store.db.WithContext(ctx).
		Model(&Pet{}).
		Where("pet_id = ?", updated.PetID).
		Updates(map[string]interface{}{
			"level":      updated.Level,
			"experience": updated.Experience,
			"attributes": datatypes.JSON(attributes),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectPet, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectPet, errorCodeUpdate, pet.ErrUnknownPet)
	}
	return nil
}

// CreatePet inserts a new pet row. Not part of the progression port; the
// HTTP layer uses it for pet adoption.
func (store *Store) CreatePet(ctx context.Context, owned pet.Pet) (pet.Pet, error) {
	attributes, err := json.Marshal(owned.Attributes)
	if err != nil {
		return pet.Pet{}, wrapStoreError(errorSubjectPet, errorCodeInvalid, err)
	}
	level := owned.Level
	if level < 1 {
		level = 1
	}
	model := Pet{
		PetID:      owned.PetID,
		UserID:     owned.UserID,
		Name:       owned.Name,
		Level:      level,
		Experience: owned.Experience,
		Attributes: datatypes.JSON(attributes),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return pet.Pet{}, wrapStoreError(errorSubjectPet, errorCodeCreate, err)
	}
	return mapPet(model)
}

// ListCatalogTypes returns catalog definitions active at the given instant.
func (store *Store) ListCatalogTypes(ctx context.Context, atUnixUTC int64) ([]coupon.CatalogType, error) {
	var rows []CatalogType
	err := store.db.WithContext(ctx).
		Where("(valid_from_unix_utc = 0 OR valid_from_unix_utc <= ?)", atUnixUTC).
		Where("(valid_to_unix_utc = 0 OR valid_to_unix_utc >= ?)", atUnixUTC).
		Order("type_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectCatalog, errorCodeList, err)
	}
	types := make([]coupon.CatalogType, 0, len(rows))
	for _, row := range rows {
		types = append(types, mapCatalogType(row))
	}
	return types, nil
}

// ListInstancesByOwner returns the user's coupon and voucher instances,
// newest first.
func (store *Store) ListInstancesByOwner(ctx context.Context, ownerUserID string, limit int) ([]coupon.Instance, error) {
	var rows []CouponInstance
	err := store.db.WithContext(ctx).
		Where("owner_user_id = ?", ownerUserID).
		Order("acquired_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectInstance, errorCodeList, err)
	}
	instances := make([]coupon.Instance, 0, len(rows))
	for _, row := range rows {
		instances = append(instances, mapInstance(row))
	}
	return instances, nil
}

// UpsertCatalogType installs or refreshes a catalog definition.
func (store *Store) UpsertCatalogType(ctx context.Context, catalogType coupon.CatalogType) error {
	model := CatalogType{
		TypeID:           catalogType.TypeID,
		Kind:             catalogType.Kind.String(),
		Name:             catalogType.Name,
		PointsCost:       catalogType.PointsCost,
		DiscountPercent:  catalogType.DiscountPercent,
		ValuePoints:      catalogType.ValuePoints,
		ValidFromUnixUTC: catalogType.ValidFromUnixUTC,
		ValidToUnixUTC:   catalogType.ValidToUnixUTC,
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "type_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"kind":                model.Kind,
				"name":                model.Name,
				"points_cost":         model.PointsCost,
				"discount_percent":    model.DiscountPercent,
				"value_points":        model.ValuePoints,
				"valid_from_unix_utc": model.ValidFromUnixUTC,
				"valid_to_unix_utc":   model.ValidToUnixUTC,
			}),
		}).
		Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectCatalog, errorCodeUpsert, err)
	}
	return nil
}

type streakStore struct {
	db *gorm.DB
}

func (store *streakStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore streak.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &streakStore{db: transaction})
	})
}

func (store *streakStore) GetStreakForUpdate(ctx context.Context, userID string) (streak.State, bool, error) {
	var model Streak
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return streak.State{}, false, nil
	}
	if err != nil {
		return streak.State{}, false, wrapStoreError(errorSubjectStreak, errorCodeGet, err)
	}
	return streak.State{
		UserID:          model.UserID,
		LastSignInDate:  model.LastSignInDate,
		ConsecutiveDays: model.ConsecutiveDays,
	}, true, nil
}

func (store *streakStore) UpsertStreak(ctx context.Context, state streak.State) error {
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"last_sign_in_date": state.LastSignInDate,
				"consecutive_days":  state.ConsecutiveDays,
				"updated_at":        time.Now().UTC(),
			}),
		}).
		Create(&Streak{
			UserID:          state.UserID,
			LastSignInDate:  state.LastSignInDate,
			ConsecutiveDays: state.ConsecutiveDays,
			UpdatedAt:       time.Now().UTC(),
		}).Error
	if err != nil {
		return wrapStoreError(errorSubjectStreak, errorCodeUpsert, err)
	}
	return nil
}

type couponStore struct {
	db *gorm.DB
}

func (store *couponStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore coupon.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &couponStore{db: transaction})
	})
}

func (store *couponStore) GetCatalogType(ctx context.Context, typeID string) (coupon.CatalogType, bool, error) {
	var model CatalogType
	err := store.db.WithContext(ctx).
		Where("type_id = ?", typeID).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return coupon.CatalogType{}, false, nil
	}
	if err != nil {
		return coupon.CatalogType{}, false, wrapStoreError(errorSubjectCatalog, errorCodeGet, err)
	}
	return mapCatalogType(model), true, nil
}

func (store *couponStore) InsertInstance(ctx context.Context, instance coupon.Instance) error {
	model := CouponInstance{
		InstanceID:  instance.InstanceID,
		TypeID:      instance.TypeID,
		Kind:        instance.Kind.String(),
		OwnerUserID: instance.OwnerUserID,
		Code:        instance.Code,
		IsUsed:      instance.IsUsed,
		AcquiredAt:  time.Unix(instance.AcquiredUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintCouponCode) {
		return wrapStoreError(errorSubjectInstance, errorCodeInsert, coupon.ErrCodeCollision)
	}
	if err != nil {
		return wrapStoreError(errorSubjectInstance, errorCodeInsert, err)
	}
	return nil
}

func (store *couponStore) GetInstanceForUpdate(ctx context.Context, instanceID string) (coupon.Instance, error) {
	var model CouponInstance
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("instance_id = ?", instanceID).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return coupon.Instance{}, wrapStoreError(errorSubjectInstance, errorCodeGet, coupon.ErrUnknownInstance)
	}
	if err != nil {
		return coupon.Instance{}, wrapStoreError(errorSubjectInstance, errorCodeGet, err)
	}
	return mapInstance(model), nil
}

func (store *couponStore) MarkInstanceUsed(ctx context.Context, instanceID string, usedUnixUTC int64) error {
	usedAt := time.Unix(usedUnixUTC, 0).UTC()
	result := store.db.WithContext(ctx).
		Model(&CouponInstance{}).
		Where("instance_id = ? AND is_used = ?", instanceID, false).
		Updates(map[string]interface{}{
			"is_used": true,
			"used_at": usedAt,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectInstance, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectInstance, errorCodeUpdate, coupon.ErrAlreadyUsed)
	}
	return nil
}

func (store *couponStore) InsertToken(ctx context.Context, token coupon.Token) error {
	var expiresAt *time.Time
	if token.ExpiresAtUnixUTC != 0 {
		value := time.Unix(token.ExpiresAtUnixUTC, 0).UTC()
		expiresAt = &value
	}
	model := VoucherToken{
		TokenID:    token.TokenID,
		InstanceID: token.InstanceID,
		Value:      token.Value,
		ExpiresAt:  expiresAt,
		IsUsed:     token.IsUsed,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintTokenValue) {
		return wrapStoreError(errorSubjectToken, errorCodeInsert, coupon.ErrCodeCollision)
	}
	if err != nil {
		return wrapStoreError(errorSubjectToken, errorCodeInsert, err)
	}
	return nil
}

func (store *couponStore) GetTokenForUpdate(ctx context.Context, value string) (coupon.Token, error) {
	var model VoucherToken
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("value = ?", value).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return coupon.Token{}, wrapStoreError(errorSubjectToken, errorCodeGet, coupon.ErrUnknownToken)
	}
	if err != nil {
		return coupon.Token{}, wrapStoreError(errorSubjectToken, errorCodeGet, err)
	}
	return coupon.Token{
		TokenID:          model.TokenID,
		InstanceID:       model.InstanceID,
		Value:            model.Value,
		ExpiresAtUnixUTC: timeOrZero(model.ExpiresAt),
		IsUsed:           model.IsUsed,
		UsedUnixUTC:      timeOrZero(model.UsedAt),
	}, nil
}

func (store *couponStore) MarkTokenUsed(ctx context.Context, tokenID string, usedUnixUTC int64) error {
	usedAt := time.Unix(usedUnixUTC, 0).UTC()
	result := store.db.WithContext(ctx).
		Model(&VoucherToken{}).
		Where("token_id = ? AND is_used = ?", tokenID, false).
		Updates(map[string]interface{}{
			"is_used": true,
			"used_at": usedAt,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectToken, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectToken, errorCodeUpdate, coupon.ErrAlreadyUsed)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return wallet.WrapError(errorOperationStore, subject, code, err)
}

func mapAccount(model Account) wallet.Account {
	return wallet.Account{
		AccountID: model.AccountID,
		UserID:    model.UserID,
		Balance:   wallet.Points(model.Balance),
		Version:   model.Version,
	}
}

func mapLedgerEntry(model LedgerEntry) wallet.Entry {
	return wallet.Entry{
		EntryID:        model.EntryID,
		UserID:         model.UserID,
		EventID:        model.EventID,
		Type:           wallet.ChangeType(model.Type),
		Amount:         wallet.Points(model.Amount),
		BalanceAfter:   wallet.Points(model.BalanceAfter),
		Description:    model.Description,
		CreatedUnixUTC: model.CreatedAt.Unix(),
	}
}

func mapPet(model Pet) (pet.Pet, error) {
	var attributes pet.Attributes
	if len(model.Attributes) > 0 {
		if err := json.Unmarshal(model.Attributes, &attributes); err != nil {
			return pet.Pet{}, wrapStoreError(errorSubjectPet, errorCodeInvalid, err)
		}
	}
	return pet.Pet{
		PetID:      model.PetID,
		UserID:     model.UserID,
		Name:       model.Name,
		Level:      model.Level,
		Experience: model.Experience,
		Attributes: attributes,
	}, nil
}

func mapCatalogType(model CatalogType) coupon.CatalogType {
	return coupon.CatalogType{
		TypeID:           model.TypeID,
		Kind:             coupon.Kind(model.Kind),
		Name:             model.Name,
		PointsCost:       model.PointsCost,
		DiscountPercent:  model.DiscountPercent,
		ValuePoints:      model.ValuePoints,
		ValidFromUnixUTC: model.ValidFromUnixUTC,
		ValidToUnixUTC:   model.ValidToUnixUTC,
	}
}

func mapInstance(model CouponInstance) coupon.Instance {
	return coupon.Instance{
		InstanceID:      model.InstanceID,
		TypeID:          model.TypeID,
		Kind:            coupon.Kind(model.Kind),
		OwnerUserID:     model.OwnerUserID,
		Code:            model.Code,
		IsUsed:          model.IsUsed,
		AcquiredUnixUTC: model.AcquiredAt.Unix(),
		UsedUnixUTC:     timeOrZero(model.UsedAt),
	}
}

func timeOrZero(value *time.Time) int64 {
	if value == nil {
		return 0
	}
	return value.Unix()
}

func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != pgUniqueViolationCode {
			return false
		}
		return constraint == "" || pgErr.ConstraintName == constraint
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
