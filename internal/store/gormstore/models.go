package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the wallet_accounts table. Balance is materialized and
// guarded by the optimistic Version column.
type Account struct {
	AccountID string    `gorm:"type:uuid;primaryKey"`
	UserID    string    `gorm:"not null;index:uniq_wallet_user,unique"`
	Balance   int64     `gorm:"not null"`
	Version   int       `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "wallet_accounts" }

func (account *Account) BeforeCreate(tx *gorm.DB) error {
	if account.AccountID == "" {
		account.AccountID = uuid.NewString()
	}
	return nil
}

// LedgerEntry mirrors the wallet_entries table. The (user_id, event_id) pair
// is unique; it is the idempotency guard for every reward event.
type LedgerEntry struct {
	EntryID      string    `gorm:"type:uuid;primaryKey"`
	UserID       string    `gorm:"not null;index:uniq_wallet_event,unique,priority:1;index:idx_wallet_entries_user_created,priority:1"`
	EventID      string    `gorm:"not null;index:uniq_wallet_event,unique,priority:2"`
	Type         string    `gorm:"not null"`
	Amount       int64     `gorm:"not null"`
	BalanceAfter int64     `gorm:"not null"`
	Description  string    `gorm:""`
	CreatedAt    time.Time `gorm:"not null;index:idx_wallet_entries_user_created,priority:2"`
}

func (LedgerEntry) TableName() string { return "wallet_entries" }

func (entry *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// Pet mirrors the pets table. Attributes live in a JSON column.
type Pet struct {
	PetID      string         `gorm:"type:uuid;primaryKey"`
	UserID     string         `gorm:"not null;index:idx_pets_user_created,priority:1"`
	Name       string         `gorm:"not null"`
	Level      int            `gorm:"not null"`
	Experience int            `gorm:"not null"`
	Attributes datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt  time.Time      `gorm:"not null;index:idx_pets_user_created,priority:2"`
	UpdatedAt  time.Time      `gorm:"not null"`
}

func (Pet) TableName() string { return "pets" }

func (pet *Pet) BeforeCreate(tx *gorm.DB) error {
	if pet.PetID == "" {
		pet.PetID = uuid.NewString()
	}
	return nil
}

// Streak mirrors the signin_streaks table, one row per user.
type Streak struct {
	UserID          string    `gorm:"primaryKey"`
	LastSignInDate  string    `gorm:"not null"`
	ConsecutiveDays int       `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

func (Streak) TableName() string { return "signin_streaks" }

// CatalogType mirrors the coupon_types table.
type CatalogType struct {
	TypeID           string    `gorm:"primaryKey"`
	Kind             string    `gorm:"not null"`
	Name             string    `gorm:"not null"`
	PointsCost       int64     `gorm:"not null"`
	DiscountPercent  int       `gorm:"not null"`
	ValuePoints      int64     `gorm:"not null"`
	ValidFromUnixUTC int64     `gorm:"not null"`
	ValidToUnixUTC   int64     `gorm:"not null"`
	CreatedAt        time.Time `gorm:"not null"`
}

func (CatalogType) TableName() string { return "coupon_types" }

// CouponInstance mirrors the coupon_instances table. Codes are globally
// unique across both kinds.
type CouponInstance struct {
	InstanceID  string     `gorm:"type:uuid;primaryKey"`
	TypeID      string     `gorm:"not null"`
	Kind        string     `gorm:"not null"`
	OwnerUserID string     `gorm:"not null;index:idx_coupon_instances_owner"`
	Code        string     `gorm:"not null;index:uniq_coupon_code,unique"`
	IsUsed      bool       `gorm:"not null"`
	AcquiredAt  time.Time  `gorm:"not null"`
	UsedAt      *time.Time `gorm:""`
}

func (CouponInstance) TableName() string { return "coupon_instances" }

func (instance *CouponInstance) BeforeCreate(tx *gorm.DB) error {
	if instance.InstanceID == "" {
		instance.InstanceID = uuid.NewString()
	}
	return nil
}

// VoucherToken mirrors the voucher_tokens table.
type VoucherToken struct {
	TokenID    string     `gorm:"type:uuid;primaryKey"`
	InstanceID string     `gorm:"type:uuid;not null;index:idx_voucher_tokens_instance"`
	Value      string     `gorm:"not null;index:uniq_token_value,unique"`
	ExpiresAt  *time.Time `gorm:""`
	IsUsed     bool       `gorm:"not null"`
	UsedAt     *time.Time `gorm:""`
}

func (VoucherToken) TableName() string { return "voucher_tokens" }

func (token *VoucherToken) BeforeCreate(tx *gorm.DB) error {
	if token.TokenID == "" {
		token.TokenID = uuid.NewString()
	}
	return nil
}

// HighScore mirrors the game_high_scores table, one row per user per game.
type HighScore struct {
	UserID    string    `gorm:"primaryKey"`
	GameKind  string    `gorm:"primaryKey"`
	Score     int64     `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (HighScore) TableName() string { return "game_high_scores" }

// Migrate creates or updates every table this store owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Account{},
		&LedgerEntry{},
		&Pet{},
		&Streak{},
		&CatalogType{},
		&CouponInstance{},
		&VoucherToken{},
		&HighScore{},
	)
}
