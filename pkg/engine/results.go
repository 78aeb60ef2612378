package engine

import (
	"github.com/MarkoPoloResearchLab/rewards/pkg/pet"
	"github.com/MarkoPoloResearchLab/rewards/pkg/reward"
	"github.com/MarkoPoloResearchLab/rewards/pkg/wallet"
)

// SignInResult reports the outcome of a daily sign-in.
type SignInResult struct {
	Success            bool   `json:"success"`
	AlreadySignedToday bool   `json:"already_signed_today"`
	PointsGained       int64  `json:"points_gained"`
	ExpGained          int    `json:"exp_gained"`
	ConsecutiveDays    int    `json:"consecutive_days"`
	BonusCouponCode    string `json:"bonus_coupon_code,omitempty"`
	LeveledUp          bool   `json:"leveled_up"`
	NewBalance         int64  `json:"new_balance"`
}

// GameOutcome reports the outcome of a submitted mini-game result.
type GameOutcome struct {
	AlreadyProcessed bool        `json:"already_processed"`
	PointsGained     int64       `json:"points_gained"`
	ExpGained        int         `json:"exp_gained"`
	Rank             reward.Rank `json:"rank,omitempty"`
	LeveledUp        bool        `json:"leveled_up"`
	NewLevel         int         `json:"new_level"`
	BonusCouponCode  string      `json:"bonus_coupon_code,omitempty"`
	NewHighScore     bool        `json:"new_high_score"`
	NewBalance       int64       `json:"new_balance"`
}

// CareOutcome reports the outcome of a pet-care interaction.
type CareOutcome struct {
	AlreadyProcessed bool           `json:"already_processed"`
	PointsCost       int64          `json:"points_cost"`
	ExpGained        int            `json:"exp_gained"`
	Attributes       pet.Attributes `json:"attributes"`
	LeveledUp        bool           `json:"leveled_up"`
	NewOverallScore  int            `json:"new_overall_score"`
	NewBalance       int64          `json:"new_balance"`
}

// ExchangeOutcome reports a coupon/voucher exchange.
type ExchangeOutcome struct {
	AlreadyProcessed      bool   `json:"already_processed"`
	InstanceID            string `json:"instance_id"`
	Code                  string `json:"code"`
	PointsCost            int64  `json:"points_cost"`
	RemainingBalance      int64  `json:"remaining_balance"`
	TokenValue            string `json:"token_value,omitempty"`
	TokenExpiresAtUnixUTC int64  `json:"token_expires_at_unix_utc,omitempty"`
}

// UseOutcome reports marking a coupon/voucher used.
type UseOutcome struct {
	Success          bool  `json:"success"`
	RemainingBalance int64 `json:"remaining_balance"`
}

// WalletOverview is the aggregated read view of one user's wallet.
type WalletOverview struct {
	UserID  string         `json:"user_id"`
	Balance int64          `json:"balance"`
	Entries []wallet.Entry `json:"entries"`
}

// PetStatus is the aggregated read view of one pet.
type PetStatus struct {
	PetID        string         `json:"pet_id"`
	UserID       string         `json:"user_id"`
	Name         string         `json:"name"`
	Level        int            `json:"level"`
	Experience   int            `json:"experience"`
	ExpToNext    int            `json:"exp_to_next"`
	Attributes   pet.Attributes `json:"attributes"`
	OverallScore int            `json:"overall_score"`
}

// GameResult is the caller-supplied record of one mini-game run. EventID is
// the idempotency unit: retries with the same id produce one effect.
type GameResult struct {
	EventID   string
	Kind      string
	Score     int64
	Completed bool
}
