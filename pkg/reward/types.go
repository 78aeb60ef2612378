// Package reward computes point and experience grants from user actions.
// Every function is pure: outcomes depend only on the inputs and, for the
// probabilistic coupon rolls, an injected randomness source.
package reward

import "github.com/MarkoPoloResearchLab/rewards/pkg/pet"

// Rand supplies the probability rolls for bonus coupons. Injected so tests
// control probabilistic outcomes deterministically.
type Rand interface {
	Float64() float64
}

// BonusCoupon tags which catalog bonus a reward carries, if any.
type BonusCoupon string

const (
	BonusNone    BonusCoupon = ""
	BonusWeekly  BonusCoupon = "weekly"
	BonusMonthly BonusCoupon = "monthly"
	BonusGame    BonusCoupon = "game"
)

// SignInReward is the grant for one daily sign-in.
type SignInReward struct {
	Points      int64
	Exp         int
	BonusTier   int
	BonusPoints int64
	Bonus       BonusCoupon
}

// TotalPoints is the full amount credited for the day.
func (signInReward SignInReward) TotalPoints() int64 {
	return signInReward.Points + signInReward.BonusPoints
}

// Rank grades a mini-game score against a level-scaled threshold.
type Rank string

const (
	RankS Rank = "S"
	RankA Rank = "A"
	RankB Rank = "B"
	RankC Rank = "C"
	RankD Rank = "D"
)

// GameInput describes one finished (or aborted) mini-game run.
type GameInput struct {
	Kind         string
	Score        int64
	Completed    bool
	PetLevel     int
	PreviousHigh int64
}

// GameReward is the grant for one mini-game result.
type GameReward struct {
	Points       int64
	Exp          int
	Rank         Rank
	Bonus        BonusCoupon
	NewHighScore bool
}

// CareAction enumerates the pet-care interactions.
type CareAction string

const (
	CareFeed  CareAction = "feed"
	CarePlay  CareAction = "play"
	CareClean CareAction = "clean"
)

// CareReward is the fixed price and effect of one care interaction.
type CareReward struct {
	PointsCost     int64
	Exp            int
	AttributeDelta pet.AttributeDelta
}
