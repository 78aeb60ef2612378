package engine

import (
	"context"

	"github.com/MarkoPoloResearchLab/rewards/pkg/coupon"
	"github.com/MarkoPoloResearchLab/rewards/pkg/pet"
	"github.com/MarkoPoloResearchLab/rewards/pkg/streak"
	"github.com/MarkoPoloResearchLab/rewards/pkg/wallet"
)

// Store bundles the per-domain persistence ports behind one transaction
// boundary. WithTx yields a bundle whose sub-stores share the transaction, so
// a dispatched event mutates wallet, pet, streak, and coupon state as one
// atomic unit.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	Wallet() wallet.Store
	Pets() pet.Store
	Streaks() streak.Store
	Coupons() coupon.Store
	GetHighScore(ctx context.Context, userID string, gameKind string) (int64, bool, error)
	UpsertHighScore(ctx context.Context, userID string, gameKind string, score int64) error
}
