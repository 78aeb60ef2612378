package engine

import (
	"context"
	"encoding/json"

	"github.com/MarkoPoloResearchLab/rewards/pkg/pet"
	"github.com/MarkoPoloResearchLab/rewards/pkg/wallet"
)

// WalletOverview returns the balance plus the newest ledger entries, served
// from cache when a fresh copy exists.
func (dispatcher *Dispatcher) WalletOverview(ctx context.Context, userID string) (WalletOverview, error) {
	parsedUserID, err := wallet.NewUserID(userID)
	if err != nil {
		return WalletOverview{}, err
	}
	cacheKey := walletCacheKey(parsedUserID.String())
	if payload, hit, cacheErr := dispatcher.cache.Get(ctx, cacheKey); cacheErr == nil && hit {
		var cached WalletOverview
		if json.Unmarshal(payload, &cached) == nil {
			return cached, nil
		}
	}

	walletService, err := dispatcher.walletOn(dispatcher.store)
	if err != nil {
		return WalletOverview{}, err
	}
	balance, err := walletService.Balance(ctx, parsedUserID)
	if err != nil {
		return WalletOverview{}, err
	}
	entries, err := walletService.History(ctx, parsedUserID, dispatcher.walletHistoryLimit)
	if err != nil {
		return WalletOverview{}, err
	}
	overview := WalletOverview{
		UserID:  parsedUserID.String(),
		Balance: balance.Int64(),
		Entries: entries,
	}
	dispatcher.cachePut(ctx, cacheKey, overview)
	return overview, nil
}

// PetStatus returns the pet's progression and condition, served from cache
// when a fresh copy exists.
func (dispatcher *Dispatcher) PetStatus(ctx context.Context, petID string) (PetStatus, error) {
	cacheKey := petCacheKey(petID)
	if payload, hit, cacheErr := dispatcher.cache.Get(ctx, cacheKey); cacheErr == nil && hit {
		var cached PetStatus
		if json.Unmarshal(payload, &cached) == nil {
			return cached, nil
		}
	}

	petService, err := dispatcher.petsOn(dispatcher.store)
	if err != nil {
		return PetStatus{}, err
	}
	current, overallScore, err := petService.Status(ctx, petID)
	if err != nil {
		return PetStatus{}, err
	}
	status := PetStatus{
		PetID:        current.PetID,
		UserID:       current.UserID,
		Name:         current.Name,
		Level:        current.Level,
		Experience:   current.Experience,
		ExpToNext:    pet.ExpRequired(current.Level) - current.Experience,
		Attributes:   current.Attributes,
		OverallScore: overallScore,
	}
	dispatcher.cachePut(ctx, cacheKey, status)
	return status, nil
}

func (dispatcher *Dispatcher) cachePut(ctx context.Context, key string, view any) {
	payload, err := json.Marshal(view)
	if err != nil {
		return
	}
	_ = dispatcher.cache.Set(ctx, key, payload, dispatcher.cacheTTL)
}
