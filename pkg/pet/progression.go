package pet

import (
	"context"
	"fmt"
)

// Service owns pet attribute state and the leveling state machine.
type Service struct {
	store Store
}

// NewService wires a Service.
func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	return &Service{store: store}, nil
}

// ApplyDelta adds experience and attribute adjustments to a pet. Attributes
// are clamped to [0,100]. Level-ups repeat while the accumulated experience
// clears the current level's threshold, so one large gain can cross several
// levels; each level reached yields a LevelGrant whose event suffix keeps the
// corresponding wallet credit individually idempotent.
func (service *Service) ApplyDelta(ctx context.Context, petID string, ownerUserID string, expDelta int, delta AttributeDelta, bonus LevelBonus) (Progress, error) {
	var progress Progress
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		current, err := transactionStore.GetPetForUpdate(ctx, petID)
		if err != nil {
			return err
		}
		if current.UserID != ownerUserID {
			return ErrNotOwned
		}
		current.Attributes = current.Attributes.Apply(delta)
		if expDelta > 0 {
			current.Experience += expDelta
		}
		var grants []LevelGrant
		for current.Experience >= ExpRequired(current.Level) {
			current.Level++
			grants = append(grants, LevelGrant{
				Level:       current.Level,
				Points:      int64(current.Level) * int64(bonus),
				EventSuffix: fmt.Sprintf("level:%d", current.Level),
			})
		}
		if err := transactionStore.UpdatePet(ctx, current); err != nil {
			return err
		}
		progress = Progress{
			PetID:        current.PetID,
			NewLevel:     current.Level,
			LeveledUp:    len(grants) > 0,
			Experience:   current.Experience,
			Attributes:   current.Attributes,
			OverallScore: current.Attributes.OverallScore(),
			LevelGrants:  grants,
		}
		return nil
	})
	if operationError != nil {
		return Progress{}, operationError
	}
	return progress, nil
}

// Status returns the pet's current state and overall condition score.
func (service *Service) Status(ctx context.Context, petID string) (Pet, int, error) {
	current, err := service.store.GetPet(ctx, petID)
	if err != nil {
		return Pet{}, 0, err
	}
	return current, current.Attributes.OverallScore(), nil
}
