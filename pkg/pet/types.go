package pet

import "context"

const (
	attributeMin = 0
	attributeMax = 100

	expPerLevel = 100
)

// LevelBonus is the per-level points rate credited on level-up. The rate
// depends on what triggered the experience gain.
type LevelBonus int

const (
	LevelBonusCare LevelBonus = 10
	LevelBonusGame LevelBonus = 15
)

// Attributes are the pet's condition gauges, each clamped to [0,100].
type Attributes struct {
	Hunger      int `json:"hunger"`
	Mood        int `json:"mood"`
	Stamina     int `json:"stamina"`
	Cleanliness int `json:"cleanliness"`
	Health      int `json:"health"`
}

// AttributeDelta is a signed adjustment vector applied to Attributes.
type AttributeDelta struct {
	Hunger      int
	Mood        int
	Stamina     int
	Cleanliness int
	Health      int
}

// Apply adds the delta and clamps every attribute back into range.
func (attributes Attributes) Apply(delta AttributeDelta) Attributes {
	return Attributes{
		Hunger:      clamp(attributes.Hunger + delta.Hunger),
		Mood:        clamp(attributes.Mood + delta.Mood),
		Stamina:     clamp(attributes.Stamina + delta.Stamina),
		Cleanliness: clamp(attributes.Cleanliness + delta.Cleanliness),
		Health:      clamp(attributes.Health + delta.Health),
	}
}

// OverallScore is the average condition across all gauges.
func (attributes Attributes) OverallScore() int {
	sum := attributes.Hunger + attributes.Mood + attributes.Stamina + attributes.Cleanliness + attributes.Health
	return sum / 5
}

func clamp(value int) int {
	if value < attributeMin {
		return attributeMin
	}
	if value > attributeMax {
		return attributeMax
	}
	return value
}

// Pet is the per-pet progression state. Level only moves forward.
type Pet struct {
	PetID      string
	UserID     string
	Name       string
	Level      int
	Experience int
	Attributes Attributes
}

// ExpRequired returns the experience threshold that advances past the level.
func ExpRequired(level int) int {
	return level * expPerLevel
}

// LevelGrant is a points reward earned by reaching one level.
type LevelGrant struct {
	Level       int
	Points      int64
	EventSuffix string
}

// Progress reports the outcome of an experience/attribute application.
type Progress struct {
	PetID        string
	NewLevel     int
	LeveledUp    bool
	Experience   int
	Attributes   Attributes
	OverallScore int
	LevelGrants  []LevelGrant
}

// Store is the persistence contract used by Service.
//
// GetPetForUpdate must hold the row against concurrent writers for the
// remainder of the enclosing transaction.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetPetForUpdate(ctx context.Context, petID string) (Pet, error)
	GetPet(ctx context.Context, petID string) (Pet, error)
	FindPetIDByOwner(ctx context.Context, ownerUserID string) (string, bool, error)
	UpdatePet(ctx context.Context, updated Pet) error
}
