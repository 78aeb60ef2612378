package reward

import "github.com/MarkoPoloResearchLab/rewards/pkg/pet"

// careRewards fixes the price, experience, and attribute effect per action.
// The vectors are clamped later by the pet state, not here.
var careRewards = map[CareAction]CareReward{
	CareFeed: {
		PointsCost: 5,
		Exp:        2,
		AttributeDelta: pet.AttributeDelta{
			Hunger: 25,
			Mood:   5,
			Health: 2,
		},
	},
	CarePlay: {
		PointsCost: 3,
		Exp:        5,
		AttributeDelta: pet.AttributeDelta{
			Mood:    20,
			Stamina: -10,
			Hunger:  -5,
		},
	},
	CareClean: {
		PointsCost: 8,
		Exp:        0,
		AttributeDelta: pet.AttributeDelta{
			Cleanliness: 30,
			Mood:        5,
		},
	},
}

// CalculateCare returns the fixed reward vector for a care action.
func CalculateCare(action CareAction) (CareReward, bool) {
	careReward, ok := careRewards[action]
	return careReward, ok
}
