package reward

import "math"

const (
	defaultGameBasePoints int64 = 25
	scoreUnit                   = 1000.0
	scoreMultiplierCap          = 2.0
	abortedMultiplier           = 0.5
	levelStepMultiplier         = 0.1
	thresholdPerLevel     int64 = 200
	highScoreBonus        int64 = 50
	expDivisor                  = 5

	rankSProbability = 0.30
	rankAProbability = 0.15
)

// gameBasePoints is the per-kind base points table.
var gameBasePoints = map[string]int64{
	"1": 50,
	"2": 75,
	"3": 30,
}

// CalculateGame computes the grant for one mini-game result. The bonus-coupon
// roll only happens for S and A ranks and consumes exactly one value from rng.
func CalculateGame(input GameInput, rng Rand) GameReward {
	base := defaultGameBasePoints
	if kindBase, ok := gameBasePoints[input.Kind]; ok {
		base = kindBase
	}
	scoreMultiplier := math.Min(float64(input.Score)/scoreUnit, scoreMultiplierCap)
	completionMultiplier := 1.0
	if !input.Completed {
		completionMultiplier = abortedMultiplier
	}
	level := input.PetLevel
	if level < 1 {
		level = 1
	}
	levelMultiplier := 1.0 + levelStepMultiplier*float64(level-1)

	points := int64(math.Round(float64(base) * scoreMultiplier * completionMultiplier * levelMultiplier))
	gameReward := GameReward{
		Rank: rankFor(input.Score, level),
	}
	if input.Score > input.PreviousHigh {
		gameReward.NewHighScore = true
		points += highScoreBonus
	}
	gameReward.Points = points
	gameReward.Exp = int(points / expDivisor)

	switch gameReward.Rank {
	case RankS:
		if rng != nil && rng.Float64() < rankSProbability {
			gameReward.Bonus = BonusGame
		}
	case RankA:
		if rng != nil && rng.Float64() < rankAProbability {
			gameReward.Bonus = BonusGame
		}
	}
	return gameReward
}

func rankFor(score int64, level int) Rank {
	threshold := float64(int64(level) * thresholdPerLevel)
	ratio := float64(score) / threshold
	switch {
	case ratio >= 2.5:
		return RankS
	case ratio >= 2.0:
		return RankA
	case ratio >= 1.5:
		return RankB
	case ratio >= 1.0:
		return RankC
	default:
		return RankD
	}
}
