package reward

const (
	signInBasePoints int64 = 10
	signInBaseExp          = 5
	pointsPerTier    int64 = 5
	expPerTier             = 2
	maxBonusTier           = 3

	weeklyBonusPoints  int64 = 25
	monthlyBonusPoints int64 = 100

	weeklyCycleDays  = 7
	monthlyCycleDays = 30
)

// CalculateSignIn computes the grant for a sign-in on the given consecutive
// day. The monthly bonus supersedes the weekly one when a day qualifies for
// both (multiples of 210, the first day divisible by 7 and 30).
func CalculateSignIn(consecutiveDays int) SignInReward {
	bonusTier := consecutiveDays / weeklyCycleDays
	if bonusTier > maxBonusTier {
		bonusTier = maxBonusTier
	}
	signInReward := SignInReward{
		Points:    signInBasePoints + int64(bonusTier)*pointsPerTier,
		Exp:       signInBaseExp + bonusTier*expPerTier,
		BonusTier: bonusTier,
	}
	if consecutiveDays > 0 && consecutiveDays%monthlyCycleDays == 0 {
		signInReward.Bonus = BonusMonthly
		signInReward.BonusPoints = monthlyBonusPoints
	} else if consecutiveDays > 0 && consecutiveDays%weeklyCycleDays == 0 {
		signInReward.Bonus = BonusWeekly
		signInReward.BonusPoints = weeklyBonusPoints
	}
	return signInReward
}
