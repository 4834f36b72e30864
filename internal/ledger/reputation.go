package ledger

// MaxReputation is the ceiling of the reputation scale.
const MaxReputation = 10000

// Reputation converts an agent's completed-job count and its review
// average into a bounded score. avgRatingCentis is the review average
// in hundredths of a star (450 = 4.50); the review aggregate lives
// off-ledger, so callers supply it at settlement time. Pure function:
// score = min(10000, jobs*500 + avgRatingCentis), monotonically
// non-decreasing in both arguments.
func Reputation(successfulJobs uint32, avgRatingCentis uint32) uint16 {
	total := uint64(successfulJobs)*500 + uint64(avgRatingCentis)
	if total > MaxReputation {
		return MaxReputation
	}
	return uint16(total)
}

// ValidRating reports whether avgRatingCentis is zero (no reviews yet)
// or within the one-to-five star range.
func ValidRating(avgRatingCentis uint32) bool {
	return avgRatingCentis == 0 || (avgRatingCentis >= 100 && avgRatingCentis <= 500)
}
