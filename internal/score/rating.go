package score

// Rating is a coarse band over a total score.
type Rating string

const (
	RatingExcellent Rating = "excellent"
	RatingGood      Rating = "good"
	RatingRegular   Rating = "regular"
	RatingPoor      Rating = "poor"
	RatingCritical  Rating = "critical"
)

var ratingBands = []struct {
	min    float64
	rating Rating
}{
	{0.9, RatingExcellent},
	{0.7, RatingGood},
	{0.5, RatingRegular},
	{0.3, RatingPoor},
}

// Rate maps a total in [0,1] to its band. Lower bounds are inclusive.
func Rate(total float64) Rating {
	for _, band := range ratingBands {
		if total >= band.min {
			return band.rating
		}
	}
	return RatingCritical
}
