package domain

// VoteScale is the fixed set of castable vote values. It is part of the
// external contract and never changes per session.
var VoteScale = []int{1, 2, 3, 5, 8, 13}

// ValidVote reports whether value is on the vote scale.
func ValidVote(value int) bool {
	for _, allowed := range VoteScale {
		if value == allowed {
			return true
		}
	}
	return false
}
