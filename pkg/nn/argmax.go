package nn

import "gonum.org/v1/gonum/floats"

// Argmax returns the index of the largest score. Scores are compared with a
// strict greater-than walking left to right, so the lowest index wins ties.
// It returns -1 for an empty slice.
func Argmax(scores []float64) int {
	return argmax(scores)
}

func argmax(scores []float64) int {
	if len(scores) == 0 {
		return -1
	}
	// floats.MaxIdx keeps the first of equal maxima
	return floats.MaxIdx(scores)
}
