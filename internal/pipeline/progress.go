package pipeline

import "math"

// Progress is 100 × completed / total rounded to two decimals, clamped to
// [0, 100]. It only reaches 100 when every step is complete.
func Progress(completed, total int) float64 {
	if total <= 0 || completed <= 0 {
		return 0
	}
	if completed >= total {
		return 100
	}
	p := math.Floor(10000*float64(completed)/float64(total)) / 100
	if p >= 100 {
		return 99.99
	}
	return p
}
