package app

import (
	"time"

	"github.com/mikolaj2268/review-radar/internal/domain"
)

type ProgressFunc func(domain.Progress)

// progressFraction measures how far back from the range end the walk has
// reached, as a share of the whole range. A walk that has not seen a dated
// entry yet is at 0.
func progressFraction(r domain.DateRange, oldest *time.Time) float64 {
	if oldest == nil {
		return 0
	}
	start, end := r.Bounds()
	total := end.Sub(start)
	if total <= 0 {
		return 1
	}
	f := float64(end.Sub(*oldest)) / float64(total)
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
