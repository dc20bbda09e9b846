package mastery

import (
	"time"

	"github.com/abhisek/dojo/internal/store"
)

// DecayDays is the number of idle days after which mastery reads as zero.
const DecayDays = 90

// EffectiveMastery projects a stored mastery value onto now. Mastery fades
// linearly by whole days since the concept was last seen and reaches zero
// after DecayDays. Records that were never exposed read as zero.
func EffectiveMastery(c *store.Concept, now time.Time) float64 {
	if c == nil || c.ExposureCount == 0 || c.LastSeen == nil {
		return 0
	}
	return clamp(c.Mastery*DecayFactor(DaysSince(c.LastSeen, now)), 0, 1)
}

// DaysSince returns the whole days elapsed between t and now. A future t
// counts as zero days.
func DaysSince(t *time.Time, now time.Time) int {
	if t == nil {
		return 0
	}
	d := now.Sub(*t)
	if d < 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

// DecayFactor is max(0, 1 - days/DecayDays).
func DecayFactor(days int) float64 {
	return max(0, 1-float64(days)/DecayDays)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
