package mastery

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/abhisek/dojo/internal/belt"
	"github.com/abhisek/dojo/internal/store"
)

// MaxObservations bounds the per-concept observation tally.
const MaxObservations = 20

// Exposure is one practice signal for a concept as reported by the sensei.
type Exposure struct {
	Success bool
	Context string
	// BeltLevel retags the concept when non-empty.
	BeltLevel belt.Belt
	// Mastery is the freshly assessed value. When nil the success ratio of
	// the record is used instead.
	Mastery *float64
}

// NormalizeKey canonicalizes a concept name: trimmed, lowercased, with every
// whitespace run replaced by a single underscore.
func NormalizeKey(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "_")
}

// GetOrCreate returns the concept for name, creating a zero-valued record
// tagged with level (white when empty) if the enrollment has none.
func GetOrCreate(e *store.Enrollment, name string, level belt.Belt) (string, *store.Concept) {
	key := NormalizeKey(name)
	if e.Concepts == nil {
		e.Concepts = map[string]*store.Concept{}
	}
	if c, ok := e.Concepts[key]; ok {
		return key, c
	}
	if level == "" {
		level = belt.White
	}
	c := &store.Concept{BeltLevel: level}
	e.Concepts[key] = c
	return key, c
}

// RecordExposure applies one practice signal to c. The stored mastery is
// replaced by the assessed value, so it can go down as well as up.
func RecordExposure(c *store.Concept, x Exposure, now time.Time) {
	c.ExposureCount++
	if x.Success {
		c.SuccessCount++
		c.Streak++
	} else {
		c.Streak = 0
	}
	seen := now.UTC()
	c.LastSeen = &seen

	if x.Mastery != nil {
		c.Mastery = clamp(*x.Mastery, 0, 1)
	} else {
		c.Mastery = float64(c.SuccessCount) / float64(c.ExposureCount)
	}

	if x.Context != "" && !c.HasContext(x.Context) {
		c.Contexts = append(c.Contexts, x.Context)
		sort.Strings(c.Contexts)
	}
	if x.BeltLevel != "" {
		c.BeltLevel = x.BeltLevel
	}
}

// TallyObservation records an observation severity against c, keeping only
// the most recent MaxObservations entries.
func TallyObservation(c *store.Concept, severity string) {
	c.Observations = append(c.Observations, severity)
	if n := len(c.Observations); n > MaxObservations {
		c.Observations = append([]string(nil), c.Observations[n-MaxObservations:]...)
	}
}

// FormatPercent renders a mastery fraction as a whole percentage, e.g. "72%".
func FormatPercent(v float64) string {
	return strconv.Itoa(int(math.Round(clamp(v, 0, 1)*100))) + "%"
}
