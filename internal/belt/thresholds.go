package belt

// Threshold is the bar an enrollment at a given belt must clear before it
// is eligible to test for the next one.
type Threshold struct {
	// ConceptPct is the fraction of at-level concepts that must be mastered.
	ConceptPct float64
	// Sessions is the minimum number of completed sessions.
	Sessions int
	// Concepts is the minimum number of at-level concepts tracked.
	Concepts int
}

// thresholds is parallel to Order. Each row is stricter than the one before.
var thresholds = []Threshold{
	{ConceptPct: 0.60, Sessions: 1, Concepts: 2},   // white
	{ConceptPct: 0.70, Sessions: 3, Concepts: 4},   // yellow
	{ConceptPct: 0.75, Sessions: 5, Concepts: 6},   // orange
	{ConceptPct: 0.80, Sessions: 8, Concepts: 8},   // green
	{ConceptPct: 0.82, Sessions: 12, Concepts: 10}, // blue
	{ConceptPct: 0.85, Sessions: 16, Concepts: 12}, // purple
	{ConceptPct: 0.88, Sessions: 20, Concepts: 15}, // brown
	{ConceptPct: 0.90, Sessions: 25, Concepts: 18}, // black
}

// ThresholdFor returns the advancement threshold for the given current belt.
// Unknown belts get the white threshold.
func ThresholdFor(b Belt) Threshold {
	r := Rank(b)
	if r < 0 {
		r = 0
	}
	return thresholds[r]
}
