package belt

import (
	"errors"
	"fmt"
	"strings"
)

// Belt is a rank on the closed, linear proficiency ladder.
type Belt string

const (
	White  Belt = "white"
	Yellow Belt = "yellow"
	Orange Belt = "orange"
	Green  Belt = "green"
	Blue   Belt = "blue"
	Purple Belt = "purple"
	Brown  Belt = "brown"
	Black  Belt = "black"
)

// Order lists every belt from lowest to highest rank.
var Order = []Belt{White, Yellow, Orange, Green, Blue, Purple, Brown, Black}

// ErrMaxBeltReached is returned when there is no belt above the current one.
var ErrMaxBeltReached = errors.New("already at max belt")

// Parse converts a belt name (case-insensitive) into a Belt.
func Parse(s string) (Belt, error) {
	b := Belt(strings.ToLower(strings.TrimSpace(s)))
	if Rank(b) < 0 {
		return "", fmt.Errorf("unknown belt %q", s)
	}
	return b, nil
}

// Rank returns the zero-based position of b in Order, or -1 if unknown.
func Rank(b Belt) int {
	for i, o := range Order {
		if o == b {
			return i
		}
	}
	return -1
}

// Next returns the belt directly above b.
// Returns false for the terminal belt and for unknown belts.
func Next(b Belt) (Belt, bool) {
	r := Rank(b)
	if r < 0 || r >= len(Order)-1 {
		return "", false
	}
	return Order[r+1], true
}

// IsTerminal reports whether b is the highest belt.
func IsTerminal(b Belt) bool {
	return b == Order[len(Order)-1]
}

// AtOrBelow reports whether a ranks at or below b. An empty belt is treated
// as white.
func AtOrBelow(a, b Belt) bool {
	if a == "" {
		a = White
	}
	return Rank(a) <= Rank(b)
}

// Valid reports whether b is a known belt.
func (b Belt) Valid() bool { return Rank(b) >= 0 }

func (b Belt) String() string { return string(b) }

// Names returns the belt names in rank order, as used in tool schemas.
func Names() []string {
	out := make([]string, len(Order))
	for i, b := range Order {
		out[i] = string(b)
	}
	return out
}
