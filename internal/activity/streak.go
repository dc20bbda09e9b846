package activity

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/abhisek/dojo/internal/store"
)

// Milestones are the streak lengths, in days, that produce a feed event.
var Milestones = []int{7, 14, 30, 60, 100}

// StreakTracker maintains per-user daily practice streaks.
type StreakTracker struct {
	repo store.ActivityRepo
}

// NewStreakTracker creates a tracker backed by repo.
func NewStreakTracker(repo store.ActivityRepo) *StreakTracker {
	return &StreakTracker{repo: repo}
}

// Record counts a completed session at time at. Streak days are UTC
// calendar days: another session the same day changes nothing, the next
// day extends the streak, and any gap restarts it at one. It returns a
// milestone event when the new streak length is a milestone.
func (t *StreakTracker) Record(ctx context.Context, userID string, at time.Time) (*Event, error) {
	st, err := t.repo.UserStats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user stats: %w", err)
	}

	prevStreak := st.CurrentStreak
	Advance(st, at)
	if err := t.repo.SaveUserStats(ctx, st); err != nil {
		return nil, fmt.Errorf("save user stats: %w", err)
	}

	if st.CurrentStreak == prevStreak || !slices.Contains(Milestones, st.CurrentStreak) {
		return nil, nil
	}
	return &Event{
		Type:     TypeStreakMilestone,
		UserID:   userID,
		Data:     map[string]any{"streak_days": st.CurrentStreak},
		DedupKey: strconv.Itoa(st.CurrentStreak),
		At:       at,
	}, nil
}

// Advance applies one session at time at to st.
func Advance(st *store.UserStats, at time.Time) {
	at = at.UTC()
	switch {
	case st.LastSession == nil:
		st.CurrentStreak = 1
	default:
		switch days := dayIndex(at) - dayIndex(st.LastSession.UTC()); {
		case days <= 0:
		case days == 1:
			st.CurrentStreak++
		default:
			st.CurrentStreak = 1
		}
	}
	st.LongestStreak = max(st.LongestStreak, st.CurrentStreak)
	st.TotalSessions++
	st.LastSession = &at
}

func dayIndex(t time.Time) int64 {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}
