package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
)

// activityRepo implements ActivityRepo on SQLite.
type activityRepo struct {
	s *Store
}

func (r *activityRepo) AppendActivity(ctx context.Context, a *Activity) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.s.now().UTC()
	}
	data, err := json.Marshal(a.Data)
	if err != nil {
		return fmt.Errorf("encode activity data: %w", err)
	}
	query, args := r.s.b.Insert("activities").
		Columns("id", "user_id", "type", "dedup_key", "data", "created_at").
		Values(a.ID, a.UserID, a.Type, a.DedupKey, string(data), toMillis(a.CreatedAt)).
		Query()
	if _, err := r.s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (r *activityRepo) ActivityExists(ctx context.Context, userID, typ, dedupKey string) (bool, error) {
	query, args := r.s.b.Select(entsql.Count("*")).
		From(r.s.b.Table("activities")).
		Where(entsql.And(
			entsql.EQ("user_id", userID),
			entsql.EQ("type", typ),
			entsql.EQ("dedup_key", dedupKey),
		)).
		Query()
	var n int
	if err := r.s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("count activities: %w", err)
	}
	return n > 0, nil
}

func (r *activityRepo) ListActivities(ctx context.Context, userID string, opts QueryOpts) ([]Activity, error) {
	preds := []*entsql.Predicate{entsql.EQ("user_id", userID)}
	if !opts.From.IsZero() {
		preds = append(preds, entsql.GTE("created_at", toMillis(opts.From)))
	}
	if !opts.To.IsZero() {
		preds = append(preds, entsql.LTE("created_at", toMillis(opts.To)))
	}
	sel := r.s.b.Select("id", "user_id", "type", "dedup_key", "data", "created_at").
		From(r.s.b.Table("activities")).
		Where(entsql.And(preds...)).
		OrderBy(entsql.Desc("created_at"))
	if opts.Limit > 0 {
		sel = sel.Limit(opts.Limit)
	}
	query, args := sel.Query()

	rows, err := r.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query activities: %w", err)
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		var (
			a    Activity
			data string
			ts   int64
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.Type, &a.DedupKey, &data, &ts); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &a.Data); err != nil {
			return nil, fmt.Errorf("decode activity data: %w", err)
		}
		a.CreatedAt = fromMillis(ts)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *activityRepo) UserStats(ctx context.Context, userID string) (*UserStats, error) {
	query, args := r.s.b.Select("current_streak", "longest_streak", "total_sessions", "last_session").
		From(r.s.b.Table("user_stats")).
		Where(entsql.EQ("user_id", userID)).
		Query()
	st := UserStats{UserID: userID}
	var last sql.NullInt64
	err := r.s.db.QueryRowContext(ctx, query, args...).
		Scan(&st.CurrentStreak, &st.LongestStreak, &st.TotalSessions, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return &st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user stats: %w", err)
	}
	st.LastSession = fromNullMillis(last)
	return &st, nil
}

func (r *activityRepo) SaveUserStats(ctx context.Context, st *UserStats) error {
	query, args := r.s.b.Insert("user_stats").
		Columns("user_id", "current_streak", "longest_streak", "total_sessions", "last_session").
		Values(st.UserID, st.CurrentStreak, st.LongestStreak, st.TotalSessions, nullMillis(st.LastSession)).
		OnConflict(entsql.ConflictColumns("user_id"), entsql.ResolveWithNewValues()).
		Query()
	if _, err := r.s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert user stats: %w", err)
	}
	return nil
}
