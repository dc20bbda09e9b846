package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/abhisek/dojo/internal/belt"
)

var historyColumns = []string{
	"id", "enrollment_id", "from_belt", "to_belt", "achieved_at", "source_session_id", "reason",
}

// historyRepo implements HistoryRepo on SQLite.
type historyRepo struct {
	s *Store
}

func (r *historyRepo) AppendHistory(ctx context.Context, entry *BeltHistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.AchievedAt.IsZero() {
		entry.AchievedAt = r.s.now().UTC()
	}

	query, args := r.s.b.Insert("belt_history").
		Columns(historyColumns...).
		Values(entry.ID, entry.EnrollmentID, nullString(string(entry.FromBelt)), string(entry.ToBelt),
			toMillis(entry.AchievedAt), nullString(entry.SourceSessionID), entry.Reason).
		Query()
	if _, err := r.s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert belt history: %w", err)
	}
	return nil
}

func (r *historyRepo) DeleteHistory(ctx context.Context, id string) error {
	query, args := r.s.b.Delete("belt_history").Where(entsql.EQ("id", id)).Query()
	if _, err := r.s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete belt history: %w", err)
	}
	return nil
}

func (r *historyRepo) ListHistory(ctx context.Context, enrollmentID string) ([]BeltHistoryEntry, error) {
	query, args := r.s.b.Select(historyColumns...).
		From(r.s.b.Table("belt_history")).
		Where(entsql.EQ("enrollment_id", enrollmentID)).
		OrderBy("achieved_at").
		Query()
	rows, err := r.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query belt history: %w", err)
	}
	defer rows.Close()

	var out []BeltHistoryEntry
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan belt history: %w", err)
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

func (r *historyRepo) HistoryBySession(ctx context.Context, enrollmentID, sessionID string) (*BeltHistoryEntry, error) {
	query, args := r.s.b.Select(historyColumns...).
		From(r.s.b.Table("belt_history")).
		Where(entsql.And(
			entsql.EQ("enrollment_id", enrollmentID),
			entsql.EQ("source_session_id", sessionID),
		)).
		Limit(1).
		Query()
	h, err := scanHistory(r.s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query belt history: %w", err)
	}
	return h, nil
}

func scanHistory(row rowScanner) (*BeltHistoryEntry, error) {
	var (
		h        BeltHistoryEntry
		from     sql.NullString
		to       string
		achieved int64
		source   sql.NullString
	)
	if err := row.Scan(&h.ID, &h.EnrollmentID, &from, &to, &achieved, &source, &h.Reason); err != nil {
		return nil, err
	}
	h.FromBelt = belt.Belt(from.String)
	h.ToBelt = belt.Belt(to)
	h.AchievedAt = fromMillis(achieved)
	h.SourceSessionID = source.String
	return &h, nil
}
