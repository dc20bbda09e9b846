package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
)

var sessionColumns = []string{
	"id", "enrollment_id", "user_id", "type", "status", "correctness", "quality",
	"notes", "problem", "created_at", "completed_at",
}

// sessionRepo implements SessionRepo on SQLite.
type sessionRepo struct {
	s *Store
}

func (r *sessionRepo) CreateSession(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	if sess.Status == "" {
		sess.Status = StatusActive
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = r.s.now().UTC()
	}
	problem, err := json.Marshal(sess.Problem)
	if err != nil {
		return fmt.Errorf("encode problem: %w", err)
	}

	query, args := r.s.b.Insert("sessions").
		Columns(sessionColumns...).
		Values(sess.ID, sess.EnrollmentID, sess.UserID, string(sess.Type), string(sess.Status),
			nullString(sess.Evaluation.Correctness), nullString(sess.Evaluation.Quality),
			sess.Notes, string(problem), toMillis(sess.CreatedAt), nullMillis(sess.CompletedAt)).
		Query()
	if _, err := r.s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *sessionRepo) GetSession(ctx context.Context, id string) (*Session, error) {
	query, args := r.s.b.Select(sessionColumns...).
		From(r.s.b.Table("sessions")).
		Where(entsql.EQ("id", id)).
		Query()
	sess, err := scanSession(r.s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}

	if sess.Observations, err = r.observations(ctx, id); err != nil {
		return nil, err
	}
	if sess.MasteryUpdates, err = r.masteryUpdates(ctx, id); err != nil {
		return nil, err
	}
	return sess, nil
}

func (r *sessionRepo) ListSessions(ctx context.Context, enrollmentID string, opts QueryOpts) ([]*Session, error) {
	preds := []*entsql.Predicate{entsql.EQ("enrollment_id", enrollmentID)}
	if !opts.From.IsZero() {
		preds = append(preds, entsql.GTE("created_at", toMillis(opts.From)))
	}
	if !opts.To.IsZero() {
		preds = append(preds, entsql.LTE("created_at", toMillis(opts.To)))
	}

	sel := r.s.b.Select(sessionColumns...).
		From(r.s.b.Table("sessions")).
		Where(entsql.And(preds...)).
		OrderBy(entsql.Desc("created_at"))
	if opts.Limit > 0 {
		sel = sel.Limit(opts.Limit)
	}
	query, args := sel.Query()

	rows, err := r.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (r *sessionRepo) CountCompleted(ctx context.Context, enrollmentID string) (int, error) {
	query, args := r.s.b.Select(entsql.Count("*")).
		From(r.s.b.Table("sessions")).
		Where(entsql.And(
			entsql.EQ("enrollment_id", enrollmentID),
			entsql.EQ("status", string(StatusCompleted)),
		)).
		Query()
	var n int
	if err := r.s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

func (r *sessionRepo) CompleteSession(ctx context.Context, id string, eval Evaluation, notes string, at time.Time) error {
	query, args := r.s.b.Update("sessions").
		Set("status", string(StatusCompleted)).
		Set("correctness", nullString(eval.Correctness)).
		Set("quality", nullString(eval.Quality)).
		Set("notes", notes).
		Set("completed_at", toMillis(at)).
		Where(entsql.And(entsql.EQ("id", id), entsql.EQ("status", string(StatusActive)))).
		Query()
	return r.conditional(ctx, id, query, args)
}

func (r *sessionRepo) SetStatus(ctx context.Context, id string, from, to SessionStatus) error {
	upd := r.s.b.Update("sessions").
		Set("status", string(to)).
		Where(entsql.And(entsql.EQ("id", id), entsql.EQ("status", string(from))))
	if to == StatusActive {
		upd = upd.SetNull("completed_at")
	}
	query, args := upd.Query()
	return r.conditional(ctx, id, query, args)
}

// conditional runs a status-guarded update and tells a missing session apart
// from one in the wrong state.
func (r *sessionRepo) conditional(ctx context.Context, id, query string, args []any) error {
	res, err := r.s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := r.GetSession(ctx, id); err != nil {
		return err
	}
	return ErrConflict
}

func (r *sessionRepo) SetProblem(ctx context.Context, id string, p Problem) error {
	problem, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode problem: %w", err)
	}
	query, args := r.s.b.Update("sessions").
		Set("problem", string(problem)).
		Where(entsql.EQ("id", id)).
		Query()
	res, err := r.s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update problem: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sessionRepo) AppendObservation(ctx context.Context, id string, o Observation) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = r.s.now().UTC()
	}
	query, args := r.s.b.Insert("session_observations").
		Columns("session_id", "type", "concept", "note", "severity", "created_at").
		Values(id, o.Type, o.Concept, o.Note, o.Severity, toMillis(o.CreatedAt)).
		Query()
	if _, err := r.s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert observation: %w", err)
	}
	return nil
}

func (r *sessionRepo) SetMasteryUpdate(ctx context.Context, id, concept, value string) error {
	query, args := r.s.b.Insert("session_mastery_updates").
		Columns("session_id", "concept", "value").
		Values(id, concept, value).
		OnConflict(
			entsql.ConflictColumns("session_id", "concept"),
			entsql.ResolveWithNewValues(),
		).
		Query()
	if _, err := r.s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert mastery update: %w", err)
	}
	return nil
}

func (r *sessionRepo) AppendMessage(ctx context.Context, id string, m Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = r.s.now().UTC()
	}
	query, args := r.s.b.Insert("session_messages").
		Columns("session_id", "role", "content", "created_at").
		Values(id, m.Role, m.Content, toMillis(m.CreatedAt)).
		Query()
	if _, err := r.s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *sessionRepo) Messages(ctx context.Context, id string) ([]Message, error) {
	query, args := r.s.b.Select("role", "content", "created_at").
		From(r.s.b.Table("session_messages")).
		Where(entsql.EQ("session_id", id)).
		OrderBy("id").
		Query()
	rows, err := r.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m  Message
			ts int64
		)
		if err := rows.Scan(&m.Role, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = fromMillis(ts)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *sessionRepo) observations(ctx context.Context, id string) ([]Observation, error) {
	query, args := r.s.b.Select("type", "concept", "note", "severity", "created_at").
		From(r.s.b.Table("session_observations")).
		Where(entsql.EQ("session_id", id)).
		OrderBy("id").
		Query()
	rows, err := r.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var out []Observation
	for rows.Next() {
		var (
			o  Observation
			ts int64
		)
		if err := rows.Scan(&o.Type, &o.Concept, &o.Note, &o.Severity, &ts); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		o.CreatedAt = fromMillis(ts)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *sessionRepo) masteryUpdates(ctx context.Context, id string) (map[string]string, error) {
	query, args := r.s.b.Select("concept", "value").
		From(r.s.b.Table("session_mastery_updates")).
		Where(entsql.EQ("session_id", id)).
		Query()
	rows, err := r.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query mastery updates: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var concept, value string
		if err := rows.Scan(&concept, &value); err != nil {
			return nil, fmt.Errorf("scan mastery update: %w", err)
		}
		out[concept] = value
	}
	return out, rows.Err()
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		sess                 Session
		typ, status          string
		correctness, quality sql.NullString
		problem              string
		created              int64
		completed            sql.NullInt64
	)
	if err := row.Scan(&sess.ID, &sess.EnrollmentID, &sess.UserID, &typ, &status,
		&correctness, &quality, &sess.Notes, &problem, &created, &completed); err != nil {
		return nil, err
	}
	sess.Type = SessionType(typ)
	sess.Status = SessionStatus(status)
	sess.Evaluation = Evaluation{Correctness: correctness.String, Quality: quality.String}
	sess.CreatedAt = fromMillis(created)
	sess.CompletedAt = fromNullMillis(completed)
	if err := json.Unmarshal([]byte(problem), &sess.Problem); err != nil {
		return nil, fmt.Errorf("decode problem: %w", err)
	}
	return &sess, nil
}
