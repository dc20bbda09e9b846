package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/sqlgraph"
	"github.com/google/uuid"

	"github.com/abhisek/dojo/internal/belt"
)

var enrollmentColumns = []string{
	"id", "user_id", "skill_id", "current_belt", "assessment_available",
	"concepts", "reinforcement_queue", "version", "created_at", "updated_at",
}

// enrollmentRepo implements EnrollmentRepo on SQLite. The concept map and
// reinforcement queue are stored as JSON documents on the enrollment row.
type enrollmentRepo struct {
	s *Store
}

func (r *enrollmentRepo) Create(ctx context.Context, e *Enrollment) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CurrentBelt == "" {
		e.CurrentBelt = belt.White
	}
	if e.Concepts == nil {
		e.Concepts = map[string]*Concept{}
	}
	now := r.s.now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	concepts, queue, err := encodeDocument(e)
	if err != nil {
		return err
	}

	query, args := r.s.b.Insert("enrollments").
		Columns(enrollmentColumns...).
		Values(e.ID, e.UserID, e.SkillID, string(e.CurrentBelt), e.AssessmentAvailable,
			concepts, queue, e.Version, toMillis(e.CreatedAt), toMillis(e.UpdatedAt)).
		Query()
	if _, err := r.s.db.ExecContext(ctx, query, args...); err != nil {
		if sqlgraph.IsUniqueConstraintError(err) {
			return fmt.Errorf("enroll %s in %s: %w", e.UserID, e.SkillID, ErrAlreadyExists)
		}
		return fmt.Errorf("insert enrollment: %w", err)
	}
	return nil
}

func (r *enrollmentRepo) Get(ctx context.Context, id string) (*Enrollment, error) {
	return r.getOne(ctx, entsql.EQ("id", id))
}

func (r *enrollmentRepo) GetByUserSkill(ctx context.Context, userID, skillID string) (*Enrollment, error) {
	return r.getOne(ctx, entsql.And(entsql.EQ("user_id", userID), entsql.EQ("skill_id", skillID)))
}

func (r *enrollmentRepo) getOne(ctx context.Context, pred *entsql.Predicate) (*Enrollment, error) {
	query, args := r.s.b.Select(enrollmentColumns...).
		From(r.s.b.Table("enrollments")).
		Where(pred).
		Limit(1).
		Query()
	e, err := scanEnrollment(r.s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query enrollment: %w", err)
	}
	return e, nil
}

func (r *enrollmentRepo) ListByUser(ctx context.Context, userID string) ([]*Enrollment, error) {
	query, args := r.s.b.Select(enrollmentColumns...).
		From(r.s.b.Table("enrollments")).
		Where(entsql.EQ("user_id", userID)).
		OrderBy("created_at").
		Query()
	rows, err := r.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query enrollments: %w", err)
	}
	defer rows.Close()

	var out []*Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *enrollmentRepo) Save(ctx context.Context, e *Enrollment) error {
	concepts, queue, err := encodeDocument(e)
	if err != nil {
		return err
	}
	now := r.s.now().UTC()

	query, args := r.s.b.Update("enrollments").
		Set("current_belt", string(e.CurrentBelt)).
		Set("assessment_available", e.AssessmentAvailable).
		Set("concepts", concepts).
		Set("reinforcement_queue", queue).
		Set("updated_at", toMillis(now)).
		Add("version", 1).
		Where(entsql.And(entsql.EQ("id", e.ID), entsql.EQ("version", e.Version))).
		Query()
	res, err := r.s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update enrollment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		if _, err := r.Get(ctx, e.ID); err != nil {
			return err
		}
		return ErrConflict
	}

	e.Version++
	e.UpdatedAt = now
	return nil
}

func (r *enrollmentRepo) ForceBelt(ctx context.Context, id string, b belt.Belt) error {
	query, args := r.s.b.Update("enrollments").
		Set("current_belt", string(b)).
		Set("updated_at", toMillis(r.s.now())).
		Add("version", 1).
		Where(entsql.EQ("id", id)).
		Query()
	res, err := r.s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update belt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *enrollmentRepo) Delete(ctx context.Context, id string) error {
	tx, err := r.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	sessionIDs := r.s.b.Select("id").From(r.s.b.Table("sessions")).Where(entsql.EQ("enrollment_id", id))
	stmts := []*entsql.DeleteBuilder{
		r.s.b.Delete("session_observations").Where(entsql.In("session_id", sessionIDs)),
		r.s.b.Delete("session_mastery_updates").Where(entsql.In("session_id", sessionIDs)),
		r.s.b.Delete("session_messages").Where(entsql.In("session_id", sessionIDs)),
		r.s.b.Delete("sessions").Where(entsql.EQ("enrollment_id", id)),
		r.s.b.Delete("belt_history").Where(entsql.EQ("enrollment_id", id)),
	}
	for _, d := range stmts {
		query, args := d.Query()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("delete dependents: %w", err)
		}
	}

	query, args := r.s.b.Delete("enrollments").Where(entsql.EQ("id", id)).Query()
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnrollment(row rowScanner) (*Enrollment, error) {
	var (
		e                Enrollment
		currentBelt      string
		concepts, queue  string
		created, updated int64
	)
	if err := row.Scan(&e.ID, &e.UserID, &e.SkillID, &currentBelt, &e.AssessmentAvailable,
		&concepts, &queue, &e.Version, &created, &updated); err != nil {
		return nil, err
	}
	e.CurrentBelt = belt.Belt(currentBelt)
	e.CreatedAt = fromMillis(created)
	e.UpdatedAt = fromMillis(updated)

	if err := json.Unmarshal([]byte(concepts), &e.Concepts); err != nil {
		return nil, fmt.Errorf("decode concepts: %w", err)
	}
	if e.Concepts == nil {
		e.Concepts = map[string]*Concept{}
	}
	if err := json.Unmarshal([]byte(queue), &e.ReinforcementQueue); err != nil {
		return nil, fmt.Errorf("decode reinforcement queue: %w", err)
	}
	return &e, nil
}

func encodeDocument(e *Enrollment) (string, string, error) {
	concepts := e.Concepts
	if concepts == nil {
		concepts = map[string]*Concept{}
	}
	c, err := json.Marshal(concepts)
	if err != nil {
		return "", "", fmt.Errorf("encode concepts: %w", err)
	}
	queue := e.ReinforcementQueue
	if queue == nil {
		queue = []ReinforcementItem{}
	}
	q, err := json.Marshal(queue)
	if err != nil {
		return "", "", fmt.Errorf("encode reinforcement queue: %w", err)
	}
	return string(c), string(q), nil
}
