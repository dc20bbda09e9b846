package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
)

// skillRepo implements SkillRepo on SQLite.
type skillRepo struct {
	s *Store
}

func (r *skillRepo) EnsureSkill(ctx context.Context, sk Skill) error {
	name := sk.Name
	if name == "" {
		name = sk.ID
	}
	query, args := r.s.b.Insert("skills").
		Columns("id", "name", "training_context").
		Values(sk.ID, name, sk.TrainingContext).
		OnConflict(entsql.ConflictColumns("id"), entsql.DoNothing()).
		Query()
	if _, err := r.s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert skill: %w", err)
	}
	return nil
}

func (r *skillRepo) GetSkill(ctx context.Context, id string) (*Skill, error) {
	query, args := r.s.b.Select("id", "name", "training_context").
		From(r.s.b.Table("skills")).
		Where(entsql.EQ("id", id)).
		Query()
	var sk Skill
	err := r.s.db.QueryRowContext(ctx, query, args...).Scan(&sk.ID, &sk.Name, &sk.TrainingContext)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query skill: %w", err)
	}
	return &sk, nil
}

func (r *skillRepo) SetTrainingContext(ctx context.Context, id, text string) error {
	query, args := r.s.b.Update("skills").
		Set("training_context", text).
		Where(entsql.EQ("id", id)).
		Query()
	res, err := r.s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update training context: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
