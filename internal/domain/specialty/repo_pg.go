package specialty

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/theradocs/theradocs/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *repoPG) Create(ctx context.Context, s *Specialty) error {
	s.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `INSERT INTO specialty (id, name) VALUES ($1,$2)`, s.ID, s.Name)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Specialty, error) {
	var s Specialty
	err := r.conn(ctx).QueryRow(ctx, `SELECT id, name, created_at FROM specialty WHERE id = $1`, id).
		Scan(&s.ID, &s.Name, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *repoPG) Update(ctx context.Context, s *Specialty) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE specialty SET name=$2 WHERE id = $1`, s.ID, s.Name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM specialty WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context) ([]*Specialty, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT id, name, created_at FROM specialty ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Specialty
	for rows.Next() {
		var s Specialty
		if err := rows.Scan(&s.ID, &s.Name, &s.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &s)
	}
	return items, rows.Err()
}
