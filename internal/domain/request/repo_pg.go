package request

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

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

// NewRepoPG returns the Postgres-backed record store.
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

const requestCols = `id, patient_id, requester_id, author_id, category, status, payload,
	request_date, completion_date, author_content, reviewer_notes, document_ref,
	is_signed, version_id, created_at, updated_at`

func scanRequest(row pgx.Row) (*Request, error) {
	var req Request
	var payload []byte
	err := row.Scan(&req.ID, &req.PatientID, &req.RequesterID, &req.AuthorID, &req.Category,
		&req.Status, &payload, &req.RequestDate, &req.CompletionDate, &req.AuthorContent,
		&req.ReviewerNotes, &req.DocumentRef, &req.IsSigned, &req.VersionID,
		&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req.Payload); err != nil {
			return nil, fmt.Errorf("decoding payload: %w", err)
		}
	}
	return &req, nil
}

func (r *repoPG) Create(ctx context.Context, req *Request) error {
	req.ID = uuid.New()
	req.VersionID = 1

	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO request (id, patient_id, requester_id, author_id, category, status, payload,
			request_date, completion_date, author_content, reviewer_notes, document_ref, is_signed, version_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		req.ID, req.PatientID, req.RequesterID, req.AuthorID, req.Category, req.Status, payload,
		req.RequestDate, req.CompletionDate, req.AuthorContent, req.ReviewerNotes,
		req.DocumentRef, req.IsSigned, req.VersionID)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Request, error) {
	return scanRequest(r.conn(ctx).QueryRow(ctx,
		`SELECT `+requestCols+` FROM request WHERE id = $1`, id))
}

func (r *repoPG) UpdateVersioned(ctx context.Context, req *Request) error {
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE request SET author_id=$2, status=$3, payload=$4, completion_date=$5,
			author_content=$6, reviewer_notes=$7, document_ref=$8, is_signed=$9,
			version_id=version_id+1, updated_at=NOW()
		WHERE id = $1 AND version_id = $10`,
		req.ID, req.AuthorID, req.Status, payload, req.CompletionDate,
		req.AuthorContent, req.ReviewerNotes, req.DocumentRef, req.IsSigned, req.VersionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing record from a lost race.
		var exists bool
		if err := r.conn(ctx).QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM request WHERE id = $1)`, req.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	req.VersionID++
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM request WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Request, int, error) {
	if limit <= 0 {
		limit = 20
	}

	var clauses []string
	var args []interface{}
	add := func(clause string, val interface{}) {
		args = append(args, val)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if f.RequesterID != nil {
		add(`requester_id = $%d`, *f.RequesterID)
	}
	if f.AuthorID != nil {
		add(`author_id = $%d`, *f.AuthorID)
	}
	if f.PatientID != nil {
		add(`patient_id = $%d`, *f.PatientID)
	}
	if f.Status != "" {
		add(`status = $%d`, f.Status)
	}
	if f.Category != "" {
		add(`category = $%d`, f.Category)
	}

	where := ""
	if len(clauses) > 0 {
		where = `WHERE ` + strings.Join(clauses, ` AND `)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM request `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		fmt.Sprintf(`SELECT %s FROM request %s ORDER BY request_date DESC LIMIT $%d OFFSET $%d`,
			requestCols, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, req)
	}
	return items, total, rows.Err()
}
