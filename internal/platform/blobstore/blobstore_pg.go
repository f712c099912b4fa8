package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

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

// PGBlobStore stores blob content and metadata in Postgres.
type PGBlobStore struct{ pool *pgxpool.Pool }

// NewPGBlobStore returns a Postgres-backed BlobStore.
func NewPGBlobStore(pool *pgxpool.Pool) *PGBlobStore {
	return &PGBlobStore{pool: pool}
}

func (s *PGBlobStore) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return s.pool
}

const blobCols = `id, file_name, content_type, size, request_id, owner_id, category, hash, created_at, created_by`

func scanBlobMeta(row pgx.Row) (*BlobMetadata, error) {
	var m BlobMetadata
	err := row.Scan(&m.ID, &m.FileName, &m.ContentType, &m.Size, &m.RequestID,
		&m.OwnerID, &m.Category, &m.Hash, &m.CreatedAt, &m.CreatedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBlobNotFound
		}
		return nil, err
	}
	return &m, nil
}

// Upload validates the metadata, reads the full content, and inserts both in
// a single statement.
func (s *PGBlobStore) Upload(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	if meta.FileName == "" {
		return nil, ErrMissingFileName
	}
	if meta.Category != "" && !AllowedCategories[meta.Category] {
		return nil, ErrInvalidCategory
	}
	if meta.ContentType != "" && !AllowedContentTypes[meta.ContentType] {
		return nil, ErrInvalidContentType
	}

	data, err := io.ReadAll(io.LimitReader(content, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > MaxFileSize {
		return nil, ErrFileTooLarge
	}

	h := sha256.Sum256(data)
	meta.ID = uuid.New().String()
	meta.Size = int64(len(data))
	meta.Hash = fmt.Sprintf("%x", h)
	meta.CreatedAt = time.Now().UTC()

	_, err = s.conn(ctx).Exec(ctx, `
		INSERT INTO blob (id, file_name, content_type, size, request_id, owner_id, category, hash, created_at, created_by, content)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		meta.ID, meta.FileName, meta.ContentType, meta.Size, meta.RequestID,
		meta.OwnerID, meta.Category, meta.Hash, meta.CreatedAt, meta.CreatedBy, data)
	if err != nil {
		return nil, err
	}

	out := meta
	return &out, nil
}

// Download fetches metadata and content in one round trip.
func (s *PGBlobStore) Download(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	var m BlobMetadata
	var data []byte
	err := s.conn(ctx).QueryRow(ctx, `SELECT `+blobCols+`, content FROM blob WHERE id = $1`, id).
		Scan(&m.ID, &m.FileName, &m.ContentType, &m.Size, &m.RequestID,
			&m.OwnerID, &m.Category, &m.Hash, &m.CreatedAt, &m.CreatedBy, &data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), &m, nil
}

// Delete removes a blob by ID.
func (s *PGBlobStore) Delete(ctx context.Context, id string) error {
	tag, err := s.conn(ctx).Exec(ctx, `DELETE FROM blob WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBlobNotFound
	}
	return nil
}

// GetMetadata returns blob metadata without content.
func (s *PGBlobStore) GetMetadata(ctx context.Context, id string) (*BlobMetadata, error) {
	return scanBlobMeta(s.conn(ctx).QueryRow(ctx, `SELECT `+blobCols+` FROM blob WHERE id = $1`, id))
}

// ListByRequest returns blobs attached to a documentation request.
func (s *PGBlobStore) ListByRequest(ctx context.Context, requestID, category string, limit, offset int) ([]*BlobMetadata, int, error) {
	if limit <= 0 {
		limit = 20
	}

	where := `WHERE request_id = $1`
	args := []interface{}{requestID}
	if category != "" {
		where += ` AND category = $2`
		args = append(args, category)
	}

	var total int
	if err := s.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM blob `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := s.conn(ctx).Query(ctx,
		fmt.Sprintf(`SELECT %s FROM blob %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
			blobCols, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*BlobMetadata
	for rows.Next() {
		m, err := scanBlobMeta(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}

// Search returns blobs matching the given search parameters.
func (s *PGBlobStore) Search(ctx context.Context, params SearchParams) ([]*BlobMetadata, int, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}

	var clauses []string
	var args []interface{}
	add := func(clause string, val interface{}) {
		args = append(args, val)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if params.RequestID != "" {
		add(`request_id = $%d`, params.RequestID)
	}
	if params.OwnerID != "" {
		add(`owner_id = $%d`, params.OwnerID)
	}
	if params.Category != "" {
		add(`category = $%d`, params.Category)
	}
	if params.ContentType != "" {
		add(`content_type = $%d`, params.ContentType)
	}
	if params.CreatedAfter != nil {
		add(`created_at >= $%d`, *params.CreatedAfter)
	}
	if params.CreatedBefore != nil {
		add(`created_at <= $%d`, *params.CreatedBefore)
	}
	if params.FileName != "" {
		add(`file_name ILIKE $%d`, "%"+params.FileName+"%")
	}

	where := ""
	if len(clauses) > 0 {
		where = `WHERE ` + strings.Join(clauses, ` AND `)
	}

	var total int
	if err := s.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM blob `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, params.Offset)
	rows, err := s.conn(ctx).Query(ctx,
		fmt.Sprintf(`SELECT %s FROM blob %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
			blobCols, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*BlobMetadata
	for rows.Next() {
		m, err := scanBlobMeta(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}
