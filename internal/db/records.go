package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/hpungsan/malaise/internal/errors"
)

// Records is a collection/id keyed JSON record store backed by the records table.
// Every record carries a scope (owner key) so callers can list one owner's
// records without scanning the whole collection.
type Records struct {
	db *sql.DB
}

// NewRecords wraps an initialized database.
func NewRecords(db *sql.DB) *Records {
	return &Records{db: db}
}

// Get returns the record's JSON, or nil if no record exists.
func (r *Records) Get(ctx context.Context, collection, id string) ([]byte, error) {
	var data string
	err := r.db.QueryRowContext(ctx,
		`SELECT data FROM records WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return []byte(data), nil
}

// Set inserts or replaces a record. A replaced record keeps its original
// position in listing order.
func (r *Records) Set(ctx context.Context, collection, id, scope string, data []byte) error {
	now := time.Now().Unix()
	query := `
		INSERT INTO records (collection, id, scope, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			scope = excluded.scope,
			data = excluded.data,
			updated_at = excluded.updated_at
	`
	if _, err := r.db.ExecContext(ctx, query, collection, id, scope, string(data), now, now); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// Remove deletes a record. Removing a missing record is not an error.
func (r *Records) Remove(ctx context.Context, collection, id string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM records WHERE collection = ? AND id = ?`,
		collection, id,
	); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// List returns the records of a collection in insertion order.
// An empty scope lists the whole collection.
func (r *Records) List(ctx context.Context, collection, scope string) ([][]byte, error) {
	query := `SELECT data FROM records WHERE collection = ?`
	args := []any{collection}
	if scope != "" {
		query += ` AND scope = ?`
		args = append(args, scope)
	}
	query += ` ORDER BY rowid ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, []byte(data))
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// Count returns the number of records in a collection.
func (r *Records) Count(ctx context.Context, collection string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE collection = ?`, collection,
	).Scan(&n); err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}
