package store

import (
	"context"
	"errors"
	"fmt"

	perr "tidemark/internal/platform/errors"
)

// Exec runs a write and returns the raw CommandTag
func Exec(ctx context.Context, q RowQuerier, sql string, args ...any) (CommandTag, error) {
	return q.Exec(ctx, sql, args...)
}

// ExecOne runs a write and asserts exactly 1 row affected
func ExecOne(ctx context.Context, q RowQuerier, sql string, args ...any) error {
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return errors.New("expected exactly one row affected")
	}
	return nil
}

// Scalar queries the first row, first column into T
func Scalar[T any](ctx context.Context, q RowQuerier, sql string, args ...any) (T, error) {
	var zero T
	r := q.QueryRow(ctx, sql, args...)
	var v T
	if err := r.Scan(&v); err != nil {
		return zero, err
	}
	return v, nil
}

// One uses a custom scanner to map a single row into T
func One[T any](ctx context.Context, q RowQuerier, scan func(Row) (T, error), sql string, args ...any) (T, error) {
	var zero T
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return zero, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return zero, err
		}
		return zero, perr.ErrNotFound
	}
	r := &rowFromRows{rows: rows}
	item, err := scan(r)
	if err != nil {
		return zero, err
	}
	if rows.Next() {
		return zero, fmt.Errorf("expected 1 row, got more")
	}
	return item, rows.Err()
}

// Many uses a custom scanner to map all rows into []T
func Many[T any](ctx context.Context, q RowQuerier, scan func(Row) (T, error), sql string, args ...any) ([]T, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	r := &rowFromRows{rows: rows}
	for rows.Next() {
		item, err := scan(r)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// rowFromRows gives a Row facade over a current Rows position
type rowFromRows struct{ rows Rows }

func (r *rowFromRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
