package sqlrepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bookshelf/internal/core/domain"
	"bookshelf/internal/core/service/resource"

	"github.com/sethvargo/go-retry"
)

const retryBase = 10 * time.Millisecond

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *Repository) List(ctx context.Context, schema *domain.Schema, opts resource.ListOptions) ([]domain.Record, error) {
	return list(ctx, r.db, schema, opts)
}

func (r *Repository) Get(ctx context.Context, schema *domain.Schema, id int64) (domain.Record, error) {
	return get(ctx, r.db, schema, id)
}

func (r *Repository) Count(ctx context.Context, schema *domain.Schema) (int, error) {
	var n int
	query := "SELECT COUNT(*) FROM " + quote(schema.Name)
	if err := r.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, &resource.StorageError{Op: "count " + schema.Name, Err: err}
	}
	return n, nil
}

func (r *Repository) InTx(ctx context.Context, fn func(tx resource.Tx) error) error {
	backoff := retry.WithMaxRetries(r.maxRetries, retry.NewExponential(retryBase))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := r.runTx(ctx, fn)
		if isTransient(err) {
			r.logger.Debug("database busy, retrying transaction", slog.String("error", err.Error()))
			return retry.RetryableError(err)
		}
		return err
	})

	return classify("transaction", err)
}

func (r *Repository) runTx(ctx context.Context, fn func(tx resource.Tx) error) (err error) {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &resource.StorageError{Op: "begin", Err: err}
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				r.logger.Warn("rollback failed", slog.String("error", rbErr.Error()))
			}
		}
	}()

	if err = fn(&txHandle{tx: sqlTx}); err != nil {
		return err
	}

	if err = sqlTx.Commit(); err != nil {
		return &resource.StorageError{Op: "commit", Err: err}
	}
	return nil
}

// classify makes sure nothing but the store's own failure kinds leaves the
// repository.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, resource.ErrNotFound),
		errors.Is(err, resource.ErrConflict),
		errors.Is(err, resource.ErrValidation),
		errors.Is(err, resource.ErrStorage):
		return err
	default:
		return &resource.StorageError{Op: op, Err: err}
	}
}

type txHandle struct {
	tx *sql.Tx
}

var _ resource.Tx = (*txHandle)(nil)

func (h *txHandle) Get(ctx context.Context, schema *domain.Schema, id int64) (domain.Record, error) {
	return get(ctx, h.tx, schema, id)
}

func (h *txHandle) Insert(ctx context.Context, schema *domain.Schema, values map[string]any) (domain.Record, error) {
	cols := schema.Columns()
	quoted := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		quoted[i] = quote(col)
		args[i] = values[col]
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quote(schema.Name), strings.Join(quoted, ", "), placeholders(len(cols)))

	res, err := h.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.Record{}, translate(schema, "insert", values, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return domain.Record{}, &resource.StorageError{Op: "insert " + schema.Name, Err: err}
	}

	stored := make(map[string]any, len(cols))
	for _, col := range cols {
		stored[col] = values[col]
	}
	return domain.NewRecord(id, stored), nil
}

func (h *txHandle) Update(ctx context.Context, schema *domain.Schema, id int64, values map[string]any) error {
	var sets []string
	var args []any
	for _, col := range schema.Columns() {
		v, ok := values[col]
		if !ok {
			continue
		}
		sets = append(sets, quote(col)+" = ?")
		args = append(args, v)
	}
	if len(sets) == 0 {
		return resource.NewValidationError("fields", "no fields supplied")
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		quote(schema.Name), strings.Join(sets, ", "), quote(domain.IDField))

	res, err := h.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return translate(schema, "update", values, err)
	}
	return requireRow(schema, "update", res)
}

func (h *txHandle) Delete(ctx context.Context, schema *domain.Schema, id int64) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quote(schema.Name), quote(domain.IDField))

	res, err := h.tx.ExecContext(ctx, query, id)
	if err != nil {
		return translate(schema, "delete", nil, err)
	}
	return requireRow(schema, "delete", res)
}

func requireRow(schema *domain.Schema, op string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return &resource.StorageError{Op: op + " " + schema.Name, Err: err}
	}
	if n == 0 {
		return resource.ErrNotFound
	}
	return nil
}

func list(ctx context.Context, q querier, schema *domain.Schema, opts resource.ListOptions) ([]domain.Record, error) {
	orderBy := opts.OrderBy
	if orderBy == "" {
		orderBy = schema.OrderBy
	}
	if !schema.CanSortBy(orderBy) {
		return nil, resource.NewValidationError("sort", fmt.Sprintf("cannot sort by %q", orderBy))
	}

	direction := "ASC"
	if opts.Descending {
		direction = "DESC"
	}

	order := fmt.Sprintf("%s %s", quote(orderBy), direction)
	if orderBy != domain.IDField {
		order += fmt.Sprintf(", %s %s", quote(domain.IDField), direction)
	}

	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", selectColumns(schema), quote(schema.Name), order)

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, &resource.StorageError{Op: "list " + schema.Name, Err: err}
	}
	defer rows.Close()

	records := []domain.Record{}
	for rows.Next() {
		record, err := scanRecord(rows, schema)
		if err != nil {
			return nil, &resource.StorageError{Op: "list " + schema.Name, Err: err}
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, &resource.StorageError{Op: "list " + schema.Name, Err: err}
	}

	return records, nil
}

func get(ctx context.Context, q querier, schema *domain.Schema, id int64) (domain.Record, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?",
		selectColumns(schema), quote(schema.Name), quote(domain.IDField))

	record, err := scanRecord(q.QueryRowContext(ctx, query, id), schema)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Record{}, resource.ErrNotFound
		}
		return domain.Record{}, &resource.StorageError{Op: "get " + schema.Name, Err: err}
	}
	return record, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner, schema *domain.Schema) (domain.Record, error) {
	var id int64
	dest := make([]any, 0, len(schema.Fields)+1)
	dest = append(dest, &id)

	holders := make(map[string]any, len(schema.Fields))
	for _, f := range schema.Fields {
		var h any
		if f.Kind == domain.KindNumber {
			h = new(float64)
		} else {
			h = new(string)
		}
		holders[f.Name] = h
		dest = append(dest, h)
	}

	if err := s.Scan(dest...); err != nil {
		return domain.Record{}, err
	}

	values := make(map[string]any, len(holders))
	for name, h := range holders {
		switch v := h.(type) {
		case *float64:
			values[name] = *v
		case *string:
			values[name] = *v
		}
	}
	return domain.NewRecord(id, values), nil
}

func selectColumns(schema *domain.Schema) string {
	cols := make([]string, 0, len(schema.Fields)+1)
	cols = append(cols, quote(domain.IDField))
	for _, col := range schema.Columns() {
		cols = append(cols, quote(col))
	}
	return strings.Join(cols, ", ")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
