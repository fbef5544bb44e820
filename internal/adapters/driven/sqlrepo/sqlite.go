// Package sqlrepo stores records in a SQLite database file.
package sqlrepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bookshelf/internal/core/domain"
	"bookshelf/internal/core/service/resource"

	_ "modernc.org/sqlite"
)

const (
	driverName         = "sqlite"
	defaultBusyTimeout = 5 * time.Second
	defaultMaxRetries  = 5
	defaultDirPerms    = os.FileMode(0755)
)

type Options struct {
	// Path is the database file. Its directory is created when missing.
	Path         string
	MaxOpenConns int
	BusyTimeout  time.Duration
	// MaxRetries bounds how often a transaction is replayed after
	// SQLITE_BUSY or SQLITE_LOCKED.
	MaxRetries uint64
	Logger     *slog.Logger
}

type Repository struct {
	db         *sql.DB
	logger     *slog.Logger
	maxRetries uint64
}

var _ resource.Repository = (*Repository)(nil)

func Open(ctx context.Context, opts Options) (*Repository, error) {
	if opts.Path == "" {
		return nil, errors.New("sqlrepo: database path is required")
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = defaultBusyTimeout
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if dir := filepath.Dir(opts.Path); dir != "." {
		if err := os.MkdirAll(dir, defaultDirPerms); err != nil {
			return nil, fmt.Errorf("sqlrepo: create database directory: %w", err)
		}
	}

	db, err := sql.Open(driverName, dataSourceName(opts))
	if err != nil {
		return nil, fmt.Errorf("sqlrepo: open %s: %w", opts.Path, err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlrepo: connect %s: %w", opts.Path, err)
	}

	opts.Logger.Info("database opened", slog.String("path", opts.Path))

	return &Repository{
		db:         db,
		logger:     opts.Logger,
		maxRetries: opts.MaxRetries,
	}, nil
}

// dataSourceName applies the pragmas to every pooled connection. Write
// transactions begin IMMEDIATE so they take the write lock up front instead
// of failing at their first write.
func dataSourceName(opts Options) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", opts.BusyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")

	return opts.Path + "?" + q.Encode()
}

// Migrate creates a table per schema when it does not exist yet. Existing
// tables are left untouched.
func (r *Repository) Migrate(ctx context.Context, schemas ...*domain.Schema) error {
	return r.InTx(ctx, func(tx resource.Tx) error {
		h := tx.(*txHandle)
		for _, schema := range schemas {
			if err := schema.Validate(); err != nil {
				return &resource.StorageError{Op: "migrate", Err: err}
			}
			if _, err := h.tx.ExecContext(ctx, createTableSQL(schema)); err != nil {
				return &resource.StorageError{Op: "migrate " + schema.Name, Err: err}
			}
			r.logger.Debug("table ready", slog.String("table", schema.Name))
		}
		return nil
	})
}

func (r *Repository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return &resource.StorageError{Op: "ping", Err: err}
	}
	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func createTableSQL(schema *domain.Schema) string {
	var b strings.Builder

	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n\t%s INTEGER PRIMARY KEY AUTOINCREMENT",
		quote(schema.Name), quote(domain.IDField))

	for _, f := range schema.Fields {
		col := quote(f.Name)
		b.WriteString(",\n\t")

		switch f.Kind {
		case domain.KindNumber:
			fmt.Fprintf(&b, "%s REAL NOT NULL", col)
		default:
			fmt.Fprintf(&b, "%s TEXT NOT NULL CHECK (length(trim(%s)) > 0", col, col)
			if f.MaxLen > 0 {
				fmt.Fprintf(&b, " AND length(%s) <= %d", col, f.MaxLen)
			}
			b.WriteString(")")
		}

		if f.Unique {
			b.WriteString(" UNIQUE")
		}
	}

	b.WriteString("\n)")
	return b.String()
}

// quote is only ever called with identifiers that passed Schema.Validate.
func quote(ident string) string {
	return `"` + ident + `"`
}
