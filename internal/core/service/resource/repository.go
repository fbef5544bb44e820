package resource

import (
	"context"

	"bookshelf/internal/core/domain"
)

// Repository is the storage port. Reads run as single statements; every write
// goes through InTx so the read-modify-write span shares one transaction.
//
// Implementations return ErrNotFound, *ConflictError, *ValidationError or
// *StorageError and nothing else.
type Repository interface {
	Migrate(ctx context.Context, schemas ...*domain.Schema) error
	Ping(ctx context.Context) error
	Close() error

	// Queries
	List(ctx context.Context, schema *domain.Schema, opts ListOptions) ([]domain.Record, error)
	Get(ctx context.Context, schema *domain.Schema, id int64) (domain.Record, error)
	Count(ctx context.Context, schema *domain.Schema) (int, error)

	// InTx runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise, panics included. fn may be called
	// more than once when the storage engine reports a transient lock.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is a handle bound to one open transaction. It must not be used after
// the InTx callback returns.
type Tx interface {
	Get(ctx context.Context, schema *domain.Schema, id int64) (domain.Record, error)
	Insert(ctx context.Context, schema *domain.Schema, values map[string]any) (domain.Record, error)
	Update(ctx context.Context, schema *domain.Schema, id int64, values map[string]any) error
	Delete(ctx context.Context, schema *domain.Schema, id int64) error
}
