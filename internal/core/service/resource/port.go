package resource

import (
	"context"

	"bookshelf/internal/core/domain"
)

// ListOptions overrides the schema's default ordering.
type ListOptions struct {
	OrderBy    string
	Descending bool
}

type Service interface {
	// Catalog
	Resources() []string
	Schema(resourceName string) (*domain.Schema, error)

	// Queries
	ListRecords(ctx context.Context, resourceName string, opts ListOptions) ([]domain.Record, error)
	GetRecord(ctx context.Context, resourceName string, id int64) (domain.Record, error)
	CountRecords(ctx context.Context, resourceName string) (int, error)

	// Commands
	CreateRecord(ctx context.Context, resourceName string, fields domain.Fields) (domain.Record, error)
	UpdateRecord(ctx context.Context, resourceName string, id int64, fields domain.Fields) (domain.Record, error)
	DeleteRecord(ctx context.Context, resourceName string, id int64) error

	// Health
	Ping(ctx context.Context) error
}
