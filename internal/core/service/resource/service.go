package resource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bookshelf/internal/core/domain"
)

// Observer is told the outcome of every store operation.
type Observer func(resourceName, operation string, err error)

type Option func(*resourceService)

func WithLogger(logger *slog.Logger) Option {
	return func(s *resourceService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock replaces time.Now for stamping generated fields.
func WithClock(now func() time.Time) Option {
	return func(s *resourceService) {
		if now != nil {
			s.now = now
		}
	}
}

func WithObserver(observe Observer) Option {
	return func(s *resourceService) {
		if observe != nil {
			s.observe = observe
		}
	}
}

type resourceService struct {
	repo    Repository
	catalog *domain.Catalog
	checker *fieldChecker
	logger  *slog.Logger
	now     func() time.Time
	observe Observer
}

func NewService(repo Repository, catalog *domain.Catalog, opts ...Option) Service {
	s := &resourceService{
		repo:    repo,
		catalog: catalog,
		checker: newFieldChecker(),
		logger:  slog.Default(),
		now:     time.Now,
		observe: func(string, string, error) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Service = (*resourceService)(nil)

func (s *resourceService) Resources() []string {
	return s.catalog.Names()
}

func (s *resourceService) Schema(resourceName string) (*domain.Schema, error) {
	schema, ok := s.catalog.Lookup(resourceName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownResource, resourceName)
	}
	return schema, nil
}

func (s *resourceService) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *resourceService) ListRecords(ctx context.Context, resourceName string, opts ListOptions) (records []domain.Record, err error) {
	defer func() { s.done(resourceName, "list", err) }()

	schema, err := s.Schema(resourceName)
	if err != nil {
		return nil, err
	}

	if opts.OrderBy == "" {
		opts.OrderBy = schema.OrderBy
	}
	if !schema.CanSortBy(opts.OrderBy) {
		return nil, NewValidationError("sort", fmt.Sprintf("cannot sort %s by %q", resourceName, opts.OrderBy))
	}

	records, err = s.repo.List(ctx, schema, opts)
	if err != nil {
		return nil, fmt.Errorf("ListRecords: %w", err)
	}
	if records == nil {
		records = []domain.Record{}
	}
	return records, nil
}

func (s *resourceService) GetRecord(ctx context.Context, resourceName string, id int64) (record domain.Record, err error) {
	defer func() { s.done(resourceName, "get", err) }()

	schema, err := s.Schema(resourceName)
	if err != nil {
		return domain.Record{}, err
	}

	// ids start at 1, anything else cannot exist
	if id <= 0 {
		return domain.Record{}, fmt.Errorf("GetRecord %s/%d: %w", resourceName, id, ErrNotFound)
	}

	record, err = s.repo.Get(ctx, schema, id)
	if err != nil {
		return domain.Record{}, fmt.Errorf("GetRecord %s/%d: %w", resourceName, id, err)
	}
	return record, nil
}

func (s *resourceService) CountRecords(ctx context.Context, resourceName string) (n int, err error) {
	defer func() { s.done(resourceName, "count", err) }()

	schema, err := s.Schema(resourceName)
	if err != nil {
		return 0, err
	}

	n, err = s.repo.Count(ctx, schema)
	if err != nil {
		return 0, fmt.Errorf("CountRecords: %w", err)
	}
	return n, nil
}

func (s *resourceService) CreateRecord(ctx context.Context, resourceName string, fields domain.Fields) (created domain.Record, err error) {
	defer func() { s.done(resourceName, "create", err) }()

	schema, err := s.Schema(resourceName)
	if err != nil {
		return domain.Record{}, err
	}

	values, err := s.checker.forCreate(schema, fields)
	if err != nil {
		return domain.Record{}, fmt.Errorf("CreateRecord: %w", err)
	}

	for _, f := range schema.Fields {
		if f.AutoCreated {
			values[f.Name] = s.now().Format(domain.PostDateLayout)
		}
	}

	// uniqueness is left to the storage engine's constraint so that
	// concurrent creates cannot both succeed
	err = s.repo.InTx(ctx, func(tx Tx) error {
		var txErr error
		created, txErr = tx.Insert(ctx, schema, values)
		return txErr
	})
	if err != nil {
		return domain.Record{}, fmt.Errorf("CreateRecord: %w", err)
	}

	s.logger.Debug("record created", slog.String("resource", resourceName), slog.Int64("id", created.ID))
	return created, nil
}

func (s *resourceService) UpdateRecord(ctx context.Context, resourceName string, id int64, fields domain.Fields) (updated domain.Record, err error) {
	defer func() { s.done(resourceName, "update", err) }()

	schema, err := s.Schema(resourceName)
	if err != nil {
		return domain.Record{}, err
	}

	if id <= 0 {
		return domain.Record{}, fmt.Errorf("UpdateRecord %s/%d: %w", resourceName, id, ErrNotFound)
	}

	err = s.repo.InTx(ctx, func(tx Tx) error {
		// a missing record wins over bad input
		if _, err := tx.Get(ctx, schema, id); err != nil {
			return err
		}

		values, err := s.checker.forUpdate(schema, id, fields)
		if err != nil {
			return err
		}

		if err := tx.Update(ctx, schema, id, values); err != nil {
			return err
		}

		updated, err = tx.Get(ctx, schema, id)
		return err
	})
	if err != nil {
		return domain.Record{}, fmt.Errorf("UpdateRecord %s/%d: %w", resourceName, id, err)
	}

	s.logger.Debug("record updated", slog.String("resource", resourceName), slog.Int64("id", id))
	return updated, nil
}

func (s *resourceService) DeleteRecord(ctx context.Context, resourceName string, id int64) (err error) {
	defer func() { s.done(resourceName, "delete", err) }()

	schema, err := s.Schema(resourceName)
	if err != nil {
		return err
	}

	if id <= 0 {
		return fmt.Errorf("DeleteRecord %s/%d: %w", resourceName, id, ErrNotFound)
	}

	err = s.repo.InTx(ctx, func(tx Tx) error {
		return tx.Delete(ctx, schema, id)
	})
	if err != nil {
		return fmt.Errorf("DeleteRecord %s/%d: %w", resourceName, id, err)
	}

	s.logger.Debug("record deleted", slog.String("resource", resourceName), slog.Int64("id", id))
	return nil
}

func (s *resourceService) done(resourceName, operation string, err error) {
	if errors.Is(err, ErrStorage) {
		s.logger.Error("storage failure",
			slog.String("resource", resourceName),
			slog.String("operation", operation),
			slog.String("error", err.Error()))
	}
	s.observe(resourceName, operation, err)
}

// Outcome classifies an error returned by the Service into a short label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrUnknownResource):
		return "unknown_resource"
	default:
		return "storage"
	}
}
