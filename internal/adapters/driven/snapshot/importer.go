package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"bookshelf/internal/core/domain"
	"bookshelf/internal/core/service/resource"
)

// Summary counts what an import did with each entry.
type Summary struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

func (s *Summary) Add(other Summary) {
	s.Created += other.Created
	s.Skipped += other.Skipped
	s.Failed += other.Failed
}

func (s Summary) String() string {
	return fmt.Sprintf("%d created, %d skipped, %d failed", s.Created, s.Skipped, s.Failed)
}

// Importer feeds document entries through the resource service so every
// entry passes the same validation as an HTTP create.
type Importer struct {
	svc    resource.Service
	logger *slog.Logger
}

func NewImporter(svc resource.Service, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{svc: svc, logger: logger}
}

// Import creates every entry in doc. An entry that collides with an existing
// unique value is skipped, so importing the same seed twice is harmless. An
// entry that fails validation is logged and counted. Storage errors stop the
// import.
func (im *Importer) Import(ctx context.Context, doc Document) (Summary, error) {
	var total Summary

	for _, name := range doc.Resources() {
		entries := doc[name]

		schema, err := im.svc.Schema(name)
		if err != nil {
			im.logger.Warn("snapshot names an unknown resource",
				slog.String("resource", name),
				slog.Int("entries", len(entries)))
			total.Failed += len(entries)
			continue
		}

		summary, err := im.importResource(ctx, schema, entries)
		total.Add(summary)
		if err != nil {
			return total, err
		}

		im.logger.Info("imported resource",
			slog.String("resource", name),
			slog.Int("created", summary.Created),
			slog.Int("skipped", summary.Skipped),
			slog.Int("failed", summary.Failed))
	}

	return total, nil
}

func (im *Importer) importResource(ctx context.Context, schema *domain.Schema, entries []map[string]any) (Summary, error) {
	var summary Summary

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		fields, err := domain.NewFieldsFromMap(entry)
		if err != nil {
			im.logger.Warn("skipping malformed entry",
				slog.String("resource", schema.Name),
				slog.Int("index", i),
				slog.String("error", err.Error()))
			summary.Failed++
			continue
		}
		stripGenerated(schema, fields)
		scalarsAsText(schema, fields)

		_, err = im.svc.CreateRecord(ctx, schema.Name, fields)

		var conflict *resource.ConflictError
		switch {
		case err == nil:
			summary.Created++

		case errors.As(err, &conflict):
			im.logger.Debug("entry already present",
				slog.String("resource", schema.Name),
				slog.String("field", conflict.Field),
				slog.Any("value", conflict.Value))
			summary.Skipped++

		case errors.Is(err, resource.ErrValidation):
			im.logger.Warn("entry failed validation",
				slog.String("resource", schema.Name),
				slog.Int("index", i),
				slog.String("error", err.Error()))
			summary.Failed++

		default:
			return summary, fmt.Errorf("import %s entry %d: %w", schema.Name, i, err)
		}
	}

	return summary, nil
}

// stripGenerated drops values the store assigns itself. Exported snapshots
// carry them, and a fresh id or date is given on the way back in.
func stripGenerated(schema *domain.Schema, fields domain.Fields) {
	delete(fields, domain.IDField)
	for _, f := range schema.Fields {
		if f.AutoCreated {
			delete(fields, f.Name)
		}
	}
}

// scalarsAsText turns bare YAML scalars such as `title: 1984` into the text
// they were written as. JSON numbers are left alone and still fail a text field.
func scalarsAsText(schema *domain.Schema, fields domain.Fields) {
	for _, f := range schema.Fields {
		if f.Kind != domain.KindText {
			continue
		}
		switch v := fields[f.Name].(type) {
		case int, int64, uint64, float64, bool:
			fields[f.Name] = fmt.Sprint(v)
		}
	}
}
