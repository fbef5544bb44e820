package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"bookshelf/internal/core/domain"
	"bookshelf/internal/core/service/resource"
)

const (
	defaultFilePermissions = os.FileMode(0644)
	defaultDirPermissions  = os.FileMode(0755)
)

type Persister interface {
	PersistOne(resourceName string, records []domain.Record) error
	Cleanup(activeResources map[string]bool) error
}

// FilePersister writes one <resource>.json file per resource into dir.
type FilePersister struct {
	dir    string
	logger *slog.Logger
}

func NewFilePersister(dir string, logger *slog.Logger) *FilePersister {
	if logger == nil {
		logger = slog.Default()
	}
	return &FilePersister{dir: dir, logger: logger}
}

func (fp *FilePersister) PersistOne(resourceName string, records []domain.Record) error {
	if err := os.MkdirAll(fp.dir, defaultDirPermissions); err != nil {
		return fmt.Errorf("error creating export directory %s: %w", fp.dir, err)
	}

	// generate filename based on resource names
	filePath := filepath.Join(fp.dir, resourceName+".json")

	file, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, defaultFilePermissions)
	if err != nil {
		return fmt.Errorf("error opening file %s for export: %w", filePath, err)
	}
	defer file.Close()

	// wrapped so the file is a valid import document on its own
	doc := map[string][]domain.Record{resourceName: records}

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("error writing JSON to file %s: %w", filePath, err)
	}

	return file.Close()
}

// Cleanup removes .json files for resources that no longer exist.
func (fp *FilePersister) Cleanup(activeResources map[string]bool) error {
	entries, err := os.ReadDir(fp.dir)
	if err != nil {
		return fmt.Errorf("failed to read export directory for cleanup: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		resourceName := strings.TrimSuffix(entry.Name(), ".json")

		if !activeResources[resourceName] {
			filePath := filepath.Join(fp.dir, entry.Name())

			if err := os.Remove(filePath); err != nil {
				fp.logger.Warn("failed to remove orphaned export file",
					slog.String("path", filePath),
					slog.String("error", err.Error()))
			}
		}
	}
	return nil
}

// Exporter dumps every resource through a Persister.
type Exporter struct {
	svc       resource.Service
	persister Persister
}

func NewExporter(svc resource.Service, persister Persister) *Exporter {
	return &Exporter{svc: svc, persister: persister}
}

// Export persists every resource and returns the record count per resource.
func (e *Exporter) Export(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	active := make(map[string]bool)

	for _, name := range e.svc.Resources() {
		records, err := e.svc.ListRecords(ctx, name, resource.ListOptions{OrderBy: domain.IDField})
		if err != nil {
			return counts, fmt.Errorf("export %s: %w", name, err)
		}
		if err := e.persister.PersistOne(name, records); err != nil {
			return counts, fmt.Errorf("export %s: %w", name, err)
		}
		counts[name] = len(records)
		active[name] = true
	}

	if err := e.persister.Cleanup(active); err != nil {
		return counts, err
	}
	return counts, nil
}
