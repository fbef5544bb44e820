package sqlrepo

import (
	"errors"
	"regexp"

	"bookshelf/internal/core/domain"
	"bookshelf/internal/core/service/resource"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var constraintColumn = regexp.MustCompile(`constraint failed: [a-z0-9_]+\.([a-z0-9_]+)`)

// translate maps a driver error from a write into the store's failure kinds.
// values are the ones being written, used to report the conflicting value.
func translate(schema *domain.Schema, op string, values map[string]any, err error) error {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return &resource.StorageError{Op: op + " " + schema.Name, Err: err}
	}

	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		field := columnFromMessage(se.Error())
		if field == "" {
			if unique := schema.UniqueFields(); len(unique) > 0 {
				field = unique[0]
			}
		}
		return &resource.ConflictError{Resource: schema.Name, Field: field, Value: values[field]}

	case sqlite3.SQLITE_CONSTRAINT_NOTNULL:
		field := columnFromMessage(se.Error())
		if field == "" {
			field = "record"
		}
		return resource.NewValidationError(field, "is required")

	case sqlite3.SQLITE_CONSTRAINT_CHECK:
		return resource.NewValidationError("record", "violates a field constraint")

	default:
		return &resource.StorageError{Op: op + " " + schema.Name, Err: err}
	}
}

func columnFromMessage(msg string) string {
	m := constraintColumn.FindStringSubmatch(msg)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// isTransient reports whether the engine refused because another connection
// held a lock. Replaying the whole transaction is safe in that case.
func isTransient(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	primary := se.Code() & 0xff
	return primary == sqlite3.SQLITE_BUSY || primary == sqlite3.SQLITE_LOCKED
}
