package domain

import (
	"errors"
	"maps"
	"slices"
)

// Fields is the canonical input for create and update. HTTP handlers,
// importers and the CLI all normalise their input into it, whatever the wire
// encoding was. Values may be strings, numbers or nil.
type Fields map[string]any

func (f Fields) Has(name string) bool {
	_, ok := f[name]
	return ok
}

// Names returns the keys in sorted order.
func (f Fields) Names() []string {
	return slices.Sorted(maps.Keys(f))
}

// NewFieldsFromMap copies data into a Fields value.
func NewFieldsFromMap(data map[string]any) (Fields, error) {
	if data == nil {
		return nil, errors.New("cannot create fields from nil data")
	}

	return Fields(maps.Clone(data)), nil
}

// NewFieldsFromForm flattens url.Values style input, keeping the first value
// of every key.
func NewFieldsFromForm(form map[string][]string) Fields {
	fields := make(Fields, len(form))
	for key, values := range form {
		if len(values) == 0 {
			continue
		}
		fields[key] = values[0]
	}
	return fields
}
