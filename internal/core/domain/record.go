package domain

import (
	"encoding/json"
	"fmt"
	"maps"
)

// Record is a single persisted row. Values holds one entry per schema field:
// text fields as string, number fields as float64.
type Record struct {
	ID     int64
	Values map[string]any
}

func NewRecord(id int64, values map[string]any) Record {
	if values == nil {
		values = make(map[string]any)
	}
	return Record{ID: id, Values: values}
}

func (r Record) Get(name string) (any, bool) {
	v, ok := r.Values[name]
	return v, ok
}

// Text returns the named value as a string, formatting non-string values.
func (r Record) Text(name string) string {
	v, ok := r.Values[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func (r Record) Number(name string) (float64, bool) {
	f, ok := r.Values[name].(float64)
	return f, ok
}

// Clone returns a copy whose Values map can be modified independently.
func (r Record) Clone() Record {
	return Record{ID: r.ID, Values: maps.Clone(r.Values)}
}

// MarshalJSON flattens the record: {"id": 1, "title": "...", ...}.
func (r Record) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(r.Values)+1)
	maps.Copy(flat, r.Values)
	flat["id"] = r.ID
	return json.Marshal(flat)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}

	r.Values = make(map[string]any, len(flat))
	for key, value := range flat {
		if key != "id" {
			r.Values[key] = value
			continue
		}
		id, ok := value.(float64)
		if !ok {
			return fmt.Errorf("record id must be a number, got %T", value)
		}
		r.ID = int64(id)
	}
	return nil
}
