// Package snapshot moves whole resource collections in and out of the store
// as JSON or YAML documents.
package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document maps a resource name to the entries for it:
//
//	{"books": [{"title": "...", "author": "...", "rating": 7}]}
type Document map[string][]map[string]any

// Resources returns the document's resource names in sorted order.
func (d Document) Resources() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

func (f Format) String() string {
	if f == FormatYAML {
		return "yaml"
	}
	return "json"
}

// FormatFor picks the format from a file extension.
func FormatFor(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, true
	case ".yaml", ".yml":
		return FormatYAML, true
	default:
		return 0, false
	}
}

// Decode reads a whole document. Empty input is an empty document.
func Decode(r io.Reader, format Format) (Document, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("error reading %s document: %w", format, err)
	}

	doc := Document{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return doc, nil
	}

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("error parsing yaml document: %w", err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("error parsing json document: %w", err)
		}
	}

	return doc, nil
}

// ReadFile decodes the file at path using its extension to pick the format.
func ReadFile(path string) (Document, error) {
	format, ok := FormatFor(path)
	if !ok {
		return nil, fmt.Errorf("unsupported snapshot file %s: want .json, .yaml or .yml", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening snapshot %s: %w", path, err)
	}
	defer f.Close()

	doc, err := Decode(f, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}
