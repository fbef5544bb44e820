package domain

import (
	"fmt"
	"regexp"
	"slices"
)

// IDField is the name of the primary key every schema carries implicitly.
const IDField = "id"

// PostDateLayout matches the date shown on blog posts.
const PostDateLayout = "January 02, 2006"

type Kind int

const (
	KindText Kind = iota
	KindNumber
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindNumber:
		return "number"
	default:
		return "unknown"
	}
}

// Field describes one required column of a schema.
type Field struct {
	Name string
	Kind Kind
	// MaxLen caps text length in runes. Zero means unbounded.
	MaxLen int
	// Rules is an extra validator tag applied after the built-in checks.
	Rules string
	// Unique fields are backed by a UNIQUE constraint.
	Unique bool
	// AutoCreated fields are stamped by the store on create and never
	// accepted as input.
	AutoCreated bool
	// Immutable fields can be set on create but not changed afterwards.
	Immutable bool
}

// Editable reports whether update may change the field.
func (f Field) Editable() bool {
	return !f.AutoCreated && !f.Immutable
}

type Schema struct {
	Name   string
	Fields []Field
	// OrderBy is the default list ordering. Ties break on id.
	OrderBy  string
	Sortable []string
}

var identifier = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Validate checks that the schema can be turned into a table safely.
func (s *Schema) Validate() error {
	if !identifier.MatchString(s.Name) {
		return fmt.Errorf("schema name %q is not a valid identifier", s.Name)
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("schema %s has no fields", s.Name)
	}

	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if !identifier.MatchString(f.Name) || f.Name == IDField {
			return fmt.Errorf("schema %s: invalid field name %q", s.Name, f.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("schema %s: duplicate field %q", s.Name, f.Name)
		}
		seen[f.Name] = true
	}

	if !s.CanSortBy(s.OrderBy) {
		return fmt.Errorf("schema %s: order field %q is not sortable", s.Name, s.OrderBy)
	}
	return nil
}

func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Columns returns the field names in declaration order, without id.
func (s *Schema) Columns() []string {
	cols := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		cols[i] = f.Name
	}
	return cols
}

func (s *Schema) UniqueFields() []string {
	var names []string
	for _, f := range s.Fields {
		if f.Unique {
			names = append(names, f.Name)
		}
	}
	return names
}

func (s *Schema) CanSortBy(name string) bool {
	return name == IDField || slices.Contains(s.Sortable, name)
}

// Catalog indexes schemas by resource name.
type Catalog struct {
	names   []string
	schemas map[string]*Schema
}

func NewCatalog(schemas ...*Schema) (*Catalog, error) {
	c := &Catalog{schemas: make(map[string]*Schema, len(schemas))}
	for _, s := range schemas {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.schemas[s.Name]; dup {
			return nil, fmt.Errorf("duplicate schema %q", s.Name)
		}
		c.schemas[s.Name] = s
		c.names = append(c.names, s.Name)
	}
	slices.Sort(c.names)
	return c, nil
}

func (c *Catalog) Lookup(name string) (*Schema, bool) {
	s, ok := c.schemas[name]
	return s, ok
}

// Names returns the resource names in sorted order.
func (c *Catalog) Names() []string {
	return slices.Clone(c.names)
}

func (c *Catalog) All() []*Schema {
	out := make([]*Schema, 0, len(c.names))
	for _, name := range c.names {
		out = append(out, c.schemas[name])
	}
	return out
}

// BooksSchema is the virtual bookshelf: titles are unique.
func BooksSchema() *Schema {
	return &Schema{
		Name: "books",
		Fields: []Field{
			{Name: "title", Kind: KindText, MaxLen: 250, Unique: true},
			{Name: "author", Kind: KindText, MaxLen: 250},
			{Name: "rating", Kind: KindNumber, Rules: "gte=0,lte=10"},
		},
		OrderBy:  "title",
		Sortable: []string{"title", "author", "rating"},
	}
}

// PostsSchema is the blog: titles may repeat and the date is fixed at creation.
func PostsSchema() *Schema {
	return &Schema{
		Name: "posts",
		Fields: []Field{
			{Name: "title", Kind: KindText, MaxLen: 250},
			{Name: "subtitle", Kind: KindText, MaxLen: 250},
			{Name: "date", Kind: KindText, MaxLen: 250, AutoCreated: true},
			{Name: "body", Kind: KindText, MaxLen: 100000},
			{Name: "author", Kind: KindText, MaxLen: 250},
			{Name: "img_url", Kind: KindText, MaxLen: 250, Rules: "url"},
		},
		OrderBy:  IDField,
		Sortable: []string{"title", "author"},
	}
}

func DefaultSchemas() []*Schema {
	return []*Schema{BooksSchema(), PostsSchema()}
}
