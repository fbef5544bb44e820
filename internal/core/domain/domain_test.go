package domain_test

import (
	"encoding/json"
	"testing"

	"bookshelf/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordJSON(t *testing.T) {
	record := domain.NewRecord(1, map[string]any{"title": "1984", "author": "Orwell", "rating": 9.0})

	data, err := json.Marshal(record)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"title":"1984","author":"Orwell","rating":9}`, string(data))

	var decoded domain.Record
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, record, decoded)
}

func TestRecordUnmarshalRejectsStringID(t *testing.T) {
	var decoded domain.Record
	err := json.Unmarshal([]byte(`{"id":"abc","title":"x"}`), &decoded)
	assert.Error(t, err)
}

func TestRecordClone(t *testing.T) {
	original := domain.NewRecord(3, map[string]any{"title": "Dune"})
	clone := original.Clone()
	clone.Values["title"] = "Emma"

	assert.Equal(t, "Dune", original.Text("title"))
	assert.Equal(t, "Emma", clone.Text("title"))
}

func TestRecordAccessors(t *testing.T) {
	record := domain.NewRecord(1, map[string]any{"title": "Dune", "rating": 8.5})

	rating, ok := record.Number("rating")
	assert.True(t, ok)
	assert.Equal(t, 8.5, rating)

	_, ok = record.Number("title")
	assert.False(t, ok)

	assert.Equal(t, "8.5", record.Text("rating"))
	assert.Equal(t, "", record.Text("missing"))
}

func TestFieldsFromForm(t *testing.T) {
	fields := domain.NewFieldsFromForm(map[string][]string{
		"title":  {"1984", "ignored"},
		"author": {"Orwell"},
		"empty":  {},
	})

	assert.Equal(t, domain.Fields{"title": "1984", "author": "Orwell"}, fields)
	assert.Equal(t, []string{"author", "title"}, fields.Names())
	assert.True(t, fields.Has("title"))
	assert.False(t, fields.Has("empty"))
}

func TestNewFieldsFromMap(t *testing.T) {
	_, err := domain.NewFieldsFromMap(nil)
	assert.Error(t, err)

	src := map[string]any{"title": "x"}
	fields, err := domain.NewFieldsFromMap(src)
	require.NoError(t, err)
	fields["title"] = "y"
	assert.Equal(t, "x", src["title"])
}

func TestSchemaValidate(t *testing.T) {
	testCases := map[string]struct {
		schema  *domain.Schema
		wantErr bool
	}{
		"ok - books":  {schema: domain.BooksSchema()},
		"ok - posts":  {schema: domain.PostsSchema()},
		"bad name":    {schema: &domain.Schema{Name: "Books; DROP", Fields: []domain.Field{{Name: "title"}}, OrderBy: "id"}, wantErr: true},
		"no fields":   {schema: &domain.Schema{Name: "empty", OrderBy: "id"}, wantErr: true},
		"id as field": {schema: &domain.Schema{Name: "x", Fields: []domain.Field{{Name: "id"}}, OrderBy: "id"}, wantErr: true},
		"duplicate field": {
			schema:  &domain.Schema{Name: "x", Fields: []domain.Field{{Name: "a"}, {Name: "a"}}, OrderBy: "id"},
			wantErr: true,
		},
		"unsortable order": {
			schema:  &domain.Schema{Name: "x", Fields: []domain.Field{{Name: "a"}}, OrderBy: "a"},
			wantErr: true,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			err := tc.schema.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBuiltInSchemas(t *testing.T) {
	books := domain.BooksSchema()
	assert.Equal(t, []string{"title"}, books.UniqueFields())
	assert.Equal(t, []string{"title", "author", "rating"}, books.Columns())
	assert.True(t, books.CanSortBy("id"))
	assert.False(t, books.CanSortBy("nope"))

	posts := domain.PostsSchema()
	assert.Empty(t, posts.UniqueFields())
	date, ok := posts.Field("date")
	require.True(t, ok)
	assert.False(t, date.Editable())
	title, _ := posts.Field("title")
	assert.True(t, title.Editable())
}

func TestCatalog(t *testing.T) {
	catalog, err := domain.NewCatalog(domain.DefaultSchemas()...)
	require.NoError(t, err)

	assert.Equal(t, []string{"books", "posts"}, catalog.Names())
	books, ok := catalog.Lookup("books")
	require.True(t, ok)
	assert.Equal(t, "books", books.Name)

	_, ok = catalog.Lookup("users")
	assert.False(t, ok)

	_, err = domain.NewCatalog(domain.BooksSchema(), domain.BooksSchema())
	assert.Error(t, err)
}
