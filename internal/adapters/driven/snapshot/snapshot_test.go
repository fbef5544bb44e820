package snapshot_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bookshelf/internal/adapters/driven/snapshot"
	"bookshelf/internal/adapters/driven/sqlrepo"
	"bookshelf/internal/core/domain"
	"bookshelf/internal/core/service/resource"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var importClock = time.Date(2026, time.March, 7, 12, 0, 0, 0, time.UTC)

func setupService(t *testing.T) resource.Service {
	t.Helper()

	repo, err := sqlrepo.Open(context.Background(), sqlrepo.Options{Path: filepath.Join(t.TempDir(), "snap.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	catalog, err := domain.NewCatalog(domain.DefaultSchemas()...)
	require.NoError(t, err)
	require.NoError(t, repo.Migrate(context.Background(), catalog.All()...))

	return resource.NewService(repo, catalog, resource.WithClock(func() time.Time { return importClock }))
}

func count(t *testing.T, svc resource.Service, name string) int {
	t.Helper()
	n, err := svc.CountRecords(context.Background(), name)
	require.NoError(t, err)
	return n
}

func TestFormatFor(t *testing.T) {
	testCases := map[string]struct {
		path       string
		wantFormat snapshot.Format
		wantOK     bool
	}{
		"json":      {path: "seed.json", wantFormat: snapshot.FormatJSON, wantOK: true},
		"yaml":      {path: "dir/seed.yaml", wantFormat: snapshot.FormatYAML, wantOK: true},
		"yml upper": {path: "SEED.YML", wantFormat: snapshot.FormatYAML, wantOK: true},
		"imported":  {path: "seed.json.imported", wantOK: false},
		"no ext":    {path: "seed", wantOK: false},
		"text":      {path: "notes.txt", wantOK: false},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			format, ok := snapshot.FormatFor(tc.path)
			assert.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				assert.Equal(t, tc.wantFormat, format)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	testCases := map[string]struct {
		input   string
		format  snapshot.Format
		want    map[string]int
		wantErr bool
	}{
		"json": {
			input:  `{"books": [{"title": "Dune"}, {"title": "Emma"}], "posts": []}`,
			format: snapshot.FormatJSON,
			want:   map[string]int{"books": 2, "posts": 0},
		},
		"yaml": {
			input:  "books:\n  - title: Dune\n    rating: 8\n",
			format: snapshot.FormatYAML,
			want:   map[string]int{"books": 1},
		},
		"empty": {
			input:  "  \n",
			format: snapshot.FormatJSON,
			want:   map[string]int{},
		},
		"malformed json": {
			input:   `{"books": [`,
			format:  snapshot.FormatJSON,
			wantErr: true,
		},
		"not a list": {
			input:   `{"books": {"title": "Dune"}}`,
			format:  snapshot.FormatJSON,
			wantErr: true,
		},
		"malformed yaml": {
			input:   "books: [",
			format:  snapshot.FormatYAML,
			wantErr: true,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			doc, err := snapshot.Decode(strings.NewReader(tc.input), tc.format)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			got := make(map[string]int)
			for name, entries := range doc {
				got[name] = len(entries)
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

const seedYAML = `
books:
  - title: Dune
    author: Frank Herbert
    rating: 8
  - title: Emma
    author: Jane Austen
    rating: 7.5
  - title: Dune
    author: Someone Else
    rating: 3
  - title: Too Good
    author: Nobody
    rating: 11
posts:
  - title: Hello
    subtitle: First post
    body: Welcome.
    author: Ada
    img_url: https://example.com/a.png
users:
  - name: ghost
  - name: ghost2
`

func TestImport(t *testing.T) {
	svc := setupService(t)
	importer := snapshot.NewImporter(svc, nil)

	doc, err := snapshot.Decode(strings.NewReader(seedYAML), snapshot.FormatYAML)
	require.NoError(t, err)

	summary, err := importer.Import(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, snapshot.Summary{Created: 3, Skipped: 1, Failed: 3}, summary)
	assert.Equal(t, "3 created, 1 skipped, 3 failed", summary.String())

	assert.Equal(t, 2, count(t, svc, "books"))
	assert.Equal(t, 1, count(t, svc, "posts"))

	// second run only finds duplicates among the books
	summary, err = importer.Import(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, snapshot.Summary{Created: 1, Skipped: 3, Failed: 3}, summary)
	assert.Equal(t, 2, count(t, svc, "posts"))
}

func TestImportReplacesGeneratedValues(t *testing.T) {
	svc := setupService(t)
	importer := snapshot.NewImporter(svc, nil)

	doc := snapshot.Document{"posts": {{
		"id": 42, "date": "January 01, 1999",
		"title": "Old", "subtitle": "Sub", "body": "Body", "author": "Ada",
		"img_url": "https://example.com/x.png",
	}}}

	summary, err := importer.Import(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Created)

	post, err := svc.GetRecord(context.Background(), "posts", 1)
	require.NoError(t, err)
	assert.Equal(t, "March 07, 2026", post.Text("date"))
	assert.Equal(t, 42, doc["posts"][0]["id"], "the document itself is left alone")
}

func TestImportBareYAMLScalarsAsText(t *testing.T) {
	svc := setupService(t)
	importer := snapshot.NewImporter(svc, nil)

	doc, err := snapshot.Decode(strings.NewReader("books:\n  - title: 1984\n    author: true\n    rating: 9\n"), snapshot.FormatYAML)
	require.NoError(t, err)

	summary, err := importer.Import(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, snapshot.Summary{Created: 1}, summary)

	book, err := svc.GetRecord(context.Background(), "books", 1)
	require.NoError(t, err)
	assert.Equal(t, "1984", book.Text("title"))
	assert.Equal(t, "true", book.Text("author"))

	// JSON carries its types, so a number is still not a title
	doc, err = snapshot.Decode(strings.NewReader(`{"books": [{"title": 1985, "author": "X", "rating": 1}]}`), snapshot.FormatJSON)
	require.NoError(t, err)
	summary, err = importer.Import(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, snapshot.Summary{Failed: 1}, summary)
}

func TestImportNullEntry(t *testing.T) {
	svc := setupService(t)

	summary, err := snapshot.NewImporter(svc, nil).Import(context.Background(), snapshot.Document{"books": {nil}})
	require.NoError(t, err)
	assert.Equal(t, snapshot.Summary{Failed: 1}, summary)
}

// brokenService accepts the catalog but cannot write.
type brokenService struct {
	resource.Service
}

func (brokenService) Schema(string) (*domain.Schema, error) {
	return domain.BooksSchema(), nil
}

func (brokenService) CreateRecord(context.Context, string, domain.Fields) (domain.Record, error) {
	return domain.Record{}, &resource.StorageError{Op: "insert", Err: errors.New("disk full")}
}

func TestImportStopsOnStorageError(t *testing.T) {
	doc := snapshot.Document{"books": {
		{"title": "A", "author": "B", "rating": 1},
		{"title": "C", "author": "D", "rating": 2},
	}}

	summary, err := snapshot.NewImporter(brokenService{}, nil).Import(context.Background(), doc)
	require.Error(t, err)
	assert.ErrorIs(t, err, resource.ErrStorage)
	assert.Equal(t, snapshot.Summary{}, summary)
}

func TestImportCancelled(t *testing.T) {
	svc := setupService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := snapshot.NewImporter(svc, nil).Import(ctx, snapshot.Document{"books": {{"title": "A"}}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExportRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := setupService(t)

	doc, err := snapshot.Decode(strings.NewReader(seedYAML), snapshot.FormatYAML)
	require.NoError(t, err)
	_, err = snapshot.NewImporter(svc, nil).Import(ctx, doc)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "authors.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("keep"), 0o644))

	counts, err := snapshot.NewExporter(svc, snapshot.NewFilePersister(dir, nil)).Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"books": 2, "posts": 1}, counts)

	assert.FileExists(t, filepath.Join(dir, "books.json"))
	assert.FileExists(t, filepath.Join(dir, "posts.json"))
	assert.NoFileExists(t, filepath.Join(dir, "authors.json"), "orphaned export removed")
	assert.FileExists(t, filepath.Join(dir, "README.txt"))

	// every exported file can be imported into an empty store
	fresh := setupService(t)
	importer := snapshot.NewImporter(fresh, nil)
	for _, name := range []string{"books.json", "posts.json"} {
		exported, err := snapshot.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		summary, err := importer.Import(ctx, exported)
		require.NoError(t, err)
		assert.Zero(t, summary.Failed)
	}

	want, err := svc.ListRecords(ctx, "books", resource.ListOptions{})
	require.NoError(t, err)
	got, err := fresh.ListRecords(ctx, "books", resource.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 1, count(t, fresh, "posts"))
}

func TestReadFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := snapshot.ReadFile(filepath.Join(dir, "seed.txt"))
	assert.ErrorContains(t, err, "unsupported snapshot file")

	_, err = snapshot.ReadFile(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

// drop writes a file under a name the watcher ignores, then moves it into
// place so the watcher never sees it half written.
func drop(t *testing.T, dir, name, content string) {
	t.Helper()
	tmp := filepath.Join(dir, name+".partial")
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0o644))
	require.NoError(t, os.Rename(tmp, filepath.Join(dir, name)))
}

func TestWatcher(t *testing.T) {
	svc := setupService(t)
	dir := filepath.Join(t.TempDir(), "drop")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	// waiting before the watcher starts is picked up straight away
	drop(t, dir, "early.json", `{"books": [{"title": "Dune", "author": "Herbert", "rating": 8}]}`)

	ctx, cancel := context.WithCancel(context.Background())
	w, err := snapshot.NewWatcher(dir, snapshot.NewImporter(svc, nil), nil)
	require.NoError(t, err)
	require.NoError(t, w.Watch(ctx))

	assert.Equal(t, 1, count(t, svc, "books"))
	assert.FileExists(t, filepath.Join(dir, "early.json"+snapshot.ImportedSuffix))

	drop(t, dir, "late.yaml", "books:\n  - title: Emma\n    author: Austen\n    rating: 7\n")
	drop(t, dir, "ignored.txt", "books: []")

	assert.Eventually(t, func() bool {
		n, err := svc.CountRecords(context.Background(), "books")
		return err == nil && n == 2
	}, 5*time.Second, 20*time.Millisecond)
	assert.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "late.yaml"+snapshot.ImportedSuffix))
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	assert.FileExists(t, filepath.Join(dir, "ignored.txt"))

	cancel()
	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
