package metrics_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"bookshelf/internal/core/service/resource"
	"bookshelf/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveStoreOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	m.ObserveStoreOperation("books", "create", nil)
	m.ObserveStoreOperation("books", "create", &resource.ConflictError{Field: "title"})
	m.ObserveStoreOperation("../etc/passwd", "get", resource.ErrUnknownResource)
	m.ObserveStoreOperation("books", "get", &resource.StorageError{Op: "get", Err: errors.New("boom")})

	expected := `
# HELP bookshelf_store_operations_total Resource store operations by resource, operation and outcome.
# TYPE bookshelf_store_operations_total counter
bookshelf_store_operations_total{operation="create",outcome="conflict",resource="books"} 1
bookshelf_store_operations_total{operation="create",outcome="ok",resource="books"} 1
bookshelf_store_operations_total{operation="get",outcome="storage",resource="books"} 1
bookshelf_store_operations_total{operation="get",outcome="unknown_resource",resource="unknown"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "bookshelf_store_operations_total"))
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	router := chi.NewRouter()
	router.Use(m.Middleware)
	router.Get("/{resourceName}/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	router.Get("/ok", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	for _, path := range []string{"/books/1", "/books/2", "/ok"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	expected := `
# HELP bookshelf_http_requests_total HTTP requests by method, route pattern and status code.
# TYPE bookshelf_http_requests_total counter
bookshelf_http_requests_total{method="GET",route="/ok",status="200"} 1
bookshelf_http_requests_total{method="GET",route="/{resourceName}/{id}",status="404"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "bookshelf_http_requests_total"))
}

func TestNewRejectsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := metrics.New(reg)
	require.NoError(t, err)

	_, err = metrics.New(reg)
	assert.Error(t, err)
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)
	m.ObserveStoreOperation("books", "list", nil)

	rec := httptest.NewRecorder()
	metrics.Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `bookshelf_store_operations_total{operation="list",outcome="ok",resource="books"} 1`)
}
