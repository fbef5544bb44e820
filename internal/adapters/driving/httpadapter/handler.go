package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"bookshelf/internal/core/domain"
	"bookshelf/internal/core/service/resource"
	"bookshelf/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	MaxRequestSize = 1024 * 1024 // 1MB max request size
)

type Options struct {
	Authorizer     Authorizer
	Logger         *slog.Logger
	MaxRequestSize int64
	// Metrics instruments every route when set; MetricsHandler is mounted
	// on /metrics when set.
	Metrics        *metrics.Metrics
	MetricsHandler http.Handler
}

type Handler struct {
	resourceService resource.Service
	authorizer      Authorizer
	logger          *slog.Logger
	maxRequestSize  int64
	metrics         *metrics.Metrics
	metricsHandler  http.Handler
}

func NewHandler(svc resource.Service, opts Options) *Handler {
	h := &Handler{
		resourceService: svc,
		authorizer:      opts.Authorizer,
		logger:          opts.Logger,
		maxRequestSize:  opts.MaxRequestSize,
		metrics:         opts.Metrics,
		metricsHandler:  opts.MetricsHandler,
	}
	if h.authorizer == nil {
		h.authorizer = AllowAll
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.maxRequestSize <= 0 {
		h.maxRequestSize = MaxRequestSize
	}
	return h
}

type errorBody struct {
	Error     string                  `json:"error"`
	Field     string                  `json:"field,omitempty"`
	Fields    []resource.FieldProblem `json:"fields,omitempty"`
	RequestID string                  `json:"request_id,omitempty"`
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *resource.ValidationError
	var conflict *resource.ConflictError

	switch {

	// Bad Request Errors
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: resource.ErrValidation.Error(), Fields: verr.Problems})

	// Conflict Errors
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, errorBody{
			Error: fmt.Sprintf("a record with this %s already exists", conflict.Field),
			Field: conflict.Field,
		})

	// Not Found Errors
	case errors.Is(err, resource.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: resource.ErrNotFound.Error()})
	case errors.Is(err, resource.ErrUnknownResource):
		writeJSON(w, http.StatusNotFound, errorBody{Error: resource.ErrUnknownResource.Error()})

	// Default to Server Error, details stay in the log
	default:
		requestID := RequestIDFrom(r.Context())
		h.logger.Error("unhandled error from service",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error", RequestID: requestID})
	}
}

func (h *Handler) SetupRoutes() http.Handler {
	router := chi.NewRouter()

	router.Use(RequestID)
	router.Use(RequestLogger(h.logger))
	if h.metrics != nil {
		router.Use(h.metrics.Middleware)
	}
	router.Use(middleware.Recoverer)

	router.Get("/healthz", h.HandleHealth)
	if h.metricsHandler != nil {
		router.Method(http.MethodGet, "/metrics", h.metricsHandler)
	}
	router.Get("/", h.HandleListResources)

	router.Route("/{resourceName}", func(r chi.Router) {
		r.Use(RequireURLParams("resourceName"))

		r.Get("/", h.HandleGetAllRecords)
		r.Get("/{recordID}", h.HandleGetRecordByID)

		// write operations need an allowed caller and have size limits
		r.Group(func(r chi.Router) {
			r.Use(RequireAuthorization(h.authorizer))
			r.Use(RequestSizeLimit(h.maxRequestSize))

			r.Post("/", h.HandleCreateRecord)

			// HTML forms can only POST, so updates and deletes accept POST too
			r.Post("/{recordID}", h.HandleUpdateRecord)
			r.Put("/{recordID}", h.HandleUpdateRecord)
			r.Patch("/{recordID}", h.HandleUpdateRecord)

			r.Post("/{recordID}/delete", h.HandleDeleteRecord)
			r.Delete("/{recordID}", h.HandleDeleteRecord)
		})
	})

	return router
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.resourceService.Ping(r.Context()); err != nil {
		h.logger.Warn("health check failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type resourceSummary struct {
	Name   string   `json:"name"`
	Count  int      `json:"count"`
	Fields []string `json:"fields"`
}

func (h *Handler) HandleListResources(w http.ResponseWriter, r *http.Request) {
	names := h.resourceService.Resources()
	summaries := make([]resourceSummary, 0, len(names))

	for _, name := range names {
		schema, err := h.resourceService.Schema(name)
		if err != nil {
			h.handleError(w, r, err)
			return
		}
		count, err := h.resourceService.CountRecords(r.Context(), name)
		if err != nil {
			h.handleError(w, r, err)
			return
		}
		summaries = append(summaries, resourceSummary{Name: name, Count: count, Fields: schema.Columns()})
	}

	writeJSON(w, http.StatusOK, summaries)
}

func (h *Handler) HandleGetAllRecords(w http.ResponseWriter, r *http.Request) {
	resourceName := chi.URLParam(r, "resourceName")

	opts := resource.ListOptions{OrderBy: r.URL.Query().Get("sort")}
	switch strings.ToLower(r.URL.Query().Get("order")) {
	case "", "asc":
	case "desc":
		opts.Descending = true
	default:
		h.handleError(w, r, resource.NewValidationError("order", "must be 'asc' or 'desc'"))
		return
	}

	records, err := h.resourceService.ListRecords(r.Context(), resourceName, opts)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) HandleGetRecordByID(w http.ResponseWriter, r *http.Request) {
	resourceName := chi.URLParam(r, "resourceName")

	id, ok := recordID(r)
	if !ok {
		h.handleError(w, r, resource.ErrNotFound)
		return
	}

	record, err := h.resourceService.GetRecord(r.Context(), resourceName, id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) HandleCreateRecord(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	resourceName := chi.URLParam(r, "resourceName")

	fields, ok := h.readFields(w, r)
	if !ok {
		return
	}

	record, err := h.resourceService.CreateRecord(r.Context(), resourceName, fields)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	if wantsRedirect(r) {
		http.Redirect(w, r, "/"+resourceName, http.StatusSeeOther)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/%s/%d", resourceName, record.ID))
	writeJSON(w, http.StatusCreated, record)
}

func (h *Handler) HandleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	resourceName := chi.URLParam(r, "resourceName")

	id, ok := recordID(r)
	if !ok {
		h.handleError(w, r, resource.ErrNotFound)
		return
	}

	fields, ok := h.readFields(w, r)
	if !ok {
		return
	}

	record, err := h.resourceService.UpdateRecord(r.Context(), resourceName, id, fields)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	if wantsRedirect(r) {
		http.Redirect(w, r, "/"+resourceName, http.StatusSeeOther)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) HandleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	resourceName := chi.URLParam(r, "resourceName")

	id, ok := recordID(r)
	if !ok {
		h.handleError(w, r, resource.ErrNotFound)
		return
	}

	if err := h.resourceService.DeleteRecord(r.Context(), resourceName, id); err != nil {
		h.handleError(w, r, err)
		return
	}

	if wantsRedirect(r) {
		http.Redirect(w, r, "/"+resourceName, http.StatusSeeOther)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) readFields(w http.ResponseWriter, r *http.Request) (domain.Fields, bool) {
	fields, err := decodeFields(r)
	if err == nil {
		return fields, true
	}

	status := http.StatusBadRequest
	if errors.Is(err, errBodyTooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	h.logger.Debug("rejected request body",
		slog.String("request_id", RequestIDFrom(r.Context())),
		slog.String("error", err.Error()))
	writeJSON(w, status, errorBody{Error: err.Error()})
	return nil, false
}

// recordID parses the {recordID} segment. Anything that is not an integer
// cannot name a record.
func recordID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "recordID"), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// wantsRedirect reports a browser form submission, which gets sent back to
// the listing instead of a JSON body.
func wantsRedirect(r *http.Request) bool {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	isForm := mediaType == "application/x-www-form-urlencoded" || mediaType == "multipart/form-data"
	return isForm && strings.Contains(r.Header.Get("Accept"), "text/html")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}
