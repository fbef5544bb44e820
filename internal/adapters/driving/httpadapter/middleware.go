package httpadapter

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gofrs/uuid/v5"
)

const RequestIDHeader = "X-Request-ID"

type ctxKey int

const requestIDKey ctxKey = iota

// RequestSizeLimit caps request bodies at maxSize bytes. A declared length
// over the cap is refused before the handler runs; anything else is cut off
// by http.MaxBytesReader while decoding.
func RequestSizeLimit(maxSize int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxSize {
				writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: errBodyTooLarge.Error()})
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxSize)
			next.ServeHTTP(w, r)
		})
	}
}

// RequireURLParams answers 400 when a named route parameter is empty.
func RequireURLParams(params ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if missing := firstMissingParam(r, params); missing != "" {
				writeJSON(w, http.StatusBadRequest, errorBody{
					Error: fmt.Sprintf("URL parameter '%s' is required", missing),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func firstMissingParam(r *http.Request, params []string) string {
	for _, param := range params {
		if chi.URLParam(r, param) == "" {
			return param
		}
	}
	return ""
}

// RequestID tags each request with a UUIDv7, reusing a well-formed id sent
// by the client.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.FromString(id); err != nil {
			newID, err := uuid.NewV7()
			if err != nil {
				newID = uuid.Must(uuid.NewV4())
			}
			id = newID.String()
		}

		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// RequestLogger writes one structured line per request.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			logger.Info("request",
				slog.String("request_id", RequestIDFrom(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)))
		})
	}
}

// RequireAuthorization rejects callers the Authorizer does not allow.
func RequireAuthorization(auth Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !auth.Allowed(r) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="bookshelf"`)
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "not allowed"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
