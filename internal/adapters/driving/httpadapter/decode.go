package httpadapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"bookshelf/internal/core/domain"
)

const maxMultipartMemory = 1 << 20

var errBodyTooLarge = errors.New("request body too large")

// decodeFields normalises a JSON object or an HTML form into domain.Fields.
// A missing Content-Type is treated as JSON.
func decodeFields(r *http.Request) (domain.Fields, error) {
	mediaType := "application/json"
	if ct := r.Header.Get("Content-Type"); ct != "" {
		parsed, _, err := mime.ParseMediaType(ct)
		if err != nil {
			return nil, fmt.Errorf("invalid Content-Type: %w", err)
		}
		mediaType = parsed
	}

	switch mediaType {
	case "application/json":
		return decodeJSON(r.Body)

	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return nil, bodyError(err)
		}
		return domain.NewFieldsFromForm(r.PostForm), nil

	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
			return nil, bodyError(err)
		}
		return domain.NewFieldsFromForm(r.MultipartForm.Value), nil

	default:
		return nil, fmt.Errorf("unsupported Content-Type %q", mediaType)
	}
}

func decodeJSON(body io.Reader) (domain.Fields, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, bodyError(err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, errors.New("request body is empty")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("request body must be a JSON object: %w", err)
	}
	if dec.More() {
		return nil, errors.New("request body must contain a single JSON object")
	}

	return domain.NewFieldsFromMap(data)
}

func bodyError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return errBodyTooLarge
	}
	return fmt.Errorf("cannot read request body: %w", err)
}
