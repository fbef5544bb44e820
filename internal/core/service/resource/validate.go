package resource

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"bookshelf/internal/core/domain"

	"github.com/go-playground/validator/v10"
)

// fieldChecker turns raw input values into stored values, collecting every
// problem into one ValidationError.
type fieldChecker struct {
	validate *validator.Validate
}

func newFieldChecker() *fieldChecker {
	return &fieldChecker{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// forCreate checks a full candidate record. Every non-generated field must be
// present; unknown and generated fields are rejected. An id is ignored since
// the store assigns it.
func (c *fieldChecker) forCreate(schema *domain.Schema, fields domain.Fields) (map[string]any, error) {
	verr := &ValidationError{}
	values := make(map[string]any, len(schema.Fields))

	for _, f := range schema.Fields {
		if f.AutoCreated {
			continue
		}
		raw, ok := fields[f.Name]
		if !ok {
			verr.Add(f.Name, "is required")
			continue
		}
		v, reason := c.check(f, raw)
		if reason != "" {
			verr.Add(f.Name, reason)
			continue
		}
		values[f.Name] = v
	}

	for _, name := range fields.Names() {
		f, known := schema.Field(name)
		switch {
		case name == domain.IDField:
			continue
		case !known:
			verr.Add(name, "is not a field of "+schema.Name)
		case f.AutoCreated:
			verr.Add(name, "is set automatically")
		}
	}

	if len(verr.Problems) > 0 {
		return nil, verr
	}
	return values, nil
}

// forUpdate checks a partial change set against the record with the given id.
func (c *fieldChecker) forUpdate(schema *domain.Schema, id int64, fields domain.Fields) (map[string]any, error) {
	verr := &ValidationError{}
	values := make(map[string]any, len(fields))

	for _, name := range fields.Names() {
		raw := fields[name]

		if name == domain.IDField {
			if !sameID(raw, id) {
				verr.Add(name, "cannot be changed")
			}
			continue
		}

		f, known := schema.Field(name)
		if !known {
			verr.Add(name, "is not a field of "+schema.Name)
			continue
		}
		if !f.Editable() {
			verr.Add(name, "cannot be changed after creation")
			continue
		}

		v, reason := c.check(f, raw)
		if reason != "" {
			verr.Add(name, reason)
			continue
		}
		values[name] = v
	}

	if len(verr.Problems) > 0 {
		return nil, verr
	}
	if len(values) == 0 {
		return nil, NewValidationError("fields", "no fields supplied")
	}
	return values, nil
}

// check returns the normalised value or a human readable reason.
func (c *fieldChecker) check(f domain.Field, raw any) (any, string) {
	if raw == nil {
		return nil, "is required"
	}

	switch f.Kind {
	case domain.KindText:
		s, ok := raw.(string)
		if !ok {
			return nil, "must be a string"
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, "must not be empty"
		}
		if f.MaxLen > 0 && utf8.RuneCountInString(s) > f.MaxLen {
			return nil, fmt.Sprintf("must be at most %d characters", f.MaxLen)
		}
		if reason := c.rules(s, f.Rules); reason != "" {
			return nil, reason
		}
		return s, ""

	case domain.KindNumber:
		n, ok := toFloat(raw)
		if !ok {
			return nil, "must be a number"
		}
		if reason := c.rules(n, f.Rules); reason != "" {
			return nil, reason
		}
		return n, ""

	default:
		return nil, "has an unsupported type"
	}
}

func (c *fieldChecker) rules(value any, rules string) string {
	if rules == "" {
		return ""
	}

	err := c.validate.Var(value, rules)
	if err == nil {
		return ""
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "is invalid"
	}

	fe := verrs[0]
	switch fe.Tag() {
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "url":
		return "must be a valid URL"
	default:
		if fe.Param() != "" {
			return fmt.Sprintf("must satisfy %s=%s", fe.Tag(), fe.Param())
		}
		return "must satisfy " + fe.Tag()
	}
}

func toFloat(raw any) (float64, bool) {
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case int32:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func sameID(raw any, id int64) bool {
	f, ok := toFloat(raw)
	return ok && f == float64(id)
}
