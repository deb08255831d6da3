// Package validation binds JSON request bodies and runs struct validation.
package validation

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/pulsefit/pulsefit/internal/api/models"
)

// New returns a configured validator.
func New() *validatorv10.Validate {
	return validatorv10.New(validatorv10.WithRequiredStructEnabled())
}

// BindJSON decodes the request body into out and runs tag validation.
// An empty body is allowed when allowEmpty is set (out keeps its zero value).
// Returns structured field errors suitable for an RFC7807 response.
func BindJSON(r *http.Request, out interface{}, v *validatorv10.Validate, allowEmpty bool) []models.FieldError {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return []models.FieldError{{Field: "body", Message: "must be valid JSON"}}
	}

	if err := v.Struct(out); err != nil {
		return toFieldErrors(err)
	}
	return nil
}

// toFieldErrors converts validator errors into API field errors.
func toFieldErrors(err error) []models.FieldError {
	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) {
		return []models.FieldError{{Field: "body", Message: err.Error()}}
	}

	out := make([]models.FieldError, 0, len(ve))
	for _, fe := range ve {
		out = append(out, models.FieldError{
			Field:   fieldName(fe),
			Message: messageFor(fe),
			Code:    fe.Tag(),
		})
	}
	return out
}

// fieldName derives the JSON-ish field path from the struct namespace.
func fieldName(fe validatorv10.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	if ns == "" {
		return fe.Field()
	}
	// lower-case the leading segment to match JSON conventions
	return strings.ToLower(ns[:1]) + ns[1:]
}

func messageFor(fe validatorv10.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	default:
		return "is invalid"
	}
}
