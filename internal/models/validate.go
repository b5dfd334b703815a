package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/punchamoorthee/otaledger/internal/domain"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Decode reads a JSON body into dst and validates it. Every failure is a
// *domain.ValidationError.
func Decode(r io.Reader, dst any) error {
	dec := json.NewDecoder(r)
	if err := dec.Decode(dst); err != nil {
		return domain.Invalid("body", "malformed JSON: %v", err)
	}
	return Validate(dst)
}

func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return domain.Invalid("body", "%v", err)
	}
	fields := ProcessValidationErrors(verrs)
	first := verrs[0]
	msg := fmt.Sprintf("failed on %q", first.Tag())
	if len(fields) > 1 {
		msg += fmt.Sprintf(" (%d fields invalid)", len(fields))
	}
	return &domain.ValidationError{Field: fieldPath(first), Message: msg}
}

// ProcessValidationErrors maps each failing field to the tag it failed.
func ProcessValidationErrors(verrs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fieldPath(fe)] = fe.Tag()
	}
	return out
}

// fieldPath drops Go type names from the namespace, leaving the JSON path,
// e.g. "CreateProductRequest.lines[0].resource_id" -> "lines[0].resource_id".
func fieldPath(fe validator.FieldError) string {
	parts := strings.Split(fe.Namespace(), ".")
	kept := parts[:0]
	for _, p := range parts {
		if p != "" && !unicode.IsUpper(rune(p[0])) {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return fe.Field()
	}
	return strings.Join(kept, ".")
}
