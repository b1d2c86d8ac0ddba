package httpx

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var codePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]*$`)

// NewValidator returns a validator that reports JSON field names and knows
// the "linkcode" tag (alphanumerics, dash and underscore).
func NewValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Registration only fails for an empty tag or nil func.
	_ = validate.RegisterValidation("linkcode", func(fl validator.FieldLevel) bool {
		return codePattern.MatchString(fl.Field().String())
	})

	return validate
}

// FieldError describes one failed constraint of a request body.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors flattens validator errors into FieldErrors. It returns nil
// for any other error.
func ValidationErrors(err error) []FieldError {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return nil
	}

	out := make([]FieldError, 0, len(errs))
	for _, e := range errs {
		out = append(out, FieldError{Field: e.Field(), Message: messageForTag(e)})
	}
	return out
}

func messageForTag(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "this field is required"
	case "max":
		return "must be at most " + e.Param() + " characters"
	case "linkcode":
		return "only letters, digits, dash and underscore are allowed"
	case "url", "http_url":
		return "invalid url"
	default:
		return "invalid value"
	}
}
