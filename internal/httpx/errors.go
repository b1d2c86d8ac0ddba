package httpx

import (
	"net/http"

	"github.com/sundayezeilo/linkservice/internal/errx"
)

// ErrorKindToStatus maps errx.Kind to HTTP status codes.
func ErrorKindToStatus(kind errx.Kind) int {
	switch kind {
	case errx.NotFound:
		return http.StatusNotFound
	case errx.Conflict:
		return http.StatusConflict
	case errx.Invalid:
		return http.StatusBadRequest
	case errx.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorKindToCode maps errx.Kind to the machine-readable error field.
func ErrorKindToCode(kind errx.Kind) string {
	switch kind {
	case errx.NotFound:
		return "not_found"
	case errx.Conflict:
		return "conflict"
	case errx.Invalid:
		return "invalid_input"
	case errx.Unavailable:
		return "unavailable"
	default:
		return "internal_error"
	}
}

// WriteKindError writes err using the status and code of its kind. Messages
// of Internal and Unknown errors are replaced so driver details never leak.
func WriteKindError(w http.ResponseWriter, err error, details any) {
	kind := errx.KindOf(err)
	status := ErrorKindToStatus(kind)

	msg := rootMessage(err)
	switch status {
	case http.StatusInternalServerError:
		msg = "an unexpected error occurred"
	case http.StatusServiceUnavailable:
		msg = "service temporarily unavailable, please retry"
	}
	WriteError(w, status, ErrorKindToCode(kind), msg, details)
}

// rootMessage returns the message of the innermost error without op prefixes.
func rootMessage(err error) string {
	for {
		e, ok := err.(*errx.Error)
		if !ok || e.Err == nil {
			return err.Error()
		}
		err = e.Err
	}
}
