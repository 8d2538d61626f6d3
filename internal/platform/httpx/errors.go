// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/bookkeeper/internal/shared"
)

// StatusFor maps a domain error onto an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, shared.ErrCreditLimitExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, shared.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, shared.ErrSequenceConflict):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	switch status {
	case http.StatusUnprocessableEntity:
		Problem(w, status, "Credit Limit Exceeded", err.Error())
	case http.StatusBadRequest:
		Problem(w, status, "Validation Failed", err.Error())
	case http.StatusNotFound:
		Problem(w, status, "Not Found", err.Error())
	case http.StatusConflict:
		Problem(w, status, "Insufficient Stock", err.Error())
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
		Problem(w, status, "Sequence Conflict", err.Error())
	default:
		if errors.Is(err, shared.ErrConsistency) {
			Problem(w, status, "Consistency Violation", err.Error())
			return
		}
		Problem(w, status, "Internal Error", "")
	}
}

var errTrailingData = &shared.ValidationError{Field: "body", Reason: "unexpected data after JSON object"}
