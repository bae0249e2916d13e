package httpadapter

import (
	"net/http"

	"github.com/bme3412/clarity/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicErrorMessage hides internal detail on 5xx; 4xx errors carry the
// actionable cause back to the caller.
func publicErrorMessage(err error, status int) string {
	if status >= 500 {
		return "internal error"
	}
	return err.Error()
}
