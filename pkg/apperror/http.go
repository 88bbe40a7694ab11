package apperror

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// StatusCode maps a kind to its HTTP status.
func StatusCode(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindInvalidTransition:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ToHTTP converts a service error into an echo.HTTPError. Internal errors
// are not exposed to the client.
func ToHTTP(err error) error {
	if err == nil {
		return nil
	}
	if he, ok := err.(*echo.HTTPError); ok {
		return he
	}
	kind := KindOf(err)
	if kind == KindInternal {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
	return echo.NewHTTPError(StatusCode(kind), map[string]string{
		"kind":    string(kind),
		"message": err.Error(),
	})
}
