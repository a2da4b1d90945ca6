// Package handler contains the echo HTTP handlers. Handlers bind and
// validate requests, call into the circulation engine or the repositories,
// and translate the engine's error taxonomy into HTTP responses. They hold
// no circulation logic of their own.
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-circulation/internal/circulation"
)

// getPatronID extracts the authenticated patron id placed in the context by
// the JWT middleware. Claims decode as float64, but older tokens and tests
// may store other numeric types.
func getPatronID(c echo.Context) (uint64, error) {
	switch t := c.Get("patron_id").(type) {
	case uint64:
		return t, nil
	case int:
		return uint64(t), nil
	case int64:
		return uint64(t), nil
	case float64:
		return uint64(t), nil
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, errors.New("invalid patron_id in context")
}

// pathID parses a positive numeric path parameter.
func pathID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id != 0
}

// engineError maps the circulation taxonomy onto HTTP responses. The four
// recoverable categories become client errors; an invariant violation is a
// 500 because the affected title needs manual reconciliation, not a retry.
func engineError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, circulation.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	case errors.Is(err, circulation.ErrDuplicateRequest):
		return c.JSON(http.StatusConflict, echo.Map{"error": "duplicate request"})
	case errors.Is(err, circulation.ErrInvalidTransition):
		return c.JSON(http.StatusConflict, echo.Map{"error": "invalid transition"})
	case errors.Is(err, circulation.ErrOutOfStock):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "no copies available"})
	case errors.Is(err, circulation.ErrInvariantViolation):
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "inconsistent state, staff attention required"})
	default:
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}
