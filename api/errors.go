package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/7D-Solutions/gaugecore/core"
)

// ErrorResponse is the JSON shape of every error crossing the REST
// boundary. The kind comes straight from the core taxonomy; clients decide
// recoverability from it, not from the status code.
type ErrorResponse struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	Field      string `json:"field,omitempty"`
	EntityType string `json:"entity_type,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`
}

var kindStatus = map[core.Kind]int{
	core.KindNotFound:              http.StatusNotFound,
	core.KindPermissionDenied:      http.StatusForbidden,
	core.KindIllegalTransition:     http.StatusConflict,
	core.KindPreconditionFailed:    http.StatusUnprocessableEntity,
	core.KindInvariantViolation:    http.StatusInternalServerError,
	core.KindAlreadyCheckedOut:     http.StatusConflict,
	core.KindAwaitingCompanionCert: http.StatusConflict,
	core.KindSetIDReused:           http.StatusConflict,
	core.KindConflict:              http.StatusConflict,
	core.KindTimeout:               http.StatusGatewayTimeout,
	core.KindTransient:             http.StatusServiceUnavailable,
	core.KindValidation:            http.StatusBadRequest,
}

// writeError translates a core error to its HTTP representation. Errors
// without a core kind are internal.
func writeError(c echo.Context, err error) error {
	var ce *core.Error
	if !errors.As(err, &ce) {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Kind:    "internal",
			Message: "internal error",
		})
	}

	status, ok := kindStatus[ce.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	return c.JSON(status, ErrorResponse{
		Kind:       string(ce.Kind),
		Message:    ce.Message,
		Field:      ce.Field,
		EntityType: ce.EntityType,
		EntityID:   ce.EntityID,
	})
}
