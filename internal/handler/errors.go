package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-reservation-pipeline/internal/model"
	"github.com/iliyamo/seat-reservation-pipeline/internal/obs"
	"github.com/iliyamo/seat-reservation-pipeline/internal/query"
)

// writeError maps domain errors to HTTP responses.
func writeError(c echo.Context, err error) error {
	var ve *model.ValidationError
	switch {
	case errors.As(err, &ve):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": ve.Error(), "field": ve.Field})
	case errors.Is(err, query.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation not found"})
	case errors.Is(err, query.ErrNotReady):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "reservation store not ready"})
	case errors.Is(err, query.ErrRemoteUnavailable):
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "owning instance unavailable"})
	}
	obs.Component("http").Error("request failed", "path", c.Path(), "error", err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}
