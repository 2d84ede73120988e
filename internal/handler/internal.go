package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-reservation-pipeline/internal/model"
)

// LocalReader reads this instance's view without forwarding.
type LocalReader interface {
	QueryLocal(ctx context.Context, id string) (model.ReservationView, error)
}

// InternalReservation handles GET /internal/reservations/:id, the endpoint
// peers call when this instance owns a reservation's view partition.  It
// answers 200, 404 or 503 and never forwards.
func InternalReservation(r LocalReader) echo.HandlerFunc {
	return func(c echo.Context) error {
		view, err := r.QueryLocal(c.Request().Context(), c.Param("id"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, view)
	}
}
