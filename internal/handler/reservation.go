package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-reservation-pipeline/internal/middleware"
	"github.com/iliyamo/seat-reservation-pipeline/internal/model"
	"github.com/iliyamo/seat-reservation-pipeline/internal/service"
)

// Reservations is the part of the reservation service the handlers use.
type Reservations interface {
	CreateReservation(ctx context.Context, cmd model.ReservationCommand) (service.CreateResult, error)
	GetReservation(ctx context.Context, id string) (model.ReservationView, error)
	AwaitReservation(ctx context.Context, id string) (model.ReservationView, bool, error)
}

// ReservationHandler serves /v1/reservations.
type ReservationHandler struct {
	svc Reservations
}

func NewReservationHandler(svc Reservations) *ReservationHandler {
	return &ReservationHandler{svc: svc}
}

type createReservationRequest struct {
	EventID   int64  `json:"eventId"`
	Section   string `json:"section"`
	SeatCount int    `json:"seatCount"`
	UserID    string `json:"userId"`
}

// Create handles POST /v1/reservations.  It answers 202 with the new
// reservation id; the outcome is read with GET.  When the caller is
// authenticated the token subject is the user, whatever the body says.
func (h *ReservationHandler) Create(c echo.Context) error {
	var body createReservationRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if uid := middleware.UserID(c); uid != "" {
		body.UserID = uid
	}

	res, err := h.svc.CreateReservation(c.Request().Context(), model.ReservationCommand{
		EventID:   body.EventID,
		Section:   strings.TrimSpace(body.Section),
		SeatCount: body.SeatCount,
		UserID:    body.UserID,
	})
	if err != nil {
		return writeError(c, err)
	}
	out := echo.Map{"reservationId": res.ReservationID}
	if res.Status != "" {
		out["status"] = res.Status
	}
	return c.JSON(http.StatusAccepted, out)
}

// Get handles GET /v1/reservations/:id.  By default it waits for the
// outcome and answers 202 with status PENDING if none arrives in time;
// ?wait=false reads the current view only.
func (h *ReservationHandler) Get(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
	}
	ctx := c.Request().Context()

	if c.QueryParam("wait") == "false" {
		view, err := h.svc.GetReservation(ctx, id)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, view)
	}

	view, pending, err := h.svc.AwaitReservation(ctx, id)
	if err != nil {
		return writeError(c, err)
	}
	if pending {
		return c.JSON(http.StatusAccepted, echo.Map{"reservationId": id, "status": model.StatusPending})
	}
	return c.JSON(http.StatusOK, view)
}
