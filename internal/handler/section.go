package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-reservation-pipeline/internal/model"
)

// Sections is the part of the reservation service managing inventory.
type Sections interface {
	InitSection(ctx context.Context, cmd model.SectionInit) error
	PublishSeatEvent(ctx context.Context, ev model.SeatStatusEvent) error
	SectionAvailability(ctx context.Context, eventID int64, section string) (int, bool)
}

// SectionHandler serves section layout and seat status endpoints.
type SectionHandler struct {
	svc Sections
}

func NewSectionHandler(svc Sections) *SectionHandler { return &SectionHandler{svc: svc} }

// Init handles POST /v1/sections.  Re-initializing a section replaces its
// inventory.
func (h *SectionHandler) Init(c echo.Context) error {
	var cmd model.SectionInit
	if err := c.Bind(&cmd); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := h.svc.InitSection(c.Request().Context(), cmd); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, echo.Map{"eventId": cmd.EventID, "section": cmd.Section})
}

// SeatEvent handles POST /v1/seat-events.
func (h *SectionHandler) SeatEvent(c echo.Context) error {
	var ev model.SeatStatusEvent
	if err := c.Bind(&ev); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := h.svc.PublishSeatEvent(c.Request().Context(), ev); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

// Status handles GET /v1/sections/:eventId/:section.  The count comes from
// the availability cache and may trail the inventory slightly.
func (h *SectionHandler) Status(c echo.Context) error {
	eventID, err := strconv.ParseInt(c.Param("eventId"), 10, 64)
	if err != nil || eventID <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	section := c.Param("section")
	n, ok := h.svc.SectionAvailability(c.Request().Context(), eventID, section)
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "section not found"})
	}
	return c.JSON(http.StatusOK, echo.Map{"eventId": eventID, "section": section, "availableCount": n})
}
