package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-reservation-pipeline/internal/ticketstream"
)

// TicketStream handles GET /v1/events/:eventId/tickets/stream as a
// server-sent event stream of ticket status updates.  A comment line is
// sent every keepAlive to hold idle connections open.
func TicketStream(hub *ticketstream.Hub, keepAlive time.Duration) echo.HandlerFunc {
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	return func(c echo.Context) error {
		eventID, err := strconv.ParseInt(c.Param("eventId"), 10, 64)
		if err != nil || eventID <= 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
		}

		sub := hub.Subscribe(eventID)
		defer sub.Close()

		w := c.Response()
		w.Header().Set(echo.HeaderContentType, "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		w.Flush()

		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()
		ctx := c.Request().Context()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
					return nil
				}
				w.Flush()
			case tickets, ok := <-sub.C():
				if !ok {
					return nil
				}
				data, err := json.Marshal(tickets)
				if err != nil {
					return err
				}
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ticketstream.EventName, data); err != nil {
					return nil
				}
				w.Flush()
			}
		}
	}
}
