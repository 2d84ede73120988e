package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Health is the liveness probe.  It answers 200 "ok" while the process
// serves HTTP.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Readiness answers 200 once ready reports true and 503 before that.
// Reservation reads need the partition directory and the local view, so
// load balancers should route on this probe.
func Readiness(ready func() bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !ready() {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "starting"})
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ready"})
	}
}
