// Package router registers the HTTP routes and their middleware.
package router

import (
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/seat-reservation-pipeline/internal/config"
	"github.com/iliyamo/seat-reservation-pipeline/internal/handler"
	"github.com/iliyamo/seat-reservation-pipeline/internal/middleware"
	"github.com/iliyamo/seat-reservation-pipeline/internal/query"
	"github.com/iliyamo/seat-reservation-pipeline/internal/ticketstream"
)

// Deps is everything the routes need.  Redis may be nil; caching and rate
// limiting are then disabled.
type Deps struct {
	Reservations handler.Reservations
	Sections     handler.Sections
	Local        handler.LocalReader
	Hub          *ticketstream.Hub
	Ready        func() bool

	JWTSecret string
	Redis     *redis.Client
	Cache     config.CacheConfig
	RateLimit config.RateLimitConfig
}

// New builds the Echo instance with every route registered.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.RequestLogger())
	e.Use(echomw.Recover())

	RegisterRoutes(e, d.Ready)
	RegisterInternal(e, d.Local)
	RegisterAPI(e, d)
	return e
}

// RegisterRoutes registers the probes, which need no authentication.
func RegisterRoutes(e *echo.Echo, ready func() bool) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Readiness(ready))
}

// RegisterInternal registers the peer-to-peer read endpoint.  It is meant
// for cluster-internal traffic only and carries no auth.
func RegisterInternal(e *echo.Echo, local handler.LocalReader) {
	e.GET(query.InternalPath+":id", handler.InternalReservation(local))
}

// RegisterAPI registers the public /v1 API.  A token is optional on
// reservation routes; when JWT_SECRET is set, section management requires
// the OWNER role.
func RegisterAPI(e *echo.Echo, d Deps) {
	g := e.Group("/v1", middleware.JWTAuth(d.JWTSecret, false))

	rh := handler.NewReservationHandler(d.Reservations)
	g.POST("/reservations", rh.Create, middleware.NewTokenBucket(d.RateLimit, d.Redis))
	g.GET("/reservations/:id", rh.Get)

	sh := handler.NewSectionHandler(d.Sections)
	g.GET("/sections/:eventId/:section", sh.Status, middleware.NewRedisCache(d.Cache, d.Redis))
	var admin []echo.MiddlewareFunc
	if d.JWTSecret != "" {
		admin = append(admin, middleware.RequireRole("OWNER"))
	}
	g.POST("/sections", sh.Init, admin...)
	g.POST("/seat-events", sh.SeatEvent, admin...)

	g.GET("/events/:eventId/tickets/stream", handler.TicketStream(d.Hub, 15*time.Second))
}
