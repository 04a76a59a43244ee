package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-booking-api/internal/handler"
)

// RegisterBookings registers the booking endpoints under /api/bookings. The
// optional middleware (e.g. the response cache) wraps only these routes.
// search and filter are static routes and must be registered ahead of /:id
// so those words are never read as ids.
func RegisterBookings(e *echo.Echo, h *handler.BookingHandler, mw ...echo.MiddlewareFunc) {
	g := e.Group(handler.APIPrefix+"/bookings", mw...)
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/search", h.SearchByEmail)
	g.GET("/filter", h.FilterByEvent)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)

	// Without a child route a trailing :id swallows the rest of the path,
	// so /bookings/<id>/extra would reach the id handlers.
	g.RouteNotFound("/:id/*", func(echo.Context) error { return echo.ErrNotFound })
}
