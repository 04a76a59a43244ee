package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/google/uuid"                         // uuid generates request ids
	"github.com/labstack/echo/v4"                    // import the Echo web framework to handle routing
	echomw "github.com/labstack/echo/v4/middleware" // Echo's stock middleware

	"github.com/iliyamo/event-booking-api/internal/handler" // import the handlers that implement the endpoints
)

// RegisterMiddleware installs the process-wide middleware chain and the JSON
// error handler.  Recover keeps a panicking request from taking the server
// down; every request gets an X-Request-ID and one access log line.
func RegisterMiddleware(e *echo.Echo, corsOrigins []string) {
	e.HTTPErrorHandler = handler.HTTPErrorHandler
	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			if v.Error != nil {
				c.Logger().Infof("request id=%s method=%s uri=%s status=%d latency=%s err=%v", v.RequestID, v.Method, v.URI, v.Status, v.Latency, v.Error)
				return nil
			}
			c.Logger().Infof("request id=%s method=%s uri=%s status=%d latency=%s", v.RequestID, v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: corsOrigins,
	}))
}

// RegisterRoutes registers routes outside the booking API: the root banner
// and a health check for load balancers.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/", handler.Root)
	e.GET("/healthz", handler.Health)
}
