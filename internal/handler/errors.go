package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-booking-api/internal/model"
	"github.com/iliyamo/event-booking-api/internal/repository"
)

// APIPrefix is the path prefix of every booking route.
const APIPrefix = "/api"

// Fixed response messages.
const (
	MsgNotFound       = "Booking not found!"
	MsgInvalidID      = "Invalid booking ID"
	MsgInvalidBody    = "Invalid request body"
	MsgServerError    = "Server error"
	MsgRouteNotFound  = "API endpoint not found"
	MsgBookingDeleted = "Booking cancelled successfully!"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Message string             `json:"message"`
	Error   string             `json:"error,omitempty"`
	Errors  []model.FieldError `json:"errors,omitempty"`
}

// respondError maps a store or validation error to its HTTP status:
// validation and malformed ids are 400, unknown ids 404, everything else is a
// store fault and 500.
func respondError(c echo.Context, err error) error {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, errorBody{Message: verr.Error(), Errors: verr.Fields})
	case errors.Is(err, model.ErrInvalidID):
		return c.JSON(http.StatusBadRequest, errorBody{Message: MsgInvalidID, Error: err.Error()})
	case errors.Is(err, repository.ErrBookingNotFound):
		return c.JSON(http.StatusNotFound, errorBody{Message: MsgNotFound})
	default:
		c.Logger().Errorf("store fault: %s %s: %v", c.Request().Method, c.Request().URL.Path, err)
		return c.JSON(http.StatusInternalServerError, errorBody{Message: MsgServerError, Error: err.Error()})
	}
}

// HTTPErrorHandler renders errors that escape handlers. Unmatched routes and
// unsupported methods under /api answer 404 with a fixed payload; other echo
// errors keep their status with a JSON message.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := http.StatusInternalServerError
	msg := http.StatusText(status)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(status)
		}
	} else {
		c.Logger().Error(err)
	}

	path := c.Request().URL.Path
	if (status == http.StatusNotFound || status == http.StatusMethodNotAllowed) &&
		(path == APIPrefix || strings.HasPrefix(path, APIPrefix+"/")) {
		status, msg = http.StatusNotFound, MsgRouteNotFound
	}

	var werr error
	if c.Request().Method == http.MethodHead {
		werr = c.NoContent(status)
	} else {
		werr = c.JSON(status, errorBody{Message: msg})
	}
	if werr != nil {
		c.Logger().Error(werr)
	}
}
