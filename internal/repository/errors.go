// Package repository holds the booking store collaborators. The sentinel
// values below let handlers tell store outcomes apart: ErrBookingNotFound
// maps to HTTP 404, model.ErrInvalidID to 400 and anything else is treated
// as a store fault.
package repository

import "errors"

// ErrBookingNotFound is returned when no booking matches the given id.
var ErrBookingNotFound = errors.New("booking not found")

// ErrUnsupportedStore is returned by Open for connection strings whose scheme
// names no known backend.
var ErrUnsupportedStore = errors.New("unsupported store connection string")
