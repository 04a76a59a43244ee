// Package queue defines the booking lifecycle events exchanged over the
// message broker, the publisher used by the HTTP layer and the background
// consumer that records them.
package queue

import (
	"time"

	"github.com/iliyamo/event-booking-api/internal/model"
)

// Event types double as routing keys on the bookings exchange.
const (
	BookingCreated = "booking.created"
	BookingUpdated = "booking.updated"
	BookingDeleted = "booking.deleted"
)

// BookingEvent is published after a booking is created, updated or deleted.
// Deleted events carry only the id.
type BookingEvent struct {
	Type       string    `json:"type"`
	BookingID  string    `json:"booking_id"`
	Name       string    `json:"name,omitempty"`
	Email      string    `json:"email,omitempty"`
	Event      string    `json:"event,omitempty"`
	TicketType string    `json:"ticket_type,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewBookingEvent builds an event of the given type from b.
func NewBookingEvent(typ string, b model.Booking, at time.Time) BookingEvent {
	return BookingEvent{
		Type:       typ,
		BookingID:  b.ID,
		Name:       b.Name,
		Email:      b.Email,
		Event:      b.Event,
		TicketType: b.TicketType,
		OccurredAt: at.UTC(),
	}
}
