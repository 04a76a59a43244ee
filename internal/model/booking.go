package model

import (
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DefaultTicketType is applied when a booking is written without a ticket type.
const DefaultTicketType = "General"

// ErrInvalidID is returned when a booking id is not a 24 character hex ObjectID.
var ErrInvalidID = errors.New("invalid booking id")

// Booking records one person's registration for one event.
//
// Fields:
//
//	ID         – store assigned ObjectID in hex form.
//	Name       – attendee name (required).
//	Email      – attendee email (required).
//	Event      – event name (required).
//	TicketType – ticket category, "General" unless supplied.
//	CreatedAt  – creation timestamp, never changed after insert.
type Booking struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Event      string    `json:"event"`
	TicketType string    `json:"ticketType"`
	CreatedAt  time.Time `json:"createdAt"`
}

// BookingInput is the payload accepted when creating a booking.
type BookingInput struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Event      string `json:"event"`
	TicketType string `json:"ticketType"`
}

// Validate checks the required fields and returns the normalized booking to
// insert. ID and CreatedAt are left for the store to assign.
func (in BookingInput) Validate() (Booking, error) {
	b := Booking{
		Name:       in.Name,
		Email:      in.Email,
		Event:      in.Event,
		TicketType: in.TicketType,
	}
	if err := b.Validate(); err != nil {
		return Booking{}, err
	}
	return b.withDefaults(), nil
}

// BookingPatch lists the fields a partial update may change. A nil field was
// not supplied and keeps its stored value.
type BookingPatch struct {
	Name       *string `json:"name"`
	Email      *string `json:"email"`
	Event      *string `json:"event"`
	TicketType *string `json:"ticketType"`
}

// Empty reports whether the patch changes nothing.
func (p BookingPatch) Empty() bool {
	return p.Name == nil && p.Email == nil && p.Event == nil && p.TicketType == nil
}

// Validate rejects supplied required fields that are blank.
func (p BookingPatch) Validate() error {
	var verr ValidationError
	if p.Name != nil && blank(*p.Name) {
		verr.add("name", "Name is required")
	}
	if p.Email != nil && blank(*p.Email) {
		verr.add("email", "Email is required")
	}
	if p.Event != nil && blank(*p.Event) {
		verr.add("event", "Event is required")
	}
	if verr.empty() {
		return nil
	}
	return &verr
}

// Apply returns a copy of b with every supplied patch field replaced. An empty
// ticket type falls back to the default.
func (b Booking) Apply(p BookingPatch) Booking {
	if p.Name != nil {
		b.Name = *p.Name
	}
	if p.Email != nil {
		b.Email = *p.Email
	}
	if p.Event != nil {
		b.Event = *p.Event
	}
	if p.TicketType != nil {
		b.TicketType = *p.TicketType
	}
	return b.withDefaults()
}

// Validate runs the record validators: name, email and event must be present.
func (b Booking) Validate() error {
	var verr ValidationError
	if blank(b.Name) {
		verr.add("name", "Name is required")
	}
	if blank(b.Email) {
		verr.add("email", "Email is required")
	}
	if blank(b.Event) {
		verr.add("event", "Event is required")
	}
	if verr.empty() {
		return nil
	}
	return &verr
}

func (b Booking) withDefaults() Booking {
	if blank(b.TicketType) {
		b.TicketType = DefaultTicketType
	}
	return b
}

// ParseID decodes a booking id. Anything that is not a 24 character hex
// string yields ErrInvalidID.
func ParseID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, ErrInvalidID
	}
	return oid, nil
}

// NewID returns a fresh booking id.
func NewID() string {
	return primitive.NewObjectID().Hex()
}

// SearchField names a text field that supports substring search.
type SearchField string

const (
	FieldEmail SearchField = "email"
	FieldEvent SearchField = "event"
)

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
