package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/iliyamo/event-booking-api/internal/clock"
	"github.com/iliyamo/event-booking-api/internal/database"
	"github.com/iliyamo/event-booking-api/internal/model"
)

// BookingStore is the persistence contract the booking handler depends on.
// Implementations return ErrBookingNotFound for unknown ids and
// model.ErrInvalidID for ids that cannot be decoded; every other error is a
// store fault.
type BookingStore interface {
	// Insert assigns ID and CreatedAt and persists b.
	Insert(ctx context.Context, b *model.Booking) error
	// List returns every booking, newest first.
	List(ctx context.Context) ([]model.Booking, error)
	GetByID(ctx context.Context, id string) (*model.Booking, error)
	// Search returns bookings whose field contains substr, ignoring case,
	// newest first.
	Search(ctx context.Context, field model.SearchField, substr string) ([]model.Booking, error)
	// Update applies patch to the stored booking, re-validates the merged
	// record and returns it.
	Update(ctx context.Context, id string, patch model.BookingPatch) (*model.Booking, error)
	Delete(ctx context.Context, id string) error
}

// Open connects to the backend named by uri's scheme and prepares it for
// use. mongodb:// and mongodb+srv:// select MongoDB; mysql:// selects MySQL
// with the remainder of the string used as the driver DSN. The returned
// function releases the connection.
func Open(ctx context.Context, uri string, clk clock.Clock) (BookingStore, func(context.Context) error, error) {
	switch {
	case strings.HasPrefix(uri, "mongodb://"), strings.HasPrefix(uri, "mongodb+srv://"):
		client, dbName, err := database.OpenMongo(ctx, uri)
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		store := NewMongoBookingStore(client.Database(dbName), clk)
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(ctx)
			return nil, nil, fmt.Errorf("ensure indexes: %w", err)
		}
		return store, client.Disconnect, nil
	case strings.HasPrefix(uri, "mysql://"):
		db, err := database.Open(strings.TrimPrefix(uri, "mysql://"))
		if err != nil {
			return nil, nil, fmt.Errorf("connect mysql: %w", err)
		}
		store := NewMySQLBookingStore(db, clk)
		if err := store.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		return store, func(context.Context) error { return db.Close() }, nil
	}
	return nil, nil, ErrUnsupportedStore
}
