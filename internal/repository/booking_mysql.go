package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/iliyamo/event-booking-api/internal/clock"
	"github.com/iliyamo/event-booking-api/internal/model"
)

const bookingSchema = `CREATE TABLE IF NOT EXISTS bookings (
	id          CHAR(24)     NOT NULL PRIMARY KEY,
	name        VARCHAR(255) NOT NULL,
	email       VARCHAR(255) NOT NULL,
	event       VARCHAR(255) NOT NULL,
	ticket_type VARCHAR(64)  NOT NULL DEFAULT 'General',
	created_at  DATETIME(3)  NOT NULL,
	KEY idx_bookings_created_at (created_at),
	KEY idx_bookings_email (email),
	KEY idx_bookings_event (event)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

const bookingColumns = "id, name, email, event, ticket_type, created_at"

// searchColumns maps searchable fields to their column names.
var searchColumns = map[model.SearchField]string{
	model.FieldEmail: "email",
	model.FieldEvent: "event",
}

// MySQLBookingStore keeps bookings in the bookings table. Ids are ObjectID
// hex strings generated on insert so both backends share one id format.
type MySQLBookingStore struct {
	db    *sql.DB
	clock clock.Clock
}

// NewMySQLBookingStore constructs a MySQLBookingStore with the provided DB
// handle.
func NewMySQLBookingStore(db *sql.DB, clk clock.Clock) *MySQLBookingStore {
	return &MySQLBookingStore{db: db, clock: clk}
}

// EnsureSchema creates the bookings table when it does not exist yet.
func (r *MySQLBookingStore) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, bookingSchema)
	return err
}

func (r *MySQLBookingStore) Insert(ctx context.Context, b *model.Booking) error {
	b.ID = model.NewID()
	b.CreatedAt = r.clock.Now()
	const q = "INSERT INTO bookings (" + bookingColumns + ") VALUES (?, ?, ?, ?, ?, ?)"
	if _, err := r.db.ExecContext(ctx, q, b.ID, b.Name, b.Email, b.Event, b.TicketType, b.CreatedAt); err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (r *MySQLBookingStore) List(ctx context.Context) ([]model.Booking, error) {
	const q = "SELECT " + bookingColumns + " FROM bookings ORDER BY created_at DESC"
	return r.query(ctx, q)
}

func (r *MySQLBookingStore) GetByID(ctx context.Context, id string) (*model.Booking, error) {
	if _, err := model.ParseID(id); err != nil {
		return nil, err
	}
	const q = "SELECT " + bookingColumns + " FROM bookings WHERE id = ?"
	return scanBooking(r.db.QueryRowContext(ctx, q, id))
}

// Search runs a case-insensitive LIKE with the LIKE wildcards in substr
// escaped.
func (r *MySQLBookingStore) Search(ctx context.Context, field model.SearchField, substr string) ([]model.Booking, error) {
	col, ok := searchColumns[field]
	if !ok {
		return nil, fmt.Errorf("search: unknown field %q", field)
	}
	q := "SELECT " + bookingColumns + " FROM bookings WHERE LOWER(" + col + `) LIKE ? ESCAPE '\\' ORDER BY created_at DESC`
	return r.query(ctx, q, "%"+escapeLike(strings.ToLower(substr))+"%")
}

// Update locks the row, merges the patch, re-validates the merged record and
// writes it back in one transaction.
func (r *MySQLBookingStore) Update(ctx context.Context, id string, patch model.BookingPatch) (*model.Booking, error) {
	if _, err := model.ParseID(id); err != nil {
		return nil, err
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	const qSelect = "SELECT " + bookingColumns + " FROM bookings WHERE id = ? FOR UPDATE"
	current, err := scanBooking(tx.QueryRowContext(ctx, qSelect, id))
	if err != nil {
		return nil, err
	}
	merged := current.Apply(patch)
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	const qUpdate = "UPDATE bookings SET name = ?, email = ?, event = ?, ticket_type = ? WHERE id = ?"
	if _, err := tx.ExecContext(ctx, qUpdate, merged.Name, merged.Email, merged.Event, merged.TicketType, id); err != nil {
		return nil, fmt.Errorf("update booking: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	committed = true
	return &merged, nil
}

func (r *MySQLBookingStore) Delete(ctx context.Context, id string) error {
	if _, err := model.ParseID(id); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, "DELETE FROM bookings WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete booking: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete booking: %w", err)
	}
	if n == 0 {
		return ErrBookingNotFound
	}
	return nil
}

func (r *MySQLBookingStore) query(ctx context.Context, q string, args ...any) ([]model.Booking, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query bookings: %w", err)
	}
	defer rows.Close()

	out := make([]model.Booking, 0)
	for rows.Next() {
		var b model.Booking
		if err := rows.Scan(&b.ID, &b.Name, &b.Email, &b.Event, &b.TicketType, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		b.CreatedAt = b.CreatedAt.UTC()
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bookings: %w", err)
	}
	return out, nil
}

func scanBooking(row *sql.Row) (*model.Booking, error) {
	var b model.Booking
	if err := row.Scan(&b.ID, &b.Name, &b.Email, &b.Event, &b.TicketType, &b.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("scan booking: %w", err)
	}
	b.CreatedAt = b.CreatedAt.UTC()
	return &b, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike escapes the LIKE wildcards so s matches literally.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
