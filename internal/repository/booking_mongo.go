package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/iliyamo/event-booking-api/internal/clock"
	"github.com/iliyamo/event-booking-api/internal/model"
)

// BookingCollection is the collection that holds booking documents.
const BookingCollection = "bookings"

// bookingDocument is the stored shape of a booking.
type bookingDocument struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	Name       string             `bson:"name"`
	Email      string             `bson:"email"`
	Event      string             `bson:"event"`
	TicketType string             `bson:"ticketType"`
	CreatedAt  time.Time          `bson:"createdAt"`
}

func (d bookingDocument) toModel() model.Booking {
	return model.Booking{
		ID:         d.ID.Hex(),
		Name:       d.Name,
		Email:      d.Email,
		Event:      d.Event,
		TicketType: d.TicketType,
		CreatedAt:  d.CreatedAt.UTC(),
	}
}

// MongoBookingStore keeps bookings in a MongoDB collection.
type MongoBookingStore struct {
	coll  *mongo.Collection
	clock clock.Clock
}

// NewMongoBookingStore returns a store backed by the bookings collection of db.
func NewMongoBookingStore(db *mongo.Database, clk clock.Clock) *MongoBookingStore {
	return &MongoBookingStore{coll: db.Collection(BookingCollection), clock: clk}
}

// EnsureIndexes creates the indexes used by listing and search. Creating an
// index that already exists is a no-op.
func (s *MongoBookingStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "email", Value: 1}}},
		{Keys: bson.D{{Key: "event", Value: 1}}},
	})
	return err
}

func (s *MongoBookingStore) Insert(ctx context.Context, b *model.Booking) error {
	doc := bookingDocument{
		ID:         primitive.NewObjectID(),
		Name:       b.Name,
		Email:      b.Email,
		Event:      b.Event,
		TicketType: b.TicketType,
		CreatedAt:  s.clock.Now(),
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	*b = doc.toModel()
	return nil
}

func (s *MongoBookingStore) List(ctx context.Context) ([]model.Booking, error) {
	return s.find(ctx, bson.D{})
}

func (s *MongoBookingStore) GetByID(ctx context.Context, id string) (*model.Booking, error) {
	oid, err := model.ParseID(id)
	if err != nil {
		return nil, err
	}
	var doc bookingDocument
	if err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: oid}}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("find booking: %w", err)
	}
	b := doc.toModel()
	return &b, nil
}

func (s *MongoBookingStore) Search(ctx context.Context, field model.SearchField, substr string) ([]model.Booking, error) {
	return s.find(ctx, substringFilter(field, substr))
}

func (s *MongoBookingStore) Update(ctx context.Context, id string, patch model.BookingPatch) (*model.Booking, error) {
	oid, err := model.ParseID(id)
	if err != nil {
		return nil, err
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	set := patchUpdate(patch)
	if len(set) == 0 {
		return s.GetByID(ctx, id)
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc bookingDocument
	err = s.coll.FindOneAndUpdate(ctx, bson.D{{Key: "_id", Value: oid}}, bson.D{{Key: "$set", Value: set}}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("update booking: %w", err)
	}
	b := doc.toModel()
	return &b, nil
}

func (s *MongoBookingStore) Delete(ctx context.Context, id string) error {
	oid, err := model.ParseID(id)
	if err != nil {
		return err
	}
	res, err := s.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: oid}})
	if err != nil {
		return fmt.Errorf("delete booking: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrBookingNotFound
	}
	return nil
}

func (s *MongoBookingStore) find(ctx context.Context, filter bson.D) ([]model.Booking, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find bookings: %w", err)
	}
	defer cur.Close(ctx)

	out := make([]model.Booking, 0)
	for cur.Next(ctx) {
		var doc bookingDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode booking: %w", err)
		}
		out = append(out, doc.toModel())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate bookings: %w", err)
	}
	return out, nil
}

// substringFilter matches documents whose field contains substr literally,
// ignoring case. Regex metacharacters in substr are escaped.
func substringFilter(field model.SearchField, substr string) bson.D {
	return bson.D{{Key: string(field), Value: primitive.Regex{
		Pattern: regexp.QuoteMeta(substr),
		Options: "i",
	}}}
}

// patchUpdate builds the $set document for the supplied patch fields. An
// empty ticket type resets to the default.
func patchUpdate(p model.BookingPatch) bson.D {
	set := bson.D{}
	if p.Name != nil {
		set = append(set, bson.E{Key: "name", Value: *p.Name})
	}
	if p.Email != nil {
		set = append(set, bson.E{Key: "email", Value: *p.Email})
	}
	if p.Event != nil {
		set = append(set, bson.E{Key: "event", Value: *p.Event})
	}
	if p.TicketType != nil {
		tt := *p.TicketType
		if strings.TrimSpace(tt) == "" {
			tt = model.DefaultTicketType
		}
		set = append(set, bson.E{Key: "ticketType", Value: tt})
	}
	return set
}
