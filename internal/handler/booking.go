package handler

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-booking-api/internal/clock"
	"github.com/iliyamo/event-booking-api/internal/model"
	"github.com/iliyamo/event-booking-api/internal/queue"
	"github.com/iliyamo/event-booking-api/internal/repository"
)

// DefaultStoreTimeout bounds a store round trip when no timeout is configured.
const DefaultStoreTimeout = 5 * time.Second

// publishTimeout bounds the best-effort event publish after a write.
const publishTimeout = 2 * time.Second

// maxPendingEvents caps publishes waiting on a slow broker; beyond it new
// events are dropped and logged.
const maxPendingEvents = 1024

// BookingHandler exposes the booking CRUD, search and filter endpoints. All
// booking state lives in the store.
type BookingHandler struct {
	Store   repository.BookingStore // persistence collaborator
	Events  queue.Publisher         // receives booking.created/updated/deleted
	Clock   clock.Clock             // timestamps published events
	Timeout time.Duration           // per-request store deadline

	pending sync.WaitGroup // in-flight event publishes

	mu      sync.Mutex
	tail    chan struct{} // closed when the latest publish finishes
	backlog int
}

// NewBookingHandler constructs a BookingHandler and panics if store is nil.
// A nil publisher or clock is replaced by a no-op publisher and the system
// clock; a non-positive timeout by DefaultStoreTimeout.
func NewBookingHandler(store repository.BookingStore, events queue.Publisher, clk clock.Clock, timeout time.Duration) *BookingHandler {
	if store == nil {
		panic("nil store passed to NewBookingHandler")
	}
	if events == nil {
		events = queue.NopPublisher{}
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return &BookingHandler{Store: store, Events: events, Clock: clk, Timeout: timeout}
}

func (h *BookingHandler) storeContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), h.Timeout)
}

// List handles GET /api/bookings and returns every booking, newest first.
func (h *BookingHandler) List(c echo.Context) error {
	ctx, cancel := h.storeContext(c)
	defer cancel()
	bookings, err := h.Store.List(ctx)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, bookings)
}

// Create handles POST /api/bookings. The body must carry name, email and
// event; ticketType defaults to "General". It returns 201 with the stored
// booking including its assigned id.
func (h *BookingHandler) Create(c echo.Context) error {
	var in model.BookingInput
	if err := c.Bind(&in); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Message: MsgInvalidBody, Error: bindMessage(err)})
	}
	b, err := in.Validate()
	if err != nil {
		return respondError(c, err)
	}

	ctx, cancel := h.storeContext(c)
	defer cancel()
	if err := h.Store.Insert(ctx, &b); err != nil {
		return respondError(c, err)
	}
	h.publish(c, queue.NewBookingEvent(queue.BookingCreated, b, h.Clock.Now()))
	return c.JSON(http.StatusCreated, b)
}

// Get handles GET /api/bookings/:id.
func (h *BookingHandler) Get(c echo.Context) error {
	id := c.Param("id")
	if _, err := model.ParseID(id); err != nil {
		return respondError(c, err)
	}
	ctx, cancel := h.storeContext(c)
	defer cancel()
	b, err := h.Store.GetByID(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// Update handles PUT /api/bookings/:id. Only the fields present in the body
// change; supplied name, email and event must not be blank.
func (h *BookingHandler) Update(c echo.Context) error {
	id := c.Param("id")
	if _, err := model.ParseID(id); err != nil {
		return respondError(c, err)
	}
	var patch model.BookingPatch
	if err := c.Bind(&patch); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Message: MsgInvalidBody, Error: bindMessage(err)})
	}
	if err := patch.Validate(); err != nil {
		return respondError(c, err)
	}

	ctx, cancel := h.storeContext(c)
	defer cancel()
	b, err := h.Store.Update(ctx, id, patch)
	if err != nil {
		return respondError(c, err)
	}
	if !patch.Empty() {
		h.publish(c, queue.NewBookingEvent(queue.BookingUpdated, *b, h.Clock.Now()))
	}
	return c.JSON(http.StatusOK, b)
}

// Delete handles DELETE /api/bookings/:id.
func (h *BookingHandler) Delete(c echo.Context) error {
	id := c.Param("id")
	if _, err := model.ParseID(id); err != nil {
		return respondError(c, err)
	}
	ctx, cancel := h.storeContext(c)
	defer cancel()
	if err := h.Store.Delete(ctx, id); err != nil {
		return respondError(c, err)
	}
	h.publish(c, queue.NewBookingEvent(queue.BookingDeleted, model.Booking{ID: id}, h.Clock.Now()))
	return c.JSON(http.StatusOK, echo.Map{"message": MsgBookingDeleted})
}

// SearchByEmail handles GET /api/bookings/search?email=. Matching is a
// case-insensitive substring match; no match yields an empty array.
func (h *BookingHandler) SearchByEmail(c echo.Context) error {
	return h.search(c, "email", model.FieldEmail)
}

// FilterByEvent handles GET /api/bookings/filter?event=.
func (h *BookingHandler) FilterByEvent(c echo.Context) error {
	return h.search(c, "event", model.FieldEvent)
}

func (h *BookingHandler) search(c echo.Context, param string, field model.SearchField) error {
	q := strings.TrimSpace(c.QueryParam(param))
	if q == "" {
		return c.JSON(http.StatusBadRequest, errorBody{Message: "Query param '" + param + "' is required"})
	}
	ctx, cancel := h.storeContext(c)
	defer cancel()
	bookings, err := h.Store.Search(ctx, field, q)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, bookings)
}

// publish sends ev in the background so a slow broker never delays the
// response. Events go out in the order their requests finished; errors are
// only logged.
func (h *BookingHandler) publish(c echo.Context, ev queue.BookingEvent) {
	// c is recycled once the handler returns; keep only what the goroutine needs.
	base := context.WithoutCancel(c.Request().Context())
	logger := c.Logger()

	h.mu.Lock()
	if h.backlog >= maxPendingEvents {
		h.mu.Unlock()
		logger.Warnf("publish %s for booking %s dropped: %d events pending", ev.Type, ev.BookingID, maxPendingEvents)
		return
	}
	h.backlog++
	prev, done := h.tail, make(chan struct{})
	h.tail = done
	h.pending.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.pending.Done()
		defer close(done)
		if prev != nil {
			<-prev
		}
		ctx, cancel := context.WithTimeout(base, publishTimeout)
		defer cancel()
		if err := h.Events.Publish(ctx, ev); err != nil {
			logger.Warnf("publish %s for booking %s failed: %v", ev.Type, ev.BookingID, err)
		}
		h.mu.Lock()
		h.backlog--
		h.mu.Unlock()
	}()
}

// Wait blocks until every event publish started so far has finished. Call
// it after the server stops accepting requests and before closing Events.
func (h *BookingHandler) Wait() {
	h.pending.Wait()
}

func bindMessage(err error) string {
	if he, ok := err.(*echo.HTTPError); ok {
		if m, ok := he.Message.(string); ok {
			return m
		}
	}
	return err.Error()
}
