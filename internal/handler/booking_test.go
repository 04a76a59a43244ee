package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/event-booking-api/internal/clock"
	"github.com/iliyamo/event-booking-api/internal/handler"
	"github.com/iliyamo/event-booking-api/internal/model"
	"github.com/iliyamo/event-booking-api/internal/queue"
	"github.com/iliyamo/event-booking-api/internal/repository"
	"github.com/iliyamo/event-booking-api/internal/router"
)

// memoryStore implements repository.BookingStore in memory.
type memoryStore struct {
	mu   sync.Mutex
	now  time.Time
	rows map[string]model.Booking
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		now:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		rows: map[string]model.Booking{},
	}
}

func (s *memoryStore) Insert(_ context.Context, b *model.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = s.now.Add(time.Second)
	b.ID = model.NewID()
	b.CreatedAt = s.now
	s.rows[b.ID] = *b
	return nil
}

func (s *memoryStore) sorted(keep func(model.Booking) bool) []model.Booking {
	out := make([]model.Booking, 0)
	for _, b := range s.rows {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *memoryStore) List(context.Context) ([]model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(func(model.Booking) bool { return true }), nil
}

func (s *memoryStore) GetByID(_ context.Context, id string) (*model.Booking, error) {
	if _, err := model.ParseID(id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.rows[id]
	if !ok {
		return nil, repository.ErrBookingNotFound
	}
	return &b, nil
}

func (s *memoryStore) Search(_ context.Context, field model.SearchField, substr string) ([]model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	needle := strings.ToLower(substr)
	return s.sorted(func(b model.Booking) bool {
		v := b.Email
		if field == model.FieldEvent {
			v = b.Event
		}
		return strings.Contains(strings.ToLower(v), needle)
	}), nil
}

func (s *memoryStore) Update(_ context.Context, id string, patch model.BookingPatch) (*model.Booking, error) {
	if _, err := model.ParseID(id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.rows[id]
	if !ok {
		return nil, repository.ErrBookingNotFound
	}
	merged := b.Apply(patch)
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	s.rows[id] = merged
	return &merged, nil
}

func (s *memoryStore) Delete(_ context.Context, id string) error {
	if _, err := model.ParseID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return repository.ErrBookingNotFound
	}
	delete(s.rows, id)
	return nil
}

// faultStore fails every call with err, or blocks until the context ends
// when block is set.
type faultStore struct {
	err   error
	block bool
}

func (f faultStore) fail(ctx context.Context) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

func (f faultStore) Insert(ctx context.Context, _ *model.Booking) error { return f.fail(ctx) }
func (f faultStore) List(ctx context.Context) ([]model.Booking, error)  { return nil, f.fail(ctx) }
func (f faultStore) GetByID(ctx context.Context, _ string) (*model.Booking, error) {
	return nil, f.fail(ctx)
}
func (f faultStore) Search(ctx context.Context, _ model.SearchField, _ string) ([]model.Booking, error) {
	return nil, f.fail(ctx)
}
func (f faultStore) Update(ctx context.Context, _ string, _ model.BookingPatch) (*model.Booking, error) {
	return nil, f.fail(ctx)
}
func (f faultStore) Delete(ctx context.Context, _ string) error { return f.fail(ctx) }

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.BookingEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev queue.BookingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

// blockingPublisher holds every Publish until release is closed.
type blockingPublisher struct {
	release chan struct{}
	mu      sync.Mutex
	n       int
}

func (p *blockingPublisher) Publish(ctx context.Context, _ queue.BookingEvent) error {
	select {
	case <-p.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n++
	return nil
}

func (p *blockingPublisher) Close() error { return nil }

func (p *blockingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

type apiFixture struct {
	e      *echo.Echo
	h      *handler.BookingHandler
	store  repository.BookingStore
	events *recordingPublisher
}

func newAPI(t *testing.T, store repository.BookingStore) *apiFixture {
	t.Helper()
	events := &recordingPublisher{}
	h := handler.NewBookingHandler(store, events, clock.NewFixed(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)), 50*time.Millisecond)
	e := echo.New()
	router.RegisterMiddleware(e, nil)
	router.RegisterRoutes(e)
	router.RegisterBookings(e, h)
	return &apiFixture{e: e, h: h, store: store, events: events}
}

// published waits for background publishes and returns the event types seen.
func (f *apiFixture) published() []string {
	f.h.Wait()
	return f.events.types()
}

func (f *apiFixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) create(t *testing.T, body string) model.Booking {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/bookings", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var b model.Booking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	return b
}

func decodeList(t *testing.T, rec *httptest.ResponseRecorder) []model.Booking {
	t.Helper()
	var out []model.Booking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func decodeMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Message
}

const johnBody = `{"name":"John","email":"john@example.com","event":"TechConf 2024"}`

func TestCreateDefaultsTicketType(t *testing.T) {
	api := newAPI(t, newMemoryStore())

	b := api.create(t, johnBody)
	assert.Equal(t, model.DefaultTicketType, b.TicketType)
	assert.Equal(t, "John", b.Name)
	assert.False(t, b.CreatedAt.IsZero())
	_, err := model.ParseID(b.ID)
	assert.NoError(t, err)
	assert.Equal(t, []string{queue.BookingCreated}, api.published())
}

func TestCreateKeepsTicketType(t *testing.T) {
	api := newAPI(t, newMemoryStore())
	b := api.create(t, `{"name":"John","email":"john@example.com","event":"TechConf 2024","ticketType":"VIP"}`)
	assert.Equal(t, "VIP", b.TicketType)
}

func TestCreateValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing name", `{"email":"john@example.com","event":"TechConf"}`},
		{"missing email", `{"name":"John","event":"TechConf"}`},
		{"missing event", `{"name":"John","email":"john@example.com"}`},
		{"empty name", `{"name":"","email":"john@example.com","event":"TechConf"}`},
		{"empty body", `{}`},
		{"malformed json", `{"name":`},
		{"wrong type", `{"name":1,"email":"john@example.com","event":"TechConf"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newAPI(t, newMemoryStore())
			rec := api.do(t, http.MethodPost, "/api/bookings", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, decodeMessage(t, rec))

			list := api.do(t, http.MethodGet, "/api/bookings", "")
			assert.Empty(t, decodeList(t, list), "nothing persisted")
			assert.Empty(t, api.published())
		})
	}
}

func TestCreateValidationListsFields(t *testing.T) {
	api := newAPI(t, newMemoryStore())
	rec := api.do(t, http.MethodPost, "/api/bookings", `{"name":"John"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Message string             `json:"message"`
		Errors  []model.FieldError `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Email is required, Event is required", body.Message)
	require.Len(t, body.Errors, 2)
	assert.Equal(t, "email", body.Errors[0].Field)
}

func TestGetReturnsCreated(t *testing.T) {
	api := newAPI(t, newMemoryStore())
	created := api.create(t, johnBody)

	for i := 0; i < 2; i++ {
		rec := api.do(t, http.MethodGet, "/api/bookings/"+created.ID, "")
		require.Equal(t, http.StatusOK, rec.Code)
		var got model.Booking
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, created, got)
	}
}

func TestGetErrors(t *testing.T) {
	api := newAPI(t, newMemoryStore())

	rec := api.do(t, http.MethodGet, "/api/bookings/not-an-id", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, handler.MsgInvalidID, decodeMessage(t, rec))

	rec = api.do(t, http.MethodGet, "/api/bookings/"+model.NewID(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, handler.MsgNotFound, decodeMessage(t, rec))
}

func TestDeleteThenGet(t *testing.T) {
	api := newAPI(t, newMemoryStore())
	created := api.create(t, johnBody)

	rec := api.do(t, http.MethodDelete, "/api/bookings/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, handler.MsgBookingDeleted, decodeMessage(t, rec))

	rec = api.do(t, http.MethodGet, "/api/bookings/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodDelete, "/api/bookings/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodDelete, "/api/bookings/xyz", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, []string{queue.BookingCreated, queue.BookingDeleted}, api.published())
}

func TestUpdateTicketTypeOnly(t *testing.T) {
	api := newAPI(t, newMemoryStore())
	created := api.create(t, johnBody)

	rec := api.do(t, http.MethodPut, "/api/bookings/"+created.ID, `{"ticketType":"VIP"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated model.Booking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "VIP", updated.TicketType)
	assert.Equal(t, created.Name, updated.Name)
	assert.Equal(t, created.Email, updated.Email)
	assert.Equal(t, created.Event, updated.Event)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)

	rec = api.do(t, http.MethodGet, "/api/bookings/"+created.ID, "")
	var got model.Booking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, updated, got)
	assert.Equal(t, []string{queue.BookingCreated, queue.BookingUpdated}, api.published())
}

func TestUpdateIgnoresImmutableFields(t *testing.T) {
	api := newAPI(t, newMemoryStore())
	created := api.create(t, johnBody)

	rec := api.do(t, http.MethodPut, "/api/bookings/"+created.ID, `{"id":"000000000000000000000000","createdAt":"2000-01-01T00:00:00Z","name":"Johnny"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var updated model.Booking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
	assert.Equal(t, "Johnny", updated.Name)
}

func TestUpdateErrors(t *testing.T) {
	api := newAPI(t, newMemoryStore())
	created := api.create(t, johnBody)

	tests := []struct {
		name   string
		id     string
		body   string
		status int
	}{
		{"blank name", created.ID, `{"name":""}`, http.StatusBadRequest},
		{"blank event", created.ID, `{"event":"  "}`, http.StatusBadRequest},
		{"malformed json", created.ID, `{"name":`, http.StatusBadRequest},
		{"malformed id", "123", `{"name":"x"}`, http.StatusBadRequest},
		{"unknown id", model.NewID(), `{"name":"x"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, http.MethodPut, "/api/bookings/"+tt.id, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	rec := api.do(t, http.MethodGet, "/api/bookings/"+created.ID, "")
	var got model.Booking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, created, got, "failed updates leave the record untouched")
}

func TestUpdateEmptyPatchReturnsRecord(t *testing.T) {
	api := newAPI(t, newMemoryStore())
	created := api.create(t, johnBody)

	rec := api.do(t, http.MethodPut, "/api/bookings/"+created.ID, `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{queue.BookingCreated}, api.published())
}

func TestSearchByEmail(t *testing.T) {
	api := newAPI(t, newMemoryStore())
	john := api.create(t, johnBody)
	api.create(t, `{"name":"Jane","email":"jane@example.org","event":"Synergia"}`)

	rec := api.do(t, http.MethodGet, "/api/bookings/search?email=JOHN", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeList(t, rec)
	require.Len(t, got, 1)
	assert.Equal(t, john.ID, got[0].ID)

	rec = api.do(t, http.MethodGet, "/api/bookings/search?email=example", "")
	assert.Len(t, decodeList(t, rec), 2)

	rec = api.do(t, http.MethodGet, "/api/bookings/search?email=nobody", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestFilterByEvent(t *testing.T) {
	api := newAPI(t, newMemoryStore())
	tech := api.create(t, johnBody)
	api.create(t, `{"name":"Jane","email":"jane@example.org","event":"Synergia"}`)

	rec := api.do(t, http.MethodGet, "/api/bookings/filter?event=conf", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeList(t, rec)
	require.Len(t, got, 1)
	assert.Equal(t, tech.ID, got[0].ID)
	assert.Equal(t, "TechConf 2024", got[0].Event)
}

func TestSearchRequiresParam(t *testing.T) {
	api := newAPI(t, newMemoryStore())

	for target, msg := range map[string]string{
		"/api/bookings/search":          "Query param 'email' is required",
		"/api/bookings/search?email=":   "Query param 'email' is required",
		"/api/bookings/search?email=%20": "Query param 'email' is required",
		"/api/bookings/filter":          "Query param 'event' is required",
		"/api/bookings/filter?name=x":   "Query param 'event' is required",
	} {
		rec := api.do(t, http.MethodGet, target, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.Equal(t, msg, decodeMessage(t, rec), target)
	}
}

func TestListOrderAndEmpty(t *testing.T) {
	api := newAPI(t, newMemoryStore())

	rec := api.do(t, http.MethodGet, "/api/bookings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	first := api.create(t, johnBody)
	second := api.create(t, `{"name":"Jane","email":"jane@example.org","event":"Synergia"}`)

	got := decodeList(t, api.do(t, http.MethodGet, "/api/bookings", ""))
	require.Len(t, got, 2)
	assert.Equal(t, second.ID, got[0].ID)
	assert.Equal(t, first.ID, got[1].ID)
}

func TestUnknownAPIRoutes(t *testing.T) {
	api := newAPI(t, newMemoryStore())

	for _, tc := range []struct{ method, target string }{
		{http.MethodGet, "/api/unknown"},
		{http.MethodGet, "/api"},
		{http.MethodPost, "/api/bookings/search"},
		{http.MethodPatch, "/api/bookings/" + model.NewID()},
		{http.MethodGet, "/api/bookings/" + model.NewID() + "/extra"},
		{http.MethodGet, "/api/bookings/" + model.NewID() + "/"},
		{http.MethodGet, "/api/bookings/search/x"},
		{http.MethodPut, "/api/bookings/filter/x"},
	} {
		rec := api.do(t, tc.method, tc.target, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, tc.method+" "+tc.target)
		assert.Equal(t, handler.MsgRouteNotFound, decodeMessage(t, rec), tc.method+" "+tc.target)
	}
}

func TestNestedPathUnderExistingBooking(t *testing.T) {
	api := newAPI(t, newMemoryStore())
	b := api.create(t, johnBody)

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		rec := api.do(t, method, "/api/bookings/"+b.ID+"/x", "")
		assert.Equal(t, http.StatusNotFound, rec.Code, method)
		assert.Equal(t, handler.MsgRouteNotFound, decodeMessage(t, rec), method)
	}

	rec := api.do(t, http.MethodGet, "/api/bookings/"+b.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code, "booking must survive")
	assert.Equal(t, []string{queue.BookingCreated}, api.published())
}

func TestRootAndHealth(t *testing.T) {
	api := newAPI(t, newMemoryStore())

	rec := api.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, handler.Banner, rec.Body.String())

	rec = api.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, "ok", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))

	rec = api.do(t, http.MethodGet, "/nowhere", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEqual(t, handler.MsgRouteNotFound, decodeMessage(t, rec))
}

func TestStoreFaults(t *testing.T) {
	api := newAPI(t, faultStore{err: errors.New("connection reset")})
	id := model.NewID()

	for _, tc := range []struct{ method, target, body string }{
		{http.MethodGet, "/api/bookings", ""},
		{http.MethodPost, "/api/bookings", johnBody},
		{http.MethodGet, "/api/bookings/" + id, ""},
		{http.MethodPut, "/api/bookings/" + id, `{"name":"x"}`},
		{http.MethodDelete, "/api/bookings/" + id, ""},
		{http.MethodGet, "/api/bookings/search?email=a", ""},
		{http.MethodGet, "/api/bookings/filter?event=a", ""},
	} {
		rec := api.do(t, tc.method, tc.target, tc.body)
		assert.Equal(t, http.StatusInternalServerError, rec.Code, tc.method+" "+tc.target)

		var body struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, handler.MsgServerError, body.Message)
		assert.Contains(t, body.Error, "connection reset")
	}
	assert.Empty(t, api.published())
}

func TestStoreTimeout(t *testing.T) {
	api := newAPI(t, faultStore{block: true})

	start := time.Now()
	rec := api.do(t, http.MethodGet, "/api/bookings", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestMalformedIDSkipsStore(t *testing.T) {
	api := newAPI(t, faultStore{err: errors.New("must not be called")})

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		rec := api.do(t, method, "/api/bookings/12345", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, method)
	}
}

func TestPublishFailureDoesNotFailRequest(t *testing.T) {
	store := newMemoryStore()
	api := newAPI(t, store)
	api.events.err = errors.New("broker down")

	start := time.Now()
	b := api.create(t, johnBody)
	assert.NotEmpty(t, b.ID)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, []string{queue.BookingCreated}, api.published())
}

func TestSlowPublisherDoesNotDelayResponse(t *testing.T) {
	release := make(chan struct{})
	events := &blockingPublisher{release: release}
	h := handler.NewBookingHandler(newMemoryStore(), events, nil, time.Second)
	e := echo.New()
	router.RegisterMiddleware(e, nil)
	router.RegisterBookings(e, h)

	req := httptest.NewRequest(http.MethodPost, "/api/bookings", strings.NewReader(johnBody))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)

	close(release)
	h.Wait()
	assert.Equal(t, 1, events.count())
}

func TestNewBookingHandlerRequiresStore(t *testing.T) {
	assert.Panics(t, func() { handler.NewBookingHandler(nil, nil, nil, 0) })

	h := handler.NewBookingHandler(newMemoryStore(), nil, nil, 0)
	assert.Equal(t, handler.DefaultStoreTimeout, h.Timeout)
	assert.NotNil(t, h.Events)
	assert.NotNil(t, h.Clock)
}
