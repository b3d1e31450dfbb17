package integration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jw6ventures/taskcal/internal/apperr"
	"github.com/jw6ventures/taskcal/internal/provider"
	"github.com/jw6ventures/taskcal/internal/seal"
	"github.com/jw6ventures/taskcal/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeCalendar is an in-memory CalendarAPI.
type fakeCalendar struct {
	mu        sync.Mutex
	seq       int
	calendars []provider.Calendar
	events    map[string]provider.Event

	createdCalendars int
	deletedCalendars []string
	deletes          []string
	failUpdate       bool
	failDelete       bool
	failCreate       bool
	tokens           []string
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{events: map[string]provider.Event{}}
}

func (f *fakeCalendar) ListCalendars(_ context.Context, token string) ([]provider.Calendar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
	return append([]provider.Calendar(nil), f.calendars...), nil
}

func (f *fakeCalendar) CreateCalendar(_ context.Context, token, summary string) (*provider.Calendar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.createdCalendars++
	c := provider.Calendar{ID: fmt.Sprintf("cal-%d", f.seq), Summary: summary}
	f.calendars = append(f.calendars, c)
	return &c, nil
}

func (f *fakeCalendar) DeleteCalendar(_ context.Context, token, calendarID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedCalendars = append(f.deletedCalendars, calendarID)
	kept := f.calendars[:0]
	for _, c := range f.calendars {
		if c.ID != calendarID {
			kept = append(kept, c)
		}
	}
	f.calendars = kept
	return nil
}

// racingConnections stores winner as the calendar id just before the syncer's own write,
// as a concurrent sync on another instance would.
type racingConnections struct {
	store.ConnectionRepository
	winner string
}

func (r racingConnections) SetCalendarID(ctx context.Context, id, calendarID string) (string, error) {
	if _, err := r.ConnectionRepository.SetCalendarID(ctx, id, r.winner); err != nil {
		return "", err
	}
	return r.ConnectionRepository.SetCalendarID(ctx, id, calendarID)
}

func (f *fakeCalendar) CreateEvent(_ context.Context, token, calendarID string, ev provider.Event) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate {
		return "", apperr.ProviderAPI("create event", http.StatusInternalServerError, "boom")
	}
	f.seq++
	id := fmt.Sprintf("ev-%d", f.seq)
	f.events[id] = ev
	return id, nil
}

func (f *fakeCalendar) UpdateEvent(_ context.Context, token, calendarID, eventID string, ev provider.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpdate {
		return apperr.ProviderAPI("update event", http.StatusNotFound, "gone")
	}
	f.events[eventID] = ev
	return nil
}

func (f *fakeCalendar) DeleteEvent(_ context.Context, token, calendarID, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, eventID)
	if f.failDelete {
		return apperr.ProviderAPI("delete event", http.StatusInternalServerError, "boom")
	}
	delete(f.events, eventID)
	return nil
}

func (f *fakeCalendar) eventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

// fakeRefresher hands out a scripted token or error and counts calls.
type fakeRefresher struct {
	mu    sync.Mutex
	calls int
	got   []string
	token *provider.Token
	err   error
}

func (f *fakeRefresher) Refresh(_ context.Context, refreshToken string) (*provider.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.got = append(f.got, refreshToken)
	if f.err != nil {
		return nil, f.err
	}
	tok := *f.token
	return &tok, nil
}

// blockingRefresher holds each refresh until release is closed and records whether the
// context it ran under was cancelled by then.
type blockingRefresher struct {
	entered chan struct{}
	release chan struct{}
	token   *provider.Token
	mu      sync.Mutex
	calls   int
	ctxErrs []error
}

func (b *blockingRefresher) Refresh(ctx context.Context, _ string) (*provider.Token, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	b.entered <- struct{}{}
	<-b.release
	b.mu.Lock()
	b.ctxErrs = append(b.ctxErrs, ctx.Err())
	b.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tok := *b.token
	return &tok, nil
}

// failingMappings rejects every Upsert.
type failingMappings struct {
	store.EventMappingRepository
}

func (failingMappings) Upsert(context.Context, store.EventMapping) error {
	return fmt.Errorf("disk full")
}

func mustSealer(t *testing.T) *seal.Sealer {
	t.Helper()
	s, err := seal.New("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	if err != nil {
		t.Fatalf("seal.New: %v", err)
	}
	return s
}

// seedConnection stores a connection with sealed tokens. An empty refresh stores none.
func seedConnection(t *testing.T, s *store.Store, sealer *seal.Sealer, userID, access, refresh string, expiresAt time.Time) *store.Connection {
	t.Helper()
	sealedAccess, err := sealer.Seal(access)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	c := store.Connection{UserID: userID, Provider: provider.Name, AccessToken: sealedAccess, AccountEmail: "me@example.com"}
	if refresh != "" {
		r, err := sealer.Seal(refresh)
		if err != nil {
			t.Fatalf("seal: %v", err)
		}
		c.RefreshToken = &r
	}
	if !expiresAt.IsZero() {
		c.ExpiresAt = &expiresAt
	}
	saved, err := s.Connections.Upsert(context.Background(), c)
	if err != nil {
		t.Fatalf("upsert connection: %v", err)
	}
	return saved
}
