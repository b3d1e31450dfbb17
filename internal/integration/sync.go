package integration

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jw6ventures/taskcal/internal/metrics"
	"github.com/jw6ventures/taskcal/internal/provider"
	"github.com/jw6ventures/taskcal/internal/store"
	"github.com/jw6ventures/taskcal/internal/tasks"
)

// DefaultCalendarName is the display name of the calendar sync writes into.
const DefaultCalendarName = "TaskCal"

// CalendarAPI is the remote calendar surface used by sync.
type CalendarAPI interface {
	ListCalendars(ctx context.Context, token string) ([]provider.Calendar, error)
	CreateCalendar(ctx context.Context, token, summary string) (*provider.Calendar, error)
	DeleteCalendar(ctx context.Context, token, calendarID string) error
	CreateEvent(ctx context.Context, token, calendarID string, ev provider.Event) (string, error)
	UpdateEvent(ctx context.Context, token, calendarID, eventID string, ev provider.Event) error
	DeleteEvent(ctx context.Context, token, calendarID, eventID string) error
}

// Result summarizes one sync run.
type Result struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Total   int `json:"total"`
}

// Syncer pushes a user's open, dated tasks into one reserved remote calendar.
type Syncer struct {
	tokens       *TokenManager
	calendar     CalendarAPI
	conns        store.ConnectionRepository
	mappings     store.EventMappingRepository
	tasks        store.TaskRepository
	calendarName string
	logger       *slog.Logger

	locks sync.Map // user id -> *sync.Mutex
}

// NewSyncer builds a Syncer. An empty calendarName uses DefaultCalendarName.
func NewSyncer(tokens *TokenManager, calendar CalendarAPI, s *store.Store, calendarName string, logger *slog.Logger) *Syncer {
	if calendarName == "" {
		calendarName = DefaultCalendarName
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		tokens:       tokens,
		calendar:     calendar,
		conns:        s.Connections,
		mappings:     s.EventMappings,
		tasks:        s.Tasks,
		calendarName: calendarName,
		logger:       logger,
	}
}

func (s *Syncer) lock(userID string) func() {
	v, _ := s.locks.LoadOrStore(userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Sync reconciles userID's remote calendar with their sync-eligible tasks. Per-event
// provider failures are logged and skipped; token, calendar and storage read failures
// abort the run.
func (s *Syncer) Sync(ctx context.Context, userID string) (*Result, error) {
	defer s.lock(userID)()

	res, err := s.run(ctx, userID)
	if err != nil {
		metrics.ObserveSyncRun("error")
		return nil, err
	}
	metrics.ObserveSyncRun("success")
	metrics.AddSyncOperations("created", res.Created)
	metrics.AddSyncOperations("updated", res.Updated)
	metrics.AddSyncOperations("deleted", res.Deleted)
	return res, nil
}

func (s *Syncer) run(ctx context.Context, userID string) (*Result, error) {
	cred, err := s.tokens.EnsureAccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}
	calendarID, err := s.resolveCalendar(ctx, cred)
	if err != nil {
		return nil, err
	}
	log := s.logger.With("user_id", userID, "calendar_id", calendarID)

	eligible, err := s.tasks.ListAccessible(ctx, userID, store.TaskFilter{SyncEligible: true})
	if err != nil {
		return nil, err
	}
	mappings, err := s.mappings.ListByConnection(ctx, cred.Connection.ID)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(eligible))
	for _, t := range eligible {
		wanted[t.ID] = true
	}
	res := &Result{Total: len(eligible)}

	// Deletion pass runs to completion before any upsert.
	mapped := make(map[string]store.EventMapping, len(mappings))
	for _, m := range mappings {
		if wanted[m.TaskID] {
			mapped[m.TaskID] = m
			continue
		}
		if err := s.calendar.DeleteEvent(ctx, cred.AccessToken, calendarID, m.EventID); err != nil && !provider.IsGone(err) {
			log.Warn("delete remote event failed", "task_id", m.TaskID, "event_id", m.EventID, "err", err)
		}
		if err := s.mappings.Delete(ctx, m.ConnectionID, m.TaskID); err != nil {
			return nil, err
		}
		res.Deleted++
	}

	for _, t := range eligible {
		ev := eventFor(t)
		if m, ok := mapped[t.ID]; ok {
			err := s.calendar.UpdateEvent(ctx, cred.AccessToken, calendarID, m.EventID, ev)
			if err == nil {
				res.Updated++
				continue
			}
			log.Warn("update remote event failed, recreating", "task_id", t.ID, "event_id", m.EventID, "err", err)
			if err := s.mappings.Delete(ctx, m.ConnectionID, t.ID); err != nil {
				log.Error("drop stale event mapping failed", "task_id", t.ID, "err", err)
				continue
			}
		}

		eventID, err := s.calendar.CreateEvent(ctx, cred.AccessToken, calendarID, ev)
		if err != nil {
			log.Warn("create remote event failed", "task_id", t.ID, "err", err)
			continue
		}
		if err := s.mappings.Upsert(ctx, store.EventMapping{ConnectionID: cred.Connection.ID, TaskID: t.ID, EventID: eventID}); err != nil {
			log.Error("store event mapping failed, removing remote event", "task_id", t.ID, "event_id", eventID, "err", err)
			if derr := s.calendar.DeleteEvent(ctx, cred.AccessToken, calendarID, eventID); derr != nil {
				log.Warn("remove unmapped remote event failed", "event_id", eventID, "err", derr)
			}
			continue
		}
		res.Created++
	}
	return res, nil
}

// resolveCalendar returns the stored calendar id, adopting a calendar with the reserved
// name or creating one when none is stored. The store keeps the first id written, so
// concurrent first syncs converge on one calendar.
func (s *Syncer) resolveCalendar(ctx context.Context, cred *Credential) (string, error) {
	if id := cred.Connection.CalendarID; id != nil && *id != "" {
		return *id, nil
	}
	cals, err := s.calendar.ListCalendars(ctx, cred.AccessToken)
	if err != nil {
		return "", err
	}
	candidate := ""
	for _, c := range cals {
		if c.Summary == s.calendarName {
			candidate = c.ID
			break
		}
	}
	created := false
	if candidate == "" {
		cal, err := s.calendar.CreateCalendar(ctx, cred.AccessToken, s.calendarName)
		if err != nil {
			return "", err
		}
		candidate = cal.ID
		created = true
	}
	stored, err := s.conns.SetCalendarID(ctx, cred.Connection.ID, candidate)
	if err != nil {
		return "", err
	}
	if stored != candidate {
		s.logger.Warn("calendar id already stored by a concurrent sync", "kept", stored, "discarded", candidate)
		// A calendar this run created is empty and unreferenced once it loses.
		if created {
			if err := s.calendar.DeleteCalendar(ctx, cred.AccessToken, candidate); err != nil {
				s.logger.Warn("remove discarded calendar failed", "calendar_id", candidate, "err", err)
			}
		}
	}
	return stored, nil
}

func eventFor(t store.Task) provider.Event {
	start, end := tasks.EventWindow(*t.DueDate)
	return provider.Event{
		Summary:     t.Title,
		Description: tasks.EventDescription(t),
		Start:       start,
		End:         end,
	}
}
