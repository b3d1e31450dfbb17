package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jw6ventures/taskcal/internal/apperr"
	"github.com/jw6ventures/taskcal/internal/metrics"
	"github.com/jw6ventures/taskcal/internal/schema"
)

// DefaultCalendarBaseURL is the Google Calendar v3 REST root.
const DefaultCalendarBaseURL = "https://www.googleapis.com/calendar/v3"

const maxResponseBytes = 1 << 20

var (
	calendarListSchema = schema.MustCompile("provider-calendar-list.json", `{
	"type": "object",
	"properties": {
		"items": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {"id": {"type": "string", "minLength": 1}, "summary": {"type": "string"}},
				"required": ["id"]
			}
		},
		"nextPageToken": {"type": "string"}
	}
}`)
	resourceSchema = schema.MustCompile("provider-resource.json", `{
	"type": "object",
	"properties": {"id": {"type": "string", "minLength": 1}},
	"required": ["id"]
}`)
)

// Calendar is a remote calendar.
type Calendar struct {
	ID      string `json:"id"`
	Summary string `json:"summary"`
}

// Event is the payload written for one task. Times are sent in UTC.
type Event struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
}

type eventTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type eventBody struct {
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Start       eventTime `json:"start"`
	End         eventTime `json:"end"`
}

func (e Event) body() eventBody {
	return eventBody{
		Summary:     e.Summary,
		Description: e.Description,
		Start:       eventTime{DateTime: e.Start.UTC().Format(time.RFC3339), TimeZone: "UTC"},
		End:         eventTime{DateTime: e.End.UTC().Format(time.RFC3339), TimeZone: "UTC"},
	}
}

// CalendarClientOptions configures a CalendarClient.
type CalendarClientOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string
}

// CalendarClient calls the calendar REST API with a caller-supplied bearer token.
type CalendarClient struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

// NewCalendarClient builds a CalendarClient.
func NewCalendarClient(opts CalendarClientOptions) *CalendarClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultCalendarBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &CalendarClient{baseURL: baseURL, httpClient: httpClient, userAgent: strings.TrimSpace(opts.UserAgent)}
}

// ListCalendars returns every calendar on the account, following pagination.
func (c *CalendarClient) ListCalendars(ctx context.Context, token string) ([]Calendar, error) {
	var all []Calendar
	pageToken := ""
	for {
		path := "/users/me/calendarList?minAccessRole=owner"
		if pageToken != "" {
			path += "&pageToken=" + url.QueryEscape(pageToken)
		}
		body, err := c.do(ctx, "calendar.list", http.MethodGet, path, token, nil)
		if err != nil {
			return nil, err
		}
		if err := validate("calendar.list", calendarListSchema, body); err != nil {
			return nil, err
		}
		var page struct {
			Items         []Calendar `json:"items"`
			NextPageToken string     `json:"nextPageToken"`
		}
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, apperr.ProviderAPI("calendar.list", http.StatusOK, err.Error())
		}
		all = append(all, page.Items...)
		if page.NextPageToken == "" {
			return all, nil
		}
		pageToken = page.NextPageToken
	}
}

// CreateCalendar creates a calendar named summary.
func (c *CalendarClient) CreateCalendar(ctx context.Context, token, summary string) (*Calendar, error) {
	payload := map[string]string{"summary": summary, "timeZone": "UTC"}
	body, err := c.do(ctx, "calendar.create", http.MethodPost, "/calendars", token, payload)
	if err != nil {
		return nil, err
	}
	if err := validate("calendar.create", resourceSchema, body); err != nil {
		return nil, err
	}
	var cal Calendar
	if err := json.Unmarshal(body, &cal); err != nil {
		return nil, apperr.ProviderAPI("calendar.create", http.StatusOK, err.Error())
	}
	return &cal, nil
}

// DeleteCalendar removes a secondary calendar and its events.
func (c *CalendarClient) DeleteCalendar(ctx context.Context, token, calendarID string) error {
	_, err := c.do(ctx, "calendar.delete", http.MethodDelete, "/calendars/"+url.PathEscape(calendarID), token, nil)
	return err
}

// CreateEvent inserts an event and returns its remote id.
func (c *CalendarClient) CreateEvent(ctx context.Context, token, calendarID string, ev Event) (string, error) {
	body, err := c.do(ctx, "event.create", http.MethodPost, eventsPath(calendarID, ""), token, ev.body())
	if err != nil {
		return "", err
	}
	if err := validate("event.create", resourceSchema, body); err != nil {
		return "", err
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return "", apperr.ProviderAPI("event.create", http.StatusOK, err.Error())
	}
	return created.ID, nil
}

// UpdateEvent patches an existing event in place.
func (c *CalendarClient) UpdateEvent(ctx context.Context, token, calendarID, eventID string, ev Event) error {
	_, err := c.do(ctx, "event.update", http.MethodPatch, eventsPath(calendarID, eventID), token, ev.body())
	return err
}

// DeleteEvent removes an event.
func (c *CalendarClient) DeleteEvent(ctx context.Context, token, calendarID, eventID string) error {
	_, err := c.do(ctx, "event.delete", http.MethodDelete, eventsPath(calendarID, eventID), token, nil)
	return err
}

func eventsPath(calendarID, eventID string) string {
	p := "/calendars/" + url.PathEscape(calendarID) + "/events"
	if eventID != "" {
		p += "/" + url.PathEscape(eventID)
	}
	return p
}

func (c *CalendarClient) do(ctx context.Context, op, method, path, token string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveProviderRequest(op, 0, start)
		return nil, apperr.ProviderAPI(op, 0, err.Error())
	}
	defer resp.Body.Close()
	metrics.ObserveProviderRequest(op, resp.StatusCode, start)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, apperr.ProviderAPI(op, resp.StatusCode, err.Error())
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperr.ProviderAPI(op, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func validate(op string, v *schema.Validator, body []byte) error {
	if err := v.Validate(body); err != nil {
		return apperr.ProviderAPI(op, http.StatusOK, fmt.Sprintf("unexpected response: %v", err))
	}
	return nil
}

// IsGone reports whether err is a provider 404 or 410, meaning the remote object no
// longer exists.
func IsGone(err error) bool {
	var e *apperr.Error
	if !errors.As(err, &e) || e.Kind != apperr.KindProviderAPI {
		return false
	}
	return e.Status == http.StatusNotFound || e.Status == http.StatusGone
}
