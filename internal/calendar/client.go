package calendar

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/teemow/calendarmcp/internal/instrumentation"
)

// Client wraps the Calendar v3 service for a single authenticated session.
type Client struct {
	svc         *calendar.Service
	defaultZone string
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	defaultZone string
	apiOptions  []option.ClientOption
}

// WithDefaultTimeZone sets the zone applied to date-times that carry none.
func WithDefaultTimeZone(zone string) Option {
	return func(o *clientOptions) { o.defaultZone = zone }
}

// WithEndpoint points the client at a different API base URL.
func WithEndpoint(endpoint string) Option {
	return func(o *clientOptions) {
		o.apiOptions = append(o.apiOptions, option.WithEndpoint(endpoint))
	}
}

// NewClient creates a Calendar client that authorizes through httpClient.
// The caller owns token freshness; see google.NewAuthorizedClient.
func NewClient(ctx context.Context, httpClient *http.Client, opts ...Option) (*Client, error) {
	if httpClient == nil {
		return nil, fmt.Errorf("http client cannot be nil")
	}

	o := clientOptions{defaultZone: "UTC"}
	for _, opt := range opts {
		opt(&o)
	}

	apiOpts := append([]option.ClientOption{option.WithHTTPClient(httpClient)}, o.apiOptions...)
	svc, err := calendar.NewService(ctx, apiOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}

	return &Client{svc: svc, defaultZone: o.defaultZone}, nil
}

// DefaultTimeZone returns the zone applied to events created without one.
func (c *Client) DefaultTimeZone() string {
	return c.defaultZone
}

// ListEvents returns the events matching opts.
func (c *Client) ListEvents(ctx context.Context, opts ListOptions) (_ []Event, err error) {
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceCalendar, instrumentation.OperationList)
	defer func() { instrumentation.EndSpan(span, err) }()

	if opts.CalendarID == "" {
		opts.CalendarID = PrimaryCalendar
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}

	call := c.svc.Events.List(opts.CalendarID).
		Context(ctx).
		MaxResults(opts.MaxResults).
		SingleEvents(opts.SingleEvents).
		ShowDeleted(opts.ShowDeleted)
	if opts.TimeMin != "" {
		call = call.TimeMin(opts.TimeMin)
	}
	if opts.TimeMax != "" {
		call = call.TimeMax(opts.TimeMax)
	}
	if opts.Query != "" {
		call = call.Q(opts.Query)
	}
	if opts.OrderBy != "" {
		call = call.OrderBy(opts.OrderBy)
	}
	if opts.TimeZone != "" {
		call = call.TimeZone(opts.TimeZone)
	}

	resp, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	events := make([]Event, 0, len(resp.Items))
	for _, item := range resp.Items {
		events = append(events, toEvent(item))
	}
	return events, nil
}

// SearchEventsWithAttachments lists events matching query and keeps those
// that carry at least one attachment.
func (c *Client) SearchEventsWithAttachments(ctx context.Context, query string, maxResults int64) ([]Event, error) {
	events, err := c.ListEvents(ctx, ListOptions{
		Query:        query,
		MaxResults:   maxResults,
		SingleEvents: true,
		OrderBy:      OrderByStartTime,
	})
	if err != nil {
		return nil, err
	}

	withAttachments := events[:0]
	for _, ev := range events {
		if len(ev.Attachments) > 0 {
			withAttachments = append(withAttachments, ev)
		}
	}
	return withAttachments, nil
}

// GetEvent retrieves a specific event by id.
func (c *Client) GetEvent(ctx context.Context, calendarID, eventID string) (_ *Event, err error) {
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceCalendar, instrumentation.OperationGet)
	defer func() { instrumentation.EndSpan(span, err) }()

	ev, err := c.svc.Events.Get(orPrimary(calendarID), eventID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	out := toEvent(ev)
	return &out, nil
}

// CreateEvent inserts a new event. Summary, Start and End are required.
func (c *Client) CreateEvent(ctx context.Context, calendarID string, in EventInput) (_ *Event, err error) {
	if in.Summary == "" || in.Start == "" || in.End == "" {
		return nil, fmt.Errorf("summary, start and end are required")
	}

	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceCalendar, instrumentation.OperationCreate)
	defer func() { instrumentation.EndSpan(span, err) }()

	ev := &calendar.Event{}
	in.apply(ev, c.defaultZone)

	created, err := c.svc.Events.Insert(orPrimary(calendarID), ev).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	out := toEvent(created)
	return &out, nil
}

// UpdateEvent patches the fields set in in, leaving the rest of the event unchanged.
func (c *Client) UpdateEvent(ctx context.Context, calendarID, eventID string, in EventInput) (_ *Event, err error) {
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceCalendar, instrumentation.OperationUpdate)
	defer func() { instrumentation.EndSpan(span, err) }()

	patch := &calendar.Event{}
	in.apply(patch, c.defaultZone)

	updated, err := c.svc.Events.Patch(orPrimary(calendarID), eventID, patch).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to update event: %w", err)
	}
	out := toEvent(updated)
	return &out, nil
}

// DeleteEvent deletes a calendar event.
func (c *Client) DeleteEvent(ctx context.Context, calendarID, eventID string) (err error) {
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceCalendar, instrumentation.OperationDelete)
	defer func() { instrumentation.EndSpan(span, err) }()

	if err := c.svc.Events.Delete(orPrimary(calendarID), eventID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return nil
}

// ListColors returns the event color palette ordered by numeric id.
func (c *Client) ListColors(ctx context.Context) (_ []Color, err error) {
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceCalendar, instrumentation.OperationList)
	defer func() { instrumentation.EndSpan(span, err) }()

	resp, err := c.svc.Colors.Get().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get colors: %w", err)
	}

	colors := make([]Color, 0, len(resp.Event))
	for id, def := range resp.Event {
		colors = append(colors, Color{ID: id, Background: def.Background, Foreground: def.Foreground})
	}
	sort.Slice(colors, func(i, j int) bool {
		a, errA := strconv.Atoi(colors[i].ID)
		b, errB := strconv.Atoi(colors[j].ID)
		if errA != nil || errB != nil {
			return colors[i].ID < colors[j].ID
		}
		return a < b
	})
	return colors, nil
}

func orPrimary(calendarID string) string {
	if calendarID == "" {
		return PrimaryCalendar
	}
	return calendarID
}
