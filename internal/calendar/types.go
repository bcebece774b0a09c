package calendar

import (
	"strings"

	calendar "google.golang.org/api/calendar/v3"
)

// PrimaryCalendar is the calendar id Google resolves to the user's main calendar.
const PrimaryCalendar = "primary"

// DefaultMaxResults bounds list and search calls when the caller does not.
const DefaultMaxResults = 10

// Order values accepted by ListOptions.OrderBy.
const (
	OrderByStartTime = "startTime"
	OrderByUpdated   = "updated"
)

// EventInput describes the fields of an event to create or patch.
// Zero values are left untouched on update.
type EventInput struct {
	Summary     string
	Description string
	Location    string

	// Start and End are RFC3339 date-times, or YYYY-MM-DD dates for all-day events.
	Start    string
	End      string
	TimeZone string

	Attendees  []string
	ColorID    string
	Recurrence []string // RRULE, EXRULE, RDATE, EXDATE lines

	Reminders *Reminders
}

// Reminders overrides the calendar's default notifications.
type Reminders struct {
	UseDefault bool
	Overrides  []ReminderOverride
}

// ReminderOverride is a single notification before the event starts.
type ReminderOverride struct {
	Method  string // "email" or "popup"
	Minutes int64
}

// ListOptions filter an event listing.
type ListOptions struct {
	CalendarID string
	// TimeMin and TimeMax are RFC3339 timestamps. Empty means unbounded.
	TimeMin      string
	TimeMax      string
	Query        string
	MaxResults   int64
	OrderBy      string
	SingleEvents bool
	ShowDeleted  bool
	// TimeZone is used for times in the response.
	TimeZone string
}

// Event is the subset of a Google Calendar event returned by the tools.
// Start and End hold the dateTime, or the date for all-day events.
type Event struct {
	ID          string
	Summary     string
	Description string
	Location    string
	Status      string
	Start       string
	End         string
	TimeZone    string
	ColorID     string
	Attendees   []string
	Recurrence  []string
	Attachments []Attachment
	HTMLLink    string
	Created     string
	Updated     string
}

// Attachment is a file linked to an event.
type Attachment struct {
	Title    string
	MimeType string
	FileURL  string
}

// Color is one entry of the event color palette.
type Color struct {
	ID         string
	Background string
	Foreground string
}

func toEvent(ev *calendar.Event) Event {
	if ev == nil {
		return Event{}
	}

	out := Event{
		ID:          ev.Id,
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		Status:      ev.Status,
		ColorID:     ev.ColorId,
		Recurrence:  ev.Recurrence,
		HTMLLink:    ev.HtmlLink,
		Created:     ev.Created,
		Updated:     ev.Updated,
	}
	out.Start, out.TimeZone = eventTime(ev.Start)
	out.End, _ = eventTime(ev.End)

	for _, a := range ev.Attendees {
		out.Attendees = append(out.Attendees, a.Email)
	}
	for _, a := range ev.Attachments {
		out.Attachments = append(out.Attachments, Attachment{
			Title:    a.Title,
			MimeType: a.MimeType,
			FileURL:  a.FileUrl,
		})
	}
	return out
}

func eventTime(t *calendar.EventDateTime) (value, zone string) {
	if t == nil {
		return "", ""
	}
	if t.DateTime != "" {
		return t.DateTime, t.TimeZone
	}
	return t.Date, t.TimeZone
}

// isDate reports whether s is a YYYY-MM-DD date rather than a date-time.
func isDate(s string) bool {
	return len(s) == len("2006-01-02") && !strings.Contains(s, "T")
}

func toEventDateTime(value, zone string) *calendar.EventDateTime {
	if isDate(value) {
		return &calendar.EventDateTime{Date: value}
	}
	return &calendar.EventDateTime{DateTime: value, TimeZone: zone}
}

// apply copies the non-zero fields of in onto ev.
func (in EventInput) apply(ev *calendar.Event, defaultZone string) {
	if in.Summary != "" {
		ev.Summary = in.Summary
	}
	if in.Description != "" {
		ev.Description = in.Description
	}
	if in.Location != "" {
		ev.Location = in.Location
	}
	if in.ColorID != "" {
		ev.ColorId = in.ColorID
	}

	zone := in.TimeZone
	if zone == "" {
		zone = defaultZone
	}
	if in.Start != "" {
		ev.Start = toEventDateTime(in.Start, zone)
	}
	if in.End != "" {
		ev.End = toEventDateTime(in.End, zone)
	}

	if len(in.Attendees) > 0 {
		ev.Attendees = make([]*calendar.EventAttendee, 0, len(in.Attendees))
		for _, email := range in.Attendees {
			ev.Attendees = append(ev.Attendees, &calendar.EventAttendee{Email: email})
		}
	}
	if len(in.Recurrence) > 0 {
		ev.Recurrence = in.Recurrence
	}

	if in.Reminders != nil {
		rem := &calendar.EventReminders{
			UseDefault:      in.Reminders.UseDefault,
			ForceSendFields: []string{"UseDefault"},
		}
		for _, o := range in.Reminders.Overrides {
			method := o.Method
			if method == "" {
				method = "popup"
			}
			rem.Overrides = append(rem.Overrides, &calendar.EventReminder{
				Method:          method,
				Minutes:         o.Minutes,
				ForceSendFields: []string{"Minutes"},
			})
		}
		ev.Reminders = rem
	}
}
