package calendar_tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/calendarmcp/internal/auth"
	"github.com/teemow/calendarmcp/internal/calendar"
	"github.com/teemow/calendarmcp/internal/google"
	"github.com/teemow/calendarmcp/internal/instrumentation"
	"github.com/teemow/calendarmcp/internal/server"
	"github.com/teemow/calendarmcp/internal/tools/common"
)

// maxReminderMinutes is the four week limit Google applies to reminders.
const maxReminderMinutes = 40320

// RegisterEventTools registers the read-only calendar tools.
func RegisterEventTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	listEventsTool := mcp.NewTool("list_calendar_events",
		mcp.WithDescription("List events of the primary calendar within a date range, ordered by start time"),
		common.SessionIDParam(),
		mcp.WithString("start_date",
			mcp.Description("Start date (YYYY-MM-DD or RFC3339). Defaults to now."),
		),
		mcp.WithString("end_date",
			mcp.Description("End date (YYYY-MM-DD or RFC3339), inclusive. Defaults to unbounded."),
		),
		mcp.WithNumber("max_results",
			mcp.Description("Maximum number of events to return (default: 10)"),
		),
	)
	s.AddTool(listEventsTool, instrumented("list_calendar_events", instrumentation.OperationList, sc, handleListEvents))

	listColorsTool := mcp.NewTool("list_colors",
		mcp.WithDescription("List the color IDs available for calendar events"),
		common.SessionIDParam(),
	)
	s.AddTool(listColorsTool, instrumented("list_colors", instrumentation.OperationList, sc, handleListColors))

	attachmentsTool := mcp.NewTool("search_events_with_attachments",
		mcp.WithDescription("Search calendar events that have files attached"),
		common.SessionIDParam(),
		mcp.WithString("query",
			mcp.Description("Free text search terms matched against event fields"),
		),
		mcp.WithNumber("max_results",
			mcp.Description("Maximum number of events to search (default: 10)"),
		),
	)
	s.AddTool(attachmentsTool, instrumented("search_events_with_attachments", instrumentation.OperationSearch, sc, handleSearchEventsWithAttachments))

	searchTool := mcp.NewTool("search_calendar_events",
		mcp.WithDescription("Search calendar events by free text with optional date range and ordering"),
		common.SessionIDParam(),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Free text search terms matched against summary, description, location and attendees"),
		),
		mcp.WithString("start_date",
			mcp.Description("Start date (YYYY-MM-DD or RFC3339). Defaults to now."),
		),
		mcp.WithString("end_date",
			mcp.Description("End date (YYYY-MM-DD or RFC3339), inclusive"),
		),
		mcp.WithNumber("max_results",
			mcp.Description("Maximum number of events to return (default: 10)"),
		),
		mcp.WithString("order_by",
			mcp.Description("Order of the results: 'startTime' (default) or 'updated'"),
			mcp.Enum(calendar.OrderByStartTime, calendar.OrderByUpdated),
		),
		mcp.WithString("timezone",
			mcp.Description("Time zone used in the response (e.g. 'Europe/Berlin')"),
		),
		mcp.WithBoolean("include_deleted",
			mcp.Description("Include cancelled events (default: false)"),
		),
		mcp.WithBoolean("single_events",
			mcp.Description("Expand recurring events into instances (default: true). Required for ordering by startTime."),
		),
	)
	s.AddTool(searchTool, instrumented("search_calendar_events", instrumentation.OperationSearch, sc, handleSearchEvents))

	return nil
}

// RegisterEventWriteTools registers the tools that modify the calendar.
func RegisterEventWriteTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	createTool := mcp.NewTool("create_calendar_event",
		append([]mcp.ToolOption{
			mcp.WithDescription("Create an event in the primary calendar"),
			common.SessionIDParam(),
			mcp.WithString("summary",
				mcp.Required(),
				mcp.Description("Event title"),
			),
			mcp.WithString("start",
				mcp.Required(),
				mcp.Description("Start as date-time ('2025-03-20T10:00:00', RFC3339) or date ('2025-03-20') for all-day events"),
			),
			mcp.WithString("end",
				mcp.Required(),
				mcp.Description("End as date-time or date, matching start"),
			),
		}, eventFieldOptions()...)...,
	)
	s.AddTool(createTool, instrumented("create_calendar_event", instrumentation.OperationCreate, sc, handleCreateEvent))

	updateTool := mcp.NewTool("update_calendar_event",
		append([]mcp.ToolOption{
			mcp.WithDescription("Update an event in the primary calendar. Only the given fields change."),
			common.SessionIDParam(),
			mcp.WithString("event_id",
				mcp.Required(),
				mcp.Description("ID of the event to update"),
			),
			mcp.WithString("summary",
				mcp.Description("New event title"),
			),
			mcp.WithString("start",
				mcp.Description("New start as date-time or date"),
			),
			mcp.WithString("end",
				mcp.Description("New end as date-time or date"),
			),
		}, eventFieldOptions()...)...,
	)
	s.AddTool(updateTool, instrumented("update_calendar_event", instrumentation.OperationUpdate, sc, handleUpdateEvent))

	deleteTool := mcp.NewTool("delete_calendar_event",
		mcp.WithDescription("Delete an event from the primary calendar"),
		common.SessionIDParam(),
		mcp.WithString("event_id",
			mcp.Required(),
			mcp.Description("ID of the event to delete"),
		),
	)
	s.AddTool(deleteTool, instrumented("delete_calendar_event", instrumentation.OperationDelete, sc, handleDeleteEvent))

	return nil
}

func eventFieldOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("description",
			mcp.Description("Event description"),
		),
		mcp.WithString("location",
			mcp.Description("Event location"),
		),
		mcp.WithString("timezone",
			mcp.Description("IANA time zone for date-times without an offset (e.g. 'America/New_York'). Defaults to the server's zone."),
		),
		mcp.WithString("attendees",
			mcp.Description("Comma-separated list of attendee email addresses"),
		),
		mcp.WithString("color_id",
			mcp.Description("Event color ID, see list_colors"),
		),
		mcp.WithString("recurrence",
			mcp.Description("RFC 5545 recurrence rules, one per line (e.g. 'RRULE:FREQ=WEEKLY;COUNT=5')"),
		),
		mcp.WithString("reminder_minutes",
			mcp.Description("Comma-separated popup reminders in minutes before the event (e.g. '30,1440')"),
		),
		mcp.WithBoolean("use_default_reminders",
			mcp.Description("Use the calendar's default reminders instead of reminder_minutes"),
		),
	}
}

func instrumented(toolName, operation string, sc *server.ServerContext, fn eventHandler) mcpserver.ToolHandlerFunc {
	return common.InstrumentedToolHandler(toolName, google.ServiceCalendar, operation, sc, calendarHandler(sc, fn))
}

func handleListEvents(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext, session *auth.Session, client *calendar.Client) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	timeMin, err := rangeStart(common.StringArg(args, "start_date"), time.Now())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	timeMax, err := rangeEnd(common.StringArg(args, "end_date"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	events, err := client.ListEvents(ctx, calendar.ListOptions{
		TimeMin:      timeMin,
		TimeMax:      timeMax,
		MaxResults:   common.IntArg(args, "max_results", calendar.DefaultMaxResults),
		SingleEvents: true,
		OrderBy:      calendar.OrderByStartTime,
	})
	if err != nil {
		return common.APIErrorResult(ctx, sc, session, google.ServiceCalendar, err), nil
	}
	if len(events) == 0 {
		return mcp.NewToolResultText("No events found in the specified time range."), nil
	}
	return mcp.NewToolResultText(formatEvents("Calendar Events:", events, 0)), nil
}

func handleListColors(ctx context.Context, _ mcp.CallToolRequest, sc *server.ServerContext, session *auth.Session, client *calendar.Client) (*mcp.CallToolResult, error) {
	colors, err := client.ListColors(ctx)
	if err != nil {
		return common.APIErrorResult(ctx, sc, session, google.ServiceCalendar, err), nil
	}
	return mcp.NewToolResultText(formatColors(colors)), nil
}

func handleSearchEventsWithAttachments(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext, session *auth.Session, client *calendar.Client) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	events, err := client.SearchEventsWithAttachments(ctx,
		common.StringArg(args, "query"),
		common.IntArg(args, "max_results", calendar.DefaultMaxResults))
	if err != nil {
		return common.APIErrorResult(ctx, sc, session, google.ServiceCalendar, err), nil
	}
	if len(events) == 0 {
		return mcp.NewToolResultText("No events with attachments found."), nil
	}
	return mcp.NewToolResultText(formatEvents("Events with Attachments:", events, fieldAttachments)), nil
}

func handleSearchEvents(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext, session *auth.Session, client *calendar.Client) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	query := common.StringArg(args, "query")
	if query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}

	orderBy := common.StringArg(args, "order_by")
	if orderBy == "" {
		orderBy = calendar.OrderByStartTime
	}
	if orderBy != calendar.OrderByStartTime && orderBy != calendar.OrderByUpdated {
		return mcp.NewToolResultError(fmt.Sprintf("invalid order_by %q: expected 'startTime' or 'updated'", orderBy)), nil
	}
	singleEvents := common.BoolArg(args, "single_events", true)
	if orderBy == calendar.OrderByStartTime && !singleEvents {
		return mcp.NewToolResultError("ordering by startTime requires single_events"), nil
	}

	timeMin, err := rangeStart(common.StringArg(args, "start_date"), time.Now())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	timeMax, err := rangeEnd(common.StringArg(args, "end_date"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	events, err := client.ListEvents(ctx, calendar.ListOptions{
		TimeMin:      timeMin,
		TimeMax:      timeMax,
		Query:        query,
		MaxResults:   common.IntArg(args, "max_results", calendar.DefaultMaxResults),
		OrderBy:      orderBy,
		SingleEvents: singleEvents,
		ShowDeleted:  common.BoolArg(args, "include_deleted", false),
		TimeZone:     common.StringArg(args, "timezone"),
	})
	if err != nil {
		return common.APIErrorResult(ctx, sc, session, google.ServiceCalendar, err), nil
	}
	if len(events) == 0 {
		return mcp.NewToolResultText("No events found matching the search criteria."), nil
	}
	return mcp.NewToolResultText(formatEvents("Search Results:", events, fieldStatus)), nil
}

func handleCreateEvent(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext, session *auth.Session, client *calendar.Client) (*mcp.CallToolResult, error) {
	in, err := eventInputFromArgs(request.GetArguments())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if in.Summary == "" || in.Start == "" || in.End == "" {
		return mcp.NewToolResultError("summary, start and end are required"), nil
	}

	ev, err := client.CreateEvent(ctx, calendar.PrimaryCalendar, in)
	if err != nil {
		return common.APIErrorResult(ctx, sc, session, google.ServiceCalendar, err), nil
	}
	return mcp.NewToolResultText(formatWritten("Event created successfully:", *ev, in, client)), nil
}

func handleUpdateEvent(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext, session *auth.Session, client *calendar.Client) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	eventID := common.StringArg(args, "event_id")
	if eventID == "" {
		return mcp.NewToolResultError("event_id is required"), nil
	}
	in, err := eventInputFromArgs(args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ev, err := client.UpdateEvent(ctx, calendar.PrimaryCalendar, eventID, in)
	if err != nil {
		return common.APIErrorResult(ctx, sc, session, google.ServiceCalendar, err), nil
	}
	return mcp.NewToolResultText(formatWritten("Event updated successfully:", *ev, in, client)), nil
}

func handleDeleteEvent(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext, session *auth.Session, client *calendar.Client) (*mcp.CallToolResult, error) {
	eventID := common.StringArg(request.GetArguments(), "event_id")
	if eventID == "" {
		return mcp.NewToolResultError("event_id is required"), nil
	}

	if err := client.DeleteEvent(ctx, calendar.PrimaryCalendar, eventID); err != nil {
		return common.APIErrorResult(ctx, sc, session, google.ServiceCalendar, err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Event %s deleted successfully", eventID)), nil
}

func formatWritten(header string, ev calendar.Event, in calendar.EventInput, client *calendar.Client) string {
	if ev.TimeZone == "" {
		ev.TimeZone = orDefault(in.TimeZone, client.DefaultTimeZone())
	}
	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n\n")
	writeEvent(&b, ev, fieldTimeZone|fieldDetails)
	return b.String()
}

// eventInputFromArgs reads the event fields shared by create and update.
func eventInputFromArgs(args map[string]any) (calendar.EventInput, error) {
	in := calendar.EventInput{
		Summary:     common.StringArg(args, "summary"),
		Description: common.StringArg(args, "description"),
		Location:    common.StringArg(args, "location"),
		Start:       common.StringArg(args, "start"),
		End:         common.StringArg(args, "end"),
		TimeZone:    common.StringArg(args, "timezone"),
		Attendees:   common.StringListArg(args, "attendees"),
		ColorID:     common.StringArg(args, "color_id"),
		Recurrence:  recurrenceArg(args),
	}

	for _, v := range []struct{ name, value string }{{"start", in.Start}, {"end", in.End}} {
		if v.value != "" && !validEventTime(v.value) {
			return in, fmt.Errorf("invalid %s %q: expected YYYY-MM-DD or a date-time like 2025-03-20T10:00:00", v.name, v.value)
		}
	}
	if in.TimeZone != "" {
		if _, err := time.LoadLocation(in.TimeZone); err != nil {
			return in, fmt.Errorf("invalid timezone %q", in.TimeZone)
		}
	}

	minutes, err := reminderMinutesArg(args)
	if err != nil {
		return in, err
	}
	_, hasDefault := args["use_default_reminders"]
	if len(minutes) > 0 || hasDefault {
		in.Reminders = &calendar.Reminders{UseDefault: common.BoolArg(args, "use_default_reminders", false)}
		if in.Reminders.UseDefault && len(minutes) > 0 {
			return in, fmt.Errorf("reminder_minutes cannot be combined with use_default_reminders")
		}
		for _, n := range minutes {
			in.Reminders.Overrides = append(in.Reminders.Overrides, calendar.ReminderOverride{Method: "popup", Minutes: n})
		}
	}
	return in, nil
}

// reminderMinutesArg accepts "30,1440", a single number, or a JSON array of numbers.
func reminderMinutesArg(args map[string]any) ([]int64, error) {
	var raw []string
	switch v := args["reminder_minutes"].(type) {
	case nil:
		return nil, nil
	case float64:
		raw = []string{strconv.FormatFloat(v, 'f', -1, 64)}
	case []any:
		for _, item := range v {
			switch n := item.(type) {
			case float64:
				raw = append(raw, strconv.FormatFloat(n, 'f', -1, 64))
			case string:
				raw = append(raw, strings.TrimSpace(n))
			}
		}
	default:
		raw = common.StringListArg(args, "reminder_minutes")
	}

	out := make([]int64, 0, len(raw))
	for _, m := range raw {
		n, err := strconv.ParseInt(m, 10, 64)
		if err != nil || n < 0 || n > maxReminderMinutes {
			return nil, fmt.Errorf("invalid reminder minutes %q: expected 0 to %d", m, maxReminderMinutes)
		}
		out = append(out, n)
	}
	return out, nil
}

// recurrenceArg accepts one rule per line, or a JSON array of rules.
// Rules contain commas, so they cannot be comma separated.
func recurrenceArg(args map[string]any) []string {
	var rules []string
	switch v := args["recurrence"].(type) {
	case string:
		for _, line := range strings.Split(v, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				rules = append(rules, line)
			}
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				rules = append(rules, strings.TrimSpace(s))
			}
		}
	}
	return rules
}

func validEventTime(value string) bool {
	for _, layout := range []string{time.DateOnly, time.RFC3339, "2006-01-02T15:04:05"} {
		if _, err := time.Parse(layout, value); err == nil {
			return true
		}
	}
	return false
}
