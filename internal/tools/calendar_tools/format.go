package calendar_tools

import (
	"fmt"
	"strings"

	"github.com/teemow/calendarmcp/internal/calendar"
)

const blockSeparator = "-----\n"

type eventField int

const (
	fieldTimeZone eventField = 1 << iota
	fieldStatus
	fieldAttachments
	fieldDetails
)

func writeEvent(b *strings.Builder, ev calendar.Event, fields eventField) {
	title := ev.Summary
	if title == "" {
		title = "No title"
	}

	b.WriteString(blockSeparator)
	fmt.Fprintf(b, "EventID: %s\n", ev.ID)
	fmt.Fprintf(b, "Title: %s\n", title)
	fmt.Fprintf(b, "Start: %s | End: %s\n", ev.Start, ev.End)
	if fields&fieldTimeZone != 0 && ev.TimeZone != "" {
		fmt.Fprintf(b, "Timezone: %s\n", ev.TimeZone)
	}
	if fields&fieldStatus != 0 {
		fmt.Fprintf(b, "Status: %s\n", orDefault(ev.Status, "confirmed"))
	}
	if fields&(fieldStatus|fieldDetails) != 0 && ev.Location != "" {
		fmt.Fprintf(b, "Location: %s\n", ev.Location)
	}
	if ev.Description != "" {
		fmt.Fprintf(b, "Content: %s\n", ev.Description)
	}
	if fields&fieldDetails != 0 {
		if ev.ColorID != "" {
			fmt.Fprintf(b, "Color: %s\n", ev.ColorID)
		}
		if len(ev.Attendees) > 0 {
			fmt.Fprintf(b, "Attendees: %s\n", strings.Join(ev.Attendees, ", "))
		}
		if len(ev.Recurrence) > 0 {
			fmt.Fprintf(b, "Recurrence: %s\n", strings.Join(ev.Recurrence, "; "))
		}
	}
	if fields&fieldAttachments != 0 {
		b.WriteString("Attachments:\n")
		for _, a := range ev.Attachments {
			fmt.Fprintf(b, "- %s (%s)\n", orDefault(a.Title, "Untitled"), orDefault(a.MimeType, "Unknown type"))
		}
	}
	if fields&fieldStatus != 0 {
		fmt.Fprintf(b, "Created: %s\n", orDefault(ev.Created, "unknown"))
		fmt.Fprintf(b, "Updated: %s\n", orDefault(ev.Updated, "unknown"))
	}
	b.WriteString(blockSeparator)
}

func formatEvents(header string, events []calendar.Event, fields eventField) string {
	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n\n")
	for _, ev := range events {
		writeEvent(&b, ev, fields)
		b.WriteString("\n")
	}
	return b.String()
}

func formatColors(colors []calendar.Color) string {
	var b strings.Builder
	for _, c := range colors {
		b.WriteString(blockSeparator)
		fmt.Fprintf(&b, "Color ID: %s\n", c.ID)
		fmt.Fprintf(&b, "Background: %s\n", c.Background)
		fmt.Fprintf(&b, "Foreground: %s\n", c.Foreground)
		b.WriteString(blockSeparator)
		b.WriteString("\n")
	}
	return b.String()
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
