package gmail_tools

import (
	"fmt"
	"strings"

	"github.com/teemow/calendarmcp/internal/gmail"
)

const blockSeparator = "-----\n"

func formatSummaries(header string, messages []gmail.MessageSummary, withThread bool) string {
	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n\n")
	for _, m := range messages {
		b.WriteString(blockSeparator)
		fmt.Fprintf(&b, "ID: %s\n", m.ID)
		if withThread {
			fmt.Fprintf(&b, "Thread ID: %s\n", m.ThreadID)
		}
		fmt.Fprintf(&b, "From: %s\n", m.From)
		fmt.Fprintf(&b, "Subject: %s\n", orDefault(m.Subject, "(no subject)"))
		fmt.Fprintf(&b, "Date: %s\n", m.Date)
		fmt.Fprintf(&b, "Snippet: %s\n", m.Snippet)
		if len(m.Labels) > 0 {
			fmt.Fprintf(&b, "Labels: %s\n", strings.Join(m.Labels, ", "))
		}
		b.WriteString(blockSeparator)
		b.WriteString("\n")
	}
	return b.String()
}

func formatMessage(m *gmail.Message) string {
	var b strings.Builder
	b.WriteString("Email Details:\n\n")
	b.WriteString(blockSeparator)
	fmt.Fprintf(&b, "ID: %s\n", m.ID)
	fmt.Fprintf(&b, "Thread ID: %s\n", m.ThreadID)
	fmt.Fprintf(&b, "From: %s\n", m.From)
	fmt.Fprintf(&b, "To: %s\n", m.To)
	if m.Cc != "" {
		fmt.Fprintf(&b, "CC: %s\n", m.Cc)
	}
	fmt.Fprintf(&b, "Subject: %s\n", orDefault(m.Subject, "(no subject)"))
	fmt.Fprintf(&b, "Date: %s\n", m.Date)
	if len(m.Labels) > 0 {
		fmt.Fprintf(&b, "Labels: %s\n", strings.Join(m.Labels, ", "))
	}

	b.WriteString("\nBody:\n")
	b.WriteString(orDefault(strings.TrimSpace(m.TextBody), "[No text content available]"))
	b.WriteString("\n")

	if len(m.Attachments) > 0 {
		b.WriteString("\nAttachments:\n")
		for _, a := range m.Attachments {
			fmt.Fprintf(&b, "- %s (%s, %s) [ID: %s]\n", orDefault(a.Filename, "unnamed"), a.MimeType, formatSize(a.Size), a.ID)
		}
	}
	b.WriteString(blockSeparator)
	return b.String()
}

func formatLabels(labels *gmail.Labels) string {
	var b strings.Builder
	b.WriteString("Gmail Labels:\n\n")
	b.WriteString("System Labels:\n")
	for _, l := range labels.System {
		fmt.Fprintf(&b, "- %s (ID: %s)\n", l.Name, l.ID)
	}
	b.WriteString("\nUser Labels:\n")
	if len(labels.User) == 0 {
		b.WriteString("(none)\n")
	}
	for _, l := range labels.User {
		fmt.Fprintf(&b, "- %s (ID: %s)\n", l.Name, l.ID)
	}
	return b.String()
}

func formatSize(size int64) string {
	switch {
	case size < 1024:
		return fmt.Sprintf("%d bytes", size)
	case size < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
