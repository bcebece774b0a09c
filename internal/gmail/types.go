package gmail

import (
	"encoding/base64"
	"strings"

	gmail "google.golang.org/api/gmail/v1"
)

// UserID addresses the authenticated user in every Gmail call.
const UserID = "me"

// DefaultMaxResults bounds list and search calls when the caller does not.
const DefaultMaxResults = 10

// Message formats accepted by Users.Messages.Get.
const (
	FormatFull     = "full"
	FormatMetadata = "metadata"
)

// Label types reported by Users.Labels.List.
const (
	LabelTypeSystem = "system"
	LabelTypeUser   = "user"
)

// ListOptions filter a message listing.
type ListOptions struct {
	// Query uses Gmail search syntax, e.g. "from:alice is:unread".
	Query         string
	MaxResults    int64
	IncludeLabels bool
}

// MessageSummary is a message as returned by list and search.
type MessageSummary struct {
	ID       string
	ThreadID string
	From     string
	To       string
	Subject  string
	Date     string
	Snippet  string
	Labels   []string
}

// Message is a fully fetched message including its decoded bodies.
type Message struct {
	MessageSummary
	Cc           string
	Bcc          string
	TextBody     string
	HTMLBody     string
	Attachments  []AttachmentInfo
	InternalDate int64
	SizeEstimate int64
}

// AttachmentInfo describes an attachment part of a message.
type AttachmentInfo struct {
	ID       string
	Filename string
	MimeType string
	Size     int64
}

// Attachment is downloaded attachment content.
type Attachment struct {
	// Data is standard base64, ready to hand to clients.
	Data string
	Size int64
}

// Label is a Gmail label.
type Label struct {
	ID   string
	Name string
	Type string
}

// Labels groups labels by type, each group sorted by name.
type Labels struct {
	System []Label
	User   []Label
}

// SendInput is a plain text message to send.
type SendInput struct {
	To      string
	Subject string
	Body    string
	Cc      string
	Bcc     string
}

// SentMessage identifies a message accepted by Gmail.
type SentMessage struct {
	ID       string
	ThreadID string
}

func headerValue(part *gmail.MessagePart, name string) string {
	if part == nil {
		return ""
	}
	for _, h := range part.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func toSummary(m *gmail.Message) MessageSummary {
	return MessageSummary{
		ID:       m.Id,
		ThreadID: m.ThreadId,
		From:     headerValue(m.Payload, "From"),
		To:       headerValue(m.Payload, "To"),
		Subject:  headerValue(m.Payload, "Subject"),
		Date:     headerValue(m.Payload, "Date"),
		Snippet:  m.Snippet,
		Labels:   m.LabelIds,
	}
}

func toMessage(m *gmail.Message) *Message {
	out := &Message{
		MessageSummary: toSummary(m),
		Cc:             headerValue(m.Payload, "Cc"),
		Bcc:            headerValue(m.Payload, "Bcc"),
		InternalDate:   m.InternalDate,
		SizeEstimate:   m.SizeEstimate,
	}

	walkParts(m.Payload, func(part *gmail.MessagePart) {
		if part.Body == nil {
			return
		}
		if part.Body.AttachmentId != "" && (part.Filename != "" || strings.HasPrefix(part.MimeType, "image/")) {
			out.Attachments = append(out.Attachments, AttachmentInfo{
				ID:       part.Body.AttachmentId,
				Filename: part.Filename,
				MimeType: part.MimeType,
				Size:     part.Body.Size,
			})
			return
		}
		if part.Body.Data == "" {
			return
		}
		switch {
		case part.MimeType == "text/plain" && out.TextBody == "":
			out.TextBody = decodeBody(part.Body.Data)
		case part.MimeType == "text/html" && out.HTMLBody == "":
			out.HTMLBody = decodeBody(part.Body.Data)
		}
	})
	return out
}

// walkParts visits part and all of its descendants depth first.
func walkParts(part *gmail.MessagePart, fn func(*gmail.MessagePart)) {
	if part == nil {
		return
	}
	fn(part)
	for _, sub := range part.Parts {
		walkParts(sub, fn)
	}
}

// decodeBody decodes base64url body data. Gmail omits padding on some parts.
func decodeBody(data string) string {
	decoded, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		decoded, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
		if err != nil {
			return ""
		}
	}
	return string(decoded)
}
