package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/teemow/calendarmcp/internal/instrumentation"
)

// MaxAttachmentSize is the largest attachment GetAttachment returns (25MB).
const MaxAttachmentSize = 25 * 1024 * 1024

// fetchConcurrency bounds parallel message fetches after a list call.
const fetchConcurrency = 5

var summaryHeaders = []string{"From", "To", "Subject", "Date"}

// Client wraps the Gmail Users service for a single authenticated session.
type Client struct {
	svc *gmail.UsersService
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	apiOptions []option.ClientOption
}

// WithEndpoint points the client at a different API base URL.
func WithEndpoint(endpoint string) Option {
	return func(o *clientOptions) {
		o.apiOptions = append(o.apiOptions, option.WithEndpoint(endpoint))
	}
}

// NewClient creates a Gmail client that authorizes through httpClient.
func NewClient(ctx context.Context, httpClient *http.Client, opts ...Option) (*Client, error) {
	if httpClient == nil {
		return nil, fmt.Errorf("http client cannot be nil")
	}

	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}

	apiOpts := append([]option.ClientOption{option.WithHTTPClient(httpClient)}, o.apiOptions...)
	svc, err := gmail.NewService(ctx, apiOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return &Client{svc: svc.Users}, nil
}

// ListMessages lists messages matching opts and fetches their headers.
// Labels are only populated when opts.IncludeLabels is set.
func (c *Client) ListMessages(ctx context.Context, opts ListOptions) (_ []MessageSummary, err error) {
	op := instrumentation.OperationList
	if opts.Query != "" {
		op = instrumentation.OperationSearch
	}
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceGmail, op)
	defer func() { instrumentation.EndSpan(span, err) }()

	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}

	call := c.svc.Messages.List(UserID).Context(ctx).MaxResults(opts.MaxResults)
	if opts.Query != "" {
		call = call.Q(opts.Query)
	}
	resp, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	summaries := make([]MessageSummary, len(resp.Messages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, ref := range resp.Messages {
		g.Go(func() error {
			get := c.svc.Messages.Get(UserID, ref.Id).Context(gctx)
			if opts.IncludeLabels {
				get = get.Format(FormatFull)
			} else {
				get = get.Format(FormatMetadata).MetadataHeaders(summaryHeaders...)
			}
			m, err := get.Do()
			if err != nil {
				return fmt.Errorf("failed to get message %s: %w", ref.Id, err)
			}
			summaries[i] = toSummary(m)
			if !opts.IncludeLabels {
				summaries[i].Labels = nil
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summaries, nil
}

// GetMessage fetches a full message with decoded bodies and attachment metadata.
func (c *Client) GetMessage(ctx context.Context, messageID string) (_ *Message, err error) {
	if messageID == "" {
		return nil, fmt.Errorf("messageID is required")
	}

	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceGmail, instrumentation.OperationGet,
		instrumentation.NewSpanAttributeBuilder().WithResourceID(messageID).Build()...)
	defer func() { instrumentation.EndSpan(span, err) }()

	m, err := c.svc.Messages.Get(UserID, messageID).Format(FormatFull).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", messageID, err)
	}
	return toMessage(m), nil
}

// ListLabels returns the mailbox labels split into system and user labels.
func (c *Client) ListLabels(ctx context.Context) (_ *Labels, err error) {
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceGmail, instrumentation.OperationList)
	defer func() { instrumentation.EndSpan(span, err) }()

	resp, err := c.svc.Labels.List(UserID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list labels: %w", err)
	}

	out := &Labels{}
	for _, l := range resp.Labels {
		label := Label{ID: l.Id, Name: l.Name, Type: l.Type}
		if l.Type == LabelTypeSystem {
			out.System = append(out.System, label)
		} else {
			out.User = append(out.User, label)
		}
	}
	byName := func(labels []Label) func(i, j int) bool {
		return func(i, j int) bool { return labels[i].Name < labels[j].Name }
	}
	sort.Slice(out.System, byName(out.System))
	sort.Slice(out.User, byName(out.User))
	return out, nil
}

// GetAttachment downloads an attachment and re-encodes it as standard base64.
func (c *Client) GetAttachment(ctx context.Context, messageID, attachmentID string) (_ *Attachment, err error) {
	if messageID == "" {
		return nil, fmt.Errorf("messageID is required")
	}
	if attachmentID == "" {
		return nil, fmt.Errorf("attachmentID is required")
	}

	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceGmail, instrumentation.OperationGet,
		instrumentation.NewSpanAttributeBuilder().WithResourceID(messageID).Build()...)
	defer func() { instrumentation.EndSpan(span, err) }()

	body, err := c.svc.Messages.Attachments.Get(UserID, messageID, attachmentID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get attachment %s: %w", attachmentID, err)
	}
	if body.Size > MaxAttachmentSize {
		return nil, fmt.Errorf("attachment size %d exceeds maximum size %d", body.Size, MaxAttachmentSize)
	}

	data, err := base64.URLEncoding.DecodeString(body.Data)
	if err != nil {
		data, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(body.Data, "="))
		if err != nil {
			return nil, fmt.Errorf("failed to decode attachment data: %w", err)
		}
	}

	return &Attachment{
		Data: base64.StdEncoding.EncodeToString(data),
		Size: int64(len(data)),
	}, nil
}

// SendEmail sends a plain text message.
func (c *Client) SendEmail(ctx context.Context, in SendInput) (_ *SentMessage, err error) {
	if in.To == "" {
		return nil, fmt.Errorf("at least one recipient is required")
	}
	if in.Subject == "" {
		return nil, fmt.Errorf("subject is required")
	}
	if in.Body == "" {
		return nil, fmt.Errorf("body is required")
	}

	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceGmail, instrumentation.OperationSend)
	defer func() { instrumentation.EndSpan(span, err) }()

	raw := base64.URLEncoding.EncodeToString([]byte(buildRFC2822(in)))
	sent, err := c.svc.Messages.Send(UserID, &gmail.Message{Raw: raw}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to send email: %w", err)
	}
	return &SentMessage{ID: sent.Id, ThreadID: sent.ThreadId}, nil
}

func buildRFC2822(in SendInput) string {
	var b strings.Builder
	writeHeader := func(name, value string) {
		if value == "" {
			return
		}
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\r\n")
	}

	writeHeader("To", in.To)
	writeHeader("Cc", in.Cc)
	writeHeader("Bcc", in.Bcc)
	writeHeader("Subject", encodeRFC2047(in.Subject))
	writeHeader("MIME-Version", "1.0")
	writeHeader("Content-Type", `text/plain; charset="UTF-8"`)
	b.WriteString("\r\n")
	b.WriteString(in.Body)
	return b.String()
}

// encodeRFC2047 encodes non-ASCII header values such as umlauts in subjects.
func encodeRFC2047(s string) string {
	for _, r := range s {
		if r > 127 {
			return mime.BEncoding.Encode("UTF-8", s)
		}
	}
	return s
}
