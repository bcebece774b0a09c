package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func b64url(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := NewClient(context.Background(), srv.Client(), WithEndpoint(srv.URL+"/"))
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresHTTPClient(t *testing.T) {
	_, err := NewClient(context.Background(), nil)
	assert.Error(t, err)
}

func TestClient_ListMessages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "from:alice", r.URL.Query().Get("q"))
		assert.Equal(t, "2", r.URL.Query().Get("maxResults"))
		_, _ = io.WriteString(w, `{"messages":[{"id":"m1","threadId":"t1"},{"id":"m2","threadId":"t2"}]}`)
	})
	mux.HandleFunc("GET /gmail/v1/users/me/messages/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, FormatMetadata, r.URL.Query().Get("format"))
		assert.ElementsMatch(t, summaryHeaders, r.URL.Query()["metadataHeaders"])
		id := r.PathValue("id")
		_, _ = fmt.Fprintf(w, `{"id":%q,"threadId":"t-%s","snippet":"hello %s","labelIds":["INBOX"],
			"payload":{"headers":[{"name":"From","value":"alice@example.com"},{"name":"Subject","value":"About %s"}]}}`,
			id, id, id, id)
	})
	c := newTestClient(t, mux)

	msgs, err := c.ListMessages(context.Background(), ListOptions{Query: "from:alice", MaxResults: 2})
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, "m1", msgs[0].ID, "order follows the list response")
	assert.Equal(t, "m2", msgs[1].ID)
	assert.Equal(t, "alice@example.com", msgs[0].From)
	assert.Equal(t, "About m2", msgs[1].Subject)
	assert.Equal(t, "hello m1", msgs[0].Snippet)
	assert.Nil(t, msgs[0].Labels, "labels are only returned on request")
}

func TestClient_ListMessages_WithLabels(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"messages":[{"id":"m1"}]}`)
	})
	mux.HandleFunc("GET /gmail/v1/users/me/messages/m1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, FormatFull, r.URL.Query().Get("format"))
		_, _ = io.WriteString(w, `{"id":"m1","labelIds":["INBOX","UNREAD"]}`)
	})
	c := newTestClient(t, mux)

	msgs, err := c.ListMessages(context.Background(), ListOptions{IncludeLabels: true})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{"INBOX", "UNREAD"}, msgs[0].Labels)
}

func TestClient_ListMessages_Empty(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"resultSizeEstimate":0}`)
	})
	c := newTestClient(t, mux)

	msgs, err := c.ListMessages(context.Background(), ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestClient_GetMessage(t *testing.T) {
	payload := map[string]any{
		"id": "m1", "threadId": "t1", "internalDate": "1700000000000", "sizeEstimate": 2048,
		"payload": map[string]any{
			"mimeType": "multipart/mixed",
			"headers": []map[string]string{
				{"name": "From", "value": "alice@example.com"},
				{"name": "To", "value": "bob@example.com"},
				{"name": "Cc", "value": "carol@example.com"},
				{"name": "Subject", "value": "Report"},
			},
			"parts": []map[string]any{
				{
					"mimeType": "multipart/alternative",
					"parts": []map[string]any{
						{"mimeType": "text/plain", "body": map[string]any{"data": b64url("plain body")}},
						{"mimeType": "text/html", "body": map[string]any{"data": b64url("<p>html body</p>")}},
					},
				},
				{"mimeType": "application/pdf", "filename": "report.pdf", "body": map[string]any{"attachmentId": "a1", "size": 1024}},
				{"mimeType": "image/png", "body": map[string]any{"attachmentId": "a2", "size": 10}},
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /gmail/v1/users/me/messages/m1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, FormatFull, r.URL.Query().Get("format"))
		_ = json.NewEncoder(w).Encode(payload)
	})
	c := newTestClient(t, mux)

	msg, err := c.GetMessage(context.Background(), "m1")
	require.NoError(t, err)

	assert.Equal(t, "carol@example.com", msg.Cc)
	assert.Equal(t, "plain body", msg.TextBody)
	assert.Equal(t, "<p>html body</p>", msg.HTMLBody)
	assert.Equal(t, int64(1700000000000), msg.InternalDate)
	assert.Equal(t, int64(2048), msg.SizeEstimate)
	assert.Equal(t, []AttachmentInfo{
		{ID: "a1", Filename: "report.pdf", MimeType: "application/pdf", Size: 1024},
		{ID: "a2", MimeType: "image/png", Size: 10},
	}, msg.Attachments)
}

func TestClient_GetMessage_RequiresID(t *testing.T) {
	c := newTestClient(t, http.NewServeMux())
	_, err := c.GetMessage(context.Background(), "")
	assert.Error(t, err)
}

func TestClient_GetMessage_NotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /gmail/v1/users/me/messages/gone", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"code":404,"message":"Requested entity was not found."}}`)
	})
	c := newTestClient(t, mux)

	_, err := c.GetMessage(context.Background(), "gone")
	var apiErr *googleapi.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Code)
}

func TestClient_ListLabels(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /gmail/v1/users/me/labels", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"labels":[
			{"id":"SENT","name":"SENT","type":"system"},
			{"id":"Label_2","name":"Work","type":"user"},
			{"id":"INBOX","name":"INBOX","type":"system"},
			{"id":"Label_1","name":"Family","type":"user"}]}`)
	})
	c := newTestClient(t, mux)

	labels, err := c.ListLabels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Label{
		{ID: "INBOX", Name: "INBOX", Type: LabelTypeSystem},
		{ID: "SENT", Name: "SENT", Type: LabelTypeSystem},
	}, labels.System)
	assert.Equal(t, []Label{
		{ID: "Label_1", Name: "Family", Type: LabelTypeUser},
		{ID: "Label_2", Name: "Work", Type: LabelTypeUser},
	}, labels.User)
}

func TestClient_GetAttachment(t *testing.T) {
	content := []byte{0xff, 0xfe, 'p', 'd', 'f'}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /gmail/v1/users/me/messages/m1/attachments/a1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, `{"data":%q,"size":%d}`, base64.URLEncoding.EncodeToString(content), len(content))
	})
	c := newTestClient(t, mux)

	att, err := c.GetAttachment(context.Background(), "m1", "a1")
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString(content), att.Data)
	assert.Equal(t, int64(len(content)), att.Size)

	_, err = c.GetAttachment(context.Background(), "m1", "")
	assert.Error(t, err)
}

func TestClient_SendEmail(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /gmail/v1/users/me/messages/send", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Raw string `json:"raw"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&body)) {
			return
		}
		raw, err := base64.URLEncoding.DecodeString(body.Raw)
		if !assert.NoError(t, err) {
			return
		}
		msg := string(raw)
		assert.Contains(t, msg, "To: bob@example.com\r\n")
		assert.Contains(t, msg, "Cc: carol@example.com\r\n")
		assert.NotContains(t, msg, "Bcc:")
		assert.Contains(t, msg, "Subject: =?UTF-8?b?")
		assert.True(t, strings.HasSuffix(msg, "\r\n\r\nSee you there"))
		_, _ = io.WriteString(w, `{"id":"sent1","threadId":"thr1"}`)
	})
	c := newTestClient(t, mux)

	sent, err := c.SendEmail(context.Background(), SendInput{
		To:      "bob@example.com",
		Cc:      "carol@example.com",
		Subject: "Grüße",
		Body:    "See you there",
	})
	require.NoError(t, err)
	assert.Equal(t, &SentMessage{ID: "sent1", ThreadID: "thr1"}, sent)
}

func TestClient_SendEmail_Validation(t *testing.T) {
	c := newTestClient(t, http.NewServeMux())

	tests := []struct {
		name string
		in   SendInput
	}{
		{"missing recipient", SendInput{Subject: "s", Body: "b"}},
		{"missing subject", SendInput{To: "a@example.com", Body: "b"}},
		{"missing body", SendInput{To: "a@example.com", Subject: "s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.SendEmail(context.Background(), tt.in)
			assert.Error(t, err)
		})
	}
}

func TestEncodeRFC2047(t *testing.T) {
	assert.Equal(t, "Hello", encodeRFC2047("Hello"))
	assert.Equal(t, "=?UTF-8?b?R3LDvMOfZQ==?=", encodeRFC2047("Grüße"))
}

func TestDecodeBody_Unpadded(t *testing.T) {
	assert.Equal(t, "hi!", decodeBody(base64.RawURLEncoding.EncodeToString([]byte("hi!"))))
	assert.Equal(t, "ab", decodeBody(base64.RawURLEncoding.EncodeToString([]byte("ab"))))
	assert.Equal(t, "", decodeBody("%%%"))
}
