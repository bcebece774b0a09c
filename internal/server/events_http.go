package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/teemow/calendarmcp/internal/auth"
	"github.com/teemow/calendarmcp/internal/events"
	"github.com/teemow/calendarmcp/internal/logging"
)

// DefaultEventKeepAlive is the interval between comment frames on idle streams.
const DefaultEventKeepAlive = 15 * time.Second

// handleEvents streams the authorization events of one session as
// Server-Sent Events. The stream ends after auth_completed, when the client
// disconnects or when the broker shuts down. A session that is already
// authenticated gets a single auth_completed frame.
func (h *AuthHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		h.writeError(w, r, auth.ErrValidation("session_id", "session_id is required"), "")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "internal", "streaming is not supported", "")
		return
	}

	// Subscribe before reading the status so a completion in between is not lost.
	ch, cancel := h.sc.Events().Subscribe(sessionID)
	defer cancel()

	status, err := h.sc.Registry().Status(ctx, sessionID)
	if err != nil {
		h.writeError(w, r, err, "")
		return
	}

	setSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger := logging.WithSession(h.logger, sessionID)
	logger.Debug("Event stream opened")
	defer logger.Debug("Event stream closed")

	if status.State == auth.SessionAuthenticated {
		_ = writeEvent(w, events.Event{
			Type:      events.TypeAuthCompleted,
			SessionID: sessionID,
			Timestamp: time.Now().UTC(),
		})
		flusher.Flush()
		return
	}

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				logger.Debug("Failed to write event", logging.Err(err))
				return
			}
			flusher.Flush()
			if ev.Type == events.TypeAuthCompleted {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
