package google

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func retryClient() *http.Client {
	return &http.Client{Transport: newRetryTransport(http.DefaultTransport, time.Millisecond)}
}

func TestRetryTransportRetriesTransientFailureOnce(t *testing.T) {
	tests := []struct {
		name      string
		method    string
		status    int
		wantCalls int32
		want      int
	}{
		{name: "get unavailable", method: http.MethodGet, status: http.StatusServiceUnavailable, wantCalls: 2, want: http.StatusOK},
		{name: "delete rate limited", method: http.MethodDelete, status: http.StatusTooManyRequests, wantCalls: 2, want: http.StatusOK},
		{name: "post is not retried", method: http.MethodPost, status: http.StatusServiceUnavailable, wantCalls: 1, want: http.StatusServiceUnavailable},
		{name: "not found is not retried", method: http.MethodGet, status: http.StatusNotFound, wantCalls: 1, want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if calls.Add(1) == 1 {
					w.WriteHeader(tt.status)
					return
				}
				w.WriteHeader(http.StatusOK)
			}))
			defer srv.Close()

			req, err := http.NewRequest(tt.method, srv.URL, nil)
			if err != nil {
				t.Fatal(err)
			}
			resp, err := retryClient().Do(req)
			if err != nil {
				t.Fatalf("Do() error = %v", err)
			}
			resp.Body.Close()

			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if got := calls.Load(); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestRetryTransportReplaysBody(t *testing.T) {
	var calls atomic.Int32
	var lastBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := new(strings.Builder)
		_, _ = io.Copy(buf, r.Body)
		lastBody = buf.String()
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPut, srv.URL, strings.NewReader(`{"summary":"Planning"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := retryClient().Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	resp.Body.Close()

	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
	if lastBody != `{"summary":"Planning"}` {
		t.Errorf("retried body = %q", lastBody)
	}
}

func TestRetryTransportStopsOnCancel(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client := &http.Client{Transport: newRetryTransport(http.DefaultTransport, time.Hour)}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		resp, err := client.Do(req)
		if resp != nil {
			resp.Body.Close()
		}
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not stop on cancel")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}
