package google

import (
	"io"
	"net/http"
	"time"
)

// DefaultRetryBackoff is the pause before a transient API failure is retried.
const DefaultRetryBackoff = 500 * time.Millisecond

// retryTransport retries an idempotent request once when Google answers 429
// or 5xx, or the request fails before a response arrives.
type retryTransport struct {
	base    http.RoundTripper
	backoff time.Duration
}

func newRetryTransport(base http.RoundTripper, backoff time.Duration) *retryTransport {
	return &retryTransport{base: base, backoff: backoff}
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if !t.shouldRetry(req, resp, err) {
		return resp, err
	}
	if resp != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}

	ctx := req.Context()
	timer := time.NewTimer(t.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	retry := req.Clone(ctx)
	if req.Body != nil && req.Body != http.NoBody {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}
	return t.base.RoundTrip(retry)
}

func (t *retryTransport) shouldRetry(req *http.Request, resp *http.Response, err error) bool {
	if !idempotent(req) {
		return false
	}
	if err != nil {
		return req.Context().Err() == nil
	}
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
}

// idempotent reports whether req may be sent twice. Requests whose body
// cannot be replayed are never retried.
func idempotent(req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
	default:
		return false
	}
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}
