package google

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// OAuthConfig holds the Google OAuth client registration.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	// RedirectURL must match the URI registered for the client, e.g. https://host/auth/callback.
	RedirectURL string
	// Scopes defaults to DefaultOAuthScopes.
	Scopes []string
}

// Validate checks that the registration is complete.
func (c OAuthConfig) Validate() error {
	var errs []error
	if c.ClientID == "" {
		errs = append(errs, errors.New("google client ID is required"))
	}
	if c.ClientSecret == "" {
		errs = append(errs, errors.New("google client secret is required"))
	}
	if c.RedirectURL == "" {
		errs = append(errs, errors.New("google redirect URL is required"))
	}
	return errors.Join(errs...)
}

// NewOAuth2Config returns the oauth2 configuration for the Google endpoint.
func NewOAuth2Config(c OAuthConfig) (*oauth2.Config, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	scopes := c.Scopes
	if len(scopes) == 0 {
		scopes = DefaultOAuthScopes
	}

	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  c.RedirectURL,
		Scopes:       scopes,
	}, nil
}

// NewHTTPClient returns a plain HTTP client for calls to Google's OAuth endpoints.
// HTTP/2 is disabled; Google API endpoints have produced protocol errors over it.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: newTransport(),
	}
}

// NewAuthorizedClient returns an HTTP client that sends tok on every request.
// The token is used as is and never refreshed by the client. Idempotent
// requests that hit a transient failure are retried once.
func NewAuthorizedClient(ctx context.Context, tok *oauth2.Token) *http.Client {
	base := &http.Client{Transport: newRetryTransport(newTransport(), DefaultRetryBackoff)}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok))
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     false,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
