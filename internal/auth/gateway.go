package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	oauth2v2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/teemow/calendarmcp/internal/google"
)

// DefaultRevokeURL is Google's token revocation endpoint.
const DefaultRevokeURL = "https://oauth2.googleapis.com/revoke"

// Gateway performs the outbound calls to the OAuth provider.
//
// Exchange and Refresh fail with KindServiceUnavailable on transport failures and
// timeouts, and with KindAuthorization when the provider rejects the grant.
type Gateway interface {
	// AuthCodeURL builds the consent URL embedding state and the requested scopes.
	AuthCodeURL(state string, scopes []string) string
	Exchange(ctx context.Context, code string) (*Credential, error)
	Refresh(ctx context.Context, cred *Credential) (*Credential, error)
	// UserIdentity returns the email address the credential belongs to.
	UserIdentity(ctx context.Context, cred *Credential) (string, error)
	// Revoke invalidates the credential at the provider.
	Revoke(ctx context.Context, cred *Credential) error
}

// GoogleGateway implements Gateway against Google's OAuth endpoints.
type GoogleGateway struct {
	config           *oauth2.Config
	httpClient       *http.Client
	timeout          time.Duration
	userinfoEndpoint string
	revokeURL        string
}

// GatewayOption configures a GoogleGateway.
type GatewayOption func(*GoogleGateway)

// WithHTTPClient sets the client used for token endpoint calls.
func WithHTTPClient(c *http.Client) GatewayOption {
	return func(g *GoogleGateway) { g.httpClient = c }
}

// WithNetworkTimeout bounds every outbound call.
func WithNetworkTimeout(d time.Duration) GatewayOption {
	return func(g *GoogleGateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithUserinfoEndpoint overrides the base URL of the userinfo API.
func WithUserinfoEndpoint(endpoint string) GatewayOption {
	return func(g *GoogleGateway) { g.userinfoEndpoint = endpoint }
}

// WithRevokeURL overrides the revocation endpoint.
func WithRevokeURL(u string) GatewayOption {
	return func(g *GoogleGateway) { g.revokeURL = u }
}

// NewGoogleGateway creates a gateway for the given oauth2 configuration.
func NewGoogleGateway(config *oauth2.Config, opts ...GatewayOption) *GoogleGateway {
	g := &GoogleGateway{
		config:    config,
		timeout:   DefaultNetworkTimeout,
		revokeURL: DefaultRevokeURL,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.httpClient == nil {
		g.httpClient = google.NewHTTPClient(g.timeout)
	}
	return g
}

// AuthCodeURL implements Gateway. Offline access with forced consent is requested so
// Google returns a refresh token, and previously granted scopes are kept.
func (g *GoogleGateway) AuthCodeURL(state string, scopes []string) string {
	conf := *g.config
	if len(scopes) > 0 {
		conf.Scopes = scopes
	}
	return conf.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	)
}

func (g *GoogleGateway) withClient(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	return context.WithValue(ctx, oauth2.HTTPClient, g.httpClient), cancel
}

// Exchange implements Gateway.
func (g *GoogleGateway) Exchange(ctx context.Context, code string) (*Credential, error) {
	ctx, cancel := g.withClient(ctx)
	defer cancel()

	tok, err := g.config.Exchange(ctx, code)
	if err != nil {
		return nil, classifyProviderError("code exchange failed", err)
	}
	return CredentialFromToken(tok, nil), nil
}

// Refresh implements Gateway.
func (g *GoogleGateway) Refresh(ctx context.Context, cred *Credential) (*Credential, error) {
	if cred == nil || cred.RefreshToken == "" {
		return nil, ErrAuthorization("no refresh token", nil)
	}

	ctx, cancel := g.withClient(ctx)
	defer cancel()

	// An empty access token forces the token source to hit the token endpoint.
	tok, err := g.config.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		return nil, classifyProviderError("token refresh failed", err)
	}
	return CredentialFromToken(tok, nil), nil
}

// UserIdentity implements Gateway using the OAuth2 userinfo API.
func (g *GoogleGateway) UserIdentity(ctx context.Context, cred *Credential) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	opts := []option.ClientOption{option.WithHTTPClient(google.NewAuthorizedClient(ctx, cred.Token()))}
	if g.userinfoEndpoint != "" {
		opts = append(opts, option.WithEndpoint(g.userinfoEndpoint))
	}

	svc, err := oauth2v2.NewService(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to create userinfo service: %w", err)
	}

	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return "", classifyProviderError("userinfo request failed", err)
	}
	return info.Email, nil
}

// Revoke implements Gateway. The refresh token is revoked when present, which
// also invalidates access tokens issued from it.
func (g *GoogleGateway) Revoke(ctx context.Context, cred *Credential) error {
	token := cred.RefreshToken
	if token == "" {
		token = cred.AccessToken
	}
	if token == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return classifyProviderError("token revocation failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode >= http.StatusInternalServerError:
		return ErrServiceUnavailable(fmt.Sprintf("token revocation returned status %d", resp.StatusCode), nil)
	default:
		return ErrAuthorization(fmt.Sprintf("token revocation returned status %d", resp.StatusCode), nil)
	}
}

// classifyProviderError maps provider failures onto the error taxonomy.
func classifyProviderError(msg string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= http.StatusInternalServerError {
			return ErrServiceUnavailable(msg, err)
		}
		return ErrAuthorization(msg, err)
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return ErrServiceUnavailable(msg, err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ErrServiceUnavailable(msg, err)
	}

	return ErrAuthorization(msg, err)
}
