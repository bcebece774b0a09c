package google

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestOAuthConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     OAuthConfig
		wantErr bool
	}{
		{"complete", OAuthConfig{ClientID: "id", ClientSecret: "secret", RedirectURL: "http://localhost:8000/auth/callback"}, false},
		{"missing client id", OAuthConfig{ClientSecret: "secret", RedirectURL: "http://x/cb"}, true},
		{"missing secret", OAuthConfig{ClientID: "id", RedirectURL: "http://x/cb"}, true},
		{"missing redirect", OAuthConfig{ClientID: "id", ClientSecret: "secret"}, true},
		{"empty", OAuthConfig{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewOAuth2ConfigDefaultsScopes(t *testing.T) {
	conf, err := NewOAuth2Config(OAuthConfig{
		ClientID:     "id",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost:8000/auth/callback",
	})
	if err != nil {
		t.Fatalf("NewOAuth2Config() error = %v", err)
	}
	if len(conf.Scopes) != len(DefaultOAuthScopes) {
		t.Errorf("Scopes = %v, want %v", conf.Scopes, DefaultOAuthScopes)
	}
	if conf.Endpoint.TokenURL == "" {
		t.Error("expected Google token endpoint")
	}
}

func TestHasServiceAccess(t *testing.T) {
	tests := []struct {
		name    string
		granted []string
		service string
		want    bool
	}{
		{"calendar granted", []string{ScopeCalendar}, ServiceCalendar, true},
		{"gmail readonly", []string{ScopeGmailReadonly}, ServiceGmail, true},
		{"gmail full access", []string{ScopeGmailFullAccess}, ServiceGmail, true},
		{"gmail send only", []string{ScopeGmailSend}, ServiceGmail, false},
		{"nothing granted", nil, ServiceCalendar, false},
		{"unknown service", []string{ScopeCalendar}, "drive", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasServiceAccess(tt.granted, tt.service); got != tt.want {
				t.Errorf("HasServiceAccess() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScopesForService(t *testing.T) {
	if got := ScopesForService(ServiceGmail); len(got) != 1 || got[0] != ScopeGmailReadonly {
		t.Errorf("ScopesForService(gmail) = %v", got)
	}
	if got := ScopesForService("unknown"); got != nil {
		t.Errorf("ScopesForService(unknown) = %v, want nil", got)
	}
}

func TestNewAuthorizedClientSendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewAuthorizedClient(context.Background(), &oauth2.Token{
		AccessToken: "access-123",
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Hour),
	})

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()

	if gotAuth != "Bearer access-123" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer access-123")
	}
}
