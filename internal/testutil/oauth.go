package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"golang.org/x/oauth2"
)

// TestTokenServer is an in-process OAuth token endpoint. It answers every
// refresh_token grant with the configured token pair, or with an OAuth error
// body when FailWith is set.
type TestTokenServer struct {
	*httptest.Server

	// Response fields, set before the first request.
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
	FailWith     string

	mu               sync.Mutex
	requests         int
	lastGrantType    string
	lastRefreshToken string
}

// NewTestTokenServer starts a token endpoint that grants a fresh token pair.
// The server shuts down when the test finishes.
func NewTestTokenServer(t *testing.T) *TestTokenServer {
	t.Helper()

	s := &TestTokenServer{
		AccessToken:  "new-access-token",
		RefreshToken: "rotated-refresh-token",
		ExpiresIn:    3600,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handleToken))
	t.Cleanup(s.Server.Close)

	return s
}

// Endpoint returns an oauth2.Endpoint pointed at this server.
func (s *TestTokenServer) Endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:  s.URL + "/auth",
		TokenURL: s.URL + "/token",
	}
}

// RequestCount reports how many token requests the server has answered.
func (s *TestTokenServer) RequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// LastRefreshToken reports the refresh token presented in the most recent
// request.
func (s *TestTokenServer) LastRefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRefreshToken
}

// LastGrantType reports the grant_type of the most recent request.
func (s *TestTokenServer) LastGrantType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastGrantType
}

func (s *TestTokenServer) handleToken(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()

	s.mu.Lock()
	s.requests++
	s.lastGrantType = r.Form.Get("grant_type")
	s.lastRefreshToken = r.Form.Get("refresh_token")
	failWith := s.FailWith
	accessToken := s.AccessToken
	refreshToken := s.RefreshToken
	expiresIn := s.ExpiresIn
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	if failWith != "" {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, `{"error":%q}`, failWith)
		return
	}

	fmt.Fprintf(w, `{"access_token":%q,"refresh_token":%q,"token_type":"Bearer","expires_in":%d}`,
		accessToken, refreshToken, expiresIn)
}
