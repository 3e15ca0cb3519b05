package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vdavid/mailsync/internal/config"
	"github.com/vdavid/mailsync/internal/credentials"
	"github.com/vdavid/mailsync/internal/events"
	"github.com/vdavid/mailsync/internal/rawstore"
	"github.com/vdavid/mailsync/internal/sync"
	"github.com/vdavid/mailsync/internal/testutil"
	ws "github.com/vdavid/mailsync/internal/websocket"
)

func TestHandleRoot(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	handleRoot(w, req)

	res := w.Result()
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			t.Fatalf("failed to close response body: %v", err)
		}
	}(res.Body)

	if res.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", res.StatusCode)
	}

	contentType := res.Header.Get("Content-Type")
	if contentType != "text/plain" {
		t.Errorf("expected Content-Type 'text/plain', got '%s'", contentType)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	if !strings.Contains(string(body), "running") {
		t.Errorf("expected a liveness message, got %q", body)
	}
}

func TestServerRoutes(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	const token = "route-test-token"
	cfg := &config.Config{
		Environment: "test",
		APIToken:    token,
		Port:        "8080",
	}

	encryptor := testutil.GetTestEncryptor(t)
	bus := events.NewBus(16)
	creds := credentials.NewStore(pool, encryptor, nil)
	files := rawstore.New(t.TempDir())
	coordinator := sync.NewCoordinator(pool, creds, files, bus)
	hub := ws.NewHub(10)

	server := httptest.NewServer(NewServer(cfg, pool, encryptor, coordinator, hub))
	defer server.Close()

	request := func(t *testing.T, method, path, bearer string) *http.Response {
		t.Helper()
		req, err := http.NewRequest(method, server.URL+path, nil)
		if err != nil {
			t.Fatalf("failed to build request: %v", err)
		}
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		t.Cleanup(func() { _ = res.Body.Close() })
		return res
	}

	t.Run("root is public", func(t *testing.T) {
		res := request(t, http.MethodGet, "/", "")
		if res.StatusCode != http.StatusOK {
			t.Errorf("expected status 200, got %d", res.StatusCode)
		}
	})

	t.Run("api routes require a token", func(t *testing.T) {
		for _, path := range []string{"/api/v1/providers", "/api/v1/accounts", "/api/v1/settings/sync"} {
			res := request(t, http.MethodGet, path, "")
			if res.StatusCode != http.StatusUnauthorized {
				t.Errorf("expected status 401 for %s, got %d", path, res.StatusCode)
			}
		}
	})

	t.Run("token grants access", func(t *testing.T) {
		res := request(t, http.MethodGet, "/api/v1/providers", token)
		if res.StatusCode != http.StatusOK {
			t.Errorf("expected status 200, got %d", res.StatusCode)
		}

		res = request(t, http.MethodGet, "/api/v1/accounts", token)
		if res.StatusCode != http.StatusOK {
			t.Errorf("expected status 200, got %d", res.StatusCode)
		}

		res = request(t, http.MethodGet, "/api/v1/settings/sync", token)
		if res.StatusCode != http.StatusOK {
			t.Errorf("expected status 200, got %d", res.StatusCode)
		}
	})

	t.Run("wrong methods are rejected", func(t *testing.T) {
		res := request(t, http.MethodPut, "/api/v1/accounts", token)
		if res.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("expected status 405, got %d", res.StatusCode)
		}

		res = request(t, http.MethodGet, "/api/v1/sync", token)
		if res.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("expected status 405, got %d", res.StatusCode)
		}
	})

	t.Run("sync all is accepted", func(t *testing.T) {
		res := request(t, http.MethodPost, "/api/v1/sync", token)
		if res.StatusCode != http.StatusAccepted {
			t.Errorf("expected status 202, got %d", res.StatusCode)
		}
	})

	t.Run("account actions resolve through the mux", func(t *testing.T) {
		res := request(t, http.MethodPost, "/api/v1/accounts/999/sync", token)
		if res.StatusCode != http.StatusNotFound {
			t.Errorf("expected status 404 for an unknown account, got %d", res.StatusCode)
		}
	})
}
