package api

import "testing"

func TestAccountActionPath(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		id     int64
		action string
		ok     bool
	}{
		{"sync action", "/api/v1/accounts/42/sync", 42, "sync", true},
		{"reset action", "/api/v1/accounts/7/reset", 7, "reset", true},
		{"trailing slash", "/api/v1/accounts/7/reset/", 7, "reset", true},
		{"bare account", "/api/v1/accounts/42", 42, "", true},
		{"unknown action passes through", "/api/v1/accounts/42/frobnicate", 42, "frobnicate", true},
		{"non-numeric id", "/api/v1/accounts/abc/sync", 0, "", false},
		{"zero id", "/api/v1/accounts/0/sync", 0, "", false},
		{"negative id", "/api/v1/accounts/-3/sync", 0, "", false},
		{"missing id", "/api/v1/accounts/", 0, "", false},
		{"wrong prefix", "/api/v1/sync", 0, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, action, ok := accountActionPath(tt.path)
			if ok != tt.ok {
				t.Fatalf("accountActionPath(%q) ok = %t, want %t", tt.path, ok, tt.ok)
			}
			if !ok {
				return
			}
			if id != tt.id {
				t.Errorf("accountActionPath(%q) id = %d, want %d", tt.path, id, tt.id)
			}
			if action != tt.action {
				t.Errorf("accountActionPath(%q) action = %q, want %q", tt.path, action, tt.action)
			}
		})
	}
}
