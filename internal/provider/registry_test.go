package provider

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name         string
		email        string
		wantProvider string
		wantHost     string
		wantOAuth    bool
		wantErr      error
	}{
		{
			name:         "gmail address",
			email:        "someone@gmail.com",
			wantProvider: "gmail",
			wantHost:     "imap.gmail.com",
			wantOAuth:    true,
		},
		{
			name:         "outlook address",
			email:        "someone@outlook.com",
			wantProvider: "outlook",
			wantHost:     "outlook.office365.com",
			wantOAuth:    true,
		},
		{
			name:         "hotmail maps to outlook",
			email:        "someone@hotmail.com",
			wantProvider: "outlook",
			wantHost:     "outlook.office365.com",
			wantOAuth:    true,
		},
		{
			name:         "live maps to outlook",
			email:        "someone@live.com",
			wantProvider: "outlook",
			wantHost:     "outlook.office365.com",
			wantOAuth:    true,
		},
		{
			name:         "qq address",
			email:        "someone@qq.com",
			wantProvider: "qq",
			wantHost:     "imap.qq.com",
		},
		{
			name:         "163 address",
			email:        "someone@163.com",
			wantProvider: "163",
			wantHost:     "imap.163.com",
		},
		{
			name:         "126 address",
			email:        "someone@126.com",
			wantProvider: "126",
			wantHost:     "imap.126.com",
		},
		{
			name:         "icloud address",
			email:        "someone@icloud.com",
			wantProvider: "icloud",
			wantHost:     "imap.mail.me.com",
		},
		{
			name:         "me.com maps to icloud",
			email:        "someone@me.com",
			wantProvider: "icloud",
			wantHost:     "imap.mail.me.com",
		},
		{
			name:         "uppercase domain is normalized",
			email:        "someone@GMAIL.COM",
			wantProvider: "gmail",
			wantHost:     "imap.gmail.com",
			wantOAuth:    true,
		},
		{
			name:         "subdomain falls back to registered suffix",
			email:        "someone@mail.gmail.com",
			wantProvider: "gmail",
			wantHost:     "imap.gmail.com",
			wantOAuth:    true,
		},
		{
			name:    "unknown domain",
			email:   "someone@example.org",
			wantErr: ErrUnknownProvider,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Resolve(tt.email)
			if tt.wantErr != nil {
				assert.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.wantProvider, cfg.Name)
			assert.Equal(t, tt.wantHost, cfg.IMAP.Host)
			assert.Equal(t, 993, cfg.IMAP.Port)
			assert.True(t, cfg.IMAP.TLS)
			assert.Equal(t, tt.wantOAuth, cfg.OAuthSupported)
		})
	}
}

func TestResolveRejectsMalformedAddresses(t *testing.T) {
	for _, email := range []string{"", "no-at-sign", "@example.com", "user@"} {
		t.Run(email, func(t *testing.T) {
			_, err := Resolve(email)
			assert.Error(t, err)
		})
	}
}

func TestListReturnsAllProviders(t *testing.T) {
	providers := List()
	assert.Len(t, providers, 6)

	names := make(map[string]bool)
	for _, p := range providers {
		names[p.Name] = true
		assert.NotEmpty(t, p.IMAP.Host)
		assert.NotZero(t, p.IMAP.Port)
		assert.NotEmpty(t, p.SMTP.Host)
	}
	for _, want := range []string{"gmail", "outlook", "qq", "163", "126", "icloud"} {
		assert.True(t, names[want], "missing provider %s", want)
	}
}

func TestListCopiesRegistry(t *testing.T) {
	first := List()
	first[0].IMAP.Host = "mutated"

	second := List()
	assert.NotEqual(t, "mutated", second[0].IMAP.Host)
}
