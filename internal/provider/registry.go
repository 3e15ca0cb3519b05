// Package provider maps email domains to known provider endpoints. The
// registry is a static table; resolution is a pure lookup with no network or
// side effects.
package provider

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownProvider is returned when no registry entry matches the address's
// domain. The caller must then supply a manual IMAP configuration.
var ErrUnknownProvider = errors.New("unknown email provider")

// Endpoint is one server endpoint of a provider.
type Endpoint struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	TLS      bool   `json:"tls"`
	StartTLS bool   `json:"starttls"`
}

// Config describes a known provider. SMTP metadata is carried for the
// providers endpoint and documentation parity; the sync engine only ever
// opens IMAP connections.
type Config struct {
	Name           string   `json:"name"`
	DisplayName    string   `json:"display_name"`
	Domains        []string `json:"domains"`
	IMAP           Endpoint `json:"imap"`
	SMTP           Endpoint `json:"smtp"`
	OAuthSupported bool     `json:"oauth_supported"`
}

var registry = []Config{
	{
		Name:           "gmail",
		DisplayName:    "Gmail",
		Domains:        []string{"gmail.com"},
		IMAP:           Endpoint{Host: "imap.gmail.com", Port: 993, TLS: true},
		SMTP:           Endpoint{Host: "smtp.gmail.com", Port: 587, StartTLS: true},
		OAuthSupported: true,
	},
	{
		Name:           "outlook",
		DisplayName:    "Outlook / Office 365",
		Domains:        []string{"outlook.com", "hotmail.com", "live.com"},
		IMAP:           Endpoint{Host: "outlook.office365.com", Port: 993, TLS: true},
		SMTP:           Endpoint{Host: "smtp.office365.com", Port: 587, StartTLS: true},
		OAuthSupported: true,
	},
	{
		Name:        "qq",
		DisplayName: "QQ Mail",
		Domains:     []string{"qq.com"},
		IMAP:        Endpoint{Host: "imap.qq.com", Port: 993, TLS: true},
		SMTP:        Endpoint{Host: "smtp.qq.com", Port: 587, StartTLS: true},
	},
	{
		Name:        "163",
		DisplayName: "NetEase 163 Mail",
		Domains:     []string{"163.com"},
		IMAP:        Endpoint{Host: "imap.163.com", Port: 993, TLS: true},
		SMTP:        Endpoint{Host: "smtp.163.com", Port: 465, TLS: true},
	},
	{
		Name:        "126",
		DisplayName: "NetEase 126 Mail",
		Domains:     []string{"126.com"},
		IMAP:        Endpoint{Host: "imap.126.com", Port: 993, TLS: true},
		SMTP:        Endpoint{Host: "smtp.126.com", Port: 465, TLS: true},
	},
	{
		Name:        "icloud",
		DisplayName: "iCloud Mail",
		Domains:     []string{"icloud.com", "me.com", "mac.com"},
		IMAP:        Endpoint{Host: "imap.mail.me.com", Port: 993, TLS: true},
		SMTP:        Endpoint{Host: "smtp.mail.me.com", Port: 587, StartTLS: true},
	},
}

// domainIndex maps each registered domain to its provider config.
var domainIndex = buildDomainIndex()

func buildDomainIndex() map[string]*Config {
	index := make(map[string]*Config)
	for i := range registry {
		for _, domain := range registry[i].Domains {
			index[domain] = &registry[i]
		}
	}
	return index
}

// Resolve returns the provider config for the given email address.
// Matching is by longest domain suffix: "user@mail.gmail.com" matches the
// gmail.com entry after the full domain misses. Unrecognized domains return
// ErrUnknownProvider.
func Resolve(email string) (Config, error) {
	at := strings.LastIndex(email, "@")
	if at < 1 || at == len(email)-1 {
		return Config{}, fmt.Errorf("invalid email address %q", email)
	}

	domain := strings.ToLower(email[at+1:])

	// Walk suffixes from most to least specific.
	for domain != "" {
		if cfg, ok := domainIndex[domain]; ok {
			return *cfg, nil
		}
		dot := strings.Index(domain, ".")
		if dot < 0 {
			break
		}
		domain = domain[dot+1:]
	}

	return Config{}, fmt.Errorf("%w for %q", ErrUnknownProvider, email)
}

// List returns all registered providers in registry order.
func List() []Config {
	out := make([]Config, len(registry))
	copy(out, registry)
	return out
}
