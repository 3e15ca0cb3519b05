package api

import (
	"net/http"

	"github.com/vdavid/mailsync/internal/provider"
)

// ProvidersHandler serves the static provider registry.
type ProvidersHandler struct{}

// NewProvidersHandler creates a new ProvidersHandler instance.
func NewProvidersHandler() *ProvidersHandler {
	return &ProvidersHandler{}
}

// ListProviders returns every known provider with its endpoints and OAuth
// capability, so a UI can prefill server settings from an email address.
func (h *ProvidersHandler) ListProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, provider.List())
}
