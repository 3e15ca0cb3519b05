package api

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/vdavid/mailsync/internal/auth"
	ws "github.com/vdavid/mailsync/internal/websocket"
)

// WebSocketHandler handles the /api/v1/ws endpoint for live sync progress.
type WebSocketHandler struct {
	apiToken string
	hub      *ws.Hub
}

// NewWebSocketHandler creates a new WebSocketHandler instance.
func NewWebSocketHandler(apiToken string, hub *ws.Hub) *WebSocketHandler {
	return &WebSocketHandler{apiToken: apiToken, hub: hub}
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// For now, allow all origins. This server is expected to be used
		// behind a reverse proxy in a trusted environment.
		return true
	},
}

// Handle upgrades the HTTP connection to a WebSocket and registers it with
// the Hub. Authentication uses a query parameter (?token=...) because browser
// WebSocket clients cannot set custom headers; the Authorization header is
// accepted as a fallback for tools that can.
func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = auth.BearerToken(r)
	}

	if !auth.TokenMatches(h.apiToken, token) {
		log.Printf("api: websocket connection rejected: bad or missing token")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("api: websocket upgrade failed: %v", err)
		return
	}

	client := h.hub.Register(conn)
	if client == nil {
		log.Printf("api: websocket connection rejected: connection limit reached")
		return
	}

	log.Printf("api: websocket connection established (%d active)", h.hub.ActiveConnections())

	go h.readLoop(client)
}

// readLoop reads until the connection closes, then unregisters the client.
// Inbound messages are discarded; the stream is one-way.
func (h *WebSocketHandler) readLoop(client *ws.Client) {
	conn := client.Conn()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.hub.Unregister(client)
	log.Printf("api: websocket connection closed (%d active)", h.hub.ActiveConnections())
}
