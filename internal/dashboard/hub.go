package dashboard

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"zideebot/internal/metrics"
)

const writeWait = 10 * time.Second

// WSMessage is the envelope for every socket frame in both directions.
type WSMessage struct {
	Type    string `json:"type"` // "status-update" | "new-message" | "qr-code" | "ai-chat" | ...
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     sameOrigin,
}

// sameOrigin accepts requests without an Origin header (non-browser
// clients) and browser requests whose Origin host matches the Host header.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// hub tracks dashboard sockets and fans events out to them.
type hub struct {
	srv    *Server
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newHub(srv *Server, logger *slog.Logger) *hub {
	return &hub{
		srv:     srv,
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

func (h *hub) handleUpgrade(rw http.ResponseWriter, r *http.Request) {
	if !sameOrigin(r) {
		h.logger.Warn("websocket origin rejected", "origin", r.Header.Get("Origin"), "host", r.Host, "remote", r.RemoteAddr)
		http.Error(rw, "origin not allowed", http.StatusForbidden)
		return
	}
	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	client := &wsClient{conn: conn}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	metrics.DashboardClients.Inc()
	h.logger.Info("dashboard client connected", "remote", r.RemoteAddr)

	defer func() {
		h.mu.Lock()
		delete(h.clients, client)
		h.mu.Unlock()
		metrics.DashboardClients.Dec()
		conn.Close()
		h.logger.Info("dashboard client disconnected", "remote", r.RemoteAddr)
	}()

	st := h.srv.status()
	client.send(WSMessage{Type: "status-update", Data: st})
	if st.QRCode != "" {
		client.send(WSMessage{Type: "qr-code", Data: st.QRCode})
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read error", "err", err)
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.logger.Warn("invalid websocket message", "err", err)
			continue
		}

		switch msg.Type {
		case "request-qr":
			if qr := h.srv.status().QRCode; qr != "" {
				client.send(WSMessage{Type: "qr-code", Data: qr})
			}
		case "ai-chat":
			h.aiChat(r, client, msg.Message)
		default:
			h.logger.Debug("unknown websocket message", "type", msg.Type)
		}
	}
}

// aiChat answers one dashboard chat prompt on the requesting socket only.
func (h *hub) aiChat(r *http.Request, client *wsClient, prompt string) {
	prompt = strings.TrimSpace(prompt)
	reply := map[string]any{"timestamp": h.srv.timestamp()}
	switch {
	case prompt == "":
		reply["success"] = false
		reply["error"] = "empty message"
	case h.srv.cfg.Assistant == nil:
		reply["success"] = false
		reply["error"] = "AI is not configured"
	default:
		reply["success"] = true
		reply["response"] = h.srv.cfg.Assistant.Chat(r.Context(), prompt)
	}
	client.send(WSMessage{Type: "ai-chat-response", Data: reply})
}

func (h *hub) broadcast(eventType string, data any) {
	frame, err := json.Marshal(WSMessage{Type: eventType, Data: data})
	if err != nil {
		h.logger.Warn("encode websocket event", "type", eventType, "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if err := c.write(frame); err != nil {
			h.logger.Debug("websocket write failed", "err", err)
		}
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close()
	}
}

func (c *wsClient) send(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.write(data)
}

func (c *wsClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
