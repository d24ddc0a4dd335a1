// Package dashboard serves the web control panel: bot status, message log,
// manual sends, broadcasts, queue maintenance and a live WebSocket feed.
package dashboard

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"zideebot/internal/bot"
	"zideebot/internal/bus"
	"zideebot/internal/history"
	"zideebot/internal/queue"
)

const (
	maxBodySize     = 1 << 20
	timestampLayout = "2006-01-02 15:04:05"
)

//go:embed templates/*.html
var templateFS embed.FS

// Connection is the WhatsApp transport as seen by the dashboard.
type Connection interface {
	Online() bool
	Status() string
	HasSession() bool
	Restart() error
}

// Messenger sends manual messages and broadcasts.
type Messenger interface {
	SendTo(ctx context.Context, phone, text string) (bot.Delivery, error)
	Broadcast(ctx context.Context, phones []string, text string) (history.Broadcast, error)
	DrainQueue(ctx context.Context) (queue.DrainResult, error)
}

type MessageLog interface {
	Recent(ctx context.Context, limit int) ([]history.Record, error)
}

type QueueView interface {
	Status() queue.Counts
	Entries() []queue.Entry
}

// Assistant answers dashboard AI chat and the API key probe.
type Assistant interface {
	Online() bool
	Chat(ctx context.Context, question string) string
	Test(ctx context.Context) (string, error)
}

type Config struct {
	Host    string
	Port    int
	BotName string
	Version string

	// Auth enables HTTP basic auth; PasswordHash is a hex sha256.
	AuthEnabled  bool
	Username     string
	PasswordHash string

	// MetricsPath mounts metrics on the mux when set.
	MetricsPath    string
	MetricsHandler http.Handler

	Connection Connection
	Messenger  Messenger
	History    MessageLog
	Queue      QueueView
	Assistant  Assistant
	Events     *bus.EventBus
	Location   *time.Location
	Logger     *slog.Logger
	Now        func() time.Time
}

type Server struct {
	cfg    Config
	logger *slog.Logger
	tmpl   *htmltemplate.Template
	hub    *hub
	server *http.Server
	now    func() time.Time
	start  time.Time

	// base scopes background broadcasts to the server lifetime.
	baseMu sync.RWMutex
	base   context.Context
	wg     sync.WaitGroup

	mu           sync.Mutex
	qr           string
	lastActivity time.Time
	messageCount int64
	chats        map[string]struct{}
	handlerID    string
}

func New(cfg Config) *Server {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 3000
	}
	if cfg.BotName == "" {
		cfg.BotName = "ZideeBot"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger,
		tmpl:   htmltemplate.Must(htmltemplate.ParseFS(templateFS, "templates/*.html")),
		now:    cfg.Now,
		start:  cfg.Now(),
		base:   context.Background(),
		chats:  make(map[string]struct{}),
	}
	s.hub = newHub(s, cfg.Logger)
	if cfg.Events != nil {
		s.qr = pendingQR(cfg.Events)
		s.handlerID = cfg.Events.On("*", s.onEvent)
	}
	return s
}

// pendingQR returns the last QR code unless a login happened after it.
func pendingQR(events *bus.EventBus) string {
	qr, ok := events.Latest(bus.EventQRCode)
	if !ok {
		return ""
	}
	if st, ok := events.Latest(bus.EventConnectionStatus); ok &&
		st.Payload["status"] == "connected" && !st.Timestamp.Before(qr.Timestamp) {
		return ""
	}
	code, _ := qr.Payload["code"].(string)
	return code
}

// Handler returns the dashboard routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.requireAuth(s.handleIndex))
	mux.HandleFunc("GET /api/status", s.requireAuth(s.handleStatus))
	mux.HandleFunc("GET /api/messages", s.requireAuth(s.handleMessages))
	mux.HandleFunc("POST /api/send-message", s.requireAuth(s.handleSendMessage))
	mux.HandleFunc("POST /api/broadcast", s.requireAuth(s.handleBroadcast))
	mux.HandleFunc("POST /api/test-gemini", s.requireAuth(s.handleTestAI))
	mux.HandleFunc("GET /api/events", s.requireAuth(s.handleEvents))
	mux.HandleFunc("GET /api/queue", s.requireAuth(s.handleQueue))
	mux.HandleFunc("POST /api/queue/drain", s.requireAuth(s.handleQueueDrain))
	mux.HandleFunc("POST /api/bot-restart", s.requireAuth(s.handleRestart))
	mux.HandleFunc("GET /ws", s.requireAuth(s.hub.handleUpgrade))
	if s.cfg.MetricsPath != "" && s.cfg.MetricsHandler != nil {
		mux.Handle("GET "+s.cfg.MetricsPath, s.cfg.MetricsHandler)
	}
	return mux
}

// Start serves until ctx is cancelled, then shuts down and waits for
// running broadcasts.
func (s *Server) Start(ctx context.Context) error {
	s.baseMu.Lock()
	s.base = ctx
	s.baseMu.Unlock()

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("dashboard started", "addr", "http://"+addr, "auth", s.cfg.AuthEnabled)

	go func() {
		<-ctx.Done()
		s.hub.closeAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	err := s.server.ListenAndServe()
	s.wg.Wait()
	if s.cfg.Events != nil {
		s.cfg.Events.Off("*", s.handlerID)
	}
	if !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// Wait blocks until background broadcasts started by the API have finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.cfg.AuthEnabled {
			next(rw, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || !s.checkCredentials(user, pass) {
			rw.Header().Set("WWW-Authenticate", `Basic realm="ZideeBot"`)
			http.Error(rw, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(rw, r)
	}
}

func (s *Server) checkCredentials(user, pass string) bool {
	if subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.Username)) != 1 {
		return false
	}
	hash := sha256.Sum256([]byte(pass))
	got := hex.EncodeToString(hash[:])
	return subtle.ConstantTimeCompare([]byte(got), []byte(strings.ToLower(s.cfg.PasswordHash))) == 1
}

// Status is the payload of GET /api/status and the status-update event.
type Status struct {
	IsConnected     bool         `json:"isConnected"`
	IsAuthenticated bool         `json:"isAuthenticated"`
	Connection      string       `json:"connection"`
	QRCode          string       `json:"qrCode,omitempty"`
	LastActivity    string       `json:"lastActivity,omitempty"`
	MessageCount    int64        `json:"messageCount"`
	ActiveChats     int          `json:"activeChats"`
	StartTime       string       `json:"startTime"`
	Uptime          string       `json:"uptime"`
	Queue           queue.Counts `json:"queue"`
	AIOnline        bool         `json:"aiOnline"`
	MemoryUsage     string       `json:"memoryUsage"`
	GoVersion       string       `json:"goVersion"`
	Version         string       `json:"version"`
}

func (s *Server) status() Status {
	now := s.now()
	st := Status{
		Connection: "disconnected",
		StartTime:  s.start.In(s.cfg.Location).Format(timestampLayout),
		Uptime:     strings.TrimSpace(humanize.RelTime(s.start, now, "", "")),
		GoVersion:  runtime.Version(),
		Version:    s.cfg.Version,
	}
	if c := s.cfg.Connection; c != nil {
		st.IsConnected = c.Online()
		st.IsAuthenticated = c.HasSession()
		st.Connection = c.Status()
	}
	if s.cfg.Queue != nil {
		st.Queue = s.cfg.Queue.Status()
	}
	if s.cfg.Assistant != nil {
		st.AIOnline = s.cfg.Assistant.Online()
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	st.MemoryUsage = humanize.Bytes(mem.Alloc)

	s.mu.Lock()
	st.QRCode = s.qr
	st.MessageCount = s.messageCount
	st.ActiveChats = len(s.chats)
	if !s.lastActivity.IsZero() {
		st.LastActivity = s.lastActivity.In(s.cfg.Location).Format(timestampLayout)
	}
	s.mu.Unlock()
	return st
}

func (s *Server) timestamp() string {
	return s.now().In(s.cfg.Location).Format(timestampLayout)
}

// onEvent tracks activity and relays bot events to socket clients.
func (s *Server) onEvent(e bus.Event) {
	switch e.Type {
	case bus.EventConnectionStatus:
		if e.Payload["status"] == "connected" {
			s.mu.Lock()
			s.qr = ""
			s.mu.Unlock()
		}
		s.hub.broadcast("status-update", s.status())

	case bus.EventQRCode:
		code, _ := e.Payload["code"].(string)
		s.mu.Lock()
		s.qr = code
		s.mu.Unlock()
		s.hub.broadcast("qr-code", code)

	case bus.EventMessageReceived:
		chatID, _ := e.Payload["chatId"].(string)
		s.mu.Lock()
		s.messageCount++
		s.lastActivity = s.now()
		if chatID != "" {
			s.chats[chatID] = struct{}{}
		}
		s.mu.Unlock()
		s.hub.broadcast("new-message", map[string]any{
			"from":      e.Payload["sender"],
			"chatId":    chatID,
			"pushName":  e.Payload["pushName"],
			"message":   e.Payload["content"],
			"timestamp": s.timestamp(),
		})
		s.hub.broadcast("status-update", s.status())

	case bus.EventMessageSent:
		s.hub.broadcast("message-sent", map[string]any{
			"phoneNumber": e.Payload["chatId"],
			"message":     e.Payload["content"],
			"timestamp":   s.timestamp(),
		})

	case bus.EventMessageQueued:
		s.hub.broadcast("message-queued", e.Payload)

	case bus.EventBroadcastStarted:
		s.hub.broadcast("broadcast-started", map[string]any{
			"id":         e.Payload["id"],
			"recipients": e.Payload["total"],
			"message":    e.Payload["message"],
			"timestamp":  s.timestamp(),
		})

	case bus.EventBroadcastFinished:
		s.hub.broadcast("broadcast-finished", e.Payload)

	case bus.EventQueueDrained:
		s.hub.broadcast("queue-drained", e.Payload)

	case bus.EventCatalogReloaded:
		s.hub.broadcast("catalog-reloaded", e.Payload)
	}
}
