// Package whatsapp is the WhatsApp Web transport built on whatsmeow: QR
// login, session persistence, reconnects, message events, sending and group
// administration.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mdp/qrterminal"
	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types/events"

	"zideebot/internal/bus"
	"zideebot/internal/domain"
	"zideebot/internal/metrics"
)

// ErrNotConnected is returned by send and group calls while offline.
var ErrNotConnected = errors.New("whatsapp: not connected")

const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusReconnecting = "reconnecting"
	StatusLoggedOut    = "logged_out"
	StatusFailed       = "failed"
)

type ClientConfig struct {
	SessionPath       string
	ReconnectAttempts int           // default 5
	ReconnectDelay    time.Duration // default 5s
	// QRWriter receives the terminal QR code; nil disables printing.
	QRWriter io.Writer
	// AllowFrom limits inbound messages to these chats or senders; empty
	// accepts everyone.
	AllowFrom    []string
	IgnoreGroups bool
	Events       *bus.EventBus
	// OnConnected runs in its own goroutine after every successful login.
	OnConnected func()
	Logger      *slog.Logger
}

// Client implements domain.Channel, domain.Sender and domain.GroupAdmin.
type Client struct {
	cfg    ClientConfig
	logger *slog.Logger
	wa     SlogAdapter
	allow  map[string]struct{}

	// sess is set once by Start; readers on other goroutines load it.
	sess atomic.Pointer[session]

	online       atomic.Bool
	reconnecting atomic.Bool

	mu     sync.Mutex
	lastQR string
	status string
}

var (
	_ domain.Channel    = (*Client)(nil)
	_ domain.Sender     = (*Client)(nil)
	_ domain.GroupAdmin = (*Client)(nil)
)

// session is what Start builds: the whatsmeow client, the bus inbound
// messages go to and the context that bounds reconnects.
type session struct {
	cli *whatsmeow.Client
	bus domain.MessageBus
	ctx context.Context
}

func New(cfg ClientConfig) *Client {
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = 5
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		logger: cfg.Logger,
		wa:     NewSlogAdapter(cfg.Logger, "whatsmeow"),
		allow:  allowSet(cfg.AllowFrom),
		status: StatusDisconnected,
	}
}

func (c *Client) Name() string { return channelName }

// Start opens the session store, logs in (by QR when there is no session)
// and blocks until ctx is cancelled.
func (c *Client) Start(ctx context.Context, b domain.MessageBus) error {
	if err := os.MkdirAll(filepath.Dir(c.cfg.SessionPath), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	container, err := sqlstore.New(ctx, "sqlite3",
		"file:"+c.cfg.SessionPath+"?_foreign_keys=on", c.wa.Sub("Database"))
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("load device: %w", err)
	}

	cli := whatsmeow.NewClient(device, c.wa.Sub("Client"))
	cli.EnableAutoReconnect = false
	cli.AddEventHandler(c.handleEvent)
	c.sess.Store(&session{cli: cli, bus: b, ctx: ctx})

	if cli.Store.ID == nil {
		qrChan, err := cli.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("qr channel: %w", err)
		}
		go c.watchQR(qrChan)
		c.logger.Info("no whatsapp session, waiting for QR login")
	}
	if err := cli.Connect(); err != nil {
		return fmt.Errorf("whatsapp connect: %w", err)
	}

	<-ctx.Done()
	c.logger.Info("whatsapp channel stopping")
	cli.Disconnect()
	c.setStatus(StatusDisconnected)
	return nil
}

func (c *Client) Stop() error {
	if cli := c.waClient(); cli != nil {
		cli.Disconnect()
	}
	return nil
}

// waClient returns the whatsmeow client, or nil before Start built it.
func (c *Client) waClient() *whatsmeow.Client {
	if s := c.sess.Load(); s != nil {
		return s.cli
	}
	return nil
}

// Send delivers plain text; it satisfies domain.Channel.
func (c *Client) Send(ctx context.Context, chatID string, content string) error {
	return c.SendText(ctx, chatID, content, "")
}

// Online reports whether the client is logged in and connected.
func (c *Client) Online() bool {
	cli := c.waClient()
	return c.online.Load() && cli != nil && cli.IsConnected()
}

// Status returns the last connection status.
func (c *Client) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// HasSession reports whether a paired device is stored.
func (c *Client) HasSession() bool {
	cli := c.waClient()
	return cli != nil && cli.Store.ID != nil
}

// RequestQR re-emits the last QR code, if any, and returns it.
func (c *Client) RequestQR() string {
	c.mu.Lock()
	code := c.lastQR
	c.mu.Unlock()
	if code != "" {
		c.emit(bus.EventQRCode, map[string]any{"code": code})
	}
	return code
}

// Restart drops the connection and reconnects.
func (c *Client) Restart() error {
	cli := c.waClient()
	if cli == nil {
		return ErrNotConnected
	}
	cli.Disconnect()
	c.online.Store(false)
	if err := cli.Connect(); err != nil {
		return fmt.Errorf("whatsapp reconnect: %w", err)
	}
	return nil
}

func (c *Client) watchQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case "code":
			c.mu.Lock()
			c.lastQR = item.Code
			c.mu.Unlock()
			if c.cfg.QRWriter != nil {
				fmt.Fprintln(c.cfg.QRWriter, "Scan QR code berikut dengan WhatsApp:")
				qrterminal.GenerateHalfBlock(item.Code, qrterminal.L, c.cfg.QRWriter)
			}
			c.emit(bus.EventQRCode, map[string]any{"code": item.Code})
		case "success":
			c.mu.Lock()
			c.lastQR = ""
			c.mu.Unlock()
			c.logger.Info("whatsapp QR login successful")
		case "timeout":
			c.logger.Warn("whatsapp QR code expired, restart to get a new one")
		default:
			if item.Error != nil {
				c.logger.Error("whatsapp QR error", "event", item.Event, "err", item.Error)
			}
		}
	}
}

func (c *Client) handleEvent(evt any) {
	switch v := evt.(type) {
	case *events.Message:
		s := c.sess.Load()
		in, ok := toInbound(v)
		if !ok || s == nil {
			return
		}
		if !c.accept(in) {
			c.logger.Debug("whatsapp message filtered", "chat", in.ChatID, "sender", in.SenderID)
			return
		}
		c.logger.Debug("whatsapp message received", "chat", in.ChatID, "sender", in.SenderID)
		s.bus.Publish(in)
	case *events.Connected:
		c.online.Store(true)
		c.setStatus(StatusConnected)
		var jid any
		if cli := c.waClient(); cli != nil {
			jid = cli.Store.ID
		}
		c.logger.Info("whatsapp connected", "jid", jid)
		if c.cfg.OnConnected != nil {
			go c.cfg.OnConnected()
		}
	case *events.Disconnected:
		c.online.Store(false)
		c.setStatus(StatusDisconnected)
		c.logger.Warn("whatsapp disconnected")
		go c.reconnect()
	case *events.LoggedOut:
		c.online.Store(false)
		c.setStatus(StatusLoggedOut)
		c.logger.Error("whatsapp session logged out, delete the session and scan again", "reason", v.Reason)
	case *events.StreamReplaced:
		c.online.Store(false)
		c.setStatus(StatusDisconnected)
		c.logger.Warn("whatsapp session opened elsewhere")
	}
}

// reconnect retries the connection a bounded number of times.
func (c *Client) reconnect() {
	s := c.sess.Load()
	if s == nil || s.ctx.Err() != nil {
		return
	}
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer c.reconnecting.Store(false)

	for attempt := 1; attempt <= c.cfg.ReconnectAttempts; attempt++ {
		c.setStatus(StatusReconnecting)
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(c.cfg.ReconnectDelay):
		}
		metrics.ReconnectAttempts.Inc()
		c.logger.Info("whatsapp reconnecting", "attempt", attempt, "max", c.cfg.ReconnectAttempts)
		if err := s.cli.Connect(); err != nil {
			c.logger.Warn("whatsapp reconnect failed", "attempt", attempt, "err", err)
			continue
		}
		return
	}
	c.setStatus(StatusFailed)
	c.logger.Error("whatsapp reconnect gave up", "attempts", c.cfg.ReconnectAttempts)
}

func (c *Client) setStatus(status string) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
	if status == StatusConnected {
		metrics.Connected.Set(1)
	} else {
		metrics.Connected.Set(0)
	}
	c.emit(bus.EventConnectionStatus, map[string]any{"status": status})
}

func (c *Client) emit(eventType string, payload map[string]any) {
	if c.cfg.Events == nil {
		return
	}
	c.cfg.Events.Emit(bus.Event{Type: eventType, Source: channelName, Payload: payload, Timestamp: time.Now()})
}
