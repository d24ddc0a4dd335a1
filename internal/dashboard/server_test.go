package dashboard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zideebot/internal/bot"
	"zideebot/internal/bus"
	"zideebot/internal/history"
	"zideebot/internal/queue"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type fakeConn struct {
	online    bool
	restarted chan struct{}
}

func (f *fakeConn) Online() bool     { return f.online }
func (f *fakeConn) HasSession() bool { return true }

func (f *fakeConn) Status() string {
	if f.online {
		return "connected"
	}
	return "disconnected"
}

func (f *fakeConn) Restart() error {
	close(f.restarted)
	return nil
}

type fakeMessenger struct {
	mu        sync.Mutex
	delivery  bot.Delivery
	err       error
	sent      []string
	broadcast []string
	drained   int
}

func (f *fakeMessenger) SendTo(_ context.Context, phone, text string) (bot.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, phone+"|"+text)
	return f.delivery, f.err
}

func (f *fakeMessenger) Broadcast(_ context.Context, phones []string, text string) (history.Broadcast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcast = append(f.broadcast, phones...)
	return history.Broadcast{Total: len(phones), Sent: len(phones), Message: text}, nil
}

func (f *fakeMessenger) DrainQueue(context.Context) (queue.DrainResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drained++
	return queue.DrainResult{Attempted: 2, Sent: 2}, nil
}

type fakeLog struct {
	records []history.Record
	limit   int
}

func (f *fakeLog) Recent(_ context.Context, limit int) ([]history.Record, error) {
	f.limit = limit
	out := append([]history.Record(nil), f.records...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeQueue struct{}

func (fakeQueue) Status() queue.Counts {
	return queue.Counts{Total: 3, Pending: 1, Retry: 1, Failed: 1}
}

func (fakeQueue) Entries() []queue.Entry {
	return []queue.Entry{{ID: "1", PhoneNumber: "628111", Message: "halo", Status: queue.StatusPending}}
}

type fakeAssistant struct {
	online bool
	err    error
}

func (f *fakeAssistant) Online() bool { return f.online }
func (f *fakeAssistant) Chat(_ context.Context, q string) string {
	return "jawaban: " + q
}
func (f *fakeAssistant) Test(context.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "OK", nil
}

type fixture struct {
	srv       *Server
	conn      *fakeConn
	messenger *fakeMessenger
	log       *fakeLog
	ai        *fakeAssistant
	events    *bus.EventBus
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		conn:      &fakeConn{online: true, restarted: make(chan struct{})},
		messenger: &fakeMessenger{delivery: bot.Sent},
		log: &fakeLog{records: []history.Record{
			{ID: "3", Direction: history.Outbound, ChatID: "628111@s.whatsapp.net", Content: "🏓 Pong!"},
			{ID: "2", Direction: history.Inbound, ChatID: "628111@s.whatsapp.net", Content: "ping"},
			{ID: "1", Direction: history.Inbound, ChatID: "628222@s.whatsapp.net", Content: "menu"},
		}},
		ai:     &fakeAssistant{online: true},
		events: bus.NewEventBus(testLogger()),
	}
	cfg := Config{
		BotName:        "TesBot",
		Version:        "1.2.3",
		Connection:     f.conn,
		Messenger:      f.messenger,
		History:        f.log,
		Queue:          fakeQueue{},
		Assistant:      f.ai,
		Events:         f.events,
		MetricsPath:    "/metrics",
		MetricsHandler: http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) { io.WriteString(rw, "zideebot_up 1\n") }),
		Logger:         testLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.srv = New(cfg)
	return f
}

func (f *fixture) do(method, target, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestIndex(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<title>TesBot Dashboard</title>")
	assert.Contains(t, rec.Body.String(), "v1.2.3")

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/nope", "", "").Code)
}

func TestStatus(t *testing.T) {
	f := newFixture(t, nil)
	f.events.Emit(bus.Event{Type: bus.EventMessageReceived, Payload: map[string]any{"chatId": "628111@s.whatsapp.net", "content": "ping"}})
	f.events.Emit(bus.Event{Type: bus.EventMessageReceived, Payload: map[string]any{"chatId": "628111@s.whatsapp.net", "content": "menu"}})

	rec := f.do(http.MethodGet, "/api/status", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.IsConnected)
	assert.True(t, st.IsAuthenticated)
	assert.Equal(t, "connected", st.Connection)
	assert.EqualValues(t, 2, st.MessageCount)
	assert.Equal(t, 1, st.ActiveChats)
	assert.NotEmpty(t, st.LastActivity)
	assert.Equal(t, queue.Counts{Total: 3, Pending: 1, Retry: 1, Failed: 1}, st.Queue)
	assert.True(t, st.AIOnline)
	assert.Equal(t, "1.2.3", st.Version)
	assert.NotEmpty(t, st.Uptime)
}

func TestStatus_TracksQRCode(t *testing.T) {
	f := newFixture(t, nil)
	f.events.Emit(bus.Event{Type: bus.EventQRCode, Payload: map[string]any{"code": "2@abc"}})
	assert.Equal(t, "2@abc", f.srv.status().QRCode)

	f.events.Emit(bus.Event{Type: bus.EventConnectionStatus, Payload: map[string]any{"status": "connected"}})
	assert.Empty(t, f.srv.status().QRCode)
}

func TestNew_PrimesPendingQR(t *testing.T) {
	events := bus.NewEventBus(testLogger())
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	events.Emit(bus.Event{Type: bus.EventConnectionStatus, Payload: map[string]any{"status": "connected"}, Timestamp: t0})
	events.Emit(bus.Event{Type: bus.EventQRCode, Payload: map[string]any{"code": "2@late"}, Timestamp: t0.Add(time.Minute)})

	srv := New(Config{Events: events, Logger: testLogger()})
	assert.Equal(t, "2@late", srv.status().QRCode)

	events.Emit(bus.Event{Type: bus.EventConnectionStatus, Payload: map[string]any{"status": "connected"}, Timestamp: t0.Add(2 * time.Minute)})
	assert.Empty(t, New(Config{Events: events, Logger: testLogger()}).status().QRCode)
}

func TestEvents(t *testing.T) {
	f := newFixture(t, nil)
	old := time.Now().Add(-time.Hour)
	f.events.Emit(bus.Event{Type: bus.EventMessageSent, Source: "outbox", Payload: map[string]any{"chatId": "628111"}, Timestamp: old})
	f.events.Emit(bus.Event{Type: bus.EventQueueDrained, Source: "outbox", Payload: map[string]any{"sent": 2}})
	f.events.Emit(bus.Event{Type: bus.EventMessageSent, Source: "outbox", Payload: map[string]any{"chatId": "628222"}})

	var all struct {
		Buffered int         `json:"buffered"`
		Events   []eventView `json:"events"`
	}
	rec := f.do(http.MethodGet, "/api/events", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Equal(t, 3, all.Buffered)
	assert.Len(t, all.Events, 3)

	since := url.QueryEscape(time.Now().Add(-time.Minute).Format(time.RFC3339))
	rec = f.do(http.MethodGet, "/api/events?type=message.sent&since="+since, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Len(t, all.Events, 1)
	assert.Equal(t, "628222", all.Events[0].Payload["chatId"])

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/events?since=yesterday", "", "").Code)
}

func TestAuth(t *testing.T) {
	hash := sha256.Sum256([]byte("rahasia"))
	f := newFixture(t, func(c *Config) {
		c.AuthEnabled = true
		c.Username = "admin"
		c.PasswordHash = hex.EncodeToString(hash[:])
	})

	rec := f.do(http.MethodGet, "/api/status", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	for _, tc := range []struct {
		user, pass string
		want       int
	}{
		{"admin", "salah", http.StatusUnauthorized},
		{"root", "rahasia", http.StatusUnauthorized},
		{"admin", "rahasia", http.StatusOK},
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
		req.SetBasicAuth(tc.user, tc.pass)
		rec := httptest.NewRecorder()
		f.srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, tc.want, rec.Code, "%s/%s", tc.user, tc.pass)
	}

	// metrics are scraped without credentials
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/metrics", "", "").Code)
}

func TestMessages_OldestFirst(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/api/messages?limit=2", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var records []history.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 2)
	assert.Equal(t, "2", records[0].ID)
	assert.Equal(t, "3", records[1].ID)

	f.do(http.MethodGet, "/api/messages?limit=abc", "", "")
	assert.Equal(t, defaultMessageLimit, f.log.limit)
	f.do(http.MethodGet, "/api/messages?limit=5000", "", "")
	assert.Equal(t, maxMessageLimit, f.log.limit)
}

func TestMessages_NoHistory(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.History = nil })
	rec := f.do(http.MethodGet, "/api/messages", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestSendMessage(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, "/api/send-message", "application/json", `{"phoneNumber":"628123","message":"Halo"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode(t, rec)["success"])

	rec = f.do(http.MethodPost, "/api/send-message", "application/x-www-form-urlencoded",
		url.Values{"phoneNumber": {"628456"}, "message": {"Dari form"}}.Encode())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, []string{"628123|Halo", "628456|Dari form"}, f.messenger.sent)
}

func TestSendMessage_Errors(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, "/api/send-message", "application/json", `{"phoneNumber":"628123"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Phone number and message are required", decode(t, rec)["error"])

	rec = f.do(http.MethodPost, "/api/send-message", "application/json", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.messenger.delivery, f.messenger.err = bot.Failed, bot.ErrInvalidPhone
	rec = f.do(http.MethodPost, "/api/send-message", "application/json", `{"phoneNumber":"abc","message":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.messenger.delivery, f.messenger.err = bot.Queued, nil
	rec = f.do(http.MethodPost, "/api/send-message", "application/json", `{"phoneNumber":"628123","message":"x"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "queued", decode(t, rec)["status"])

	f.messenger.delivery, f.messenger.err = bot.Failed, errors.New("queue full")
	rec = f.do(http.MethodPost, "/api/send-message", "application/json", `{"phoneNumber":"628123","message":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "queue full", decode(t, rec)["error"])
}

func TestBroadcast(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, "/api/broadcast", "application/json", `{"phoneNumbers":["628111","628222"],"message":"Promo"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "Broadcast started to 2 recipients", decode(t, rec)["message"])

	rec = f.do(http.MethodPost, "/api/broadcast", "application/x-www-form-urlencoded",
		url.Values{"phoneNumbers": {"628333, 628444\n628555"}, "message": {"Form"}}.Encode())
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	f.srv.Wait()
	f.messenger.mu.Lock()
	defer f.messenger.mu.Unlock()
	assert.ElementsMatch(t, []string{"628111", "628222", "628333", "628444", "628555"}, f.messenger.broadcast)

	rec = f.do(http.MethodPost, "/api/broadcast", "application/json", `{"phoneNumbers":[],"message":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTestAI(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodPost, "/api/test-gemini", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["success"])

	f.ai.err = errors.New("403 forbidden")
	assert.Equal(t, false, decode(t, f.do(http.MethodPost, "/api/test-gemini", "", ""))["success"])

	f.ai.online = false
	out := decode(t, f.do(http.MethodPost, "/api/test-gemini", "", ""))
	assert.Equal(t, "AI API key is not configured", out["message"])
}

func TestQueueEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodGet, "/api/queue", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Len(t, out["entries"], 1)
	assert.EqualValues(t, 3, out["counts"].(map[string]any)["total"])

	rec = f.do(http.MethodPost, "/api/queue/drain", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decode(t, rec)["result"].(map[string]any)["sent"])

	f.conn.online = false
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/api/queue/drain", "", "").Code)
	assert.Equal(t, 1, f.messenger.drained)
}

func TestRestart(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodPost, "/api/bot-restart", "", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case <-f.conn.restarted:
	case <-time.After(2 * time.Second):
		t.Fatal("restart was not triggered")
	}
	f.srv.Wait()

	assert.Equal(t, http.StatusMethodNotAllowed, f.do(http.MethodGet, "/api/bot-restart", "", "").Code)
}

func readFrame(t *testing.T, c *websocket.Conn) WSMessage {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	require.NoError(t, c.ReadJSON(&msg))
	return msg
}

func TestWebSocket(t *testing.T) {
	f := newFixture(t, nil)
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readFrame(t, conn)
	assert.Equal(t, "status-update", first.Type)
	assert.Equal(t, 1, f.srv.hub.count())

	f.events.Emit(bus.Event{Type: bus.EventQRCode, Payload: map[string]any{"code": "2@qr"}})
	qr := readFrame(t, conn)
	assert.Equal(t, "qr-code", qr.Type)
	assert.Equal(t, "2@qr", qr.Data)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "request-qr"}))
	assert.Equal(t, "qr-code", readFrame(t, conn).Type)

	f.events.Emit(bus.Event{Type: bus.EventBroadcastStarted, Payload: map[string]any{"id": "b1", "total": 4, "message": "Promo"}})
	started := readFrame(t, conn)
	assert.Equal(t, "broadcast-started", started.Type)
	assert.EqualValues(t, 4, started.Data.(map[string]any)["recipients"])

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "ai-chat", Message: "apa itu golang"}))
	reply := readFrame(t, conn)
	assert.Equal(t, "ai-chat-response", reply.Type)
	data := reply.Data.(map[string]any)
	assert.Equal(t, true, data["success"])
	assert.Equal(t, "jawaban: apa itu golang", data["response"])

	f.events.Emit(bus.Event{Type: bus.EventMessageReceived, Payload: map[string]any{"chatId": "628111@s.whatsapp.net", "sender": "628111", "content": "ping"}})
	msg := readFrame(t, conn)
	assert.Equal(t, "new-message", msg.Type)
	assert.Equal(t, "ping", msg.Data.(map[string]any)["message"])
	assert.Equal(t, "status-update", readFrame(t, conn).Type)
}

func TestWebSocket_RejectsCrossOrigin(t *testing.T) {
	f := newFixture(t, nil)
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, f.srv.hub.count())

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {ts.URL}})
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, "status-update", readFrame(t, conn).Type)
}
