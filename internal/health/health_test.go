package health

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"zideebot/internal/queue"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type fakeProbe struct{ online bool }

func (f *fakeProbe) Online() bool { return f.online }

func (f *fakeProbe) Status() string {
	if f.online {
		return "connected"
	}
	return "reconnecting"
}

type fakeQueue struct{}

func (fakeQueue) Status() queue.Counts { return queue.Counts{Total: 2, Pending: 2} }

func newTestServer(probe *fakeProbe) *Server {
	start := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	calls := 0
	return New(Config{
		Version: "1.0.0",
		Probe:   probe,
		Queue:   fakeQueue{},
		Logger:  testLogger(),
		Now: func() time.Time {
			calls++
			if calls == 1 {
				return start
			}
			return start.Add(2 * time.Hour)
		},
	})
}

func get(t *testing.T, s *Server, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %s: %v (%s)", path, err, rec.Body.String())
	}
	return rec.Code, body
}

func TestHealth(t *testing.T) {
	probe := &fakeProbe{online: true}
	s := newTestServer(probe)

	code, body := get(t, s, "/health")
	if code != http.StatusOK || body["status"] != "healthy" || body["bot_status"] != "connected" {
		t.Errorf("online: %d %v", code, body)
	}
	if body["uptime"].(float64) != 7200 {
		t.Errorf("uptime = %v", body["uptime"])
	}

	probe.online = false
	code, body = get(t, s, "/health")
	if code != http.StatusServiceUnavailable || body["status"] != "unhealthy" {
		t.Errorf("offline: %d %v", code, body)
	}
}

func TestHealth_NoProbe(t *testing.T) {
	s := New(Config{Logger: testLogger()})
	if code, _ := get(t, s, "/health"); code != http.StatusServiceUnavailable {
		t.Errorf("code = %d", code)
	}
}

func TestInfo(t *testing.T) {
	s := newTestServer(&fakeProbe{})
	code, body := get(t, s, "/")
	if code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	if body["name"] != "ZideeBot WhatsApp Bot" || body["version"] != "1.0.0" || body["status"] != "running" {
		t.Errorf("body = %v", body)
	}
}

func TestStatus(t *testing.T) {
	s := newTestServer(&fakeProbe{online: false})
	code, body := get(t, s, "/status")
	if code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	if body["connection"] != "reconnecting" || body["online"] != false {
		t.Errorf("connection fields: %v", body)
	}
	if body["uptime"] != "2 hours" {
		t.Errorf("uptime = %v", body["uptime"])
	}
	if body["uptimeSec"].(float64) != 7200 {
		t.Errorf("uptimeSec = %v", body["uptimeSec"])
	}
	q := body["queue"].(map[string]any)
	if q["pending"].(float64) != 2 {
		t.Errorf("queue = %v", q)
	}
}
