package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"zideebot/internal/bot"
	"zideebot/internal/history"
	"zideebot/internal/queue"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
)

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, msg string) {
	writeJSON(rw, status, map[string]any{"success": false, "error": msg})
}

// decodeBody reads a JSON body, or form values for any other content type.
func decodeBody(r *http.Request, v any) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			return err
		}
		return json.Unmarshal(body, v)
	}
	r.Body = io.NopCloser(io.LimitReader(r.Body, maxBodySize))
	if err := r.ParseForm(); err != nil {
		return err
	}
	switch req := v.(type) {
	case *sendRequest:
		req.PhoneNumber = r.FormValue("phoneNumber")
		req.Message = r.FormValue("message")
	case *broadcastRequest:
		req.PhoneNumbers = splitPhones(r.FormValue("phoneNumbers"))
		req.Message = r.FormValue("message")
	}
	return nil
}

// splitPhones splits a comma or newline separated list.
func splitPhones(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' || r == ';' })
	var out []string
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func (s *Server) handleIndex(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(rw, "index.html", map[string]any{
		"Title":   s.cfg.BotName + " Dashboard",
		"BotName": s.cfg.BotName,
		"Version": s.cfg.Version,
	}); err != nil {
		s.logger.Error("template error", "template", "index", "err", err)
	}
}

func (s *Server) handleStatus(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, s.status())
}

// handleMessages returns the last n logged messages, oldest first.
func (s *Server) handleMessages(rw http.ResponseWriter, r *http.Request) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = defaultMessageLimit
	}
	limit = min(limit, maxMessageLimit)

	records := []history.Record{}
	if s.cfg.History != nil {
		recent, err := s.cfg.History.Recent(r.Context(), limit)
		if err != nil {
			s.logger.Error("load message history", "err", err)
			writeError(rw, http.StatusInternalServerError, err.Error())
			return
		}
		slices.Reverse(recent)
		records = append(records, recent...)
	}
	writeJSON(rw, http.StatusOK, records)
}

type sendRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Message     string `json:"message"`
}

func (s *Server) handleSendMessage(rw http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	if req.PhoneNumber == "" || strings.TrimSpace(req.Message) == "" {
		writeError(rw, http.StatusBadRequest, "Phone number and message are required")
		return
	}
	if s.cfg.Messenger == nil {
		writeError(rw, http.StatusServiceUnavailable, "sending is not available")
		return
	}

	d, err := s.cfg.Messenger.SendTo(r.Context(), req.PhoneNumber, req.Message)
	switch {
	case errors.Is(err, bot.ErrInvalidPhone):
		writeError(rw, http.StatusBadRequest, err.Error())
	case d == bot.Sent:
		writeJSON(rw, http.StatusOK, map[string]any{"success": true, "status": d, "message": "Message sent successfully"})
	case d == bot.Queued:
		writeJSON(rw, http.StatusAccepted, map[string]any{"success": true, "status": d, "message": "Bot offline, message queued"})
	default:
		msg := "send failed"
		if err != nil {
			msg = err.Error()
		}
		s.logger.Warn("dashboard send failed", "phone", req.PhoneNumber, "err", err)
		writeError(rw, http.StatusInternalServerError, msg)
	}
}

type broadcastRequest struct {
	PhoneNumbers []string `json:"phoneNumbers"`
	Message      string   `json:"message"`
}

// handleBroadcast starts a broadcast in the background and returns at once.
func (s *Server) handleBroadcast(rw http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if len(req.PhoneNumbers) == 0 || strings.TrimSpace(req.Message) == "" {
		writeError(rw, http.StatusBadRequest, "Phone numbers array and message are required")
		return
	}
	if s.cfg.Messenger == nil {
		writeError(rw, http.StatusServiceUnavailable, "sending is not available")
		return
	}

	s.baseMu.RLock()
	ctx := s.base
	s.baseMu.RUnlock()

	s.wg.Add(1)
	go func(phones []string, text string) {
		defer s.wg.Done()
		if _, err := s.cfg.Messenger.Broadcast(ctx, phones, text); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("dashboard broadcast stopped", "err", err)
		}
	}(req.PhoneNumbers, req.Message)

	writeJSON(rw, http.StatusAccepted, map[string]any{
		"success": true,
		"message": "Broadcast started to " + strconv.Itoa(len(req.PhoneNumbers)) + " recipients",
	})
}

func (s *Server) handleTestAI(rw http.ResponseWriter, r *http.Request) {
	if s.cfg.Assistant == nil || !s.cfg.Assistant.Online() {
		writeJSON(rw, http.StatusOK, map[string]any{"success": false, "message": "AI API key is not configured"})
		return
	}
	answer, err := s.cfg.Assistant.Test(r.Context())
	if err != nil {
		s.logger.Warn("AI test failed", "err", err)
		writeJSON(rw, http.StatusOK, map[string]any{"success": false, "message": "AI test failed", "error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"success": true, "message": "AI is working correctly", "response": answer})
}

type eventView struct {
	Type      string         `json:"type"`
	Source    string         `json:"source,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// handleEvents replays buffered bot events, optionally filtered by ?type= and
// ?since= (RFC 3339).
func (s *Server) handleEvents(rw http.ResponseWriter, r *http.Request) {
	if s.cfg.Events == nil {
		writeJSON(rw, http.StatusOK, map[string]any{"buffered": 0, "events": []eventView{}})
		return
	}
	eventType := r.URL.Query().Get("type")
	if eventType == "" {
		eventType = "*"
	}
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(rw, http.StatusBadRequest, "since must be an RFC 3339 time")
			return
		}
		since = t
	}

	events := s.cfg.Events.Replay(eventType, since)
	out := make([]eventView, 0, len(events))
	for _, e := range events {
		out = append(out, eventView{
			Type:      e.Type,
			Source:    e.Source,
			Payload:   e.Payload,
			Timestamp: e.Timestamp.In(s.cfg.Location).Format(timestampLayout),
		})
	}
	writeJSON(rw, http.StatusOK, map[string]any{"buffered": s.cfg.Events.HistoryLen(), "events": out})
}

func (s *Server) handleQueue(rw http.ResponseWriter, r *http.Request) {
	if s.cfg.Queue == nil {
		writeJSON(rw, http.StatusOK, map[string]any{"counts": queue.Counts{}, "entries": []queue.Entry{}})
		return
	}
	entries := s.cfg.Queue.Entries()
	if entries == nil {
		entries = []queue.Entry{}
	}
	writeJSON(rw, http.StatusOK, map[string]any{"counts": s.cfg.Queue.Status(), "entries": entries})
}

func (s *Server) handleQueueDrain(rw http.ResponseWriter, r *http.Request) {
	if s.cfg.Messenger == nil {
		writeError(rw, http.StatusServiceUnavailable, "queue is not available")
		return
	}
	if s.cfg.Connection == nil || !s.cfg.Connection.Online() {
		writeError(rw, http.StatusConflict, "WhatsApp is not connected")
		return
	}
	res, err := s.cfg.Messenger.DrainQueue(r.Context())
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"success": true, "result": res})
}

// handleRestart drops and re-establishes the WhatsApp connection.
func (s *Server) handleRestart(rw http.ResponseWriter, r *http.Request) {
	if s.cfg.Connection == nil {
		writeError(rw, http.StatusServiceUnavailable, "WhatsApp client is not running")
		return
	}
	s.logger.Info("bot restart requested from dashboard")
	s.hub.broadcast("bot-restarting", nil)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.cfg.Connection.Restart(); err != nil {
			s.logger.Error("bot restart failed", "err", err)
		}
	}()
	writeJSON(rw, http.StatusAccepted, map[string]any{"success": true, "message": "Bot restart initiated"})
}
