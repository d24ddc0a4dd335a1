package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"zideebot/internal/bus"
	"zideebot/internal/domain"
	"zideebot/internal/history"
	"zideebot/internal/metrics"
	"zideebot/internal/pacing"
	"zideebot/internal/queue"
)

// ErrInvalidPhone is returned for destinations that normalize to nothing.
var ErrInvalidPhone = errors.New("invalid phone number")

// Delivery is the outcome of one outbound message.
type Delivery string

const (
	Sent   Delivery = "sent"
	Queued Delivery = "queued"
	Failed Delivery = "failed"
)

type OutboxConfig struct {
	Sender  domain.Sender
	Queue   *queue.Queue
	Pacer   *pacing.Pacer
	History *history.Store
	Events  *bus.EventBus
	Logger  *slog.Logger
}

// Outbox sends replies and falls back to the offline queue when WhatsApp is
// unavailable or the send fails.
type Outbox struct {
	sender  domain.Sender
	queue   *queue.Queue
	pacer   *pacing.Pacer
	history *history.Store
	events  *bus.EventBus
	logger  *slog.Logger
}

func NewOutbox(cfg OutboxConfig) *Outbox {
	if cfg.Pacer == nil {
		cfg.Pacer = pacing.Immediate()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Outbox{
		sender:  cfg.Sender,
		queue:   cfg.Queue,
		pacer:   cfg.Pacer,
		history: cfg.History,
		events:  cfg.Events,
		logger:  cfg.Logger,
	}
}

// Online reports whether the transport can send right now.
func (o *Outbox) Online() bool {
	return o.sender != nil && o.sender.Online()
}

// Message is one outbound item.
type Message struct {
	ChatID  string
	Text    string
	Media   *domain.Media
	ReplyTo string
	// Tag is used when the message has to be queued.
	Tag queue.Tag
	// IsError marks failure replies; they are queued as error-response when
	// the send itself fails.
	IsError bool
}

// Deliver sends m now, or queues it when offline or when the send fails.
// The error is non-nil only when the message could be neither sent nor
// queued.
func (o *Outbox) Deliver(ctx context.Context, m Message) (Delivery, error) {
	if m.Media != nil && m.Media.Remove {
		defer os.Remove(m.Media.Path)
	}
	if m.Tag == "" {
		m.Tag = queue.TagNormal
	}

	if !o.Online() {
		return o.enqueue(ctx, m, m.Tag, "offline")
	}
	if err := o.pacer.WaitSend(ctx); err != nil {
		return Failed, err
	}

	var err error
	if m.Media != nil {
		err = o.sender.SendMedia(ctx, m.ChatID, *m.Media, m.ReplyTo)
	} else {
		err = o.sender.SendText(ctx, m.ChatID, m.Text, m.ReplyTo)
	}
	if err != nil {
		metrics.SendFailures.Inc()
		o.logger.Warn("send failed, queueing", "chat", m.ChatID, "err", err)
		tag := m.Tag
		if m.IsError {
			tag = queue.TagErrorResponse
		}
		return o.enqueue(ctx, m, tag, "send failed")
	}

	metrics.RepliesTotal.Inc()
	o.record(ctx, m, string(Sent))
	o.emit(bus.EventMessageSent, map[string]any{"chatId": m.ChatID, "content": m.Text})
	return Sent, nil
}

func (o *Outbox) enqueue(ctx context.Context, m Message, tag queue.Tag, reason string) (Delivery, error) {
	text := m.Text
	if m.Media != nil && text == "" {
		text = m.Media.Caption
	}
	if text == "" || o.queue == nil {
		o.logger.Warn("message dropped", "chat", m.ChatID, "reason", reason)
		o.record(ctx, m, string(Failed))
		return Failed, fmt.Errorf("cannot deliver to %s: %s", m.ChatID, reason)
	}
	id, err := o.queue.Enqueue(m.ChatID, text, tag)
	if err != nil {
		o.record(ctx, m, string(Failed))
		return Failed, fmt.Errorf("queue message: %w", err)
	}
	metrics.QueuedTotal.Inc()
	o.logger.Info("message queued", "id", id, "chat", m.ChatID, "tag", tag, "reason", reason)
	o.record(ctx, m, string(Queued))
	o.emit(bus.EventMessageQueued, map[string]any{"id": id, "chatId": m.ChatID, "tag": string(tag), "reason": reason})
	return Queued, nil
}

// SendTo sends text to a phone number or JID, queueing it as a manual
// message when it cannot go out now.
func (o *Outbox) SendTo(ctx context.Context, phone, text string) (Delivery, error) {
	if domain.NormalizePhone(domain.UserPart(phone)) == "" {
		return Failed, ErrInvalidPhone
	}
	return o.Deliver(ctx, Message{ChatID: domain.PhoneJID(phone), Text: text, Tag: queue.TagManual})
}

// Broadcast sends text to every phone, spaced by the broadcast delay.
func (o *Outbox) Broadcast(ctx context.Context, phones []string, text string) (history.Broadcast, error) {
	b := history.Broadcast{ID: uuid.NewString(), Message: text, Total: len(phones), StartedAt: time.Now()}
	b = o.saveBroadcast(ctx, b)
	o.emit(bus.EventBroadcastStarted, map[string]any{"id": b.ID, "total": b.Total, "message": text})
	o.logger.Info("broadcast started", "id", b.ID, "recipients", b.Total)

	var runErr error
	for i, phone := range phones {
		if i > 0 {
			if err := o.pacer.Delay(ctx, pacing.Broadcast); err != nil {
				runErr = err
				break
			}
		}
		d, err := o.SendTo(ctx, phone, text)
		switch d {
		case Sent:
			b.Sent++
		case Queued:
			b.Queued++
		default:
			b.Failed++
			o.logger.Warn("broadcast recipient failed", "phone", phone, "err", err)
		}
	}

	b.FinishedAt = time.Now()
	b = o.saveBroadcast(ctx, b)
	o.emit(bus.EventBroadcastFinished, map[string]any{
		"id": b.ID, "total": b.Total, "sent": b.Sent, "queued": b.Queued, "failed": b.Failed,
	})
	o.logger.Info("broadcast finished", "id", b.ID, "sent", b.Sent, "queued", b.Queued, "failed", b.Failed)
	return b, runErr
}

// DrainQueue delivers queued messages if the transport is online.
func (o *Outbox) DrainQueue(ctx context.Context) (queue.DrainResult, error) {
	if o.queue == nil || !o.Online() {
		return queue.DrainResult{}, nil
	}
	res, err := o.queue.Drain(ctx, func(ctx context.Context, dest, text string) error {
		if err := o.pacer.WaitSend(ctx); err != nil {
			return err
		}
		return o.sender.SendText(ctx, domain.PhoneJID(dest), text, "")
	})
	if res.Attempted > 0 {
		metrics.RepliesTotal.Add(int64(res.Sent))
		o.emit(bus.EventQueueDrained, map[string]any{
			"sent": res.Sent, "retry": res.Retry, "failed": res.Failed,
		})
	}
	return res, err
}

func (o *Outbox) record(ctx context.Context, m Message, status string) {
	if o.history == nil {
		return
	}
	content := m.Text
	if content == "" && m.Media != nil {
		content = fmt.Sprintf("[%s] %s", m.Media.Kind, m.Media.Caption)
	}
	if _, err := o.history.Add(ctx, history.Record{
		Direction: history.Outbound,
		ChatID:    m.ChatID,
		Content:   content,
		Status:    status,
	}); err != nil {
		o.logger.Warn("record outbound message", "err", err)
	}
}

func (o *Outbox) saveBroadcast(ctx context.Context, b history.Broadcast) history.Broadcast {
	if o.history == nil {
		return b
	}
	saved, err := o.history.SaveBroadcast(ctx, b)
	if err != nil {
		o.logger.Warn("save broadcast", "err", err)
		return b
	}
	return saved
}

func (o *Outbox) emit(eventType string, payload map[string]any) {
	if o.events == nil {
		return
	}
	o.events.Emit(bus.Event{Type: eventType, Source: "outbox", Payload: payload, Timestamp: time.Now()})
}
