// Package bot is the runtime that ties the transport, the dispatcher, the
// offline queue and the history log together.
package bot

import (
	"context"
	"log/slog"
	"time"

	"zideebot/internal/bus"
	"zideebot/internal/dispatch"
	"zideebot/internal/domain"
	"zideebot/internal/history"
	"zideebot/internal/metrics"
	"zideebot/internal/pacing"
	"zideebot/internal/queue"
)

// LoopConfig holds the dependencies of the dispatcher loop.
type LoopConfig struct {
	Bus        domain.MessageBus
	Dispatcher *dispatch.Dispatcher
	Outbox     *Outbox
	Pacer      *pacing.Pacer
	History    *history.Store
	Events     *bus.EventBus
	Logger     *slog.Logger
}

// Loop handles inbound messages one at a time: record, classify, pace,
// execute and deliver.
type Loop struct {
	bus        domain.MessageBus
	dispatcher *dispatch.Dispatcher
	outbox     *Outbox
	pacer      *pacing.Pacer
	history    *history.Store
	events     *bus.EventBus
	logger     *slog.Logger
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Pacer == nil {
		cfg.Pacer = pacing.Immediate()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		bus:        cfg.Bus,
		dispatcher: cfg.Dispatcher,
		outbox:     cfg.Outbox,
		pacer:      cfg.Pacer,
		history:    cfg.History,
		events:     cfg.Events,
		logger:     cfg.Logger,
	}
}

// Run consumes inbound messages until ctx is done or the bus is closed.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("dispatcher loop started")
	inbound := l.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("dispatcher loop stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				l.logger.Info("inbound channel closed, dispatcher loop stopping")
				return
			}
			l.Handle(ctx, msg)
		}
	}
}

// Handle processes one message and returns what was answered.
func (l *Loop) Handle(ctx context.Context, msg domain.InboundMessage) dispatch.Result {
	start := time.Now()
	metrics.MessagesTotal.Inc()

	cls, res := l.dispatcher.Handle(ctx, msg)
	l.recordInbound(ctx, msg, cls)
	l.emit(bus.EventMessageReceived, map[string]any{
		"chatId":   msg.ChatID,
		"sender":   msg.SenderID,
		"pushName": msg.PushName,
		"content":  msg.Content,
		"command":  cls.Command,
	})
	if res.Empty() {
		return res
	}

	l.logger.Info("command executed", "command", cls.Command, "chat", msg.ChatID, "error", res.Error)
	l.emit(bus.EventCommandExecuted, map[string]any{"chatId": msg.ChatID, "command": cls.Command})

	if err := l.pacer.Delay(ctx, res.Pace); err != nil {
		return res
	}
	l.deliver(ctx, msg, res)
	metrics.DispatchLatency.Observe(time.Since(start).Seconds())
	return res
}

func (l *Loop) deliver(ctx context.Context, msg domain.InboundMessage, res dispatch.Result) {
	if l.outbox == nil {
		return
	}
	out := Message{
		ChatID:  msg.ChatID,
		Text:    res.Text,
		Media:   res.Media,
		ReplyTo: msg.MessageID,
		Tag:     queue.TagAutoReply,
		IsError: res.Error,
	}
	if res.Media != nil && res.Text != "" {
		l.send(ctx, Message{ChatID: msg.ChatID, Text: res.Text, ReplyTo: msg.MessageID, Tag: queue.TagAutoReply})
		out.Text = ""
	}
	l.send(ctx, out)

	// Audio messages carry no caption on WhatsApp.
	if res.Media != nil && res.Media.Kind == domain.MediaAudio && res.Media.Caption != "" {
		l.send(ctx, Message{ChatID: msg.ChatID, Text: res.Media.Caption, Tag: queue.TagAutoReply})
	}
}

func (l *Loop) send(ctx context.Context, m Message) {
	if _, err := l.outbox.Deliver(ctx, m); err != nil {
		l.logger.Error("reply not delivered", "chat", m.ChatID, "err", err)
	}
}

// ProcessDirect runs the dispatcher for one line of text without pacing or
// delivery. The console uses it.
func (l *Loop) ProcessDirect(ctx context.Context, content, channel, chatID string) (dispatch.Result, error) {
	msg := domain.InboundMessage{
		Channel:   channel,
		ChatID:    chatID,
		SenderID:  chatID,
		Content:   content,
		Timestamp: time.Now(),
	}
	metrics.MessagesTotal.Inc()
	cls, res := l.dispatcher.Handle(ctx, msg)
	l.recordInbound(ctx, msg, cls)
	return res, ctx.Err()
}

func (l *Loop) recordInbound(ctx context.Context, msg domain.InboundMessage, cls dispatch.Classification) {
	if l.history == nil {
		return
	}
	if _, err := l.history.Add(ctx, history.Record{
		Direction: history.Inbound,
		ChatID:    msg.ChatID,
		Sender:    msg.SenderID,
		PushName:  msg.PushName,
		Content:   msg.Content,
		Command:   cls.Command,
		CreatedAt: msg.Timestamp,
	}); err != nil {
		l.logger.Warn("record inbound message", "err", err)
	}
}

func (l *Loop) emit(eventType string, payload map[string]any) {
	if l.events == nil {
		return
	}
	l.events.Emit(bus.Event{Type: eventType, Source: "loop", Payload: payload, Timestamp: time.Now()})
}
