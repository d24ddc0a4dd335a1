package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"zideebot/internal/bus"
	"zideebot/internal/dispatch"
	"zideebot/internal/domain"
	"zideebot/internal/history"
	"zideebot/internal/queue"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type sent struct {
	chatID  string
	text    string
	media   *domain.Media
	replyTo string
}

type fakeSender struct {
	mu      sync.Mutex
	online  bool
	failErr error
	sent    []sent
}

func (f *fakeSender) SendText(_ context.Context, chatID, text, replyTo string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.sent = append(f.sent, sent{chatID: chatID, text: text, replyTo: replyTo})
	return nil
}

func (f *fakeSender) SendMedia(_ context.Context, chatID string, m domain.Media, replyTo string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.sent = append(f.sent, sent{chatID: chatID, media: &m, replyTo: replyTo})
	return nil
}

func (f *fakeSender) Online() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

func (f *fakeSender) messages() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

type fixture struct {
	sender  *fakeSender
	queue   *queue.Queue
	history *history.Store
	events  *bus.EventBus
	outbox  *Outbox
	loop    *Loop
	bus     *bus.InMemoryBus
}

func newFixture(t *testing.T, online bool) *fixture {
	t.Helper()
	dir := t.TempDir()
	q, err := queue.Open(queue.Config{Path: filepath.Join(dir, "queue.json"), Logger: testLogger()})
	require.NoError(t, err)
	h, err := history.Open(history.Config{Path: filepath.Join(dir, "history.db"), Logger: testLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })

	f := &fixture{
		sender:  &fakeSender{online: online},
		queue:   q,
		history: h,
		events:  bus.NewEventBus(testLogger()),
		bus:     bus.New(10, testLogger()),
	}
	f.outbox = NewOutbox(OutboxConfig{
		Sender:  f.sender,
		Queue:   q,
		History: h,
		Events:  f.events,
		Logger:  testLogger(),
	})
	f.loop = NewLoop(LoopConfig{
		Bus:        f.bus,
		Dispatcher: dispatch.NewDispatcher(nil, dispatch.ExecutorConfig{Logger: testLogger()}),
		Outbox:     f.outbox,
		History:    h,
		Events:     f.events,
		Logger:     testLogger(),
	})
	return f
}

func direct(text string) domain.InboundMessage {
	return domain.InboundMessage{
		Channel:   "whatsapp",
		ChatID:    "628123456789@s.whatsapp.net",
		SenderID:  "628123456789@s.whatsapp.net",
		PushName:  "Budi",
		MessageID: "MSG1",
		Content:   text,
		Timestamp: time.Now(),
	}
}

func TestLoop_RepliesAndRecords(t *testing.T) {
	f := newFixture(t, true)
	var received []bus.Event
	f.events.On(bus.EventMessageReceived, func(e bus.Event) { received = append(received, e) })

	res := f.loop.Handle(context.Background(), direct("menu"))
	require.False(t, res.Empty())

	msgs := f.sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, res.Text, msgs[0].text)
	assert.Equal(t, "MSG1", msgs[0].replyTo)

	recs, err := f.history.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, history.Outbound, recs[0].Direction)
	assert.Equal(t, "sent", recs[0].Status)
	assert.Equal(t, history.Inbound, recs[1].Direction)
	assert.Equal(t, "help", recs[1].Command)

	require.Len(t, received, 1)
	assert.Equal(t, "menu", received[0].Payload["content"])
}

func TestLoop_UnrecognizedIsSilent(t *testing.T) {
	f := newFixture(t, true)
	res := f.loop.Handle(context.Background(), direct("echo"))
	assert.True(t, res.Empty())
	assert.Empty(t, f.sender.messages())

	n, err := f.history.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "inbound message is still logged")
}

func TestLoop_OfflineQueuesAutoReply(t *testing.T) {
	f := newFixture(t, false)
	f.loop.Handle(context.Background(), direct("menu"))

	assert.Empty(t, f.sender.messages())
	entries := f.queue.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, queue.TagAutoReply, entries[0].Type)
	assert.Equal(t, "628123456789@s.whatsapp.net", entries[0].PhoneNumber)
}

func TestLoop_FailedErrorReplyQueuedAsErrorResponse(t *testing.T) {
	f := newFixture(t, true)
	f.sender.failErr = errors.New("socket closed")

	res := f.loop.Handle(context.Background(), direct("cuaca jakarta"))
	require.True(t, res.Error, "weather is not configured in this fixture")

	entries := f.queue.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, queue.TagErrorResponse, entries[0].Type)
}

func TestOutbox_MediaRemovedAfterSend(t *testing.T) {
	f := newFixture(t, true)
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	d, err := f.outbox.Deliver(context.Background(), Message{
		ChatID: "628123456789@s.whatsapp.net",
		Media:  &domain.Media{Path: path, Kind: domain.MediaVideo, Caption: "Klip", Remove: true},
	})
	require.NoError(t, err)
	assert.Equal(t, Sent, d)
	require.Len(t, f.sender.messages(), 1)
	assert.NotNil(t, f.sender.messages()[0].media)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "media file should be removed")
}

func TestOutbox_SendTo(t *testing.T) {
	f := newFixture(t, true)

	d, err := f.outbox.SendTo(context.Background(), "0812-3456-789", "Halo")
	require.NoError(t, err)
	assert.Equal(t, Sent, d)
	assert.Equal(t, "628123456789@s.whatsapp.net", f.sender.messages()[0].chatID)

	_, err = f.outbox.SendTo(context.Background(), " - ", "Halo")
	assert.ErrorIs(t, err, ErrInvalidPhone)
}

func TestOutbox_SendToOfflineIsManual(t *testing.T) {
	f := newFixture(t, false)
	d, err := f.outbox.SendTo(context.Background(), "628111", "Halo")
	require.NoError(t, err)
	assert.Equal(t, Queued, d)
	assert.Equal(t, queue.TagManual, f.queue.Entries()[0].Type)
}

func TestOutbox_Broadcast(t *testing.T) {
	f := newFixture(t, true)
	var finished bus.Event
	f.events.On(bus.EventBroadcastFinished, func(e bus.Event) { finished = e })

	b, err := f.outbox.Broadcast(context.Background(), []string{"628111", "628222", ""}, "Promo")
	require.NoError(t, err)
	assert.Equal(t, 3, b.Total)
	assert.Equal(t, 2, b.Sent)
	assert.Equal(t, 1, b.Failed)
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, 2, finished.Payload["sent"])

	list, err := f.history.Broadcasts(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].Sent)
}

func TestOutbox_DrainQueue(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.outbox.SendTo(context.Background(), "628111", "satu")
	require.NoError(t, err)

	res, err := f.outbox.DrainQueue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Attempted, "offline drain is a no-op")

	f.sender.mu.Lock()
	f.sender.online = true
	f.sender.mu.Unlock()

	res, err = f.outbox.DrainQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, "satu", f.sender.messages()[0].text)
	assert.Zero(t, f.queue.Status().Total)
}

func TestProcessDirect(t *testing.T) {
	f := newFixture(t, false)
	res, err := f.loop.ProcessDirect(context.Background(), "hitung 5 + 6", "console", "console")
	require.NoError(t, err)
	assert.Equal(t, "🧮 **Kalkulator**\n\n5 + 6 = **11**", res.Text)
	assert.Empty(t, f.queue.Entries(), "direct processing delivers nothing")
}

func TestLoop_RunStopsWithoutLeaks(t *testing.T) {
	f := newFixture(t, true)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.loop.Run(ctx)
		close(done)
	}()

	f.bus.Publish(direct("menu"))
	require.Eventually(t, func() bool { return len(f.sender.messages()) == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
}
