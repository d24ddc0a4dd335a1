package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"zideebot/internal/calc"
	"zideebot/internal/domain"
	"zideebot/internal/pacing"
	"zideebot/internal/queue"
	"zideebot/internal/video"

	"github.com/dustin/go-humanize"
)

// Assistant answers AI commands. Implementations map provider failures to
// canned text themselves, so the result is always sendable.
type Assistant interface {
	Chat(ctx context.Context, question string) string
	Creative(ctx context.Context, topic, kind string) string
	Translate(ctx context.Context, text, lang string) string
}

// Forecaster answers weather commands with ready-to-send text.
type Forecaster interface {
	Current(ctx context.Context, city string) string
	Forecast(ctx context.Context, city string) string
}

// VideoFetcher downloads YouTube media.
type VideoFetcher interface {
	Info(ctx context.Context, url string) (*video.Info, error)
	Download(ctx context.Context, url string, format video.Format) (*video.Result, error)
}

// QueueStatus reports offline queue counts.
type QueueStatus interface {
	Status() queue.Counts
}

// Result is what the bot sends back for one message. A zero Result means no
// reply.
type Result struct {
	Text  string
	Media *domain.Media
	Pace  pacing.Kind
	// Error marks replies that report a failure to the user.
	Error bool
}

// Empty reports whether there is nothing to send.
func (r Result) Empty() bool {
	return r.Text == "" && r.Media == nil
}

type ExecutorConfig struct {
	Catalog  *Catalog
	AI       Assistant
	Weather  Forecaster
	Video    VideoFetcher
	Groups   domain.GroupAdmin
	Queue    QueueStatus
	Location *time.Location
	Version  string
	Started  time.Time
	Logger   *slog.Logger
	Now      func() time.Time
}

// Executor runs classified commands. It is immutable and safe for
// concurrent use; collaborators are shared.
type Executor struct {
	cat     *Catalog
	ai      Assistant
	weather Forecaster
	video   VideoFetcher
	groups  domain.GroupAdmin
	queue   QueueStatus
	loc     *time.Location
	version string
	started time.Time
	logger  *slog.Logger
	now     func() time.Time
}

func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.Catalog == nil {
		cfg.Catalog = DefaultCatalog()
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
	if cfg.Started.IsZero() {
		cfg.Started = cfg.Now()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	return &Executor{
		cat:     cfg.Catalog,
		ai:      cfg.AI,
		weather: cfg.Weather,
		video:   cfg.Video,
		groups:  cfg.Groups,
		queue:   cfg.Queue,
		loc:     cfg.Location,
		version: cfg.Version,
		started: cfg.Started,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}
}

// WithCatalog returns a copy of the executor bound to another catalog.
func (e *Executor) WithCatalog(cat *Catalog) *Executor {
	cp := *e
	cp.cat = cat
	return &cp
}

// Execute runs one classified command. It never panics and never returns a
// raw collaborator error; failures come back as chat text.
func (e *Executor) Execute(ctx context.Context, cls Classification, msg domain.InboundMessage) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("command panicked", "command", cls.Command, "chat", msg.ChatID, "panic", r)
			res = Result{Text: e.cat.Text("error"), Pace: pacing.AutoReply, Error: true}
		}
	}()

	res = e.execute(ctx, cls, msg)
	if res.Pace == pacing.None && !res.Empty() {
		res.Pace = cls.Pace
	}
	return res
}

func (e *Executor) execute(ctx context.Context, cls Classification, msg domain.InboundMessage) Result {
	arg := strings.TrimSpace(cls.Argument)

	switch cls.Command {
	case CmdHelp, CmdCalculatorMenu, CmdWeatherMenu, CmdAIMenu, CmdFAQMenu, CmdVideoMenu, CmdRules:
		return e.text(cls.Command)

	case CmdTime:
		return e.render("time", map[string]any{"Now": e.clock()})

	case CmdInfo:
		return e.render("info", map[string]any{"BotName": e.cat.BotName(), "Version": e.version})

	case CmdPing:
		return e.ping(ctx, msg)

	case CmdEcho:
		return e.render("echo", map[string]any{"Arg": cls.Argument})

	case CmdStatus:
		return e.status()

	case CmdCalculate:
		v, err := calc.Evaluate(arg)
		if err != nil {
			return e.fail("calculate", map[string]any{"Expr": arg, "Result": calc.Message(err)})
		}
		return e.render("calculate", map[string]any{"Expr": arg, "Result": calc.Format(v)})

	case CmdWeather, CmdForecast:
		if e.weather == nil {
			return e.unavailable(cls.Command)
		}
		if cls.Command == CmdForecast {
			return Result{Text: e.weather.Forecast(ctx, arg)}
		}
		return Result{Text: e.weather.Current(ctx, arg)}

	case CmdAIChat:
		if e.ai == nil {
			return e.unavailable(cls.Command)
		}
		return Result{Text: e.ai.Chat(ctx, arg)}

	case CmdPantun, CmdMotivasi, CmdTips:
		if e.ai == nil {
			return e.unavailable(cls.Command)
		}
		body := e.ai.Creative(ctx, arg, cls.Command)
		return e.render(cls.Command, map[string]any{"Topic": arg, "Body": body})

	case CmdTranslate:
		if e.ai == nil {
			return e.unavailable(cls.Command)
		}
		body := e.ai.Translate(ctx, arg, "english")
		return e.render("translate", map[string]any{"Body": body})

	case CmdVideoInfo:
		return e.videoInfo(ctx, arg)

	case CmdVideoDownload:
		return e.videoDownload(ctx, arg, video.MP4)

	case CmdAudioDownload:
		return e.videoDownload(ctx, arg, video.MP3)

	case CmdDebug:
		return e.debug(ctx, msg)

	case CmdGroupOpen:
		return e.setAnnounce(ctx, msg, false)

	case CmdGroupClose:
		return e.setAnnounce(ctx, msg, true)

	case CmdWelcome:
		return e.welcome(ctx, msg)

	case CmdKick:
		return e.kick(ctx, msg, arg)

	case CmdKickDebug:
		return e.kickDebug(ctx, msg, arg)

	case CmdGreeting:
		return Result{Text: e.cat.Greeting().Text}

	case CmdThanks:
		return Result{Text: e.cat.Thanks().Text}
	}

	if key, ok := strings.CutPrefix(cls.Command, FAQPrefix); ok {
		if entry, found := e.cat.FAQ(key); found {
			return Result{Text: entry.Answer}
		}
	}
	return Result{}
}

func (e *Executor) text(key string) Result {
	return Result{Text: e.cat.Text(key)}
}

// render executes a catalog template; a template failure degrades to the
// generic error text.
func (e *Executor) render(key string, data any) Result {
	s, err := e.cat.Render(key, data)
	if err != nil {
		e.logger.Error("render reply", "template", key, "err", err)
		return Result{Text: e.cat.Text("error"), Error: true}
	}
	return Result{Text: s}
}

func (e *Executor) fail(key string, data any) Result {
	r := e.render(key, data)
	r.Error = true
	return r
}

func (e *Executor) unavailable(command string) Result {
	e.logger.Warn("command collaborator not configured", "command", command)
	return e.fail("system_error", map[string]any{"Error": "fitur " + command + " sedang tidak aktif"})
}

func (e *Executor) clock() string {
	return e.now().In(e.loc).Format("2006-01-02 15:04:05")
}

func (e *Executor) ping(ctx context.Context, msg domain.InboundMessage) Result {
	if !msg.IsGroup() || e.groups == nil {
		return e.text("ping")
	}
	info, err := e.groups.GroupInfo(ctx, msg.ChatID)
	if err != nil {
		e.logger.Warn("ping group info", "chat", msg.ChatID, "err", err)
		return e.text("ping")
	}
	return e.render("ping_group", map[string]any{
		"Group":  info.Name,
		"ChatID": msg.ChatID,
		"From":   displayName(msg.PushName, "Unknown"),
	})
}

func (e *Executor) status() Result {
	var c queue.Counts
	if e.queue != nil {
		c = e.queue.Status()
	}
	return e.render("status", map[string]any{
		"Total":   c.Total,
		"Pending": c.Pending,
		"Failed":  c.Failed,
		"Retry":   c.Retry,
		"Uptime":  e.now().Sub(e.started).Round(time.Second).String(),
		"Now":     e.clock(),
	})
}

func (e *Executor) videoInfo(ctx context.Context, url string) Result {
	if !video.ValidURL(url) {
		return Result{Text: e.cat.Text("video_invalid_url"), Error: true}
	}
	if e.video == nil {
		return e.unavailable(CmdVideoInfo)
	}
	info, err := e.video.Info(ctx, url)
	if err != nil {
		return e.videoFailed(url, err)
	}
	return e.render("video_info", map[string]any{
		"Title":     info.Title,
		"Author":    info.Author,
		"Duration":  video.FormatDuration(info.Duration),
		"Thumbnail": info.Thumbnail,
		"MP4":       qualities(info.MP4),
		"MP3":       qualities(info.MP3),
	})
}

func (e *Executor) videoDownload(ctx context.Context, url string, format video.Format) Result {
	if !video.ValidURL(url) {
		return Result{Text: e.cat.Text("video_invalid_url"), Error: true}
	}
	if e.video == nil {
		return e.unavailable(CmdVideoDownload)
	}
	res, err := e.video.Download(ctx, url, format)
	if err != nil {
		return e.videoFailed(url, err)
	}

	caption, err := e.cat.Render("video_caption", map[string]any{
		"Title":    res.Title,
		"Author":   res.Author,
		"Duration": video.FormatDuration(res.Duration),
		"Format":   strings.ToUpper(string(res.Format)),
		"Quality":  res.Quality,
		"Size":     humanize.Bytes(uint64(res.Size)),
	})
	if err != nil {
		caption = res.Title
	}
	kind := domain.MediaVideo
	if format == video.MP3 {
		kind = domain.MediaAudio
	}
	return Result{Media: &domain.Media{
		Path:     res.Path,
		Kind:     kind,
		Caption:  caption,
		Mimetype: format.Mimetype(),
		Remove:   true,
	}}
}

func (e *Executor) videoFailed(url string, err error) Result {
	e.logger.Warn("video command failed", "url", url, "err", err)
	if errors.Is(err, video.ErrInvalidURL) {
		return Result{Text: e.cat.Text("video_invalid_url"), Error: true}
	}
	return e.fail("video_failed", map[string]any{"Error": err.Error()})
}

func qualities(opts []video.Option) string {
	if len(opts) == 0 {
		return "-"
	}
	parts := make([]string, len(opts))
	for i, o := range opts {
		parts[i] = o.Quality + " (" + o.Size + ")"
	}
	return strings.Join(parts, ", ")
}

func displayName(name, fallback string) string {
	if strings.TrimSpace(name) == "" {
		return fallback
	}
	return name
}

var (
	idWeekdays = [...]string{"Minggu", "Senin", "Selasa", "Rabu", "Kamis", "Jumat", "Sabtu"}
	idMonths   = [...]string{"Januari", "Februari", "Maret", "April", "Mei", "Juni",
		"Juli", "Agustus", "September", "Oktober", "November", "Desember"}
)

// IndonesianDate formats t like "Minggu, 18 Oktober 2026".
func IndonesianDate(t time.Time) string {
	return fmt.Sprintf("%s, %d %s %d", idWeekdays[t.Weekday()], t.Day(), idMonths[t.Month()-1], t.Year())
}
