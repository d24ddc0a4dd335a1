// Package console is a local REPL that feeds typed lines through the same
// dispatcher the WhatsApp channel uses.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"zideebot/internal/dispatch"
)

// ChatID is the chat id console messages are dispatched under. It is a
// direct chat, so group commands answer with their "groups only" text.
const ChatID = "console"

// Processor runs one message through the dispatcher without delivery.
type Processor interface {
	ProcessDirect(ctx context.Context, content, channel, chatID string) (dispatch.Result, error)
}

type Config struct {
	Processor Processor
	BotName   string
	Logger    *slog.Logger
	In        io.Reader
	Out       io.Writer
	// Spinner shows a progress indicator while a reply is computed.
	Spinner bool
}

type Console struct {
	proc      Processor
	botName   string
	logger    *slog.Logger
	in        io.Reader
	out       io.Writer
	spinner   bool
	thinking  bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}
	thinkDone chan struct{}
}

func New(cfg Config) *Console {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BotName == "" {
		cfg.BotName = "ZideeBot"
	}
	return &Console{
		proc:    cfg.Processor,
		botName: cfg.BotName,
		logger:  cfg.Logger,
		in:      cfg.In,
		out:     cfg.Out,
		spinner: cfg.Spinner,
	}
}

// Run reads lines until EOF, /quit or ctx is cancelled.
func (c *Console) Run(ctx context.Context) error {
	fmt.Fprintf(c.out, "%s console. Ketik pesan lalu Enter, /quit untuk keluar.\n", c.botName)
	fmt.Fprint(c.out, "Anda> ")

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			fmt.Fprintln(c.out)
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Fprint(c.out, "Anda> ")
			continue
		}
		if line == "/quit" || line == "/exit" || line == "/q" {
			c.logger.Info("console quit requested")
			return nil
		}

		c.startThinking()
		res, err := c.proc.ProcessDirect(ctx, line, "console", ChatID)
		c.stopThinking()
		if err != nil {
			return err
		}
		c.print(res)
		fmt.Fprint(c.out, "Anda> ")
	}
}

func (c *Console) print(res dispatch.Result) {
	if res.Empty() {
		fmt.Fprintln(c.out, "(tidak ada balasan)")
		return
	}
	fmt.Fprintf(c.out, "--- %s ---\n", c.botName)
	if res.Text != "" {
		fmt.Fprintln(c.out, res.Text)
	}
	if m := res.Media; m != nil {
		fmt.Fprintf(c.out, "[%s] %s\n%s\n", m.Kind, m.Path, m.Caption)
		if m.Remove {
			if err := os.Remove(m.Path); err != nil {
				c.logger.Warn("remove console media", "path", m.Path, "err", err)
			}
		}
	}
	fmt.Fprintln(c.out, strings.Repeat("-", len(c.botName)+8))
}

func (c *Console) startThinking() {
	if !c.spinner {
		return
	}
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	c.thinkDone = make(chan struct{})
	go func(stop, done chan struct{}) {
		defer close(done)
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; ; i++ {
			select {
			case <-stop:
				fmt.Fprint(c.out, "\r\033[K")
				return
			case <-ticker.C:
				fmt.Fprintf(c.out, "\r%s Memproses...", frames[i%len(frames)])
			}
		}
	}(c.thinkStop, c.thinkDone)
}

func (c *Console) stopThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
	<-c.thinkDone
}
