package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"chatcast/internal/agent"
	"chatcast/internal/domain"
)

// CLI is line mode: every line is sent to all pages. /sync mirrors text
// without sending, /new starts fresh conversations.
type CLI struct {
	logger *slog.Logger
	in     io.Reader
	out    io.Writer
	status func() []agent.Status
}

type CLIConfig struct {
	Logger *slog.Logger
	In     io.Reader
	Out    io.Writer
	Status func() []agent.Status
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Status == nil {
		cfg.Status = func() []agent.Status { return nil }
	}
	return &CLI{
		logger: cfg.Logger,
		in:     cfg.In,
		out:    cfg.Out,
		status: cfg.Status,
	}
}

func (c *CLI) Name() string { return "cli" }

const cliHelp = `Commands:
  <text>         send text to every page
  /sync <text>   mirror text into every input without sending
  /new           start a new conversation everywhere
  /status        show page status
  /quit          exit`

// Start reads lines until EOF, /quit, or ctx is cancelled.
func (c *CLI) Start(ctx context.Context, b domain.Broadcaster) error {
	_, _ = fmt.Fprintln(c.out, "chatcast CLI. Type a message and press Enter. /help for commands.")
	_, _ = fmt.Fprint(c.out, "> ")

	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		scanner.Buffer(make([]byte, 64*1024), 1<<20)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return err
		case line := <-lines:
			if quit := c.handle(b, strings.TrimSpace(line)); quit {
				c.logger.Info("user requested quit")
				return nil
			}
			_, _ = fmt.Fprint(c.out, "> ")
		}
	}
}

// handle runs one line and reports whether the user asked to quit.
func (c *CLI) handle(b domain.Broadcaster, line string) bool {
	if line == "" {
		return false
	}
	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "/quit", "/exit", "/q":
		return true
	case "/help":
		_, _ = fmt.Fprintln(c.out, cliHelp)
	case "/sync":
		b.Emit(domain.IntentSync, arg)
	case "/new":
		b.NewConversation()
	case "/status":
		c.printStatus()
	default:
		if strings.HasPrefix(cmd, "/") {
			_, _ = fmt.Fprintf(c.out, "unknown command %s\n", cmd)
			return false
		}
		b.Emit(domain.IntentSend, line)
	}
	return false
}

func (c *CLI) printStatus() {
	pages := c.status()
	if len(pages) == 0 {
		_, _ = fmt.Fprintln(c.out, "no pages open")
		return
	}
	for _, p := range pages {
		line := fmt.Sprintf("%-10s %-8s handled=%d last=%s %s", p.Page, p.Site, p.Handled, p.LastIntent, p.LastOutcome)
		if p.LastError != "" {
			line += " error=" + p.LastError
		}
		_, _ = fmt.Fprintln(c.out, line)
	}
}

// Stop is a no-op for CLI (we exit when Start returns).
func (c *CLI) Stop() error { return nil }
