package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"chatcast/internal/agent"
	"chatcast/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// Telegram lets allow-listed users broadcast from a chat with the bot.
type Telegram struct {
	token     string
	allowFrom []int64 // Allowed user IDs (empty = allow all)
	status    func() []agent.Status

	bot    *tgbotapi.BotAPI
	logger *slog.Logger
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // User IDs as strings
	Status    func() []agent.Status
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Status == nil {
		cfg.Status = func() []agent.Status { return nil }
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		status:    cfg.Status,
		logger:    cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and begins polling for updates.
func (t *Telegram) Start(ctx context.Context, b domain.Broadcaster) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)
	if len(t.allowFrom) == 0 {
		t.logger.Warn("telegram allowFrom is empty; anyone who finds the bot can type into your chats")
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil || update.Message.Chat == nil {
				continue
			}
			if reply := t.handleMessage(b, update.Message); reply != "" {
				t.sendMessage(update.Message.Chat.ID, reply)
			}
		}
	}
}

// Stop is a no-op: the bot stops when Start's context is cancelled, and
// calling StopReceivingUpdates twice panics.
func (t *Telegram) Stop() error { return nil }

// handleMessage broadcasts one message and returns the reply for the
// sender, "" for none.
func (t *Telegram) handleMessage(b domain.Broadcaster, msg *tgbotapi.Message) string {
	if msg.From == nil {
		return ""
	}
	if !t.isAllowed(msg.From.ID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", msg.From.ID,
			"username", msg.From.UserName,
		)
		return "Unauthorized. Your user ID is not in the allow list."
	}

	if msg.IsCommand() {
		return t.handleCommand(b, msg)
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return ""
	}
	t.logger.Info("telegram message received", "user_id", msg.From.ID, "text_len", len(text))
	b.Emit(domain.IntentSend, text)
	return ""
}

func (t *Telegram) handleCommand(b domain.Broadcaster, msg *tgbotapi.Message) string {
	switch msg.Command() {
	case "start", "help":
		return "Every message you send here is typed and sent into all open chat pages.\n\n" +
			"Commands:\n/sync <text> mirror text without sending\n/new start new conversations\n/status show pages"
	case "sync":
		b.Emit(domain.IntentSync, msg.CommandArguments())
		return ""
	case "new":
		b.NewConversation()
		return "Starting new conversations."
	case "status":
		return formatStatus(t.status())
	default:
		return "Unknown command. Type /help for available commands."
	}
}

func formatStatus(pages []agent.Status) string {
	if len(pages) == 0 {
		return "No pages open."
	}
	var sb strings.Builder
	for _, p := range pages {
		fmt.Fprintf(&sb, "%s: %d handled", p.Page, p.Handled)
		if p.LastOutcome != "" {
			fmt.Fprintf(&sb, ", last %s", p.LastOutcome)
		}
		if p.LastError != "" {
			fmt.Fprintf(&sb, ", error: %s", p.LastError)
		}
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true // Empty list = allow all
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

func (t *Telegram) sendMessage(chatID int64, text string) {
	// Telegram has a 4096 char limit per message
	for len(text) > 0 {
		chunk := text
		if len(chunk) > telegramMaxMsgLen {
			cutAt := strings.LastIndex(chunk[:telegramMaxMsgLen], "\n")
			if cutAt < telegramMaxMsgLen/2 {
				cutAt = telegramMaxMsgLen
			}
			chunk = text[:cutAt]
			text = text[cutAt:]
		} else {
			text = ""
		}
		t.sendChunk(chatID, chunk)
	}
}

// sendChunk sends one plain-text chunk, backing off on rate limits and
// transient errors.
func (t *Telegram) sendChunk(chatID int64, text string) {
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		_, err := t.bot.Send(tgbotapi.NewMessage(chatID, text))
		if err == nil {
			return
		}
		if attempt == telegramMaxSendRetries {
			t.logger.Error("telegram send failed after retries", "err", err, "attempts", attempt+1)
			return
		}

		backoff := time.Duration(attempt+1) * time.Second
		if strings.Contains(err.Error(), "Too Many Requests") || strings.Contains(err.Error(), "429") {
			backoff *= 3
		}
		t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
		time.Sleep(backoff)
	}
}
