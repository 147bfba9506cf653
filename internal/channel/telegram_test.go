package channel

import (
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"chatcast/internal/agent"
)

func tgMessage(userID int64, text string) *tgbotapi.Message {
	msg := &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID, UserName: "op"},
		Chat: &tgbotapi.Chat{ID: userID},
		Text: text,
	}
	if strings.HasPrefix(text, "/") {
		cmd, _, _ := strings.Cut(text, " ")
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return msg
}

func TestNewTelegram_ParsesAllowList(t *testing.T) {
	tg := NewTelegram(TelegramConfig{AllowFrom: []string{"42", " 43 ", "not-a-number"}})
	if len(tg.allowFrom) != 2 || tg.allowFrom[1] != 43 {
		t.Fatalf("allowFrom = %v", tg.allowFrom)
	}
}

func TestTelegram_RejectsUnknownUsers(t *testing.T) {
	tg := NewTelegram(TelegramConfig{AllowFrom: []string{"42"}, Logger: testLogger()})
	rec := &recorder{}

	reply := tg.handleMessage(rec, tgMessage(7, "hello"))
	if !strings.Contains(reply, "Unauthorized") {
		t.Fatalf("reply = %q", reply)
	}
	if len(rec.Calls()) != 0 {
		t.Fatalf("unauthorized message reached the pages: %v", rec.Calls())
	}
}

func TestTelegram_MessagesAndCommands(t *testing.T) {
	tg := NewTelegram(TelegramConfig{AllowFrom: []string{"42"}, Logger: testLogger()})
	rec := &recorder{}

	if reply := tg.handleMessage(rec, tgMessage(42, "  what is a monad?  ")); reply != "" {
		t.Fatalf("plain message should not get a reply, got %q", reply)
	}
	tg.handleMessage(rec, tgMessage(42, "/sync half typed"))
	if reply := tg.handleMessage(rec, tgMessage(42, "/new")); reply == "" {
		t.Fatal("/new should be acknowledged")
	}
	if reply := tg.handleMessage(rec, tgMessage(42, "/frobnicate")); !strings.Contains(reply, "Unknown command") {
		t.Fatalf("reply = %q", reply)
	}
	tg.handleMessage(rec, tgMessage(42, "   "))

	want := []string{"emit:send:what is a monad?", "emit:sync:half typed", "new"}
	if got := rec.Calls(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("calls = %v, want %v", got, want)
	}
}

func TestTelegram_EmptyAllowListAllowsAll(t *testing.T) {
	tg := NewTelegram(TelegramConfig{})
	if !tg.isAllowed(12345) {
		t.Fatal("empty allow list should allow everyone")
	}
}

func TestTelegram_StatusCommand(t *testing.T) {
	tg := NewTelegram(TelegramConfig{
		Status: func() []agent.Status {
			return []agent.Status{
				{Page: "kimi", Handled: 4, LastOutcome: "sent:click"},
				{Page: "minimax", Handled: 1, LastError: "submit ambiguous"},
			}
		},
	})
	reply := tg.handleMessage(&recorder{}, tgMessage(1, "/status"))
	if !strings.Contains(reply, "kimi: 4 handled, last sent:click") || !strings.Contains(reply, "minimax: 1 handled, error: submit ambiguous") {
		t.Fatalf("reply = %q", reply)
	}
}

func TestFormatStatus_NoPages(t *testing.T) {
	if got := formatStatus(nil); got != "No pages open." {
		t.Fatalf("got %q", got)
	}
}
