package channel

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"chatcast/internal/agent"
	"chatcast/internal/bus"
	"chatcast/internal/config"
	"chatcast/internal/domain"
	"chatcast/internal/metrics"
	"chatcast/internal/profile"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// recorder is a domain.Broadcaster that logs every call.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *recorder) Input(text string)          { r.add("input:" + text) }
func (r *recorder) CompositionStart()          { r.add("compositionstart") }
func (r *recorder) CompositionEnd(text string) { r.add("compositionend:" + text) }
func (r *recorder) Key(key string, shift bool) { r.add(fmt.Sprintf("key:%s:%v", key, shift)) }
func (r *recorder) Submit()                    { r.add("submit") }
func (r *recorder) NewConversation()           { r.add("new") }
func (r *recorder) Emit(kind domain.IntentKind, text string) {
	r.add("emit:" + string(kind) + ":" + text)
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// waitCalls polls until n calls have been recorded.
func (r *recorder) waitCalls(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if calls := r.Calls(); len(calls) >= n {
			return calls
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d calls, got %v", n, r.Calls())
	return nil
}

func samplePages() []agent.Status {
	return []agent.Status{{Page: "kimi", Site: "kimi", URL: "https://www.kimi.com/", LastIntent: domain.IntentSend, LastOutcome: "sent:click", Handled: 3}}
}

func newTestWeb(t *testing.T, cfg *config.Config) (*Web, *recorder, *httptest.Server) {
	t.Helper()
	builtin, err := profile.Builtin()
	if err != nil {
		t.Fatal(err)
	}
	w := NewWeb(WebConfig{
		Logger:         testLogger(),
		Config:         cfg,
		Status:         samplePages,
		Profiles:       profile.NewTable(builtin...),
		Events:         bus.NewEventBus(testLogger()),
		Metrics:        metrics.NewMetricsCollector(),
		StatusInterval: time.Hour,
	})
	rec := &recorder{}
	srv := httptest.NewServer(w.Handler(rec))
	t.Cleanup(func() {
		w.Stop()
		srv.Close()
	})
	return w, rec, srv
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestWeb_ServesPanel(t *testing.T) {
	_, _, srv := newTestWeb(t, nil)
	resp, body := get(t, srv.URL+"/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(body, "<textarea") || !strings.Contains(body, "/ws") {
		t.Fatal("panel page should carry the input and the websocket client")
	}
}

func TestWeb_StatusIsPublic(t *testing.T) {
	cfg := config.Defaults()
	cfg.Channels.Web.Auth = config.WebAuth{Enabled: true, Username: "op", PasswordHash: "00"}
	_, _, srv := newTestWeb(t, cfg)

	resp, body := get(t, srv.URL+"/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var st map[string]any
	if err := json.Unmarshal([]byte(body), &st); err != nil {
		t.Fatal(err)
	}
	if st["pages"].(float64) != 1 {
		t.Fatalf("pages = %v", st["pages"])
	}
}

func TestWeb_BasicAuth(t *testing.T) {
	cfg := config.Defaults()
	// sha256("secret")
	cfg.Channels.Web.Auth = config.WebAuth{
		Enabled:      true,
		Username:     "op",
		PasswordHash: "2bb80d537b1da3e38bd30361aa855686bde0eacd7162fef6a25fe97bf527a25b",
	}
	_, _, srv := newTestWeb(t, cfg)

	resp, _ := get(t, srv.URL+"/")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", resp.StatusCode)
	}

	for _, tc := range []struct {
		user, pass string
		want       int
	}{
		{"op", "secret", http.StatusOK},
		{"op", "wrong", http.StatusUnauthorized},
		{"other", "secret", http.StatusUnauthorized},
	} {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/sites", nil)
		req.SetBasicAuth(tc.user, tc.pass)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Errorf("%s/%s: status = %d, want %d", tc.user, tc.pass, resp.StatusCode, tc.want)
		}
	}
}

func TestWeb_Sites(t *testing.T) {
	_, _, srv := newTestWeb(t, nil)
	_, body := get(t, srv.URL+"/api/sites")

	var sites []site
	if err := json.Unmarshal([]byte(body), &sites); err != nil {
		t.Fatal(err)
	}
	if len(sites) < 3 {
		t.Fatalf("expected the builtin profiles, got %d", len(sites))
	}
	var open []string
	for i, s := range sites {
		if i > 0 && sites[i-1].Name > s.Name {
			t.Fatal("sites should be sorted by name")
		}
		if s.Open {
			open = append(open, s.Name)
			if s.Page == nil || s.Page.Handled != 3 {
				t.Fatalf("open site lacks its page status: %+v", s)
			}
		}
	}
	if len(open) != 1 || open[0] != "kimi" {
		t.Fatalf("open sites = %v", open)
	}
}

func TestWeb_Events(t *testing.T) {
	w, _, srv := newTestWeb(t, nil)
	w.events.Report(bus.EventSubmitClicked, "kimi", "ref", "0.0.2")
	w.events.Report(bus.EventResolveFailed, "deepseek", "role", "input")
	w.events.Report(bus.EventSubmitKeyboard, "doubao")

	_, body := get(t, srv.URL+"/api/events?n=2")
	var events []bus.Event
	if err := json.Unmarshal([]byte(body), &events); err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[0].Source != "deepseek" || events[1].Type != bus.EventSubmitKeyboard {
		t.Fatalf("unexpected events: %+v", events)
	}

	_, body = get(t, srv.URL+"/api/events?type="+bus.EventSubmitClicked)
	events = nil
	if err := json.Unmarshal([]byte(body), &events); err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Payload["ref"] != "0.0.2" {
		t.Fatalf("unexpected filtered events: %+v", events)
	}

	resp, _ := get(t, srv.URL+"/api/events?n=zero")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestWeb_ConfigIsSanitized(t *testing.T) {
	cfg := config.Defaults()
	cfg.Channels.Telegram.Token = "123456789:ABCdefGHIjklMNO"
	_, _, srv := newTestWeb(t, cfg)

	_, body := get(t, srv.URL+"/api/config")
	if strings.Contains(body, "ABCdefGHI") {
		t.Fatal("config endpoint leaked the telegram token")
	}
}

func TestWeb_Metrics(t *testing.T) {
	_, _, srv := newTestWeb(t, nil)
	resp, body := get(t, srv.URL+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(body, "chatcast_uptime_seconds") {
		t.Fatalf("unexpected metrics body: %s", body)
	}
}

func dialPanel(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestWeb_WebSocketDrivesBroadcaster(t *testing.T) {
	_, rec, srv := newTestWeb(t, nil)
	conn := dialPanel(t, srv)

	first := readMsg(t, conn)
	if first.Type != "status" || len(first.Pages) != 1 || first.Pages[0].Page != "kimi" {
		t.Fatalf("expected initial status push, got %+v", first)
	}

	for _, m := range []WSMessage{
		{Type: "compositionstart"},
		{Type: "input", Text: "ni"},
		{Type: "compositionend", Text: "你好"},
		{Type: "keydown", Key: "Enter", Shift: true},
		{Type: "keydown", Key: "Enter"},
		{Type: "send", Text: "again"},
		{Type: "new"},
	} {
		if err := conn.WriteJSON(m); err != nil {
			t.Fatal(err)
		}
	}

	got := rec.waitCalls(t, 8)
	want := []string{
		"compositionstart",
		"input:ni",
		"compositionend:你好",
		"key:Enter:true",
		"key:Enter:false",
		"input:again",
		"submit",
		"new",
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("calls = %v\nwant    %v", got, want)
	}
}

func TestWeb_WebSocketIgnoresGarbage(t *testing.T) {
	_, rec, srv := newTestWeb(t, nil)
	conn := dialPanel(t, srv)
	readMsg(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(WSMessage{Type: "mystery"}); err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(WSMessage{Type: "new"}); err != nil {
		t.Fatal(err)
	}
	if got := rec.waitCalls(t, 1); len(got) != 1 || got[0] != "new" {
		t.Fatalf("calls = %v", got)
	}
}

func TestWeb_ForwardsEvents(t *testing.T) {
	w, _, srv := newTestWeb(t, nil)
	conn := dialPanel(t, srv)
	readMsg(t, conn)

	w.events.Report(bus.EventInjectFallback, "yuanbao", "reason", "content mismatch")

	msg := readMsg(t, conn)
	if msg.Type != "event" || msg.Event == nil {
		t.Fatalf("expected event push, got %+v", msg)
	}
	if msg.Event.Type != bus.EventInjectFallback || msg.Event.Source != "yuanbao" {
		t.Fatalf("unexpected event: %+v", msg.Event)
	}
}

func TestDispatch_SendWithoutTextSubmitsBuffer(t *testing.T) {
	rec := &recorder{}
	dispatch(rec, WSMessage{Type: "send"}, testLogger())
	if got := rec.Calls(); len(got) != 1 || got[0] != "submit" {
		t.Fatalf("calls = %v", got)
	}
}
