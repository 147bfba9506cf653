package channel

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatcast/internal/agent"
	"chatcast/internal/bus"
	"chatcast/internal/config"
	"chatcast/internal/domain"
	"chatcast/internal/metrics"
	"chatcast/internal/profile"
)

const (
	defaultStatusInterval = time.Second
	clientQueue           = 64
	writeTimeout          = 5 * time.Second
	maxMessageSize        = 1 << 20
)

//go:embed web/panel.html
var panelHTML []byte

// Web serves the operator panel: one textarea whose keystrokes stream over
// a websocket to the coordinator, plus status and diagnostics endpoints.
type Web struct {
	host   string
	port   int
	logger *slog.Logger
	server *http.Server

	cfg         *config.Config
	status      func() []agent.Status
	profiles    *profile.Table
	events      *bus.EventBus
	metrics     *metrics.MetricsCollector
	metricsPath string
	interval    time.Duration

	// Auth settings
	authEnabled  bool
	authUser     string
	authPassHash string

	mu        sync.RWMutex
	clients   map[*wsClient]struct{}
	handlerID string
}

type WebConfig struct {
	Host   string
	Port   int
	Logger *slog.Logger
	Config *config.Config

	Status         func() []agent.Status
	Profiles       *profile.Table
	Events         *bus.EventBus
	Metrics        *metrics.MetricsCollector // nil disables the metrics endpoint
	MetricsPath    string
	StatusInterval time.Duration
}

// WSMessage is the panel's websocket protocol. Inbound types: input,
// compositionstart, compositionend, keydown, send, new. Outbound types:
// status, event.
type WSMessage struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	Key   string         `json:"key,omitempty"`
	Shift bool           `json:"shift,omitempty"`
	Pages []agent.Status `json:"pages,omitempty"`
	Event *bus.Event     `json:"event,omitempty"`
}

// wsClient tracks a connected panel.
type wsClient struct {
	conn *websocket.Conn
	out  chan []byte
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func NewWeb(cfg WebConfig) *Web {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8787
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Status == nil {
		cfg.Status = func() []agent.Status { return nil }
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = defaultStatusInterval
	}

	w := &Web{
		host:        cfg.Host,
		port:        cfg.Port,
		logger:      cfg.Logger,
		cfg:         cfg.Config,
		status:      cfg.Status,
		profiles:    cfg.Profiles,
		events:      cfg.Events,
		metrics:     cfg.Metrics,
		metricsPath: cfg.MetricsPath,
		interval:    cfg.StatusInterval,
		clients:     make(map[*wsClient]struct{}),
	}

	// Apply auth settings from config
	if cfg.Config != nil && cfg.Config.Channels.Web.Auth.Enabled {
		w.authEnabled = true
		w.authUser = cfg.Config.Channels.Web.Auth.Username
		w.authPassHash = cfg.Config.Channels.Web.Auth.PasswordHash
	}
	return w
}

func (w *Web) Name() string { return "web" }

// Handler builds the panel's routes, driving b.
func (w *Web) Handler(b domain.Broadcaster) http.Handler {
	w.mu.Lock()
	if w.handlerID == "" && w.events != nil {
		w.handlerID = w.events.On("*", w.forward)
	}
	w.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", w.requireAuth(w.handlePanel))
	mux.HandleFunc("GET /ws", w.requireAuth(func(rw http.ResponseWriter, r *http.Request) {
		w.handleWS(rw, r, b)
	}))
	mux.HandleFunc("GET /status", w.handleStatus) // public endpoint
	mux.HandleFunc("GET /api/sites", w.requireAuth(w.handleSites))
	mux.HandleFunc("GET /api/events", w.requireAuth(w.handleEvents))
	mux.HandleFunc("GET /api/config", w.requireAuth(w.handleConfig))
	if w.metrics != nil {
		mux.HandleFunc("GET "+w.metricsPath, w.metrics.Handler())
	}
	return mux
}

// Start serves the panel until ctx is cancelled.
func (w *Web) Start(ctx context.Context, b domain.Broadcaster) error {
	addr := fmt.Sprintf("%s:%d", w.host, w.port)
	w.server = &http.Server{
		Addr:              addr,
		Handler:           w.Handler(b),
		ReadHeaderTimeout: 10 * time.Second,
	}

	w.logger.Info("panel started", "addr", "http://"+addr, "auth", w.authEnabled)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		w.closeAllClients()
		w.server.Shutdown(shutdownCtx)
	}()

	if err := w.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (w *Web) Stop() error {
	w.mu.Lock()
	if w.handlerID != "" {
		w.events.Off("*", w.handlerID)
		w.handlerID = ""
	}
	w.mu.Unlock()
	w.closeAllClients()
	if w.server != nil {
		return w.server.Close()
	}
	return nil
}

// requireAuth wraps a handler with HTTP Basic Auth when auth is enabled.
func (w *Web) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !w.authEnabled {
			next(rw, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || !w.checkCredentials(user, pass) {
			rw.Header().Set("WWW-Authenticate", `Basic realm="chatcast"`)
			http.Error(rw, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(rw, r)
	}
}

// checkCredentials verifies username and password against the stored
// hex sha256 hash.
func (w *Web) checkCredentials(user, pass string) bool {
	if subtle.ConstantTimeCompare([]byte(user), []byte(w.authUser)) != 1 {
		return false
	}
	hash := sha256.Sum256([]byte(pass))
	got := hex.EncodeToString(hash[:])
	return subtle.ConstantTimeCompare([]byte(got), []byte(w.authPassHash)) == 1
}

func (w *Web) handlePanel(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	rw.Header().Set("Cache-Control", "no-store")
	rw.Write(panelHTML)
}

func (w *Web) handleStatus(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"status": "ok",
		"pages":  len(w.status()),
		"time":   time.Now().Format(time.RFC3339),
	})
}

// site is one row of /api/sites: a profile and, when open, its page.
type site struct {
	Name               string        `json:"name"`
	URL                string        `json:"url"`
	Match              []string      `json:"match"`
	KeyboardOnlySubmit bool          `json:"keyboardOnlySubmit,omitempty"`
	SkipRealtimeSync   bool          `json:"skipRealtimeSync,omitempty"`
	Open               bool          `json:"open"`
	Page               *agent.Status `json:"page,omitempty"`
}

func (w *Web) handleSites(rw http.ResponseWriter, r *http.Request) {
	bySite := make(map[string]agent.Status)
	for _, st := range w.status() {
		bySite[st.Site] = st
	}

	var out []site
	if w.profiles != nil {
		for _, p := range w.profiles.All() {
			s := site{
				Name:               p.Name,
				URL:                p.URL,
				Match:              p.Match,
				KeyboardOnlySubmit: p.KeyboardOnlySubmit,
				SkipRealtimeSync:   p.SkipRealtimeSync,
			}
			if st, ok := bySite[p.Name]; ok {
				s.Open = true
				s.Page = &st
			}
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	writeJSON(rw, http.StatusOK, out)
}

func (w *Web) handleEvents(rw http.ResponseWriter, r *http.Request) {
	n := 100
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "n must be a positive integer"})
			return
		}
		n = parsed
	}
	var events []bus.Event
	if w.events != nil {
		if typ := r.URL.Query().Get("type"); typ != "" {
			events = w.events.Replay(typ, time.Time{})
			if len(events) > n {
				events = events[len(events)-n:]
			}
		} else {
			events = w.events.Recent(n)
		}
	}
	if events == nil {
		events = []bus.Event{}
	}
	writeJSON(rw, http.StatusOK, events)
}

func (w *Web) handleConfig(rw http.ResponseWriter, r *http.Request) {
	if w.cfg == nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]string{"error": "config not loaded"})
		return
	}
	writeJSON(rw, http.StatusOK, config.Sanitize(w.cfg))
}

func (w *Web) handleWS(rw http.ResponseWriter, r *http.Request, b domain.Broadcaster) {
	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	client := &wsClient{conn: conn, out: make(chan []byte, clientQueue)}
	w.mu.Lock()
	w.clients[client] = struct{}{}
	w.mu.Unlock()
	w.logger.Info("panel connected", "remote", r.RemoteAddr)

	done := make(chan struct{})
	go w.writeLoop(client, done)

	defer func() {
		close(done)
		w.mu.Lock()
		delete(w.clients, client)
		w.mu.Unlock()
		conn.Close()
		w.logger.Info("panel disconnected", "remote", r.RemoteAddr)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.logger.Warn("websocket read error", "err", err)
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			w.logger.Warn("invalid websocket message", "err", err)
			continue
		}
		dispatch(b, msg, w.logger)
	}
}

// dispatch maps one panel event onto the broadcaster.
func dispatch(b domain.Broadcaster, msg WSMessage, logger *slog.Logger) {
	switch msg.Type {
	case "input":
		b.Input(msg.Text)
	case "compositionstart":
		b.CompositionStart()
	case "compositionend":
		b.CompositionEnd(msg.Text)
	case "keydown":
		b.Key(msg.Key, msg.Shift)
	case "send":
		if msg.Text != "" {
			b.Input(msg.Text)
		}
		b.Submit()
	case "new":
		b.NewConversation()
	default:
		logger.Debug("unknown panel message", "type", msg.Type)
	}
}

// writeLoop owns the connection's writes: queued events and a periodic
// status push.
func (w *Web) writeLoop(c *wsClient, done <-chan struct{}) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.pushStatus(c)
	for {
		select {
		case <-done:
			return
		case data, ok := <-c.out:
			if !ok {
				return
			}
			if err := c.write(data); err != nil {
				w.logger.Debug("websocket write failed", "err", err)
				return
			}
		case <-ticker.C:
			if err := w.pushStatus(c); err != nil {
				return
			}
		}
	}
}

func (w *Web) pushStatus(c *wsClient) error {
	data, err := json.Marshal(WSMessage{Type: "status", Pages: w.status()})
	if err != nil {
		return err
	}
	return c.write(data)
}

func (c *wsClient) write(data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// forward relays diagnostic events to every panel. Slow panels lose
// events rather than block the emitter.
func (w *Web) forward(e bus.Event) {
	data, err := json.Marshal(WSMessage{Type: "event", Event: &e})
	if err != nil {
		return
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	for c := range w.clients {
		select {
		case c.out <- data:
		default:
		}
	}
}

func (w *Web) closeAllClients() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for c := range w.clients {
		c.conn.Close()
		delete(w.clients, c)
	}
}

func writeJSON(rw http.ResponseWriter, code int, v any) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(code)
	json.NewEncoder(rw).Encode(v)
}
