package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

var errNotStarted = errors.New("browser not started")

// Bridge owns one Chrome instance, launched with a persistent profile or
// reached through a remote debugging endpoint, and the tabs opened in it.
type Bridge struct {
	profileDir string
	headless   bool
	remoteURL  string
	userAgent  string
	logger     *slog.Logger

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	tabs          map[string]*Tab
}

// BridgeConfig holds configuration for the browser bridge.
type BridgeConfig struct {
	ProfileDir string // Chrome user data directory (persists cookies/sessions)
	Headless   bool   // Run headless (true) or with visible UI (false)
	RemoteURL  string // attach to a running Chrome instead of launching one
	UserAgent  string
	Logger     *slog.Logger
}

func NewBridge(cfg BridgeConfig) *Bridge {
	if cfg.ProfileDir == "" {
		home, _ := os.UserHomeDir()
		cfg.ProfileDir = filepath.Join(home, ".chatcast", "chrome")
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Bridge{
		profileDir: cfg.ProfileDir,
		headless:   cfg.Headless,
		remoteURL:  cfg.RemoteURL,
		userAgent:  cfg.UserAgent,
		logger:     cfg.Logger,
		tabs:       make(map[string]*Tab),
	}
}

// Remote reports whether the bridge attaches to an external browser.
func (b *Bridge) Remote() bool { return b.remoteURL != "" }

func (b *Bridge) execOptions(headless bool) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(b.profileDir),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
		// Background tabs must keep running their editors' timers.
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.UserAgent(b.userAgent),
		chromedp.WindowSize(1280, 900),
	)
	if headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	return opts
}

// Start launches (or connects to) the browser. Tabs live until Close or
// until ctx is cancelled.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browserCtx != nil {
		return nil
	}

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if b.remoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, b.remoteURL)
	} else {
		if err := os.MkdirAll(b.profileDir, 0o755); err != nil {
			return fmt.Errorf("create profile dir: %w", err)
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, b.execOptions(b.headless)...)
	}

	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...any) {
			b.logger.Debug("cdp: " + fmt.Sprintf(format, args...))
		}),
	)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("start browser: %w", err)
	}

	b.allocCancel = allocCancel
	b.browserCtx = browserCtx
	b.browserCancel = browserCancel
	b.logger.Info("browser started", "remote", b.remoteURL != "", "profile", b.profileDir)
	return nil
}

// OpenTab opens url in a new tab and waits for the body to be ready.
func (b *Bridge) OpenTab(ctx context.Context, id, url string) (*Tab, error) {
	b.mu.Lock()
	parent := b.browserCtx
	b.mu.Unlock()
	if parent == nil {
		return nil, errNotStarted
	}

	tctx, cancel := chromedp.NewContext(parent)
	tab := newTab(id, tctx, cancel, b.logger)
	if err := tab.run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		cancel()
		return nil, fmt.Errorf("open %s: %w", url, err)
	}
	b.track(tab)
	b.logger.Info("tab opened", "page", id, "url", url)
	return tab, nil
}

// Attach adopts the browser's existing page targets whose URL satisfies
// match. name maps a URL to the page id.
func (b *Bridge) Attach(ctx context.Context, name func(url string) (string, bool)) ([]*Tab, error) {
	b.mu.Lock()
	parent := b.browserCtx
	b.mu.Unlock()
	if parent == nil {
		return nil, errNotStarted
	}

	infos, err := chromedp.Targets(parent)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}

	var tabs []*Tab
	for _, info := range pageTargets(infos) {
		id, ok := name(info.URL)
		if !ok {
			continue
		}
		tctx, cancel := chromedp.NewContext(parent, chromedp.WithTargetID(info.TargetID))
		tab := newTab(id, tctx, cancel, b.logger)
		if err := tab.run(ctx); err != nil {
			cancel()
			b.logger.Warn("attach failed", "page", id, "url", info.URL, "err", err)
			continue
		}
		b.track(tab)
		b.logger.Info("tab attached", "page", id, "url", info.URL)
		tabs = append(tabs, tab)
	}
	return tabs, nil
}

// pageTargets keeps top-level pages, dropping workers, extensions and
// devtools.
func pageTargets(infos []*target.Info) []*target.Info {
	var out []*target.Info
	for _, info := range infos {
		if info.Type != "page" || strings.HasPrefix(info.URL, "devtools://") || strings.HasPrefix(info.URL, "chrome-extension://") {
			continue
		}
		out = append(out, info)
	}
	return out
}

func (b *Bridge) track(t *Tab) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.tabs[t.id]; ok && old != t {
		old.Close()
	}
	b.tabs[t.id] = t
}

// Tab returns an open tab by id.
func (b *Bridge) Tab(id string) (*Tab, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tabs[id]
	return t, ok
}

// Close closes every tab and then the browser. A remote browser is left
// running.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, t := range b.tabs {
		t.Close()
		delete(b.tabs, id)
	}
	if b.browserCancel != nil {
		b.browserCancel()
		b.allocCancel()
		b.browserCtx = nil
		b.browserCancel = nil
		b.allocCancel = nil
	}
}

// Login opens a visible browser for the user to log in manually.
// After login, cookies are saved in the profile directory.
func (b *Bridge) Login(ctx context.Context, url string) error {
	if b.remoteURL != "" {
		return errors.New("login is not needed with a remote browser; sign in there directly")
	}
	if err := os.MkdirAll(b.profileDir, 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}
	b.logger.Info("opening browser for login", "url", url)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, b.execOptions(false)...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	if err := chromedp.Run(taskCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to login page: %w", err)
	}

	b.logger.Info("browser opened. Please log in manually. Press Ctrl+C when done.")

	<-ctx.Done()

	b.logger.Info("login session saved", "profile", b.profileDir)
	return nil
}
