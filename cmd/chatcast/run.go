package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatcast/internal/agent"
	"chatcast/internal/browser"
	"chatcast/internal/bus"
	"chatcast/internal/channel"
	"chatcast/internal/config"
	"chatcast/internal/coordinator"
	"chatcast/internal/domain"
	"chatcast/internal/inject"
	"chatcast/internal/metrics"
	"chatcast/internal/profile"

	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	var sites []string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Open the chat pages and start broadcasting",
		Long: "Opens every configured site in the browser (or attaches to the tabs of a remote browser),\n" +
			"starts one worker per page and the enabled operator channels. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBroadcast(sites)
		},
	}
	cmd.Flags().StringSliceVar(&sites, "sites", nil, "sites to open, overriding browser.sites")
	return cmd
}

func runBroadcast(sites []string) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()
	if len(sites) > 0 {
		cfg.Browser.Sites = sites
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// /quit in the CLI ends the run like a signal does.
	ctx, quit := context.WithCancel(sigCtx)
	defer quit()

	table, err := loadProfiles(cfg)
	if err != nil {
		return err
	}
	events := bus.NewEventBus(logger)
	table.OnChange(func(ps []profile.Profile) {
		logger.Info("profiles reloaded", "count", len(ps))
		events.Report(bus.EventProfilesReloaded, "profiles", "count", len(ps))
	})
	if cfg.Profiles.Watch && cfg.Profiles.Path != "" {
		go func() {
			if err := table.Watch(ctx, cfg.Profiles.Path, logger); err != nil {
				logger.Warn("profile watcher stopped", "path", cfg.Profiles.Path, "err", err)
			}
		}()
	}

	// Intent bus (closed during graceful shutdown below)
	intents := bus.New(cfg.Engine.QueueSize, logger)
	coord := coordinator.New(coordinator.Config{
		Quiet:     time.Duration(cfg.Coordinator.DebounceMs) * time.Millisecond,
		Publisher: intents,
		Logger:    logger.With("component", "coordinator"),
	})
	pool := agent.NewPool(intents, logger)

	bridge := browser.NewBridge(browser.BridgeConfig{
		ProfileDir: cfg.Browser.ProfileDir,
		Headless:   cfg.Browser.Headless,
		RemoteURL:  cfg.Browser.RemoteURL,
		UserAgent:  cfg.Browser.UserAgent,
		Logger:     logger,
	})
	if err := bridge.Start(ctx); err != nil {
		return err
	}
	defer bridge.Close()

	tabs, err := openPages(ctx, bridge, table, cfg.Browser.Sites)
	if err != nil {
		return err
	}
	if len(tabs) == 0 {
		return fmt.Errorf("no chat pages open; check browser.sites %v", cfg.Browser.Sites)
	}
	for _, t := range tabs {
		pool.Start(ctx, agent.NewWorker(agent.WorkerConfig{
			Page:     t.tab,
			Site:     t.site,
			Profiles: table,
			Timing: inject.Timing{
				FocusSettle: cfg.Engine.FocusSettle(),
				PostInject:  cfg.Engine.PostInject(),
			},
			SyncAttempts:   cfg.Engine.SyncAttempts,
			SyncRetryDelay: cfg.Engine.SyncRetryDelay(),
			Limiter:        agent.NewRateLimiter(cfg.Engine.SyncBurst, float64(cfg.Engine.SyncRatePerMinute)),
			Events:         events,
			Logger:         logger,
		}))
	}

	chans := startChannels(ctx, quit, cfg, coord, pool, table, events)
	logger.Info("broadcasting. Press Ctrl+C to stop.", "pages", pool.Len(), "channels", len(chans))

	// Block until shutdown signal
	<-ctx.Done()
	logger.Info("shutting down...")

	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, ch := range chans {
			if err := ch.Stop(); err != nil {
				logger.Warn("channel stop", "channel", ch.Name(), "err", err)
			}
		}
		coord.Close()
		pool.Close()
		intents.Close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

type openTab struct {
	tab  *browser.Tab
	site string
}

// openPages opens one tab per site. With a remote browser the tabs the
// operator already has open are adopted first; sites without a tab get a
// new one.
func openPages(ctx context.Context, bridge *browser.Bridge, table *profile.Table, sites []string) ([]openTab, error) {
	wanted := make(map[string]bool, len(sites))
	for _, s := range sites {
		wanted[s] = true
	}

	var tabs []openTab
	have := make(map[string]int)
	if bridge.Remote() {
		siteOf := make(map[string]string)
		attached, err := bridge.Attach(ctx, func(raw string) (string, bool) {
			site, ok := siteForURL(table, raw)
			if !ok || !wanted[site] {
				return "", false
			}
			have[site]++
			id := pageID(site, have[site])
			siteOf[id] = site
			return id, true
		})
		if err != nil {
			return nil, err
		}
		for _, t := range attached {
			tabs = append(tabs, openTab{tab: t, site: siteOf[t.ID()]})
		}
	}

	for _, site := range sites {
		if have[site] > 0 {
			continue
		}
		p, ok := table.ByName(site)
		if !ok || p.URL == "" {
			logger.Warn("no profile with a URL for site, skipping", "site", site)
			continue
		}
		t, err := bridge.OpenTab(ctx, site, p.URL)
		if err != nil {
			logger.Error("open page failed", "site", site, "err", err)
			continue
		}
		have[site]++
		tabs = append(tabs, openTab{tab: t, site: site})
	}
	return tabs, nil
}

// siteForURL maps a page URL to the profile whose match patterns cover its
// host.
func siteForURL(table *profile.Table, raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	p, ok := table.Lookup(u.Hostname())
	if !ok {
		return "", false
	}
	return p.Name, true
}

// pageID names the n-th tab of a site: kimi, kimi-2, kimi-3...
func pageID(site string, n int) string {
	if n <= 1 {
		return site
	}
	return fmt.Sprintf("%s-%d", site, n)
}

func startChannels(ctx context.Context, quit context.CancelFunc, cfg *config.Config, b domain.Broadcaster, pool *agent.Pool,
	table *profile.Table, events *bus.EventBus) []domain.Channel {
	var chans []domain.Channel

	if cfg.Channels.Web.Enabled {
		webCfg := channel.WebConfig{
			Host:     cfg.Channels.Web.Host,
			Port:     cfg.Channels.Web.Port,
			Logger:   logger,
			Config:   cfg,
			Status:   pool.Status,
			Profiles: table,
			Events:   events,
		}
		if cfg.Metrics.Enabled {
			webCfg.Metrics = metrics.Collector
			webCfg.MetricsPath = cfg.Metrics.Endpoint
		}
		chans = append(chans, channel.NewWeb(webCfg))
	} else if cfg.Metrics.Enabled {
		logger.Warn("metrics are served by the web panel, which is disabled")
	}

	if cfg.Channels.Telegram.Enabled {
		chans = append(chans, channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			Status:    pool.Status,
			Logger:    logger,
		}))
	}

	if cfg.Channels.CLI.Enabled {
		chans = append(chans, channel.NewCLI(channel.CLIConfig{
			Logger: logger,
			Status: pool.Status,
		}))
	}

	for _, ch := range chans {
		go func(ch domain.Channel) {
			err := ch.Start(ctx, b)
			if err != nil {
				logger.Error("channel error", "channel", ch.Name(), "err", err)
			}
			if _, ok := ch.(*channel.CLI); ok && err == nil && ctx.Err() == nil {
				quit()
			}
		}(ch)
		logger.Info("channel enabled", "channel", ch.Name())
	}
	return chans
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login [site]",
		Short: "Open a visible browser to log in to a chat site",
		Long:  "Opens a visible Chrome window on the site's page. Cookies are saved in the Chrome profile for later runs.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()
			table, err := loadProfiles(cfg)
			if err != nil {
				return err
			}
			p, ok := table.ByName(args[0])
			if !ok || p.URL == "" {
				return fmt.Errorf("unknown site or site without url: %s", args[0])
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			bridge := browser.NewBridge(browser.BridgeConfig{
				ProfileDir: cfg.Browser.ProfileDir,
				RemoteURL:  cfg.Browser.RemoteURL,
				UserAgent:  cfg.Browser.UserAgent,
				Logger:     logger,
			})
			return bridge.Login(ctx, p.URL)
		},
	}
}
