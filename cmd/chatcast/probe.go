package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatcast/internal/agent"
	"chatcast/internal/browser"
	"chatcast/internal/bus"
	"chatcast/internal/dom"
	"chatcast/internal/domain"
	"chatcast/internal/profile"
	"chatcast/internal/replay"
	"chatcast/internal/resolve"

	"github.com/spf13/cobra"
)

func snapshotCmd() *cobra.Command {
	var (
		out  string
		wait time.Duration
	)
	cmd := &cobra.Command{
		Use:   "snapshot <url>",
		Short: "Capture a page as a snapshot file for probe and tests",
		Long:  "Opens url in the configured browser, waits for the page to settle and writes the captured DOM as JSON.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

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

			tab, err := bridge.OpenTab(ctx, "snapshot", args[0])
			if err != nil {
				return err
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
			snap, err := tab.Capture(ctx)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(snap, "", "  ")
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			logger.Info("snapshot saved", "url", snap.URL, "file", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	cmd.Flags().DurationVar(&wait, "wait", 3*time.Second, "time to let the page render before capturing")
	return cmd
}

type probeOptions struct {
	Snapshot        string
	Site            string
	Text            string
	Send            bool
	New             bool
	Top             int
	RejectInsert    bool
	DuplicateInsert bool
}

func probeCmd() *cobra.Command {
	var opts probeOptions
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Show what the resolver picks on a saved snapshot",
		Long: "Loads a snapshot saved by `chatcast snapshot`, prints the ranked candidates per role and,\n" +
			"with --text or --new, runs the intent against the in-memory page and prints what was dispatched.",
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
			return probe(cmd.Context(), cmd.OutOrStdout(), table, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.Snapshot, "snapshot", "s", "", "snapshot file")
	cmd.Flags().StringVar(&opts.Site, "site", "", "profile to apply (default: matched by the snapshot's host)")
	cmd.Flags().StringVar(&opts.Text, "text", "", "text to mirror into the input")
	cmd.Flags().BoolVar(&opts.Send, "send", false, "send --text instead of only mirroring it")
	cmd.Flags().BoolVar(&opts.New, "new", false, "start a new conversation")
	cmd.Flags().IntVar(&opts.Top, "top", 5, "candidates to print per role")
	cmd.Flags().BoolVar(&opts.RejectInsert, "reject-insert", false, "simulate a page where insertText is unavailable")
	cmd.Flags().BoolVar(&opts.DuplicateInsert, "duplicate-insert", false, "simulate an editor that appends on insertText")
	_ = cmd.MarkFlagRequired("snapshot")
	return cmd
}

func probe(ctx context.Context, out io.Writer, table *profile.Table, opts probeOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	page, err := replay.Load("probe", opts.Snapshot, replay.Options{
		RejectInsert:    opts.RejectInsert,
		DuplicateInsert: opts.DuplicateInsert,
	})
	if err != nil {
		return err
	}
	doc, err := page.Snapshot(ctx)
	if err != nil {
		return err
	}

	var p *profile.Profile
	if opts.Site != "" {
		found, ok := table.ByName(opts.Site)
		if !ok {
			return fmt.Errorf("unknown site %q", opts.Site)
		}
		p = &found
	} else if found, ok := table.Lookup(doc.Host); ok {
		p = &found
	}
	site := "(none)"
	if p != nil {
		site = p.Name
	}
	fmt.Fprintf(out, "url:      %s\nelements: %d\nroots:    %d\nprofile:  %s\n", doc.URL, doc.Len(), len(doc.Roots()), site)

	input := printRole(out, doc, resolve.RoleInput, p, nil, opts.Top)
	printRole(out, doc, resolve.RoleSubmit, p, input, opts.Top)
	printRole(out, doc, resolve.RoleNewConversation, p, nil, opts.Top)

	var intents []domain.Intent
	if opts.Text != "" {
		kind := domain.IntentSync
		if opts.Send {
			kind = domain.IntentSend
		}
		intents = append(intents, domain.NewIntent(kind, opts.Text))
	}
	if opts.New {
		intents = append(intents, domain.NewIntent(domain.IntentNewConversation, ""))
	}
	if len(intents) == 0 {
		return nil
	}

	events := bus.NewEventBus(logger)
	profiles := table
	if opts.Site != "" && p != nil {
		// The page's host may not match the forced profile.
		forced := *p
		forced.Match = append([]string{doc.Host}, forced.Match...)
		profiles = profile.NewTable(forced)
	}
	w := agent.NewWorker(agent.WorkerConfig{
		Page:           page,
		Site:           site,
		Profiles:       profiles,
		SyncAttempts:   1,
		SyncRetryDelay: time.Millisecond,
		Events:         events,
		Logger:         logger,
	})
	for _, in := range intents {
		err := w.Handle(ctx, in)
		status := "ok"
		if err != nil {
			status = err.Error()
		}
		fmt.Fprintf(out, "\n%s: %s\n", in.Kind, status)
	}

	fmt.Fprintln(out, "\ndispatched:")
	for _, r := range page.Events() {
		line := fmt.Sprintf("  %-14s %s", r.Event.Type, r.Ref)
		if r.Event.Key != "" {
			line += " key=" + r.Event.Key
		}
		if r.Event.Data != "" {
			line += fmt.Sprintf(" data=%q", r.Event.Data)
		}
		fmt.Fprintln(out, line)
	}
	for _, u := range page.Navigations() {
		fmt.Fprintf(out, "  navigate       %s\n", u)
	}
	if input != nil {
		fmt.Fprintf(out, "\ninput value: %q\n", page.Value(input.Ref))
	}

	fmt.Fprintln(out, "\nevents:")
	for _, e := range events.Recent(0) {
		fmt.Fprintf(out, "  %-20s %v\n", e.Type, e.Payload)
	}
	return nil
}

// printRole prints the override or the top ranked candidates for role and
// returns the winner.
func printRole(out io.Writer, doc *dom.Document, role resolve.Role, p *profile.Profile, anchor *dom.Element, top int) *dom.Element {
	fmt.Fprintf(out, "\n[%s]\n", role)
	res, err := resolve.Resolve(doc, role, p, anchor)
	switch {
	case err != nil:
		fmt.Fprintf(out, "  unresolved: %v\n", err)
	case res.Override != "":
		fmt.Fprintf(out, "  override %q -> %s %s\n", res.Override, res.El.Ref, res.El)
		return res.El
	default:
		fmt.Fprintf(out, "  winner: %s %s (%d)\n", res.El.Ref, res.El, res.Score)
	}
	for i, c := range resolve.Rank(doc, role, p, anchor) {
		if top > 0 && i >= top {
			break
		}
		fmt.Fprintf(out, "  %2d. %-12s %s\n", i+1, c.El.Ref, c)
	}
	if err != nil {
		return nil
	}
	return res.El
}
