package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"chatcast/internal/config"
	"chatcast/internal/profile"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
	logLevel   string // overrides general.logLevel when set
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "chatcast",
		Short: "chatcast: type once, every AI chat page follows",
		Long: "chatcast mirrors one input box into several AI chat pages (Doubao, DeepSeek, Kimi, ...)\n" +
			"running in a Chrome it drives over the DevTools protocol.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.chatcast/config.json)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")

	root.AddCommand(initCmd())
	root.AddCommand(runCmd())
	root.AddCommand(loginCmd())
	root.AddCommand(sitesCmd())
	root.AddCommand(snapshotCmd())
	root.AddCommand(probeCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config file, falling back to defaults when it does
// not exist yet, and installs the configured logger.
func loadConfig() (*config.Config, func(), error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("load config: %w", err)
		}
		logger.Warn("config not found, using defaults", "path", cfgPath)
		cfg = defaults()
	}
	closeLog, err := setupLogger(cfg.General)
	if err != nil {
		return nil, nil, err
	}
	return cfg, closeLog, nil
}

// defaults returns the default config with its paths expanded, the way
// Load leaves them.
func defaults() *config.Config {
	cfg := config.Defaults()
	cfg.Browser.ProfileDir = config.ExpandPath(cfg.Browser.ProfileDir)
	cfg.Profiles.Path = config.ExpandPath(cfg.Profiles.Path)
	return cfg
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupLogger replaces the global logger with one at the configured level,
// also writing to general.logFile when set.
func setupLogger(g config.GeneralConfig) (func(), error) {
	level := g.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	var w io.Writer = os.Stderr
	closeFn := func() {}
	if g.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(g.LogFile), 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(g.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
		closeFn = func() { f.Close() }
	}
	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLevel(level)}))
	slog.SetDefault(logger)
	return closeFn, nil
}

// loadProfiles builds the site table from the built-in profiles and the
// user's profile file.
func loadProfiles(cfg *config.Config) (*profile.Table, error) {
	profiles, err := profile.Load(cfg.Profiles.Path)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	return profile.NewTable(profiles...), nil
}

const sampleProfiles = `# Site profiles. Entries here override the built-in ones by name.
# Only list what the generic resolver gets wrong for a site.
#
# profiles:
#   - name: kimi
#     match: [kimi.com, kimi.moonshot.cn]
#     url: https://www.kimi.com/
#     input: ["div.chat-input-editor[contenteditable=true]"]
#     submit: ["div.send-button"]
#     suppressCompositionEvents: true
#     preSubmitDelay: 200ms
`

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config and an empty profile file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
				return err
			}
			cfg := defaults()
			if _, err := os.Stat(cfgPath); err == nil {
				logger.Info("config exists, leaving it untouched", "config", cfgPath)
			} else if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.Browser.ProfileDir, 0o755); err != nil {
				return err
			}
			if _, err := os.Stat(cfg.Profiles.Path); os.IsNotExist(err) {
				if err := os.WriteFile(cfg.Profiles.Path, []byte(sampleProfiles), 0o644); err != nil {
					return err
				}
			}
			logger.Info("initialized", "config", cfgPath, "profiles", cfg.Profiles.Path, "chrome", cfg.Browser.ProfileDir)
			return nil
		},
	}
}

func sitesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sites",
		Short: "List known site profiles",
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
			enabled := make(map[string]bool, len(cfg.Browser.Sites))
			for _, s := range cfg.Browser.Sites {
				enabled[s] = true
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-3s %-12s %-36s %s\n", "", "NAME", "URL", "MATCH")
			for _, p := range table.All() {
				mark := ""
				if enabled[p.Name] {
					mark = "*"
				}
				fmt.Fprintf(out, "%-3s %-12s %-36s %s\n", mark, p.Name, p.URL, strings.Join(p.Match, ","))
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. coordinator.debounceMs)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. browser.sites '[\"kimi\",\"deepseek\"]')",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "paths",
		Short: "List every settable config path",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := config.ListPaths(config.Defaults())
			keys := make([]string, 0, len(paths))
			for k := range paths {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "%-40s %v\n", k, paths[k])
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath())
		},
	})

	return cmd
}
