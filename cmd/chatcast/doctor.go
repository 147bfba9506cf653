package main

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"chatcast/internal/config"
	"chatcast/internal/profile"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your chatcast installation",
		Long: `Verifies that chatcast's configuration, site profiles, browser and
operator channels are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("chatcast doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'chatcast init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return fmt.Errorf("%d check(s) failed", failed)
			}
			printPass("Config validation", "valid")
			passed++

			// 3. Site profiles parse and cover the configured sites
			profiles, err := profile.Load(cfg.Profiles.Path)
			if err != nil {
				printFail("Profiles", err.Error())
				failed++
			} else {
				printPass("Profiles", fmt.Sprintf("%d loaded", len(profiles)))
				passed++
				table := profile.NewTable(profiles...)
				for _, site := range cfg.Browser.Sites {
					p, ok := table.ByName(site)
					switch {
					case !ok:
						printFail("Site: "+site, "no profile with this name")
						failed++
					case p.URL == "":
						printWarn("Site: "+site, "profile has no url; only an attached tab can serve it")
						warned++
					default:
						printPass("Site: "+site, p.URL)
						passed++
					}
				}
			}

			// 4. Browser
			if cfg.Browser.RemoteURL != "" {
				if err := checkRemote(cfg.Browser.RemoteURL); err != nil {
					printFail("Remote browser", err.Error())
					failed++
				} else {
					printPass("Remote browser", cfg.Browser.RemoteURL)
					passed++
				}
			} else {
				if bin := findChrome(); bin == "" {
					printFail("Chrome", "no Chrome or Chromium binary found in PATH")
					failed++
				} else {
					printPass("Chrome", bin)
					passed++
				}
				if err := checkWritableDir(cfg.Browser.ProfileDir); err != nil {
					printFail("Chrome profile", err.Error())
					failed++
				} else {
					printPass("Chrome profile", cfg.Browser.ProfileDir)
					passed++
				}
			}

			// 5. Channels
			if cfg.Channels.Web.Enabled {
				port := cfg.Channels.Web.Port
				if err := checkPort(cfg.Channels.Web.Host, port); err != nil {
					printWarn("Web port", fmt.Sprintf("port %d may be in use: %v", port, err))
					warned++
				} else {
					printPass("Web port", fmt.Sprintf("%s:%d available", cfg.Channels.Web.Host, port))
					passed++
				}
				if !cfg.Channels.Web.Auth.Enabled && !isLoopback(cfg.Channels.Web.Host) {
					printWarn("Web auth", "panel listens beyond localhost without auth")
					warned++
				}
			}
			if cfg.Channels.Telegram.Enabled {
				if len(cfg.Channels.Telegram.AllowFrom) == 0 {
					printWarn("Telegram", "allowFrom is empty; anyone can drive the pages")
					warned++
				} else {
					printPass("Telegram", fmt.Sprintf("%d allowed user(s)", len(cfg.Channels.Telegram.AllowFrom)))
					passed++
				}
			}
			if !cfg.Channels.Web.Enabled && !cfg.Channels.CLI.Enabled && !cfg.Channels.Telegram.Enabled {
				printFail("Channels", "no operator channel enabled")
				failed++
			}

			// 6. Check log file writable
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running chatcast.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nchatcast should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! Run 'chatcast login <site>' once per site, then 'chatcast run'.\n")
			}
			return nil
		},
	}
}

// chromeNames are the executables chromedp's allocator looks for.
var chromeNames = []string{
	"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "chrome", "headless-shell",
}

func findChrome() string {
	if runtime.GOOS == "darwin" {
		const app = "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"
		if _, err := os.Stat(app); err == nil {
			return app
		}
	}
	for _, name := range chromeNames {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return ""
}

func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// checkRemote dials the DevTools endpoint of a remote browser.
func checkRemote(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid remote URL %q", raw)
	}
	conn, err := net.DialTimeout("tcp", u.Host, 3*time.Second)
	if err != nil {
		return fmt.Errorf("cannot reach %s: %w", u.Host, err)
	}
	return conn.Close()
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
