// Package config loads exporter settings from the environment (optionally
// seeded from a .env file) and the site profile describing Simplifi's pages.
package config

import (
	"errors"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	serrors "github.com/cantalupo555/simplifi-exporter/internal/errors"
)

// Environment variable names.
const (
	EnvUsername      = "QUICKEN_USERNAME"
	EnvPassword      = "QUICKEN_PASSWORD"
	EnvKeepSignedIn  = "KEEP_SIGNED_IN"
	EnvHeadless      = "HEADLESS"
	EnvBaseURL       = "SIMPLIFI_BASE_URL"
	EnvDownloadDir   = "SIMPLIFI_DOWNLOAD_DIR"
	EnvSessionFile   = "SIMPLIFI_SESSION_FILE"
	EnvScreenshotDir = "SIMPLIFI_SCREENSHOT_DIR"
	EnvBrowser       = "SIMPLIFI_BROWSER"
	EnvProfile       = "SIMPLIFI_PROFILE"
	EnvHistoryDB     = "SIMPLIFI_HISTORY_DB"
)

const (
	DefaultBaseURL       = "https://simplifi.quicken.com"
	DefaultDownloadDir   = "./exports"
	DefaultSessionFile   = "./auth-state.json"
	DefaultScreenshotDir = "."
	DefaultHistoryDB     = "./exports/history.db"
)

// Credentials are only needed when no valid session can be reused.
type Credentials struct {
	Username string
	Password string
}

// Complete reports whether both halves are set.
func (c Credentials) Complete() bool {
	return c.Username != "" && c.Password != ""
}

// Timeouts are per step; there is no global run deadline.
type Timeouts struct {
	Navigation      time.Duration
	AuthFrame       time.Duration
	PasswordField   time.Duration
	MFAProbe        time.Duration
	LoginCompletion time.Duration
	NetworkIdle     time.Duration
	ExportButton    time.Duration
	Download        time.Duration
	Probe           time.Duration
	Screenshot      time.Duration
	DateRange       time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Navigation:      15 * time.Second,
		AuthFrame:       15 * time.Second,
		PasswordField:   10 * time.Second,
		MFAProbe:        5 * time.Second,
		LoginCompletion: 3 * time.Minute,
		NetworkIdle:     15 * time.Second,
		ExportButton:    15 * time.Second,
		Download:        30 * time.Second,
		Probe:           2 * time.Second,
		Screenshot:      10 * time.Second,
		DateRange:       5 * time.Second,
	}
}

// Config is the resolved exporter configuration.
type Config struct {
	Credentials  Credentials
	KeepSignedIn bool
	Headless     bool

	BaseURL       string
	DownloadDir   string
	SessionFile   string
	ScreenshotDir string
	BrowserPath   string
	ProfilePath   string
	// HistoryDB is the export ledger path; empty disables it.
	HistoryDB string

	Timeouts Timeouts
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		KeepSignedIn:  true,
		BaseURL:       DefaultBaseURL,
		DownloadDir:   DefaultDownloadDir,
		SessionFile:   DefaultSessionFile,
		ScreenshotDir: DefaultScreenshotDir,
		HistoryDB:     DefaultHistoryDB,
		Timeouts:      DefaultTimeouts(),
	}
}

// Load reads envFiles (".env" when none are given) into the process
// environment without overriding variables already set, then builds the
// configuration from the environment. Missing env files are not an error.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, serrors.ConfigInvalid(f, "could not be parsed: "+err.Error())
		}
	}
	return FromEnv(os.LookupEnv), nil
}

// FromEnv builds a configuration from lookup, starting from Default.
func FromEnv(lookup func(string) (string, bool)) *Config {
	cfg := Default()
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	cfg.Credentials = Credentials{Username: get(EnvUsername), Password: get(EnvPassword)}
	// Only the literal "false" disables KEEP_SIGNED_IN and only "true" enables HEADLESS.
	cfg.KeepSignedIn = get(EnvKeepSignedIn) != "false"
	cfg.Headless = get(EnvHeadless) == "true"

	setIf(&cfg.BaseURL, get(EnvBaseURL))
	setIf(&cfg.DownloadDir, get(EnvDownloadDir))
	setIf(&cfg.SessionFile, get(EnvSessionFile))
	setIf(&cfg.ScreenshotDir, get(EnvScreenshotDir))
	setIf(&cfg.BrowserPath, get(EnvBrowser))
	setIf(&cfg.ProfilePath, get(EnvProfile))
	if v, ok := lookup(EnvHistoryDB); ok {
		cfg.HistoryDB = strings.TrimSpace(v)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return cfg
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Validate checks the settings every command needs. Credentials are checked
// later, only when a login is actually attempted.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return serrors.ConfigInvalid(EnvBaseURL, "must be an absolute http(s) URL")
	}
	if c.DownloadDir == "" {
		return serrors.ConfigInvalid(EnvDownloadDir, "must not be empty")
	}
	if c.SessionFile == "" {
		return serrors.ConfigInvalid(EnvSessionFile, "must not be empty")
	}
	if c.Timeouts.LoginCompletion < c.Timeouts.MFAProbe {
		return serrors.ConfigInvalid("login completion timeout", "must not be shorter than the MFA probe window")
	}
	return nil
}
