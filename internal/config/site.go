package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cantalupo555/simplifi-exporter/internal/browser"
	serrors "github.com/cantalupo555/simplifi-exporter/internal/errors"
	"github.com/cantalupo555/simplifi-exporter/internal/probe"
)

//go:embed default_site.yaml
var defaultSite []byte

// LoginForm holds the login form locators, relative to the auth frame.
type LoginForm struct {
	Identifier   browser.Locator `yaml:"identifier"`
	Continue     browser.Locator `yaml:"continue"`
	Password     browser.Locator `yaml:"password"`
	KeepSignedIn browser.Locator `yaml:"keep_signed_in"`
	Submit       browser.Locator `yaml:"submit"`
}

// ExportControls describes the CSV export trigger.
type ExportControls struct {
	Button   browser.Locator `yaml:"button"`
	Prefix   string          `yaml:"prefix"`
	Keywords []string        `yaml:"keywords"`
}

// DateRangeControls are the transaction list's date filter controls.
type DateRangeControls struct {
	Toggle browser.Locator `yaml:"toggle"`
	Start  browser.Locator `yaml:"start"`
	End    browser.Locator `yaml:"end"`
	Apply  browser.Locator `yaml:"apply"`
}

// Site is the page profile of the target application.
type Site struct {
	TransactionsPath string            `yaml:"transactions_path"`
	AuthFrame        string            `yaml:"auth_frame"`
	Login            LoginForm         `yaml:"login"`
	LoggedIn         []probe.Probe     `yaml:"logged_in"`
	Fallback         []probe.Probe     `yaml:"fallback"`
	MFA              []probe.Probe     `yaml:"mfa"`
	Export           ExportControls    `yaml:"export"`
	DateRange        DateRangeControls `yaml:"date_range"`
	IgnoreHosts      []string          `yaml:"ignore_hosts"`
}

// DefaultSite returns the embedded profile.
func DefaultSite() *Site {
	s, err := ParseSite(defaultSite)
	if err != nil {
		panic(fmt.Sprintf("embedded site profile: %v", err))
	}
	return s
}

// LoadSite reads a profile from path, or the embedded one when path is empty.
func LoadSite(path string) (*Site, error) {
	if path == "" {
		return DefaultSite(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, serrors.ConfigInvalid(EnvProfile, fmt.Sprintf("could not be read: %v", err))
	}
	return ParseSite(data)
}

// ParseSite decodes and validates a profile. Login locators and MFA probes
// without an explicit frame are scoped to the auth frame.
func ParseSite(data []byte) (*Site, error) {
	var s Site
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, serrors.ConfigInvalid("site profile", fmt.Sprintf("is not valid YAML: %v", err))
	}
	s.scope()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Site) scope() {
	for _, l := range []*browser.Locator{
		&s.Login.Identifier, &s.Login.Continue, &s.Login.Password,
		&s.Login.KeepSignedIn, &s.Login.Submit,
	} {
		if l.Frame == "" && !l.IsZero() {
			l.Frame = s.AuthFrame
		}
	}
	for i := range s.MFA {
		if s.MFA[i].Frame == "" && s.MFA[i].Kind() != probe.KindTitle && s.MFA[i].Kind() != probe.KindURL {
			s.MFA[i].Frame = s.AuthFrame
		}
	}
}

// Validate reports the first missing required entry.
func (s *Site) Validate() error {
	required := []struct {
		key string
		ok  bool
	}{
		{"transactions_path", s.TransactionsPath != ""},
		{"auth_frame", s.AuthFrame != ""},
		{"login.identifier", !s.Login.Identifier.IsZero()},
		{"login.continue", !s.Login.Continue.IsZero()},
		{"login.password", !s.Login.Password.IsZero()},
		{"login.submit", !s.Login.Submit.IsZero()},
		{"logged_in", len(s.LoggedIn) > 0},
		{"export.button", !s.Export.Button.IsZero()},
		{"export.prefix", s.Export.Prefix != ""},
	}
	for _, r := range required {
		if !r.ok {
			return serrors.ConfigInvalid("site profile "+r.key, "is required")
		}
	}
	for _, group := range [][]probe.Probe{s.LoggedIn, s.Fallback, s.MFA} {
		for _, p := range group {
			if p.Kind() == probe.KindInvalid {
				return serrors.ConfigInvalid("site profile probe "+p.Label(), "has no locator, title or url")
			}
		}
	}
	return nil
}

// AuthFrameLocator locates the embedded login document.
func (s *Site) AuthFrameLocator() browser.Locator {
	return browser.Locator{CSS: s.AuthFrame}
}

// TransactionsURL joins baseURL with the transactions path.
func (s *Site) TransactionsURL(baseURL string) string {
	return baseURL + s.TransactionsPath
}
