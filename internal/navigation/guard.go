// Package navigation decides whether a URL the webview is about to load
// stays inside the app or is handed to the system browser.
package navigation

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/pkg/browser"
)

// ErrExternalOpenFailed wraps failures of the external opener.
var ErrExternalOpenFailed = errors.New("external open failed")

var (
	DefaultInternalSchemes = []string{"tauri", "asset", "file"}
	DefaultLoopbackHosts   = []string{"127.0.0.1", "localhost", "::1"}
)

// Policy lists what counts as internal. Empty fields take the defaults.
type Policy struct {
	InternalSchemes []string `mapstructure:"internal_schemes" json:"internal_schemes"`
	LoopbackHosts   []string `mapstructure:"loopback_hosts" json:"loopback_hosts"`
}

func (p Policy) withDefaults() Policy {
	if len(p.InternalSchemes) == 0 {
		p.InternalSchemes = DefaultInternalSchemes
	}
	if len(p.LoopbackHosts) == 0 {
		p.LoopbackHosts = DefaultLoopbackHosts
	}
	return p
}

// Allow reports whether u may load inside the webview.
func (p Policy) Allow(u *url.URL) bool {
	if u == nil {
		return false
	}
	p = p.withDefaults()
	scheme := strings.ToLower(u.Scheme)
	for _, s := range p.InternalSchemes {
		if scheme == strings.ToLower(s) {
			return true
		}
	}
	if scheme != "http" && scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range p.LoopbackHosts {
		if host == strings.ToLower(strings.Trim(h, "[]")) {
			return true
		}
	}
	return false
}

// AllowInternal applies the default policy.
func AllowInternal(u *url.URL) bool { return Policy{}.Allow(u) }

// Opener hands a URL to something outside the app.
type Opener interface {
	Open(rawURL string) error
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(rawURL string) error

func (f OpenerFunc) Open(rawURL string) error { return f(rawURL) }

// BrowserOpener opens URLs in the system default browser.
type BrowserOpener struct{}

func (BrowserOpener) Open(rawURL string) error { return browser.OpenURL(rawURL) }

// Guard intercepts navigations.
type Guard struct {
	policy Policy
	opener Opener
	log    *slog.Logger
}

func NewGuard(policy Policy, opener Opener, log *slog.Logger) *Guard {
	if opener == nil {
		opener = BrowserOpener{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Guard{policy: policy.withDefaults(), opener: opener, log: log.With("component", "navigation")}
}

// Intercept returns true when the navigation may proceed. Denied URLs are
// passed to the opener; open failures are logged, never returned.
func (g *Guard) Intercept(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		g.log.Warn("blocked unparsable navigation", "url", rawURL, "error", err)
		return false
	}
	if g.policy.Allow(u) {
		return true
	}
	if err := g.openExternal(u.String()); err != nil {
		g.log.Warn("could not open external url", "url", u.String(), "error", err)
	}
	return false
}

func (g *Guard) openExternal(rawURL string) error {
	if err := g.opener.Open(rawURL); err != nil {
		return fmt.Errorf("%w: %v", ErrExternalOpenFailed, err)
	}
	g.log.Debug("opened external url", "url", rawURL)
	return nil
}

// Policy returns the effective policy.
func (g *Guard) Policy() Policy { return g.policy }
