package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"

	"github.com/loykin/deskhost/internal/config"
	"github.com/loykin/deskhost/internal/navigation"
)

type checkResult struct {
	URL      string `json:"url" yaml:"url"`
	Internal bool   `json:"internal" yaml:"internal"`
	Opened   bool   `json:"opened,omitempty" yaml:"opened,omitempty"`
}

// runCheckURL applies the navigation policy from the config (or the default
// policy) to rawURL. With Open set, external URLs go to the system browser.
func runCheckURL(flags CheckURLFlags, rawURL string, out io.Writer) error {
	return checkURL(flags, rawURL, out, navigation.BrowserOpener{})
}

func checkURL(flags CheckURLFlags, rawURL string, out io.Writer, opener navigation.Opener) error {
	if err := validateOutput(flags.Output); err != nil {
		return err
	}
	if _, err := url.Parse(rawURL); err != nil {
		return fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	var policy navigation.Policy
	if flags.ConfigPath != "" {
		cfg, err := config.Load(flags.ConfigPath)
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		policy = cfg.Navigation
	}

	res := checkResult{URL: rawURL}
	if flags.Open {
		var failed error
		g := navigation.NewGuard(policy, navigation.OpenerFunc(func(u string) error {
			failed = opener.Open(u)
			return failed
		}), slog.New(slog.DiscardHandler))
		res.Internal = g.Intercept(rawURL)
		if !res.Internal {
			if failed != nil {
				return fmt.Errorf("%w: %v", navigation.ErrExternalOpenFailed, failed)
			}
			res.Opened = true
		}
	} else {
		u, _ := url.Parse(rawURL)
		res.Internal = policy.Allow(u)
	}

	if done, err := printStructured(out, flags.Output, res); done {
		return err
	}
	where := "external (system browser)"
	if res.Internal {
		where = "internal (webview)"
	}
	_, err := fmt.Fprintf(out, "%s: %s\n", rawURL, where)
	return err
}
