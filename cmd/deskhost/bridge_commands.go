package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/loykin/deskhost/pkg/client"
)

func newBridgeClient(f BridgeFlags) *client.Client {
	cfg := client.DefaultConfig()
	if f.APIUrl != "" {
		cfg.BaseURL = f.APIUrl
	}
	if f.APITimeout > 0 {
		cfg.Timeout = f.APITimeout
	}
	return client.New(cfg)
}

func bridgeUnreachable(f BridgeFlags) error {
	url := f.APIUrl
	if url == "" {
		url = client.DefaultConfig().BaseURL
	}
	return fmt.Errorf("deskhost is not reachable at %s. Start it with 'deskhost run'", url)
}

func runStatus(ctx context.Context, flags StatusFlags, out io.Writer) error {
	if err := validateOutput(flags.Output); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	c := newBridgeClient(flags.BridgeFlags)
	if !c.IsReachable(ctx) {
		return bridgeUnreachable(flags.BridgeFlags)
	}
	for {
		st, err := c.Status(ctx, flags.Usage)
		if err != nil {
			return err
		}
		if err := printStatus(out, flags.Output, st); err != nil {
			return err
		}
		if !flags.Watch {
			return nil
		}
		interval := flags.Interval
		if interval <= 0 {
			interval = 2 * time.Second
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
		_, _ = fmt.Fprintln(out)
	}
}

func runRestart(ctx context.Context, flags BridgeFlags, out io.Writer) error {
	if err := validateOutput(flags.Output); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	c := newBridgeClient(flags)
	if !c.IsReachable(ctx) {
		return bridgeUnreachable(flags)
	}
	st, err := c.Restart(ctx)
	if err != nil {
		return fmt.Errorf("restart failed: %w", err)
	}
	return printStatus(out, flags.Output, st)
}

func runHistory(ctx context.Context, flags HistoryFlags, out io.Writer) error {
	if err := validateOutput(flags.Output); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	c := newBridgeClient(flags.BridgeFlags)
	if !c.IsReachable(ctx) {
		return bridgeUnreachable(flags.BridgeFlags)
	}
	evs, err := c.History(ctx, flags.Limit)
	if err != nil {
		return err
	}
	return printHistory(out, flags.Output, evs)
}
