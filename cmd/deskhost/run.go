package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/deskhost"
	"github.com/loykin/deskhost/internal/logger"
)

const serverShutdownTimeout = 3 * time.Second

// runHost boots the backend, serves the bridge and blocks until the shutdown
// sequence has finished. onReady, when set, receives the bound bridge address.
func runHost(ctx context.Context, flags RunFlags, out io.Writer, onReady func(addr string)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if flags.ConfigPath == "" {
		return fmt.Errorf("config file required for run command. Use --config=deskhost.toml or provide as argument")
	}
	cfg, err := deskhost.LoadConfig(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if flags.Listen != "" {
		cfg.Bridge.Listen = flags.Listen
	}

	log, logCloser := hostLogger(cfg)
	defer func() { _ = logCloser.Close() }()

	rt := deskhost.NewHeadlessRuntime(context.WithoutCancel(ctx))
	h, err := deskhost.NewHost(cfg, deskhost.Options{DevMode: flags.Dev, Runtime: rt, Logger: log})
	if err != nil {
		return err
	}
	defer func() { _ = h.Close() }()

	gin.SetMode(gin.ReleaseMode)
	srv, err := h.Serve()
	if err != nil {
		return fmt.Errorf("failed to start bridge on %s: %w", cfg.Bridge.Listen, err)
	}
	_, _ = fmt.Fprintf(out, "deskhost bridge listening on http://%s%s (dev=%t)\n", srv.Addr(), cfg.Bridge.BasePath, h.DevMode())
	if onReady != nil {
		onReady(srv.Addr())
	}

	h.Boot(rt.Context())

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var serveErr error
	select {
	case <-sigCtx.Done():
		h.Dispatch(deskhost.Event{Kind: deskhost.EventExitRequested})
	case err, ok := <-srv.Err():
		if ok && err != nil {
			serveErr = fmt.Errorf("bridge server: %w", err)
			log.Error("bridge server failed", "error", err)
		}
		h.Shutdown("bridge stopped")
	case <-h.ShutdownDone():
	}
	<-h.ShutdownDone()

	sctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn("bridge shutdown", "error", err)
	}
	_, _ = fmt.Fprintln(out, "deskhost stopped")
	return serveErr
}

// hostLogger builds the process-wide logger. Color is dropped when stderr is
// not a terminal, as when the app is launched from a desktop shortcut.
func hostLogger(cfg *deskhost.Config) (*slog.Logger, io.Closer) {
	lc := cfg.Log
	if fi, err := os.Stderr.Stat(); err == nil && fi.Mode()&os.ModeCharDevice == 0 {
		lc.Color = false
	}
	l, c := logger.New(lc)
	slog.SetDefault(l)
	return l, c
}
