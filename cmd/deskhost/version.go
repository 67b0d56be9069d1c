package main

import (
	"fmt"
	"io"
	"runtime"

	"github.com/loykin/deskhost/internal/config"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = ""
)

func printVersion(w io.Writer) {
	build := "release"
	if config.IsDevMode() {
		build = "dev"
	}
	v := version
	if commit != "" {
		v += " (" + commit + ")"
	}
	_, _ = fmt.Fprintf(w, "deskhost %s %s/%s %s backend=%s\n", v, runtime.GOOS, runtime.GOARCH, runtime.Version(), build)
}
