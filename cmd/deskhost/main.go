package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and its subcommands.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	runFlags := &RunFlags{}
	statusFlags := &StatusFlags{}
	restartFlags := &BridgeFlags{}
	historyFlags := &HistoryFlags{}
	checkFlags := &CheckURLFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createRunCommand(globalFlags, runFlags),
		createStatusCommand(statusFlags),
		createRestartCommand(restartFlags),
		createHistoryCommand(historyFlags),
		createCheckURLCommand(globalFlags, checkFlags),
		createVersionCommand(),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "deskhost",
		Short: "Desktop host for a supervised CLI backend",
		Long: `Deskhost runs a desktop app's CLI backend as a supervised child process,
exposes its status to the frontend and keeps navigation inside the app.

Examples:
  deskhost run --config=deskhost.toml   # boot the backend and the bridge
  deskhost status -o yaml               # ask a running host for the backend state
  deskhost restart                      # restart the backend
  deskhost check-url https://example.com`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to config file (TOML or YAML)")
	return root
}

func addBridgeFlags(cmd *cobra.Command, f *BridgeFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "bridge URL of a running host (default http://127.0.0.1:7315)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	cmd.Flags().StringVarP(&f.Output, "output", "o", outputText, "output format: text, json, yaml")
}

func createRunCommand(global *GlobalFlags, flags *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [config.toml]",
		Short: "Boot the backend and serve the frontend bridge",
		Long: `Start the backend in the background, serve the loopback bridge and
stop the backend when the app exits (SIGINT, SIGTERM or POST /exit).

The development invocation is used when built with -tags devbuild,
when DESKHOST_DEV is set, or with --dev.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.ConfigPath = global.ConfigPath
			if len(args) > 0 {
				flags.ConfigPath = args[0]
			}
			return runHost(cmd.Context(), *flags, cmd.OutOrStdout(), nil)
		},
	}
	cmd.Flags().BoolVar(&flags.Dev, "dev", false, "force the development backend invocation")
	cmd.Flags().StringVar(&flags.Listen, "listen", "", "override bridge.listen")
	return cmd
}

func createStatusCommand(flags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the backend status of a running host",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), *flags, cmd.OutOrStdout())
		},
	}
	addBridgeFlags(cmd, &flags.BridgeFlags)
	cmd.Flags().BoolVar(&flags.Usage, "usage", false, "include a CPU/RSS sample")
	cmd.Flags().BoolVarP(&flags.Watch, "watch", "w", false, "poll until interrupted")
	cmd.Flags().DurationVar(&flags.Interval, "interval", 2*time.Second, "poll interval for --watch")
	return cmd
}

func createRestartCommand(flags *BridgeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the backend of a running host",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRestart(cmd.Context(), *flags, cmd.OutOrStdout())
		},
	}
	addBridgeFlags(cmd, flags)
	return cmd
}

func createHistoryCommand(flags *HistoryFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent backend lifecycle events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd.Context(), *flags, cmd.OutOrStdout())
		},
	}
	addBridgeFlags(cmd, &flags.BridgeFlags)
	cmd.Flags().IntVarP(&flags.Limit, "limit", "n", 20, "number of events")
	return cmd
}

func createCheckURLCommand(global *GlobalFlags, flags *CheckURLFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check-url <url>",
		Short: "Report whether a URL stays in the webview or opens externally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.ConfigPath = global.ConfigPath
			return runCheckURL(*flags, args[0], cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&flags.Open, "open", false, "open external URLs in the system browser")
	cmd.Flags().StringVarP(&flags.Output, "output", "o", outputText, "output format: text, json, yaml")
	return cmd
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}
