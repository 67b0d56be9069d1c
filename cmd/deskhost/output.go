package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/loykin/deskhost/pkg/client"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

func validateOutput(format string) error {
	switch strings.ToLower(format) {
	case "", outputText, outputJSON, outputYAML:
		return nil
	default:
		return fmt.Errorf("unsupported output format %q (text, json, yaml)", format)
	}
}

// printStructured writes v as JSON or YAML. It reports false for text output
// so callers can render their own table.
func printStructured(w io.Writer, format string, v any) (bool, error) {
	switch strings.ToLower(format) {
	case outputJSON:
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return true, err
		}
		_, err = fmt.Fprintln(w, string(b))
		return true, err
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, err
		}
		return true, enc.Close()
	default:
		return false, nil
	}
}

func printStatus(w io.Writer, format string, st client.Status) error {
	if done, err := printStructured(w, format, st); done {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	row := func(k, v string) { _, _ = fmt.Fprintf(tw, "%s\t%s\n", k, v) }
	row("STATE", st.State)
	if st.Mode != "" {
		row("MODE", st.Mode)
	}
	if st.PID > 0 {
		row("PID", fmt.Sprint(st.PID))
	}
	if st.Address != "" {
		row("ADDRESS", st.Address)
	}
	if !st.StartedAt.IsZero() {
		row("UPTIME", time.Since(st.StartedAt).Truncate(time.Second).String())
	}
	row("RESTARTS", fmt.Sprint(st.Restarts))
	if st.Usage != nil {
		row("CPU", fmt.Sprintf("%.1f%%", st.Usage.CPUPercent))
		row("RSS", fmt.Sprintf("%.1f MiB", float64(st.Usage.RSSBytes)/(1<<20)))
	}
	if st.Error != "" {
		row("ERROR", st.Error)
	}
	return tw.Flush()
}

func printHistory(w io.Writer, format string, evs []client.HistoryEvent) error {
	if done, err := printStructured(w, format, evs); done {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tTYPE\tMODE\tPID\tSTATE\tERROR")
	for _, e := range evs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			e.OccurredAt.Local().Format(time.DateTime), e.Type, e.Record.Mode, e.Record.PID, e.Record.State, e.Record.Error)
	}
	return tw.Flush()
}
