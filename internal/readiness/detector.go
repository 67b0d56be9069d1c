// Package readiness decides when a freshly spawned backend is ready to
// serve and which address it bound, by watching its stdout.
package readiness

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// Detector inspects one line of backend output. It returns the bound
// address (possibly empty) and true when the line signals readiness.
// Implementations must be safe for concurrent use.
type Detector interface {
	Observe(line string) (addr string, ready bool)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}

// PatternDetector matches lines against a regular expression. The first
// capture group, when present, is taken as the bound address.
type PatternDetector struct{ re *regexp.Regexp }

func NewPatternDetector(pattern string) (PatternDetector, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return PatternDetector{}, fmt.Errorf("readiness pattern: %w", err)
	}
	return PatternDetector{re: re}, nil
}

func (d PatternDetector) Observe(line string) (string, bool) {
	m := d.re.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	if len(m) > 1 {
		return strings.TrimSpace(m[1]), true
	}
	return "", true
}

func (d PatternDetector) Describe() string { return "pattern:" + d.re.String() }

// JSONDetector matches structured log lines. A line is ready when it is a
// JSON document and Path resolves; the value at Path is the address.
// When Match is set, the document must also carry Match.Key == Match.Value,
// e.g. {"event":"ready","addr":"127.0.0.1:5173"}.
type JSONDetector struct {
	Path  string
	Match *Field
}

type Field struct {
	Key   string
	Value string
}

func (d JSONDetector) Observe(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") || !gjson.Valid(line) {
		return "", false
	}
	if d.Match != nil && gjson.Get(line, d.Match.Key).String() != d.Match.Value {
		return "", false
	}
	v := gjson.Get(line, d.Path)
	if !v.Exists() {
		return "", false
	}
	return v.String(), true
}

func (d JSONDetector) Describe() string { return "json:" + d.Path }
