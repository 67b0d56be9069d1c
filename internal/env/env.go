// Package env composes the environment handed to the backend child.
package env

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type Var map[string]string

// Env layers environment sources. Later layers override earlier ones:
// OS environment, env files (in order), Var, then per-launch entries.
type Env struct {
	Var   Var
	Files []string
	NoOS  bool // start from an empty base instead of os.Environ

	base Var
}

func New() *Env {
	return &Env{Var: make(Var)}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	e.base = Parse(os.Environ())
}

func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

func (e *Env) Unset(k string) {
	delete(e.Var, k)
}

// Merge composes the final KEY=VALUE list for one launch and expands
// ${VAR} references against the composed map. Output is sorted by key.
func (e *Env) Merge(perLaunch []string) ([]string, error) {
	m := make(Var)
	if !e.NoOS {
		if e.base == nil {
			e.FromOS()
		}
		for k, v := range e.base {
			m[k] = v
		}
	}
	for _, p := range e.Files {
		pairs, err := LoadFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for k, v := range e.Var {
		if k != "" {
			m[k] = v
		}
	}
	for k, v := range Parse(perLaunch) {
		m[k] = v
	}

	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+os.Expand(v, func(name string) string { return m[name] }))
	}
	sort.Strings(out)
	return out, nil
}

// Parse converts KEY=VALUE entries into a map, skipping malformed ones.
func Parse(kvs []string) Var {
	m := make(Var, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		m[k] = v
	}
	return m
}

// LoadFile parses a simple .env file with KEY=VALUE lines. Blank lines and
// lines starting with # are ignored; an "export " prefix is tolerated.
func LoadFile(path string) (Var, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	m := make(Var)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		m[k] = strings.Trim(strings.TrimSpace(v), `"'`)
	}
	return m, nil
}
