package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/deskhost/internal/env"
	"github.com/loykin/deskhost/internal/history"
	"github.com/loykin/deskhost/internal/logger"
	"github.com/loykin/deskhost/internal/navigation"
	"github.com/loykin/deskhost/internal/notify"
	"github.com/loykin/deskhost/internal/readiness"
	"github.com/loykin/deskhost/internal/supervisor"
)

// EnvPrefix prefixes environment overrides, e.g. DESKHOST_BACKEND_STOP_GRACE.
const EnvPrefix = "DESKHOST"

// Config is the top-level host configuration (TOML by default, YAML by extension).
type Config struct {
	Backend    BackendConfig     `mapstructure:"backend"`
	Bridge     BridgeConfig      `mapstructure:"bridge"`
	Navigation navigation.Policy `mapstructure:"navigation"`
	History    HistoryConfig     `mapstructure:"history"`
	Log        logger.Config     `mapstructure:"log"`
	Notify     notify.Config     `mapstructure:"notify"`
}

type BackendConfig struct {
	Name         string            `mapstructure:"name"`
	WorkDir      string            `mapstructure:"workdir"`
	Env          []string          `mapstructure:"env"`
	EnvFiles     []string          `mapstructure:"env_files"`
	UseOSEnv     bool              `mapstructure:"use_os_env"`
	PIDFile      string            `mapstructure:"pidfile"`
	StopGrace    time.Duration     `mapstructure:"stop_grace"`
	KillWait     time.Duration     `mapstructure:"kill_wait"`
	ReadyTimeout time.Duration     `mapstructure:"ready_timeout"`
	Dev          supervisor.Launch `mapstructure:"dev"`
	Production   supervisor.Launch `mapstructure:"production"`
	Readiness    ReadinessConfig   `mapstructure:"readiness"`
	Log          logger.FileConfig `mapstructure:"log"`
}

// ReadinessConfig selects how the backend announces it is serving. Pattern
// and JSONPath may both be set; the first to match wins.
type ReadinessConfig struct {
	Pattern        string        `mapstructure:"pattern"`
	JSONPath       string        `mapstructure:"json_path"`
	JSONMatchKey   string        `mapstructure:"json_match_key"`
	JSONMatchValue string        `mapstructure:"json_match_value"`
	TCPProbe       bool          `mapstructure:"tcp_probe"`
	Settle         time.Duration `mapstructure:"settle"`
}

type BridgeConfig struct {
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
	Metrics  bool   `mapstructure:"metrics"`
}

type HistoryConfig struct {
	// DSN selects the sink: sqlite path or postgres URL. Empty disables history.
	DSN string `mapstructure:"dsn"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.name", supervisor.DefaultName)
	v.SetDefault("backend.workdir", "")
	v.SetDefault("backend.pidfile", "")
	v.SetDefault("backend.use_os_env", true)
	v.SetDefault("backend.stop_grace", supervisor.DefaultStopGrace)
	v.SetDefault("backend.kill_wait", supervisor.DefaultKillWait)
	v.SetDefault("backend.ready_timeout", supervisor.DefaultReadyTimeout)
	v.SetDefault("backend.dev.command", "")
	v.SetDefault("backend.production.command", "")
	v.SetDefault("backend.readiness.pattern", "")
	v.SetDefault("backend.readiness.json_path", "")
	v.SetDefault("backend.readiness.tcp_probe", false)
	v.SetDefault("backend.readiness.settle", time.Duration(0))
	v.SetDefault("backend.log.dir", "")
	v.SetDefault("bridge.listen", "127.0.0.1:7315")
	v.SetDefault("bridge.base_path", "")
	v.SetDefault("bridge.metrics", true)
	v.SetDefault("history.dsn", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", false)
	v.SetDefault("log.path", "")
	v.SetDefault("notify.enabled", true)
	v.SetDefault("notify.app_name", "deskhost")
}

// Load reads path (optional) and applies DESKHOST_* environment overrides
// on top of the built-in defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			v.SetConfigType("yaml")
		default:
			v.SetConfigType("toml")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	b := c.Backend
	if strings.TrimSpace(b.Dev.Command) == "" && strings.TrimSpace(b.Production.Command) == "" {
		return errors.New("backend: dev.command or production.command is required")
	}
	if b.StopGrace < 0 || b.KillWait < 0 || b.ReadyTimeout < 0 {
		return errors.New("backend: durations must not be negative")
	}
	if b.Readiness.JSONMatchKey != "" && b.Readiness.JSONPath == "" {
		return errors.New("backend.readiness: json_match_key requires json_path")
	}
	if _, err := b.ReadinessConfig(); err != nil {
		return err
	}
	return nil
}

// ReadinessConfig builds the detectors described by the readiness section.
func (b BackendConfig) ReadinessConfig() (readiness.Config, error) {
	rc := readiness.Config{
		Timeout:  b.ReadyTimeout,
		Settle:   b.Readiness.Settle,
		TCPProbe: b.Readiness.TCPProbe,
	}
	if b.Readiness.Pattern != "" {
		d, err := readiness.NewPatternDetector(b.Readiness.Pattern)
		if err != nil {
			return rc, fmt.Errorf("backend.readiness: %w", err)
		}
		rc.Detectors = append(rc.Detectors, d)
	}
	if b.Readiness.JSONPath != "" {
		d := readiness.JSONDetector{Path: b.Readiness.JSONPath}
		if b.Readiness.JSONMatchKey != "" {
			d.Match = &readiness.Field{Key: b.Readiness.JSONMatchKey, Value: b.Readiness.JSONMatchValue}
		}
		rc.Detectors = append(rc.Detectors, d)
	}
	return rc, nil
}

// Environment returns the layered environment for the backend child.
func (b BackendConfig) Environment() *env.Env {
	e := env.New()
	e.NoOS = !b.UseOSEnv
	e.Files = b.EnvFiles
	for k, v := range env.Parse(b.Env) {
		e.Set(k, v)
	}
	return e
}

// SupervisorOptions assembles supervisor.Options from the backend section.
func (c *Config) SupervisorOptions(devMode bool, n supervisor.Notifier, rec *history.Recorder, log *slog.Logger) (supervisor.Options, error) {
	rc, err := c.Backend.ReadinessConfig()
	if err != nil {
		return supervisor.Options{}, err
	}
	b := c.Backend
	dev := b.Dev
	if dev.Command == "" {
		dev = b.Production
	}
	prod := b.Production
	if prod.Command == "" {
		prod = b.Dev
	}
	return supervisor.Options{
		Name:         b.Name,
		Dev:          withDevEnv(dev),
		Production:   prod,
		WorkDir:      b.WorkDir,
		Env:          b.Environment(),
		PIDFile:      b.PIDFile,
		Log:          b.Log,
		StopGrace:    b.StopGrace,
		KillWait:     b.KillWait,
		ReadyTimeout: b.ReadyTimeout,
		Readiness:    rc,
		DefaultDev:   devMode,
		Notifier:     n,
		History:      rec,
		Logger:       log,
	}, nil
}

// withDevEnv marks dev launches so the backend can enable verbose output.
func withDevEnv(l supervisor.Launch) supervisor.Launch {
	l.Env = append([]string{"DESKHOST_BACKEND_MODE=dev"}, l.Env...)
	return l
}
