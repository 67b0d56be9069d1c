// Package notify shows desktop notifications through beeep.
package notify

import (
	"log/slog"

	"github.com/gen2brain/beeep"
)

// Config toggles desktop notifications.
type Config struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	AppName string `mapstructure:"app_name" json:"app_name"`
}

type sendFunc func(title, message string, icon any) error

// Desktop sends notifications titled with the app name. A disabled
// Desktop drops everything.
type Desktop struct {
	cfg  Config
	send sendFunc
	log  *slog.Logger
}

func New(cfg Config, log *slog.Logger) *Desktop {
	if cfg.AppName == "" {
		cfg.AppName = "deskhost"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Desktop{cfg: cfg, send: beeep.Notify, log: log.With("component", "notify")}
}

// Send shows one notification. The empty icon lets beeep pick the
// platform default.
func (d *Desktop) Send(message string) error {
	if d == nil || !d.cfg.Enabled {
		return nil
	}
	d.log.Debug("sending notification", "title", d.cfg.AppName, "message", message)
	err := d.send(d.cfg.AppName, message, "")
	if err != nil {
		d.log.Warn("notification failed", "error", err)
	}
	return err
}

// BackendFailed notifies that the backend could not be started or died.
func (d *Desktop) BackendFailed(reason string) error {
	return d.Send("Backend unavailable: " + reason)
}
