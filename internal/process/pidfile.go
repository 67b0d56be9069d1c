package process

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// PIDRecord is persisted next to the backend so a host that crashed can
// find and clean up its orphan on the next boot.
type PIDRecord struct {
	PID        int       `json:"pid"`
	Executable string    `json:"executable"`
	Mode       Mode      `json:"mode"`
	StartedAt  time.Time `json:"started_at"`
}

// WritePIDFile writes the PID on the first line followed by the JSON record.
func WritePIDFile(path string, rec PIDRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	data := strconv.Itoa(rec.PID) + "\n" + string(b) + "\n"
	return os.WriteFile(path, []byte(data), 0o600)
}

// ReadPIDFile reads a file written by WritePIDFile. Files holding only a
// PID are accepted; the returned record then carries just the PID.
func ReadPIDFile(path string) (PIDRecord, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return PIDRecord{}, err
	}
	pidLine, rest, _ := strings.Cut(string(b), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(pidLine))
	if err != nil {
		return PIDRecord{}, err
	}
	rec := PIDRecord{PID: pid}
	if rest = strings.TrimSpace(rest); rest != "" {
		var full PIDRecord
		if json.Unmarshal([]byte(rest), &full) == nil {
			rec = full
			rec.PID = pid
		}
	}
	return rec, nil
}

// RemovePIDFile removes path only if it still names pid, so a newer
// instance's file is never deleted by an old reaper.
func RemovePIDFile(path string, pid int) {
	rec, err := ReadPIDFile(path)
	if err != nil || rec.PID != pid {
		return
	}
	_ = os.Remove(path)
}
