package process

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Exists reports whether pid is present in the process table and is not a
// zombie awaiting reaping.
func Exists(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := gopsproc.PidExists(int32(pid))
	if err != nil || !ok {
		return false
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	if st, err := p.Status(); err == nil && slices.Contains(st, gopsproc.Zombie) {
		return false
	}
	return true
}

// Usage is a point-in-time resource sample of a running process.
type Usage struct {
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
}

// SampleUsage reads CPU and resident memory for pid.
func SampleUsage(ctx context.Context, pid int) (Usage, error) {
	p, err := gopsproc.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return Usage{}, err
	}
	var u Usage
	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		u.CPUPercent = cpu
	}
	mem, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return u, err
	}
	u.RSSBytes = mem.RSS
	return u, nil
}

// KillStale terminates a backend left behind by a previous host session.
// It acts only when the PID file names a live process whose executable
// matches rec.Executable, and removes the file afterwards. It returns the
// PID it killed, or 0.
func KillStale(pidFile string, grace time.Duration) (int, error) {
	rec, err := ReadPIDFile(pidFile)
	if err != nil {
		return 0, nil
	}
	defer RemovePIDFile(pidFile, rec.PID)
	if !Exists(rec.PID) || !sameExecutable(rec) {
		return 0, nil
	}
	if err := terminate(rec.PID); err != nil && !errors.Is(err, ErrNotFound) {
		return 0, err
	}
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !Exists(rec.PID) {
			return rec.PID, nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err := forceKill(rec.PID); err != nil && !errors.Is(err, ErrNotFound) {
		return 0, err
	}
	return rec.PID, nil
}

func sameExecutable(rec PIDRecord) bool {
	if rec.Executable == "" {
		return false
	}
	p, err := gopsproc.NewProcess(int32(rec.PID))
	if err != nil {
		return false
	}
	want := filepath.Base(rec.Executable)
	if exe, err := p.Exe(); err == nil && filepath.Base(exe) == want {
		return true
	}
	if args, err := p.CmdlineSlice(); err == nil && len(args) > 0 {
		return filepath.Base(args[0]) == want
	}
	return false
}
