package runs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rogpeppe/go-internal/lockedfile"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/a5c-ai/babysitter/pkg/logger"
)

// Owner describes the process currently driving a run.
type Owner struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

// Alive reports whether the owning process is still running. Owners on
// other hosts cannot be checked and are assumed alive.
func (o *Owner) Alive() bool {
	if o == nil {
		return false
	}
	if hostname, _ := os.Hostname(); o.Hostname != "" && o.Hostname != hostname {
		return true
	}
	found, _ := process.PidExists(int32(o.PID))
	return found
}

// Locker serialises the processes driving a run through per-run lock files.
type Locker struct {
	dir string
}

// NewLocker creates a locker whose lock files live in dir.
func NewLocker(dir string) (*Locker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create lock directory")
	}
	return &Locker{dir: dir}, nil
}

func (l *Locker) lockPath(runID string) string {
	return filepath.Join(l.dir, fmt.Sprintf("run-%s.lock", runID))
}

func (l *Locker) ownerPath(runID string) string {
	return filepath.Join(l.dir, fmt.Sprintf("run-%s.owner", runID))
}

// Lock blocks until the run's lock is held and returns the release function.
func (l *Locker) Lock(runID string) (func(), error) {
	unlock, err := lockedfile.MutexAt(l.lockPath(runID)).Lock()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to lock run %s", runID)
	}

	hostname, _ := os.Hostname()
	owner, err := json.Marshal(Owner{PID: os.Getpid(), Hostname: hostname, AcquiredAt: time.Now().UTC()})
	if err == nil {
		err = lockedfile.Write(l.ownerPath(runID), bytes.NewReader(owner), 0o644)
	}
	if err != nil {
		logger.G(nil).WithError(err).WithField("run_id", runID).Warn("failed to record run lock owner")
	}

	return func() {
		if err := os.Remove(l.ownerPath(runID)); err != nil && !os.IsNotExist(err) {
			logger.G(nil).WithError(err).WithField("run_id", runID).Warn("failed to remove run lock owner")
		}
		unlock()
	}, nil
}

// Owner returns the holder of the run's lock, or nil when nobody holds it.
func (l *Locker) Owner(runID string) (*Owner, error) {
	data, err := lockedfile.Read(l.ownerPath(runID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read lock owner of run %s", runID)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var owner Owner
	if err := json.Unmarshal(data, &owner); err != nil {
		return nil, errors.Wrapf(err, "failed to decode lock owner of run %s", runID)
	}
	return &owner, nil
}

// Remove deletes the lock files of a run that is no longer driven.
func (l *Locker) Remove(runID string) error {
	for _, path := range []string{l.ownerPath(runID), l.lockPath(runID)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "failed to remove %s", path)
		}
	}
	return nil
}
