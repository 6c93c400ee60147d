package supervisor

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/loykin/jwrapper/internal/logger"
)

// fileAttempts bounds the retries on the status and command files.
const fileAttempts = 10

// ErrLockHeld is returned when another wrapper owns the lock file.
var ErrLockHeld = errors.New("supervisor: lock file is held by another process")

// InstanceLock keeps a second wrapper from running with the same lock file.
type InstanceLock struct {
	fl *flock.Flock
}

// AcquireLock takes the lock at path without waiting. An empty path returns a
// nil lock, which is safe to Release.
func AcquireLock(path string) (*InstanceLock, error) {
	if path == "" {
		return nil, nil
	}
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLockHeld, path)
	}
	return &InstanceLock{fl: fl}, nil
}

// Release unlocks and removes the lock file.
func (l *InstanceLock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	err := l.fl.Unlock()
	_ = os.Remove(l.fl.Path())
	return err
}

// writeStateFile replaces path with state. Readers coordinate through an
// advisory lock next to the file; a busy lock or a failed write is retried
// before a warning is logged.
func (s *Supervisor) writeStateFile(path, state string) {
	if path == "" {
		return
	}
	var err error
	for attempt := 0; attempt < fileAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(s.retryDelay)
		}
		if err = writeLocked(path, []byte(state+"\n")); err == nil {
			return
		}
	}
	s.logf(logger.LevelWarn, "Unable to write to the status file: %s", path)
	s.debugf("  %v", err)
}

func writeLocked(path string, data []byte) error {
	fl := flock.New(path + ".lck")
	ok, err := fl.TryLock()
	if err != nil {
		return err
	}
	if !ok {
		return ErrLockHeld
	}
	defer func() { _ = fl.Unlock() }()
	return os.WriteFile(path, data, 0o644)
}

// ReadStateFile returns the state name stored at path.
func ReadStateFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// writePIDFile records the wrapper's own pid.
func (s *Supervisor) writePIDFile() {
	path := s.cfg.Wrapper.PIDFile
	if path == "" {
		return
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		s.logf(logger.LevelError, "Unable to write the Wrapper PID file: %s", path)
		s.debugf("  %v", err)
	}
}

func (s *Supervisor) removePIDFile() {
	if path := s.cfg.Wrapper.PIDFile; path != "" {
		_ = os.Remove(path)
	}
}
