package sessionresolver

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// shellLockPayload is the JSON structure stored in a shell-sticky lock file.
type shellLockPayload struct {
	PID       int    `json:"pid"`
	SessionID string `json:"session_id"`
	CreatedAt string `json:"created_at"`
}

// ShellLocker binds a shell_session_id to a session id via a PID-liveness
// checked lock file, one per shell session id. A lock whose owning process
// has exited is reclaimed on the next Bind.
type ShellLocker struct {
	dir string
}

// NewShellLocker creates a ShellLocker rooted at dir. Bind creates dir if it
// is absent.
func NewShellLocker(dir string) *ShellLocker {
	return &ShellLocker{dir: dir}
}

func (l *ShellLocker) lockPath(shellSessionID string) string {
	return filepath.Join(l.dir, "shell-session."+shellSessionID+".lock")
}

// Bind associates shellSessionID with sessionID for the life of the current
// process, reclaiming the lock file if its owning process is no longer
// alive. Returns the bound session id (sessionID, unless a live lock already
// binds a different one).
func (l *ShellLocker) Bind(shellSessionID, sessionID string) (boundSessionID string, valid bool, err error) {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return "", false, fmt.Errorf("create shell lock dir: %w", err)
	}
	path := l.lockPath(shellSessionID)

	if existing, ok := l.readLive(path); ok {
		return existing.SessionID, true, nil
	}
	// No live lock: reclaim (if stale) and write ours.
	os.Remove(path)

	payload := shellLockPayload{PID: os.Getpid(), SessionID: sessionID, CreatedAt: time.Now().UTC().Format(time.RFC3339)}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", false, fmt.Errorf("marshal shell lock payload: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", false, fmt.Errorf("write shell lock: %w", err)
	}
	return sessionID, true, nil
}

// Valid reports whether a live binding exists for shellSessionID, without
// creating one.
func (l *ShellLocker) Valid(shellSessionID string) (sessionID string, ok bool) {
	payload, ok := l.readLive(l.lockPath(shellSessionID))
	if !ok {
		return "", false
	}
	return payload.SessionID, true
}

// Unbind removes shellSessionID's lock file. Used by an explicit session
// "end"; stale-process reclaim handles the implicit case.
func (l *ShellLocker) Unbind(shellSessionID string) error {
	err := os.Remove(l.lockPath(shellSessionID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove shell lock: %w", err)
	}
	return nil
}

func (l *ShellLocker) readLive(path string) (shellLockPayload, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return shellLockPayload{}, false
	}
	var payload shellLockPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return shellLockPayload{}, false
	}
	if payload.PID <= 0 || !isProcessAlive(payload.PID) {
		return shellLockPayload{}, false
	}
	return payload, true
}

// isProcessAlive checks process liveness via signal 0.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
