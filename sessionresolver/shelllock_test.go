package sessionresolver

import (
	"os"
	"strconv"
	"testing"
)

func TestShellLocker_BindThenValidReturnsSameSession(t *testing.T) {
	locker := NewShellLocker(t.TempDir())

	bound, valid, err := locker.Bind("shell-1", "session-a")
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if !valid || bound != "session-a" {
		t.Fatalf("bind = (%q, %v), want (session-a, true)", bound, valid)
	}

	sessionID, ok := locker.Valid("shell-1")
	if !ok || sessionID != "session-a" {
		t.Fatalf("Valid = (%q, %v), want (session-a, true)", sessionID, ok)
	}
}

func TestShellLocker_RebindToLiveLockReturnsExistingBinding(t *testing.T) {
	locker := NewShellLocker(t.TempDir())

	if _, _, err := locker.Bind("shell-1", "session-a"); err != nil {
		t.Fatalf("first bind: %v", err)
	}
	bound, valid, err := locker.Bind("shell-1", "session-b")
	if err != nil {
		t.Fatalf("second bind: %v", err)
	}
	if !valid || bound != "session-a" {
		t.Fatalf("rebind returned (%q, %v), want the original live binding (session-a, true)", bound, valid)
	}
}

func TestShellLocker_ValidIsFalseForUnknownSession(t *testing.T) {
	locker := NewShellLocker(t.TempDir())
	if _, ok := locker.Valid("never-bound"); ok {
		t.Fatal("expected Valid=false for a shell session id never bound")
	}
}

func TestShellLocker_UnbindClearsBinding(t *testing.T) {
	locker := NewShellLocker(t.TempDir())
	if _, _, err := locker.Bind("shell-1", "session-a"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := locker.Unbind("shell-1"); err != nil {
		t.Fatalf("unbind: %v", err)
	}
	if _, ok := locker.Valid("shell-1"); ok {
		t.Fatal("expected no live binding after Unbind")
	}
	if err := locker.Unbind("shell-1"); err != nil {
		t.Fatalf("unbind of an already-cleared binding should be a no-op, got %v", err)
	}
}

func TestShellLocker_ReclaimsLockFromDeadProcess(t *testing.T) {
	dir := t.TempDir()
	locker := NewShellLocker(dir)

	// Write a lock file owned by a PID that cannot be alive.
	deadPID := 1 << 30
	path := locker.lockPath("shell-1")
	payload := `{"pid":` + strconv.Itoa(deadPID) + `,"session_id":"stale-session","created_at":"2020-01-01T00:00:00Z"}`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("seed stale lock: %v", err)
	}

	bound, valid, err := locker.Bind("shell-1", "fresh-session")
	if err != nil {
		t.Fatalf("bind over stale lock: %v", err)
	}
	if !valid || bound != "fresh-session" {
		t.Fatalf("bind over stale lock = (%q, %v), want (fresh-session, true)", bound, valid)
	}
}

