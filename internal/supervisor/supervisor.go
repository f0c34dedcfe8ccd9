package supervisor

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

// Supervisor spawns and tracks detached worker processes. One worker process
// owns one session; the supervisor never holds on to process handles, so any
// invocation of the tool can check or signal a worker started by another.
type Supervisor struct {
	logDir string
}

// New returns a supervisor that redirects worker output to per-session log
// files under logDir.
func New(logDir string) *Supervisor {
	return &Supervisor{logDir: logDir}
}

// SpawnSpec describes one worker launch. Args must not carry secrets or job
// parameters: anything sensitive travels through Env or the session record,
// never through the process listing.
type SpawnSpec struct {
	SessionID string
	Args      []string
	Env       []string
}

// Spawn re-execs the current binary with spec.Args as a fully detached child
// in its own session, with stdout/stderr captured to the worker log file.
// Returns the child PID.
func (s *Supervisor) Spawn(spec SpawnSpec) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("resolve executable: %w", err)
	}

	if err := os.MkdirAll(s.logDir, 0o755); err != nil {
		return 0, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(s.LogPath(spec.SessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open worker log: %w", err)
	}
	defer logFile.Close()

	child := exec.Command(exe, spec.Args...)
	child.Stdout = logFile
	child.Stderr = logFile
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	child.Env = append(os.Environ(), spec.Env...)

	if err := child.Start(); err != nil {
		return 0, fmt.Errorf("start worker: %w", err)
	}
	pid := child.Process.Pid

	// Drop the handle: the controller exits long before the worker does, so
	// the orphaned worker is reaped by init, not by us.
	_ = child.Process.Release()

	slog.Debug("spawned worker", "session", spec.SessionID, "pid", pid)
	return pid, nil
}

// IsAlive reports whether a process with the given PID exists. A PID the OS
// no longer knows about is dead; anything else (including EPERM) counts as
// alive. Known limitation: a recycled PID can misreport a dead worker as
// alive until the borrowed process exits.
func (s *Supervisor) IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// Signal delivers sig to the process.
func (s *Supervisor) Signal(pid int, sig os.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("signal process %d: %w", pid, err)
	}
	return nil
}

// Wait polls until the process exits or the timeout elapses. Returns true
// if the process exited within the window. The wait is always bounded.
func (s *Supervisor) Wait(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !s.IsAlive(pid) {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return !s.IsAlive(pid)
}

// Terminate asks the process to stop with SIGTERM, waits up to grace for it
// to exit, then escalates to SIGKILL. Returns whether escalation happened.
func (s *Supervisor) Terminate(pid int, grace time.Duration) (killed bool, err error) {
	if err := s.Signal(pid, syscall.SIGTERM); err != nil {
		// Already gone is success from the caller's point of view.
		if !s.IsAlive(pid) {
			return false, nil
		}
		return false, err
	}

	if s.Wait(pid, grace) {
		return false, nil
	}

	slog.Warn("worker did not exit within grace period, killing", "pid", pid, "grace", grace)
	if err := s.Signal(pid, syscall.SIGKILL); err != nil && s.IsAlive(pid) {
		return false, err
	}
	s.Wait(pid, time.Second)
	return true, nil
}

// LogPath returns the worker log file path for a session.
func (s *Supervisor) LogPath(sessionID string) string {
	return filepath.Join(s.logDir, sessionID+".log")
}
