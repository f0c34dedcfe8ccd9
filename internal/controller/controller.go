// Package controller is the orchestration facade over the state store, the
// process supervisor, and the session registry. It is the only component
// the operation surface talks to.
package controller

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"veogen/internal/registry"
	"veogen/internal/safepath"
	"veogen/internal/state"
	"veogen/internal/supervisor"
)

// ErrSpawn is returned when the worker process could not be launched. The
// session record is marked failed rather than left dangling in `starting`.
var ErrSpawn = errors.New("failed to spawn worker process")

// ProcessManager is the slice of the supervisor the controller needs.
type ProcessManager interface {
	Spawn(spec supervisor.SpawnSpec) (int, error)
	IsAlive(pid int) bool
	Terminate(pid int, grace time.Duration) (killed bool, err error)
	LogPath(sessionID string) string
}

// Options configures a Controller.
type Options struct {
	// DownloadsRoot is the directory holding per-session download dirs.
	DownloadsRoot string
	// WorkerEnv is extra environment passed to spawned workers, the
	// channel for credentials (never argv).
	WorkerEnv []string
	// CancelGrace is how long Cancel waits after SIGTERM before SIGKILL.
	CancelGrace time.Duration
}

type Controller struct {
	store *state.Store
	procs ProcessManager
	reg   *registry.Registry
	opts  Options
	now   func() time.Time
}

func New(store *state.Store, procs ProcessManager, opts Options) *Controller {
	if opts.CancelGrace <= 0 {
		opts.CancelGrace = 5 * time.Second
	}
	return &Controller{
		store: store,
		procs: procs,
		reg:   registry.New(procs),
		opts:  opts,
		now:   time.Now,
	}
}

// StartResult is what Start reports back to the caller.
type StartResult struct {
	SessionID string       `json:"session_id"`
	Status    state.Status `json:"status"`
	PID       int          `json:"pid"`
}

// Start creates the session record, spawns its worker, and records the
// worker PID. The worker reads its parameters from its own state record;
// argv carries only the session ID and the state directory.
func (c *Controller) Start(params state.Params) (*StartResult, error) {
	id := state.NewID()
	now := c.now().UTC()
	sess := &state.Session{
		ID:        id,
		Status:    state.StatusStarting,
		Params:    params,
		Progress:  "initializing worker",
		StartedAt: now,
	}
	if err := c.store.Create(sess); err != nil {
		return nil, err
	}

	pid, err := c.procs.Spawn(supervisor.SpawnSpec{
		SessionID: id,
		Args:      []string{"worker", "--session-id", id, "--state-dir", c.store.Dir()},
		Env:       c.opts.WorkerEnv,
	})
	if err != nil {
		failure := &state.Failure{Stage: "spawn", Message: err.Error()}
		if _, uerr := c.store.Update(id, func(s *state.Session) error {
			if terr := s.Transition(state.StatusFailed, c.now()); terr != nil {
				return terr
			}
			s.Error = failure
			return nil
		}); uerr != nil {
			slog.Error("failed to mark unspawnable session failed", "session", id, "err", uerr)
		}
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	// Last-writer-wins with the worker's starting->running transition:
	// Update re-reads the latest snapshot, so the overlap window is the
	// single read-modify-write below.
	sess, err = c.store.Update(id, func(s *state.Session) error {
		s.PID = pid
		if s.Status == state.StatusStarting {
			s.Progress = "worker started"
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record worker pid: %w", err)
	}

	slog.Info("generation session started", "session", id, "pid", pid)
	return &StartResult{SessionID: id, Status: sess.Status, PID: pid}, nil
}

// Check returns the reconciled view of one session.
func (c *Controller) Check(sessionID string) (registry.View, error) {
	sess, err := c.store.Read(sessionID)
	if err != nil {
		return registry.View{}, err
	}
	return c.reg.Resolve(sess), nil
}

// List returns reconciled views of all sessions, ordered by StartedAt
// ascending. With activeOnly, sessions whose effective status is terminal
// are filtered out.
func (c *Controller) List(activeOnly bool) ([]registry.View, error) {
	sessions, err := c.store.List()
	if err != nil {
		return nil, err
	}
	views := c.reg.ResolveAll(sessions)
	if !activeOnly {
		return views, nil
	}
	active := views[:0]
	for _, v := range views {
		if v.InFlight() {
			active = append(active, v)
		}
	}
	return active, nil
}

// CancelResult reports how a cancellation went.
type CancelResult struct {
	SessionID string `json:"session_id"`
	// Killed is true when the worker ignored SIGTERM and had to be killed.
	Killed bool `json:"killed"`
}

// Cancel asks the session's worker to stop. The worker writes the
// `cancelled` terminal state itself; if it had to be force-killed, the
// registry reports the gap as an effective failure on the next Check.
func (c *Controller) Cancel(sessionID string) (*CancelResult, error) {
	view, err := c.Check(sessionID)
	if err != nil {
		return nil, err
	}
	if !view.InFlight() {
		return nil, fmt.Errorf("session %s is %s: %w", sessionID, view.Effective, state.ErrInvalidState)
	}
	if view.Session.PID <= 0 {
		return nil, fmt.Errorf("session %s has no worker process recorded: %w", sessionID, state.ErrInvalidState)
	}

	killed, err := c.procs.Terminate(view.Session.PID, c.opts.CancelGrace)
	if err != nil {
		return nil, fmt.Errorf("terminate worker %d: %w", view.Session.PID, err)
	}
	slog.Info("cancel requested", "session", sessionID, "pid", view.Session.PID, "killed", killed)
	return &CancelResult{SessionID: sessionID, Killed: killed}, nil
}

// Cleanup deletes state records, worker logs, and download directories for
// sessions older than olderThan. A session with a live worker is never
// deleted regardless of age. With completedOnly, only sessions whose stored
// status is terminal qualify; without it, dead stale sessions past the
// threshold are reclaimed too (the healing pass for crashed workers).
func (c *Controller) Cleanup(olderThan time.Duration, completedOnly bool) (int, error) {
	sessions, err := c.store.List()
	if err != nil {
		return 0, err
	}
	cutoff := c.now().Add(-olderThan)

	cleaned := 0
	for _, sess := range sessions {
		view := c.reg.Resolve(sess)
		if view.InFlight() {
			continue
		}
		if completedOnly && !sess.Status.Terminal() {
			continue
		}

		ref := sess.StartedAt
		if sess.CompletedAt != nil {
			ref = *sess.CompletedAt
		}
		if ref.After(cutoff) {
			continue
		}

		c.removeArtifacts(sess.ID)
		if err := c.store.Delete(sess.ID); err != nil && !errors.Is(err, state.ErrNotFound) {
			slog.Warn("failed to delete session record", "session", sess.ID, "err", err)
			continue
		}
		slog.Info("cleaned up session", "session", sess.ID, "status", sess.Status)
		cleaned++
	}
	return cleaned, nil
}

// removeArtifacts deletes the per-session downloads dir and worker log.
// The downloads dir is validated against the downloads root before the
// recursive delete.
func (c *Controller) removeArtifacts(sessionID string) {
	if c.opts.DownloadsRoot != "" {
		dir := filepath.Join(c.opts.DownloadsRoot, sessionID)
		if resolved, err := safepath.WithinRoot(c.opts.DownloadsRoot, dir); err == nil {
			if err := os.RemoveAll(resolved); err != nil {
				slog.Warn("failed to remove downloads dir", "session", sessionID, "err", err)
			}
		}
	}
	if logPath := c.procs.LogPath(sessionID); logPath != "" {
		if err := os.Remove(logPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("failed to remove worker log", "session", sessionID, "err", err)
		}
	}
}
