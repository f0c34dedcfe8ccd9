package registry

import "veogen/internal/state"

// ReasonWorkerDied is the synthesized error message for sessions whose
// worker process disappeared before writing a terminal state.
const ReasonWorkerDied = "worker process terminated unexpectedly"

// Liveness answers whether a worker process still exists.
type Liveness interface {
	IsAlive(pid int) bool
}

// Registry derives the status callers should see by reconciling a stored
// record with live process state. It never mutates the record: while a
// session is active the owning worker is the record's only writer, and a
// crashed worker's record stays as-is until an explicit cleanup.
type Registry struct {
	procs Liveness
}

func New(procs Liveness) *Registry {
	return &Registry{procs: procs}
}

// View is a session snapshot paired with its reconciled status.
type View struct {
	Session   *state.Session
	Effective state.Status
	// Reason is set only when Effective was synthesized rather than read
	// from the record.
	Reason string
}

// InFlight reports whether the session still has a live worker attached.
func (v View) InFlight() bool {
	return !v.Effective.Terminal()
}

// Resolve computes the effective view of one session. Terminal stored
// statuses pass through untouched; a non-terminal record whose process is
// dead is reported as failed without rewriting the file.
func (r *Registry) Resolve(sess *state.Session) View {
	if sess.Status.Terminal() {
		return View{Session: sess, Effective: sess.Status}
	}
	if r.procs.IsAlive(sess.PID) {
		return View{Session: sess, Effective: sess.Status}
	}
	return View{Session: sess, Effective: state.StatusFailed, Reason: ReasonWorkerDied}
}

// ResolveAll maps Resolve over a listing, preserving order.
func (r *Registry) ResolveAll(sessions []*state.Session) []View {
	views := make([]View, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, r.Resolve(sess))
	}
	return views
}
