package controller

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"veogen/internal/state"
	"veogen/internal/supervisor"
)

type fakeProcs struct {
	spawnPID   int
	spawnErr   error
	spawned    []supervisor.SpawnSpec
	alive      map[int]bool
	terminated []int
	killed     bool
	termErr    error
	logDir     string
}

func (f *fakeProcs) Spawn(spec supervisor.SpawnSpec) (int, error) {
	f.spawned = append(f.spawned, spec)
	if f.spawnErr != nil {
		return 0, f.spawnErr
	}
	return f.spawnPID, nil
}

func (f *fakeProcs) IsAlive(pid int) bool { return f.alive[pid] }

func (f *fakeProcs) Terminate(pid int, grace time.Duration) (bool, error) {
	f.terminated = append(f.terminated, pid)
	if f.termErr != nil {
		return false, f.termErr
	}
	delete(f.alive, pid)
	return f.killed, nil
}

func (f *fakeProcs) LogPath(sessionID string) string {
	if f.logDir == "" {
		return ""
	}
	return filepath.Join(f.logDir, sessionID+".log")
}

func newTestController(t *testing.T, procs *fakeProcs, opts Options) (*Controller, *state.Store) {
	t.Helper()
	st, err := state.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if procs.alive == nil {
		procs.alive = map[int]bool{}
	}
	return New(st, procs, opts), st
}

func seedSession(t *testing.T, st *state.Store, id string, status state.Status, pid int, startedAt time.Time, completedAt *time.Time) {
	t.Helper()
	err := st.Create(&state.Session{
		ID:          id,
		Status:      status,
		Params:      state.Params{Prompt: "p", Model: "veo-3.0-generate-preview", NumberOfVideos: 1},
		PID:         pid,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestStartSpawnsWorkerAndRecordsPID(t *testing.T) {
	t.Parallel()
	procs := &fakeProcs{spawnPID: 4242, alive: map[int]bool{4242: true}}
	ctl, st := newTestController(t, procs, Options{WorkerEnv: []string{"GEMINI_API_KEY=secret"}})

	prompt := "a lighthouse at dusk"
	res, err := ctl.Start(state.Params{Prompt: prompt, Model: "veo-3.0-generate-preview", NumberOfVideos: 1})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.PID != 4242 {
		t.Fatalf("expected pid 4242, got %d", res.PID)
	}

	sess, err := st.Read(res.SessionID)
	if err != nil {
		t.Fatalf("read session: %v", err)
	}
	if sess.PID != 4242 || sess.Params.Prompt != prompt {
		t.Fatalf("unexpected record: %+v", sess)
	}

	if len(procs.spawned) != 1 {
		t.Fatalf("expected 1 spawn, got %d", len(procs.spawned))
	}
	spec := procs.spawned[0]
	if spec.SessionID != res.SessionID {
		t.Fatalf("spawn spec for wrong session: %s", spec.SessionID)
	}
	// argv must carry only routing information, never the parameters or
	// the credential.
	argv := strings.Join(spec.Args, " ")
	if strings.Contains(argv, prompt) || strings.Contains(argv, "secret") {
		t.Fatalf("sensitive data leaked onto argv: %q", argv)
	}
	if !strings.Contains(argv, res.SessionID) || !strings.Contains(argv, st.Dir()) {
		t.Fatalf("argv missing session routing: %q", argv)
	}
	found := false
	for _, kv := range spec.Env {
		if kv == "GEMINI_API_KEY=secret" {
			found = true
		}
	}
	if !found {
		t.Fatal("credential not passed through the environment channel")
	}
}

func TestStartMarksSessionFailedWhenSpawnFails(t *testing.T) {
	t.Parallel()
	procs := &fakeProcs{spawnErr: errors.New("fork: resource temporarily unavailable")}
	ctl, st := newTestController(t, procs, Options{})

	_, err := ctl.Start(state.Params{Prompt: "p", Model: "veo-3.0-generate-preview", NumberOfVideos: 1})
	if !errors.Is(err, ErrSpawn) {
		t.Fatalf("expected ErrSpawn, got %v", err)
	}

	sessions, err := st.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 record, got %d", len(sessions))
	}
	sess := sessions[0]
	if sess.Status != state.StatusFailed {
		t.Fatalf("expected failed record, got %s", sess.Status)
	}
	if sess.Error == nil || sess.Error.Stage != "spawn" {
		t.Fatalf("spawn failure not recorded: %+v", sess.Error)
	}
}

func TestCheckUnknownSession(t *testing.T) {
	t.Parallel()
	ctl, _ := newTestController(t, &fakeProcs{}, Options{})

	if _, err := ctl.Check("gen_nosuch00_1"); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCheckReconcilesDeadWorker(t *testing.T) {
	t.Parallel()
	procs := &fakeProcs{}
	ctl, st := newTestController(t, procs, Options{})
	seedSession(t, st, "gen_dead0001_1", state.StatusRunning, 999, time.Now().UTC(), nil)

	view, err := ctl.Check("gen_dead0001_1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if view.Effective != state.StatusFailed || view.Reason == "" {
		t.Fatalf("expected synthesized failure, got %s (%q)", view.Effective, view.Reason)
	}
	// Stored record stays running; only the view reports failed.
	sess, err := st.Read("gen_dead0001_1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if sess.Status != state.StatusRunning {
		t.Fatalf("record mutated to %s", sess.Status)
	}
}

func TestListActiveOnly(t *testing.T) {
	t.Parallel()
	procs := &fakeProcs{alive: map[int]bool{100: true}}
	ctl, st := newTestController(t, procs, Options{})

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	done := base.Add(time.Minute)
	seedSession(t, st, "gen_list0001_1", state.StatusRunning, 100, base, nil)
	seedSession(t, st, "gen_list0002_1", state.StatusCompleted, 0, base.Add(time.Second), &done)
	seedSession(t, st, "gen_list0003_1", state.StatusRunning, 200, base.Add(2*time.Second), nil) // dead worker

	all, err := ctl.List(false)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(all))
	}

	active, err := ctl.List(true)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].Session.ID != "gen_list0001_1" {
		t.Fatalf("unexpected active set: %+v", active)
	}
}

func TestCancelRunningSession(t *testing.T) {
	t.Parallel()
	procs := &fakeProcs{alive: map[int]bool{100: true}, killed: true}
	ctl, st := newTestController(t, procs, Options{CancelGrace: time.Second})
	seedSession(t, st, "gen_canc0001_1", state.StatusRunning, 100, time.Now().UTC(), nil)

	res, err := ctl.Cancel("gen_canc0001_1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !res.Killed {
		t.Fatal("expected killed=true from stubborn worker")
	}
	if len(procs.terminated) != 1 || procs.terminated[0] != 100 {
		t.Fatalf("unexpected terminate calls: %v", procs.terminated)
	}
}

func TestCancelTerminalSessionIsInvalid(t *testing.T) {
	t.Parallel()
	procs := &fakeProcs{}
	ctl, st := newTestController(t, procs, Options{})
	done := time.Now().UTC()
	seedSession(t, st, "gen_canc0002_1", state.StatusCompleted, 0, done.Add(-time.Minute), &done)

	if _, err := ctl.Cancel("gen_canc0002_1"); !errors.Is(err, state.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if len(procs.terminated) != 0 {
		t.Fatal("no signal may be sent for a terminal session")
	}
	// Cancel must be idempotent in effect: the record is unchanged.
	sess, err := st.Read("gen_canc0002_1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if sess.Status != state.StatusCompleted {
		t.Fatalf("record mutated to %s", sess.Status)
	}
}

func TestCancelDeadWorkerIsInvalid(t *testing.T) {
	t.Parallel()
	procs := &fakeProcs{}
	ctl, st := newTestController(t, procs, Options{})
	seedSession(t, st, "gen_canc0003_1", state.StatusRunning, 999, time.Now().UTC(), nil)

	if _, err := ctl.Cancel("gen_canc0003_1"); !errors.Is(err, state.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for dead worker, got %v", err)
	}
}

func TestCleanupAgeAndLiveness(t *testing.T) {
	t.Parallel()
	downloads := t.TempDir()
	logs := t.TempDir()
	procs := &fakeProcs{alive: map[int]bool{100: true}, logDir: logs}
	ctl, st := newTestController(t, procs, Options{DownloadsRoot: downloads})

	now := time.Now().UTC()
	oldDone := now.Add(-10 * 24 * time.Hour)
	// Completed 10 days ago: eligible.
	seedSession(t, st, "gen_clean001_1", state.StatusCompleted, 0, oldDone.Add(-time.Minute), &oldDone)
	// Running for 30 days with a live worker: protected regardless of age.
	seedSession(t, st, "gen_clean002_1", state.StatusRunning, 100, now.Add(-30*24*time.Hour), nil)
	// Completed yesterday: too young.
	fresh := now.Add(-24 * time.Hour)
	seedSession(t, st, "gen_clean003_1", state.StatusCompleted, 0, fresh.Add(-time.Minute), &fresh)

	// Artifacts that must go with the record.
	artifactDir := filepath.Join(downloads, "gen_clean001_1")
	if err := os.MkdirAll(artifactDir, 0o755); err != nil {
		t.Fatalf("mkdir artifacts: %v", err)
	}
	if err := os.WriteFile(filepath.Join(artifactDir, "veo_gen_clean001_1_0_x.mp4"), []byte("data"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	if err := os.WriteFile(procs.LogPath("gen_clean001_1"), []byte("log"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	cleaned, err := ctl.Cleanup(7*24*time.Hour, true)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if cleaned != 1 {
		t.Fatalf("expected 1 cleaned, got %d", cleaned)
	}

	if _, err := st.Read("gen_clean001_1"); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("old completed session survived: %v", err)
	}
	if _, err := st.Read("gen_clean002_1"); err != nil {
		t.Fatalf("live session deleted: %v", err)
	}
	if _, err := st.Read("gen_clean003_1"); err != nil {
		t.Fatalf("fresh session deleted: %v", err)
	}
	if _, err := os.Stat(artifactDir); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("downloads dir survived cleanup")
	}
	if _, err := os.Stat(procs.LogPath("gen_clean001_1")); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("worker log survived cleanup")
	}

	// Idempotent: nothing else qualifies on a second pass.
	cleaned, err = ctl.Cleanup(7*24*time.Hour, true)
	if err != nil {
		t.Fatalf("second cleanup: %v", err)
	}
	if cleaned != 0 {
		t.Fatalf("expected 0 cleaned on second pass, got %d", cleaned)
	}
}

func TestCleanupReclaimsDeadStaleSessions(t *testing.T) {
	t.Parallel()
	procs := &fakeProcs{}
	ctl, st := newTestController(t, procs, Options{})

	now := time.Now().UTC()
	// Stale `running` record whose worker died long ago.
	seedSession(t, st, "gen_stale001_1", state.StatusRunning, 999, now.Add(-30*24*time.Hour), nil)

	// completed-only protects it even though the worker is dead.
	cleaned, err := ctl.Cleanup(7*24*time.Hour, true)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if cleaned != 0 {
		t.Fatalf("completed-only reclaimed a non-terminal record: %d", cleaned)
	}

	// The healing pass without completed-only reclaims it.
	cleaned, err = ctl.Cleanup(7*24*time.Hour, false)
	if err != nil {
		t.Fatalf("healing cleanup: %v", err)
	}
	if cleaned != 1 {
		t.Fatalf("expected 1 reclaimed, got %d", cleaned)
	}
	if _, err := st.Read("gen_stale001_1"); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("stale session survived: %v", err)
	}
}
