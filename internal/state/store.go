package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no record exists for a session ID.
	ErrNotFound = errors.New("session not found")
	// ErrCorrupt is returned when a record exists but cannot be decoded
	// into a valid session snapshot.
	ErrCorrupt = errors.New("corrupt session record")
	// ErrExists is returned by Create when a record already exists.
	ErrExists = errors.New("session already exists")
	// ErrInvalidState is returned when an operation is not valid for the
	// session's current effective status.
	ErrInvalidState = errors.New("operation not valid for session state")
)

// Store persists one JSON record per session under a single directory.
// Every write goes to a temp file in the same directory followed by a
// rename, so a concurrent reader sees either the old snapshot or the new
// one, never a torn write. There is no locking: correctness relies on the
// single-writer-per-record rule enforced by the session lifecycle.
type Store struct {
	dir string
}

// Open creates the state directory if needed and returns a store over it.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the state directory path.
func (st *Store) Dir() string { return st.dir }

func (st *Store) path(id string) string {
	return filepath.Join(st.dir, id+".json")
}

// Create writes the initial record for a new session. Fails if a record
// with the same ID already exists.
func (st *Store) Create(sess *Session) error {
	if sess.ID == "" {
		return fmt.Errorf("create session: empty id")
	}
	if _, err := os.Stat(st.path(sess.ID)); err == nil {
		return fmt.Errorf("create session %s: %w", sess.ID, ErrExists)
	}
	sess.SchemaVersion = SchemaVersion
	return st.write(sess)
}

// Read returns the current snapshot for a session.
func (st *Store) Read(id string) (*Session, error) {
	data, err := os.ReadFile(st.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", id, err)
	}
	return decode(id, data)
}

// Update applies mutate to the latest snapshot and writes the result back
// atomically. Read-modify-write with last-writer-wins semantics; during the
// active phase only the owning worker calls Update on a record's body.
func (st *Store) Update(id string, mutate func(*Session) error) (*Session, error) {
	sess, err := st.Read(id)
	if err != nil {
		return nil, err
	}
	if err := mutate(sess); err != nil {
		return nil, err
	}
	if err := st.write(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// List returns all readable session records ordered by StartedAt ascending
// (ID as tiebreaker, so the order is deterministic). Unreadable records are
// skipped with a diagnostic rather than failing the whole listing.
func (st *Store) List() ([]*Session, error) {
	entries, err := os.ReadDir(st.dir)
	if err != nil {
		return nil, fmt.Errorf("list state dir: %w", err)
	}

	var sessions []*Session
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		sess, err := st.Read(id)
		if err != nil {
			slog.Warn("skipping unreadable session record", "id", id, "err", err)
			continue
		}
		sessions = append(sessions, sess)
	}

	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].StartedAt.Equal(sessions[j].StartedAt) {
			return sessions[i].StartedAt.Before(sessions[j].StartedAt)
		}
		return sessions[i].ID < sessions[j].ID
	})
	return sessions, nil
}

// Delete removes a session record. Missing records are reported as ErrNotFound.
func (st *Store) Delete(id string) error {
	err := os.Remove(st.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return err
}

// write serializes the full record to a temp file in the state directory,
// syncs it, and renames it over the final path in one operation.
func (st *Store) write(sess *Session) error {
	sess.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}

	tmp, err := os.CreateTemp(st.dir, "."+sess.ID+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp record: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp record: %w", err)
	}
	if err := os.Rename(tmpName, st.path(sess.ID)); err != nil {
		return fmt.Errorf("replace session %s: %w", sess.ID, err)
	}
	return nil
}

// decode validates the record shape as well as its JSON. A parseable file
// with the wrong schema version or a mismatched ID is corrupt, not valid.
func decode(id string, data []byte) (*Session, error) {
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("session %s: %w: %v", id, ErrCorrupt, err)
	}
	if sess.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("session %s: %w: unknown schema version %d", id, ErrCorrupt, sess.SchemaVersion)
	}
	if sess.ID != id {
		return nil, fmt.Errorf("session %s: %w: record names session %q", id, ErrCorrupt, sess.ID)
	}
	return &sess, nil
}
