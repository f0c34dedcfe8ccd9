// Package retrieval downloads result artifacts for completed sessions.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"veogen/internal/state"
	"veogen/internal/veo"
)

// ErrIndexOutOfRange is returned when the requested video index does not
// exist in the session's results.
var ErrIndexOutOfRange = errors.New("video index out of range")

// Service fetches artifact bytes through the API client and lands them
// atomically: a failed transfer never leaves a partial file at the final
// path.
type Service struct {
	store         *state.Store
	client        veo.Client
	downloadsRoot string
	now           func() time.Time
}

func New(store *state.Store, client veo.Client, downloadsRoot string) *Service {
	return &Service{
		store:         store,
		client:        client,
		downloadsRoot: downloadsRoot,
		now:           time.Now,
	}
}

// Result describes one downloaded artifact.
type Result struct {
	FilePath string `json:"file_path"`
	FileSize int64  `json:"file_size"`
	// Reused is true when an earlier download of the same video was found
	// on disk and returned instead of fetching again.
	Reused bool `json:"reused,omitempty"`
}

// Download retrieves video `index` of a completed session into destDir
// (default: <downloads root>/<session id>). The session record is terminal
// and therefore read-only; whether a video was already downloaded is
// detected from the destination directory, not tracked in the record.
func (s *Service) Download(ctx context.Context, sessionID string, index int, destDir string) (*Result, error) {
	sess, err := s.store.Read(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != state.StatusCompleted {
		return nil, fmt.Errorf("session %s is %s, not completed: %w", sessionID, sess.Status, state.ErrInvalidState)
	}
	if index < 0 || index >= len(sess.Videos) {
		return nil, fmt.Errorf("session %s has %d videos, requested index %d: %w",
			sessionID, len(sess.Videos), index, ErrIndexOutOfRange)
	}

	if destDir == "" {
		destDir = filepath.Join(s.downloadsRoot, sessionID)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}

	if existing := s.findExisting(destDir, sessionID, index); existing != "" {
		info, err := os.Stat(existing)
		if err == nil && info.Size() > 0 {
			return &Result{FilePath: existing, FileSize: info.Size(), Reused: true}, nil
		}
	}

	final := filepath.Join(destDir, artifactName(sessionID, index, s.now()))
	size, err := s.fetchAtomic(ctx, sess.Videos[index], destDir, final)
	if err != nil {
		return nil, err
	}
	return &Result{FilePath: final, FileSize: size}, nil
}

// fetchAtomic streams the artifact into a temp file in destDir and renames
// it over the final path only after a fully successful transfer.
func (s *Service) fetchAtomic(ctx context.Context, video state.Video, destDir, final string) (int64, error) {
	tmp, err := os.CreateTemp(destDir, ".download-*")
	if err != nil {
		return 0, fmt.Errorf("create temp download: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := s.client.Fetch(ctx, video, tmp); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("download video: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("sync download: %w", err)
	}
	info, err := tmp.Stat()
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("stat download: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close download: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		return 0, fmt.Errorf("finalize download: %w", err)
	}
	return info.Size(), nil
}

// findExisting looks for a previously downloaded artifact for this index.
func (s *Service) findExisting(destDir, sessionID string, index int) string {
	matches, err := filepath.Glob(filepath.Join(destDir, artifactPrefix(sessionID, index)+"*.mp4"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	return matches[0]
}

func artifactPrefix(sessionID string, index int) string {
	return fmt.Sprintf("veo_%s_%d_", sessionID, index)
}

func artifactName(sessionID string, index int, now time.Time) string {
	return artifactPrefix(sessionID, index) + now.UTC().Format("20060102_150405") + ".mp4"
}
