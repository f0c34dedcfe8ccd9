package retrieval

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"veogen/internal/state"
	"veogen/internal/veo"
)

type fakeClient struct {
	payload  []byte
	fetchErr error
	fetches  int
}

func (f *fakeClient) Submit(ctx context.Context, params state.Params) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeClient) Poll(ctx context.Context, operation string) (*veo.OperationStatus, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeClient) Fetch(ctx context.Context, video state.Video, dst io.Writer) error {
	f.fetches++
	if f.fetchErr != nil {
		return f.fetchErr
	}
	_, err := dst.Write(f.payload)
	return err
}

func newRetrievalStore(t *testing.T, status state.Status, videos []state.Video) (*state.Store, string) {
	t.Helper()
	st, err := state.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	id := "gen_retr0001_1700000000"
	done := time.Now().UTC()
	sess := &state.Session{
		ID:        id,
		Status:    status,
		Params:    state.Params{Prompt: "p", Model: "veo-3.0-generate-preview", NumberOfVideos: len(videos)},
		Videos:    videos,
		StartedAt: done.Add(-time.Minute),
	}
	if status.Terminal() {
		sess.CompletedAt = &done
	}
	if err := st.Create(sess); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return st, id
}

func TestDownloadWritesArtifact(t *testing.T) {
	t.Parallel()
	videos := []state.Video{{URI: "https://example.com/v0", MimeType: "video/mp4"}}
	st, id := newRetrievalStore(t, state.StatusCompleted, videos)
	client := &fakeClient{payload: []byte("fake mp4 bytes")}
	root := t.TempDir()
	svc := New(st, client, root)

	res, err := svc.Download(context.Background(), id, 0, "")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if res.Reused {
		t.Fatal("first download reported as reused")
	}
	if res.FileSize != int64(len(client.payload)) {
		t.Fatalf("expected size %d, got %d", len(client.payload), res.FileSize)
	}
	if filepath.Dir(res.FilePath) != filepath.Join(root, id) {
		t.Fatalf("artifact outside per-session dir: %s", res.FilePath)
	}
	base := filepath.Base(res.FilePath)
	if !strings.HasPrefix(base, "veo_"+id+"_0_") || !strings.HasSuffix(base, ".mp4") {
		t.Fatalf("unexpected artifact name: %s", base)
	}
	data, err := os.ReadFile(res.FilePath)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != "fake mp4 bytes" {
		t.Fatalf("artifact content mismatch: %q", data)
	}
}

func TestDownloadReusesExistingArtifact(t *testing.T) {
	t.Parallel()
	videos := []state.Video{{URI: "https://example.com/v0", MimeType: "video/mp4"}}
	st, id := newRetrievalStore(t, state.StatusCompleted, videos)
	client := &fakeClient{payload: []byte("fake mp4 bytes")}
	svc := New(st, client, t.TempDir())

	first, err := svc.Download(context.Background(), id, 0, "")
	if err != nil {
		t.Fatalf("first download: %v", err)
	}
	second, err := svc.Download(context.Background(), id, 0, "")
	if err != nil {
		t.Fatalf("second download: %v", err)
	}
	if !second.Reused {
		t.Fatal("second download did not reuse the artifact")
	}
	if second.FilePath != first.FilePath {
		t.Fatalf("reuse returned a different path: %s vs %s", second.FilePath, first.FilePath)
	}
	if client.fetches != 1 {
		t.Fatalf("expected 1 fetch, got %d", client.fetches)
	}
}

func TestDownloadRejectsNonCompletedSession(t *testing.T) {
	t.Parallel()
	for _, status := range []state.Status{state.StatusStarting, state.StatusRunning, state.StatusFailed, state.StatusCancelled} {
		st, id := newRetrievalStore(t, status, nil)
		svc := New(st, &fakeClient{}, t.TempDir())
		if _, err := svc.Download(context.Background(), id, 0, ""); !errors.Is(err, state.ErrInvalidState) {
			t.Errorf("status %s: expected ErrInvalidState, got %v", status, err)
		}
	}
}

func TestDownloadIndexOutOfRange(t *testing.T) {
	t.Parallel()
	videos := []state.Video{{URI: "https://example.com/v0", MimeType: "video/mp4"}}
	st, id := newRetrievalStore(t, state.StatusCompleted, videos)
	svc := New(st, &fakeClient{}, t.TempDir())

	for _, index := range []int{-1, 1, 5} {
		if _, err := svc.Download(context.Background(), id, index, ""); !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("index %d: expected ErrIndexOutOfRange, got %v", index, err)
		}
	}
}

func TestDownloadUnknownSession(t *testing.T) {
	t.Parallel()
	st, err := state.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	svc := New(st, &fakeClient{}, t.TempDir())
	if _, err := svc.Download(context.Background(), "gen_nosuch00_1", 0, ""); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFailedTransferLeavesNoPartialFile(t *testing.T) {
	t.Parallel()
	videos := []state.Video{{URI: "https://example.com/v0", MimeType: "video/mp4"}}
	st, id := newRetrievalStore(t, state.StatusCompleted, videos)
	client := &fakeClient{fetchErr: errors.New("stream interrupted")}
	root := t.TempDir()
	svc := New(st, client, root)

	if _, err := svc.Download(context.Background(), id, 0, ""); err == nil {
		t.Fatal("expected transfer error")
	}

	destDir := filepath.Join(root, id)
	entries, err := os.ReadDir(destDir)
	if err != nil {
		t.Fatalf("read dest dir: %v", err)
	}
	for _, e := range entries {
		t.Errorf("leftover file after failed transfer: %s", e.Name())
	}
}

func TestDownloadHonorsExplicitDestDir(t *testing.T) {
	t.Parallel()
	videos := []state.Video{{URI: "https://example.com/v0", MimeType: "video/mp4"}}
	st, id := newRetrievalStore(t, state.StatusCompleted, videos)
	client := &fakeClient{payload: []byte("x")}
	svc := New(st, client, t.TempDir())

	dest := filepath.Join(t.TempDir(), "exports")
	res, err := svc.Download(context.Background(), id, 0, dest)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if filepath.Dir(res.FilePath) != dest {
		t.Fatalf("artifact not in requested dir: %s", res.FilePath)
	}
}
