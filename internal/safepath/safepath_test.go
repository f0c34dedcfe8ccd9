package safepath

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWithinRootAcceptsChild(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	child := filepath.Join(root, "gen_abc_1")
	if err := os.MkdirAll(child, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	resolved, err := WithinRoot(root, child)
	if err != nil {
		t.Fatalf("expected child to be accepted: %v", err)
	}
	if filepath.Base(resolved) != "gen_abc_1" {
		t.Fatalf("unexpected resolved path: %s", resolved)
	}
}

func TestWithinRootAcceptsMissingChild(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	// Cleanup may target a downloads dir that was never created.
	if _, err := WithinRoot(root, filepath.Join(root, "gen_missing_1")); err != nil {
		t.Fatalf("expected missing child to be accepted: %v", err)
	}
}

func TestWithinRootRejectsEscapes(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	outside := t.TempDir()

	cases := []string{
		root, // the root itself is not a deletable child
		outside,
		filepath.Join(root, ".."),
		filepath.Join(root, "..", filepath.Base(outside)),
	}
	for _, target := range cases {
		if _, err := WithinRoot(root, target); err == nil {
			t.Errorf("expected rejection of %s", target)
		}
	}
}

func TestWithinRootRejectsSymlinkEscape(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	victim := t.TempDir()

	link := filepath.Join(root, "gen_evil_1")
	if err := os.Symlink(victim, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	if _, err := WithinRoot(root, link); err == nil {
		t.Fatal("symlink pointing outside the root was accepted")
	}
}

func TestWithinRootRequiresArguments(t *testing.T) {
	t.Parallel()
	if _, err := WithinRoot("", "/tmp/x"); err == nil {
		t.Error("empty root accepted")
	}
	if _, err := WithinRoot(t.TempDir(), "  "); err == nil {
		t.Error("blank target accepted")
	}
}
