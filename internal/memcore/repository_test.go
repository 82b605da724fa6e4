package memcore

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestInitCreatesLayoutAndDefaultBranch(t *testing.T) {
	dir := t.TempDir()

	repo, err := Init(dir, nil, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	for _, sub := range []string{"objects", "objects/pack", "refs/heads", "refs/tags", "refs/remotes", "audit", "merge", "keys", "trust"} {
		if _, err := os.Stat(filepath.Join(repo.GitDir(), sub)); err != nil {
			t.Errorf("missing %s: %v", sub, err)
		}
	}
	for _, sub := range []string{"episodic", "semantic", "procedural"} {
		if _, err := os.Stat(filepath.Join(repo.WorkDir(), sub)); err != nil {
			t.Errorf("missing working-tree %s: %v", sub, err)
		}
	}

	head, err := repo.Head()
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if head.Branch != repo.Config().Core.DefaultBranch {
		t.Errorf("Head.Branch = %q, want %q", head.Branch, repo.Config().Core.DefaultBranch)
	}
	if head.Hash != "" {
		t.Errorf("Head.Hash on a fresh repo = %q, want empty", head.Hash)
	}
}

func TestInitRefusesExistingRepo(t *testing.T) {
	dir := t.TempDir()
	if _, err := Init(dir, nil, nil); err != nil {
		t.Fatalf("first Init: %v", err)
	}
	if _, err := Init(dir, nil, nil); err == nil {
		t.Fatalf("second Init on the same dir: expected error, got nil")
	}
}

func TestOpenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	if _, err := Init(dir, nil, nil); err != nil {
		t.Fatalf("Init: %v", err)
	}

	repo, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if repo.GitDir() != filepath.Join(dir, ".mem") {
		t.Errorf("GitDir = %q", repo.GitDir())
	}
}

func TestOpenMissingRepo(t *testing.T) {
	if _, err := Open(t.TempDir(), nil); err == nil {
		t.Fatalf("Open on a directory with no .mem: expected error, got nil")
	}
}

func TestLockIsExclusive(t *testing.T) {
	dir := t.TempDir()
	repo, err := Init(dir, nil, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	lock, err := repo.Lock(time.Second)
	if err != nil {
		t.Fatalf("first Lock: %v", err)
	}

	if _, err := repo.Lock(100 * time.Millisecond); err == nil {
		t.Fatalf("second concurrent Lock: expected LockBusy, got nil")
	}

	lock.Unlock()

	lock2, err := repo.Lock(time.Second)
	if err != nil {
		t.Fatalf("Lock after Unlock: %v", err)
	}
	lock2.Unlock()
}
