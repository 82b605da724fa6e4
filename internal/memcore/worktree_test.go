package memcore

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := Init(t.TempDir(), nil, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	return repo
}

func writeWorkingFile(t *testing.T, repo *Repository, rel, content string) {
	t.Helper()
	full := filepath.Join(repo.WorkDir(), rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func TestStageAndStatusReportsAdded(t *testing.T) {
	repo := newTestRepo(t)
	writeWorkingFile(t, repo, "semantic/pref.md", "dark mode preferred")

	if err := repo.Stage("semantic/pref.md"); err != nil {
		t.Fatalf("Stage: %v", err)
	}

	status, err := ComputeWorkingTreeStatus(repo)
	if err != nil {
		t.Fatalf("ComputeWorkingTreeStatus: %v", err)
	}
	found := false
	for _, f := range status.Files {
		if f.Path == "semantic/pref.md" {
			found = true
			if f.IndexStatus != "added" {
				t.Errorf("IndexStatus = %q, want added", f.IndexStatus)
			}
		}
	}
	if !found {
		t.Fatalf("staged path not reported in status: %+v", status.Files)
	}
}

func TestStageAllPicksUpEveryUntrackedFile(t *testing.T) {
	repo := newTestRepo(t)
	writeWorkingFile(t, repo, "episodic/session1.md", "talked about the weather")
	writeWorkingFile(t, repo, "semantic/fact1.md", "likes tea")

	if err := repo.StageAll(); err != nil {
		t.Fatalf("StageAll: %v", err)
	}

	idx, err := ReadIndex(repo.GitDir())
	if err != nil {
		t.Fatalf("ReadIndex: %v", err)
	}
	for _, p := range []string{"episodic/session1.md", "semantic/fact1.md"} {
		if _, ok := idx.Entries[p]; !ok {
			t.Errorf("index missing %s after StageAll", p)
		}
	}
}

func TestCheckoutMaterializesCommittedTree(t *testing.T) {
	repo := newTestRepo(t)
	writeWorkingFile(t, repo, "semantic/fact.md", "v1")
	if err := repo.StageAll(); err != nil {
		t.Fatalf("StageAll: %v", err)
	}
	author := Signature{Name: "Ada", Email: "ada@example.com"}
	commitHash, err := repo.BuildCommit(nil, author, "first")
	if err != nil {
		t.Fatalf("BuildCommit: %v", err)
	}

	// Mutate the working tree after the commit, then check the commit back
	// out; Checkout must restore the committed content.
	writeWorkingFile(t, repo, "semantic/fact.md", "v2-uncommitted")

	if err := repo.Checkout(commitHash); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(repo.WorkDir(), "semantic/fact.md"))
	if err != nil {
		t.Fatalf("reading checked-out file: %v", err)
	}
	if string(got) != "v1" {
		t.Errorf("checked-out content = %q, want %q", got, "v1")
	}
}
