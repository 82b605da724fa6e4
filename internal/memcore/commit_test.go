package memcore

import "testing"

func commitOne(t *testing.T, repo *Repository, rel, content, message string) Hash {
	t.Helper()
	writeWorkingFile(t, repo, rel, content)
	if err := repo.StageAll(); err != nil {
		t.Fatalf("StageAll: %v", err)
	}
	head, err := repo.Head()
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	var parents []Hash
	if head.Hash != "" {
		parents = []Hash{head.Hash}
	}
	h, err := repo.BuildCommit(parents, Signature{Name: "Ada", Email: "ada@example.com"}, message)
	if err != nil {
		t.Fatalf("BuildCommit(%q): %v", message, err)
	}
	return h
}

func TestBuildCommitMovesBranchAndRecordsParent(t *testing.T) {
	repo := newTestRepo(t)

	first := commitOne(t, repo, "semantic/fact.md", "v1", "first")
	second := commitOne(t, repo, "semantic/fact.md", "v2", "second")

	head, err := repo.Head()
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if head.Hash != second {
		t.Errorf("Head.Hash = %s, want %s", head.Hash, second)
	}

	commit, err := repo.GetCommit(second)
	if err != nil {
		t.Fatalf("GetCommit: %v", err)
	}
	if len(commit.Parents) != 1 || commit.Parents[0] != first {
		t.Errorf("second commit parents = %v, want [%s]", commit.Parents, first)
	}
}

func TestWalkCommitsVisitsAncestryOnce(t *testing.T) {
	repo := newTestRepo(t)
	commitOne(t, repo, "semantic/a.md", "1", "one")
	commitOne(t, repo, "semantic/a.md", "2", "two")
	tip := commitOne(t, repo, "semantic/a.md", "3", "three")

	var seen []Hash
	err := WalkCommits(repo, tip, func(h Hash, c *Commit) (bool, error) {
		seen = append(seen, h)
		return true, nil
	})
	if err != nil {
		t.Fatalf("WalkCommits: %v", err)
	}
	if len(seen) != 3 {
		t.Fatalf("WalkCommits visited %d commits, want 3: %v", len(seen), seen)
	}
	if seen[0] != tip {
		t.Errorf("WalkCommits should visit tip first, got %s", seen[0])
	}
}

func TestResetMovesBranchAndOptionallyReloadsIndex(t *testing.T) {
	repo := newTestRepo(t)
	first := commitOne(t, repo, "semantic/a.md", "1", "one")
	commitOne(t, repo, "semantic/a.md", "2", "two")

	if err := repo.Reset(first, true); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	head, err := repo.Head()
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if head.Hash != first {
		t.Errorf("Head.Hash after reset = %s, want %s", head.Hash, first)
	}

	idx, err := ReadIndex(repo.GitDir())
	if err != nil {
		t.Fatalf("ReadIndex: %v", err)
	}
	entry, ok := idx.Entries["semantic/a.md"]
	if !ok {
		t.Fatalf("index missing semantic/a.md after mixed reset")
	}
	firstCommit, err := repo.GetCommit(first)
	if err != nil {
		t.Fatalf("GetCommit: %v", err)
	}
	flat, err := flattenTree(repo, firstCommit.Tree, "")
	if err != nil {
		t.Fatalf("flattenTree: %v", err)
	}
	if len(flat) != 1 || flat["semantic/a.md"] != entry.Hash {
		t.Errorf("index entry hash does not match reset target's tree")
	}
}
