package memcore

import (
	"context"
	"testing"
	"time"
)

func TestRunGCKeepsReachableObjects(t *testing.T) {
	repo := newTestRepo(t)
	tip := commitOne(t, repo, "semantic/a.md", "keep me", "one")

	stats, err := RunGC(context.Background(), repo, false, time.Second)
	if err != nil {
		t.Fatalf("RunGC: %v", err)
	}
	if stats.Reachable == 0 {
		t.Errorf("RunGC: Reachable = 0, want at least the tip commit/tree/blob")
	}
	if stats.Swept != 0 {
		t.Errorf("RunGC: Swept = %d, want 0 (everything is reachable)", stats.Swept)
	}

	commit, err := repo.GetCommit(tip)
	if err != nil {
		t.Fatalf("commit %s swept by GC despite being reachable: %v", tip, err)
	}
	_ = commit
}

func TestRunGCSweepsUnreachableLooseObject(t *testing.T) {
	repo := newTestRepo(t)
	commitOne(t, repo, "semantic/a.md", "kept", "one")

	orphan, err := repo.Objects().PutBlob([]byte("nobody points at me"))
	if err != nil {
		t.Fatalf("PutBlob: %v", err)
	}

	stats, err := RunGC(context.Background(), repo, false, time.Second)
	if err != nil {
		t.Fatalf("RunGC: %v", err)
	}
	if stats.Swept == 0 {
		t.Fatalf("RunGC: Swept = 0, want the orphan blob to be collected")
	}
	if repo.Objects().Exists(orphan) {
		t.Errorf("orphan blob %s still present after GC", orphan)
	}
}
