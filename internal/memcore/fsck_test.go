package memcore

import (
	"context"
	"testing"
)

func TestFsckCleanRepoHasNoFindings(t *testing.T) {
	repo := newTestRepo(t)
	commitOne(t, repo, "semantic/a.md", "fine", "one")
	commitOne(t, repo, "episodic/session.md", "also fine", "two")

	report, err := Fsck(context.Background(), repo)
	if err != nil {
		t.Fatalf("Fsck: %v", err)
	}
	if report.Cancelled {
		t.Fatalf("Fsck: Cancelled = true on an uncancelled run")
	}
	if len(report.Findings) != 0 {
		t.Errorf("Fsck on a clean repository reported findings: %+v", report.Findings)
	}
	if report.ObjectsCheck == 0 {
		t.Errorf("Fsck: ObjectsCheck = 0, want at least the objects just committed")
	}
}

func TestFsckDetectsDanglingBranch(t *testing.T) {
	repo := newTestRepo(t)
	commitOne(t, repo, "semantic/a.md", "fine", "one")

	bogus := Hash("ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")
	if err := repo.SetBranch("broken", bogus); err != nil {
		t.Fatalf("SetBranch: %v", err)
	}

	report, err := Fsck(context.Background(), repo)
	if err != nil {
		t.Fatalf("Fsck: %v", err)
	}
	if len(report.Findings) == 0 {
		t.Fatalf("Fsck did not flag a branch pointing at a nonexistent commit")
	}
}
