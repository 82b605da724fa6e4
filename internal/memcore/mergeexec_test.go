package memcore

import (
	"testing"

	"github.com/agentmem/memvcs/internal/memcore/errs"
)

var mergeAuthor = Signature{Name: "Ada", Email: "ada@example.com"}

func TestMergeFastForwardsWhenOursIsAncestor(t *testing.T) {
	repo := newTestRepo(t)
	base := commitOne(t, repo, "semantic/x.md", "base\n", "base")
	ahead := commitOne(t, repo, "semantic/x.md", "ahead\n", "ahead")

	head, err := repo.Head()
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if err := repo.SetBranch(head.Branch, base); err != nil {
		t.Fatalf("SetBranch: %v", err)
	}

	commitHash, ff, err := repo.Merge(ahead, mergeAuthor, "")
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if !ff {
		t.Errorf("Merge: ff = false, want true (ours is an ancestor of theirs)")
	}
	if commitHash != ahead {
		t.Errorf("Merge fast-forward result = %s, want %s", commitHash, ahead)
	}
}

func TestMergeNonConflictingDivergenceProducesMergeCommit(t *testing.T) {
	repo := newTestRepo(t)
	base := commitOne(t, repo, "semantic/a.md", "base\n", "base")

	head, err := repo.Head()
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	mainBranch := head.Branch

	if err := repo.SetBranch("feature", base); err != nil {
		t.Fatalf("SetBranch(feature): %v", err)
	}
	if err := repo.SetHeadBranch("feature"); err != nil {
		t.Fatalf("SetHeadBranch(feature): %v", err)
	}
	theirs := commitOne(t, repo, "semantic/b.md", "added on feature\n", "add b")

	if err := repo.SetHeadBranch(mainBranch); err != nil {
		t.Fatalf("SetHeadBranch(main): %v", err)
	}
	ours := commitOne(t, repo, "semantic/a.md", "changed on main\n", "change a")

	commitHash, ff, err := repo.Merge(theirs, mergeAuthor, "merge feature")
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if ff {
		t.Fatalf("Merge: ff = true, want a real merge commit")
	}

	commit, err := repo.GetCommit(commitHash)
	if err != nil {
		t.Fatalf("GetCommit: %v", err)
	}
	if len(commit.Parents) != 2 || commit.Parents[0] != ours || commit.Parents[1] != theirs {
		t.Errorf("merge commit parents = %v, want [%s %s]", commit.Parents, ours, theirs)
	}

	flat, err := flattenTree(repo, commit.Tree, "")
	if err != nil {
		t.Fatalf("flattenTree: %v", err)
	}
	names := map[string]bool{}
	for p := range flat {
		names[p] = true
	}
	if !names["semantic/a.md"] || !names["semantic/b.md"] {
		t.Errorf("merged tree missing entries from one side: %v", flat)
	}
}

// TestMergeProceduralTieBreakIsLexicalOnExactTimestampTie exercises the
// PROCEDURAL "prefer newer" strategy when both sides' committer timestamps
// are identical (commitOne always builds with a zero-value Signature.When),
// so the result is decided entirely by the resolved tie-break: compare
// committer identity lexically (equal here, since commitOne always commits
// as the same author), then the full commit hash lexically, greater wins.
func TestMergeProceduralTieBreakIsLexicalOnExactTimestampTie(t *testing.T) {
	repo := newTestRepo(t)
	base := commitOne(t, repo, "procedural/tool.md", "base\n", "base")

	head, err := repo.Head()
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	mainBranch := head.Branch

	if err := repo.SetBranch("feature", base); err != nil {
		t.Fatalf("SetBranch(feature): %v", err)
	}
	if err := repo.SetHeadBranch("feature"); err != nil {
		t.Fatalf("SetHeadBranch(feature): %v", err)
	}
	theirs := commitOne(t, repo, "procedural/tool.md", "theirs version\n", "theirs changes tool")

	if err := repo.SetHeadBranch(mainBranch); err != nil {
		t.Fatalf("SetHeadBranch(main): %v", err)
	}
	ours := commitOne(t, repo, "procedural/tool.md", "ours version\n", "ours changes tool")

	commitHash, ff, err := repo.Merge(theirs, mergeAuthor, "")
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if ff {
		t.Fatalf("Merge: ff = true, want a real merge commit")
	}

	oursCommit, err := repo.GetCommit(ours)
	if err != nil {
		t.Fatalf("GetCommit(ours): %v", err)
	}
	theirsCommit, err := repo.GetCommit(theirs)
	if err != nil {
		t.Fatalf("GetCommit(theirs): %v", err)
	}
	if !oursCommit.Committer.When.Equal(theirsCommit.Committer.When) {
		t.Fatalf("test assumption broken: ours/theirs committer timestamps differ")
	}
	if oursCommit.Committer.Name != theirsCommit.Committer.Name || oursCommit.Committer.Email != theirsCommit.Committer.Email {
		t.Fatalf("test assumption broken: ours/theirs committer identity differs")
	}

	wantTheirs := string(theirs) > string(ours)
	wantContent := "ours version\n"
	if wantTheirs {
		wantContent = "theirs version\n"
	}

	commit, err := repo.GetCommit(commitHash)
	if err != nil {
		t.Fatalf("GetCommit(merge result): %v", err)
	}
	flat, err := flattenTree(repo, commit.Tree, "")
	if err != nil {
		t.Fatalf("flattenTree: %v", err)
	}
	var content []byte
	for p, h := range flat {
		if p == "procedural/tool.md" {
			content, err = repo.GetBlob(h)
			if err != nil {
				t.Fatalf("GetBlob: %v", err)
			}
		}
	}
	if string(content) != wantContent {
		t.Errorf("procedural tie-break content = %q, want %q (hash lexical order: ours=%s theirs=%s)", content, wantContent, ours.Short(), theirs.Short())
	}
}

func TestMergeConflictRequiresResolve(t *testing.T) {
	repo := newTestRepo(t)
	base := commitOne(t, repo, "semantic/x.md", "line1\n", "base")

	head, err := repo.Head()
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	mainBranch := head.Branch

	if err := repo.SetBranch("feature", base); err != nil {
		t.Fatalf("SetBranch(feature): %v", err)
	}
	if err := repo.SetHeadBranch("feature"); err != nil {
		t.Fatalf("SetHeadBranch(feature): %v", err)
	}
	theirs := commitOne(t, repo, "semantic/x.md", "lineB\n", "theirs changes x")

	if err := repo.SetHeadBranch(mainBranch); err != nil {
		t.Fatalf("SetHeadBranch(main): %v", err)
	}
	ours := commitOne(t, repo, "semantic/x.md", "lineA\n", "ours changes x")

	_, _, err = repo.Merge(theirs, mergeAuthor, "")
	if errs.Of(err) != errs.UnresolvedConflicts {
		t.Fatalf("Merge on a real conflict: err = %v, want UnresolvedConflicts", err)
	}

	inMerge, err := repo.InMergingState()
	if err != nil {
		t.Fatalf("InMergingState: %v", err)
	}
	if !inMerge {
		t.Fatalf("InMergingState = false after a conflicting merge")
	}

	state, err := repo.LoadMergeState()
	if err != nil {
		t.Fatalf("LoadMergeState: %v", err)
	}
	if len(state.Conflicts) != 1 || state.Conflicts[0].Path != "semantic/x.md" {
		t.Fatalf("unexpected conflict set: %+v", state.Conflicts)
	}

	if _, err := repo.BuildCommit([]Hash{ours}, mergeAuthor, "should be refused"); errs.Of(err) != errs.MergingState {
		t.Errorf("BuildCommit during a pending merge: err = %v, want MergingState", err)
	}

	commitHash, done, err := repo.Resolve("semantic/x.md", ResolveOurs, mergeAuthor)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !done {
		t.Fatalf("Resolve: done = false after clearing the only conflict")
	}

	inMerge, err = repo.InMergingState()
	if err != nil {
		t.Fatalf("InMergingState after Resolve: %v", err)
	}
	if inMerge {
		t.Errorf("InMergingState = true after Resolve finished the merge")
	}

	commit, err := repo.GetCommit(commitHash)
	if err != nil {
		t.Fatalf("GetCommit: %v", err)
	}
	flat, err := flattenTree(repo, commit.Tree, "")
	if err != nil {
		t.Fatalf("flattenTree: %v", err)
	}
	var content []byte
	for p, h := range flat {
		if p == "semantic/x.md" {
			content, err = repo.GetBlob(h)
			if err != nil {
				t.Fatalf("GetBlob: %v", err)
			}
		}
	}
	if string(content) != "lineA\n" {
		t.Errorf("resolved content = %q, want ours (%q)", content, "lineA\n")
	}
}
