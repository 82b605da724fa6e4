package memcore

import (
	"testing"

	"github.com/agentmem/memvcs/internal/memcore/errs"
)

func TestMergeRefusesTheirsCommitSignedByUntrustedKey(t *testing.T) {
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
	fp, err := repo.GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}
	repo.Config().Signing.Enabled = true
	theirs := commitOne(t, repo, "semantic/b.md", "added on feature\n", "signed commit")

	theirsCommit, err := repo.GetCommit(theirs)
	if err != nil {
		t.Fatalf("GetCommit(theirs): %v", err)
	}
	if theirsCommit.Metadata["signing_key_id"] != fp {
		t.Fatalf("test assumption broken: theirs not signed by the generated key")
	}

	if err := repo.SetHeadBranch(mainBranch); err != nil {
		t.Fatalf("SetHeadBranch(main): %v", err)
	}
	commitOne(t, repo, "semantic/a.md", "changed on main\n", "change a")

	// No explicit trust record: TrustLevelFor falls back to
	// config.trust.default_level, which defaults to UNTRUSTED.
	if _, _, err := repo.Merge(theirs, mergeAuthor, "merge feature"); errs.Of(err) != errs.UntrustedKey {
		t.Fatalf("Merge(untrusted signer): err = %v, want UntrustedKey", err)
	}

	if err := repo.SetTrust(fp, TrustFull); err != nil {
		t.Fatalf("SetTrust: %v", err)
	}
	commitHash, _, err := repo.Merge(theirs, mergeAuthor, "merge feature")
	if err != nil {
		t.Fatalf("Merge after promoting signer to FULL: %v", err)
	}
	commit, err := repo.GetCommit(commitHash)
	if err != nil {
		t.Fatalf("GetCommit: %v", err)
	}
	if _, flagged := commit.Metadata["merge_trust_review"]; flagged {
		t.Errorf("merge commit flagged for review despite a FULL-trust signer")
	}
}

func TestMergeFlagsConditionalSignerInCommitMetadata(t *testing.T) {
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
	fp, err := repo.GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}
	repo.Config().Signing.Enabled = true
	theirs := commitOne(t, repo, "semantic/b.md", "added on feature\n", "signed commit")

	if err := repo.SetHeadBranch(mainBranch); err != nil {
		t.Fatalf("SetHeadBranch(main): %v", err)
	}
	commitOne(t, repo, "semantic/a.md", "changed on main\n", "change a")

	if err := repo.SetTrust(fp, TrustConditional); err != nil {
		t.Fatalf("SetTrust: %v", err)
	}

	commitHash, _, err := repo.Merge(theirs, mergeAuthor, "merge feature")
	if err != nil {
		t.Fatalf("Merge with a CONDITIONAL signer: %v", err)
	}
	commit, err := repo.GetCommit(commitHash)
	if err != nil {
		t.Fatalf("GetCommit: %v", err)
	}
	if commit.Metadata["merge_trust_review"] != fp {
		t.Errorf("merge commit Metadata[merge_trust_review] = %q, want %q", commit.Metadata["merge_trust_review"], fp)
	}
}

func TestTrustLevelForUnknownKeyFallsBackToConfigDefault(t *testing.T) {
	repo := newTestRepo(t)
	repo.Config().Trust.DefaultLevel = string(TrustConditional)

	lvl, err := repo.TrustLevelFor("deadbeef")
	if err != nil {
		t.Fatalf("TrustLevelFor: %v", err)
	}
	if lvl != TrustConditional {
		t.Errorf("TrustLevelFor(unknown) = %s, want %s", lvl, TrustConditional)
	}
}

func TestSetTrustOverridesDefault(t *testing.T) {
	repo := newTestRepo(t)

	if err := repo.SetTrust("abc123", TrustFull); err != nil {
		t.Fatalf("SetTrust: %v", err)
	}

	lvl, err := repo.TrustLevelFor("abc123")
	if err != nil {
		t.Fatalf("TrustLevelFor: %v", err)
	}
	if lvl != TrustFull {
		t.Errorf("TrustLevelFor(abc123) = %s, want %s", lvl, TrustFull)
	}

	levels, err := repo.ListTrust()
	if err != nil {
		t.Fatalf("ListTrust: %v", err)
	}
	if levels["abc123"] != TrustFull {
		t.Errorf("ListTrust()[abc123] = %s, want %s", levels["abc123"], TrustFull)
	}
}

func TestQuarantineKeyLeavesKnownKeyUntouched(t *testing.T) {
	repo := newTestRepo(t)
	if err := repo.SetTrust("known", TrustFull); err != nil {
		t.Fatalf("SetTrust: %v", err)
	}

	if err := repo.QuarantineKey("known"); err != nil {
		t.Fatalf("QuarantineKey(known): %v", err)
	}
	if err := repo.QuarantineKey("unseen"); err != nil {
		t.Fatalf("QuarantineKey(unseen): %v", err)
	}

	levels, err := repo.ListTrust()
	if err != nil {
		t.Fatalf("ListTrust: %v", err)
	}
	if levels["known"] != TrustFull {
		t.Errorf("QuarantineKey must not downgrade an already-trusted key, got %s", levels["known"])
	}
	if levels["unseen"] != TrustUntrusted {
		t.Errorf("QuarantineKey(unseen) = %s, want UNTRUSTED", levels["unseen"])
	}
}
