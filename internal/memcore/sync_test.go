package memcore

import (
	"context"
	"strings"
	"testing"

	"github.com/agentmem/memvcs/internal/memcore/errs"
)

// repoTransport is a minimal in-package Transport double backed by another
// *Repository, standing in for internal/transport's LocalTransport (which
// this package cannot import without a cycle). It exercises Fetch/Pull/
// Push against the same object-store and ref semantics a real transport
// would.
type repoTransport struct {
	remote *Repository
}

func (t *repoTransport) ListRefs(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	branches, err := t.remote.Branches()
	if err != nil {
		return nil, err
	}
	for name, h := range branches {
		out[name] = string(h)
	}
	tags, err := t.remote.Tags()
	if err != nil {
		return nil, err
	}
	for name, h := range tags {
		out[name] = string(h)
	}
	return out, nil
}

func (t *repoTransport) ReadObject(ctx context.Context, hash string) ([]byte, error) {
	h, err := NewHash(hash)
	if err != nil {
		return nil, err
	}
	kind, payload, err := t.remote.Objects().Get(h)
	if err != nil {
		return nil, ErrObjectNotFound
	}
	return CanonicalForm(kind, payload), nil
}

func (t *repoTransport) WriteObject(ctx context.Context, hash string, data []byte) error {
	kind, payload, err := SplitCanonical(data)
	if err != nil {
		return err
	}
	_, err = t.remote.Objects().Put(kind, payload)
	return err
}

func (t *repoTransport) CASUpdateRef(ctx context.Context, name, expected, next string) error {
	branches, err := t.remote.Branches()
	if err != nil {
		return err
	}
	ref := strings.TrimPrefix(name, "heads/")
	current := string(branches["heads/"+ref])
	if current != expected {
		return ErrRefChanged
	}
	nextHash, err := NewHash(next)
	if err != nil {
		return err
	}
	return t.remote.SetBranch(ref, nextHash)
}

func TestFetchCopiesObjectsAndUpdatesRemoteRef(t *testing.T) {
	remote := newTestRepo(t)
	tip := commitOne(t, remote, "semantic/a.md", "v1", "one")

	local := newTestRepo(t)
	tr := &repoTransport{remote: remote}

	result, err := Fetch(context.Background(), local, "origin", tr, nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if result.ObjectsFetched == 0 {
		t.Errorf("Fetch: ObjectsFetched = 0, want at least the commit/tree/blob")
	}

	remoteBranch := remote.Config().Core.DefaultBranch
	got, ok := result.UpdatedRefs["heads/"+remoteBranch]
	if !ok || got != tip {
		t.Fatalf("Fetch: UpdatedRefs[heads/%s] = %v, want %s", remoteBranch, got, tip)
	}
	if _, err := local.GetCommit(tip); err != nil {
		t.Errorf("fetched commit not present locally: %v", err)
	}

	localRemoteBranches, err := local.RemoteBranches("origin")
	if err != nil {
		t.Fatalf("RemoteBranches: %v", err)
	}
	if localRemoteBranches[remoteBranch] != tip {
		t.Errorf("refs/remotes/origin/%s = %v, want %s", remoteBranch, localRemoteBranches[remoteBranch], tip)
	}
}

func TestFetchQuarantinesUntrustedSignedTipWithoutAdvancingRef(t *testing.T) {
	remote := newTestRepo(t)
	fp, err := remote.GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}
	remote.Config().Signing.Enabled = true
	tip := commitOne(t, remote, "semantic/a.md", "v1", "signed commit")

	local := newTestRepo(t)
	tr := &repoTransport{remote: remote}

	result, err := Fetch(context.Background(), local, "origin", tr, nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if result.ObjectsFetched == 0 {
		t.Fatalf("Fetch: ObjectsFetched = 0, want the quarantined commit/tree/blob")
	}
	if _, err := local.GetCommit(tip); err != nil {
		t.Errorf("fetched commit not stored locally despite quarantine: %v", err)
	}

	remoteBranch := remote.Config().Core.DefaultBranch
	if _, ok := result.UpdatedRefs["heads/"+remoteBranch]; ok {
		t.Errorf("Fetch advanced heads/%s despite its tip being signed by an untrusted key", remoteBranch)
	}
	if got := result.Quarantined["heads/"+remoteBranch]; got != tip {
		t.Errorf("Fetch.Quarantined[heads/%s] = %v, want %s", remoteBranch, got, tip)
	}

	localRemoteBranches, err := local.RemoteBranches("origin")
	if err != nil {
		t.Fatalf("RemoteBranches: %v", err)
	}
	if _, ok := localRemoteBranches[remoteBranch]; ok {
		t.Errorf("refs/remotes/origin/%s advanced despite untrusted signer", remoteBranch)
	}

	// Promoting the signer to FULL and fetching again advances the ref.
	if err := local.SetTrust(fp, TrustFull); err != nil {
		t.Fatalf("SetTrust: %v", err)
	}
	result2, err := Fetch(context.Background(), local, "origin", tr, nil)
	if err != nil {
		t.Fatalf("Fetch after promoting signer: %v", err)
	}
	if result2.UpdatedRefs["heads/"+remoteBranch] != tip {
		t.Errorf("Fetch after promotion: UpdatedRefs[heads/%s] = %v, want %s", remoteBranch, result2.UpdatedRefs["heads/"+remoteBranch], tip)
	}
}

func TestPullRefusesUntrustedSignedRemoteTip(t *testing.T) {
	remote := newTestRepo(t)
	if _, err := remote.GenerateSigningKey(); err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}
	remote.Config().Signing.Enabled = true
	commitOne(t, remote, "semantic/a.md", "v1", "signed commit")

	local := newTestRepo(t)
	tr := &repoTransport{remote: remote}

	branch := remote.Config().Core.DefaultBranch
	_, _, err := Pull(context.Background(), local, "origin", branch, tr, mergeAuthor)
	if errs.Of(err) != errs.UntrustedKey {
		t.Fatalf("Pull(untrusted signer): err = %v, want UntrustedKey", err)
	}
}

func TestPushRejectsDivergedHistory(t *testing.T) {
	remote := newTestRepo(t)
	base := commitOne(t, remote, "semantic/a.md", "v1", "base")
	branch := remote.Config().Core.DefaultBranch

	local := newTestRepo(t)
	tr := &repoTransport{remote: remote}
	if _, err := Fetch(context.Background(), local, "origin", tr, nil); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if err := local.SetBranch(branch, base); err != nil {
		t.Fatalf("SetBranch: %v", err)
	}

	// The remote advances...
	commitOne(t, remote, "semantic/a.md", "v2-on-remote", "remote advance")
	// ...while the local repo independently advances from the same base,
	// without ever fetching the remote's new tip: neither side's tip is an
	// ancestor of the other's, so the push must be rejected.
	if err := local.SetHeadBranch(branch); err != nil {
		t.Fatalf("SetHeadBranch: %v", err)
	}
	commitOne(t, local, "semantic/b.md", "local-only", "local advance")

	if _, err := Push(context.Background(), local, "origin", branch, tr); err == nil {
		t.Fatalf("Push: expected diverged-history rejection, got nil")
	}
}
