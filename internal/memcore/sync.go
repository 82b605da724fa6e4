package memcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentmem/memvcs/internal/memcore/errs"
)

// ErrRefChanged is returned by a Transport's CASUpdateRef when expected no
// longer matches the remote's current value for a ref.
var ErrRefChanged = errors.New("memcore: ref changed since expected value was read")

// ErrObjectNotFound is returned by a Transport's ReadObject when the
// remote has no record of the requested hash.
var ErrObjectNotFound = errors.New("memcore: object not found on remote")

// Transport is the abstract remote endpoint §4.10 builds Fetch, Pull, and
// Push on. Any type whose method set matches satisfies this interface
// structurally — implementations live in internal/transport, which this
// package is never allowed to import (they depend on memcore, and a
// memcore -> transport -> memcore cycle is not legal Go).
type Transport interface {
	ListRefs(ctx context.Context) (map[string]string, error)
	ReadObject(ctx context.Context, hash string) ([]byte, error)
	WriteObject(ctx context.Context, hash string, data []byte) error
	CASUpdateRef(ctx context.Context, name, expected, next string) error
}

// FetchResult summarizes one Fetch call.
type FetchResult struct {
	ObjectsFetched int
	UpdatedRefs    map[string]Hash // "heads/<name>" or "tags/<name>" -> new tip
	Quarantined    map[string]Hash // refs whose objects were fetched but left un-advanced per §4.9
}

// Fetch implements §4.10's fetch: read the remote's refs, walk the commit
// graph reachable from every requested ref, stream missing objects into
// quarantine, promote on success, and advance refs/remotes/<remote>/<ref>
// to match. refNames selects which remote refs to follow ("heads/main",
// "tags/v1", ...); a nil/empty set fetches every branch the remote has.
// Fetch itself appends no audit entry — spec.md §4.8's op vocabulary has
// no "fetch" op; only Pull and Push, which call Fetch internally, do.
func Fetch(ctx context.Context, repo *Repository, remote string, t Transport, refNames []string) (*FetchResult, error) {
	remoteRefs, err := t.ListRefs(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.TransportError, "listing remote refs", err)
	}

	wanted := remoteRefs
	if len(refNames) > 0 {
		wanted = make(map[string]string, len(refNames))
		for _, name := range refNames {
			if h, ok := remoteRefs[name]; ok {
				wanted[name] = h
			}
		}
	}

	result := &FetchResult{UpdatedRefs: make(map[string]Hash), Quarantined: make(map[string]Hash)}
	seen := make(map[Hash]bool)

	for refName, tipHex := range wanted {
		if ctx.Err() != nil {
			return result, errs.Wrap(errs.Cancelled, "fetch", ctx.Err())
		}
		tip, err := NewHash(tipHex)
		if err != nil {
			return result, fmt.Errorf("remote ref %s: %w", refName, err)
		}

		n, err := fetchCommitGraph(ctx, repo, t, tip, seen)
		if err != nil {
			return result, err
		}
		result.ObjectsFetched += n

		// §4.9: a tip signed by an UNTRUSTED key is fetched into quarantine
		// (the objects above are already stored) but never advances the
		// remote-tracking ref.
		trusted, err := repo.tipIsTrusted(tip)
		if err != nil {
			return result, err
		}
		if !trusted {
			result.Quarantined[refName] = tip
			continue
		}

		if err := repo.SetRemoteBranch(remote, strippedRefName(refName), tip); err != nil {
			return result, err
		}
		result.UpdatedRefs[refName] = tip
	}

	return result, nil
}

// tipIsTrusted reports whether tip's commit may advance a ref under §4.9's
// trust policy: unsigned commits carry no key for the policy to evaluate and
// pass through ungated; a signed commit is gated on its signer's recorded
// trust level, UNTRUSTED (explicit or the default fallback) refusing it.
func (r *Repository) tipIsTrusted(tip Hash) (bool, error) {
	commit, err := r.GetCommit(tip)
	if err != nil {
		return false, err
	}
	fp := commit.Metadata["signing_key_id"]
	if fp == "" {
		return true, nil
	}
	level, err := r.TrustLevelFor(fp)
	if err != nil {
		return false, err
	}
	return level != TrustUntrusted, nil
}

// strippedRefName drops the "heads/"/"tags/" kind prefix a Transport's ref
// map key carries, leaving the bare branch/tag name.
func strippedRefName(refName string) string {
	for _, prefix := range []string{"heads/", "tags/"} {
		if len(refName) > len(prefix) && refName[:len(prefix)] == prefix {
			return refName[len(prefix):]
		}
	}
	return refName
}

// fetchCommitGraph walks commits reachable from tip that the local object
// store doesn't already have, quarantining every object (commit, tree,
// blob) as it streams in and promoting signing keys it has never seen via
// QuarantineKey (§4.9). Returns the number of objects fetched.
func fetchCommitGraph(ctx context.Context, repo *Repository, t Transport, tip Hash, seen map[Hash]bool) (int, error) {
	fetched := 0
	queue := []Hash{tip}

	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if h == "" || seen[h] || repo.objects.Exists(h) {
			continue
		}
		if ctx.Err() != nil {
			return fetched, errs.Wrap(errs.Cancelled, "fetch object walk", ctx.Err())
		}
		seen[h] = true

		if err := fetchOneObject(ctx, repo, t, h); err != nil {
			return fetched, err
		}
		fetched++

		kind, payload, err := repo.objects.Get(h)
		if err != nil {
			return fetched, err
		}

		switch kind {
		case CommitObject:
			c, err := DecodeCommit(payload)
			if err != nil {
				return fetched, err
			}
			if fp := c.Metadata["signing_key_id"]; fp != "" {
				if err := repo.QuarantineKey(fp); err != nil {
					return fetched, err
				}
			}
			queue = append(queue, c.Tree)
			queue = append(queue, c.Parents...)
		case TreeObject:
			tree, err := DecodeTree(payload)
			if err != nil {
				return fetched, err
			}
			for _, e := range tree.Entries {
				queue = append(queue, e.Hash)
			}
		}
	}

	return fetched, nil
}

// fetchOneObject reads one object from the remote, verifies it rehashes to
// its claimed name before storing it locally (HashMismatch otherwise),
// implementing the "stream into quarantine, promote on success" language
// of §4.10 as a single atomic store: an object that fails verification is
// never written to the local store at all.
func fetchOneObject(ctx context.Context, repo *Repository, t Transport, h Hash) error {
	raw, err := t.ReadObject(ctx, string(h))
	if err != nil {
		return errs.Wrap(errs.TransportError, fmt.Sprintf("reading object %s", h.Short()), err)
	}
	kind, payload, err := SplitCanonical(raw)
	if err != nil {
		return errs.Wrap(errs.PackCorrupt, fmt.Sprintf("decoding object %s", h.Short()), err)
	}
	if got := HashOf(kind, payload); got != h {
		return errs.New(errs.HashMismatch, fmt.Sprintf("remote object %s rehashed to %s", h.Short(), got.Short()))
	}
	_, err = repo.objects.Put(kind, payload)
	return err
}

// Pull implements §4.10's pull: fetch the named remote branch, then merge
// its new tip into the current branch via Merge (§4.6).
func Pull(ctx context.Context, repo *Repository, remote, branch string, t Transport, author Signature) (Hash, bool, error) {
	fetchResult, err := Fetch(ctx, repo, remote, t, []string{"heads/" + branch})
	if err != nil {
		return "", false, err
	}
	if tip, quarantined := fetchResult.Quarantined["heads/"+branch]; quarantined {
		return "", false, errs.New(errs.UntrustedKey, fmt.Sprintf("remote heads/%s tip %s is signed by an untrusted key; objects quarantined, ref not advanced", branch, tip.Short()))
	}

	remoteBranches, err := repo.RemoteBranches(remote)
	if err != nil {
		return "", false, err
	}
	theirs, ok := remoteBranches[branch]
	if !ok {
		return "", false, errs.New(errs.NotFound, fmt.Sprintf("remote %s has no branch %s", remote, branch))
	}

	commitHash, ff, err := repo.Merge(theirs, author, fmt.Sprintf("pull %s/%s", remote, branch))
	if err != nil {
		return "", false, err
	}
	if err := repo.AppendAudit("pull", map[string]string{"remote": remote, "branch": branch, "tip": string(theirs)}); err != nil {
		return commitHash, ff, err
	}
	return commitHash, ff, nil
}

// PushResult summarizes one Push call.
type PushResult struct {
	ObjectsSent int
}

// Push implements §4.10's push: walk locally from localTip back to
// whatever the remote already has, stream the missing objects over, then
// attempt CASUpdateRef — which the remote only accepts if its current tip
// is an ancestor of localTip (fast-forward). No force option exists: a
// rejected CAS leaves the remote untouched and returns NonFastForward.
func Push(ctx context.Context, repo *Repository, remote, branch string, t Transport) (*PushResult, error) {
	localBranches, err := repo.Branches()
	if err != nil {
		return nil, err
	}
	localTip, ok := localBranches["heads/"+branch]
	if !ok {
		return nil, errs.New(errs.NotFound, fmt.Sprintf("no local branch %s", branch))
	}

	remoteRefs, err := t.ListRefs(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.TransportError, "listing remote refs", err)
	}
	remoteTipHex := remoteRefs["heads/"+branch]

	var remoteTip Hash
	if remoteTipHex != "" {
		remoteTip, err = NewHash(remoteTipHex)
		if err != nil {
			return nil, fmt.Errorf("remote tip: %w", err)
		}
		if ok, err := IsAncestor(repo, remoteTip, localTip); err != nil {
			return nil, err
		} else if !ok && remoteTip != localTip {
			return nil, errs.New(errs.NonFastForward, fmt.Sprintf("remote heads/%s is not an ancestor of local tip", branch))
		}
	}

	result := &PushResult{}
	sent := make(map[Hash]bool)
	if err := pushCommitGraph(ctx, repo, t, localTip, remoteRefs, sent, result); err != nil {
		return result, err
	}

	if err := t.CASUpdateRef(ctx, "heads/"+branch, remoteTipHex, string(localTip)); err != nil {
		if errors.Is(err, ErrRefChanged) {
			return result, errs.New(errs.NonFastForward, fmt.Sprintf("remote heads/%s changed concurrently", branch))
		}
		return result, errs.Wrap(errs.TransportError, "updating remote ref", err)
	}

	if err := repo.AppendAudit("push", map[string]string{"remote": remote, "branch": branch, "tip": string(localTip)}); err != nil {
		return result, err
	}
	return result, nil
}

// pushCommitGraph walks commits reachable from tip that the remote doesn't
// already report having (cheaply approximated: every ref the remote
// listed marks its tip's existence, not its full ancestry — an object
// WriteObject already has is a no-op on the remote side regardless).
func pushCommitGraph(ctx context.Context, repo *Repository, t Transport, tip Hash, remoteRefs map[string]string, sent map[Hash]bool, result *PushResult) error {
	remoteHas := make(map[Hash]bool, len(remoteRefs))
	for _, hex := range remoteRefs {
		if h, err := NewHash(hex); err == nil {
			remoteHas[h] = true
		}
	}

	queue := []Hash{tip}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if h == "" || sent[h] || remoteHas[h] {
			continue
		}
		if ctx.Err() != nil {
			return errs.Wrap(errs.Cancelled, "push object walk", ctx.Err())
		}
		sent[h] = true

		kind, payload, err := repo.objects.Get(h)
		if err != nil {
			return err
		}
		if err := t.WriteObject(ctx, string(h), CanonicalForm(kind, payload)); err != nil {
			return errs.Wrap(errs.TransportError, fmt.Sprintf("writing object %s", h.Short()), err)
		}
		result.ObjectsSent++

		switch kind {
		case CommitObject:
			c, err := DecodeCommit(payload)
			if err != nil {
				return err
			}
			queue = append(queue, c.Tree)
			queue = append(queue, c.Parents...)
		case TreeObject:
			tree, err := DecodeTree(payload)
			if err != nil {
				return err
			}
			for _, e := range tree.Entries {
				queue = append(queue, e.Hash)
			}
		}
	}
	return nil
}

// IsAncestor reports whether ancestor is reachable from descendant by
// walking parent links, used by Push's fast-forward check.
func IsAncestor(repo *Repository, ancestor, descendant Hash) (bool, error) {
	if ancestor == "" {
		return true, nil
	}
	if ancestor == descendant {
		return true, nil
	}
	visited := make(map[Hash]bool)
	queue := []Hash{descendant}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if h == "" || visited[h] {
			continue
		}
		visited[h] = true
		if h == ancestor {
			return true, nil
		}
		c, err := repo.GetCommit(h)
		if err != nil {
			continue
		}
		queue = append(queue, c.Parents...)
	}
	return false, nil
}
