package memcore

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/agentmem/memvcs/internal/memcore/errs"
)

// FsckFinding is one integrity failure surfaced by Fsck, carrying the
// stable error kind (§7) and whatever context (object hash, ref name,
// audit sequence) identifies what failed.
type FsckFinding struct {
	Kind     errs.Kind
	Object   Hash
	Ref      string
	AuditSeq uint64
	Detail   string
}

// FsckReport is the outcome of one Fsck pass.
type FsckReport struct {
	Findings     []FsckFinding
	ObjectsCheck int
	Cancelled    bool
}

func (r *FsckReport) add(f FsckFinding) {
	r.Findings = append(r.Findings, f)
}

// Fsck runs the end-to-end verification of §4.13: (a) every loose and
// packed object rehashes to its own name, (b) every reachable commit's
// tree and blobs exist, (c) every ref resolves to a real commit, (d) the
// audit chain verifies, (e) every commit's merkle_root (if present)
// recomputes to match, (f) every commit's signature (if present) verifies
// against a known public key. Object rehashing is fanned out across
// worker goroutines with a join barrier, per §5/§9; the scan is checked
// for cancellation between object boundaries, and a cancelled run returns
// its partial findings with Cancelled set rather than an error, so a
// caller can still see what was checked before the signal arrived.
func Fsck(ctx context.Context, repo *Repository) (*FsckReport, error) {
	report := &FsckReport{}

	if err := fsckRehashObjects(ctx, repo, report); err != nil {
		if errs.Is(err, errs.Cancelled) {
			report.Cancelled = true
			return report, nil
		}
		return report, err
	}

	roots, refNames, err := fsckRefRoots(repo, report)
	if err != nil {
		return report, err
	}

	visitedTrees := make(map[Hash]bool)
	visitedCommits := make(map[Hash]bool)
	for i, root := range roots {
		if ctx.Err() != nil {
			report.Cancelled = true
			return report, nil
		}
		if err := fsckWalkCommit(repo, root, refNames[i], visitedCommits, visitedTrees, report); err != nil {
			return report, err
		}
	}

	if seq, err := repo.VerifyAudit(); err != nil {
		report.add(FsckFinding{Kind: errs.AuditCorrupt, AuditSeq: seq, Detail: err.Error()})
	}

	return report, nil
}

// fsckRehashObjects implements check (a), fanning loose- and packed-object
// rehashing out across an errgroup, one goroutine per object with no
// concurrency limit.
func fsckRehashObjects(ctx context.Context, repo *Repository, report *FsckReport) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	err := repo.objects.IterLoose(func(h Hash) error {
		if gctx.Err() != nil {
			return gctx.Err()
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			kind, payload, err := repo.objects.Get(h)
			mu.Lock()
			defer mu.Unlock()
			report.ObjectsCheck++
			if err != nil {
				report.add(FsckFinding{Kind: errs.NotFound, Object: h, Detail: err.Error()})
				return nil
			}
			if hashOf(kind, payload) != h {
				report.add(FsckFinding{Kind: errs.HashMismatch, Object: h, Detail: "stored bytes do not rehash to object name"})
			}
			return nil
		})
		return nil
	})
	if err != nil {
		_ = g.Wait()
		if ctx.Err() != nil {
			return errs.Wrap(errs.Cancelled, "fsck loose object scan", ctx.Err())
		}
		return err
	}

	for _, idx := range repo.objects.PackIndices() {
		for _, e := range idx.Entries() {
			e := e
			idx := idx
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				kind, payload, err := repo.objects.readPacked(idx, e.Offset, e.Hash)
				mu.Lock()
				defer mu.Unlock()
				report.ObjectsCheck++
				if err != nil {
					report.add(FsckFinding{Kind: errs.PackCorrupt, Object: e.Hash, Detail: err.Error()})
					return nil
				}
				if hashOf(kind, payload) != e.Hash {
					report.add(FsckFinding{Kind: errs.HashMismatch, Object: e.Hash, Detail: "packed bytes do not rehash to object name"})
				}
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return errs.Wrap(errs.Cancelled, "fsck object rehash", ctx.Err())
		}
		return err
	}
	return nil
}

// fsckRefRoots implements check (c): every branch, tag, and HEAD must
// resolve to a commit that actually exists.
func fsckRefRoots(repo *Repository, report *FsckReport) ([]Hash, []string, error) {
	var roots []Hash
	var names []string

	addRoot := func(name string, h Hash) error {
		if _, err := repo.GetCommit(h); err != nil {
			report.add(FsckFinding{Kind: errs.NotFound, Ref: name, Object: h, Detail: "ref does not resolve to a commit"})
			return nil
		}
		roots = append(roots, h)
		names = append(names, name)
		return nil
	}

	if head, err := repo.Head(); err == nil && head.Hash != "" {
		if err := addRoot("HEAD", head.Hash); err != nil {
			return nil, nil, err
		}
	}
	branches, err := repo.Branches()
	if err != nil {
		return nil, nil, err
	}
	for name, h := range branches {
		if err := addRoot("refs/"+name, h); err != nil {
			return nil, nil, err
		}
	}
	tags, err := repo.Tags()
	if err != nil {
		return nil, nil, err
	}
	for name, h := range tags {
		if err := addRoot("refs/"+name, h); err != nil {
			return nil, nil, err
		}
	}

	return roots, names, nil
}

// fsckWalkCommit implements checks (b), (e), and (f) along the commit
// graph reachable from one ref root.
func fsckWalkCommit(repo *Repository, root Hash, refName string, visitedCommits, visitedTrees map[Hash]bool, report *FsckReport) error {
	return WalkCommits(repo, root, func(h Hash, commit *Commit) (bool, error) {
		if visitedCommits[h] {
			return true, nil
		}
		visitedCommits[h] = true

		if err := fsckCheckTree(repo, commit.Tree, visitedTrees, report); err != nil {
			return false, err
		}

		if want, ok := commit.Metadata["merkle_root"]; ok {
			leaves, err := MerkleLeavesFromTree(repo, commit.Tree)
			if err != nil {
				return false, err
			}
			got := ComputeMerkleRoot(leaves)
			if string(got) != want {
				report.add(FsckFinding{Kind: errs.MerkleMismatch, Object: h, Detail: fmt.Sprintf("recomputed root %s != stored %s", got.Short(), Hash(want).Short())})
			}
		}

		if sigHex, ok := commit.Metadata["signature"]; ok {
			fingerprint := commit.Metadata["signing_key_id"]
			sig, err := hex.DecodeString(sigHex)
			if err != nil {
				report.add(FsckFinding{Kind: errs.SignatureInvalid, Object: h, Detail: "malformed signature encoding"})
				return true, nil
			}
			pub, known, err := repo.KnownPublicKey(fingerprint)
			if err != nil {
				return false, err
			}
			if !known {
				report.add(FsckFinding{Kind: errs.UntrustedKey, Object: h, Detail: "signature present but signing key " + fingerprint + " is not known locally"})
				return true, nil
			}
			root := Hash(commit.Metadata["merkle_root"])
			if !VerifySignature(pub, root, sig) {
				report.add(FsckFinding{Kind: errs.SignatureInvalid, Object: h, Detail: "signature does not verify under " + fingerprint})
			}
		}

		return true, nil
	})
}

// fsckCheckTree implements check (b) for one tree: every subtree and blob
// it (transitively) references must exist in the object store.
func fsckCheckTree(repo *Repository, treeHash Hash, visited map[Hash]bool, report *FsckReport) error {
	if treeHash == "" || visited[treeHash] {
		return nil
	}
	visited[treeHash] = true

	tree, err := repo.GetTree(treeHash)
	if err != nil {
		report.add(FsckFinding{Kind: errs.NotFound, Object: treeHash, Detail: "referenced tree is missing"})
		return nil
	}

	for _, entry := range tree.Entries {
		if entry.Kind == EntryTree {
			if err := fsckCheckTree(repo, entry.Hash, visited, report); err != nil {
				return err
			}
		} else if !repo.objects.Exists(entry.Hash) {
			report.add(FsckFinding{Kind: errs.NotFound, Object: entry.Hash, Detail: "referenced blob is missing"})
		}
	}
	return nil
}
