package memcore

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/agentmem/memvcs/internal/memcore/errs"
)

// dirNode is a scratch in-memory directory used while building trees
// bottom-up from the staging index.
type dirNode struct {
	children map[string]*dirNode
	files    map[string]Hash
}

func newDirNode() *dirNode {
	return &dirNode{children: map[string]*dirNode{}, files: map[string]Hash{}}
}

// buildTreeFromIndex constructs and writes every directory's tree object
// bottom-up from the staging index's flat path set, writing each tree once,
// and returns the root tree's hash.
func buildTreeFromIndex(objects *ObjectStore, idx *Index) (Hash, error) {
	root := newDirNode()
	for _, path := range idx.SortedPaths() {
		entry := idx.Entries[path]
		parts := strings.Split(path, "/")
		node := root
		for i := 0; i < len(parts)-1; i++ {
			name := parts[i]
			child, ok := node.children[name]
			if !ok {
				child = newDirNode()
				node.children[name] = child
			}
			node = child
		}
		node.files[parts[len(parts)-1]] = entry.Hash
	}
	return writeDirNode(objects, root)
}

func writeDirNode(objects *ObjectStore, node *dirNode) (Hash, error) {
	entries := make([]TreeEntry, 0, len(node.files)+len(node.children))
	for name, hash := range node.files {
		entries = append(entries, TreeEntry{Name: name, Kind: EntryBlob, Hash: hash})
	}
	for name, child := range node.children {
		childHash, err := writeDirNode(objects, child)
		if err != nil {
			return "", err
		}
		entries = append(entries, TreeEntry{Name: name, Kind: EntryTree, Hash: childHash})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return objects.PutTree(&Tree{Entries: entries})
}

// BuildCommit implements build_commit (§4.5): construct trees bottom-up
// from the current staging index, form the commit with a canonical
// timestamp, have the crypto layer compute and (if a signing key is
// configured) sign the Merkle root, store the commit, advance the current
// branch (or HEAD, if detached), and append reflog and audit entries.
// Refused with MergingState while unresolved merge conflicts are pending —
// the only commit allowed during that window is the merge-completion
// commit Resolve writes once every conflict clears.
func (r *Repository) BuildCommit(parents []Hash, author Signature, message string) (Hash, error) {
	if inMerge, err := r.InMergingState(); err != nil {
		return "", err
	} else if inMerge {
		return "", errs.New(errs.MergingState, "repository has unresolved merge conflicts; run resolve first")
	}
	return r.buildCommitImpl(parents, author, message, ReflogCommit, nil)
}

func (r *Repository) buildCommitImpl(parents []Hash, author Signature, message string, reflogOp ReflogOp, extraMetadata map[string]string) (Hash, error) {
	idx, err := ReadIndex(r.gitDir)
	if err != nil {
		return "", err
	}

	rootTree, err := buildTreeFromIndex(r.objects, idx)
	if err != nil {
		return "", fmt.Errorf("building tree from staging index: %w", err)
	}

	commit := &Commit{
		Tree:      rootTree,
		Parents:   parents,
		Author:    author,
		Committer: author,
		Message:   message,
		Metadata:  map[string]string{},
	}

	for k, v := range extraMetadata {
		commit.Metadata[k] = v
	}

	leaves, err := MerkleLeavesFromTree(r, rootTree)
	if err != nil {
		return "", fmt.Errorf("computing merkle leaves: %w", err)
	}
	root := ComputeMerkleRoot(leaves)
	commit.Metadata["merkle_root"] = string(root)

	priv, ok, err := r.SigningKey()
	if err != nil {
		return "", fmt.Errorf("loading signing key: %w", err)
	}
	if ok {
		sig := SignRoot(priv, root)
		pub := priv.Public().(ed25519.PublicKey)
		commit.Metadata["signature"] = hex.EncodeToString(sig)
		commit.Metadata["signing_key_id"] = KeyFingerprint(pub)
	}

	commitHash, err := r.objects.PutCommit(commit)
	if err != nil {
		return "", fmt.Errorf("storing commit: %w", err)
	}

	head, err := r.Head()
	if err != nil {
		return "", err
	}

	if head.Detached {
		if err := r.SetHeadDetached(commitHash); err != nil {
			return "", err
		}
	} else {
		if err := r.SetBranch(head.Branch, commitHash); err != nil {
			return "", err
		}
	}

	if err := r.AppendReflog(head.Hash, commitHash, reflogOp, firstLine(message)); err != nil {
		return "", fmt.Errorf("appending reflog: %w", err)
	}
	if err := r.AppendAudit("commit", map[string]string{
		"commit":  string(commitHash),
		"tree":    string(rootTree),
		"parents": strings.Join(hashStrings(parents), ","),
	}); err != nil {
		return "", fmt.Errorf("appending audit entry: %w", err)
	}

	return commitHash, nil
}

func hashStrings(hs []Hash) []string {
	out := make([]string, len(hs))
	for i, h := range hs {
		out[i] = string(h)
	}
	return out
}

// WalkCommits yields commits reachable from startHash in parent-chain
// order. Multi-parent exploration is depth-first with the first parent
// preferred (matching `HEAD~n`, which follows first-parent only), and a
// visited set keyed by commit hash prevents revisiting shared ancestors of
// a merge commit. The walk stops early if fn returns cont=false.
func WalkCommits(repo *Repository, startHash Hash, fn func(hash Hash, commit *Commit) (cont bool, err error)) error {
	visited := make(map[Hash]bool)

	var walk func(h Hash) (bool, error)
	walk = func(h Hash) (bool, error) {
		if h == "" || visited[h] {
			return true, nil
		}
		visited[h] = true

		c, err := repo.GetCommit(h)
		if err != nil {
			return false, err
		}

		cont, err := fn(h, c)
		if err != nil || !cont {
			return cont, err
		}

		for _, parentHash := range c.Parents {
			cont, err := walk(parentHash)
			if err != nil || !cont {
				return cont, err
			}
		}
		return true, nil
	}

	_, err := walk(startHash)
	return err
}

// Reset moves the current branch (or HEAD, if detached) to target. When
// mixed is true the staging index is also reloaded from target's tree;
// otherwise only the ref moves (soft reset). There is no working-tree
// discard — this stays within the "soft/mixed only" scope named in
// SPEC_FULL.md's supplemented-features list.
func (r *Repository) Reset(target Hash, mixed bool) error {
	head, err := r.Head()
	if err != nil {
		return err
	}

	if head.Detached {
		if err := r.SetHeadDetached(target); err != nil {
			return err
		}
	} else {
		if err := r.SetBranch(head.Branch, target); err != nil {
			return err
		}
	}
	if err := r.AppendReflog(head.Hash, target, ReflogReset, "reset"); err != nil {
		return err
	}

	if mixed {
		commit, err := r.GetCommit(target)
		if err != nil {
			return err
		}
		flat, err := flattenTree(r, commit.Tree, "")
		if err != nil {
			return err
		}
		idx := NewIndex()
		for path, hash := range flat {
			idx.Stage(path, hash, 0, 0, 0)
		}
		if err := idx.Save(r.gitDir); err != nil {
			return err
		}
	}

	return r.AppendAudit("reset", map[string]string{
		"target": string(target),
		"mixed":  fmt.Sprintf("%v", mixed),
	})
}
