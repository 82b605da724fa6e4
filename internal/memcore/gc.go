package memcore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentmem/memvcs/internal/memcore/errs"
)

// GCStats summarizes one garbage-collection pass.
type GCStats struct {
	Reachable int
	Swept     int
	Repacked  int
	Cancelled bool
}

// Mark performs the reachability BFS of §4.11: from HEAD, every branch tip,
// every tag target, and every reflog entry newer than prune_days, walking
// each commit's full tree (and every blob it references) into the returned
// reachable set.
func Mark(repo *Repository) (map[Hash]bool, error) {
	reachable := make(map[Hash]bool)

	var roots []Hash

	if head, err := repo.Head(); err == nil && head.Hash != "" {
		roots = append(roots, head.Hash)
	}
	branches, err := repo.Branches()
	if err != nil {
		return nil, err
	}
	for _, h := range branches {
		roots = append(roots, h)
	}
	tags, err := repo.Tags()
	if err != nil {
		return nil, err
	}
	for _, h := range tags {
		roots = append(roots, h)
	}

	pruneDays := repo.config.GC.PruneDays
	cutoff := time.Now().AddDate(0, 0, -pruneDays)
	reflog, err := repo.Reflog()
	if err != nil {
		return nil, err
	}
	for _, e := range reflog {
		if e.When.After(cutoff) && e.NewHash != "" {
			roots = append(roots, e.NewHash)
		}
	}

	for _, root := range roots {
		if err := markCommitGraph(repo, root, reachable); err != nil {
			return nil, err
		}
	}

	return reachable, nil
}

func markCommitGraph(repo *Repository, start Hash, reachable map[Hash]bool) error {
	return WalkCommits(repo, start, func(hash Hash, commit *Commit) (bool, error) {
		if reachable[hash] {
			return true, nil
		}
		reachable[hash] = true
		if err := markTree(repo, commit.Tree, reachable); err != nil {
			return false, err
		}
		return true, nil
	})
}

func markTree(repo *Repository, treeHash Hash, reachable map[Hash]bool) error {
	if treeHash == "" || reachable[treeHash] {
		return nil
	}
	reachable[treeHash] = true

	tree, err := repo.GetTree(treeHash)
	if err != nil {
		return err
	}
	for _, entry := range tree.Entries {
		if entry.Kind == EntryTree {
			if err := markTree(repo, entry.Hash, reachable); err != nil {
				return err
			}
		} else {
			reachable[entry.Hash] = true
		}
	}
	return nil
}

// Sweep removes every loose object whose hash is not in reachable. Sweep
// is safe under concurrent reads: deletion only ever removes unreachable
// content-addressed objects, never one a live ref could still resolve to.
func Sweep(ctx context.Context, repo *Repository, reachable map[Hash]bool) (int, error) {
	var toDelete []Hash
	err := repo.objects.IterLoose(func(h Hash) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !reachable[h] {
			toDelete = append(toDelete, h)
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return 0, errs.Wrap(errs.Cancelled, "gc sweep scan", err)
		}
		return 0, err
	}

	swept := 0
	for _, h := range toDelete {
		if ctx.Err() != nil {
			return swept, errs.Wrap(errs.Cancelled, "gc sweep delete", ctx.Err())
		}
		if err := repo.objects.RemoveLoose(h); err != nil {
			return swept, err
		}
		swept++
	}
	return swept, nil
}

// RunGC performs one full mark-sweep(-repack) pass under the repository
// write lock and appends an audit entry, per §4.8/§4.11. When repack is
// true, every surviving reachable loose object is packed, with the
// similarity matcher (C12) proposing delta bases.
func RunGC(ctx context.Context, repo *Repository, repack bool, lockTimeout time.Duration) (*GCStats, error) {
	lock, err := repo.Lock(lockTimeout)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	reachable, err := Mark(repo)
	if err != nil {
		return nil, err
	}

	swept, err := Sweep(ctx, repo, reachable)
	if errs.Is(err, errs.Cancelled) {
		return &GCStats{Reachable: len(reachable), Swept: swept, Cancelled: true}, err
	}
	if err != nil {
		return nil, err
	}

	stats := &GCStats{Reachable: len(reachable), Swept: swept}

	if repack {
		repacked, err := repackReachable(ctx, repo, reachable)
		if err != nil {
			return stats, err
		}
		stats.Repacked = repacked
	}

	if err := repo.AppendAudit("gc", map[string]string{
		"reachable": fmt.Sprintf("%d", stats.Reachable),
		"swept":     fmt.Sprintf("%d", stats.Swept),
		"repacked":  fmt.Sprintf("%d", stats.Repacked),
	}); err != nil {
		return stats, err
	}

	return stats, nil
}

// repackReachable feeds every reachable loose object through the pack
// codec, fanning the per-object payload reads out across worker goroutines
// (the CPU-bound-scan concurrency model named in §5) and joining before
// building delta groups and writing the pack.
func repackReachable(ctx context.Context, repo *Repository, reachable map[Hash]bool) (int, error) {
	hashes := make([]Hash, 0, len(reachable))
	for h := range reachable {
		if ok, _ := repo.objects.existsLoose(h); ok {
			hashes = append(hashes, h)
		}
	}

	entries := make([]PackEntry, len(hashes))
	g, gctx := errgroup.WithContext(ctx)
	for i, h := range hashes {
		i, h := i, h
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			kind, payload, err := repo.objects.Get(h)
			if err != nil {
				return err
			}
			entries[i] = PackEntry{Hash: h, Kind: kind, Content: payload}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	deltaBase := SelectDeltaBases(entries, repo.config.Similarity.Tau1, repo.config.Similarity.Tau2, repo.config.Similarity.Tau3)

	packBytes, idxBytes, err := WritePack(entries, deltaBase, repo.config.Pack.Delta.MaxChain)
	if err != nil {
		return 0, err
	}

	if err := writePackFiles(repo.gitDir, packBytes, idxBytes); err != nil {
		return 0, err
	}

	for _, e := range entries {
		if err := repo.objects.RemoveLoose(e.Hash); err != nil {
			return 0, err
		}
	}

	if err := repo.objects.loadPackIndices(); err != nil {
		return 0, err
	}

	return len(entries), nil
}

// writePackFiles names the new pack by the content hash of its bytes (kept
// content-addressed like everything else in the store) and writes the pack
// and index atomically under <gitDir>/objects/pack.
func writePackFiles(gitDir string, packBytes, idxBytes []byte) error {
	sum := sha256.Sum256(packBytes)
	name := "pack-" + hex.EncodeToString(sum[:])

	dir := filepath.Join(gitDir, "objects", "pack")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	if err := writeFileAtomic(filepath.Join(dir, name+".pack"), packBytes); err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dir, name+".idx"), idxBytes)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-pack-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
