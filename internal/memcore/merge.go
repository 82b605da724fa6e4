package memcore

import "fmt"

// MergeBase finds the best common ancestor of two commits by bidirectional
// breadth-first walk over parent links, fetched lazily through the object
// store (the repository keeps no eager commit graph). Returns an error if
// the two histories share no ancestor.
func MergeBase(repo *Repository, ours, theirs Hash) (Hash, error) {
	if ours == theirs {
		return ours, nil
	}

	const (
		sideOurs   = 1
		sideTheirs = 2
	)

	visited := map[Hash]int{ours: sideOurs, theirs: sideTheirs}
	queue := []Hash{ours, theirs}

	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]

		side := visited[h]

		c, err := repo.GetCommit(h)
		if err != nil {
			continue
		}

		for _, parentHash := range c.Parents {
			prevSide := visited[parentHash]
			newSide := prevSide | side

			if newSide == sideOurs|sideTheirs {
				return parentHash, nil
			}
			if newSide != prevSide {
				visited[parentHash] = newSide
				queue = append(queue, parentHash)
			}
		}
	}

	return "", fmt.Errorf("no common ancestor between %s and %s", ours.Short(), theirs.Short())
}

// MergePreview computes a preview of merging theirs into ours without
// modifying the repository: it finds the merge base (the empty tree when the
// histories share no ancestor), diffs both sides against it, and classifies
// every changed path.
func MergePreview(repo *Repository, oursHash, theirsHash Hash) (*MergePreviewResult, error) {
	baseHash, err := MergeBase(repo, oursHash, theirsHash)
	if err != nil {
		baseHash = ""
	}

	oursCommit, err := repo.GetCommit(oursHash)
	if err != nil {
		return nil, fmt.Errorf("failed to get ours commit: %w", err)
	}
	theirsCommit, err := repo.GetCommit(theirsHash)
	if err != nil {
		return nil, fmt.Errorf("failed to get theirs commit: %w", err)
	}

	var baseTree Hash
	if baseHash != "" {
		baseCommit, err := repo.GetCommit(baseHash)
		if err != nil {
			return nil, fmt.Errorf("failed to get base commit: %w", err)
		}
		baseTree = baseCommit.Tree
	}

	oursDiff, err := TreeDiff(repo, baseTree, oursCommit.Tree, "")
	if err != nil {
		return nil, fmt.Errorf("failed to diff ours against base: %w", err)
	}
	theirsDiff, err := TreeDiff(repo, baseTree, theirsCommit.Tree, "")
	if err != nil {
		return nil, fmt.Errorf("failed to diff theirs against base: %w", err)
	}

	oursMap := make(map[string]DiffEntry, len(oursDiff))
	for _, e := range oursDiff {
		oursMap[e.Path] = e
	}
	theirsMap := make(map[string]DiffEntry, len(theirsDiff))
	for _, e := range theirsDiff {
		theirsMap[e.Path] = e
	}

	allPaths := make(map[string]struct{})
	for p := range oursMap {
		allPaths[p] = struct{}{}
	}
	for p := range theirsMap {
		allPaths[p] = struct{}{}
	}

	entries := make([]MergePreviewEntry, 0, len(allPaths))
	conflicts := 0

	for path := range allPaths {
		oursEntry, inOurs := oursMap[path]
		theirsEntry, inTheirs := theirsMap[path]

		entry := MergePreviewEntry{
			Path:     path,
			IsBinary: (inOurs && oursEntry.IsBinary) || (inTheirs && theirsEntry.IsBinary),
		}

		if inOurs {
			entry.OursStatus = oursEntry.Status.String()
			entry.OursHash = oursEntry.NewHash
			entry.BaseHash = oursEntry.OldHash
		}
		if inTheirs {
			entry.TheirsStatus = theirsEntry.Status.String()
			entry.TheirsHash = theirsEntry.NewHash
			if entry.BaseHash == "" {
				entry.BaseHash = theirsEntry.OldHash
			}
		}

		switch {
		case inOurs && !inTheirs:
			entry.ConflictType = ConflictNone
		case !inOurs && inTheirs:
			entry.ConflictType = ConflictNone
		case inOurs && inTheirs:
			entry.ConflictType = classifyConflict(oursEntry, theirsEntry)
		}

		if entry.ConflictType != ConflictNone {
			conflicts++
		}

		entries = append(entries, entry)
	}

	return &MergePreviewResult{
		MergeBaseHash: baseHash,
		OursHash:      oursHash,
		TheirsHash:    theirsHash,
		Entries:       entries,
		Stats: MergePreviewStats{
			TotalFiles: len(entries),
			Conflicts:  conflicts,
			CleanMerge: len(entries) - conflicts,
		},
	}, nil
}

// classifyConflict determines the conflict type when both sides changed the
// same path.
func classifyConflict(ours, theirs DiffEntry) ConflictType {
	if ours.NewHash != "" && ours.NewHash == theirs.NewHash {
		return ConflictNone
	}

	if ours.Status == DiffStatusAdded && theirs.Status == DiffStatusAdded {
		return ConflictBothAdded
	}

	if (ours.Status == DiffStatusDeleted && theirs.Status != DiffStatusDeleted) ||
		(ours.Status != DiffStatusDeleted && theirs.Status == DiffStatusDeleted) {
		return ConflictDeleteModify
	}

	if ours.Status == DiffStatusDeleted && theirs.Status == DiffStatusDeleted {
		return ConflictNone
	}

	return ConflictConflicting
}
