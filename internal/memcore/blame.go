package memcore

import (
	"fmt"
	"time"
)

// BlameEntry records which commit last modified an entry at some path.
type BlameEntry struct {
	CommitHash    Hash
	CommitMessage string
	AuthorName    string
	When          time.Time
}

// GetFileBlame returns, for each immediate child of dirPath in commitHash's
// tree, the most recent commit (walking first-parent-and-merge ancestry,
// breadth-first, at most maxBlameDepth generations back) that introduced or
// changed it.
func (r *Repository) GetFileBlame(commitHash Hash, dirPath string) (map[string]*BlameEntry, error) {
	const maxBlameDepth = 1000

	targetCommit, err := r.GetCommit(commitHash)
	if err != nil {
		return nil, fmt.Errorf("commit not found: %s: %w", commitHash, err)
	}
	targetTree, err := resolveTreeAtPath(r, targetCommit.Tree, dirPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tree at path %q: %w", dirPath, err)
	}

	current := make(map[string]Hash, len(targetTree.Entries))
	for _, entry := range targetTree.Entries {
		current[entry.Name] = entry.Hash
	}

	blame := make(map[string]*BlameEntry)

	type queueItem struct {
		hash   Hash
		commit *Commit
		depth  int
	}
	queue := []queueItem{{hash: commitHash, commit: targetCommit, depth: 0}}
	visited := map[Hash]bool{commitHash: true}

	record := func(name string, hash Hash, c *Commit) {
		blame[name] = &BlameEntry{
			CommitHash:    hash,
			CommitMessage: firstLine(c.Message),
			AuthorName:    c.Author.Name,
			When:          c.Author.When,
		}
	}

	for len(queue) > 0 && len(blame) < len(current) {
		item := queue[0]
		queue = queue[1:]
		if item.depth >= maxBlameDepth {
			continue
		}

		for _, parentHash := range item.commit.Parents {
			if visited[parentHash] {
				continue
			}
			visited[parentHash] = true

			parentCommit, err := r.GetCommit(parentHash)
			if err != nil {
				continue
			}

			parentTree, err := resolveTreeAtPath(r, parentCommit.Tree, dirPath)
			if err != nil {
				for name := range current {
					if _, done := blame[name]; !done {
						record(name, item.hash, item.commit)
					}
				}
				continue
			}

			parentEntries := make(map[string]Hash, len(parentTree.Entries))
			for _, entry := range parentTree.Entries {
				parentEntries[entry.Name] = entry.Hash
			}

			for name, hash := range current {
				if _, done := blame[name]; done {
					continue
				}
				if ph, existed := parentEntries[name]; !existed || ph != hash {
					record(name, item.hash, item.commit)
				}
			}

			queue = append(queue, queueItem{hash: parentHash, commit: parentCommit, depth: item.depth + 1})
		}

		if len(item.commit.Parents) == 0 {
			for name := range current {
				if _, done := blame[name]; !done {
					record(name, item.hash, item.commit)
				}
			}
		}
	}

	for name := range current {
		if _, done := blame[name]; !done {
			record(name, commitHash, targetCommit)
		}
	}

	return blame, nil
}

func firstLine(message string) string {
	for i, c := range message {
		if c == '\n' {
			return message[:i]
		}
	}
	return message
}
