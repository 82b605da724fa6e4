package main

import (
	"fmt"
	"os"

	"github.com/agentmem/memvcs/internal/memcore"
	"github.com/agentmem/memvcs/internal/memcore/errs"
)

// runMerge implements `memvcs merge <rev>`: three-way merges rev into the
// current branch per §4.6, reporting either a fast-forward, a clean merge
// commit, or the set of paths left conflicted in merge state.
func runMerge(repo *memcore.Repository, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: memvcs merge <branch|tag|commit>")
		return 1
	}

	lock, err := repo.Lock(defaultLockTimeout)
	if err != nil {
		return fatalf("%v", err)
	}
	defer lock.Unlock()

	theirsHash, err := resolveRevision(repo, args[0])
	if err != nil {
		return fatalf("%v", err)
	}

	author := currentAuthor(repo)
	hash, ff, err := repo.Merge(theirsHash, author, fmt.Sprintf("Merge %s", args[0]))
	if err != nil {
		if errs.Of(err) == errs.UnresolvedConflicts {
			fmt.Fprintln(os.Stderr, "Automatic merge failed; fix conflicts and run memvcs resolve.")
			state, stateErr := repo.LoadMergeState()
			if stateErr == nil && state != nil {
				for _, c := range state.Conflicts {
					fmt.Printf("  %s (%s)\n", c.Path, c.Strategy)
				}
			}
			return 3
		}
		return fatalf("%v", err)
	}

	if ff {
		fmt.Printf("Fast-forward to %s\n", hash.Short())
	} else {
		fmt.Printf("Merge made by the memory-type-aware strategy: %s\n", hash.Short())
	}
	return 0
}
