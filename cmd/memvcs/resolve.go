package main

import (
	"fmt"
	"os"

	"github.com/agentmem/memvcs/internal/memcore"
)

// runResolve implements `memvcs resolve <path> (ours|theirs|both)`,
// clearing one conflicted path from the pending merge state. Once every
// conflict clears, it writes the merge-completion commit.
func runResolve(repo *memcore.Repository, args []string) int {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: memvcs resolve <path> (ours|theirs|both)")
		return 1
	}
	path := args[0]
	var side memcore.ResolveSide
	switch args[1] {
	case "ours":
		side = memcore.ResolveOurs
	case "theirs":
		side = memcore.ResolveTheirs
	case "both":
		side = memcore.ResolveBoth
	default:
		fmt.Fprintf(os.Stderr, "error: unknown side: %q (want ours|theirs|both)\n", args[1])
		return 1
	}

	lock, err := repo.Lock(defaultLockTimeout)
	if err != nil {
		return fatalf("%v", err)
	}
	defer lock.Unlock()

	author := currentAuthor(repo)
	hash, done, err := repo.Resolve(path, side, author)
	if err != nil {
		return fatalf("%v", err)
	}

	if done {
		fmt.Printf("merge complete: %s\n", hash.Short())
	} else {
		fmt.Printf("resolved %s; conflicts remain\n", path)
	}
	return 0
}
