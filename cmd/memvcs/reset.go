package main

import (
	"fmt"
	"os"

	"github.com/agentmem/memvcs/internal/memcore"
)

// runReset implements `memvcs reset [--mixed] <rev>`: moves the current
// branch (or HEAD, if detached) to rev, reloading the staging index from
// rev's tree unless --soft is given.
func runReset(repo *memcore.Repository, args []string) int {
	mixed := true
	var rev string
	for _, a := range args {
		switch a {
		case "--soft":
			mixed = false
		case "--mixed":
			mixed = true
		default:
			rev = a
		}
	}
	if rev == "" {
		fmt.Fprintln(os.Stderr, "usage: memvcs reset [--soft|--mixed] <rev>")
		return 1
	}

	lock, err := repo.Lock(defaultLockTimeout)
	if err != nil {
		return fatalf("%v", err)
	}
	defer lock.Unlock()

	target, err := resolveRevision(repo, rev)
	if err != nil {
		return fatalf("%v", err)
	}

	if err := repo.Reset(target, mixed); err != nil {
		return fatalf("%v", err)
	}

	fmt.Printf("reset to %s\n", target.Short())
	return 0
}
