package main

import (
	"fmt"
	"os"

	"github.com/agentmem/memvcs/internal/memcore"
)

// runCheckout implements `memvcs checkout <rev>`: resolves rev, writes the
// working tree from its commit's tree (§4.4), and moves HEAD — to a branch
// symbolic ref if rev names one, detached otherwise.
func runCheckout(repo *memcore.Repository, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: memvcs checkout <branch|tag|commit>")
		return 1
	}
	rev := args[0]

	lock, err := repo.Lock(defaultLockTimeout)
	if err != nil {
		return fatalf("%v", err)
	}
	defer lock.Unlock()

	prevHead, err := repo.Head()
	if err != nil {
		return fatalf("%v", err)
	}

	hash, err := resolveRevision(repo, rev)
	if err != nil {
		return fatalf("%v", err)
	}

	if err := repo.Checkout(hash); err != nil {
		return fatalf("%v", err)
	}

	branches, err := repo.Branches()
	if err != nil {
		return fatalf("%v", err)
	}
	if branchHash, ok := branches["heads/"+rev]; ok && branchHash == hash {
		if err := repo.SetHeadBranch(rev); err != nil {
			return fatalf("%v", err)
		}
	} else {
		if err := repo.SetHeadDetached(hash); err != nil {
			return fatalf("%v", err)
		}
	}

	if err := repo.AppendReflog(prevHead.Hash, hash, memcore.ReflogCheckout, "checkout: "+rev); err != nil {
		return fatalf("%v", err)
	}
	if err := repo.AppendAudit("checkout", map[string]string{"target": rev, "hash": string(hash)}); err != nil {
		return fatalf("%v", err)
	}

	fmt.Printf("checked out %s\n", hash.Short())
	return 0
}
