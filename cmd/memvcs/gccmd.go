package main

import (
	"context"
	"fmt"
	"os"

	"github.com/agentmem/memvcs/internal/memcore"
	"github.com/agentmem/memvcs/internal/progress"
)

// runGC implements `memvcs gc [--repack]`: mark-and-sweep of loose objects
// unreachable from any ref/HEAD/reflog entry newer than prune_days,
// optionally repacking everything that survives (§4.11).
func runGC(repo *memcore.Repository, args []string) int {
	repack := false
	for _, a := range args {
		if a == "--repack" {
			repack = true
		}
	}

	sp := progress.New("collecting garbage")
	sp.Start()
	stats, err := memcore.RunGC(context.Background(), repo, repack, defaultLockTimeout)
	sp.Stop()
	if stats == nil {
		return fatalf("%v", err)
	}

	fmt.Printf("reachable: %d, swept: %d, repacked: %d\n", stats.Reachable, stats.Swept, stats.Repacked)
	if stats.Cancelled {
		fmt.Fprintln(os.Stderr, "gc: cancelled before completion")
		return 1
	}
	if err != nil {
		return fatalf("%v", err)
	}
	return 0
}
