package main

import (
	"fmt"
	"os"

	"github.com/agentmem/memvcs/internal/memcore"
)

// runStage implements `memvcs stage <path>...` and `memvcs stage --all`,
// mapping working-tree paths into the staging index (§4.4).
func runStage(repo *memcore.Repository, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: memvcs stage (--all | <path>...)")
		return 1
	}

	lock, err := repo.Lock(defaultLockTimeout)
	if err != nil {
		return fatalf("%v", err)
	}
	defer lock.Unlock()

	if len(args) == 1 && (args[0] == "--all" || args[0] == "-A") {
		if err := repo.StageAll(); err != nil {
			return fatalf("%v", err)
		}
		if err := repo.AppendAudit("stage", map[string]string{"all": "true"}); err != nil {
			return fatalf("%v", err)
		}
		return 0
	}

	for _, path := range args {
		if err := repo.Stage(path); err != nil {
			return fatalf("%v", err)
		}
		if err := repo.AppendAudit("stage", map[string]string{"path": path}); err != nil {
			return fatalf("%v", err)
		}
	}
	return 0
}
