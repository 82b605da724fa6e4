package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/agentmem/memvcs/internal/memcore"
	"github.com/agentmem/memvcs/internal/termcolor"
)

// runBranch lists branches with no arguments, creates one with a name and
// an optional start point, or deletes one with -d.
func runBranch(repo *memcore.Repository, args []string, cw *termcolor.Writer) int {
	if len(args) > 0 {
		lock, err := repo.Lock(defaultLockTimeout)
		if err != nil {
			return fatalf("%v", err)
		}
		defer lock.Unlock()
	}
	if len(args) > 0 && args[0] == "-d" {
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: memvcs branch -d <name>")
			return 1
		}
		if err := repo.DeleteBranch(args[1]); err != nil {
			return fatalf("%v", err)
		}
		if err := repo.AppendAudit("branch", map[string]string{"deleted": args[1]}); err != nil {
			return fatalf("%v", err)
		}
		return 0
	}

	if len(args) > 0 {
		name := args[0]
		start := "HEAD"
		if len(args) > 1 {
			start = args[1]
		}
		hash, err := resolveRevision(repo, start)
		if err != nil {
			return fatalf("%v", err)
		}
		if err := repo.SetBranch(name, hash); err != nil {
			return fatalf("%v", err)
		}
		if err := repo.AppendAudit("branch", map[string]string{"created": name, "at": string(hash)}); err != nil {
			return fatalf("%v", err)
		}
		return 0
	}

	branches, err := repo.Branches()
	if err != nil {
		return fatalf("%v", err)
	}
	names := make([]string, 0, len(branches))
	for name := range branches {
		names = append(names, name)
	}
	sort.Strings(names)

	head, err := repo.Head()
	if err != nil {
		return fatalf("%v", err)
	}
	current := ""
	if head.Branch != "" {
		current = "heads/" + head.Branch
	}

	for _, name := range names {
		label := name[len("heads/"):]
		if name == current {
			fmt.Printf("* %s\n", cw.Green(label))
		} else {
			fmt.Printf("  %s\n", label)
		}
	}
	return 0
}
