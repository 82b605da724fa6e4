package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/agentmem/memvcs/internal/memcore"
	"github.com/agentmem/memvcs/internal/termcolor"
)

// runTag lists tags with no arguments, or creates/deletes one named in
// args. Tags are lightweight references (§3.1): no tag object, just a
// name pointing at a commit.
func runTag(repo *memcore.Repository, args []string, _ *termcolor.Writer) int {
	if len(args) > 0 {
		lock, err := repo.Lock(defaultLockTimeout)
		if err != nil {
			return fatalf("%v", err)
		}
		defer lock.Unlock()
	}
	if len(args) > 0 && args[0] == "-d" {
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: memvcs tag -d <name>")
			return 1
		}
		if err := repo.DeleteTag(args[1]); err != nil {
			return fatalf("%v", err)
		}
		if err := repo.AppendAudit("tag", map[string]string{"deleted": args[1]}); err != nil {
			return fatalf("%v", err)
		}
		return 0
	}

	if len(args) > 0 {
		name := args[0]
		target := "HEAD"
		if len(args) > 1 {
			target = args[1]
		}
		hash, err := resolveRevision(repo, target)
		if err != nil {
			return fatalf("%v", err)
		}
		if err := repo.SetTag(name, hash); err != nil {
			return fatalf("%v", err)
		}
		if err := repo.AppendAudit("tag", map[string]string{"created": name, "at": string(hash)}); err != nil {
			return fatalf("%v", err)
		}
		return 0
	}

	tags, err := repo.Tags()
	if err != nil {
		return fatalf("%v", err)
	}
	names := make([]string, 0, len(tags))
	for name := range tags {
		names = append(names, name[len("tags/"):])
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Println(name)
	}
	return 0
}
