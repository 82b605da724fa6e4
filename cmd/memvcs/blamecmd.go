package main

import (
	"fmt"
	"os"
	"path"

	"github.com/agentmem/memvcs/internal/memcore"
	"github.com/agentmem/memvcs/internal/termcolor"
)

// runBlame implements `memvcs blame <path>`: shows the most recent commit
// that changed path, walking first-parent-and-merge ancestry from HEAD.
func runBlame(repo *memcore.Repository, args []string, cw *termcolor.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: memvcs blame <path>")
		return 1
	}
	filePath := path.Clean(args[0])
	dir := path.Dir(filePath)
	if dir == "." {
		dir = ""
	}
	name := path.Base(filePath)

	head, err := repo.Head()
	if err != nil {
		return fatalf("%v", err)
	}
	if head.Hash == "" {
		fmt.Fprintln(os.Stderr, "fatal: no commits yet")
		return 128
	}

	blame, err := repo.GetFileBlame(head.Hash, dir)
	if err != nil {
		return fatalf("%v", err)
	}

	entry, ok := blame[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "fatal: no such path: %s\n", filePath)
		return 1
	}

	fmt.Printf("%s %-12s %s  %s\n", cw.Yellow(entry.CommitHash.Short()), entry.AuthorName, memDateFormat(entry.When), entry.CommitMessage)
	return 0
}
