package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/agentmem/memvcs/internal/memcore"
)

// runCommit implements `memvcs commit -m <message>`: builds a commit from
// the current staging index with one parent (the current HEAD, or none
// for the repository's first commit).
func runCommit(repo *memcore.Repository, args []string) int {
	var messageParts []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-m", "--message":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "usage: memvcs commit -m <message>")
				return 1
			}
			i++
			messageParts = append(messageParts, args[i])
		default:
			fmt.Fprintf(os.Stderr, "error: unknown option: %q\n", args[i])
			return 1
		}
	}
	if len(messageParts) == 0 {
		fmt.Fprintln(os.Stderr, "usage: memvcs commit -m <message>")
		return 1
	}
	message := strings.Join(messageParts, "\n\n")

	lock, err := repo.Lock(defaultLockTimeout)
	if err != nil {
		return fatalf("%v", err)
	}
	defer lock.Unlock()

	head, err := repo.Head()
	if err != nil {
		return fatalf("%v", err)
	}

	var parents []memcore.Hash
	if head.Hash != "" {
		parents = []memcore.Hash{head.Hash}
	}

	author := currentAuthor(repo)
	hash, err := repo.BuildCommit(parents, author, message)
	if err != nil {
		return fatalf("%v", err)
	}

	fmt.Println(hash)
	return 0
}
