package main

import (
	"fmt"
	"os"

	"github.com/agentmem/memvcs/internal/memcore"
)

func runCatFile(repo *memcore.Repository, args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: memvcs cat-file (-t|-s|-p) <object>")
		return 1
	}

	flag := args[0]
	rev := args[1]

	hash, err := resolveRevision(repo, rev)
	if err != nil {
		return fatalf("%v", err)
	}

	kind, payload, err := repo.Objects().Get(hash)
	if err != nil {
		return fatalf("%v", err)
	}

	switch flag {
	case "-t":
		fmt.Println(kind)
		return 0
	case "-s":
		fmt.Println(len(payload))
		return 0
	case "-p":
		return catFilePretty(repo, hash, kind)
	default:
		fmt.Fprintf(os.Stderr, "error: unknown flag: %q\n", flag)
		return 1
	}
}

func catFilePretty(repo *memcore.Repository, hash memcore.Hash, kind memcore.ObjectType) int {
	switch kind {
	case memcore.CommitObject:
		return prettyPrintCommit(repo, hash)
	case memcore.TreeObject:
		return prettyPrintTree(repo, hash)
	case memcore.BlobObject:
		return prettyPrintBlob(repo, hash)
	default:
		fmt.Fprintf(os.Stderr, "fatal: unknown object type for %s\n", hash)
		return 128
	}
}

func prettyPrintCommit(repo *memcore.Repository, hash memcore.Hash) int {
	commit, err := repo.GetCommit(hash)
	if err != nil {
		return fatalf("%v", err)
	}

	fmt.Printf("tree %s\n", commit.Tree)
	for _, p := range commit.Parents {
		fmt.Printf("parent %s\n", p)
	}
	fmt.Printf("author %s\n", commit.Author.String())
	fmt.Printf("committer %s\n", commit.Committer.String())
	for k, v := range commit.Metadata {
		fmt.Printf("%s %s\n", k, v)
	}
	fmt.Println()
	fmt.Println(commit.Message)
	return 0
}

func prettyPrintTree(repo *memcore.Repository, hash memcore.Hash) int {
	tree, err := repo.GetTree(hash)
	if err != nil {
		return fatalf("%v", err)
	}

	for _, entry := range tree.Entries {
		kindName := "blob"
		mode := "100644"
		if entry.Kind == memcore.EntryTree {
			kindName = "tree"
			mode = "040000"
		}
		fmt.Printf("%s %s %s\t%s\n", mode, kindName, entry.Hash, entry.Name)
	}
	return 0
}

func prettyPrintBlob(repo *memcore.Repository, hash memcore.Hash) int {
	data, err := repo.GetBlob(hash)
	if err != nil {
		return fatalf("%v", err)
	}
	_, _ = os.Stdout.Write(data)
	return 0
}
