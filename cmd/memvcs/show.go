package main

import (
	"fmt"
	"strings"

	"github.com/agentmem/memvcs/internal/memcore"
	"github.com/agentmem/memvcs/internal/termcolor"
)

func runShow(repo *memcore.Repository, args []string, cw *termcolor.Writer) int {
	stat := false
	rev := "HEAD"

	for _, arg := range args {
		if arg == "--stat" {
			stat = true
		} else {
			rev = arg
		}
	}

	hash, err := resolveRevision(repo, rev)
	if err != nil {
		return fatalf("%v", err)
	}

	commit, err := repo.GetCommit(hash)
	if err != nil {
		return fatalf("%v", err)
	}

	branches, err := repo.Branches()
	if err != nil {
		return fatalf("%v", err)
	}
	tags, err := repo.Tags()
	if err != nil {
		return fatalf("%v", err)
	}
	head, err := repo.Head()
	if err != nil {
		return fatalf("%v", err)
	}
	decorations := buildDecorations(branches, tags, head, cw)

	decor := ""
	if d, ok := decorations[hash]; ok {
		decor = " " + cw.Yellow("(") + d + cw.Yellow(")")
	}

	fmt.Printf("%s %s%s\n", cw.Yellow("commit"), cw.Yellow(string(hash)), decor)
	if len(commit.Parents) > 1 {
		parentStrs := make([]string, len(commit.Parents))
		for j, p := range commit.Parents {
			parentStrs[j] = p.Short()
		}
		fmt.Printf("Merge: %s\n", strings.Join(parentStrs, " "))
	}
	fmt.Printf("Author: %s <%s>\n", commit.Author.Name, commit.Author.Email)
	fmt.Printf("Date:   %s\n", memDateFormat(commit.Author.When))
	if sig, ok := commit.Metadata["signing_key_id"]; ok {
		fmt.Printf("Signed-by: %s\n", sig)
	}
	fmt.Println()
	for _, line := range strings.Split(commit.Message, "\n") {
		fmt.Printf("    %s\n", line)
	}

	if len(commit.Parents) > 1 {
		return 0
	}

	var oldTreeHash memcore.Hash
	if len(commit.Parents) == 1 {
		parent, err := repo.GetCommit(commit.Parents[0])
		if err != nil {
			return fatalf("%v", err)
		}
		oldTreeHash = parent.Tree
	}

	entries, err := memcore.TreeDiff(repo, oldTreeHash, commit.Tree, "")
	if err != nil {
		return fatalf("%v", err)
	}

	if stat {
		return printDiffStat(entries)
	}

	fmt.Println()
	return printUnifiedDiff(repo, entries, cw)
}
