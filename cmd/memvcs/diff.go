package main

import (
	"fmt"
	"os"

	"github.com/agentmem/memvcs/internal/memcore"
	"github.com/agentmem/memvcs/internal/termcolor"
)

func runDiff(repo *memcore.Repository, args []string, cw *termcolor.Writer) int {
	stat := false
	var revs []string

	for _, arg := range args {
		if arg == "--stat" {
			stat = true
		} else {
			revs = append(revs, arg)
		}
	}

	if len(revs) != 2 {
		fmt.Fprintln(os.Stderr, "usage: memvcs diff [--stat] <commit1> <commit2>")
		return 1
	}

	hash1, err := resolveRevision(repo, revs[0])
	if err != nil {
		return fatalf("%v", err)
	}
	hash2, err := resolveRevision(repo, revs[1])
	if err != nil {
		return fatalf("%v", err)
	}

	commit1, err := repo.GetCommit(hash1)
	if err != nil {
		return fatalf("%v", err)
	}
	commit2, err := repo.GetCommit(hash2)
	if err != nil {
		return fatalf("%v", err)
	}

	entries, err := memcore.TreeDiff(repo, commit1.Tree, commit2.Tree, "")
	if err != nil {
		return fatalf("%v", err)
	}

	if stat {
		return printDiffStat(entries)
	}
	return printUnifiedDiff(repo, entries, cw)
}

func printUnifiedDiff(repo *memcore.Repository, entries []memcore.DiffEntry, cw *termcolor.Writer) int {
	for _, entry := range entries {
		path := entry.Path

		fmt.Println(cw.Bold(fmt.Sprintf("diff --mem a/%s b/%s", path, path)))

		oldHash := entry.OldHash.Short()
		newHash := entry.NewHash.Short()
		if oldHash == "" {
			oldHash = "0000000"
		}
		if newHash == "" {
			newHash = "0000000"
		}

		switch entry.Status {
		case memcore.DiffStatusAdded:
			fmt.Println(cw.Bold("new file 100644"))
			fmt.Println(cw.Bold(fmt.Sprintf("index %s..%s", oldHash, newHash)))
		case memcore.DiffStatusDeleted:
			fmt.Println(cw.Bold("deleted file 100644"))
			fmt.Println(cw.Bold(fmt.Sprintf("index %s..%s", oldHash, newHash)))
		default:
			fmt.Println(cw.Bold(fmt.Sprintf("index %s..%s", oldHash, newHash)))
		}

		if entry.IsBinary {
			fmt.Println("Binary files differ")
			continue
		}

		fileDiff, err := memcore.ComputeFileDiff(repo, entry.OldHash, entry.NewHash, path, memcore.DefaultContextLines)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			continue
		}
		if fileDiff.IsBinary {
			fmt.Println("Binary files differ")
			continue
		}

		if entry.Status == memcore.DiffStatusAdded {
			fmt.Println(cw.Bold("--- /dev/null"))
		} else {
			fmt.Println(cw.Bold(fmt.Sprintf("--- a/%s", path)))
		}
		if entry.Status == memcore.DiffStatusDeleted {
			fmt.Println(cw.Bold("+++ /dev/null"))
		} else {
			fmt.Println(cw.Bold(fmt.Sprintf("+++ b/%s", path)))
		}

		for _, hunk := range fileDiff.Hunks {
			fmt.Println(cw.Cyan(fmt.Sprintf("@@ -%d,%d +%d,%d @@", hunk.OldStart, hunk.OldLines, hunk.NewStart, hunk.NewLines)))
			for _, line := range hunk.Lines {
				switch line.Type {
				case "context":
					fmt.Printf(" %s\n", line.Content)
				case "addition":
					fmt.Println(cw.Green(fmt.Sprintf("+%s", line.Content)))
				case "deletion":
					fmt.Println(cw.Red(fmt.Sprintf("-%s", line.Content)))
				}
			}
		}
	}
	return 0
}

func printDiffStat(entries []memcore.DiffEntry) int {
	if len(entries) == 0 {
		return 0
	}

	maxNameLen := 0
	for _, e := range entries {
		if len(e.Path) > maxNameLen {
			maxNameLen = len(e.Path)
		}
	}

	for _, e := range entries {
		if e.IsBinary {
			fmt.Printf(" %-*s | Bin\n", maxNameLen, e.Path)
			continue
		}
		switch e.Status {
		case memcore.DiffStatusAdded:
			fmt.Printf(" %-*s | (new)\n", maxNameLen, e.Path)
		case memcore.DiffStatusDeleted:
			fmt.Printf(" %-*s | (gone)\n", maxNameLen, e.Path)
		default:
			fmt.Printf(" %-*s | (modified)\n", maxNameLen, e.Path)
		}
	}

	fmt.Printf(" %d file(s) changed\n", len(entries))
	return 0
}
