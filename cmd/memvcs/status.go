package main

import (
	"fmt"
	"sort"

	"github.com/agentmem/memvcs/internal/memcore"
	"github.com/agentmem/memvcs/internal/termcolor"
)

const (
	statusModified = "modified"
	statusDeleted  = "deleted"
)

func runStatus(repo *memcore.Repository, args []string, cw *termcolor.Writer) int {
	porcelain := false
	for _, arg := range args {
		if arg == "-s" || arg == "--porcelain" {
			porcelain = true
		}
	}

	status, err := memcore.ComputeWorkingTreeStatus(repo)
	if err != nil {
		return fatalf("%v", err)
	}

	sort.Slice(status.Files, func(i, j int) bool {
		return status.Files[i].Path < status.Files[j].Path
	})

	if porcelain {
		return printPorcelain(status)
	}
	return printLongStatus(repo, status, cw)
}

func printPorcelain(status *memcore.WorkingTreeStatus) int {
	for _, f := range status.Files {
		x, y := statusCodes(f)
		fmt.Printf("%c%c %s\n", x, y, f.Path)
	}
	return 0
}

func statusCodes(f memcore.FileStatus) (x, y byte) {
	x, y = ' ', ' '
	if f.IsUntracked {
		return '?', '?'
	}
	switch f.IndexStatus {
	case "added":
		x = 'A'
	case statusModified:
		x = 'M'
	case statusDeleted:
		x = 'D'
	}
	switch f.WorkStatus {
	case statusModified:
		y = 'M'
	case statusDeleted:
		y = 'D'
	}
	return x, y
}

func printLongStatus(repo *memcore.Repository, status *memcore.WorkingTreeStatus, cw *termcolor.Writer) int {
	head, err := repo.Head()
	if err != nil {
		return fatalf("%v", err)
	}
	if !head.Detached {
		fmt.Printf("On branch %s\n", cw.Green(head.Branch))
	} else {
		fmt.Printf("HEAD detached at %s\n", head.Hash.Short())
	}

	merging, err := repo.InMergingState()
	if err != nil {
		return fatalf("%v", err)
	}
	if merging {
		fmt.Println("You have unresolved conflicts; commit is refused until every path is resolved.")
	}

	var staged, unstaged, untracked []memcore.FileStatus
	for _, f := range status.Files {
		if f.IsUntracked {
			untracked = append(untracked, f)
			continue
		}
		if f.IndexStatus != "" {
			staged = append(staged, f)
		}
		if f.WorkStatus != "" {
			unstaged = append(unstaged, f)
		}
	}

	if len(staged) > 0 {
		fmt.Println("Changes to be committed:")
		for _, f := range staged {
			prefix := ""
			switch f.IndexStatus {
			case "added":
				prefix = "new file:   "
			case statusModified:
				prefix = "modified:   "
			case statusDeleted:
				prefix = "deleted:    "
			}
			fmt.Printf("\t%s%s\n", prefix, f.Path)
		}
		fmt.Println()
	}

	if len(unstaged) > 0 {
		fmt.Println("Changes not staged for commit:")
		fmt.Println("  (use \"memvcs stage <path>\" to update what will be committed)")
		for _, f := range unstaged {
			prefix := ""
			switch f.WorkStatus {
			case statusModified:
				prefix = "modified:   "
			case statusDeleted:
				prefix = "deleted:    "
			}
			fmt.Printf("\t%s%s\n", prefix, f.Path)
		}
		fmt.Println()
	}

	if len(untracked) > 0 {
		fmt.Println("Untracked files:")
		fmt.Println("  (use \"memvcs stage <path>\" to include in what will be committed)")
		for _, f := range untracked {
			fmt.Printf("\t%s\n", f.Path)
		}
		fmt.Println()
	}

	if len(staged) == 0 && len(unstaged) == 0 && len(untracked) == 0 {
		fmt.Println("nothing to commit, working tree clean")
	}

	return 0
}
