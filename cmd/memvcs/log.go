package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/agentmem/memvcs/internal/memcore"
	"github.com/agentmem/memvcs/internal/termcolor"
)

type logCommit struct {
	hash   memcore.Hash
	commit *memcore.Commit
}

func runLog(repo *memcore.Repository, args []string, cw *termcolor.Writer) int {
	maxCount := 0
	oneline := false

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--oneline":
			oneline = true
		case args[i] == "-n" && i+1 < len(args):
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: invalid -n value: %q\n", args[i])
				return 1
			}
			maxCount = n
		case strings.HasPrefix(args[i], "-n"):
			n, err := strconv.Atoi(args[i][2:])
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: invalid -n value: %q\n", args[i][2:])
				return 1
			}
			maxCount = n
		default:
			fmt.Fprintf(os.Stderr, "error: unknown option: %q\n", args[i])
			return 1
		}
	}

	head, err := repo.Head()
	if err != nil {
		return fatalf("%v", err)
	}
	if head.Hash == "" {
		return 0
	}

	var commits []logCommit
	walkErr := memcore.WalkCommits(repo, head.Hash, func(h memcore.Hash, c *memcore.Commit) (bool, error) {
		commits = append(commits, logCommit{hash: h, commit: c})
		if maxCount > 0 && len(commits) >= maxCount {
			return false, nil
		}
		return true, nil
	})
	if walkErr != nil {
		return fatalf("%v", walkErr)
	}

	branches, err := repo.Branches()
	if err != nil {
		return fatalf("%v", err)
	}
	tags, err := repo.Tags()
	if err != nil {
		return fatalf("%v", err)
	}
	decorations := buildDecorations(branches, tags, head, cw)

	for i, lc := range commits {
		decor := ""
		if d, ok := decorations[lc.hash]; ok {
			decor = " " + cw.Yellow("(") + d + cw.Yellow(")")
		}

		if oneline {
			fmt.Printf("%s%s %s\n", cw.Yellow(lc.hash.Short()), decor, firstLine(lc.commit.Message))
			continue
		}

		if i > 0 {
			fmt.Println()
		}
		fmt.Printf("%s %s%s\n", cw.Yellow("commit"), cw.Yellow(string(lc.hash)), decor)
		if len(lc.commit.Parents) > 1 {
			parentStrs := make([]string, len(lc.commit.Parents))
			for j, p := range lc.commit.Parents {
				parentStrs[j] = p.Short()
			}
			fmt.Printf("Merge: %s\n", strings.Join(parentStrs, " "))
		}
		fmt.Printf("Author: %s <%s>\n", lc.commit.Author.Name, lc.commit.Author.Email)
		fmt.Printf("Date:   %s\n", memDateFormat(lc.commit.Author.When))
		if sig, ok := lc.commit.Metadata["signing_key_id"]; ok {
			fmt.Printf("Signed-by: %s\n", sig)
		}
		fmt.Println()
		for _, line := range strings.Split(lc.commit.Message, "\n") {
			fmt.Printf("    %s\n", line)
		}
	}

	return 0
}

// buildDecorations groups branch/tag names and the HEAD arrow by the
// commit hash they point at, for the "(HEAD -> main, tag: v1)" suffix.
func buildDecorations(branches, tags map[string]memcore.Hash, head memcore.HeadState, cw *termcolor.Writer) map[memcore.Hash]string {
	type decoInfo struct {
		headArrow string
		branches  []string
		tags      []string
	}
	byHash := make(map[memcore.Hash]*decoInfo)

	getInfo := func(h memcore.Hash) *decoInfo {
		if info, ok := byHash[h]; ok {
			return info
		}
		info := &decoInfo{}
		byHash[h] = info
		return info
	}

	for name, hash := range branches {
		branchName := strings.TrimPrefix(name, "heads/")
		info := getInfo(hash)
		if !head.Detached && branchName == head.Branch {
			info.headArrow = cw.BoldCyan("HEAD -> ") + cw.Green(branchName)
		} else {
			info.branches = append(info.branches, cw.Green(branchName))
		}
	}

	for name, hash := range tags {
		info := getInfo(hash)
		info.tags = append(info.tags, cw.Yellow("tag: "+strings.TrimPrefix(name, "tags/")))
	}

	if head.Detached {
		info := getInfo(head.Hash)
		info.headArrow = cw.BoldCyan("HEAD")
	}

	result := make(map[memcore.Hash]string)
	for hash, info := range byHash {
		var parts []string
		if info.headArrow != "" {
			parts = append(parts, info.headArrow)
		}
		parts = append(parts, info.branches...)
		parts = append(parts, info.tags...)
		if len(parts) > 0 {
			result[hash] = strings.Join(parts, cw.Yellow(", "))
		}
	}
	return result
}

func firstLine(msg string) string {
	if idx := strings.IndexByte(msg, '\n'); idx >= 0 {
		return msg[:idx]
	}
	return msg
}
