package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/agentmem/memvcs/internal/cli"
	"github.com/agentmem/memvcs/internal/memcore"
	"github.com/agentmem/memvcs/internal/termcolor"
)

// Build-time variables set via -ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	gf, args := parseGlobalFlags(os.Args[1:])

	for _, a := range args {
		if a == "--version" {
			printVersion()
			os.Exit(0)
		}
	}

	cw := termcolor.NewWriter(os.Stdout, gf.colorMode)

	app := cli.NewApp("memvcs", version)
	app.Stderr = os.Stderr

	// repo is declared here and assigned after dispatch determines that
	// the matched command needs it (NeedsRepo). Closures capture the
	// pointer variable, which is populated before they execute.
	var repo *memcore.Repository

	app.Register(&cli.Command{
		Name:      "init",
		Summary:   "Create a new repository",
		Usage:     "memvcs init [dir]",
		Run:       func(args []string) int { return runInit(args) },
	})

	app.Register(&cli.Command{
		Name:      "stage",
		Summary:   "Stage working-tree paths for the next commit",
		Usage:     "memvcs stage (--all | <path>...)",
		Examples:  []string{"memvcs stage semantic/pref.md", "memvcs stage --all"},
		NeedsRepo: true,
		Run:       func(args []string) int { return runStage(repo, args) },
	})

	app.Register(&cli.Command{
		Name:      "commit",
		Summary:   "Record a commit from the staging index",
		Usage:     "memvcs commit -m <message>",
		Examples:  []string{`memvcs commit -m "first"`},
		NeedsRepo: true,
		Run:       func(args []string) int { return runCommit(repo, args) },
	})

	app.Register(&cli.Command{
		Name:      "checkout",
		Summary:   "Switch the working tree to a branch, tag, or commit",
		Usage:     "memvcs checkout <branch|tag|commit>",
		NeedsRepo: true,
		Run:       func(args []string) int { return runCheckout(repo, args) },
	})

	app.Register(&cli.Command{
		Name:      "merge",
		Summary:   "Merge a branch, tag, or commit into the current branch",
		Usage:     "memvcs merge <branch|tag|commit>",
		NeedsRepo: true,
		Run:       func(args []string) int { return runMerge(repo, args) },
	})

	app.Register(&cli.Command{
		Name:      "resolve",
		Summary:   "Resolve one conflicted path from a pending merge",
		Usage:     "memvcs resolve <path> (ours|theirs|both)",
		NeedsRepo: true,
		Run:       func(args []string) int { return runResolve(repo, args) },
	})

	app.Register(&cli.Command{
		Name:      "reset",
		Summary:   "Move the current branch to another commit",
		Usage:     "memvcs reset [--soft|--mixed] <rev>",
		NeedsRepo: true,
		Run:       func(args []string) int { return runReset(repo, args) },
	})

	app.Register(&cli.Command{
		Name:      "branch",
		Summary:   "List, create, or delete branches",
		Usage:     "memvcs branch [<name> [<start>]] [-d <name>]",
		NeedsRepo: true,
		Run:       func(args []string) int { return runBranch(repo, args, cw) },
	})

	app.Register(&cli.Command{
		Name:      "tag",
		Summary:   "List, create, or delete tags",
		Usage:     "memvcs tag [<name> [<target>]] [-d <name>]",
		NeedsRepo: true,
		Run:       func(args []string) int { return runTag(repo, args, cw) },
	})

	app.Register(&cli.Command{
		Name:      "log",
		Summary:   "Show commit history",
		Usage:     "memvcs log [--oneline] [-n <count>]",
		Examples:  []string{"memvcs log", "memvcs log --oneline -n5"},
		NeedsRepo: true,
		Run:       func(args []string) int { return runLog(repo, args, cw) },
	})

	app.Register(&cli.Command{
		Name:      "cat-file",
		Summary:   "Show object content, type, or size",
		Usage:     "memvcs cat-file (-t|-s|-p) <object>",
		Examples:  []string{"memvcs cat-file -p HEAD", "memvcs cat-file -t abc1234"},
		NeedsRepo: true,
		Run:       func(args []string) int { return runCatFile(repo, args) },
	})

	app.Register(&cli.Command{
		Name:      "diff",
		Summary:   "Show diff between two commits",
		Usage:     "memvcs diff [--stat] <commit1> <commit2>",
		NeedsRepo: true,
		Run:       func(args []string) int { return runDiff(repo, args, cw) },
	})

	app.Register(&cli.Command{
		Name:      "show",
		Summary:   "Show commit details and diff",
		Usage:     "memvcs show [--stat] [<commit>]",
		NeedsRepo: true,
		Run:       func(args []string) int { return runShow(repo, args, cw) },
	})

	app.Register(&cli.Command{
		Name:      "status",
		Summary:   "Show working-tree status",
		Usage:     "memvcs status [-s|--porcelain]",
		NeedsRepo: true,
		Run:       func(args []string) int { return runStatus(repo, args, cw) },
	})

	app.Register(&cli.Command{
		Name:      "fetch",
		Summary:   "Fetch refs and objects from a remote",
		Usage:     "memvcs fetch <remote> [branch]",
		NeedsRepo: true,
		Run:       func(args []string) int { return runFetch(repo, args) },
	})

	app.Register(&cli.Command{
		Name:      "pull",
		Summary:   "Fetch a remote branch and merge it into the current branch",
		Usage:     "memvcs pull <remote> <branch>",
		NeedsRepo: true,
		Run:       func(args []string) int { return runPull(repo, args) },
	})

	app.Register(&cli.Command{
		Name:      "push",
		Summary:   "Push the current branch's new commits to a remote",
		Usage:     "memvcs push <remote> <branch>",
		NeedsRepo: true,
		Run:       func(args []string) int { return runPush(repo, args) },
	})

	app.Register(&cli.Command{
		Name:    "clone",
		Summary: "Clone a repository",
		Usage:   "memvcs clone <source> <dest>",
		Run:     func(args []string) int { return runClone(args) },
	})

	app.Register(&cli.Command{
		Name:      "gc",
		Summary:   "Garbage-collect unreachable objects",
		Usage:     "memvcs gc [--repack]",
		NeedsRepo: true,
		Run:       func(args []string) int { return runGC(repo, args) },
	})

	app.Register(&cli.Command{
		Name:      "fsck",
		Summary:   "Verify repository integrity end to end",
		Usage:     "memvcs fsck",
		NeedsRepo: true,
		Run:       func(args []string) int { return runFsck(repo, args) },
	})

	app.Register(&cli.Command{
		Name:      "trust",
		Summary:   "List or set signing-key trust levels",
		Usage:     "memvcs trust [<fingerprint> (FULL|CONDITIONAL|UNTRUSTED)]",
		NeedsRepo: true,
		Run:       func(args []string) int { return runTrust(repo, args) },
	})

	app.Register(&cli.Command{
		Name:      "keygen",
		Summary:   "Generate this repository's Ed25519 signing key",
		Usage:     "memvcs keygen",
		NeedsRepo: true,
		Run:       func(args []string) int { return runKeygen(repo, args) },
	})

	app.Register(&cli.Command{
		Name:      "enckey",
		Summary:   "Generate this repository's object-encryption key and salt",
		Usage:     "memvcs enckey",
		NeedsRepo: true,
		Run:       func(args []string) int { return runEnckey(repo, args) },
	})

	app.Register(&cli.Command{
		Name:      "config",
		Summary:   "Read or set a repository configuration key",
		Usage:     "memvcs config <key> [value]",
		Examples:  []string{"memvcs config author.name", `memvcs config author.name "Ada"`},
		NeedsRepo: true,
		Run:       func(args []string) int { return runConfig(repo, args) },
	})

	app.Register(&cli.Command{
		Name:      "blame",
		Summary:   "Show the most recent commit that changed a path",
		Usage:     "memvcs blame <path>",
		NeedsRepo: true,
		Run:       func(args []string) int { return runBlame(repo, args, cw) },
	})

	app.Register(&cli.Command{
		Name:    "version",
		Summary: "Show version information",
		Usage:   "memvcs version",
		Run:     func([]string) int { printVersion(); return 0 },
	})

	if len(args) > 0 {
		cmd := app.Lookup(args[0])
		if cmd != nil && cmd.NeedsRepo {
			repoPath := os.Getenv("MEM_DIR")
			if repoPath == "" {
				repoPath = "."
			}
			var err error
			repo, err = memcore.Open(repoPath, nil)
			if err != nil {
				fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
				os.Exit(128)
			}
		}
	}

	os.Exit(app.Run(args, cw))
}

func printVersion() {
	fmt.Printf("memvcs %s\n", version)
	fmt.Printf("  commit:     %s\n", commit)
	fmt.Printf("  built:      %s\n", buildDate)
	fmt.Printf("  go version: %s\n", runtime.Version())
	fmt.Printf("  platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
}
