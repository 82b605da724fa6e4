package main

import (
	"fmt"
	"os"
	"time"

	"github.com/agentmem/memvcs/internal/memcore"
	"github.com/agentmem/memvcs/internal/memcore/errs"
)

// memDateFormat formats a time.Time the same way the commit log does.
// Layout: "Mon Jan 2 15:04:05 2006 -0700".
func memDateFormat(t time.Time) string {
	return t.Format("Mon Jan 2 15:04:05 2006 -0700")
}

// resolveRevision resolves a revision expression ("HEAD", "HEAD~2", a
// branch name, a tag name, or a hash prefix) via the repository's own
// resolver.
func resolveRevision(repo *memcore.Repository, rev string) (memcore.Hash, error) {
	return repo.ResolveRef(rev)
}

// currentAuthor builds the signature used for commits and merges created
// by this process, from the repository's configured author identity.
func currentAuthor(repo *memcore.Repository) memcore.Signature {
	cfg := repo.Config()
	return memcore.Signature{
		Name:  cfg.Author.Name,
		Email: cfg.Author.Email,
		When:  time.Now(),
	}
}

// exitCode maps an error's stable kind (§7) to a process exit status.
// Unrecognized errors (no *errs.Error in the chain) exit 128, matching
// the fatal-but-uncategorized convention used throughout this CLI.
func exitCode(err error) int {
	switch errs.Of(err) {
	case errs.NotFound, errs.AmbiguousRef, errs.InvalidRefName, errs.PathOutsideRoot:
		return 1
	case errs.InvalidArgument, errs.InvalidConfig:
		return 2
	case errs.MergingState, errs.UnresolvedConflicts:
		return 3
	case errs.NonFastForward:
		return 4
	case errs.LockBusy:
		return 5
	default:
		return 128
	}
}

func fatalf(format string, args ...any) int {
	fmt.Fprintf(os.Stderr, "fatal: "+format+"\n", args...)
	if len(args) == 1 {
		if err, ok := args[0].(error); ok {
			return exitCode(err)
		}
	}
	return 128
}
