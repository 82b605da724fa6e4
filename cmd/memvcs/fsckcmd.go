package main

import (
	"context"
	"fmt"
	"os"

	"github.com/agentmem/memvcs/internal/memcore"
	"github.com/agentmem/memvcs/internal/progress"
)

// runFsck implements `memvcs fsck`: end-to-end integrity verification
// (§4.13), reporting every finding rather than stopping at the first.
func runFsck(repo *memcore.Repository, args []string) int {
	sp := progress.New("checking object integrity")
	sp.Start()
	report, err := memcore.Fsck(context.Background(), repo)
	sp.Stop()
	if err != nil {
		return fatalf("%v", err)
	}

	fmt.Printf("checked %d object(s)\n", report.ObjectsCheck)
	for _, f := range report.Findings {
		ctx := f.Detail
		if f.Object != "" {
			ctx = fmt.Sprintf("%s object=%s", ctx, f.Object.Short())
		}
		if f.Ref != "" {
			ctx = fmt.Sprintf("%s ref=%s", ctx, f.Ref)
		}
		if f.AuditSeq != 0 {
			ctx = fmt.Sprintf("%s seq=%d", ctx, f.AuditSeq)
		}
		fmt.Printf("%s: %s\n", f.Kind, ctx)
	}

	if report.Cancelled {
		fmt.Fprintln(os.Stderr, "fsck: cancelled; results are partial")
		return 1
	}
	if len(report.Findings) > 0 {
		return 1
	}
	return 0
}
