package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/agentmem/memvcs/internal/memcore"
)

// runTrust implements `memvcs trust` (list), `memvcs trust <fingerprint> <level>`
// (set), managing the public-key -> trust-level mapping consulted by merge
// and remote sync (§4.9).
func runTrust(repo *memcore.Repository, args []string) int {
	if len(args) == 0 {
		levels, err := repo.ListTrust()
		if err != nil {
			return fatalf("%v", err)
		}
		fps := make([]string, 0, len(levels))
		for fp := range levels {
			fps = append(fps, fp)
		}
		sort.Strings(fps)
		for _, fp := range fps {
			fmt.Printf("%s %s\n", fp, levels[fp])
		}
		return 0
	}

	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: memvcs trust <fingerprint> (FULL|CONDITIONAL|UNTRUSTED)")
		return 1
	}

	level := memcore.TrustLevel(args[1])
	switch level {
	case memcore.TrustFull, memcore.TrustConditional, memcore.TrustUntrusted:
	default:
		fmt.Fprintf(os.Stderr, "error: unknown trust level: %q\n", args[1])
		return 1
	}

	lock, err := repo.Lock(defaultLockTimeout)
	if err != nil {
		return fatalf("%v", err)
	}
	defer lock.Unlock()

	if err := repo.SetTrust(args[0], level); err != nil {
		return fatalf("%v", err)
	}
	return 0
}
