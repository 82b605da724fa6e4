package main

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"os"

	"github.com/agentmem/memvcs/internal/memcore"
	"github.com/agentmem/memvcs/internal/progress"
)

// runFetch implements `memvcs fetch <remote-url> [branch]`.
func runFetch(repo *memcore.Repository, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: memvcs fetch <remote> [branch]")
		return 1
	}
	remoteURL := args[0]
	var refNames []string
	if len(args) > 1 {
		refNames = []string{"heads/" + args[1]}
	}

	t, closeT, err := openTransport(remoteURL)
	if err != nil {
		return fatalf("%v", err)
	}
	defer closeT()

	lock, err := repo.Lock(defaultLockTimeout)
	if err != nil {
		return fatalf("%v", err)
	}
	defer lock.Unlock()

	sp := progress.New(fmt.Sprintf("fetching from %s", remoteURL))
	sp.Start()
	result, err := memcore.Fetch(context.Background(), repo, remoteName(remoteURL), t, refNames)
	sp.Stop()
	if err != nil {
		return fatalf("%v", err)
	}

	fmt.Printf("fetched %d object(s)\n", result.ObjectsFetched)
	for ref, hash := range result.UpdatedRefs {
		fmt.Printf("  %s -> %s\n", ref, hash.Short())
	}
	for ref, hash := range result.Quarantined {
		fmt.Fprintf(os.Stderr, "  %s quarantined at %s: tip is signed by an untrusted key, ref not advanced\n", ref, hash.Short())
	}
	return 0
}

// runPull implements `memvcs pull <remote-url> <branch>`.
func runPull(repo *memcore.Repository, args []string) int {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: memvcs pull <remote> <branch>")
		return 1
	}
	remoteURL, branch := args[0], args[1]

	t, closeT, err := openTransport(remoteURL)
	if err != nil {
		return fatalf("%v", err)
	}
	defer closeT()

	lock, err := repo.Lock(defaultLockTimeout)
	if err != nil {
		return fatalf("%v", err)
	}
	defer lock.Unlock()

	author := currentAuthor(repo)
	sp := progress.New(fmt.Sprintf("pulling %s from %s", branch, remoteURL))
	sp.Start()
	hash, ff, err := memcore.Pull(context.Background(), repo, remoteName(remoteURL), branch, t, author)
	sp.Stop()
	if err != nil {
		return fatalf("%v", err)
	}

	if ff {
		fmt.Printf("Fast-forward to %s\n", hash.Short())
	} else {
		fmt.Printf("Merge made: %s\n", hash.Short())
	}
	return 0
}

// runPush implements `memvcs push <remote-url> <branch>`.
func runPush(repo *memcore.Repository, args []string) int {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: memvcs push <remote> <branch>")
		return 1
	}
	remoteURL, branch := args[0], args[1]

	t, closeT, err := openTransport(remoteURL)
	if err != nil {
		return fatalf("%v", err)
	}
	defer closeT()

	lock, err := repo.Lock(defaultLockTimeout)
	if err != nil {
		return fatalf("%v", err)
	}
	defer lock.Unlock()

	sp := progress.New(fmt.Sprintf("pushing %s to %s", branch, remoteURL))
	sp.Start()
	result, err := memcore.Push(context.Background(), repo, remoteName(remoteURL), branch, t)
	sp.Stop()
	if err != nil {
		return fatalf("%v", err)
	}

	fmt.Printf("pushed %d object(s)\n", result.ObjectsSent)
	return 0
}

// runClone implements `memvcs clone <source-dir> <dest-dir>`: inits dest,
// fetches every branch from source, checks out its default branch, and
// quarantines the source's published signing keys as UNTRUSTED (§4.9).
func runClone(args []string) int {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: memvcs clone <source> <dest>")
		return 1
	}
	source, dest := args[0], args[1]

	repo, err := memcore.Init(dest, nil, nil)
	if err != nil {
		return fatalf("%v", err)
	}

	t, closeT, err := openTransport(source)
	if err != nil {
		return fatalf("%v", err)
	}
	defer closeT()

	lock, err := repo.Lock(defaultLockTimeout)
	if err != nil {
		return fatalf("%v", err)
	}

	sp := progress.New("cloning " + source)
	sp.Start()
	result, err := memcore.Fetch(context.Background(), repo, "origin", t, nil)
	sp.Stop()
	if err != nil {
		lock.Unlock()
		return fatalf("%v", err)
	}

	defaultBranch := repo.Config().Core.DefaultBranch
	if tip, ok := result.UpdatedRefs["heads/"+defaultBranch]; ok {
		if err := repo.SetBranch(defaultBranch, tip); err != nil {
			lock.Unlock()
			return fatalf("%v", err)
		}
		if err := repo.AppendReflog("", tip, memcore.ReflogCheckout, "clone"); err != nil {
			lock.Unlock()
			return fatalf("%v", err)
		}
	}
	lock.Unlock()

	if tip, ok := result.UpdatedRefs["heads/"+defaultBranch]; ok {
		if err := repo.Checkout(tip); err != nil {
			return fatalf("%v", err)
		}
	}

	if err := quarantineRemoteKeys(repo, source); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	fmt.Printf("cloned %d object(s) into %s\n", result.ObjectsFetched, dest)
	return 0
}

// quarantineRemoteKeys copies the source repository's published Ed25519
// public keys into dest's trust store as UNTRUSTED (§4.9): clone never
// trusts a key automatically, it only makes the key locally known so a
// later `memvcs trust` can promote it.
func quarantineRemoteKeys(repo *memcore.Repository, source string) error {
	keysDir := source + "/.mem/keys"
	entries, err := os.ReadDir(keysDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || len(e.Name()) < 5 || e.Name()[len(e.Name())-4:] != ".pub" {
			continue
		}
		data, err := os.ReadFile(keysDir + "/" + e.Name())
		if err != nil {
			continue
		}
		fp := memcore.KeyFingerprint(ed25519.PublicKey(data))
		if err := repo.QuarantineKey(fp); err != nil {
			return err
		}
	}
	return nil
}

// remoteName derives a short remote label from a URL or path, used to key
// refs/remotes/<name>/* and audit entries.
func remoteName(url string) string {
	for i := len(url) - 1; i >= 0; i-- {
		if url[i] == '/' {
			return url[i+1:]
		}
	}
	return url
}
