package main

import (
	"fmt"
	"os"

	"github.com/agentmem/memvcs/internal/memcore"
)

// runInit implements `memvcs init [dir]`: creates a new repository rooted
// at dir (default ".").
func runInit(args []string) int {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}

	repo, err := memcore.Init(dir, nil, nil)
	if err != nil {
		return fatalf("%v", err)
	}

	fmt.Printf("initialized empty repository in %s\n", repo.GitDir())
	return 0
}

// runKeygen implements `memvcs keygen`: generates and persists this
// repository's Ed25519 signing key, printing its fingerprint.
func runKeygen(repo *memcore.Repository, args []string) int {
	lock, err := repo.Lock(defaultLockTimeout)
	if err != nil {
		return fatalf("%v", err)
	}
	defer lock.Unlock()

	fp, err := repo.GenerateSigningKey()
	if err != nil {
		return fatalf("%v", err)
	}
	fmt.Fprintf(os.Stdout, "%s\n", fp)
	return 0
}

// runEnckey implements `memvcs enckey`: generates and persists this
// repository's object-encryption secret and a fresh salt (§4.7), printing
// the salt. Run this once after `memvcs config encryption.enabled true`;
// every subsequent Put/Get on this repository's object store encrypts and
// decrypts transparently once the key is on disk.
func runEnckey(repo *memcore.Repository, args []string) int {
	lock, err := repo.Lock(defaultLockTimeout)
	if err != nil {
		return fatalf("%v", err)
	}
	defer lock.Unlock()

	salt, err := repo.GenerateEncryptionKey()
	if err != nil {
		return fatalf("%v", err)
	}
	fmt.Fprintf(os.Stdout, "%s\n", salt)
	return 0
}
