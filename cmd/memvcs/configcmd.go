package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/agentmem/memvcs/internal/memcore"
)

// runConfig implements `memvcs config <key> [value]`: reads or sets one
// entry from the enumerated configuration table (§6.5). Only the keys
// that are meaningfully scalar are settable from the CLI; structured
// keys (merge.strategy_override.*, similarity.*) are edited via the
// config file directly.
func runConfig(repo *memcore.Repository, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: memvcs config <key> [value]")
		return 1
	}
	key := args[0]
	cfg := repo.Config()

	if len(args) == 1 {
		v, ok := configGet(cfg, key)
		if !ok {
			fmt.Fprintf(os.Stderr, "error: unknown config key: %q\n", key)
			return 1
		}
		fmt.Println(v)
		return 0
	}

	lock, err := repo.Lock(defaultLockTimeout)
	if err != nil {
		return fatalf("%v", err)
	}
	defer lock.Unlock()

	if err := configSet(cfg, key, args[1]); err != nil {
		return fatalf("%v", err)
	}
	if err := cfg.Validate(); err != nil {
		return fatalf("%v", err)
	}
	if err := cfg.Save(filepath.Join(repo.GitDir(), "config")); err != nil {
		return fatalf("%v", err)
	}
	return 0
}

func configGet(cfg *memcore.Config, key string) (string, bool) {
	switch key {
	case "author.name":
		return cfg.Author.Name, true
	case "author.email":
		return cfg.Author.Email, true
	case "core.default_branch":
		return cfg.Core.DefaultBranch, true
	case "core.compression":
		return strconv.FormatBool(cfg.Core.Compression), true
	case "gc.prune_days":
		return strconv.Itoa(cfg.GC.PruneDays), true
	case "signing.enabled":
		return strconv.FormatBool(cfg.Signing.Enabled), true
	case "encryption.enabled":
		return strconv.FormatBool(cfg.Encryption.Enabled), true
	case "pack.delta.enabled":
		return strconv.FormatBool(cfg.Pack.Delta.Enabled), true
	case "pack.delta.max_chain":
		return strconv.Itoa(cfg.Pack.Delta.MaxChain), true
	case "trust.default_level":
		return cfg.Trust.DefaultLevel, true
	default:
		return "", false
	}
}

func configSet(cfg *memcore.Config, key, value string) error {
	switch key {
	case "author.name":
		cfg.Author.Name = value
	case "author.email":
		cfg.Author.Email = value
	case "core.default_branch":
		cfg.Core.DefaultBranch = value
	case "core.compression":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		cfg.Core.Compression = b
	case "gc.prune_days":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.GC.PruneDays = n
	case "signing.enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		cfg.Signing.Enabled = b
	case "encryption.enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		cfg.Encryption.Enabled = b
	case "pack.delta.enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		cfg.Pack.Delta.Enabled = b
	case "pack.delta.max_chain":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Pack.Delta.MaxChain = n
	case "trust.default_level":
		cfg.Trust.DefaultLevel = value
	default:
		return fmt.Errorf("unknown config key: %q", key)
	}
	return nil
}
