package memcore

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/agentmem/memvcs/internal/memcore/errs"
)

// Repository is the single mutable state container for one working copy:
// object store, refs, staging index, merge state, audit log, trust store,
// and config all hang off gitDir. Every core operation takes a *Repository
// handle; there is no core-level global mutable state.
type Repository struct {
	workDir string
	gitDir  string
	logger  *slog.Logger

	objects *ObjectStore
	config  *Config
}

// dirLayout is the set of directories created under gitDir by Init.
var dirLayout = []string{
	"objects", "objects/pack",
	"refs/heads", "refs/tags", "refs/remotes",
	"audit", "merge", "keys", "trust",
}

// Init creates a new repository rooted at dir: the working tree plus the
// .mem control directory, a default branch, and the first audit entry.
func Init(dir string, cfg *Config, logger *slog.Logger) (*Repository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	gitDir := filepath.Join(dir, ".mem")
	if _, err := os.Stat(gitDir); err == nil {
		return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("%s already initialized", dir))
	}

	for _, sub := range dirLayout {
		if err := os.MkdirAll(filepath.Join(gitDir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", sub, err)
		}
	}
	for _, sub := range []string{"episodic", "semantic", "procedural"} {
		if err := os.MkdirAll(filepath.Join(dir, "current", sub), 0o755); err != nil {
			return nil, fmt.Errorf("creating working tree %s: %w", sub, err)
		}
	}

	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Save(filepath.Join(gitDir, "config")); err != nil {
		return nil, fmt.Errorf("writing config: %w", err)
	}

	headContent := fmt.Sprintf("ref: refs/heads/%s\n", cfg.Core.DefaultBranch)
	if err := os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte(headContent), 0o644); err != nil {
		return nil, fmt.Errorf("writing HEAD: %w", err)
	}

	objects, err := NewObjectStore(gitDir, logger)
	if err != nil {
		return nil, err
	}

	r := &Repository{workDir: filepath.Join(dir, "current"), gitDir: gitDir, logger: logger, objects: objects, config: cfg}
	if err := r.armObjectEncryption(); err != nil {
		return nil, err
	}

	if err := r.AppendAudit("init", map[string]string{"path": dir}); err != nil {
		return nil, fmt.Errorf("recording init audit entry: %w", err)
	}

	return r, nil
}

// Open opens an existing repository rooted at dir (dir/.mem must exist).
func Open(dir string, logger *slog.Logger) (*Repository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	gitDir := filepath.Join(dir, ".mem")
	if _, err := os.Stat(gitDir); err != nil {
		return nil, errs.Wrap(errs.NotFound, fmt.Sprintf("no repository at %s", dir), err)
	}

	cfg, err := LoadConfig(filepath.Join(gitDir, "config"))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	objects, err := NewObjectStore(gitDir, logger)
	if err != nil {
		return nil, err
	}

	r := &Repository{workDir: filepath.Join(dir, "current"), gitDir: gitDir, logger: logger, objects: objects, config: cfg}
	if err := r.armObjectEncryption(); err != nil {
		return nil, err
	}
	return r, nil
}

// armObjectEncryption loads the repository's object-encryption key (if
// config.encryption.enabled and a key has been generated) and arms the
// object store with it, so every Put/Get this session performs is
// encrypted/decrypted transparently.
func (r *Repository) armObjectEncryption() error {
	key, ok, err := r.objectEncryptionKey()
	if err != nil {
		return fmt.Errorf("loading object encryption key: %w", err)
	}
	if ok {
		r.objects.SetEncryption(key)
	}
	return nil
}

func (r *Repository) GitDir() string        { return r.gitDir }
func (r *Repository) WorkDir() string       { return r.workDir }
func (r *Repository) Objects() *ObjectStore { return r.objects }
func (r *Repository) Config() *Config       { return r.config }
func (r *Repository) Logger() *slog.Logger  { return r.logger }

// GetTree, GetBlob, and GetCommit pass through to the object store; kept on
// Repository so the diff, merge, and blame engines don't need to thread an
// *ObjectStore separately from the *Repository they already carry.
func (r *Repository) GetTree(h Hash) (*Tree, error)     { return r.objects.GetTree(h) }
func (r *Repository) GetBlob(h Hash) ([]byte, error)    { return r.objects.GetBlob(h) }
func (r *Repository) GetCommit(h Hash) (*Commit, error) { return r.objects.GetCommit(h) }

// --- Repository write lock (§5): serializes ref/audit/staging/merge-state/GC mutations. ---

const lockPollInterval = 20 * time.Millisecond

// lockHandle represents an acquired repository write lock; release it with
// Unlock on every exit path (success, error, cancellation).
type lockHandle struct {
	path string
}

// Lock acquires the repo-wide advisory write lock, retrying until acquired
// or timeout elapses (LockBusy).
func (r *Repository) Lock(timeout time.Duration) (*lockHandle, error) {
	path := filepath.Join(r.gitDir, "lock")
	deadline := time.Now().Add(timeout)
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return &lockHandle{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("acquiring write lock: %w", err)
		}
		if time.Now().After(deadline) {
			return nil, errs.New(errs.LockBusy, "repository write lock held by another operation")
		}
		time.Sleep(lockPollInterval)
	}
}

// Unlock releases a held write lock. Safe to call once per successful Lock.
func (h *lockHandle) Unlock() error {
	err := os.Remove(h.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
