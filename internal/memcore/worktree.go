package memcore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentmem/memvcs/internal/memcore/errs"
)

// FileStatus is the status of a single working-tree path.
type FileStatus struct {
	Path string

	// IndexStatus: the change staged relative to HEAD ("added", "modified",
	// "deleted", or "" for no staged change).
	IndexStatus string

	// WorkStatus: the change on disk relative to the index ("modified",
	// "deleted", or "" for matching/untracked).
	WorkStatus string

	IsUntracked bool
}

// WorkingTreeStatus is one FileStatus per path that differs from HEAD,
// differs from the index, or is untracked.
type WorkingTreeStatus struct {
	Files []FileStatus
}

// validateWorkingPath enforces §4.4: after normalization, path must remain
// strictly under the working root.
func validateWorkingPath(workDir, path string) (string, error) {
	full := filepath.Join(workDir, filepath.FromSlash(path))
	rel, err := filepath.Rel(workDir, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errs.New(errs.PathOutsideRoot, path)
	}
	return full, nil
}

// flattenTree walks the tree rooted at treeHash and returns every blob path
// (slash-separated, relative to the tree root) mapped to its blob hash.
func flattenTree(repo *Repository, treeHash Hash, prefix string) (map[string]Hash, error) {
	result := make(map[string]Hash)
	if treeHash == "" {
		return result, nil
	}
	tree, err := repo.GetTree(treeHash)
	if err != nil {
		return nil, fmt.Errorf("flattenTree: reading tree %s: %w", treeHash, err)
	}
	for _, entry := range tree.Entries {
		fullPath := entry.Name
		if prefix != "" {
			fullPath = prefix + "/" + entry.Name
		}
		if entry.Kind == EntryTree {
			sub, err := flattenTree(repo, entry.Hash, fullPath)
			if err != nil {
				return nil, err
			}
			for k, v := range sub {
				result[k] = v
			}
		} else {
			result[fullPath] = entry.Hash
		}
	}
	return result, nil
}

// resolveTreeAtPath walks from rootTreeHash through a slash-separated
// dirPath, returning the Tree found at that path ("" resolves to the root).
func resolveTreeAtPath(repo *Repository, rootTreeHash Hash, dirPath string) (*Tree, error) {
	tree, err := repo.GetTree(rootTreeHash)
	if err != nil {
		return nil, err
	}
	dirPath = strings.Trim(dirPath, "/")
	if dirPath == "" {
		return tree, nil
	}
	for _, component := range strings.Split(dirPath, "/") {
		found := false
		for _, entry := range tree.Entries {
			if entry.Name == component && entry.Kind == EntryTree {
				tree, err = repo.GetTree(entry.Hash)
				if err != nil {
					return nil, err
				}
				found = true
				break
			}
		}
		if !found {
			return nil, errs.New(errs.NotFound, dirPath)
		}
	}
	return tree, nil
}

var errBlobNotFound = errors.New("blob not found in tree")

// resolveBlobAtPath descends treeHash through filePath's components,
// returning the blob hash at the leaf.
func resolveBlobAtPath(repo *Repository, treeHash Hash, filePath string) (Hash, error) {
	filePath = strings.Trim(filePath, "/")
	if filePath == "" {
		return "", fmt.Errorf("resolveBlobAtPath: empty file path")
	}
	components := strings.Split(filePath, "/")
	current := treeHash

	for _, component := range components[:len(components)-1] {
		tree, err := repo.GetTree(current)
		if err != nil {
			return "", fmt.Errorf("resolveBlobAtPath: reading tree %s: %w", current, err)
		}
		found := false
		for _, entry := range tree.Entries {
			if entry.Name == component {
				if entry.Kind != EntryTree {
					return "", errBlobNotFound
				}
				current = entry.Hash
				found = true
				break
			}
		}
		if !found {
			return "", errBlobNotFound
		}
	}

	leaf := components[len(components)-1]
	tree, err := repo.GetTree(current)
	if err != nil {
		return "", fmt.Errorf("resolveBlobAtPath: reading leaf tree %s: %w", current, err)
	}
	for _, entry := range tree.Entries {
		if entry.Name == leaf {
			if entry.Kind == EntryTree {
				return "", errBlobNotFound
			}
			return entry.Hash, nil
		}
	}
	return "", errBlobNotFound
}

// headTree returns the flattened path->hash map of HEAD's tree, or an empty
// map when there is no commit yet.
func (r *Repository) headTree() (map[string]Hash, error) {
	head, err := r.Head()
	if err != nil {
		return nil, err
	}
	if head.Hash == "" {
		return map[string]Hash{}, nil
	}
	commit, err := r.GetCommit(head.Hash)
	if err != nil {
		return nil, err
	}
	return flattenTree(r, commit.Tree, "")
}

// Stage reads path from the working tree, writes it as a blob, and records
// it in the staging index.
func (r *Repository) Stage(path string) error {
	full, err := validateWorkingPath(r.workDir, path)
	if err != nil {
		return err
	}
	info, err := os.Stat(full)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return errs.New(errs.InvalidArgument, fmt.Sprintf("%s is a directory", path))
	}
	//nolint:gosec // G304: full is validated to remain under the working root
	content, err := os.ReadFile(full)
	if err != nil {
		return err
	}
	hash, err := r.objects.PutBlob(content)
	if err != nil {
		return err
	}

	idx, err := ReadIndex(r.gitDir)
	if err != nil {
		return err
	}
	idx.Stage(filepath.ToSlash(path), hash, uint64(info.Size()), info.ModTime().UnixNano(), uint32(info.Mode().Perm()))
	return idx.Save(r.gitDir)
}

// StageAll walks the working tree, honoring .memignore, and stages every
// non-ignored regular file (including updating entries for changed files
// and removing entries for files deleted from disk).
func (r *Repository) StageAll() error {
	matcher := loadIgnoreMatcher(r.workDir, r.logger)
	idx, err := ReadIndex(r.gitDir)
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	walkErr := filepath.WalkDir(r.workDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr
		}
		relPath, relErr := filepath.Rel(r.workDir, path)
		if relErr != nil {
			return relErr
		}
		relPath = filepath.ToSlash(relPath)
		if relPath == "." {
			return nil
		}
		if d.IsDir() {
			if matcher.isIgnored(relPath, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if matcher.isIgnored(relPath, false) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		//nolint:gosec // G304: path comes from WalkDir over the repository's own working tree
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		hash, err := r.objects.PutBlob(content)
		if err != nil {
			return err
		}
		idx.Stage(relPath, hash, uint64(info.Size()), info.ModTime().UnixNano(), uint32(info.Mode().Perm()))
		seen[relPath] = true
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("stage_all: walking working tree: %w", walkErr)
	}

	for _, p := range idx.SortedPaths() {
		if !seen[p] {
			if _, err := os.Stat(filepath.Join(r.workDir, filepath.FromSlash(p))); os.IsNotExist(err) {
				idx.Unstage(p)
			}
		}
	}

	return idx.Save(r.gitDir)
}

// Checkout materializes the tree of commitHash into the working directory,
// replacing or removing files to match exactly, then resets the staging
// index to the checked-out tree.
func (r *Repository) Checkout(commitHash Hash) error {
	commit, err := r.GetCommit(commitHash)
	if err != nil {
		return err
	}
	wanted, err := flattenTree(r, commit.Tree, "")
	if err != nil {
		return err
	}

	err = filepath.WalkDir(r.workDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr
		}
		if d.IsDir() {
			return nil
		}
		relPath, relErr := filepath.Rel(r.workDir, path)
		if relErr != nil {
			return relErr
		}
		relPath = filepath.ToSlash(relPath)
		if _, ok := wanted[relPath]; !ok {
			return os.Remove(path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("checkout: clearing stale paths: %w", err)
	}

	idx := NewIndex()
	for path, hash := range wanted {
		content, err := r.objects.GetBlob(hash)
		if err != nil {
			return fmt.Errorf("checkout: reading blob %s: %w", hash, err)
		}
		full := filepath.Join(r.workDir, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(full, content, 0o644); err != nil {
			return err
		}
		info, err := os.Stat(full)
		if err != nil {
			return err
		}
		idx.Stage(path, hash, uint64(len(content)), info.ModTime().UnixNano(), uint32(info.Mode().Perm()))
	}
	return idx.Save(r.gitDir)
}

// ComputeWorkingTreeStatus compares HEAD's tree to the staging index (staged
// changes) and the staging index to the on-disk content (unstaged changes),
// plus a working-tree walk for untracked files. .memignore rules are honored
// for the untracked-file walk.
func ComputeWorkingTreeStatus(repo *Repository) (*WorkingTreeStatus, error) {
	headTree, err := repo.headTree()
	if err != nil {
		return nil, fmt.Errorf("ComputeWorkingTreeStatus: reading HEAD tree: %w", err)
	}

	idx, err := ReadIndex(repo.gitDir)
	if err != nil {
		return nil, fmt.Errorf("ComputeWorkingTreeStatus: reading index: %w", err)
	}

	results := make(map[string]*FileStatus)

	for path, entry := range idx.Entries {
		headHash, inHead := headTree[path]
		var status string
		switch {
		case !inHead:
			status = "added"
		case headHash != entry.Hash:
			status = "modified"
		}
		if status != "" {
			results[path] = &FileStatus{Path: path, IndexStatus: status}
		}
	}
	for path := range headTree {
		if _, inIndex := idx.Entries[path]; !inIndex {
			results[path] = &FileStatus{Path: path, IndexStatus: "deleted"}
		}
	}

	for path, entry := range idx.Entries {
		diskPath := filepath.Join(repo.workDir, filepath.FromSlash(path))
		info, statErr := os.Stat(diskPath)
		get := func() *FileStatus {
			fs, ok := results[path]
			if !ok {
				fs = &FileStatus{Path: path}
				results[path] = fs
			}
			return fs
		}
		if statErr != nil {
			if os.IsNotExist(statErr) {
				get().WorkStatus = "deleted"
			} else {
				return nil, fmt.Errorf("ComputeWorkingTreeStatus: stat %s: %w", diskPath, statErr)
			}
			continue
		}
		if uint64(info.Size()) != entry.Size {
			get().WorkStatus = "modified"
			continue
		}
		//nolint:gosec // G304: diskPath is joined from the repository's own working directory
		content, readErr := os.ReadFile(diskPath)
		if readErr != nil {
			return nil, fmt.Errorf("ComputeWorkingTreeStatus: reading %s: %w", diskPath, readErr)
		}
		if hashOf(BlobObject, content) != entry.Hash {
			get().WorkStatus = "modified"
		}
	}

	matcher := loadIgnoreMatcher(repo.workDir, repo.logger)
	walkErr := filepath.WalkDir(repo.workDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr
		}
		relPath, relErr := filepath.Rel(repo.workDir, path)
		if relErr != nil {
			return relErr
		}
		relPath = filepath.ToSlash(relPath)
		if relPath == "." {
			return nil
		}
		if d.IsDir() {
			if matcher.isIgnored(relPath, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if matcher.isIgnored(relPath, false) {
			return nil
		}
		if _, tracked := idx.Entries[relPath]; tracked {
			return nil
		}
		results[relPath] = &FileStatus{Path: relPath, IsUntracked: true}
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("ComputeWorkingTreeStatus: walking working tree: %w", walkErr)
	}

	status := &WorkingTreeStatus{Files: make([]FileStatus, 0, len(results))}
	for _, fs := range results {
		status.Files = append(status.Files, *fs)
	}
	return status, nil
}

// ComputeWorkingTreeFileDiff diffs the on-disk content of filePath against
// the version recorded in HEAD.
func ComputeWorkingTreeFileDiff(repo *Repository, filePath string, contextLines int) (*FileDiff, error) {
	result := &FileDiff{Path: filePath, Hunks: make([]DiffHunk, 0)}

	head, err := repo.Head()
	if err != nil {
		return nil, err
	}
	var headContent []byte
	if head.Hash != "" {
		commit, err := repo.GetCommit(head.Hash)
		if err != nil {
			return nil, fmt.Errorf("ComputeWorkingTreeFileDiff: reading HEAD commit: %w", err)
		}
		blobHash, err := resolveBlobAtPath(repo, commit.Tree, filePath)
		if err != nil && !errors.Is(err, errBlobNotFound) {
			return nil, fmt.Errorf("ComputeWorkingTreeFileDiff: resolving HEAD blob: %w", err)
		}
		if err == nil {
			result.OldHash = blobHash
			headContent, err = repo.GetBlob(blobHash)
			if err != nil {
				return nil, fmt.Errorf("ComputeWorkingTreeFileDiff: reading HEAD blob: %w", err)
			}
		}
	}

	diskPath := filepath.Join(repo.workDir, filepath.FromSlash(filePath))
	//nolint:gosec // G304: filePath is validated by the caller before reaching here
	diskContent, err := os.ReadFile(diskPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("ComputeWorkingTreeFileDiff: reading on-disk file: %w", err)
		}
		diskContent = nil
	}

	if headContent == nil && diskContent == nil {
		return result, nil
	}
	if len(headContent) > maxBlobSize || len(diskContent) > maxBlobSize {
		result.Truncated = true
		return result, nil
	}
	if isBinaryContent(headContent) || isBinaryContent(diskContent) {
		result.IsBinary = true
		return result, nil
	}

	oldLines := splitLines(headContent)
	newLines := splitLines(diskContent)
	result.Hunks = myersDiff(oldLines, newLines, contextLines)
	return result, nil
}
