package memcore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/agentmem/memvcs/internal/memcore/errs"
)

// ReflogOp is the closed enumeration of operations that append a reflog
// entry (every HEAD-moving operation).
type ReflogOp string

const (
	ReflogCommit   ReflogOp = "commit"
	ReflogCheckout ReflogOp = "checkout"
	ReflogMerge    ReflogOp = "merge"
	ReflogReset    ReflogOp = "reset"
	ReflogBranch   ReflogOp = "branch"
)

// ReflogEntry is one record of the append-only HEAD-movement history.
type ReflogEntry struct {
	PrevHash Hash
	NewHash  Hash
	Op       ReflogOp
	When     time.Time
	Message  string
}

func refsDirFor(gitDir, kind string) string {
	return filepath.Join(gitDir, "refs", kind)
}

// validateRefName enforces §4.3: no ".", no "..", no control bytes, and the
// name must resolve, after lexical normalization, to a path strictly inside
// refs/<kind>/.
func validateRefName(gitDir, kind, name string) (string, error) {
	if name == "" || name == "." || name == ".." {
		return "", errs.New(errs.InvalidRefName, name)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return "", errs.New(errs.InvalidRefName, name)
		}
	}
	root := refsDirFor(gitDir, kind)
	full := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errs.New(errs.PathOutsideRoot, name)
	}
	return full, nil
}

// SetBranch atomically writes refs/heads/<name> to point at hash.
func (r *Repository) SetBranch(name string, hash Hash) error {
	path, err := validateRefName(r.gitDir, "heads", name)
	if err != nil {
		return err
	}
	return atomicWriteRef(path, hash)
}

// SetTag atomically writes refs/tags/<name> to point at hash. Tags in this
// model are lightweight references, never objects (§3.1).
func (r *Repository) SetTag(name string, hash Hash) error {
	path, err := validateRefName(r.gitDir, "tags", name)
	if err != nil {
		return err
	}
	return atomicWriteRef(path, hash)
}

// DeleteBranch removes refs/heads/<name>.
func (r *Repository) DeleteBranch(name string) error {
	path, err := validateRefName(r.gitDir, "heads", name)
	if err != nil {
		return err
	}
	return deleteRef(path)
}

// DeleteTag removes refs/tags/<name>.
func (r *Repository) DeleteTag(name string) error {
	path, err := validateRefName(r.gitDir, "tags", name)
	if err != nil {
		return err
	}
	return deleteRef(path)
}

func deleteRef(path string) error {
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return errs.New(errs.NotFound, path)
		}
		return err
	}
	return nil
}

func atomicWriteRef(path string, hash Hash) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-ref-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.WriteString(string(hash) + "\n"); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Branches returns every branch name mapped to its current tip hash.
func (r *Repository) Branches() (map[string]Hash, error) {
	return r.listRefs("heads")
}

// Tags returns every tag name mapped to its target hash.
func (r *Repository) Tags() (map[string]Hash, error) {
	return r.listRefs("tags")
}

// SetRemoteBranch atomically writes refs/remotes/<remote>/<branch> to
// point at hash, the bookkeeping Fetch performs after pulling a remote
// branch's history in (§4.10).
func (r *Repository) SetRemoteBranch(remote, branch string, hash Hash) error {
	path, err := validateRefName(r.gitDir, "remotes/"+remote, branch)
	if err != nil {
		return err
	}
	return atomicWriteRef(path, hash)
}

// RemoteBranches returns every tracked branch of remote mapped to its
// last-fetched tip hash.
func (r *Repository) RemoteBranches(remote string) (map[string]Hash, error) {
	refs, err := r.listRefs("remotes/" + remote)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Hash, len(refs))
	prefix := "remotes/" + remote + "/"
	for name, h := range refs {
		out[strings.TrimPrefix(name, prefix)] = h
	}
	return out, nil
}

func (r *Repository) listRefs(kind string) (map[string]Hash, error) {
	out := make(map[string]Hash)
	root := refsDirFor(r.gitDir, kind)
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		//nolint:gosec // path is produced by Walk over the repository's own refs tree
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		h, err := NewHash(strings.TrimSpace(string(content)))
		if err != nil {
			return nil
		}
		out[kind+"/"+filepath.ToSlash(rel)] = h
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return out, nil
}

// HeadState describes what HEAD currently points at.
type HeadState struct {
	Branch   string // non-empty when on a branch
	Detached bool
	Hash     Hash // resolved tip; empty on a branch with no commits yet
}

// Head reads and resolves HEAD.
func (r *Repository) Head() (HeadState, error) {
	content, err := os.ReadFile(filepath.Join(r.gitDir, "HEAD"))
	if err != nil {
		return HeadState{}, fmt.Errorf("reading HEAD: %w", err)
	}
	line := strings.TrimSpace(string(content))
	if strings.HasPrefix(line, "ref: ") {
		branch := strings.TrimPrefix(strings.TrimPrefix(line, "ref: "), "refs/heads/")
		branches, err := r.Branches()
		if err != nil {
			return HeadState{}, err
		}
		return HeadState{Branch: branch, Hash: branches["heads/"+branch]}, nil
	}
	h, err := NewHash(line)
	if err != nil {
		return HeadState{}, fmt.Errorf("invalid HEAD: %w", err)
	}
	return HeadState{Detached: true, Hash: h}, nil
}

// SetHeadBranch points HEAD at a branch symbolically (used by checkout).
func (r *Repository) SetHeadBranch(name string) error {
	return os.WriteFile(filepath.Join(r.gitDir, "HEAD"), []byte(fmt.Sprintf("ref: refs/heads/%s\n", name)), 0o644)
}

// SetHeadDetached points HEAD directly at a commit hash.
func (r *Repository) SetHeadDetached(h Hash) error {
	return os.WriteFile(filepath.Join(r.gitDir, "HEAD"), []byte(string(h)+"\n"), 0o644)
}

// AppendReflog appends one entry to the reflog, one canonical record per
// line: "<prev> <new> <op> <unixtime> <tz>\t<message>".
func (r *Repository) AppendReflog(prev, next Hash, op ReflogOp, message string) error {
	f, err := os.OpenFile(filepath.Join(r.gitDir, "reflog"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	now := time.Now().UTC()
	_, err = fmt.Fprintf(f, "%s %s %s %d +0000\t%s\n", prev, next, op, now.Unix(), message)
	return err
}

// Reflog reads every reflog entry, oldest first.
func (r *Repository) Reflog() ([]ReflogEntry, error) {
	f, err := os.Open(filepath.Join(r.gitDir, "reflog"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []ReflogEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		tab := strings.IndexByte(line, '\t')
		message := ""
		head := line
		if tab >= 0 {
			head = line[:tab]
			message = line[tab+1:]
		}
		fields := strings.Fields(head)
		if len(fields) == 4 && strings.HasPrefix(head, " ") {
			// An entry with no previous commit is written with an empty prev field.
			fields = append([]string{""}, fields...)
		}
		if len(fields) < 5 {
			continue
		}
		var prev Hash
		var err1 error
		if fields[0] != "" {
			prev, err1 = NewHash(fields[0])
		}
		next, err2 := NewHash(fields[1])
		if err1 != nil || err2 != nil {
			continue
		}
		unixTime, _ := strconv.ParseInt(fields[3], 10, 64)
		entries = append(entries, ReflogEntry{
			PrevHash: prev,
			NewHash:  next,
			Op:       ReflogOp(fields[2]),
			When:     time.Unix(unixTime, 0).UTC(),
			Message:  message,
		})
	}
	return entries, scanner.Err()
}

// ResolveRef resolves a ref expression: "HEAD", "HEAD~n", a branch name, a
// tag name, or a short/full hash prefix (>=4 hex chars).
func (r *Repository) ResolveRef(expr string) (Hash, error) {
	base := expr
	walkN := 0
	if idx := strings.Index(expr, "~"); idx >= 0 {
		base = expr[:idx]
		n, err := strconv.Atoi(expr[idx+1:])
		if err != nil || n < 0 {
			return "", errs.New(errs.InvalidArgument, expr)
		}
		walkN = n
	}

	h, err := r.resolveBase(base)
	if err != nil {
		return "", err
	}
	for i := 0; i < walkN; i++ {
		c, err := r.objects.GetCommit(h)
		if err != nil {
			return "", err
		}
		if len(c.Parents) == 0 {
			return "", errs.New(errs.NotFound, fmt.Sprintf("%s: not enough parents", expr))
		}
		h = c.Parents[0] // first-parent only
	}
	return h, nil
}

func (r *Repository) resolveBase(base string) (Hash, error) {
	if base == "HEAD" {
		head, err := r.Head()
		if err != nil {
			return "", err
		}
		if head.Hash == "" {
			return "", errs.New(errs.NotFound, "HEAD")
		}
		return head.Hash, nil
	}

	branches, err := r.Branches()
	if err != nil {
		return "", err
	}
	if h, ok := branches["heads/"+base]; ok {
		return h, nil
	}
	tags, err := r.Tags()
	if err != nil {
		return "", err
	}
	if h, ok := tags["tags/"+base]; ok {
		return h, nil
	}

	if len(base) >= 4 && isHexPrefix(base) {
		return r.resolvePrefix(base)
	}

	return "", errs.New(errs.NotFound, base)
}

func isHexPrefix(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

// resolvePrefix scans loose and packed object hashes for a unique match of
// a hex prefix, failing with AmbiguousRef on more than one match.
func (r *Repository) resolvePrefix(prefix string) (Hash, error) {
	prefix = strings.ToLower(prefix)
	var matches []Hash

	_ = r.objects.IterLoose(func(h Hash) error {
		if strings.HasPrefix(string(h), prefix) {
			matches = append(matches, h)
		}
		return nil
	})
	for _, idx := range r.objects.packIndices {
		for _, hb := range idx.hashes {
			h := NewHashFromBytes(hb)
			if strings.HasPrefix(string(h), prefix) {
				matches = append(matches, h)
			}
		}
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i] < matches[j] })
	deduped := matches[:0]
	for i, m := range matches {
		if i == 0 || m != matches[i-1] {
			deduped = append(deduped, m)
		}
	}
	matches = deduped

	switch len(matches) {
	case 0:
		return "", errs.New(errs.NotFound, prefix)
	case 1:
		return matches[0], nil
	default:
		return "", errs.New(errs.AmbiguousRef, prefix)
	}
}
