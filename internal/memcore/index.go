package memcore

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/agentmem/memvcs/internal/memcore/errs"
)

// indexMagic identifies the staging-index file format: "MIDX".
var indexMagic = [4]byte{'M', 'I', 'D', 'X'}

const indexFormatVersion = 1

// IndexEntry is one staged path: its blob hash and the stat snapshot used
// to short-circuit rehashing unchanged files on the next `stage_all`.
type IndexEntry struct {
	Path  string
	Hash  Hash
	Size  uint64
	Mtime int64 // unix nanoseconds
	Mode  uint32
}

// Index is the in-memory form of the staging area: path → {blob_hash,
// size, mtime, mode}. Unlike a DIRC-style index there is no device/inode/
// uid/gid/merge-stage tracking — this domain has no filesystem-identity or
// merge-stage concept for staged entries.
type Index struct {
	Entries map[string]*IndexEntry
}

// NewIndex returns an empty staging index.
func NewIndex() *Index {
	return &Index{Entries: make(map[string]*IndexEntry)}
}

// ReadIndex loads the staging index from <gitDir>/index. A missing file is
// not an error: it means nothing is staged yet.
func ReadIndex(gitDir string) (*Index, error) {
	path := filepath.Join(gitDir, "index")
	//nolint:gosec // G304: path is derived from the repository's own git directory
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewIndex(), nil
		}
		return nil, err
	}
	return parseIndex(data)
}

func parseIndex(data []byte) (*Index, error) {
	const headerSize = 4 + 4 + 4
	if len(data) < headerSize {
		return nil, errs.New(errs.InvalidConfig, "staging index truncated")
	}
	if [4]byte(data[0:4]) != indexMagic {
		return nil, errs.New(errs.InvalidConfig, "staging index: bad magic")
	}
	version := binary.BigEndian.Uint32(data[4:8])
	if version != indexFormatVersion {
		return nil, errs.New(errs.InvalidConfig, fmt.Sprintf("staging index: unsupported version %d", version))
	}
	count := binary.BigEndian.Uint32(data[8:12])

	idx := NewIndex()
	off := headerSize
	for i := uint32(0); i < count; i++ {
		e, n, err := parseIndexEntry(data, off)
		if err != nil {
			return nil, fmt.Errorf("staging index entry %d: %w", i, err)
		}
		idx.Entries[e.Path] = e
		off += n
	}
	return idx, nil
}

func parseIndexEntry(data []byte, off int) (*IndexEntry, int, error) {
	if off+64 > len(data) {
		return nil, 0, fmt.Errorf("truncated hash field")
	}
	hash, err := NewHash(string(data[off : off+64]))
	if err != nil {
		return nil, 0, err
	}
	p := off + 64
	if p+22 > len(data) {
		return nil, 0, fmt.Errorf("truncated fixed fields")
	}
	size := binary.BigEndian.Uint64(data[p : p+8])
	mtime := int64(binary.BigEndian.Uint64(data[p+8 : p+16]))
	mode := binary.BigEndian.Uint32(data[p+16 : p+20])
	pathLen := int(binary.BigEndian.Uint16(data[p+20 : p+22]))
	p += 22
	if p+pathLen > len(data) {
		return nil, 0, fmt.Errorf("truncated path field")
	}
	path := string(data[p : p+pathLen])
	total := (p + pathLen) - off
	return &IndexEntry{Path: path, Hash: hash, Size: size, Mtime: mtime, Mode: mode}, total, nil
}

// Save writes the staging index atomically, entries sorted by path so the
// on-disk encoding is deterministic.
func (idx *Index) Save(gitDir string) error {
	paths := make([]string, 0, len(idx.Entries))
	for p := range idx.Entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	buf := make([]byte, 0, 128*len(paths)+12)
	buf = append(buf, indexMagic[:]...)
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], indexFormatVersion)
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(paths)))
	buf = append(buf, hdr[:]...)

	for _, p := range paths {
		e := idx.Entries[p]
		buf = append(buf, []byte(string(e.Hash))...)
		var fixed [22]byte
		binary.BigEndian.PutUint64(fixed[0:8], e.Size)
		binary.BigEndian.PutUint64(fixed[8:16], uint64(e.Mtime))
		binary.BigEndian.PutUint32(fixed[16:20], e.Mode)
		binary.BigEndian.PutUint16(fixed[20:22], uint16(len(p)))
		buf = append(buf, fixed[:]...)
		buf = append(buf, []byte(p)...)
	}

	path := filepath.Join(gitDir, "index")
	tmp, err := os.CreateTemp(gitDir, ".tmp-index-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := bufio.NewWriter(tmp)
	if _, err := w.Write(buf); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Stage records path with the given blob hash and stat snapshot,
// overwriting any existing entry for that path.
func (idx *Index) Stage(path string, hash Hash, size uint64, mtime int64, mode uint32) {
	idx.Entries[path] = &IndexEntry{Path: path, Hash: hash, Size: size, Mtime: mtime, Mode: mode}
}

// Unstage removes path from the staging index.
func (idx *Index) Unstage(path string) {
	delete(idx.Entries, path)
}

// SortedPaths returns every staged path in sorted order.
func (idx *Index) SortedPaths() []string {
	paths := make([]string, 0, len(idx.Entries))
	for p := range idx.Entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
