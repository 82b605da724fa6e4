// Package memcore implements the content-addressed object store, reference
// manager, commit builder, merge engine, and supporting integrity machinery
// for a version-control engine over AI-agent memory artifacts.
package memcore

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var signatureRe = regexp.MustCompile("[<>]")

// Hash is a 64-character hex-encoded SHA-256 content identifier.
type Hash string

// HashSize is the byte length of a decoded Hash.
const HashSize = 32

// NewHash validates and wraps a 64-character hex string as a Hash.
func NewHash(s string) (Hash, error) {
	if len(s) != HashSize*2 {
		return "", fmt.Errorf("invalid hash length: %d", len(s))
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("invalid hash: %w", err)
	}
	return Hash(s), nil
}

// NewHashFromBytes wraps a 32-byte array as a Hash.
func NewHashFromBytes(b [HashSize]byte) Hash {
	return Hash(hex.EncodeToString(b[:]))
}

// Bytes decodes the hash back to its raw 32-byte form. Panics if the hash
// was not constructed through NewHash/NewHashFromBytes.
func (h Hash) Bytes() [HashSize]byte {
	var out [HashSize]byte
	b, err := hex.DecodeString(string(h))
	if err != nil || len(b) != HashSize {
		panic(fmt.Sprintf("memcore: malformed Hash %q", string(h)))
	}
	copy(out[:], b)
	return out
}

// Short returns the first 8 hex characters of the hash, for display.
func (h Hash) Short() string {
	if len(h) < 8 {
		return string(h)
	}
	return string(h)[:8]
}

// ObjectType is the closed sum of content-addressed object kinds.
type ObjectType int

const (
	NoneObject ObjectType = iota
	BlobObject
	TreeObject
	CommitObject
)

const (
	objectTypeBlob   = "blob"
	objectTypeTree   = "tree"
	objectTypeCommit = "commit"
)

func (t ObjectType) String() string {
	switch t {
	case BlobObject:
		return objectTypeBlob
	case TreeObject:
		return objectTypeTree
	case CommitObject:
		return objectTypeCommit
	default:
		return "unknown"
	}
}

// StrToObjectType converts a canonical type tag to an ObjectType.
func StrToObjectType(s string) ObjectType {
	switch s {
	case objectTypeBlob:
		return BlobObject
	case objectTypeTree:
		return TreeObject
	case objectTypeCommit:
		return CommitObject
	default:
		return NoneObject
	}
}

// MemoryClass is the closed enumeration of memory-artifact kinds that the
// merge engine dispatches on, derived from a path's top-level directory.
type MemoryClass int

const (
	ClassOther MemoryClass = iota
	ClassEpisodic
	ClassSemantic
	ClassProcedural
)

func (c MemoryClass) String() string {
	switch c {
	case ClassEpisodic:
		return "episodic"
	case ClassSemantic:
		return "semantic"
	case ClassProcedural:
		return "procedural"
	default:
		return "other"
	}
}

// ClassifyPath derives a MemoryClass from a working-tree-relative path's
// top-level directory, per the memory-type classification rules.
func ClassifyPath(path string) MemoryClass {
	path = strings.TrimPrefix(path, "/")
	top := path
	if idx := strings.IndexByte(path, '/'); idx >= 0 {
		top = path[:idx]
	}
	switch top {
	case "episodic":
		return ClassEpisodic
	case "semantic":
		return ClassSemantic
	case "procedural":
		return ClassProcedural
	default:
		return ClassOther
	}
}

// Signature identifies the author or committer of a commit.
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// String renders a signature in the canonical "Name <email> unix.nanos tz"
// form used inside a commit's canonical byte encoding. The nanosecond suffix
// preserves the sub-second precision spec.md §3.1 requires of a commit
// timestamp; without it two commits by the same author within the same
// wall-clock second would be indistinguishable by timestamp alone.
func (s Signature) String() string {
	_, offset := s.When.Zone()
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	hh := offset / 3600
	mm := (offset % 3600) / 60
	return fmt.Sprintf("%s <%s> %d.%09d %s%02d%02d", s.Name, s.Email, s.When.Unix(), s.When.Nanosecond(), sign, hh, mm)
}

// NewSignature parses a canonical signature line back into a Signature,
// recovering the nanosecond component String encodes. A timestamp with no
// "." suffix (pre-existing data written before the nanosecond suffix was
// introduced) parses with nanos=0.
func NewSignature(line string) (Signature, error) {
	parts := signatureRe.Split(line, -1)
	if len(parts) != 3 {
		return Signature{}, fmt.Errorf("invalid signature line: %q", line)
	}
	name := strings.TrimSpace(parts[0])
	email := strings.TrimSpace(parts[1])

	timePart := strings.TrimSpace(parts[2])
	fields := strings.Fields(timePart)
	if len(fields) == 0 {
		return Signature{}, fmt.Errorf("invalid signature line: missing timestamp: %q", line)
	}

	var unixTime int64
	var nanos int64
	secField := fields[0]
	if dot := strings.IndexByte(secField, '.'); dot >= 0 {
		nanoField := secField[dot+1:]
		secField = secField[:dot]
		if _, err := fmt.Sscanf(nanoField, "%d", &nanos); err != nil {
			return Signature{}, fmt.Errorf("invalid signature line: bad nanoseconds: %q", line)
		}
	}
	if _, err := fmt.Sscanf(secField, "%d", &unixTime); err != nil {
		return Signature{}, fmt.Errorf("invalid signature line: bad timestamp: %q", line)
	}

	loc := time.UTC
	if len(fields) >= 2 {
		if l := parseTimezone(fields[1]); l != nil {
			loc = l
		}
	}

	return Signature{Name: name, Email: email, When: time.Unix(unixTime, nanos).In(loc)}, nil
}

func parseTimezone(tz string) *time.Location {
	if len(tz) != 5 {
		return nil
	}
	sign := 1
	switch tz[0] {
	case '-':
		sign = -1
	case '+':
	default:
		return nil
	}
	var hours, mins int
	if _, err := fmt.Sscanf(tz[1:3], "%d", &hours); err != nil {
		return nil
	}
	if _, err := fmt.Sscanf(tz[3:5], "%d", &mins); err != nil {
		return nil
	}
	return time.FixedZone(tz, sign*(hours*3600+mins*60))
}

// TreeEntryKind is the closed sum of tree-entry kinds. Symlinks and
// executable bits are out of scope; every tracked path is a regular file
// (blob) or a directory (tree).
type TreeEntryKind int

const (
	EntryBlob TreeEntryKind = iota
	EntryTree
)

// TreeEntry is one ordered, named member of a Tree.
type TreeEntry struct {
	Name string
	Kind TreeEntryKind
	Hash Hash
}

// Tree is an ordered set of entries, unique by name, sorted by byte value
// of Name — the order that determines a tree's canonical byte form.
type Tree struct {
	Entries []TreeEntry
}

// Commit is the closed, immutable record of one point in history.
type Commit struct {
	Tree      Hash
	Parents   []Hash
	Author    Signature
	Committer Signature
	Message   string
	// Metadata carries optional crypto-layer and review-flag fields:
	// merkle_root, signature, signing_key_id, merge_trust_review.
	Metadata map[string]string
}

// DiffStatus is the kind of change a path underwent between two trees.
type DiffStatus int

const (
	DiffStatusAdded DiffStatus = iota
	DiffStatusModified
	DiffStatusDeleted
)

func (s DiffStatus) String() string {
	switch s {
	case DiffStatusAdded:
		return "added"
	case DiffStatusModified:
		return "modified"
	case DiffStatusDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// DiffEntry is a single file-level change between two trees.
type DiffEntry struct {
	Path     string
	Status   DiffStatus
	OldHash  Hash
	NewHash  Hash
	IsBinary bool
}

// DiffStats summarizes the line-level shape of a diff.
type DiffStats struct {
	FilesChanged int
	Insertions   int
	Deletions    int
}

// CommitDiff is the full set of file changes introduced by one commit
// relative to its first parent.
type CommitDiff struct {
	CommitHash Hash
	Entries    []DiffEntry
	Stats      DiffStats
}

// DiffLine is a single rendered line within a diff hunk.
type DiffLine struct {
	Type    string // "context", "addition", or "deletion"
	Content string
	OldLine int // 0 for additions
	NewLine int // 0 for deletions
}

// DiffHunk is a contiguous block of changed (and surrounding context) lines.
type DiffHunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []DiffLine
}

// FileDiff is the complete line-level diff for a single file.
type FileDiff struct {
	Path      string
	OldHash   Hash
	NewHash   Hash
	IsBinary  bool
	Truncated bool
	Hunks     []DiffHunk
}

// MergeRegionKind classifies one span of a SEMANTIC three-way merge.
type MergeRegionKind int

const (
	RegionContext MergeRegionKind = iota
	RegionOurs
	RegionTheirs
	RegionConflict
)

// MergeRegion is one span produced by the diff3-style merge walk, anchored
// to its position in the base file.
type MergeRegion struct {
	Kind        MergeRegionKind
	BaseStart   int      // 1-based line number in base where this region begins
	BaseLines   []string // lines this region replaces in base
	OursLines   []string // RegionOurs, RegionConflict
	TheirsLines []string // RegionTheirs, RegionConflict
}

// ConflictType classifies how two sides of a merge changed the same path.
type ConflictType string

const (
	ConflictNone         ConflictType = "none"
	ConflictBothAdded    ConflictType = "both_added"
	ConflictDeleteModify ConflictType = "delete_modify"
	ConflictConflicting  ConflictType = "conflicting"
)

// MergePreviewEntry describes one changed path in a merge preview.
type MergePreviewEntry struct {
	Path         string
	BaseHash     Hash
	OursHash     Hash
	TheirsHash   Hash
	OursStatus   string
	TheirsStatus string
	IsBinary     bool
	ConflictType ConflictType
}

// MergePreviewStats summarizes a MergePreviewResult.
type MergePreviewStats struct {
	TotalFiles int
	Conflicts  int
	CleanMerge int
}

// MergePreviewResult is the full path-level classification of merging
// theirs into ours, computed without mutating the repository.
type MergePreviewResult struct {
	MergeBaseHash Hash
	OursHash      Hash
	TheirsHash    Hash
	Entries       []MergePreviewEntry
	Stats         MergePreviewStats
}

// ThreeWayDiffStats tallies the line-level shape of a three-way file merge.
type ThreeWayDiffStats struct {
	OursAdded       int
	OursDeleted     int
	TheirsAdded     int
	TheirsDeleted   int
	ConflictRegions int
}

// ThreeWayFileDiff is the diff3-style merge result for a single file,
// expressed as a sequence of classified MergeRegions.
type ThreeWayFileDiff struct {
	Path         string
	Regions      []MergeRegion
	ConflictType ConflictType
	IsBinary     bool
	Truncated    bool
	Stats        ThreeWayDiffStats
}
