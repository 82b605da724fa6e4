package memcore

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zlib"

	"github.com/agentmem/memvcs/internal/memcore/errs"
)

const (
	modeBlob = "100644"
	modeTree = "040000"
)

// maxDecompressedSize caps the size of any single decompressed object,
// guarding against zip-bomb style corrupt or hostile payloads.
const maxDecompressedSize = 256 * 1024 * 1024 // 256MB

// ObjectStore is the content-addressed persistence layer for blobs, trees,
// and commits (C1). All objects live under <gitDir>/objects, loose or
// packed; kind is never stored in the path — it is recovered from the
// canonical byte form's leading type tag.
type ObjectStore struct {
	gitDir string
	logger *slog.Logger

	packIndices []*PackIndex

	encKey     [32]byte
	encEnabled bool
}

// SetEncryption arms loose-object at-rest encryption (§4.7) with key,
// derived by the caller (Repository.objectEncryptionKey) from the
// repository's persisted secret and configured KDF parameters. Called once
// at repository open; a store with no key configured reads and writes
// loose objects in the clear, as it always has.
func (s *ObjectStore) SetEncryption(key [32]byte) {
	s.encKey = key
	s.encEnabled = true
}

// one-byte marker prefixed to every loose object's on-disk bytes, ahead of
// the zlib stream, identifying whether EncryptBlob was applied — so a
// store's objects remain readable across a later config.encryption.enabled
// flip rather than silently misinterpreting old plaintext objects as
// ciphertext or vice versa.
const (
	looseMarkerPlain     byte = 0
	looseMarkerEncrypted byte = 1
)

// NewObjectStore opens the object store rooted at gitDir. Pack indices are
// loaded eagerly since they are small and immutable once written; loose
// objects are resolved lazily by path.
func NewObjectStore(gitDir string, logger *slog.Logger) (*ObjectStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &ObjectStore{gitDir: gitDir, logger: logger}
	if err := s.loadPackIndices(); err != nil {
		return nil, fmt.Errorf("loading pack indices: %w", err)
	}
	return s, nil
}

// canonicalForm encodes kind+payload into the hashed byte form:
// "<type> <length>\x00<payload>".
func canonicalForm(kind ObjectType, payload []byte) []byte {
	header := fmt.Sprintf("%s %d\x00", kind.String(), len(payload))
	out := make([]byte, 0, len(header)+len(payload))
	out = append(out, header...)
	out = append(out, payload...)
	return out
}

// hashOf computes the SHA-256 content address of an object's canonical form.
func hashOf(kind ObjectType, payload []byte) Hash {
	sum := sha256.Sum256(canonicalForm(kind, payload))
	return NewHashFromBytes(sum)
}

// HashOf is the exported form of hashOf, used by the transport layer to
// verify an object's bytes rehash to its claimed name before storing it.
func HashOf(kind ObjectType, payload []byte) Hash {
	return hashOf(kind, payload)
}

// CanonicalForm is the exported form of canonicalForm: the exact
// type-tagged byte sequence ("<type> <length>\x00<payload>") that a
// remote transport exchanges on the wire, letting a receiver rehash and
// re-decode without any out-of-band type side-channel.
func CanonicalForm(kind ObjectType, payload []byte) []byte {
	return canonicalForm(kind, payload)
}

// SplitCanonical is the exported form of splitCanonical, recovering an
// object's kind and payload from its canonical wire bytes.
func SplitCanonical(data []byte) (ObjectType, []byte, error) {
	return splitCanonical(data)
}

func (s *ObjectStore) loosePath(h Hash) string {
	return filepath.Join(s.gitDir, "objects", string(h)[:2], string(h)[2:])
}

// Put computes the content hash of payload, writes it compressed at its
// loose path if not already present, and returns the hash. Put is
// idempotent: calling it twice with identical (kind, payload) writes at
// most one on-disk object (P2).
func (s *ObjectStore) Put(kind ObjectType, payload []byte) (Hash, error) {
	h := hashOf(kind, payload)

	if ok, err := s.existsLoose(h); err != nil {
		return "", err
	} else if ok {
		return h, nil
	}
	if s.existsPacked(h) {
		return h, nil
	}

	path := s.loosePath(h)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating object directory: %w", err)
	}

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(canonicalForm(kind, payload)); err != nil {
		zw.Close()
		return "", fmt.Errorf("compressing object: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("closing compressor: %w", err)
	}

	// Hash-then-encrypt (§4.7): h above was computed from the plaintext
	// canonical form, so deduplication by content hash is unaffected by
	// whether encryption is applied to the bytes actually written to disk.
	marker := looseMarkerPlain
	onDisk := compressed.Bytes()
	if s.encEnabled {
		ciphertext, err := EncryptBlob(onDisk, s.encKey)
		if err != nil {
			return "", fmt.Errorf("encrypting object: %w", err)
		}
		marker = looseMarkerEncrypted
		onDisk = ciphertext
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-obj-*")
	if err != nil {
		return "", fmt.Errorf("creating temp object file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write([]byte{marker}); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing object header byte: %w", err)
	}
	if _, err := tmp.Write(onDisk); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing temp object file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("renaming object into place: %w", err)
	}

	return h, nil
}

// Get resolves hash to its kind and raw payload, checking loose storage
// first, then every loaded pack index.
func (s *ObjectStore) Get(h Hash) (ObjectType, []byte, error) {
	kind, payload, err := s.getLoose(h)
	if err == nil {
		return kind, payload, nil
	}
	if !os.IsNotExist(err) {
		return NoneObject, nil, err
	}

	for _, idx := range s.packIndices {
		if offset, ok := idx.FindObject(h); ok {
			return s.readPacked(idx, offset, h)
		}
	}

	return NoneObject, nil, errs.New(errs.NotFound, fmt.Sprintf("object %s", h))
}

// PackIndices returns every loaded pack index, for fsck's packed-object
// rehash pass.
func (s *ObjectStore) PackIndices() []*PackIndex {
	return s.packIndices
}

// Exists reports whether hash is present, loose or packed.
func (s *ObjectStore) Exists(h Hash) bool {
	if ok, _ := s.existsLoose(h); ok {
		return true
	}
	return s.existsPacked(h)
}

func (s *ObjectStore) existsLoose(h Hash) (bool, error) {
	_, err := os.Stat(s.loosePath(h))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *ObjectStore) existsPacked(h Hash) bool {
	for _, idx := range s.packIndices {
		if _, ok := idx.FindObject(h); ok {
			return true
		}
	}
	return false
}

func (s *ObjectStore) getLoose(h Hash) (ObjectType, []byte, error) {
	path := s.loosePath(h)
	//nolint:gosec // G304: path is derived from a validated Hash
	f, err := os.Open(path)
	if err != nil {
		return NoneObject, nil, err
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return NoneObject, nil, fmt.Errorf("reading object %s: %w", h, err)
	}
	if len(raw) == 0 {
		return NoneObject, nil, fmt.Errorf("object %s: empty file", h)
	}
	marker, body := raw[0], raw[1:]

	switch marker {
	case looseMarkerEncrypted:
		if !s.encEnabled {
			return NoneObject, nil, errs.New(errs.DecryptionFailed, fmt.Sprintf("object %s is encrypted but no encryption key is configured", h))
		}
		plain, err := DecryptBlob(body, s.encKey)
		if err != nil {
			return NoneObject, nil, fmt.Errorf("decrypting object %s: %w", h, err)
		}
		body = plain
	case looseMarkerPlain:
		// already plaintext-compressed
	default:
		return NoneObject, nil, fmt.Errorf("object %s: unrecognized storage marker %d", h, marker)
	}

	data, err := readCompressedData(bytes.NewReader(body))
	if err != nil {
		return NoneObject, nil, fmt.Errorf("decompressing object %s: %w", h, err)
	}

	kind, payload, err := splitCanonical(data)
	if err != nil {
		return NoneObject, nil, err
	}
	return kind, payload, nil
}

func splitCanonical(data []byte) (ObjectType, []byte, error) {
	nul := bytes.IndexByte(data, 0)
	if nul == -1 {
		return NoneObject, nil, fmt.Errorf("invalid object encoding: no header terminator")
	}
	header := string(data[:nul])
	fields := strings.SplitN(header, " ", 2)
	if len(fields) != 2 {
		return NoneObject, nil, fmt.Errorf("invalid object header: %q", header)
	}
	kind := StrToObjectType(fields[0])
	if kind == NoneObject {
		return NoneObject, nil, fmt.Errorf("unrecognized object type: %q", fields[0])
	}
	return kind, data[nul+1:], nil
}

// IterLoose calls fn for every loose object hash under objects/, for GC
// mark-and-sweep scanning.
func (s *ObjectStore) IterLoose(fn func(Hash) error) error {
	root := filepath.Join(s.gitDir, "objects")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, dirEnt := range entries {
		if !dirEnt.IsDir() || len(dirEnt.Name()) != 2 || dirEnt.Name() == "pack" {
			continue
		}
		prefix := dirEnt.Name()
		sub := filepath.Join(root, prefix)
		files, err := os.ReadDir(sub)
		if err != nil {
			return err
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			h, err := NewHash(prefix + f.Name())
			if err != nil {
				continue
			}
			if err := fn(h); err != nil {
				return err
			}
		}
	}
	return nil
}

// RemoveLoose deletes a loose object by hash, used only by GC sweep.
func (s *ObjectStore) RemoveLoose(h Hash) error {
	err := os.Remove(s.loosePath(h))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// readCompressedData decompresses a zlib stream, rejecting anything larger
// than maxDecompressedSize to guard against zip-bomb payloads.
func readCompressedData(r io.Reader) ([]byte, error) {
	zr, err := zlib.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("creating zlib reader: %w", err)
	}
	defer zr.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(zr, maxDecompressedSize+1)); err != nil {
		return nil, fmt.Errorf("decompressing: %w", err)
	}
	if buf.Len() > maxDecompressedSize {
		return nil, fmt.Errorf("decompressed object exceeds maximum allowed size (%d bytes)", maxDecompressedSize)
	}
	return buf.Bytes(), nil
}

// --- Canonical tree/commit encode+decode ---

// EncodeTree produces the canonical byte form of a Tree. Entries must
// already be sorted by Name; EncodeTree does not sort defensively so that
// callers building trees bottom-up control ordering explicitly.
func EncodeTree(t *Tree) []byte {
	var buf bytes.Buffer
	for _, e := range t.Entries {
		mode := modeBlob
		if e.Kind == EntryTree {
			mode = modeTree
		}
		fmt.Fprintf(&buf, "%s %s\x00", mode, e.Name)
		hb := e.Hash.Bytes()
		buf.Write(hb[:])
	}
	return buf.Bytes()
}

// DecodeTree parses a canonical tree payload.
func DecodeTree(payload []byte) (*Tree, error) {
	t := &Tree{}
	r := bytes.NewReader(payload)
	for {
		mode, err := readUntil(r, ' ')
		if err == io.EOF {
			return t, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading tree entry mode: %w", err)
		}
		name, err := readUntil(r, 0)
		if err != nil {
			return nil, fmt.Errorf("reading tree entry name: %w", err)
		}
		var raw [HashSize]byte
		if _, err := io.ReadFull(r, raw[:]); err != nil {
			return nil, fmt.Errorf("reading tree entry hash: %w", err)
		}
		kind := EntryBlob
		if mode == modeTree {
			kind = EntryTree
		}
		t.Entries = append(t.Entries, TreeEntry{Name: name, Kind: kind, Hash: NewHashFromBytes(raw)})
	}
}

func readUntil(r *bytes.Reader, delim byte) (string, error) {
	var sb strings.Builder
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if b == delim {
			return sb.String(), nil
		}
		sb.WriteByte(b)
	}
}

// EncodeCommit produces the canonical byte form of a Commit, git-style:
// tree/parent/author/committer lines, a blank line, then the message, plus
// any metadata as trailing "meta key value" lines before the blank separator.
func EncodeCommit(c *Commit) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %s\n", c.Tree)
	for _, p := range c.Parents {
		fmt.Fprintf(&buf, "parent %s\n", p)
	}
	fmt.Fprintf(&buf, "author %s\n", c.Author.String())
	fmt.Fprintf(&buf, "committer %s\n", c.Committer.String())
	for _, k := range sortedKeys(c.Metadata) {
		fmt.Fprintf(&buf, "meta %s %s\n", k, c.Metadata[k])
	}
	buf.WriteByte('\n')
	buf.WriteString(c.Message)
	return buf.Bytes()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

// DecodeCommit parses a canonical commit payload.
func DecodeCommit(payload []byte) (*Commit, error) {
	c := &Commit{Metadata: make(map[string]string)}
	scanner := bufio.NewScanner(bytes.NewReader(payload))
	scanner.Buffer(make([]byte, 0, 64*1024), maxDecompressedSize)
	inMessage := false
	var msgLines []string

	for scanner.Scan() {
		line := scanner.Text()
		if inMessage {
			msgLines = append(msgLines, line)
			continue
		}
		if line == "" {
			inMessage = true
			continue
		}
		switch {
		case strings.HasPrefix(line, "tree "):
			h, err := NewHash(strings.TrimPrefix(line, "tree "))
			if err != nil {
				return nil, fmt.Errorf("invalid tree hash: %w", err)
			}
			c.Tree = h
		case strings.HasPrefix(line, "parent "):
			h, err := NewHash(strings.TrimPrefix(line, "parent "))
			if err != nil {
				return nil, fmt.Errorf("invalid parent hash: %w", err)
			}
			c.Parents = append(c.Parents, h)
		case strings.HasPrefix(line, "author "):
			sig, err := NewSignature(strings.TrimPrefix(line, "author "))
			if err != nil {
				return nil, fmt.Errorf("invalid author: %w", err)
			}
			c.Author = sig
		case strings.HasPrefix(line, "committer "):
			sig, err := NewSignature(strings.TrimPrefix(line, "committer "))
			if err != nil {
				return nil, fmt.Errorf("invalid committer: %w", err)
			}
			c.Committer = sig
		case strings.HasPrefix(line, "meta "):
			rest := strings.TrimPrefix(line, "meta ")
			parts := strings.SplitN(rest, " ", 2)
			if len(parts) == 2 {
				c.Metadata[parts[0]] = parts[1]
			} else {
				c.Metadata[parts[0]] = ""
			}
		}
	}
	c.Message = strings.TrimSpace(strings.Join(msgLines, "\n"))
	return c, nil
}

// PutTree encodes and stores a Tree, returning its hash.
func (s *ObjectStore) PutTree(t *Tree) (Hash, error) {
	return s.Put(TreeObject, EncodeTree(t))
}

// PutCommit encodes and stores a Commit, returning its hash.
func (s *ObjectStore) PutCommit(c *Commit) (Hash, error) {
	return s.Put(CommitObject, EncodeCommit(c))
}

// GetTree resolves and decodes a tree object.
func (s *ObjectStore) GetTree(h Hash) (*Tree, error) {
	kind, payload, err := s.Get(h)
	if err != nil {
		return nil, err
	}
	if kind != TreeObject {
		return nil, fmt.Errorf("object %s is not a tree (got %s)", h, kind)
	}
	return DecodeTree(payload)
}

// GetCommit resolves and decodes a commit object.
func (s *ObjectStore) GetCommit(h Hash) (*Commit, error) {
	kind, payload, err := s.Get(h)
	if err != nil {
		return nil, err
	}
	if kind != CommitObject {
		return nil, fmt.Errorf("object %s is not a commit (got %s)", h, kind)
	}
	return DecodeCommit(payload)
}

// GetBlob resolves a blob object's raw bytes.
func (s *ObjectStore) GetBlob(h Hash) ([]byte, error) {
	kind, payload, err := s.Get(h)
	if err != nil {
		return nil, err
	}
	if kind != BlobObject {
		return nil, fmt.Errorf("object %s is not a blob (got %s)", h, kind)
	}
	return payload, nil
}

// PutBlob stores raw file content as a blob.
func (s *ObjectStore) PutBlob(content []byte) (Hash, error) {
	return s.Put(BlobObject, content)
}
