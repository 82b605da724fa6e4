package memcore

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zlib"

	"github.com/agentmem/memvcs/internal/memcore/errs"
)

// Pack & index magic, as defined by the wire format this codec implements
// (not Git's own pack/idx layout — see DESIGN.md).
var (
	packMagic = [4]byte{'P', 'A', 'C', 'K'}
	idxMagic  = [4]byte{'P', 'I', 'D', 'X'}
)

const packFormatVersion = 1

const (
	packFlagDelta = 0x01
)

const maxInsertChunk = 1 << 20 // 1MiB per literal insert opcode

// PackEntry is one object to be written into a pack.
type PackEntry struct {
	Hash    Hash
	Kind    ObjectType
	Content []byte // raw payload, without the canonical type/length header
}

// PackIndex is the parsed side-index mapping object hash to pack offset,
// read via binary search (P4: ≤ ⌈log2 n⌉ + 1 comparisons).
type PackIndex struct {
	path       string
	packPath   string
	numObjects uint32
	hashes     [][HashSize]byte // sorted ascending
	offsets    []uint64         // offsets[i] corresponds to hashes[i]
}

func (p *PackIndex) PackFile() string   { return p.packPath }
func (p *PackIndex) NumObjects() uint32 { return p.numObjects }

// Entries returns every (hash, offset) pair in the index, in its on-disk
// (sorted) order, for fsck's packed-object rehash pass.
func (p *PackIndex) Entries() []struct {
	Hash   Hash
	Offset int64
} {
	out := make([]struct {
		Hash   Hash
		Offset int64
	}, len(p.hashes))
	for i := range p.hashes {
		out[i].Hash = NewHashFromBytes(p.hashes[i])
		out[i].Offset = int64(p.offsets[i])
	}
	return out
}

// FindObject performs a binary search for hash's pack offset.
func (p *PackIndex) FindObject(h Hash) (int64, bool) {
	off, _, ok := p.findObjectCounting(h)
	return off, ok
}

// findObjectCounting is FindObject plus the comparison count, exposed for
// the binary-search-bound property test (P4).
func (p *PackIndex) findObjectCounting(h Hash) (int64, int, bool) {
	target := h.Bytes()
	comparisons := 0
	lo, hi := 0, len(p.hashes)
	for lo < hi {
		mid := (lo + hi) / 2
		comparisons++
		c := bytes.Compare(p.hashes[mid][:], target[:])
		switch {
		case c == 0:
			return int64(p.offsets[mid]), comparisons, true
		case c < 0:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return 0, comparisons, false
}

// WritePack writes entries into the pack binary format, consulting
// deltaBase for a preferred delta base hash per entry (typically produced
// by the similarity matcher, C12). Entries without a usable base, or whose
// delta would not beat the 0.8x threshold, or whose chain would exceed
// maxChainDepth, are written FULL. Returns the pack bytes and the matching
// index bytes.
func WritePack(entries []PackEntry, deltaBase map[Hash]Hash, maxChainDepth int) (packBytes, idxBytes []byte, err error) {
	byHash := make(map[Hash]*PackEntry, len(entries))
	for i := range entries {
		byHash[entries[i].Hash] = &entries[i]
	}

	depth := make(map[Hash]int)
	isDelta := make(map[Hash]bool)
	forcedFull := make(map[Hash]bool)

	var chainDepthOf func(h Hash, seen map[Hash]bool) int
	chainDepthOf = func(h Hash, seen map[Hash]bool) int {
		if d, ok := depth[h]; ok {
			return d
		}
		base, wantsDelta := deltaBase[h]
		if !wantsDelta {
			depth[h] = 1
			return 1
		}
		if seen[h] {
			// Cycle in the proposed delta graph: force FULL here to break it.
			depth[h] = 1
			isDelta[h] = false
			forcedFull[h] = true
			return 1
		}
		if _, ok := byHash[base]; !ok {
			// Base not present in this pack: must be FULL.
			depth[h] = 1
			return 1
		}
		seen[h] = true
		d := chainDepthOf(base, seen) + 1
		delete(seen, h)
		depth[h] = d
		return d
	}

	var buf bytes.Buffer
	buf.Write(packMagic[:])
	writeU32(&buf, packFormatVersion)
	writeU32(&buf, uint32(len(entries)))

	type offsetEntry struct {
		hash   [HashSize]byte
		offset uint64
	}
	offEntries := make([]offsetEntry, 0, len(entries))

	for i := range entries {
		e := &entries[i]
		offEntries = append(offEntries, offsetEntry{hash: e.Hash.Bytes(), offset: uint64(buf.Len())})

		base, wantsDelta := deltaBase[e.Hash]
		useDelta := false
		var deltaBytes []byte

		if wantsDelta && e.Hash != base {
			if baseEntry, ok := byHash[base]; ok {
				d := chainDepthOf(e.Hash, map[Hash]bool{})
				if d <= maxChainDepth && !forcedFull[e.Hash] {
					candidate := ComputeDelta(baseEntry.Content, e.Content)
					if len(candidate) < int(0.8*float64(len(e.Content))) {
						useDelta = true
						deltaBytes = candidate
					}
				}
			}
		}

		flags := byte(0)
		if useDelta {
			flags |= packFlagDelta
			isDelta[e.Hash] = true
		}

		buf.WriteByte(byte(e.Kind))
		buf.WriteByte(flags)

		if useDelta {
			hb := base.Bytes()
			buf.Write(hb[:])
			writeU32(&buf, uint32(len(deltaBytes)))
			buf.Write(deltaBytes)
		} else {
			var payload bytes.Buffer
			zw := zlib.NewWriter(&payload)
			if _, err := zw.Write(e.Content); err != nil {
				return nil, nil, fmt.Errorf("compressing pack entry %s: %w", e.Hash, err)
			}
			if err := zw.Close(); err != nil {
				return nil, nil, fmt.Errorf("closing pack entry compressor: %w", err)
			}
			writeU32(&buf, uint32(len(e.Content)))
			buf.Write(payload.Bytes())
		}
	}

	trailer := sha256.Sum256(buf.Bytes())
	buf.Write(trailer[:])

	sort.Slice(offEntries, func(i, j int) bool {
		return bytes.Compare(offEntries[i].hash[:], offEntries[j].hash[:]) < 0
	})

	var idxBuf bytes.Buffer
	idxBuf.Write(idxMagic[:])
	writeU32(&idxBuf, packFormatVersion)
	writeU32(&idxBuf, uint32(len(offEntries)))
	for _, oe := range offEntries {
		idxBuf.Write(oe.hash[:])
		writeU64(&idxBuf, oe.offset)
	}
	idxTrailer := sha256.Sum256(idxBuf.Bytes())
	idxBuf.Write(idxTrailer[:])

	return buf.Bytes(), idxBuf.Bytes(), nil
}

func writeU32(w *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.Write(b[:])
}

func writeU64(w *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.Write(b[:])
}

// loadPackIndices scans <gitDir>/objects/pack for .idx files.
func (s *ObjectStore) loadPackIndices() error {
	packDir := filepath.Join(s.gitDir, "objects", "pack")
	entries, err := os.ReadDir(packDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".idx") {
			continue
		}
		idxPath := filepath.Join(packDir, ent.Name())
		idx, err := loadPackIndex(idxPath)
		if err != nil {
			s.logger.Warn("skipping unreadable pack index", "path", idxPath, "err", err)
			continue
		}
		s.packIndices = append(s.packIndices, idx)
	}
	return nil
}

func loadPackIndex(idxPath string) (*PackIndex, error) {
	//nolint:gosec // G304: path enumerated from the repository's own pack directory
	data, err := os.ReadFile(idxPath)
	if err != nil {
		return nil, err
	}
	if len(data) < 12+32 {
		return nil, errs.New(errs.PackCorrupt, "index file too short")
	}
	trailerStart := len(data) - 32
	wantTrailer := data[trailerStart:]
	gotTrailer := sha256.Sum256(data[:trailerStart])
	if !bytes.Equal(wantTrailer, gotTrailer[:]) {
		return nil, errs.New(errs.PackCorrupt, fmt.Sprintf("index trailer mismatch: %s", idxPath))
	}

	r := bytes.NewReader(data[:trailerStart])
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, err
	}
	if magic != idxMagic {
		return nil, errs.New(errs.PackCorrupt, fmt.Sprintf("bad index magic: %s", idxPath))
	}
	var version, count uint32
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, err
	}

	idx := &PackIndex{
		path:       idxPath,
		packPath:   strings.TrimSuffix(idxPath, ".idx") + ".pack",
		numObjects: count,
		hashes:     make([][HashSize]byte, count),
		offsets:    make([]uint64, count),
	}
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(r, idx.hashes[i][:]); err != nil {
			return nil, fmt.Errorf("reading index entry %d hash: %w", i, err)
		}
		if err := binary.Read(r, binary.BigEndian, &idx.offsets[i]); err != nil {
			return nil, fmt.Errorf("reading index entry %d offset: %w", i, err)
		}
	}
	return idx, nil
}

// readPacked reads and, if necessary, delta-resolves the object at offset
// in idx's pack file.
func (s *ObjectStore) readPacked(idx *PackIndex, offset int64, want Hash) (ObjectType, []byte, error) {
	//nolint:gosec // G304: pack path comes from a loaded PackIndex under the repository root
	f, err := os.Open(idx.PackFile())
	if err != nil {
		return NoneObject, nil, err
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return NoneObject, nil, err
	}

	var kindByte, flags byte
	if err := binary.Read(f, binary.BigEndian, &kindByte); err != nil {
		return NoneObject, nil, err
	}
	if err := binary.Read(f, binary.BigEndian, &flags); err != nil {
		return NoneObject, nil, err
	}
	kind := ObjectType(kindByte)

	if flags&packFlagDelta != 0 {
		var baseRaw [HashSize]byte
		if _, err := io.ReadFull(f, baseRaw[:]); err != nil {
			return NoneObject, nil, err
		}
		baseHash := NewHashFromBytes(baseRaw)
		var deltaLen uint32
		if err := binary.Read(f, binary.BigEndian, &deltaLen); err != nil {
			return NoneObject, nil, err
		}
		deltaBytes := make([]byte, deltaLen)
		if _, err := io.ReadFull(f, deltaBytes); err != nil {
			return NoneObject, nil, err
		}

		_, baseContent, err := s.Get(baseHash)
		if err != nil {
			return NoneObject, nil, fmt.Errorf("resolving delta base %s for %s: %w", baseHash, want, err)
		}
		target, err := ApplyDelta(baseContent, deltaBytes)
		if err != nil {
			return NoneObject, nil, errs.Wrap(errs.PackCorrupt, fmt.Sprintf("applying delta for %s", want), err)
		}
		return kind, target, nil
	}

	var payloadLen uint32
	if err := binary.Read(f, binary.BigEndian, &payloadLen); err != nil {
		return NoneObject, nil, err
	}
	content, err := readCompressedData(f)
	if err != nil {
		return NoneObject, nil, fmt.Errorf("decompressing packed object %s: %w", want, err)
	}
	if uint32(len(content)) != payloadLen {
		return NoneObject, nil, errs.New(errs.PackCorrupt, fmt.Sprintf("packed object %s: size mismatch", want))
	}
	return kind, content, nil
}

// ComputeDelta produces a copy/insert-opcode patch transforming base into
// target, using non-overlapping 16-byte block matching to locate copyable
// runs (in the style of a simple rolling-block diff, grounded on the same
// "find shared runs, emit the gaps" shape as a Myers-style line differ).
func ComputeDelta(base, target []byte) []byte {
	const blockSize = 16
	index := make(map[string]int, len(base)/blockSize+1)
	for i := 0; i+blockSize <= len(base); i++ {
		key := string(base[i : i+blockSize])
		if _, exists := index[key]; !exists {
			index[key] = i
		}
	}

	var ops bytes.Buffer
	var literal []byte
	flush := func() {
		off := 0
		for off < len(literal) {
			n := len(literal) - off
			if n > maxInsertChunk {
				n = maxInsertChunk
			}
			ops.WriteByte(0x01)
			writeU32(&ops, uint32(n))
			ops.Write(literal[off : off+n])
			off += n
		}
		literal = nil
	}

	i := 0
	for i < len(target) {
		matched := false
		if i+blockSize <= len(target) {
			if baseOff, ok := index[string(target[i:i+blockSize])]; ok {
				length := blockSize
				for i+length < len(target) && baseOff+length < len(base) && target[i+length] == base[baseOff+length] {
					length++
				}
				flush()
				ops.WriteByte(0x00)
				writeU32(&ops, uint32(baseOff))
				writeU32(&ops, uint32(length))
				i += length
				matched = true
			}
		}
		if !matched {
			literal = append(literal, target[i])
			i++
		}
	}
	flush()
	ops.WriteByte(0x02)
	return ops.Bytes()
}

// ApplyDelta reconstructs the target payload from base and a delta produced
// by ComputeDelta (P5: apply(base, compute_delta(base, target)) == target).
func ApplyDelta(base, delta []byte) ([]byte, error) {
	r := bytes.NewReader(delta)
	var out bytes.Buffer
	for {
		op, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("truncated delta: missing end opcode")
		}
		switch op {
		case 0x00:
			var off, length uint32
			if err := binary.Read(r, binary.BigEndian, &off); err != nil {
				return nil, err
			}
			if err := binary.Read(r, binary.BigEndian, &length); err != nil {
				return nil, err
			}
			if uint64(off)+uint64(length) > uint64(len(base)) {
				return nil, fmt.Errorf("delta copy out of bounds: off=%d len=%d base=%d", off, length, len(base))
			}
			out.Write(base[off : off+length])
		case 0x01:
			var length uint32
			if err := binary.Read(r, binary.BigEndian, &length); err != nil {
				return nil, err
			}
			buf := make([]byte, length)
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, err
			}
			out.Write(buf)
		case 0x02:
			return out.Bytes(), nil
		default:
			return nil, fmt.Errorf("invalid delta opcode: 0x%02x", op)
		}
	}
}
