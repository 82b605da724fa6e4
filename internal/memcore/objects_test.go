package memcore

import (
	"log/slog"
	"testing"
)

func newTestStore(t *testing.T) *ObjectStore {
	t.Helper()
	s, err := NewObjectStore(t.TempDir(), slog.Default())
	if err != nil {
		t.Fatalf("NewObjectStore: %v", err)
	}
	return s
}

func TestObjectStorePutGetBlobRoundTrip(t *testing.T) {
	s := newTestStore(t)

	content := []byte("remember to水 check the oven")
	h, err := s.PutBlob(content)
	if err != nil {
		t.Fatalf("PutBlob: %v", err)
	}

	got, err := s.GetBlob(h)
	if err != nil {
		t.Fatalf("GetBlob: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("GetBlob: got %q, want %q", got, content)
	}

	if !s.Exists(h) {
		t.Errorf("Exists(%s) = false, want true", h)
	}
}

func TestObjectStorePutIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	content := []byte("same bytes twice")
	h1, err := s.PutBlob(content)
	if err != nil {
		t.Fatalf("PutBlob #1: %v", err)
	}
	h2, err := s.PutBlob(content)
	if err != nil {
		t.Fatalf("PutBlob #2: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("Put not deterministic: %s != %s", h1, h2)
	}
}

func TestObjectStoreGetWrongKind(t *testing.T) {
	s := newTestStore(t)

	h, err := s.PutBlob([]byte("not a tree"))
	if err != nil {
		t.Fatalf("PutBlob: %v", err)
	}
	if _, err := s.GetTree(h); err == nil {
		t.Fatalf("GetTree on a blob hash: expected error, got nil")
	}
}

func TestObjectStoreGetMissing(t *testing.T) {
	s := newTestStore(t)
	if _, _, err := s.Get(Hash("0000000000000000000000000000000000000000000000000000000000aa")); err == nil {
		t.Fatalf("Get on a missing object: expected error, got nil")
	}
}

func TestHashOfDeterministicAcrossCalls(t *testing.T) {
	payload := []byte("deterministic content address")
	h1 := HashOf(BlobObject, payload)
	h2 := HashOf(BlobObject, payload)
	if h1 != h2 {
		t.Fatalf("HashOf not deterministic: %s != %s", h1, h2)
	}
	if HashOf(TreeObject, payload) == h1 {
		t.Fatalf("HashOf must depend on object kind, not just payload")
	}
}

func TestCanonicalFormRoundTrip(t *testing.T) {
	payload := []byte("hello memory")
	wire := CanonicalForm(BlobObject, payload)

	kind, got, err := SplitCanonical(wire)
	if err != nil {
		t.Fatalf("SplitCanonical: %v", err)
	}
	if kind != BlobObject {
		t.Errorf("kind = %v, want BlobObject", kind)
	}
	if string(got) != string(payload) {
		t.Errorf("payload = %q, want %q", got, payload)
	}
}

func TestObjectStorePutTreeGetTree(t *testing.T) {
	s := newTestStore(t)

	blobHash, err := s.PutBlob([]byte("a fact about the user"))
	if err != nil {
		t.Fatalf("PutBlob: %v", err)
	}

	tree := &Tree{Entries: []TreeEntry{
		{Name: "pref.md", Hash: blobHash, Kind: EntryBlob},
	}}
	treeHash, err := s.PutTree(tree)
	if err != nil {
		t.Fatalf("PutTree: %v", err)
	}

	got, err := s.GetTree(treeHash)
	if err != nil {
		t.Fatalf("GetTree: %v", err)
	}
	if len(got.Entries) != 1 || got.Entries[0].Name != "pref.md" || got.Entries[0].Hash != blobHash {
		t.Errorf("GetTree round-trip mismatch: %+v", got.Entries)
	}
}
