package memcore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/agentmem/memvcs/internal/memcore/errs"
)

func TestAppendAuditChainsEntries(t *testing.T) {
	repo := newTestRepo(t)

	if err := repo.AppendAudit("note", map[string]string{"a": "1"}); err != nil {
		t.Fatalf("AppendAudit #1: %v", err)
	}
	if err := repo.AppendAudit("note", map[string]string{"a": "2"}); err != nil {
		t.Fatalf("AppendAudit #2: %v", err)
	}

	entries, err := repo.AuditLog()
	if err != nil {
		t.Fatalf("AuditLog: %v", err)
	}
	// Init itself appends one "init" entry, so expect 3 total.
	if len(entries) != 3 {
		t.Fatalf("AuditLog: got %d entries, want 3", len(entries))
	}
	for i, e := range entries {
		if e.Seq != uint64(i+1) {
			t.Errorf("entry[%d].Seq = %d, want %d", i, e.Seq, i+1)
		}
	}
	if entries[1].PrevHash != entries[0].EntryHash {
		t.Errorf("entries[1].PrevHash = %q, want entries[0].EntryHash %q", entries[1].PrevHash, entries[0].EntryHash)
	}

	if seq, err := repo.VerifyAudit(); err != nil {
		t.Fatalf("VerifyAudit on an untampered chain: %v (at seq %d)", err, seq)
	}
}

func TestVerifyAuditDetectsTampering(t *testing.T) {
	repo := newTestRepo(t)
	if err := repo.AppendAudit("note", map[string]string{"a": "1"}); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}

	path := filepath.Join(repo.GitDir(), "audit", "log")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading audit log: %v", err)
	}
	tampered := append([]byte{}, data...)
	tampered = append(tampered, []byte(`{"seq":99,"op":"forged","fields":{},"prev":"","hash":"bad"}`+"\n")...)
	if err := os.WriteFile(path, tampered, 0o644); err != nil {
		t.Fatalf("writing tampered log: %v", err)
	}

	if _, err := repo.VerifyAudit(); errs.Of(err) != errs.AuditCorrupt {
		t.Fatalf("VerifyAudit on a tampered chain: err = %v, want AuditCorrupt", err)
	}
}
