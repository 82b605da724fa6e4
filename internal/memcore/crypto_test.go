package memcore

import (
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateSigningKeyFingerprintIsStable(t *testing.T) {
	repo := newTestRepo(t)

	fp, err := repo.GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}
	if len(fp) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(fp))
	}

	repo.Config().Signing.Enabled = true
	priv, ok, err := repo.SigningKey()
	if err != nil {
		t.Fatalf("SigningKey: %v", err)
	}
	if !ok {
		t.Fatalf("SigningKey: ok = false after GenerateSigningKey")
	}
	pub := priv.Public().(ed25519.PublicKey)
	if KeyFingerprint(pub) != fp {
		t.Errorf("KeyFingerprint(loaded key) = %s, want %s", KeyFingerprint(pub), fp)
	}
}

func TestEncryptDecryptBlobRoundTrip(t *testing.T) {
	var key [32]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))

	plaintext := []byte("semantic/fact.md contents, not a secret but treated as one")
	ciphertext, err := EncryptBlob(plaintext, key)
	if err != nil {
		t.Fatalf("EncryptBlob: %v", err)
	}
	if string(ciphertext) == string(plaintext) {
		t.Fatalf("EncryptBlob: ciphertext equals plaintext")
	}

	got, err := DecryptBlob(ciphertext, key)
	if err != nil {
		t.Fatalf("DecryptBlob: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Errorf("DecryptBlob round trip = %q, want %q", got, plaintext)
	}
}

func TestDecryptBlobRejectsTamperedCiphertext(t *testing.T) {
	var key [32]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))

	ciphertext, err := EncryptBlob([]byte("original"), key)
	if err != nil {
		t.Fatalf("EncryptBlob: %v", err)
	}
	tampered := append([]byte{}, ciphertext...)
	tampered[len(tampered)-1] ^= 0xFF

	if _, err := DecryptBlob(tampered, key); err == nil {
		t.Fatalf("DecryptBlob: tampered ciphertext decrypted without error")
	}
}

func TestDeriveKeyIsDeterministicPerSaltAndPassphrase(t *testing.T) {
	salt := []byte("0123456789abcdef")
	k1 := DeriveKey("correct horse battery staple", salt, 64*1024, 3)
	k2 := DeriveKey("correct horse battery staple", salt, 64*1024, 3)
	if k1 != k2 {
		t.Errorf("DeriveKey: same passphrase/salt/params produced different keys")
	}

	k3 := DeriveKey("a different passphrase", salt, 64*1024, 3)
	if k1 == k3 {
		t.Errorf("DeriveKey: different passphrases produced the same key")
	}
}

func TestObjectStoreRoundTripsUnderEncryption(t *testing.T) {
	repo := newTestRepo(t)
	repo.Config().Encryption.Enabled = true
	if _, err := repo.GenerateEncryptionKey(); err != nil {
		t.Fatalf("GenerateEncryptionKey: %v", err)
	}
	if err := repo.armObjectEncryption(); err != nil {
		t.Fatalf("armObjectEncryption: %v", err)
	}

	h, err := repo.Objects().PutBlob([]byte("encrypted at rest"))
	if err != nil {
		t.Fatalf("PutBlob: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(repo.GitDir(), "objects", string(h)[:2], string(h)[2:]))
	if err != nil {
		t.Fatalf("reading loose object file: %v", err)
	}
	if raw[0] != looseMarkerEncrypted {
		t.Fatalf("loose object marker = %d, want %d (encrypted)", raw[0], looseMarkerEncrypted)
	}

	got, err := repo.GetBlob(h)
	if err != nil {
		t.Fatalf("GetBlob: %v", err)
	}
	if string(got) != "encrypted at rest" {
		t.Errorf("GetBlob = %q, want %q", got, "encrypted at rest")
	}
}

func TestSignAndVerifyRoot(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	root := HashOf(TreeObject, []byte("merkle leaves"))

	sig := SignRoot(priv, root)
	if !VerifySignature(pub, root, sig) {
		t.Fatalf("VerifySignature: valid signature rejected")
	}

	otherRoot := HashOf(TreeObject, []byte("different leaves"))
	if VerifySignature(pub, otherRoot, sig) {
		t.Fatalf("VerifySignature: signature validated against the wrong root")
	}
}
