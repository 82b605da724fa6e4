package memcore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// TrustLevel is the closed enumeration of trust policy levels a signing
// key's fingerprint can carry, consulted by remote sync (§4.10) and the
// merge engine (§4.6).
type TrustLevel string

const (
	TrustFull        TrustLevel = "FULL"
	TrustConditional TrustLevel = "CONDITIONAL"
	TrustUntrusted   TrustLevel = "UNTRUSTED"
)

const trustLevelsFile = "trust/levels"

// TrustLevelFor returns the trust level on record for fingerprint, falling
// back to the repository's configured default when the key is unknown
// (including keys never explicitly promoted after a clone).
func (r *Repository) TrustLevelFor(fingerprint string) (TrustLevel, error) {
	levels, err := r.ListTrust()
	if err != nil {
		return "", err
	}
	if lvl, ok := levels[fingerprint]; ok {
		return lvl, nil
	}
	def := TrustLevel(r.config.Trust.DefaultLevel)
	if def == "" {
		def = TrustUntrusted
	}
	return def, nil
}

// SetTrust records an explicit trust level for fingerprint, overwriting any
// prior entry.
func (r *Repository) SetTrust(fingerprint string, level TrustLevel) error {
	levels, err := r.ListTrust()
	if err != nil {
		return err
	}
	levels[fingerprint] = level

	path := filepath.Join(r.gitDir, trustLevelsFile)
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-trust-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	fps := make([]string, 0, len(levels))
	for fp := range levels {
		fps = append(fps, fp)
	}
	sort.Strings(fps)
	for _, fp := range fps {
		if _, err := fmt.Fprintf(tmp, "%s %s\n", fp, levels[fp]); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// QuarantineKey records a newly seen remote public key's fingerprint as
// UNTRUSTED unless it is already known, per §4.9's clone-time quarantine
// policy — a known key's existing level is left untouched.
func (r *Repository) QuarantineKey(fingerprint string) error {
	levels, err := r.ListTrust()
	if err != nil {
		return err
	}
	if _, ok := levels[fingerprint]; ok {
		return nil
	}
	return r.SetTrust(fingerprint, TrustUntrusted)
}

// ListTrust returns every fingerprint with an explicit trust-level record.
func (r *Repository) ListTrust() (map[string]TrustLevel, error) {
	path := filepath.Join(r.gitDir, trustLevelsFile)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]TrustLevel{}, nil
		}
		return nil, err
	}
	defer f.Close()

	levels := make(map[string]TrustLevel)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		levels[fields[0]] = TrustLevel(fields[1])
	}
	return levels, scanner.Err()
}
