package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/agentmem/memvcs/internal/memcore"
)

// LocalTransport implements Transport against another repository's .mem
// directory on the same filesystem (§6.3's reference transport), reusing
// the core object store and ref manager rather than re-deriving the wire
// format: a "remote" here is just another *memcore.Repository this
// process also has a handle to.
type LocalTransport struct {
	remote *memcore.Repository
}

// NewLocalTransport wraps an already-open remote repository.
func NewLocalTransport(remote *memcore.Repository) *LocalTransport {
	return &LocalTransport{remote: remote}
}

// OpenLocalTransport opens the repository rooted at dir and wraps it.
func OpenLocalTransport(dir string) (*LocalTransport, error) {
	remote, err := memcore.Open(dir, nil)
	if err != nil {
		return nil, err
	}
	return NewLocalTransport(remote), nil
}

func (t *LocalTransport) ListRefs(ctx context.Context) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string]string)
	branches, err := t.remote.Branches()
	if err != nil {
		return nil, err
	}
	for name, h := range branches {
		out[name] = string(h)
	}
	tags, err := t.remote.Tags()
	if err != nil {
		return nil, err
	}
	for name, h := range tags {
		out[name] = string(h)
	}
	return out, nil
}

func (t *LocalTransport) ReadObject(ctx context.Context, hash string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, err := memcore.NewHash(hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", memcore.ErrObjectNotFound, hash)
	}
	kind, payload, err := t.remote.Objects().Get(h)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", memcore.ErrObjectNotFound, hash)
	}
	return memcore.CanonicalForm(kind, payload), nil
}

func (t *LocalTransport) WriteObject(ctx context.Context, hash string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	kind, payload, err := memcore.SplitCanonical(data)
	if err != nil {
		return fmt.Errorf("decoding object %s: %w", hash, err)
	}
	if got := memcore.HashOf(kind, payload); string(got) != hash {
		return fmt.Errorf("object %s: payload rehashes to %s", hash, got)
	}
	_, err = t.remote.Objects().Put(kind, payload)
	return err
}

func (t *LocalTransport) CASUpdateRef(ctx context.Context, name, expected, next string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock, err := t.remote.Lock(10 * time.Second)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	current, err := t.currentRefValue(name)
	if err != nil {
		return err
	}
	if current != expected {
		return memcore.ErrRefChanged
	}

	nextHash, err := memcore.NewHash(next)
	if err != nil {
		return fmt.Errorf("invalid ref target %q: %w", next, err)
	}

	kind, ref := refKindAndName(name)
	switch kind {
	case RefKindHeads:
		return t.remote.SetBranch(ref, nextHash)
	case RefKindTags:
		return t.remote.SetTag(ref, nextHash)
	default:
		return fmt.Errorf("transport: unrecognized ref kind in %q", name)
	}
}

func (t *LocalTransport) currentRefValue(name string) (string, error) {
	kind, ref := refKindAndName(name)
	switch kind {
	case RefKindHeads:
		branches, err := t.remote.Branches()
		if err != nil {
			return "", err
		}
		if h, ok := branches["heads/"+ref]; ok {
			return string(h), nil
		}
		return "", nil
	case RefKindTags:
		tags, err := t.remote.Tags()
		if err != nil {
			return "", err
		}
		if h, ok := tags["tags/"+ref]; ok {
			return string(h), nil
		}
		return "", nil
	default:
		return "", fmt.Errorf("transport: unrecognized ref kind in %q", name)
	}
}

// refKindAndName splits a ref-listing key of the form "heads/<name>" or "tags/<name>"
// key back into its kind prefix and bare name.
func refKindAndName(name string) (kind, ref string) {
	for _, k := range []string{RefKindHeads, RefKindTags} {
		if len(name) > len(k) && name[:len(k)] == k {
			return k, name[len(k):]
		}
	}
	return "", name
}
