package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agentmem/memvcs/internal/memcore"
)

// HTTPTransport is a client for a remote Server, satisfying
// memcore.Transport structurally so it can be passed directly to
// memcore.Fetch/Pull/Push. It never imports memcore.Transport itself —
// only the plain stdlib types its four methods share with that interface.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTransport constructs a client against a Server listening at
// baseURL (e.g. "http://peer.example:8420").
func NewHTTPTransport(baseURL string) *HTTPTransport {
	return &HTTPTransport{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *HTTPTransport) ListRefs(ctx context.Context) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/refs", nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing refs: %s", resp.Status)
	}
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding ref list: %w", err)
	}
	return out, nil
}

func (t *HTTPTransport) ReadObject(ctx context.Context, hash string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/objects/"+hash, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", memcore.ErrObjectNotFound, hash)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reading object %s: %s", hash, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func (t *HTTPTransport) WriteObject(ctx context.Context, hash string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, t.baseURL+"/objects/"+hash, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("writing object %s: %s: %s", hash, resp.Status, string(body))
	}
	return nil
}

func (t *HTTPTransport) CASUpdateRef(ctx context.Context, name, expected, next string) error {
	kind, ref, ok := splitRefName(name)
	if !ok {
		return fmt.Errorf("unrecognized ref kind in %q", name)
	}
	body, err := json.Marshal(casUpdateRefRequest{Expected: expected, Next: next})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/refs/%s/%s", t.baseURL, kind, ref)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusConflict {
		return memcore.ErrRefChanged
	}
	if resp.StatusCode != http.StatusNoContent {
		responseBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("updating ref %s: %s: %s", name, resp.Status, string(responseBody))
	}
	return nil
}

// splitRefName splits a "heads/<name>" or "tags/<name>" ref-map key into
// its URL path segments.
func splitRefName(name string) (kind, ref string, ok bool) {
	for _, k := range []string{"heads", "tags"} {
		if prefix := k + "/"; strings.HasPrefix(name, prefix) {
			return k, strings.TrimPrefix(name, prefix), true
		}
	}
	return "", "", false
}
