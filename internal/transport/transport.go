// Package transport holds concrete implementations of the remote-sync
// contract §4.10 describes. The contract itself — the Transport
// interface and CAS error sentinels — lives in
// internal/memcore (see sync.go), not here: memcore's Fetch/Pull/Push
// accept any value whose method set matches, and LocalTransport below
// satisfies that contract structurally without memcore ever importing
// this package (avoiding an import cycle, since every implementation
// here naturally depends on memcore's object store and ref manager).
package transport

// RefKindHeads and RefKindTags are the two ref-map key prefixes a
// transport's ref listing uses, matching refs.go's on-disk kind strings.
const (
	RefKindHeads = "heads/"
	RefKindTags  = "tags/"
)
