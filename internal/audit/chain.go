package audit

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"ioacore/internal/storage"
)

// Chain is a single-writer, append-only hash-linked log backed by a
// BlobStore. One Chain value must not be shared by two goroutines that
// don't coordinate through it directly — Append is internally
// synchronized, but a second *Chain value pointed at the same chain id
// and store from another process needs the external Lease capability
// (see storage.SQLStore's AcquireLease) instead.
type Chain struct {
	id    string
	store storage.BlobStore
	mu    sync.Mutex // single-writer lock for this process
}

// NewChain opens a writer for chainID against store. Opening does not
// create the chain; the first Append does, lazily.
func NewChain(chainID string, store storage.BlobStore) *Chain {
	return &Chain{id: chainID, store: store}
}

func (c *Chain) ID() string { return c.id }

// Manifest returns a snapshot of the chain's current manifest, for status
// reporting and CLI inspection. Readers obtain their own snapshot by
// re-reading the file rather than sharing the writer's in-memory state.
func (c *Chain) Manifest() (Manifest, error) {
	m, _, err := c.readManifest()
	return m, err
}

// readManifest returns the current manifest, or a zero-value manifest with
// LastEventID 0 if the chain has no entries yet.
func (c *Chain) readManifest() (Manifest, bool, error) {
	data, err := c.store.Get(manifestFilePath(c.id))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Manifest{ChainID: c.id}, false, nil
		}
		return Manifest{}, false, fmt.Errorf("audit: read manifest: %w", err)
	}
	m, err := decodeManifest(data)
	if err != nil {
		return Manifest{}, false, fmt.Errorf("audit: decode manifest: %w", err)
	}
	return m, true, nil
}

// Append writes one entry of eventType carrying payload, returning the
// written entry. It implements the append protocol verbatim: acquire the
// writer lock, read the manifest, build the entry with event_id =
// last_event_id+1 and prev_hash = tip_hash (or ZeroHash for the first
// entry), hash it, write the entry file, then atomically rewrite the
// manifest. A failure writing the entry or the manifest aborts the append
// without mutating the manifest.
func (c *Chain) Append(writer, eventType string, payload map[string]any) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	manifest, existed, err := c.readManifest()
	if err != nil {
		return Entry{}, &DurabilityError{ChainID: c.id, Step: "read_manifest", Cause: err}
	}

	prevHash := ZeroHash
	if existed {
		prevHash = manifest.TipHash
	}

	entry := Entry{
		EventID:   manifest.LastEventID + 1,
		Timestamp: time.Now().UTC(),
		Writer:    writer,
		EventType: eventType,
		Payload:   payload,
		PrevHash:  prevHash,
	}
	hash, err := ComputeEntryHash(entry)
	if err != nil {
		return Entry{}, &IntegrityError{ChainID: c.id, Reason: "compute_hash", Cause: err}
	}
	entry.Hash = hash

	entryBytes, err := entryJSON(entry)
	if err != nil {
		return Entry{}, &IntegrityError{ChainID: c.id, Reason: "encode_entry", Cause: err}
	}

	path := entryFilePath(c.id, entry.EventID, entry.EventType)
	if err := c.store.Put(path, entryBytes); err != nil {
		return Entry{}, &DurabilityError{ChainID: c.id, Step: "write_entry", Cause: err}
	}

	newManifest := Manifest{
		ChainID:     c.id,
		RootHash:    manifest.RootHash,
		TipHash:     entry.Hash,
		Length:      manifest.Length + 1,
		CreatedAt:   manifest.CreatedAt,
		LastEventID: entry.EventID,
		AnchorRefs:  manifest.AnchorRefs,
	}
	if !existed {
		newManifest.RootHash = entry.Hash
		newManifest.CreatedAt = entry.Timestamp
	}

	manifestBytes, err := encodeManifest(newManifest)
	if err != nil {
		return Entry{}, &IntegrityError{ChainID: c.id, Reason: "encode_manifest", Cause: err}
	}
	if err := c.store.AtomicReplace(manifestFilePath(c.id), manifestBytes); err != nil {
		return Entry{}, &DurabilityError{ChainID: c.id, Step: "write_manifest", Cause: err}
	}

	return entry, nil
}
