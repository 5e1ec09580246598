package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"ioacore/internal/storage"
)

// anchorPath follows the anchors/YYYY/MM/DD/<chain_id>_root.json layout.
func anchorPath(chainID string, at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("anchors/%04d/%02d/%02d/%s_root.json", at.Year(), at.Month(), at.Day(), chainID)
}

// WriteAnchor binds chainID's current root hash to an external witness
// (a VCS commit, a timestamp authority receipt, ...) and writes the anchor
// file under the anchors/ tree, then records the anchor's path in the
// manifest's AnchorRefs. Anchors are written by operators; the chain only
// reads them back on verification.
func WriteAnchor(chainID string, store storage.BlobStore, anchorType, anchorRef string, metadata map[string]any) (Anchor, string, error) {
	data, err := store.Get(manifestFilePath(chainID))
	if err != nil {
		return Anchor{}, "", fmt.Errorf("audit: read manifest to anchor %s: %w", chainID, err)
	}
	manifest, err := decodeManifest(data)
	if err != nil {
		return Anchor{}, "", fmt.Errorf("audit: decode manifest to anchor %s: %w", chainID, err)
	}
	if manifest.RootHash == "" {
		return Anchor{}, "", fmt.Errorf("audit: chain %s has no entries to anchor", chainID)
	}

	anchoredAt := time.Now().UTC()
	anchor := Anchor{
		ChainID:    chainID,
		RootHash:   manifest.RootHash,
		AnchoredAt: anchoredAt,
		AnchorType: anchorType,
		AnchorRef:  anchorRef,
		Metadata:   metadata,
	}

	encoded, err := encodeAnchor(anchor)
	if err != nil {
		return Anchor{}, "", fmt.Errorf("audit: encode anchor: %w", err)
	}
	path := anchorPath(chainID, anchoredAt)
	if err := store.Put(path, encoded); err != nil {
		return Anchor{}, "", fmt.Errorf("audit: write anchor: %w", err)
	}

	manifest.AnchorRefs = append(manifest.AnchorRefs, path)
	manifestBytes, err := encodeManifest(manifest)
	if err != nil {
		return Anchor{}, "", fmt.Errorf("audit: encode manifest after anchor: %w", err)
	}
	if err := store.AtomicReplace(manifestFilePath(chainID), manifestBytes); err != nil {
		return Anchor{}, "", fmt.Errorf("audit: rewrite manifest after anchor: %w", err)
	}

	return anchor, path, nil
}

func encodeAnchor(a Anchor) ([]byte, error) {
	return json.MarshalIndent(a, "", "  ")
}
