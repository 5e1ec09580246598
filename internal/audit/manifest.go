package audit

import (
	"encoding/json"
	"time"
)

// Manifest is the per-chain summary rewritten atomically after each append.
//
// Signature is an optional detached signature over chain_id, root_hash,
// tip_hash, length, signer and signed_at (created_at, last_event_id and
// anchor_refs are not covered), in "SIGv1:<hex hmac-sha256>" form. It lets an external verifier confirm a
// manifest was produced by a holder of the signing key.
type Manifest struct {
	ChainID     string    `json:"chain_id"`
	RootHash    string    `json:"root_hash"`
	TipHash     string    `json:"tip_hash"`
	Length      int64     `json:"length"`
	CreatedAt   time.Time `json:"created_at"`
	LastEventID int64     `json:"last_event_id"`
	AnchorRefs  []string  `json:"anchor_refs"`

	Signature string    `json:"signature,omitempty"`
	Signer    string    `json:"signer,omitempty"`
	SignedAt  time.Time `json:"signed_at,omitempty"`
}

const manifestPath = "MANIFEST.json"

func chainDir(chainID string) string {
	return "chains/" + chainID
}

func manifestFilePath(chainID string) string {
	return chainDir(chainID) + "/" + manifestPath
}

func entryFilePath(chainID string, eventID int64, eventType string) string {
	return chainDir(chainID) + "/" + EntryFileName(eventID, eventType)
}

func decodeManifest(data []byte) (Manifest, error) {
	var m Manifest
	err := json.Unmarshal(data, &m)
	return m, err
}

func encodeManifest(m Manifest) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// Anchor is an external witness binding a chain's root hash to a point in
// time, optionally referencing an immutable external record. Anchors are
// written by operators; the chain only reads them during verification.
type Anchor struct {
	ChainID    string         `json:"chain_id"`
	RootHash   string         `json:"root_hash"`
	AnchoredAt time.Time      `json:"anchored_at"`
	AnchorType string         `json:"anchor_type"`
	AnchorRef  string         `json:"anchor_ref"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func decodeAnchor(data []byte) (Anchor, error) {
	var a Anchor
	err := json.Unmarshal(data, &a)
	return a, err
}
