package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// sigVersion names the detached-signature scheme; bump it if the payload
// fields or MAC construction ever change.
const sigVersion = "SIGv1"

// signaturePayload returns the manifest fields a signature covers: its
// root/tip/length, signer, and signing time, canonicalized the same way
// an entry is before hashing.
func signaturePayload(m Manifest, signer string, signedAt time.Time) map[string]any {
	return map[string]any{
		"version":      sigVersion,
		"algorithm":    "hmac-sha256",
		"chain_id":     m.ChainID,
		"root_hash":    m.RootHash,
		"tip_hash":     m.TipHash,
		"length":       m.Length,
		"signer":       signer,
		"signed_at":    signedAt.UTC().Format(time.RFC3339Nano),
	}
}

// SignManifest computes a detached "SIGv1:<hex hmac-sha256>" signature over
// m's content fields using key, and returns m with Signature, Signer, and
// SignedAt populated. The manifest itself is unchanged otherwise — signing
// is a read of the already-written manifest, not part of the append
// protocol proper.
func SignManifest(m Manifest, signer string, key []byte) (Manifest, error) {
	signedAt := time.Now().UTC()
	payload := signaturePayload(m, signer, signedAt)
	data, err := Canonicalize(payload)
	if err != nil {
		return Manifest{}, fmt.Errorf("audit: canonicalize signature payload: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	m.Signature = sigVersion + ":" + hex.EncodeToString(mac.Sum(nil))
	m.Signer = signer
	m.SignedAt = signedAt
	return m, nil
}

// VerifyManifestSignature recomputes m's signature with key and reports
// whether it matches m.Signature. A manifest with no signature is reported
// unsigned, not invalid — signing is optional per chain.
func VerifyManifestSignature(m Manifest, key []byte) (signed, ok bool, err error) {
	if m.Signature == "" {
		return false, false, nil
	}
	payload := signaturePayload(m, m.Signer, m.SignedAt)
	data, cErr := Canonicalize(payload)
	if cErr != nil {
		return true, false, fmt.Errorf("audit: canonicalize signature payload: %w", cErr)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	want := sigVersion + ":" + hex.EncodeToString(mac.Sum(nil))
	return true, hmac.Equal([]byte(want), []byte(m.Signature)), nil
}

// SignChainManifest reads chainID's current manifest from store, signs it
// with key under signer's name, and atomically rewrites it. Use after the
// chain is otherwise idle; a concurrent Append racing this call may
// overwrite the signature with a fresh, unsigned manifest, which is
// harmless — the next SignChainManifest call re-signs the new tip.
func SignChainManifest(chainID string, store interface {
	Get(path string) ([]byte, error)
	AtomicReplace(path string, data []byte) error
}, signer string, key []byte) (Manifest, error) {
	data, err := store.Get(manifestFilePath(chainID))
	if err != nil {
		return Manifest{}, fmt.Errorf("audit: read manifest for signing: %w", err)
	}
	m, err := decodeManifest(data)
	if err != nil {
		return Manifest{}, fmt.Errorf("audit: decode manifest for signing: %w", err)
	}
	signed, err := SignManifest(m, signer, key)
	if err != nil {
		return Manifest{}, err
	}
	out, err := encodeManifest(signed)
	if err != nil {
		return Manifest{}, fmt.Errorf("audit: encode signed manifest: %w", err)
	}
	if err := store.AtomicReplace(manifestFilePath(chainID), out); err != nil {
		return Manifest{}, fmt.Errorf("audit: write signed manifest: %w", err)
	}
	return signed, nil
}
