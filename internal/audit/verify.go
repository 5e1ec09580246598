package audit

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"ioacore/internal/storage"
)

// BreakKind names a category of verification failure.
type BreakKind string

const (
	BreakHashMismatch      BreakKind = "hash_mismatch"
	BreakChainBreak        BreakKind = "chain_break"
	BreakLengthMismatch    BreakKind = "length_mismatch"
	BreakAnchorMismatch    BreakKind = "anchor_mismatch"
	BreakVerificationError BreakKind = "verification_error"
	BreakMissingManifest   BreakKind = "missing_manifest"
)

// Break is one verification failure or warning.
type Break struct {
	Kind    BreakKind `json:"kind"`
	EventID int64     `json:"event_id,omitempty"`
	Detail  string    `json:"detail"`
	Warning bool      `json:"warning"`
}

// VerifyOptions configures VerifyChain. All fields are optional.
type VerifyOptions struct {
	StartAfter       int64  // only verify entries with event_id > StartAfter
	Since            string // RFC3339 timestamp lower bound, inclusive
	AnchorPath       string // path to an Anchor file to cross-check, if any
	Strict           bool   // missing manifest/anchor ref is a failure, not a warning
	IgnoreSignatures bool   // skip manifest signature verification even when a key is supplied
	SignatureKey     []byte // key for verifying a signed manifest; nil skips the check
	FailFast         bool   // stop at the first break
}

// VerifyResult is the outcome of VerifyChain.
type VerifyResult struct {
	ChainID  string  `json:"chain_id"`
	OK       bool    `json:"ok"`
	Length   int64   `json:"length"`
	RootHash string  `json:"root_hash,omitempty"`
	TipHash  string  `json:"tip_hash,omitempty"`
	Breaks   []Break `json:"breaks"`
}

// VerifyChain recomputes and cross-checks every entry of chainID in store.
// It never returns an error for data-level problems; those are reported as
// Breaks. It returns a non-nil error only for unexpected I/O failures
// unrelated to chain content (e.g. listing the directory itself failing).
func VerifyChain(chainID string, store storage.BlobStore, opts VerifyOptions) (VerifyResult, error) {
	result := VerifyResult{ChainID: chainID}

	paths, err := store.List(chainDir(chainID) + "/")
	if err != nil {
		return result, fmt.Errorf("audit: list entries for chain %s: %w", chainID, err)
	}

	var entryPaths []string
	hasManifest := false
	for _, p := range paths {
		if strings.HasSuffix(p, "/"+manifestPath) {
			hasManifest = true
			continue
		}
		if strings.HasSuffix(p, ".json") {
			entryPaths = append(entryPaths, p)
		}
	}
	sort.Strings(entryPaths)

	addBreak := func(b Break) bool {
		result.Breaks = append(result.Breaks, b)
		return opts.FailFast
	}

	var manifest Manifest
	if hasManifest {
		data, err := store.Get(manifestFilePath(chainID))
		if err != nil {
			if addBreak(Break{Kind: BreakVerificationError, Detail: "read manifest: " + err.Error()}) {
				return finish(result), nil
			}
		} else if manifest, err = decodeManifest(data); err != nil {
			if addBreak(Break{Kind: BreakVerificationError, Detail: "decode manifest: " + err.Error()}) {
				return finish(result), nil
			}
		}
	} else {
		kind := BreakMissingManifest
		b := Break{Kind: kind, Detail: "no MANIFEST.json for chain " + chainID, Warning: !opts.Strict}
		if addBreak(b) && opts.Strict {
			return finish(result), nil
		}
	}

	var sinceBound time.Time
	if opts.Since != "" {
		parsed, err := time.Parse(time.RFC3339, opts.Since)
		if err != nil {
			if addBreak(Break{Kind: BreakVerificationError, Detail: "invalid since bound: " + err.Error()}) {
				return finish(result), nil
			}
		} else {
			sinceBound = parsed
		}
	}

	var prevHash string
	var entries []Entry
	for _, p := range entryPaths {
		data, err := store.Get(p)
		if err != nil {
			if addBreak(Break{Kind: BreakVerificationError, Detail: "read " + p + ": " + err.Error()}) {
				return finish(result), nil
			}
			continue
		}
		entry, err := decodeEntry(data)
		if err != nil {
			if addBreak(Break{Kind: BreakVerificationError, Detail: "decode " + p + ": " + err.Error()}) {
				return finish(result), nil
			}
			continue
		}
		if entry.EventID <= opts.StartAfter {
			continue
		}
		if !sinceBound.IsZero() && entry.Timestamp.Before(sinceBound) {
			continue
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].EventID < entries[j].EventID })

	for i, entry := range entries {
		recomputed, err := ComputeEntryHash(entry)
		if err != nil {
			if addBreak(Break{Kind: BreakVerificationError, EventID: entry.EventID, Detail: err.Error()}) {
				return finish(result), nil
			}
		} else if recomputed != entry.Hash {
			if addBreak(Break{Kind: BreakHashMismatch, EventID: entry.EventID, Detail: "stored hash does not match recomputed hash"}) {
				return finish(result), nil
			}
		}

		switch {
		case i == 0 && entry.EventID == 1:
			if entry.PrevHash != ZeroHash {
				if addBreak(Break{Kind: BreakChainBreak, EventID: entry.EventID, Detail: "first entry's prev_hash is not the zero hash"}) {
					return finish(result), nil
				}
			}
		case i > 0:
			if entry.PrevHash != prevHash {
				if addBreak(Break{Kind: BreakChainBreak, EventID: entry.EventID, Detail: "prev_hash does not match predecessor's hash"}) {
					return finish(result), nil
				}
			}
		}
		// Link the successor to the hash the content actually produces, so
		// a tampered entry also breaks the chain at the entry after it.
		if err == nil {
			prevHash = recomputed
		} else {
			prevHash = entry.Hash
		}
	}

	result.Length = int64(len(entries))
	if len(entries) > 0 {
		result.RootHash = entries[0].Hash
		result.TipHash = entries[len(entries)-1].Hash
	}

	// Manifest and anchor agreement are only meaningful against the full
	// chain, not a StartAfter- or Since-bounded slice of it.
	partial := opts.StartAfter > 0 || !sinceBound.IsZero()
	if hasManifest && !partial {
		if manifest.Length != result.Length {
			addBreak(Break{Kind: BreakLengthMismatch, Detail: "manifest length " + strconv.FormatInt(manifest.Length, 10) + " != entry count " + strconv.FormatInt(result.Length, 10)})
		}
		if result.Length > 0 {
			if manifest.RootHash != result.RootHash {
				addBreak(Break{Kind: BreakHashMismatch, Detail: "manifest root_hash does not match first entry hash"})
			}
			if manifest.TipHash != result.TipHash {
				addBreak(Break{Kind: BreakHashMismatch, Detail: "manifest tip_hash does not match last entry hash"})
			}
		}
	}

	if hasManifest && !opts.IgnoreSignatures && len(opts.SignatureKey) > 0 {
		signed, ok, err := VerifyManifestSignature(manifest, opts.SignatureKey)
		switch {
		case err != nil:
			addBreak(Break{Kind: BreakVerificationError, Detail: "verify manifest signature: " + err.Error()})
		case signed && !ok:
			addBreak(Break{Kind: BreakVerificationError, Detail: "manifest signature does not verify under the supplied key"})
		case !signed && opts.Strict:
			addBreak(Break{Kind: BreakVerificationError, Detail: "strict mode requires a signed manifest when a key is supplied"})
		}
	}

	if opts.AnchorPath != "" && !partial {
		data, err := store.Get(opts.AnchorPath)
		if err != nil {
			b := Break{Kind: BreakVerificationError, Detail: "read anchor: " + err.Error(), Warning: !opts.Strict}
			addBreak(b)
		} else if anchor, err := decodeAnchor(data); err != nil {
			addBreak(Break{Kind: BreakVerificationError, Detail: "decode anchor: " + err.Error()})
		} else if anchor.ChainID != chainID || anchor.RootHash != result.RootHash {
			addBreak(Break{Kind: BreakAnchorMismatch, Detail: "anchor chain_id/root_hash does not match computed root"})
		}
	} else if opts.Strict && hasManifest && len(manifest.AnchorRefs) == 0 {
		addBreak(Break{Kind: BreakMissingManifest, Detail: "strict mode requires at least one anchor ref", Warning: false})
	}

	return finish(result), nil
}

func finish(r VerifyResult) VerifyResult {
	r.OK = true
	for _, b := range r.Breaks {
		if !b.Warning {
			r.OK = false
			break
		}
	}
	return r
}
