package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Canonicalize produces the deterministic byte representation used as
// hashing input: UTF-8 JSON, keys sorted lexicographically at every depth,
// no insignificant whitespace, numbers in shortest round-trip decimal form.
//
// Values are walked and rebuilt through canonicalValue and written by
// writeCanonical, so key order and number formatting are fixed by this
// file rather than by encoding/json's encoder.
func Canonicalize(v map[string]any) ([]byte, error) {
	ordered := canonicalValue(v)
	var buf strings.Builder
	if err := writeCanonical(&buf, ordered); err != nil {
		return nil, err
	}
	return []byte(buf.String()), nil
}

// canonicalValue walks an arbitrary decoded value and returns a value whose
// encoding is well defined: maps become sorted key/value pairs, slices keep
// their order, everything else passes through unchanged.
func canonicalValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]kv, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, kv{k, canonicalValue(t[k])})
		}
		return pairs
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = canonicalValue(e)
		}
		return out
	default:
		return t
	}
}

type kv struct {
	key string
	val any
}

func writeCanonical(b *strings.Builder, v any) error {
	switch t := v.(type) {
	case []kv:
		b.WriteByte('{')
		for i, p := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			key, err := json.Marshal(p.key)
			if err != nil {
				return err
			}
			b.Write(key)
			b.WriteByte(':')
			if err := writeCanonical(b, p.val); err != nil {
				return err
			}
		}
		b.WriteByte('}')
		return nil
	case []any:
		b.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeCanonical(b, e); err != nil {
				return err
			}
		}
		b.WriteByte(']')
		return nil
	case string:
		enc, err := json.Marshal(t)
		if err != nil {
			return err
		}
		b.Write(enc)
		return nil
	case bool:
		if t {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
		return nil
	case nil:
		b.WriteString("null")
		return nil
	case float64:
		b.WriteString(formatNumber(t))
		return nil
	case int, int64, int32:
		fmt.Fprintf(b, "%d", t)
		return nil
	case json.Number:
		b.WriteString(t.String())
		return nil
	default:
		// Fall back to the struct's own JSON encoding, then round-trip it
		// through the decoder so nested maps get canonicalized too.
		enc, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("audit: canonicalize unsupported value %T: %w", v, err)
		}
		var generic any
		if err := json.Unmarshal(enc, &generic); err != nil {
			return err
		}
		return writeCanonical(b, canonicalValue(generic))
	}
}

// formatNumber renders a float64 in the shortest form that round-trips:
// integral values with magnitude below 1e15 as plain decimals ("3"), all
// other values in strconv's shortest 'g' form ("1e+15", "1e-06", "0.5").
// This differs from json.Marshal, which writes 1e15 and 1e-6 without an
// exponent.
func formatNumber(f float64) string {
	if math.Trunc(f) == f && !math.IsInf(f, 0) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Hash returns the lowercase hex sha-256 of the canonical form of v.
func Hash(v map[string]any) (string, error) {
	data, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// entryJSON renders the full entry (including Hash) in the same
// sorted-key, no-whitespace canonical form entries are stored in on disk,
// matching the wire format's "keys sorted" requirement.
func entryJSON(e Entry) ([]byte, error) {
	full := e.hashable()
	full["hash"] = e.Hash
	return Canonicalize(full)
}

func decodeEntry(data []byte) (Entry, error) {
	var e Entry
	err := json.Unmarshal(data, &e)
	return e, err
}

// ComputeEntryHash returns the hash that Entry.Hash must equal.
func ComputeEntryHash(e Entry) (string, error) {
	return Hash(e.hashable())
}

// VerifyEntryHash reports whether e.Hash matches its recomputed canonical hash.
func VerifyEntryHash(e Entry) (bool, error) {
	want, err := ComputeEntryHash(e)
	if err != nil {
		return false, err
	}
	return want == e.Hash, nil
}

func formatEventFile(eventID int64, eventType string) string {
	return fmt.Sprintf("%06d_%s.json", eventID, sanitizeEventType(eventType))
}

func sanitizeEventType(t string) string {
	if t == "" {
		return "event"
	}
	var b strings.Builder
	for _, r := range t {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
