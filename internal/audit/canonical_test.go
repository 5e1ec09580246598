package audit

import (
	"strings"
	"testing"
)

func TestCanonicalizeSortsKeysAtAllDepths(t *testing.T) {
	v := map[string]any{
		"b": 1,
		"a": map[string]any{
			"z": 1,
			"y": 2,
		},
	}
	got, err := Canonicalize(v)
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	want := `{"a":{"y":2,"z":1},"b":1}`
	if string(got) != want {
		t.Errorf("Canonicalize = %s, want %s", got, want)
	}
}

func TestCanonicalizeNoInsignificantWhitespace(t *testing.T) {
	v := map[string]any{"a": []any{"x", "y"}}
	got, err := Canonicalize(v)
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	if strings.ContainsAny(string(got), " \n\t") {
		t.Errorf("Canonicalize introduced whitespace: %s", got)
	}
}

func TestComputeEntryHashDeterministic(t *testing.T) {
	e := Entry{
		EventID:   1,
		Writer:    "w1",
		EventType: "roundtable_start",
		Payload:   map[string]any{"task_id": "t1"},
		PrevHash:  ZeroHash,
	}
	h1, err := ComputeEntryHash(e)
	if err != nil {
		t.Fatalf("ComputeEntryHash: %v", err)
	}
	h2, err := ComputeEntryHash(e)
	if err != nil {
		t.Fatalf("ComputeEntryHash: %v", err)
	}
	if h1 != h2 {
		t.Errorf("hash not deterministic: %s != %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("hash length = %d, want 64", len(h1))
	}
}

func TestComputeEntryHashChangesWithPayload(t *testing.T) {
	base := Entry{EventID: 1, Writer: "w1", EventType: "t", Payload: map[string]any{"a": 1}, PrevHash: ZeroHash}
	mutated := base
	mutated.Payload = map[string]any{"a": 2}

	h1, err := ComputeEntryHash(base)
	if err != nil {
		t.Fatalf("ComputeEntryHash: %v", err)
	}
	h2, err := ComputeEntryHash(mutated)
	if err != nil {
		t.Fatalf("ComputeEntryHash: %v", err)
	}
	if h1 == h2 {
		t.Errorf("tampering a payload field did not change the hash")
	}
}

func TestZeroHashIs64Chars(t *testing.T) {
	if len(ZeroHash) != 64 {
		t.Fatalf("ZeroHash length = %d, want 64", len(ZeroHash))
	}
	for _, r := range ZeroHash {
		if r != '0' {
			t.Fatalf("ZeroHash contains non-zero character: %q", ZeroHash)
		}
	}
}
