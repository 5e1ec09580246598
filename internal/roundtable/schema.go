package roundtable

import (
	"encoding/json"
	"fmt"

	"ioacore/internal/storage"
)

// schemas describes, per exported type, the JSON-Schema-ish shape
// external consumers (dashboards, other services reading roundtable
// results) can rely on. These are illustrative field maps, not a full
// JSON Schema implementation — enough for a consumer to validate shape
// and types without pulling in this package.
var schemas = map[string]map[string]any{
	"task": {
		"type": "object",
		"properties": map[string]any{
			"id":          map[string]any{"type": "string"},
			"prompt":      map[string]any{"type": "string"},
			"capability":  map[string]any{"type": "string"},
			"submit_time": map[string]any{"type": "string", "format": "date-time"},
		},
	},
	"vote": {
		"type": "object",
		"properties": map[string]any{
			"agent_id":    map[string]any{"type": "string"},
			"option":      map[string]any{"type": "string"},
			"ranking":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"confidence":  map[string]any{"type": "number"},
			"weight":      map[string]any{"type": "number"},
			"produced_at": map[string]any{"type": "string", "format": "date-time"},
			"latency_ms":  map[string]any{"type": "number"},
			"state":       map[string]any{"type": "string", "enum": []string{"ready", "timed_out", "errored"}},
		},
	},
	"result": {
		"type": "object",
		"properties": map[string]any{
			"task_id":            map[string]any{"type": "string"},
			"voting_algorithm":   map[string]any{"type": "string", "enum": []string{"majority", "weighted", "borda"}},
			"consensus_achieved": map[string]any{"type": "boolean"},
			"consensus_score":    map[string]any{"type": "number"},
			"winning_option":     map[string]any{"type": []string{"string", "null"}},
			"tie_breaker_rule":   map[string]any{"type": []string{"string", "null"}},
			"votes":              map[string]any{"type": "array"},
			"quorum_ratio":       map[string]any{"type": "number"},
		},
	},
}

// ExportSchemas writes one JSON document per exported type under target
// and returns where each landed, keyed by type name.
func ExportSchemas(target storage.BlobStore) (map[string]string, error) {
	out := make(map[string]string, len(schemas))
	for name, schema := range schemas {
		data, err := json.MarshalIndent(schema, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("roundtable: marshal schema %q: %w", name, err)
		}
		path := "schemas/" + name + ".json"
		if err := target.Put(path, data); err != nil {
			return nil, fmt.Errorf("roundtable: write schema %q: %w", name, err)
		}
		out[name] = path
	}
	return out, nil
}
