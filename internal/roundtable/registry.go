package roundtable

import (
	"fmt"
	"sort"
	"sync"

	"ioacore/internal/agent"
)

// AgentRecord is one registered participant: its capability backend, its
// declared attributes, and the bookkeeping the registry needs to make
// removal safe while roundtables are in flight.
type AgentRecord struct {
	ID           string
	DisplayName  string
	Capabilities map[string]bool
	Weight       float64
	TrustSuccess float64
	TrustFailure float64

	backend agent.Capability
	active  bool
	inFlight int
}

// Registry tracks registered agents. Removal is soft: an unregistered
// agent is marked inactive immediately (no new roundtable may reference
// it) but its record is only dropped once no in-flight roundtable still
// holds it.
type Registry struct {
	mu     sync.Mutex
	agents map[string]*AgentRecord
}

// NewRegistry returns an empty agent registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]*AgentRecord)}
}

// Register adds or replaces an agent definition. Weight defaults to 1.0
// when zero.
func (r *Registry) Register(id, displayName string, capabilities []string, weight float64, backend agent.Capability) error {
	if id == "" {
		return fmt.Errorf("roundtable: agent id must not be empty")
	}
	if backend == nil {
		return fmt.Errorf("roundtable: agent %q has no capability backend", id)
	}
	if weight == 0 {
		weight = 1.0
	}
	if weight < 0 {
		return fmt.Errorf("roundtable: agent %q weight must be nonnegative", id)
	}

	caps := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		caps[c] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.agents[id]; ok && existing.inFlight > 0 {
		return fmt.Errorf("roundtable: agent %q cannot be redefined while in-flight roundtables reference it", id)
	}
	r.agents[id] = &AgentRecord{
		ID:           id,
		DisplayName:  displayName,
		Capabilities: caps,
		Weight:       weight,
		backend:      backend,
		active:       true,
	}
	return nil
}

// Unregister marks an agent inactive. If no roundtable currently holds a
// reference, the record is dropped immediately; otherwise it is dropped
// the moment the last reference is released.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.agents[id]
	if !ok {
		return fmt.Errorf("roundtable: unknown agent %q", id)
	}
	rec.active = false
	if rec.inFlight == 0 {
		delete(r.agents, id)
	}
	return nil
}

// acquire resolves ids to active agent records and marks each as
// referenced by an in-flight roundtable. Unknown or inactive ids are
// rejected; duplicates are ignored. The caller must release every
// returned record via release once the roundtable finalizes.
func (r *Registry) acquire(ids []string) ([]*AgentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(ids))
	var out []*AgentRecord
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		rec, ok := r.agents[id]
		if !ok || !rec.active {
			for _, acquired := range out {
				acquired.inFlight--
			}
			return nil, fmt.Errorf("roundtable: unknown agent %q", id)
		}
		rec.inFlight++
		out = append(out, rec)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("roundtable: no agents supplied")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Registry) release(recs []*AgentRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range recs {
		rec.inFlight--
		if rec.inFlight <= 0 && !rec.active {
			delete(r.agents, rec.ID)
		}
	}
}

// Get returns the record for id, for inspection in tests and stats
// reporting. The returned pointer must not be mutated.
func (r *Registry) Get(id string) (*AgentRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.agents[id]
	return rec, ok
}
