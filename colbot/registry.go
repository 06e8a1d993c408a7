package colbot

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const registryIndent = "  "

// Registry is the ordered collection of pending levels, keyed by
// [Level.ID]. It is rebuilt from the store for every operation and has
// no locking of its own; see [Ledger].
type Registry struct {
	levels []Level
	index  map[string]int
}

// NewRegistry returns an empty Registry
func NewRegistry() *Registry {
	return &Registry{levels: []Level{}, index: map[string]int{}}
}

// Len returns the number of levels
func (r *Registry) Len() int {
	return len(r.levels)
}

// FindByID returns a pointer to the stored level, which callers may
// mutate in place. The pointer is only valid until the next Insert or
// Remove.
func (r *Registry) FindByID(id string) (*Level, bool) {
	i, ok := r.index[id]
	if !ok {
		return nil, false
	}
	return &r.levels[i], true
}

// Insert appends the level, returning [ErrDuplicateID] if a level with
// the same ID already exists
func (r *Registry) Insert(level Level) error {
	if level.ID == "" {
		return fmt.Errorf("%w: level has no ID", ErrValidation)
	}
	if _, exists := r.index[level.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, level.ID)
	}
	level.normalize()
	r.levels = append(r.levels, level)
	r.index[level.ID] = len(r.levels) - 1
	return nil
}

// Remove deletes the level with the given ID, returning it
func (r *Registry) Remove(id string) (Level, bool) {
	i, ok := r.index[id]
	if !ok {
		return Level{}, false
	}
	removed := r.levels[i]
	r.levels = append(r.levels[:i], r.levels[i+1:]...)
	r.reindex()
	return removed, true
}

// ListAll returns copies of all levels, in insertion order
func (r *Registry) ListAll() []Level {
	out := make([]Level, len(r.levels))
	for i, l := range r.levels {
		out[i] = l.clone()
	}
	return out
}

func (r *Registry) reindex() {
	r.index = make(map[string]int, len(r.levels))
	for i, l := range r.levels {
		r.index[l.ID] = i
	}
}

// Encode serializes the registry as a two-space indented JSON array
func (r *Registry) Encode() ([]byte, error) {
	levels := r.levels
	if levels == nil {
		levels = []Level{}
	}
	data, err := json.MarshalIndent(levels, "", registryIndent)
	if err != nil {
		return nil, fmt.Errorf("error encoding registry: %w", err)
	}
	return data, nil
}

// DecodeRegistry parses a registry document. Empty (or whitespace-only)
// input is an empty registry. Documents with duplicate IDs, or levels
// violating vote invariants, are rejected.
func DecodeRegistry(data []byte) (*Registry, error) {
	reg := NewRegistry()
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return reg, nil
	}

	var levels []Level
	if err := json.Unmarshal(data, &levels); err != nil {
		return nil, fmt.Errorf("error decoding registry: %w", err)
	}
	for _, l := range levels {
		l.normalize()
		if err := l.validate(); err != nil {
			return nil, err
		}
		if err := reg.Insert(l); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
