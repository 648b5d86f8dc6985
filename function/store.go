package function

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Definition is a stored function that can be invoked by id
type Definition struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Language    string  `json:"language"`
	Handler     string  `json:"handler"`
	Code        string  `json:"code"`
	Limits      Limits  `json:"limits"`
	CreatedAt   float64 `json:"created_at"`
	UpdatedAt   float64 `json:"updated_at"`
}

// Signature returns the pooling signature for this definition
func (d Definition) Signature() Signature {
	return Signature{
		Language: d.Language,
		Handler:  d.Handler,
		Code:     d.Code,
		Limits:   d.Limits.WithDefaults(),
	}
}

// SlugID derives a stable function id from its display name
func SlugID(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
}

// Store is an in-memory registry of function definitions. Persistence of
// definitions is owned by an external collaborator; the engine only needs
// fast lookup by id.
type Store struct {
	mu   sync.RWMutex
	defs map[string]Definition
	now  func() time.Time
}

// NewStore creates an empty function store
func NewStore() *Store {
	return &Store{
		defs: make(map[string]Definition),
		now:  time.Now,
	}
}

// Save creates or updates a definition, keyed by the slug of its name.
// The created timestamp of an existing definition is preserved.
func (s *Store) Save(def Definition) (Definition, error) {
	if def.Name == "" {
		return Definition{}, fmt.Errorf("function name must not be empty")
	}
	def.ID = SlugID(def.Name)
	def.Handler = strings.TrimSpace(def.Handler)
	if def.Handler == "" {
		def.Handler = "handler"
	}
	def.Limits = def.Limits.WithDefaults()
	if err := def.Signature().Validate(); err != nil {
		return Definition{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := float64(s.now().UnixNano()) / float64(time.Second)
	if existing, ok := s.defs[def.ID]; ok {
		def.CreatedAt = existing.CreatedAt
	} else {
		def.CreatedAt = now
	}
	def.UpdatedAt = now
	s.defs[def.ID] = def
	return def, nil
}

// Get returns the definition with the given id
func (s *Store) Get(id string) (Definition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.defs[id]
	return def, ok
}

// Delete removes a definition, reporting whether it existed
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.defs[id]
	delete(s.defs, id)
	return ok
}

// List returns all definitions ordered by id
func (s *Store) List() []Definition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Definition, 0, len(s.defs))
	for _, def := range s.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
