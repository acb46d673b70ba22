// Package personas loads writer personas from a YAML file into memory.
package personas

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/relayforge/contentpipeline/internal/domain"
)

// Repo is an in-memory, YAML-backed domain.PersonaRepository. Personas
// change rarely enough that loading once at startup and serving from memory
// is simpler than round-tripping to Postgres on every agent call.
type Repo struct {
	mu      sync.RWMutex
	byName  map[string]domain.Persona
	ordered []string
}

// Load reads personas from a YAML file shaped as a top-level list of
// persona entries.
func Load(path string) (*Repo, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("op=personas.Load: %w", err)
	}

	var list []domain.Persona
	if err := yaml.Unmarshal(b, &list); err != nil {
		return nil, fmt.Errorf("op=personas.Load: %w", err)
	}

	byName := make(map[string]domain.Persona, len(list))
	ordered := make([]string, 0, len(list))
	for _, p := range list {
		byName[p.Name] = p
		ordered = append(ordered, p.Name)
	}
	return &Repo{byName: byName, ordered: ordered}, nil
}

// Get returns a persona by name.
func (r *Repo) Get(_ domain.Context, name string) (domain.Persona, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	if !ok {
		return domain.Persona{}, fmt.Errorf("op=personas.Get: %w: %s", domain.ErrPersonaNotFound, name)
	}
	return p, nil
}

// List returns all loaded personas in file order.
func (r *Repo) List(_ domain.Context) ([]domain.Persona, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Persona, 0, len(r.ordered))
	for _, name := range r.ordered {
		out = append(out, r.byName[name])
	}
	return out, nil
}
