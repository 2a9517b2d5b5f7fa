package gamemap

import (
	"fmt"
	"sort"
	"sync"
)

// Manager provides thread-safe access to the loaded maps, indexed by name
// and by minimap identity. Replace swaps the whole set after a content reload.
type Manager struct {
	mu         sync.RWMutex
	byName     map[string]*Map
	byIdentity map[string]*Map
}

// NewManager creates a Manager from maps.
//
// Postcondition: Returns a Manager or an error on duplicate names or identities.
func NewManager(maps []*Map) (*Manager, error) {
	m := &Manager{}
	if err := m.Replace(maps); err != nil {
		return nil, err
	}
	return m, nil
}

// Replace swaps the loaded maps. On error the previous set is kept.
func (m *Manager) Replace(maps []*Map) error {
	byName := make(map[string]*Map, len(maps))
	byIdentity := make(map[string]*Map, len(maps))
	for _, mp := range maps {
		if _, exists := byName[mp.Name]; exists {
			return fmt.Errorf("duplicate map name: %q", mp.Name)
		}
		byName[mp.Name] = mp
		if mp.Identity == "" {
			continue
		}
		if other, exists := byIdentity[mp.Identity]; exists {
			return fmt.Errorf("duplicate map identity %q: maps %q and %q", mp.Identity, other.Name, mp.Name)
		}
		byIdentity[mp.Identity] = mp
	}
	m.mu.Lock()
	m.byName, m.byIdentity = byName, byIdentity
	m.mu.Unlock()
	return nil
}

// Get returns the map named name.
func (m *Manager) Get(name string) (*Map, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mp, ok := m.byName[name]
	return mp, ok
}

// ByIdentity returns the map recognised by a minimap identity.
func (m *Manager) ByIdentity(identity string) (*Map, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mp, ok := m.byIdentity[identity]
	return mp, ok
}

// Names returns the sorted map names.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.byName))
	for name := range m.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of loaded maps.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byName)
}
