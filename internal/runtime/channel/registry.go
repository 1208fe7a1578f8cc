package channel

import (
	"fmt"
	"sort"
	"sync"

	errspkg "github.com/drblury/luaflow/internal/runtime/errors"
)

// Registry holds channels by name. Logic channels resolve their tags and
// direct children their master through it.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]Channel)}
}

// Add registers ch under its name.
func (r *Registry) Add(ch Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.channels[ch.Name()]; exists {
		return fmt.Errorf("channel %q is already registered", ch.Name())
	}
	r.channels[ch.Name()] = ch
	return nil
}

// Remove drops the channel registered under name.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, name)
}

// Get returns the channel registered under name.
func (r *Registry) Get(name string) (Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errspkg.ErrChannelNotFound, name)
	}
	return ch, nil
}

// Names returns the registered channel names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
