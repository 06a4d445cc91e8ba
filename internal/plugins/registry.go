// Package plugins keeps the static set of payment provider plugins, their
// persisted configuration and their lifecycle.
package plugins

import (
	"sort"
	"strings"
	"sync"

	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
	"github.com/angelmondragon/paycore/pkg/gateway"
)

// Descriptor describes a provider plugin compiled into the binary.
type Descriptor struct {
	Provider            string
	DisplayName         string
	RequiredCredentials []string
	Build               gateway.Factory
}

// Registry is the static provider table.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor
}

func NewRegistry(descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{descriptors: map[string]Descriptor{}}
	for _, desc := range descriptors {
		if err := r.Register(desc); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(desc Descriptor) error {
	desc.Provider = strings.ToLower(strings.TrimSpace(desc.Provider))
	if desc.Provider == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "plugin provider is required")
	}
	if desc.Build == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "plugin constructor is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.descriptors[desc.Provider]; exists {
		return pkgerrors.New(pkgerrors.CodeConflict, "plugin already registered: "+desc.Provider)
	}
	r.descriptors[desc.Provider] = desc
	return nil
}

func (r *Registry) Get(provider string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.descriptors[normalize(provider)]
	return desc, ok
}

func (r *Registry) Has(provider string) bool {
	_, ok := r.Get(provider)
	return ok
}

// List returns descriptors ordered by provider.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.descriptors))
	for _, desc := range r.descriptors {
		out = append(out, desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

func (r *Registry) Unregister(provider string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := normalize(provider)
	if _, ok := r.descriptors[key]; !ok {
		return false
	}
	delete(r.descriptors, key)
	return true
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
