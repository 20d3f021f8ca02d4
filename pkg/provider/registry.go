/*
Copyright 2025 The Gatekeeper Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package provider

import (
	"sort"
	"sync"
)

// A Factory constructs an uninitialized provider.
type Factory func() Provider

// A Registry maps engine tags to provider factories. Registration is
// idempotent; the last write wins.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register installs a factory for the supplied engine tag.
func (r *Registry) Register(engine string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[engine] = f
}

// Create invokes the factory registered for the supplied engine tag.
func (r *Registry) Create(engine string) (Provider, error) {
	r.mu.RLock()
	f, ok := r.factories[engine]
	r.mu.RUnlock()
	if !ok {
		return nil, NewError(engine, CodeProviderNotFound, "no provider registered for engine "+engine, false, nil)
	}
	return f(), nil
}

// IsSupported reports whether a factory is registered for the engine tag.
func (r *Registry) IsSupported(engine string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[engine]
	return ok
}

// SupportedTypes returns the registered engine tags in lexical order.
func (r *Registry) SupportedTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for engine := range r.factories {
		types = append(types, engine)
	}
	sort.Strings(types)
	return types
}

// Clear removes all registered factories. Intended for tests.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories = map[string]Factory{}
}

// DefaultRegistry is the process-wide registry. Providers register
// themselves here once at startup.
var DefaultRegistry = NewRegistry()

// Register installs a factory in the default registry.
func Register(engine string, f Factory) { DefaultRegistry.Register(engine, f) }

// Create invokes a factory from the default registry.
func Create(engine string) (Provider, error) { return DefaultRegistry.Create(engine) }

// IsSupported reports whether the default registry knows the engine tag.
func IsSupported(engine string) bool { return DefaultRegistry.IsSupported(engine) }

// SupportedTypes lists the default registry's engine tags.
func SupportedTypes() []string { return DefaultRegistry.SupportedTypes() }
