package script

import (
	"fmt"
	"slices"
	"sync"
)

// Factory builds a new engine for cfg. Engines are cheap; the registry
// builds one per execution.
type Factory func(cfg Config) (Engine, error)

// Registry dispatches a language to the factory registered for it.
type Registry struct {
	mu        sync.RWMutex
	factories map[Language]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[Language]Factory)}
}

// Register adds a factory. Registering a language twice is an error.
func (r *Registry) Register(lang Language, factory Factory) error {
	if lang == "" {
		return fmt.Errorf("engine factory missing language identifier")
	}
	if factory == nil {
		return fmt.Errorf("engine factory for %q cannot be nil", lang)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[lang]; exists {
		return fmt.Errorf("duplicate engine factory for language %q", lang)
	}
	r.factories[lang] = factory
	return nil
}

// Has reports whether lang has a factory.
func (r *Registry) Has(lang Language) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[lang]
	return ok
}

// Languages lists the registered languages in sorted order.
func (r *Registry) Languages() []Language {
	r.mu.RLock()
	defer r.mu.RUnlock()
	langs := make([]Language, 0, len(r.factories))
	for lang := range r.factories {
		langs = append(langs, lang)
	}
	slices.Sort(langs)
	return langs
}

// New validates cfg and builds a fresh engine for lang. The returned error
// is always an *Error.
func (r *Registry) New(lang Language, cfg Config) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	factory, ok := r.factories[lang]
	r.mu.RUnlock()
	if !ok {
		return nil, NewExecutionError(fmt.Sprintf("no engine registered for language %q", lang))
	}
	engine, err := factory(cfg)
	if err != nil {
		return nil, AsError(err)
	}
	return engine, nil
}
