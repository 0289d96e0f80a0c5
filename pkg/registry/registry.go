package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/pergola/pkg/graph"
	"github.com/mitchellh/mapstructure"
)

// HandlerFactory builds a node handler from its declared arguments.
type HandlerFactory func(args map[string]any) (graph.Handler, error)

// RouterFactory builds a router from its declared arguments.
type RouterFactory func(args map[string]any) (graph.Router, error)

// Registry maps the names used in graph definitions to handlers and routers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFactory
	routers  map[string]RouterFactory
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFactory),
		routers:  make(map[string]RouterFactory),
	}
}

// Default returns a registry preloaded with the built-in handlers and routers.
func Default() *Registry {
	r := NewRegistry()
	registerBuiltins(r)
	return r
}

// RegisterHandler adds a handler factory.
// If a handler with the same name exists, it is overwritten.
func (r *Registry) RegisterHandler(name string, factory HandlerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = factory
}

// RegisterHandlerFunc registers a handler that takes no arguments.
func (r *Registry) RegisterHandlerFunc(name string, fn graph.HandlerFunc) {
	r.RegisterHandler(name, func(args map[string]any) (graph.Handler, error) {
		if len(args) > 0 {
			return nil, fmt.Errorf("handler %q takes no arguments", name)
		}
		return fn, nil
	})
}

// RegisterRouter adds a router factory.
// If a router with the same name exists, it is overwritten.
func (r *Registry) RegisterRouter(name string, factory RouterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routers[name] = factory
}

// RegisterRouterFunc registers a router that takes no arguments.
func (r *Registry) RegisterRouterFunc(name string, fn graph.RouterFunc) {
	r.RegisterRouter(name, func(args map[string]any) (graph.Router, error) {
		if len(args) > 0 {
			return nil, fmt.Errorf("router %q takes no arguments", name)
		}
		return fn, nil
	})
}

// Handler looks up a handler by name and builds it.
// Returns an error if the handler is not found.
func (r *Registry) Handler(name string, args map[string]any) (graph.Handler, error) {
	r.mu.RLock()
	factory, ok := r.handlers[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("handler not found: %s", name)
	}
	h, err := factory(args)
	if err != nil {
		return nil, fmt.Errorf("handler %s: %w", name, err)
	}
	return h, nil
}

// Router looks up a router by name and builds it.
// Returns an error if the router is not found.
func (r *Registry) Router(name string, args map[string]any) (graph.Router, error) {
	r.mu.RLock()
	factory, ok := r.routers[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("router not found: %s", name)
	}
	rt, err := factory(args)
	if err != nil {
		return nil, fmt.Errorf("router %s: %w", name, err)
	}
	return rt, nil
}

// Handlers returns the registered handler names in lexical order.
func (r *Registry) Handlers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedNames(r.handlers)
}

// Routers returns the registered router names in lexical order.
func (r *Registry) Routers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedNames(r.routers)
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// decodeArgs decodes declared arguments strictly: unknown keys are errors.
func decodeArgs(args map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(args)
}
