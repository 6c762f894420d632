package tool

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/agentloop/core"
)

// Registry holds the closed set of tool contracts available to loops.
// Registration happens at startup; afterwards the registry is read-only and
// may be shared across concurrently running loops.
type Registry struct {
	mu        sync.RWMutex
	contracts map[string]core.ToolContract
	order     []string
}

// NewRegistry creates an empty registry and registers the given tools.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{contracts: map[string]core.ToolContract{}}
	for _, t := range tools {
		if err := r.Register(t.Contract()); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a contract. Names must be unique and non-empty and an
// executor is required.
func (r *Registry) Register(c core.ToolContract) error {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return fmt.Errorf("tool: register: empty name")
	}
	if name == core.FinalAnswerTool {
		return fmt.Errorf("tool: register: %q is reserved", name)
	}
	if c.Executor == nil {
		return fmt.Errorf("tool: register %q: nil executor", name)
	}
	if c.Idempotency == "" {
		c.Idempotency = core.IdempotencyNonIdempotent
	}
	c.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.contracts[name]; exists {
		return fmt.Errorf("%w: %s", core.ErrDuplicateTool, name)
	}
	r.contracts[name] = c
	r.order = append(r.order, name)
	return nil
}

// MustRegister registers tools and panics on error. Intended for setup code.
func (r *Registry) MustRegister(tools ...Tool) *Registry {
	for _, t := range tools {
		if err := r.Register(t.Contract()); err != nil {
			panic(err)
		}
	}
	return r
}

// Resolve returns the contract registered under name.
func (r *Registry) Resolve(name string) (core.ToolContract, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contracts[name]
	if !ok {
		return core.ToolContract{}, fmt.Errorf("%w: %s", core.ErrUnknownTool, name)
	}
	return c, nil
}

// List returns contracts in registration order.
func (r *Registry) List() []core.ToolContract {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.ToolContract, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.contracts[name])
	}
	return out
}

// Specs returns the gateway-facing tool descriptions in registration order.
func (r *Registry) Specs() []core.ToolSpec {
	contracts := r.List()
	out := make([]core.ToolSpec, 0, len(contracts))
	for _, c := range contracts {
		out = append(out, c.Spec())
	}
	return out
}

// Names returns registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Restrict derives a registry limited to allow, preserving registration
// order. An empty allow-list returns the receiver. Unknown names are an error.
func (r *Registry) Restrict(allow []string) (*Registry, error) {
	if len(allow) == 0 {
		return r, nil
	}
	wanted := make(map[string]struct{}, len(allow))
	for _, name := range allow {
		if _, err := r.Resolve(name); err != nil {
			return nil, fmt.Errorf("tool: restrict: %w", err)
		}
		wanted[name] = struct{}{}
	}

	out := &Registry{contracts: map[string]core.ToolContract{}}
	for _, c := range r.List() {
		if _, ok := wanted[c.Name]; ok {
			out.contracts[c.Name] = c
			out.order = append(out.order, c.Name)
		}
	}
	return out, nil
}
