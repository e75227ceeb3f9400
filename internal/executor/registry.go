package executor

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/fyrsmithlabs/remediator/internal/problem"
)

var (
	ErrNilCapability       = errors.New("fix capability is nil")
	ErrDuplicateCapability = errors.New("fix capability already registered for category")
	ErrNoCapability        = errors.New("no fix capability registered for category")
)

// Outcome is what a fix capability reports for one problem.
type Outcome struct {
	Success           bool
	Action            string
	ResourcesModified []string
	Diagnostic        string

	// RevertRequired marks a change that must be rolled back. It always
	// counts as a failure.
	RevertRequired bool
}

// FixCapability applies a fix for one category of problem. A returned
// error and an Outcome with Success=false are both recorded as failures.
type FixCapability interface {
	ApplyFix(ctx context.Context, p problem.Problem) (Outcome, error)
}

// FixFunc adapts a function to FixCapability.
type FixFunc func(ctx context.Context, p problem.Problem) (Outcome, error)

// ApplyFix calls f.
func (f FixFunc) ApplyFix(ctx context.Context, p problem.Problem) (Outcome, error) {
	return f(ctx, p)
}

// Registry maps categories to fix capabilities. It is populated once at
// startup; lookups never parse category strings.
type Registry struct {
	mu   sync.RWMutex
	caps map[problem.Category]FixCapability
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[problem.Category]FixCapability)}
}

// Register binds a capability to a category.
func (r *Registry) Register(category problem.Category, capability FixCapability) error {
	if capability == nil {
		return fmt.Errorf("%w: %s", ErrNilCapability, category)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.caps[category]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateCapability, category)
	}
	r.caps[category] = capability
	return nil
}

// MustRegister is Register that panics on error, for static wiring.
func (r *Registry) MustRegister(category problem.Category, capability FixCapability) {
	if err := r.Register(category, capability); err != nil {
		panic(err)
	}
}

// Lookup returns the capability for a category.
func (r *Registry) Lookup(category problem.Category) (FixCapability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[category]
	return c, ok
}

// Categories returns the registered categories sorted by name.
func (r *Registry) Categories() []problem.Category {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.caps))
}
