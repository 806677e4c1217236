package vars

import (
	"context"
	"sync"

	"github.com/unkn0wn-root/restrun/internal/restfile"
)

// Sink persists an environment after a script mutates it.
type Sink interface {
	SaveEnvironment(ctx context.Context, env restfile.Environment) error
}

// Active holds the process wide active environment. Scripts write through
// to it so the next request in a run observes their changes. The mutex
// only protects the map; concurrent runs sharing one Active are last
// writer wins.
type Active struct {
	mu   sync.Mutex
	env  *restfile.Environment
	sink Sink
}

func NewActive(sink Sink) *Active {
	return &Active{sink: sink}
}

func (a *Active) Activate(env restfile.Environment) {
	cp := env.Clone()
	a.mu.Lock()
	a.env = &cp
	a.mu.Unlock()
}

func (a *Active) Clear() {
	a.mu.Lock()
	a.env = nil
	a.mu.Unlock()
}

// Environment returns a snapshot of the active environment.
func (a *Active) Environment() (restfile.Environment, bool) {
	if a == nil {
		return restfile.Environment{}, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.env == nil {
		return restfile.Environment{}, false
	}
	return a.env.Clone(), true
}

func (a *Active) Lookup(name string) (string, bool) {
	if a == nil {
		return "", false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.env == nil {
		return "", false
	}
	v, ok := a.env.Variables[name]
	return v, ok
}

// Store sets name on the active environment and persists it. Without an
// active environment it does nothing. The in-memory write survives a
// persistence failure; the error is returned for reporting.
func (a *Active) Store(ctx context.Context, name, value string) error {
	return a.mutate(ctx, func(vars map[string]string) {
		vars[name] = value
	})
}

func (a *Active) Delete(ctx context.Context, name string) error {
	return a.mutate(ctx, func(vars map[string]string) {
		delete(vars, name)
	})
}

func (a *Active) mutate(ctx context.Context, fn func(map[string]string)) error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	if a.env == nil {
		a.mu.Unlock()
		return nil
	}
	if a.env.Variables == nil {
		a.env.Variables = make(map[string]string)
	}
	fn(a.env.Variables)
	snapshot := a.env.Clone()
	a.mu.Unlock()

	if a.sink == nil {
		return nil
	}
	return a.sink.SaveEnvironment(ctx, snapshot)
}

// Provider exposes the live active environment to a Resolver.
func (a *Active) Provider() Provider {
	return activeProvider{a: a}
}

type activeProvider struct {
	a *Active
}

func (p activeProvider) Resolve(name string) (string, bool) {
	return p.a.Lookup(name)
}

func (p activeProvider) Label() string {
	if env, ok := p.a.Environment(); ok {
		return env.Name
	}
	return ""
}
