package forge

import "fmt"

// Registry manages registered Forge implementations and provides lookup by
// name or hostname-based auto-detection.
type Registry struct {
	forges []Forge
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a Forge implementation to the registry.
func (r *Registry) Register(f Forge) {
	r.forges = append(r.forges, f)
}

// Detect iterates registered forges and returns the first one whose
// MatchesHost method returns true for the given hostname.
func (r *Registry) Detect(host string) (Forge, error) {
	for _, f := range r.forges {
		if f.MatchesHost(host) {
			return f, nil
		}
	}
	return nil, fmt.Errorf("no registered forge matches host: %s", host)
}

// Get looks up a registered forge by its Name().
func (r *Registry) Get(name string) (Forge, error) {
	for _, f := range r.forges {
		if f.Name() == name {
			return f, nil
		}
	}
	return nil, fmt.Errorf("no registered forge with name: %s", name)
}
