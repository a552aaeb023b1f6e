// Package lint resolves and runs checks in dependency order.  Each check
// declares the checks it depends on; a Session runs every check at most once
// and memoizes its result for dependents.
package lint

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrCycle             = errors.New("check dependency cycle")
	ErrUnknownCheck      = errors.New("unknown check")
	ErrDuplicateCheck    = errors.New("duplicate check")
	ErrRegistryNotSealed = errors.New("check registry not sealed")
)

// Descriptor registers a check.  New runs the check's validation and returns
// its result.  Prerequisites are run (and memoized) before New is called.
type Descriptor struct {
	Name          string
	Description   string
	Prerequisites []string

	New func(*Session) (interface{}, error)
}

// Registry is the process-wide table of checks.  It is populated once, then
// sealed; sealing validates the dependency graph.
type Registry struct {
	descriptors map[string]*Descriptor
	ordered     []*Descriptor // topologically sorted once sealed
	sealed      bool
}

func NewRegistry() *Registry {
	return &Registry{
		descriptors: map[string]*Descriptor{},
	}
}

func (registry *Registry) Register(descriptor Descriptor) error {
	if registry.sealed {
		panic("cannot register check after the registry is sealed")
	}

	if descriptor.Name == "" || descriptor.New == nil {
		return fmt.Errorf("invalid check descriptor (%q)", descriptor.Name)
	}

	_, ok := registry.descriptors[descriptor.Name]
	if ok {
		return fmt.Errorf("%w (%s)", ErrDuplicateCheck, descriptor.Name)
	}

	registry.descriptors[descriptor.Name] = &descriptor
	return nil
}

func (registry *Registry) MustRegister(descriptor Descriptor) {
	err := registry.Register(descriptor)
	if err != nil {
		panic(err)
	}
}

// Seal validates that every prerequisite is registered and that the
// dependency graph is acyclic, then fixes the registration table.
func (registry *Registry) Seal() error {
	if registry.sealed {
		return nil
	}

	names := make([]string, 0, len(registry.descriptors))
	for name := range registry.descriptors {
		names = append(names, name)
	}
	sort.Strings(names)

	const (
		unvisited = iota
		visiting
		visited
	)

	state := map[string]int{}
	ordered := make([]*Descriptor, 0, len(names))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		descriptor, ok := registry.descriptors[name]
		if !ok {
			return fmt.Errorf(
				"%w (%s) required by %s",
				ErrUnknownCheck,
				name,
				path[len(path)-1])
		}

		path = append(path, name)
		switch state[name] {
		case visited:
			return nil
		case visiting:
			return fmt.Errorf("%w: %v", ErrCycle, path)
		}

		state[name] = visiting
		for _, prereq := range descriptor.Prerequisites {
			err := visit(prereq, path)
			if err != nil {
				return err
			}
		}
		state[name] = visited

		ordered = append(ordered, descriptor)
		return nil
	}

	for _, name := range names {
		err := visit(name, nil)
		if err != nil {
			return err
		}
	}

	registry.ordered = ordered
	registry.sealed = true
	return nil
}

func (registry *Registry) MustSeal() *Registry {
	err := registry.Seal()
	if err != nil {
		panic(err)
	}
	return registry
}

// Descriptors returns the registered checks in dependency order.
func (registry *Registry) Descriptors() []*Descriptor {
	result := make([]*Descriptor, len(registry.ordered))
	copy(result, registry.ordered)
	return result
}

func (registry *Registry) Lookup(name string) (*Descriptor, bool) {
	descriptor, ok := registry.descriptors[name]
	return descriptor, ok
}
