package pkgmgr

import (
	"fmt"
	"sort"
	"strings"
)

type Registry struct {
	managers map[string]Manager
}

func NewRegistry() *Registry {
	return &Registry{managers: map[string]Manager{}}
}

func (r *Registry) Register(m Manager) {
	r.managers[m.Name()] = m
}

func (r *Registry) Get(name string) (Manager, error) {
	m, ok := r.managers[name]
	if !ok {
		return nil, fmt.Errorf("package manager not registered: %s (available: %s)", name, strings.Join(r.Names(), ", "))
	}
	return m, nil
}

// Names lists registered managers alphabetically.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.managers))
	for n := range r.managers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
