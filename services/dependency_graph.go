package services

import (
	"fmt"
	"strings"
)

// Entity declares one synced record type: its API endpoint and the
// entities that must finish before it starts. The declared graph is
// validated and topologically sorted once at startup; reference tables
// come out ahead of their dependents.
type Entity struct {
	Name      string
	Endpoint  string
	DependsOn []string
}

// DefaultEntities is the full entity set in declaration order.
func DefaultEntities() []Entity {
	return []Entity{
		{Name: "users", Endpoint: "/crm/rest/v1/users"},
		{Name: "tags", Endpoint: "/crm/rest/v1/tags"},
		{Name: "companies", Endpoint: "/crm/rest/v1/companies", DependsOn: []string{"users"}},
		{Name: "contacts", Endpoint: "/crm/rest/v1/contacts", DependsOn: []string{"companies", "users"}},
		{Name: "contact_tags", Endpoint: "/crm/rest/v1/tagApplications", DependsOn: []string{"contacts", "tags"}},
		{Name: "opportunities", Endpoint: "/crm/rest/v1/opportunities", DependsOn: []string{"contacts", "users"}},
		{Name: "orders", Endpoint: "/crm/rest/v1/orders", DependsOn: []string{"contacts"}},
	}
}

// TopoSort orders entities so every entity appears after all of its
// dependencies. Declaration order is preserved among entities whose
// dependencies are already satisfied, keeping the order stable across
// runs. Unknown dependencies and cycles are errors.
func TopoSort(entities []Entity) ([]Entity, error) {
	byName := make(map[string]Entity, len(entities))
	for _, e := range entities {
		if _, dup := byName[e.Name]; dup {
			return nil, fmt.Errorf("duplicate entity %q", e.Name)
		}
		byName[e.Name] = e
	}
	for _, e := range entities {
		for _, dep := range e.DependsOn {
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("entity %q depends on unknown entity %q", e.Name, dep)
			}
		}
	}

	placed := make(map[string]bool, len(entities))
	ordered := make([]Entity, 0, len(entities))
	for len(ordered) < len(entities) {
		progressed := false
		for _, e := range entities {
			if placed[e.Name] {
				continue
			}
			ready := true
			for _, dep := range e.DependsOn {
				if !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				placed[e.Name] = true
				ordered = append(ordered, e)
				progressed = true
			}
		}
		if !progressed {
			var stuck []string
			for _, e := range entities {
				if !placed[e.Name] {
					stuck = append(stuck, e.Name)
				}
			}
			return nil, fmt.Errorf("dependency cycle among entities: %s", strings.Join(stuck, ", "))
		}
	}
	return ordered, nil
}

// SelectEntities filters the declared set down to the requested names,
// rejecting unknown ones. An empty request selects everything.
func SelectEntities(all []Entity, names []string) ([]Entity, error) {
	if len(names) == 0 {
		return all, nil
	}
	requested := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		requested[n] = true
	}
	known := make(map[string]bool, len(all))
	for _, e := range all {
		known[e.Name] = true
	}
	for n := range requested {
		if !known[n] {
			return nil, fmt.Errorf("unknown entity %q", n)
		}
	}

	var selected []Entity
	for _, e := range all {
		if requested[e.Name] {
			selected = append(selected, e)
		}
	}
	return selected, nil
}
