package module

import (
	"fmt"
	"sort"
)

// Plan resolves which modules run, and in what order, for one
// inventory pass (spec §4.F): modules in a disabled category are
// excluded outright; a runMeIfTheseChecksFailed module is enabled
// only if every module it names is itself disabled; the remainder is
// topologically sorted on runAfter (hard) and runAfterIfEnabled
// (soft, only binding when the predecessor is itself enabled), with
// alphabetical order breaking ties among peers for determinism.
func Plan(modules []Module, disabledCategory map[string]bool) ([]Module, error) {
	byName := make(map[string]Module, len(modules))
	for _, m := range modules {
		byName[m.Name] = m
	}

	enabled := make(map[string]bool, len(modules))
	for _, m := range modules {
		if disabledCategory[m.Category] {
			continue
		}
		enabled[m.Name] = true
	}

	// runMeIfTheseChecksFailed narrows enabled further: such a module
	// stays enabled only if none of its named fallback targets is
	// enabled.
	for _, m := range modules {
		if !enabled[m.Name] || len(m.RunMeIfTheseChecksFailed) == 0 {
			continue
		}
		for _, other := range m.RunMeIfTheseChecksFailed {
			if enabled[other] {
				enabled[m.Name] = false
				break
			}
		}
	}

	var active []Module
	for _, m := range modules {
		if enabled[m.Name] {
			active = append(active, m)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Name < active[j].Name })

	return topoSort(active, byName, enabled)
}

func topoSort(active []Module, byName map[string]Module, enabled map[string]bool) ([]Module, error) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(active))
	order := make([]Module, 0, len(active))

	activeByName := make(map[string]Module, len(active))
	for _, m := range active {
		activeByName[m.Name] = m
	}

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch color[name] {
		case black:
			return nil
		case gray:
			return fmt.Errorf("module: dependency cycle: %v -> %s", path, name)
		}
		color[name] = gray

		m := activeByName[name]
		deps := make([]string, 0, len(m.RunAfter)+len(m.RunAfterIfEnabled))
		deps = append(deps, m.RunAfter...)
		for _, dep := range m.RunAfterIfEnabled {
			if enabled[dep] {
				deps = append(deps, dep)
			}
		}
		sort.Strings(deps)

		for _, dep := range deps {
			if _, known := activeByName[dep]; !known {
				continue // predecessor not active this run; nothing to order against
			}
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}

		color[name] = black
		order = append(order, m)
		return nil
	}

	for _, m := range active {
		if err := visit(m.Name, nil); err != nil {
			return nil, err
		}
	}
	return order, nil
}
