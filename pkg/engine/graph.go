package engine

import (
	"fmt"
	"sort"
	"strings"
)

// depGraph is the dependency graph over a set of resource specs. It validates
// edges, detects cycles, and produces the deterministic topological order the
// planner emits actions in.
type depGraph struct {
	// ids holds all node ids in ascending order.
	ids []string

	// dependents maps a node to the nodes that depend on it.
	dependents map[string][]string

	// dependencies maps a node to the nodes it depends on.
	dependencies map[string][]string

	// inDegree tracks the number of incoming dependency edges per node.
	inDegree map[string]int
}

// buildGraph constructs the dependency graph for a desired state. It fails
// with a spec error on duplicate ids, unknown dependency targets, or cycles.
func buildGraph(desired *DesiredState) (*depGraph, error) {
	g := &depGraph{
		dependents:   make(map[string][]string),
		dependencies: make(map[string][]string),
		inDegree:     make(map[string]int),
	}

	for i := range desired.Resources {
		spec := &desired.Resources[i]
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		if _, exists := g.inDegree[spec.ID]; exists {
			return nil, NewSpecError(fmt.Sprintf("duplicate resource id: %s", spec.ID), nil).
				WithCode(ErrCodeDuplicateID).WithResource(spec.ID)
		}
		g.ids = append(g.ids, spec.ID)
		g.inDegree[spec.ID] = 0
	}
	sort.Strings(g.ids)

	for i := range desired.Resources {
		spec := &desired.Resources[i]
		for _, dep := range spec.DependsOn {
			if _, exists := g.inDegree[dep]; !exists {
				return nil, NewSpecError(
					fmt.Sprintf("resource %s depends on unknown resource %s", spec.ID, dep), nil).
					WithCode(ErrCodeUnknownDependency).WithResource(spec.ID)
			}
			g.dependents[dep] = append(g.dependents[dep], spec.ID)
			g.dependencies[spec.ID] = append(g.dependencies[spec.ID], dep)
			g.inDegree[spec.ID]++
		}
	}

	// Edge iteration order must not depend on map order anywhere downstream.
	for id := range g.dependents {
		sort.Strings(g.dependents[id])
	}
	for id := range g.dependencies {
		sort.Strings(g.dependencies[id])
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, NewSpecError(
			fmt.Sprintf("dependency cycle: %s", strings.Join(cycle, " -> ")), nil).
			WithCode(ErrCodeCycle).WithResource(cycle[0])
	}

	return g, nil
}

// findCycle runs a depth-first search and returns the first cycle found as a
// closed path, or nil. Nodes are visited in ascending id order so the reported
// cycle is stable across runs.
func (g *depGraph) findCycle() []string {
	visited := make(map[string]bool, len(g.ids))
	onStack := make(map[string]bool, len(g.ids))

	var walk func(id string, path []string) []string
	walk = func(id string, path []string) []string {
		visited[id] = true
		onStack[id] = true
		path = append(path, id)

		for _, next := range g.dependents[id] {
			if !visited[next] {
				if cycle := walk(next, path); cycle != nil {
					return cycle
				}
			} else if onStack[next] {
				start := 0
				for i, p := range path {
					if p == next {
						start = i
						break
					}
				}
				return append(append([]string(nil), path[start:]...), next)
			}
		}

		onStack[id] = false
		return nil
	}

	for _, id := range g.ids {
		if !visited[id] {
			if cycle := walk(id, nil); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// topoOrder returns the ids in dependency order using Kahn's algorithm. Ties
// are broken by ascending id so plans are reproducible across runs.
func (g *depGraph) topoOrder() []string {
	inDegree := make(map[string]int, len(g.inDegree))
	for id, d := range g.inDegree {
		inDegree[id] = d
	}

	var ready []string
	for _, id := range g.ids {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]string, 0, len(g.ids))
	for len(ready) > 0 {
		sort.Strings(ready)
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		for _, next := range g.dependents[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	return order
}

// levels groups ids by topological depth. Ids within one level share no
// ancestor/descendant relation with each other and may execute concurrently.
func (g *depGraph) levels() [][]string {
	inDegree := make(map[string]int, len(g.inDegree))
	for id, d := range g.inDegree {
		inDegree[id] = d
	}

	var current []string
	for _, id := range g.ids {
		if inDegree[id] == 0 {
			current = append(current, id)
		}
	}

	var out [][]string
	for len(current) > 0 {
		sort.Strings(current)
		out = append(out, current)

		var next []string
		for _, id := range current {
			for _, dep := range g.dependents[id] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		current = next
	}
	return out
}

// reverseTopoObserved orders the given ids so dependents come before their
// dependencies, using the edges recorded in observed state. Used for delete
// ordering, where the desired state no longer carries the edges.
func reverseTopoObserved(ids []string, observed ObservedState) []string {
	inSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		inSet[id] = true
	}

	g := &depGraph{
		dependents:   make(map[string][]string),
		dependencies: make(map[string][]string),
		inDegree:     make(map[string]int),
	}
	g.ids = append(g.ids, ids...)
	sort.Strings(g.ids)
	for _, id := range g.ids {
		g.inDegree[id] = 0
	}
	for _, id := range g.ids {
		for _, dep := range observed[id].DependsOn {
			if !inSet[dep] {
				continue
			}
			g.dependents[dep] = append(g.dependents[dep], id)
			g.inDegree[id]++
		}
	}
	for id := range g.dependents {
		sort.Strings(g.dependents[id])
	}

	order := g.topoOrder()
	// Recorded edges may contain cycles if state was hand-edited; fall back
	// to plain id order for anything Kahn could not place.
	if len(order) != len(g.ids) {
		placed := make(map[string]bool, len(order))
		for _, id := range order {
			placed[id] = true
		}
		for _, id := range g.ids {
			if !placed[id] {
				order = append(order, id)
			}
		}
	}

	out := make([]string, len(order))
	for i, id := range order {
		out[len(order)-1-i] = id
	}
	return out
}

// ToDOT renders the plan's dependency graph in DOT format for Graphviz.
func (p *Plan) ToDOT(desired *DesiredState) string {
	var sb strings.Builder

	sb.WriteString("digraph plan {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for _, action := range p.Actions {
		color := operationColor(action.Operation)
		sb.WriteString(fmt.Sprintf("  %q [label=\"%s\\n%s\", fillcolor=%q, style=\"filled,rounded\"];\n",
			action.ResourceID, action.ResourceID, action.Operation, color))
	}
	sb.WriteString("\n")

	for i := range desired.Resources {
		spec := &desired.Resources[i]
		for _, dep := range spec.DependsOn {
			sb.WriteString(fmt.Sprintf("  %q -> %q;\n", dep, spec.ID))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

func operationColor(op Operation) string {
	switch op {
	case OperationCreate:
		return "lightgreen"
	case OperationUpdate:
		return "lightblue"
	case OperationDelete:
		return "lightcoral"
	case OperationSkip:
		return "lightgray"
	default:
		return "white"
	}
}
