package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/quarry-io/quarry/internal/errs"
	"github.com/quarry-io/quarry/internal/ir"
)

// DAG is the dependency graph over resource descriptors. An edge A→B means
// "A must exist before B is created".
type DAG struct {
	nodes    map[string]*dagNode
	order    []string // topological order (creation order)
	revOrder []string // reverse topological order (destruction order)
}

type dagNode struct {
	id       string
	edges    []string // resources this node depends on
	revEdges []string // resources that depend on this node
}

// BuildDAG constructs a dependency graph from descriptors and computes a
// deterministic topological order: ties are broken by ascending identifier,
// so the plan order is a pure function of the descriptor set.
func BuildDAG(resources []*ir.Resource) (*DAG, error) {
	dag := &DAG{nodes: make(map[string]*dagNode, len(resources))}

	for _, res := range resources {
		dag.nodes[res.ID] = &dagNode{id: res.ID}
	}
	for _, res := range resources {
		node := dag.nodes[res.ID]
		for _, dep := range res.DependsOn {
			if _, ok := dag.nodes[dep]; ok {
				node.edges = append(node.edges, dep)
			}
		}
	}

	return dag.finish()
}

// BuildDAGFromState constructs a dependency graph from persisted resource
// states, used when planning deletions of resources no longer declared.
func BuildDAGFromState(resources map[string]*ir.ResourceState) (*DAG, error) {
	dag := &DAG{nodes: make(map[string]*dagNode, len(resources))}

	for id := range resources {
		dag.nodes[id] = &dagNode{id: id}
	}
	for id, res := range resources {
		node := dag.nodes[id]
		for _, dep := range res.Dependencies {
			if _, ok := dag.nodes[dep]; !ok {
				dag.nodes[dep] = &dagNode{id: dep}
			}
			node.edges = append(node.edges, dep)
		}
	}

	return dag.finish()
}

func (d *DAG) finish() (*DAG, error) {
	for _, node := range d.nodes {
		for _, dep := range node.edges {
			d.nodes[dep].revEdges = append(d.nodes[dep].revEdges, node.id)
		}
	}

	order, err := d.topoSort()
	if err != nil {
		return nil, err
	}
	d.order = order

	d.revOrder = make([]string, len(order))
	for i, id := range order {
		d.revOrder[len(order)-1-i] = id
	}
	return d, nil
}

// CreationOrder returns identifiers in dependency-respecting creation order.
func (d *DAG) CreationOrder() []string {
	return d.order
}

// DestructionOrder returns identifiers in reverse dependency order, safe for
// deletion (dependents before their dependencies).
func (d *DAG) DestructionOrder() []string {
	return d.revOrder
}

// Dependencies returns the direct predecessors of id.
func (d *DAG) Dependencies(id string) []string {
	if node, ok := d.nodes[id]; ok {
		return node.edges
	}
	return nil
}

// Dependents returns the direct successors of id.
func (d *DAG) Dependents(id string) []string {
	if node, ok := d.nodes[id]; ok {
		return node.revEdges
	}
	return nil
}

// TransitiveDeps returns every resource id transitively depends on.
func (d *DAG) TransitiveDeps(id string) []string {
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(cur string) {
		node, ok := d.nodes[cur]
		if !ok {
			return
		}
		for _, dep := range node.edges {
			if !seen[dep] {
				seen[dep] = true
				walk(dep)
			}
		}
	}
	walk(id)

	deps := make([]string, 0, len(seen))
	for dep := range seen {
		deps = append(deps, dep)
	}
	sort.Strings(deps)
	return deps
}

// topoSort runs Kahn's algorithm. The ready set is drained in ascending
// identifier order to keep plans reproducible.
func (d *DAG) topoSort() ([]string, error) {
	inDegree := make(map[string]int, len(d.nodes))
	for id, node := range d.nodes {
		inDegree[id] = len(node.edges)
	}

	var ready []string
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	sorted := make([]string, 0, len(d.nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		sorted = append(sorted, id)

		var unlocked []string
		for _, dependent := range d.nodes[id].revEdges {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				unlocked = append(unlocked, dependent)
			}
		}
		if len(unlocked) > 0 {
			ready = append(ready, unlocked...)
			sort.Strings(ready)
		}
	}

	if len(sorted) != len(d.nodes) {
		return nil, &errs.CycleError{Members: d.cycleMembers(inDegree)}
	}
	return sorted, nil
}

// cycleMembers extracts the identifiers participating in a cycle: the nodes
// with remaining in-degree, pruned of any that merely depend on the cycle.
func (d *DAG) cycleMembers(inDegree map[string]int) []string {
	remaining := make(map[string]bool)
	for id, deg := range inDegree {
		if deg > 0 {
			remaining[id] = true
		}
	}

	// Repeatedly drop nodes with no remaining dependents; what survives is
	// at least one real cycle.
	for {
		dropped := false
		for id := range remaining {
			hasDependent := false
			for _, dep := range d.nodes[id].revEdges {
				if remaining[dep] {
					hasDependent = true
					break
				}
			}
			if !hasDependent {
				delete(remaining, id)
				dropped = true
			}
		}
		if !dropped {
			break
		}
	}

	members := make([]string, 0, len(remaining))
	for id := range remaining {
		members = append(members, id)
	}
	sort.Strings(members)
	return members
}

// DOT exports the graph as Graphviz DOT text for the graph command.
func (d *DAG) DOT() string {
	var b strings.Builder
	b.WriteString("digraph quarry {\n")
	b.WriteString("  rankdir=LR;\n")

	for _, id := range d.order {
		fmt.Fprintf(&b, "  %q;\n", id)
	}
	for _, id := range d.order {
		deps := append([]string(nil), d.nodes[id].edges...)
		sort.Strings(deps)
		for _, dep := range deps {
			fmt.Fprintf(&b, "  %q -> %q;\n", dep, id)
		}
	}
	b.WriteString("}\n")
	return b.String()
}
