package compiler

import (
	"github.com/roach88/strata/internal/ir"
)

// EdgeKind labels a dependency between relations.
type EdgeKind uint8

const (
	EdgePositive EdgeKind = iota
	EdgeNegative
	EdgeAggregated
)

func (k EdgeKind) String() string {
	switch k {
	case EdgePositive:
		return "positive"
	case EdgeNegative:
		return "negative"
	case EdgeAggregated:
		return "aggregated"
	default:
		return "unknown"
	}
}

// Node is one relation of the dependency graph.
type Node struct {
	Name string
	// Rules holds the indices of rules whose head is this relation.
	Rules []int
	// Stored reports whether the relation exists in storage.
	Stored bool
}

// Derived reports whether the relation is the head of at least one rule.
func (n Node) Derived() bool {
	return len(n.Rules) > 0
}

// Edge is a dependency: relation From (a rule head) reads relation To.
type Edge struct {
	From int
	To   int
	Kind EdgeKind
	Rule int
}

// Graph is the relation dependency graph of a program. Nodes are held in an
// arena in declaration order (first mention in rule order, head before
// body) and edges refer to them by index.
type Graph struct {
	Nodes []Node
	Edges []Edge
	// Out lists, per node, the indices into Edges leaving that node.
	Out   [][]int
	index map[string]int
}

// Lookup returns the node index of a relation.
func (g *Graph) Lookup(name string) (int, bool) {
	i, ok := g.index[name]
	return i, ok
}

func (g *Graph) node(name string) int {
	if i, ok := g.index[name]; ok {
		return i
	}
	g.index[name] = len(g.Nodes)
	g.Nodes = append(g.Nodes, Node{Name: name})
	g.Out = append(g.Out, nil)
	return len(g.Nodes) - 1
}

func (g *Graph) addEdge(from, to int, kind EdgeKind, rule int) {
	for _, ei := range g.Out[from] {
		e := g.Edges[ei]
		if e.To == to && e.Kind == kind {
			return
		}
	}
	g.Out[from] = append(g.Out[from], len(g.Edges))
	g.Edges = append(g.Edges, Edge{From: from, To: to, Kind: kind, Rule: rule})
}

// BuildGraph builds the dependency graph of p. stored reports whether a
// relation exists in storage.
//
// Edge labelling:
//   - positive body atom: positive edge
//   - negated body atom: negative edge
//   - any atom of an aggregating rule: aggregated edge
//   - fixed-rule input: aggregated edge (fixed rules consume finalized input)
//
// Fails with *UnboundRelationError when a body atom or the output names a
// relation that no rule defines and storage does not hold. Pure function.
func BuildGraph(p *ir.Program, stored func(name string) bool) (*Graph, error) {
	if stored == nil {
		stored = func(string) bool { return false }
	}
	g := &Graph{index: make(map[string]int)}

	for i, r := range p.Rules {
		h := g.node(r.Head.Relation)
		g.Nodes[h].Rules = append(g.Nodes[h].Rules, i)
	}

	for i, r := range p.Rules {
		h := g.index[r.Head.Relation]
		aggregating := r.IsAggregate()
		for _, l := range r.Body {
			if l.Kind != ir.LitPositive && l.Kind != ir.LitNegated {
				continue
			}
			to := g.node(l.Atom.Relation)
			kind := EdgePositive
			switch {
			case aggregating:
				kind = EdgeAggregated
			case l.Kind == ir.LitNegated:
				kind = EdgeNegative
			}
			g.addEdge(h, to, kind, i)
		}
		if r.Fixed != nil {
			for _, in := range r.Fixed.Inputs {
				g.addEdge(h, g.node(in), EdgeAggregated, i)
			}
		}
	}

	for i := range g.Nodes {
		g.Nodes[i].Stored = stored(g.Nodes[i].Name)
	}

	for _, e := range g.Edges {
		to := g.Nodes[e.To]
		if !to.Derived() && !to.Stored {
			return nil, &UnboundRelationError{Relation: to.Name, Rule: e.Rule}
		}
	}
	if p.Output != "" {
		i, ok := g.index[p.Output]
		if !ok {
			if !stored(p.Output) {
				return nil, &UnboundRelationError{Relation: p.Output, Rule: -1}
			}
			i = g.node(p.Output)
			g.Nodes[i].Stored = true
		}
		if n := g.Nodes[i]; !n.Derived() && !n.Stored {
			return nil, &UnboundRelationError{Relation: p.Output, Rule: -1}
		}
	}

	return g, nil
}
