package compiler

import (
	"fmt"
	"slices"
	"strings"
)

// Stratum is one step of evaluation: a set of mutually dependent (or
// independent, same-level) derived relations and the rules defining them.
type Stratum struct {
	Index int
	// Relations in declaration order.
	Relations []string
	// Rules holds rule indices in declaration order.
	Rules []int
	// Recursive reports whether some relation of the stratum reads another
	// (or itself) through a positive edge within the stratum.
	Recursive bool
}

// Contains reports whether the stratum derives relation name.
func (s Stratum) Contains(name string) bool {
	return slices.Contains(s.Relations, name)
}

// Stratification is the ordered result of Stratify.
type Stratification struct {
	Graph  *Graph
	Strata []Stratum
	// Of maps each derived relation to its stratum index.
	Of map[string]int
}

func (s *Stratification) String() string {
	var sb strings.Builder
	for _, st := range s.Strata {
		fmt.Fprintf(&sb, "stratum %d: %s (rules %v)", st.Index, strings.Join(st.Relations, ", "), st.Rules)
		if st.Recursive {
			sb.WriteString(" recursive")
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Stratify partitions the derived relations of g into ordered strata.
//
// The algorithm:
//  1. Tarjan's algorithm finds strongly connected components; nodes and
//     edges are visited in declaration order so the result is deterministic
//  2. Any negative or aggregated edge inside a component fails with
//     *StratificationError
//  3. Each component gets a level: the maximum over its dependencies of the
//     dependency's level, plus one across negative and aggregated edges.
//     Relations with no rules are read from storage and take no level.
//  4. Components sharing a level form one stratum, listed by smallest
//     declaration index
func Stratify(g *Graph) (*Stratification, error) {
	comps := tarjanSCC(g)

	compOf := make([]int, len(g.Nodes))
	for ci, comp := range comps {
		for _, n := range comp {
			compOf[n] = ci
		}
	}

	for _, e := range g.Edges {
		if e.Kind == EdgePositive {
			continue
		}
		if compOf[e.From] == compOf[e.To] {
			return nil, &StratificationError{
				From: g.Nodes[e.From].Name,
				To:   g.Nodes[e.To].Name,
				Kind: e.Kind,
				Rule: e.Rule,
			}
		}
	}

	// Tarjan emits a component only after every component it reaches, so
	// emission order is a valid dependencies-first order.
	level := make([]int, len(comps))
	maxLevel := -1
	for ci, comp := range comps {
		if !g.Nodes[comp[0]].Derived() {
			level[ci] = -1
			continue
		}
		lv := 0
		for _, n := range comp {
			for _, ei := range g.Out[n] {
				e := g.Edges[ei]
				dc := compOf[e.To]
				if dc == ci {
					continue
				}
				cand := level[dc]
				if e.Kind != EdgePositive {
					cand++
				}
				lv = max(lv, cand)
			}
		}
		level[ci] = lv
		maxLevel = max(maxLevel, lv)
	}

	result := &Stratification{Graph: g, Of: make(map[string]int)}
	for lv := 0; lv <= maxLevel; lv++ {
		var members []int
		for ci, comp := range comps {
			if level[ci] == lv {
				members = append(members, comp...)
			}
		}
		if len(members) == 0 {
			continue
		}
		slices.Sort(members)

		st := Stratum{Index: len(result.Strata)}
		inStratum := make(map[int]bool, len(members))
		for _, n := range members {
			inStratum[n] = true
		}
		for _, n := range members {
			st.Relations = append(st.Relations, g.Nodes[n].Name)
			st.Rules = append(st.Rules, g.Nodes[n].Rules...)
			result.Of[g.Nodes[n].Name] = st.Index
			for _, ei := range g.Out[n] {
				if inStratum[g.Edges[ei].To] {
					st.Recursive = true
				}
			}
		}
		slices.Sort(st.Rules)
		result.Strata = append(result.Strata, st)
	}

	return result, nil
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
//
// Returns components in emission order (dependencies first); each
// component lists node indices in ascending order.
func tarjanSCC(g *Graph) [][]int {
	var (
		index   = 0
		stack   []int
		indices = make([]int, len(g.Nodes))
		lowlink = make([]int, len(g.Nodes))
		onStack = make([]bool, len(g.Nodes))
		sccs    [][]int
	)
	for i := range indices {
		indices[i] = -1
	}

	var strongConnect func(int)
	strongConnect = func(v int) {
		// Set the depth index for v
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		// Consider successors of v
		for _, ei := range g.Out[v] {
			w := g.Edges[ei].To
			if indices[w] < 0 {
				// Successor w has not yet been visited; recurse on it
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				// Successor w is on stack and hence in the current SCC
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// If v is a root node, pop the stack and create an SCC
		if lowlink[v] == indices[v] {
			var scc []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			slices.Sort(scc)
			sccs = append(sccs, scc)
		}
	}

	// Visit all nodes in declaration order
	for node := range g.Nodes {
		if indices[node] < 0 {
			strongConnect(node)
		}
	}

	return sccs
}
