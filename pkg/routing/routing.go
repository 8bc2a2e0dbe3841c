// Package routing holds the directed graph of allowed forward/backward
// connections between units. The table is built once at startup and
// published atomically; readers on the hot path never take a lock.
package routing

import "sync/atomic"

// Edges is the immutable adjacency for one unit.
type Edges struct {
	Forwards  []string
	Backwards []string
}

type graph struct {
	edges map[string]Edges
}

// Table is a read-mostly directed routing graph. The zero value is usable
// but empty; call Build to populate it.
type Table struct {
	g atomic.Pointer[graph]
}

// New returns an empty Table.
func New() *Table {
	t := &Table{}
	t.g.Store(&graph{edges: map[string]Edges{}})
	return t
}

// Build replaces the table's contents from independent forward and backward
// adjacency maps, each keyed by unit id. Backward edges are NOT derived from
// forwards: a unit's configured backward_connections is its own list, used
// exactly as given, because the two are allowed to differ (a unit may report
// failures somewhere other than where it forwards successes). This is the
// resolution of the spec's backward-signal source-of-truth question: the
// routing table is canonical, never a field carried on the Signal — but the
// table's backward adjacency is itself sourced from each unit's own
// configured backward_connections, not synthesized from the forward graph.
func (t *Table) Build(forwards, backwards map[string][]string) {
	edges := make(map[string]Edges, len(forwards)+len(backwards))
	for unit, tos := range forwards {
		e := edges[unit]
		e.Forwards = append(e.Forwards, tos...)
		edges[unit] = e
	}
	for unit, froms := range backwards {
		e := edges[unit]
		e.Backwards = append(e.Backwards, froms...)
		edges[unit] = e
	}
	t.g.Store(&graph{edges: edges})
}

// Forwards returns the configured forward targets of unit.
func (t *Table) Forwards(unit string) []string {
	return t.g.Load().edges[unit].Forwards
}

// Backwards returns unit's configured backward_connections: the candidates a
// backward gradient signal originating at unit may be sent to.
func (t *Table) Backwards(unit string) []string {
	return t.g.Load().edges[unit].Backwards
}

// HasForwardEdge reports whether from -> to is a configured forward edge.
func (t *Table) HasForwardEdge(from, to string) bool {
	for _, candidate := range t.Forwards(from) {
		if candidate == to {
			return true
		}
	}
	return false
}

// Units returns every unit with at least one recorded edge.
func (t *Table) Units() []string {
	edges := t.g.Load().edges
	out := make([]string, 0, len(edges))
	for u := range edges {
		out = append(out, u)
	}
	return out
}
