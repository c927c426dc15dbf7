package schema

// Edge is one foreign-key relationship in the graph: From.FK points at
// the To table.
type Edge struct {
	From *Table
	To   *Table
	FK   *ForeignKey
}

// Graph indexes foreign keys by table in both directions. It is built
// once per schema and read-only during mutation execution, so it is
// safe to share across concurrent calls.
//
// Incoming edges answer "who references me" - the set of tables whose
// rows may need a cascaded action when one of my rows is deleted or
// its referenced key columns change. Outgoing edges answer "who do I
// reference" - the existence checks an insert/update must pass.
//
// Cyclic graphs (self-referential or mutually-referential tables) are
// legal; traversals must carry their own visited set.
type Graph struct {
	incoming map[string][]Edge
	outgoing map[string][]Edge
}

// BuildGraph derives the foreign-key graph from a validated schema.
func BuildGraph(s *Schema) *Graph {
	g := &Graph{
		incoming: make(map[string][]Edge),
		outgoing: make(map[string][]Edge),
	}
	for _, t := range s.Tables() {
		for i := range t.ForeignKeys {
			fk := &t.ForeignKeys[i]
			edge := Edge{From: t, To: s.Table(fk.RefTable), FK: fk}
			g.outgoing[t.Name] = append(g.outgoing[t.Name], edge)
			g.incoming[fk.RefTable] = append(g.incoming[fk.RefTable], edge)
		}
	}
	return g
}

// Incoming returns the edges whose foreign keys point at the table.
func (g *Graph) Incoming(table string) []Edge {
	return g.incoming[table]
}

// Outgoing returns the edges declared by the table.
func (g *Graph) Outgoing(table string) []Edge {
	return g.outgoing[table]
}

// OnDeleteAction resolves an edge's delete action, defaulting to
// restrict. noAction is treated as restrict.
func (e Edge) OnDeleteAction() Action {
	return normalizeAction(e.FK.OnDelete)
}

// OnUpdateAction resolves an edge's update action, defaulting to
// restrict. noAction is treated as restrict.
func (e Edge) OnUpdateAction() Action {
	return normalizeAction(e.FK.OnUpdate)
}

func normalizeAction(a Action) Action {
	switch a {
	case "", ActionNoAction:
		return ActionRestrict
	default:
		return a
	}
}
