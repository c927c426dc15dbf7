// Package schema holds the table metadata the engine plans and enforces
// against: columns, indexes, unique constraints, checks, foreign keys,
// delete modes, and row-level security policies.
//
// Metadata is defined once at schema-build time and immutable
// thereafter; a built Schema and its foreign-key graph are safe to
// share across concurrent mutation calls.
package schema

import (
	"time"

	"github.com/roach88/keel/internal/expr"
)

// ColumnType is the logical type of a column. The store is schemaless;
// types document intent and drive nothing at runtime except defaults.
type ColumnType string

const (
	TypeString  ColumnType = "string"
	TypeNumber  ColumnType = "number"
	TypeBoolean ColumnType = "boolean"
	TypeArray   ColumnType = "array"
	TypeObject  ColumnType = "object"
	TypeAny     ColumnType = "any"
)

// Column describes one column of a table.
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool

	// Default is applied on insert when the field is absent.
	// DefaultFunc wins over Default when both are set.
	Default     any
	DefaultFunc func() any

	// OnUpdateFunc regenerates the column's value on every update that
	// does not set it explicitly (e.g. an updatedAt timestamp).
	OnUpdateFunc func() any
}

// Index is a declared secondary index: an ordered field tuple the
// store can range-scan.
type Index struct {
	Name   string
	Fields []string
}

// UniqueIndex declares a uniqueness constraint over an ordered field
// tuple. The store maintains entries for unique indexes exactly like
// ordinary ones; uniqueness itself is enforced by probe-before-write.
type UniqueIndex struct {
	Name   string
	Fields []string

	// NullsNotDistinct makes null compare equal to null for
	// uniqueness. When false (the default, matching SQL), rows with a
	// null in any indexed field never conflict.
	NullsNotDistinct bool
}

// Check is a named check constraint evaluated against the candidate
// row before any write.
type Check struct {
	Name      string
	Predicate expr.Expr
}

// Action is a referential action applied to dependent rows when a
// referenced row is deleted or its key columns change.
type Action string

const (
	ActionRestrict   Action = "restrict"
	ActionCascade    Action = "cascade"
	ActionSetNull    Action = "setNull"
	ActionSetDefault Action = "setDefault"

	// ActionNoAction is accepted as an alias of restrict; the store
	// has no deferred-constraint notion to distinguish them.
	ActionNoAction Action = "noAction"
)

// ForeignKey declares that Columns of this table reference RefColumns
// of RefTable. Column counts must match; RefColumns must be the id
// field or a declared unique index of the referenced table.
type ForeignKey struct {
	Name       string
	Columns    []string
	RefTable   string
	RefColumns []string
	OnDelete   Action
	OnUpdate   Action
}

// DeleteModeKind selects what a delete physically does.
type DeleteModeKind string

const (
	// DeleteHard erases the document immediately.
	DeleteHard DeleteModeKind = "hard"
	// DeleteSoft stamps Field with a timestamp instead of erasing.
	DeleteSoft DeleteModeKind = "soft"
	// DeleteScheduled soft-deletes now and schedules a hard delete
	// after Delay.
	DeleteScheduled DeleteModeKind = "scheduled"
)

// DefaultSoftDeleteField marks soft-deleted rows when a table does not
// name its own field.
const DefaultSoftDeleteField = "deletedAt"

// DeleteMode configures a table's delete behavior. The zero value
// means hard delete.
type DeleteMode struct {
	Kind  DeleteModeKind
	Field string        // soft-delete marker field; defaults to deletedAt
	Delay time.Duration // scheduled mode: soft-to-hard delay
}

// PolicyOp is the operation kind a row-level security policy gates.
type PolicyOp string

const (
	PolicySelect PolicyOp = "select"
	PolicyInsert PolicyOp = "insert"
	PolicyUpdate PolicyOp = "update"
	PolicyDelete PolicyOp = "delete"
)

// Policy is a row-level security policy. Using gates row visibility
// (evaluated against the existing row); WithCheck gates the row's
// post-mutation state. Multiple policies for one operation combine as
// OR-of-using, AND-of-with-check, so evaluation order is irrelevant.
type Policy struct {
	Name      string
	Op        PolicyOp
	Using     expr.Expr
	WithCheck expr.Expr
}

// Table is a complete table descriptor.
type Table struct {
	Name          string
	Columns       []Column
	Indexes       []Index
	UniqueIndexes []UniqueIndex
	Checks        []Check
	ForeignKeys   []ForeignKey
	DeleteMode    DeleteMode
	RLSEnabled    bool
	Policies      []Policy
}

// Column returns the named column, or nil.
func (t *Table) Column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// Index returns the named declared index, or nil. Unique indexes are
// addressable here too: every unique index doubles as a scan index.
func (t *Table) Index(name string) *Index {
	for i := range t.Indexes {
		if t.Indexes[i].Name == name {
			return &t.Indexes[i]
		}
	}
	for i := range t.UniqueIndexes {
		if t.UniqueIndexes[i].Name == name {
			return &Index{Name: t.UniqueIndexes[i].Name, Fields: t.UniqueIndexes[i].Fields}
		}
	}
	return nil
}

// UniqueIndex returns the named unique index, or nil.
func (t *Table) UniqueIndex(name string) *UniqueIndex {
	for i := range t.UniqueIndexes {
		if t.UniqueIndexes[i].Name == name {
			return &t.UniqueIndexes[i]
		}
	}
	return nil
}

// AllIndexes returns declared indexes followed by unique indexes
// projected as scan indexes, in declaration order. The planner scores
// candidates in this order, so declaration order breaks ties.
func (t *Table) AllIndexes() []Index {
	out := make([]Index, 0, len(t.Indexes)+len(t.UniqueIndexes))
	out = append(out, t.Indexes...)
	for _, u := range t.UniqueIndexes {
		out = append(out, Index{Name: u.Name, Fields: u.Fields})
	}
	return out
}

// SoftDeleteField returns the field that marks soft-deleted rows.
func (t *Table) SoftDeleteField() string {
	if t.DeleteMode.Field != "" {
		return t.DeleteMode.Field
	}
	return DefaultSoftDeleteField
}

// DeleteKind returns the table's delete mode, defaulting to hard.
func (t *Table) DeleteKind() DeleteModeKind {
	if t.DeleteMode.Kind == "" {
		return DeleteHard
	}
	return t.DeleteMode.Kind
}

// PoliciesFor returns the policies registered for one operation kind.
func (t *Table) PoliciesFor(op PolicyOp) []Policy {
	var out []Policy
	for _, p := range t.Policies {
		if p.Op == op {
			out = append(out, p)
		}
	}
	return out
}

// Schema is an immutable set of validated table descriptors.
type Schema struct {
	tables []*Table
	byName map[string]*Table
}

// New validates the table descriptors and builds a schema.
func New(tables ...*Table) (*Schema, error) {
	s := &Schema{
		tables: tables,
		byName: make(map[string]*Table, len(tables)),
	}
	for _, t := range tables {
		s.byName[t.Name] = t
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Table returns the named table descriptor, or nil.
func (s *Schema) Table(name string) *Table {
	return s.byName[name]
}

// Tables returns all tables in declaration order.
func (s *Schema) Tables() []*Table {
	return s.tables
}
