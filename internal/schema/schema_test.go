package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/keel/internal/expr"
)

func usersTable() *Table {
	return &Table{
		Name: "users",
		Columns: []Column{
			{Name: "email", Type: TypeString},
			{Name: "status", Type: TypeString, Default: "active"},
		},
		UniqueIndexes: []UniqueIndex{
			{Name: "by_email", Fields: []string{"email"}},
		},
	}
}

func ordersTable() *Table {
	return &Table{
		Name: "orders",
		Columns: []Column{
			{Name: "userId", Type: TypeString},
			{Name: "total", Type: TypeNumber},
		},
		Indexes: []Index{
			{Name: "by_user", Fields: []string{"userId"}},
		},
		ForeignKeys: []ForeignKey{
			{Columns: []string{"userId"}, RefTable: "users", RefColumns: []string{"id"}, OnDelete: ActionCascade},
		},
	}
}

func TestNew_Valid(t *testing.T) {
	s, err := New(usersTable(), ordersTable())
	require.NoError(t, err)
	assert.NotNil(t, s.Table("users"))
	assert.NotNil(t, s.Table("orders"))
	assert.Nil(t, s.Table("missing"))
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(users, orders *Table)
		errPart string
	}{
		{
			name:    "duplicate table",
			mutate:  func(users, orders *Table) { orders.Name = "users" },
			errPart: "duplicate table",
		},
		{
			name: "index over unknown column",
			mutate: func(users, orders *Table) {
				orders.Indexes = append(orders.Indexes, Index{Name: "bad", Fields: []string{"nope"}})
			},
			errPart: "unknown column",
		},
		{
			name: "duplicate index name across kinds",
			mutate: func(users, orders *Table) {
				users.Indexes = append(users.Indexes, Index{Name: "by_email", Fields: []string{"email"}})
			},
			errPart: "duplicate index name",
		},
		{
			name: "check over unknown column",
			mutate: func(users, orders *Table) {
				users.Checks = append(users.Checks, Check{Name: "bad", Predicate: expr.Gt("nope", int64(0))})
			},
			errPart: "unknown column",
		},
		{
			name: "fk arity mismatch",
			mutate: func(users, orders *Table) {
				orders.ForeignKeys[0].RefColumns = []string{"id", "email"}
			},
			errPart: "local columns",
		},
		{
			name: "fk to unknown table",
			mutate: func(users, orders *Table) {
				orders.ForeignKeys[0].RefTable = "ghosts"
			},
			errPart: "unknown table",
		},
		{
			name: "fk to non-unique target",
			mutate: func(users, orders *Table) {
				orders.ForeignKeys[0].RefColumns = []string{"status"}
			},
			errPart: "unique index",
		},
		{
			name: "fk unknown action",
			mutate: func(users, orders *Table) {
				orders.ForeignKeys[0].OnDelete = "obliterate"
			},
			errPart: "unknown action",
		},
		{
			name: "scheduled delete without delay",
			mutate: func(users, orders *Table) {
				users.DeleteMode = DeleteMode{Kind: DeleteScheduled}
			},
			errPart: "positive delay",
		},
		{
			name: "policy without predicates",
			mutate: func(users, orders *Table) {
				users.RLSEnabled = true
				users.Policies = []Policy{{Name: "empty", Op: PolicySelect}}
			},
			errPart: "neither using nor with-check",
		},
		{
			name: "policy with unknown op",
			mutate: func(users, orders *Table) {
				users.Policies = []Policy{{Name: "odd", Op: "upsert", Using: expr.IsNotNull("email")}}
			},
			errPart: "unknown op",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users, orders := usersTable(), ordersTable()
			tt.mutate(users, orders)
			_, err := New(users, orders)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errPart)
		})
	}
}

func TestFKToUniqueIndexTarget(t *testing.T) {
	users, orders := usersTable(), ordersTable()
	orders.Columns = append(orders.Columns, Column{Name: "userEmail", Type: TypeString})
	orders.ForeignKeys = append(orders.ForeignKeys, ForeignKey{
		Columns: []string{"userEmail"}, RefTable: "users", RefColumns: []string{"email"},
	})
	_, err := New(users, orders)
	assert.NoError(t, err, "a unique index is a legal foreign-key target")
}

func TestTable_AllIndexes_DeclarationOrder(t *testing.T) {
	tab := &Table{
		Name:    "t",
		Columns: []Column{{Name: "a"}, {Name: "b"}},
		Indexes: []Index{
			{Name: "i1", Fields: []string{"a"}},
			{Name: "i2", Fields: []string{"b"}},
		},
		UniqueIndexes: []UniqueIndex{{Name: "u1", Fields: []string{"a", "b"}}},
	}
	all := tab.AllIndexes()
	require.Len(t, all, 3)
	assert.Equal(t, []string{"i1", "i2", "u1"}, []string{all[0].Name, all[1].Name, all[2].Name})

	assert.NotNil(t, tab.Index("u1"), "unique indexes are addressable as scan indexes")
}

func TestTable_DeleteDefaults(t *testing.T) {
	tab := &Table{Name: "t"}
	assert.Equal(t, DeleteHard, tab.DeleteKind())
	assert.Equal(t, DefaultSoftDeleteField, tab.SoftDeleteField())

	tab.DeleteMode = DeleteMode{Kind: DeleteSoft, Field: "removedAt"}
	assert.Equal(t, DeleteSoft, tab.DeleteKind())
	assert.Equal(t, "removedAt", tab.SoftDeleteField())
}

func TestBuildGraph(t *testing.T) {
	s, err := New(usersTable(), ordersTable())
	require.NoError(t, err)
	g := BuildGraph(s)

	incoming := g.Incoming("users")
	require.Len(t, incoming, 1)
	assert.Equal(t, "orders", incoming[0].From.Name)
	assert.Equal(t, ActionCascade, incoming[0].OnDeleteAction())

	outgoing := g.Outgoing("orders")
	require.Len(t, outgoing, 1)
	assert.Equal(t, "users", outgoing[0].To.Name)

	assert.Empty(t, g.Incoming("orders"))
	assert.Empty(t, g.Outgoing("users"))
}

func TestEdgeActions_DefaultToRestrict(t *testing.T) {
	edge := Edge{FK: &ForeignKey{}}
	assert.Equal(t, ActionRestrict, edge.OnDeleteAction())
	assert.Equal(t, ActionRestrict, edge.OnUpdateAction())

	edge.FK.OnDelete = ActionNoAction
	assert.Equal(t, ActionRestrict, edge.OnDeleteAction(), "noAction is an alias of restrict")

	edge.FK.OnUpdate = ActionSetNull
	assert.Equal(t, ActionSetNull, edge.OnUpdateAction())
}

func TestScheduledDeleteMode_Valid(t *testing.T) {
	users := usersTable()
	users.DeleteMode = DeleteMode{Kind: DeleteScheduled, Delay: time.Hour}
	_, err := New(users)
	assert.NoError(t, err)
}
