package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/keel/internal/doc"
	"github.com/roach88/keel/internal/docstore"
	"github.com/roach88/keel/internal/expr"
	"github.com/roach88/keel/internal/schema"
)

// fixedNow pins the clock so soft-delete stamps are deterministic.
var fixedNow = time.UnixMilli(1_700_000_000_000)

// testSchema models a small shop: users own orders, orders own line
// items, invoices restrict user deletion, profiles and badges exercise
// the set-null and set-default actions, attachments hang off both an
// order and an owner, accounts/payments exercise key-update cascades,
// and notes carry row-level security.
func testSchema(t *testing.T) *schema.Schema {
	t.Helper()

	users := &schema.Table{
		Name: "users",
		Columns: []schema.Column{
			{Name: "email", Type: schema.TypeString, Nullable: true},
			{Name: "name", Type: schema.TypeString},
			{Name: "status", Type: schema.TypeString, Default: "active"},
			{Name: "updatedAt", Type: schema.TypeNumber, Nullable: true,
				OnUpdateFunc: func() any { return int64(4242) }},
		},
		UniqueIndexes: []schema.UniqueIndex{
			{Name: "uq_email", Fields: []string{"email"}},
		},
	}

	orders := &schema.Table{
		Name: "orders",
		Columns: []schema.Column{
			{Name: "userId", Type: schema.TypeString},
			{Name: "total", Type: schema.TypeNumber},
			{Name: "status", Type: schema.TypeString, Default: "open"},
			{Name: "deletedAt", Type: schema.TypeNumber, Nullable: true},
		},
		Indexes: []schema.Index{
			{Name: "by_user", Fields: []string{"userId"}},
			{Name: "by_status", Fields: []string{"status"}},
		},
		Checks: []schema.Check{
			{Name: "total_nonneg", Predicate: expr.Gte("total", int64(0))},
		},
		ForeignKeys: []schema.ForeignKey{
			{Name: "fk_orders_user", Columns: []string{"userId"},
				RefTable: "users", RefColumns: []string{"id"},
				OnDelete: schema.ActionCascade},
		},
		DeleteMode: schema.DeleteMode{Kind: schema.DeleteSoft},
	}

	lineItems := &schema.Table{
		Name: "line_items",
		Columns: []schema.Column{
			{Name: "orderId", Type: schema.TypeString},
			{Name: "sku", Type: schema.TypeString},
			{Name: "qty", Type: schema.TypeNumber},
		},
		Indexes: []schema.Index{
			{Name: "by_order", Fields: []string{"orderId"}},
		},
		ForeignKeys: []schema.ForeignKey{
			{Name: "fk_items_order", Columns: []string{"orderId"},
				RefTable: "orders", RefColumns: []string{"id"},
				OnDelete: schema.ActionCascade},
		},
	}

	invoices := &schema.Table{
		Name: "invoices",
		Columns: []schema.Column{
			{Name: "userId", Type: schema.TypeString},
			{Name: "amount", Type: schema.TypeNumber},
		},
		Indexes: []schema.Index{
			{Name: "by_user", Fields: []string{"userId"}},
		},
		ForeignKeys: []schema.ForeignKey{
			{Name: "fk_invoices_user", Columns: []string{"userId"},
				RefTable: "users", RefColumns: []string{"id"},
				OnDelete: schema.ActionRestrict},
		},
	}

	profiles := &schema.Table{
		Name: "profiles",
		Columns: []schema.Column{
			{Name: "userId", Type: schema.TypeString, Nullable: true},
			{Name: "bio", Type: schema.TypeString, Nullable: true},
		},
		ForeignKeys: []schema.ForeignKey{
			{Name: "fk_profiles_user", Columns: []string{"userId"},
				RefTable: "users", RefColumns: []string{"id"},
				OnDelete: schema.ActionSetNull},
		},
	}

	badges := &schema.Table{
		Name: "badges",
		Columns: []schema.Column{
			{Name: "userId", Type: schema.TypeString, Default: "system"},
			{Name: "label", Type: schema.TypeString},
		},
		ForeignKeys: []schema.ForeignKey{
			{Name: "fk_badges_user", Columns: []string{"userId"},
				RefTable: "users", RefColumns: []string{"id"},
				OnDelete: schema.ActionSetDefault},
		},
	}

	attachments := &schema.Table{
		Name: "attachments",
		Columns: []schema.Column{
			{Name: "orderId", Type: schema.TypeString},
			{Name: "ownerId", Type: schema.TypeString, Nullable: true},
			{Name: "path", Type: schema.TypeString},
		},
		Indexes: []schema.Index{
			{Name: "by_order", Fields: []string{"orderId"}},
		},
		ForeignKeys: []schema.ForeignKey{
			{Name: "fk_att_order", Columns: []string{"orderId"},
				RefTable: "orders", RefColumns: []string{"id"},
				OnDelete: schema.ActionCascade},
			{Name: "fk_att_owner", Columns: []string{"ownerId"},
				RefTable: "users", RefColumns: []string{"id"},
				OnDelete: schema.ActionSetNull},
		},
	}

	accounts := &schema.Table{
		Name: "accounts",
		Columns: []schema.Column{
			{Name: "code", Type: schema.TypeString},
			{Name: "name", Type: schema.TypeString},
		},
		UniqueIndexes: []schema.UniqueIndex{
			{Name: "uq_code", Fields: []string{"code"}},
		},
	}

	payments := &schema.Table{
		Name: "payments",
		Columns: []schema.Column{
			{Name: "accountCode", Type: schema.TypeString},
			{Name: "amount", Type: schema.TypeNumber},
		},
		Indexes: []schema.Index{
			{Name: "by_account", Fields: []string{"accountCode"}},
		},
		ForeignKeys: []schema.ForeignKey{
			{Name: "fk_payments_account", Columns: []string{"accountCode"},
				RefTable: "accounts", RefColumns: []string{"code"},
				OnDelete: schema.ActionCascade,
				OnUpdate: schema.ActionCascade},
		},
	}

	notes := &schema.Table{
		Name: "notes",
		Columns: []schema.Column{
			{Name: "ownerId", Type: schema.TypeString},
			{Name: "visible", Type: schema.TypeBoolean},
			{Name: "body", Type: schema.TypeString, Nullable: true},
		},
		Indexes: []schema.Index{
			{Name: "by_owner", Fields: []string{"ownerId"}},
		},
		RLSEnabled: true,
		Policies: []schema.Policy{
			{Name: "select_visible", Op: schema.PolicySelect,
				Using: expr.Eq("visible", true)},
			{Name: "insert_visible", Op: schema.PolicyInsert,
				WithCheck: expr.Eq("visible", true)},
			{Name: "update_visible", Op: schema.PolicyUpdate,
				Using: expr.Eq("visible", true), WithCheck: expr.Eq("visible", true)},
			{Name: "delete_visible", Op: schema.PolicyDelete,
				Using: expr.Eq("visible", true)},
		},
	}

	sc, err := schema.New(users, orders, lineItems, invoices, profiles, badges, attachments, accounts, payments, notes)
	require.NoError(t, err)
	return sc
}

type testEnv struct {
	engine *Engine
	store  *docstore.SQLiteStore
	sched  *docstore.TimerScheduler
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	sc := testSchema(t)
	store, err := docstore.OpenSQLite(":memory:", sc)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := docstore.NewRegistry()
	sched := docstore.NewTimerScheduler(reg, nil)
	t.Cleanup(sched.Close)

	opts = append([]Option{
		WithScheduler(sched),
		WithClock(func() time.Time { return fixedNow }),
	}, opts...)
	e := New(sc, store, opts...)
	e.RegisterContinuations(reg)
	return &testEnv{engine: e, store: store, sched: sched}
}

func (env *testEnv) seedUser(t *testing.T, id, email string) {
	t.Helper()
	_, err := env.engine.Insert("users").
		Values(doc.Doc{"id": id, "email": email, "name": "user " + id}).
		Exec(context.Background())
	require.NoError(t, err)
}

func (env *testEnv) seedOrder(t *testing.T, id, userID string, total int64) {
	t.Helper()
	_, err := env.engine.Insert("orders").
		Values(doc.Doc{"id": id, "userId": userID, "total": total}).
		Exec(context.Background())
	require.NoError(t, err)
}

func (env *testEnv) seedOrders(t *testing.T, userID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		env.seedOrder(t, fmt.Sprintf("%s-o%d", userID, i), userID, int64(i))
	}
}

func (env *testEnv) get(t *testing.T, table, id string) doc.Doc {
	t.Helper()
	row, err := env.store.Get(context.Background(), table, doc.ID(id))
	require.NoError(t, err)
	return row
}
