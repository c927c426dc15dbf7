package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/keel/internal/doc"
	"github.com/roach88/keel/internal/docstore"
	"github.com/roach88/keel/internal/expr"
)

func TestDelete_HardByID(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1", "a@example.com")

	res, err := env.engine.Delete("users").
		Where(expr.Eq("id", "u1")).
		Returning(Returning{}).
		Exec(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Count)
	assert.Equal(t, "a@example.com", res.Rows[0].Get("email"), "returning carries the pre-delete state")

	assert.Nil(t, env.get(t, "users", "u1"))
}

func TestDelete_SoftStampsMarker(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1", "a@example.com")
	env.seedOrder(t, "o1", "u1", 10)
	ctx := context.Background()

	res, err := env.engine.Delete("orders").
		Where(expr.Eq("id", "o1")).
		Exec(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Count)

	stored := env.get(t, "orders", "o1")
	require.NotNil(t, stored, "soft delete keeps the document")
	assert.Equal(t, fixedNow.UnixMilli(), stored.Get("deletedAt"))

	// A second delete of the same row matches nothing.
	res, err = env.engine.Delete("orders").
		Where(expr.Eq("id", "o1")).
		Exec(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Count)
}

func TestDelete_HardOverridesSoftMode(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1", "a@example.com")
	env.seedOrder(t, "o1", "u1", 10)

	_, err := env.engine.Delete("orders").
		Where(expr.Eq("id", "o1")).
		Hard().
		Exec(context.Background())
	require.NoError(t, err)
	assert.Nil(t, env.get(t, "orders", "o1"))
}

func TestDelete_Restrict(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1", "a@example.com")
	ctx := context.Background()

	_, err := env.engine.Insert("invoices").
		Values(doc.Doc{"userId": "u1", "amount": int64(100)}).
		Exec(ctx)
	require.NoError(t, err)

	_, err = env.engine.Delete("users").
		Where(expr.Eq("id", "u1")).
		Exec(ctx)
	require.True(t, IsRestrictedDelete(err), "got %v", err)
	assert.Contains(t, err.Error(), "invoices")

	assert.NotNil(t, env.get(t, "users", "u1"), "restricted delete leaves the row")
}

func TestDelete_CascadeMirrorsDependentModes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, "u1", "a@example.com")
	env.seedOrder(t, "o1", "u1", 10)
	_, err := env.engine.Insert("line_items").
		Values(doc.Doc{"id": "li1", "orderId": "o1", "sku": "ABC", "qty": int64(2)}).
		Exec(ctx)
	require.NoError(t, err)

	_, err = env.engine.Delete("users").
		Where(expr.Eq("id", "u1")).
		Exec(ctx)
	require.NoError(t, err)

	assert.Nil(t, env.get(t, "users", "u1"), "users hard-delete")
	order := env.get(t, "orders", "o1")
	require.NotNil(t, order, "orders mirror to soft")
	assert.NotNil(t, order.Get("deletedAt"))
	assert.Nil(t, env.get(t, "line_items", "li1"), "line items hard-delete")
}

func TestDelete_CascadeHardMode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, "u1", "a@example.com")
	env.seedOrders(t, "u1", 3)

	_, err := env.engine.Delete("users").
		Where(expr.Eq("id", "u1")).
		Cascade(CascadeHard).
		Exec(ctx)
	require.NoError(t, err)

	for _, id := range []string{"u1-o0", "u1-o1", "u1-o2"} {
		assert.Nil(t, env.get(t, "orders", id), "forced hard cascade erases dependents")
	}
}

func TestDelete_SetNull(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, "u1", "a@example.com")
	_, err := env.engine.Insert("profiles").
		Values(doc.Doc{"id": "pr1", "userId": "u1", "bio": "hi"}).
		Exec(ctx)
	require.NoError(t, err)

	_, err = env.engine.Delete("users").
		Where(expr.Eq("id", "u1")).
		Exec(ctx)
	require.NoError(t, err)

	profile := env.get(t, "profiles", "pr1")
	require.NotNil(t, profile)
	assert.Nil(t, profile.Get("userId"))
	assert.Equal(t, "hi", profile.Get("bio"))
}

func TestDelete_SetDefault(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, "system", "system@example.com")
	env.seedUser(t, "u1", "a@example.com")
	_, err := env.engine.Insert("badges").
		Values(doc.Doc{"id": "b1", "userId": "u1", "label": "vip"}).
		Exec(ctx)
	require.NoError(t, err)

	_, err = env.engine.Delete("users").
		Where(expr.Eq("id", "u1")).
		Exec(ctx)
	require.NoError(t, err)

	assert.Equal(t, "system", env.get(t, "badges", "b1").Get("userId"))
}

func TestDelete_CascadeWinsOverSetNullOnSameRow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, "u1", "a@example.com")
	env.seedOrder(t, "o1", "u1", 10)
	_, err := env.engine.Insert("attachments").
		Values(doc.Doc{"id": "a1", "orderId": "o1", "ownerId": "u1", "path": "/a1"}).
		Exec(ctx)
	require.NoError(t, err)

	// Deleting u1 reaches a1 twice: a set-null patch on ownerId and,
	// through o1, a cascade delete. The patch arriving first must not
	// shadow the delete.
	_, err = env.engine.Delete("users").
		Where(expr.Eq("id", "u1")).
		Exec(ctx)
	require.NoError(t, err)

	assert.Nil(t, env.get(t, "users", "u1"))
	assert.Nil(t, env.get(t, "attachments", "a1"), "cascade delete still applies after the patch")
}

func TestDelete_SetNullSkipsUntouchedKeysMidCascade(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, "u1", "a@example.com")
	env.seedOrder(t, "o1", "u1", 10)
	_, err := env.engine.Insert("attachments").
		Values(doc.Doc{"id": "a1", "orderId": "o1", "ownerId": "u1", "path": "/a1"}).
		Exec(ctx)
	require.NoError(t, err)

	// The hard cascade erases o1 before the set-null patch reaches a1,
	// so a1's untouched orderId key points at a row that is already
	// gone. Validating it would abort the cascade mid-flight.
	_, err = env.engine.Delete("users").
		Where(expr.Eq("id", "u1")).
		Cascade(CascadeHard).
		Exec(ctx)
	require.NoError(t, err)

	assert.Nil(t, env.get(t, "orders", "o1"))
	assert.Nil(t, env.get(t, "attachments", "a1"))
}

func TestDelete_ScheduledRunsHardPhase(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1", "a@example.com")
	ctx := context.Background()

	res, err := env.engine.Delete("users").
		Where(expr.Eq("id", "u1")).
		Scheduled(time.Millisecond).
		Exec(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Count)

	stored := env.get(t, "users", "u1")
	require.NotNil(t, stored, "scheduled delete soft-marks first")
	assert.NotNil(t, stored.Get("deletedAt"))

	env.sched.Wait()
	assert.Nil(t, env.get(t, "users", "u1"), "hard phase erases after the delay")
}

func TestDelete_ScheduledNeedsDelay(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.Delete("users").
		Where(expr.Eq("id", "u1")).
		Scheduled(0).
		Exec(context.Background())
	assert.True(t, IsConfigError(err), "got %v", err)
}

func TestDelete_SchedulerRequired(t *testing.T) {
	sc := testSchema(t)
	store, err := docstore.OpenSQLite(":memory:", sc)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	e := New(sc, store)

	_, err = e.Delete("users").
		Where(expr.Eq("id", "u1")).
		Scheduled(time.Second).
		Exec(context.Background())
	assert.True(t, IsConfigError(err), "got %v", err)
}

func TestDelete_BudgetExceeded(t *testing.T) {
	env := newTestEnv(t, WithLimits(Limits{MaxRows: 2}))
	env.seedUser(t, "u1", "a@example.com")
	env.seedOrders(t, "u1", 5)

	_, err := env.engine.Delete("users").
		Where(expr.Eq("id", "u1")).
		Exec(context.Background())
	assert.True(t, IsBudgetExceeded(err), "got %v", err)
}

func TestDelete_Paginated(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1", "a@example.com")
	env.seedOrders(t, "u1", 5)
	ctx := context.Background()

	total := 0
	page := docstore.Page{Limit: 2}
	for {
		res, err := env.engine.Delete("orders").
			Where(expr.Eq("userId", "u1")).
			Paginate(page).
			Exec(ctx)
		require.NoError(t, err)
		total += res.Count
		if res.IsDone {
			break
		}
		page.Cursor = res.ContinueCursor
	}
	assert.Equal(t, 5, total)
}

func TestDelete_RLSHidesRows(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.store.Insert(ctx, "notes", doc.Doc{"id": "n1", "ownerId": "u1", "visible": true})
	require.NoError(t, err)
	_, err = env.store.Insert(ctx, "notes", doc.Doc{"id": "n2", "ownerId": "u1", "visible": false})
	require.NoError(t, err)

	res, err := env.engine.Delete("notes").
		Where(expr.Eq("ownerId", "u1")).
		Exec(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	assert.Nil(t, env.get(t, "notes", "n1"))
	assert.NotNil(t, env.get(t, "notes", "n2"), "invisible rows are skipped silently")
}
