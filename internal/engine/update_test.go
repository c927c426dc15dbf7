package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/keel/internal/doc"
	"github.com/roach88/keel/internal/docstore"
	"github.com/roach88/keel/internal/expr"
)

func TestUpdate_ByID(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1", "a@example.com")

	res, err := env.engine.Update("users").
		Where(expr.Eq("id", "u1")).
		Set(doc.Doc{"name": "Renamed"}).
		Returning(Returning{}).
		Exec(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Count)
	require.Len(t, res.Rows, 1)

	assert.Equal(t, "Renamed", res.Rows[0].Get("name"))
	assert.Equal(t, int64(4242), res.Rows[0].Get("updatedAt"), "onUpdate generator fires")

	stored := env.get(t, "users", "u1")
	assert.Equal(t, "Renamed", stored.Get("name"))
	assert.Equal(t, "a@example.com", stored.Get("email"), "unset fields survive")
}

func TestUpdate_GeneratorYieldsToExplicitSet(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1", "a@example.com")

	_, err := env.engine.Update("users").
		Where(expr.Eq("id", "u1")).
		Set(doc.Doc{"updatedAt": int64(7)}).
		Exec(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), env.get(t, "users", "u1").Get("updatedAt"))
}

func TestUpdate_EmptySet(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.Update("users").
		Where(expr.Eq("id", "u1")).
		Exec(context.Background())
	assert.True(t, IsConfigError(err), "got %v", err)
}

func TestUpdate_IDIsImmutable(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.Update("users").
		Where(expr.Eq("id", "u1")).
		Set(doc.Doc{"id": "u2"}).
		Exec(context.Background())
	require.True(t, IsConfigError(err), "got %v", err)
	assert.Contains(t, err.Error(), "immutable")
}

func TestUpdate_RequiresIndexOrOptIn(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1", "a@example.com")
	env.seedOrder(t, "o1", "u1", 10)
	ctx := context.Background()

	// No index covers total.
	_, err := env.engine.Update("orders").
		Where(expr.Eq("total", int64(10))).
		Set(doc.Doc{"status": "closed"}).
		Exec(ctx)
	require.True(t, IsPlanningError(err), "got %v", err)

	res, err := env.engine.Update("orders").
		Where(expr.Eq("total", int64(10))).
		Set(doc.Doc{"status": "closed"}).
		AllowFullScan().
		Exec(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
}

func TestUpdate_UniqueCollision(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1", "a@example.com")
	env.seedUser(t, "u2", "b@example.com")

	_, err := env.engine.Update("users").
		Where(expr.Eq("id", "u2")).
		Set(doc.Doc{"email": "a@example.com"}).
		Exec(context.Background())
	assert.True(t, IsUniquenessViolation(err), "got %v", err)
}

func TestUpdate_SameValueIsNotACollision(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1", "a@example.com")

	_, err := env.engine.Update("users").
		Where(expr.Eq("id", "u1")).
		Set(doc.Doc{"email": "a@example.com"}).
		Exec(context.Background())
	assert.NoError(t, err, "a row never collides with itself")
}

func TestUpdate_Paginated(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1", "a@example.com")
	env.seedOrders(t, "u1", 5)
	ctx := context.Background()

	total := 0
	page := docstore.Page{Limit: 2}
	for {
		res, err := env.engine.Update("orders").
			Where(expr.Eq("userId", "u1")).
			Set(doc.Doc{"status": "closed"}).
			Paginate(page).
			Exec(ctx)
		require.NoError(t, err)
		total += res.Count
		if res.IsDone {
			break
		}
		require.NotEmpty(t, res.ContinueCursor)
		page.Cursor = res.ContinueCursor
	}
	assert.Equal(t, 5, total)
}

func TestUpdate_KeyCascadeRepointsDependents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.Insert("accounts").
		Values(doc.Doc{"id": "a1", "code": "ACME", "name": "Acme"}).
		Exec(ctx)
	require.NoError(t, err)
	_, err = env.engine.Insert("payments").
		Values(
			doc.Doc{"id": "p1", "accountCode": "ACME", "amount": int64(10)},
			doc.Doc{"id": "p2", "accountCode": "ACME", "amount": int64(20)},
		).
		Exec(ctx)
	require.NoError(t, err)

	res, err := env.engine.Update("accounts").
		Where(expr.Eq("id", "a1")).
		Set(doc.Doc{"code": "ACME2"}).
		Exec(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Count)

	assert.Equal(t, "ACME2", env.get(t, "payments", "p1").Get("accountCode"))
	assert.Equal(t, "ACME2", env.get(t, "payments", "p2").Get("accountCode"))
}

func TestUpdate_RLS(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.Insert("notes").
		Values(doc.Doc{"id": "n1", "ownerId": "u1", "visible": true, "body": "hello"}).
		Exec(ctx)
	require.NoError(t, err)
	// Seed an invisible note past the insert policy via the store.
	_, err = env.store.Insert(ctx, "notes", doc.Doc{"id": "n2", "ownerId": "u1", "visible": false})
	require.NoError(t, err)

	// Rows hidden by using are skipped silently.
	res, err := env.engine.Update("notes").
		Where(expr.Eq("ownerId", "u1")).
		Set(doc.Doc{"body": "edited"}).
		Exec(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	assert.Nil(t, env.get(t, "notes", "n2").Get("body"), "invisible row untouched")

	// A visible row failing with-check is a hard error.
	_, err = env.engine.Update("notes").
		Where(expr.Eq("id", "n1")).
		Set(doc.Doc{"visible": false}).
		Exec(ctx)
	assert.True(t, IsRLSViolation(err), "got %v", err)
}
