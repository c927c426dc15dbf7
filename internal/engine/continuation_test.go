package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/keel/internal/doc"
	"github.com/roach88/keel/internal/expr"
)

func TestAsyncDelete_DefersRemainder(t *testing.T) {
	env := newTestEnv(t, WithLimits(Limits{BatchSize: 2}))
	env.seedUser(t, "u1", "a@example.com")
	env.seedOrders(t, "u1", 5)
	ctx := context.Background()

	res, err := env.engine.Delete("orders").
		Where(expr.Eq("userId", "u1")).
		Async().
		Exec(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count, "one batch runs inline")
	assert.True(t, res.Scheduled)

	env.sched.Wait()

	sel, err := env.engine.Select("orders").
		Where(expr.Eq("userId", "u1")).
		Exec(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sel.Count, "every order soft-deleted after the continuations drain")
}

func TestAsyncUpdate_ResumesFromCursor(t *testing.T) {
	env := newTestEnv(t, WithLimits(Limits{BatchSize: 2}))
	env.seedUser(t, "u1", "a@example.com")
	env.seedOrders(t, "u1", 5)
	ctx := context.Background()

	res, err := env.engine.Update("orders").
		Where(expr.Eq("userId", "u1")).
		Set(doc.Doc{"status": "closed"}).
		Async().
		Exec(ctx)
	require.NoError(t, err)
	assert.True(t, res.Scheduled)

	env.sched.Wait()

	for i := 0; i < 5; i++ {
		row := env.get(t, "orders", "u1-o"+string(rune('0'+i)))
		assert.Equal(t, "closed", row.Get("status"))
	}
}

func TestAsyncDelete_CascadeBeyondBudget(t *testing.T) {
	env := newTestEnv(t, WithLimits(Limits{MaxRows: 3}))
	env.seedUser(t, "u1", "a@example.com")
	env.seedOrders(t, "u1", 6)
	ctx := context.Background()

	res, err := env.engine.Delete("users").
		Where(expr.Eq("id", "u1")).
		Async().
		Exec(ctx)
	require.NoError(t, err)
	assert.True(t, res.Scheduled, "cascade overflow defers instead of failing")

	env.sched.Wait()

	assert.Nil(t, env.get(t, "users", "u1"))
	for i := 0; i < 6; i++ {
		row := env.get(t, "orders", "u1-o"+string(rune('0'+i)))
		require.NotNil(t, row)
		assert.NotNil(t, row.Get("deletedAt"), "order %d marked by a continuation", i)
	}
}

func TestAsync_NeedsScheduler(t *testing.T) {
	sc := testSchema(t)
	env := newTestEnv(t)
	e := New(sc, env.store)

	_, err := e.Delete("orders").
		Where(expr.Eq("userId", "u1")).
		Async().
		Exec(context.Background())
	assert.True(t, IsConfigError(err), "got %v", err)
}

func TestAsync_ExcludesPagination(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.Update("orders").
		Where(expr.Eq("userId", "u1")).
		Set(doc.Doc{"status": "x"}).
		Async().
		Paginate(pageOf(2)).
		Exec(context.Background())
	assert.True(t, IsConfigError(err), "got %v", err)
}

func TestResume_HardDeleteSkipsRestoredRows(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1", "a@example.com")
	ctx := context.Background()

	require.NoError(t, env.store.Patch(ctx, "users", "u1", doc.Doc{"deletedAt": fixedNow.UnixMilli()}))
	// The row was restored before the hard phase fired.
	require.NoError(t, env.store.Patch(ctx, "users", "u1", doc.Doc{"deletedAt": nil}))

	payload, err := json.Marshal(continuationPayload{Kind: "hardDelete", Table: "users", ID: "u1"})
	require.NoError(t, err)
	require.NoError(t, env.engine.Resume(ctx, payload))

	assert.NotNil(t, env.get(t, "users", "u1"), "restored rows survive the hard phase")
}

func TestResume_IsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1", "a@example.com")
	env.seedOrders(t, "u1", 2)
	ctx := context.Background()

	where, err := expr.Marshal(expr.Eq("userId", "u1"))
	require.NoError(t, err)
	payload, err := json.Marshal(continuationPayload{
		Kind:       "delete",
		Table:      "orders",
		Where:      where,
		DeleteKind: "soft",
	})
	require.NoError(t, err)

	require.NoError(t, env.engine.Resume(ctx, payload))
	require.NoError(t, env.engine.Resume(ctx, payload), "re-delivery is a no-op")
	env.sched.Wait()

	sel, err := env.engine.Select("orders").
		Where(expr.Eq("userId", "u1")).
		Exec(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sel.Count)
}

func TestResume_RejectsUnknownKind(t *testing.T) {
	env := newTestEnv(t)
	err := env.engine.Resume(context.Background(), []byte(`{"kind":"bogus"}`))
	assert.Error(t, err)
}

func TestScheduledDelete_ChainsThroughScheduler(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1", "a@example.com")
	env.seedOrder(t, "o1", "u1", 10)
	ctx := context.Background()

	// Scheduled root delete cascades; orders mirror to soft, the root
	// hard-deletes after its delay.
	_, err := env.engine.Delete("users").
		Where(expr.Eq("id", "u1")).
		Scheduled(time.Millisecond).
		Exec(ctx)
	require.NoError(t, err)

	env.sched.Wait()

	assert.Nil(t, env.get(t, "users", "u1"))
	order := env.get(t, "orders", "o1")
	require.NotNil(t, order)
	assert.NotNil(t, order.Get("deletedAt"))
}
