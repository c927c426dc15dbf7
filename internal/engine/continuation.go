package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/keel/internal/doc"
	"github.com/roach88/keel/internal/docstore"
	"github.com/roach88/keel/internal/expr"
	"github.com/roach88/keel/internal/schema"
)

// ContinuationHandle is the registry handle all engine continuations
// are scheduled under.
const ContinuationHandle = "keel.mutation"

// continuationPayload is the serialized state of deferred work. Every
// kind is safe to re-deliver: hard deletes of absent rows are no-ops,
// cascade items stop matching rows a previous run already processed,
// and batch resumes carry an explicit cursor or a self-narrowing
// predicate.
type continuationPayload struct {
	Kind string `json:"kind"` // "hardDelete" | "cascade" | "delete" | "update"

	Table string          `json:"table,omitempty"`
	ID    doc.ID          `json:"id,omitempty"`
	Where json.RawMessage `json:"where,omitempty"`

	// cascade
	Pending        []pendingItem `json:"pending,omitempty"`
	ScheduleBudget int           `json:"scheduleBudget,omitempty"`

	// delete resume
	DeleteKind schema.DeleteModeKind `json:"deleteKind,omitempty"`
	DelayMS    int64                 `json:"delayMs,omitempty"`
	Mode       CascadeMode           `json:"mode,omitempty"`

	// update resume
	Set    doc.Doc `json:"set,omitempty"`
	Cursor string  `json:"cursor,omitempty"`

	AllowFullScan bool `json:"allowFullScan,omitempty"`
}

// RegisterContinuations binds the engine's resume handler. Call once
// at startup, before any mutation runs async or scheduled work.
func (e *Engine) RegisterContinuations(reg *docstore.Registry) {
	reg.Register(ContinuationHandle, e.Resume)
}

// Resume executes one continuation payload. It is the registered
// handler behind ContinuationHandle, exported so durable schedulers
// outside this package can dispatch to it.
func (e *Engine) Resume(ctx context.Context, payload []byte) error {
	var p continuationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("continuation: %w", err)
	}

	switch p.Kind {
	case "hardDelete":
		return e.resumeHardDelete(ctx, p)

	case "cascade":
		st := e.newExecState()
		casc := &cascade{
			e:              e,
			st:             st,
			queue:          p.Pending,
			canSchedule:    true,
			scheduleBudget: p.ScheduleBudget,
		}
		_, err := casc.drain(ctx)
		return err

	case "delete":
		b := e.Delete(p.Table).Async().Cascade(p.Mode)
		b.kind, b.kindSet = p.DeleteKind, true
		b.delay = time.Duration(p.DelayMS) * time.Millisecond
		b.allowFullScan = p.AllowFullScan
		if err := b.applyWhere(p.Where); err != nil {
			return err
		}
		_, err := b.Exec(ctx)
		return err

	case "update":
		b := e.Update(p.Table).Set(p.Set).Async()
		b.allowFullScan = p.AllowFullScan
		if err := b.applyWhere(p.Where); err != nil {
			return err
		}
		_, err := b.exec(ctx, p.Cursor)
		return err

	default:
		return fmt.Errorf("continuation: unknown kind %q", p.Kind)
	}
}

// resumeHardDelete finishes a scheduled delete. A row restored since
// the soft delete, its marker cleared, is left alone.
func (e *Engine) resumeHardDelete(ctx context.Context, p continuationPayload) error {
	t, err := e.table(p.Table)
	if err != nil {
		return err
	}
	row, err := e.store.Get(ctx, t.Name, p.ID)
	if err != nil {
		return err
	}
	if row == nil || row.Get(t.SoftDeleteField()) == nil {
		return nil
	}
	return e.store.Delete(ctx, t.Name, p.ID)
}

func marshalWhere(pred expr.Expr) (json.RawMessage, error) {
	if pred == nil {
		return nil, nil
	}
	return expr.Marshal(pred)
}

func (e *Engine) schedule(ctx context.Context, delay time.Duration, p continuationPayload) error {
	if e.sched == nil {
		return newConfigError("no scheduler configured")
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return e.sched.RunAfter(ctx, delay, ContinuationHandle, payload)
}

// scheduleCascade defers the remaining cascade queue as one payload.
func (e *Engine) scheduleCascade(ctx context.Context, st *execState, queue []pendingItem, budget int) error {
	st.scheduleCalls++
	e.log.Info("deferring cascade remainder",
		"items", len(queue), "scheduleBudget", budget)
	return e.schedule(ctx, 0, continuationPayload{
		Kind:           "cascade",
		Pending:        queue,
		ScheduleBudget: budget,
	})
}

// scheduleHardDelete defers the hard phase of one scheduled delete.
func (e *Engine) scheduleHardDelete(ctx context.Context, table string, id doc.ID, delay time.Duration) error {
	return e.schedule(ctx, delay, continuationPayload{
		Kind:  "hardDelete",
		Table: table,
		ID:    id,
	})
}

// scheduleDelete defers the next batch of an async delete. No cursor:
// processed rows stop matching the predicate, so re-running the same
// delete resumes where the batch stopped.
func (e *Engine) scheduleDelete(ctx context.Context, st *execState, b *DeleteBuilder, kind schema.DeleteModeKind, delay time.Duration) error {
	st.scheduleCalls++
	where, err := marshalWhere(b.where)
	if err != nil {
		return err
	}
	return e.schedule(ctx, 0, continuationPayload{
		Kind:          "delete",
		Table:         b.table,
		Where:         where,
		DeleteKind:    kind,
		DelayMS:       delay.Milliseconds(),
		Mode:          b.mode,
		AllowFullScan: b.allowFullScan,
	})
}

// scheduleUpdate defers the next batch of an async update, resuming
// from the scan cursor.
func (e *Engine) scheduleUpdate(ctx context.Context, st *execState, b *UpdateBuilder, cursor string) error {
	st.scheduleCalls++
	where, err := marshalWhere(b.where)
	if err != nil {
		return err
	}
	return e.schedule(ctx, 0, continuationPayload{
		Kind:          "update",
		Table:         b.table,
		Where:         where,
		Set:           b.set,
		Cursor:        cursor,
		AllowFullScan: b.allowFullScan,
	})
}
