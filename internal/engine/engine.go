// Package engine layers relational semantics over a schemaless
// document store: index-aware predicate compilation, unique and check
// constraints, foreign-key referential integrity with cascading
// actions, row-level security, and transactionally-bounded batch
// mutation with deferred continuation for work too large for one call.
//
// Concurrency model: one mutation call executes sequentially within
// its own work budget; atomicity is per document, delegated to the
// store. A cascade that spans a scheduled continuation is not atomic
// with the root mutation - continuation payloads are idempotent so
// re-delivery is safe, but partial completion is possible and callers
// must tolerate it.
package engine

import (
	"log/slog"
	"time"

	"github.com/roach88/keel/internal/doc"
	"github.com/roach88/keel/internal/docstore"
	"github.com/roach88/keel/internal/schema"
)

// Limits bound the work one mutation call may perform. The zero value
// of any field means its default. Limits travel explicitly with every
// call; there is no ambient configuration.
type Limits struct {
	// BatchSize is the number of candidate rows per internal fetch
	// step of a root mutation.
	BatchSize int

	// LeafBatchSize is the number of dependent rows fetched per
	// cascade step.
	LeafBatchSize int

	// MaxRows caps rows touched by one synchronous call, cascades
	// included. Exceeding it outside pagination fails loudly.
	MaxRows int

	// MaxBytesPerBatch caps the cumulative byte size of rows touched
	// by one synchronous call.
	MaxBytesPerBatch int

	// ScheduleCallCap caps deferred continuations spawned by one root
	// mutation's cascade.
	ScheduleCallCap int

	// Strict, when true (the default), rejects full collection scans
	// unless the builder opted in via AllowFullScan. When false, an
	// unplannable predicate degrades to a full scan with a warning.
	Strict bool
}

// Default limits.
const (
	DefaultBatchSize        = 64
	DefaultLeafBatchSize    = 32
	DefaultMaxRows          = 4096
	DefaultMaxBytesPerBatch = 1 << 22
	DefaultScheduleCallCap  = 16
)

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		BatchSize:        DefaultBatchSize,
		LeafBatchSize:    DefaultLeafBatchSize,
		MaxRows:          DefaultMaxRows,
		MaxBytesPerBatch: DefaultMaxBytesPerBatch,
		ScheduleCallCap:  DefaultScheduleCallCap,
		Strict:           true,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.BatchSize <= 0 {
		l.BatchSize = d.BatchSize
	}
	if l.LeafBatchSize <= 0 {
		l.LeafBatchSize = d.LeafBatchSize
	}
	if l.MaxRows <= 0 {
		l.MaxRows = d.MaxRows
	}
	if l.MaxBytesPerBatch <= 0 {
		l.MaxBytesPerBatch = d.MaxBytesPerBatch
	}
	if l.ScheduleCallCap <= 0 {
		l.ScheduleCallCap = d.ScheduleCallCap
	}
	return l
}

// Engine executes constraint-aware mutations against a document store.
//
// The schema, foreign-key graph, and limits are read-only after New
// and safe to share across concurrent calls. Builder instances
// returned by Insert/Update/Delete/Select are single-use: Exec
// snapshots the builder's configuration into an immutable request, but
// the builder itself is not safe for concurrent chaining.
type Engine struct {
	schema *schema.Schema
	graph  *schema.Graph
	store  docstore.Store
	sched  docstore.Scheduler
	log    *slog.Logger
	limits Limits
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithScheduler supplies the deferred-work collaborator. Without one,
// async execution and scheduled deletes fail with a config error.
func WithScheduler(s docstore.Scheduler) Option {
	return func(e *Engine) { e.sched = s }
}

// WithLogger supplies a structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithLimits overrides the default work limits.
func WithLimits(l Limits) Option {
	return func(e *Engine) { e.limits = l.withDefaults() }
}

// WithClock overrides the time source. Tests pin it for deterministic
// soft-delete timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New builds an engine over a validated schema and a document store.
func New(sc *schema.Schema, store docstore.Store, opts ...Option) *Engine {
	e := &Engine{
		schema: sc,
		graph:  schema.BuildGraph(sc),
		store:  store,
		log:    slog.Default(),
		limits: DefaultLimits(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Schema returns the engine's schema.
func (e *Engine) Schema() *schema.Schema { return e.schema }

// Result reports the outcome of one mutation call.
type Result struct {
	// Count is the number of rows written by this call.
	Count int

	// Rows holds the affected rows when returning was requested,
	// either in full or projected.
	Rows []doc.Doc

	// ContinueCursor resumes a paginated mutation; empty when done.
	ContinueCursor string

	// IsDone reports that no further rows match.
	IsDone bool

	// Scheduled reports that a continuation was deferred to the
	// scheduler; the mutation is not complete yet.
	Scheduled bool
}

// Returning configures which fields of affected rows a mutation
// materializes in its Result.
type Returning struct {
	// Projection maps result aliases to row fields. Nil returns rows
	// in full.
	Projection map[string]string
}

func (r *Returning) project(row doc.Doc) doc.Doc {
	if r == nil {
		return nil
	}
	if r.Projection == nil {
		return row.Clone()
	}
	out := make(doc.Doc, len(r.Projection))
	for alias, field := range r.Projection {
		out[alias] = row.Get(field)
	}
	return out
}

// execState tracks one root mutation's work budget, including every
// cascade step it triggers.
type execState struct {
	limits        Limits
	rows          int
	bytes         int
	scheduleCalls int
	visited       map[visitKey]bool
}

type visitKey struct {
	table string
	id    doc.ID
}

func (e *Engine) newExecState() *execState {
	return &execState{
		limits:  e.limits,
		visited: make(map[visitKey]bool),
	}
}

// charge accounts one row against the budget. pagination bounds the
// root rows one call touches via its page size, but every processed
// row, cascade work included, still counts here.
func (st *execState) charge(table string, row doc.Doc) error {
	st.rows++
	st.bytes += row.ByteSize()
	if st.rows > st.limits.MaxRows || st.bytes > st.limits.MaxBytesPerBatch {
		return newBudgetError(table, st.rows, st.bytes)
	}
	return nil
}

func (st *execState) seen(table string, id doc.ID) bool {
	key := visitKey{table: table, id: id}
	if st.visited[key] {
		return true
	}
	st.visited[key] = true
	return false
}

func (e *Engine) table(name string) (*schema.Table, error) {
	t := e.schema.Table(name)
	if t == nil {
		return nil, newConfigError("unknown table " + name)
	}
	return t, nil
}
