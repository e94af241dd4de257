package registry

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"
	"weak"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/jsamuelsen/go-request-registry/internal/app/diagctx"
	"github.com/jsamuelsen/go-request-registry/internal/app/flow"
	"github.com/jsamuelsen/go-request-registry/internal/domain"
)

// HealthCheckName is the name the registry reports to health checks.
const HealthCheckName = "request-registry"

// Stats is a point-in-time view of registry counters.
type Stats struct {
	Active    int    `json:"active"`
	Added     uint64 `json:"added"`
	Removed   uint64 `json:"removed"`
	Faults    uint64 `json:"observerFaults"`
	Reclaimed uint64 `json:"reclaimed"`
}

// Registry maps request identifiers to diagnostic contexts and resolves the
// context of the calling flow.
type Registry struct {
	opts      options
	store     *store
	ambient   *flow.Storage[domain.RequestID]
	history   *lru.Cache[domain.RequestID, time.Time]
	sometimes rate.Sometimes

	onAdded   observerList
	onRemoved observerList

	initialized atomic.Bool
	closed      atomic.Bool

	added     atomic.Uint64
	removed   atomic.Uint64
	faults    atomic.Uint64
	reclaimed atomic.Uint64
}

// New creates a Registry.
func New(opts ...Option) (*Registry, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if err := o.validate(); err != nil {
		return nil, fmt.Errorf("invalid registry options: %w", err)
	}

	r := &Registry{
		opts:      o,
		store:     newStore(o.shardCount),
		ambient:   flow.New[domain.RequestID]("request_id"),
		sometimes: rate.Sometimes{Interval: o.warningInterval},
	}

	if o.historySize > 0 {
		history, err := lru.New[domain.RequestID, time.Time](o.historySize)
		if err != nil {
			return nil, fmt.Errorf("creating removal history: %w", err)
		}

		r.history = history
	}

	return r, nil
}

// Add registers dc and returns a context that starts a new flow carrying
// its identifier, together with the handle that removes it. The new flow
// never shares its slot with ctx, so sibling requests derived from one
// parent stay apart. Contexts derived from the returned one share the flow.
//
// The handle is built before the entry is inserted, so a validation failure
// leaves no entry behind. A duplicate identifier fails the call with a
// *domain.DuplicateIdentifierError and produces no handle.
func (r *Registry) Add(ctx context.Context, dc domain.DiagnosticContext) (context.Context, *Handle, error) {
	if r.closed.Load() {
		return ctx, nil, fmt.Errorf("adding request context: %w", domain.ErrRegistryClosed)
	}

	h, err := newHandle(dc, r.Remove)
	if err != nil {
		return ctx, nil, fmt.Errorf("creating context handle: %w", err)
	}

	if err := r.store.insert(dc); err != nil {
		return ctx, nil, fmt.Errorf("adding request context: %w", err)
	}

	ctx = r.ambient.Set(r.ambient.Detach(ctx), h.id)
	h.flow = ctx

	if r.opts.reclaim {
		r.track(h)
	}

	r.added.Add(1)
	r.notify(ctx, &r.onAdded, Event{Kind: EventAdded, RequestID: h.id})

	return ctx, h, nil
}

// TryGet looks up a context by identifier without consulting any flow.
func (r *Registry) TryGet(id domain.RequestID) (domain.DiagnosticContext, bool) {
	return r.store.load(id)
}

// Remove deletes the entry for id and clears the request identifier from
// the flow of ctx. The flow is cleared even when no entry exists. The
// removed event fires only when an entry was actually deleted.
func (r *Registry) Remove(ctx context.Context, id domain.RequestID) {
	deleted := r.store.delete(id)

	r.ambient.Clear(ctx)

	if !deleted {
		return
	}

	r.afterRemove(ctx, id)
}

func (r *Registry) afterRemove(ctx context.Context, id domain.RequestID) {
	r.removed.Add(1)

	if r.history != nil {
		r.history.Add(id, r.opts.now())
	}

	r.notify(ctx, &r.onRemoved, Event{Kind: EventRemoved, RequestID: id})
}

// RemoveAll drops every entry. It clears no flow and fires no events.
// Only for resetting state between tests: flows still carrying an
// identifier will fail in Current afterwards.
func (r *Registry) RemoveAll() {
	r.store.clear()
}

// Current returns the diagnostic context of the flow of ctx.
//
// With no request identifier on the flow it returns the unavailable
// context. With an identifier that has no entry it returns a
// *domain.ContextNotFoundError: the flow outlived its registration.
func (r *Registry) Current(ctx context.Context) (domain.DiagnosticContext, error) {
	id, ok := r.ambient.Get(ctx)
	if !ok {
		r.warnUnavailable(ctx)
		return diagctx.Unavailable(), nil
	}

	if dc, found := r.store.load(id); found {
		return dc, nil
	}

	var removedAt time.Time
	if r.history != nil {
		removedAt, _ = r.history.Peek(id)
	}

	return nil, domain.NewContextNotFoundError(id, removedAt)
}

// Lookup returns the context registered for the flow of ctx. Unlike
// Current it never falls back to the unavailable context and never logs,
// so log handlers may call it.
func (r *Registry) Lookup(ctx context.Context) (domain.DiagnosticContext, bool) {
	id, ok := r.ambient.Get(ctx)
	if !ok {
		return nil, false
	}

	return r.store.load(id)
}

// CurrentID returns the request identifier bound to the flow of ctx.
func (r *Registry) CurrentID(ctx context.Context) (domain.RequestID, bool) {
	return r.ambient.Get(ctx)
}

// Detach returns a context that starts a new flow with no request bound,
// for work spawned from a request that must not be attributed to it.
func (r *Registry) Detach(ctx context.Context) context.Context {
	return r.ambient.Detach(ctx)
}

// OnAdded subscribes obs to EventAdded. Call the returned func to
// unsubscribe.
func (r *Registry) OnAdded(obs Observer) func() {
	return r.onAdded.subscribe(obs)
}

// OnRemoved subscribes obs to EventRemoved. Call the returned func to
// unsubscribe.
func (r *Registry) OnRemoved(obs Observer) func() {
	return r.onRemoved.subscribe(obs)
}

// MarkInitialized records that the host's instrumentation is set up. Until
// then the registry logs nothing.
func (r *Registry) MarkInitialized() {
	r.initialized.Store(true)
}

// Initialized reports whether MarkInitialized has been called.
func (r *Registry) Initialized() bool {
	return r.initialized.Load()
}

// Len returns the number of registered contexts.
func (r *Registry) Len() int {
	return r.store.len()
}

// IDs returns a snapshot of the registered identifiers in no particular order.
func (r *Registry) IDs() []domain.RequestID {
	return r.store.ids()
}

// Stats returns the registry counters.
func (r *Registry) Stats() Stats {
	return Stats{
		Active:    r.store.len(),
		Added:     r.added.Load(),
		Removed:   r.removed.Load(),
		Faults:    r.faults.Load(),
		Reclaimed: r.reclaimed.Load(),
	}
}

// Close tears the registry down: later Add calls fail with
// domain.ErrRegistryClosed and remaining entries are dropped, each with a
// removed event. Handles released afterwards are harmless no-ops.
func (r *Registry) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return domain.ErrRegistryClosed
	}

	dropped := r.store.clear()
	if len(dropped) == 0 {
		return nil
	}

	if logger := r.activeLogger(); logger != nil {
		logger.Warn("request registry closed with contexts still registered", slog.Int("count", len(dropped)))
	}

	ctx := context.Background()
	for _, id := range dropped {
		r.afterRemove(ctx, id)
	}

	return nil
}

// Name implements ports.HealthChecker.
func (r *Registry) Name() string {
	return HealthCheckName
}

// Check implements ports.HealthChecker.
func (r *Registry) Check(_ context.Context) error {
	if r.closed.Load() {
		return domain.ErrRegistryClosed
	}

	return nil
}

func (r *Registry) activeLogger() *slog.Logger {
	if r.opts.logger == nil || !r.initialized.Load() {
		return nil
	}

	return r.opts.logger
}

func (r *Registry) warnUnavailable(ctx context.Context) {
	logger := r.activeLogger()
	if logger == nil {
		return
	}

	const msg = "no request context on this flow; using unavailable context"

	switch r.opts.warning {
	case WarnOff:
	case WarnDebug:
		logger.DebugContext(ctx, msg)
	case WarnSampled:
		r.sometimes.Do(func() {
			logger.WarnContext(ctx, msg, slog.Duration("sample_interval", r.opts.warningInterval))
		})
	default:
		logger.WarnContext(ctx, msg)
	}
}

// leakedHandle is what a handle's cleanup needs. It must not reference the
// handle itself.
type leakedHandle struct {
	registry weak.Pointer[Registry]
	id       domain.RequestID
	flow     context.Context
}

func (r *Registry) track(h *Handle) {
	h.cleanup = runtime.AddCleanup(h, reclaimLeaked, leakedHandle{
		registry: weak.Make(r),
		id:       h.id,
		flow:     h.flow,
	})
	h.tracked = true
}

// reclaimLeaked runs on the runtime's cleanup goroutine for a handle that
// became unreachable without Release. The registry may already be gone.
func reclaimLeaked(l leakedHandle) {
	r := l.registry.Value()
	if r == nil || r.closed.Load() {
		return
	}

	if !r.store.delete(l.id) {
		return
	}

	r.ambient.CompareAndClear(l.flow, func(id domain.RequestID) bool { return id == l.id })
	r.reclaimed.Add(1)

	ctx := context.WithoutCancel(l.flow)
	if logger := r.activeLogger(); logger != nil {
		logger.WarnContext(ctx, "request context handle was never released; entry reclaimed",
			slog.String("request_id", l.id.String()))
	}

	r.afterRemove(ctx, l.id)
}
