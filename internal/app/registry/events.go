package registry

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/jsamuelsen/go-request-registry/internal/domain"
)

// EventKind identifies a registry event.
type EventKind int

const (
	// EventAdded fires after a context is registered.
	EventAdded EventKind = iota + 1

	// EventRemoved fires after a context's entry is deleted.
	EventRemoved
)

// String returns the event name used in logs and metrics.
func (k EventKind) String() string {
	switch k {
	case EventAdded:
		return "context_added"
	case EventRemoved:
		return "context_removed"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is delivered to observers.
type Event struct {
	Kind      EventKind
	RequestID domain.RequestID
}

// Observer reacts to a registry event. Returned errors and panics are
// contained by the registry.
type Observer func(ctx context.Context, ev Event) error

type subscriber struct {
	id  uint64
	obs Observer
}

// observerList is a copy-on-write list of observers. The zero value is an
// empty list that is safe to dispatch on.
type observerList struct {
	mu   sync.Mutex // Serializes subscribe/unsubscribe
	next uint64
	subs atomic.Pointer[[]subscriber]
}

func (l *observerList) subscribe(obs Observer) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.next++
	id := l.next

	subs := append(slices.Clone(l.snapshot()), subscriber{id: id, obs: obs})
	l.subs.Store(&subs)

	var once sync.Once

	return func() {
		once.Do(func() { l.unsubscribe(id) })
	}
}

func (l *observerList) unsubscribe(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	subs := slices.DeleteFunc(slices.Clone(l.snapshot()), func(s subscriber) bool {
		return s.id == id
	})
	l.subs.Store(&subs)
}

func (l *observerList) snapshot() []subscriber {
	if p := l.subs.Load(); p != nil {
		return *p
	}

	return nil
}

func (l *observerList) len() int {
	return len(l.snapshot())
}

// notify delivers ev to every observer in subscription order.
func (r *Registry) notify(ctx context.Context, l *observerList, ev Event) {
	for _, s := range l.snapshot() {
		r.deliver(ctx, s.obs, ev)
	}
}

// deliver runs one observer behind the fault barrier.
func (r *Registry) deliver(ctx context.Context, obs Observer, ev Event) {
	defer func() {
		if p := recover(); p != nil {
			r.reportFault(ctx, &domain.ObserverFaultError{
				Event:     ev.Kind.String(),
				RequestID: ev.RequestID,
				Panic:     p,
				Stack:     debug.Stack(),
			})
		}
	}()

	if err := obs(ctx, ev); err != nil {
		r.reportFault(ctx, &domain.ObserverFaultError{
			Event:     ev.Kind.String(),
			RequestID: ev.RequestID,
			Cause:     err,
		})
	}
}

func (r *Registry) reportFault(ctx context.Context, fault *domain.ObserverFaultError) {
	r.faults.Add(1)

	logger := r.activeLogger()
	if logger == nil {
		return
	}

	attrs := []any{
		slog.String("event", fault.Event),
		slog.String("request_id", fault.RequestID.String()),
		slog.Any("error", fault),
	}
	if fault.Stack != nil {
		attrs = append(attrs, slog.String("stack", string(fault.Stack)))
	}

	logger.ErrorContext(ctx, "registry observer failed", attrs...)
}

// ObserverCheckName is the name of the health check returned by
// ObserverCheck.
const ObserverCheckName = "request-registry-observers"

// ObserverHealth reports observer faults counted since its previous check.
type ObserverHealth struct {
	reg  *Registry
	seen atomic.Uint64
}

// ObserverCheck returns a health check that fails when an observer faulted
// since the last time it ran. It is meant to be registered as non-critical.
func (r *Registry) ObserverCheck() *ObserverHealth {
	h := &ObserverHealth{reg: r}
	h.seen.Store(r.faults.Load())

	return h
}

// Name returns ObserverCheckName.
func (h *ObserverHealth) Name() string {
	return ObserverCheckName
}

// Check returns an error when observers faulted since the previous call.
func (h *ObserverHealth) Check(_ context.Context) error {
	now := h.reg.faults.Load()
	if prev := h.seen.Swap(now); now > prev {
		return fmt.Errorf("%d observer faults since last check", now-prev)
	}

	return nil
}
