// Package flow provides storage scoped to one logical flow of execution.
//
// A logical flow is a context.Context lineage. Storage binds a mutable cell
// into a context; every goroutine handed that context, or a child of it,
// reads and writes the same cell. Contexts outside the lineage never see it.
//
//	ids := flow.New[uuid.UUID]("request_id")
//
//	ctx = ids.Set(ctx, id)          // bind a cell and store id
//	go func() {
//	    got, _ := ids.Get(ctx)      // same flow, same value
//	}()
//	ids.Clear(ctx)                  // visible to every holder of ctx
package flow

import (
	"context"
	"sync/atomic"
)

// Storage is a typed flow-local slot. The zero value is not usable; create
// one with New and share it for the lifetime of the process.
type Storage[T any] struct {
	name string
}

type key[T any] struct {
	s *Storage[T]
}

type cell[T any] struct {
	v atomic.Pointer[T]
}

// New creates a Storage. The name is only used for debugging.
func New[T any](name string) *Storage[T] {
	return &Storage[T]{name: name}
}

// String returns the storage name.
func (s *Storage[T]) String() string {
	return "flow.Storage(" + s.name + ")"
}

// Bound reports whether ctx belongs to a flow that has a cell for s.
func (s *Storage[T]) Bound(ctx context.Context) bool {
	return s.cell(ctx) != nil
}

// Bind returns a context carrying a cell for s. If ctx already has one it
// is returned unchanged, so repeated binds stay on the same flow.
func (s *Storage[T]) Bind(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.cell(ctx) != nil {
		return ctx
	}

	return context.WithValue(ctx, key[T]{s: s}, &cell[T]{})
}

// Detach returns a context that starts a new flow: it keeps ctx's deadline
// and values but has its own empty cell for s.
func (s *Storage[T]) Detach(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, key[T]{s: s}, &cell[T]{})
}

// Get returns the value stored for the flow of ctx.
func (s *Storage[T]) Get(ctx context.Context) (T, bool) {
	var zero T

	c := s.cell(ctx)
	if c == nil {
		return zero, false
	}

	v := c.v.Load()
	if v == nil {
		return zero, false
	}

	return *v, true
}

// Set stores v for the flow of ctx, overwriting any previous value, and
// returns the context that carries the cell.
func (s *Storage[T]) Set(ctx context.Context, v T) context.Context {
	ctx = s.Bind(ctx)
	s.cell(ctx).v.Store(&v)

	return ctx
}

// Clear removes the value for the flow of ctx. It is a no-op when ctx has
// no cell.
func (s *Storage[T]) Clear(ctx context.Context) {
	if c := s.cell(ctx); c != nil {
		c.v.Store(nil)
	}
}

// CompareAndClear clears the flow's value only if match reports true for it.
func (s *Storage[T]) CompareAndClear(ctx context.Context, match func(T) bool) bool {
	c := s.cell(ctx)
	if c == nil {
		return false
	}

	cur := c.v.Load()
	if cur == nil || !match(*cur) {
		return false
	}

	return c.v.CompareAndSwap(cur, nil)
}

func (s *Storage[T]) cell(ctx context.Context) *cell[T] {
	if ctx == nil {
		return nil
	}

	c, _ := ctx.Value(key[T]{s: s}).(*cell[T])

	return c
}
