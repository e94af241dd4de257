package flow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestGet_NilContext(t *testing.T) {
	s := New[string]("test")

	v, ok := s.Get(nil) //nolint:staticcheck // Testing nil guard intentionally
	assert.False(t, ok)
	assert.Empty(t, v)
	assert.False(t, s.Bound(nil)) //nolint:staticcheck // Testing nil guard intentionally
}

func TestGet_Unbound(t *testing.T) {
	s := New[string]("test")

	_, ok := s.Get(context.Background())
	assert.False(t, ok)
}

func TestSet_RoundTrip(t *testing.T) {
	s := New[string]("test")

	ctx := s.Set(context.Background(), "req-1")

	v, ok := s.Get(ctx)
	require.True(t, ok)
	assert.Equal(t, "req-1", v)
	assert.True(t, s.Bound(ctx))
}

func TestSet_OverwritesOnSameFlow(t *testing.T) {
	s := New[string]("test")

	ctx := s.Set(context.Background(), "first")
	same := s.Set(ctx, "second")

	assert.Equal(t, ctx, same, "setting on a bound flow must not derive a new context")

	v, _ := s.Get(ctx)
	assert.Equal(t, "second", v)
}

func TestClear_VisibleToChildContexts(t *testing.T) {
	s := New[string]("test")

	ctx := s.Set(context.Background(), "req-1")
	child, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	v, ok := s.Get(child)
	require.True(t, ok)
	assert.Equal(t, "req-1", v)

	s.Clear(child)

	_, ok = s.Get(ctx)
	assert.False(t, ok, "clearing through a child clears the whole flow")
}

func TestClear_Unbound(t *testing.T) {
	s := New[int]("test")

	assert.NotPanics(t, func() { s.Clear(context.Background()) })
	assert.NotPanics(t, func() { s.Clear(nil) }) //nolint:staticcheck // Testing nil guard intentionally
}

func TestBind_Idempotent(t *testing.T) {
	s := New[int]("test")

	ctx := s.Bind(context.Background())
	assert.Equal(t, ctx, s.Bind(ctx))

	_, ok := s.Get(ctx)
	assert.False(t, ok, "a bound cell starts empty")
}

func TestBind_NilContext(t *testing.T) {
	s := New[int]("test")

	ctx := s.Bind(nil) //nolint:staticcheck // Testing nil guard intentionally
	require.NotNil(t, ctx)
	assert.True(t, s.Bound(ctx))
}

func TestDetach_StartsIndependentFlow(t *testing.T) {
	s := New[string]("test")

	parent := s.Set(context.Background(), "parent")
	detached := s.Detach(parent)

	_, ok := s.Get(detached)
	assert.False(t, ok)

	s.Set(detached, "child")

	v, _ := s.Get(parent)
	assert.Equal(t, "parent", v, "writes on a detached flow never leak back")
}

func TestStorages_AreIsolated(t *testing.T) {
	a := New[string]("a")
	b := New[string]("b")

	ctx := a.Set(context.Background(), "from-a")

	_, ok := b.Get(ctx)
	assert.False(t, ok)
}

func TestCompareAndClear(t *testing.T) {
	s := New[string]("test")
	ctx := s.Set(context.Background(), "req-1")

	assert.False(t, s.CompareAndClear(ctx, func(v string) bool { return v == "req-2" }))

	v, ok := s.Get(ctx)
	require.True(t, ok)
	assert.Equal(t, "req-1", v)

	assert.True(t, s.CompareAndClear(ctx, func(v string) bool { return v == "req-1" }))

	_, ok = s.Get(ctx)
	assert.False(t, ok)

	assert.False(t, s.CompareAndClear(ctx, func(string) bool { return true }))
	assert.False(t, s.CompareAndClear(context.Background(), func(string) bool { return true }))
}

func TestSiblingFlows_DoNotShareValues(t *testing.T) {
	s := New[int]("test")
	root := context.Background()

	const flows = 64

	var wg sync.WaitGroup

	mismatches := make(chan int, flows)

	for i := range flows {
		wg.Go(func() {
			ctx := s.Set(root, i)

			// Yield so sibling flows interleave.
			time.Sleep(time.Millisecond)

			if v, _ := s.Get(ctx); v != i {
				mismatches <- v
			}
		})
	}

	wg.Wait()
	close(mismatches)

	for v := range mismatches {
		t.Errorf("flow observed sibling value %d", v)
	}
}

func TestContinuations_ShareTheFlow(t *testing.T) {
	s := New[string]("test")
	ctx := s.Set(context.Background(), "req-1")

	g, gctx := errgroup.WithContext(ctx)
	for range 8 {
		g.Go(func() error {
			v, ok := s.Get(gctx)
			if !ok || v != "req-1" {
				t.Errorf("continuation lost the flow value: %q %v", v, ok)
			}

			return nil
		})
	}

	require.NoError(t, g.Wait())
}

func TestString(t *testing.T) {
	assert.Equal(t, "flow.Storage(request_id)", New[int]("request_id").String())
}
