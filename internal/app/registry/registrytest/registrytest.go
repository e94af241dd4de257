// Package registrytest provides helpers for tests that use a registry.
package registrytest

import (
	"testing"

	"github.com/jsamuelsen/go-request-registry/internal/app/registry"
)

// New creates a registry that is checked for leaked contexts and reset
// when the test ends.
func New(tb testing.TB, opts ...registry.Option) *registry.Registry {
	tb.Helper()

	reg, err := registry.New(opts...)
	if err != nil {
		tb.Fatalf("registry.New: %v", err)
	}

	VerifyNoLeaks(tb, reg)

	return reg
}

// VerifyNoLeaks fails the test if any context is still registered when the
// test ends, then resets the registry. A context left behind means a
// handle was never released.
func VerifyNoLeaks(tb testing.TB, reg *registry.Registry) {
	tb.Helper()

	tb.Cleanup(func() {
		if ids := reg.IDs(); len(ids) > 0 {
			tb.Errorf("registrytest: %d request context(s) never released: %v", len(ids), ids)
		}

		reg.RemoveAll()
	})
}
