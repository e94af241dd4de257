package registry

import (
	"context"
	"runtime"
	"sync/atomic"

	"github.com/jsamuelsen/go-request-registry/internal/domain"
)

// Handle is returned by Add. Releasing it removes the registered context
// exactly once; later releases are no-ops.
//
// Release must be called on every path that ends the request, typically
// with defer. A nil *Handle is safe to release.
type Handle struct {
	id      domain.RequestID
	mode    domain.HandlingMode
	flow    context.Context
	release func(ctx context.Context, id domain.RequestID)

	released atomic.Bool
	cleanup  runtime.Cleanup
	tracked  bool
}

// newHandle validates dc and builds its handle. It touches no registry
// state, so a failure here leaves nothing behind.
func newHandle(dc domain.DiagnosticContext, release func(context.Context, domain.RequestID)) (*Handle, error) {
	if dc == nil {
		return nil, domain.NewValidationError("context", "diagnostic context is nil")
	}

	id := dc.RequestID()
	if id == (domain.RequestID{}) {
		return nil, domain.NewValidationError("request_id", "request identifier is nil")
	}

	mode := dc.HandlingMode()
	if !mode.Registrable() {
		return nil, domain.NewValidationErrorWithValue("handling_mode", "mode cannot be registered", mode.String())
	}

	return &Handle{
		id:      id,
		mode:    mode,
		release: release,
	}, nil
}

// RequestID returns the identifier of the registered context.
func (h *Handle) RequestID() domain.RequestID {
	return h.id
}

// HandlingMode returns the handling mode of the registered context.
func (h *Handle) HandlingMode() domain.HandlingMode {
	return h.mode
}

// Released reports whether the handle has been released.
func (h *Handle) Released() bool {
	return h.released.Load()
}

// Release removes the registered context and clears the request from the
// flow it was registered on.
func (h *Handle) Release() {
	if h == nil || !h.released.CompareAndSwap(false, true) {
		return
	}

	if h.tracked {
		h.cleanup.Stop()
	}

	h.release(h.flow, h.id)
}

// Close releases the handle. It implements io.Closer and always returns nil.
func (h *Handle) Close() error {
	h.Release()
	return nil
}
