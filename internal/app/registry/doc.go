// Package registry keeps the diagnostic context of every in-flight request
// and makes it discoverable from code running inside that request.
//
// # Lifecycle
//
// The host constructs one Registry at process start and injects it where it
// is needed. For each request it creates a diagnostic context, registers it
// and releases the returned handle when the request ends:
//
//	dc := diagctx.New(domain.HandlingModeCollect)
//
//	ctx, h, err := reg.Add(ctx, dc)
//	if err != nil {
//	    return err
//	}
//	defer h.Release()
//
// Add starts a new logical flow for the request: every goroutine that
// receives the returned context (or a context derived from it) resolves the
// same request through Current. The flow of ctx is left alone, so sibling
// requests derived from one parent never see each other.
//
//	cur, err := reg.Current(ctx)
//	if err != nil {
//	    // The flow names a request the registry no longer knows.
//	}
//	cur.Record("cache miss")
//
// Current returns the unavailable context when the flow carries no request
// identifier. It returns a *domain.ContextNotFoundError when the flow names
// a request whose entry is gone.
//
// # Events
//
// OnAdded and OnRemoved subscribe observers. Observers run synchronously
// after the registry lock is released. A panic or error from an observer is
// logged and discarded; it never reaches the caller of Add or Remove and
// never stops delivery to the remaining observers.
//
// # Teardown
//
// RemoveAll drops every entry without touching any flow or firing events.
// It exists for resetting state between test cases and must not be called
// while requests are in flight. Close tears the registry down for good.
package registry
