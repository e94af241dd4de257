// Package diagctx provides the diagnostic context objects kept in the
// request registry.
//
// # Active contexts
//
// A RequestContext is created by the host integration before a request is
// dispatched. It generates its own request identifier and records messages
// and timings for the lifetime of the request:
//
//	dc := diagctx.New(domain.HandlingModeCollect)
//	ctx, h, err := reg.Add(ctx, dc)
//	defer h.Release()
//
// Code running inside the request finds it through the registry:
//
//	cur, err := reg.Current(ctx)
//	stop := cur.StartTimer("load-profile")
//	defer stop()
//
// After the request ends the object stays readable through Snapshot for
// final reporting, but it is no longer discoverable through the registry.
//
// # Unavailable context
//
// Unavailable returns the process-wide null object. Every recording method
// is a no-op, so call sites never need a presence check.
package diagctx
