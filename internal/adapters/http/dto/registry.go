package dto

import (
	"time"

	"github.com/jsamuelsen/go-request-registry/internal/app/diagctx"
)

// ProbeRequest is the query of GET /api/v1/probe.
type ProbeRequest struct {
	Branches int `form:"branches" validate:"omitempty,min=1,max=64"`
}

// ContextLookupRequest is the path of GET /-/registry/contexts/:id.
type ContextLookupRequest struct {
	ID string `uri:"id" validate:"required,uuid"`
}

// BranchResponse describes one concurrent branch of a probe.
type BranchResponse struct {
	Branch    int    `json:"branch"`
	RequestID string `json:"requestId"`
	ElapsedMS int64  `json:"elapsedMs"`
}

// ProbeResponse is the body of GET /api/v1/probe. Diagnostics is present
// only when the request's handling mode is display.
type ProbeResponse struct {
	RequestID   string           `json:"requestId"`
	Mode        string           `json:"handlingMode"`
	Detached    bool             `json:"detachedFlowClean"`
	Branches    []BranchResponse `json:"branches"`
	Diagnostics *ContextResponse `json:"diagnostics,omitempty"`
}

// RegistryStatusResponse is the body of GET /-/registry.
type RegistryStatusResponse struct {
	Active      int      `json:"active"`
	Added       uint64   `json:"added"`
	Removed     uint64   `json:"removed"`
	Faults      uint64   `json:"observerFaults"`
	Reclaimed   uint64   `json:"reclaimed"`
	Initialized bool     `json:"initialized"`
	RequestIDs  []string `json:"requestIds"`
}

// ContextResponse is the body of GET /-/registry/contexts/:id.
type ContextResponse struct {
	RequestID string      `json:"requestId"`
	Mode      string      `json:"handlingMode"`
	Started   *time.Time  `json:"started,omitempty"`
	ElapsedMS int64       `json:"elapsedMs"`
	Entries   []EntryDTO  `json:"entries,omitempty"`
	Timings   []TimingDTO `json:"timings,omitempty"`
}

// EntryDTO is one recorded diagnostic message.
type EntryDTO struct {
	Time    time.Time         `json:"time"`
	Message string            `json:"message"`
	Attrs   map[string]string `json:"attrs,omitempty"`
}

// TimingDTO is one stopped timer.
type TimingDTO struct {
	Name       string `json:"name"`
	DurationMS int64  `json:"durationMs"`
}

// NewContextResponse converts a snapshot of a registered context.
func NewContextResponse(snap diagctx.Snapshot) ContextResponse {
	started := snap.Started

	resp := ContextResponse{
		RequestID: snap.RequestID.String(),
		Mode:      snap.Mode,
		Started:   &started,
		ElapsedMS: snap.Elapsed.Milliseconds(),
	}

	for _, e := range snap.Entries {
		entry := EntryDTO{Time: e.Time, Message: e.Message}
		if len(e.Attrs) > 0 {
			entry.Attrs = make(map[string]string, len(e.Attrs))
			for _, a := range e.Attrs {
				entry.Attrs[a.Key] = a.Value.String()
			}
		}

		resp.Entries = append(resp.Entries, entry)
	}

	for _, t := range snap.Timings {
		resp.Timings = append(resp.Timings, TimingDTO{Name: t.Name, DurationMS: t.Duration.Milliseconds()})
	}

	return resp
}
