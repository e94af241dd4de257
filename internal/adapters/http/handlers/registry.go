package handlers

import (
	"fmt"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"

	"github.com/jsamuelsen/go-request-registry/internal/adapters/http/dto"
	"github.com/jsamuelsen/go-request-registry/internal/app/diagctx"
	"github.com/jsamuelsen/go-request-registry/internal/app/registry"
	"github.com/jsamuelsen/go-request-registry/internal/domain"
)

// RegistryInspector is the read side of the request registry.
// *registry.Registry implements it.
type RegistryInspector interface {
	Stats() registry.Stats
	IDs() []domain.RequestID
	TryGet(id domain.RequestID) (domain.DiagnosticContext, bool)
	Initialized() bool
}

// RegistryHandler exposes the live contents of the request registry.
type RegistryHandler struct {
	registry RegistryInspector
}

// NewRegistryHandler creates a new registry handler.
func NewRegistryHandler(reg RegistryInspector) *RegistryHandler {
	return &RegistryHandler{registry: reg}
}

// Status handles GET /-/registry.
// Returns the registry counters and the identifiers currently registered.
func (h *RegistryHandler) Status(c *gin.Context) {
	stats := h.registry.Stats()

	ids := make([]string, 0, stats.Active)
	for _, id := range h.registry.IDs() {
		ids = append(ids, id.String())
	}

	slices.Sort(ids)

	c.JSON(http.StatusOK, dto.RegistryStatusResponse{
		Active:      stats.Active,
		Added:       stats.Added,
		Removed:     stats.Removed,
		Faults:      stats.Faults,
		Reclaimed:   stats.Reclaimed,
		Initialized: h.registry.Initialized(),
		RequestIDs:  ids,
	})
}

// GetContext handles GET /-/registry/contexts/:id.
// Returns the diagnostics recorded so far by a request that is still running.
func (h *RegistryHandler) GetContext(c *gin.Context) {
	var req dto.ContextLookupRequest
	if err := dto.BindURIAndValidate(c, &req); err != nil {
		dto.RespondWithBindingError(c, err)
		return
	}

	id, err := domain.ParseRequestID(req.ID)
	if err != nil {
		dto.RespondWithError(c, err)
		return
	}

	dc, ok := h.registry.TryGet(id)
	if !ok {
		dto.RespondWithError(c, fmt.Errorf("request context %s: %w", id, domain.ErrNotFound))
		return
	}

	if rc, ok := dc.(*diagctx.RequestContext); ok {
		c.JSON(http.StatusOK, dto.NewContextResponse(rc.Snapshot()))
		return
	}

	c.JSON(http.StatusOK, dto.ContextResponse{
		RequestID: dc.RequestID().String(),
		Mode:      dc.HandlingMode().String(),
	})
}

// RegisterRoutes registers the registry routes on the /-/ group:
//   - GET /-/registry - Counters and active identifiers
//   - GET /-/registry/contexts/:id - Diagnostics of one active request
func (h *RegistryHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/registry", h.Status)
	rg.GET("/registry/contexts/:id", h.GetContext)
}
