package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jsamuelsen/go-request-registry/internal/adapters/http/dto"
	"github.com/jsamuelsen/go-request-registry/internal/adapters/http/middleware"
	"github.com/jsamuelsen/go-request-registry/internal/app"
	"github.com/jsamuelsen/go-request-registry/internal/domain"
)

// ProbeRunner runs a context propagation probe. *app.ProbeService implements it.
type ProbeRunner interface {
	Run(ctx context.Context, branches int) (*app.ProbeResult, error)
}

// ProbeHandler serves the context propagation probe.
type ProbeHandler struct {
	service ProbeRunner
}

// NewProbeHandler creates a new probe handler.
func NewProbeHandler(service ProbeRunner) *ProbeHandler {
	return &ProbeHandler{service: service}
}

// Probe handles GET /api/v1/probe?branches=N
// Fans the request out over N goroutines and reports which diagnostic
// context each of them resolved. Requests in display mode also get their
// diagnostics in the body.
func (h *ProbeHandler) Probe(c *gin.Context) {
	var req dto.ProbeRequest
	if err := dto.BindQueryAndValidate(c, &req); err != nil {
		dto.RespondWithBindingError(c, err)
		return
	}

	result, err := h.service.Run(c.Request.Context(), req.Branches)
	if err != nil {
		dto.RespondWithError(c, err)
		return
	}

	resp := dto.ProbeResponse{
		RequestID: result.RequestID.String(),
		Mode:      result.Mode,
		Detached:  result.Detached,
		Branches:  make([]dto.BranchResponse, 0, len(result.Branches)),
	}

	for _, b := range result.Branches {
		resp.Branches = append(resp.Branches, dto.BranchResponse{
			Branch:    b.Branch,
			RequestID: b.RequestID.String(),
			ElapsedMS: b.Elapsed.Milliseconds(),
		})
	}

	if dc, ok := middleware.GetDiagnostics(c); ok && dc.HandlingMode() == domain.HandlingModeDisplay {
		snap := dto.NewContextResponse(dc.Snapshot())
		resp.Diagnostics = &snap
	}

	c.JSON(http.StatusOK, resp)
}

// RegisterRoutes registers the probe route on the API group.
func (h *ProbeHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/probe", h.Probe)
}
