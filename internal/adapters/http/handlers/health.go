// Package handlers provides HTTP request handlers for the service.
package handlers

import (
	"net/http"
	"runtime"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jsamuelsen/go-request-registry/internal/ports"
)

const unknownBuildValue = "unknown"

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`

	// Modified reports a build from a dirty working tree. Only known when
	// the commit came from the embedded VCS stamp.
	Modified bool `json:"modified,omitempty"`
}

// NewBuildInfo creates a BuildInfo from ldflags values. A commit or build
// time left empty or "unknown" is taken from the VCS stamp the toolchain
// embeds, when there is one.
func NewBuildInfo(version, commit, buildTime string) BuildInfo {
	bi := BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
		GoVersion: runtime.Version(),
	}

	if info, ok := debug.ReadBuildInfo(); ok {
		bi.fillFromVCS(info.Settings)
	}

	return bi
}

func (bi *BuildInfo) fillFromVCS(settings []debug.BuildSetting) {
	fromVCS := bi.Commit == "" || bi.Commit == unknownBuildValue

	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if fromVCS {
				bi.Commit = s.Value
			}
		case "vcs.time":
			if bi.BuildTime == "" || bi.BuildTime == unknownBuildValue {
				bi.BuildTime = s.Value
			}
		case "vcs.modified":
			if fromVCS {
				bi.Modified = s.Value == "true"
			}
		}
	}
}

// HealthHandler serves the liveness, readiness, build and metrics endpoints.
type HealthHandler struct {
	checks    ports.HealthRegistry
	buildInfo BuildInfo
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(checks ports.HealthRegistry, buildInfo BuildInfo) *HealthHandler {
	return &HealthHandler{
		checks:    checks,
		buildInfo: buildInfo,
	}
}

type livenessResponse struct {
	Status string `json:"status"`
}

// Liveness reports that the process is serving. It checks nothing.
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, livenessResponse{Status: "ok"})
}

type readinessResponse struct {
	Status  string                        `json:"status"`
	Failing []string                      `json:"failing,omitempty"`
	Checks  map[string]*ports.CheckResult `json:"checks,omitempty"`
}

// Readiness runs the registered checks. It answers 503 only when a critical
// check fails; a degraded service stays in rotation.
func (h *HealthHandler) Readiness(c *gin.Context) {
	result := h.checks.CheckAll(c.Request.Context())

	status := http.StatusOK
	if result.Status == ports.HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(status, readinessResponse{
		Status:  string(result.Status),
		Failing: result.Failing(),
		Checks:  result.Checks,
	})
}

// BuildInfoHandler serves the build information.
func (h *HealthHandler) BuildInfoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, h.buildInfo)
}

// MetricsHandler returns the Prometheus scrape handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RegisterRoutes registers the operational endpoints on rg, normally the
// /- group:
//   - GET live
//   - GET ready
//   - GET build
//   - GET metrics
func (h *HealthHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/live", h.Liveness)
	rg.GET("/ready", h.Readiness)
	rg.GET("/build", h.BuildInfoHandler)
	rg.GET("/metrics", gin.WrapH(MetricsHandler()))
}
