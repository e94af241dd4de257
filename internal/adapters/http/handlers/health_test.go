package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"runtime/debug"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jsamuelsen/go-request-registry/internal/ports"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// mockHealthRegistry is a testify mock of ports.HealthRegistry.
type mockHealthRegistry struct {
	mock.Mock
}

func newMockHealthRegistry(t *testing.T) *mockHealthRegistry {
	m := &mockHealthRegistry{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

func (m *mockHealthRegistry) Register(checker ports.HealthChecker, opts ...ports.CheckOption) error {
	return m.Called(checker, opts).Error(0)
}

func (m *mockHealthRegistry) CheckAll(ctx context.Context) *ports.HealthResult {
	res, _ := m.Called(ctx).Get(0).(*ports.HealthResult)
	return res
}

func TestNewBuildInfo(t *testing.T) {
	bi := NewBuildInfo("1.0.0", "abc123", "2024-01-15T10:00:00Z")

	assert.Equal(t, "1.0.0", bi.Version)
	assert.Equal(t, "abc123", bi.Commit, "ldflags value wins over the VCS stamp")
	assert.Equal(t, "2024-01-15T10:00:00Z", bi.BuildTime)
	assert.Equal(t, runtime.Version(), bi.GoVersion)
}

func TestBuildInfo_FillFromVCS(t *testing.T) {
	settings := []debug.BuildSetting{
		{Key: "vcs", Value: "git"},
		{Key: "vcs.revision", Value: "0f3c9e1"},
		{Key: "vcs.time", Value: "2026-03-02T09:00:00Z"},
		{Key: "vcs.modified", Value: "true"},
	}

	tests := []struct {
		name string
		in   BuildInfo
		want BuildInfo
	}{
		{
			name: "unknown values are filled",
			in:   BuildInfo{Version: "dev", Commit: "unknown", BuildTime: "unknown"},
			want: BuildInfo{Version: "dev", Commit: "0f3c9e1", BuildTime: "2026-03-02T09:00:00Z", Modified: true},
		},
		{
			name: "empty values are filled",
			in:   BuildInfo{},
			want: BuildInfo{Commit: "0f3c9e1", BuildTime: "2026-03-02T09:00:00Z", Modified: true},
		},
		{
			name: "ldflags values are kept",
			in:   BuildInfo{Commit: "abc123", BuildTime: "2024-01-15T10:00:00Z"},
			want: BuildInfo{Commit: "abc123", BuildTime: "2024-01-15T10:00:00Z"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bi := tt.in
			bi.fillFromVCS(settings)
			assert.Equal(t, tt.want, bi)
		})
	}
}

func TestHealthHandler_Liveness(t *testing.T) {
	handler := NewHealthHandler(newMockHealthRegistry(t), BuildInfo{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/-/live", http.NoBody)

	handler.Liveness(c)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp livenessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestHealthHandler_Readiness(t *testing.T) {
	tests := []struct {
		name        string
		result      *ports.HealthResult
		wantCode    int
		wantStatus  string
		wantFailing []string
	}{
		{
			name: "healthy",
			result: &ports.HealthResult{
				Status: ports.HealthStatusHealthy,
				Checks: map[string]*ports.CheckResult{
					"request-registry": {Status: ports.HealthStatusHealthy, Critical: true},
				},
			},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
		},
		{
			name: "degraded stays in rotation",
			result: &ports.HealthResult{
				Status: ports.HealthStatusDegraded,
				Checks: map[string]*ports.CheckResult{
					"request-registry":           {Status: ports.HealthStatusHealthy, Critical: true},
					"request-registry-observers": {Status: ports.HealthStatusDegraded, Message: "3 observer faults since last check"},
				},
			},
			wantCode:    http.StatusOK,
			wantStatus:  "degraded",
			wantFailing: []string{"request-registry-observers"},
		},
		{
			name: "closed registry",
			result: &ports.HealthResult{
				Status: ports.HealthStatusUnhealthy,
				Checks: map[string]*ports.CheckResult{
					"request-registry": {Status: ports.HealthStatusUnhealthy, Critical: true, Message: "request registry closed"},
				},
			},
			wantCode:    http.StatusServiceUnavailable,
			wantStatus:  "unhealthy",
			wantFailing: []string{"request-registry"},
		},
		{
			name: "no checks registered",
			result: &ports.HealthResult{
				Status: ports.HealthStatusHealthy,
				Checks: map[string]*ports.CheckResult{},
			},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checks := newMockHealthRegistry(t)
			checks.On("CheckAll", mock.Anything).Return(tt.result)

			handler := NewHealthHandler(checks, BuildInfo{})

			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/-/ready", http.NoBody)

			handler.Readiness(c)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

			var resp readinessResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, tt.wantFailing, resp.Failing)
		})
	}
}

func TestHealthHandler_BuildInfoHandler(t *testing.T) {
	buildInfo := BuildInfo{
		Version:   "1.2.3",
		Commit:    "def456",
		BuildTime: "2024-02-01T12:00:00Z",
		GoVersion: "go1.25.7",
	}

	handler := NewHealthHandler(newMockHealthRegistry(t), buildInfo)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/-/build", http.NoBody)

	handler.BuildInfoHandler(c)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp BuildInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, buildInfo, resp)
	assert.NotContains(t, w.Body.String(), "modified")
}

func TestHealthHandler_RegisterRoutes(t *testing.T) {
	checks := newMockHealthRegistry(t)
	checks.On("CheckAll", mock.Anything).Return(&ports.HealthResult{
		Status: ports.HealthStatusHealthy,
		Checks: map[string]*ports.CheckResult{},
	}).Maybe()

	handler := NewHealthHandler(checks, BuildInfo{Version: "test"})

	router := gin.New()
	handler.RegisterRoutes(router.Group("/-"))

	tests := []struct {
		path            string
		wantContentType string
	}{
		{path: "/-/live", wantContentType: "application/json"},
		{path: "/-/ready", wantContentType: "application/json"},
		{path: "/-/build", wantContentType: "application/json"},
		{path: "/-/metrics", wantContentType: "text/plain"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, http.NoBody))

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Header().Get("Content-Type"), tt.wantContentType)
		})
	}
}
