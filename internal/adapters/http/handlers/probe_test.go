package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsamuelsen/go-request-registry/internal/adapters/http/dto"
	"github.com/jsamuelsen/go-request-registry/internal/adapters/http/middleware"
	"github.com/jsamuelsen/go-request-registry/internal/app"
	"github.com/jsamuelsen/go-request-registry/internal/app/registry"
	"github.com/jsamuelsen/go-request-registry/internal/app/registry/registrytest"
	"github.com/jsamuelsen/go-request-registry/internal/domain"
)

func newProbeRouter(t *testing.T, reg *registry.Registry, mode domain.HandlingMode) *gin.Engine {
	t.Helper()

	svc := app.NewProbeService(app.ProbeServiceConfig{
		Registry:    reg,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Branches:    4,
		Concurrency: 2,
	})

	router := gin.New()
	router.Use(middleware.Diagnostics(reg, mode))
	NewProbeHandler(svc).RegisterRoutes(router.Group("/api/v1"))

	return router
}

func TestProbeHandler_Probe(t *testing.T) {
	tests := []struct {
		name            string
		mode            domain.HandlingMode
		query           string
		wantBranches    int
		wantDiagnostics bool
	}{
		{name: "default branch count", mode: domain.HandlingModeCollect, wantBranches: 4},
		{name: "requested branch count", mode: domain.HandlingModeCollect, query: "?branches=9", wantBranches: 9},
		{name: "display mode returns diagnostics", mode: domain.HandlingModeDisplay, query: "?branches=2", wantBranches: 2, wantDiagnostics: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := registrytest.New(t)
			router := newProbeRouter(t, reg, tt.mode)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/probe"+tt.query, nil))

			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			var resp dto.ProbeResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

			diagID := w.Header().Get(middleware.HeaderDiagnosticID)
			assert.Equal(t, diagID, resp.RequestID)
			assert.Equal(t, tt.mode.String(), resp.Mode)
			assert.True(t, resp.Detached)
			require.Len(t, resp.Branches, tt.wantBranches)

			for _, b := range resp.Branches {
				assert.Equal(t, diagID, b.RequestID, "branch %d", b.Branch)
			}

			if tt.wantDiagnostics {
				require.NotNil(t, resp.Diagnostics)
				assert.Equal(t, diagID, resp.Diagnostics.RequestID)
				assert.NotEmpty(t, resp.Diagnostics.Timings)
			} else {
				assert.Nil(t, resp.Diagnostics)
			}

			assert.Zero(t, reg.Len())
		})
	}
}

func TestProbeHandler_Errors(t *testing.T) {
	tests := []struct {
		name           string
		mode           domain.HandlingMode
		query          string
		expectedStatus int
		expectedCode   string
	}{
		{
			name:           "too many branches",
			mode:           domain.HandlingModeCollect,
			query:          "?branches=65",
			expectedStatus: http.StatusBadRequest,
			expectedCode:   dto.ErrorCodeValidation,
		},
		{
			name:           "branches not a number",
			mode:           domain.HandlingModeCollect,
			query:          "?branches=all",
			expectedStatus: http.StatusBadRequest,
			expectedCode:   dto.ErrorCodeBadRequest,
		},
		{
			name:           "no registered context",
			mode:           domain.HandlingModeOff,
			expectedStatus: http.StatusBadRequest,
			expectedCode:   dto.ErrorCodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := registrytest.New(t)
			router := newProbeRouter(t, reg, tt.mode)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/probe"+tt.query, nil))

			assert.Equal(t, tt.expectedStatus, w.Code)

			var resp dto.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.expectedCode, resp.Error.Code)
		})
	}
}

type stubRunner struct {
	err error
}

func (s stubRunner) Run(context.Context, int) (*app.ProbeResult, error) {
	return nil, s.err
}

func TestProbeHandler_ContextRemovedMidRequest(t *testing.T) {
	runner := stubRunner{err: &app.ExecutionError{
		Step:    app.StepValidate,
		Message: "probe",
		Cause:   domain.NewContextNotFoundError(uuid.New(), time.Now()),
	}}

	router := gin.New()
	NewProbeHandler(runner).RegisterRoutes(router.Group("/api/v1"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/probe", nil))

	assert.Equal(t, http.StatusGone, w.Code)
	assert.Contains(t, w.Body.String(), dto.ErrorCodeContextGone)
}
