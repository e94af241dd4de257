//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/jsamuelsen/go-request-registry/internal/adapters/http/dto"
	"github.com/jsamuelsen/go-request-registry/internal/adapters/http/middleware"
)

// TestConcurrent_ProbesStayIsolated verifies that concurrent requests each
// resolve only their own diagnostic context, in every branch.
func TestConcurrent_ProbesStayIsolated(t *testing.T) {
	svc := startService(t, map[string]string{
		"APP_REGISTRY_HANDLING_MODE": "display",
		"APP_REGISTRY_SHARD_COUNT":   "4",
	})

	const numRequests = 64

	var (
		mu   sync.Mutex
		seen = make(map[string]bool, numRequests)
	)

	g, ctx := errgroup.WithContext(context.Background())

	for range numRequests {
		g.Go(func() error {
			resp, body, err := svc.get(ctx, "/api/v1/probe?branches=8", nil)
			if err != nil {
				return err
			}

			if !assert.Equal(t, http.StatusOK, resp.StatusCode, string(body)) {
				return nil
			}

			var out dto.ProbeResponse
			if err := json.Unmarshal(body, &out); err != nil {
				return err
			}

			assert.Equal(t, out.RequestID, resp.Header.Get(middleware.HeaderDiagnosticID))
			for _, b := range out.Branches {
				assert.Equal(t, out.RequestID, b.RequestID, "branch %d crossed requests", b.Branch)
			}

			if assert.NotNil(t, out.Diagnostics) {
				assert.Equal(t, out.RequestID, out.Diagnostics.RequestID)
			}

			mu.Lock()
			assert.False(t, seen[out.RequestID], "request identifier reused")
			seen[out.RequestID] = true
			mu.Unlock()

			return nil
		})
	}

	require.NoError(t, g.Wait())
	assert.Len(t, seen, numRequests)

	assert.Eventually(t, func() bool { return svc.reg.Len() == 0 },
		time.Second, 10*time.Millisecond)

	stats := svc.reg.Stats()
	assert.Equal(t, uint64(numRequests), stats.Added)
	assert.Equal(t, uint64(numRequests), stats.Removed)
	assert.Zero(t, stats.Faults)
}

// TestConcurrent_ClientCancellation verifies that a request abandoned by
// its client still releases its context.
func TestConcurrent_ClientCancellation(t *testing.T) {
	svc := startService(t, nil)

	var cancelled atomic.Int32

	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
			defer cancel()

			if _, _, err := svc.get(ctx, "/api/v1/probe?branches=64", nil); err != nil {
				cancelled.Add(1)
			}
		})
	}

	wg.Wait()
	t.Logf("%d of 20 requests cancelled client side", cancelled.Load())

	assert.Eventually(t, func() bool { return svc.reg.Len() == 0 },
		2*time.Second, 10*time.Millisecond, "abandoned requests must release their contexts")
}

// TestConcurrent_InspectionDuringLoad reads the registry while requests
// register and release.
func TestConcurrent_InspectionDuringLoad(t *testing.T) {
	svc := startService(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var g errgroup.Group

	for range 8 {
		g.Go(func() error {
			for ctx.Err() == nil {
				resp, _, err := svc.get(ctx, "/api/v1/probe?branches=4", nil)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}

				if resp.StatusCode != http.StatusOK {
					t.Errorf("probe status %d", resp.StatusCode)
				}
			}

			return nil
		})
	}

	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		resp, body, err := svc.get(context.Background(), "/-/registry", nil)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var status dto.RegistryStatusResponse
		require.NoError(t, json.Unmarshal(body, &status))
		assert.True(t, status.Initialized)
	}

	cancel()
	require.NoError(t, g.Wait())

	assert.Eventually(t, func() bool { return svc.reg.Len() == 0 },
		time.Second, 10*time.Millisecond)
}
