//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsamuelsen/go-request-registry/internal/adapters/http/dto"
	"github.com/jsamuelsen/go-request-registry/internal/platform/config"
)

// lockedBuffer collects log output written from request goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writeProfile(t *testing.T, base, profile string) {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "configs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "configs", "base.yaml"), []byte(base), 0o600))

	if profile != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "configs", "test.yaml"), []byte(profile), 0o600))
	}

	t.Chdir(dir)
}

// TestConfig_ProfileDrivesService verifies that registry settings loaded
// from profile files reach the running service.
func TestConfig_ProfileDrivesService(t *testing.T) {
	writeProfile(t,
		"registry:\n  handling_mode: collect\n  shard_count: 8\nprobe:\n  branches: 3\n",
		"registry:\n  handling_mode: display\n",
	)

	cfg, err := config.Load("test")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	svc, err := newService(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(svc.close)

	resp, out := svc.probe(t, 0)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "display", out.Mode)
	assert.Len(t, out.Branches, 3)
	assert.NotNil(t, out.Diagnostics)
}

// TestConfig_EnvOverridesProfile verifies env vars win over profile files.
func TestConfig_EnvOverridesProfile(t *testing.T) {
	writeProfile(t, "probe:\n  branches: 3\n", "")
	t.Setenv("APP_PROBE_BRANCHES", "5")

	cfg, err := config.Load("test")
	require.NoError(t, err)

	svc, err := newService(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(svc.close)

	resp, out := svc.probe(t, 0)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, out.Branches, 5)
}

// TestConfig_UnavailableWarningPolicy verifies the configured policy
// controls the warning logged for work outside any request.
func TestConfig_UnavailableWarningPolicy(t *testing.T) {
	tests := []struct {
		policy   string
		wantWarn bool
	}{
		{policy: "always", wantWarn: true},
		{policy: "off", wantWarn: false},
	}

	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			t.Setenv("APP_REGISTRY_UNAVAILABLE_WARNING", tt.policy)

			cfg, err := config.Load("")
			require.NoError(t, err)

			var logs lockedBuffer
			svc, err := newService(cfg, slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})))
			require.NoError(t, err)
			t.Cleanup(svc.close)

			_, err = svc.reg.Current(t.Context())
			require.NoError(t, err)

			assert.Equal(t, tt.wantWarn, strings.Contains(logs.String(), `"level":"WARN"`), logs.String())
		})
	}
}

// TestConfig_InvalidConfiguration verifies bad settings are rejected
// before the service starts.
func TestConfig_InvalidConfiguration(t *testing.T) {
	tests := []struct {
		name      string
		env       map[string]string
		wantField string
	}{
		{
			name:      "handling mode off",
			env:       map[string]string{"APP_REGISTRY_HANDLING_MODE": "off"},
			wantField: "registry.handling_mode",
		},
		{
			name:      "unknown warning policy",
			env:       map[string]string{"APP_REGISTRY_UNAVAILABLE_WARNING": "loud"},
			wantField: "registry.unavailable_warning",
		},
		{
			name:      "too many probe branches",
			env:       map[string]string{"APP_PROBE_BRANCHES": "65"},
			wantField: "probe.branches",
		},
		{
			name:      "shard count not a power of two",
			env:       map[string]string{"APP_REGISTRY_SHARD_COUNT": "12"},
			wantField: "registry.shard_count",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := config.Load("")
			require.NoError(t, err)

			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantField)
		})
	}
}

// TestConfig_RegistryStatusReflectsInitialization verifies the status
// endpoint reports the registry as initialized once wired.
func TestConfig_RegistryStatusReflectsInitialization(t *testing.T) {
	svc := startService(t, nil)

	_, body, err := svc.get(t.Context(), "/-/registry", nil)
	require.NoError(t, err)

	var status dto.RegistryStatusResponse
	require.NoError(t, json.Unmarshal(body, &status))
	assert.True(t, status.Initialized)
}
