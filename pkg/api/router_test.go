package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittolock/pkg/api/handlers"
	"github.com/marmos91/dittolock/pkg/lock"
	"github.com/marmos91/dittolock/pkg/lock/loopback"
	"github.com/marmos91/dittolock/pkg/lock/remote"
)

func newTestManager(t *testing.T) *lock.Manager {
	t.Helper()
	srv := loopback.NewServer(loopback.Config{})
	t.Cleanup(srv.Close)

	cfg := lock.DefaultConfig()
	cfg.ClientID = "api-test"
	cfg.GCInterval = 0
	cfg.GCIdleSweeps = 0
	gwCfg := remote.DefaultConfig()
	gwCfg.RecallBatchDelay = time.Millisecond

	m, err := srv.NewClient(cfg, gwCfg, nil)
	require.NoError(t, err)
	t.Cleanup(m.Shutdown)
	return m
}

func do(t *testing.T, h http.Handler, method, path string) (*httptest.ResponseRecorder, handlers.Response) {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, path, nil))

	var resp handlers.Response
	if w.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func TestRouter_HealthOnly(t *testing.T) {
	r := NewRouter(nil)

	w, resp := do(t, r, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", resp.Status)

	w, _ = do(t, r, http.MethodGet, "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w, _ = do(t, r, http.MethodGet, "/api/v1/locks")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_Locks(t *testing.T) {
	m := newTestManager(t)
	r := NewRouter(m)
	ctx := context.Background()
	thread := lock.NewThreadID()

	require.NoError(t, m.Lock(ctx, "orders", thread, lock.LevelWrite))

	t.Run("Status", func(t *testing.T) {
		w, resp := do(t, r, http.MethodGet, "/api/v1/status")
		require.Equal(t, http.StatusOK, w.Code)
		data := resp.Data.(map[string]any)
		assert.Equal(t, "api-test", data["client_id"])
		assert.Equal(t, "RUNNING", data["state"])
		assert.Equal(t, float64(1), data["locks"])
		assert.Equal(t, float64(1), data["greedy"])
	})

	t.Run("List", func(t *testing.T) {
		w, resp := do(t, r, http.MethodGet, "/api/v1/locks")
		require.Equal(t, http.StatusOK, w.Code)
		locks := resp.Data.([]any)
		require.Len(t, locks, 1)
		assert.Equal(t, "orders", locks[0].(map[string]any)["id"])
	})

	t.Run("Get", func(t *testing.T) {
		w, resp := do(t, r, http.MethodGet, "/api/v1/locks/orders")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "GREEDY_WRITE", resp.Data.(map[string]any)["greediness"])

		w, _ = do(t, r, http.MethodGet, "/api/v1/locks/unknown")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, handlers.ContentTypeProblemJSON, w.Header().Get("Content-Type"))
	})

	t.Run("RecallAndGC", func(t *testing.T) {
		require.NoError(t, m.Unlock(ctx, "orders", thread, lock.LevelWrite))

		w, _ := do(t, r, http.MethodPost, "/api/v1/locks/orders/recall")
		assert.Equal(t, http.StatusAccepted, w.Code)

		require.Eventually(t, func() bool {
			info, ok := m.LockInfo("orders")
			return ok && info.Greediness == "FREE"
		}, 2*time.Second, time.Millisecond)

		w, _ = do(t, r, http.MethodPost, "/api/v1/locks/orders/recall")
		assert.Equal(t, http.StatusConflict, w.Code)

		w, resp := do(t, r, http.MethodPost, "/api/v1/gc")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(1), resp.Data.(map[string]any)["collected"])

		_, ok := m.LockInfo("orders")
		assert.False(t, ok)
	})

	t.Run("RecallWhilePaused", func(t *testing.T) {
		require.True(t, m.Pause())
		t.Cleanup(func() { m.Unpause() })

		w, _ := do(t, r, http.MethodPost, "/api/v1/locks/orders/recall")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestServer_Defaults(t *testing.T) {
	srv := NewServer(APIConfig{}, nil)
	assert.Equal(t, DefaultPort, srv.Port())
	assert.Equal(t, 10*time.Second, srv.server.ReadTimeout)
	assert.Equal(t, 60*time.Second, srv.server.IdleTimeout)

	// Stop is idempotent and safe before Start.
	assert.NoError(t, srv.Stop(context.Background()))
	assert.NoError(t, srv.Stop(context.Background()))
}
