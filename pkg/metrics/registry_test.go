package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	t.Run("DisabledByDefault", func(t *testing.T) {
		reset()
		assert.False(t, IsEnabled())
		assert.Nil(t, GetRegistry())
		assert.Nil(t, NewLockMetrics())

		rec := httptest.NewRecorder()
		Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("InitIsIdempotent", func(t *testing.T) {
		reset()
		t.Cleanup(reset)

		reg := InitRegistry()
		require.NotNil(t, reg)
		assert.Same(t, reg, InitRegistry())
		assert.True(t, IsEnabled())
	})

	t.Run("ServesLockMetrics", func(t *testing.T) {
		reset()
		t.Cleanup(reset)
		InitRegistry()

		m := NewLockMetrics()
		require.NotNil(t, m)
		m.ObserveRecallBatch(4)

		rec := httptest.NewRecorder()
		Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "dittolock_locks_recall_batch_size")
		assert.Contains(t, rec.Body.String(), "go_goroutines")
	})
}
