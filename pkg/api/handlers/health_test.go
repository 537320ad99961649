package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittolock/pkg/lock"
)

type fakeState struct {
	state   lock.ManagerState
	session lock.SessionID
}

func (f fakeState) State() lock.ManagerState { return f.state }
func (f fakeState) Session() lock.SessionID  { return f.session }

func decode(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestLiveness_ReturnsOK(t *testing.T) {
	w := httptest.NewRecorder()
	NewHealthHandler(nil).Liveness(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, map[string]any{"service": "dittolock"}, resp.Data)
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name    string
		source  StateSource
		code    int
		status  string
		message string
	}{
		{"NoManager", nil, http.StatusServiceUnavailable, "unhealthy", "lock manager not initialized"},
		{"Running", fakeState{lock.StateRunning, 3}, http.StatusOK, "healthy", ""},
		{"Paused", fakeState{lock.StatePaused, 3}, http.StatusServiceUnavailable, "unhealthy", "lock manager is PAUSED"},
		{"Shutdown", fakeState{lock.StateShutdown, 3}, http.StatusServiceUnavailable, "unhealthy", "lock manager is SHUTDOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			NewHealthHandler(tt.source).Readiness(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			assert.Equal(t, tt.code, w.Code)
			resp := decode(t, w)
			assert.Equal(t, tt.status, resp.Status)
			assert.Equal(t, tt.message, resp.Error)
		})
	}
}
