package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/dittolock/pkg/lock"
)

// LockService is the part of a lock manager the API exposes.
// *lock.Manager implements it.
type LockService interface {
	StateSource
	ClientID() lock.ClientID
	Dump() lock.ManagerInfo
	LockInfo(id lock.LockID) (lock.LockInfo, bool)
	RecallLock(ctx context.Context, id lock.LockID) (bool, error)
	RunGC() int
}

var _ LockService = (*lock.Manager)(nil)

// StatusResponse summarizes the lock manager.
type StatusResponse struct {
	ClientID lock.ClientID  `json:"client_id"`
	Session  lock.SessionID `json:"session"`
	State    string         `json:"state"`
	Locks    int            `json:"locks"`
	Greedy   int            `json:"greedy"`
	Blocked  int            `json:"blocked"`
	Waiting  int            `json:"waiting"`
}

// LocksHandler serves lock diagnostics and operator actions.
type LocksHandler struct {
	service LockService
}

// NewLocksHandler creates a locks handler.
func NewLocksHandler(service LockService) *LocksHandler {
	return &LocksHandler{service: service}
}

// Status handles GET /api/v1/status.
func (h *LocksHandler) Status(w http.ResponseWriter, r *http.Request) {
	info := h.service.Dump()
	status := StatusResponse{
		ClientID: info.ClientID,
		Session:  info.Session,
		State:    info.State,
		Locks:    len(info.Locks),
	}
	for _, l := range info.Locks {
		if l.Greediness == "GREEDY_READ" || l.Greediness == "GREEDY_WRITE" {
			status.Greedy++
		}
		status.Blocked += len(l.Pending)
		status.Waiting += len(l.Waiters)
	}
	writeJSON(w, http.StatusOK, okResponse(status))
}

// List handles GET /api/v1/locks.
func (h *LocksHandler) List(w http.ResponseWriter, r *http.Request) {
	locks := h.service.Dump().Locks
	if locks == nil {
		locks = []lock.LockInfo{}
	}
	writeJSON(w, http.StatusOK, okResponse(locks))
}

// Get handles GET /api/v1/locks/{id}.
func (h *LocksHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := lock.LockID(chi.URLParam(r, "id"))
	info, ok := h.service.LockInfo(id)
	if !ok {
		NotFound(w, "No local state for lock "+string(id))
		return
	}
	writeJSON(w, http.StatusOK, okResponse(info))
}

// Recall handles POST /api/v1/locks/{id}/recall: a greedy grant is handed
// back to the server as if an idle sweep had found it.
func (h *LocksHandler) Recall(w http.ResponseWriter, r *http.Request) {
	id := lock.LockID(chi.URLParam(r, "id"))
	if id == "" {
		BadRequest(w, "Lock id is required")
		return
	}
	if state := h.service.State(); state != lock.StateRunning {
		ServiceUnavailable(w, "Lock manager is "+state.String())
		return
	}
	recalled, err := h.service.RecallLock(r.Context(), id)
	if err != nil {
		ServiceUnavailable(w, err.Error())
		return
	}
	if !recalled {
		Conflict(w, "Lock "+string(id)+" is not held greedily")
		return
	}
	writeJSON(w, http.StatusAccepted, okResponse(map[string]string{"lock": string(id)}))
}

// GC handles POST /api/v1/gc.
func (h *LocksHandler) GC(w http.ResponseWriter, r *http.Request) {
	if h.service.State() != lock.StateRunning {
		ServiceUnavailable(w, "Lock manager is "+h.service.State().String())
		return
	}
	writeJSON(w, http.StatusOK, okResponse(map[string]int{"collected": h.service.RunGC()}))
}
