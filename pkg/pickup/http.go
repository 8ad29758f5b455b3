package pickup

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/widedata/platform/pkg/common/logger"
)

// BacklogCounter is implemented by *crawlerlog.Repository.
type BacklogCounter interface {
	CountPending(ctx context.Context) (int64, error)
}

type HTTPHandler struct {
	picker  *Picker
	backlog BacklogCounter
	baseCtx context.Context
}

// NewHTTPHandler serves pickup stats and manual triggers. Triggered cycles run
// under baseCtx, not the request context, so they outlive the request.
func NewHTTPHandler(baseCtx context.Context, picker *Picker, backlog BacklogCounter) *HTTPHandler {
	return &HTTPHandler{picker: picker, backlog: backlog, baseCtx: baseCtx}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/pickup/stats", h.handleStats).Methods(http.MethodGet)
	router.HandleFunc("/pickup/run", h.handleRun).Methods(http.MethodPost)
}

type statsResponse struct {
	LastCycle    *CycleReport `json:"last_cycle"`
	Backlog      *int64       `json:"backlog,omitempty"`
	BacklogError string       `json:"backlog_error,omitempty"`
}

func (h *HTTPHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	var resp statsResponse
	if report, ok := h.picker.LastReport(); ok {
		resp.LastCycle = &report
	}

	if h.backlog != nil {
		count, err := h.backlog.CountPending(r.Context())
		if err != nil {
			logger.Log.WithError(err).Warn("failed to count pending records")
			resp.BacklogError = err.Error()
		} else {
			resp.Backlog = &count
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *HTTPHandler) handleRun(w http.ResponseWriter, r *http.Request) {
	handle := h.picker.Cycle(h.baseCtx)
	logger.Log.WithField("cycle_id", handle.ID()).Info("Pickup cycle triggered over HTTP")

	w.Header().Set("Content-Type", "application/json")

	if r.URL.Query().Get("wait") != "true" {
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"cycle_id": handle.ID()})
		return
	}

	select {
	case <-handle.Done():
		json.NewEncoder(w).Encode(handle.Wait())
	case <-r.Context().Done():
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"cycle_id": handle.ID()})
	}
}
