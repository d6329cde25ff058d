package handlers

import (
	"net/http"
	"time"

	"github.com/vango-go/vai-reception/pkg/core"
	"github.com/vango-go/vai-reception/pkg/gateway/call/registry"
	"github.com/vango-go/vai-reception/pkg/gateway/lifecycle"
)

// StatusHandler reports the calls in progress.
type StatusHandler struct {
	Registry  registry.Registry
	Lifecycle *lifecycle.Lifecycle
	Now       func() time.Time
}

type statusCall struct {
	registry.Entry
	DurationSeconds int64 `json:"duration_seconds"`
}

type statusResponse struct {
	Status        string       `json:"status"`
	ActiveCalls   int          `json:"active_calls"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Calls         []statusCall `json:"calls,omitempty"`
}

func (h StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:        "ok",
		UptimeSeconds: int64(h.Lifecycle.Uptime().Seconds()),
	}
	if h.Lifecycle.IsDraining() {
		resp.Status = "draining"
	}
	if h.Registry == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	entries, err := h.Registry.List(r.Context())
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, &core.Error{
			Type:    core.ErrConnectivity,
			Op:      "call registry",
			Message: "call registry unavailable",
			Err:     err,
		})
		return
	}
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	resp.ActiveCalls = len(entries)
	if r.URL.Query().Get("calls") != "" {
		for _, e := range entries {
			resp.Calls = append(resp.Calls, statusCall{
				Entry:           e,
				DurationSeconds: int64(now().Sub(e.StartedAt).Seconds()),
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
