package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/vango-go/vai-reception/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyCheck checks one dependency.
type ReadyCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

type ReadyHandler struct {
	Lifecycle *lifecycle.Lifecycle
	Checks    []ReadyCheck
	Timeout   time.Duration
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK       bool              `json:"ok"`
		Draining bool              `json:"draining,omitempty"`
		Issues   map[string]string `json:"issues,omitempty"`
	}

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	resp := readyResp{Draining: h.Lifecycle.IsDraining()}
	for _, c := range h.Checks {
		if c.Ping == nil {
			continue
		}
		if err := c.Ping(ctx); err != nil {
			if resp.Issues == nil {
				resp.Issues = make(map[string]string)
			}
			resp.Issues[c.Name] = err.Error()
		}
	}
	resp.OK = !resp.Draining && len(resp.Issues) == 0

	status := http.StatusOK
	if !resp.OK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
