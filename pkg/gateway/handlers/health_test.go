package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vango-go/vai-reception/pkg/gateway/lifecycle"
)

func TestHealthHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	HealthHandler{}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok\n" {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestReadyHandler_FailingCheckNotReady(t *testing.T) {
	h := ReadyHandler{Checks: []ReadyCheck{
		{Name: "store", Ping: func(context.Context) error { return nil }},
		{Name: "registry", Ping: func(context.Context) error { return errors.New("connection refused") }},
	}}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	var resp struct {
		OK     bool              `json:"ok"`
		Issues map[string]string `json:"issues"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.OK {
		t.Fatalf("expected ok=false")
	}
	if resp.Issues["registry"] != "connection refused" {
		t.Fatalf("issues=%v", resp.Issues)
	}
	if _, ok := resp.Issues["store"]; ok {
		t.Fatalf("store should not be reported: %v", resp.Issues)
	}
}

func TestReadyHandler_DrainingNotReady(t *testing.T) {
	lc := lifecycle.New(nil)
	h := ReadyHandler{Lifecycle: lc}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}

	lc.Drain()
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}
