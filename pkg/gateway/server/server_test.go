package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/vai-reception/pkg/gateway/call/registry"
	"github.com/vango-go/vai-reception/pkg/gateway/config"
	"github.com/vango-go/vai-reception/pkg/gateway/handlers"
	"github.com/vango-go/vai-reception/pkg/gateway/metrics"
	"github.com/vango-go/vai-reception/pkg/store"
)

func newTestServer(t *testing.T, reg registry.Registry, checks ...handlers.ReadyCheck) *Server {
	t.Helper()
	mem := store.NewMemory()
	mem.PutBusiness(store.Business{ID: "biz-1", Name: "Bondi Plumbing", TwilioNumber: "+61290000000"})
	return New(Dependencies{
		Config: config.Config{
			PublicHost:        "reception.example.com",
			WebhookRateLimit:  2,
			WebhookRateWindow: time.Minute,
			HandlerTimeout:    time.Second,
		},
		Logger:      slog.New(slog.NewJSONHandler(io.Discard, nil)),
		Store:       mem,
		Registry:    reg,
		Metrics:     metrics.New("test"),
		ReadyChecks: checks,
	})
}

func TestServer_UnknownRoute_ReturnsJSON404(t *testing.T) {
	s := newTestServer(t, nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%q", ct)
	}
	if !strings.Contains(rr.Body.String(), `"type":"not_found_error"`) {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing X-Request-ID")
	}
}

func TestServer_IncomingRoute_ConnectsStream(t *testing.T) {
	s := newTestServer(t, nil)

	form := url.Values{"CallSid": {"CA1"}, "From": {"+61400000000"}, "To": {"+61290000000"}}
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/voice/incoming/biz-1", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	s.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), "wss://reception.example.com/media-stream")
	assert.Contains(t, rr.Body.String(), "Bondi Plumbing")
}

func TestServer_IncomingRoute_RateLimited(t *testing.T) {
	s := newTestServer(t, nil)

	var last *httptest.ResponseRecorder
	for range 3 {
		last = httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/stream/incoming/biz-1", strings.NewReader("To=%2B61290000000"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.RemoteAddr = "203.0.113.9:5000"
		s.Handler().ServeHTTP(last, req)
	}
	assert.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.Contains(t, last.Body.String(), `"code":"rate_limited"`)
}

func TestServer_IncomingRoute_RejectsGet(t *testing.T) {
	s := newTestServer(t, nil)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/voice/incoming/biz-1", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestServer_StatusListsCalls(t *testing.T) {
	reg := registry.NewTracker()
	unregister, err := reg.Register(context.Background(), registry.Entry{CallID: "call-1", BusinessID: "biz-1", StartedAt: time.Now()}, func() {})
	require.NoError(t, err)
	defer unregister()
	s := newTestServer(t, reg)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status?calls=1", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"active_calls":1`)
	assert.Contains(t, rr.Body.String(), `"call_id":"call-1"`)
}

func TestServer_MetricsRoute(t *testing.T) {
	s := newTestServer(t, nil)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "test_")
}

func TestServer_DrainFailsReadinessAndRefusesStreams(t *testing.T) {
	s := newTestServer(t, nil)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	s.SetDraining()

	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/media-stream", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "5", rr.Header().Get("Retry-After"))

	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Contains(t, rr.Body.String(), `"status":"draining"`)
}

func TestServer_ReadyReportsFailingCheck(t *testing.T) {
	s := newTestServer(t, nil, handlers.ReadyCheck{
		Name: "registry",
		Ping: func(context.Context) error { return errors.New("connection refused") },
	})

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "registry")
}

func TestServer_CancelAndWaitCalls(t *testing.T) {
	reg := registry.NewTracker()
	s := newTestServer(t, reg)

	var unregister func()
	cancelled := make(chan struct{})
	unregister, err := reg.Register(context.Background(), registry.Entry{CallID: "call-1"}, func() {
		close(cancelled)
		unregister()
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.False(t, s.WaitCalls(ctx))

	assert.Equal(t, 1, s.CancelCalls())
	<-cancelled

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	assert.True(t, s.WaitCalls(ctx2))
}
