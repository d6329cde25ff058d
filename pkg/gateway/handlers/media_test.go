package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/vai-reception/pkg/core/voice/stt"
	"github.com/vango-go/vai-reception/pkg/gateway/call/registry"
	"github.com/vango-go/vai-reception/pkg/gateway/call/session"
	"github.com/vango-go/vai-reception/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-reception/pkg/reception/engine"
)

type silentEngine struct{}

func (silentEngine) Process(context.Context, *engine.CallState, string, engine.Voice) engine.Result {
	return engine.Result{}
}

func TestMediaStream_RejectsWhileDraining(t *testing.T) {
	lc := lifecycle.New(nil)
	lc.Drain()
	h := MediaStreamHandler{Lifecycle: lc}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/media-stream", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "5", rr.Header().Get("Retry-After"))
	assert.Contains(t, rr.Body.String(), `"code":"draining"`)
}

func TestMediaStream_RunsSessionUntilStop(t *testing.T) {
	reg := registry.NewTracker()
	done := make(chan struct{})
	h := MediaStreamHandler{
		Lifecycle: lifecycle.New(nil),
		Session: session.Dependencies{
			Engine: silentEngine{},
			DialSTT: func(context.Context, stt.Options) (session.Listener, error) {
				t.Error("stt must not be dialled before start")
				return nil, nil
			},
			Registry: reg,
		},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(done)
		h.ServeHTTP(w, r)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"connected","protocol":"Call","version":"1.0.0"}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"stop","streamSid":"MZ1"}`)))

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("media stream handler did not return")
	}
	assert.Equal(t, 0, reg.Len())
}
