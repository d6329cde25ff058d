package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-reception/pkg/core"
	"github.com/vango-go/vai-reception/pkg/gateway/call/session"
	"github.com/vango-go/vai-reception/pkg/gateway/lifecycle"
)

const defaultMediaReadLimit = 64 << 10

// MediaStreamHandler upgrades the carrier's media stream and runs one call
// session on it. Session holds every dependency except the connection.
type MediaStreamHandler struct {
	Session   session.Dependencies
	Lifecycle *lifecycle.Lifecycle
	Logger    *slog.Logger
	// ReadLimit caps one inbound frame.
	ReadLimit int64
}

func (h MediaStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Lifecycle.IsDraining() {
		w.Header().Set("Retry-After", "5")
		writeError(w, r, http.StatusServiceUnavailable, &core.Error{
			Type:    core.ErrAPI,
			Code:    "draining",
			Message: "server is draining",
		})
		return
	}
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	upgrader := websocket.Upgrader{
		// The carrier does not send a browser Origin.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("media stream upgrade failed", "err", err)
		return
	}
	limit := h.ReadLimit
	if limit <= 0 {
		limit = defaultMediaReadLimit
	}
	conn.SetReadLimit(limit)

	deps := h.Session
	deps.Conn = conn
	if deps.Logger == nil {
		deps.Logger = logger
	}
	s, err := session.New(deps)
	if err != nil {
		logger.Error("media stream session setup failed", "err", err)
		_ = conn.Close()
		return
	}
	if err := s.Run(r.Context()); err != nil {
		logger.Warn("media stream session ended with error", "err", err)
	}
}
