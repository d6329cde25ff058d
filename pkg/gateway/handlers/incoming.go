package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vango-go/vai-reception/pkg/core"
	"github.com/vango-go/vai-reception/pkg/gateway/call/protocol"
	"github.com/vango-go/vai-reception/pkg/gateway/metrics"
	"github.com/vango-go/vai-reception/pkg/store"
)

// Webhook results recorded in metrics.
const (
	webhookConnected     = "connected"
	webhookNotConfigured = "not_configured"
	webhookRecordFailed  = "record_failed"
)

// DefaultStreamPath is where the carrier opens the media stream.
const DefaultStreamPath = "/media-stream"

// IncomingCallHandler answers the carrier's voice webhook with TwiML that
// connects the call to the media stream.
type IncomingCallHandler struct {
	Businesses store.Businesses
	Calls      store.Calls
	// PublicHost overrides the host in the stream URL.
	PublicHost string
	StreamPath string
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	Now        func() time.Time
	NewID      func() string
}

func (h IncomingCallHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, r, http.StatusBadRequest, core.NewValidationError("incoming call", "malformed form body"))
		return
	}
	callSID := strings.TrimSpace(r.PostFormValue("CallSid"))
	from := strings.TrimSpace(r.PostFormValue("From"))
	to := strings.TrimSpace(r.PostFormValue("To"))
	businessID := strings.TrimSpace(chi.URLParam(r, "businessID"))
	logger = logger.With("call_sid", callSID, "to", to)

	biz := h.resolve(r.Context(), logger, to, businessID)
	if biz == nil {
		logger.Warn("incoming call for unknown business", "business_id", businessID)
		h.Metrics.RecordWebhook(webhookNotConfigured)
		body, err := protocol.SayAndHangup(protocol.NotConfiguredMessage)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, &core.Error{Type: core.ErrAPI, Message: "render twiml"})
			return
		}
		writeTwiML(w, body)
		return
	}

	callID := h.newID()
	result := webhookConnected
	if h.Calls != nil {
		rec := &store.Call{
			ID:          callID,
			BusinessID:  biz.ID,
			CallSID:     callSID,
			CallerPhone: from,
			StartedAt:   h.now(),
		}
		if err := h.Calls.CreateCall(r.Context(), rec); err != nil {
			logger.Error("call record create failed", "business_id", biz.ID, "err", err)
			result = webhookRecordFailed
		}
	}

	path := h.StreamPath
	if path == "" {
		path = DefaultStreamPath
	}
	streamURL := protocol.StreamURL(r, h.PublicHost, path)
	body, err := protocol.ConnectStream(streamURL,
		protocol.StreamParam{Name: protocol.ParamBusinessID, Value: biz.ID},
		protocol.StreamParam{Name: protocol.ParamBusinessName, Value: biz.Name},
		protocol.StreamParam{Name: protocol.ParamCallerPhone, Value: from},
		protocol.StreamParam{Name: protocol.ParamCallID, Value: callID},
	)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, &core.Error{Type: core.ErrAPI, Message: "render twiml"})
		return
	}
	h.Metrics.RecordWebhook(result)
	logger.Info("incoming call connected", "business_id", biz.ID, "call_id", callID, "stream_url", streamURL)
	writeTwiML(w, body)
}

// resolve finds the business by the dialled number, then by the id in the
// webhook path.
func (h IncomingCallHandler) resolve(ctx context.Context, logger *slog.Logger, to, businessID string) *store.Business {
	if h.Businesses == nil {
		return nil
	}
	if to != "" {
		biz, err := h.Businesses.GetBusinessByNumber(ctx, to)
		switch {
		case err == nil:
			return biz
		case !errors.Is(err, store.ErrNotFound):
			logger.Warn("business lookup by number failed", "err", err)
		}
	}
	if businessID != "" {
		biz, err := h.Businesses.GetBusiness(ctx, businessID)
		switch {
		case err == nil:
			return biz
		case !errors.Is(err, store.ErrNotFound):
			logger.Warn("business lookup by id failed", "business_id", businessID, "err", err)
		}
	}
	return nil
}

func (h IncomingCallHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h IncomingCallHandler) newID() string {
	if h.NewID != nil {
		return h.NewID()
	}
	return uuid.NewString()
}

func writeTwiML(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", protocol.ContentTypeTwiML)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
