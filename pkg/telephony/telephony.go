// Package telephony sends confirmation messages and controls live calls
// through the carrier's REST API.
package telephony

import (
	"context"
	"log/slog"
)

// SMSSender delivers a short text message.
type SMSSender interface {
	SendSMS(ctx context.Context, to, from, body string) error
}

// CallControl acts on a live call.
type CallControl interface {
	Hangup(ctx context.Context, callSID string) error
}

// LogSender records messages instead of sending them.
type LogSender struct {
	Logger *slog.Logger
}

func (l LogSender) SendSMS(_ context.Context, to, from, body string) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("sms (not sent)", "to", to, "from", from, "body", body)
	return nil
}

// NopControl ignores call-control requests; the media socket closing ends
// the call on the carrier side.
type NopControl struct{}

func (NopControl) Hangup(context.Context, string) error { return nil }
