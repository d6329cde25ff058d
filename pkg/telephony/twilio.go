package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vango-go/vai-reception/pkg/core"
)

const twilioBaseURL = "https://api.twilio.com/2010-04-01"

// Twilio is a minimal REST client for messages and call updates.
type Twilio struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
}

var (
	_ SMSSender   = (*Twilio)(nil)
	_ CallControl = (*Twilio)(nil)
)

// TwilioOption configures the client.
type TwilioOption func(*Twilio)

// WithTwilioBaseURL overrides the API root (tests).
func WithTwilioBaseURL(u string) TwilioOption {
	return func(t *Twilio) {
		if u != "" {
			t.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithTwilioHTTPClient sets the HTTP client.
func WithTwilioHTTPClient(c *http.Client) TwilioOption {
	return func(t *Twilio) {
		if c != nil {
			t.httpClient = c
		}
	}
}

// NewTwilio creates a REST client.
func NewTwilio(accountSID, authToken string, opts ...TwilioOption) *Twilio {
	t := &Twilio{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    twilioBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SendSMS posts a message.
func (t *Twilio) SendSMS(ctx context.Context, to, from, body string) error {
	if strings.TrimSpace(to) == "" || strings.TrimSpace(from) == "" {
		return core.NewValidationError("twilio sms", "to and from are required")
	}
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", from)
	form.Set("Body", body)
	return t.post(ctx, "twilio sms", fmt.Sprintf("/Accounts/%s/Messages.json", t.accountSID), form)
}

// Hangup completes an in-progress call.
func (t *Twilio) Hangup(ctx context.Context, callSID string) error {
	if strings.TrimSpace(callSID) == "" {
		return core.NewValidationError("twilio hangup", "call sid is required")
	}
	form := url.Values{}
	form.Set("Status", "completed")
	return t.post(ctx, "twilio hangup", fmt.Sprintf("/Accounts/%s/Calls/%s.json", t.accountSID, url.PathEscape(callSID)), form)
}

func (t *Twilio) post(ctx context.Context, op, path string, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.SetBasicAuth(t.accountSID, t.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return core.NewTimeoutError(op, err)
		}
		return core.NewConnectivityError(op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var payload struct {
			Message string `json:"message"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &payload) == nil && payload.Message != "" {
			msg = payload.Message
		}
		return core.NewAPIError(op, resp.StatusCode, msg)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
