package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-reception/pkg/core"
)

const (
	deepgramSpeakWSURL   = "wss://api.deepgram.com/v1/speak"
	deepgramSpeakHTTPURL = "https://api.deepgram.com/v1/speak"
)

// Deepgram implements Dialer and Synthesizer against Deepgram Aura.
type Deepgram struct {
	apiKey     string
	wsURL      string
	httpURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// DeepgramOption configures a Deepgram client.
type DeepgramOption func(*Deepgram)

// WithWSBaseURL overrides the websocket endpoint.
func WithWSBaseURL(u string) DeepgramOption {
	return func(d *Deepgram) {
		if u != "" {
			d.wsURL = u
		}
	}
}

// WithHTTPBaseURL overrides the REST endpoint.
func WithHTTPBaseURL(u string) DeepgramOption {
	return func(d *Deepgram) {
		if u != "" {
			d.httpURL = u
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) DeepgramOption {
	return func(d *Deepgram) {
		if client != nil {
			d.httpClient = client
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) DeepgramOption {
	return func(d *Deepgram) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDeepgram creates a Deepgram TTS client.
func NewDeepgram(apiKey string, opts ...DeepgramOption) *Deepgram {
	d := &Deepgram{
		apiKey:     apiKey,
		wsURL:      deepgramSpeakWSURL,
		httpURL:    deepgramSpeakHTTPURL,
		httpClient: &http.Client{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name returns the provider identifier.
func (d *Deepgram) Name() string {
	return "deepgram"
}

func speakURL(base string, opts Options, container bool) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse speak URL: %w", err)
	}
	q := u.Query()
	q.Set("model", opts.Model)
	q.Set("encoding", opts.Encoding)
	q.Set("sample_rate", strconv.Itoa(opts.SampleRate))
	if container {
		q.Set("container", "none")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Synthesize renders text through the REST endpoint and returns raw audio.
func (d *Deepgram) Synthesize(ctx context.Context, text string, opts Options) ([]byte, error) {
	opts = opts.withDefaults()
	reqURL, err := speakURL(d.httpURL, opts, true)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("marshal speak request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+d.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, core.NewTimeoutError("deepgram speak", err)
		}
		return nil, core.NewConnectivityError("deepgram speak", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, core.NewAPIError("deepgram speak", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, core.NewTimeoutError("deepgram speak", err)
		}
		return nil, fmt.Errorf("read audio: %w", err)
	}
	return audio, nil
}

// SynthesizeOrNil runs Synthesize under timeout and returns nil audio on any
// failure. Callers treat nil as "no audio available" and move on.
func SynthesizeOrNil(ctx context.Context, s Synthesizer, text string, opts Options, timeout time.Duration, logger *slog.Logger) []byte {
	if s == nil || strings.TrimSpace(text) == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	audio, err := s.Synthesize(ctx, text, opts)
	if err != nil {
		logger.Warn("tts synthesize failed; continuing without audio", "err", err, "timeout", timeout)
		return nil
	}
	if len(audio) == 0 {
		return nil
	}
	return audio
}

// Dial opens a streaming synthesis session.
func (d *Deepgram) Dial(ctx context.Context, opts Options) (*Stream, error) {
	opts = opts.withDefaults()
	wsURL, err := speakURL(d.wsURL, opts, true)
	if err != nil {
		return nil, err
	}
	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.apiKey)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return nil, core.NewConnectivityError("deepgram tts dial",
				fmt.Errorf("status %d: %s: %w", resp.StatusCode, strings.TrimSpace(string(body)), err))
		}
		return nil, core.NewConnectivityError("deepgram tts dial", err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	s := &Stream{
		conn:   conn,
		events: make(chan Event, 512),
		done:   make(chan struct{}),
		ctx:    streamCtx,
		cancel: cancel,
		logger: d.logger,
	}
	go s.readLoop()
	return s, nil
}

// Stream is a live synthesis session. Text is sent with SendText, Flush
// forces generation of buffered text, and Clear discards queued audio.
type Stream struct {
	conn         *websocket.Conn
	events       chan Event
	done         chan struct{}
	closed       atomic.Bool
	disconnected atomic.Bool
	writeMu      sync.Mutex
	ctx          context.Context
	cancel       context.CancelFunc
	logger       *slog.Logger

	textChunks  atomic.Int64
	audioBytes  atomic.Int64
	firstTextAt atomic.Int64
	firstAudio  atomic.Int64
}

type deepgramSpeakMessage struct {
	Type     string `json:"type"`
	WarnCode string `json:"warn_code"`
	WarnMsg  string `json:"warn_msg"`
	ErrCode  string `json:"err_code"`
	ErrMsg   string `json:"err_msg"`
}

func (s *Stream) readLoop() {
	defer func() {
		s.disconnected.Store(true)
		s.cancel()
		close(s.events)
		close(s.done)
	}()

	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.emit(Event{Type: EventError, Err: core.NewConnectivityError("deepgram tts read", err)})
			}
			return
		}

		if mt == websocket.BinaryMessage {
			if len(data) == 0 {
				continue
			}
			if s.audioBytes.Add(int64(len(data))) == int64(len(data)) {
				if started := s.firstTextAt.Load(); started > 0 {
					s.firstAudio.Store(time.Now().UnixNano() - started)
				}
			}
			s.emit(Event{Type: EventAudio, Audio: data})
			continue
		}

		var msg deepgramSpeakMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "Flushed":
			s.emit(Event{Type: EventFlushed})
		case "Cleared", "Metadata":
			continue
		case "Warning":
			s.emit(Event{Type: EventWarning, Message: strings.TrimSpace(msg.WarnCode + " " + msg.WarnMsg)})
		case "Error":
			text := strings.TrimSpace(msg.ErrCode + " " + msg.ErrMsg)
			s.emit(Event{Type: EventError, Message: text, Err: fmt.Errorf("deepgram tts: %s", text)})
		}
	}
}

func (s *Stream) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *Stream) writeJSON(v any) error {
	if s.closed.Load() || s.disconnected.Load() {
		return ErrStreamClosed
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return core.NewConnectivityError("deepgram tts write", err)
	}
	return nil
}

// SendText queues text for synthesis.
func (s *Stream) SendText(text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if err := s.writeJSON(map[string]string{"type": "Speak", "text": text}); err != nil {
		return err
	}
	s.firstTextAt.CompareAndSwap(0, time.Now().UnixNano())
	s.textChunks.Add(1)
	return nil
}

// Flush asks the service to synthesize everything sent so far. A Flushed
// event follows the last audio frame of the flushed text.
func (s *Stream) Flush() error {
	return s.writeJSON(map[string]string{"type": "Flush"})
}

// Clear discards text and audio not yet delivered.
func (s *Stream) Clear() error {
	return s.writeJSON(map[string]string{"type": "Clear"})
}

// Events returns the session's event channel. It is closed when the session ends.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Done returns a channel that's closed when the session ends.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Connected reports whether text can still be sent.
func (s *Stream) Connected() bool {
	return !s.closed.Load() && !s.disconnected.Load()
}

// Stats returns cumulative counters.
func (s *Stream) Stats() Stats {
	return Stats{
		TextChunks:       s.textChunks.Load(),
		AudioBytes:       s.audioBytes.Load(),
		TimeToFirstAudio: time.Duration(s.firstAudio.Load()),
	}
}

// Close sends a Close message and tears down the socket.
func (s *Stream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cancel()

	s.writeMu.Lock()
	_ = s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Close"}`))
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	s.writeMu.Unlock()

	return s.conn.Close()
}
