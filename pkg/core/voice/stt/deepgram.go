package stt

import (
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
	deepgramListenURL = "wss://api.deepgram.com/v1/listen"

	// DefaultKeepAliveInterval keeps Deepgram from closing an idle socket
	// while the caller is silent.
	DefaultKeepAliveInterval = 8 * time.Second
)

// Deepgram dials Deepgram's live transcription websocket.
type Deepgram struct {
	apiKey    string
	baseURL   string
	keepAlive time.Duration
	logger    *slog.Logger
}

// DeepgramOption configures a Deepgram dialer.
type DeepgramOption func(*Deepgram)

// WithBaseURL overrides the websocket endpoint (tests, proxies).
func WithBaseURL(u string) DeepgramOption {
	return func(d *Deepgram) {
		if u != "" {
			d.baseURL = u
		}
	}
}

// WithKeepAlive overrides the keepalive interval.
func WithKeepAlive(interval time.Duration) DeepgramOption {
	return func(d *Deepgram) {
		if interval > 0 {
			d.keepAlive = interval
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

// NewDeepgram creates a Deepgram STT dialer.
func NewDeepgram(apiKey string, opts ...DeepgramOption) *Deepgram {
	d := &Deepgram{
		apiKey:    apiKey,
		baseURL:   deepgramListenURL,
		keepAlive: DefaultKeepAliveInterval,
		logger:    slog.Default(),
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

func (d *Deepgram) listenURL(opts Options) (string, error) {
	u, err := url.Parse(d.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("model", opts.Model)
	q.Set("language", opts.Language)
	q.Set("encoding", opts.Encoding)
	q.Set("sample_rate", strconv.Itoa(opts.SampleRate))
	q.Set("channels", strconv.Itoa(opts.Channels))
	q.Set("punctuate", strconv.FormatBool(opts.Punctuate))
	q.Set("interim_results", strconv.FormatBool(opts.InterimResults))
	q.Set("utterance_end_ms", strconv.Itoa(opts.UtteranceEndMS))
	q.Set("vad_events", strconv.FormatBool(opts.VADEvents))
	q.Set("endpointing", strconv.Itoa(opts.EndpointingMS))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial opens a live transcription session.
func (d *Deepgram) Dial(ctx context.Context, opts Options) (*Stream, error) {
	opts = opts.withDefaults()
	wsURL, err := d.listenURL(opts)
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
			return nil, core.NewConnectivityError("deepgram stt dial",
				fmt.Errorf("status %d: %s: %w", resp.StatusCode, strings.TrimSpace(string(body)), err))
		}
		return nil, core.NewConnectivityError("deepgram stt dial", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Stream{
		conn:   conn,
		events: make(chan Event, 256),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		logger: d.logger,
	}
	go s.readLoop()
	go s.keepAliveLoop(d.keepAlive)
	return s, nil
}

// Stream is a live transcription session.
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

	bytesSent   atomic.Int64
	transcripts atomic.Int64
}

type deepgramMessage struct {
	Type    string `json:"type"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word  string  `json:"word"`
				Start float64 `json:"start"`
				End   float64 `json:"end"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
	Start       float64 `json:"start"`
	Duration    float64 `json:"duration"`
	Description string  `json:"description"`
	Message     string  `json:"message"`
}

func (s *Stream) readLoop() {
	defer func() {
		s.disconnected.Store(true)
		s.cancel()
		close(s.events)
		close(s.done)
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.emit(Event{Type: EventError, Err: core.NewConnectivityError("deepgram stt read", err)})
			}
			return
		}

		var msg deepgramMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("deepgram stt: unparseable frame", "err", err)
			continue
		}

		switch msg.Type {
		case "Results":
			if len(msg.Channel.Alternatives) == 0 {
				continue
			}
			alt := msg.Channel.Alternatives[0]
			text := strings.TrimSpace(alt.Transcript)
			if text == "" {
				continue
			}
			tr := Transcript{
				Text:        text,
				IsFinal:     msg.IsFinal,
				SpeechFinal: msg.SpeechFinal,
				Confidence:  alt.Confidence,
				Start:       msg.Start,
				Duration:    msg.Duration,
			}
			if len(alt.Words) > 0 {
				tr.Words = make([]Word, len(alt.Words))
				for i, w := range alt.Words {
					tr.Words[i] = Word{Word: w.Word, Start: w.Start, End: w.End}
				}
			}
			s.transcripts.Add(1)
			s.emit(Event{Type: EventTranscript, Transcript: tr})
		case "SpeechStarted":
			s.emit(Event{Type: EventSpeechStarted})
		case "UtteranceEnd":
			s.emit(Event{Type: EventUtteranceEnd})
		case "Metadata":
			continue
		case "Error":
			desc := msg.Description
			if desc == "" {
				desc = msg.Message
			}
			s.emit(Event{Type: EventError, Err: fmt.Errorf("deepgram stt: %s", desc)})
		}
	}
}

func (s *Stream) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *Stream) keepAliveLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.writeJSON(map[string]string{"type": "KeepAlive"}); err != nil {
				s.logger.Debug("deepgram stt: keepalive failed", "err", err)
				return
			}
		}
	}
}

func (s *Stream) writeJSON(v any) error {
	if s.closed.Load() || s.disconnected.Load() {
		return errClosed
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

var errClosed = errors.New("stt stream closed")

// SendAudio forwards raw audio. It is a no-op once the session is closed or
// the socket has dropped.
func (s *Stream) SendAudio(data []byte) error {
	if len(data) == 0 || s.closed.Load() || s.disconnected.Load() {
		return nil
	}
	s.writeMu.Lock()
	err := s.conn.WriteMessage(websocket.BinaryMessage, data)
	s.writeMu.Unlock()
	if err != nil {
		return core.NewConnectivityError("deepgram stt send", err)
	}
	s.bytesSent.Add(int64(len(data)))
	return nil
}

// Events returns the session's event channel. It is closed when the session ends.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Done returns a channel that's closed when the session ends.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Stats returns cumulative counters.
func (s *Stream) Stats() Stats {
	return Stats{
		BytesSent:           s.bytesSent.Load(),
		TranscriptsReceived: s.transcripts.Load(),
	}
}

// Close asks Deepgram to flush and close, then tears down the socket.
func (s *Stream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cancel()

	s.writeMu.Lock()
	_ = s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	s.writeMu.Unlock()

	return s.conn.Close()
}
