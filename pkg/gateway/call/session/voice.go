package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-go/vai-reception/pkg/core/voice/stt"
	"github.com/vango-go/vai-reception/pkg/core/voice/tts"
	"github.com/vango-go/vai-reception/pkg/gateway/metrics"
)

// Listener is a live transcription session.
type Listener interface {
	SendAudio(data []byte) error
	Events() <-chan stt.Event
	Close() error
}

// Speaker is a live synthesis session.
type Speaker interface {
	SendText(text string) error
	Flush() error
	Clear() error
	Events() <-chan tts.Event
	Connected() bool
	Close() error
}

// ListenerDialer opens a Listener for one call.
type ListenerDialer func(ctx context.Context, opts stt.Options) (Listener, error)

// SpeakerDialer opens a Speaker for one call.
type SpeakerDialer func(ctx context.Context, opts tts.Options) (Speaker, error)

// DialListener adapts an stt.Dialer.
func DialListener(d stt.Dialer) ListenerDialer {
	return func(ctx context.Context, opts stt.Options) (Listener, error) {
		s, err := d.Dial(ctx, opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// DialSpeaker adapts a tts.Dialer.
func DialSpeaker(d tts.Dialer) SpeakerDialer {
	return func(ctx context.Context, opts tts.Options) (Speaker, error) {
		s, err := d.Dial(ctx, opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// voice is the engine's speech output for one call. Phrases stream to the
// Speaker while it works; once it fails, each turn is synthesized in one
// bounded request and handed to the actor as a clip, with the configured
// fallback clip standing in when synthesis fails too.
type voice struct {
	speaker  Speaker
	synth    tts.Synthesizer
	opts     tts.Options
	timeout  time.Duration
	fallback []byte
	clips    chan<- []byte
	// flushes counts Flush requests whose Flushed has not arrived yet.
	flushes  *atomic.Int64
	flushReq chan<- struct{}
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu        sync.Mutex
	streaming bool
	// muted drops speech from an interrupted run until the next one starts.
	muted     bool
	sent      []string
	buffered  []string
}

func (v *voice) mute() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.muted = true
	v.sent = nil
	v.buffered = nil
}

func (v *voice) unmute() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.muted = false
}

func (v *voice) Say(_ context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.muted {
		return nil
	}
	if v.streaming && v.speaker != nil && v.speaker.Connected() {
		err := v.speaker.SendText(text)
		if err == nil {
			v.sent = append(v.sent, text)
			return nil
		}
		v.logger.Warn("streaming tts failed; switching to one-shot synthesis", "err", err)
		v.streaming = false
		v.buffered = append(v.buffered, v.sent...)
		v.sent = nil
	}
	v.buffered = append(v.buffered, text)
	return nil
}

func (v *voice) EndTurn(ctx context.Context) error {
	v.mu.Lock()
	if v.muted {
		v.mu.Unlock()
		return nil
	}
	if len(v.sent) > 0 {
		// Counted before the request so the Flushed reply cannot race it.
		v.flushes.Add(1)
		if err := v.speaker.Flush(); err != nil {
			v.flushes.Add(-1)
			v.logger.Warn("streaming tts flush failed; switching to one-shot synthesis", "err", err)
			v.streaming = false
			v.buffered = append(v.sent, v.buffered...)
		} else {
			select {
			case v.flushReq <- struct{}{}:
			default:
			}
		}
		v.sent = nil
	}
	text := strings.Join(v.buffered, " ")
	v.buffered = nil
	v.mu.Unlock()

	if text == "" {
		return nil
	}
	audio := tts.SynthesizeOrNil(ctx, v.synth, text, v.opts, v.timeout, v.logger)
	result := "audio"
	if audio == nil {
		audio = v.fallback
		result = "clip"
		if len(audio) == 0 {
			result = "silent"
		}
	}
	v.metrics.RecordSpeechFallback(result)
	if len(audio) == 0 {
		return nil
	}
	select {
	case v.clips <- audio:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
