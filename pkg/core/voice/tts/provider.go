// Package tts provides text-to-speech for phone audio: a streaming websocket
// session for live replies and a bounded one-shot synthesis for fallbacks.
package tts

import (
	"context"
	"errors"
	"time"
)

// Dialer opens streaming synthesis sessions.
type Dialer interface {
	Dial(ctx context.Context, opts Options) (*Stream, error)
}

// Synthesizer renders a complete utterance in one request.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, opts Options) ([]byte, error)
}

// Options configures synthesis output.
type Options struct {
	Model      string // Aura voice model, default "aura-asteria-en"
	Encoding   string // default "mulaw"
	SampleRate int    // default 8000
}

// DefaultVoice is the Aura model used when none is configured.
const DefaultVoice = "aura-asteria-en"

// PhoneDefaults returns options producing raw 8kHz mu-law audio.
func PhoneDefaults() Options {
	return Options{Model: DefaultVoice, Encoding: "mulaw", SampleRate: 8000}
}

func (o Options) withDefaults() Options {
	d := PhoneDefaults()
	if o.Model == "" {
		o.Model = d.Model
	}
	if o.Encoding == "" {
		o.Encoding = d.Encoding
	}
	if o.SampleRate <= 0 {
		o.SampleRate = d.SampleRate
	}
	return o
}

// Voices maps short voice names to Aura models.
var Voices = map[string]string{
	"asteria": "aura-asteria-en",
	"luna":    "aura-luna-en",
	"stella":  "aura-stella-en",
	"athena":  "aura-athena-en",
	"hera":    "aura-hera-en",
	"orion":   "aura-orion-en",
	"arcas":   "aura-arcas-en",
	"perseus": "aura-perseus-en",
	"angus":   "aura-angus-en",
	"orpheus": "aura-orpheus-en",
	"helios":  "aura-helios-en",
	"zeus":    "aura-zeus-en",
}

// ResolveVoice accepts a short name ("luna") or a full model name and returns
// the model. Unknown values fall back to DefaultVoice.
func ResolveVoice(name string) string {
	if name == "" {
		return DefaultVoice
	}
	if model, ok := Voices[name]; ok {
		return model
	}
	for _, model := range Voices {
		if model == name {
			return model
		}
	}
	return DefaultVoice
}

// EventType discriminates Event values.
type EventType int

const (
	EventAudio EventType = iota + 1
	EventFlushed
	EventWarning
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventAudio:
		return "audio"
	case EventFlushed:
		return "flushed"
	case EventWarning:
		return "warning"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is emitted on Stream.Events. Audio and Flushed share one channel so a
// consumer sees them in wire order.
type Event struct {
	Type    EventType
	Audio   []byte // EventAudio
	Message string // EventWarning, EventError
	Err     error  // EventError
}

// Stats are cumulative counters for a session.
type Stats struct {
	TextChunks       int64
	AudioBytes       int64
	TimeToFirstAudio time.Duration
}

// ErrStreamClosed is returned when sending to a closed stream.
var ErrStreamClosed = errors.New("tts stream closed")
