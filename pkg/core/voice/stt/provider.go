// Package stt provides streaming speech-to-text for phone audio.
package stt

import "context"

// Dialer opens streaming transcription sessions.
type Dialer interface {
	Dial(ctx context.Context, opts Options) (*Stream, error)
}

// Options configures a streaming transcription session.
type Options struct {
	Model          string // default "nova-2"
	Language       string // default "en-AU"
	Encoding       string // default "mulaw"
	SampleRate     int    // default 8000
	Channels       int    // default 1
	Punctuate      bool
	InterimResults bool
	UtteranceEndMS int // default 2000
	VADEvents      bool
	EndpointingMS  int // default 1000
}

// PhoneDefaults returns options tuned for 8kHz mu-law telephony audio.
func PhoneDefaults() Options {
	return Options{
		Model:          "nova-2",
		Language:       "en-AU",
		Encoding:       "mulaw",
		SampleRate:     8000,
		Channels:       1,
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMS: 2000,
		VADEvents:      true,
		EndpointingMS:  1000,
	}
}

func (o Options) withDefaults() Options {
	d := PhoneDefaults()
	if o.Model == "" {
		o.Model = d.Model
	}
	if o.Language == "" {
		o.Language = d.Language
	}
	if o.Encoding == "" {
		o.Encoding = d.Encoding
	}
	if o.SampleRate <= 0 {
		o.SampleRate = d.SampleRate
	}
	if o.Channels <= 0 {
		o.Channels = d.Channels
	}
	if o.UtteranceEndMS <= 0 {
		o.UtteranceEndMS = d.UtteranceEndMS
	}
	if o.EndpointingMS <= 0 {
		o.EndpointingMS = d.EndpointingMS
	}
	return o
}

// EventType discriminates Event values.
type EventType int

const (
	EventTranscript EventType = iota + 1
	EventSpeechStarted
	EventUtteranceEnd
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventTranscript:
		return "transcript"
	case EventSpeechStarted:
		return "speech_started"
	case EventUtteranceEnd:
		return "utterance_end"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is emitted on Stream.Events.
type Event struct {
	Type       EventType
	Transcript Transcript // EventTranscript
	Err        error      // EventError
}

// Transcript is one recognition result. Only IsFinal results are committed
// to an utterance; interim results are informational.
type Transcript struct {
	Text        string
	IsFinal     bool
	SpeechFinal bool
	Confidence  float64
	Start       float64
	Duration    float64
	Words       []Word
}

// Word represents a single transcribed word with timing.
type Word struct {
	Word  string
	Start float64
	End   float64
}

// Stats are cumulative counters for a session.
type Stats struct {
	BytesSent           int64
	TranscriptsReceived int64
}
