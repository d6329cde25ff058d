// Package protocol is the carrier media-stream wire format: JSON text frames
// carrying base64 mu-law audio in both directions, plus the TwiML documents
// that route a call onto the stream.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Inbound event names.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventMark      = "mark"
	EventDTMF      = "dtmf"
)

// Outbound event names.
const (
	eventMedia = "media"
	eventMark  = "mark"
	eventClear = "clear"
)

// Custom stream parameters set by the incoming-call webhook.
const (
	ParamBusinessID   = "business_id"
	ParamBusinessName = "business_name"
	ParamCallerPhone  = "caller_phone"
	ParamCallID       = "call_id"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

// MediaFormat describes the inbound audio.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type Start struct {
	AccountSID       string            `json:"accountSid"`
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters"`
}

// Param returns a trimmed custom parameter or "".
func (s *Start) Param(name string) string {
	if s == nil || s.CustomParameters == nil {
		return ""
	}
	return strings.TrimSpace(s.CustomParameters[name])
}

type Media struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// Audio decodes the base64 payload.
func (m *Media) Audio() ([]byte, error) {
	if m == nil || m.Payload == "" {
		return nil, nil
	}
	audio, err := base64.StdEncoding.DecodeString(m.Payload)
	if err != nil {
		return nil, badRequest("media payload is not valid base64", "media.payload")
	}
	return audio, nil
}

type Mark struct {
	Name string `json:"name"`
}

type Stop struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

type DTMF struct {
	Track string `json:"track,omitempty"`
	Digit string `json:"digit"`
}

// Inbound is one frame from the carrier. Exactly one of the event bodies is
// set, matching Event; connected frames carry none.
type Inbound struct {
	Event          string `json:"event"`
	SequenceNumber string `json:"sequenceNumber,omitempty"`
	StreamSID      string `json:"streamSid,omitempty"`
	Protocol       string `json:"protocol,omitempty"`
	Version        string `json:"version,omitempty"`

	Start *Start `json:"start,omitempty"`
	Media *Media `json:"media,omitempty"`
	Mark  *Mark  `json:"mark,omitempty"`
	Stop  *Stop  `json:"stop,omitempty"`
	DTMF  *DTMF  `json:"dtmf,omitempty"`
}

// DecodeInbound parses and validates one text frame. Unknown events decode
// without error so the caller can ignore them.
func DecodeInbound(data []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return Inbound{}, badRequest("frame is not valid JSON", "")
	}
	in.Event = strings.ToLower(strings.TrimSpace(in.Event))
	switch in.Event {
	case "":
		return Inbound{}, badRequest("frame has no event", "event")
	case EventStart:
		if in.Start == nil {
			return Inbound{}, badRequest("start frame has no start body", "start")
		}
		if in.StreamSID == "" {
			in.StreamSID = in.Start.StreamSID
		}
		if in.StreamSID == "" {
			return Inbound{}, badRequest("start frame has no stream sid", "streamSid")
		}
	case EventMedia:
		if in.Media == nil {
			return Inbound{}, badRequest("media frame has no media body", "media")
		}
	case EventMark:
		if in.Mark == nil || in.Mark.Name == "" {
			return Inbound{}, badRequest("mark frame has no name", "mark.name")
		}
	}
	return in, nil
}

type outboundMedia struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
	Media     struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

type outboundMark struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
	Mark      Mark   `json:"mark"`
}

type outboundClear struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}

// MediaFrame encodes audio for playback on the call.
func MediaFrame(streamSID string, audio []byte) ([]byte, error) {
	f := outboundMedia{Event: eventMedia, StreamSID: streamSID}
	f.Media.Payload = base64.StdEncoding.EncodeToString(audio)
	return json.Marshal(f)
}

// MarkFrame asks the carrier to echo name back once all audio queued before
// it has played.
func MarkFrame(streamSID, name string) ([]byte, error) {
	return json.Marshal(outboundMark{Event: eventMark, StreamSID: streamSID, Mark: Mark{Name: name}})
}

// ClearFrame drops all audio buffered on the carrier side. Pending marks are
// echoed back immediately.
func ClearFrame(streamSID string) ([]byte, error) {
	return json.Marshal(outboundClear{Event: eventClear, StreamSID: streamSID})
}

// SplitAudio cuts audio into frames of at most size bytes.
func SplitAudio(audio []byte, size int) [][]byte {
	if len(audio) == 0 {
		return nil
	}
	if size <= 0 || len(audio) <= size {
		return [][]byte{audio}
	}
	out := make([][]byte, 0, (len(audio)+size-1)/size)
	for len(audio) > 0 {
		n := min(size, len(audio))
		out = append(out, audio[:n])
		audio = audio[n:]
	}
	return out
}
