package stt

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type fakeListen struct {
	t        *testing.T
	query    chan map[string]string
	auth     chan string
	received chan string
	frames   []string
}

func (f *fakeListen) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := map[string]string{}
	for k := range r.URL.Query() {
		q[k] = r.URL.Query().Get(k)
	}
	f.query <- q
	f.auth <- r.Header.Get("Authorization")

	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		f.t.Errorf("upgrade: %v", err)
		return
	}
	defer conn.Close()
	for _, frame := range f.frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			return
		}
	}
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt == websocket.BinaryMessage {
			f.received <- "binary:" + string(data)
			continue
		}
		f.received <- string(data)
	}
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestDeepgram_DialEmitsEventsAndCloses(t *testing.T) {
	fake := &fakeListen{
		t:        t,
		query:    make(chan map[string]string, 1),
		auth:     make(chan string, 1),
		received: make(chan string, 1024),
		frames: []string{
			`{"type":"Metadata","request_id":"r1"}`,
			`{"type":"SpeechStarted"}`,
			`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"I need a","confidence":0.7}]}}`,
			`{"type":"Results","is_final":true,"speech_final":true,"start":0.5,"duration":1.2,"channel":{"alternatives":[{"transcript":"I need a plumber","confidence":0.98,"words":[{"word":"plumber","start":1.0,"end":1.4}]}]}}`,
			`{"type":"UtteranceEnd"}`,
		},
	}
	server := httptest.NewServer(fake)
	defer server.Close()

	dg := NewDeepgram("secret", WithBaseURL(wsURL(server.URL)), WithKeepAlive(20*time.Millisecond))
	stream, err := dg.Dial(t.Context(), Options{})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	q := <-fake.query
	if q["encoding"] != "mulaw" || q["sample_rate"] != "8000" || q["model"] != "nova-2" || q["utterance_end_ms"] != "2000" {
		t.Fatalf("query=%v", q)
	}
	if got := <-fake.auth; got != "Token secret" {
		t.Fatalf("Authorization=%q", got)
	}

	want := []EventType{EventSpeechStarted, EventTranscript, EventTranscript, EventUtteranceEnd}
	var finals []Transcript
	for i, wt := range want {
		select {
		case ev := <-stream.Events():
			if ev.Type != wt {
				t.Fatalf("event[%d]=%v, want %v", i, ev.Type, wt)
			}
			if ev.Type == EventTranscript && ev.Transcript.IsFinal {
				finals = append(finals, ev.Transcript)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
	if len(finals) != 1 || finals[0].Text != "I need a plumber" || len(finals[0].Words) != 1 {
		t.Fatalf("finals=%+v", finals)
	}

	if err := stream.SendAudio([]byte("abc")); err != nil {
		t.Fatalf("SendAudio() error = %v", err)
	}

	sawAudio, sawKeepAlive := false, false
	deadline := time.After(2 * time.Second)
	for !sawAudio || !sawKeepAlive {
		select {
		case msg := <-fake.received:
			if msg == "binary:abc" {
				sawAudio = true
			}
			if strings.Contains(msg, "KeepAlive") {
				sawKeepAlive = true
			}
		case <-deadline:
			t.Fatalf("audio=%v keepalive=%v", sawAudio, sawKeepAlive)
		}
	}

	if err := stream.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	closeSeen := false
	for !closeSeen {
		select {
		case msg := <-fake.received:
			closeSeen = msg == `{"type":"CloseStream"}`
		case <-time.After(2 * time.Second):
			t.Fatal("CloseStream not received")
		}
	}

	if err := stream.SendAudio([]byte("late")); err != nil {
		t.Fatalf("SendAudio after close should be a no-op, got %v", err)
	}
	if stats := stream.Stats(); stats.BytesSent != 3 || stats.TranscriptsReceived != 2 {
		t.Fatalf("stats=%+v", stats)
	}
	select {
	case <-stream.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream not done after Close")
	}
}

func TestDeepgram_DialFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := NewDeepgram("nope", WithBaseURL(wsURL(server.URL))).Dial(t.Context(), Options{})
	if err == nil {
		t.Fatal("expected dial error")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Fatalf("err=%v, want status in message", err)
	}
}
