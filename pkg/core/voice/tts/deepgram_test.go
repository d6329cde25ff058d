package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

// fakeSpeak echoes each Speak as one audio frame and answers Flush with Flushed.
func fakeSpeak(t *testing.T, received chan<- string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("container") != "none" || r.URL.Query().Get("encoding") != "mulaw" {
			t.Errorf("query=%s", r.URL.RawQuery)
		}
		up := websocket.Upgrader{}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg map[string]string
			_ = json.Unmarshal(data, &msg)
			received <- msg["type"]
			switch msg["type"] {
			case "Speak":
				_ = conn.WriteMessage(websocket.BinaryMessage, []byte("audio:"+msg["text"]))
			case "Flush":
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Flushed","sequence_id":0}`))
			case "Clear":
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Cleared"}`))
			}
		}
	})
}

func TestStream_AudioThenFlushedInOrder(t *testing.T) {
	received := make(chan string, 64)
	server := httptest.NewServer(fakeSpeak(t, received))
	defer server.Close()

	stream, err := NewDeepgram("k", WithWSBaseURL(wsURL(server.URL))).Dial(t.Context(), Options{})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer stream.Close()

	if err := stream.SendText("Hello there."); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if err := stream.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	var got []EventType
	for len(got) < 2 {
		select {
		case ev := <-stream.Events():
			got = append(got, ev.Type)
			if ev.Type == EventAudio && string(ev.Audio) != "audio:Hello there." {
				t.Fatalf("audio=%q", ev.Audio)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out; got %v", got)
		}
	}
	if got[0] != EventAudio || got[1] != EventFlushed {
		t.Fatalf("events=%v, want [audio flushed]", got)
	}

	if err := stream.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	for _, want := range []string{"Speak", "Flush", "Clear"} {
		select {
		case msg := <-received:
			if msg != want {
				t.Fatalf("server got %q, want %q", msg, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("server never got %q", want)
		}
	}

	stats := stream.Stats()
	if stats.TextChunks != 1 || stats.AudioBytes != int64(len("audio:Hello there.")) {
		t.Fatalf("stats=%+v", stats)
	}
}

func TestStream_SendAfterCloseFails(t *testing.T) {
	received := make(chan string, 64)
	server := httptest.NewServer(fakeSpeak(t, received))
	defer server.Close()

	stream, err := NewDeepgram("k", WithWSBaseURL(wsURL(server.URL))).Dial(t.Context(), Options{})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if stream.Connected() {
		t.Fatal("Connected() = true after Close")
	}
	if err := stream.SendText("late"); err != ErrStreamClosed {
		t.Fatalf("SendText after close err=%v, want ErrStreamClosed", err)
	}
}

func TestSynthesize_REST(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token k" {
			t.Errorf("auth=%q", r.Header.Get("Authorization"))
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte("pcm:" + body["text"]))
	}))
	defer server.Close()

	d := NewDeepgram("k", WithHTTPBaseURL(server.URL))
	audio, err := d.Synthesize(t.Context(), "hi", Options{})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if string(audio) != "pcm:hi" {
		t.Fatalf("audio=%q", audio)
	}
}

func TestSynthesizeOrNil_TimeoutReturnsNil(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	d := NewDeepgram("k", WithHTTPBaseURL(server.URL))
	start := time.Now()
	audio := SynthesizeOrNil(context.Background(), d, "hello", Options{}, 50*time.Millisecond, nil)
	if audio != nil {
		t.Fatalf("audio=%q, want nil", audio)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("SynthesizeOrNil took %v", elapsed)
	}
}

func TestResolveVoice(t *testing.T) {
	cases := map[string]string{
		"":              DefaultVoice,
		"luna":          "aura-luna-en",
		"aura-zeus-en":  "aura-zeus-en",
		"no-such-voice": DefaultVoice,
	}
	for in, want := range cases {
		if got := ResolveVoice(in); got != want {
			t.Errorf("ResolveVoice(%q)=%q, want %q", in, got, want)
		}
	}
}
