package mw

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// fakeWriter is a ResponseWriter whose optional interfaces are chosen per
// test through the wrapper types below.
type fakeWriter struct {
	header   http.Header
	body     bytes.Buffer
	flushed  bool
	hijacked bool
}

func (w *fakeWriter) Header() http.Header {
	if w.header == nil {
		w.header = make(http.Header)
	}
	return w.header
}
func (w *fakeWriter) WriteHeader(int)             {}
func (w *fakeWriter) Write(p []byte) (int, error) { return w.body.Write(p) }

type flushingWriter struct{ *fakeWriter }

func (w flushingWriter) Flush() { w.flushed = true }

type hijackingWriter struct{ *fakeWriter }

func (w hijackingWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	w.hijacked = true
	return nil, nil, nil
}

type fullWriter struct{ *fakeWriter }

func (w fullWriter) Flush() { w.flushed = true }
func (w fullWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	w.hijacked = true
	return nil, nil, nil
}

// serveLogged runs h behind RequestID and AccessLog and returns the single
// access-log record.
func serveLogged(t *testing.T, w http.ResponseWriter, path string, h http.HandlerFunc) map[string]any {
	t.Helper()
	var out bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&out, nil))
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("X-Request-ID", "req_test")
	RequestID(AccessLog(logger)(h)).ServeHTTP(w, req)

	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("expected log output")
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		t.Fatalf("unmarshal log: %v", err)
	}
	return rec
}

func TestAccessLog_OptionalInterfaces(t *testing.T) {
	cases := []struct {
		name          string
		writer        func(*fakeWriter) http.ResponseWriter
		flush, hijack bool
	}{
		{"plain", func(f *fakeWriter) http.ResponseWriter { return f }, false, false},
		{"flusher", func(f *fakeWriter) http.ResponseWriter { return flushingWriter{f} }, true, false},
		{"hijacker", func(f *fakeWriter) http.ResponseWriter { return hijackingWriter{f} }, false, true},
		{"both", func(f *fakeWriter) http.ResponseWriter { return fullWriter{f} }, true, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			base := &fakeWriter{}
			serveLogged(t, tc.writer(base), "/media-stream", func(w http.ResponseWriter, r *http.Request) {
				f, canFlush := w.(http.Flusher)
				hj, canHijack := w.(http.Hijacker)
				if canFlush != tc.flush || canHijack != tc.hijack {
					t.Fatalf("flusher=%v hijacker=%v, want %v/%v", canFlush, canHijack, tc.flush, tc.hijack)
				}
				if canFlush {
					f.Flush()
				}
				if canHijack {
					if _, _, err := hj.Hijack(); err != nil {
						t.Fatalf("hijack: %v", err)
					}
				}
			})
			if base.flushed != tc.flush {
				t.Fatalf("flush delegated=%v, want %v", base.flushed, tc.flush)
			}
			if base.hijacked != tc.hijack {
				t.Fatalf("hijack delegated=%v, want %v", base.hijacked, tc.hijack)
			}
		})
	}
}

func TestAccessLog_Status(t *testing.T) {
	cases := []struct {
		name   string
		writer func(*fakeWriter) http.ResponseWriter
		h      http.HandlerFunc
		want   int
	}{
		{
			name:   "explicit",
			writer: func(f *fakeWriter) http.ResponseWriter { return f },
			h:      func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusAccepted) },
			want:   http.StatusAccepted,
		},
		{
			name:   "implicit write",
			writer: func(f *fakeWriter) http.ResponseWriter { return f },
			h:      func(w http.ResponseWriter, r *http.Request) { _, _ = io.WriteString(w, "<Response/>") },
			want:   http.StatusOK,
		},
		{
			name:   "websocket upgrade",
			writer: func(f *fakeWriter) http.ResponseWriter { return hijackingWriter{f} },
			h: func(w http.ResponseWriter, r *http.Request) {
				_, _, _ = w.(http.Hijacker).Hijack()
			},
			want: http.StatusSwitchingProtocols,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serveLogged(t, tc.writer(&fakeWriter{}), "/voice/incoming/biz-1", tc.h)
			if got, ok := rec["status"].(float64); !ok || int(got) != tc.want {
				t.Fatalf("logged status=%v, want %d", rec["status"], tc.want)
			}
			if rec["request_id"] != "req_test" {
				t.Fatalf("request_id=%v", rec["request_id"])
			}
			if rec["path"] != "/voice/incoming/biz-1" {
				t.Fatalf("path=%v", rec["path"])
			}
		})
	}
}
