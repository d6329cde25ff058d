package protocol

import (
	"encoding/xml"
	"net/http"
	"strings"
)

// ContentTypeTwiML is the response type for webhook documents.
const ContentTypeTwiML = "application/xml"

// NotConfiguredMessage is spoken when a dialled number maps to no business.
const NotConfiguredMessage = "Sorry, this number is not configured. Goodbye."

// StreamParam is one custom parameter forwarded to the media stream.
type StreamParam struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type twimlResponse struct {
	XMLName xml.Name      `xml:"Response"`
	Say     *twimlSay     `xml:"Say,omitempty"`
	Connect *twimlConnect `xml:"Connect,omitempty"`
	Hangup  *struct{}     `xml:"Hangup,omitempty"`
}

type twimlSay struct {
	Text string `xml:",chardata"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL    string        `xml:"url,attr"`
	Params []StreamParam `xml:"Parameter"`
}

func render(r twimlResponse) ([]byte, error) {
	body, err := xml.Marshal(r)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}

// ConnectStream routes the call onto a bidirectional media stream.
func ConnectStream(url string, params ...StreamParam) ([]byte, error) {
	return render(twimlResponse{Connect: &twimlConnect{Stream: twimlStream{URL: url, Params: params}}})
}

// SayAndHangup speaks text and ends the call.
func SayAndHangup(text string) ([]byte, error) {
	return render(twimlResponse{Say: &twimlSay{Text: text}, Hangup: &struct{}{}})
}

// StreamURL builds the media-stream websocket URL for a webhook request.
// publicHost overrides the request host. Forwarded headers win over the
// request itself, and localhost always gets plain ws.
func StreamURL(r *http.Request, publicHost, path string) string {
	host := strings.TrimSpace(publicHost)
	if host == "" {
		host = firstValue(r.Header.Get("X-Forwarded-Host"))
	}
	if host == "" {
		host = r.Host
	}
	scheme := "wss"
	switch proto := strings.ToLower(firstValue(r.Header.Get("X-Forwarded-Proto"))); {
	case isLocalHost(host):
		scheme = "ws"
	case proto == "http":
		scheme = "ws"
	case proto == "" && r.TLS == nil && publicHost == "":
		scheme = "ws"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return scheme + "://" + host + path
}

func firstValue(header string) string {
	if i := strings.IndexByte(header, ','); i >= 0 {
		header = header[:i]
	}
	return strings.TrimSpace(header)
}

func isLocalHost(host string) bool {
	h := host
	if i := strings.LastIndexByte(h, ':'); i >= 0 && !strings.HasSuffix(h, "]") {
		h = h[:i]
	}
	h = strings.Trim(h, "[]")
	return h == "localhost" || h == "127.0.0.1" || h == "::1"
}
