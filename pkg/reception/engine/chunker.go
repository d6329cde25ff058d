package engine

import "strings"

const (
	chunkMinSize = 10
	chunkMaxSize = 50
)

// Chunker groups streamed model text into phrases worth sending to speech
// synthesis: a sentence or clause once it reaches chunkMinSize, or any
// chunkMaxSize run.
type Chunker struct {
	buf strings.Builder
}

// Push adds a delta and returns a phrase when one is ready.
func (c *Chunker) Push(delta string) (string, bool) {
	c.buf.WriteString(delta)
	if !c.ready() {
		return "", false
	}
	return c.take(), true
}

// Flush returns whatever is buffered.
func (c *Chunker) Flush() (string, bool) {
	if strings.TrimSpace(c.buf.String()) == "" {
		c.buf.Reset()
		return "", false
	}
	return c.take(), true
}

func (c *Chunker) ready() bool {
	s := c.buf.String()
	if s == "" {
		return false
	}
	trimmed := strings.TrimRight(s, " \t\r\n")
	if trimmed == "" {
		return false
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?', ',', ';', ':':
		return len(s) >= chunkMinSize
	}
	return len(s) >= chunkMaxSize
}

func (c *Chunker) take() string {
	s := c.buf.String()
	c.buf.Reset()
	return s
}
