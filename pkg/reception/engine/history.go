package engine

import (
	"strings"

	"github.com/vango-go/vai-reception/pkg/core/types"
)

// History is the spoken conversation as the model sees it. Consecutive
// turns from the same speaker are merged, so roles always alternate.
type History struct {
	turns []types.Message
}

func (h *History) AddUser(text string)      { h.add(types.RoleUser, text) }
func (h *History) AddAssistant(text string) { h.add(types.RoleAssistant, text) }

func (h *History) add(role, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if n := len(h.turns); n > 0 && h.turns[n-1].Role == role {
		h.turns[n-1].Content = h.turns[n-1].TextContent() + " " + text
		return
	}
	h.turns = append(h.turns, types.Message{Role: role, Content: text})
}

// Messages returns a copy of the turns.
func (h *History) Messages() []types.Message {
	out := make([]types.Message, len(h.turns))
	copy(out, h.turns)
	return out
}

func (h *History) Len() int { return len(h.turns) }

// Last returns the newest turn, or false when empty.
func (h *History) Last() (types.Message, bool) {
	if len(h.turns) == 0 {
		return types.Message{}, false
	}
	return h.turns[len(h.turns)-1], true
}
