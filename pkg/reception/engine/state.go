package engine

import (
	"time"

	"github.com/vango-go/vai-reception/pkg/reception/intent"
	"github.com/vango-go/vai-reception/pkg/reception/tools"
	"github.com/vango-go/vai-reception/pkg/reception/workflow"
	"github.com/vango-go/vai-reception/pkg/store"
)

// CallState is everything the engine knows about one call. It is owned by
// the call's session and must not be shared between goroutines.
type CallState struct {
	CallID      string
	CallerPhone string
	Business    *store.Business
	History     History

	workflow.Progress

	// PrimaryIntent is sticky across turns; LastIntent is the most recent
	// utterance's classification.
	PrimaryIntent intent.Intent
	LastIntent    intent.Intent
	LastIssue     *intent.Profile

	Tools []ToolCall
}

// ToolCall is one executed lookup.
type ToolCall struct {
	ID         string
	Name       string
	Input      map[string]any
	Result     tools.Result
	Prefetched bool
	At         time.Time
}

// NewCallState starts a call for biz, which may be nil when the business
// could not be loaded.
func NewCallState(callID, callerPhone string, biz *store.Business) *CallState {
	return &CallState{CallID: callID, CallerPhone: callerPhone, Business: biz}
}

// BusinessID returns the tenant id or "".
func (s *CallState) BusinessID() string {
	if s.Business == nil {
		return ""
	}
	return s.Business.ID
}

// EffectiveIntent is the sticky intent when set, else the latest one.
func (s *CallState) EffectiveIntent() intent.Intent {
	if s.PrimaryIntent != "" {
		return s.PrimaryIntent
	}
	return s.LastIntent
}

// Greet records the greeting as the first assistant turn and returns it.
func (s *CallState) Greet() string {
	var greeting string
	if s.Business != nil {
		greeting = s.Business.AIConfig.GreetingFor(s.Business.Name)
	} else {
		greeting = store.AIConfig{}.GreetingFor("")
	}
	s.History.AddAssistant(greeting)
	return greeting
}
