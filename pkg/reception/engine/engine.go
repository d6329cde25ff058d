// Package engine turns one caller utterance into a spoken reply: intent
// detection, a streaming tool-using completion, the workflow pipeline and
// the end-of-call decision.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/vango-go/vai-reception/pkg/core"
	"github.com/vango-go/vai-reception/pkg/core/types"
	"github.com/vango-go/vai-reception/pkg/reception/intent"
	"github.com/vango-go/vai-reception/pkg/reception/tools"
	"github.com/vango-go/vai-reception/pkg/reception/workflow"
	"github.com/vango-go/vai-reception/pkg/store"
)

// Lines spoken by the engine itself.
const (
	FallbackLine    = "Sorry, I'm having trouble right now. Can you say that again?"
	ToolLimitLine   = "I'm having trouble pulling that up right now. Would you like me to take a message?"
	DefaultModel    = "gpt-4o-mini"
	defaultMaxTools = 2
)

const (
	replyMaxTokens     = 150
	replyTemperature   = 0.7
	defaultToolTimeout = 5 * time.Second
	defaultTurnTimeout = 30 * time.Second
)

// Voice is where the engine's speech goes. Say queues a phrase; EndTurn
// marks the end of a run of phrases so synthesis can finish it.
// Implementations own their failure handling; errors are only logged.
type Voice interface {
	Say(ctx context.Context, text string) error
	EndTurn(ctx context.Context) error
}

// Dependencies wires an Engine.
type Dependencies struct {
	LLM       core.Provider
	Model     string
	Detector  *intent.Detector
	Tools     *tools.Router
	Workflows *workflow.Pipeline
	// Calls receives transcript and intent updates; nil disables them.
	Calls        store.Calls
	Logger       *slog.Logger
	MaxToolCalls int
	ToolTimeout  time.Duration
	TurnTimeout  time.Duration
	Now          func() time.Time
}

// Engine processes utterances. It holds no per-call state and is safe for
// concurrent use across calls.
type Engine struct {
	llm          core.Provider
	model        string
	detector     *intent.Detector
	tools        *tools.Router
	workflows    *workflow.Pipeline
	calls        store.Calls
	logger       *slog.Logger
	maxToolCalls int
	toolTimeout  time.Duration
	turnTimeout  time.Duration
	now          func() time.Time
}

func New(deps Dependencies) (*Engine, error) {
	if deps.LLM == nil {
		return nil, errors.New("engine: LLM provider is required")
	}
	e := &Engine{
		llm:          deps.LLM,
		model:        deps.Model,
		detector:     deps.Detector,
		tools:        deps.Tools,
		workflows:    deps.Workflows,
		calls:        deps.Calls,
		logger:       deps.Logger,
		maxToolCalls: deps.MaxToolCalls,
		toolTimeout:  deps.ToolTimeout,
		turnTimeout:  deps.TurnTimeout,
		now:          deps.Now,
	}
	if e.model == "" {
		e.model = DefaultModel
	}
	if e.detector == nil {
		e.detector = intent.NewDetector(nil)
	}
	if e.workflows == nil {
		e.workflows = workflow.NewPipeline(deps.Logger)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.maxToolCalls <= 0 {
		e.maxToolCalls = defaultMaxTools
	}
	if e.toolTimeout <= 0 {
		e.toolTimeout = defaultToolTimeout
	}
	if e.turnTimeout <= 0 {
		e.turnTimeout = defaultTurnTimeout
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// Result describes one processed utterance.
type Result struct {
	UserText string
	// Reply is everything spoken this turn, model text first.
	Reply         string
	Intent        intent.Detected
	Mode          Mode
	ToolCalls     int
	Workflow      workflow.Result
	ShouldEndCall bool
	// Failed means the fallback line was spoken instead of a reply.
	Failed    bool
	FirstText time.Duration
	Duration  time.Duration
	// Booking is set on the turn that created one.
	Booking *store.Booking
}

// Process runs one caller utterance through the pipeline and speaks the
// reply on voice. It never returns an error: failures are logged and the
// fallback line is spoken instead.
func (e *Engine) Process(ctx context.Context, s *CallState, userText string, voice Voice) Result {
	start := e.now()
	text := strings.TrimSpace(userText)
	res := Result{UserText: text}
	if text == "" {
		return res
	}
	logger := e.logger.With("call_id", s.CallID, "business_id", s.BusinessID())

	detected := e.detector.Detect(text)
	s.LastIntent = detected.Intent
	s.LastIssue = detected.Issue
	s.PrimaryIntent = intent.Sticky(s.PrimaryIntent, detected.Intent)
	effective := s.EffectiveIntent()
	res.Intent = detected
	res.Mode = ModeFor(effective)
	logger.Info("utterance", "intent", detected.Intent, "primary", s.PrimaryIntent,
		"confidence", detected.Confidence, "issue", detected.IssueID())

	prior := s.History.Messages()
	s.History.AddUser(text)

	turnCtx, cancel := context.WithTimeout(ctx, e.turnTimeout)
	defer cancel()

	reply, err := e.reply(turnCtx, s, text, prior, res.Mode, detected.Issue, voice, &res, start)
	if err != nil {
		res.Failed = true
		logger.Error("turn failed", "err", err)
		if ctx.Err() != nil {
			res.Duration = e.now().Sub(start)
			return res
		}
		e.say(ctx, logger, voice, FallbackLine)
		e.endTurn(ctx, logger, voice)
		reply = strings.TrimSpace(strings.TrimSpace(reply) + " " + FallbackLine)
		s.History.AddAssistant(reply)
		res.Reply = reply
		e.recordTurn(ctx, logger, s, text, reply)
		res.Duration = e.now().Sub(start)
		return res
	}
	s.History.AddAssistant(reply)

	wres := e.workflows.Run(ctx, workflow.Turn{
		CallID:      s.CallID,
		CallerPhone: s.CallerPhone,
		Business:    s.Business,
		History:     s.History.Messages(),
		UserText:    text,
		ModelText:   reply,
		Intent:      detected,
		Effective:   effective,
		Progress:    &s.Progress,
	})
	res.Workflow = wres
	res.Booking = wres.Booking

	spoken := []string{reply}
	if len(wres.BackendMessages) > 0 {
		for _, msg := range wres.BackendMessages {
			e.say(ctx, logger, voice, msg)
			s.History.AddAssistant(msg)
			spoken = append(spoken, msg)
		}
		e.endTurn(ctx, logger, voice)
	}
	res.Reply = strings.TrimSpace(strings.Join(spoken, " "))

	e.recordTurn(ctx, logger, s, text, res.Reply)

	res.ShouldEndCall = wres.ShouldEndCall || ShouldEndCall(text, res.Reply, s.BookingCreated)
	res.Duration = e.now().Sub(start)
	logger.Info("turn complete", "mode", res.Mode, "tools", res.ToolCalls,
		"end_call", res.ShouldEndCall, "duration_ms", res.Duration.Milliseconds())
	return res
}

// reply streams the model's answer to voice, running tool calls as they
// arrive. The returned text is whatever was spoken, also on error.
func (e *Engine) reply(ctx context.Context, s *CallState, text string, prior []types.Message, mode Mode, issue *intent.Profile, voice Voice, res *Result, start time.Time) (string, error) {
	logger := e.logger.With("call_id", s.CallID)
	messages := append(prior, types.Message{Role: types.RoleUser, Content: text})
	messages = append(messages, e.prefetch(ctx, s, text, mode)...)

	req := &types.MessageRequest{
		Model:       e.model,
		System:      SystemPrompt(s.Business, mode, issue),
		MaxTokens:   replyMaxTokens,
		Temperature: ptr(replyTemperature),
	}
	if defs := e.tools.Definitions(); len(defs) > 0 {
		req.Tools = defs
		req.ToolChoice = types.ToolChoiceAuto()
	}

	var spoken strings.Builder
	var chunker Chunker
	emit := func(phrase string) {
		if res.FirstText == 0 {
			res.FirstText = e.now().Sub(start)
		}
		spoken.WriteString(phrase)
		e.say(ctx, logger, voice, phrase)
	}
	interject := func(line string) {
		if phrase, ok := chunker.Flush(); ok {
			emit(phrase)
		}
		emit(spacer(spoken.String()) + line)
	}
	finish := func() string {
		if phrase, ok := chunker.Flush(); ok {
			emit(phrase)
		}
		e.endTurn(ctx, logger, voice)
		return strings.TrimSpace(spoken.String())
	}

	used := 0
	for {
		req.Messages = messages
		call, err := e.streamOnce(ctx, req, func(delta string) {
			if phrase, ok := chunker.Push(delta); ok {
				emit(phrase)
			}
		})
		if err != nil {
			return finish(), err
		}
		if call == nil {
			break
		}

		used++
		res.ToolCalls = used
		if used > e.maxToolCalls {
			logger.Warn("tool call limit reached", "tool", call.Name, "limit", e.maxToolCalls)
			interject(ToolLimitLine)
			break
		}
		if q := tools.ClarifyingQuestion(call.Name, call.Input); q != "" {
			interject(q)
			break
		}
		if call.ID == "" {
			call.ID = fmt.Sprintf("tool_call_%d", used)
		}
		result := e.runTool(ctx, s, call.ID, call.Name, call.Input, false)
		messages = append(messages, toolTurns(call.ID, call.Name, call.Input, result)...)
	}
	return finish(), nil
}

// streamOnce runs one completion, forwarding text deltas until the first
// tool call. It returns that tool call, or nil when the model just talked.
func (e *Engine) streamOnce(ctx context.Context, req *types.MessageRequest, onText func(string)) (*types.ToolUseBlock, error) {
	stream, err := e.llm.StreamMessage(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("stream completion: %w", err)
	}
	defer stream.Close()

	var call *types.ToolUseBlock
	for {
		ev, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return call, nil
			}
			return call, fmt.Errorf("read completion: %w", err)
		}
		switch ev := ev.(type) {
		case types.ContentBlockDeltaEvent:
			if td, ok := ev.Delta.(types.TextDelta); ok && call == nil && td.Text != "" {
				onText(td.Text)
			}
		case types.ContentBlockStartEvent:
			if tu, ok := ev.ContentBlock.(types.ToolUseBlock); ok && call == nil {
				call = &tu
			}
		}
	}
}

// prefetch runs the lookups the turn will obviously need and returns them
// as tool turns, saving the model a round trip.
func (e *Engine) prefetch(ctx context.Context, s *CallState, text string, mode Mode) []types.Message {
	var names []string
	if mode == ModeBooking && s.Booking.Service == "" && e.tools.Has(tools.ToolBusinessServices) {
		names = append(names, tools.ToolBusinessServices)
	}
	if workflow.IsAvailabilityQuestion(text) && e.tools.Has(tools.ToolWorkingHours) {
		names = append(names, tools.ToolWorkingHours)
	}
	var out []types.Message
	for i, name := range names {
		id := fmt.Sprintf("prefetch_%d", i+1)
		input := map[string]any{}
		result := e.runTool(ctx, s, id, name, input, true)
		out = append(out, toolTurns(id, name, input, result)...)
	}
	return out
}

func (e *Engine) runTool(ctx context.Context, s *CallState, id, name string, input map[string]any, prefetched bool) tools.Result {
	tctx, cancel := context.WithTimeout(ctx, e.toolTimeout)
	defer cancel()
	result, err := e.tools.Execute(tctx, tools.Scope{BusinessID: s.BusinessID(), CallerPhone: s.CallerPhone}, name, input)
	if err != nil {
		e.logger.Warn("tool failed", "call_id", s.CallID, "tool", name, "err", err)
		result = tools.Result{"error": tools.ErrLookupFailed}
	}
	s.Tools = append(s.Tools, ToolCall{ID: id, Name: name, Input: input, Result: result, Prefetched: prefetched, At: e.now()})
	return result
}

func toolTurns(id, name string, input map[string]any, result tools.Result) []types.Message {
	payload, err := json.Marshal(result)
	if err != nil {
		payload = []byte(`{"error":"` + tools.ErrLookupFailed + `"}`)
	}
	return []types.Message{
		{Role: types.RoleAssistant, Content: []types.ContentBlock{
			types.ToolUseBlock{Type: "tool_use", ID: id, Name: name, Input: input},
		}},
		{Role: types.RoleUser, Content: []types.ContentBlock{
			types.ToolResultBlock{Type: "tool_result", ToolUseID: id, Content: string(payload)},
		}},
	}
}

// recordTurn appends the exchange to the call record.
func (e *Engine) recordTurn(ctx context.Context, logger *slog.Logger, s *CallState, userText, reply string) {
	if e.calls == nil || s.CallID == "" {
		return
	}
	lines := "Customer: " + userText
	if reply != "" {
		lines += "\nAI: " + reply
	}
	update := store.CallUpdate{AppendTranscript: &lines}
	if in := string(s.EffectiveIntent()); in != "" {
		update.Intent = &in
	}
	if err := e.calls.UpdateCall(ctx, s.CallID, update); err != nil {
		logger.Warn("call record update failed", "err", err)
	}
}

func (e *Engine) say(ctx context.Context, logger *slog.Logger, voice Voice, text string) {
	if voice == nil || strings.TrimSpace(text) == "" {
		return
	}
	if err := voice.Say(ctx, text); err != nil {
		logger.Warn("speech failed", "err", err)
	}
}

func (e *Engine) endTurn(ctx context.Context, logger *slog.Logger, voice Voice) {
	if voice == nil {
		return
	}
	if err := voice.EndTurn(ctx); err != nil {
		logger.Warn("speech flush failed", "err", err)
	}
}

// spacer returns the separator needed before appending to spoken text.
func spacer(spoken string) string {
	if spoken == "" || strings.HasSuffix(spoken, " ") {
		return ""
	}
	return " "
}

func ptr[T any](v T) *T { return &v }
