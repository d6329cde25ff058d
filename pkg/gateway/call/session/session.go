// Package session runs one phone call: it bridges the carrier media stream
// to streaming STT and TTS and feeds finished utterances to the engine. A
// single goroutine owns all call state; sockets, timers and the engine run
// report to it over channels.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/vango-go/vai-reception/pkg/core/voice/stt"
	"github.com/vango-go/vai-reception/pkg/core/voice/tts"
	"github.com/vango-go/vai-reception/pkg/gateway/call/protocol"
	"github.com/vango-go/vai-reception/pkg/gateway/call/registry"
	"github.com/vango-go/vai-reception/pkg/gateway/metrics"
	"github.com/vango-go/vai-reception/pkg/reception/engine"
	"github.com/vango-go/vai-reception/pkg/store"
	"github.com/vango-go/vai-reception/pkg/telephony"
)

const (
	defaultDebounce        = 400 * time.Millisecond
	defaultEndCallTimeout  = 2 * time.Second
	defaultFlushTimeout    = 10 * time.Second
	defaultSynthTimeout    = 4 * time.Second
	defaultStartTimeout    = 10 * time.Second
	defaultReadTimeout     = 60 * time.Second
	defaultOutboundQueue   = 256
	defaultFrameBytes      = 3200 // 400ms of 8kHz mu-law
	priorityQueueSize      = 8
	hangupTimeout          = 5 * time.Second
	finalizeTimeout        = 5 * time.Second
	clipQueueSize          = 4
	inboundQueueSize       = 64
	defaultAudioFPS        = 100
	defaultAudioBytesPerS  = 16000
	defaultInboundBurstSec = 2
	// speechHold caps how long a started utterance can delay the engine.
	speechHold             = 2 * time.Second
)

// End reasons reported by Run.
const (
	ReasonCompleted    = "completed"
	ReasonCallerHangup = "caller_hangup"
	ReasonDisconnected = "disconnected"
	ReasonCanceled     = "canceled"
	ReasonWriteFailed  = "write_failed"
)

var errStoppedBeforeStart = errors.New("stream stopped before start")

type Config struct {
	// Debounce is how long to wait after an utterance end for more speech
	// before running the engine.
	Debounce time.Duration
	// EndCallTimeout bounds the wait for the farewell to finish playing.
	EndCallTimeout time.Duration
	// SynthTimeout bounds one-shot synthesis when streaming TTS is down.
	SynthTimeout time.Duration
	// FlushTimeout bounds the wait for TTS to confirm a flush. Unconfirmed
	// flushes are written off so playback can go idle.
	FlushTimeout time.Duration
	StartTimeout time.Duration
	PingInterval time.Duration
	WriteTimeout time.Duration
	ReadTimeout  time.Duration

	OutboundQueueSize int
	FrameBytes        int

	MaxAudioFPS            int
	MaxAudioBytesPerSecond int
	InboundBurstSeconds    int

	STT stt.Options
	TTS tts.Options
}

func (c Config) withDefaults() Config {
	if c.Debounce <= 0 {
		c.Debounce = defaultDebounce
	}
	if c.EndCallTimeout <= 0 {
		c.EndCallTimeout = defaultEndCallTimeout
	}
	if c.SynthTimeout <= 0 {
		c.SynthTimeout = defaultSynthTimeout
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = defaultFlushTimeout
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = defaultStartTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.OutboundQueueSize <= 0 {
		c.OutboundQueueSize = defaultOutboundQueue
	}
	if c.FrameBytes <= 0 {
		c.FrameBytes = defaultFrameBytes
	}
	if c.MaxAudioFPS == 0 {
		c.MaxAudioFPS = defaultAudioFPS
	}
	if c.MaxAudioBytesPerSecond == 0 {
		c.MaxAudioBytesPerSecond = defaultAudioBytesPerS
	}
	if c.InboundBurstSeconds <= 0 {
		c.InboundBurstSeconds = defaultInboundBurstSec
	}
	return c
}

// Processor turns one utterance into speech; *engine.Engine implements it.
type Processor interface {
	Process(ctx context.Context, s *engine.CallState, userText string, voice engine.Voice) engine.Result
}

type Dependencies struct {
	Conn   *websocket.Conn
	Logger *slog.Logger
	Engine Processor

	Businesses store.Businesses
	// Calls receives the final outcome; nil skips it.
	Calls store.Calls

	DialSTT ListenerDialer
	// DialTTS may be nil, in which case every turn uses Synth.
	DialTTS SpeakerDialer
	Synth   tts.Synthesizer
	// FallbackAudio plays when synthesis fails; it may be empty.
	FallbackAudio []byte

	Control  telephony.CallControl
	Registry registry.Registry
	Metrics  *metrics.Metrics
	Config   Config
	Now      func() time.Time
}

// Session is one media-stream connection.
type Session struct {
	conn       *websocket.Conn
	logger     *slog.Logger
	engine     Processor
	businesses store.Businesses
	calls      store.Calls
	dialSTT    ListenerDialer
	dialTTS    SpeakerDialer
	synth      tts.Synthesizer
	fallback   []byte
	control    telephony.CallControl
	registry   registry.Registry
	metrics    *metrics.Metrics
	cfg        Config
	now        func() time.Time

	priority chan outboundFrame
	normal   chan outboundFrame

	// gen is bumped on barge-in; queued audio from older generations is
	// dropped by the writer.
	gen        atomic.Uint64
	flushes    atomic.Int64
	staleDrops atomic.Int64

	// report is written when the call finishes.
	report CallMetrics
}

// CallMetrics is the per-call timing and counters. Timestamps are set once;
// counters only grow.
type CallMetrics struct {
	FirstAudio      time.Time
	FirstTranscript time.Time
	FirstResponse   time.Time

	BargeIns   int
	Utterances int
	Responses  int
}

func setOnce(t *time.Time, now time.Time) {
	if t.IsZero() {
		*t = now
	}
}

// since returns t relative to start, or zero when t was never set.
func since(start, t time.Time) time.Duration {
	if t.IsZero() {
		return 0
	}
	return t.Sub(start)
}

// CallMetrics returns the finished call's metrics. It is only meaningful
// after Run returns.
func (s *Session) CallMetrics() CallMetrics { return s.report }

func New(deps Dependencies) (*Session, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if deps.DialSTT == nil {
		return nil, fmt.Errorf("stt dialer is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Control == nil {
		deps.Control = telephony.NopControl{}
	}
	if deps.Registry == nil {
		deps.Registry = registry.NewTracker()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	cfg := deps.Config.withDefaults()
	return &Session{
		conn:       deps.Conn,
		logger:     deps.Logger,
		engine:     deps.Engine,
		businesses: deps.Businesses,
		calls:      deps.Calls,
		dialSTT:    deps.DialSTT,
		dialTTS:    deps.DialTTS,
		synth:      deps.Synth,
		fallback:   deps.FallbackAudio,
		control:    deps.Control,
		registry:   deps.Registry,
		metrics:    deps.Metrics,
		cfg:        cfg,
		now:        deps.Now,
		priority:   make(chan outboundFrame, priorityQueueSize),
		normal:     make(chan outboundFrame, cfg.OutboundQueueSize),
	}, nil
}

type inboundFrame struct {
	data []byte
	err  error
}

// Run serves the call until the stream stops, the socket drops, the call
// is hung up or ctx ends. It returns nil for every normal ending.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	started := s.now()

	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	var wg sync.WaitGroup
	readCh := make(chan inboundFrame, inboundQueueSize)
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.readLoop(ctx, readCh)
	}()

	writerDone := make(chan struct{})
	var writerErr error
	go func() {
		defer close(writerDone)
		w := outboundWriter{
			ws:           s.conn,
			ctx:          ctx,
			pingInterval: s.cfg.PingInterval,
			writeTimeout: s.cfg.WriteTimeout,
			priority:     s.priority,
			normal:       s.normal,
			isStale:      func(gen uint64) bool { return gen < s.gen.Load() },
			onDrop:       func() { s.staleDrops.Add(1) },
		}
		writerErr = w.Run()
	}()

	// shutdown stops the socket goroutines and any engine run.
	shutdown := sync.OnceFunc(func() {
		cancel()
		timer := time.NewTimer(s.cfg.WriteTimeout + 100*time.Millisecond)
		select {
		case <-writerDone:
		case <-timer.C:
		}
		timer.Stop()
		_ = s.conn.Close()
		wg.Wait()
	})
	defer shutdown()

	start, err := s.awaitStart(ctx, readCh)
	if err != nil {
		if errors.Is(err, errStoppedBeforeStart) {
			s.logger.Info("media stream stopped before start")
			return nil
		}
		return err
	}

	c := s.newCall(ctx, start, readCh, &wg)
	c.started = started
	unregister, err := s.registry.Register(ctx, registry.Entry{
		CallID:      c.callID,
		BusinessID:  c.state.BusinessID(),
		CallSID:     c.callSID,
		StreamSID:   c.streamSID,
		CallerPhone: c.state.CallerPhone,
		StartedAt:   started,
	}, cancel)
	if err != nil {
		c.logger.Warn("call registry update failed", "err", err)
	}
	if unregister != nil {
		defer unregister()
	}
	s.metrics.RecordCallStart()

	c.connectSpeech(ctx)
	reason := c.loop(ctx, writerDone, &writerErr)

	c.closeSpeech()
	shutdown()

	c.finish(reason, s.now().Sub(started))
	s.report = c.stats
	if reason == ReasonWriteFailed && writerErr != nil {
		return fmt.Errorf("media stream write: %w", writerErr)
	}
	return nil
}

func (s *Session) readLoop(ctx context.Context, out chan<- inboundFrame) {
	defer close(out)
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-ctx.Done():
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		if mt != websocket.TextMessage {
			continue
		}
		select {
		case out <- inboundFrame{data: data}:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) awaitStart(ctx context.Context, readCh <-chan inboundFrame) (protocol.Inbound, error) {
	timer := time.NewTimer(s.cfg.StartTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return protocol.Inbound{}, ctx.Err()
		case <-timer.C:
			return protocol.Inbound{}, fmt.Errorf("no start frame within %s", s.cfg.StartTimeout)
		case f, ok := <-readCh:
			if !ok || f.err != nil {
				return protocol.Inbound{}, fmt.Errorf("media stream closed before start: %w", f.err)
			}
			in, err := protocol.DecodeInbound(f.data)
			if err != nil {
				s.logger.Warn("bad media stream frame", "err", err)
				continue
			}
			switch in.Event {
			case protocol.EventStart:
				return in, nil
			case protocol.EventStop:
				return protocol.Inbound{}, errStoppedBeforeStart
			case protocol.EventConnected:
				s.logger.Debug("media stream connected", "protocol", in.Protocol, "version", in.Version)
			}
		}
	}
}

// call is the actor state. Only the loop goroutine touches it, except state,
// which the engine run owns while running is true.
type call struct {
	s      *Session
	logger *slog.Logger
	wg     *sync.WaitGroup

	streamSID string
	callSID   string
	callID    string
	state     *engine.CallState

	readCh   <-chan inboundFrame
	listener Listener
	speaker  Speaker
	voice    *voice
	limiter  *inboundLimiter
	clips    chan []byte
	runDone  chan engine.Result
	// flushReq is poked by the voice after each Flush request.
	flushReq chan struct{}

	heard     []string
	pending   []string
	debounce  *time.Timer
	debounceC <-chan time.Time

	running      bool
	aiSpeaking   bool
	userSpeaking bool
	speechAt     time.Time
	unmarked     bool
	marks        map[string]struct{}

	flushTimer *time.Timer
	flushC     <-chan time.Time

	// Stale speech after a barge-in: Flushed events still owed by the
	// interrupted speech, and whether to drop audio until the next run.
	suppressFlushes  int64
	suppressUntilRun bool

	pendingEnd bool
	endTimer   *time.Timer
	endC       <-chan time.Time

	started  time.Time
	reason   string
	stats    CallMetrics
	booked   bool
	bytesIn  int64
	bytesOut int64
	dropped  map[string]int
}

func (s *Session) newCall(ctx context.Context, start protocol.Inbound, readCh <-chan inboundFrame, wg *sync.WaitGroup) *call {
	params := start.Start
	callID := params.Param(protocol.ParamCallID)
	if callID == "" {
		callID = uuid.NewString()
	}
	streamSID := params.StreamSID
	if streamSID == "" {
		streamSID = start.StreamSID
	}
	businessID := params.Param(protocol.ParamBusinessID)
	logger := s.logger.With("call_id", callID, "business_id", businessID, "call_sid", params.CallSID)

	var biz *store.Business
	if businessID != "" && s.businesses != nil {
		b, err := s.businesses.GetBusiness(ctx, businessID)
		if err != nil {
			logger.Warn("business lookup failed; continuing with stream parameters", "err", err)
			biz = &store.Business{ID: businessID, Name: params.Param(protocol.ParamBusinessName)}
		} else {
			biz = b
		}
	}

	c := &call{
		s:         s,
		logger:    logger,
		wg:        wg,
		streamSID: streamSID,
		callSID:   params.CallSID,
		callID:    callID,
		state:     engine.NewCallState(callID, params.Param(protocol.ParamCallerPhone), biz),
		readCh:    readCh,
		limiter:   newInboundLimiter(s.now, s.cfg.MaxAudioFPS, s.cfg.MaxAudioBytesPerSecond, s.cfg.InboundBurstSeconds),
		clips:     make(chan []byte, clipQueueSize),
		runDone:   make(chan engine.Result, 1),
		flushReq:  make(chan struct{}, 1),
		marks:     make(map[string]struct{}),
		dropped:   make(map[string]int),
	}
	logger.Info("call started", "stream_sid", c.streamSID, "caller", c.state.CallerPhone)
	return c
}

// connectSpeech dials STT and TTS together. Either may fail; the call
// carries on without transcription or with one-shot synthesis.
func (c *call) connectSpeech(ctx context.Context) {
	sttOpts := c.s.cfg.STT
	ttsOpts := c.s.cfg.TTS
	if biz := c.state.Business; biz != nil {
		if biz.AIConfig.Language != "" {
			sttOpts.Language = biz.AIConfig.Language
		}
		if biz.AIConfig.VoiceID != "" {
			ttsOpts.Model = tts.ResolveVoice(biz.AIConfig.VoiceID)
		}
	}

	var g errgroup.Group
	g.Go(func() error {
		l, err := c.s.dialSTT(ctx, sttOpts)
		if err != nil {
			c.logger.Error("stt connect failed", "err", err)
			return nil
		}
		c.listener = l
		return nil
	})
	if c.s.dialTTS != nil {
		g.Go(func() error {
			sp, err := c.s.dialTTS(ctx, ttsOpts)
			if err != nil {
				c.logger.Warn("tts connect failed; using one-shot synthesis", "err", err)
				return nil
			}
			c.speaker = sp
			return nil
		})
	}
	_ = g.Wait()

	c.voice = &voice{
		speaker:   c.speaker,
		synth:     c.s.synth,
		opts:      ttsOpts,
		timeout:   c.s.cfg.SynthTimeout,
		fallback:  c.s.fallback,
		clips:     c.clips,
		flushes:   &c.s.flushes,
		flushReq:  c.flushReq,
		logger:    c.logger,
		metrics:   c.s.metrics,
		streaming: c.speaker != nil,
	}
}

func (c *call) closeSpeech() {
	if c.listener != nil {
		_ = c.listener.Close()
	}
	if c.speaker != nil {
		_ = c.speaker.Close()
	}
}

func (c *call) loop(ctx context.Context, writerDone <-chan struct{}, writerErr *error) string {
	var sttEvents <-chan stt.Event
	if c.listener != nil {
		sttEvents = c.listener.Events()
	}
	var ttsEvents <-chan tts.Event
	if c.speaker != nil {
		ttsEvents = c.speaker.Events()
	}

	c.startRun(ctx, func(ctx context.Context) engine.Result {
		greeting := c.state.Greet()
		_ = c.voice.Say(ctx, greeting)
		_ = c.voice.EndTurn(ctx)
		return engine.Result{}
	})

	for c.reason == "" {
		select {
		case <-ctx.Done():
			c.reason = ReasonCanceled
		case <-writerDone:
			c.logger.Warn("media stream writer stopped", "err", *writerErr)
			c.reason = ReasonWriteFailed
		case f, ok := <-c.readCh:
			if !ok || f.err != nil {
				if f.err != nil && !websocket.IsCloseError(f.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.logger.Info("media stream read ended", "err", f.err)
				}
				c.reason = ReasonDisconnected
				continue
			}
			c.onFrame(ctx, f.data)
		case ev, ok := <-sttEvents:
			if !ok {
				c.logger.Warn("stt stream ended")
				sttEvents = nil
				continue
			}
			c.onSTT(ev)
		case ev, ok := <-ttsEvents:
			if !ok {
				c.logger.Warn("tts stream ended")
				ttsEvents = nil
				c.writeOffFlushes(ctx)
				continue
			}
			c.onTTS(ctx, ev)
		case <-c.flushReq:
			c.watchFlushes()
		case <-c.flushC:
			c.flushC = nil
			c.logger.Warn("tts flush not confirmed in time", "owed", c.s.flushes.Load())
			c.writeOffFlushes(ctx)
		case clip := <-c.clips:
			if c.suppressUntilRun {
				c.dropped["barge_in"]++
				continue
			}
			c.forwardAudio(clip)
			c.markPlayback()
		case res := <-c.runDone:
			c.onRunDone(ctx, res)
		case <-c.debounceC:
			c.debounceC = nil
			if c.userSpeaking && c.s.now().Sub(c.speechAt) < speechHold {
				c.restartDebounce()
				continue
			}
			c.maybeStartRun(ctx)
		case <-c.endC:
			c.endC = nil
			c.logger.Info("farewell playback not confirmed in time; hanging up")
			c.hangup(ctx)
		}
	}
	c.stopDebounce()
	c.stopEnd()
	c.stopFlushWait()
	return c.reason
}

func (c *call) onFrame(ctx context.Context, data []byte) {
	in, err := protocol.DecodeInbound(data)
	if err != nil {
		c.logger.Warn("bad media stream frame", "err", err)
		return
	}
	switch in.Event {
	case protocol.EventMedia:
		audio, err := in.Media.Audio()
		if err != nil {
			c.dropped["bad_payload"]++
			return
		}
		if len(audio) == 0 {
			return
		}
		if !c.limiter.Allow(len(audio)) {
			c.dropped["rate_limited"]++
			return
		}
		c.bytesIn += int64(len(audio))
		if c.listener == nil {
			return
		}
		if err := c.listener.SendAudio(audio); err != nil {
			c.dropped["stt_unavailable"]++
		}
	case protocol.EventMark:
		c.onMark(ctx, in.Mark.Name)
	case protocol.EventStop:
		c.logger.Info("media stream stopped by carrier")
		c.reason = ReasonCallerHangup
	case protocol.EventDTMF:
		if in.DTMF != nil {
			c.logger.Debug("dtmf ignored", "digit", in.DTMF.Digit)
		}
	}
}

func (c *call) onSTT(ev stt.Event) {
	switch ev.Type {
	case stt.EventSpeechStarted:
		c.onSpeechStarted()
	case stt.EventTranscript:
		if !ev.Transcript.IsFinal {
			c.logger.Debug("interim transcript", "text", ev.Transcript.Text)
			return
		}
		if text := strings.TrimSpace(ev.Transcript.Text); text != "" {
			setOnce(&c.stats.FirstTranscript, c.s.now())
			c.heard = append(c.heard, text)
		}
	case stt.EventUtteranceEnd:
		c.userSpeaking = false
		if len(c.heard) > 0 {
			c.stats.Utterances++
			c.pending = append(c.pending, strings.Join(c.heard, " "))
			c.heard = nil
		}
		if len(c.pending) > 0 {
			c.restartDebounce()
		}
	case stt.EventError:
		c.logger.Warn("stt error", "err", ev.Err)
	}
}

func (c *call) onSpeechStarted() {
	c.userSpeaking = true
	c.speechAt = c.s.now()
	if c.pendingEnd {
		c.logger.Info("caller spoke; hang-up cancelled")
		c.pendingEnd = false
		c.stopEnd()
	}
	if !c.aiSpeaking {
		return
	}
	c.aiSpeaking = false
	c.stats.BargeIns++
	c.s.gen.Add(1)
	c.voice.mute()
	c.suppressFlushes = c.s.flushes.Load()
	c.suppressUntilRun = c.running
	if c.speaker != nil && c.speaker.Connected() {
		if err := c.speaker.Clear(); err != nil {
			c.logger.Warn("tts clear failed", "err", err)
		}
	}
	if payload, err := protocol.ClearFrame(c.streamSID); err == nil {
		c.enqueuePriority(payload)
	}
	// The carrier echoes outstanding marks after a clear; they are no
	// longer tracked.
	clear(c.marks)
	c.unmarked = false
	c.logger.Info("barge-in", "count", c.stats.BargeIns)
}

func (c *call) suppressing() bool {
	return c.suppressFlushes > 0 || c.suppressUntilRun
}

func (c *call) onTTS(ctx context.Context, ev tts.Event) {
	switch ev.Type {
	case tts.EventAudio:
		if c.suppressing() {
			c.dropped["barge_in"]++
			return
		}
		c.forwardAudio(ev.Audio)
	case tts.EventFlushed:
		if c.s.flushes.Add(-1) < 0 {
			c.s.flushes.Store(0)
		}
		c.watchFlushes()
		if c.suppressFlushes > 0 {
			c.suppressFlushes--
			return
		}
		if c.suppressUntilRun {
			return
		}
		c.markPlayback()
		c.checkEnd(ctx)
	case tts.EventWarning:
		c.logger.Warn("tts warning", "message", ev.Message)
	case tts.EventError:
		c.logger.Warn("tts error", "err", ev.Err)
	}
}

func (c *call) forwardAudio(audio []byte) {
	gen := c.s.gen.Load()
	for _, part := range protocol.SplitAudio(audio, c.s.cfg.FrameBytes) {
		payload, err := protocol.MediaFrame(c.streamSID, part)
		if err != nil {
			continue
		}
		if !c.enqueueNormal(outboundFrame{payload: payload, audio: true, gen: gen}) {
			c.dropped["backpressure"]++
			continue
		}
		c.bytesOut += int64(len(part))
		setOnce(&c.stats.FirstAudio, c.s.now())
		c.aiSpeaking = true
		c.unmarked = true
	}
}

// markPlayback queues a mark after the audio forwarded so far.
func (c *call) markPlayback() {
	if !c.unmarked {
		return
	}
	name := uuid.NewString()
	payload, err := protocol.MarkFrame(c.streamSID, name)
	if err != nil {
		return
	}
	if !c.enqueueNormal(outboundFrame{payload: payload}) {
		c.dropped["backpressure"]++
		return
	}
	c.marks[name] = struct{}{}
	c.unmarked = false
}

func (c *call) onMark(ctx context.Context, name string) {
	if _, ok := c.marks[name]; !ok {
		return
	}
	delete(c.marks, name)
	if c.playbackIdle() {
		c.aiSpeaking = false
	}
	c.checkEnd(ctx)
}

// watchFlushes restarts the flush timer while TTS owes Flushed events and
// stops it once none are owed.
func (c *call) watchFlushes() {
	c.stopFlushWait()
	if c.s.flushes.Load() <= 0 {
		return
	}
	if c.flushTimer == nil {
		c.flushTimer = time.NewTimer(c.s.cfg.FlushTimeout)
	} else {
		c.flushTimer.Reset(c.s.cfg.FlushTimeout)
	}
	c.flushC = c.flushTimer.C
}

func (c *call) stopFlushWait() {
	if c.flushTimer != nil && !c.flushTimer.Stop() {
		select {
		case <-c.flushTimer.C:
		default:
		}
	}
	c.flushC = nil
}

// writeOffFlushes gives up on Flushed events TTS will never send. Audio
// already forwarded gets its mark so playback can still be confirmed.
func (c *call) writeOffFlushes(ctx context.Context) {
	c.stopFlushWait()
	c.s.flushes.Store(0)
	c.suppressFlushes = 0
	if c.suppressUntilRun {
		return
	}
	c.markPlayback()
	if c.playbackIdle() {
		c.aiSpeaking = false
	}
	c.checkEnd(ctx)
}

// playbackIdle reports that everything synthesized has been played.
func (c *call) playbackIdle() bool {
	return len(c.marks) == 0 && !c.unmarked && c.s.flushes.Load() <= 0
}

func (c *call) enqueueNormal(f outboundFrame) bool {
	select {
	case c.s.normal <- f:
		return true
	default:
		return false
	}
}

func (c *call) enqueuePriority(payload []byte) {
	select {
	case c.s.priority <- outboundFrame{payload: payload}:
	default:
		c.dropped["priority_full"]++
	}
}

func (c *call) restartDebounce() {
	c.stopDebounce()
	if c.debounce == nil {
		c.debounce = time.NewTimer(c.s.cfg.Debounce)
	} else {
		c.debounce.Reset(c.s.cfg.Debounce)
	}
	c.debounceC = c.debounce.C
}

func (c *call) stopDebounce() {
	if c.debounce != nil && !c.debounce.Stop() {
		select {
		case <-c.debounce.C:
		default:
		}
	}
	c.debounceC = nil
}

func (c *call) maybeStartRun(ctx context.Context) {
	if c.running || c.debounceC != nil || c.pendingEnd || len(c.pending) == 0 {
		return
	}
	text := strings.Join(c.pending, " ")
	c.pending = nil
	c.startRun(ctx, func(ctx context.Context) engine.Result {
		return c.s.engine.Process(ctx, c.state, text, c.voice)
	})
}

// startRun hands the call state to one engine goroutine.
func (c *call) startRun(ctx context.Context, run func(context.Context) engine.Result) {
	c.running = true
	c.voice.unmute()
	c.suppressUntilRun = false
	if c.suppressFlushes > 0 {
		c.suppressFlushes = 0
		c.s.flushes.Store(0)
		c.stopFlushWait()
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		res := run(ctx)
		select {
		case c.runDone <- res:
		case <-ctx.Done():
		}
	}()
}

func (c *call) onRunDone(ctx context.Context, res engine.Result) {
	c.running = false
	if res.UserText != "" {
		c.stats.Responses++
		setOnce(&c.stats.FirstResponse, c.s.now())
		c.s.metrics.RecordTurn(string(res.Mode), res.Failed, res.ToolCalls, res.Duration, res.FirstText)
	}
	if res.Booking != nil {
		c.booked = true
		c.s.metrics.RecordBooking(res.Booking.BusinessID)
		c.logger.Info("booking created", "booking_id", res.Booking.ID)
	}
	if res.ShouldEndCall {
		if len(c.pending) == 0 && len(c.heard) == 0 {
			c.scheduleEnd(ctx)
			return
		}
		c.logger.Info("caller kept talking; not ending the call")
	}
	c.maybeStartRun(ctx)
}

func (c *call) scheduleEnd(ctx context.Context) {
	c.pendingEnd = true
	c.stopEnd()
	if c.endTimer == nil {
		c.endTimer = time.NewTimer(c.s.cfg.EndCallTimeout)
	} else {
		c.endTimer.Reset(c.s.cfg.EndCallTimeout)
	}
	c.endC = c.endTimer.C
	c.logger.Info("call wrapping up")
	c.checkEnd(ctx)
}

func (c *call) stopEnd() {
	if c.endTimer != nil && !c.endTimer.Stop() {
		select {
		case <-c.endTimer.C:
		default:
		}
	}
	c.endC = nil
}

func (c *call) checkEnd(ctx context.Context) {
	if c.pendingEnd && !c.running && c.playbackIdle() {
		c.hangup(ctx)
	}
}

func (c *call) hangup(ctx context.Context) {
	c.stopEnd()
	c.pendingEnd = false
	if c.callSID != "" {
		hctx, cancel := context.WithTimeout(ctx, hangupTimeout)
		defer cancel()
		if err := c.s.control.Hangup(hctx, c.callSID); err != nil {
			c.logger.Warn("hang-up request failed", "err", err)
		}
	}
	c.reason = ReasonCompleted
}

// finish records the outcome once every goroutine of the call has stopped.
func (c *call) finish(reason string, duration time.Duration) {
	outcome := store.OutcomeAbandoned
	switch {
	case c.booked:
		outcome = store.OutcomeBooked
	case c.stats.Responses > 0:
		outcome = store.OutcomeInquiryHandled
	}
	if n := c.s.staleDrops.Load(); n > 0 {
		c.dropped["stale"] += int(n)
	}

	if c.s.calls != nil {
		ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
		defer cancel()
		ended := c.s.now()
		if err := c.s.calls.UpdateCall(ctx, c.callID, store.CallUpdate{Outcome: &outcome, EndedAt: &ended}); err != nil && !errors.Is(err, store.ErrNotFound) {
			c.logger.Warn("call record finalize failed", "err", err)
		}
	}

	c.s.metrics.RecordCallEnd(metrics.CallSummary{
		Outcome:       outcome,
		Duration:      duration,
		BargeIns:      c.stats.BargeIns,
		Utterances:    c.stats.Utterances,
		BytesIn:       c.bytesIn,
		BytesOut:      c.bytesOut,
		Dropped:       c.dropped,
		FirstAudio:    since(c.started, c.stats.FirstAudio),
		FirstResponse: since(c.started, c.stats.FirstResponse),
	})

	attrs := []any{
		"reason", reason,
		"outcome", outcome,
		"duration_ms", duration.Milliseconds(),
		"responses", c.stats.Responses,
		"utterances", c.stats.Utterances,
		"barge_ins", c.stats.BargeIns,
		"first_audio_ms", since(c.started, c.stats.FirstAudio).Milliseconds(),
		"first_transcript_ms", since(c.started, c.stats.FirstTranscript).Milliseconds(),
		"first_response_ms", since(c.started, c.stats.FirstResponse).Milliseconds(),
		"bytes_in", c.bytesIn,
		"bytes_out", c.bytesOut,
		"tool_calls", len(c.state.Tools),
	}
	if st, ok := c.listener.(interface{ Stats() stt.Stats }); ok {
		s := st.Stats()
		attrs = append(attrs, "stt_bytes", s.BytesSent, "stt_transcripts", s.TranscriptsReceived)
	}
	if st, ok := c.speaker.(interface{ Stats() tts.Stats }); ok {
		s := st.Stats()
		attrs = append(attrs, "tts_chunks", s.TextChunks, "tts_first_audio_ms", s.TimeToFirstAudio.Milliseconds())
	}
	for k, n := range c.dropped {
		attrs = append(attrs, "dropped_"+k, n)
	}
	c.logger.Info("call ended", attrs...)
}
