package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/vango-go/vai-reception/pkg/core/providers/gemini"
	"github.com/vango-go/vai-reception/pkg/core/providers/openai"
	"github.com/vango-go/vai-reception/pkg/core/voice/stt"
	"github.com/vango-go/vai-reception/pkg/core/voice/tts"
	"github.com/vango-go/vai-reception/pkg/gateway/call/registry"
	"github.com/vango-go/vai-reception/pkg/gateway/call/session"
	"github.com/vango-go/vai-reception/pkg/gateway/config"
	"github.com/vango-go/vai-reception/pkg/gateway/handlers"
	"github.com/vango-go/vai-reception/pkg/gateway/metrics"
	gatewayserver "github.com/vango-go/vai-reception/pkg/gateway/server"
	"github.com/vango-go/vai-reception/pkg/reception/booking"
	"github.com/vango-go/vai-reception/pkg/reception/engine"
	"github.com/vango-go/vai-reception/pkg/reception/intent"
	"github.com/vango-go/vai-reception/pkg/reception/tools"
	"github.com/vango-go/vai-reception/pkg/reception/workflow"
	"github.com/vango-go/vai-reception/pkg/store"
	"github.com/vango-go/vai-reception/pkg/telephony"
)

type buildOptions struct {
	// SeedPath preloads the in-memory store; ignored with a database.
	SeedPath string
}

// app is the wired process: the HTTP surface plus whatever must be closed
// on exit.
type app struct {
	server  *gatewayserver.Server
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger, opts buildOptions) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	st, err := openStore(ctx, cfg, logger, opts)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, st.Close)

	reg, checks, err := openRegistry(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if r, ok := reg.(*registry.Redis); ok {
		a.closers = append(a.closers, func() { _ = r.Close() })
	}

	m := metrics.New("reception")

	var providerOpts []openai.Option
	if cfg.OpenAIBaseURL != "" {
		providerOpts = append(providerOpts, openai.WithBaseURL(cfg.OpenAIBaseURL))
	}
	llm := openai.New(cfg.OpenAIAPIKey, providerOpts...)

	classifier, err := newClassifier(ctx, cfg, llm, logger)
	if err != nil {
		return nil, err
	}

	var (
		sms     telephony.SMSSender   = telephony.LogSender{Logger: logger}
		control telephony.CallControl = telephony.NopControl{}
	)
	if cfg.TwilioEnabled() {
		tw := telephony.NewTwilio(cfg.TwilioAccountSID, cfg.TwilioAuthToken)
		sms, control = tw, tw
	} else {
		logger.Warn("twilio credentials not set; sms is logged and hang-up relies on closing the stream")
	}

	creator := booking.NewCreator(st, sms,
		booking.WithDefaultFrom(cfg.SMSFrom),
		booking.WithNameExtractor(classifier, cfg.ClassifierTimeout),
		booking.WithLogger(logger),
	)
	pipeline := workflow.NewPipeline(logger,
		workflow.NewInfoPolicy(st),
		workflow.NewAvailability(),
		workflow.NewBooking(creator,
			workflow.WithServiceClassifier(classifier, cfg.ClassifierTimeout),
			workflow.WithBookingLogger(logger),
		),
	)

	var profiles *intent.Profiles
	if cfg.IssueProfilesPath != "" {
		profiles, err = intent.LoadProfiles(cfg.IssueProfilesPath)
		if err != nil {
			return nil, fmt.Errorf("issue profiles: %w", err)
		}
		logger.Info("issue profiles loaded", "path", cfg.IssueProfilesPath, "count", profiles.Len())
	}

	eng, err := engine.New(engine.Dependencies{
		LLM:          llm,
		Model:        cfg.Model,
		Detector:     intent.NewDetector(profiles),
		Tools:        tools.NewRouter(st),
		Workflows:    pipeline,
		Calls:        st,
		Logger:       logger,
		MaxToolCalls: cfg.MaxToolCalls,
		ToolTimeout:  cfg.ToolTimeout,
		TurnTimeout:  cfg.TurnTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	var fallback []byte
	if cfg.FallbackAudioPath != "" {
		fallback, err = os.ReadFile(cfg.FallbackAudioPath)
		if err != nil {
			return nil, fmt.Errorf("fallback audio: %w", err)
		}
	}

	listener := stt.NewDeepgram(cfg.DeepgramAPIKey, stt.WithLogger(logger))
	speaker := tts.NewDeepgram(cfg.DeepgramAPIKey, tts.WithLogger(logger))

	a.server = gatewayserver.New(gatewayserver.Dependencies{
		Config:   cfg,
		Logger:   logger,
		Store:    st,
		Registry: reg,
		Metrics:  m,
		Session: session.Dependencies{
			Logger:        logger,
			Engine:        eng,
			DialSTT:       session.DialListener(listener),
			DialTTS:       session.DialSpeaker(speaker),
			Synth:         speaker,
			FallbackAudio: fallback,
			Control:       control,
			Config:        sessionConfig(cfg),
		},
		ReadyChecks: checks,
	})
	return a, nil
}

func sessionConfig(cfg config.Config) session.Config {
	sttOpts := stt.PhoneDefaults()
	if cfg.STTModel != "" {
		sttOpts.Model = cfg.STTModel
	}
	if cfg.STTLanguage != "" {
		sttOpts.Language = cfg.STTLanguage
	}
	ttsOpts := tts.PhoneDefaults()
	if cfg.TTSVoice != "" {
		ttsOpts.Model = tts.ResolveVoice(cfg.TTSVoice)
	}
	return session.Config{
		Debounce:               cfg.Debounce,
		EndCallTimeout:         cfg.EndCallTimeout,
		SynthTimeout:           cfg.SynthTimeout,
		StartTimeout:           cfg.StreamStartTimeout,
		PingInterval:           cfg.WSPingInterval,
		WriteTimeout:           cfg.WSWriteTimeout,
		ReadTimeout:            cfg.WSReadTimeout,
		MaxAudioFPS:            limitOrOff(cfg.MaxAudioFPS),
		MaxAudioBytesPerSecond: limitOrOff(cfg.MaxAudioBytesPerSecond),
		InboundBurstSeconds:    cfg.InboundBurstSeconds,
		STT:                    sttOpts,
		TTS:                    ttsOpts,
	}
}

// limitOrOff maps a configured zero to the session's "disabled" value; a
// zero in session.Config means "use the default".
func limitOrOff(v int) int {
	if v <= 0 {
		return -1
	}
	return v
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger, opts buildOptions) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		mem := store.NewMemory()
		if opts.SeedPath != "" {
			seed, err := loadSeed(opts.SeedPath)
			if err != nil {
				return nil, err
			}
			seed.applyMemory(mem)
			logger.Info("in-memory store seeded", "path", opts.SeedPath, "businesses", len(seed.Businesses))
		} else {
			logger.Warn("no database configured; using an empty in-memory store")
		}
		return mem, nil
	}
	pg, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.MigrateOnStart {
		if err := store.Migrate(ctx, pg.Pool(), logger); err != nil {
			pg.Close()
			return nil, err
		}
	}
	return pg, nil
}

func openRegistry(ctx context.Context, cfg config.Config, logger *slog.Logger) (registry.Registry, []handlers.ReadyCheck, error) {
	if cfg.RedisAddr == "" {
		return registry.NewTracker(), nil, nil
	}
	node, _ := os.Hostname()
	r, err := registry.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB,
		registry.WithPrefix(cfg.RegistryPrefix),
		registry.WithEntryTTL(cfg.RegistryEntryTTL),
		registry.WithNode(node),
		registry.WithLogger(logger),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("call registry: %w", err)
	}
	return r, []handlers.ReadyCheck{{Name: "registry", Ping: r.Ping}}, nil
}

// newClassifier prefers Gemini for the short structured calls and falls back
// to the conversation model.
func newClassifier(ctx context.Context, cfg config.Config, llm engine.Completer, logger *slog.Logger) (*engine.Classifier, error) {
	if cfg.GeminiAPIKey == "" {
		return engine.NewClassifier(llm, cfg.Model), nil
	}
	g, err := gemini.New(ctx, cfg.GeminiAPIKey, gemini.WithModel(cfg.ClassifierModel))
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}
	logger.Info("service classifier uses gemini", "model", cfg.ClassifierModel)
	return engine.NewClassifier(g, cfg.ClassifierModel), nil
}

var errNoDatabase = errors.New("RECEPTION_DATABASE_URL is required")
