package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	Addr string
	// PublicHost overrides the host used in media-stream URLs handed to
	// the carrier. Empty means derive it from the webhook request.
	PublicHost string

	LogFormat LogFormat
	LogLevel  string

	// If true, client identity may be derived from proxy headers like X-Forwarded-For.
	// This should only be enabled when deployed behind a trusted proxy/LB.
	TrustProxyHeaders bool

	// Data layer. An empty DatabaseURL runs on the in-memory store.
	DatabaseURL    string
	MigrateOnStart bool

	// Call registry. An empty RedisAddr keeps it in process.
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	RegistryPrefix   string
	RegistryEntryTTL time.Duration

	IssueProfilesPath string
	FallbackAudioPath string

	// Models
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	Model             string
	GeminiAPIKey      string
	ClassifierModel   string
	ClassifierTimeout time.Duration

	// Speech
	DeepgramAPIKey string
	STTModel       string
	STTLanguage    string
	TTSVoice       string

	// Telephony. Without credentials hang-ups and SMS are only logged.
	TwilioAccountSID string
	TwilioAuthToken  string
	SMSFrom          string

	// Conversation timing
	Debounce       time.Duration
	EndCallTimeout time.Duration
	SynthTimeout   time.Duration
	ToolTimeout    time.Duration
	TurnTimeout    time.Duration
	MaxToolCalls   int

	// Media stream
	WSPingInterval         time.Duration
	WSWriteTimeout         time.Duration
	WSReadTimeout          time.Duration
	StreamStartTimeout     time.Duration
	MaxAudioFPS            int
	MaxAudioBytesPerSecond int
	InboundBurstSeconds    int

	// Webhook limits, per client IP.
	WebhookRateLimit  int
	WebhookRateWindow time.Duration

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	HandlerTimeout      time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                   envOr("RECEPTION_ADDR", ":8080"),
		PublicHost:             envOr("RECEPTION_PUBLIC_HOST", ""),
		LogFormat:              LogFormat(strings.ToLower(envOr("RECEPTION_LOG_FORMAT", string(LogFormatText)))),
		LogLevel:               strings.ToLower(envOr("RECEPTION_LOG_LEVEL", "info")),
		TrustProxyHeaders:      envBoolOr("RECEPTION_TRUST_PROXY_HEADERS", false),
		DatabaseURL:            envOr("RECEPTION_DATABASE_URL", ""),
		MigrateOnStart:         envBoolOr("RECEPTION_MIGRATE_ON_START", false),
		RedisAddr:              envOr("RECEPTION_REDIS_ADDR", ""),
		RedisPassword:          envOr("RECEPTION_REDIS_PASSWORD", ""),
		RedisDB:                envIntOr("RECEPTION_REDIS_DB", 0),
		RegistryPrefix:         envOr("RECEPTION_REGISTRY_PREFIX", "reception"),
		RegistryEntryTTL:       envDurationOr("RECEPTION_REGISTRY_TTL", 4*time.Hour),
		IssueProfilesPath:      envOr("RECEPTION_ISSUE_PROFILES", ""),
		FallbackAudioPath:      envOr("RECEPTION_FALLBACK_AUDIO", ""),
		OpenAIAPIKey:           envOr("OPENAI_API_KEY", ""),
		OpenAIBaseURL:          envOr("OPENAI_BASE_URL", ""),
		Model:                  envOr("RECEPTION_MODEL", "gpt-4o-mini"),
		GeminiAPIKey:           envOr("GEMINI_API_KEY", ""),
		ClassifierModel:        envOr("RECEPTION_CLASSIFIER_MODEL", ""),
		ClassifierTimeout:      envDurationOr("RECEPTION_CLASSIFIER_TIMEOUT", 3*time.Second),
		DeepgramAPIKey:         envOr("DEEPGRAM_API_KEY", ""),
		STTModel:               envOr("RECEPTION_STT_MODEL", "nova-2"),
		STTLanguage:            envOr("RECEPTION_STT_LANGUAGE", "en-AU"),
		TTSVoice:               envOr("RECEPTION_TTS_VOICE", ""),
		TwilioAccountSID:       envOr("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:        envOr("TWILIO_AUTH_TOKEN", ""),
		SMSFrom:                envOr("RECEPTION_SMS_FROM", ""),
		Debounce:               envDurationOr("RECEPTION_DEBOUNCE", 400*time.Millisecond),
		EndCallTimeout:         envDurationOr("RECEPTION_END_CALL_TIMEOUT", 2*time.Second),
		SynthTimeout:           envDurationOr("RECEPTION_SYNTH_TIMEOUT", 4*time.Second),
		ToolTimeout:            envDurationOr("RECEPTION_TOOL_TIMEOUT", 3*time.Second),
		TurnTimeout:            envDurationOr("RECEPTION_TURN_TIMEOUT", 20*time.Second),
		MaxToolCalls:           envIntOr("RECEPTION_MAX_TOOL_CALLS", 2),
		WSPingInterval:         envDurationOr("RECEPTION_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:         envDurationOr("RECEPTION_WS_WRITE_TIMEOUT", 5*time.Second),
		WSReadTimeout:          envDurationOr("RECEPTION_WS_READ_TIMEOUT", 60*time.Second),
		StreamStartTimeout:     envDurationOr("RECEPTION_STREAM_START_TIMEOUT", 10*time.Second),
		MaxAudioFPS:            envIntOr("RECEPTION_MAX_AUDIO_FPS", 100),
		MaxAudioBytesPerSecond: envIntOr("RECEPTION_MAX_AUDIO_BPS", 16000),
		InboundBurstSeconds:    envIntOr("RECEPTION_INBOUND_BURST_SECONDS", 2),
		WebhookRateLimit:       envIntOr("RECEPTION_WEBHOOK_RATE_LIMIT", 60),
		WebhookRateWindow:      envDurationOr("RECEPTION_WEBHOOK_RATE_WINDOW", time.Minute),
		ReadHeaderTimeout:      envDurationOr("RECEPTION_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:            envDurationOr("RECEPTION_READ_TIMEOUT", 30*time.Second),
		HandlerTimeout:         envDurationOr("RECEPTION_HANDLER_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:    envDurationOr("RECEPTION_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.LogFormat {
	case LogFormatText, LogFormatJSON:
	default:
		return Config{}, fmt.Errorf("RECEPTION_LOG_FORMAT must be one of text|json")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("RECEPTION_LOG_LEVEL must be one of debug|info|warn|error")
	}

	if cfg.RedisDB < 0 {
		return Config{}, fmt.Errorf("RECEPTION_REDIS_DB must be >= 0")
	}
	if cfg.RegistryEntryTTL <= 0 {
		return Config{}, fmt.Errorf("RECEPTION_REGISTRY_TTL must be > 0")
	}
	if strings.TrimSpace(cfg.RegistryPrefix) == "" {
		return Config{}, fmt.Errorf("RECEPTION_REGISTRY_PREFIX must not be empty")
	}
	if cfg.ClassifierTimeout <= 0 {
		return Config{}, fmt.Errorf("RECEPTION_CLASSIFIER_TIMEOUT must be > 0")
	}
	if cfg.Debounce <= 0 {
		return Config{}, fmt.Errorf("RECEPTION_DEBOUNCE must be > 0")
	}
	if cfg.EndCallTimeout <= 0 {
		return Config{}, fmt.Errorf("RECEPTION_END_CALL_TIMEOUT must be > 0")
	}
	if cfg.SynthTimeout <= 0 {
		return Config{}, fmt.Errorf("RECEPTION_SYNTH_TIMEOUT must be > 0")
	}
	if cfg.ToolTimeout <= 0 {
		return Config{}, fmt.Errorf("RECEPTION_TOOL_TIMEOUT must be > 0")
	}
	if cfg.TurnTimeout <= 0 {
		return Config{}, fmt.Errorf("RECEPTION_TURN_TIMEOUT must be > 0")
	}
	if cfg.MaxToolCalls <= 0 {
		return Config{}, fmt.Errorf("RECEPTION_MAX_TOOL_CALLS must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("RECEPTION_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("RECEPTION_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSReadTimeout <= 0 {
		return Config{}, fmt.Errorf("RECEPTION_WS_READ_TIMEOUT must be > 0")
	}
	if cfg.WSReadTimeout <= cfg.WSPingInterval {
		return Config{}, fmt.Errorf("RECEPTION_WS_READ_TIMEOUT must be greater than RECEPTION_WS_PING_INTERVAL")
	}
	if cfg.StreamStartTimeout <= 0 {
		return Config{}, fmt.Errorf("RECEPTION_STREAM_START_TIMEOUT must be > 0")
	}
	if cfg.MaxAudioFPS < 0 {
		return Config{}, fmt.Errorf("RECEPTION_MAX_AUDIO_FPS must be >= 0")
	}
	if cfg.MaxAudioBytesPerSecond < 0 {
		return Config{}, fmt.Errorf("RECEPTION_MAX_AUDIO_BPS must be >= 0")
	}
	if (cfg.MaxAudioFPS > 0 || cfg.MaxAudioBytesPerSecond > 0) && cfg.InboundBurstSeconds < 1 {
		return Config{}, fmt.Errorf("RECEPTION_INBOUND_BURST_SECONDS must be >= 1 when inbound audio limits are enabled")
	}
	if cfg.WebhookRateLimit < 0 {
		return Config{}, fmt.Errorf("RECEPTION_WEBHOOK_RATE_LIMIT must be >= 0")
	}
	if cfg.WebhookRateWindow <= 0 {
		return Config{}, fmt.Errorf("RECEPTION_WEBHOOK_RATE_WINDOW must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("RECEPTION_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("RECEPTION_READ_TIMEOUT must be > 0")
	}
	if cfg.HandlerTimeout <= 0 {
		return Config{}, fmt.Errorf("RECEPTION_HANDLER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("RECEPTION_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if (cfg.TwilioAccountSID == "") != (cfg.TwilioAuthToken == "") {
		return Config{}, fmt.Errorf("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN must be set together")
	}

	return cfg, nil
}

// ValidateServe reports the credentials serving calls cannot run without.
func (c Config) ValidateServe() error {
	var errs []error
	if c.OpenAIAPIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY must be set"))
	}
	if c.DeepgramAPIKey == "" {
		errs = append(errs, errors.New("DEEPGRAM_API_KEY must be set"))
	}
	return errors.Join(errs...)
}

// TwilioEnabled reports whether carrier REST credentials are configured.
func (c Config) TwilioEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != ""
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

// envDurationOr accepts Go durations ("400ms") or bare milliseconds ("400").
func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
