package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/vai-reception/pkg/gateway/config"
)

func failingDeps(t *testing.T, stderr io.Writer, loadErr error) cliDeps {
	t.Helper()
	return cliDeps{
		loadConfig: func() (config.Config, error) { return config.Config{}, loadErr },
		loadEnv:    func(string) error { return nil },
		build: func(context.Context, config.Config, *slog.Logger, buildOptions) (*app, error) {
			t.Fatalf("build should not be called")
			return nil, nil
		},
		stdout: io.Discard,
		stderr: stderr,
	}
}

func TestRunMain_ReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), []string{"serve"}, failingDeps(t, &stderr, errors.New("boom")))

	if exitCode != 1 {
		t.Fatalf("exitCode=%d, want 1", exitCode)
	}
	if !strings.Contains(stderr.String(), "boom") {
		t.Fatalf("stderr=%q, want config error", stderr.String())
	}
}

func TestRunMain_ServeRequiresCredentials(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	deps := failingDeps(t, &stderr, nil)
	exitCode := runMain(context.Background(), []string{"serve"}, deps)

	require.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "OPENAI_API_KEY")
	assert.Contains(t, stderr.String(), "DEEPGRAM_API_KEY")
}

func TestRunMain_MigrateRequiresDatabase(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), []string{"migrate"}, failingDeps(t, &stderr, nil))

	require.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "RECEPTION_DATABASE_URL")
}

func TestRunMain_EnvFileErrorStopsCommand(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	deps := failingDeps(t, &stderr, nil)
	deps.loadEnv = func(path string) error {
		assert.Equal(t, "custom.env", path)
		return errors.New("bad env")
	}
	exitCode := runMain(context.Background(), []string{"--env-file", "custom.env", "migrate"}, deps)

	require.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "bad env")
}

func TestLoadEnvFile_MissingFileIsIgnored(t *testing.T) {
	require.NoError(t, loadEnvFile(filepath.Join(t.TempDir(), "nope.env")))
	require.NoError(t, loadEnvFile(""))
}

func TestLoadEnvFile_DoesNotOverrideEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("RECEPTION_TEST_A=file\nRECEPTION_TEST_B=file\n"), 0o600))
	t.Setenv("RECEPTION_TEST_A", "env")
	t.Setenv("RECEPTION_TEST_B", "")
	os.Unsetenv("RECEPTION_TEST_B")

	require.NoError(t, loadEnvFile(path))
	assert.Equal(t, "env", os.Getenv("RECEPTION_TEST_A"))
	assert.Equal(t, "file", os.Getenv("RECEPTION_TEST_B"))
}

func TestBuildHTTPServer_UsesConfiguredAddress(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Addr:              "127.0.0.1:9999",
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       3 * time.Second,
	}

	srv := buildHTTPServer(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	if srv.Addr != cfg.Addr {
		t.Fatalf("Addr=%q, want %q", srv.Addr, cfg.Addr)
	}
	if srv.ReadHeaderTimeout != cfg.ReadHeaderTimeout {
		t.Fatalf("ReadHeaderTimeout=%v, want %v", srv.ReadHeaderTimeout, cfg.ReadHeaderTimeout)
	}
	if srv.ReadTimeout != cfg.ReadTimeout {
		t.Fatalf("ReadTimeout=%v, want %v", srv.ReadTimeout, cfg.ReadTimeout)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}

func TestSessionConfig_ZeroLimitsDisableLimiter(t *testing.T) {
	t.Parallel()

	cfg := config.Config{STTLanguage: "en-US", TTSVoice: "luna", MaxAudioFPS: 0, MaxAudioBytesPerSecond: 8000}
	sc := sessionConfig(cfg)

	assert.Equal(t, -1, sc.MaxAudioFPS)
	assert.Equal(t, 8000, sc.MaxAudioBytesPerSecond)
	assert.Equal(t, "en-US", sc.STT.Language)
	assert.Equal(t, "mulaw", sc.STT.Encoding)
	assert.True(t, sc.STT.InterimResults)
	assert.NotEmpty(t, sc.TTS.Model)
}

const seedJSON = `{
  "businesses": [
    {"id": "biz-1", "name": "Bondi Plumbing", "twilio_number": "+61290000000",
     "services": [{"name": "Blocked drain"}]}
  ],
  "policies": [
    {"business_id": "biz-1", "topic": "pricing", "content": "Call-out fee is $99."}
  ]
}`

func writeSeed(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadSeed(t *testing.T) {
	t.Parallel()

	seed, err := loadSeed(writeSeed(t, seedJSON))
	require.NoError(t, err)
	require.Len(t, seed.Businesses, 1)
	assert.Equal(t, "+61290000000", seed.Businesses[0].TwilioNumber)
	require.Len(t, seed.Policies, 1)

	_, err = loadSeed(writeSeed(t, `{"businesses":[{"name":"no id"}]}`))
	assert.ErrorContains(t, err, "needs id and name")

	_, err = loadSeed(writeSeed(t, `{`))
	assert.ErrorContains(t, err, "parse seed")
}

func testConfig() config.Config {
	return config.Config{
		Addr:                "127.0.0.1:0",
		OpenAIAPIKey:        "sk-test",
		DeepgramAPIKey:      "dg-test",
		Model:               "gpt-4o-mini",
		ClassifierTimeout:   time.Second,
		Debounce:            400 * time.Millisecond,
		EndCallTimeout:      2 * time.Second,
		WSPingInterval:      20 * time.Second,
		WSReadTimeout:       time.Minute,
		ReadHeaderTimeout:   time.Second,
		ShutdownGracePeriod: time.Second,
	}
}

func TestBuildApp_InMemoryWiresWebhook(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	a, err := buildApp(context.Background(), testConfig(), logger, buildOptions{SeedPath: writeSeed(t, seedJSON)})
	require.NoError(t, err)
	defer a.Close()

	req := httptest.NewRequest(http.MethodPost, "/voice/incoming/biz-1",
		strings.NewReader("CallSid=CA1&From=%2B61400000000&To=%2B61290000000"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), "<Stream")
	assert.Contains(t, rr.Body.String(), "Bondi Plumbing")
}

func TestBuildApp_BadProfilesPath(t *testing.T) {
	cfg := testConfig()
	cfg.IssueProfilesPath = filepath.Join(t.TempDir(), "missing.csv")

	_, err := buildApp(context.Background(), cfg, slog.New(slog.DiscardHandler), buildOptions{})
	assert.ErrorContains(t, err, "issue profiles")
}

func TestRunServer_StopsOnCancel(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	a, err := buildApp(context.Background(), testConfig(), logger, buildOptions{})
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServer(ctx, testConfig(), logger, a) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runServer did not return after cancel")
	}
}
