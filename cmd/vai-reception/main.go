// Command vai-reception runs the phone receptionist: the carrier webhook,
// the media-stream socket and the admin endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/vango-go/vai-reception/pkg/gateway/config"
)

type cliDeps struct {
	loadConfig func() (config.Config, error)
	loadEnv    func(path string) error
	build      func(ctx context.Context, cfg config.Config, logger *slog.Logger, opts buildOptions) (*app, error)
	stdout     io.Writer
	stderr     io.Writer
}

func defaultCLIDeps() cliDeps {
	return cliDeps{
		loadConfig: config.LoadFromEnv,
		loadEnv:    loadEnvFile,
		build:      buildApp,
		stdout:     os.Stdout,
		stderr:     os.Stderr,
	}
}

// loadEnvFile applies a .env file without overriding variables already set.
// A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func newLogger(w io.Writer, cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}
	if cfg.LogFormat == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newRootCmd(deps cliDeps) *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:           "vai-reception",
		Short:         "AI phone receptionist for trade businesses",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return deps.loadEnv(envFile)
		},
	}
	root.SetOut(deps.stdout)
	root.SetErr(deps.stderr)
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading configuration")

	root.AddCommand(newServeCmd(deps))
	root.AddCommand(newMigrateCmd(deps))
	root.AddCommand(newSeedCmd(deps))
	return root
}

func runMain(ctx context.Context, args []string, deps cliDeps) int {
	if deps.stderr == nil {
		deps.stderr = os.Stderr
	}
	if deps.stdout == nil {
		deps.stdout = os.Stdout
	}
	root := newRootCmd(deps)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(deps.stderr, "vai-reception: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], defaultCLIDeps()))
}
