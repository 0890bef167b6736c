// Package cli defines the sceneexport command-line interface.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-sceneexport/config"
	"github.com/goliatone/go-sceneexport/logging"
	"github.com/goliatone/go-sceneexport/presets"
	"github.com/goliatone/go-sceneexport/scene"
)

const defaultEnvFile = ".env"

// Options stores global CLI options shared between commands.
type Options struct {
	EnvFile   string
	LogLevel  string
	Engine    string
	OutputDir string

	LogWriter io.Writer
	Presets   *presets.Registry
}

// Execute builds the root command, runs it with args and returns any error.
func Execute(args []string, logger *slog.Logger) error {
	if logger == nil {
		logger = logging.NewLogger(os.Stderr, logging.LevelInfo)
	}
	opts := &Options{LogWriter: os.Stderr, Presets: presets.Default()}
	root := newRootCommand(opts, logger)
	root.SetArgs(args)
	return root.Execute()
}

func newRootCommand(opts *Options, logger *slog.Logger) *cobra.Command {
	if opts.Presets == nil {
		opts.Presets = presets.Default()
	}
	cmd := &cobra.Command{
		Use:           "sceneexport",
		Short:         "Build scenes headlessly and export them as images or PDFs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level := logging.ParseLevel(opts.LogLevel)
			logger = logging.NewLogger(opts.LogWriter, level)
			cmd.SetContext(context.WithValue(cmd.Context(), loggerKey{}, logger))
			logger.Debug("logger initialized", "level", slog.Level(level))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "Path to a .env file (default .env when present)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "Log level (debug, info, warn, error); overrides SCENE_LOG_LEVEL")
	cmd.PersistentFlags().StringVar(&opts.Engine, "engine", "", "Rendering engine (memory, chromium); overrides SCENE_ENGINE")
	cmd.PersistentFlags().StringVarP(&opts.OutputDir, "output", "o", "", "Output directory; overrides SCENE_OUTPUT_DIR")

	cmd.AddCommand(
		newRunCommand(opts),
		newBatchCommand(opts),
		newHistoryCommand(opts),
		newPresetsCommand(opts),
	)
	for _, name := range opts.Presets.Names() {
		cmd.AddCommand(newPresetCommand(opts, name))
	}
	return cmd
}

// loadConfig reads configuration and applies flag overrides. An explicit
// --env-file must exist; the default .env is optional.
func (o *Options) loadConfig() (config.Config, error) {
	var files []string
	switch {
	case o.EnvFile != "":
		files = append(files, o.EnvFile)
	default:
		if _, err := os.Stat(defaultEnvFile); err == nil {
			files = append(files, defaultEnvFile)
		}
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return config.Config{}, err
	}
	if o.Engine != "" {
		cfg.Engine = o.Engine
	}
	if o.OutputDir != "" {
		cfg.OutputDir = o.OutputDir
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// loggerKey is a private context key used to store a logger in command contexts.
type loggerKey struct{}

// LoggerFromContext extracts a logger from the context or falls back to a default logger.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return logging.NewLogger(os.Stderr, logging.LevelInfo)
	}
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return logging.NewLogger(os.Stderr, logging.LevelInfo)
}

// ErrorAttrs describes err for a log line by scene kind plus the go-errors
// category and text code it carries when leaving the process.
func ErrorAttrs(err error) []any {
	ge := scene.AsGoError(err)
	if ge == nil {
		return nil
	}
	return []any{
		"kind", scene.KindFromError(err),
		"category", ge.Category,
		"code", ge.TextCode,
		"error", err,
	}
}
