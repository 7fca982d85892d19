// Package app wires the murmur command line to config, logging, IPC, and
// the session controller.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rbright/murmur/internal/config"
	"github.com/rbright/murmur/internal/doctor"
	"github.com/rbright/murmur/internal/logging"
	"github.com/rbright/murmur/internal/pipeline"
	"github.com/rbright/murmur/internal/recognition"
	"github.com/rbright/murmur/internal/version"
)

// Runner executes one CLI invocation.
type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger

	// Device overrides audio capture; nil uses the pulse server.
	Device pipeline.Device
	// Recognizer overrides speech recognition; nil dials recognition.endpoint.
	Recognizer recognition.Capability
	// Probes overrides doctor side effects; zero value uses live probes.
	Probes *doctor.Probes
}

// usageError marks failures that exit with status 2.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// Execute runs args against a fresh Runner and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

// Execute returns 0 on success, 2 on usage errors, and 1 otherwise.
func (r Runner) Execute(ctx context.Context, args []string) int {
	root := r.rootCommand()
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var usage usageError
	if errors.As(err, &usage) || strings.HasPrefix(err.Error(), "unknown command") {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, root.UsageString())
		return 2
	}
	fmt.Fprintf(r.Stderr, "error: %v\n", err)
	return 1
}

type globalFlags struct {
	configPath string
	verbose    bool
}

func (r Runner) rootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "murmur",
		Short:         "Live transcription sessions from the command line",
		Long:          "murmur captures microphone audio, streams it to a speech recognizer, and syncs audio and transcript to a transcription service.",
		Version:       version.String(),
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetOut(r.Stdout)
	root.SetErr(r.Stderr)
	root.SetVersionTemplate("{{.Version}}\n")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})
	root.CompletionOptions.DisableDefaultCmd = true

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file path (default $XDG_CONFIG_HOME/murmur/config.jsonc)")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "mirror debug logs to stderr")

	root.AddCommand(
		r.ownerCommand(flags, "toggle", "Start a session, or stop and finalize the active one"),
		r.ownerCommand(flags, "start", "Start a session, replacing any active one"),
		r.stopCommand(flags),
		r.statusCommand(flags),
		r.devicesCommand(flags),
		r.doctorCommand(flags),
		r.recordingsCommand(flags),
		r.transcriptCommand(flags),
		r.summarizeCommand(flags),
		r.serveCommand(flags),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Args:  noArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version.String())
			},
		},
	)
	return root
}

// env is the per-invocation runtime shared by every command that needs config.
type env struct {
	loaded config.Loaded
	logger *slog.Logger
	close  func()
}

func (r Runner) bootstrap(cmd *cobra.Command, flags *globalFlags) (env, error) {
	logRuntime, err := logging.New(logging.Options{Verbose: flags.verbose, Console: r.Stderr})
	if err != nil {
		return env{}, fmt.Errorf("setup logging: %w", err)
	}

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	loaded, err := config.Load(flags.configPath)
	if err != nil {
		logger.Error("load config failed", "error", err.Error())
		_ = logRuntime.Close()
		return env{}, err
	}
	for _, w := range loaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		if !flags.verbose {
			fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		}
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", cmd.Name(),
		"config", loaded.Path,
		"log", logRuntime.Path,
	)

	return env{
		loaded: loaded,
		logger: logger,
		close:  func() { _ = logRuntime.Close() },
	}, nil
}

func noArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		return usageError{err}
	}
	return nil
}

func exactArgs(n int) cobra.PositionalArgs {
	check := cobra.ExactArgs(n)
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}
