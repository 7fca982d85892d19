package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rbright/murmur/internal/audio"
	"github.com/rbright/murmur/internal/config"
	"github.com/rbright/murmur/internal/eventfeed"
	"github.com/rbright/murmur/internal/ipc"
	"github.com/rbright/murmur/internal/pipeline"
	"github.com/rbright/murmur/internal/recognition"
	"github.com/rbright/murmur/internal/remote"
	"github.com/rbright/murmur/internal/session"
	"github.com/rbright/murmur/internal/speech"
)

// closeGrace is added to the finalize budget when shutting the owner down.
const closeGrace = 5 * time.Second

// ownerCommand forwards command to a running owner, or becomes the owner,
// starts a session, and serves IPC until the controller settles at idle.
func (r Runner) ownerCommand(flags *globalFlags, name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := r.bootstrap(cmd, flags)
			if err != nil {
				return err
			}
			defer e.close()
			return r.runOwner(cmd.Context(), e, name)
		},
	}
}

func (r Runner) runOwner(ctx context.Context, e env, command string) error {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		return err
	}

	if resp, handled, err := tryForward(ctx, socketPath, command); handled {
		if err != nil {
			return err
		}
		fmt.Fprintln(r.Stdout, formatStatus(resp))
		return nil
	}

	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8)
	if errors.Is(err, ipc.ErrAlreadyRunning) {
		resp, _, forwardErr := tryForward(ctx, socketPath, command)
		if forwardErr != nil {
			return forwardErr
		}
		fmt.Fprintln(r.Stdout, formatStatus(resp))
		return nil
	}
	if err != nil {
		return err
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	return r.own(ctx, e, listener)
}

func (r Runner) own(ctx context.Context, e env, listener net.Listener) error {
	cfg := e.loaded.Config

	service, err := r.dialRemote(ctx, e)
	if err != nil {
		return err
	}
	defer service.Close()

	recognizer := r.Recognizer
	if recognizer == nil {
		speechClient := speech.New(cfg.Recognition.Endpoint, cfg.Recognition.DialTimeout(), e.logger)
		defer speechClient.Close()
		recognizer = speechClient
	}

	console := &consolePresenter{stdout: r.Stdout, stderr: r.Stderr}
	presenters := session.Presenters{logPresenter{logger: e.logger}, console}

	serveCtx, stopServing := context.WithCancel(context.WithoutCancel(ctx))
	defer stopServing()

	var servers []<-chan error
	if addr := cfg.Events.Listen; addr != "" {
		eventsListener, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen events %s: %w", addr, err)
		}
		feed := eventfeed.New(e.logger)
		presenters = append(presenters, feed)
		servers = append(servers, serveAsync(func() error { return feed.Serve(serveCtx, eventsListener) }))
	}

	ctrl := session.NewController(sessionDeps(cfg, r.device(cfg, e), recognizer, service, presenters, e))
	servers = append(servers, serveAsync(func() error { return ipc.Serve(serveCtx, listener, ctrl) }))

	startErr := ctrl.Start(ctx)
	if startErr == nil {
		if err := ctrl.WaitIdle(ctx); err != nil {
			e.logger.Info("owner interrupted; stopping session", "error", err.Error())
		}
	}

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Remote.FinalizeTimeout()+closeGrace)
	defer cancel()
	if err := ctrl.Close(closeCtx); err != nil {
		e.logger.Error("session close failed", "error", err.Error())
	}

	stopServing()
	var serveErr error
	for _, done := range servers {
		if err := <-done; err != nil && serveErr == nil {
			serveErr = err
		}
	}

	switch {
	case startErr != nil:
		return startErr
	case console.err() != nil:
		return console.err()
	case serveErr != nil:
		return fmt.Errorf("owner server failed: %w", serveErr)
	}
	return nil
}

func serveAsync(fn func() error) <-chan error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	return done
}

func (r Runner) device(cfg config.Config, e env) pipeline.Device {
	if r.Device != nil {
		return r.Device
	}
	return audio.Pulse{Input: cfg.Audio.Input, Fallback: cfg.Audio.Fallback, Logger: e.logger}
}

func sessionDeps(
	cfg config.Config,
	device pipeline.Device,
	recognizer recognition.Capability,
	service remote.Service,
	presenter session.Presenter,
	e env,
) session.Deps {
	capture := audio.DefaultConfig()
	capture.EchoCancellation = cfg.Audio.EchoCancellation
	capture.NoiseSuppression = cfg.Audio.NoiseSuppression
	capture.AutoGainControl = cfg.Audio.AutoGainControl
	capture.SampleRate = cfg.Audio.SampleRate

	restart := cfg.Recognition.Restart
	return session.Deps{
		Device: device,
		Capture: pipeline.Options{
			Device:            capture,
			Interval:          cfg.Audio.ChunkInterval(),
			MinLevel:          cfg.Audio.MinLevel,
			LevelWarnInterval: cfg.Audio.LevelWarnInterval(),
			Logger:            e.logger,
		},
		Recognizer: recognizer,
		Recognition: recognition.Options{
			Config: recognition.Config{
				Language:        cfg.Recognition.Language,
				Continuous:      cfg.Recognition.Continuous,
				InterimResults:  cfg.Recognition.InterimResults,
				MaxAlternatives: cfg.Recognition.MaxAlternatives,
				SampleRate:      cfg.Audio.SampleRate,
			},
			ConfidenceThreshold: cfg.Recognition.ConfidenceThreshold,
			Restart: recognition.RestartPolicy{
				InitialBackoff: time.Duration(restart.InitialBackoffMS) * time.Millisecond,
				MaxBackoff:     time.Duration(restart.MaxBackoffMS) * time.Millisecond,
				MaxAttempts:    restart.MaxAttempts,
			},
			Logger: e.logger,
		},
		Service:         service,
		CallTimeout:     remote.DefaultCallTimeout,
		FinalizeTimeout: cfg.Remote.FinalizeTimeout(),
		Presenter:       presenter,
		Logger:          e.logger,
	}
}
