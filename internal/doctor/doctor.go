// Package doctor runs runtime readiness diagnostics for config, audio, and
// the remote gRPC services.
package doctor

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rbright/murmur/internal/audio"
	"github.com/rbright/murmur/internal/config"
	"github.com/rbright/murmur/internal/grpcconn"
	"github.com/rbright/murmur/internal/remote"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", status, check.Name, check.Message)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Probes are the live side effects doctor performs. Tests swap them out.
type Probes struct {
	SelectDevice   func(ctx context.Context, input, fallback string, preferEchoCancel bool) (audio.Selection, error)
	ListRecordings func(ctx context.Context, endpoint string, timeout time.Duration) (int, error)
	DialRecognizer func(ctx context.Context, endpoint string, timeout time.Duration) error
}

// DefaultProbes talks to the real pulse server and gRPC endpoints.
func DefaultProbes() Probes {
	return Probes{
		SelectDevice:   audio.SelectDevice,
		ListRecordings: listRecordings,
		DialRecognizer: dialRecognizer,
	}
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, loaded config.Loaded, probes Probes) Report {
	cfg := loaded.Config
	checks := []Check{configCheck(loaded)}

	checks = append(checks, checkEnv("XDG_RUNTIME_DIR", func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, "owner socket directory available", "XDG_RUNTIME_DIR is empty; toggle/start/stop cannot reach the owner"))

	checks = append(checks, checkAudioSelection(ctx, cfg, probes))
	checks = append(checks, checkRemote(ctx, cfg, probes))
	checks = append(checks, checkRecognizer(ctx, cfg, probes))

	return Report{Checks: checks}
}

func configCheck(loaded config.Loaded) Check {
	message := fmt.Sprintf("loaded %q", loaded.Path)
	if !loaded.Exists {
		message = fmt.Sprintf("%q not found; using defaults", loaded.Path)
	}
	for _, w := range loaded.Warnings {
		if strings.Contains(w.Message, "not found") {
			continue
		}
		message += "; " + w.Message
	}
	return Check{Name: "config", Pass: true, Message: message}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	if predicate(os.Getenv(name)) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(ctx context.Context, cfg config.Config, probes Probes) Check {
	selection, err := probes.SelectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback, cfg.Audio.EchoCancellation)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkRemote confirms the transcription service answers a read-only call.
func checkRemote(ctx context.Context, cfg config.Config, probes Probes) Check {
	endpoint := cfg.Remote.Endpoint
	count, err := probes.ListRecordings(ctx, endpoint, cfg.Remote.DialTimeout())
	if err != nil {
		return Check{Name: "remote.service", Pass: false, Message: fmt.Sprintf("%s: %v", endpoint, err)}
	}
	return Check{Name: "remote.service", Pass: true, Message: fmt.Sprintf("ready at %s (%d recordings)", endpoint, count)}
}

// checkRecognizer confirms the streaming recognizer endpoint accepts connections.
func checkRecognizer(ctx context.Context, cfg config.Config, probes Probes) Check {
	endpoint := strings.TrimSpace(cfg.Recognition.Endpoint)
	if endpoint == "" {
		return Check{Name: "recognition.service", Pass: false, Message: "recognition.endpoint is empty; speech recognition unsupported"}
	}
	if err := probes.DialRecognizer(ctx, endpoint, cfg.Recognition.DialTimeout()); err != nil {
		return Check{Name: "recognition.service", Pass: false, Message: fmt.Sprintf("%s: %v", endpoint, err)}
	}
	return Check{Name: "recognition.service", Pass: true, Message: fmt.Sprintf("ready at %s", endpoint)}
}

func listRecordings(ctx context.Context, endpoint string, timeout time.Duration) (int, error) {
	client, err := remote.Dial(ctx, endpoint, timeout)
	if err != nil {
		return 0, err
	}
	defer client.Close()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	recordings, err := client.ListRecordings(callCtx)
	if err != nil {
		return 0, err
	}
	return len(recordings), nil
}

func dialRecognizer(ctx context.Context, endpoint string, timeout time.Duration) error {
	conn, err := grpcconn.Dial(ctx, endpoint, timeout)
	if err != nil {
		return err
	}
	return conn.Close()
}
