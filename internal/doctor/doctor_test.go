package doctor

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/murmur/internal/audio"
	"github.com/rbright/murmur/internal/config"
	"github.com/rbright/murmur/internal/remote"
)

func TestReportOKAndString(t *testing.T) {
	report := Report{Checks: []Check{
		{Name: "one", Pass: true, Message: "good"},
		{Name: "two", Pass: false, Message: "bad"},
	}}

	require.False(t, report.OK())
	text := report.String()
	require.Contains(t, text, "[OK] one: good")
	require.Contains(t, text, "[FAIL] two: bad")
	require.False(t, strings.HasSuffix(text, "\n"))
}

func TestReportOKAllPassing(t *testing.T) {
	report := Report{Checks: []Check{{Name: "one", Pass: true}, {Name: "two", Pass: true}}}
	require.True(t, report.OK())
}

func TestCheckEnv(t *testing.T) {
	t.Setenv("TEST_DOCTOR_ENV", "/run/user/1000")

	check := checkEnv(
		"TEST_DOCTOR_ENV",
		func(v string) bool { return v != "" },
		"looks good",
		"unexpected",
	)

	require.True(t, check.Pass)
	require.Equal(t, "looks good", check.Message)
}

func TestConfigCheckFoldsWarnings(t *testing.T) {
	check := configCheck(config.Loaded{
		Path:   "/tmp/config.jsonc",
		Exists: true,
		Warnings: []config.Warning{
			{Message: "remote.endpoint overridden by MURMUR_REMOTE_ENDPOINT"},
		},
	})
	require.True(t, check.Pass)
	require.Contains(t, check.Message, `loaded "/tmp/config.jsonc"`)
	require.Contains(t, check.Message, "MURMUR_REMOTE_ENDPOINT")

	missing := configCheck(config.Loaded{Path: "/tmp/none.jsonc"})
	require.Contains(t, missing.Message, "using defaults")
}

func TestCheckAudioSelectionPassesEchoCancelPreference(t *testing.T) {
	cfg := config.Default()
	var gotPrefer bool
	probes := Probes{SelectDevice: func(_ context.Context, input, fallback string, prefer bool) (audio.Selection, error) {
		require.Equal(t, cfg.Audio.Input, input)
		require.Equal(t, cfg.Audio.Fallback, fallback)
		gotPrefer = prefer
		return audio.Selection{Device: audio.Device{ID: "echo-cancel-source"}, Warning: "using fallback"}, nil
	}}

	check := checkAudioSelection(context.Background(), cfg, probes)
	require.True(t, check.Pass)
	require.True(t, gotPrefer)
	require.Equal(t, `selected "echo-cancel-source" (using fallback)`, check.Message)
}

func TestCheckAudioSelectionFailure(t *testing.T) {
	probes := Probes{SelectDevice: func(context.Context, string, string, bool) (audio.Selection, error) {
		return audio.Selection{}, audio.ErrUnavailable
	}}

	check := checkAudioSelection(context.Background(), config.Default(), probes)
	require.False(t, check.Pass)
	require.Equal(t, "audio.device", check.Name)
}

func TestCheckAudioSelectionFailureWithInvalidPulseServer(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	check := checkAudioSelection(context.Background(), config.Default(), DefaultProbes())
	require.False(t, check.Pass)
}

func TestCheckRecognizerEmptyEndpoint(t *testing.T) {
	cfg := config.Default()
	cfg.Recognition.Endpoint = ""

	check := checkRecognizer(context.Background(), cfg, Probes{})
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "unsupported")
}

func TestRunAgainstLiveServices(t *testing.T) {
	endpoint := startMemoryService(t)
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	cfg := config.Default()
	cfg.Remote.Endpoint = endpoint
	cfg.Remote.DialTimeoutMS = 2000
	cfg.Recognition.Endpoint = endpoint

	probes := DefaultProbes()
	probes.SelectDevice = func(context.Context, string, string, bool) (audio.Selection, error) {
		return audio.Selection{Device: audio.Device{ID: "mic"}}, nil
	}

	report := Run(context.Background(), config.Loaded{Path: "/tmp/config.jsonc", Exists: true, Config: cfg}, probes)
	require.True(t, report.OK(), report.String())
	require.Contains(t, report.String(), "(0 recordings)")
}

func TestRunReportsUnreachableServices(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "")

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	closed := listener.Addr().String()
	require.NoError(t, listener.Close())

	cfg := config.Default()
	cfg.Remote.Endpoint = closed
	cfg.Remote.DialTimeoutMS = 200
	cfg.Recognition.Endpoint = closed
	cfg.Recognition.DialTimeoutMS = 200

	probes := DefaultProbes()
	probes.SelectDevice = func(context.Context, string, string, bool) (audio.Selection, error) {
		return audio.Selection{}, errors.New("no sources")
	}

	report := Run(context.Background(), config.Loaded{Path: "/tmp/config.jsonc", Config: cfg}, probes)
	require.False(t, report.OK())

	failed := map[string]bool{}
	for _, check := range report.Checks {
		if !check.Pass {
			failed[check.Name] = true
		}
	}
	require.Equal(t, map[string]bool{
		"XDG_RUNTIME_DIR":     true,
		"audio.device":        true,
		"remote.service":      true,
		"recognition.service": true,
	}, failed)
}

func startMemoryService(t *testing.T) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- remote.Serve(ctx, listener, remote.NewMemory(nil), nil)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("service did not stop")
		}
	})
	return listener.Addr().String()
}
