package app

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/murmur/internal/audio"
	"github.com/rbright/murmur/internal/ipc"
	"github.com/rbright/murmur/internal/pipeline"
	"github.com/rbright/murmur/internal/recognition"
	"github.com/rbright/murmur/internal/remote"
)

type testSource struct {
	frames chan []byte
	once   sync.Once
}

func (s *testSource) Device() audio.Device  { return audio.Device{ID: "test-mic"} }
func (s *testSource) Frames() <-chan []byte { return s.frames }
func (s *testSource) Err() error            { return nil }

func (s *testSource) Release() error {
	s.once.Do(func() { close(s.frames) })
	return nil
}

type testDevice struct {
	mu      sync.Mutex
	sources []*testSource
}

func (d *testDevice) Acquire(context.Context, pipeline.DeviceConfig) (audio.Source, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	src := &testSource{frames: make(chan []byte)}
	d.sources = append(d.sources, src)
	return src, nil
}

func (d *testDevice) latest() *testSource {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sources) == 0 {
		return nil
	}
	return d.sources[len(d.sources)-1]
}

type testStream struct {
	events chan recognition.Event
}

func (s *testStream) Events() <-chan recognition.Event { return s.events }
func (s *testStream) SendAudio([]byte) error           { return nil }
func (s *testStream) Stop() error                      { return nil }

type testRecognizer struct {
	mu      sync.Mutex
	streams []*testStream
}

func (r *testRecognizer) Start(context.Context, recognition.Config) (recognition.Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stream := &testStream{events: make(chan recognition.Event, 8)}
	r.streams = append(r.streams, stream)
	return stream, nil
}

func (r *testRecognizer) latest() *testStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.streams) == 0 {
		return nil
	}
	return r.streams[len(r.streams)-1]
}

type runnerPaths struct {
	configPath string
	runtimeDir string
	socketPath string
}

// setupRunnerEnv isolates state, runtime, and config directories. contents
// is written as the config file.
func setupRunnerEnv(t *testing.T, contents string) runnerPaths {
	t.Helper()

	runtimeDir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)

	configPath := filepath.Join(t.TempDir(), "config.jsonc")
	require.NoError(t, os.WriteFile(configPath, []byte(contents), 0o600))

	return runnerPaths{
		configPath: configPath,
		runtimeDir: runtimeDir,
		socketPath: filepath.Join(runtimeDir, ipc.SocketName),
	}
}

func startIPCServerForRunnerTest(t *testing.T, socketPath string, handler func(context.Context, ipc.Request) ipc.Response) func() {
	t.Helper()

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ipc.Serve(ctx, listener, ipc.HandlerFunc(handler))
	}()

	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}

// startRemoteService serves mem over TCP and returns its address.
func startRemoteService(t *testing.T, mem *remote.Memory) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- remote.Serve(ctx, listener, mem, nil)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("remote service did not stop")
		}
	})
	return listener.Addr().String()
}

func closedEndpoint(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())
	return addr
}
