package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/murmur/internal/audio"
	"github.com/rbright/murmur/internal/fsm"
	"github.com/rbright/murmur/internal/pipeline"
	"github.com/rbright/murmur/internal/recognition"
	"github.com/rbright/murmur/internal/remote"
)

type fakeSource struct {
	frames chan []byte

	mu       sync.Mutex
	released bool
	err      error
	onClose  func()
}

func (s *fakeSource) Device() audio.Device  { return audio.Device{ID: "fake-mic"} }
func (s *fakeSource) Frames() <-chan []byte { return s.frames }

func (s *fakeSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeSource) Release() error {
	s.close(nil)
	return nil
}

func (s *fakeSource) crash(err error) {
	s.close(err)
}

func (s *fakeSource) close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.released = true
	s.err = err
	close(s.frames)
	if s.onClose != nil {
		s.onClose()
	}
}

func (s *fakeSource) isReleased() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// fakeDevice hands out sources and tracks how many are held at once.
type fakeDevice struct {
	err error

	live    atomic.Int32
	maxLive atomic.Int32

	mu      sync.Mutex
	sources []*fakeSource
}

func (d *fakeDevice) Acquire(_ context.Context, _ pipeline.DeviceConfig) (audio.Source, error) {
	if d.err != nil {
		return nil, d.err
	}
	n := d.live.Add(1)
	for {
		prev := d.maxLive.Load()
		if n <= prev || d.maxLive.CompareAndSwap(prev, n) {
			break
		}
	}

	src := &fakeSource{frames: make(chan []byte)}
	src.onClose = func() { d.live.Add(-1) }

	d.mu.Lock()
	d.sources = append(d.sources, src)
	d.mu.Unlock()
	return src, nil
}

func (d *fakeDevice) source(t *testing.T, i int) *fakeSource {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.Greater(t, len(d.sources), i)
	return d.sources[i]
}

func (d *fakeDevice) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sources)
}

type fakeStream struct {
	events chan recognition.Event

	mu      sync.Mutex
	audio   int
	stopped bool
}

func (s *fakeStream) Events() <-chan recognition.Event { return s.events }

func (s *fakeStream) SendAudio(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio += len(pcm)
	return nil
}

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *fakeStream) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *fakeStream) audioBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio
}

type fakeCapability struct {
	mu       sync.Mutex
	configs  []recognition.Config
	streams  []*fakeStream
	startErr error
}

func (c *fakeCapability) Start(_ context.Context, cfg recognition.Config) (recognition.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.configs = append(c.configs, cfg)
	if c.startErr != nil {
		return nil, c.startErr
	}
	stream := &fakeStream{events: make(chan recognition.Event, 16)}
	c.streams = append(c.streams, stream)
	return stream, nil
}

func (c *fakeCapability) failStarts(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startErr = err
}

func (c *fakeCapability) stream(t *testing.T, i int) *fakeStream {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.Greater(t, len(c.streams), i)
	return c.streams[i]
}

func (c *fakeCapability) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.streams)
}

func (c *fakeCapability) startConfigs() []recognition.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]recognition.Config(nil), c.configs...)
}

// fakeService is the in-memory service with injectable finalize behavior.
type fakeService struct {
	*remote.Memory

	finalizeErr   error
	finalizeBlock bool
	startErr      error
}

func (s *fakeService) StartSession(ctx context.Context) (remote.SessionID, error) {
	if s.startErr != nil {
		return "", s.startErr
	}
	return s.Memory.StartSession(ctx)
}

func (s *fakeService) FinalizeSession(ctx context.Context, id remote.SessionID) (bool, error) {
	if s.finalizeBlock {
		<-ctx.Done()
		return false, ctx.Err()
	}
	if s.finalizeErr != nil {
		return false, s.finalizeErr
	}
	return s.Memory.FinalizeSession(ctx, id)
}

func (s *fakeService) recording(t *testing.T, id remote.SessionID) remote.Recording {
	t.Helper()
	recordings, err := s.ListRecordings(context.Background())
	require.NoError(t, err)
	for _, rec := range recordings {
		if rec.ID == id {
			return rec
		}
	}
	t.Fatalf("recording %s not found", id)
	return remote.Recording{}
}

type presented struct {
	kind string
	text string
}

type recordingPresenter struct {
	mu        sync.Mutex
	interims  []string
	segments  []string
	states    []fsm.State
	warnings  []presented
	fatals    []presented
	finalized []presented
}

func (p *recordingPresenter) OnInterimUpdate(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interims = append(p.interims, text)
}

func (p *recordingPresenter) OnSegmentAccepted(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.segments = append(p.segments, text)
}

func (p *recordingPresenter) OnSessionStateChanged(state fsm.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, state)
}

func (p *recordingPresenter) OnWarning(kind, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.warnings = append(p.warnings, presented{kind: kind, text: message})
}

func (p *recordingPresenter) OnFatalError(kind, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fatals = append(p.fatals, presented{kind: kind, text: message})
}

func (p *recordingPresenter) OnTranscriptFinalized(id remote.SessionID, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finalized = append(p.finalized, presented{kind: string(id), text: text})
}

func (p *recordingPresenter) snapshot() recordingPresenter {
	p.mu.Lock()
	defer p.mu.Unlock()
	return recordingPresenter{
		interims:  append([]string(nil), p.interims...),
		segments:  append([]string(nil), p.segments...),
		states:    append([]fsm.State(nil), p.states...),
		warnings:  append([]presented(nil), p.warnings...),
		fatals:    append([]presented(nil), p.fatals...),
		finalized: append([]presented(nil), p.finalized...),
	}
}

func (p *recordingPresenter) warningKinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	kinds := make([]string, 0, len(p.warnings))
	for _, w := range p.warnings {
		kinds = append(kinds, w.kind)
	}
	return kinds
}

type harness struct {
	ctrl       *Controller
	device     *fakeDevice
	capability *fakeCapability
	service    *fakeService
	presenter  *recordingPresenter
}

var testRecognitionConfig = recognition.Config{
	Language:        "en-US",
	Continuous:      true,
	InterimResults:  true,
	MaxAlternatives: 3,
	SampleRate:      48000,
}

func newHarness(t *testing.T, mutate ...func(*Deps)) *harness {
	t.Helper()
	h := &harness{
		device:     &fakeDevice{},
		capability: &fakeCapability{},
		service:    &fakeService{Memory: remote.NewMemory(nil)},
		presenter:  &recordingPresenter{},
	}
	deps := Deps{
		Device: h.device,
		Capture: pipeline.Options{
			Device:   audio.DefaultConfig(),
			Interval: time.Hour,
		},
		Recognizer: h.capability,
		Recognition: recognition.Options{
			Config:              testRecognitionConfig,
			ConfidenceThreshold: 0.8,
			Restart:             recognition.RestartPolicy{InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond},
		},
		Service:         h.service,
		FinalizeTimeout: 2 * time.Second,
		Presenter:       h.presenter,
	}
	for _, fn := range mutate {
		fn(&deps)
	}
	h.ctrl = NewController(deps)
	t.Cleanup(func() {
		_ = h.ctrl.Close(context.Background())
	})
	return h
}

func finalResult(alternatives ...recognition.Alternative) recognition.ResultsEvent {
	return recognition.ResultsEvent{Results: []recognition.Result{{IsFinal: true, Alternatives: alternatives}}}
}

func interimResult(text string) recognition.ResultsEvent {
	return recognition.ResultsEvent{Results: []recognition.Result{{Alternatives: []recognition.Alternative{{Text: text, Confidence: 0.2}}}}}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

var errBoom = errors.New("boom")
