// Package pipeline turns a raw capture stream into fixed-cadence audio chunks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/murmur/internal/audio"
)

const (
	// DefaultInterval is the chunk cadence.
	DefaultInterval = time.Second
	// DefaultMinLevel is the smoothed RMS (full scale = 1) below which input is considered too quiet.
	DefaultMinLevel = 0.01
	// DefaultLevelWarnInterval bounds how often low-level advisories are emitted.
	DefaultLevelWarnInterval = 2 * time.Second

	// AdvisoryLowInputLevel marks a quiet-input advisory.
	AdvisoryLowInputLevel = "low-input-level"

	chunkBuffer    = 64
	advisoryBuffer = 8
)

// ErrCaptureEnded reports a device stream that stopped producing audio on its own.
var ErrCaptureEnded = errors.New("capture stream ended unexpectedly")

// DeviceConfig is the capture format requested from the device.
type DeviceConfig = audio.Config

// byteCounter is implemented by sources that track captured volume.
type byteCounter interface {
	BytesCaptured() int64
}

// Device acquires a capture source.
type Device interface {
	Acquire(ctx context.Context, cfg DeviceConfig) (audio.Source, error)
}

// Chunk is one cadence slice of raw PCM.
type Chunk struct {
	Seq        uint64
	Data       []byte
	CapturedAt time.Time
}

// Advisory is a non-fatal capture notice.
type Advisory struct {
	Kind    string
	Message string
	Level   float64
}

// Options configures one pipeline run.
type Options struct {
	Device            DeviceConfig
	Interval          time.Duration
	MinLevel          float64
	LevelWarnInterval time.Duration
	// Tap receives every raw frame before it is buffered into a chunk.
	Tap    func([]byte)
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.LevelWarnInterval <= 0 {
		o.LevelWarnInterval = DefaultLevelWarnInterval
	}
	if o.MinLevel < 0 {
		o.MinLevel = 0
	}
	return o
}

// Pipeline owns one acquired device stream and its cadence ticker.
type Pipeline struct {
	opts   Options
	source audio.Source
	probe  *levelProbe
	now    func() time.Time

	chunks     chan Chunk
	advisories chan Advisory
	stopCh     chan struct{}
	done       chan struct{}

	stopOnce sync.Once
	stopErr  error

	mu      sync.Mutex
	err     error
	seq     uint64
	pending []byte
}

// Start acquires the device and begins emitting chunks every opts.Interval.
func Start(ctx context.Context, device Device, opts Options) (*Pipeline, error) {
	if device == nil {
		return nil, fmt.Errorf("acquire device: %w", audio.ErrUnavailable)
	}
	opts = opts.withDefaults()

	source, err := device.Acquire(ctx, opts.Device)
	if err != nil {
		return nil, fmt.Errorf("acquire device: %w", err)
	}

	ticker := time.NewTicker(opts.Interval)
	p := newPipeline(source, opts, time.Now)
	go p.run(ticker.C, ticker.Stop)

	if opts.Logger != nil {
		opts.Logger.Info("capture started",
			"device", source.Device().ID,
			"sample_rate", opts.Device.SampleRate,
			"interval_ms", opts.Interval.Milliseconds(),
		)
	}
	return p, nil
}

func newPipeline(source audio.Source, opts Options, now func() time.Time) *Pipeline {
	return &Pipeline{
		opts:       opts,
		source:     source,
		probe:      newLevelProbe(opts.MinLevel, opts.LevelWarnInterval),
		now:        now,
		chunks:     make(chan Chunk, chunkBuffer),
		advisories: make(chan Advisory, advisoryBuffer),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Chunks yields non-empty chunks in sequence order and closes after Stop or
// after the device stream ends.
func (p *Pipeline) Chunks() <-chan Chunk {
	return p.chunks
}

// Advisories yields rate-limited capture notices. Sends never block capture.
func (p *Pipeline) Advisories() <-chan Advisory {
	return p.advisories
}

// Device reports the acquired device.
func (p *Pipeline) Device() audio.Device {
	return p.source.Device()
}

// Level is the current smoothed input level.
func (p *Pipeline) Level() float64 {
	return p.probe.Level()
}

// Err reports an unrecoverable capture failure. Nil after a clean Stop.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stop cancels the ticker and releases the device. The residual buffered
// audio is flushed as a final chunk before Chunks closes. Safe to call more
// than once.
func (p *Pipeline) Stop() error {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		if err := p.source.Release(); err != nil {
			p.stopErr = fmt.Errorf("release device: %w", err)
		}
	})
	return p.stopErr
}

// Done closes once the capture loop has exited and Chunks is closed.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

func (p *Pipeline) run(tick <-chan time.Time, stopTicker func()) {
	defer close(p.done)
	defer p.logStopped()
	defer close(p.chunks)
	defer stopTicker()

	frames := p.source.Frames()
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				p.finish()
				return
			}
			p.accept(frame)
		case <-tick:
			p.flush()
		case <-p.stopCh:
			stopTicker()
			// Release closes frames; keep what the device already delivered.
			for frame := range frames {
				p.accept(frame)
			}
			p.flush()
			return
		}
	}
}

func (p *Pipeline) logStopped() {
	if p.opts.Logger == nil {
		return
	}
	p.mu.Lock()
	chunks := p.seq
	p.mu.Unlock()

	args := []any{"device", p.source.Device().ID, "chunks", chunks}
	if counter, ok := p.source.(byteCounter); ok {
		args = append(args, "bytes", counter.BytesCaptured())
	}
	p.opts.Logger.Info("capture stopped", args...)
}

// finish handles a frames channel that closed on its own.
func (p *Pipeline) finish() {
	p.flush()

	select {
	case <-p.stopCh:
		return
	default:
	}

	cause := p.source.Err()
	if cause == nil {
		cause = ErrCaptureEnded
	} else {
		cause = fmt.Errorf("%w: %v", ErrCaptureEnded, cause)
	}

	p.mu.Lock()
	p.err = cause
	p.mu.Unlock()

	if p.opts.Logger != nil {
		p.opts.Logger.Error("capture failed", "error", cause.Error())
	}
}

func (p *Pipeline) accept(frame []byte) {
	if len(frame) == 0 {
		return
	}
	if p.opts.Tap != nil {
		p.opts.Tap(frame)
	}
	p.pending = append(p.pending, frame...)

	if advisory, ok := p.probe.Observe(frame, p.now()); ok {
		select {
		case p.advisories <- advisory:
		default:
		}
	}
}

// flush emits the buffered audio as one chunk. Empty buffers emit nothing.
func (p *Pipeline) flush() {
	if len(p.pending) == 0 {
		return
	}
	data := p.pending
	p.pending = nil

	p.mu.Lock()
	p.seq++
	seq := p.seq
	p.mu.Unlock()

	p.chunks <- Chunk{Seq: seq, Data: data, CapturedAt: p.now()}
}
