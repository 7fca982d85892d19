// Package audio handles input device discovery, selection, and PCM capture.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

const (
	fragmentDuration = 20 * time.Millisecond
	monitorInterval  = 250 * time.Millisecond
	echoCancelMarker = "echo-cancel"
)

// ErrUnavailable reports that no usable input device could be acquired.
var ErrUnavailable = errors.New("audio input device unavailable")

// Config is the requested capture format and processing.
type Config struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
	ChannelCount     int
	SampleRate       int
	SampleSize       int
}

// DefaultConfig returns 48kHz mono 16-bit capture with all processing requested.
func DefaultConfig() Config {
	return Config{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
		ChannelCount:     1,
		SampleRate:       48000,
		SampleSize:       16,
	}
}

// Validate rejects formats the capture path cannot produce.
func (c Config) Validate() error {
	if c.ChannelCount != 1 {
		return fmt.Errorf("unsupported channel count %d (mono only)", c.ChannelCount)
	}
	if c.SampleSize != 16 {
		return fmt.Errorf("unsupported sample size %d (16-bit only)", c.SampleSize)
	}
	if c.SampleRate < 8000 || c.SampleRate > 192000 {
		return fmt.Errorf("unsupported sample rate %d", c.SampleRate)
	}
	return nil
}

// FragmentBytes is the PCM byte count of one capture fragment.
func (c Config) FragmentBytes() int {
	return int(int64(c.SampleRate) * int64(fragmentDuration) / int64(time.Second) * int64(c.ChannelCount) * int64(c.SampleSize/8))
}

// Source is one acquired device stream producing raw s16le PCM frames.
type Source interface {
	Device() Device
	Frames() <-chan []byte
	Err() error
	Release() error
}

// Device describes one Pulse input source.
type Device struct {
	ID          string
	Description string
	State       string
	Available   bool
	Muted       bool
	Default     bool
}

// Selection is the resolved capture source plus optional fallback warning context.
type Selection struct {
	Device   Device
	Warning  string
	Fallback bool
}

// Pulse acquires capture sources from the PulseAudio (or pipewire-pulse) server.
type Pulse struct {
	Input    string
	Fallback string
	Logger   *slog.Logger
}

// Acquire selects an input per Input/Fallback and starts recording.
func (p Pulse) Acquire(ctx context.Context, cfg Config) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	devices, err := ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	selection, err := selectDeviceFromList(devices, p.Input, p.Fallback, cfg.EchoCancellation)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if selection.Warning != "" && p.Logger != nil {
		p.Logger.Warn(selection.Warning)
	}
	if p.Logger != nil && (cfg.NoiseSuppression || cfg.AutoGainControl) {
		p.Logger.Debug("pulse capture does not apply noise suppression or gain control; configure a filter source instead",
			"noise_suppression", cfg.NoiseSuppression,
			"auto_gain_control", cfg.AutoGainControl,
		)
	}

	capture, err := StartCapture(ctx, selection.Device, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return capture, nil
}

// ListDevices returns available Pulse input sources with default/availability metadata.
func ListDevices(_ context.Context) ([]Device, error) {
	client, err := newClient()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	defaultSource, err := client.DefaultSource()
	if err != nil {
		return nil, fmt.Errorf("read default source: %w", err)
	}
	defaultID := defaultSource.ID()

	var sourceInfos pulseproto.GetSourceInfoListReply
	if err := client.RawRequest(&pulseproto.GetSourceInfoList{}, &sourceInfos); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	devices := make([]Device, 0, len(sourceInfos))
	for _, source := range sourceInfos {
		if source == nil {
			continue
		}
		devices = append(devices, Device{
			ID:          source.SourceName,
			Description: source.Device,
			State:       sourceStateString(source.State),
			Available:   sourceAvailable(source),
			Muted:       source.Mute,
			Default:     source.SourceName == defaultID,
		})
	}
	return devices, nil
}

// SelectDevice resolves audio.input/audio.fallback preferences against live devices.
func SelectDevice(ctx context.Context, input string, fallback string, preferEchoCancel bool) (Selection, error) {
	devices, err := ListDevices(ctx)
	if err != nil {
		return Selection{}, err
	}
	return selectDeviceFromList(devices, input, fallback, preferEchoCancel)
}

// selectDeviceFromList applies selection policy to a pre-fetched device list.
//
// With preferEchoCancel and a default input, a usable echo-cancel filter
// source wins over the plain default source.
func selectDeviceFromList(devices []Device, input string, fallback string, preferEchoCancel bool) (Selection, error) {
	if len(devices) == 0 {
		return Selection{}, errors.New("no audio input devices found")
	}

	var (
		defaultDevice *Device
		byInput       *Device
		byFallback    *Device
		echoCancel    *Device
	)

	input = strings.TrimSpace(strings.ToLower(input))
	fallback = strings.TrimSpace(strings.ToLower(fallback))

	for i := range devices {
		dev := &devices[i]
		if dev.Default {
			defaultDevice = dev
		}
		if byInput == nil && input != "" && input != "default" && deviceMatches(*dev, input) {
			byInput = dev
		}
		if byFallback == nil && fallback != "" && fallback != "default" && deviceMatches(*dev, fallback) {
			byFallback = dev
		}
		if echoCancel == nil && dev.Available && !dev.Muted && deviceMatches(*dev, echoCancelMarker) {
			echoCancel = dev
		}
	}

	useDefault := input == "" || input == "default"
	if useDefault && preferEchoCancel && echoCancel != nil {
		return Selection{Device: *echoCancel}, nil
	}

	chooseDefault := func() (*Device, error) {
		if defaultDevice == nil {
			return nil, errors.New("default audio source is unavailable")
		}
		return defaultDevice, nil
	}

	selectPrimary := func() (*Device, error) {
		if useDefault {
			return chooseDefault()
		}
		if byInput != nil {
			return byInput, nil
		}
		return nil, fmt.Errorf("audio.input %q did not match any device", input)
	}

	primary, err := selectPrimary()
	if err != nil {
		return Selection{}, err
	}
	if primary.Available && !primary.Muted {
		return Selection{Device: *primary}, nil
	}

	primaryReason := "unavailable"
	if primary.Muted {
		primaryReason = "muted"
	}

	fallbackDevice := primary
	if fallback != "" && fallback != "default" {
		if byFallback == nil {
			return Selection{}, fmt.Errorf("primary input %q is %s and fallback %q not found", primary.ID, primaryReason, fallback)
		}
		fallbackDevice = byFallback
	} else {
		d, derr := chooseDefault()
		if derr != nil {
			return Selection{}, fmt.Errorf("primary input %q is %s and no usable fallback: %w", primary.ID, primaryReason, derr)
		}
		fallbackDevice = d
	}

	if !fallbackDevice.Available {
		return Selection{}, fmt.Errorf("audio fallback device %q is not available", fallbackDevice.ID)
	}
	if fallbackDevice.Muted {
		return Selection{}, fmt.Errorf("audio fallback device %q is muted", fallbackDevice.ID)
	}

	return Selection{
		Device:   *fallbackDevice,
		Warning:  fmt.Sprintf("audio.input %q is %s; falling back to %q", primary.ID, primaryReason, fallbackDevice.ID),
		Fallback: primary.ID != fallbackDevice.ID,
	}, nil
}

// deviceMatches reports whether a search term matches a device id or description.
func deviceMatches(device Device, term string) bool {
	if term == "" {
		return false
	}
	id := strings.ToLower(device.ID)
	desc := strings.ToLower(device.Description)
	return strings.Contains(id, term) || strings.Contains(desc, term)
}

// Capture streams raw PCM frames from one selected Pulse source.
type Capture struct {
	device Device

	client *pulse.Client
	stream *pulse.RecordStream

	frames chan []byte
	stopCh chan struct{}

	mu      sync.Mutex
	stopped bool
	err     error

	inflight sync.WaitGroup
	bytes    atomic.Int64
}

// StartCapture creates and starts a mono s16le record stream at cfg.SampleRate.
func StartCapture(ctx context.Context, selected Device, cfg Config) (*Capture, error) {
	client, err := newClient()
	if err != nil {
		return nil, err
	}

	source, err := client.SourceByID(selected.ID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("resolve source %q: %w", selected.ID, err)
	}

	capture := &Capture{
		device: selected,
		client: client,
		frames: make(chan []byte, 128),
		stopCh: make(chan struct{}),
	}

	writer := pulse.NewWriter(writerFunc(capture.onPCM), pulseproto.FormatInt16LE)
	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(cfg.SampleRate),
		pulse.RecordBufferFragmentSize(uint32(cfg.FragmentBytes())),
		pulse.RecordMediaName("murmur recording"),
	)
	if err != nil {
		_ = capture.Release()
		return nil, fmt.Errorf("create pulse record stream: %w", err)
	}

	capture.stream = stream
	stream.Start()

	go capture.monitor(ctx)
	return capture, nil
}

// monitor releases the capture on ctx cancellation and detects streams the
// server closed underneath us.
func (c *Capture) monitor(ctx context.Context) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			_ = c.Release()
			return
		case <-ticker.C:
			if c.stream == nil || !c.stream.Closed() {
				continue
			}
			err := c.stream.Error()
			if err == nil {
				err = errors.New("record stream closed by server")
			}
			c.fail(err)
			return
		}
	}
}

// Device returns capture metadata for logging and diagnostics.
func (c *Capture) Device() Device {
	return c.device
}

// Frames returns raw PCM buffers as delivered by the server.
func (c *Capture) Frames() <-chan []byte {
	return c.frames
}

// Err reports why the stream ended when it ended without Release.
func (c *Capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// BytesCaptured reports total bytes accepted from Pulse.
func (c *Capture) BytesCaptured() int64 {
	return c.bytes.Load()
}

// Release halts the stream, disconnects, and closes Frames exactly once.
func (c *Capture) Release() error {
	return c.shutdown(nil)
}

func (c *Capture) fail(err error) {
	_ = c.shutdown(err)
}

func (c *Capture) shutdown(cause error) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.err = cause
	close(c.stopCh)
	c.mu.Unlock()

	if c.stream != nil {
		c.stream.Stop()
		c.stream.Close()
	}
	if c.client != nil {
		c.client.Close()
	}

	c.inflight.Wait()
	close(c.frames)
	return nil
}

// onPCM copies one server buffer onto the frames channel.
func (c *Capture) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	select {
	case <-c.stopCh:
		return 0, io.EOF
	default:
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return 0, io.EOF
	}
	// Guard Add under the same mutex as c.stopped to avoid Add/Wait races.
	c.inflight.Add(1)
	c.mu.Unlock()
	defer c.inflight.Done()

	frame := make([]byte, len(buffer))
	copy(frame, buffer)
	c.bytes.Add(int64(len(buffer)))

	select {
	case <-c.stopCh:
		return 0, io.EOF
	case c.frames <- frame:
	}
	return len(buffer), nil
}

func newClient() (*pulse.Client, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("murmur"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}
	return client, nil
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}

// sourceStateString maps Pulse source state constants to human-readable values.
func sourceStateString(state uint32) string {
	switch state {
	case 0:
		return "running"
	case 1:
		return "idle"
	case 2:
		return "suspended"
	default:
		return fmt.Sprintf("unknown(%d)", state)
	}
}

// sourceAvailable maps Pulse source port availability to a simple boolean.
func sourceAvailable(source *pulseproto.GetSourceInfoReply) bool {
	if source == nil {
		return false
	}
	if len(source.Ports) == 0 {
		return true
	}
	for _, port := range source.Ports {
		if port.Name != source.ActivePortName {
			continue
		}
		// PulseAudio values: unknown=0, no=1, yes=2.
		return port.Available == 0 || port.Available == 2
	}
	return true
}
