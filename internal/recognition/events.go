// Package recognition turns raw streaming recognizer output into accepted
// transcript segments and keeps the recognizer alive for a whole session.
package recognition

import (
	"context"
	"errors"
)

// ErrUnsupported reports that no usable recognizer exists.
var ErrUnsupported = errors.New("speech recognition is not supported")

// Config is the recognizer configuration. A restart reuses it unchanged.
type Config struct {
	Language        string
	Continuous      bool
	InterimResults  bool
	MaxAlternatives int
	SampleRate      int
}

// Alternative is one ranked candidate transcription.
type Alternative struct {
	Text       string
	Confidence float64
}

// Result is one recognized span. Alternatives are in engine rank order.
type Result struct {
	Index        int
	IsFinal      bool
	Alternatives []Alternative
}

// ErrorKind classifies recognizer-reported errors.
type ErrorKind string

const (
	ErrorNoSpeech     ErrorKind = "no-speech"
	ErrorAborted      ErrorKind = "aborted"
	ErrorAudioCapture ErrorKind = "audio-capture"
	ErrorNetwork      ErrorKind = "network"
	ErrorNotAllowed   ErrorKind = "not-allowed"
	ErrorUnknown      ErrorKind = "unknown"
)

// Event is the closed set of recognizer stream events.
type Event interface {
	recognitionEvent()
}

// ResultsEvent carries one batch of results.
type ResultsEvent struct {
	ResultIndex int
	Results     []Result
}

// ErrorEvent is a recognizer error that does not end the stream by itself.
type ErrorEvent struct {
	Kind    ErrorKind
	Message string
}

// TerminatedEvent is the last event of a stream. Err is nil on a clean end.
type TerminatedEvent struct {
	Err error
}

func (ResultsEvent) recognitionEvent()    {}
func (ErrorEvent) recognitionEvent()      {}
func (TerminatedEvent) recognitionEvent() {}

// Capability opens recognizer streams.
type Capability interface {
	Start(ctx context.Context, cfg Config) (Stream, error)
}

// Stream is one running recognizer instance.
//
// Events is closed after the stream terminates. A stream may deliver a
// TerminatedEvent before closing; closing without one is also termination.
type Stream interface {
	Events() <-chan Event
	SendAudio(pcm []byte) error
	Stop() error
}
