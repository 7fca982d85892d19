// Package speech streams audio to a remote recognizer over gRPC and exposes
// its results as recognition events.
package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/rbright/murmur/internal/grpcconn"
	"github.com/rbright/murmur/internal/recognition"
)

// ServiceName is the fully-qualified recognizer service name.
const ServiceName = "murmur.speech.v1.Recognizer"

// MethodStreamingRecognize is the bidi method: one config Struct, then
// BytesValue audio frames; the server streams result Structs.
const MethodStreamingRecognize = "/" + ServiceName + "/StreamingRecognize"

const eventBuffer = 32

var streamDesc = grpc.StreamDesc{
	StreamName:    "StreamingRecognize",
	ServerStreams: true,
	ClientStreams: true,
}

var _ recognition.Capability = (*Recognizer)(nil)

// Recognizer is a recognition.Capability backed by a gRPC endpoint. The
// connection is dialed on first use and shared by every stream.
type Recognizer struct {
	endpoint    string
	dialTimeout time.Duration
	logger      *slog.Logger

	mu   sync.Mutex
	conn *grpc.ClientConn
}

// New returns a recognizer for endpoint. An empty endpoint yields a
// recognizer whose Start always reports recognition.ErrUnsupported.
func New(endpoint string, dialTimeout time.Duration, logger *slog.Logger) *Recognizer {
	return &Recognizer{
		endpoint:    strings.TrimSpace(endpoint),
		dialTimeout: dialTimeout,
		logger:      logger,
	}
}

// Start opens one recognition stream and sends its configuration.
func (r *Recognizer) Start(ctx context.Context, cfg recognition.Config) (recognition.Stream, error) {
	if r.endpoint == "" {
		return nil, recognition.ErrUnsupported
	}
	conn, err := r.connection(ctx)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cs, err := conn.NewStream(streamCtx, &streamDesc, MethodStreamingRecognize)
	if err != nil {
		cancel()
		return nil, classify(err)
	}

	config, err := encodeConfig(cfg)
	if err != nil {
		cancel()
		return nil, err
	}
	if err := cs.SendMsg(config); err != nil {
		cancel()
		return nil, fmt.Errorf("send recognition config: %w", classify(err))
	}

	s := &stream{
		cs:     cs,
		cancel: cancel,
		events: make(chan recognition.Event, eventBuffer),
		logger: r.logger,
	}
	go s.receive(streamCtx)
	return s, nil
}

// Close releases the shared connection.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}

func (r *Recognizer) connection(ctx context.Context) (*grpc.ClientConn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		return r.conn, nil
	}
	conn, err := grpcconn.Dial(ctx, r.endpoint, r.dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect recognizer: %w", err)
	}
	r.conn = conn
	return conn, nil
}

// stream is one StreamingRecognize call.
type stream struct {
	cs     grpc.ClientStream
	cancel context.CancelFunc
	events chan recognition.Event
	logger *slog.Logger

	sendMu  sync.Mutex
	mu      sync.Mutex
	stopped bool
}

func (s *stream) Events() <-chan recognition.Event {
	return s.events
}

func (s *stream) SendAudio(pcm []byte) error {
	if s.isStopped() {
		return errors.New("recognition stream stopped")
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := s.cs.SendMsg(wrapperspb.Bytes(pcm)); err != nil {
		return fmt.Errorf("send audio: %w", err)
	}
	return nil
}

// Stop half-closes and cancels the call without waiting for pending results.
func (s *stream) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	s.sendMu.Lock()
	_ = s.cs.CloseSend()
	s.sendMu.Unlock()
	s.cancel()
	return nil
}

func (s *stream) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *stream) receive(ctx context.Context) {
	defer close(s.events)
	defer s.cancel()

	for {
		msg := new(structpb.Struct)
		err := s.cs.RecvMsg(msg)
		if err != nil {
			if s.isStopped() {
				return
			}
			s.emit(ctx, recognition.TerminatedEvent{Err: terminationCause(err)})
			return
		}

		ev, ok := decodeEvent(msg)
		if !ok {
			if s.logger != nil {
				s.logger.Debug("ignoring empty recognizer message")
			}
			continue
		}
		if !s.emit(ctx, ev) {
			return
		}
	}
}

func (s *stream) emit(ctx context.Context, ev recognition.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// terminationCause maps a receive error to the termination reason. A clean
// server close is still an unexpected end while the stream is wanted.
func terminationCause(err error) error {
	if errors.Is(err, io.EOF) {
		return errors.New("recognizer closed the stream")
	}
	return classify(err)
}

// classify marks Unimplemented endpoints as unsupported.
func classify(err error) error {
	if status.Code(err) == codes.Unimplemented {
		return fmt.Errorf("%w: %v", recognition.ErrUnsupported, err)
	}
	return err
}
