// Package session owns the recording lifecycle: it composes capture,
// recognition, transcript accumulation, and remote sync into one session at
// a time and guarantees cleanup on every exit path.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbright/murmur/internal/fsm"
	"github.com/rbright/murmur/internal/ipc"
	"github.com/rbright/murmur/internal/pipeline"
	"github.com/rbright/murmur/internal/recognition"
	"github.com/rbright/murmur/internal/remote"
	"github.com/rbright/murmur/internal/transcript"
)

// DefaultFinalizeTimeout bounds draining plus FinalizeSession plus FetchTranscript.
const DefaultFinalizeTimeout = 10 * time.Second

// Deps wires the controller to its collaborators.
type Deps struct {
	Device      pipeline.Device
	Capture     pipeline.Options
	Recognizer  recognition.Capability
	Recognition recognition.Options
	Service     remote.Service

	CallTimeout     time.Duration
	FinalizeTimeout time.Duration

	Presenter Presenter
	Logger    *slog.Logger
}

// RecordingSession is one live session. Its fields are owned by the
// Controller; other components only borrow them.
type RecordingSession struct {
	ID         remote.SessionID
	StartedAt  time.Time
	Transcript *transcript.Accumulator

	capture    *pipeline.Pipeline
	recognizer *recognition.Reconciler
	cancel     context.CancelFunc
	done       chan struct{}

	// restarted carries the result of the single in-flight recognizer
	// restart back to the event loop.
	restarted  chan error
	restarting sync.WaitGroup
	dropped    atomic.Int64
}

// Elapsed is measured on the monotonic clock from StartedAt.
func (s *RecordingSession) Elapsed() time.Duration {
	return time.Since(s.StartedAt)
}

// Status is a point-in-time view of the controller.
type Status struct {
	State      fsm.State
	SessionID  remote.SessionID
	Elapsed    time.Duration
	Segments   int
	Transcript string

	InputLevel float64
	Restarts   int
	// DroppedResults counts final results with no alternative above threshold.
	DroppedResults     int
	PendingSubmissions int
	// SubmitFailures counts dropped remote submissions since the controller started.
	SubmitFailures int64
}

// Controller is the only writer of session state.
type Controller struct {
	deps      Deps
	logger    *slog.Logger
	presenter Presenter
	bridge    *remote.Bridge

	// opMu serializes Start and Stop; Toggle only proceeds when it is free.
	opMu sync.Mutex

	mu       sync.RWMutex
	state    fsm.State
	current  *RecordingSession
	idleWait []chan struct{}

	background sync.WaitGroup
}

// NewController constructs a controller in the idle state.
func NewController(deps Deps) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	presenter := deps.Presenter
	if presenter == nil {
		presenter = noopPresenter{}
	}
	if deps.FinalizeTimeout <= 0 {
		deps.FinalizeTimeout = DefaultFinalizeTimeout
	}

	c := &Controller{
		deps:      deps,
		logger:    logger,
		presenter: presenter,
		state:     fsm.StateIdle,
	}
	c.bridge = remote.NewBridge(deps.Service, remote.BridgeOptions{
		CallTimeout:     deps.CallTimeout,
		Logger:          logger,
		OnSubmitFailure: c.onSubmitFailure,
	})
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() fsm.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Status returns state plus the live session's progress.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := Status{State: c.state, SubmitFailures: c.bridge.Failures()}
	if s := c.current; s != nil {
		status.SessionID = s.ID
		status.Elapsed = s.Elapsed()
		status.Segments = s.Transcript.Len()
		status.Transcript = s.Transcript.CurrentView()
		status.InputLevel = s.capture.Level()
		status.Restarts = s.recognizer.Restarts()
		status.DroppedResults = int(s.dropped.Load())
		status.PendingSubmissions = c.bridge.Pending(s.ID)
	}
	return status
}

// Start begins a new session. An active session is fully stopped first.
func (c *Controller) Start(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.startLocked(ctx)
}

// Stop ends the active session; it is a no-op when nothing is active.
// Resources are released even when finalize fails, and the controller
// always returns to idle.
func (c *Controller) Stop(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.stopLocked(ctx)
}

// Toggle starts from idle and stops from active. While another start or
// stop is in flight it does nothing.
func (c *Controller) Toggle(ctx context.Context) error {
	if !c.opMu.TryLock() {
		c.logger.Debug("toggle ignored while session is changing state", "state", string(c.State()))
		return nil
	}
	defer c.opMu.Unlock()

	switch c.State() {
	case fsm.StateIdle:
		return c.startLocked(ctx)
	case fsm.StateActive:
		return c.stopLocked(ctx)
	default:
		return nil
	}
}

// WaitIdle blocks until the controller settles in idle with no operation
// in flight.
func (c *Controller) WaitIdle(ctx context.Context) error {
	for {
		c.mu.Lock()
		ch := make(chan struct{})
		if c.state == fsm.StateIdle {
			close(ch)
		} else {
			c.idleWait = append(c.idleWait, ch)
		}
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}

		c.opMu.Lock()
		settled := c.State() == fsm.StateIdle
		c.opMu.Unlock()
		if settled {
			return nil
		}
	}
}

// Close stops any active session and waits for background cleanup.
func (c *Controller) Close(ctx context.Context) error {
	err := c.Stop(ctx)
	c.background.Wait()
	return err
}

func (c *Controller) startLocked(ctx context.Context) error {
	if c.State() == fsm.StateActive {
		c.logger.Info("stopping active session before starting a new one")
		if err := c.stopLocked(ctx); err != nil {
			c.logger.Warn("previous session stopped with error", "error", err.Error())
		}
	}
	if c.deps.Recognizer == nil {
		c.presenter.OnFatalError(KindRecognitionUnsupported, ErrRecognitionUnsupported.Error())
		return ErrRecognitionUnsupported
	}

	if err := c.transition(fsm.EventStart); err != nil {
		return err
	}

	s, err := c.open(ctx)
	if err != nil {
		c.logger.Error("session start failed", "error", err.Error())
		_ = c.transition(fsm.EventFail)
		c.presenter.OnFatalError(Kind(err), err.Error())
		return err
	}

	c.mu.Lock()
	c.current = s
	c.mu.Unlock()
	if err := c.transition(fsm.EventStarted); err != nil {
		return err
	}

	c.logger.Info("session started", "session_id", string(s.ID))
	return nil
}

// open acquires everything a session needs, in order: remote session,
// capture, recognition. A failure releases whatever was acquired.
func (c *Controller) open(ctx context.Context) (*RecordingSession, error) {
	id, err := c.bridge.Allocate(ctx)
	if err != nil {
		return nil, err
	}

	recognizer := recognition.NewReconciler(c.deps.Recognizer, c.recognitionOptions())

	captureOpts := c.deps.Capture
	captureOpts.Tap = recognizer.Feed
	if captureOpts.Logger == nil {
		captureOpts.Logger = c.logger
	}
	// Session resources outlive the request that started them.
	resourceCtx := context.WithoutCancel(ctx)

	capture, err := pipeline.Start(resourceCtx, c.deps.Device, captureOpts)
	if err != nil {
		c.bridge.Discard(id)
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	if err := recognizer.Start(resourceCtx); err != nil {
		_ = capture.Stop()
		for range capture.Chunks() {
		}
		c.bridge.Discard(id)
		if errors.Is(err, recognition.ErrUnsupported) {
			return nil, fmt.Errorf("%w: %w", ErrRecognitionUnsupported, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrRecognitionTermination, err)
	}

	loopCtx, cancel := context.WithCancel(resourceCtx)
	s := &RecordingSession{
		ID:         id,
		StartedAt:  time.Now(),
		Transcript: transcript.NewAccumulator(),
		capture:    capture,
		recognizer: recognizer,
		cancel:     cancel,
		done:       make(chan struct{}),
		restarted:  make(chan error, 1),
	}
	go c.run(loopCtx, s)
	return s, nil
}

func (c *Controller) recognitionOptions() recognition.Options {
	opts := c.deps.Recognition
	if opts.Logger == nil {
		opts.Logger = c.logger
	}
	return opts
}

func (c *Controller) stopLocked(ctx context.Context) error {
	c.mu.RLock()
	s := c.current
	state := c.state
	c.mu.RUnlock()
	if state != fsm.StateActive || s == nil {
		return nil
	}

	if err := c.transition(fsm.EventStop); err != nil {
		return err
	}
	defer func() {
		c.mu.Lock()
		c.current = nil
		c.mu.Unlock()
		_ = c.transition(fsm.EventStopped)
	}()

	c.release(s)
	return c.finalize(ctx, s)
}

// release halts the event loop, recognition, and capture, then queues the
// audio captured since the last tick. It never touches the network.
func (c *Controller) release(s *RecordingSession) {
	s.cancel()
	<-s.done

	if err := s.recognizer.Stop(); err != nil {
		c.logger.Warn("stop recognition", "session_id", string(s.ID), "error", err.Error())
	}
	if err := s.capture.Stop(); err != nil {
		c.logger.Warn("stop capture", "session_id", string(s.ID), "error", err.Error())
	}
	for chunk := range s.capture.Chunks() {
		c.submitChunk(s, chunk)
	}
	<-s.capture.Done()

	if s.Transcript.Interim() != "" {
		s.Transcript.ClearInterim()
		c.presenter.OnInterimUpdate("")
	}
}

// finalize drains the session queue, finalizes remotely, and surfaces the
// remote transcript.
func (c *Controller) finalize(ctx context.Context, s *RecordingSession) error {
	finalizeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.deps.FinalizeTimeout)
	defer cancel()

	accepted, err := c.bridge.Finalize(finalizeCtx, s.ID)
	if err == nil && !accepted {
		err = fmt.Errorf("service did not accept session %s", s.ID)
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrFinalize, err)
		c.logger.Error("session finalize failed", "session_id", string(s.ID), "error", err.Error())
		c.presenter.OnFatalError(KindFinalize, err.Error())
		return err
	}

	text, ok, err := c.bridge.FetchLatest(finalizeCtx, s.ID)
	if err != nil {
		c.logger.Warn("fetch final transcript", "session_id", string(s.ID), "error", err.Error())
		c.presenter.OnWarning(KindFinalize, err.Error())
		return nil
	}
	if !ok {
		text = s.Transcript.Text()
	}

	c.logger.Info("session finalized",
		"session_id", string(s.ID),
		"elapsed_ms", s.Elapsed().Milliseconds(),
		"segments", s.Transcript.Len(),
		"remote_transcript", ok,
	)
	c.presenter.OnTranscriptFinalized(s.ID, text)
	return nil
}

// run is the session's single writer: it consumes chunks, advisories, and
// recognition events until cancelled or until a fatal condition. Chunks and
// advisories keep flowing while a recognizer restart is pending.
func (c *Controller) run(ctx context.Context, s *RecordingSession) {
	defer func() {
		s.restarting.Wait()
		close(s.done)
	}()

	chunks := s.capture.Chunks()
	advisories := s.capture.Advisories()
	for {
		events := s.recognizer.Events()
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-chunks:
			if !ok {
				cause := s.capture.Err()
				if cause == nil {
					cause = pipeline.ErrCaptureEnded
				}
				c.fail(s, fmt.Errorf("%w: %w", ErrCaptureFailed, cause))
				return
			}
			c.submitChunk(s, chunk)
		case advisory := <-advisories:
			c.logger.Warn("capture advisory", "kind", advisory.Kind, "level", advisory.Level)
			c.presenter.OnWarning(advisory.Kind, advisory.Message)
		case event, ok := <-events:
			if !ok {
				event = recognition.TerminatedEvent{Err: errors.New("recognition stream closed")}
			}
			if !c.apply(ctx, s, event) {
				return
			}
		case err := <-s.restarted:
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				kind := ErrRecognitionTermination
				if errors.Is(err, recognition.ErrUnsupported) {
					kind = ErrRecognitionUnsupported
				}
				c.fail(s, fmt.Errorf("%w: %w", kind, err))
				return
			}
			c.logger.Info("recognition restarted", "session_id", string(s.ID), "restarts", s.recognizer.Restarts())
		}
	}
}

// apply dispatches one recognition event; false ends the loop.
func (c *Controller) apply(ctx context.Context, s *RecordingSession, event recognition.Event) bool {
	outcome := s.recognizer.Handle(event, s.Transcript)
	if outcome.Dropped > 0 {
		s.dropped.Add(int64(outcome.Dropped))
	}

	for _, segment := range outcome.Accepted {
		if err := c.bridge.SubmitSegment(s.ID, segment.Text); err != nil {
			c.logger.Warn("queue transcript segment", "session_id", string(s.ID), "error", err.Error())
		}
		c.presenter.OnSegmentAccepted(segment.Text)
	}
	if outcome.InterimChanged {
		c.presenter.OnInterimUpdate(outcome.Interim)
	}
	if w := outcome.Warning; w != nil {
		err := fmt.Errorf("%w: %s: %s", ErrRecognitionTransient, w.Kind, w.Message)
		c.logger.Warn("recognition error", "session_id", string(s.ID), "kind", string(w.Kind), "message", w.Message)
		c.presenter.OnWarning(KindRecognitionTransient, err.Error())
	}

	if outcome.Fatal != nil {
		kind := ErrRecognitionTermination
		if errors.Is(outcome.Fatal, recognition.ErrUnsupported) {
			kind = ErrRecognitionUnsupported
		}
		c.fail(s, fmt.Errorf("%w: %w", kind, outcome.Fatal))
		return false
	}
	if outcome.Restart {
		c.logger.Warn("recognition terminated; restarting", "session_id", string(s.ID))
		s.restarting.Add(1)
		go func() {
			defer s.restarting.Done()
			err := s.recognizer.Restart(ctx)
			select {
			case s.restarted <- err:
			case <-ctx.Done():
			}
		}()
	}
	return true
}

// fail reports a fatal session error and stops the session in the
// background, provided it is still the current one.
func (c *Controller) fail(s *RecordingSession, err error) {
	c.logger.Error("session failed", "session_id", string(s.ID), "error", err.Error())
	c.presenter.OnFatalError(Kind(err), err.Error())

	c.background.Add(1)
	go func() {
		defer c.background.Done()

		c.opMu.Lock()
		defer c.opMu.Unlock()

		c.mu.RLock()
		current := c.current == s
		c.mu.RUnlock()
		if !current {
			return
		}
		if stopErr := c.stopLocked(context.Background()); stopErr != nil {
			c.logger.Warn("stop after failure", "session_id", string(s.ID), "error", stopErr.Error())
		}
	}()
}

func (c *Controller) submitChunk(s *RecordingSession, chunk pipeline.Chunk) {
	if err := c.bridge.SubmitChunk(s.ID, chunk.Seq, chunk.Data); err != nil {
		c.logger.Warn("queue audio chunk", "session_id", string(s.ID), "seq", chunk.Seq, "error", err.Error())
	}
}

func (c *Controller) onSubmitFailure(failure remote.SubmitFailure) {
	err := fmt.Errorf("%w: %s %d: %w", ErrRemoteSubmit, failure.Kind, failure.Seq, failure.Err)
	c.presenter.OnWarning(KindRemoteSubmit, err.Error())
}

// transition applies one FSM event and notifies the presenter.
func (c *Controller) transition(event fsm.Event) error {
	c.mu.Lock()
	next, err := fsm.Transition(c.state, event)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.state = next
	var waiters []chan struct{}
	if next == fsm.StateIdle {
		waiters = c.idleWait
		c.idleWait = nil
	}
	c.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
	c.presenter.OnSessionStateChanged(next)
	return nil
}

// Handle serves IPC commands for the owner process.
func (c *Controller) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	var err error
	switch req.Command {
	case ipc.CommandStatus:
		return c.response(ipc.CommandStatus)
	case ipc.CommandToggle:
		err = c.Toggle(ctx)
	case ipc.CommandStart:
		err = c.Start(ctx)
	case ipc.CommandStop:
		err = c.Stop(ctx)
	default:
		return ipc.Response{OK: false, State: string(c.State()), Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}

	resp := c.response(req.Command)
	if err != nil {
		resp.OK = false
		resp.Error = err.Error()
	}
	return resp
}

func (c *Controller) response(message string) ipc.Response {
	status := c.Status()
	return ipc.Response{
		OK:         true,
		State:      string(status.State),
		SessionID:  string(status.SessionID),
		ElapsedMS:  status.Elapsed.Milliseconds(),
		Segments:   status.Segments,
		Transcript: status.Transcript,
		Message:    message,

		InputLevel:         status.InputLevel,
		Restarts:           status.Restarts,
		DroppedResults:     status.DroppedResults,
		PendingSubmissions: status.PendingSubmissions,
		SubmitFailures:     status.SubmitFailures,
	}
}
