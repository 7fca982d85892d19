package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/murmur/internal/transcript"
)

// DefaultConfidenceThreshold is the minimum confidence for accepting a final alternative.
const DefaultConfidenceThreshold = 0.8

// ErrRestartsExhausted reports that consecutive restarts hit the configured cap.
var ErrRestartsExhausted = errors.New("recognizer restart attempts exhausted")

// RestartPolicy bounds automatic recognizer restarts.
//
// The first restart after a healthy stream is immediate. Consecutive
// restarts with no result in between back off exponentially from
// InitialBackoff up to MaxBackoff. MaxAttempts <= 0 means unlimited.
type RestartPolicy struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int
}

// Options configures a Reconciler.
type Options struct {
	Config              Config
	ConfidenceThreshold float64
	Restart             RestartPolicy
	Logger              *slog.Logger
}

// Warning is a non-fatal recognizer problem worth surfacing.
type Warning struct {
	Kind    ErrorKind
	Message string
}

// Outcome is what one event changed.
type Outcome struct {
	Interim        string
	InterimChanged bool
	Accepted       []transcript.Segment
	Dropped        int
	Warning        *Warning
	Restart        bool
	Fatal          error
}

// Reconciler owns one session's recognizer capability.
type Reconciler struct {
	capability Capability
	cfg        Config
	threshold  float64
	policy     RestartPolicy
	logger     *slog.Logger
	after      func(time.Duration) <-chan time.Time

	mu       sync.Mutex
	stream   Stream
	stopped  bool
	failures int
	restarts int
}

// NewReconciler builds a reconciler; Start opens the first stream.
func NewReconciler(capability Capability, opts Options) *Reconciler {
	threshold := opts.ConfidenceThreshold
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	policy := opts.Restart
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = 250 * time.Millisecond
	}
	if policy.MaxBackoff < policy.InitialBackoff {
		policy.MaxBackoff = policy.InitialBackoff
	}
	return &Reconciler{
		capability: capability,
		cfg:        opts.Config,
		threshold:  threshold,
		policy:     policy,
		logger:     opts.Logger,
		after:      time.After,
	}
}

// Start opens the recognizer stream.
func (r *Reconciler) Start(ctx context.Context) error {
	if r.capability == nil {
		return ErrUnsupported
	}
	stream, err := r.capability.Start(ctx, r.cfg)
	if err != nil {
		return fmt.Errorf("start recognizer: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		_ = stream.Stop()
		return errors.New("reconciler already stopped")
	}
	r.stream = stream
	return nil
}

// Events returns the current stream's events, or nil between streams.
func (r *Reconciler) Events() <-chan Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stream == nil {
		return nil
	}
	return r.stream.Events()
}

// Feed forwards captured PCM to the running stream.
func (r *Reconciler) Feed(pcm []byte) {
	r.mu.Lock()
	stream := r.stream
	r.mu.Unlock()
	if stream == nil || len(pcm) == 0 {
		return
	}
	if err := stream.SendAudio(pcm); err != nil {
		r.debug("recognizer audio send failed", "error", err.Error())
	}
}

// Restarts reports how many times the stream was reopened.
func (r *Reconciler) Restarts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.restarts
}

// Handle applies one event to acc and reports what changed.
func (r *Reconciler) Handle(event Event, acc *transcript.Accumulator) Outcome {
	switch ev := event.(type) {
	case ResultsEvent:
		return r.handleResults(ev, acc)
	case ErrorEvent:
		if ev.Kind == ErrorNoSpeech {
			r.debug("recognizer reported no speech")
			return Outcome{}
		}
		return Outcome{Warning: &Warning{Kind: ev.Kind, Message: ev.Message}}
	case TerminatedEvent:
		return r.handleTerminated(ev)
	default:
		return Outcome{}
	}
}

func (r *Reconciler) handleResults(ev ResultsEvent, acc *transcript.Accumulator) Outcome {
	r.mu.Lock()
	r.failures = 0
	r.mu.Unlock()

	out := Outcome{}
	interim := make([]string, 0, len(ev.Results))
	for _, result := range ev.Results {
		if result.IsFinal {
			alt, ok := firstQualifying(result.Alternatives, r.threshold)
			if !ok {
				out.Dropped++
				r.debug("final result below confidence threshold", "index", result.Index, "alternatives", len(result.Alternatives))
				continue
			}
			if acc.AppendFinal(alt.Text, alt.Confidence) {
				out.Accepted = append(out.Accepted, transcript.Segment{Text: transcript.Clean(alt.Text), Confidence: alt.Confidence})
			}
			continue
		}
		if len(result.Alternatives) > 0 {
			interim = append(interim, result.Alternatives[0].Text)
		}
	}

	text := transcript.Clean(strings.Join(interim, " "))
	if text != acc.Interim() {
		acc.SetInterim(text)
		out.InterimChanged = true
	}
	out.Interim = text
	return out
}

func (r *Reconciler) handleTerminated(ev TerminatedEvent) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return Outcome{}
	}
	r.stream = nil
	if errors.Is(ev.Err, ErrUnsupported) {
		return Outcome{Fatal: ev.Err}
	}
	if r.policy.MaxAttempts > 0 && r.failures >= r.policy.MaxAttempts {
		return Outcome{Fatal: fmt.Errorf("%w after %d attempts", ErrRestartsExhausted, r.failures)}
	}
	return Outcome{Restart: true}
}

// firstQualifying returns the first alternative in rank order meeting threshold.
func firstQualifying(alternatives []Alternative, threshold float64) (Alternative, bool) {
	for _, alt := range alternatives {
		if transcript.Clean(alt.Text) == "" {
			continue
		}
		if alt.Confidence >= threshold {
			return alt, true
		}
	}
	return Alternative{}, false
}

// Restart reopens the stream with the original configuration, retrying
// failed opens with backoff until success, ctx cancellation, Stop, an
// unsupported recognizer, or the attempt cap.
func (r *Reconciler) Restart(ctx context.Context) error {
	for {
		r.mu.Lock()
		if r.stopped {
			r.mu.Unlock()
			return errors.New("reconciler stopped")
		}
		if r.policy.MaxAttempts > 0 && r.failures >= r.policy.MaxAttempts {
			failures := r.failures
			r.mu.Unlock()
			return fmt.Errorf("%w after %d attempts", ErrRestartsExhausted, failures)
		}
		delay := r.backoffLocked()
		r.failures++
		r.mu.Unlock()

		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-r.after(delay):
			}
		}

		stream, err := r.capability.Start(ctx, r.cfg)
		if err != nil {
			if errors.Is(err, ErrUnsupported) || ctx.Err() != nil {
				return fmt.Errorf("restart recognizer: %w", err)
			}
			r.warn("recognizer restart failed", "error", err.Error(), "delay_ms", delay.Milliseconds())
			continue
		}

		r.mu.Lock()
		if r.stopped {
			r.mu.Unlock()
			_ = stream.Stop()
			return errors.New("reconciler stopped")
		}
		r.stream = stream
		r.restarts++
		restarts := r.restarts
		r.mu.Unlock()

		r.debug("recognizer restarted", "restarts", restarts, "delay_ms", delay.Milliseconds())
		return nil
	}
}

func (r *Reconciler) backoffLocked() time.Duration {
	if r.failures == 0 {
		return 0
	}
	delay := r.policy.InitialBackoff
	for i := 1; i < r.failures; i++ {
		delay *= 2
		if delay >= r.policy.MaxBackoff {
			return r.policy.MaxBackoff
		}
	}
	return delay
}

// Stop halts the current stream without waiting for pending results.
func (r *Reconciler) Stop() error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	stream := r.stream
	r.stream = nil
	r.mu.Unlock()

	if stream == nil {
		return nil
	}
	return stream.Stop()
}

func (r *Reconciler) debug(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, args...)
	}
}

func (r *Reconciler) warn(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, args...)
	}
}
