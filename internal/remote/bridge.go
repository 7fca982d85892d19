package remote

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCallTimeout bounds each queued submission.
const DefaultCallTimeout = 10 * time.Second

// Submission kinds reported in SubmitFailure.
const (
	KindAudio   = "audio"
	KindSegment = "segment"
)

// SubmitFailure describes one dropped submission.
type SubmitFailure struct {
	SessionID SessionID
	Kind      string
	Seq       uint64
	Err       error
}

// BridgeOptions configures a Bridge.
type BridgeOptions struct {
	CallTimeout     time.Duration
	Logger          *slog.Logger
	OnSubmitFailure func(SubmitFailure)
}

// Bridge serializes submissions per session so they complete in issue order.
//
// Each allocated session gets one FIFO queue served by exactly one worker;
// the worker never has more than one call in flight. Failed submissions are
// dropped and reported, never retried.
type Bridge struct {
	service Service
	opts    BridgeOptions

	mu     sync.Mutex
	queues map[SessionID]*queue

	failures atomic.Int64
}

// NewBridge wraps service.
func NewBridge(service Service, opts BridgeOptions) *Bridge {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	return &Bridge{
		service: service,
		opts:    opts,
		queues:  make(map[SessionID]*queue),
	}
}

// Allocate starts a remote session and its submission queue.
func (b *Bridge) Allocate(ctx context.Context) (SessionID, error) {
	id, err := b.service.StartSession(ctx)
	if err != nil {
		return "", fmt.Errorf("start remote session: %w", err)
	}

	q := newQueue(id)
	b.mu.Lock()
	b.queues[id] = q
	b.mu.Unlock()

	go q.run(b.process)
	return id, nil
}

// SubmitChunk enqueues one audio chunk without blocking.
func (b *Bridge) SubmitChunk(id SessionID, seq uint64, data []byte) error {
	return b.enqueue(id, submission{kind: KindAudio, seq: seq, data: data})
}

// SubmitSegment enqueues one accepted transcript segment without blocking.
func (b *Bridge) SubmitSegment(id SessionID, text string) error {
	return b.enqueue(id, submission{kind: KindSegment, text: text})
}

// Drain waits until every submission enqueued before the call has completed.
func (b *Bridge) Drain(ctx context.Context, id SessionID) error {
	done := make(chan struct{})
	if err := b.enqueue(id, submission{marker: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain remote session %s: %w", id, ctx.Err())
	}
}

// Finalize drains the queue, finalizes the session, and drops the queue.
func (b *Bridge) Finalize(ctx context.Context, id SessionID) (bool, error) {
	defer b.Discard(id)

	if err := b.Drain(ctx, id); err != nil {
		return false, err
	}
	accepted, err := b.service.FinalizeSession(ctx, id)
	if err != nil {
		return false, fmt.Errorf("finalize remote session %s: %w", id, err)
	}
	return accepted, nil
}

// FetchLatest returns the service's current transcript for id.
func (b *Bridge) FetchLatest(ctx context.Context, id SessionID) (string, bool, error) {
	text, ok, err := b.service.FetchTranscript(ctx, id)
	if err != nil {
		return "", false, fmt.Errorf("fetch transcript %s: %w", id, err)
	}
	return text, ok, nil
}

// Discard drops the session queue without any remote call. Pending
// submissions are abandoned.
func (b *Bridge) Discard(id SessionID) {
	b.mu.Lock()
	q, ok := b.queues[id]
	delete(b.queues, id)
	b.mu.Unlock()

	if ok {
		q.abort()
	}
}

// Failures counts dropped submissions across all sessions.
func (b *Bridge) Failures() int64 {
	return b.failures.Load()
}

// Pending reports queued submissions for id, excluding one in flight.
func (b *Bridge) Pending(id SessionID) int {
	b.mu.Lock()
	q, ok := b.queues[id]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	return q.len()
}

func (b *Bridge) enqueue(id SessionID, item submission) error {
	b.mu.Lock()
	q, ok := b.queues[id]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return q.push(item)
}

func (b *Bridge) process(ctx context.Context, id SessionID, item submission) {
	if item.marker != nil {
		close(item.marker)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, b.opts.CallTimeout)
	defer cancel()

	var err error
	switch item.kind {
	case KindAudio:
		err = b.service.SubmitAudioChunk(callCtx, id, item.seq, item.data)
	case KindSegment:
		err = b.service.SubmitTranscriptSegment(callCtx, id, item.text)
	}
	if err == nil {
		return
	}

	b.failures.Add(1)
	if b.opts.Logger != nil {
		b.opts.Logger.Warn("remote submission dropped",
			"session_id", string(id),
			"kind", item.kind,
			"seq", item.seq,
			"error", err.Error(),
		)
	}
	if b.opts.OnSubmitFailure != nil {
		b.opts.OnSubmitFailure(SubmitFailure{SessionID: id, Kind: item.kind, Seq: item.seq, Err: err})
	}
}

type submission struct {
	kind   string
	seq    uint64
	data   []byte
	text   string
	marker chan struct{}
}

// queue is an unbounded FIFO with a single consumer.
type queue struct {
	id     SessionID
	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}

	mu     sync.Mutex
	items  []submission
	closed bool
}

func newQueue(id SessionID) *queue {
	ctx, cancel := context.WithCancel(context.Background())
	return &queue{
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		wake:   make(chan struct{}, 1),
	}
}

func (q *queue) push(item submission) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionClosed, q.id)
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *queue) abort() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	q.cancel()
}

func (q *queue) next() (submission, bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return submission{}, false
		}
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = submission{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, true
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-q.ctx.Done():
			return submission{}, false
		}
	}
}

func (q *queue) run(process func(context.Context, SessionID, submission)) {
	for {
		item, ok := q.next()
		if !ok {
			return
		}
		process(q.ctx, q.id, item)
	}
}
