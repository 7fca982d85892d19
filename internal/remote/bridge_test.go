package remote

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recordingService completes each call after a random delay and records the
// completion order. It fails calls whose label is listed in failOn.
type recordingService struct {
	maxLatency time.Duration
	failOn     map[string]bool
	block      chan struct{}

	inflight    atomic.Int32
	maxInflight atomic.Int32

	mu        sync.Mutex
	rng       *rand.Rand
	completed []string
	attempts  map[string]int
	finalized []SessionID
	startErr  error
}

func newRecordingService(maxLatency time.Duration) *recordingService {
	return &recordingService{
		maxLatency: maxLatency,
		failOn:     map[string]bool{},
		rng:        rand.New(rand.NewSource(42)),
		attempts:   map[string]int{},
	}
}

func (s *recordingService) call(ctx context.Context, label string) error {
	n := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		prev := s.maxInflight.Load()
		if n <= prev || s.maxInflight.CompareAndSwap(prev, n) {
			break
		}
	}

	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	var delay time.Duration
	if s.maxLatency > 0 {
		delay = time.Duration(s.rng.Int63n(int64(s.maxLatency)))
	}
	s.attempts[label]++
	s.mu.Unlock()
	time.Sleep(delay)

	if s.failOn[label] {
		return errors.New("service rejected " + label)
	}

	s.mu.Lock()
	s.completed = append(s.completed, label)
	s.mu.Unlock()
	return nil
}

func (s *recordingService) StartSession(context.Context) (SessionID, error) {
	if s.startErr != nil {
		return "", s.startErr
	}
	return "session-1", nil
}

func (s *recordingService) SubmitAudioChunk(ctx context.Context, _ SessionID, seq uint64, _ []byte) error {
	return s.call(ctx, fmt.Sprintf("audio-%d", seq))
}

func (s *recordingService) SubmitTranscriptSegment(ctx context.Context, _ SessionID, text string) error {
	return s.call(ctx, "segment-"+text)
}

func (s *recordingService) FinalizeSession(_ context.Context, id SessionID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalized = append(s.finalized, id)
	s.completed = append(s.completed, "finalize")
	return true, nil
}

func (s *recordingService) FetchTranscript(context.Context, SessionID) (string, bool, error) {
	return "remote text", true, nil
}

func (s *recordingService) GenerateSummary(context.Context, string) (string, error) {
	return "", nil
}

func (s *recordingService) ListRecordings(context.Context) ([]Recording, error) {
	return nil, nil
}

func (s *recordingService) completedCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.completed...)
}

func TestBridgePreservesIssueOrderUnderRandomLatency(t *testing.T) {
	svc := newRecordingService(3 * time.Millisecond)
	bridge := NewBridge(svc, BridgeOptions{})

	id, err := bridge.Allocate(context.Background())
	require.NoError(t, err)

	var want []string
	for i := 1; i <= 40; i++ {
		if i%3 == 0 {
			text := fmt.Sprintf("s%d", i)
			require.NoError(t, bridge.SubmitSegment(id, text))
			want = append(want, "segment-"+text)
			continue
		}
		require.NoError(t, bridge.SubmitChunk(id, uint64(i), []byte{byte(i)}))
		want = append(want, fmt.Sprintf("audio-%d", i))
	}

	accepted, err := bridge.Finalize(context.Background(), id)
	require.NoError(t, err)
	require.True(t, accepted)

	require.Equal(t, append(want, "finalize"), svc.completedCalls())
	require.Equal(t, int32(1), svc.maxInflight.Load())
}

func TestBridgeConcurrentProducersKeepPerProducerOrder(t *testing.T) {
	svc := newRecordingService(time.Millisecond)
	bridge := NewBridge(svc, BridgeOptions{})

	id, err := bridge.Allocate(context.Background())
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 1; i <= 20; i++ {
			require.NoError(t, bridge.SubmitChunk(id, uint64(i), nil))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 1; i <= 20; i++ {
			require.NoError(t, bridge.SubmitSegment(id, fmt.Sprintf("%d", i)))
		}
	}()
	wg.Wait()
	require.NoError(t, bridge.Drain(context.Background(), id))

	var audio, segments []string
	for _, label := range svc.completedCalls() {
		if label[:5] == "audio" {
			audio = append(audio, label)
		} else {
			segments = append(segments, label)
		}
	}
	require.Len(t, audio, 20)
	require.Len(t, segments, 20)
	for i := 0; i < 20; i++ {
		require.Equal(t, fmt.Sprintf("audio-%d", i+1), audio[i])
		require.Equal(t, fmt.Sprintf("segment-%d", i+1), segments[i])
	}
	require.Equal(t, int32(1), svc.maxInflight.Load())
}

func TestBridgeDropsFailedSubmissionWithoutRetry(t *testing.T) {
	svc := newRecordingService(0)
	svc.failOn["audio-2"] = true

	var failures []SubmitFailure
	var mu sync.Mutex
	bridge := NewBridge(svc, BridgeOptions{OnSubmitFailure: func(f SubmitFailure) {
		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, f)
	}})

	id, err := bridge.Allocate(context.Background())
	require.NoError(t, err)
	for seq := uint64(1); seq <= 3; seq++ {
		require.NoError(t, bridge.SubmitChunk(id, seq, []byte{1}))
	}
	require.NoError(t, bridge.Drain(context.Background(), id))

	require.Equal(t, []string{"audio-1", "audio-3"}, svc.completedCalls())
	require.Equal(t, 1, svc.attempts["audio-2"])
	require.Equal(t, int64(1), bridge.Failures())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, failures, 1)
	require.Equal(t, KindAudio, failures[0].Kind)
	require.Equal(t, uint64(2), failures[0].Seq)
	require.Equal(t, id, failures[0].SessionID)
}

func TestBridgeRejectsUnknownSession(t *testing.T) {
	bridge := NewBridge(newRecordingService(0), BridgeOptions{})

	require.ErrorIs(t, bridge.SubmitChunk("nope", 1, nil), ErrUnknownSession)
	require.ErrorIs(t, bridge.SubmitSegment("nope", "x"), ErrUnknownSession)
	require.ErrorIs(t, bridge.Drain(context.Background(), "nope"), ErrUnknownSession)
}

func TestBridgeDiscardMakesNoRemoteCall(t *testing.T) {
	svc := newRecordingService(0)
	bridge := NewBridge(svc, BridgeOptions{})

	id, err := bridge.Allocate(context.Background())
	require.NoError(t, err)
	bridge.Discard(id)
	bridge.Discard(id)

	require.ErrorIs(t, bridge.SubmitChunk(id, 1, nil), ErrUnknownSession)
	require.Empty(t, svc.finalized)
	require.Zero(t, bridge.Pending(id))
}

func TestBridgeAllocateFailure(t *testing.T) {
	svc := newRecordingService(0)
	svc.startErr = errors.New("service down")
	bridge := NewBridge(svc, BridgeOptions{})

	_, err := bridge.Allocate(context.Background())
	require.ErrorContains(t, err, "service down")
}

func TestBridgeDrainHonorsContext(t *testing.T) {
	svc := newRecordingService(0)
	svc.block = make(chan struct{})
	bridge := NewBridge(svc, BridgeOptions{})

	id, err := bridge.Allocate(context.Background())
	require.NoError(t, err)
	require.NoError(t, bridge.SubmitChunk(id, 1, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = bridge.Drain(ctx, id)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(svc.block)
	require.NoError(t, bridge.Drain(context.Background(), id))
	require.Equal(t, []string{"audio-1"}, svc.completedCalls())
}

func TestBridgeFinalizeDropsQueue(t *testing.T) {
	svc := newRecordingService(0)
	bridge := NewBridge(svc, BridgeOptions{})

	id, err := bridge.Allocate(context.Background())
	require.NoError(t, err)
	_, err = bridge.Finalize(context.Background(), id)
	require.NoError(t, err)

	require.ErrorIs(t, bridge.SubmitSegment(id, "late"), ErrUnknownSession)

	text, ok, err := bridge.FetchLatest(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "remote text", text)
}
