package remote

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const summarySentences = 3

var _ Service = (*Memory)(nil)

// Memory is an in-process transcription service for development and tests.
// Nothing is persisted beyond the process lifetime.
type Memory struct {
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[SessionID]*memorySession
}

type memorySession struct {
	createdAt  time.Time
	finalized  bool
	lastSeq    uint64
	chunks     int
	audioBytes int64
	segments   []string
}

// NewMemory constructs an empty in-memory service.
func NewMemory(logger *slog.Logger) *Memory {
	return &Memory{
		logger:   logger,
		now:      time.Now,
		sessions: make(map[SessionID]*memorySession),
	}
}

func (m *Memory) StartSession(_ context.Context) (SessionID, error) {
	id := SessionID(uuid.NewString())

	m.mu.Lock()
	m.sessions[id] = &memorySession{createdAt: m.now()}
	m.mu.Unlock()

	m.log("session started", "session_id", string(id))
	return id, nil
}

func (m *Memory) SubmitAudioChunk(_ context.Context, id SessionID, seq uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.openLocked(id)
	if err != nil {
		return err
	}
	if seq <= s.lastSeq {
		return fmt.Errorf("audio chunk %d out of order after %d", seq, s.lastSeq)
	}
	s.lastSeq = seq
	s.chunks++
	s.audioBytes += int64(len(data))
	return nil
}

func (m *Memory) SubmitTranscriptSegment(_ context.Context, id SessionID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.openLocked(id)
	if err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text != "" {
		s.segments = append(s.segments, text)
	}
	return nil
}

// FinalizeSession accepts an open session once; repeated finalizes and
// unknown ids are not accepted.
func (m *Memory) FinalizeSession(_ context.Context, id SessionID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || s.finalized {
		return false, nil
	}
	s.finalized = true
	m.log("session finalized", "session_id", string(id), "segments", len(s.segments), "audio_chunks", s.chunks)
	return true, nil
}

func (m *Memory) FetchTranscript(_ context.Context, id SessionID) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || len(s.segments) == 0 {
		return "", false, nil
	}
	return strings.Join(s.segments, " "), true, nil
}

// GenerateSummary returns the leading sentences of text.
func (m *Memory) GenerateSummary(_ context.Context, text string) (string, error) {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return "", ErrEmptyText
	}
	sentences := splitSentences(text)
	if len(sentences) > summarySentences {
		sentences = sentences[:summarySentences]
	}
	return strings.Join(sentences, " "), nil
}

// ListRecordings returns sessions newest first.
func (m *Memory) ListRecordings(_ context.Context) ([]Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	recordings := make([]Recording, 0, len(m.sessions))
	for id, s := range m.sessions {
		recordings = append(recordings, Recording{
			ID:          id,
			CreatedAt:   s.createdAt,
			Finalized:   s.finalized,
			AudioChunks: s.chunks,
			AudioBytes:  s.audioBytes,
			Segments:    len(s.segments),
			Preview:     preview(strings.Join(s.segments, " ")),
		})
	}
	sort.Slice(recordings, func(i, j int) bool {
		if recordings[i].CreatedAt.Equal(recordings[j].CreatedAt) {
			return recordings[i].ID < recordings[j].ID
		}
		return recordings[i].CreatedAt.After(recordings[j].CreatedAt)
	})
	return recordings, nil
}

// preview cuts text to PreviewLength runes, marking the cut with "...".
func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= PreviewLength {
		return text
	}
	return strings.TrimSpace(string(runes[:PreviewLength])) + "..."
}

func (m *Memory) openLocked(id SessionID) (*memorySession, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	if s.finalized {
		return nil, fmt.Errorf("%w: %s", ErrSessionClosed, id)
	}
	return s, nil
}

func (m *Memory) log(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Info(msg, args...)
	}
}

// splitSentences splits on terminal punctuation, keeping the punctuation.
func splitSentences(text string) []string {
	var (
		sentences []string
		current   strings.Builder
	)
	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
