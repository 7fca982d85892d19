// Package remote talks to the external transcription service: the core-facing
// contract, the per-session ordered submission bridge, a gRPC client, and an
// in-memory development server.
package remote

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnknownSession reports a session id the caller or service does not know.
	ErrUnknownSession = errors.New("unknown remote session")
	// ErrSessionClosed reports a submission to a session that was finalized or discarded.
	ErrSessionClosed = errors.New("remote session closed")
)

// SessionID is the opaque handle issued by the service on StartSession.
type SessionID string

// Recording describes one session stored by the service.
type Recording struct {
	ID          SessionID
	CreatedAt   time.Time
	Finalized   bool
	AudioChunks int
	AudioBytes  int64
	Segments    int
	// Preview is the start of the transcript, at most PreviewLength runes.
	Preview string
}

// PreviewLength bounds Recording.Preview.
const PreviewLength = 100

// Service is the transcription service contract.
type Service interface {
	StartSession(ctx context.Context) (SessionID, error)
	SubmitAudioChunk(ctx context.Context, id SessionID, seq uint64, data []byte) error
	SubmitTranscriptSegment(ctx context.Context, id SessionID, text string) error
	// FinalizeSession reports whether the service accepted the session as complete.
	FinalizeSession(ctx context.Context, id SessionID) (bool, error)
	// FetchTranscript returns the latest transcript; ok is false when none exists.
	FetchTranscript(ctx context.Context, id SessionID) (text string, ok bool, err error)
	GenerateSummary(ctx context.Context, text string) (string, error)
	ListRecordings(ctx context.Context) ([]Recording, error)
}
