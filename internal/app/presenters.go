package app

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/rbright/murmur/internal/fsm"
	"github.com/rbright/murmur/internal/remote"
)

// logPresenter records session updates in the JSONL log.
type logPresenter struct {
	logger *slog.Logger
}

func (p logPresenter) OnInterimUpdate(text string) {
	p.logger.Debug("interim update", "length", len(text))
}

func (p logPresenter) OnSegmentAccepted(text string) {
	p.logger.Info("segment accepted", "length", len(text))
}

func (p logPresenter) OnSessionStateChanged(state fsm.State) {
	p.logger.Info("session state changed", "state", string(state))
}

func (p logPresenter) OnWarning(kind, message string) {
	p.logger.Warn("session warning", "kind", kind, "message", message)
}

func (p logPresenter) OnFatalError(kind, message string) {
	p.logger.Error("session error", "kind", kind, "message", message)
}

func (p logPresenter) OnTranscriptFinalized(id remote.SessionID, text string) {
	p.logger.Info("transcript finalized", "session_id", string(id), "transcript_length", len(text))
}

// consolePresenter prints warnings and finalized transcripts for the owner
// process, and remembers the first fatal error so the owner can exit non-zero.
type consolePresenter struct {
	stdout io.Writer
	stderr io.Writer

	mu    sync.Mutex
	fatal error
}

func (p *consolePresenter) OnInterimUpdate(string)          {}
func (p *consolePresenter) OnSegmentAccepted(string)        {}
func (p *consolePresenter) OnSessionStateChanged(fsm.State) {}

func (p *consolePresenter) OnWarning(kind, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.stderr, "warning: %s: %s\n", kind, message)
}

func (p *consolePresenter) OnFatalError(kind, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fatal == nil {
		p.fatal = fmt.Errorf("%s: %s", kind, message)
	}
}

func (p *consolePresenter) OnTranscriptFinalized(_ remote.SessionID, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.stdout, text)
}

func (p *consolePresenter) err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fatal
}
