package session

import (
	"github.com/rbright/murmur/internal/fsm"
	"github.com/rbright/murmur/internal/remote"
)

// Presenter receives read-only session updates. Calls may arrive from more
// than one goroutine; implementations must be safe for concurrent use and
// must not block.
type Presenter interface {
	OnInterimUpdate(text string)
	OnSegmentAccepted(text string)
	OnSessionStateChanged(state fsm.State)
	OnWarning(kind, message string)
	OnFatalError(kind, message string)
	OnTranscriptFinalized(id remote.SessionID, text string)
}

// Presenters fans every call out to each member in order.
type Presenters []Presenter

func (ps Presenters) OnInterimUpdate(text string) {
	for _, p := range ps {
		p.OnInterimUpdate(text)
	}
}

func (ps Presenters) OnSegmentAccepted(text string) {
	for _, p := range ps {
		p.OnSegmentAccepted(text)
	}
}

func (ps Presenters) OnSessionStateChanged(state fsm.State) {
	for _, p := range ps {
		p.OnSessionStateChanged(state)
	}
}

func (ps Presenters) OnWarning(kind, message string) {
	for _, p := range ps {
		p.OnWarning(kind, message)
	}
}

func (ps Presenters) OnFatalError(kind, message string) {
	for _, p := range ps {
		p.OnFatalError(kind, message)
	}
}

func (ps Presenters) OnTranscriptFinalized(id remote.SessionID, text string) {
	for _, p := range ps {
		p.OnTranscriptFinalized(id, text)
	}
}

// noopPresenter keeps session flow intact when nothing is wired.
type noopPresenter struct{}

func (noopPresenter) OnInterimUpdate(string)                         {}
func (noopPresenter) OnSegmentAccepted(string)                       {}
func (noopPresenter) OnSessionStateChanged(fsm.State)                {}
func (noopPresenter) OnWarning(string, string)                       {}
func (noopPresenter) OnFatalError(string, string)                    {}
func (noopPresenter) OnTranscriptFinalized(remote.SessionID, string) {}
