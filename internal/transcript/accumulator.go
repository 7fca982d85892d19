package transcript

import (
	"strings"
	"sync"
)

// Segment is one accepted final recognition result.
type Segment struct {
	Text       string
	Confidence float64
}

// Accumulator holds the committed transcript of one recording session plus
// the replaceable interim preview. Committed segments are append-only.
type Accumulator struct {
	mu       sync.RWMutex
	segments []Segment
	interim  string
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// AppendFinal commits one segment. Blank text is rejected.
func (a *Accumulator) AppendFinal(text string, confidence float64) bool {
	text = Clean(text)
	if text == "" {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.segments = append(a.segments, Segment{Text: text, Confidence: confidence})
	return true
}

// SetInterim replaces the interim preview.
func (a *Accumulator) SetInterim(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.interim = Clean(text)
}

// ClearInterim drops the interim preview.
func (a *Accumulator) ClearInterim() {
	a.SetInterim("")
}

// Interim returns the current preview text.
func (a *Accumulator) Interim() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.interim
}

// Segments returns a copy of the committed segments in acceptance order.
func (a *Accumulator) Segments() []Segment {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]Segment(nil), a.segments...)
}

// Len reports the number of committed segments.
func (a *Accumulator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.segments)
}

// Text joins committed segments only.
func (a *Accumulator) Text() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return joinSegments(a.segments, "")
}

// CurrentView joins committed segments followed by the interim preview.
func (a *Accumulator) CurrentView() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return joinSegments(a.segments, a.interim)
}

func joinSegments(segments []Segment, interim string) string {
	var b strings.Builder
	for _, segment := range segments {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(segment.Text)
	}
	if interim != "" {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(interim)
	}
	return b.String()
}

// Clean normalizes transcript whitespace.
func Clean(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	return strings.Join(strings.Fields(raw), " ")
}
